package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/frahmantamala/capgate/internal"
	"github.com/frahmantamala/capgate/pkg/logger"
	"github.com/spf13/cobra"
)

var configDir string

var rootCmd = &cobra.Command{
	Use:   "capgate",
	Short: "Capability-based authorization and token service",
	Long:  `Issues and rotates JWT sessions and decides capability checks against role definitions.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// loadConfig reads config.yml from configDir (if present) plus CAPGATE_* env
// vars and installs the process logger.
func loadConfig() (*internal.Config, *slog.Logger, error) {
	cfg, err := internal.LoadConfig(configDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg := logger.Init(logger.Options{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
	})
	return cfg, lg, nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configDir, "config", "c", ".", "directory containing config.yml")

	rootCmd.AddCommand(httpServerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(sweepCmd)
}
