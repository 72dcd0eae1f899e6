package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/frahmantamala/capgate/internal/token"
	"github.com/spf13/cobra"
)

var sweepOnce bool

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge expired refresh tokens",
	Long:  `Run the refresh token sweeper on its configured interval, or once with --once`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return err
		}
		defer deps.Close()

		if sweepOnce {
			n, err := deps.Tokens.PurgeExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("sweep failed: %w", err)
			}
			deps.Logger.Info("sweep complete", "purged", n)
			return nil
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		interval := deps.Config.Security.SweepInterval
		deps.Logger.Info("refresh token sweeper running", "interval", interval)
		err = token.NewSweeper(deps.Tokens, interval, deps.Logger).Run(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

func init() {
	sweepCmd.Flags().BoolVar(&sweepOnce, "once", false, "purge once and exit")
}
