package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/frahmantamala/capgate/internal/role"
	"github.com/frahmantamala/capgate/internal/user"
	"github.com/spf13/cobra"
)

var (
	adminUsername string
	adminEmail    string
	adminPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed default roles and an administrator",
	Long: `Create the Administrator, Operator and Viewer roles if missing and, when a
password is given, an administrator account holding the Administrator role.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := initializeDependencies()
		if err != nil {
			return err
		}
		defer deps.Close()

		return seed(cmd.Context(), deps)
	},
}

func seed(ctx context.Context, deps *Dependencies) error {
	roles, err := deps.Roles.EnsureDefaults(ctx)
	if err != nil {
		return fmt.Errorf("failed to seed roles: %w", err)
	}
	for name, r := range roles {
		deps.Logger.Info("role ready", "role", name, "role_id", r.ID)
	}

	password := adminPassword
	if password == "" {
		password = os.Getenv("CAPGATE_ADMIN_PASSWORD")
	}
	if password == "" {
		deps.Logger.Info("no admin password given; skipping admin user")
		return nil
	}

	admin, err := deps.Users.FindByUsername(ctx, adminUsername)
	if err != nil {
		return fmt.Errorf("failed to look up admin user: %w", err)
	}
	if admin == nil {
		admin, err = deps.Users.Create(ctx, user.CreateUserDTO{
			Username:    adminUsername,
			Email:       adminEmail,
			Password:    password,
			DisplayName: "Administrator",
		})
		if err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}
		deps.Logger.Info("seeded admin user", "user_id", admin.ID, "username", admin.Username)
	} else {
		deps.Logger.Info("admin user already exists; ensuring role", "user_id", admin.ID)
	}

	if err := deps.Roles.Assign(ctx, admin.ID, roles[role.Administrator].ID); err != nil {
		return fmt.Errorf("failed to assign %s: %w", role.Administrator, err)
	}
	return nil
}

func init() {
	seedCmd.Flags().StringVar(&adminUsername, "admin-username", "admin", "administrator username")
	seedCmd.Flags().StringVar(&adminEmail, "admin-email", "admin@localhost", "administrator email")
	seedCmd.Flags().StringVar(&adminPassword, "admin-password", "", "administrator password (or CAPGATE_ADMIN_PASSWORD)")
}
