package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/shotsapp/shots/internal/app"
	"github.com/shotsapp/shots/internal/config"
	"github.com/shotsapp/shots/internal/docstore"
)

// ErrNoDatabaseURL is returned by migrate when DATABASE_URL is unset.
var ErrNoDatabaseURL = errors.New("DATABASE_URL is required to migrate the postgres document store")

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the postgres document store schema",
	}

	cmd.AddCommand(newMigrateStep(rootOpts, "up", "Apply all pending migrations", docstore.Migrate))
	cmd.AddCommand(newMigrateStep(rootOpts, "down", "Revert every migration", docstore.MigrateDown))

	return cmd
}

func newMigrateStep(rootOpts *RootOptions, use, short string, run func(databaseURL string) error) *cobra.Command {
	var databaseURL string

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := &config.Config{}
			if loaded, err := config.Load(); err == nil {
				cfg = loaded
			}
			rootOpts.apply(cfg)
			if databaseURL != "" {
				cfg.DatabaseURL = databaseURL
			}
			if cfg.DatabaseURL == "" {
				return ErrNoDatabaseURL
			}

			logger := app.NewLogger(cfg, cmd.ErrOrStderr())
			logger.Info("running migrations", "direction", use, "database_url", app.RedactURL(cfg.DatabaseURL))

			if err := run(cfg.DatabaseURL); err != nil {
				return fmt.Errorf("migrate %s: %s", use, app.SanitizeError(err, cfg.DatabaseURL))
			}
			logger.Info("migrations complete", "direction", use)
			return nil
		},
	}

	cmd.Flags().StringVar(&databaseURL, "database-url", "", "postgres URL, overrides DATABASE_URL")
	return cmd
}
