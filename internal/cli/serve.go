package cli

import (
	"github.com/spf13/cobra"

	"github.com/shotsapp/shots/internal/app"
	"github.com/shotsapp/shots/internal/config"
)

type serveOptions struct {
	port     int
	docstore string
	identity string
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API and the session reconcile loop.

The server stops gracefully on SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			rootOpts.apply(cfg)
			if cmd.Flags().Changed("port") {
				cfg.AppPort = opts.port
			}
			if cmd.Flags().Changed("docstore") {
				cfg.DocStoreDriver = opts.docstore
			}
			if cmd.Flags().Changed("identity") {
				cfg.IdentityDriver = opts.identity
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := app.NewLogger(cfg, cmd.ErrOrStderr())
			ctx := cmd.Context()

			a, err := app.New(ctx, cfg, logger)
			if err != nil {
				logger.Error("failed to start", "error", err)
				return err
			}

			if err := a.Run(ctx); err != nil {
				logger.Error("server error", "error", err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&opts.port, "port", "p", 8080, "listen port, overrides APP_PORT")
	cmd.Flags().StringVar(&opts.docstore, "docstore", config.DocStoreMemory, "document store driver (memory|redis|postgres|mongo), overrides DOCSTORE_DRIVER")
	cmd.Flags().StringVar(&opts.identity, "identity", config.IdentityMemory, "identity provider driver (memory|rest), overrides IDENTITY_DRIVER")

	return cmd
}
