package cli

import (
	"context"

	api "noodle-backend/cmd/api"
	"noodle-backend/internal/app"
	"noodle-backend/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func ServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API with the pipeline, sync loop and prompt scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if port != "" {
				cfg.Port = port
			}

			a, err := app.New(ctx, cfg, log)
			if err != nil {
				return err
			}

			g, gctx := errgroup.WithContext(ctx)
			a.Start(gctx, true)

			handler := api.NewHandler(a)
			g.Go(func() error {
				return handler.Start(gctx, ":"+cfg.Port)
			})
			g.Go(func() error {
				<-gctx.Done()
				log.Info("Shutting down", zap.Int("queued_jobs", a.Orchestrator.QueueLength()))
				return nil
			})

			err = g.Wait()
			if cerr := a.Close(); cerr != nil {
				log.Warn("Shutdown finished with errors", zap.Error(cerr))
			}
			if err != nil && ctx.Err() == nil {
				return err
			}
			log.Info("Server stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "listen port (overrides PORT)")
	return cmd
}

// MigrateCmd applies pending migrations; app.New runs them on open.
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				cmd.Printf("%s database is up to date (%s)\n", okMark, a.Config.Database.Driver)
				return nil
			})
		},
	}
}
