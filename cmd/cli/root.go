// Package cli holds the noodle command tree.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"noodle-backend/internal/app"
	"noodle-backend/pkg/config"
	"noodle-backend/pkg/logger"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	okMark   = color.New(color.FgGreen).Sprint("✓")
	failMark = color.New(color.FgRed).Sprint("✗")
	heading  = color.New(color.Bold).SprintFunc()
	dim      = color.New(color.Faint).SprintFunc()
)

// RootCmd returns the noodle command with every subcommand attached.
func RootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "noodle",
		Short: "Noodle - email intelligence backend",
		Long: `Noodle ingests a mailbox, extracts structured facts from every email with an AI model,
keeps a full-text index and an entity graph in sync, and runs scheduled prompts over the results.`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(ServeCmd())
	rootCmd.AddCommand(MigrateCmd())
	rootCmd.AddCommand(SyncCmd())
	rootCmd.AddCommand(PromptCmd())
	rootCmd.AddCommand(StatsCmd())
	rootCmd.AddCommand(PurgeCmd())
	rootCmd.AddCommand(ReindexCmd())
	rootCmd.AddCommand(GraphCmd())
	rootCmd.AddCommand(LogsCmd())
	rootCmd.AddCommand(TokenCmd())
	return rootCmd
}

// Execute runs the command tree and exits non-zero on failure.
func Execute() {
	if err := RootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", failMark, err)
		os.Exit(1)
	}
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.Init(cfg.Env, cfg.LogLevel)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

// withApp builds the application, starts the pipeline workers and closes
// everything when fn returns. One-shot commands never start the loops.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	a.Start(ctx, false)

	runErr := fn(ctx, a)
	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}
