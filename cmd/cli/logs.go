package cli

import (
	"context"
	"fmt"
	"time"

	"noodle-backend/cmd/api"
	"noodle-backend/internal/app"
	"noodle-backend/internal/system/domain"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"
)

func LogsCmd() *cobra.Command {
	var (
		filter domain.LogFilter
		prune  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show stored log entries, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if prune > 0 {
					n, err := a.System.PruneLogs(ctx, prune)
					if err != nil {
						return err
					}
					fmt.Printf("%s deleted %d entries older than %s\n", okMark, n, prune)
					return nil
				}
				entries, err := a.System.Logs(ctx, filter)
				if err != nil {
					return err
				}
				for i := len(entries) - 1; i >= 0; i-- {
					e := entries[i]
					fmt.Printf("%s %s %-16s %s %s\n",
						dim(e.CreatedAt.Local().Format("01-02 15:04:05")),
						levelColor(e.Level), e.Component, e.Message, dim(e.FieldsJSON))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&filter.Level, "level", "", "minimum level (debug, info, warn, error)")
	cmd.Flags().StringVar(&filter.Component, "component", "", "logger name, children included")
	cmd.Flags().IntVar(&filter.Limit, "limit", 50, "maximum entries")
	cmd.Flags().DurationVar(&prune, "prune", 0, "delete entries older than this instead of listing")
	return cmd
}

func levelColor(level string) string {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return fmt.Sprintf("%-5s", level)
	}
	c := color.New(color.FgBlue)
	switch {
	case lvl >= zapcore.ErrorLevel:
		c = color.New(color.FgRed)
	case lvl == zapcore.WarnLevel:
		c = color.New(color.FgYellow)
	case lvl == zapcore.DebugLevel:
		c = color.New(color.Faint)
	}
	return c.Sprintf("%-5s", lvl.CapitalString())
}

func TokenCmd() *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the HTTP API (needs API_JWT_SECRET)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.APIJWTSecret == "" {
				return fmt.Errorf("API_JWT_SECRET is not set, the API is unauthenticated")
			}
			token, err := api.IssueToken(cfg.APIJWTSecret, subject, ttl)
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}

	cmd.Flags().StringVar(&subject, "subject", "operator", "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", 30*24*time.Hour, "token lifetime, 0 for none")
	return cmd
}
