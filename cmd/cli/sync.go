package cli

import (
	"context"
	"errors"
	"fmt"

	"noodle-backend/internal/app"

	"github.com/spf13/cobra"
)

func SyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Mailbox synchronization",
	}
	cmd.AddCommand(syncOnceCmd())
	return cmd
}

func syncOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run one sync cycle and wait for the pipeline to drain",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if a.Syncer == nil {
					return errors.New("no mail connector configured (set SYNC_CONNECTOR)")
				}
				report, err := a.Syncer.SyncOnce(ctx)
				if report != nil {
					fmt.Printf("%s via %s\n", heading("Sync cycle"), report.Connector)
					for _, f := range report.Folders {
						mark := okMark
						if f.Error != "" {
							mark = failMark
						}
						fmt.Printf("  %s %-20s fetched %-5d stored %-5d %s\n", mark, f.Folder, f.Fetched, f.Stored, dim(f.Checkpoint))
						if f.Error != "" {
							fmt.Printf("      %s\n", f.Error)
						}
					}
				}
				return err
			})
		},
	}
}
