package cli

import (
	"context"
	"fmt"
	"time"

	"noodle-backend/internal/app"

	"github.com/spf13/cobra"
)

func GraphCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Entity graph operations",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "export-neo4j",
		Short: "Mirror every entity and edge into Neo4j (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				stats, err := a.Export(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s exported %d entities and %d edges in %s\n", okMark, stats.Entities, stats.Edges, stats.Duration.Round(time.Millisecond))
				return nil
			})
		},
	})
	return cmd
}
