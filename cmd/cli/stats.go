package cli

import (
	"context"
	"fmt"
	"sort"
	"strconv"

	"noodle-backend/internal/app"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func StatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show corpus statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				s, err := a.Emails.Stats(ctx)
				if err != nil {
					return err
				}
				fmt.Println(heading("Emails"))
				fmt.Printf("  total      %d\n", s.TotalEmails)
				fmt.Printf("  extracted  %d\n", s.ExtractedEmails)
				fmt.Printf("  excluded   %d\n", s.ExcludedEmails)
				fmt.Printf("  indexed    %d\n", s.SearchIndexCount)
				fmt.Printf("  vectors    %d\n", s.VectorSynced)
				fmt.Printf("  respond    %s\n", color.New(color.FgYellow).Sprint(s.NeedsResponse))
				fmt.Println(heading("Graph"))
				fmt.Printf("  entities   %d\n", s.Entities)
				fmt.Printf("  edges      %d\n", s.Edges)
				printCounts("Sentiment", s.SentimentCounts)
				printCounts("Urgency", s.UrgencyCounts)
				printCounts("Folders", s.FolderCounts)
				return nil
			})
		},
	}
}

func printCounts(title string, counts map[string]int64) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Println(heading(title))
	for _, k := range keys {
		fmt.Printf("  %-10s %d\n", k, counts[k])
	}
}

func PurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge <email-id>",
		Short: "Delete an email and everything derived from it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil || id == 0 {
				return fmt.Errorf("invalid email id %q", args[0])
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Emails.Purge(ctx, uint(id)); err != nil {
					return err
				}
				fmt.Printf("%s purged email %d\n", okMark, id)
				return nil
			})
		},
	}
}

func ReindexCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the full-text index from stored emails and facts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Emails.RebuildIndex(ctx)
				if err != nil {
					return err
				}
				fmt.Printf("%s reindexed %d emails\n", okMark, n)
				if a.Vectors != nil {
					synced, err := a.Vectors.Backfill(ctx, 1000)
					if err != nil {
						return err
					}
					fmt.Printf("%s projected %d emails into the vector store\n", okMark, synced)
				}
				return nil
			})
		},
	}
}
