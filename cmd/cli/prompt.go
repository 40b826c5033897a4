package cli

import (
	"context"
	"fmt"
	"os"

	"noodle-backend/internal/app"
	"noodle-backend/internal/prompt/domain"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func PromptCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prompt",
		Short: "Manage stored prompts",
	}
	cmd.AddCommand(promptListCmd())
	cmd.AddCommand(promptImportCmd())
	cmd.AddCommand(promptRunCmd())
	return cmd
}

func promptListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List prompts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prompts, err := a.Prompts.List(ctx)
				if err != nil {
					return err
				}
				if len(prompts) == 0 {
					fmt.Println("No prompts. Import some with `noodle prompt import <file.yaml>`.")
					return nil
				}
				for _, p := range prompts {
					printPrompt(p)
				}
				return nil
			})
		},
	}
}

func printPrompt(p *domain.Prompt) {
	state := color.New(color.FgGreen).Sprint("enabled ")
	if !p.Enabled {
		state = color.New(color.FgYellow).Sprint("disabled")
	}
	schedule := "ad hoc"
	if p.Schedule != nil {
		schedule = *p.Schedule
	}
	fmt.Printf("%s %s %-24s %-10s v%-3d %s\n", state, dim(p.ID), p.Name, p.Kind, p.Version, schedule)
}

func promptImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Create or update prompts by name from a YAML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				prompts, err := a.Prompts.Import(ctx, data)
				if err != nil {
					return err
				}
				fmt.Printf("%s imported %d prompts\n", okMark, len(prompts))
				for _, p := range prompts {
					printPrompt(p)
				}
				return nil
			})
		},
	}
}

func promptRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run <prompt-id>",
		Short: "Run a prompt now and print its output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				run, err := a.Prompts.RunNow(ctx, args[0], true)
				if err != nil {
					return err
				}
				if run.Status != domain.RunSuccess {
					msg := "run failed"
					if run.ErrorText != nil {
						msg = *run.ErrorText
					}
					return fmt.Errorf("run %d: %s", run.ID, msg)
				}
				fmt.Printf("%s run %d finished over %d emails\n", okMark, run.ID, run.EmailsProcessed)
				switch {
				case run.OutputJSON != nil:
					fmt.Println(*run.OutputJSON)
				case run.OutputText != nil:
					fmt.Println(*run.OutputText)
				}
				return nil
			})
		},
	}
}
