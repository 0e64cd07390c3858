package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdetpro/tcgen/internal/output"
)

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List locally recorded generations",
	Long:  "List generation runs recorded on this machine, newest first.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyListRun()
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print a recorded generation's markdown",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyShowRun(args[0])
	},
}

var historyRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a recorded generation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return historyRmRun(args[0])
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "Maximum entries to list")
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyRmCmd)
	rootCmd.AddCommand(historyCmd)
}

func historyListRun() error {
	s, err := getStore()
	if err != nil {
		return err
	}

	gens, err := s.ListGenerations(context.Background(), historyLimit)
	if err != nil {
		return err
	}
	if len(gens) == 0 {
		ui.Info("No generations recorded yet")
		return nil
	}

	table := ui.Table([]string{"ID", "ISSUE", "IMAGES", "TIME", "CREATED"})
	for _, g := range gens {
		_ = table.Append([]string{
			g.ID,
			output.Cyan(g.IssueKey),
			fmt.Sprintf("%d", g.ImagesUsed),
			fmt.Sprintf("%.1fs", g.GenerationTimeSeconds),
			g.CreatedAt.Local().Format("2006-01-02 15:04"),
		})
	}
	return table.Render()
}

func historyShowRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	g, err := s.GetGeneration(context.Background(), id)
	if err != nil {
		return err
	}
	fmt.Fprintln(ui.Out, g.Markdown)
	return nil
}

func historyRmRun(id string) error {
	s, err := getStore()
	if err != nil {
		return err
	}
	if err := s.DeleteGeneration(context.Background(), id); err != nil {
		return err
	}
	ui.Success("Deleted %s", id)
	return nil
}
