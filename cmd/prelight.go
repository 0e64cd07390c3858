package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sdetpro/tcgen/internal/intake"
	"github.com/sdetpro/tcgen/internal/output"
	"github.com/sdetpro/tcgen/internal/workflow"
)

var prelightCmd = &cobra.Command{
	Use:   "prelight [issue-key]",
	Short: "Estimate cost and feasibility for an issue",
	Long: `Run a prelight estimate before generating: fetches the issue, counts
attachments, and reports the expected token usage and cost.

Without an issue key, a key detected by OCR in the attached screenshots
is used when the detection is unambiguous.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) > 0 {
			key = args[0]
		}
		return prelightRun(key)
	},
}

func init() {
	addImageFlags(prelightCmd)
	rootCmd.AddCommand(prelightCmd)
}

func prelightRun(issueKeyArg string) error {
	client, err := getClient()
	if err != nil {
		return err
	}
	ctx := context.Background()

	set := intake.NewSet(intakeConfig())
	accepted, err := collectImages(set)
	if err != nil {
		set.Clear()
		return err
	}

	var sessions workflow.SessionSource
	if len(accepted) > 0 {
		coord, err := uploadImages(ctx, client, set, accepted)
		if err != nil {
			set.Clear()
			return err
		}
		// The process exits when this command returns; Shutdown waits for the
		// release so the server session does not outlive the run.
		defer coord.Shutdown()
		sessions = coord
	}

	wf := workflow.New(client, sessions)
	if coord, ok := sessions.(interface{ DetectedKeys() []string }); ok {
		wf.SetSuggestions(coord.DetectedKeys())
	}
	if err := resolveIssueKey(wf, issueKeyArg); err != nil {
		return err
	}

	est, err := wf.Prelight(ctx)
	if err != nil {
		return fmt.Errorf("prelight failed: %s", workflow.UserMessage(err))
	}

	uiStory := "no"
	if est.IsUIStory {
		uiStory = "yes"
	}

	table := ui.Table([]string{"FIELD", "VALUE"})
	_ = table.Append([]string{"Issue", output.Cyan(est.IssueKey)})
	_ = table.Append([]string{"Title", est.Title})
	_ = table.Append([]string{"UI story", uiStory})
	_ = table.Append([]string{"Attachments", fmt.Sprintf("%d", est.Attachments)})
	_ = table.Append([]string{"Est. tokens", fmt.Sprintf("%d", est.EstimatedTokens)})
	_ = table.Append([]string{"Est. cost", output.Cost(est.EstimatedCost)})
	_ = table.Render()

	return nil
}
