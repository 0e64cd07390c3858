package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sdetpro/tcgen/internal/intake"
	"github.com/sdetpro/tcgen/internal/models"
	"github.com/sdetpro/tcgen/internal/output"
	"github.com/sdetpro/tcgen/internal/workflow"
)

var generateOutput string

var generateCmd = &cobra.Command{
	Use:     "generate [issue-key]",
	Aliases: []string{"gen"},
	Short:   "Generate test cases for an issue",
	Long: `Generate test cases for a JIRA issue through the remote service.

The generated markdown is printed to stdout (or written with -o) and the
run is recorded in local history. Without an issue key, a key detected by
OCR in the attached screenshots is used when the detection is unambiguous.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var key string
		if len(args) > 0 {
			key = args[0]
		}
		return generateRun(key)
	},
}

func init() {
	addImageFlags(generateCmd)
	generateCmd.Flags().StringVarP(&generateOutput, "output", "o", "", "Write the markdown to a file instead of stdout")
	rootCmd.AddCommand(generateCmd)
}

func generateRun(issueKeyArg string) error {
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

	ui.Info("Generating test cases for %s...", output.Cyan(wf.IssueKey()))
	result, err := wf.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generation failed: %s", workflow.UserMessage(err))
	}

	if generateOutput != "" {
		if err := os.WriteFile(generateOutput, []byte(result.Markdown), 0o644); err != nil {
			return fmt.Errorf("write output file: %w", err)
		}
		ui.Success("Wrote %s", generateOutput)
	} else {
		fmt.Fprintln(ui.Out, result.Markdown)
	}

	ui.Success("Generated in %.1fs using %d image(s) (id %s)",
		result.GenerationTimeSeconds, result.ImagesUsed, result.GenerationID)

	// Record the run locally for `tcgen history`. The remote service has the
	// canonical copy, so a failed save is only a warning.
	if s, err := getStore(); err != nil {
		ui.Warning("history unavailable: %v", err)
	} else {
		gen := &models.Generation{
			GenerationID:          result.GenerationID,
			IssueKey:              result.IssueKey,
			Markdown:              result.Markdown,
			GenerationTimeSeconds: result.GenerationTimeSeconds,
			ImagesUsed:            result.ImagesUsed,
		}
		if err := s.SaveGeneration(ctx, gen); err != nil {
			ui.Warning("failed to record generation: %v", err)
		}
	}

	return nil
}
