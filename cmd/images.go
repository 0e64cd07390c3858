package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sdetpro/tcgen/internal/api"
	"github.com/sdetpro/tcgen/internal/intake"
	"github.com/sdetpro/tcgen/internal/models"
	"github.com/sdetpro/tcgen/internal/output"
	"github.com/sdetpro/tcgen/internal/session"
	"github.com/sdetpro/tcgen/internal/workflow"

	"github.com/spf13/cobra"
)

var (
	imagePaths []string
	imagesDir  string
)

// addImageFlags registers the screenshot intake flags shared by prelight and
// generate.
func addImageFlags(c *cobra.Command) {
	c.Flags().StringArrayVar(&imagePaths, "image", nil, "Screenshot to attach (repeatable; '-' reads one image from stdin)")
	c.Flags().StringVar(&imagesDir, "images-dir", "", "Attach every image in a directory")
}

// collectImages validates the flagged files into the set. Validation failures
// are returned as-is; they are user errors shown next to the command, and
// nothing is sent to the network.
func collectImages(set *intake.Set) ([]*models.AttachedImage, error) {
	var accepted []*models.AttachedImage

	for _, p := range imagePaths {
		var (
			batch []*models.AttachedImage
			err   error
		)
		if p == "-" {
			// The paste surface: only read when explicitly enabled by the flag.
			batch, err = set.AddReader("pasted.png", os.Stdin)
		} else {
			batch, err = set.Add(p)
		}
		if err != nil {
			return nil, err
		}
		accepted = append(accepted, batch...)
	}

	if imagesDir != "" {
		batch, err := set.AddDir(imagesDir)
		if err != nil {
			return nil, err
		}
		accepted = append(accepted, batch...)
	}

	return accepted, nil
}

// uploadImages sends the accepted images and prints the OCR report. The
// returned coordinator owns the server session; callers defer Teardown.
func uploadImages(ctx context.Context, client *api.Client, set *intake.Set, accepted []*models.AttachedImage) (*session.Coordinator, error) {
	coord := session.NewCoordinator(client, set)

	ui.Info("Uploading %d image(s)...", len(accepted))
	if err := coord.Upload(ctx, accepted); err != nil {
		return nil, fmt.Errorf("upload failed: %s", workflow.UserMessage(err))
	}

	table := ui.Table([]string{"IMAGE", "SIZE", "OCR", "DETECTED KEYS"})
	for _, img := range set.Images() {
		_ = table.Append([]string{
			img.Filename,
			fmt.Sprintf("%d KB", img.Size/1024),
			output.ConfidenceColor(img.OCRConfidence),
			strings.Join(img.DetectedIssueKeys, ", "),
		})
	}
	_ = table.Render()

	return coord, nil
}

// resolveIssueKey fixes the workflow's issue key from the positional argument
// or, when absent, from an unambiguous OCR detection.
func resolveIssueKey(wf *workflow.Workflow, arg string) error {
	if strings.TrimSpace(arg) != "" {
		wf.SetIssueKey(arg)
		return nil
	}

	suggestions := wf.Suggestions()
	switch len(suggestions) {
	case 0:
		return fmt.Errorf("issue key is required (none detected in the attached images)")
	case 1:
		wf.ApplyDetectedKey(suggestions[0])
		ui.Info("Using detected issue key %s", output.Cyan(wf.IssueKey()))
		return nil
	default:
		ui.Warning("Multiple issue keys detected: %s", strings.Join(suggestions, ", "))
		return fmt.Errorf("pass the issue key you want explicitly")
	}
}
