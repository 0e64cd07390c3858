// Package session correlates a batch of validated images with the server-side
// image session that OCR runs against.
//
// A session exists iff at least one image has been uploaded. Removing the
// last image destroys it, both locally and with a best-effort release call so
// the server can drop its copy of the files.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sdetpro/tcgen/internal/api"
	"github.com/sdetpro/tcgen/internal/intake"
	"github.com/sdetpro/tcgen/internal/models"
)

// releaseTimeout bounds the best-effort session release call.
const releaseTimeout = 5 * time.Second

// Uploader is the slice of the API client the coordinator needs.
type Uploader interface {
	UploadImages(ctx context.Context, images []*models.AttachedImage) (*api.UploadResult, error)
	ReleaseImageSession(ctx context.Context, sessionID string) error
}

// Coordinator owns the active upload session. The mutex guards the session
// state so Uploading/SessionID can be polled from other goroutines, but the
// intake set and the image records are not synchronized: callers run
// Upload/Remove/Teardown from a single goroutine per coordinator, which is
// what both the CLI and MCP surfaces do.
type Coordinator struct {
	uploader Uploader
	set      *intake.Set
	log      *slog.Logger

	mu        sync.Mutex
	sessionID string
	detected  []string
	uploading bool
}

// NewCoordinator creates a Coordinator over an intake set.
func NewCoordinator(uploader Uploader, set *intake.Set) *Coordinator {
	return &Coordinator{uploader: uploader, set: set, log: slog.Default()}
}

// SessionID returns the active session id, or "" when no session exists.
func (c *Coordinator) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// DetectedKeys returns the aggregate issue keys OCR found across all uploads,
// deduplicated in first-seen order.
func (c *Coordinator) DetectedKeys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.detected))
	copy(out, c.detected)
	return out
}

// Uploading reports whether an upload call is outstanding.
func (c *Coordinator) Uploading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.uploading
}

// Upload sends the images to the server, adopts the returned session id, and
// merges per-image OCR metadata into the local records. Images must already
// have passed intake validation and be non-empty.
func (c *Coordinator) Upload(ctx context.Context, images []*models.AttachedImage) error {
	if len(images) == 0 {
		return fmt.Errorf("no images to upload")
	}

	c.mu.Lock()
	c.uploading = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.uploading = false
		c.mu.Unlock()
	}()

	result, err := c.uploader.UploadImages(ctx, images)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sessionID = result.SessionID
	mergeOCR(images, result.Images)
	for _, img := range images {
		img.Uploaded = true
	}
	for _, key := range result.DetectedJiraKeys {
		if !contains(c.detected, key) {
			c.detected = append(c.detected, key)
		}
	}
	return nil
}

// mergeOCR copies server OCR metadata onto the local images. Results are
// matched by filename; when a filename is missing or appears more than once
// in the batch, the match falls back to positional order.
func mergeOCR(images []*models.AttachedImage, results []api.UploadedImage) {
	byName := make(map[string][]int)
	for i, r := range results {
		byName[r.Filename] = append(byName[r.Filename], i)
	}

	for i, img := range images {
		idx := -1
		if positions, ok := byName[img.Filename]; ok && len(positions) == 1 {
			idx = positions[0]
		} else if i < len(results) {
			idx = i
		}
		if idx < 0 {
			continue
		}
		img.DetectedIssueKeys = results[idx].DetectedJiraKeys
		img.OCRConfidence = results[idx].OCRConfidence
	}
}

// Remove drops one image from the set. When that empties the set, the session
// is destroyed and the server notified.
func (c *Coordinator) Remove(ctx context.Context, filename string, size int64) bool {
	removed := c.set.Remove(filename, size)
	if removed && c.set.Len() == 0 {
		if id := c.reset(); id != "" {
			c.release(ctx, id)
		}
	}
	return removed
}

// Teardown clears the whole set and fires the release call without waiting
// for it. Long-lived surfaces (the MCP server) use this; it must never block
// the caller.
func (c *Coordinator) Teardown() {
	c.set.Clear()

	id := c.reset()
	if id == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		c.release(ctx, id)
	}()
}

// Shutdown clears the whole set and sends the release call before returning,
// bounded by releaseTimeout. One-shot commands use this at the end of a run:
// the process exits right after, and a release still sitting in a goroutine
// would never reach the server, leaking the session there.
func (c *Coordinator) Shutdown() {
	c.set.Clear()

	id := c.reset()
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	c.release(ctx, id)
}

// reset drops the local session state and returns the id that was active.
func (c *Coordinator) reset() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.sessionID
	c.sessionID = ""
	c.detected = nil
	return id
}

// release notifies the server. Failures are logged and swallowed; the user
// never sees them.
func (c *Coordinator) release(ctx context.Context, id string) {
	if err := c.uploader.ReleaseImageSession(ctx, id); err != nil {
		c.log.Warn("release image session", "session", id, "error", err)
	}
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
