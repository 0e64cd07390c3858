// Package workflow binds the issue key and the active image session into the
// two outbound generation actions, and tracks their in-flight state.
package workflow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/sdetpro/tcgen/internal/api"
	"github.com/sdetpro/tcgen/internal/models"
)

// Generator is the slice of the API client the workflow drives.
type Generator interface {
	Prelight(ctx context.Context, issueKey, imageSessionID string) (*models.PrelightEstimate, error)
	GenerateTestCases(ctx context.Context, issueKey, imageSessionID string) (*models.GenerationResult, error)
}

// SessionSource supplies the active image session id, if any.
type SessionSource interface {
	SessionID() string
}

// Result is one action's outcome slot: at most one of Err or the payload is
// set. A new attempt clears the slot before the call goes out, so it is never
// stuck showing a stale loading state.
type Result[T any] struct {
	Value *T
	Err   string // user-presentable message
}

// Workflow composes the trimmed issue key with the session id for the
// prelight and generate actions. The two actions have independent in-flight
// flags and may run concurrently.
//
// Late responses are fenced: each action carries a monotonically increasing
// token, and a completion whose token is no longer current is dropped rather
// than overwriting newer state.
type Workflow struct {
	client   Generator
	sessions SessionSource

	mu          sync.Mutex
	issueKey    string
	suggestions []string

	prelighting bool
	generating  bool
	prelightSeq uint64
	generateSeq uint64

	prelight   Result[models.PrelightEstimate]
	generation Result[models.GenerationResult]
}

// New creates a Workflow. sessions may be nil when no image session is used.
func New(client Generator, sessions SessionSource) *Workflow {
	return &Workflow{client: client, sessions: sessions}
}

// SetIssueKey updates the issue key. Any displayed prelight result is
// invalidated: an estimate for the old key must not linger next to the new
// one. In-flight calls are not cancelled; fencing drops their late results.
func (w *Workflow) SetIssueKey(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if strings.TrimSpace(key) == w.issueKey {
		w.issueKey = strings.TrimSpace(key)
		return
	}
	w.issueKey = strings.TrimSpace(key)
	w.prelight = Result[models.PrelightEstimate]{}
	w.prelightSeq++
}

// IssueKey returns the current trimmed issue key.
func (w *Workflow) IssueKey() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.issueKey
}

// SetSuggestions replaces the OCR-detected key suggestions.
func (w *Workflow) SetSuggestions(keys []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.suggestions = append([]string(nil), keys...)
}

// Suggestions returns the current detected-key suggestions.
func (w *Workflow) Suggestions() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.suggestions...)
}

// ApplyDetectedKey adopts a detected key as the issue key and clears the
// suggestion list.
func (w *Workflow) ApplyDetectedKey(key string) {
	w.SetIssueKey(key)
	w.mu.Lock()
	w.suggestions = nil
	w.mu.Unlock()
}

// CanPrelight reports whether a prelight may start: non-empty key and no
// prelight already in flight. A running generate does not block it.
func (w *Workflow) CanPrelight() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.issueKey != "" && !w.prelighting
}

// CanGenerate reports whether a generate may start: non-empty key and no
// generate already in flight. A running prelight does not block it.
func (w *Workflow) CanGenerate() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.issueKey != "" && !w.generating
}

// PrelightResult returns the last prelight outcome slot.
func (w *Workflow) PrelightResult() Result[models.PrelightEstimate] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.prelight
}

// GenerationResult returns the last generation outcome slot.
func (w *Workflow) GenerationResult() Result[models.GenerationResult] {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation
}

// Prelight runs the cost/feasibility estimate for the current key. Exactly
// one request goes out, carrying the session id only when a session is active.
func (w *Workflow) Prelight(ctx context.Context) (*models.PrelightEstimate, error) {
	w.mu.Lock()
	if w.issueKey == "" {
		w.mu.Unlock()
		return nil, errors.New("issue key is required")
	}
	if w.prelighting {
		w.mu.Unlock()
		return nil, errors.New("a prelight is already running")
	}
	w.prelighting = true
	w.prelight = Result[models.PrelightEstimate]{}
	w.prelightSeq++
	seq := w.prelightSeq
	key := w.issueKey
	w.mu.Unlock()

	est, err := w.client.Prelight(ctx, key, w.sessionID())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.prelighting = false
	if seq == w.prelightSeq {
		if err != nil {
			w.prelight = Result[models.PrelightEstimate]{Err: UserMessage(err)}
		} else {
			w.prelight = Result[models.PrelightEstimate]{Value: est}
		}
	}
	return est, err
}

// Generate runs full test-case generation for the current key.
func (w *Workflow) Generate(ctx context.Context) (*models.GenerationResult, error) {
	w.mu.Lock()
	if w.issueKey == "" {
		w.mu.Unlock()
		return nil, errors.New("issue key is required")
	}
	if w.generating {
		w.mu.Unlock()
		return nil, errors.New("a generation is already running")
	}
	w.generating = true
	w.generation = Result[models.GenerationResult]{}
	w.generateSeq++
	seq := w.generateSeq
	key := w.issueKey
	w.mu.Unlock()

	result, err := w.client.GenerateTestCases(ctx, key, w.sessionID())

	w.mu.Lock()
	defer w.mu.Unlock()
	w.generating = false
	if seq == w.generateSeq {
		if err != nil {
			w.generation = Result[models.GenerationResult]{Err: UserMessage(err)}
		} else {
			w.generation = Result[models.GenerationResult]{Value: result}
		}
	}
	return result, err
}

func (w *Workflow) sessionID() string {
	if w.sessions == nil {
		return ""
	}
	return w.sessions.SessionID()
}

// UserMessage converts a call failure into the single message shown to the
// user: the server's text when present, a login hint for expired sessions,
// and a fixed fallback otherwise.
func UserMessage(err error) string {
	if errors.Is(err, api.ErrUnauthorized) {
		return "your session has expired, please log in again"
	}
	var apiErr *api.APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return "request failed, please try again"
}
