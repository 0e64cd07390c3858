package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdetpro/tcgen/internal/api"
	"github.com/sdetpro/tcgen/internal/models"
)

// genCall records one outbound call's arguments.
type genCall struct {
	issueKey  string
	sessionID string
}

// mockGenerator implements Generator with optional blocking for races.
type mockGenerator struct {
	mu            sync.Mutex
	prelightCalls []genCall
	generateCalls []genCall

	prelightResp *models.PrelightEstimate
	generateResp *models.GenerationResult
	prelightErr  error
	generateErr  error

	started chan struct{} // closed once a blocked call has begun, when set
	release chan struct{} // calls wait on this before returning, when set
}

func (m *mockGenerator) Prelight(_ context.Context, issueKey, sessionID string) (*models.PrelightEstimate, error) {
	m.mu.Lock()
	m.prelightCalls = append(m.prelightCalls, genCall{issueKey, sessionID})
	started, release := m.started, m.release
	m.mu.Unlock()

	if started != nil {
		close(started)
		m.mu.Lock()
		m.started = nil
		m.mu.Unlock()
	}
	if release != nil {
		<-release
	}
	return m.prelightResp, m.prelightErr
}

func (m *mockGenerator) GenerateTestCases(_ context.Context, issueKey, sessionID string) (*models.GenerationResult, error) {
	m.mu.Lock()
	m.generateCalls = append(m.generateCalls, genCall{issueKey, sessionID})
	m.mu.Unlock()
	return m.generateResp, m.generateErr
}

// fixedSession is a SessionSource returning a constant id.
type fixedSession string

func (s fixedSession) SessionID() string { return string(s) }

func TestCanPrelight_RequiresTrimmedKey(t *testing.T) {
	wf := New(&mockGenerator{}, nil)

	assert.False(t, wf.CanPrelight())
	assert.False(t, wf.CanGenerate())

	wf.SetIssueKey("   ")
	assert.False(t, wf.CanPrelight())

	wf.SetIssueKey("  SDETPRO-123  ")
	assert.True(t, wf.CanPrelight())
	assert.True(t, wf.CanGenerate())
	assert.Equal(t, "SDETPRO-123", wf.IssueKey())
}

func TestPrelight_NoSession_SendsKeyOnly(t *testing.T) {
	gen := &mockGenerator{prelightResp: &models.PrelightEstimate{IssueKey: "SDETPRO-123"}}
	wf := New(gen, nil)
	wf.SetIssueKey("SDETPRO-123")

	est, err := wf.Prelight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "SDETPRO-123", est.IssueKey)

	require.Len(t, gen.prelightCalls, 1)
	assert.Equal(t, genCall{"SDETPRO-123", ""}, gen.prelightCalls[0])

	slot := wf.PrelightResult()
	require.NotNil(t, slot.Value)
	assert.Empty(t, slot.Err)
}

func TestPrelight_WithSession_CarriesSessionID(t *testing.T) {
	gen := &mockGenerator{prelightResp: &models.PrelightEstimate{}}
	wf := New(gen, fixedSession("sess-1"))
	wf.SetIssueKey("ABC-1")

	_, err := wf.Prelight(context.Background())
	require.NoError(t, err)
	assert.Equal(t, genCall{"ABC-1", "sess-1"}, gen.prelightCalls[0])
}

func TestPrelight_FailurePopulatesErrorSlot(t *testing.T) {
	gen := &mockGenerator{prelightErr: &api.APIError{StatusCode: 400, Message: "issue not found"}}
	wf := New(gen, nil)
	wf.SetIssueKey("ABC-1")

	_, err := wf.Prelight(context.Background())
	require.Error(t, err)

	slot := wf.PrelightResult()
	assert.Nil(t, slot.Value)
	assert.Equal(t, "issue not found", slot.Err)
	// The in-flight flag is cleared unconditionally.
	assert.True(t, wf.CanPrelight())
}

func TestPrelight_BlockedWhileInFlight(t *testing.T) {
	gen := &mockGenerator{
		prelightResp: &models.PrelightEstimate{},
		started:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	wf := New(gen, nil)
	wf.SetIssueKey("ABC-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = wf.Prelight(context.Background())
	}()
	<-gen.started

	assert.False(t, wf.CanPrelight())
	_, err := wf.Prelight(context.Background())
	assert.Error(t, err)

	// Generation is independently gated: a running prelight does not block it.
	assert.True(t, wf.CanGenerate())

	close(gen.release)
	<-done
	assert.True(t, wf.CanPrelight())
	assert.Len(t, gen.prelightCalls, 1)
}

func TestSetIssueKey_ClearsPrelightResult(t *testing.T) {
	gen := &mockGenerator{prelightResp: &models.PrelightEstimate{IssueKey: "ABC-1"}}
	wf := New(gen, nil)
	wf.SetIssueKey("ABC-1")

	_, err := wf.Prelight(context.Background())
	require.NoError(t, err)
	require.NotNil(t, wf.PrelightResult().Value)

	wf.SetIssueKey("XYZ-2")
	assert.Nil(t, wf.PrelightResult().Value)

	// Setting the same key back does not clear anything further; there is
	// nothing stale to show for it.
	wf.SetIssueKey("XYZ-2")
	assert.Nil(t, wf.PrelightResult().Value)
}

func TestPrelight_StaleResponseIsFenced(t *testing.T) {
	gen := &mockGenerator{
		prelightResp: &models.PrelightEstimate{IssueKey: "OLD-1"},
		started:      make(chan struct{}),
		release:      make(chan struct{}),
	}
	wf := New(gen, nil)
	wf.SetIssueKey("OLD-1")

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = wf.Prelight(context.Background())
	}()
	<-gen.started

	// The user edits the key while the call is in flight. The late response
	// for OLD-1 must not appear next to the new key.
	wf.SetIssueKey("NEW-2")

	close(gen.release)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("prelight never completed")
	}

	slot := wf.PrelightResult()
	assert.Nil(t, slot.Value, "stale estimate must be dropped")
	assert.Empty(t, slot.Err)
	assert.True(t, wf.CanPrelight())
}

func TestGenerate_RecordsResult(t *testing.T) {
	gen := &mockGenerator{generateResp: &models.GenerationResult{GenerationID: "gen-1", Markdown: "# Cases"}}
	wf := New(gen, fixedSession("sess-1"))
	wf.SetIssueKey("ABC-1")

	result, err := wf.Generate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gen-1", result.GenerationID)
	assert.Equal(t, genCall{"ABC-1", "sess-1"}, gen.generateCalls[0])

	slot := wf.GenerationResult()
	require.NotNil(t, slot.Value)
	assert.Equal(t, "# Cases", slot.Value.Markdown)
}

func TestGenerate_RequiresKey(t *testing.T) {
	wf := New(&mockGenerator{}, nil)
	_, err := wf.Generate(context.Background())
	assert.Error(t, err)
}

func TestApplyDetectedKey(t *testing.T) {
	wf := New(&mockGenerator{}, nil)
	wf.SetSuggestions([]string{"ABC-1", "XYZ-2"})

	wf.ApplyDetectedKey("ABC-1")
	assert.Equal(t, "ABC-1", wf.IssueKey())
	assert.Empty(t, wf.Suggestions(), "suggestion panel hides after selection")
}

func TestUserMessage(t *testing.T) {
	t.Run("unauthorized", func(t *testing.T) {
		msg := UserMessage(api.ErrUnauthorized)
		assert.Contains(t, msg, "log in")
	})
	t.Run("server message", func(t *testing.T) {
		msg := UserMessage(&api.APIError{Message: "quota exceeded"})
		assert.Equal(t, "quota exceeded", msg)
	})
	t.Run("fallback", func(t *testing.T) {
		msg := UserMessage(errors.New("dial tcp: connection refused"))
		assert.Equal(t, "request failed, please try again", msg)
	})
}
