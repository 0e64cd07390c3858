package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sdetpro/tcgen/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	// Running migrations again must not fail or reapply anything.
	require.NoError(t, s.Migrate(context.Background()))
}

func TestSaveGeneration_AssignsIDAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &models.Generation{
		GenerationID: "gen-1",
		IssueKey:     "SDETPRO-123",
		Markdown:     "# Test Cases",
		ImagesUsed:   2,
	}
	require.NoError(t, s.SaveGeneration(ctx, g))
	assert.NotEmpty(t, g.ID)
	assert.False(t, g.CreatedAt.IsZero())
}

func TestGetGeneration_ByLocalAndServerID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &models.Generation{
		GenerationID:          "gen-1",
		IssueKey:              "SDETPRO-123",
		Markdown:              "# Test Cases",
		GenerationTimeSeconds: 8.25,
	}
	require.NoError(t, s.SaveGeneration(ctx, g))

	byLocal, err := s.GetGeneration(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, "SDETPRO-123", byLocal.IssueKey)
	assert.InDelta(t, 8.25, byLocal.GenerationTimeSeconds, 1e-9)

	byServer, err := s.GetGeneration(ctx, "gen-1")
	require.NoError(t, err)
	assert.Equal(t, g.ID, byServer.ID)

	_, err = s.GetGeneration(ctx, "nope")
	assert.ErrorContains(t, err, "not found")
}

func TestListGenerations_NewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	old := &models.Generation{IssueKey: "ABC-1", Markdown: "old", CreatedAt: time.Now().Add(-time.Hour).UTC()}
	recent := &models.Generation{IssueKey: "ABC-2", Markdown: "recent", CreatedAt: time.Now().UTC()}
	require.NoError(t, s.SaveGeneration(ctx, old))
	require.NoError(t, s.SaveGeneration(ctx, recent))

	gens, err := s.ListGenerations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, gens, 2)
	assert.Equal(t, "ABC-2", gens[0].IssueKey)
	assert.Equal(t, "ABC-1", gens[1].IssueKey)

	limited, err := s.ListGenerations(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteGeneration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	g := &models.Generation{GenerationID: "gen-1", IssueKey: "ABC-1", Markdown: "x"}
	require.NoError(t, s.SaveGeneration(ctx, g))

	require.NoError(t, s.DeleteGeneration(ctx, g.ID))
	_, err := s.GetGeneration(ctx, g.ID)
	assert.Error(t, err)

	assert.ErrorContains(t, s.DeleteGeneration(ctx, g.ID), "not found")
}
