package store

import (
	"context"

	"github.com/sdetpro/tcgen/internal/models"
)

// Store defines the local persistence interface for tcgen's generation
// history. The remote service keeps its own records; this is the offline
// copy behind `tcgen history`.
type Store interface {
	SaveGeneration(ctx context.Context, g *models.Generation) error
	GetGeneration(ctx context.Context, id string) (*models.Generation, error)
	ListGenerations(ctx context.Context, limit int) ([]*models.Generation, error)
	DeleteGeneration(ctx context.Context, id string) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
