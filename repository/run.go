package repository

import (
	"context"
	"time"

	"github.com/fastygo/iamcleaner/domain"
)

// RunRepository stores run summaries and serializes runs of the same mode.
type RunRepository interface {
	Save(ctx context.Context, summary *domain.RunSummary) error
	Get(ctx context.Context, id string) (*domain.RunSummary, error)
	// Acquire takes the advisory lock for mode. It returns domain.ErrRunInProgress when held elsewhere.
	Acquire(ctx context.Context, mode domain.Mode, owner string, ttl time.Duration) error
	Release(ctx context.Context, mode domain.Mode, owner string) error
}
