package repository

import (
	"context"
	"time"

	"batched-inference/internal/domain/model"
)

// ResultStore maps request ids to outcomes. Each entry is consumed at most once.
type ResultStore interface {
	// Publish inserts or overwrites the entry for res.ID.
	Publish(ctx context.Context, res model.Result) error
	// Take removes and returns the entry, or domain.ErrResultNotReady.
	Take(ctx context.Context, id string) (model.Result, error)
	// Sweep drops entries published longer than the store TTL before now
	// and reports how many were removed.
	Sweep(ctx context.Context, now time.Time) (int, error)
	Len(ctx context.Context) (int, error)
}
