package repository

import (
	"context"

	"batched-inference/internal/domain/model"
)

// PendingQueue is a FIFO of submitted requests. Enqueue is safe for many
// concurrent producers; DrainUpTo is called by a single scheduler.
type PendingQueue interface {
	Enqueue(ctx context.Context, req model.PendingRequest) error
	// DrainUpTo atomically removes and returns the oldest n items (or fewer)
	// in arrival order. An empty queue yields an empty slice and nil error.
	DrainUpTo(ctx context.Context, n int) ([]model.PendingRequest, error)
	Len(ctx context.Context) (int, error)
}
