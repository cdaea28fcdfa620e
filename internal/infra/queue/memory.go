package queue

import (
	"context"
	"sync"

	"batched-inference/internal/domain"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/repository"
)

var _ repository.PendingQueue = (*Memory)(nil)

// Memory is an unbounded in-process FIFO. There is no admission control:
// growth is limited only by available memory.
type Memory struct {
	mu     sync.Mutex
	items  []model.PendingRequest
	head   int
	closed bool
}

func NewMemory() *Memory {
	return &Memory{}
}

func (q *Memory) Enqueue(_ context.Context, req model.PendingRequest) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return domain.ErrQueueClosed
	}
	q.items = append(q.items, req)
	return nil
}

func (q *Memory) DrainUpTo(_ context.Context, n int) ([]model.PendingRequest, error) {
	if n <= 0 {
		return nil, nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	avail := len(q.items) - q.head
	if avail == 0 {
		return nil, nil
	}
	if n > avail {
		n = avail
	}
	out := make([]model.PendingRequest, n)
	copy(out, q.items[q.head:q.head+n])
	clear(q.items[q.head : q.head+n])
	q.head += n

	// compact once the consumed prefix dominates the backing array
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		q.items = append(q.items[:0], q.items[q.head:]...)
		q.head = 0
	}
	return out, nil
}

func (q *Memory) Len(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head, nil
}

// Close rejects further enqueues. Items already queued stay drainable.
func (q *Memory) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}
