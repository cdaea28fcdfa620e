package usecase_test

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/adapter"
	"batched-inference/internal/infra/store"
)

func newTestLogger() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}

// MockQueue records enqueued requests and lets tests override behaviour.
type MockQueue struct {
	mu        sync.Mutex
	Items     []model.PendingRequest
	EnqueueFn func(ctx context.Context, r model.PendingRequest) error
	LenFn     func(ctx context.Context) (int, error)
}

func (m *MockQueue) Enqueue(ctx context.Context, r model.PendingRequest) error {
	if m.EnqueueFn != nil {
		return m.EnqueueFn(ctx, r)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Items = append(m.Items, r)
	return nil
}

func (m *MockQueue) DrainUpTo(_ context.Context, n int) ([]model.PendingRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > len(m.Items) {
		n = len(m.Items)
	}
	out := append([]model.PendingRequest(nil), m.Items[:n]...)
	m.Items = m.Items[n:]
	return out, nil
}

func (m *MockQueue) Len(ctx context.Context) (int, error) {
	if m.LenFn != nil {
		return m.LenFn(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Items), nil
}

func (m *MockQueue) last() model.PendingRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Items[len(m.Items)-1]
}

// publishLater resolves the most recently enqueued request after delay,
// standing in for a scheduler cycle.
func publishLater(q *MockQueue, st *store.Memory, delay time.Duration, mk func(id string) model.Result) {
	go func() {
		for {
			q.mu.Lock()
			n := len(q.Items)
			q.mu.Unlock()
			if n > 0 {
				break
			}
			time.Sleep(time.Millisecond)
		}
		time.Sleep(delay)
		_ = st.Publish(context.Background(), mk(q.last().ID))
	}()
}

type staticScheduler model.SchedulerStats

func (s staticScheduler) Stats() model.SchedulerStats { return model.SchedulerStats(s) }

// countingBackend counts Infer calls on top of a real backend.
type countingBackend struct {
	adapter.InferenceBackend
	mu sync.Mutex
	n  int
}

func (c *countingBackend) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return c.InferenceBackend.Infer(ctx, inputs, maxLength)
}

func (c *countingBackend) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
