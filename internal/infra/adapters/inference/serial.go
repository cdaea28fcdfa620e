package inference

import (
	"context"

	"batched-inference/internal/domain/ports/adapter"
)

// Compile-time check
var _ adapter.InferenceBackend = (*serial)(nil)

// serial admits one Infer call at a time. The backend is a single-threaded
// resource; callers waiting for the slot give up when their context ends.
type serial struct {
	inner adapter.InferenceBackend
	sem   chan struct{}
}

func NewSerial(inner adapter.InferenceBackend) adapter.InferenceBackend {
	if s, ok := inner.(*serial); ok {
		return s
	}
	return &serial{inner: inner, sem: make(chan struct{}, 1)}
}

func (s *serial) Model() string { return s.inner.Model() }

func (s *serial) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-s.sem }()
	return s.inner.Infer(ctx, inputs, maxLength)
}
