package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batched-inference/internal/config"
	"batched-inference/internal/domain"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/adapter"
	"batched-inference/internal/infra/queue"
	"batched-inference/internal/infra/store"
)

// ---- Fakes ----

type fakeBackend struct {
	mu      sync.Mutex
	calls   [][]string
	err     error
	panics  bool
	short   bool
	tokens  int
	latency time.Duration
}

func (f *fakeBackend) Model() string { return "fake" }

func (f *fakeBackend) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), inputs...))
	f.mu.Unlock()
	if f.latency > 0 {
		time.Sleep(f.latency)
	}
	if f.panics {
		panic("tensor shape mismatch")
	}
	if f.err != nil {
		return nil, f.err
	}
	n := len(inputs)
	if f.short {
		n--
	}
	out := make([]adapter.Generation, n)
	for i := 0; i < n; i++ {
		out[i] = adapter.Generation{Text: "gen:" + inputs[i], Tokens: f.tokens}
	}
	return out, nil
}

func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fixedTokenizer int

func (f fixedTokenizer) CountTokens(string) int { return int(f) }

type failingStore struct {
	*store.Memory
	failID string
}

func (f *failingStore) Publish(ctx context.Context, res model.Result) error {
	if res.ID == f.failID {
		return errors.New("disk full")
	}
	return f.Memory.Publish(ctx, res)
}

type brokenQueue struct {
	*queue.Memory
	down bool
}

func (b *brokenQueue) DrainUpTo(ctx context.Context, n int) ([]model.PendingRequest, error) {
	if b.down {
		return nil, errors.New("dial tcp: connection refused")
	}
	return b.Memory.DrainUpTo(ctx, n)
}

// ---- helpers ----

func newScheduler(t *testing.T, b adapter.InferenceBackend, maxSize int) (*BatchScheduler, *queue.Memory, *store.Memory) {
	t.Helper()
	q := queue.NewMemory()
	st := store.NewMemory(4, 0)
	s := NewBatchScheduler(q, st, b, fixedTokenizer(2), config.BatchConfig{
		MaxSize:   maxSize,
		Interval:  10 * time.Millisecond,
		MaxLength: 50,
	}, nil)
	return s, q, st
}

func enqueue(t *testing.T, q *queue.Memory, n int) []string {
	t.Helper()
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		r := model.NewPendingRequest(fmt.Sprintf("prompt %d", i))
		require.NoError(t, q.Enqueue(context.Background(), r))
		ids[i] = r.ID
	}
	return ids
}

// ---- tests ----

func TestRunOnce_SingleInvocationForWholeBatch(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{tokens: 4, latency: time.Millisecond}
	s, q, st := newScheduler(t, b, 50)
	ids := enqueue(t, q, 3)

	processed := s.RunOnce(ctx)

	assert.Equal(t, 3, processed)
	require.Equal(t, 1, b.callCount())
	assert.Equal(t, []string{"prompt 0", "prompt 1", "prompt 2"}, b.calls[0])

	seen := map[string]bool{}
	for i, id := range ids {
		res, err := st.Take(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("gen:prompt %d", i), res.Text, "result[i] belongs to request[i]")
		assert.Equal(t, 4, res.Tokens)
		assert.NotEmpty(t, res.BatchID)
		assert.False(t, seen[res.Text])
		seen[res.Text] = true
	}

	stats := s.Stats()
	assert.Equal(t, int64(1), stats.Batches)
	assert.Greater(t, stats.LastMeanTimePerToken, 0.0)
	assert.False(t, stats.LastCycleEmpty)
}

func TestRunOnce_RespectsMaxBatchSizeAndFIFO(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{tokens: 1}
	s, q, st := newScheduler(t, b, 2)
	ids := enqueue(t, q, 5)

	assert.Equal(t, 2, s.RunOnce(ctx))
	assert.Equal(t, 2, s.RunOnce(ctx))
	assert.Equal(t, 1, s.RunOnce(ctx))
	assert.Equal(t, 0, s.RunOnce(ctx))

	require.Equal(t, 3, b.callCount())
	assert.Equal(t, []string{"prompt 0", "prompt 1"}, b.calls[0])
	assert.Equal(t, []string{"prompt 2", "prompt 3"}, b.calls[1])
	assert.Equal(t, []string{"prompt 4"}, b.calls[2])

	n, _ := st.Len(ctx)
	assert.Equal(t, len(ids), n)
}

func TestRunOnce_BackendErrorReachesEveryRequest(t *testing.T) {
	ctx := context.Background()
	b := &fakeBackend{err: errors.New("CUDA out of memory"), latency: time.Millisecond}
	s, q, st := newScheduler(t, b, 50)
	s.RunOnce(ctx) // idle cycle resets the gauge
	ids := enqueue(t, q, 5)

	assert.Equal(t, 5, s.RunOnce(ctx))
	assert.NotZero(t, s.Stats().LastMeanTimePerToken, "only an empty cycle reports zero")

	for _, id := range ids {
		res, err := st.Take(ctx, id)
		require.NoError(t, err)
		assert.True(t, res.Failed())
		assert.Equal(t, "CUDA out of memory", res.Error)
	}
	assert.Equal(t, int64(1), s.Stats().FailedBatches)

	// next cycle still runs
	b.err = nil
	next := enqueue(t, q, 1)
	assert.Equal(t, 1, s.RunOnce(ctx))
	res, err := st.Take(ctx, next[0])
	require.NoError(t, err)
	assert.False(t, res.Failed())
}

func TestRunOnce_BackendPanicBecomesBatchError(t *testing.T) {
	ctx := context.Background()
	s, q, st := newScheduler(t, &fakeBackend{panics: true}, 50)
	ids := enqueue(t, q, 2)

	require.NotPanics(t, func() { s.RunOnce(ctx) })
	for _, id := range ids {
		res, err := st.Take(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, res.Error, "tensor shape mismatch")
	}
}

func TestRunOnce_MisalignedResultsFailTheBatch(t *testing.T) {
	ctx := context.Background()
	s, q, st := newScheduler(t, &fakeBackend{short: true}, 50)
	ids := enqueue(t, q, 3)

	s.RunOnce(ctx)
	for _, id := range ids {
		res, err := st.Take(ctx, id)
		require.NoError(t, err)
		assert.Contains(t, res.Error, domain.ErrMisalignedResults.Error())
	}
}

func TestRunOnce_TokenizerFallback(t *testing.T) {
	ctx := context.Background()
	s, q, st := newScheduler(t, &fakeBackend{tokens: 0}, 50)
	ids := enqueue(t, q, 1)

	s.RunOnce(ctx)
	res, err := st.Take(ctx, ids[0])
	require.NoError(t, err)
	assert.Equal(t, 2, res.Tokens)
}

func TestRunOnce_PublishFailureDoesNotDropSiblings(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	ids := enqueue(t, q, 3)
	st := &failingStore{Memory: store.NewMemory(2, 0), failID: ids[1]}
	s := NewBatchScheduler(q, st, &fakeBackend{tokens: 1}, nil, config.BatchConfig{MaxSize: 10}, nil)

	s.RunOnce(ctx)

	_, err := st.Take(ctx, ids[0])
	assert.NoError(t, err)
	_, err = st.Take(ctx, ids[2])
	assert.NoError(t, err)
}

func TestRunOnce_EmptyQueueLogsOncePerTransitionAndResetsGauge(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	q := queue.NewMemory()
	st := store.NewMemory(1, 0)
	s := NewBatchScheduler(q, st, &fakeBackend{tokens: 1, latency: time.Millisecond}, nil, config.BatchConfig{MaxSize: 5}, &logger)

	s.RunOnce(ctx)
	s.RunOnce(ctx)
	s.RunOnce(ctx)
	assert.Equal(t, 1, strings.Count(buf.String(), "queue is empty"))
	assert.True(t, s.Stats().LastCycleEmpty)
	assert.Zero(t, s.Stats().LastMeanTimePerToken)

	enqueue(t, q, 1)
	s.RunOnce(ctx)
	assert.NotZero(t, s.Stats().LastMeanTimePerToken)

	s.RunOnce(ctx)
	s.RunOnce(ctx)
	assert.Equal(t, 2, strings.Count(buf.String(), "queue is empty"))
	assert.Zero(t, s.Stats().LastMeanTimePerToken)
}

func TestRunOnce_DrainFailureIsNotAnIdleCycle(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	q := &brokenQueue{Memory: queue.NewMemory()}
	st := store.NewMemory(1, 0)
	s := NewBatchScheduler(q, st, &fakeBackend{tokens: 1, latency: time.Millisecond}, nil, config.BatchConfig{MaxSize: 5}, &logger)

	enqueue(t, q.Memory, 1)
	require.Equal(t, 1, s.RunOnce(ctx))
	mean := s.Stats().LastMeanTimePerToken
	require.NotZero(t, mean)

	q.down = true
	assert.Equal(t, 0, s.RunOnce(ctx))
	assert.Equal(t, 0, s.RunOnce(ctx))

	stats := s.Stats()
	assert.False(t, stats.LastCycleEmpty)
	assert.Equal(t, mean, stats.LastMeanTimePerToken)
	assert.NotContains(t, buf.String(), "queue is empty")
	assert.Contains(t, buf.String(), "connection refused")

	// recovery into a genuinely empty queue is still reported
	q.down = false
	s.RunOnce(ctx)
	assert.True(t, s.Stats().LastCycleEmpty)
	assert.Equal(t, 1, strings.Count(buf.String(), "queue is empty"))
}

func TestRunOnce_BatchLogCarriesBatchID(t *testing.T) {
	ctx := context.Background()
	var buf bytes.Buffer
	logger := zerolog.New(&buf)

	q := queue.NewMemory()
	st := store.NewMemory(1, 0)
	s := NewBatchScheduler(q, st, &fakeBackend{tokens: 1}, nil, config.BatchConfig{MaxSize: 5}, &logger)
	ids := enqueue(t, q, 2)

	s.RunOnce(ctx)
	res, err := st.Take(ctx, ids[0])
	require.NoError(t, err)

	var found bool
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		if rec["message"] == "processing batch" {
			found = true
			assert.Equal(t, res.BatchID, rec["batch_id"])
			assert.EqualValues(t, 2, rec["size"])
		}
	}
	assert.True(t, found)
}

func TestRunOnce_CallTimeoutBoundsBackend(t *testing.T) {
	ctx := context.Background()
	q := queue.NewMemory()
	st := store.NewMemory(1, 0)
	blocking := backendFunc(func(ctx context.Context, inputs []string, _ int) ([]adapter.Generation, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	s := NewBatchScheduler(q, st, blocking, nil, config.BatchConfig{MaxSize: 5, CallTimeout: 20 * time.Millisecond}, nil)
	ids := enqueue(t, q, 1)

	s.RunOnce(ctx)
	res, err := st.Take(ctx, ids[0])
	require.NoError(t, err)
	assert.Contains(t, res.Error, context.DeadlineExceeded.Error())
}

func TestRun_StopsOnCancelAndProcessesMeanwhile(t *testing.T) {
	b := &fakeBackend{tokens: 1}
	s, q, st := newScheduler(t, b, 50)
	ids := enqueue(t, q, 4)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, _ := st.Len(context.Background())
		return n == len(ids)
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
	assert.Equal(t, 1, b.callCount())
}

type backendFunc func(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error)

func (f backendFunc) Model() string { return "func" }
func (f backendFunc) Infer(ctx context.Context, inputs []string, maxLength int) ([]adapter.Generation, error) {
	return f(ctx, inputs, maxLength)
}
