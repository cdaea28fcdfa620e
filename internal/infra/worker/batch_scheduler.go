package worker

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"batched-inference/internal/config"
	"batched-inference/internal/domain"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/adapter"
	"batched-inference/internal/domain/ports/repository"
	"batched-inference/internal/infra/logging"
	"batched-inference/internal/infra/metrics"
)

// BatchScheduler is the single consumer of the pending queue. Every cycle it
// drains up to MaxSize requests, runs one backend call for all of them and
// publishes one result per request id. Batches are never pipelined.
type BatchScheduler struct {
	queue   repository.PendingQueue
	results repository.ResultStore
	backend adapter.InferenceBackend
	tok     adapter.Tokenizer
	cfg     config.BatchConfig
	log     *zerolog.Logger

	// lastEmpty is only touched by the goroutine driving RunOnce.
	lastEmpty bool

	batches       atomic.Int64
	failedBatches atomic.Int64
	processed     atomic.Int64
	meanBits      atomic.Uint64
	cycleEmpty    atomic.Bool
}

func NewBatchScheduler(
	queue repository.PendingQueue,
	results repository.ResultStore,
	backend adapter.InferenceBackend,
	tok adapter.Tokenizer,
	cfg config.BatchConfig,
	logger *zerolog.Logger,
) *BatchScheduler {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 50
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 100 * time.Millisecond
	}
	if cfg.MaxLength <= 0 {
		cfg.MaxLength = 50
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "BatchScheduler").Logger()
	return &BatchScheduler{
		queue:   queue,
		results: results,
		backend: backend,
		tok:     tok,
		cfg:     cfg,
		log:     &l,
	}
}

// Run wakes every cfg.Interval and runs one cycle until ctx is cancelled.
// A failing batch never stops the loop.
func (s *BatchScheduler) Run(ctx context.Context) error {
	s.log.Info().
		Int("max_batch_size", s.cfg.MaxSize).
		Dur("interval", s.cfg.Interval).
		Str("model", s.backend.Model()).
		Msg("batch scheduler started")
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("batch scheduler stopping")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single Idle → Draining → Invoking → Publishing cycle and
// returns the number of requests it resolved.
func (s *BatchScheduler) RunOnce(ctx context.Context) int {
	if n, err := s.queue.Len(ctx); err == nil {
		metrics.SetQueueDepth(n)
	}

	batch, err := s.queue.DrainUpTo(ctx, s.cfg.MaxSize)
	if err != nil {
		s.log.Error().Err(err).Int("drained", len(batch)).Msg("drain pending queue")
		if len(batch) == 0 {
			// an unreachable queue is not an idle one
			return 0
		}
	}
	if len(batch) == 0 {
		s.markEmpty()
		return 0
	}
	s.lastEmpty = false
	s.cycleEmpty.Store(false)

	batchID := uuid.NewString()
	blog := logging.With(logging.WithBatchID(ctx, batchID), s.log).With().Int("size", len(batch)).Logger()
	blog.Info().Msg("processing batch")

	gens, elapsed, err := s.invoke(ctx, model.Batch(batch).Texts())
	if err == nil && len(gens) != len(batch) {
		err = fmt.Errorf("%w: got %d, want %d", domain.ErrMisalignedResults, len(gens), len(batch))
	}

	// results must land even if shutdown cancelled ctx mid-batch
	pubCtx := context.WithoutCancel(ctx)

	s.batches.Add(1)
	s.processed.Add(int64(len(batch)))

	if err != nil {
		s.failedBatches.Add(1)
		// zero is reserved for idle cycles
		s.setMean(meanPerToken(elapsed, 0))
		metrics.ObserveBatch(s.backend.Model(), len(batch), elapsed.Seconds(), 0, false)
		blog.Error().Err(err).Dur("elapsed", elapsed).Msg("backend call failed; publishing error to every request in batch")
		for _, r := range batch {
			s.publish(pubCtx, &blog, model.ErrorResult(r.ID, batchID, err))
		}
		return len(batch)
	}

	total := 0
	for i, r := range batch {
		tokens := gens[i].Tokens
		if tokens <= 0 && s.tok != nil {
			tokens = s.tok.CountTokens(gens[i].Text)
		}
		total += tokens
		s.publish(pubCtx, &blog, model.SuccessResult(r.ID, batchID, gens[i].Text, tokens))
	}

	mean := meanPerToken(elapsed, total)
	s.setMean(mean)
	metrics.ObserveBatch(s.backend.Model(), len(batch), elapsed.Seconds(), total, true)
	blog.Info().
		Int("total_tokens", total).
		Float64("mean_time_per_token", mean).
		Dur("elapsed", elapsed).
		Msg("batch completed")
	return len(batch)
}

// invoke times exactly one backend call. A panic inside the backend is
// converted into an error for the batch.
func (s *BatchScheduler) invoke(ctx context.Context, texts []string) (gens []adapter.Generation, elapsed time.Duration, err error) {
	callCtx := ctx
	if s.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.cfg.CallTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		elapsed = time.Since(start)
		if r := recover(); r != nil {
			gens = nil
			err = fmt.Errorf("%w: %v", domain.ErrBackendPanic, r)
		}
	}()
	gens, err = s.backend.Infer(callCtx, texts, s.cfg.MaxLength)
	return gens, elapsed, err
}

func (s *BatchScheduler) publish(ctx context.Context, log *zerolog.Logger, res model.Result) {
	if err := s.results.Publish(ctx, res); err != nil {
		log.Error().Err(err).Str("request_id", res.ID).Msg("publish result")
	}
}

// markEmpty logs only on the transition into emptiness but resets the gauge
// every idle cycle.
func (s *BatchScheduler) markEmpty() {
	if !s.lastEmpty {
		s.log.Info().Msg("queue is empty")
	}
	s.lastEmpty = true
	s.cycleEmpty.Store(true)
	s.setMean(0)
}

// meanPerToken divides by at least one token so a processed batch never
// reports zero.
func meanPerToken(elapsed time.Duration, tokens int) float64 {
	return elapsed.Seconds() / float64(max(tokens, 1))
}

func (s *BatchScheduler) setMean(v float64) {
	s.meanBits.Store(math.Float64bits(v))
	metrics.SetMeanTimePerToken(v)
}

func (s *BatchScheduler) Stats() model.SchedulerStats {
	return model.SchedulerStats{
		Batches:              s.batches.Load(),
		FailedBatches:        s.failedBatches.Load(),
		Processed:            s.processed.Load(),
		LastMeanTimePerToken: math.Float64frombits(s.meanBits.Load()),
		LastCycleEmpty:       s.cycleEmpty.Load(),
	}
}
