package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"batched-inference/internal/domain/ports/repository"
	"batched-inference/internal/infra/metrics"
)

// ResultSweeper periodically drops published results nobody came back for,
// e.g. when the waiting caller already timed out.
type ResultSweeper struct {
	interval time.Duration
	results  repository.ResultStore
	now      func() time.Time
	log      *zerolog.Logger
}

func NewResultSweeper(interval time.Duration, results repository.ResultStore, logger *zerolog.Logger) *ResultSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	l := logger.With().Str("component", "ResultSweeper").Logger()
	return &ResultSweeper{
		interval: interval,
		results:  results,
		now:      time.Now,
		log:      &l,
	}
}

func (w *ResultSweeper) Run(ctx context.Context) error {
	w.log.Info().Dur("interval", w.interval).Msg("Starting result sweeper")
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Stopping result sweeper")
			return ctx.Err()
		case <-ticker.C:
			w.SweepOnce(ctx)
		}
	}
}

// SweepOnce runs a single pass and returns how many results were removed.
func (w *ResultSweeper) SweepOnce(ctx context.Context) int {
	n, err := w.results.Sweep(ctx, w.now())
	if err != nil {
		w.log.Error().Err(err).Msg("result sweeper error")
	}
	if n > 0 {
		metrics.AddSwept(n)
		w.log.Info().Int("count", n).Msg("orphaned results swept")
	}
	return n
}
