// File: internal/usecase/generation_uc.go
package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"batched-inference/internal/config"
	"batched-inference/internal/domain"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/repository"
	"batched-inference/internal/infra/logging"
	"batched-inference/internal/infra/metrics"
)

// Compile-time check
var _ GenerationUseCase = (*generationUC)(nil)

// Request outcomes as reported by generation_requests_total.
const (
	OutcomeOK           = "ok"
	OutcomeBackendError = "backend_error"
	OutcomeTimeout      = "timeout"
	OutcomeCanceled     = "canceled"
	OutcomeError        = "error"
)

type GenerationUseCase interface {
	// Submit enqueues text verbatim, the empty string included, and returns
	// its request id without waiting.
	Submit(ctx context.Context, text string) (string, error)
	// AwaitResult polls the result store until the id's result appears or
	// timeout elapses. It never cancels the queued request.
	AwaitResult(ctx context.Context, id string, timeout time.Duration) (model.Result, error)
	// Generate is Submit followed by AwaitResult with the configured timeout.
	Generate(ctx context.Context, text string) (model.Result, error)
}

type generationUC struct {
	queue   repository.PendingQueue
	results repository.ResultStore
	cfg     config.WaitConfig

	log *zerolog.Logger
}

func NewGenerationUseCase(queue repository.PendingQueue, results repository.ResultStore, cfg config.WaitConfig, logger *zerolog.Logger) *generationUC {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	return &generationUC{
		queue:   queue,
		results: results,
		cfg:     cfg,
		log:     logging.Component(logger, "GenerationUC"),
	}
}

func (u *generationUC) Submit(ctx context.Context, text string) (string, error) {
	req := model.NewPendingRequest(text)
	if err := u.queue.Enqueue(ctx, req); err != nil {
		return "", err
	}
	u.log.Debug().
		Str("request_id", req.ID).
		Str("preview", logging.Preview(text, 40)).
		Msg("request enqueued")
	return req.ID, nil
}

func (u *generationUC) AwaitResult(ctx context.Context, id string, timeout time.Duration) (model.Result, error) {
	defer logging.TraceDuration(u.log, "GenerationUC.AwaitResult")()

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(u.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if res, ok := u.take(ctx, id); ok {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return model.Result{}, ctx.Err()
		case <-deadline.C:
			// one last look: the batch may have landed between polls
			if res, ok := u.take(ctx, id); ok {
				return res, nil
			}
			return model.Result{}, domain.ErrTimedOut
		case <-ticker.C:
		}
	}
}

func (u *generationUC) take(ctx context.Context, id string) (model.Result, bool) {
	res, err := u.results.Take(ctx, id)
	if err == nil {
		return res, true
	}
	if !errors.Is(err, domain.ErrResultNotReady) {
		u.log.Warn().Err(err).Str("request_id", id).Msg("take result")
	}
	return model.Result{}, false
}

func (u *generationUC) Generate(ctx context.Context, text string) (model.Result, error) {
	id, err := u.Submit(ctx, text)
	if err != nil {
		metrics.IncRequest(outcomeOf(err))
		return model.Result{}, err
	}

	res, err := u.AwaitResult(ctx, id, u.cfg.Timeout)
	switch {
	case err != nil:
		metrics.IncRequest(outcomeOf(err))
		u.log.Warn().Err(err).Str("request_id", id).Msg("generation not delivered")
		return model.Result{ID: id}, err
	case res.Failed():
		metrics.IncRequest(OutcomeBackendError)
	default:
		metrics.IncRequest(OutcomeOK)
	}
	return res, nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrTimedOut):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	default:
		return OutcomeError
	}
}
