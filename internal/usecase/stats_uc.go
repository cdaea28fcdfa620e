package usecase

import (
	"context"

	"batched-inference/internal/config"
	"batched-inference/internal/domain/model"
	"batched-inference/internal/domain/ports/repository"

	"github.com/rs/zerolog"
)

// Compile-time check
var _ StatsUseCase = (*statsUC)(nil)

type StatsUseCase interface {
	Snapshot(ctx context.Context) (model.ServiceStats, error)
}

// SchedulerStatsSource is satisfied by the batch scheduler.
type SchedulerStatsSource interface {
	Stats() model.SchedulerStats
}

type statsUC struct {
	queue     repository.PendingQueue
	results   repository.ResultStore
	scheduler SchedulerStatsSource
	modelName string
	batch     config.BatchConfig

	log *zerolog.Logger
}

func NewStatsUseCase(queue repository.PendingQueue, results repository.ResultStore, scheduler SchedulerStatsSource, modelName string, batch config.BatchConfig, logger *zerolog.Logger) *statsUC {
	return &statsUC{queue: queue, results: results, scheduler: scheduler, modelName: modelName, batch: batch, log: logger}
}

func (s *statsUC) Snapshot(ctx context.Context) (model.ServiceStats, error) {
	depth, err := s.queue.Len(ctx)
	if err != nil {
		return model.ServiceStats{}, err
	}
	stored, err := s.results.Len(ctx)
	if err != nil {
		return model.ServiceStats{}, err
	}
	out := model.ServiceStats{
		Model:         s.modelName,
		QueueDepth:    depth,
		StoredResults: stored,
		MaxBatchSize:  s.batch.MaxSize,
		BatchInterval: s.batch.Interval.String(),
	}
	if s.scheduler != nil {
		out.Scheduler = s.scheduler.Stats()
	}
	return out, nil
}
