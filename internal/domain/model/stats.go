package model

// SchedulerStats is a snapshot of batch scheduler counters.
type SchedulerStats struct {
	Batches              int64   `json:"batches"`
	FailedBatches        int64   `json:"failed_batches"`
	Processed            int64   `json:"processed"`
	LastMeanTimePerToken float64 `json:"last_mean_time_per_token"`
	LastCycleEmpty       bool    `json:"last_cycle_empty"`
}

// ServiceStats is what GET /stats reports.
type ServiceStats struct {
	Model         string         `json:"model"`
	QueueDepth    int            `json:"queue_depth"`
	StoredResults int            `json:"stored_results"`
	MaxBatchSize  int            `json:"max_batch_size"`
	BatchInterval string         `json:"batch_interval"`
	Scheduler     SchedulerStats `json:"scheduler"`
}
