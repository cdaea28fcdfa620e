package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		meanTimePerToken,
		batchesProcessedTotal,
		batchSize,
		backendCallSeconds,
		generatedTokensTotal,
		queueDepth,
	)
}

var (
	// Reset to 0 whenever the scheduler finds the queue empty.
	meanTimePerToken = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "mean_time_per_token",
		Help: "mean time per token of inference",
	})

	batchesProcessedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batches_processed_total",
			Help: "Batches sent to the inference backend, labeled by status.",
		},
		[]string{"status"}, // 'succeeded', 'failed'
	)

	batchSize = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "batch_size",
		Help:    "Number of requests per backend invocation.",
		Buckets: []float64{1, 2, 4, 8, 16, 32, 50, 64, 128},
	})

	backendCallSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backend_call_seconds",
			Help:    "Wall-clock duration of one batched backend call.",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model", "success"},
	)

	generatedTokensTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generated_tokens_total",
			Help: "Sum of generated tokens per model.",
		},
		[]string{"model"},
	)

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "pending_queue_depth",
		Help: "Requests waiting to be batched, sampled once per scheduler cycle.",
	})
)

func SetMeanTimePerToken(seconds float64) { meanTimePerToken.Set(seconds) }

func ObserveBatch(model string, size int, seconds float64, tokens int, success bool) {
	status, ok := "failed", "false"
	if success {
		status, ok = "succeeded", "true"
	}
	batchesProcessedTotal.WithLabelValues(status).Inc()
	batchSize.Observe(float64(size))
	backendCallSeconds.WithLabelValues(norm(model), ok).Observe(seconds)
	if tokens > 0 {
		generatedTokensTotal.WithLabelValues(norm(model)).Add(float64(tokens))
	}
}

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }
