package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(generationRequestsTotal, resultsSweptTotal) }

var (
	generationRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "generation_requests_total",
			Help: "Generation requests by outcome.",
		},
		[]string{"outcome"}, // ok, backend_error, timeout, canceled, error
	)

	resultsSweptTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orphan_results_swept_total",
		Help: "Published results removed unconsumed after their TTL.",
	})
)

func IncRequest(outcome string) {
	generationRequestsTotal.WithLabelValues(norm(outcome)).Inc()
}

func AddSwept(n int) {
	if n > 0 {
		resultsSweptTotal.Add(float64(n))
	}
}
