package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(buildInfo)
}

var buildInfo = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "build_info",
		Help: "A constant metric with labels for version, commit and served model.",
	},
	[]string{"version", "commit", "model"},
)

func SetBuildInfo(version, commit, model string) {
	buildInfo.WithLabelValues(version, commit, model).Set(1)
}
