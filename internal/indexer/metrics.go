package indexer

import "github.com/prometheus/client_golang/prometheus"

var IndexPassCount = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "webdb",
	Subsystem: "indexer",
	Name:      "passes",
}, []string{"result"})

var UpdatesApplied = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "webdb",
	Subsystem: "indexer",
	Name:      "updates_applied",
}, []string{"type"})

var IndexErrorCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "webdb",
	Subsystem: "indexer",
	Name:      "index_errors",
})

var RetryTickCount = prometheus.NewCounter(prometheus.CounterOpts{
	Namespace: "webdb",
	Subsystem: "indexer",
	Name:      "retry_ticks",
})

var PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
	Namespace: "webdb",
	Subsystem: "indexer",
	Name:      "pass_duration_ms",
	Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200, 500, 1000, 5000},
})

// RegisterMetrics registers the engine's collectors with reg.
func RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		IndexPassCount,
		UpdatesApplied,
		IndexErrorCount,
		RetryTickCount,
		PassDuration,
	)
}
