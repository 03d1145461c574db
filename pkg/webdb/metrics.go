package webdb

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jimpick/webdb/internal/indexer"
)

// RegisterMetrics registers the engine's metrics with reg. Call at most
// once per registry.
func RegisterMetrics(reg prometheus.Registerer) {
	indexer.RegisterMetrics(reg)
}
