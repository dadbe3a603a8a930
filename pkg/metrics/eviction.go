package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nselftv/mediastore/pkg/eviction"
)

// evictionMetrics is the Prometheus implementation of the
// eviction.EvictionMetrics interface.
type evictionMetrics struct {
	runs      prometheus.Counter
	evicted   prometheus.Counter
	reclaimed prometheus.Counter
}

// NewEvictionMetrics creates a new Prometheus-backed EvictionMetrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the evictor to use its built-in no-op implementation.
func NewEvictionMetrics() eviction.EvictionMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &evictionMetrics{
		runs: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_eviction_runs_total",
				Help: "Total number of eviction runs",
			},
		),
		evicted: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_eviction_items_total",
				Help: "Total number of downloads removed by eviction",
			},
		),
		reclaimed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_eviction_reclaimed_bytes_total",
				Help: "Estimated bytes reclaimed by eviction",
			},
		),
	}
}

// RunCompleted implements eviction.EvictionMetrics.RunCompleted
func (m *evictionMetrics) RunCompleted(evicted int, reclaimedBytes int64) {
	m.runs.Inc()
	m.evicted.Add(float64(evicted))
	m.reclaimed.Add(float64(reclaimedBytes))
}
