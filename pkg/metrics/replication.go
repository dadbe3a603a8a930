package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nselftv/mediastore/pkg/storage/gateway"
)

// replicationMetrics is the Prometheus implementation of the
// gateway.ReplicationMetrics interface.
//
// Dropped jobs get their own counter: a growing drop count means the remote
// tier is falling behind or unreachable and the local tier is the only copy
// of recent writes.
type replicationMetrics struct {
	enqueued   prometheus.Counter
	replicated prometheus.Counter
	retried    prometheus.Counter
	dropped    prometheus.Counter
	bytes      prometheus.Counter
	duration   prometheus.Histogram
}

// NewReplicationMetrics creates a new Prometheus-backed ReplicationMetrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the replication queue to use its built-in no-op implementation.
func NewReplicationMetrics() gateway.ReplicationMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &replicationMetrics{
		enqueued: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_replication_jobs_enqueued_total",
				Help: "Total number of replication jobs enqueued",
			},
		),
		replicated: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_replication_jobs_replicated_total",
				Help: "Total number of replication jobs completed successfully",
			},
		),
		retried: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_replication_attempts_failed_total",
				Help: "Total number of failed remote write attempts",
			},
		),
		dropped: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_replication_jobs_dropped_total",
				Help: "Total number of replication jobs dropped after exhausting retries",
			},
		),
		bytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_replication_bytes_total",
				Help: "Total bytes replicated to the remote tier",
			},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "mediastore_replication_duration_seconds",
				Help: "Duration of successful replication jobs in seconds",
				Buckets: []float64{
					0.01, // 10ms
					0.05, // 50ms
					0.1,  // 100ms
					0.5,  // 500ms
					1,
					5,
					10,
					30,
					60,
				},
			},
		),
	}
}

// JobEnqueued implements gateway.ReplicationMetrics.JobEnqueued
func (m *replicationMetrics) JobEnqueued() {
	m.enqueued.Inc()
}

// JobReplicated implements gateway.ReplicationMetrics.JobReplicated
func (m *replicationMetrics) JobReplicated(bytes int64, duration time.Duration) {
	m.replicated.Inc()
	m.bytes.Add(float64(bytes))
	m.duration.Observe(duration.Seconds())
}

// JobRetried implements gateway.ReplicationMetrics.JobRetried
func (m *replicationMetrics) JobRetried() {
	m.retried.Inc()
}

// JobDropped implements gateway.ReplicationMetrics.JobDropped
func (m *replicationMetrics) JobDropped() {
	m.dropped.Inc()
}
