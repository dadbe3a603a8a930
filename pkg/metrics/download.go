package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/nselftv/mediastore/pkg/download"
)

// transferMetrics is the Prometheus implementation of the
// download.TransferMetrics interface.
type transferMetrics struct {
	started   prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	bytes     prometheus.Counter
	duration  prometheus.Histogram
}

// NewTransferMetrics creates a new Prometheus-backed TransferMetrics
// instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called), which
// causes the download manager to use its built-in no-op implementation.
func NewTransferMetrics() download.TransferMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &transferMetrics{
		started: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_downloads_started_total",
				Help: "Total number of download transfers started",
			},
		),
		completed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_downloads_completed_total",
				Help: "Total number of download transfers completed",
			},
		),
		failed: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_downloads_failed_total",
				Help: "Total number of download transfers that failed",
			},
		),
		bytes: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "mediastore_downloads_bytes_total",
				Help: "Total bytes downloaded into the cache",
			},
		),
		duration: promauto.With(reg).NewHistogram(
			prometheus.HistogramOpts{
				Name: "mediastore_downloads_duration_seconds",
				Help: "Duration of completed download transfers in seconds",
				Buckets: []float64{
					0.1, // 100ms
					0.5, // 500ms
					1,
					5,
					10,
					30,
					60,
					300,  // 5m
					1800, // 30m
				},
			},
		),
	}
}

// DownloadStarted implements download.TransferMetrics.DownloadStarted
func (m *transferMetrics) DownloadStarted() {
	m.started.Inc()
}

// DownloadCompleted implements download.TransferMetrics.DownloadCompleted
func (m *transferMetrics) DownloadCompleted(bytes int64, duration time.Duration) {
	m.completed.Inc()
	m.bytes.Add(float64(bytes))
	m.duration.Observe(duration.Seconds())
}

// DownloadFailed implements download.TransferMetrics.DownloadFailed
func (m *transferMetrics) DownloadFailed() {
	m.failed.Inc()
}
