// Package eviction reclaims cache space by removing evictable downloads
// when storage usage crosses the quota's high-water mark.
//
// The evictor runs in the background and periodically asks the quota
// manager whether eviction is needed; when it is, candidates are removed
// oldest-first until usage falls to the low-water mark. Pinned and
// in-flight downloads are never touched (the quota package guarantees
// this in its candidate ranking).
package eviction

import (
	"context"
	"fmt"
	"time"

	"github.com/nselftv/mediastore/internal/logger"
	"github.com/nselftv/mediastore/pkg/download"
	"github.com/nselftv/mediastore/pkg/quota"
)

// EvictionMetrics receives eviction run events.
//
// The Prometheus implementation lives in pkg/metrics. A nil value makes the
// evictor use the built-in no-op implementation.
type EvictionMetrics interface {
	RunCompleted(evicted int, reclaimedBytes int64)
}

type noopEvictionMetrics struct{}

func (noopEvictionMetrics) RunCompleted(evicted int, reclaimedBytes int64) {}

// Evictor performs periodic cache eviction.
//
// Thread Safety: Safe for concurrent use.
type Evictor struct {
	quota     *quota.Manager
	downloads *download.Manager
	config    Config
	metrics   EvictionMetrics
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// Config contains configuration for the evictor.
type Config struct {
	// Enabled controls whether background eviction is active (default: true
	// when wired by the config factory)
	Enabled bool

	// Interval is how often to check the quota (default: 5m)
	Interval time.Duration

	// LowWaterPercent is the usage percentage eviction drives down to
	// (default: 75)
	LowWaterPercent float64

	// Metrics receives run events. Nil means no-op.
	Metrics EvictionMetrics
}

// NewEvictor creates an evictor over the given quota and download managers.
//
// The evictor is initialized but not started. Call Start() to begin
// background eviction.
//
// Parameters:
//   - quotaManager: answers usage and threshold questions
//   - downloads: registry whose items are evicted via Remove
//   - config: eviction configuration
//
// Returns:
//   - *Evictor: Initialized evictor (not started)
//   - error: Returns error if either manager is missing
func NewEvictor(quotaManager *quota.Manager, downloads *download.Manager, config Config) (*Evictor, error) {
	if quotaManager == nil {
		return nil, fmt.Errorf("quota manager is required")
	}
	if downloads == nil {
		return nil, fmt.Errorf("download manager is required")
	}

	if config.Interval == 0 {
		config.Interval = 5 * time.Minute
	}
	if config.LowWaterPercent <= 0 {
		config.LowWaterPercent = 75
	}

	metrics := config.Metrics
	if metrics == nil {
		metrics = noopEvictionMetrics{}
	}

	return &Evictor{
		quota:     quotaManager,
		downloads: downloads,
		config:    config,
		metrics:   metrics,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}, nil
}

// Start begins background eviction.
//
// This starts a goroutine that checks the quota at the configured interval
// until Stop() is called.
func (e *Evictor) Start() {
	if !e.config.Enabled {
		logger.Info("Cache eviction disabled")
		return
	}

	logger.Info("Starting evictor: interval=%s low_water=%.0f%%",
		e.config.Interval, e.config.LowWaterPercent)

	go e.worker()
}

// Stop stops the evictor and waits for it to finish.
//
// Parameters:
//   - ctx: Context for timeout (an in-progress run is abandoned if the
//     context expires)
//
// Returns:
//   - error: Returns error if context expires before shutdown completes
func (e *Evictor) Stop(ctx context.Context) error {
	if !e.config.Enabled {
		return nil
	}

	logger.Info("Stopping evictor...")

	close(e.stopCh)

	select {
	case <-e.doneCh:
		logger.Info("Evictor stopped successfully")
		return nil
	case <-ctx.Done():
		logger.Warn("Evictor shutdown timeout")
		return ctx.Err()
	}
}

// RunNow triggers an immediate eviction check.
//
// Useful for tests and manual triggers. Blocks until the run completes or
// the context is cancelled.
func (e *Evictor) RunNow(ctx context.Context) (*Stats, error) {
	return e.evict(ctx)
}

// worker is the background goroutine that runs periodic eviction.
func (e *Evictor) worker() {
	defer close(e.doneCh)

	ticker := time.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			stats, err := e.evict(ctx)
			cancel()

			if err != nil {
				logger.Error("Eviction run failed: %v", err)
			} else if stats.Evicted > 0 {
				logger.Info("Eviction run completed: %s", stats.Summary())
			}

		case <-e.stopCh:
			return
		}
	}
}

// evict performs a single eviction run.
//
//  1. Ask the quota manager whether usage crossed the high-water mark
//  2. Rank evictable downloads (oldest first, pinned/in-flight excluded)
//  3. Remove candidates until estimated usage reaches the low-water mark
func (e *Evictor) evict(ctx context.Context) (*Stats, error) {
	stats := &Stats{StartTime: time.Now()}

	needed, err := e.quota.NeedsEviction(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to check eviction threshold: %w", err)
	}
	if !needed {
		stats.EndTime = time.Now()
		return stats, nil
	}

	snapshot, err := e.quota.Snapshot(ctx)
	if err != nil {
		return stats, fmt.Errorf("failed to snapshot usage: %w", err)
	}

	candidates := quota.EvictionCandidates(e.downloads.GetAll())
	stats.Candidates = len(candidates)

	// Usage is tracked as an estimate: the prober may lag behind deletes,
	// so each removal is assumed to reclaim the item's full size.
	target := int64(float64(snapshot.Quota) * e.config.LowWaterPercent / 100)
	usage := snapshot.Usage

	for _, item := range candidates {
		if usage <= target {
			break
		}
		if err := ctx.Err(); err != nil {
			stats.EndTime = time.Now()
			return stats, err
		}

		if err := e.downloads.Remove(ctx, item.ID); err != nil {
			logger.Warn("Eviction: failed to remove %s: %v", item.ID, err)
			stats.Failed++
			continue
		}

		usage -= item.TotalBytes
		stats.Evicted++
		stats.ReclaimedBytes += item.TotalBytes

		logger.Debug("Eviction: removed %s, reclaimed %d bytes", item.ID, item.TotalBytes)
	}

	stats.EndTime = time.Now()
	e.metrics.RunCompleted(stats.Evicted, stats.ReclaimedBytes)

	return stats, nil
}

// Stats contains statistics from one eviction run.
type Stats struct {
	StartTime      time.Time
	EndTime        time.Time
	Candidates     int   // Evictable items found
	Evicted        int   // Items removed
	Failed         int   // Items that failed to remove
	ReclaimedBytes int64 // Estimated bytes reclaimed
}

// Duration returns the total run duration.
func (s *Stats) Duration() time.Duration {
	if s.EndTime.IsZero() {
		return time.Since(s.StartTime)
	}
	return s.EndTime.Sub(s.StartTime)
}

// Summary returns a human-readable summary of the run.
func (s *Stats) Summary() string {
	return fmt.Sprintf("candidates=%d evicted=%d failed=%d reclaimed=%d duration=%s",
		s.Candidates, s.Evicted, s.Failed, s.ReclaimedBytes, s.Duration())
}
