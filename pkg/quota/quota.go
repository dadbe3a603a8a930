// Package quota tracks cache storage consumption against a configured
// limit and ranks download items for eviction. The package never deletes
// anything itself; callers act on its answers.
package quota

import (
	"context"
	"fmt"
	"sort"

	"github.com/nselftv/mediastore/pkg/download"
	"github.com/nselftv/mediastore/pkg/storage"
)

// DefaultHighWaterPercent is the usage percentage above which eviction is
// recommended.
const DefaultHighWaterPercent = 90.0

// Snapshot is a point-in-time view of storage consumption. Computed on
// demand, never persisted.
type Snapshot struct {
	// Usage is the consumed bytes reported by the prober.
	Usage int64

	// Quota is the configured limit in bytes. 0 means unlimited.
	Quota int64

	// Percentage is Usage/Quota in percent. 0 when Quota is unlimited.
	Percentage float64
}

// Manager answers space questions for one cache location.
type Manager struct {
	prober    UsageProber
	quota     int64
	highWater float64
}

// Options configures a Manager.
type Options struct {
	// HighWaterPercent overrides the eviction threshold
	// (default: DefaultHighWaterPercent).
	HighWaterPercent float64
}

// New creates a quota manager.
//
// Parameters:
//   - prober: source of usage numbers (device Statfs in production, fixed
//     values in tests)
//   - quotaBytes: the configured limit; 0 means unlimited
//   - opts: tuning knobs; the zero value is usable
//
// Returns:
//   - *Manager: Initialized manager
//   - error: Returns error if the prober is missing or the quota is negative
func New(prober UsageProber, quotaBytes int64, opts Options) (*Manager, error) {
	if prober == nil {
		return nil, fmt.Errorf("usage prober is required")
	}
	if quotaBytes < 0 {
		return nil, fmt.Errorf("quota must not be negative, got %d", quotaBytes)
	}

	highWater := opts.HighWaterPercent
	if highWater <= 0 {
		highWater = DefaultHighWaterPercent
	}

	return &Manager{
		prober:    prober,
		quota:     quotaBytes,
		highWater: highWater,
	}, nil
}

// Snapshot returns current usage against the quota.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	usage, err := m.prober.Usage(ctx)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to probe storage usage: %w", err)
	}

	snapshot := Snapshot{Usage: usage, Quota: m.quota}
	if m.quota > 0 {
		snapshot.Percentage = float64(usage) / float64(m.quota) * 100
	}

	return snapshot, nil
}

// HasSpace reports whether n more bytes fit under the quota. Always true
// when the quota is unlimited.
func (m *Manager) HasSpace(ctx context.Context, n int64) (bool, error) {
	if m.quota == 0 {
		return true, nil
	}

	snapshot, err := m.Snapshot(ctx)
	if err != nil {
		return false, err
	}

	return snapshot.Usage+n <= m.quota, nil
}

// EnsureSpace is the admission form of HasSpace: nil when n more bytes fit
// under the quota, storage.ErrQuotaExceeded (wrapped) when they do not.
// The download manager calls this before moving a transfer's bytes.
func (m *Manager) EnsureSpace(ctx context.Context, n int64) error {
	ok, err := m.HasSpace(ctx, n)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("cannot admit %d bytes: %w", n, storage.ErrQuotaExceeded)
	}

	return nil
}

// NeedsEviction reports whether usage has crossed the high-water mark.
func (m *Manager) NeedsEviction(ctx context.Context) (bool, error) {
	if m.quota == 0 {
		return false, nil
	}

	snapshot, err := m.Snapshot(ctx)
	if err != nil {
		return false, err
	}

	return snapshot.Percentage > m.highWater, nil
}

// EvictionCandidates filters and ranks items for eviction. Pinned items and
// items with a pending or running transfer are never candidates. Candidates
// are ordered oldest CompletedAt first; ties break toward the larger item,
// so equal-age evictions reclaim the most space soonest.
//
// Pure function over the given items: nothing is deleted and the input
// slice is not modified.
func EvictionCandidates(items []*download.Item) []*download.Item {
	candidates := make([]*download.Item, 0, len(items))
	for _, item := range items {
		if item.Pinned || item.Status.Active() {
			continue
		}
		candidates = append(candidates, item)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if !a.CompletedAt.Equal(b.CompletedAt) {
			return a.CompletedAt.Before(b.CompletedAt)
		}
		return a.TotalBytes > b.TotalBytes
	})

	return candidates
}
