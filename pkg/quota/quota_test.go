package quota

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nselftv/mediastore/pkg/download"
	"github.com/nselftv/mediastore/pkg/storage"
)

func TestNew(t *testing.T) {
	_, err := New(nil, 100, Options{})
	require.Error(t, err)

	_, err = New(&FixedProber{}, -1, Options{})
	require.Error(t, err)

	m, err := New(&FixedProber{}, 100, Options{})
	require.NoError(t, err)
	require.NotNil(t, m)
}

func TestManager_Snapshot(t *testing.T) {
	prober := &FixedProber{Bytes: 250}
	m, err := New(prober, 1000, Options{})
	require.NoError(t, err)

	snapshot, err := m.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(250), snapshot.Usage)
	assert.Equal(t, int64(1000), snapshot.Quota)
	assert.InDelta(t, 25.0, snapshot.Percentage, 0.001)
}

func TestManager_SnapshotProberFailure(t *testing.T) {
	prober := &FixedProber{Err: errors.New("device gone")}
	m, err := New(prober, 1000, Options{})
	require.NoError(t, err)

	_, err = m.Snapshot(context.Background())
	require.Error(t, err)
}

func TestManager_HasSpace(t *testing.T) {
	prober := &FixedProber{Bytes: 900}
	m, err := New(prober, 1000, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := m.HasSpace(ctx, 100)
	require.NoError(t, err)
	assert.True(t, ok, "exactly filling the quota should fit")

	ok, err = m.HasSpace(ctx, 101)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestManager_HasSpaceUnlimited(t *testing.T) {
	m, err := New(&FixedProber{Bytes: 1 << 40}, 0, Options{})
	require.NoError(t, err)

	ok, err := m.HasSpace(context.Background(), 1<<40)
	require.NoError(t, err)
	assert.True(t, ok, "zero quota means unlimited")
}

func TestManager_EnsureSpace(t *testing.T) {
	m, err := New(&FixedProber{Bytes: 900}, 1000, Options{})
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.EnsureSpace(ctx, 100))

	err = m.EnsureSpace(ctx, 101)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrQuotaExceeded))
}

func TestManager_EnsureSpaceUnlimited(t *testing.T) {
	m, err := New(&FixedProber{Bytes: 1 << 40}, 0, Options{})
	require.NoError(t, err)

	require.NoError(t, m.EnsureSpace(context.Background(), 1<<40))
}

func TestManager_NeedsEviction(t *testing.T) {
	// The threshold is a percentage, independent of absolute sizes.
	tests := []struct {
		name  string
		usage int64
		quota int64
		want  bool
	}{
		{"well below", 100, 1000, false},
		{"at the mark", 900, 1000, false},
		{"just above", 901, 1000, true},
		{"small quota above", 10, 11, true},
		{"large quota below", 8 << 30, 10 << 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := New(&FixedProber{Bytes: tt.usage}, tt.quota, Options{})
			require.NoError(t, err)

			got, err := m.NeedsEviction(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestManager_NeedsEvictionCustomThreshold(t *testing.T) {
	m, err := New(&FixedProber{Bytes: 600}, 1000, Options{HighWaterPercent: 50})
	require.NoError(t, err)

	got, err := m.NeedsEviction(context.Background())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestEvictionCandidates_Filtering(t *testing.T) {
	items := []*download.Item{
		{ID: "pinned", Status: download.StatusCompleted, Pinned: true},
		{ID: "queued", Status: download.StatusQueued},
		{ID: "downloading", Status: download.StatusDownloading},
		{ID: "completed", Status: download.StatusCompleted},
		{ID: "paused", Status: download.StatusPaused},
		{ID: "failed", Status: download.StatusFailed},
	}

	candidates := EvictionCandidates(items)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	assert.ElementsMatch(t, []string{"completed", "paused", "failed"}, ids,
		"pinned and in-flight items must never be candidates")
}

func TestEvictionCandidates_Ranking(t *testing.T) {
	base := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)

	items := []*download.Item{
		{ID: "new", Status: download.StatusCompleted, CompletedAt: base.Add(48 * time.Hour), TotalBytes: 10},
		{ID: "old-small", Status: download.StatusCompleted, CompletedAt: base, TotalBytes: 10},
		{ID: "old-big", Status: download.StatusCompleted, CompletedAt: base, TotalBytes: 100},
		{ID: "mid", Status: download.StatusCompleted, CompletedAt: base.Add(24 * time.Hour), TotalBytes: 50},
	}

	candidates := EvictionCandidates(items)

	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"old-big", "old-small", "mid", "new"}, ids,
		"oldest first, size breaking ties toward larger items")
}

func TestEvictionCandidates_DoesNotMutateInput(t *testing.T) {
	items := []*download.Item{
		{ID: "b", Status: download.StatusCompleted, CompletedAt: time.Unix(200, 0)},
		{ID: "a", Status: download.StatusCompleted, CompletedAt: time.Unix(100, 0)},
	}

	_ = EvictionCandidates(items)

	assert.Equal(t, "b", items[0].ID, "input order must be preserved")
	assert.Equal(t, "a", items[1].ID)
}

func TestDeviceProber(t *testing.T) {
	p := &DeviceProber{Path: t.TempDir()}

	used, err := p.Usage(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, used, int64(0))
}
