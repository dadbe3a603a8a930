package download_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nselftv/mediastore/pkg/download"
	downloadmemory "github.com/nselftv/mediastore/pkg/download/memory"
	"github.com/nselftv/mediastore/pkg/quota"
	"github.com/nselftv/mediastore/pkg/storage"
	storagememory "github.com/nselftv/mediastore/pkg/storage/memory"
)

// newTestManager returns a manager over in-memory store and cache.
func newTestManager(t *testing.T, opts download.Options) (*download.Manager, *downloadmemory.Store, *storagememory.Backend) {
	t.Helper()

	store := downloadmemory.New()
	cache := storagememory.New()

	m, err := download.NewManager(context.Background(), store, cache, opts)
	require.NoError(t, err)

	return m, store, cache
}

// waitStatus polls until the item reaches the wanted status.
func waitStatus(t *testing.T, m *download.Manager, id string, want download.Status) *download.Item {
	t.Helper()

	var item *download.Item
	require.Eventually(t, func() bool {
		got, err := m.Get(id)
		if err != nil {
			return false
		}
		item = got
		return got.Status == want
	}, 5*time.Second, 5*time.Millisecond, "item %s should reach status %s", id, want)

	return item
}

// blockingFetcher parks Fetch until released, or until the transfer context
// is cancelled.
type blockingFetcher struct {
	release chan struct{}
	body    string
}

func (f *blockingFetcher) Fetch(ctx context.Context, url string) (*download.FetchResult, error) {
	select {
	case <-f.release:
		return &download.FetchResult{
			Body:        io.NopCloser(strings.NewReader(f.body)),
			Size:        int64(len(f.body)),
			ContentType: "video/mp4",
		}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// flakyFetcher fails its first fetch partway through the body, then serves
// the full body on later fetches.
type flakyFetcher struct {
	body  string
	calls atomic.Int32
}

func (f *flakyFetcher) Fetch(ctx context.Context, url string) (*download.FetchResult, error) {
	if f.calls.Add(1) == 1 {
		return &download.FetchResult{
			Body: io.NopCloser(io.MultiReader(
				strings.NewReader(f.body[:3]),
				&failingReader{},
			)),
			Size: int64(len(f.body)),
		}, nil
	}
	return &download.FetchResult{
		Body: io.NopCloser(strings.NewReader(f.body)),
		Size: int64(len(f.body)),
	}, nil
}

type failingReader struct{}

func (*failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("connection reset")
}

func TestManager_AddCompletesTransfer(t *testing.T) {
	body := "movie bytes movie bytes"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	m, store, cache := newTestManager(t, download.Options{})

	id, err := m.Add(context.Background(), "content-1", "Movie", server.URL)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "dl-"), "ids should carry the dl- prefix")

	item := waitStatus(t, m, id, download.StatusCompleted)
	assert.Equal(t, "content-1", item.ContentID)
	assert.Equal(t, int64(len(body)), item.TotalBytes)
	assert.Equal(t, int64(len(body)), item.BytesDownloaded)
	assert.Equal(t, float64(100), item.Progress, "completed downloads report 100 percent")
	assert.Equal(t, "video/mp4", item.ContentType)
	assert.False(t, item.CompletedAt.IsZero())
	assert.Empty(t, item.Error)

	// Bytes landed in the cache under the item's key.
	keys, err := cache.List(context.Background(), "downloads/")
	require.NoError(t, err)
	assert.Equal(t, []string{"downloads/" + id}, keys)

	// Terminal state is persisted.
	persisted, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, download.StatusCompleted, persisted.Status)
}

func TestManager_AddDistinctIDs(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "x"}
	m, _, _ := newTestManager(t, download.Options{Fetcher: f})
	defer close(f.release)

	a, err := m.Add(context.Background(), "c", "a", "http://src/a")
	require.NoError(t, err)
	b, err := m.Add(context.Background(), "c", "b", "http://src/b")
	require.NoError(t, err)

	assert.NotEqual(t, a, b, "every Add should mint a fresh id")
}

func TestManager_AddWithPinned(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "x"}
	m, _, _ := newTestManager(t, download.Options{Fetcher: f})
	defer close(f.release)

	id, err := m.Add(context.Background(), "c", "t", "http://src", download.WithPinned())
	require.NoError(t, err)

	item, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, item.Pinned)
}

func TestManager_AddEmptyURL(t *testing.T) {
	m, _, _ := newTestManager(t, download.Options{})

	_, err := m.Add(context.Background(), "c", "t", "")
	require.Error(t, err)
}

func TestManager_UnknownID(t *testing.T) {
	m, _, _ := newTestManager(t, download.Options{})
	ctx := context.Background()

	_, err := m.Get("dl-nope")
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	assert.True(t, errors.Is(m.Pause(ctx, "dl-nope"), storage.ErrNotFound))
	assert.True(t, errors.Is(m.Resume(ctx, "dl-nope"), storage.ErrNotFound))
	assert.True(t, errors.Is(m.Remove(ctx, "dl-nope"), storage.ErrNotFound))
	assert.True(t, errors.Is(m.SetPin(ctx, "dl-nope", true), storage.ErrNotFound))
	assert.True(t, errors.Is(m.OnProgress("dl-nope", func(download.Item) {}), storage.ErrNotFound))
	assert.True(t, errors.Is(m.OffProgress("dl-nope"), storage.ErrNotFound))
}

func TestManager_ProgressCallbacks(t *testing.T) {
	body := strings.Repeat("chunk", 100)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	m, _, _ := newTestManager(t, download.Options{})

	var mu sync.Mutex
	var snapshots []download.Item

	id, err := m.Add(context.Background(), "c", "t", server.URL)
	require.NoError(t, err)
	require.NoError(t, m.OnProgress(id, func(item download.Item) {
		mu.Lock()
		snapshots = append(snapshots, item)
		mu.Unlock()
	}))

	waitStatus(t, m, id, download.StatusCompleted)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, snapshots, "at least the completion callback should fire")

	var last int64
	for _, s := range snapshots {
		assert.GreaterOrEqual(t, s.BytesDownloaded, last, "progress should be monotonic")
		assert.LessOrEqual(t, s.Progress, float64(100))
		last = s.BytesDownloaded
	}
	final := snapshots[len(snapshots)-1]
	assert.Equal(t, download.StatusCompleted, final.Status)
	assert.Equal(t, float64(100), final.Progress)
}

func TestManager_OffProgress(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "payload"}
	m, _, _ := newTestManager(t, download.Options{Fetcher: f})

	var fired atomic.Int32

	id, err := m.Add(context.Background(), "c", "t", "http://src")
	require.NoError(t, err)
	require.NoError(t, m.OnProgress(id, func(download.Item) { fired.Add(1) }))
	require.NoError(t, m.OffProgress(id))

	close(f.release)
	waitStatus(t, m, id, download.StatusCompleted)

	assert.Equal(t, int32(0), fired.Load(), "unregistered callback should not fire")
}

func TestManager_PauseResume(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "payload"}
	m, store, _ := newTestManager(t, download.Options{Fetcher: f})
	ctx := context.Background()

	id, err := m.Add(ctx, "c", "t", "http://src")
	require.NoError(t, err)

	// The transfer is parked in the fetcher; it has not completed.
	item, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, item.Status.Active(), "item should be queued or downloading, got %s", item.Status)

	require.NoError(t, m.Pause(ctx, id))

	item, err = m.Get(id)
	require.NoError(t, err)
	assert.Equal(t, download.StatusPaused, item.Status, "pause before any bytes moved should yield paused")

	persisted, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, download.StatusPaused, persisted.Status)

	// Pausing again is a no-op.
	require.NoError(t, m.Pause(ctx, id))

	close(f.release)
	require.NoError(t, m.Resume(ctx, id))
	item = waitStatus(t, m, id, download.StatusCompleted)
	assert.Equal(t, int64(len("payload")), item.BytesDownloaded)
}

func TestManager_PauseCompletedFails(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "x")
	}))
	defer server.Close()

	m, _, _ := newTestManager(t, download.Options{})
	ctx := context.Background()

	id, err := m.Add(ctx, "c", "t", server.URL)
	require.NoError(t, err)
	waitStatus(t, m, id, download.StatusCompleted)

	err = m.Pause(ctx, id)
	require.Error(t, err, "a completed download cannot be paused")

	err = m.Resume(ctx, id)
	require.Error(t, err, "a completed download cannot be resumed")
}

func TestManager_FailureAndResumeRestartsFromZero(t *testing.T) {
	f := &flakyFetcher{body: "0123456789"}
	m, _, cache := newTestManager(t, download.Options{Fetcher: f})
	ctx := context.Background()

	id, err := m.Add(ctx, "c", "t", "http://src")
	require.NoError(t, err)

	item := waitStatus(t, m, id, download.StatusFailed)
	assert.NotEmpty(t, item.Error, "failure reason should land on the item")

	require.NoError(t, m.Resume(ctx, id))

	// Resume clears the error and restarts the transfer from zero.
	item = waitStatus(t, m, id, download.StatusCompleted)
	assert.Empty(t, item.Error)
	assert.Equal(t, int64(10), item.BytesDownloaded, "restart should count bytes from zero")

	reader, err := cache.Get(ctx, "downloads/"+id)
	require.NoError(t, err)
	data, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, "0123456789", string(data))
}

func TestManager_AddQuotaDenied(t *testing.T) {
	body := "0123456789"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	// 95 of 100 bytes used; the 10-byte transfer does not fit.
	q, err := quota.New(&quota.FixedProber{Bytes: 95}, 100, quota.Options{})
	require.NoError(t, err)

	m, _, cache := newTestManager(t, download.Options{Space: q})
	ctx := context.Background()

	id, err := m.Add(ctx, "c", "t", server.URL)
	require.NoError(t, err, "admission failures land on the item, not on Add")

	item := waitStatus(t, m, id, download.StatusFailed)
	assert.Contains(t, item.Error, storage.ErrQuotaExceeded.Error())
	assert.Equal(t, int64(0), item.BytesDownloaded, "denied transfers move no bytes")

	exists, err := cache.Exists(ctx, "downloads/"+id)
	require.NoError(t, err)
	assert.False(t, exists, "nothing should land in the cache")
}

func TestManager_AddQuotaAdmitted(t *testing.T) {
	body := "0123456789"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, body)
	}))
	defer server.Close()

	q, err := quota.New(&quota.FixedProber{Bytes: 50}, 100, quota.Options{})
	require.NoError(t, err)

	m, _, _ := newTestManager(t, download.Options{Space: q})

	id, err := m.Add(context.Background(), "c", "t", server.URL)
	require.NoError(t, err)

	item := waitStatus(t, m, id, download.StatusCompleted)
	assert.Equal(t, int64(len(body)), item.BytesDownloaded)
}

func TestManager_Remove(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "doomed")
	}))
	defer server.Close()

	m, store, cache := newTestManager(t, download.Options{})
	ctx := context.Background()

	id, err := m.Add(ctx, "c", "t", server.URL)
	require.NoError(t, err)
	waitStatus(t, m, id, download.StatusCompleted)

	require.NoError(t, m.Remove(ctx, id))

	_, err = m.Get(id)
	assert.True(t, errors.Is(err, storage.ErrNotFound))

	_, err = store.Get(ctx, id)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "record should be deleted")

	assert.Equal(t, 0, cache.Len(), "cached bytes should be deleted")
}

func TestManager_RemoveWhileDownloading(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "x"}
	m, store, _ := newTestManager(t, download.Options{Fetcher: f})
	ctx := context.Background()
	defer close(f.release)

	id, err := m.Add(ctx, "c", "t", "http://src")
	require.NoError(t, err)

	require.NoError(t, m.Remove(ctx, id))

	_, err = m.Get(id)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	_, err = store.Get(ctx, id)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestManager_SetPin(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "x"}
	m, store, _ := newTestManager(t, download.Options{Fetcher: f})
	ctx := context.Background()
	defer close(f.release)

	id, err := m.Add(ctx, "c", "t", "http://src")
	require.NoError(t, err)

	require.NoError(t, m.SetPin(ctx, id, true))
	item, err := m.Get(id)
	require.NoError(t, err)
	assert.True(t, item.Pinned)

	persisted, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, persisted.Pinned)

	require.NoError(t, m.SetPin(ctx, id, false))
	item, err = m.Get(id)
	require.NoError(t, err)
	assert.False(t, item.Pinned)
}

func TestManager_CrashRecovery(t *testing.T) {
	store := downloadmemory.New()
	ctx := context.Background()

	// A previous process left items in every state.
	seed := []*download.Item{
		{ID: "dl-a", Status: download.StatusDownloading, BytesDownloaded: 10},
		{ID: "dl-b", Status: download.StatusQueued},
		{ID: "dl-c", Status: download.StatusCompleted},
		{ID: "dl-d", Status: download.StatusPaused},
		{ID: "dl-e", Status: download.StatusFailed, Error: "boom"},
	}
	for _, item := range seed {
		require.NoError(t, store.Save(ctx, item))
	}

	m, err := download.NewManager(ctx, store, storagememory.New(), download.Options{})
	require.NoError(t, err)

	wantStatus := map[string]download.Status{
		"dl-a": download.StatusPaused,
		"dl-b": download.StatusPaused,
		"dl-c": download.StatusCompleted,
		"dl-d": download.StatusPaused,
		"dl-e": download.StatusFailed,
	}

	for id, want := range wantStatus {
		item, err := m.Get(id)
		require.NoError(t, err)
		assert.Equal(t, want, item.Status, "item %s", id)

		persisted, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, persisted.Status, "demotion of %s should be persisted", id)
	}

	// Partial progress survives the demotion.
	item, err := m.Get("dl-a")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.BytesDownloaded)
}

func TestManager_Close(t *testing.T) {
	f := &blockingFetcher{release: make(chan struct{}), body: "x"}
	m, store, _ := newTestManager(t, download.Options{Fetcher: f})
	ctx := context.Background()
	defer close(f.release)

	id, err := m.Add(ctx, "c", "t", "http://src")
	require.NoError(t, err)

	require.NoError(t, m.Close(ctx))

	persisted, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, download.StatusPaused, persisted.Status, "in-flight items should persist as paused on shutdown")
}
