// Package download tracks offline downloads: a persistent registry of items,
// one transfer goroutine per active item, pause/resume/remove controls,
// pinning, and per-chunk progress callbacks.
//
// Bytes land in a blob cache (any storage.Backend); item records persist in
// a Store so the registry survives restarts. Items that were in flight when
// the process died come back as paused.
package download

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nselftv/mediastore/internal/logger"
	"github.com/nselftv/mediastore/pkg/storage"
)

// TransferMetrics receives download lifecycle events.
//
// The Prometheus implementation lives in pkg/metrics. A nil value makes the
// manager use the built-in no-op implementation.
type TransferMetrics interface {
	DownloadStarted()
	DownloadCompleted(bytes int64, duration time.Duration)
	DownloadFailed()
}

type noopTransferMetrics struct{}

func (noopTransferMetrics) DownloadStarted()                               {}
func (noopTransferMetrics) DownloadCompleted(bytes int64, d time.Duration) {}
func (noopTransferMetrics) DownloadFailed()                                {}

// SpaceChecker admits a transfer's bytes against the storage quota before
// they start landing in the cache. Implemented by quota.Manager; a nil
// value disables admission checks.
type SpaceChecker interface {
	EnsureSpace(ctx context.Context, n int64) error
}

// ProgressFunc is called with a snapshot of the item after each chunk lands
// and on terminal transitions. Called from the item's transfer goroutine,
// never with the manager lock held.
type ProgressFunc func(item Item)

// AddOption customizes a new download.
type AddOption func(*Item)

// WithPinned marks the download as pinned from the start, protecting it
// from eviction.
func WithPinned() AddOption {
	return func(item *Item) {
		item.Pinned = true
	}
}

// Options configures a Manager.
type Options struct {
	// Fetcher opens source streams. Nil means the default HTTP fetcher.
	Fetcher Fetcher

	// Metrics receives transfer events. Nil means no-op.
	Metrics TransferMetrics

	// Space admits transfers against the quota. Nil means no admission
	// check; transfers of undeclared size are admitted either way.
	Space SpaceChecker
}

// transferTask is the handle for one running transfer goroutine.
type transferTask struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager is the download registry and transfer scheduler.
//
// Thread Safety: safe for concurrent use. The registry map is guarded by a
// mutex; each item has at most one transfer goroutine, created by Add and
// Resume, cancelled and joined by Pause, Remove and Close.
type Manager struct {
	store   Store
	cache   storage.Backend
	fetcher Fetcher
	metrics TransferMetrics
	space   SpaceChecker

	mu        sync.Mutex
	items     map[string]*Item
	tasks     map[string]*transferTask
	callbacks map[string]ProgressFunc
}

// NewManager creates a manager over the given item store and blob cache and
// reloads persisted items.
//
// Crash recovery: items persisted as queued or downloading by a previous
// process are demoted to paused; the user resumes them explicitly.
//
// Parameters:
//   - ctx: Context for cancellation during the reload
//   - store: durable item records
//   - cache: backend holding downloaded bytes
//   - opts: tuning knobs; the zero value is usable
//
// Returns:
//   - *Manager: Initialized manager with the persisted registry loaded
//   - error: Returns error if the reload fails
func NewManager(ctx context.Context, store Store, cache storage.Backend, opts Options) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("item store is required")
	}
	if cache == nil {
		return nil, fmt.Errorf("blob cache is required")
	}

	fetcher := opts.Fetcher
	if fetcher == nil {
		fetcher = NewHTTPFetcher()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = noopTransferMetrics{}
	}

	m := &Manager{
		store:     store,
		cache:     cache,
		fetcher:   fetcher,
		metrics:   metrics,
		space:     opts.Space,
		items:     make(map[string]*Item),
		tasks:     make(map[string]*transferTask),
		callbacks: make(map[string]ProgressFunc),
	}

	items, err := store.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to reload download registry: %w", err)
	}

	for _, item := range items {
		if item.Status.Active() {
			item.Status = StatusPaused
			if err := store.Save(ctx, item); err != nil {
				return nil, fmt.Errorf("failed to demote interrupted download %s: %w", item.ID, err)
			}
			logger.Info("download: %s was in flight at shutdown, demoted to paused", item.ID)
		}
		m.items[item.ID] = item
	}

	return m, nil
}

// Add registers a new download and starts its transfer immediately.
// Returns the new item's id; transfer failures land on the item, never
// here.
func (m *Manager) Add(ctx context.Context, contentID, title, sourceURL string, opts ...AddOption) (string, error) {
	if sourceURL == "" {
		return "", fmt.Errorf("source URL is required")
	}

	item := &Item{
		ID:        "dl-" + uuid.NewString(),
		ContentID: contentID,
		Title:     title,
		SourceURL: sourceURL,
		Status:    StatusQueued,
		AddedAt:   time.Now(),
	}
	for _, opt := range opts {
		opt(item)
	}

	if err := m.store.Save(ctx, item); err != nil {
		return "", fmt.Errorf("failed to persist download %s: %w", item.ID, err)
	}

	m.mu.Lock()
	m.items[item.ID] = item
	m.startTaskLocked(item.ID)
	m.mu.Unlock()

	logger.Info("download: added %s (%s) from %s", item.ID, title, sourceURL)

	return item.ID, nil
}

// Get returns a copy of the item with the given id.
func (m *Manager) Get(id string) (*Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item, ok := m.items[id]
	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	return item.Clone(), nil
}

// GetAll returns copies of every tracked item, in no particular order.
func (m *Manager) GetAll() []*Item {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := make([]*Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item.Clone())
	}

	return items
}

// Pause stops the item's transfer and retains its partial state. Pausing an
// already paused item is a no-op; an item that has not started transferring
// yet becomes paused without ever moving bytes.
func (m *Manager) Pause(ctx context.Context, id string) error {
	m.mu.Lock()

	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	if item.Status == StatusPaused {
		m.mu.Unlock()
		return nil
	}
	if !item.Status.Active() {
		m.mu.Unlock()
		return fmt.Errorf("cannot pause download %s in status %s", id, item.Status)
	}

	item.Status = StatusPaused
	task := m.tasks[id]
	m.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
	}

	m.mu.Lock()
	snapshot := item.Clone()
	m.mu.Unlock()

	if err := m.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist pause of %s: %w", id, err)
	}

	logger.Info("download: paused %s at %d bytes", id, snapshot.BytesDownloaded)

	return nil
}

// Resume restarts a paused or failed item. The transfer starts over from
// zero bytes; any previous error is cleared.
func (m *Manager) Resume(ctx context.Context, id string) error {
	m.mu.Lock()

	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	if item.Status != StatusPaused && item.Status != StatusFailed {
		m.mu.Unlock()
		return fmt.Errorf("cannot resume download %s in status %s", id, item.Status)
	}

	item.Status = StatusQueued
	item.Error = ""
	item.BytesDownloaded = 0
	item.Progress = 0

	if err := m.store.Save(ctx, item); err != nil {
		m.mu.Unlock()
		return fmt.Errorf("failed to persist resume of %s: %w", id, err)
	}

	m.startTaskLocked(id)
	m.mu.Unlock()

	logger.Info("download: resumed %s", id)

	return nil
}

// Remove cancels the item's transfer if running, then deletes its record
// and its cached bytes.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()

	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	delete(m.items, id)
	delete(m.callbacks, id)
	task := m.tasks[id]
	m.mu.Unlock()

	if task != nil {
		task.cancel()
		<-task.done
	}

	if err := m.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("failed to delete download record %s: %w", id, err)
	}
	if err := m.cache.Delete(ctx, item.cacheKey()); err != nil {
		logger.Warn("download: failed to delete cached bytes for %s: %v", id, err)
	}

	logger.Info("download: removed %s", id)

	return nil
}

// SetPin toggles the item's pin, protecting it from (or exposing it to)
// eviction. No other state changes.
func (m *Manager) SetPin(ctx context.Context, id string, pinned bool) error {
	m.mu.Lock()

	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	item.Pinned = pinned
	snapshot := item.Clone()
	m.mu.Unlock()

	if err := m.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("failed to persist pin of %s: %w", id, err)
	}

	return nil
}

// OnProgress registers the item's progress callback. At most one callback
// per item; registering again replaces the previous one.
func (m *Manager) OnProgress(id string, fn ProgressFunc) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	m.callbacks[id] = fn

	return nil
}

// OffProgress removes the item's progress callback.
func (m *Manager) OffProgress(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	delete(m.callbacks, id)

	return nil
}

// Close cancels all running transfers, persists in-flight items as paused,
// and closes the item store.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	tasks := make([]*transferTask, 0, len(m.tasks))
	for _, task := range m.tasks {
		tasks = append(tasks, task)
	}
	m.mu.Unlock()

	for _, task := range tasks {
		task.cancel()
		<-task.done
	}

	m.mu.Lock()
	for _, item := range m.items {
		if item.Status.Active() {
			item.Status = StatusPaused
			if err := m.store.Save(ctx, item); err != nil {
				logger.Warn("download: failed to persist %s as paused on shutdown: %v", item.ID, err)
			}
		}
	}
	m.mu.Unlock()

	return m.store.Close()
}

// startTaskLocked spawns the item's transfer goroutine. Caller holds m.mu.
func (m *Manager) startTaskLocked(id string) {
	ctx, cancel := context.WithCancel(context.Background())
	task := &transferTask{cancel: cancel, done: make(chan struct{})}
	m.tasks[id] = task

	go m.transfer(ctx, id, task)
}

// transfer moves the item's bytes from the source into the blob cache. Runs
// in its own goroutine; exactly one per item at a time.
func (m *Manager) transfer(ctx context.Context, id string, task *transferTask) {
	defer close(task.done)
	defer func() {
		m.mu.Lock()
		if m.tasks[id] == task {
			delete(m.tasks, id)
		}
		m.mu.Unlock()
	}()

	// A pause or remove that landed before the first byte wins: the item
	// keeps the status the canceller set.
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok || item.Status != StatusQueued || ctx.Err() != nil {
		m.mu.Unlock()
		return
	}
	item.Status = StatusDownloading
	sourceURL := item.SourceURL
	cacheKey := item.cacheKey()
	m.mu.Unlock()

	m.persist(id)
	m.metrics.DownloadStarted()
	start := time.Now()

	result, err := m.fetcher.Fetch(ctx, sourceURL)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fail(id, err)
		return
	}
	defer result.Body.Close()

	m.mu.Lock()
	if item, ok := m.items[id]; ok {
		if result.Size > 0 {
			item.TotalBytes = result.Size
		}
		if result.ContentType != "" {
			item.ContentType = result.ContentType
		}
	}
	m.mu.Unlock()
	m.persist(id)

	// Declared-size transfers are admitted against the quota before the
	// first byte lands; the cache never fills past the limit silently.
	if m.space != nil && result.Size > 0 {
		if err := m.space.EnsureSpace(ctx, result.Size); err != nil {
			if ctx.Err() != nil {
				return
			}
			m.fail(id, err)
			return
		}
	}

	reader := &progressReader{
		ctx:  ctx,
		body: result.Body,
		onChunk: func(n int64) {
			m.advance(id, n)
		},
	}

	size := result.Size
	if size < 0 {
		size = 0
	}

	if err := m.cache.Put(ctx, cacheKey, reader, size, result.ContentType); err != nil {
		if ctx.Err() != nil {
			return
		}
		m.fail(id, err)
		return
	}

	m.mu.Lock()
	item, ok = m.items[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	item.Status = StatusCompleted
	item.Progress = 100
	item.CompletedAt = time.Now()
	if item.TotalBytes == 0 {
		item.TotalBytes = item.BytesDownloaded
	}
	bytes := item.BytesDownloaded
	m.mu.Unlock()

	m.persist(id)
	m.metrics.DownloadCompleted(bytes, time.Since(start))
	m.fireProgress(id)

	logger.Info("download: %s completed, %d bytes in %s", id, bytes, time.Since(start))
}

// advance records n freshly landed bytes and fires the progress callback.
func (m *Manager) advance(id string, n int64) {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	item.BytesDownloaded += n
	if item.TotalBytes > 0 {
		item.Progress = float64(item.BytesDownloaded) / float64(item.TotalBytes) * 100
		if item.Progress > 100 {
			item.Progress = 100
		}
	}
	m.mu.Unlock()

	m.fireProgress(id)
}

// fail marks the item failed with the error message, keeping partial state.
func (m *Manager) fail(id string, err error) {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	item.Status = StatusFailed
	item.Error = err.Error()
	m.mu.Unlock()

	m.persist(id)
	m.metrics.DownloadFailed()
	m.fireProgress(id)

	logger.Warn("download: %s failed: %v", id, err)
}

// persist saves the item's current state, logging (not propagating) store
// errors from background context.
func (m *Manager) persist(id string) {
	m.mu.Lock()
	item, ok := m.items[id]
	if !ok {
		m.mu.Unlock()
		return
	}
	snapshot := item.Clone()
	m.mu.Unlock()

	if err := m.store.Save(context.Background(), snapshot); err != nil {
		logger.Warn("download: failed to persist %s: %v", id, err)
	}
}

// fireProgress invokes the item's callback with a snapshot, outside the
// lock.
func (m *Manager) fireProgress(id string) {
	m.mu.Lock()
	fn := m.callbacks[id]
	item, ok := m.items[id]
	if !ok || fn == nil {
		m.mu.Unlock()
		return
	}
	snapshot := *item
	m.mu.Unlock()

	fn(snapshot)
}

// progressReader counts bytes as the cache drains the source stream,
// checking for cancellation at every chunk boundary.
type progressReader struct {
	ctx     context.Context
	body    io.Reader
	onChunk func(n int64)
}

func (r *progressReader) Read(p []byte) (int, error) {
	if err := r.ctx.Err(); err != nil {
		return 0, err
	}

	n, err := r.body.Read(p)
	if n > 0 {
		r.onChunk(int64(n))
	}

	return n, err
}
