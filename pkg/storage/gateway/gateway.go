// Package gateway composes the local and remote storage tiers into one
// logical storage API.
//
// Write path: objects are written to the local tier synchronously (the
// caller's write is durable with respect to the local tier on return) and
// then replicated to the remote tier asynchronously by a FIFO queue.
//
// Read path: local first; on a local miss the object is fetched from the
// remote tier, the caller gets the remote stream immediately, and the bytes
// are written back into the local tier in the background (best-effort cache
// warm).
//
// Partial failure: delete and list fan out to both tiers and tolerate a
// single tier failing; a read fails only when both tiers miss or error.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/nselftv/mediastore/internal/logger"
	"github.com/nselftv/mediastore/pkg/storage"
)

// Gateway is the tiered storage gateway. It implements storage.Backend
// itself, so callers see one backend with local-tier latency and remote-tier
// durability.
//
// Thread Safety: safe for concurrent use. Concurrent puts to the same key
// are last-write-wins; FIFO replication preserves that order on the remote
// tier.
type Gateway struct {
	local  storage.Backend
	remote storage.Backend
	queue  *replicationQueue
}

// Options configures gateway behavior.
type Options struct {
	// ReplicationRetries is the number of additional attempts after the
	// first failed remote write before a job is dropped (default: 3).
	ReplicationRetries uint64

	// ReplicationBaseDelay is the initial backoff delay between attempts
	// (default: 100ms, doubling per attempt).
	ReplicationBaseDelay time.Duration

	// Metrics receives replication events. Nil means no-op.
	Metrics ReplicationMetrics
}

// New creates a gateway over the given tiers.
//
// Parameters:
//   - local: fast tier, authoritative for fresh writes
//   - remote: durable tier, replication target and read fallback
//   - opts: tuning knobs; the zero value is usable
//
// Returns:
//   - *Gateway: Initialized gateway
//   - error: Returns error if either tier is missing
func New(local, remote storage.Backend, opts Options) (*Gateway, error) {
	if local == nil {
		return nil, fmt.Errorf("local backend is required")
	}
	if remote == nil {
		return nil, fmt.Errorf("remote backend is required")
	}

	retries := opts.ReplicationRetries
	if retries == 0 {
		retries = 3
	}

	return &Gateway{
		local:  local,
		remote: remote,
		queue:  newReplicationQueue(local, remote, retries, opts.ReplicationBaseDelay, opts.Metrics),
	}, nil
}

// Put writes the object to the local tier and enqueues replication to the
// remote tier. Never blocks on remote availability.
func (g *Gateway) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	if err := g.local.Put(ctx, key, data, size, contentType); err != nil {
		return fmt.Errorf("failed to write to local tier: %w", err)
	}

	g.queue.enqueue(replicationJob{key: key, size: size, contentType: contentType})

	return nil
}

// Get returns a reader for the object, serving from the local tier when
// present and falling back to the remote tier otherwise. A remote-fallback
// hit warms the local tier in the background; the caller's stream is the
// original remote stream and is never delayed by the warm.
func (g *Gateway) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	reader, err := g.local.Get(ctx, key)
	if err == nil {
		return reader, nil
	}

	reader, remoteErr := g.remote.Get(ctx, key)
	if remoteErr != nil {
		if errors.Is(remoteErr, storage.ErrNotFound) && errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get %s from both tiers (local: %v): %w", key, err, remoteErr)
	}

	go g.warmLocal(key)

	return reader, nil
}

// warmLocal copies a remote object into the local tier after a fallback
// read. Best-effort: failures are logged, never surfaced to the reader that
// triggered the warm.
func (g *Gateway) warmLocal(key string) {
	ctx := context.Background()

	reader, err := g.remote.Get(ctx, key)
	if err != nil {
		logger.Warn("gateway: failed to read %s from remote tier for cache warm: %v", key, err)
		return
	}
	defer reader.Close()

	if err := g.local.Put(ctx, key, reader, 0, "application/octet-stream"); err != nil {
		logger.Warn("gateway: failed to warm local tier with %s: %v", key, err)
		return
	}

	logger.Debug("gateway: warmed local tier with %s", key)
}

// Delete issues deletes to both tiers concurrently. Best-effort fan-out: the
// call completes once both attempts have been issued, and fails only when
// both tiers fail.
func (g *Gateway) Delete(ctx context.Context, key string) error {
	localCh := make(chan error, 1)
	remoteCh := make(chan error, 1)

	go func() { localCh <- g.local.Delete(ctx, key) }()
	go func() { remoteCh <- g.remote.Delete(ctx, key) }()

	localErr := <-localCh
	remoteErr := <-remoteCh

	if localErr != nil && remoteErr != nil {
		return fmt.Errorf("failed to delete %s from both tiers (local: %v): %w", key, localErr, remoteErr)
	}
	if localErr != nil {
		logger.Warn("gateway: failed to delete %s from local tier: %v", key, localErr)
	}
	if remoteErr != nil {
		logger.Warn("gateway: failed to delete %s from remote tier: %v", key, remoteErr)
	}

	return nil
}

// List returns the deduplicated union of keys from both tiers. A single
// tier's failure yields partial results; the call errors only when both
// tiers fail.
func (g *Gateway) List(ctx context.Context, prefix string) ([]string, error) {
	localKeys, localErr := g.local.List(ctx, prefix)
	remoteKeys, remoteErr := g.remote.List(ctx, prefix)

	if localErr != nil && remoteErr != nil {
		return nil, fmt.Errorf("failed to list %s from both tiers (local: %v): %w", prefix, localErr, remoteErr)
	}
	if localErr != nil {
		logger.Warn("gateway: local tier list failed for %s: %v", prefix, localErr)
	}
	if remoteErr != nil {
		logger.Warn("gateway: remote tier list failed for %s: %v", prefix, remoteErr)
	}

	seen := make(map[string]struct{}, len(localKeys)+len(remoteKeys))
	keys := make([]string, 0, len(localKeys)+len(remoteKeys))
	for _, key := range localKeys {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}
	for _, key := range remoteKeys {
		if _, ok := seen[key]; !ok {
			seen[key] = struct{}{}
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Exists checks the local tier first (cheap) and consults the remote tier
// only when the local tier reports absent.
func (g *Gateway) Exists(ctx context.Context, key string) (bool, error) {
	exists, err := g.local.Exists(ctx, key)
	if err == nil && exists {
		return true, nil
	}
	if err != nil {
		logger.Debug("gateway: local existence check failed for %s: %v", key, err)
	}

	exists, err = g.remote.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("failed to check existence of %s: %w", key, err)
	}

	return exists, nil
}

// URL prefers a remote-tier URL (externally reachable, supports expiry) when
// the object exists remotely, and falls back to a local-tier URL otherwise.
func (g *Gateway) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	localExists, _ := g.local.Exists(ctx, key)
	remoteExists, _ := g.remote.Exists(ctx, key)

	if !localExists && !remoteExists {
		return "", fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}

	if remoteExists {
		return g.remote.URL(ctx, key, expiry)
	}

	return g.local.URL(ctx, key, expiry)
}

// Stream returns a ranged reader, local tier first with remote fallback.
// A remote fallback warms the local tier in the background, like Get.
func (g *Gateway) Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	reader, err := g.local.Stream(ctx, key, offset, length)
	if err == nil {
		return reader, nil
	}

	reader, remoteErr := g.remote.Stream(ctx, key, offset, length)
	if remoteErr != nil {
		if errors.Is(remoteErr, storage.ErrNotFound) && errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stream %s from both tiers (local: %v): %w", key, err, remoteErr)
	}

	go g.warmLocal(key)

	return reader, nil
}

// PendingReplications returns the number of jobs waiting in the replication
// queue. Useful for shutdown decisions and tests.
func (g *Gateway) PendingReplications() int {
	return g.queue.len()
}

// Close drains the replication queue before returning so pending
// replications are not lost on shutdown. Blocks with bounded polling until
// the queue is empty or the context expires.
func (g *Gateway) Close(ctx context.Context) error {
	logger.Info("gateway: draining replication queue before shutdown")

	if err := g.queue.waitDrained(ctx); err != nil {
		logger.Warn("gateway: shutdown with undrained replication queue: %v", err)
		return err
	}

	return nil
}
