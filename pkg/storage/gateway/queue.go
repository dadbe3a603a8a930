package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nselftv/mediastore/internal/logger"
	"github.com/nselftv/mediastore/pkg/storage"
)

// ReplicationMetrics receives replication queue events.
//
// The Prometheus implementation lives in pkg/metrics. A nil metrics value
// makes the queue use the built-in no-op implementation.
type ReplicationMetrics interface {
	// JobEnqueued is called when a put hands a job to the queue.
	JobEnqueued()

	// JobReplicated is called when a job's remote write succeeds.
	JobReplicated(bytes int64, duration time.Duration)

	// JobRetried is called for each failed remote write attempt.
	JobRetried()

	// JobDropped is called when a job is abandoned after exhausting
	// retries (or because its source object disappeared).
	JobDropped()
}

// noopReplicationMetrics is used when no metrics collector is configured.
type noopReplicationMetrics struct{}

func (noopReplicationMetrics) JobEnqueued()                               {}
func (noopReplicationMetrics) JobReplicated(bytes int64, d time.Duration) {}
func (noopReplicationMetrics) JobRetried()                                {}
func (noopReplicationMetrics) JobDropped()                                {}

// replicationJob is one pending local-to-remote copy. The queue owns the job
// exclusively from enqueue until it is done or dropped; the object's bytes
// stay in the local tier.
type replicationJob struct {
	key         string
	size        int64
	contentType string
}

// replicationQueue copies newly written objects from the local tier to the
// remote tier, asynchronously and in strict FIFO order.
//
// Concurrency model:
// At most one drain loop runs at a time, guarded by the draining flag. Puts
// may enqueue freely while a drain is running; the active loop consumes the
// new jobs before exiting (it re-checks queue length under the lock before
// clearing the flag), so a second loop is never spawned. Strict FIFO
// preserves last-write-wins for repeated writes to the same key.
//
// Failure policy:
// Each job is attempted with bounded exponential backoff. A job whose remote
// write still fails after the final attempt is logged, counted, and dropped;
// the queue moves on to the next job. The local tier remains authoritative
// for that key until a later write replicates it.
type replicationQueue struct {
	local  storage.Backend
	remote storage.Backend

	mu       sync.Mutex
	jobs     []replicationJob
	draining bool

	maxRetries uint64
	baseDelay  time.Duration
	metrics    ReplicationMetrics
}

func newReplicationQueue(local, remote storage.Backend, maxRetries uint64, baseDelay time.Duration, metrics ReplicationMetrics) *replicationQueue {
	if metrics == nil {
		metrics = noopReplicationMetrics{}
	}
	if baseDelay <= 0 {
		baseDelay = 100 * time.Millisecond
	}

	return &replicationQueue{
		local:      local,
		remote:     remote,
		maxRetries: maxRetries,
		baseDelay:  baseDelay,
		metrics:    metrics,
	}
}

// enqueue appends a job and starts the drain loop if one is not already
// running. Never blocks on remote availability.
func (q *replicationQueue) enqueue(job replicationJob) {
	q.mu.Lock()
	q.jobs = append(q.jobs, job)
	q.metrics.JobEnqueued()

	if q.draining {
		q.mu.Unlock()
		return
	}

	q.draining = true
	q.mu.Unlock()

	go q.drain()
}

// drain consumes jobs in FIFO order until the queue is empty. Exactly one
// drain goroutine exists while draining is true.
func (q *replicationQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.jobs) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs = q.jobs[1:]
		q.mu.Unlock()

		q.process(job)
	}
}

// process copies one object to the remote tier, retrying transient remote
// failures with exponential backoff before giving up.
func (q *replicationQueue) process(job replicationJob) {
	// No gateway-level timeout: a hung remote write holds up this one job
	// but enqueues keep returning immediately.
	ctx := context.Background()

	start := time.Now()

	backoff := retry.WithMaxRetries(q.maxRetries, retry.NewExponential(q.baseDelay))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		reader, err := q.local.Get(ctx, job.key)
		if err != nil {
			// The source object vanished (deleted since enqueue) or
			// the local tier errored; neither improves with retries.
			return err
		}
		defer reader.Close()

		if err := q.remote.Put(ctx, job.key, reader, job.size, job.contentType); err != nil {
			q.metrics.JobRetried()
			return retry.RetryableError(err)
		}

		return nil
	})

	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			logger.Debug("replication: skipping %s, object no longer present locally", job.key)
		} else {
			logger.Warn("replication: dropping %s after retries: %v", job.key, err)
		}
		q.metrics.JobDropped()
		return
	}

	q.metrics.JobReplicated(job.size, time.Since(start))
	logger.Debug("replication: %s copied to remote tier in %s", job.key, time.Since(start))
}

// len returns the number of jobs not yet picked up by the drain loop.
func (q *replicationQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

// drained reports whether the queue is empty and no drain loop is running.
func (q *replicationQueue) drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs) == 0 && !q.draining
}

// waitDrained polls until the queue is fully drained or the context expires.
func (q *replicationQueue) waitDrained(ctx context.Context) error {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if q.drained() {
			return nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return fmt.Errorf("replication queue not drained: %w", ctx.Err())
		}
	}
}
