// Package storage defines the backend contract shared by every storage tier.
//
// A Backend fronts one tier of the system: the local tier is fast disk, the
// remote tier is a durable, network-accessible object store. Both implement
// the same interface, which is what lets the gateway compose them and lets
// tests substitute in-memory fakes.
package storage

import (
	"context"
	"io"
	"time"
)

// Backend provides key-addressed object storage for a single tier.
//
// Keys are opaque, slash-separated strings (e.g. "media/movies/abc.mp4").
// Object existence is derived from backend presence; there is no separate
// object record.
//
// Thread Safety:
// Implementations must be safe for concurrent use by multiple goroutines.
// Concurrent writes to the same key are last-write-wins; the system assumes
// a single writer per key.
//
// Context:
// All operations check the context before performing I/O and respect
// cancellation during network transfers.
type Backend interface {
	// Put writes an object to the tier. The write is durable with respect
	// to this tier when Put returns.
	//
	// size is advisory: backends that need a Content-Length use it when
	// positive, and fall back to buffering when it is zero.
	Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error

	// Get returns a reader for the object. Returns ErrNotFound (wrapped)
	// if the key is absent from this tier. The caller must close the
	// returned reader.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Delete removes the object. Deleting an absent key is not an error
	// (idempotent), so retries and fan-out deletes are safe.
	Delete(ctx context.Context, key string) error

	// List returns all keys in this tier matching the prefix.
	List(ctx context.Context, prefix string) ([]string, error)

	// Exists reports whether the key is present. Absence is (false, nil),
	// not an error.
	Exists(ctx context.Context, key string) (bool, error)

	// URL returns a URL under which the object can be fetched. Remote
	// backends return a presigned URL valid for the given expiry; local
	// backends return a file URL and ignore expiry.
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)

	// Stream returns a reader over [offset, offset+length) of the object.
	// length 0 means "to end of object". The caller must close the
	// returned reader.
	Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)
}
