// Package memory implements the storage.Backend contract in memory.
//
// The memory backend exists for tests: it is the substitutable fake behind
// the gateway and the replication queue, and it supports fault injection so
// partial-failure paths (single-tier outages, replication errors) can be
// exercised deterministically.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/nselftv/mediastore/pkg/storage"
)

// object holds one stored object's bytes and content type.
type object struct {
	data        []byte
	contentType string
}

// Backend stores objects in a map guarded by a mutex.
//
// Fault injection: set FailPuts, FailGets, FailDeletes, FailLists or
// FailExists to make the corresponding operation return
// storage.ErrBackendUnavailable. Tests use this to simulate a downed tier.
type Backend struct {
	mu      sync.RWMutex
	objects map[string]object

	FailPuts    bool
	FailGets    bool
	FailDeletes bool
	FailLists   bool
	FailExists  bool
}

// New creates an empty in-memory backend.
func New() *Backend {
	return &Backend{objects: make(map[string]object)}
}

// Put stores the object bytes in memory.
func (b *Backend) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.FailPuts {
		return fmt.Errorf("put %s: %w", key, storage.ErrBackendUnavailable)
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("failed to read data: %w", err)
	}

	b.mu.Lock()
	b.objects[key] = object{data: buf, contentType: contentType}
	b.mu.Unlock()

	return nil
}

// Get returns a reader over a copy of the stored bytes.
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.FailGets {
		return nil, fmt.Errorf("get %s: %w", key, storage.ErrBackendUnavailable)
	}

	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}

	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

// Delete removes the object. Absent keys are not an error.
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.FailDeletes {
		return fmt.Errorf("delete %s: %w", key, storage.ErrBackendUnavailable)
	}

	b.mu.Lock()
	delete(b.objects, key)
	b.mu.Unlock()

	return nil
}

// List returns all keys with the given prefix.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.FailLists {
		return nil, fmt.Errorf("list %s: %w", prefix, storage.ErrBackendUnavailable)
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for key := range b.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

// Exists reports whether the key is present.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if b.FailExists {
		return false, fmt.Errorf("exists %s: %w", key, storage.ErrBackendUnavailable)
	}

	b.mu.RLock()
	_, ok := b.objects[key]
	b.mu.RUnlock()

	return ok, nil
}

// URL returns a synthetic memory:// URL for the object.
func (b *Backend) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}

	return "memory://" + key, nil
}

// Stream returns a reader over [offset, offset+length) of the stored bytes.
// length 0 means to end of object.
func (b *Backend) Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if b.FailGets {
		return nil, fmt.Errorf("stream %s: %w", key, storage.ErrBackendUnavailable)
	}

	b.mu.RLock()
	obj, ok := b.objects[key]
	b.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}

	if offset > int64(len(obj.data)) {
		offset = int64(len(obj.data))
	}
	data := obj.data[offset:]
	if length > 0 && length < int64(len(data)) {
		data = data[:length]
	}

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Len returns the number of stored objects. Test helper.
func (b *Backend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.objects)
}

// ContentType returns the stored content type for a key. Test helper.
func (b *Backend) ContentType(key string) string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.objects[key].contentType
}
