// Package memory implements download.Store in memory, for tests.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/nselftv/mediastore/pkg/download"
	"github.com/nselftv/mediastore/pkg/storage"
)

// Store keeps item records in a map guarded by a mutex. Records are copied
// on the way in and out so callers never share memory with the store.
type Store struct {
	mu    sync.RWMutex
	items map[string]*download.Item

	// FailSaves makes Save return storage.ErrBackendUnavailable, for
	// exercising persistence failure paths.
	FailSaves bool
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{items: make(map[string]*download.Item)}
}

// Save inserts or overwrites the item record.
func (s *Store) Save(ctx context.Context, item *download.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailSaves {
		return fmt.Errorf("save %s: %w", item.ID, storage.ErrBackendUnavailable)
	}

	s.mu.Lock()
	s.items[item.ID] = item.Clone()
	s.mu.Unlock()

	return nil
}

// Get returns the item with the given id.
func (s *Store) Get(ctx context.Context, id string) (*download.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	item, ok := s.items[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
	}

	return item.Clone(), nil
}

// GetAll returns every stored item.
func (s *Store) GetAll(ctx context.Context) ([]*download.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*download.Item, 0, len(s.items))
	for _, item := range s.items {
		items = append(items, item.Clone())
	}

	return items, nil
}

// Delete removes the item record. Absent ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()

	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}
