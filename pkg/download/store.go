package download

import (
	"context"
)

// Store persists download items so the manager can survive restarts.
//
// Implementations: badger (durable, production) and memory (tests). Both
// return storage.ErrNotFound (wrapped) for unknown ids.
type Store interface {
	// Save inserts or overwrites the item record.
	Save(ctx context.Context, item *Item) error

	// Get returns the item with the given id.
	Get(ctx context.Context, id string) (*Item, error)

	// GetAll returns every persisted item, in no particular order.
	GetAll(ctx context.Context) ([]*Item, error)

	// Delete removes the item record. Deleting an absent id is not an
	// error.
	Delete(ctx context.Context, id string) error

	// Close releases the store's resources.
	Close() error
}
