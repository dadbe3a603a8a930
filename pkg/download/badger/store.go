// Package badger implements download.Store on BadgerDB, giving the
// download registry durability across process restarts.
package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"github.com/nselftv/mediastore/pkg/download"
	"github.com/nselftv/mediastore/pkg/storage"
)

// keyPrefix namespaces download records so the database can host other
// record types later without schema conflicts.
const keyPrefix = "download:"

// Store persists download items as JSON values under "download:<id>" keys.
//
// Thread Safety: BadgerDB transactions provide isolation; the store adds no
// locking of its own and is safe for concurrent use.
type Store struct {
	db *badger.DB
}

// New opens (or creates) a BadgerDB database at dbPath.
//
// The download registry is a small, low-churn keyspace, so compression and
// large caches are disabled.
//
// Parameters:
//   - ctx: Context for cancellation
//   - dbPath: Directory where BadgerDB stores its files
//
// Returns:
//   - *Store: Initialized store ready for use
//   - error: Returns error if the database cannot be opened
func New(ctx context.Context, dbPath string) (*Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := badger.DefaultOptions(dbPath)
	opts = opts.WithLoggingLevel(badger.WARNING)
	opts = opts.WithCompression(options.None)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB at %s: %w", dbPath, err)
	}

	return &Store{db: db}, nil
}

func itemKey(id string) []byte {
	return []byte(keyPrefix + id)
}

// Save inserts or overwrites the item record.
func (s *Store) Save(ctx context.Context, item *download.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal download %s: %w", item.ID, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(itemKey(item.ID), data)
	})
	if err != nil {
		return fmt.Errorf("failed to save download %s: %w", item.ID, err)
	}

	return nil
}

// Get returns the item with the given id.
func (s *Store) Get(ctx context.Context, id string) (*download.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var item download.Item

	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := txn.Get(itemKey(id))
		if err != nil {
			return err
		}
		return entry.Value(func(val []byte) error {
			return json.Unmarshal(val, &item)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("download %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load download %s: %w", id, err)
	}

	return &item, nil
}

// GetAll returns every persisted item.
func (s *Store) GetAll(ctx context.Context) ([]*download.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var items []*download.Item

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var item download.Item
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &item)
			})
			if err != nil {
				return fmt.Errorf("failed to decode record %s: %w", it.Item().Key(), err)
			}
			items = append(items, &item)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan download registry: %w", err)
	}

	return items, nil
}

// Delete removes the item record. Absent ids are not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(itemKey(id))
	})
	if err != nil {
		return fmt.Errorf("failed to delete download %s: %w", id, err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
