// Package local implements the storage.Backend contract on the local
// filesystem. It is the fast tier: writes land here synchronously and reads
// are served from here whenever possible.
package local

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/nselftv/mediastore/pkg/storage"
)

// Backend stores objects as files under a base directory. Keys map directly
// to relative paths, so the directory mirrors the logical key space and can
// be inspected with ordinary tools.
//
// Thread Safety:
// Filesystem operations are safe at the OS level. Concurrent writes to the
// same key may interleave; the system assumes a single writer per key.
type Backend struct {
	basePath string
}

// New creates a filesystem backend rooted at basePath, creating the
// directory if it does not exist.
//
// Parameters:
//   - ctx: Context for cancellation
//   - basePath: Root directory for stored objects
//
// Returns:
//   - *Backend: Initialized backend
//   - error: Returns error if directory creation fails or context is cancelled
func New(ctx context.Context, basePath string) (*Backend, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &Backend{basePath: basePath}, nil
}

// path returns the full filesystem path for a key.
func (b *Backend) path(key string) string {
	return filepath.Join(b.basePath, filepath.FromSlash(key))
}

// Put writes an object to disk, creating parent directories as needed.
// The write is durable with respect to the local tier when Put returns.
func (b *Backend) Put(ctx context.Context, key string, data io.Reader, size int64, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	fullPath := b.path(key)

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}

// Get returns a reader for the object.
func (b *Backend) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}

// Delete removes the object. Deleting an absent key returns nil (idempotent).
func (b *Backend) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.Remove(b.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete file: %w", err)
	}

	return nil
}

// List walks the tree under prefix and returns all object keys found.
// A prefix with no matching directory yields an empty list, not an error.
func (b *Backend) List(ctx context.Context, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	searchPath := b.path(prefix)
	var keys []string

	err := filepath.Walk(searchPath, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !info.IsDir() {
			relPath, err := filepath.Rel(b.basePath, path)
			if err != nil {
				return err
			}
			keys = append(keys, filepath.ToSlash(relPath))
		}
		return nil
	})

	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	return keys, nil
}

// Exists reports whether the key is present on disk.
func (b *Backend) Exists(ctx context.Context, key string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	_, err := os.Stat(b.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check file existence: %w", err)
}

// URL returns a file:// URL for the object. The expiry parameter is ignored;
// local URLs do not expire.
func (b *Backend) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	exists, err := b.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
	}

	return "file://" + b.path(key), nil
}

// Stream returns a reader over [offset, offset+length) of the object.
// length 0 means to end of object.
func (b *Backend) Stream(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(b.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("object %s: %w", key, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to seek: %w", err)
	}

	if length > 0 {
		return &limitedReadCloser{
			Reader: io.LimitReader(file, length),
			Closer: file,
		}, nil
	}

	return file, nil
}

// limitedReadCloser pairs io.LimitReader with the underlying file's Close.
type limitedReadCloser struct {
	io.Reader
	io.Closer
}
