// Package testing provides a reusable contract test suite for
// storage.Backend implementations. It tests the interface contract, not
// implementation details, so the same suite runs against the local,
// in-memory, and (in integration environments) S3 backends.
package testing

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nselftv/mediastore/pkg/storage"
)

// BackendSuite exercises the full storage.Backend contract.
//
// Usage:
//
//	func TestLocalBackend(t *testing.T) {
//	    suite := &backendtesting.BackendSuite{
//	        NewBackend: func(t *testing.T) storage.Backend {
//	            b, err := local.New(context.Background(), t.TempDir())
//	            require.NoError(t, err)
//	            return b
//	        },
//	    }
//	    suite.Run(t)
//	}
type BackendSuite struct {
	// NewBackend creates a fresh backend for each test, ensuring isolation.
	NewBackend func(t *testing.T) storage.Backend
}

// Run executes all tests in the suite.
func (s *BackendSuite) Run(t *testing.T) {
	t.Run("PutGet", s.testPutGet)
	t.Run("GetMissing", s.testGetMissing)
	t.Run("Overwrite", s.testOverwrite)
	t.Run("Delete", s.testDelete)
	t.Run("DeleteMissing", s.testDeleteMissing)
	t.Run("List", s.testList)
	t.Run("Exists", s.testExists)
	t.Run("URL", s.testURL)
	t.Run("Stream", s.testStream)
}

func testContext() context.Context {
	return context.Background()
}

// mustPut writes an object and fails the test if it errors.
func mustPut(t *testing.T, b storage.Backend, key string, data []byte) {
	t.Helper()
	err := b.Put(testContext(), key, strings.NewReader(string(data)), int64(len(data)), "application/octet-stream")
	require.NoError(t, err, "Put should succeed")
}

// mustGet reads an object in full and fails the test if it errors.
func mustGet(t *testing.T, b storage.Backend, key string) []byte {
	t.Helper()
	reader, err := b.Get(testContext(), key)
	require.NoError(t, err, "Get should succeed")
	defer reader.Close()

	data, err := io.ReadAll(reader)
	require.NoError(t, err, "reading object should succeed")
	return data
}

func (s *BackendSuite) testPutGet(t *testing.T) {
	b := s.NewBackend(t)

	data := []byte("hello tiered storage")
	mustPut(t, b, "media/test/putget.bin", data)

	got := mustGet(t, b, "media/test/putget.bin")
	assert.Equal(t, data, got, "Get should return the exact bytes written")
}

func (s *BackendSuite) testGetMissing(t *testing.T) {
	b := s.NewBackend(t)

	_, err := b.Get(testContext(), "media/test/missing.bin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound), "Get on a missing key should wrap ErrNotFound, got %v", err)
}

func (s *BackendSuite) testOverwrite(t *testing.T) {
	b := s.NewBackend(t)

	mustPut(t, b, "media/test/over.bin", []byte("first"))
	mustPut(t, b, "media/test/over.bin", []byte("second version"))

	got := mustGet(t, b, "media/test/over.bin")
	assert.Equal(t, []byte("second version"), got, "last write should win")
}

func (s *BackendSuite) testDelete(t *testing.T) {
	b := s.NewBackend(t)

	mustPut(t, b, "media/test/del.bin", []byte("doomed"))
	require.NoError(t, b.Delete(testContext(), "media/test/del.bin"))

	exists, err := b.Exists(testContext(), "media/test/del.bin")
	require.NoError(t, err)
	assert.False(t, exists, "deleted object should not exist")
}

func (s *BackendSuite) testDeleteMissing(t *testing.T) {
	b := s.NewBackend(t)

	err := b.Delete(testContext(), "media/test/never-existed.bin")
	assert.NoError(t, err, "Delete should be idempotent")
}

func (s *BackendSuite) testList(t *testing.T) {
	b := s.NewBackend(t)

	mustPut(t, b, "media/movies/a.mp4", []byte("a"))
	mustPut(t, b, "media/movies/b.mp4", []byte("b"))
	mustPut(t, b, "media/shows/c.mp4", []byte("c"))

	keys, err := b.List(testContext(), "media/movies/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"media/movies/a.mp4", "media/movies/b.mp4"}, keys)
}

func (s *BackendSuite) testExists(t *testing.T) {
	b := s.NewBackend(t)

	mustPut(t, b, "media/test/exists.bin", []byte("x"))

	exists, err := b.Exists(testContext(), "media/test/exists.bin")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = b.Exists(testContext(), "media/test/absent.bin")
	require.NoError(t, err)
	assert.False(t, exists, "absence should be (false, nil), not an error")
}

func (s *BackendSuite) testURL(t *testing.T) {
	b := s.NewBackend(t)

	mustPut(t, b, "media/test/url.bin", []byte("x"))

	url, err := b.URL(testContext(), "media/test/url.bin", 15*time.Minute)
	require.NoError(t, err)
	assert.NotEmpty(t, url)

	_, err = b.URL(testContext(), "media/test/no-url.bin", 15*time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func (s *BackendSuite) testStream(t *testing.T) {
	b := s.NewBackend(t)

	data := []byte("0123456789abcdef")
	mustPut(t, b, "media/test/stream.bin", data)

	// Middle range.
	reader, err := b.Stream(testContext(), "media/test/stream.bin", 4, 6)
	require.NoError(t, err)
	got, err := io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("456789"), got)

	// Offset to end: length 0 means the rest of the object.
	reader, err = b.Stream(testContext(), "media/test/stream.bin", 10, 0)
	require.NoError(t, err)
	got, err = io.ReadAll(reader)
	reader.Close()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), got)
}
