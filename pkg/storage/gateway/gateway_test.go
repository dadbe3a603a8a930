package gateway

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
	"github.com/nselftv/mediastore/pkg/storage/memory"
)

// newTestGateway returns a gateway over two in-memory tiers with fast
// replication backoff.
func newTestGateway(t *testing.T) (*Gateway, *memory.Backend, *memory.Backend) {
	t.Helper()

	local := memory.New()
	remote := memory.New()

	g, err := New(local, remote, Options{
		ReplicationRetries:   2,
		ReplicationBaseDelay: time.Millisecond,
	})
	require.NoError(t, err)

	return g, local, remote
}

// drainGateway waits for pending replications to finish.
func drainGateway(t *testing.T, g *Gateway) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, g.Close(ctx))
}

func putString(t *testing.T, g *Gateway, key, data string) {
	t.Helper()
	err := g.Put(context.Background(), key, strings.NewReader(data), int64(len(data)), "video/mp4")
	require.NoError(t, err)
}

func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(data)
}

func TestGateway_New(t *testing.T) {
	_, err := New(nil, memory.New(), Options{})
	require.Error(t, err)

	_, err = New(memory.New(), nil, Options{})
	require.Error(t, err)

	g, err := New(memory.New(), memory.New(), Options{})
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestGateway_PutGet(t *testing.T) {
	g, local, remote := newTestGateway(t)

	putString(t, g, "media/movie.mp4", "movie bytes")

	// Readable immediately, before replication completes.
	reader, err := g.Get(context.Background(), "media/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "movie bytes", readAll(t, reader))

	drainGateway(t, g)

	assert.Equal(t, 1, local.Len())
	assert.Equal(t, 1, remote.Len(), "object should be replicated to the remote tier")
	assert.Equal(t, "video/mp4", remote.ContentType("media/movie.mp4"))
}

func TestGateway_GetAfterLocalOutage(t *testing.T) {
	g, local, _ := newTestGateway(t)

	putString(t, g, "media/movie.mp4", "movie bytes")
	drainGateway(t, g)

	// Local tier goes down; reads fall back to the replicated copy.
	local.FailGets = true

	reader, err := g.Get(context.Background(), "media/movie.mp4")
	require.NoError(t, err)
	assert.Equal(t, "movie bytes", readAll(t, reader))
}

func TestGateway_GetRemoteFallbackWarmsLocal(t *testing.T) {
	g, local, remote := newTestGateway(t)

	// Object exists only remotely, as if written by another node.
	err := remote.Put(context.Background(), "media/elsewhere.mp4", strings.NewReader("remote bytes"), 12, "video/mp4")
	require.NoError(t, err)

	reader, err := g.Get(context.Background(), "media/elsewhere.mp4")
	require.NoError(t, err)
	assert.Equal(t, "remote bytes", readAll(t, reader))

	// The warm runs in the background; wait for the local copy to appear.
	require.Eventually(t, func() bool {
		exists, err := local.Exists(context.Background(), "media/elsewhere.mp4")
		return err == nil && exists
	}, 2*time.Second, 10*time.Millisecond, "remote fallback should warm the local tier")
}

func TestGateway_GetMissing(t *testing.T) {
	g, _, _ := newTestGateway(t)

	_, err := g.Get(context.Background(), "media/nope.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestGateway_PutLocalFailure(t *testing.T) {
	g, local, _ := newTestGateway(t)
	local.FailPuts = true

	err := g.Put(context.Background(), "media/movie.mp4", strings.NewReader("x"), 1, "video/mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrBackendUnavailable))
	assert.Equal(t, 0, g.PendingReplications(), "failed put should not enqueue replication")
}

func TestGateway_Delete(t *testing.T) {
	g, _, _ := newTestGateway(t)

	putString(t, g, "media/doomed.mp4", "x")
	drainGateway(t, g)

	require.NoError(t, g.Delete(context.Background(), "media/doomed.mp4"))

	exists, err := g.Exists(context.Background(), "media/doomed.mp4")
	require.NoError(t, err)
	assert.False(t, exists, "deleted object should be gone from both tiers")
}

func TestGateway_DeleteSingleTierFailure(t *testing.T) {
	g, local, remote := newTestGateway(t)

	putString(t, g, "media/doomed.mp4", "x")
	drainGateway(t, g)

	remote.FailDeletes = true
	assert.NoError(t, g.Delete(context.Background(), "media/doomed.mp4"),
		"one tier failing should not fail the delete")

	exists, err := local.Exists(context.Background(), "media/doomed.mp4")
	require.NoError(t, err)
	assert.False(t, exists, "local delete should still have happened")
}

func TestGateway_DeleteBothTiersFailure(t *testing.T) {
	g, local, remote := newTestGateway(t)
	local.FailDeletes = true
	remote.FailDeletes = true

	err := g.Delete(context.Background(), "media/doomed.mp4")
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrBackendUnavailable))
}

func TestGateway_ListUnion(t *testing.T) {
	g, local, remote := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, local.Put(ctx, "media/a.mp4", strings.NewReader("a"), 1, ""))
	require.NoError(t, local.Put(ctx, "media/both.mp4", strings.NewReader("b"), 1, ""))
	require.NoError(t, remote.Put(ctx, "media/both.mp4", strings.NewReader("b"), 1, ""))
	require.NoError(t, remote.Put(ctx, "media/c.mp4", strings.NewReader("c"), 1, ""))

	keys, err := g.List(ctx, "media/")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"media/a.mp4", "media/both.mp4", "media/c.mp4"}, keys,
		"list should be the deduplicated union of both tiers")
}

func TestGateway_ListPartialFailure(t *testing.T) {
	g, local, remote := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, local.Put(ctx, "media/a.mp4", strings.NewReader("a"), 1, ""))
	remote.FailLists = true

	keys, err := g.List(ctx, "media/")
	require.NoError(t, err, "a single tier failing should yield partial results")
	assert.ElementsMatch(t, []string{"media/a.mp4"}, keys)

	local.FailLists = true
	_, err = g.List(ctx, "media/")
	require.Error(t, err, "both tiers failing should fail the list")
}

func TestGateway_ExistsShortCircuit(t *testing.T) {
	g, local, remote := newTestGateway(t)
	ctx := context.Background()

	require.NoError(t, local.Put(ctx, "media/here.mp4", strings.NewReader("x"), 1, ""))

	// A local hit must not consult the remote tier at all.
	remote.FailExists = true
	exists, err := g.Exists(ctx, "media/here.mp4")
	require.NoError(t, err)
	assert.True(t, exists)

	remote.FailExists = false
	require.NoError(t, remote.Put(ctx, "media/there.mp4", strings.NewReader("x"), 1, ""))

	exists, err = g.Exists(ctx, "media/there.mp4")
	require.NoError(t, err)
	assert.True(t, exists, "remote-only object should exist")

	exists, err = g.Exists(ctx, "media/nowhere.mp4")
	require.NoError(t, err)
	assert.False(t, exists)
}

// urlBackend tags its URLs so tests can tell which tier produced one.
type urlBackend struct {
	*memory.Backend
	scheme string
}

func (u *urlBackend) URL(ctx context.Context, key string, expiry time.Duration) (string, error) {
	url, err := u.Backend.URL(ctx, key, expiry)
	if err != nil {
		return "", err
	}
	return u.scheme + strings.TrimPrefix(url, "memory"), nil
}

func TestGateway_URLPrefersRemote(t *testing.T) {
	local := &urlBackend{Backend: memory.New(), scheme: "local"}
	remote := &urlBackend{Backend: memory.New(), scheme: "remote"}

	g, err := New(local, remote, Options{ReplicationBaseDelay: time.Millisecond})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, local.Put(ctx, "media/cached.mp4", strings.NewReader("x"), 1, ""))
	require.NoError(t, remote.Put(ctx, "media/cached.mp4", strings.NewReader("x"), 1, ""))

	url, err := g.URL(ctx, "media/cached.mp4", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "remote://media/cached.mp4", url, "remote URL should be preferred when available")

	require.NoError(t, local.Put(ctx, "media/fresh.mp4", strings.NewReader("x"), 1, ""))
	url, err = g.URL(ctx, "media/fresh.mp4", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "local://media/fresh.mp4", url, "local URL should be the fallback before replication")

	_, err = g.URL(ctx, "media/nowhere.mp4", 15*time.Minute)
	require.Error(t, err)
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestGateway_Stream(t *testing.T) {
	g, _, _ := newTestGateway(t)

	putString(t, g, "media/movie.mp4", "0123456789")

	reader, err := g.Stream(context.Background(), "media/movie.mp4", 2, 4)
	require.NoError(t, err)
	assert.Equal(t, "2345", readAll(t, reader))

	// Length 0 streams to end of object.
	reader, err = g.Stream(context.Background(), "media/movie.mp4", 6, 0)
	require.NoError(t, err)
	assert.Equal(t, "6789", readAll(t, reader))
}

func TestGateway_StreamRemoteFallback(t *testing.T) {
	g, local, remote := newTestGateway(t)

	err := remote.Put(context.Background(), "media/far.mp4", strings.NewReader("abcdefgh"), 8, "video/mp4")
	require.NoError(t, err)

	reader, err := g.Stream(context.Background(), "media/far.mp4", 2, 3)
	require.NoError(t, err)
	assert.Equal(t, "cde", readAll(t, reader))

	require.Eventually(t, func() bool {
		exists, err := local.Exists(context.Background(), "media/far.mp4")
		return err == nil && exists
	}, 2*time.Second, 10*time.Millisecond, "fallback stream should warm the local tier")
}

func TestGateway_CloseTimeout(t *testing.T) {
	local := memory.New()
	remote := memory.New()
	remote.FailPuts = true

	// Long backoff keeps the replication pending past the close deadline.
	g, err := New(local, remote, Options{
		ReplicationRetries:   5,
		ReplicationBaseDelay: time.Second,
	})
	require.NoError(t, err)

	putString(t, g, "media/stuck.mp4", "x")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = g.Close(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
