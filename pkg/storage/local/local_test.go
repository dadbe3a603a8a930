package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nselftv/mediastore/pkg/storage"
	backendtesting "github.com/nselftv/mediastore/pkg/storage/testing"
)

// TestLocalBackend runs the full Backend contract suite against the
// filesystem implementation.
func TestLocalBackend(t *testing.T) {
	suite := &backendtesting.BackendSuite{
		NewBackend: func(t *testing.T) storage.Backend {
			b, err := New(context.Background(), t.TempDir())
			require.NoError(t, err, "failed to create local backend")
			return b
		},
	}

	suite.Run(t)
}

func TestLocalBackend_ListMissingPrefix(t *testing.T) {
	b, err := New(context.Background(), t.TempDir())
	require.NoError(t, err)

	keys, err := b.List(context.Background(), "no/such/prefix/")
	require.NoError(t, err, "listing a missing prefix should not error")
	require.Empty(t, keys)
}
