package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core/credential"
)

// RunStoreTests checks the credential.Store contract against store.
func RunStoreTests(t *testing.T, store credential.Store) {
	t.Helper()
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, err := store.Get(ctx, "missing")
		assert.True(t, errors.Is(err, credential.ErrNotFound), "Get() error = %v, want ErrNotFound", err)
	})

	t.Run("set then get", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "masomo.session", `{"accessToken":"t1"}`))
		val, err := store.Get(ctx, "masomo.session")
		require.NoError(t, err)
		assert.Equal(t, `{"accessToken":"t1"}`, val)
	})

	t.Run("overwrite", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "masomo.session", "first"))
		require.NoError(t, store.Set(ctx, "masomo.session", "second"))
		val, err := store.Get(ctx, "masomo.session")
		require.NoError(t, err)
		assert.Equal(t, "second", val)
	})

	t.Run("keys are independent", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "a", "1"))
		require.NoError(t, store.Set(ctx, "b/../c", "2"))
		va, err := store.Get(ctx, "a")
		require.NoError(t, err)
		vb, err := store.Get(ctx, "b/../c")
		require.NoError(t, err)
		assert.Equal(t, "1", va)
		assert.Equal(t, "2", vb)
	})

	t.Run("remove is idempotent", func(t *testing.T) {
		require.NoError(t, store.Set(ctx, "gone", "x"))
		require.NoError(t, store.Remove(ctx, "gone"))
		require.NoError(t, store.Remove(ctx, "gone"))
		_, err := store.Get(ctx, "gone")
		assert.True(t, errors.Is(err, credential.ErrNotFound), "Get() error = %v, want ErrNotFound", err)
	})
}
