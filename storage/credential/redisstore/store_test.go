package redisstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/masomo-portal/core/credential"
	"github.com/trezcool/masomo-portal/storage/credential/redisstore"
	"github.com/trezcool/masomo-portal/tests"
)

func setup(t *testing.T, ttl time.Duration) (*miniredis.Miniredis, *redisstore.Store) {
	mr := miniredis.RunT(t)
	store := redisstore.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), ttl)
	t.Cleanup(func() { _ = store.Close() })
	return mr, store
}

func TestStore(t *testing.T) {
	_, store := setup(t, 0)
	testutil.RunStoreTests(t, store)
}

func TestStore_ttl(t *testing.T) {
	mr, store := setup(t, time.Hour)
	ctx := context.Background()
	require.NoError(t, store.Set(ctx, "masomo.session", "token"))

	mr.FastForward(2 * time.Hour)
	_, err := store.Get(ctx, "masomo.session")
	assert.ErrorIs(t, err, credential.ErrNotFound)
}

func TestStore_unavailable(t *testing.T) {
	mr, store := setup(t, 0)
	mr.Close()

	ctx := context.Background()
	_, err := store.Get(ctx, "masomo.session")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, credential.ErrNotFound)

	// behind a fallback the outage reads as "no value"
	fallback := credential.NewFallbackStore(store, testutil.NewLogger())
	_, err = fallback.Get(ctx, "masomo.session")
	assert.ErrorIs(t, err, credential.ErrNotFound)
	assert.ErrorIs(t, fallback.Set(ctx, "masomo.session", "token"), credential.ErrStorageUnavailable)
}
