package ports

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunStoreContract runs a suite of tests to verify that a Store implementation
// adheres to the defined interface contract.
// advance moves the store's notion of time forward so TTL expiry can be observed.
func RunStoreContract(t *testing.T, store Store, advance func(time.Duration)) {
	ctx := context.Background()
	prefix := "contract:" + time.Now().Format("20060102150405.000000") + ":"

	t.Run("Get Missing", func(t *testing.T) {
		_, ok, err := store.Get(ctx, prefix+"missing")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("Set and Get", func(t *testing.T) {
		key := prefix + "set"
		require.NoError(t, store.Set(ctx, key, "v1", time.Minute))

		val, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "v1", val)

		// Overwrite
		require.NoError(t, store.Set(ctx, key, "v2", time.Minute))
		val, _, err = store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "v2", val)
	})

	t.Run("SetIfAbsent", func(t *testing.T) {
		key := prefix + "nx"
		created, err := store.SetIfAbsent(ctx, key, "first", time.Minute)
		require.NoError(t, err)
		assert.True(t, created, "first SetIfAbsent should create the key")

		created, err = store.SetIfAbsent(ctx, key, "second", time.Minute)
		require.NoError(t, err)
		assert.False(t, created, "second SetIfAbsent must not overwrite")

		val, _, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, "first", val)
	})

	t.Run("SetIfAbsent Concurrent", func(t *testing.T) {
		key := prefix + "nx-race"
		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := store.SetIfAbsent(ctx, key, "x", time.Minute)
				assert.NoError(t, err)
				if ok {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load(), "exactly one SetIfAbsent may win")
	})

	t.Run("DeleteIfEquals", func(t *testing.T) {
		key := prefix + "cad"
		require.NoError(t, store.Set(ctx, key, "owner-a", time.Minute))

		deleted, err := store.DeleteIfEquals(ctx, key, "owner-b")
		require.NoError(t, err)
		assert.False(t, deleted, "foreign value must not delete")
		_, ok, _ := store.Get(ctx, key)
		assert.True(t, ok)

		deleted, err = store.DeleteIfEquals(ctx, key, "owner-a")
		require.NoError(t, err)
		assert.True(t, deleted)
		_, ok, _ = store.Get(ctx, key)
		assert.False(t, ok)

		deleted, err = store.DeleteIfEquals(ctx, key, "owner-a")
		require.NoError(t, err)
		assert.False(t, deleted, "missing key is a no-op")
	})

	t.Run("Delete", func(t *testing.T) {
		key := prefix + "del"
		require.NoError(t, store.Set(ctx, key, "v", time.Minute))
		require.NoError(t, store.Delete(ctx, key))
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok)

		// Deleting again is fine
		assert.NoError(t, store.Delete(ctx, key))
	})

	t.Run("TTL Expiry", func(t *testing.T) {
		key := prefix + "ttl"
		created, err := store.SetIfAbsent(ctx, key, "v", 500*time.Millisecond)
		require.NoError(t, err)
		require.True(t, created)

		advance(300 * time.Millisecond)
		_, ok, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.True(t, ok, "key should survive before TTL")

		advance(300 * time.Millisecond)
		_, ok, err = store.Get(ctx, key)
		require.NoError(t, err)
		assert.False(t, ok, "key should be gone after TTL")

		created, err = store.SetIfAbsent(ctx, key, "again", time.Minute)
		require.NoError(t, err)
		assert.True(t, created, "expired key must be acquirable")
	})
}
