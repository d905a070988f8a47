// Package storetest holds behavioural tests shared by every
// tokencache.TTLStore implementation.
package storetest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/pkg/tokencache"
)

// Factory returns a fresh store and a function that moves the store's notion
// of time forward.
type Factory func(t *testing.T) (store tokencache.TTLStore, advance func(time.Duration))

// Run exercises the TTLStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Helper()
	ctx := context.Background()

	t.Run("set get delete", func(t *testing.T) {
		store, _ := newStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))

		got, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("v"), got)

		require.NoError(t, store.Delete(ctx, "k"))
		require.NoError(t, store.Delete(ctx, "missing"))

		_, found, err = store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("entries expire", func(t *testing.T) {
		store, advance := newStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("v"), 10*time.Second))
		advance(9 * time.Second)

		ok, err := store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)

		advance(2 * time.Second)

		ok, err = store.Exists(ctx, "k")
		require.NoError(t, err)
		assert.False(t, ok)

		_, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.False(t, found)
	})

	t.Run("set overwrites value and ttl", func(t *testing.T) {
		store, advance := newStore(t)

		require.NoError(t, store.Set(ctx, "k", []byte("a"), 5*time.Second))
		require.NoError(t, store.Set(ctx, "k", []byte("b"), time.Minute))
		advance(10 * time.Second)

		got, found, err := store.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, []byte("b"), got)
	})

	t.Run("incr sets ttl only on creation", func(t *testing.T) {
		store, advance := newStore(t)

		n, err := store.IncrWithTTL(ctx, "c", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		advance(6 * time.Second)
		n, err = store.IncrWithTTL(ctx, "c", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		// 11s after the first increment the counter is gone even though the
		// second increment happened only 5s ago.
		advance(5 * time.Second)
		ok, err := store.Exists(ctx, "c")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err = store.IncrWithTTL(ctx, "c", 10*time.Second)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("concurrent incr counts every call", func(t *testing.T) {
		store, _ := newStore(t)

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					if _, err := store.IncrWithTTL(ctx, "hot", time.Minute); err != nil {
						t.Error(err)
						return
					}
				}
			}()
		}
		wg.Wait()

		got, found, err := store.Get(ctx, "hot")
		require.NoError(t, err)
		require.True(t, found)
		assert.Equal(t, "100", string(got))
	})
}
