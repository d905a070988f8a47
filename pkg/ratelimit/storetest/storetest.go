// Package storetest holds behavioural tests shared by every
// ratelimit.BucketStore implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/pkg/ratelimit"
)

// Factory returns a fresh, empty store for one subtest.
type Factory func(t *testing.T) ratelimit.BucketStore

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

// Run exercises the BucketStore contract against stores built by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("creates full bucket on first access", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 3, Window: time.Minute}

		b, ok, err := store.Apply(context.Background(), "user:a", cfg, epoch, false)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 3, b.TokensRemaining)
		assert.Equal(t, 3, b.Limit)
		assert.True(t, b.ResetAt.Equal(epoch.Add(time.Minute)), "ResetAt = %v", b.ResetAt)
	})

	t.Run("consume decrements until exhausted", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 2, Window: time.Minute}
		ctx := context.Background()

		b, ok, err := store.Apply(ctx, "user:a", cfg, epoch, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 1, b.TokensRemaining)

		b, ok, err = store.Apply(ctx, "user:a", cfg, epoch.Add(time.Second), true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, b.TokensRemaining)

		b, ok, err = store.Apply(ctx, "user:a", cfg, epoch.Add(2*time.Second), true)
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Equal(t, 0, b.TokensRemaining)
		assert.True(t, b.ResetAt.Equal(epoch.Add(time.Minute)), "denial must not move ResetAt")
	})

	t.Run("check never decrements", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 2, Window: time.Minute}
		ctx := context.Background()

		for i := 0; i < 5; i++ {
			b, ok, err := store.Apply(ctx, "user:a", cfg, epoch, false)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, 2, b.TokensRemaining)
		}
	})

	t.Run("rollover refills at reset time", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}
		ctx := context.Background()

		_, ok, err := store.Apply(ctx, "user:a", cfg, epoch, true)
		require.NoError(t, err)
		require.True(t, ok)

		_, ok, err = store.Apply(ctx, "user:a", cfg, epoch.Add(time.Minute-time.Millisecond), true)
		require.NoError(t, err)
		assert.False(t, ok, "window not yet elapsed")

		rolled := epoch.Add(time.Minute)
		b, ok, err := store.Apply(ctx, "user:a", cfg, rolled, true)
		require.NoError(t, err)
		assert.True(t, ok, "now == ResetAt rolls over")
		assert.Equal(t, 0, b.TokensRemaining)
		assert.True(t, b.ResetAt.Equal(rolled.Add(time.Minute)), "ResetAt = %v", b.ResetAt)
	})

	t.Run("rollover uses config in effect at rollover", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		oldCfg := ratelimit.LimitConfig{Limit: 5, Window: time.Minute}
		newCfg := ratelimit.LimitConfig{Limit: 2, Window: 10 * time.Second}

		_, _, err := store.Apply(ctx, "user:a", oldCfg, epoch, true)
		require.NoError(t, err)

		b, _, err := store.Apply(ctx, "user:a", newCfg, epoch.Add(time.Second), true)
		require.NoError(t, err)
		assert.Equal(t, 5, b.Limit, "live bucket keeps its limit")
		assert.Equal(t, 3, b.TokensRemaining)

		b, _, err = store.Apply(ctx, "user:a", newCfg, epoch.Add(time.Minute), true)
		require.NoError(t, err)
		assert.Equal(t, 2, b.Limit)
		assert.Equal(t, 1, b.TokensRemaining)
		assert.True(t, b.ResetAt.Equal(epoch.Add(time.Minute+10*time.Second)), "ResetAt = %v", b.ResetAt)
	})

	t.Run("keys are isolated", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}
		ctx := context.Background()

		_, ok, err := store.Apply(ctx, "user:a", cfg, epoch, true)
		require.NoError(t, err)
		require.True(t, ok)

		b, ok, err := store.Apply(ctx, "user:b", cfg, epoch, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, 0, b.TokensRemaining)
	})

	t.Run("delete restarts the window", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}
		ctx := context.Background()

		_, _, err := store.Apply(ctx, "user:a", cfg, epoch, true)
		require.NoError(t, err)
		require.NoError(t, store.Delete(ctx, "user:a"))
		require.NoError(t, store.Delete(ctx, "user:missing"))

		later := epoch.Add(10 * time.Second)
		b, ok, err := store.Apply(ctx, "user:a", cfg, later, true)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, b.ResetAt.Equal(later.Add(time.Minute)), "ResetAt = %v", b.ResetAt)
	})

	t.Run("key count", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}
		ctx := context.Background()

		for i := 0; i < 3; i++ {
			_, _, err := store.Apply(ctx, fmt.Sprintf("user:%d", i), cfg, epoch, false)
			require.NoError(t, err)
		}
		n, err := store.KeyCount(ctx)
		require.NoError(t, err)
		assert.Equal(t, 3, n)
	})

	t.Run("concurrent consumes never oversell", func(t *testing.T) {
		store := newStore(t)
		cfg := ratelimit.LimitConfig{Limit: 50, Window: time.Minute}
		ctx := context.Background()

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			granted int
		)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					_, ok, err := store.Apply(ctx, "user:hot", cfg, epoch, true)
					if err != nil {
						t.Error(err)
						return
					}
					if ok {
						mu.Lock()
						granted++
						mu.Unlock()
					}
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 50, granted)
	})
}
