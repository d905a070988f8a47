package ratelimit_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/pkg/ratelimit"
	"lms-gateway/pkg/ratelimit/storetest"
)

func TestInMemoryBucketStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) ratelimit.BucketStore {
		store, err := ratelimit.NewInMemoryBucketStore(ratelimit.DefaultInMemoryStoreConfig())
		require.NoError(t, err)
		return store
	})
}

func TestNewInMemoryBucketStore(t *testing.T) {
	tests := []struct {
		name       string
		config     ratelimit.InMemoryStoreConfig
		wantShards int
	}{
		{"defaults for zero config", ratelimit.InMemoryStoreConfig{}, 32},
		{"power of two kept", ratelimit.InMemoryStoreConfig{Shards: 8}, 8},
		{"rounded up to power of two", ratelimit.InMemoryStoreConfig{Shards: 5}, 8},
		{"single shard", ratelimit.InMemoryStoreConfig{Shards: 1}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := ratelimit.NewInMemoryBucketStore(tt.config)
			require.NoError(t, err)
			assert.Equal(t, tt.wantShards, store.ShardCount())
		})
	}
}

type evictionCounter struct {
	ratelimit.NoOpMetrics
	evicted int
}

func (m *evictionCounter) RecordEviction(backend string, count int) {
	m.evicted += count
}

func TestInMemoryBucketStore_ReclaimsExpiredBeforeGrowing(t *testing.T) {
	metrics := &evictionCounter{}
	store, err := ratelimit.NewInMemoryBucketStore(ratelimit.InMemoryStoreConfig{
		Shards:          1,
		MaxKeysPerShard: 2,
		Metrics:         metrics,
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	short := ratelimit.LimitConfig{Limit: 1, Window: time.Second}
	long := ratelimit.LimitConfig{Limit: 1, Window: time.Hour}

	_, _, err = store.Apply(ctx, "user:short", short, now, true)
	require.NoError(t, err)
	_, _, err = store.Apply(ctx, "user:long", long, now, true)
	require.NoError(t, err)

	// user:short has expired; adding a third key reclaims it instead of growing.
	_, _, err = store.Apply(ctx, "user:new", long, now.Add(2*time.Second), true)
	require.NoError(t, err)
	assert.Equal(t, 1, metrics.evicted)
	assert.Equal(t, 2, store.Capacity())

	// user:long is still live and exhausted.
	_, ok, err := store.Apply(ctx, "user:long", long, now.Add(3*time.Second), true)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInMemoryBucketStore_NeverDropsLiveBuckets(t *testing.T) {
	metrics := &evictionCounter{}
	store, err := ratelimit.NewInMemoryBucketStore(ratelimit.InMemoryStoreConfig{
		Shards:          1,
		MaxKeysPerShard: 2,
		Metrics:         metrics,
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Hour}

	_, ok, err := store.Apply(ctx, "user:victim", cfg, now, true)
	require.NoError(t, err)
	require.True(t, ok)
	_, ok, err = store.Apply(ctx, "user:victim", cfg, now, true)
	require.NoError(t, err)
	require.False(t, ok)

	// Other keys fill the shard past its initial size.
	for _, key := range []string{"user:a", "user:b", "user:c"} {
		_, _, err := store.Apply(ctx, key, cfg, now.Add(time.Minute), true)
		require.NoError(t, err)
	}

	b, ok, err := store.Apply(ctx, "user:victim", cfg, now.Add(2*time.Minute), true)
	require.NoError(t, err)
	assert.False(t, ok, "exhausted bucket must stay exhausted for its window")
	assert.Equal(t, 0, b.TokensRemaining)
	assert.Equal(t, now.Add(time.Hour), b.ResetAt)

	n, err := store.KeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	assert.Equal(t, 0, metrics.evicted)
	assert.Equal(t, 4, store.Capacity())
}

func TestInMemoryBucketStore_GrowsOnlyWhenNothingExpired(t *testing.T) {
	store, err := ratelimit.NewInMemoryBucketStore(ratelimit.InMemoryStoreConfig{
		Shards:          1,
		MaxKeysPerShard: 3,
	})
	require.NoError(t, err)

	ctx := context.Background()
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}

	for i := 0; i < 5; i++ {
		_, _, err := store.Apply(ctx, fmt.Sprintf("ip:10.0.0.%d", i), cfg, now, true)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, store.Capacity())

	// Every bucket has expired: a full shard reclaims instead of growing.
	for i := 5; i < 8; i++ {
		_, _, err := store.Apply(ctx, fmt.Sprintf("ip:10.0.0.%d", i), cfg, now.Add(2*time.Minute), true)
		require.NoError(t, err)
	}
	assert.Equal(t, 6, store.Capacity())

	n, err := store.KeyCount(ctx)
	require.NoError(t, err)
	assert.LessOrEqual(t, n, 6)
}

func TestInMemoryBucketStore_CanceledContext(t *testing.T) {
	store, err := ratelimit.NewInMemoryBucketStore(ratelimit.DefaultInMemoryStoreConfig())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err = store.Apply(ctx, "user:a", ratelimit.LimitConfig{Limit: 1, Window: time.Second}, time.Now(), true)
	assert.ErrorIs(t, err, context.Canceled)
}
