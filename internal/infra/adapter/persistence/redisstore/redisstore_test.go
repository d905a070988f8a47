package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/internal/resilience/circuitbreaker"
	"lms-gateway/internal/resilience/retry"
	"lms-gateway/pkg/config"
	"lms-gateway/pkg/ratelimit"
	ratelimitstoretest "lms-gateway/pkg/ratelimit/storetest"
	"lms-gateway/pkg/tokencache"
	tokencachestoretest "lms-gateway/pkg/tokencache/storetest"
)

var (
	_ ratelimit.BucketStore = (*BucketStore)(nil)
	_ tokencache.TTLStore   = (*TTLStore)(nil)
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m := miniredis.RunT(t)
	client := NewClient(config.RedisConfig{
		Addr:         m.Addr(),
		DialTimeout:  time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
	t.Cleanup(func() { _ = client.Close() })
	return m, client
}

func TestBucketStore_Contract(t *testing.T) {
	ratelimitstoretest.Run(t, func(t *testing.T) ratelimit.BucketStore {
		_, client := newTestClient(t)
		return NewBucketStore(client)
	})
}

func TestTTLStore_Contract(t *testing.T) {
	tokencachestoretest.Run(t, func(t *testing.T) (tokencache.TTLStore, func(time.Duration)) {
		m, client := newTestClient(t)
		return NewTTLStore(client), m.FastForward
	})
}

func TestBucketStore_StoresHashUnderPrefix(t *testing.T) {
	m, client := newTestClient(t)
	store := NewBucketStore(client, WithBucketPrefix("rl:"))
	now := time.UnixMilli(1_700_000_000_000)
	cfg := ratelimit.LimitConfig{Limit: 5, Window: time.Minute}

	_, ok, err := store.Apply(context.Background(), "user:42", cfg, now, true)
	require.NoError(t, err)
	require.True(t, ok)

	assert.True(t, m.Exists("rl:user:42"))
	assert.Equal(t, "4", m.HGet("rl:user:42", "tokens"))
	assert.Equal(t, "5", m.HGet("rl:user:42", "limit"))
	assert.Equal(t, "1700000060000", m.HGet("rl:user:42", "reset_at"))
	assert.Equal(t, time.Minute, m.TTL("rl:user:42"))
}

func TestBucketStore_KeyCountIgnoresOtherKeys(t *testing.T) {
	m, client := newTestClient(t)
	store := NewBucketStore(client)
	ctx := context.Background()
	cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}

	require.NoError(t, m.Set("session:abc", "x"))
	for _, key := range []string{"user:a", "user:b", "ip:10.0.0.1"} {
		_, _, err := store.Apply(ctx, key, cfg, time.Now(), true)
		require.NoError(t, err)
	}

	n, err := store.KeyCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestBucketStore_RedisExpiryStartsFreshWindow(t *testing.T) {
	m, client := newTestClient(t)
	store := NewBucketStore(client)
	ctx := context.Background()
	cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}
	now := time.UnixMilli(1_700_000_000_000)

	_, ok, err := store.Apply(ctx, "user:a", cfg, now, true)
	require.NoError(t, err)
	require.True(t, ok)

	m.FastForward(time.Minute)
	assert.False(t, m.Exists(DefaultBucketPrefix+"user:a"))

	b, ok, err := store.Apply(ctx, "user:a", cfg, now.Add(time.Minute), true)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, b.TokensRemaining)
}

func TestBucketStore_Errors(t *testing.T) {
	m, client := newTestClient(t)
	store := NewBucketStore(client)
	ctx := context.Background()
	cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}

	m.SetError("ERR injected")
	_, _, err := store.Apply(ctx, "user:a", cfg, time.Now(), true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "apply user:a")

	require.Error(t, store.Delete(ctx, "user:a"))
	_, err = store.KeyCount(ctx)
	require.Error(t, err)

	m.SetError("")
	_, ok, err := store.Apply(ctx, "user:a", cfg, time.Now(), true)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestBucketStore_BreakerOpensAfterFailures(t *testing.T) {
	m, client := newTestClient(t)
	cb := circuitbreaker.New(circuitbreaker.Config{
		Name:             "redis-test",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          time.Minute,
		FailureThreshold: 0.5,
		MinRequests:      3,
	})
	store := NewBucketStore(client, WithBucketBreaker(cb))
	ctx := context.Background()
	cfg := ratelimit.LimitConfig{Limit: 1, Window: time.Minute}

	m.SetError("ERR injected")
	for i := 0; i < 3; i++ {
		_, _, err := store.Apply(ctx, "user:a", cfg, time.Now(), true)
		require.Error(t, err)
	}
	require.True(t, cb.IsOpen())

	m.SetError("")
	_, _, err := store.Apply(ctx, "user:a", cfg, time.Now(), true)
	require.Error(t, err)
	assert.True(t, circuitbreaker.IsRejection(err))
	assert.False(t, m.Exists(DefaultBucketPrefix+"user:a"), "open breaker must not reach redis")
}

func TestTTLStore_Prefix(t *testing.T) {
	m, client := newTestClient(t)
	store := NewTTLStore(client, WithTTLPrefix("lms:"))
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "session:x", []byte(`{"user_id":"1"}`), time.Minute))
	got, err := m.Get("lms:session:x")
	require.NoError(t, err)
	assert.Equal(t, `{"user_id":"1"}`, got)

	n, err := store.IncrWithTTL(ctx, "attempts:bob", 15*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 15*time.Minute, m.TTL("lms:attempts:bob"))
}

func TestTTLStore_NonPositiveTTLDeletes(t *testing.T) {
	m, client := newTestClient(t)
	store := NewTTLStore(client)
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "k", []byte("v"), time.Minute))
	require.NoError(t, store.Set(ctx, "k", []byte("v"), 0))
	assert.False(t, m.Exists("k"))
}

func TestTTLStore_Errors(t *testing.T) {
	m, client := newTestClient(t)
	store := NewTTLStore(client)
	ctx := context.Background()
	m.SetError("ERR injected")

	_, _, err := store.Get(ctx, "k")
	assert.Error(t, err)
	_, err = store.Exists(ctx, "k")
	assert.Error(t, err)
	_, err = store.IncrWithTTL(ctx, "k", time.Second)
	assert.Error(t, err)
	assert.Error(t, store.Set(ctx, "k", []byte("v"), time.Second))
	assert.Error(t, store.Delete(ctx, "k"))
}

func TestWaitReady(t *testing.T) {
	m, client := newTestClient(t)
	cfg := retry.Config{MaxAttempts: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}

	require.NoError(t, WaitReady(context.Background(), client, cfg))

	addr := m.Addr()
	m.Close()
	err := WaitReady(context.Background(), client, cfg)
	require.Error(t, err)
	assert.False(t, errors.Is(err, context.Canceled))
	assert.ErrorIs(t, err, retry.ErrExhausted)
	assert.Contains(t, err.Error(), addr)
}
