package tokencache_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lms-gateway/pkg/tokencache"
)

func TestHashToken(t *testing.T) {
	h := tokencache.HashToken("secret-token")

	assert.Len(t, h, 64)
	assert.Equal(t, h, tokencache.HashToken("secret-token"))
	assert.NotEqual(t, h, tokencache.HashToken("secret-token2"))
	assert.NotContains(t, h, "secret")
}

// recordingStore remembers every key it was asked to write.
type recordingStore struct {
	*tokencache.MemoryStore
	keys []string
}

func (s *recordingStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.keys = append(s.keys, key)
	return s.MemoryStore.Set(ctx, key, value, ttl)
}

func (s *recordingStore) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.keys = append(s.keys, key)
	return s.MemoryStore.IncrWithTTL(ctx, key, ttl)
}

func TestSessionCache_Namespaces(t *testing.T) {
	mem, _ := newMemoryStore(t)
	store := &recordingStore{MemoryStore: mem}
	cache := tokencache.NewSessionCache(store)
	ctx := context.Background()
	const raw = "eyJhbGciOiJIUzI1NiJ9.payload.sig"

	require.NoError(t, cache.StoreSession(ctx, "sid-1", tokencache.Session{UserID: "u1"}, time.Minute))
	require.NoError(t, cache.BlacklistToken(ctx, raw, time.Minute))
	require.NoError(t, cache.StoreRefreshToken(ctx, raw, "u1", time.Minute))
	_, err := cache.IncrementLoginAttempts(ctx, "Alice@Example.com", time.Minute)
	require.NoError(t, err)

	want := []string{
		"session:sid-1",
		"blacklist:" + tokencache.HashToken(raw),
		"refresh:" + tokencache.HashToken(raw),
		"attempts:alice@example.com",
	}
	assert.Equal(t, want, store.keys)
	for _, k := range store.keys {
		assert.False(t, strings.Contains(k, raw), "raw token leaked into key %q", k)
	}
}

func TestSessionCache_Sessions(t *testing.T) {
	store, clock := newMemoryStore(t)
	cache := tokencache.NewSessionCache(store)
	ctx := context.Background()

	created := clock.Now()
	s := tokencache.Session{UserID: "u1", Role: "admin", IP: "10.0.0.1", UserAgent: "curl", CreatedAt: created}
	require.NoError(t, cache.StoreSession(ctx, "sid", s, time.Hour))

	got, err := cache.GetSession(ctx, "sid")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "admin", got.Role)
	assert.True(t, got.CreatedAt.Equal(created))

	require.NoError(t, cache.DeleteSession(ctx, "sid"))
	_, err = cache.GetSession(ctx, "sid")
	assert.True(t, errors.Is(err, tokencache.ErrSessionNotFound))

	assert.ErrorIs(t, cache.StoreSession(ctx, "sid", s, 0), tokencache.ErrInvalidTTL)
}

func TestSessionCache_SessionExpires(t *testing.T) {
	store, clock := newMemoryStore(t)
	cache := tokencache.NewSessionCache(store)
	ctx := context.Background()

	require.NoError(t, cache.StoreSession(ctx, "sid", tokencache.Session{UserID: "u1"}, time.Minute))
	clock.Advance(time.Minute)

	_, err := cache.GetSession(ctx, "sid")
	assert.ErrorIs(t, err, tokencache.ErrSessionNotFound)
}

func TestSessionCache_Blacklist(t *testing.T) {
	store, clock := newMemoryStore(t)
	cache := tokencache.NewSessionCache(store)
	ctx := context.Background()

	ok, err := cache.IsTokenBlacklisted(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.BlacklistToken(ctx, "tok", 30*time.Second))
	ok, err = cache.IsTokenBlacklisted(ctx, "tok")
	require.NoError(t, err)
	assert.True(t, ok)

	clock.Advance(30 * time.Second)
	ok, err = cache.IsTokenBlacklisted(ctx, "tok")
	require.NoError(t, err)
	assert.False(t, ok)

	// Already-expired tokens need no entry.
	require.NoError(t, cache.BlacklistToken(ctx, "old", -time.Second))
	assert.Equal(t, 0, store.Len())
}

func TestSessionCache_RefreshTokens(t *testing.T) {
	store, _ := newMemoryStore(t)
	cache := tokencache.NewSessionCache(store)
	ctx := context.Background()

	require.NoError(t, cache.StoreRefreshToken(ctx, "refresh-1", "u1", time.Hour))

	user, found, err := cache.GetRefreshTokenUser(ctx, "refresh-1")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "u1", user)

	require.NoError(t, cache.RevokeRefreshToken(ctx, "refresh-1"))
	_, found, err = cache.GetRefreshTokenUser(ctx, "refresh-1")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSessionCache_LoginAttempts(t *testing.T) {
	store, clock := newMemoryStore(t)
	cache := tokencache.NewSessionCache(store)
	ctx := context.Background()
	window := 15 * time.Minute

	n, err := cache.GetLoginAttempts(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	for want := 1; want <= 3; want++ {
		n, err := cache.IncrementLoginAttempts(ctx, "bob@example.com", window)
		require.NoError(t, err)
		assert.Equal(t, want, n)
		clock.Advance(time.Minute)
	}

	n, err = cache.GetLoginAttempts(ctx, "BOB@example.com ")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	// The window runs from the first failure.
	clock.Advance(window - 3*time.Minute)
	n, err = cache.GetLoginAttempts(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = cache.IncrementLoginAttempts(ctx, "bob@example.com", window)
	require.NoError(t, err)
	require.NoError(t, cache.ResetLoginAttempts(ctx, "bob@example.com"))
	n, err = cache.GetLoginAttempts(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = cache.IncrementLoginAttempts(ctx, "bob@example.com", 0)
	assert.ErrorIs(t, err, tokencache.ErrInvalidTTL)
}
