package tenant

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T, ttl time.Duration) (Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache, err := NewCache(CacheRedis, WithRedisClient(client), WithTTL(ttl))
	require.NoError(t, err)
	t.Cleanup(func() { cache.Close() })
	return cache, mr
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	cache, err := NewCache(CacheMemory)
	require.NoError(t, err)
	ctx := context.Background()

	_, hit, err := cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	assert.False(t, hit)

	want := activeTenant("oceanview")
	require.NoError(t, cache.Set(ctx, "oceanview", &want))

	got, hit, err := cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, want, *got)

	require.NoError(t, cache.Invalidate(ctx, "oceanview"))
	_, hit, err = cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheRoundTrip(t *testing.T) {
	cache, _ := newRedisCache(t, time.Minute)
	ctx := context.Background()

	want := activeTenant("oceanview")
	require.NoError(t, cache.Set(ctx, "oceanview", &want))

	got, hit, err := cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, want, *got)

	require.NoError(t, cache.Invalidate(ctx, "oceanview"))
	_, hit, err = cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheExpiry(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	want := activeTenant("oceanview")
	require.NoError(t, cache.Set(ctx, "oceanview", &want))

	mr.FastForward(2 * time.Minute)

	_, hit, err := cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	assert.False(t, hit)
}

func TestRedisCacheCorruptEntryIsMiss(t *testing.T) {
	cache, mr := newRedisCache(t, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set("tenant:oceanview", "not json"))

	_, hit, err := cache.Get(ctx, "oceanview")
	require.NoError(t, err)
	assert.False(t, hit)

	// The poisoned key was dropped.
	assert.False(t, mr.Exists("tenant:oceanview"))
}

func TestNewCacheValidation(t *testing.T) {
	_, err := NewCache(CacheRedis)
	assert.ErrorIs(t, err, ErrInvalidCacheConfig)

	_, err = NewCache("memcached")
	assert.ErrorIs(t, err, ErrInvalidCacheDriver)
}
