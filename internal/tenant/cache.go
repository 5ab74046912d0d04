package tenant

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache errors.
var (
	ErrInvalidCacheConfig = errors.New("invalid cache configuration")
	ErrInvalidCacheDriver = errors.New("invalid cache driver")
)

// CacheDriver selects the tenant-cache backend.
type CacheDriver string

const (
	CacheMemory CacheDriver = "memory"
	CacheRedis  CacheDriver = "redis"
)

// Cache is a short-TTL cache for tenant lookups. Tenant metadata changes
// rarely, so a few minutes of staleness is acceptable everywhere except
// deactivation, which must call Invalidate.
type Cache interface {
	Get(ctx context.Context, slug string) (*Tenant, bool, error)
	Set(ctx context.Context, slug string, t *Tenant) error
	Invalidate(ctx context.Context, slug string) error
	Close() error
}

// CacheOption is a functional option for configuring a cache.
type CacheOption func(*cacheConfig)

type cacheConfig struct {
	redisClient *redis.Client
	ttl         time.Duration
}

// WithRedisClient sets the Redis client for the redis driver.
func WithRedisClient(client *redis.Client) CacheOption {
	return func(c *cacheConfig) { c.redisClient = client }
}

// WithTTL sets the cache entry lifetime. Defaults to 5 minutes.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *cacheConfig) { c.ttl = ttl }
}

// NewCache creates a tenant cache for the given driver.
func NewCache(driver CacheDriver, opts ...CacheOption) (Cache, error) {
	cfg := &cacheConfig{ttl: 5 * time.Minute}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ttl <= 0 {
		cfg.ttl = 5 * time.Minute
	}

	switch driver {
	case CacheMemory:
		return &memoryCache{
			entries: make(map[string]memoryCacheEntry),
			ttl:     cfg.ttl,
		}, nil
	case CacheRedis:
		if cfg.redisClient == nil {
			return nil, ErrInvalidCacheConfig
		}
		return &redisCache{client: cfg.redisClient, ttl: cfg.ttl}, nil
	default:
		return nil, ErrInvalidCacheDriver
	}
}

type memoryCacheEntry struct {
	tenant  Tenant
	expires time.Time
}

// memoryCache implements Cache with an in-process map.
type memoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
}

func (c *memoryCache) Get(ctx context.Context, slug string) (*Tenant, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[slug]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expires) {
		return nil, false, nil
	}
	t := entry.tenant
	return &t, true, nil
}

func (c *memoryCache) Set(ctx context.Context, slug string, t *Tenant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[slug] = memoryCacheEntry{tenant: *t, expires: time.Now().Add(c.ttl)}
	return nil
}

func (c *memoryCache) Invalidate(ctx context.Context, slug string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, slug)
	return nil
}

func (c *memoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = nil
	return nil
}

// redisCache implements Cache on Redis so a fleet of daemons shares one
// tenant cache and one invalidation.
type redisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func cacheKey(slug string) string { return "tenant:" + slug }

func (c *redisCache) Get(ctx context.Context, slug string) (*Tenant, bool, error) {
	val, err := c.client.Get(ctx, cacheKey(slug)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var t Tenant
	if err := json.Unmarshal([]byte(val), &t); err != nil {
		// Treat a corrupt entry as a miss; the registry is authoritative.
		_ = c.client.Del(ctx, cacheKey(slug)).Err()
		return nil, false, nil
	}
	return &t, true, nil
}

func (c *redisCache) Set(ctx context.Context, slug string, t *Tenant) error {
	val, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, cacheKey(slug), val, c.ttl).Err()
}

func (c *redisCache) Invalidate(ctx context.Context, slug string) error {
	return c.client.Del(ctx, cacheKey(slug)).Err()
}

func (c *redisCache) Close() error {
	return c.client.Close()
}
