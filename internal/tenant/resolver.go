package tenant

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Resolver maps request origins to active tenants, with a short-TTL cache in
// front of the registry.
type Resolver struct {
	registry   Registry
	cache      Cache
	baseDomain string
	logger     *zap.Logger
}

// NewResolver creates a resolver. cache may be nil to disable caching.
func NewResolver(registry Registry, cache Cache, baseDomain string, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		registry:   registry,
		cache:      cache,
		baseDomain: baseDomain,
		logger:     logger.Named("tenant"),
	}
}

// ResolveHost resolves the tenant for a request host such as
// "oceanview.muva.chat:443". Malformed hosts resolve to ErrNotFound.
func (r *Resolver) ResolveHost(ctx context.Context, host string) (Resolved, error) {
	slug, ok := SubdomainFromHost(host, r.baseDomain)
	if !ok {
		return Resolved{}, ErrNotFound
	}
	return r.Resolve(ctx, slug)
}

// Resolve resolves a subdomain slug to an active tenant. Inactive tenants
// and malformed slugs resolve to ErrNotFound.
func (r *Resolver) Resolve(ctx context.Context, slug string) (Resolved, error) {
	if !ValidSlug(slug) {
		return Resolved{}, ErrNotFound
	}

	if r.cache != nil {
		cached, hit, err := r.cache.Get(ctx, slug)
		if err != nil {
			// A broken cache must not take tenant resolution down.
			r.logger.Warn("tenant cache read failed", zap.String("slug", slug), zap.Error(err))
		} else if hit {
			if !cached.Active {
				return Resolved{}, ErrNotFound
			}
			return Resolved{tenant: *cached}, nil
		}
	}

	t, err := r.registry.BySlug(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		return Resolved{}, ErrNotFound
	}
	if err != nil {
		return Resolved{}, fmt.Errorf("resolving tenant %q: %w", slug, err)
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, slug, t); err != nil {
			r.logger.Warn("tenant cache write failed", zap.String("slug", slug), zap.Error(err))
		}
	}

	if !t.Active {
		return Resolved{}, ErrNotFound
	}
	return Resolved{tenant: *t}, nil
}

// Invalidate drops a tenant from the cache. Called when an administrator
// deactivates a tenant so the change takes effect before the TTL expires.
func (r *Resolver) Invalidate(ctx context.Context, slug string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Invalidate(ctx, slug); err != nil {
		r.logger.Warn("tenant cache invalidation failed", zap.String("slug", slug), zap.Error(err))
	}
}
