// Package tenanttest provides helpers for constructing resolved tenant
// identities in tests. Production code must go through tenant.Resolver.
package tenanttest

import (
	"context"
	"testing"

	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

type staticRegistry struct {
	tenants map[string]tenant.Tenant
}

func (r staticRegistry) BySlug(ctx context.Context, slug string) (*tenant.Tenant, error) {
	t, ok := r.tenants[slug]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return &t, nil
}

// Resolved returns a resolved identity for an active tenant with the given
// ID and slug.
func Resolved(t *testing.T, id tenant.ID, slug string) tenant.Resolved {
	t.Helper()
	reg := staticRegistry{tenants: map[string]tenant.Tenant{
		slug: {ID: id, Slug: slug, Name: slug, Active: true},
	}}
	resolver := tenant.NewResolver(reg, nil, "muva.chat", nil)
	resolved, err := resolver.Resolve(context.Background(), slug)
	if err != nil {
		t.Fatalf("resolving test tenant %q: %v", slug, err)
	}
	return resolved
}
