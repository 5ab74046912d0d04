package tenant

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Registry looks up tenant records by slug. Backed by the tenants table in
// production; tests supply an in-memory fake.
type Registry interface {
	// BySlug returns the tenant with the given slug, active or not.
	// Returns ErrNotFound when no such tenant exists.
	BySlug(ctx context.Context, slug string) (*Tenant, error)
}

// PostgresRegistry reads tenants from the relational store.
type PostgresRegistry struct {
	db *sql.DB
}

// NewPostgresRegistry creates a registry backed by the given database.
func NewPostgresRegistry(db *sql.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// BySlug implements Registry.
func (r *PostgresRegistry) BySlug(ctx context.Context, slug string) (*Tenant, error) {
	var t Tenant
	err := r.db.QueryRowContext(ctx,
		`SELECT id, slug, name, active FROM tenants WHERE slug = $1`,
		slug,
	).Scan(&t.ID, &t.Slug, &t.Name, &t.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying tenant %q: %w", slug, err)
	}
	return &t, nil
}
