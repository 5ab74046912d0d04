// Package tenant resolves request origins to tenant identities.
//
// Every piece of guest-facing data in muva-chat is owned by exactly one
// tenant. The resolver is the only component that turns untrusted request
// input (the Host header) into a tenant identity, and it hands that identity
// out as the distinct Resolved type so downstream code cannot confuse it
// with a client-supplied or token-supplied tenant ID.
package tenant

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNotFound is returned when no active tenant matches the requested origin.
// Callers must branch on it: an unknown tenant is a first-class outcome, not
// a system fault, and must stay distinguishable from authentication failures.
var ErrNotFound = errors.New("tenant not found")

// ID is a tenant identifier (UUID).
type ID string

// Tenant is a hospitality business account, the unit of data isolation.
type Tenant struct {
	ID     ID     `json:"id"`
	Slug   string `json:"slug"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Resolved is a tenant identity established from the current request's
// origin. It is only constructed by the Resolver; holding a Resolved value
// is proof the tenant lookup actually happened for this request.
type Resolved struct {
	tenant Tenant
}

// ID returns the resolved tenant's identifier.
func (r Resolved) ID() ID { return r.tenant.ID }

// Slug returns the resolved tenant's subdomain slug.
func (r Resolved) Slug() string { return r.tenant.Slug }

// Tenant returns a copy of the underlying tenant record.
func (r Resolved) Tenant() Tenant { return r.tenant }

// slugPattern validates subdomain tokens: lowercase alphanumeric and hyphen.
var slugPattern = regexp.MustCompile(`^[a-z0-9-]+$`)

// ValidSlug reports whether s is a well-formed subdomain token.
func ValidSlug(s string) bool {
	return slugPattern.MatchString(s)
}

// SubdomainFromHost extracts the candidate subdomain token from a request
// host. "oceanview.muva.chat" with base domain "muva.chat" yields
// "oceanview". A bare base domain, a port-only mismatch, or a malformed
// token all yield ok=false; the caller treats that as tenant-not-found
// rather than an error.
func SubdomainFromHost(host, baseDomain string) (string, bool) {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, found := strings.Cut(host, ":"); found {
		host = h
	}
	suffix := "." + strings.ToLower(baseDomain)
	sub, ok := strings.CutSuffix(host, suffix)
	if !ok || sub == "" {
		return "", false
	}
	// Nested subdomains (a.b.muva.chat) do not map to a tenant.
	if strings.Contains(sub, ".") {
		return "", false
	}
	if !ValidSlug(sub) {
		return "", false
	}
	return sub, true
}
