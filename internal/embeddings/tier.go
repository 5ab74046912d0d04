// Package embeddings generates fixed-width query and document embeddings at
// one of three precision tiers.
package embeddings

import (
	"errors"
	"fmt"
)

// Package errors.
var (
	// ErrEmptyText indicates text that is empty after trimming. Rejected
	// before any provider call is made.
	ErrEmptyText = errors.New("text is empty")

	// ErrInvalidTier indicates an unknown tier name.
	ErrInvalidTier = errors.New("invalid embedding tier")

	// ErrDimensionMismatch indicates the provider returned a vector whose
	// width does not match the requested tier. Never retried, never
	// truncated or padded.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrProviderUnavailable indicates the provider could not be reached
	// or kept failing transiently after bounded retries.
	ErrProviderUnavailable = errors.New("embedding provider unavailable")
)

// Tier selects an embedding precision/width trade-off. The mapping from
// content type to tier is fixed configuration, not a per-call choice.
type Tier string

const (
	// TierFast is the cheapest tier, used for coarse high-volume content
	// such as tourism listings.
	TierFast Tier = "fast"
	// TierBalanced is the mid tier, used for policy and manual text.
	TierBalanced Tier = "balanced"
	// TierFull is the widest tier, used where false positives are costly,
	// e.g. disambiguating a specific accommodation unit.
	TierFull Tier = "full"
)

// Tier widths. These match the matryoshka truncation points of the
// underlying embedding model and are part of the persisted index layout;
// changing them requires reindexing.
const (
	WidthFast     = 1024
	WidthBalanced = 1536
	WidthFull     = 3072
)

// Width returns the vector width for the tier, or 0 for an unknown tier.
func (t Tier) Width() int {
	switch t {
	case TierFast:
		return WidthFast
	case TierBalanced:
		return WidthBalanced
	case TierFull:
		return WidthFull
	default:
		return 0
	}
}

// ParseTier parses a tier name.
func ParseTier(s string) (Tier, error) {
	switch Tier(s) {
	case TierFast, TierBalanced, TierFull:
		return Tier(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidTier, s)
	}
}
