// Package vectorstore provides tenant-scoped, tiered vector index
// implementations over Qdrant (production) and chromem-go (embedded).
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/toneill57/muva-chat-sub006/internal/embeddings"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

// Sentinel errors for vector index operations.
var (
	// ErrInvalidFloor indicates a similarity floor outside [0,1].
	ErrInvalidFloor = errors.New("similarity floor outside [0,1]")

	// ErrInvalidLimit indicates a non-positive or excessive result limit.
	ErrInvalidLimit = errors.New("invalid result limit")

	// ErrInvalidContentType indicates an unknown content type.
	ErrInvalidContentType = errors.New("invalid content type")

	// ErrUnavailable indicates the index could not be reached after
	// bounded retries.
	ErrUnavailable = errors.New("vector index unavailable")

	// ErrEmptyChunks indicates an upsert with no chunks.
	ErrEmptyChunks = errors.New("no chunks to upsert")
)

// MaxResults bounds any single search to prevent unbounded result sets.
const MaxResults = 50

// ContentType classifies an indexed chunk of tenant knowledge.
type ContentType string

const (
	ContentAccommodation ContentType = "accommodation"
	ContentManual        ContentType = "manual"
	ContentTourism       ContentType = "tourism"
	ContentOther         ContentType = "other"
)

// ContentTypes lists all valid content types.
func ContentTypes() []ContentType {
	return []ContentType{ContentAccommodation, ContentManual, ContentTourism, ContentOther}
}

// ParseContentType parses a content type name.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case ContentAccommodation, ContentManual, ContentTourism, ContentOther:
		return ContentType(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidContentType, s)
	}
}

// Chunk is one indexed unit of tenant knowledge.
type Chunk struct {
	// ID is the chunk identifier (UUID).
	ID string

	// TenantID is the owning tenant. A chunk belongs to exactly one tenant.
	TenantID tenant.ID

	// ContentType classifies the source content.
	ContentType ContentType

	// SourceDocument identifies the document this chunk was cut from.
	SourceDocument string

	// ChunkIndex is the chunk's position within its source document. It is
	// the deterministic tie-breaker for equal similarities.
	ChunkIndex int

	// Text is the chunk's text content.
	Text string

	// Metadata carries free-form source attributes (pricing, photos,
	// section titles).
	Metadata map[string]any
}

// SearchResult is one ranked hit from a similarity search.
type SearchResult struct {
	Chunk

	// Similarity is the cosine similarity to the query vector.
	Similarity float32
}

// SearchParams describes one tenant-scoped similarity search.
type SearchParams struct {
	ContentType ContentType
	Tier        embeddings.Tier

	// Vector is the query embedding. Its length must equal the tier width.
	Vector []float32

	// Floor is the minimum cosine similarity for a result to be returned.
	// Candidates below the floor are excluded, not deprioritized.
	Floor float32

	// Limit bounds the result count; capped at MaxResults.
	Limit int
}

// Validate checks search parameters against the index invariants.
func (p SearchParams) Validate() error {
	if _, err := ParseContentType(string(p.ContentType)); err != nil {
		return err
	}
	width := p.Tier.Width()
	if width == 0 {
		return fmt.Errorf("%w: %q", embeddings.ErrInvalidTier, p.Tier)
	}
	if len(p.Vector) != width {
		return fmt.Errorf("%w: tier %s wants %d, got %d", embeddings.ErrDimensionMismatch, p.Tier, width, len(p.Vector))
	}
	if p.Floor < 0 || p.Floor > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidFloor, p.Floor)
	}
	if p.Limit <= 0 || p.Limit > MaxResults {
		return fmt.Errorf("%w: %d (max %d)", ErrInvalidLimit, p.Limit, MaxResults)
	}
	return nil
}

// Index is the tenant-scoped vector search surface. The tenant scope is
// mandatory on every call; there is no search-all-tenants operation.
// Population and maintenance belong to the ingestion collaborators, which
// use the same scoped surface.
type Index interface {
	// Search returns chunks ranked by descending similarity, ties broken
	// by chunk index ascending. Results below params.Floor are excluded.
	// A tenant with no indexed chunks yields an empty, non-error result.
	Search(ctx context.Context, scope tenant.Resolved, params SearchParams) ([]SearchResult, error)

	// UpsertChunks writes chunks and their vectors at one tier. Each
	// vector's length must equal the tier width.
	UpsertChunks(ctx context.Context, scope tenant.Resolved, tier embeddings.Tier, chunks []Chunk, vectors [][]float32) error

	// DeleteDocument removes every chunk of a withdrawn source document
	// across all tiers.
	DeleteDocument(ctx context.Context, scope tenant.Resolved, contentType ContentType, sourceDocument string) error

	Close() error
}

// sortResults orders results by descending similarity, breaking ties by
// chunk index ascending so ordering is reproducible.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}

// validateUpsert checks the shared upsert invariants.
func validateUpsert(tier embeddings.Tier, chunks []Chunk, vectors [][]float32) error {
	if len(chunks) == 0 {
		return ErrEmptyChunks
	}
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d vs %d", len(chunks), len(vectors))
	}
	width := tier.Width()
	if width == 0 {
		return fmt.Errorf("%w: %q", embeddings.ErrInvalidTier, tier)
	}
	for i, vec := range vectors {
		if len(vec) != width {
			return fmt.Errorf("%w: chunk %d: tier %s wants %d, got %d", embeddings.ErrDimensionMismatch, i, tier, width, len(vec))
		}
	}
	for i := range chunks {
		if _, err := ParseContentType(string(chunks[i].ContentType)); err != nil {
			return fmt.Errorf("chunk %d: %w", i, err)
		}
	}
	return nil
}
