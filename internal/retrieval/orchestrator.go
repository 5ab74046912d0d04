// Package retrieval assembles the answer context for a guest query: classify
// the query, embed it at each needed tier, search the tenant's vector index
// per content type, and merge the hits into one ranked context.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/config"
	"github.com/toneill57/muva-chat-sub006/internal/embeddings"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

var tracer = otel.Tracer("muva-chat.retrieval")

// Sentinel errors for retrieval.
var (
	// ErrEmptyQuery indicates a query that is empty after trimming.
	ErrEmptyQuery = errors.New("empty query")

	// ErrNoRoute indicates a content type with no configured route.
	ErrNoRoute = errors.New("no route for content type")
)

// Route is the resolved retrieval policy for one content type.
type Route struct {
	Tier  embeddings.Tier
	Floor float32
	Limit int
}

// Options configures the orchestrator.
type Options struct {
	// Routes maps each content type to its tier, floor, and limit.
	Routes map[vectorstore.ContentType]Route

	// FallbackFloorFactor scales the floor for the single relaxed retry
	// taken when the first pass yields nothing. Must be in (0,1).
	FallbackFloorFactor float32
}

// OptionsFromConfig converts the daemon routing config.
func OptionsFromConfig(cfg config.RetrievalConfig) (Options, error) {
	routes := make(map[vectorstore.ContentType]Route, len(cfg.Routes))
	for name, route := range cfg.Routes {
		contentType, err := vectorstore.ParseContentType(name)
		if err != nil {
			return Options{}, err
		}
		tier, err := embeddings.ParseTier(route.Tier)
		if err != nil {
			return Options{}, err
		}
		routes[contentType] = Route{
			Tier:  tier,
			Floor: float32(route.Floor),
			Limit: route.Limit,
		}
	}
	return Options{
		Routes:              routes,
		FallbackFloorFactor: float32(cfg.FallbackFloorFactor),
	}, nil
}

// Orchestrator runs the retrieval pipeline against one tenant scope.
type Orchestrator struct {
	provider embeddings.Provider
	index    vectorstore.Index
	options  Options
	metrics  *Metrics
	logger   *zap.Logger
}

// NewOrchestrator creates an orchestrator. Every content type must have a
// route; searches never improvise policy at runtime.
func NewOrchestrator(provider embeddings.Provider, index vectorstore.Index, options Options, logger *zap.Logger) (*Orchestrator, error) {
	if provider == nil {
		return nil, fmt.Errorf("embedding provider is required")
	}
	if index == nil {
		return nil, fmt.Errorf("vector index is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	for _, contentType := range vectorstore.ContentTypes() {
		if _, ok := options.Routes[contentType]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoRoute, contentType)
		}
	}
	if options.FallbackFloorFactor <= 0 || options.FallbackFloorFactor >= 1 {
		return nil, fmt.Errorf("fallback floor factor %v outside (0,1)", options.FallbackFloorFactor)
	}
	return &Orchestrator{
		provider: provider,
		index:    index,
		options:  options,
		metrics:  NewMetrics(logger),
		logger:   logger.Named("retrieval"),
	}, nil
}

// AnswerContext retrieves the ranked chunks backing an answer to query.
// When contentTypes is empty the query is classified; explicit types skip
// classification. A tenant with nothing indexed gets an empty result and a
// nil error.
func (o *Orchestrator) AnswerContext(ctx context.Context, scope tenant.Resolved, query string, contentTypes []vectorstore.ContentType) ([]vectorstore.SearchResult, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.AnswerContext")
	defer span.End()

	start := time.Now()
	usedFallback := false
	var merged []vectorstore.SearchResult
	defer func() {
		o.metrics.RecordRetrieval(ctx, scope.Slug(), time.Since(start), len(merged), usedFallback)
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		span.SetStatus(codes.Error, ErrEmptyQuery.Error())
		return nil, ErrEmptyQuery
	}

	if len(contentTypes) == 0 {
		contentTypes = Classify(query)
	} else {
		// Validate and dedupe; a repeated type must not be searched or
		// ranked twice.
		seen := make(map[vectorstore.ContentType]bool, len(contentTypes))
		deduped := make([]vectorstore.ContentType, 0, len(contentTypes))
		for _, contentType := range contentTypes {
			if _, err := vectorstore.ParseContentType(string(contentType)); err != nil {
				span.SetStatus(codes.Error, err.Error())
				return nil, err
			}
			if seen[contentType] {
				continue
			}
			seen[contentType] = true
			deduped = append(deduped, contentType)
		}
		contentTypes = deduped
	}

	span.SetAttributes(
		attribute.String("tenant", scope.Slug()),
		attribute.Int("content_types", len(contentTypes)),
	)

	// Embed once per distinct tier, not once per content type.
	vectors := make(map[embeddings.Tier][]float32)
	for _, contentType := range contentTypes {
		route, ok := o.options.Routes[contentType]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoRoute, contentType)
		}
		if _, done := vectors[route.Tier]; done {
			continue
		}
		vector, err := o.provider.Embed(ctx, query, route.Tier)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, fmt.Errorf("embedding query at tier %s: %w", route.Tier, err)
		}
		vectors[route.Tier] = vector
	}

	merged, err := o.searchAll(ctx, scope, contentTypes, vectors, 1.0)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// One relaxed retry when nothing cleared the floors. The embeddings
	// are reused; only the floors move.
	if len(merged) == 0 {
		usedFallback = true
		o.logger.Debug("retrieval empty, retrying at relaxed floor",
			zap.String("tenant", scope.Slug()),
		)
		merged, err = o.searchAll(ctx, scope, contentTypes, vectors, o.options.FallbackFloorFactor)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	rankMerged(merged)

	span.SetAttributes(
		attribute.Int("results", len(merged)),
		attribute.Bool("fallback", usedFallback),
	)
	span.SetStatus(codes.Ok, "")
	return merged, nil
}

// searchAll runs one tenant-scoped search per content type and concatenates
// the hits. floorFactor scales each route's floor; 1.0 is the first pass.
func (o *Orchestrator) searchAll(ctx context.Context, scope tenant.Resolved, contentTypes []vectorstore.ContentType, vectors map[embeddings.Tier][]float32, floorFactor float32) ([]vectorstore.SearchResult, error) {
	var merged []vectorstore.SearchResult
	for _, contentType := range contentTypes {
		route := o.options.Routes[contentType]
		results, err := o.index.Search(ctx, scope, vectorstore.SearchParams{
			ContentType: contentType,
			Tier:        route.Tier,
			Vector:      vectors[route.Tier],
			Floor:       route.Floor * floorFactor,
			Limit:       route.Limit,
		})
		if err != nil {
			return nil, fmt.Errorf("searching %s: %w", contentType, err)
		}
		merged = append(merged, results...)
	}
	if merged == nil {
		merged = []vectorstore.SearchResult{}
	}
	return merged, nil
}

// rankMerged re-ranks the concatenated per-type results globally: descending
// similarity, ties by chunk index ascending.
func rankMerged(results []vectorstore.SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].ChunkIndex < results[j].ChunkIndex
	})
}
