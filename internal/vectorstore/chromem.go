package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/embeddings"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

var chromemTracer = otel.Tracer("muva-chat.vectorstore.chromem")

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage. Empty means in-memory
	// only, which is what the tests use.
	Path string

	// Compress enables gzip compression for persisted data.
	Compress bool
}

// ChromemStore is an embedded Index for development and tests. Isolation is
// structural rather than filter-based: each (tenant, content type, tier)
// triple gets its own collection, so a query physically cannot see another
// tenant's chunks.
type ChromemStore struct {
	db     *chromem.DB
	logger *zap.Logger
}

// NewChromemStore creates an embedded store, persistent when config.Path is
// set and purely in-memory otherwise.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var db *chromem.DB
	if config.Path == "" {
		db = chromem.NewDB()
	} else {
		path := config.Path
		if strings.HasPrefix(path, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("expanding path: %w", err)
			}
			path = filepath.Join(home, path[1:])
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return nil, fmt.Errorf("creating directory %s: %w", path, err)
		}
		var err error
		db, err = chromem.NewPersistentDB(path, config.Compress)
		if err != nil {
			return nil, fmt.Errorf("creating chromem DB: %w", err)
		}
	}

	logger.Info("chromem store initialized",
		zap.String("path", config.Path),
		zap.Bool("persistent", config.Path != ""),
	)

	return &ChromemStore{db: db, logger: logger.Named("chromem")}, nil
}

// noEmbedding satisfies chromem's embedding-func parameter. All callers
// supply precomputed vectors, so being asked to embed is a bug.
func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, fmt.Errorf("embedding requested from store; vectors must be precomputed")
}

// collectionName builds the per-scope collection name. Slugs are already
// restricted to [a-z0-9-], so the name stays chromem-safe.
func collectionName(scope tenant.Resolved, contentType ContentType, tier embeddings.Tier) string {
	return fmt.Sprintf("t_%s_%s_%s", scope.Slug(), contentType, tier)
}

// Search implements Index.
func (s *ChromemStore) Search(ctx context.Context, scope tenant.Resolved, params SearchParams) ([]SearchResult, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant", string(scope.ID())),
		attribute.String("content_type", string(params.ContentType)),
		attribute.String("tier", string(params.Tier)),
	)

	if err := params.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	collection := s.db.GetCollection(collectionName(scope, params.ContentType, params.Tier), noEmbedding)
	if collection == nil {
		// Nothing indexed for this scope yet.
		return []SearchResult{}, nil
	}

	// chromem requires nResults <= document count.
	count := collection.Count()
	if count == 0 {
		return []SearchResult{}, nil
	}
	n := params.Limit
	if n > count {
		n = count
	}

	hits, err := collection.QueryEmbedding(ctx, params.Vector, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]SearchResult, 0, len(hits))
	for _, hit := range hits {
		if hit.Similarity < params.Floor {
			continue
		}
		results = append(results, SearchResult{
			Chunk:      chunkFromDocument(scope, params.ContentType, hit.ID, hit.Content, hit.Metadata),
			Similarity: hit.Similarity,
		})
	}
	sortResults(results)

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// UpsertChunks implements Index.
func (s *ChromemStore) UpsertChunks(ctx context.Context, scope tenant.Resolved, tier embeddings.Tier, chunks []Chunk, vectors [][]float32) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.UpsertChunks")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant", string(scope.ID())),
		attribute.String("tier", string(tier)),
		attribute.Int("chunks", len(chunks)),
	)

	if err := validateUpsert(tier, chunks, vectors); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	// Group by content type since each type has its own collection.
	byType := make(map[ContentType][]chromem.Document)
	for i, chunk := range chunks {
		byType[chunk.ContentType] = append(byType[chunk.ContentType], chromem.Document{
			ID:        chunk.ID,
			Content:   chunk.Text,
			Metadata:  documentMetadata(chunk),
			Embedding: vectors[i],
		})
	}

	for contentType, docs := range byType {
		collection, err := s.db.GetOrCreateCollection(collectionName(scope, contentType, tier), nil, noEmbedding)
		if err != nil {
			span.RecordError(err)
			return fmt.Errorf("creating collection: %w", err)
		}
		if err := collection.AddDocuments(ctx, docs, 1); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("adding documents: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteDocument implements Index. Removes the document's chunks from all
// tier collections of the scope.
func (s *ChromemStore) DeleteDocument(ctx context.Context, scope tenant.Resolved, contentType ContentType, sourceDocument string) error {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.DeleteDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant", string(scope.ID())),
		attribute.String("source_document", sourceDocument),
	)

	if _, err := ParseContentType(string(contentType)); err != nil {
		return err
	}

	where := map[string]string{"source_document": sourceDocument}
	for _, tier := range []embeddings.Tier{embeddings.TierFast, embeddings.TierBalanced, embeddings.TierFull} {
		collection := s.db.GetCollection(collectionName(scope, contentType, tier), noEmbedding)
		if collection == nil {
			continue
		}
		if err := collection.Delete(ctx, where, nil); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("deleting from collection: %w", err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

// Close is a no-op; chromem persists writes as they happen.
func (s *ChromemStore) Close() error { return nil }

// documentMetadata flattens a chunk into chromem's string-valued metadata.
func documentMetadata(chunk Chunk) map[string]string {
	meta := map[string]string{
		"source_document": chunk.SourceDocument,
		"chunk_index":     strconv.Itoa(chunk.ChunkIndex),
	}
	if len(chunk.Metadata) > 0 {
		if raw, err := json.Marshal(chunk.Metadata); err == nil {
			meta["extra"] = string(raw)
		}
	}
	return meta
}

// chunkFromDocument reverses documentMetadata. The tenant and content type
// come from the collection identity, not from stored fields.
func chunkFromDocument(scope tenant.Resolved, contentType ContentType, id, content string, meta map[string]string) Chunk {
	chunk := Chunk{
		ID:             id,
		TenantID:       scope.ID(),
		ContentType:    contentType,
		SourceDocument: meta["source_document"],
		Text:           content,
	}
	if idx, err := strconv.Atoi(meta["chunk_index"]); err == nil {
		chunk.ChunkIndex = idx
	}
	if raw, ok := meta["extra"]; ok {
		var extra map[string]any
		if err := json.Unmarshal([]byte(raw), &extra); err == nil {
			chunk.Metadata = extra
		}
	}
	return chunk
}

var _ Index = (*ChromemStore)(nil)
var _ Index = (*QdrantStore)(nil)
