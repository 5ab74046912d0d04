package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/toneill57/muva-chat-sub006/internal/embeddings"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
)

var qdrantTracer = otel.Tracer("muva-chat.vectorstore.qdrant")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname or IP address.
	Host string

	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port int

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// CollectionPrefix namespaces the per-tier collections. Each tier has
	// its own collection because vector widths differ per tier.
	CollectionPrefix string

	// MaxRetries bounds retry attempts for transient failures. Default 3.
	MaxRetries int

	// RetryBackoff is the initial backoff duration; doubles per retry.
	// Default 1s.
	RetryBackoff time.Duration
}

func (c *QdrantConfig) applyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
	}
	if c.CollectionPrefix == "" {
		c.CollectionPrefix = "chunks"
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = time.Second
	}
}

// isTransient reports whether a gRPC error should be retried.
func isTransient(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// QdrantStore is an Index over Qdrant's native gRPC transport. Tenant
// isolation is enforced by a mandatory tenant_id payload filter injected
// from the resolved scope on every query; there is no unscoped path.
type QdrantStore struct {
	client *qdrant.Client
	config QdrantConfig
}

// NewQdrantStore connects to Qdrant, health-checks the connection, and
// ensures the three per-tier collections exist.
func NewQdrantStore(ctx context.Context, config QdrantConfig) (*QdrantStore, error) {
	config.applyDefaults()

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		UseTLS: config.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	store := &QdrantStore{client: client, config: config}

	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := client.HealthCheck(healthCtx); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: health check: %v", ErrUnavailable, err)
	}

	for _, tier := range []embeddings.Tier{embeddings.TierFast, embeddings.TierBalanced, embeddings.TierFull} {
		if err := store.ensureCollection(ctx, tier); err != nil {
			_ = client.Close()
			return nil, err
		}
	}

	return store, nil
}

// collectionName returns the collection for a tier, e.g. "chunks_full".
func (s *QdrantStore) collectionName(tier embeddings.Tier) string {
	return fmt.Sprintf("%s_%s", s.config.CollectionPrefix, tier)
}

func (s *QdrantStore) ensureCollection(ctx context.Context, tier embeddings.Tier) error {
	name := s.collectionName(tier)
	exists, err := s.client.CollectionExists(ctx, name)
	if err != nil {
		return fmt.Errorf("checking collection %s: %w", name, err)
	}
	if exists {
		return nil
	}
	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(tier.Width()),
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// retryOperation retries a transient-failing operation with exponential
// backoff, respecting context cancellation.
func (s *QdrantStore) retryOperation(ctx context.Context, name string, operation func() error) error {
	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err := operation()
		if err == nil {
			return nil
		}
		if !isTransient(err) {
			return fmt.Errorf("%s failed: %w", name, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%w: %s failed after %d retries: %v", ErrUnavailable, name, s.config.MaxRetries, err)
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", name, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
}

// Search implements Index.
func (s *QdrantStore) Search(ctx context.Context, scope tenant.Resolved, params SearchParams) ([]SearchResult, error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Search")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant", string(scope.ID())),
		attribute.String("content_type", string(params.ContentType)),
		attribute.String("tier", string(params.Tier)),
		attribute.Int("limit", params.Limit),
	)

	if err := params.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", string(scope.ID())),
			qdrant.NewMatch("content_type", string(params.ContentType)),
		},
	}

	var points []*qdrant.ScoredPoint
	err := s.retryOperation(ctx, "search", func() error {
		res, err := s.client.Query(ctx, &qdrant.QueryPoints{
			CollectionName: s.collectionName(params.Tier),
			Query:          qdrant.NewQuery(params.Vector...),
			Limit:          qdrant.PtrOf(uint64(params.Limit)),
			Filter:         filter,
			ScoreThreshold: qdrant.PtrOf(params.Floor),
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	results := make([]SearchResult, 0, len(points))
	for _, point := range points {
		// ScoreThreshold is inclusive; keep the floor authoritative here
		// too so behavior matches the embedded store exactly.
		if point.Score < params.Floor {
			continue
		}
		results = append(results, SearchResult{
			Chunk:      chunkFromPayload(point.Payload),
			Similarity: point.Score,
		})
	}
	sortResults(results)

	span.SetAttributes(attribute.Int("results", len(results)))
	span.SetStatus(codes.Ok, "")
	return results, nil
}

// UpsertChunks implements Index.
func (s *QdrantStore) UpsertChunks(ctx context.Context, scope tenant.Resolved, tier embeddings.Tier, chunks []Chunk, vectors [][]float32) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.UpsertChunks")
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

	points := make([]*qdrant.PointStruct, len(chunks))
	for i, chunk := range chunks {
		pointID := chunk.ID
		if _, err := uuid.Parse(pointID); err != nil {
			pointID = uuid.New().String()
		}
		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(pointID),
			Vectors: qdrant.NewVectors(vectors[i]...),
			Payload: payloadFromChunk(scope, chunk),
		}
	}

	err := s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.collectionName(tier),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// DeleteDocument implements Index. Removes the document's chunks from all
// tier collections.
func (s *QdrantStore) DeleteDocument(ctx context.Context, scope tenant.Resolved, contentType ContentType, sourceDocument string) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.DeleteDocument")
	defer span.End()

	span.SetAttributes(
		attribute.String("tenant", string(scope.ID())),
		attribute.String("source_document", sourceDocument),
	)

	if _, err := ParseContentType(string(contentType)); err != nil {
		return err
	}

	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{
			qdrant.NewMatch("tenant_id", string(scope.ID())),
			qdrant.NewMatch("content_type", string(contentType)),
			qdrant.NewMatch("source_document", sourceDocument),
		},
	}

	for _, tier := range []embeddings.Tier{embeddings.TierFast, embeddings.TierBalanced, embeddings.TierFull} {
		name := s.collectionName(tier)
		err := s.retryOperation(ctx, "delete", func() error {
			_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
				CollectionName: name,
				Points: &qdrant.PointsSelector{
					PointsSelectorOneOf: &qdrant.PointsSelector_Filter{Filter: filter},
				},
			})
			return err
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return err
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// payloadFromChunk builds the Qdrant payload. The tenant_id comes from the
// resolved scope, never from the chunk, so a mislabeled chunk cannot cross
// the tenant boundary.
func payloadFromChunk(scope tenant.Resolved, chunk Chunk) map[string]*qdrant.Value {
	payload := map[string]*qdrant.Value{
		"chunk_id":        qdrant.NewValueString(chunk.ID),
		"tenant_id":       qdrant.NewValueString(string(scope.ID())),
		"content_type":    qdrant.NewValueString(string(chunk.ContentType)),
		"source_document": qdrant.NewValueString(chunk.SourceDocument),
		"chunk_index":     qdrant.NewValueInt(int64(chunk.ChunkIndex)),
		"content":         qdrant.NewValueString(chunk.Text),
	}
	if len(chunk.Metadata) > 0 {
		if raw, err := json.Marshal(chunk.Metadata); err == nil {
			payload["metadata"] = qdrant.NewValueString(string(raw))
		}
	}
	return payload
}

// chunkFromPayload reverses payloadFromChunk.
func chunkFromPayload(payload map[string]*qdrant.Value) Chunk {
	chunk := Chunk{}
	if v, ok := payload["chunk_id"]; ok {
		chunk.ID = v.GetStringValue()
	}
	if v, ok := payload["tenant_id"]; ok {
		chunk.TenantID = tenant.ID(v.GetStringValue())
	}
	if v, ok := payload["content_type"]; ok {
		chunk.ContentType = ContentType(v.GetStringValue())
	}
	if v, ok := payload["source_document"]; ok {
		chunk.SourceDocument = v.GetStringValue()
	}
	if v, ok := payload["chunk_index"]; ok {
		chunk.ChunkIndex = int(v.GetIntegerValue())
	}
	if v, ok := payload["content"]; ok {
		chunk.Text = v.GetStringValue()
	}
	if v, ok := payload["metadata"]; ok {
		var meta map[string]any
		if err := json.Unmarshal([]byte(v.GetStringValue()), &meta); err == nil {
			chunk.Metadata = meta
		}
	}
	return chunk
}
