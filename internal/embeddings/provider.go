package embeddings

import "context"

// Provider generates a fixed-width embedding for a single text at the given
// tier. Implementations guarantee the returned vector's length equals the
// tier's width exactly, or return an error.
type Provider interface {
	Embed(ctx context.Context, text string, tier Tier) ([]float32, error)
	Close() error
}
