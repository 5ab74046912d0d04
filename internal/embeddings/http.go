package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// HTTPConfig holds configuration for the HTTP embedding provider.
type HTTPConfig struct {
	// BaseURL is the provider endpoint, e.g. "https://api.example.com".
	BaseURL string

	// Model is the embedding model name. The model must support output
	// truncation to each tier width.
	Model string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout bounds a single provider call. Default 10s.
	Timeout time.Duration

	// MaxRetries bounds retries of transient failures. Default 3.
	MaxRetries int

	// RetryBackoff is the initial backoff interval. Default 500ms.
	RetryBackoff time.Duration
}

func (c *HTTPConfig) applyDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
}

// HTTPProvider calls a remote embedding endpoint. Timeouts and 5xx responses
// are retried with bounded exponential backoff; malformed responses are
// terminal.
type HTTPProvider struct {
	config  HTTPConfig
	client  *http.Client
	metrics *Metrics
	logger  *zap.Logger
}

// NewHTTPProvider creates an HTTP embedding provider.
func NewHTTPProvider(cfg HTTPConfig, logger *zap.Logger) (*HTTPProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%w: base URL required", ErrProviderUnavailable)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.applyDefaults()

	return &HTTPProvider{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		metrics: NewMetrics(logger),
		logger:  logger.Named("embeddings"),
	}, nil
}

// embedRequest is the wire request for the embed endpoint.
type embedRequest struct {
	Model     string `json:"model"`
	Text      string `json:"text"`
	TierWidth int    `json:"tier_width"`
}

// embedResponse is the wire response from the embed endpoint.
type embedResponse struct {
	Vector []float32 `json:"vector"`
}

// Embed generates an embedding for text at the given tier. The text must be
// non-empty after trimming; the returned vector's length equals the tier's
// width exactly.
func (p *HTTPProvider) Embed(ctx context.Context, text string, tier Tier) ([]float32, error) {
	start := time.Now()
	var embedErr error
	defer func() {
		p.metrics.RecordGeneration(ctx, p.config.Model, tier, time.Since(start), embedErr)
	}()

	if strings.TrimSpace(text) == "" {
		embedErr = ErrEmptyText
		return nil, embedErr
	}
	width := tier.Width()
	if width == 0 {
		embedErr = fmt.Errorf("%w: %q", ErrInvalidTier, tier)
		return nil, embedErr
	}

	body, err := json.Marshal(embedRequest{
		Model:     p.config.Model,
		Text:      text,
		TierWidth: width,
	})
	if err != nil {
		embedErr = fmt.Errorf("marshaling request: %w", err)
		return nil, embedErr
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = p.config.RetryBackoff

	vector, err := backoff.Retry(ctx, func() ([]float32, error) {
		return p.embedOnce(ctx, body, width)
	},
		backoff.WithBackOff(expo),
		backoff.WithMaxTries(uint(p.config.MaxRetries)+1),
	)
	if err != nil {
		embedErr = err
		return nil, embedErr
	}
	return vector, nil
}

// embedOnce performs a single provider call. Transient failures are returned
// as plain errors so the retry loop keeps going; terminal ones are wrapped
// with backoff.Permanent.
func (p *HTTPProvider) embedOnce(ctx context.Context, body []byte, width int) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.BaseURL+"/embed", bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: status %d: %s", ErrProviderUnavailable, resp.StatusCode, string(respBody))
	case resp.StatusCode != http.StatusOK:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, backoff.Permanent(fmt.Errorf("embed request rejected: status %d: %s", resp.StatusCode, string(respBody)))
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("decoding response: %w", err))
	}

	if len(decoded.Vector) != width {
		return nil, backoff.Permanent(fmt.Errorf("%w: want %d, got %d", ErrDimensionMismatch, width, len(decoded.Vector)))
	}
	return decoded.Vector, nil
}

// Close is a no-op; the provider holds no persistent connections.
func (p *HTTPProvider) Close() error { return nil }
