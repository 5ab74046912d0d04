// Package config provides configuration loading for the muva-chat daemon.
package config

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig indicates invalid configuration.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the root configuration for muvad.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Postgres   PostgresConfig   `koanf:"postgres"`
	Qdrant     QdrantConfig     `koanf:"qdrant"`
	Redis      RedisConfig      `koanf:"redis"`
	Embeddings EmbeddingsConfig `koanf:"embeddings"`
	Auth       AuthConfig       `koanf:"auth"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"`
	LLM        LLMConfig        `koanf:"llm"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host string `koanf:"host"`
	Port int    `koanf:"port"`

	// BaseDomain is stripped from the request host to obtain the tenant
	// subdomain, e.g. "oceanview.muva.chat" with base domain "muva.chat"
	// resolves the subdomain "oceanview".
	BaseDomain string `koanf:"base_domain"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// PostgresConfig holds the relational store settings.
type PostgresConfig struct {
	DSN            Secret `koanf:"dsn"`
	MaxConnections int    `koanf:"max_connections"`
	MaxIdle        int    `koanf:"max_idle"`
}

// QdrantConfig holds the vector index settings.
type QdrantConfig struct {
	Host string `koanf:"host"`
	// Port is the Qdrant gRPC port (6334), not the HTTP REST port.
	Port   int  `koanf:"port"`
	UseTLS bool `koanf:"use_tls"`

	// CollectionPrefix namespaces the per-tier collections,
	// e.g. prefix "chunks" yields chunks_fast, chunks_balanced, chunks_full.
	CollectionPrefix string `koanf:"collection_prefix"`

	// Driver selects the index implementation: "qdrant" or "chromem"
	// (embedded, single-node development only).
	Driver string `koanf:"driver"`

	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// RedisConfig holds the optional tenant-cache backend. When Addr is empty the
// resolver falls back to the in-process cache.
type RedisConfig struct {
	Addr     string   `koanf:"addr"`
	Password Secret   `koanf:"password"`
	CacheTTL Duration `koanf:"cache_ttl"`
}

// EmbeddingsConfig holds the embedding provider settings.
type EmbeddingsConfig struct {
	BaseURL      string   `koanf:"base_url"`
	Model        string   `koanf:"model"`
	APIKey       Secret   `koanf:"api_key"`
	Timeout      Duration `koanf:"timeout"`
	MaxRetries   int      `koanf:"max_retries"`
	RetryBackoff Duration `koanf:"retry_backoff"`
}

// AuthConfig holds guest session settings.
type AuthConfig struct {
	// JWTSecret signs guest session tokens (HS256). Required.
	JWTSecret Secret `koanf:"jwt_secret"`

	// TokenTTL is the session lifetime. There is no server-side revocation
	// list; a token stays valid until it expires.
	TokenTTL Duration `koanf:"token_ttl"`
}

// LLMConfig holds the language-model collaborator settings.
type LLMConfig struct {
	APIKey    Secret `koanf:"api_key"`
	Model     string `koanf:"model"`
	MaxTokens int    `koanf:"max_tokens"`
}

// RouteConfig maps one content type to its retrieval parameters. The tier is
// fixed per content type; only the explicit one-shot fallback relaxes the
// floor at runtime.
type RouteConfig struct {
	Tier  string  `koanf:"tier"`
	Floor float64 `koanf:"floor"`
	Limit int     `koanf:"limit"`
}

// RetrievalConfig holds the content-type routing table and fallback policy.
type RetrievalConfig struct {
	// Routes is keyed by content type: accommodation, manual, tourism, other.
	Routes map[string]RouteConfig `koanf:"routes"`

	// FallbackFloorFactor scales the floor for the single fallback retry
	// when the first search returns nothing above the floor.
	FallbackFloorFactor float64 `koanf:"fallback_floor_factor"`
}

// applyDefaults sets defaults for unset fields. Floors are empirically tuned
// against relevance data; treat them as configuration, not invariants.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.BaseDomain == "" {
		cfg.Server.BaseDomain = "muva.chat"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 20
	}
	if cfg.Postgres.MaxIdle == 0 {
		cfg.Postgres.MaxIdle = 5
	}
	if cfg.Qdrant.Host == "" {
		cfg.Qdrant.Host = "localhost"
	}
	if cfg.Qdrant.Port == 0 {
		cfg.Qdrant.Port = 6334
	}
	if cfg.Qdrant.CollectionPrefix == "" {
		cfg.Qdrant.CollectionPrefix = "chunks"
	}
	if cfg.Qdrant.Driver == "" {
		cfg.Qdrant.Driver = "qdrant"
	}
	if cfg.Qdrant.MaxRetries == 0 {
		cfg.Qdrant.MaxRetries = 3
	}
	if cfg.Qdrant.RetryBackoff == 0 {
		cfg.Qdrant.RetryBackoff = Duration(time.Second)
	}
	if cfg.Redis.CacheTTL == 0 {
		cfg.Redis.CacheTTL = Duration(5 * time.Minute)
	}
	if cfg.Embeddings.BaseURL == "" {
		cfg.Embeddings.BaseURL = "http://localhost:8090"
	}
	if cfg.Embeddings.Model == "" {
		cfg.Embeddings.Model = "text-embedding-3-large"
	}
	if cfg.Embeddings.Timeout == 0 {
		cfg.Embeddings.Timeout = Duration(10 * time.Second)
	}
	if cfg.Embeddings.MaxRetries == 0 {
		cfg.Embeddings.MaxRetries = 3
	}
	if cfg.Embeddings.RetryBackoff == 0 {
		cfg.Embeddings.RetryBackoff = Duration(500 * time.Millisecond)
	}
	if cfg.Auth.TokenTTL == 0 {
		cfg.Auth.TokenTTL = Duration(7 * 24 * time.Hour)
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "claude-haiku-4-5"
	}
	if cfg.LLM.MaxTokens == 0 {
		cfg.LLM.MaxTokens = 1024
	}
	if cfg.Retrieval.FallbackFloorFactor == 0 {
		cfg.Retrieval.FallbackFloorFactor = 0.5
	}
	if cfg.Retrieval.Routes == nil {
		cfg.Retrieval.Routes = DefaultRoutes()
	}
}

// DefaultRoutes returns the default content-type routing table. Accommodation
// disambiguation pays for the full tier; tourism listings tolerate coarse
// matches at the fast tier.
func DefaultRoutes() map[string]RouteConfig {
	return map[string]RouteConfig{
		"accommodation": {Tier: "full", Floor: 0.3, Limit: 10},
		"manual":        {Tier: "balanced", Floor: 0.3, Limit: 5},
		"tourism":       {Tier: "fast", Floor: 0.15, Limit: 5},
		"other":         {Tier: "balanced", Floor: 0.2, Limit: 5},
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("%w: invalid server port %d", ErrInvalidConfig, c.Server.Port)
	}
	if !c.Auth.JWTSecret.IsSet() {
		return fmt.Errorf("%w: auth.jwt_secret is required", ErrInvalidConfig)
	}
	if c.Qdrant.Driver != "qdrant" && c.Qdrant.Driver != "chromem" {
		return fmt.Errorf("%w: unknown vector index driver %q", ErrInvalidConfig, c.Qdrant.Driver)
	}
	for contentType, route := range c.Retrieval.Routes {
		if route.Floor < 0 || route.Floor > 1 {
			return fmt.Errorf("%w: route %q floor %v outside [0,1]", ErrInvalidConfig, contentType, route.Floor)
		}
		if route.Limit <= 0 || route.Limit > 50 {
			return fmt.Errorf("%w: route %q limit %d outside (0,50]", ErrInvalidConfig, contentType, route.Limit)
		}
		switch route.Tier {
		case "fast", "balanced", "full":
		default:
			return fmt.Errorf("%w: route %q has unknown tier %q", ErrInvalidConfig, contentType, route.Tier)
		}
	}
	if c.Retrieval.FallbackFloorFactor <= 0 || c.Retrieval.FallbackFloorFactor >= 1 {
		return fmt.Errorf("%w: fallback_floor_factor must be in (0,1)", ErrInvalidConfig)
	}
	return nil
}
