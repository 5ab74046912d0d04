// Command muvad is the multi-tenant guest chat daemon.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/toneill57/muva-chat-sub006/internal/config"
	"github.com/toneill57/muva-chat-sub006/internal/conversation"
	"github.com/toneill57/muva-chat-sub006/internal/embeddings"
	"github.com/toneill57/muva-chat-sub006/internal/guestauth"
	"github.com/toneill57/muva-chat-sub006/internal/llm"
	"github.com/toneill57/muva-chat-sub006/internal/logging"
	"github.com/toneill57/muva-chat-sub006/internal/retrieval"
	"github.com/toneill57/muva-chat-sub006/internal/server"
	"github.com/toneill57/muva-chat-sub006/internal/telemetry"
	"github.com/toneill57/muva-chat-sub006/internal/tenant"
	"github.com/toneill57/muva-chat-sub006/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "muvad: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting muvad",
		zap.String("base_domain", cfg.Server.BaseDomain),
		zap.String("index_driver", cfg.Qdrant.Driver),
	)

	// Metrics recorded anywhere below land on the /metrics scrape through
	// the default registry, so this runs before any collaborator is built.
	shutdownMetrics, err := telemetry.SetupMetrics(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("wiring metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("metrics shutdown failed", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openPostgres(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	defer db.Close()

	resolver, closeCache, err := buildResolver(cfg, db, logger)
	if err != nil {
		return err
	}
	defer closeCache()

	index, err := buildIndex(ctx, cfg.Qdrant, logger)
	if err != nil {
		return err
	}
	defer index.Close()

	provider, err := embeddings.NewHTTPProvider(embeddings.HTTPConfig{
		BaseURL:      cfg.Embeddings.BaseURL,
		Model:        cfg.Embeddings.Model,
		APIKey:       cfg.Embeddings.APIKey.Value(),
		Timeout:      time.Duration(cfg.Embeddings.Timeout),
		MaxRetries:   cfg.Embeddings.MaxRetries,
		RetryBackoff: time.Duration(cfg.Embeddings.RetryBackoff),
	}, logger)
	if err != nil {
		return fmt.Errorf("creating embedding provider: %w", err)
	}
	defer provider.Close()

	options, err := retrieval.OptionsFromConfig(cfg.Retrieval)
	if err != nil {
		return fmt.Errorf("building retrieval routes: %w", err)
	}
	orchestrator, err := retrieval.NewOrchestrator(provider, index, options, logger)
	if err != nil {
		return fmt.Errorf("creating orchestrator: %w", err)
	}

	authenticator, err := guestauth.NewAuthenticator(
		guestauth.NewPostgresDirectory(db),
		[]byte(cfg.Auth.JWTSecret.Value()),
		time.Duration(cfg.Auth.TokenTTL),
		logger,
	)
	if err != nil {
		return fmt.Errorf("creating authenticator: %w", err)
	}

	answerer, err := llm.NewAnthropicClient(llm.Config{
		APIKey:    cfg.LLM.APIKey.Value(),
		Model:     cfg.LLM.Model,
		MaxTokens: cfg.LLM.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("creating llm client: %w", err)
	}

	srv, err := server.NewServer(server.Dependencies{
		Resolver:      resolver,
		Authenticator: authenticator,
		Retriever:     orchestrator,
		Answerer:      answerer,
		Extractor:     llm.NewExtractor(answerer, logger),
		Store:         conversation.NewStore(db, logger),
	}, server.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	}, logger)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}

	logger.Info("muvad stopped")
	return nil
}

func openPostgres(ctx context.Context, cfg config.PostgresConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN.Value())
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxIdle)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return db, nil
}

// buildResolver wires the tenant resolver with a redis-backed cache when an
// address is configured and an in-process cache otherwise.
func buildResolver(cfg *config.Config, db *sql.DB, logger *zap.Logger) (*tenant.Resolver, func(), error) {
	registry := tenant.NewPostgresRegistry(db)

	var (
		cache tenant.Cache
		err   error
	)
	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
		})
		cache, err = tenant.NewCache(tenant.CacheRedis,
			tenant.WithRedisClient(client),
			tenant.WithTTL(time.Duration(cfg.Redis.CacheTTL)),
		)
	} else {
		cache, err = tenant.NewCache(tenant.CacheMemory,
			tenant.WithTTL(time.Duration(cfg.Redis.CacheTTL)),
		)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("creating tenant cache: %w", err)
	}

	resolver := tenant.NewResolver(registry, cache, cfg.Server.BaseDomain, logger)
	return resolver, func() { cache.Close() }, nil
}

func buildIndex(ctx context.Context, cfg config.QdrantConfig, logger *zap.Logger) (vectorstore.Index, error) {
	switch cfg.Driver {
	case "chromem":
		return vectorstore.NewChromemStore(vectorstore.ChromemConfig{
			Path: "~/.local/share/muvad/vectorstore",
		}, logger)
	default:
		return vectorstore.NewQdrantStore(ctx, vectorstore.QdrantConfig{
			Host:             cfg.Host,
			Port:             cfg.Port,
			UseTLS:           cfg.UseTLS,
			CollectionPrefix: cfg.CollectionPrefix,
			MaxRetries:       cfg.MaxRetries,
			RetryBackoff:     time.Duration(cfg.RetryBackoff),
		})
	}
}
