// Package app builds the process wide dependency graph once and hands it to
// the HTTP server, the queue worker and the CLI.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/kiwi/rag/internal/config"
	"github.com/OFFIS-RIT/kiwi/rag/internal/service"
	"github.com/OFFIS-RIT/kiwi/rag/internal/storage"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/ai/cache"
	oai "github.com/OFFIS-RIT/kiwi/rag/pkg/ai/ollama"
	gai "github.com/OFFIS-RIT/kiwi/rag/pkg/ai/openai"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/graph"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/leaselock"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/logger"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/query"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/resolver"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/schema"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/neo4j"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/pgx"
	"github.com/OFFIS-RIT/kiwi/rag/pkg/store/sqlite"
)

type App struct {
	Config   *config.Config
	Store    store.Storage
	AI       ai.GraphAIClient
	Tokens   *ai.TokenCounter
	Graph    *graph.GraphClient
	Services *service.Services
	// Bucket is nil when no object storage is configured.
	Bucket *storage.Bucket

	closers []func() error
}

// New opens the configured store and provider clients and wires every
// service. Close releases what New acquired.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg}

	st, locker, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, st.Close)

	client, err := newAIClient(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	if cfg.RedisAddr != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			logger.Warn("Embedding cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			a.closers = append(a.closers, rs.Close)
			client = cache.New(client, rs, cfg.CacheNamespace(), cfg.CacheTTL)
			logger.Info("Embedding cache enabled", "addr", cfg.RedisAddr)
		}
	}

	bucket, err := storage.NewBucketFromEnv(ctx)
	if err != nil {
		logger.Warn("Object storage disabled", "err", err)
	}
	a.Bucket = bucket

	if err := a.wire(st, client, locker); err != nil {
		_ = a.Close()
		return nil, err
	}
	logger.Info("Application initialised", "store", cfg.StoreBackend, "ai", cfg.AIAdapter)
	return a, nil
}

// NewWithClients wires the services around an already open store and
// provider client. The caller keeps ownership of both.
func NewWithClients(cfg *config.Config, st store.Storage, client ai.GraphAIClient, locker leaselock.Locker) (*App, error) {
	a := &App{Config: cfg}
	if locker == nil {
		locker = leaselock.NewLocal()
	}
	if err := a.wire(st, client, locker); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) wire(st store.Storage, client ai.GraphAIClient, locker leaselock.Locker) error {
	cfg := a.Config
	a.Store = st
	a.AI = client
	a.Tokens = ai.NewTokenCounter(cfg.TokenEncoding)

	res := resolver.New(st, resolver.Options{
		FuzzyThreshold:    cfg.FuzzyThreshold,
		SemanticThreshold: cfg.SemanticThresh,
	})
	g, err := graph.NewGraphClient(graph.NewGraphClientParams{
		AIClient:           client,
		Store:              st,
		Resolver:           res,
		TokenEncoder:       cfg.TokenEncoding,
		ChunkSize:          cfg.ChunkSize,
		ChunkOverlap:       cfg.ChunkOverlap,
		ParallelAiRequests: cfg.ParallelRequests,
		MaxRetries:         cfg.MaxRetries,
		OnError:            graph.OnError(cfg.OnError),
	})
	if err != nil {
		return fmt.Errorf("failed to create graph client: %w", err)
	}
	a.Graph = g

	genOpts := []ai.GenerateOption{ai.WithTemperature(cfg.Temperature), ai.WithMaxTokens(cfg.MaxTokens)}
	orchestrator := query.NewOrchestrator(st, client,
		query.WithGraphContext(true),
		query.WithContextTokens(cfg.ContextTokens),
		query.WithTokenCounter(a.Tokens),
		query.WithGenerateOptions(genOpts...),
	)

	a.Services = service.New(service.Params{
		Store:     st,
		AI:        client,
		Graph:     g,
		Schemas:   schema.NewManager(st, client, ai.WithTemperature(0)),
		Resolver:  res,
		Search:    orchestrator,
		Locker:    locker,
		Dimension: cfg.VectorDimensions,
		TopK:      cfg.DefaultTopK,
	})
	return nil
}

// Close releases resources in reverse acquisition order.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Storage, leaselock.Locker, error) {
	switch cfg.StoreBackend {
	case config.BackendPgx:
		s, err := pgx.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return s, leaselock.New(s.Pool()), nil
	case config.BackendNeo4j:
		s, err := neo4j.Open(ctx, neo4j.Config{
			URI:      cfg.Neo4j.URI,
			User:     cfg.Neo4j.User,
			Password: cfg.Neo4j.Password,
			Database: cfg.Neo4j.Database,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, leaselock.NewLocal(), nil
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, leaselock.NewLocal(), nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func newAIClient(cfg *config.Config) (ai.GraphAIClient, error) {
	switch cfg.AIAdapter {
	case config.AdapterOllama:
		client, err := oai.NewGraphOllamaClient(oai.NewGraphOllamaClientParams{
			EmbeddingModel:  cfg.EmbeddingModel,
			ChatModel:       cfg.ChatModel,
			ExtractionModel: cfg.ExtractionModel,
			Dimensions:      cfg.VectorDimensions,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			EmbeddingTimeout:      cfg.EmbeddingTimeout,
			ChatTimeout:           cfg.ChatTimeout,
			MaxConcurrentRequests: int64(cfg.ParallelRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		return client, nil
	default:
		client, err := gai.NewGraphOpenAIClient(gai.NewGraphOpenAIClientParams{
			EmbeddingModel:  cfg.EmbeddingModel,
			ChatModel:       cfg.ChatModel,
			ExtractionModel: cfg.ExtractionModel,
			Dimensions:      cfg.VectorDimensions,
			Temperature:     cfg.Temperature,
			MaxTokens:       cfg.MaxTokens,

			EmbeddingURL: cfg.EmbeddingURL,
			EmbeddingKey: cfg.EmbeddingKey,
			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,

			EmbeddingTimeout:  cfg.EmbeddingTimeout,
			ChatTimeout:       cfg.ChatTimeout,
			MaxParallelEmbeds: int64(cfg.ParallelRequests),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		return client, nil
	}
}
