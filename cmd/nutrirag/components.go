package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hyperjump/nutrirag/internal/config"
	"github.com/hyperjump/nutrirag/internal/embedding"
	"github.com/hyperjump/nutrirag/internal/extract"
	"github.com/hyperjump/nutrirag/internal/ingest"
	"github.com/hyperjump/nutrirag/internal/interview"
	"github.com/hyperjump/nutrirag/internal/resultcache"
	"github.com/hyperjump/nutrirag/internal/retrieval"
	"github.com/hyperjump/nutrirag/internal/storage"
	"github.com/hyperjump/nutrirag/internal/vector"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// sourcesDBName is the source registry database inside the cache directory.
const sourcesDBName = "sources.db"

// Components holds initialized services.
type Components struct {
	Engine   *retrieval.Engine
	Sources  *storage.SQLiteStorage
	Ingester *ingest.Ingester
	// provisioner is kept only when the engine fell back to the local index and the
	// Redis client is otherwise unowned.
	provisioner *vector.RedisProvisioner
}

// Close releases every component.
func (c *Components) Close() {
	if c.Engine != nil {
		_ = c.Engine.Close()
	}
	if c.Sources != nil {
		_ = c.Sources.Close()
	}
	if c.provisioner != nil {
		_ = c.provisioner.Close()
	}
}

// initOptions toggles optional wiring.
type initOptions struct {
	registerer prometheus.Registerer
	ingest     []ingest.Option
}

func newEmbedder(cfg *config.Config, logger *zap.Logger) (embedding.Embedder, error) {
	switch cfg.Embedding.Provider {
	case config.ProviderOpenAI:
		return embedding.NewOpenAIEmbedder(embedding.OpenAIConfig{
			APIKey:     cfg.OpenAIAPIKey,
			BaseURL:    cfg.Embedding.BaseURL,
			Model:      cfg.Embedding.Model,
			Dimensions: cfg.Index.Dimensions,
			Logger:     logger,
		})
	case config.ProviderONNX:
		return embedding.NewONNXEmbedder(cfg.Embedding.ModelPath, cfg.Index.Dimensions, cfg.Embedding.MaxTokens)
	case config.ProviderMock:
		return embedding.NewMockEmbedder(cfg.Index.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func openResultCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) (resultcache.Cache, error) {
	return resultcache.New(ctx, resultcache.Config{
		Backend:     cfg.Cache.ResultBackend,
		Path:        filepath.Join(cfg.Cache.Dir, resultcache.FileName),
		Capacity:    cfg.Cache.ResultCapacity,
		RedisURL:    cfg.Redis.URL,
		RedisPrefix: cfg.Redis.Prefix,
	}, logger)
}

// clearResultCache empties the configured result cache. Dropping an index out from
// under the engine leaves persisted results that no longer match anything.
func clearResultCache(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	results, err := openResultCache(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer results.Close()
	return results.Clear(ctx)
}

func initializeComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts initOptions) (*Components, error) {
	if err := os.MkdirAll(cfg.Cache.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	embedder, err := newEmbedder(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	deps := retrieval.Deps{Embedder: embedder}
	prov, err := vector.RemoteProvisioner(ctx, cfg.Redis.URL, cfg.Index.FilterableFields, logger)
	if err != nil {
		logger.Warn("redis unavailable for vector index", zap.Error(err))
	} else if prov != nil {
		deps.Provisioner = prov
	}

	results, err := openResultCache(ctx, cfg, logger)
	if err != nil {
		_ = embedder.Close()
		return nil, fmt.Errorf("failed to initialize result cache: %w", err)
	}
	deps.ResultCache = results

	engineOpts := []retrieval.Option{
		retrieval.WithLogger(logger),
		retrieval.WithDefaultTopK(cfg.Retrieval.DefaultTopK),
	}
	if opts.registerer != nil {
		metrics, err := retrieval.NewMetrics(opts.registerer)
		if err != nil {
			_ = embedder.Close()
			_ = results.Close()
			return nil, err
		}
		engineOpts = append(engineOpts, retrieval.WithMetrics(metrics))
	}

	engine, err := retrieval.New(ctx, retrieval.Config{
		IndexName:  cfg.Index.Name,
		CacheDir:   cfg.Cache.Dir,
		Deployment: vector.ParseDeployment(cfg.Deployment),
		Dimensions: cfg.Index.Dimensions,
		Metric:     cfg.Index.Metric,
	}, deps, engineOpts...)
	if err != nil {
		_ = embedder.Close()
		_ = results.Close()
		if prov != nil {
			_ = prov.Close()
		}
		return nil, err
	}
	c := &Components{Engine: engine}
	if prov != nil && engine.Mode() == vector.ModeLocal {
		c.provisioner = prov
	}

	sources, err := storage.NewSQLiteStorage(filepath.Join(cfg.Cache.Dir, sourcesDBName))
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("failed to initialize source registry: %w", err)
	}
	c.Sources = sources

	chunker, err := ingest.NewChunker(cfg.Ingest.ChunkSize, cfg.Ingest.ChunkOverlap)
	if err != nil {
		c.Close()
		return nil, err
	}
	ingestOpts := append([]ingest.Option{
		ingest.WithLogger(logger),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithFetcher(ingest.NewFetcher(ingest.WithFetcherLogger(logger), ingest.WithMaxElapsed(time.Minute))),
	}, opts.ingest...)
	c.Ingester = ingest.New(engine, sources, chunker, extract.NewExtractor(), ingestOpts...)
	return c, nil
}

// newWorkflow builds the recommendation workflow on top of the engine.
func newWorkflow(cfg *config.Config, engine *retrieval.Engine, logger *zap.Logger) (*interview.Workflow, error) {
	if cfg.OpenAIAPIKey == "" {
		return nil, errors.New("recommendations need " + config.EnvOpenAIKey)
	}
	model, err := interview.NewOpenAIModel(interview.OpenAIModelConfig{
		APIKey:      cfg.OpenAIAPIKey,
		BaseURL:     cfg.Embedding.BaseURL,
		Model:       cfg.Interview.ChatModel,
		Temperature: cfg.Interview.Temperature,
	})
	if err != nil {
		return nil, err
	}
	return interview.New(model, engine,
		interview.WithLogger(logger),
		interview.WithMaxAnalysts(cfg.Interview.MaxAnalysts),
		interview.WithMaxTurns(cfg.Interview.MaxTurns),
		interview.WithTopK(cfg.Interview.TopK),
	), nil
}
