package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"policy-rag/internal/config"
	"policy-rag/internal/embeddings"
	"policy-rag/internal/llm"
	"policy-rag/internal/loader"
	"policy-rag/internal/logger"
	"policy-rag/internal/metrics"
	"policy-rag/internal/pipeline"
	"policy-rag/internal/prompts"
	"policy-rag/internal/querylog"
	"policy-rag/internal/storage"
)

// app is everything a command needs, built from configuration.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	loader   *loader.Loader
	pipeline *pipeline.Pipeline
}

// newApp loads configuration and builds the pipeline. withModel also builds the
// language model client, which needs an API key for hosted providers.
func newApp(configPath string, withModel bool) (*app, error) {
	cfg, err := config.Load(config.Options{ConfigFile: configPath})
	if err != nil {
		return nil, err
	}

	log := logger.Setup(logger.Config{Level: cfg.App.LogLevel, Format: cfg.App.LogFormat})

	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	embedder, err := embeddings.New(embeddings.Config{
		Provider:  cfg.Services.Embeddings.Provider,
		BaseURL:   cfg.Services.Embeddings.BaseURL,
		Model:     cfg.Services.Embeddings.Model,
		APIKey:    cfg.Services.Embeddings.APIKey,
		Dimension: cfg.Services.Embeddings.Dimension,
		Timeout:   seconds(cfg.Services.Embeddings.Timeout),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	var generator llm.Generator
	if withModel {
		if err := cfg.RequireLLMCredential(); err != nil {
			return nil, err
		}
		generator, err = llm.New(llm.Config{
			Provider:    cfg.Services.LLM.Provider,
			BaseURL:     cfg.Services.LLM.BaseURL,
			Model:       cfg.Services.LLM.Model,
			APIKey:      cfg.Services.LLM.APIKey,
			Temperature: cfg.Services.LLM.Temperature,
			MaxTokens:   cfg.Services.LLM.MaxTokens,
			Timeout:     seconds(cfg.Services.LLM.Timeout),
			Breaker: llm.BreakerConfig{
				Enabled:          cfg.Services.LLM.CircuitBreaker.Enabled,
				FailureThreshold: cfg.Services.LLM.CircuitBreaker.FailureThreshold,
				OpenTimeout:      seconds(cfg.Services.LLM.CircuitBreaker.OpenTimeout),
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create language model client: %w", err)
		}
	}

	truncation, err := prompts.ParseTruncationMode(cfg.Retrieval.Truncation)
	if err != nil {
		return nil, err
	}

	index, err := openIndex(cfg, embedder)
	if err != nil {
		return nil, err
	}

	queryLog, err := querylog.Open(cfg.Logging.QueryLog)
	if err != nil {
		_ = index.Close()
		return nil, err
	}

	p, err := pipeline.New(index, generator, queryLog, pipeline.Options{
		ChunkSize:     cfg.Chunking.Size,
		ChunkOverlap:  cfg.Chunking.Overlap,
		TopK:          cfg.Retrieval.TopK,
		ContextBudget: cfg.Retrieval.ContextBudget,
		Truncation:    truncation,
		LogFailures:   cfg.Logging.LogFailures,
	}, pipeline.WithMetrics(m), pipeline.WithLogger(log))
	if err != nil {
		return nil, errors.Join(err, queryLog.Close(), index.Close())
	}

	log.Debug("pipeline ready",
		"index", cfg.Index.Backend,
		"embedder", embedder.Name(),
		"model", cfg.Services.LLM.Model,
		"query_log", cfg.Logging.QueryLog)

	return &app{
		cfg:      cfg,
		logger:   log,
		registry: registry,
		metrics:  m,
		loader:   loader.New(log),
		pipeline: p,
	}, nil
}

func openIndex(cfg *config.Config, embedder embeddings.Embedder) (storage.VectorIndex, error) {
	switch cfg.Index.Backend {
	case "memory":
		return storage.NewMemoryVectorStore(embedder), nil
	default:
		store, err := storage.NewSQLiteVectorStore(cfg.GetDatabaseDSN(), embedder)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize vector store: %w", err)
		}
		return store, nil
	}
}

// rebuildIndex replaces the index contents with the policy directory.
func (a *app) rebuildIndex(ctx context.Context, dir string) (docs, chunks int, err error) {
	loaded, err := a.loader.LoadDirectory(ctx, dir)
	if err != nil {
		return 0, 0, err
	}
	if len(loaded) == 0 {
		return 0, 0, fmt.Errorf("no documents found in %s", dir)
	}
	n, err := a.pipeline.Rebuild(ctx, loaded)
	if err != nil {
		return len(loaded), 0, err
	}
	return len(loaded), n, nil
}

// syncIndex mirrors the policy directory into the index. An empty directory
// clears the index instead of failing.
func (a *app) syncIndex(ctx context.Context, dir string) (docs, chunks int, err error) {
	loaded, err := a.loader.LoadDirectory(ctx, dir)
	if err != nil {
		return 0, 0, err
	}
	if len(loaded) == 0 {
		return 0, 0, a.pipeline.Reset(ctx)
	}
	n, err := a.pipeline.Rebuild(ctx, loaded)
	if err != nil {
		return len(loaded), 0, err
	}
	return len(loaded), n, nil
}

// ensureIndexed builds the index from the policy directory when forced or empty.
func (a *app) ensureIndexed(ctx context.Context, force bool) error {
	if !force {
		count, err := a.pipeline.Count(ctx)
		if err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
	}
	docs, chunks, err := a.rebuildIndex(ctx, a.cfg.Data.PoliciesDir)
	if err != nil {
		return err
	}
	a.logger.Info("index built", "documents", docs, "chunks", chunks, "dir", a.cfg.Data.PoliciesDir)
	return nil
}

func (a *app) Close() error {
	return a.pipeline.Close()
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
