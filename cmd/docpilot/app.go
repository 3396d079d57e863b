package main

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/cache"
	"github.com/BaSui01/docpilot/config"
	"github.com/BaSui01/docpilot/internal/metrics"
	"github.com/BaSui01/docpilot/rag"
	"github.com/BaSui01/docpilot/rag/loader"
)

// app 持有装配完成的引擎组件。所有依赖显式注入，没有全局状态。
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	cache    *cache.Client
	store    *rag.Store
	pipeline *rag.Pipeline
	loaders  *loader.Registry
	registry *prometheus.Registry
}

// newApp 按配置装配完整的检索引擎
func newApp(cfg *config.Config, logger *zap.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector("docpilot", registry, logger)

	cacheClient := cache.NewClient(cache.Config{
		Enabled:       cfg.Cache.Enabled,
		Addr:          cfg.Cache.Addr,
		Password:      cfg.Cache.Password,
		DB:            cfg.Cache.DB,
		PoolSize:      cfg.Cache.PoolSize,
		OpTimeout:     cfg.Cache.OpTimeout,
		ResponseTTL:   cfg.Cache.ResponseTTL,
		ValidationTTL: cfg.Cache.ValidationTTL,
		RerankTTL:     cfg.Cache.RerankTTL,
		TransformTTL:  cfg.Cache.TransformTTL,
		EmbeddingTTL:  cfg.Cache.EmbeddingTTL,
		FallbackSize:  cfg.Cache.FallbackSize,
		FallbackTTL:   cfg.Cache.FallbackTTL,
	}, logger)
	cacheClient.SetMetrics(collector)

	gemini := rag.NewGeminiEmbedder(rag.GeminiEmbedderConfig{
		APIKey:    cfg.Embedding.APIKey,
		Model:     cfg.Embedding.Model,
		BaseURL:   cfg.Embedding.BaseURL,
		Dimension: cfg.Embedding.Dimension,
		BatchSize: cfg.Embedding.BatchSize,
		Timeout:   cfg.Embedding.Timeout,
	})
	embedder := rag.NewCachedEmbedder(gemini, cacheClient, nil, logger)

	store, err := buildStore(cfg, embedder, logger)
	if err != nil {
		return nil, err
	}
	store.SetMetrics(collector)

	var semanticCache *rag.SemanticCache
	if cfg.SemanticCache.Enabled {
		semanticCache = rag.NewSemanticCache(cacheClient, embedder, rag.SemanticCacheConfig{
			Threshold:  cfg.SemanticCache.Threshold,
			MaxEntries: cfg.SemanticCache.MaxEntries,
			TTL:        cfg.SemanticCache.TTL,
		}, logger)
	}

	planner := rag.NewPlanner(rag.PlannerConfig{
		GenericMarkers: cfg.Planner.GenericMarkers,
		ProductMarkers: cfg.Planner.ProductMarkers,
		Facts:          cfg.Planner.Facts,
	}, logger)

	rewriter := rag.NewRewriter(nil, cacheClient, rag.RewriterConfig{
		MaxSubQueries:     cfg.Retrieval.MaxSubQueries,
		DecomposeMinWords: cfg.Retrieval.DecomposeMinWords,
	}, logger)

	chunker := rag.NewChunker(rag.ChunkerConfig{
		ChunkSize:      cfg.Chunking.ChunkSize,
		ChunkOverlap:   cfg.Chunking.ChunkOverlap,
		SectionMaxSize: cfg.Chunking.SectionMaxSize,
	}, logger)

	pipeline, err := rag.NewPipeline(rag.PipelineOptions{
		Planner:       planner,
		Cache:         cacheClient,
		SemanticCache: semanticCache,
		Store:         store,
		Chunker:       chunker,
		Rewriter:      rewriter,
		Validator:     &rag.LexicalValidator{},
		Metrics:       collector,
		Config: rag.PipelineConfig{
			TopK:          cfg.Retrieval.TopK,
			MaxIterations: cfg.Retrieval.MaxIterations,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		cache:    cacheClient,
		store:    store,
		pipeline: pipeline,
		loaders:  loader.NewRegistry(),
		registry: registry,
	}, nil
}

// buildStore 按配置选择向量后端。qdrant 后端探活失败时
// 降级到本地快照后端。
func buildStore(cfg *config.Config, embedder rag.Embedder, logger *zap.Logger) (*rag.Store, error) {
	storeConfig := rag.StoreConfig{
		TopK:             cfg.Retrieval.TopK,
		ScoreThreshold:   cfg.Retrieval.ScoreThreshold,
		RelaxedThreshold: cfg.Retrieval.RelaxedThreshold,
	}

	local, err := rag.NewLocalBackend(cfg.Vector.LocalPath, logger)
	if err != nil {
		return nil, fmt.Errorf("local vector backend: %w", err)
	}

	switch cfg.Vector.Backend {
	case "local":
		return rag.NewStore(local, embedder, storeConfig, logger), nil
	case "qdrant":
		qdrant := rag.NewQdrantBackend(rag.QdrantConfig{
			BaseURL:    cfg.Vector.QdrantURL,
			APIKey:     cfg.Vector.APIKey,
			Collection: cfg.Vector.Collection,
			Timeout:    cfg.Vector.Timeout,
			VectorSize: cfg.Embedding.Dimension,
		}, logger)
		return rag.NewStoreWithFallback(qdrant, local, embedder, storeConfig, logger), nil
	default:
		return nil, fmt.Errorf("unsupported vector backend: %s (supported: qdrant, local)", cfg.Vector.Backend)
	}
}

// Close 释放持有的连接
func (a *app) Close() {
	if err := a.cache.Close(); err != nil {
		a.logger.Warn("closing cache client", zap.Error(err))
	}
}
