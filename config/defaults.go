// =============================================================================
// 📦 DocPilot 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Cache:         DefaultCacheConfig(),
		Vector:        DefaultVectorConfig(),
		Embedding:     DefaultEmbeddingConfig(),
		Chunking:      DefaultChunkingConfig(),
		Retrieval:     DefaultRetrievalConfig(),
		Planner:       DefaultPlannerConfig(),
		SemanticCache: DefaultSemanticCacheConfig(),
		Log:           DefaultLogConfig(),
	}
}

// DefaultCacheConfig 返回默认缓存配置
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled:       true,
		Addr:          "localhost:6379",
		Password:      "",
		DB:            0,
		PoolSize:      10,
		OpTimeout:     2 * time.Second,
		ResponseTTL:   1 * time.Hour,
		ValidationTTL: 24 * time.Hour,
		RerankTTL:     24 * time.Hour,
		TransformTTL:  7 * 24 * time.Hour,
		EmbeddingTTL:  7 * 24 * time.Hour,
		FallbackSize:  1000,
		FallbackTTL:   5 * time.Minute,
	}
}

// DefaultVectorConfig 返回默认向量存储配置
func DefaultVectorConfig() VectorConfig {
	return VectorConfig{
		Backend:    "qdrant",
		QdrantURL:  "http://localhost:6333",
		Collection: "docpilot_docs",
		Timeout:    10 * time.Second,
		LocalPath:  "data/vector_store.json",
	}
}

// DefaultEmbeddingConfig 返回默认嵌入服务配置
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		Model:     "text-embedding-004",
		Dimension: 768,
		BatchSize: 100,
		Timeout:   30 * time.Second,
	}
}

// DefaultChunkingConfig 返回默认文档切分配置
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		ChunkSize:      1500,
		ChunkOverlap:   200,
		SectionMaxSize: 2000,
	}
}

// DefaultRetrievalConfig 返回默认检索配置
func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		TopK:              5,
		ScoreThreshold:    0.7,
		RelaxedThreshold:  0.5,
		MaxIterations:     3,
		DecomposeMinWords: 8,
		MaxSubQueries:     3,
	}
}

// DefaultPlannerConfig 返回默认查询规划配置。
// GenericMarkers 覆盖领域通识问题（模型自身即可回答），
// ProductMarkers 由部署方按产品文档填充。
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		GenericMarkers: []string{
			"what is trading",
			"candlestick",
			"stop loss",
			"take profit",
			"leverage",
			"market order",
			"limit order",
			"short selling",
			"margin trading",
			"order book",
			"rsi",
			"macd",
			"moving average",
			"support and resistance",
		},
		ProductMarkers: []string{},
	}
}

// DefaultSemanticCacheConfig 返回默认语义缓存配置
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		Enabled:    true,
		Threshold:  0.95,
		MaxEntries: 1000,
		TTL:        24 * time.Hour,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:        "info",
		Format:       "json",
		OutputPaths:  []string{"stdout"},
		EnableCaller: true,
	}
}
