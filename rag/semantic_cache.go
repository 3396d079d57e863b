package rag

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/cache"
)

// RawCache 语义缓存使用的底层键值层，由缓存客户端实现
type RawCache interface {
	GetRaw(ctx context.Context, key string) (string, bool)
	SetRaw(ctx context.Context, key, value string, ttl time.Duration)
}

// SemanticCacheConfig 语义缓存配置
type SemanticCacheConfig struct {
	// Threshold 相似度命中阈值
	Threshold float64
	// MaxEntries 工作集容量上限，超出后淘汰最旧条目
	MaxEntries int
	// TTL 条目有效期
	TTL time.Duration
}

// DefaultSemanticCacheConfig 默认语义缓存配置
func DefaultSemanticCacheConfig() SemanticCacheConfig {
	return SemanticCacheConfig{
		Threshold:  0.95,
		MaxEntries: 1000,
		TTL:        24 * time.Hour,
	}
}

type semanticEntry struct {
	hash      string
	query     string
	embedding []float64
	addedAt   time.Time
}

// SemanticCache 语义级响应缓存。精确哈希命中走快路径，
// 否则嵌入查询并对工作集做一次线性余弦扫描；措辞不同但语义
// 相同的问题由此复用既有答案。缓存对调用方永不报错。
type SemanticCache struct {
	store    RawCache
	embedder Embedder
	config   SemanticCacheConfig
	logger   *zap.Logger

	mu      sync.Mutex
	entries []semanticEntry

	hits         int64
	semanticHits int64
	misses       int64
}

// NewSemanticCache 创建语义缓存
func NewSemanticCache(store RawCache, embedder Embedder, config SemanticCacheConfig, logger *zap.Logger) *SemanticCache {
	if config.Threshold <= 0 {
		config.Threshold = 0.95
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 1000
	}
	if config.TTL <= 0 {
		config.TTL = 24 * time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SemanticCache{
		store:    store,
		embedder: embedder,
		config:   config,
		logger:   logger.With(zap.String("component", "semantic_cache")),
	}
}

func semanticKey(hash string) string {
	return "semantic:" + hash
}

// Get 查找语义等价的缓存响应
func (c *SemanticCache) Get(ctx context.Context, query string) (json.RawMessage, bool) {
	hash := cache.HashText(query)

	// 快路径：规范化哈希精确命中
	if raw, ok := c.store.GetRaw(ctx, semanticKey(hash)); ok {
		c.mu.Lock()
		c.hits++
		c.mu.Unlock()
		return json.RawMessage(raw), true
	}

	embedding, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// 嵌入失败只意味着语义路径不可用，按未命中处理
		c.logger.Warn("semantic lookup embedding failed", zap.Error(err))
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	bestHash, bestQuery, bestScore := c.scan(embedding)
	if bestHash == "" {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	raw, ok := c.store.GetRaw(ctx, semanticKey(bestHash))
	if !ok {
		// 索引条目还在但载荷已过期
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.semanticHits++
	c.mu.Unlock()

	c.logger.Debug("semantic cache hit",
		zap.String("matched_query", bestQuery),
		zap.Float64("similarity", bestScore))
	return json.RawMessage(raw), true
}

// scan 对工作集做线性余弦扫描，顺带剪掉过期条目。
// 返回阈值之上的最佳匹配。
func (c *SemanticCache) scan(embedding []float64) (hash, query string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	alive := c.entries[:0]
	for _, e := range c.entries {
		if now.Sub(e.addedAt) > c.config.TTL {
			continue
		}
		alive = append(alive, e)

		s := cosineSimilarity(embedding, e.embedding)
		if s >= c.config.Threshold && s > score {
			hash, query, score = e.hash, e.query, s
		}
	}
	c.entries = alive
	return hash, query, score
}

// Set 缓存查询响应并登记到相似度索引
func (c *SemanticCache) Set(ctx context.Context, query string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("failed to marshal payload for semantic cache", zap.Error(err))
		return
	}

	hash := cache.HashText(query)
	c.store.SetRaw(ctx, semanticKey(hash), string(data), c.config.TTL)

	embedding, err := c.embedder.EmbedQuery(ctx, query)
	if err != nil {
		// 精确哈希路径仍然可用，只是进不了相似度索引
		c.logger.Warn("semantic index embedding failed", zap.Error(err))
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i, e := range c.entries {
		if e.hash == hash {
			c.entries[i].embedding = embedding
			c.entries[i].addedAt = time.Now()
			return
		}
	}

	c.entries = append(c.entries, semanticEntry{
		hash:      hash,
		query:     query,
		embedding: embedding,
		addedAt:   time.Now(),
	})

	// 容量超限时淘汰最旧条目
	if len(c.entries) > c.config.MaxEntries {
		c.entries = c.entries[len(c.entries)-c.config.MaxEntries:]
	}
}

// Stats 返回命中统计
func (c *SemanticCache) Stats() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return map[string]int64{
		"exact_hits":    c.hits,
		"semantic_hits": c.semanticHits,
		"misses":        c.misses,
		"index_size":    int64(len(c.entries)),
	}
}
