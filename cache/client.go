// Package cache 提供带弹性保护的命名空间缓存客户端。
//
// 每个昂贵操作（响应生成、相关性校验、重排、查询改写、嵌入生成）前面
// 都有一个缓存命名空间。远程 Redis 调用由熔断器和有界重试包裹；进程内
// 回退缓存在远程不可用时保证亚毫秒命中。Get/Set 对调用方永不报错：
// 任何远程失败都降级为未命中（get）或仅回退写入（set）。
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/resilience"
)

// 命名空间键前缀（wire contract 的一部分，勿改）
const (
	nsResponse   = "response"
	nsValidation = "relevancy"
	nsRerank     = "rerank"
	nsTransform  = "transform"
	nsEmbedding  = "embedding"
)

// Config 缓存客户端配置
type Config struct {
	// 是否启用远程 Redis（false 时仅使用进程内回退缓存）
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Redis 地址
	Addr string `yaml:"addr" json:"addr"`

	// 密码
	Password string `yaml:"password" json:"password"`

	// 数据库编号
	DB int `yaml:"db" json:"db"`

	// 连接池大小
	PoolSize int `yaml:"pool_size" json:"pool_size"`

	// 单次操作超时
	OpTimeout time.Duration `yaml:"op_timeout" json:"op_timeout"`

	// 各命名空间 TTL
	ResponseTTL   time.Duration `yaml:"response_ttl" json:"response_ttl"`
	ValidationTTL time.Duration `yaml:"validation_ttl" json:"validation_ttl"`
	RerankTTL     time.Duration `yaml:"rerank_ttl" json:"rerank_ttl"`
	TransformTTL  time.Duration `yaml:"transform_ttl" json:"transform_ttl"`
	EmbeddingTTL  time.Duration `yaml:"embedding_ttl" json:"embedding_ttl"`

	// 回退缓存设置
	FallbackSize int           `yaml:"fallback_size" json:"fallback_size"`
	FallbackTTL  time.Duration `yaml:"fallback_ttl" json:"fallback_ttl"`

	// 弹性配置（nil 时使用默认值）
	Breaker *resilience.BreakerConfig `yaml:"-" json:"-"`
	Retry   *resilience.RetryPolicy   `yaml:"-" json:"-"`
}

// DefaultConfig 返回默认缓存配置
func DefaultConfig() Config {
	return Config{
		Enabled:       true,
		Addr:          "localhost:6379",
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

// MetricsRecorder 缓存指标上报接口（可选）
type MetricsRecorder interface {
	RecordCacheHit(namespace string)
	RecordCacheMiss(namespace string)
	RecordCacheFallbackHit(namespace string)
	RecordCacheError(namespace string)
}

// Stats 缓存统计
type Stats struct {
	Hits         int64   `json:"hits"`
	Misses       int64   `json:"misses"`
	FallbackHits int64   `json:"fallback_hits"`
	Errors       int64   `json:"errors"`
	HitRate      float64 `json:"hit_rate"`
	Connected    bool    `json:"connected"`
	FallbackSize int     `json:"fallback_size"`
}

// Client 弹性缓存客户端
type Client struct {
	config   Config
	rdb      *redis.Client
	fallback *expirable.LRU[string, string]
	breaker  *resilience.CircuitBreaker
	retry    *resilience.RetryPolicy
	metrics  MetricsRecorder
	logger   *zap.Logger

	mu        sync.Mutex
	connected bool
	hits      int64
	misses    int64
	fbHits    int64
	errors    int64
}

// NewClient 创建缓存客户端。Redis 连接失败不是致命错误：客户端
// 降级为仅回退缓存模式并记录警告。
func NewClient(config Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FallbackSize <= 0 {
		config.FallbackSize = 1000
	}
	if config.FallbackTTL <= 0 {
		config.FallbackTTL = 5 * time.Minute
	}
	if config.OpTimeout <= 0 {
		config.OpTimeout = 2 * time.Second
	}

	c := &Client{
		config:   config,
		fallback: expirable.NewLRU[string, string](config.FallbackSize, nil, config.FallbackTTL),
		breaker:  resilience.NewCircuitBreaker(config.Breaker, logger),
		retry:    config.Retry,
		logger:   logger.With(zap.String("component", "cache")),
	}
	if c.retry == nil {
		c.retry = resilience.DefaultRetryPolicy()
	}

	if !config.Enabled {
		c.logger.Info("remote cache disabled, using in-process fallback only")
		return c
	}
	if config.Addr == "" {
		c.logger.Warn("cache enabled but addr not set, using in-process fallback only")
		return c
	}

	c.rdb = redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.OpTimeout,
		ReadTimeout:  config.OpTimeout,
		WriteTimeout: config.OpTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), config.OpTimeout)
	defer cancel()
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		c.logger.Warn("redis connection failed, using in-process fallback",
			zap.String("addr", config.Addr),
			zap.Error(err))
		return c
	}

	c.connected = true
	c.logger.Info("cache client connected", zap.String("addr", config.Addr))
	return c
}

// SetMetrics 挂接指标上报器
func (c *Client) SetMetrics(m MetricsRecorder) {
	c.metrics = m
}

// ==================== 底层 get/set ====================

// get 按完整弹性路径读取：回退缓存优先，再经熔断器 + 重试访问
// Redis。任何失败都返回未命中。
func (c *Client) get(ctx context.Context, namespace, key string) (string, bool) {
	if value, ok := c.fallback.Get(key); ok {
		c.recordFallbackHit(namespace)
		return value, true
	}

	if !c.isConnected() {
		c.recordMiss(namespace)
		return "", false
	}

	var value string
	var found bool
	err := c.breaker.Call(func() error {
		return c.retry.Do(ctx, func() error {
			opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
			defer cancel()

			v, err := c.rdb.Get(opCtx, key).Result()
			if err == redis.Nil {
				return nil
			}
			if err != nil {
				return err
			}
			value = v
			found = true
			return nil
		})
	})
	if err != nil {
		c.recordError(namespace, err, key)
		return "", false
	}

	if !found {
		c.recordMiss(namespace)
		return "", false
	}

	c.recordHit(namespace)
	// 回填回退缓存，吸收突发重复请求
	c.fallback.Add(key, value)
	return value, true
}

// set 写入回退缓存（无条件）和 Redis（尽力而为）。
func (c *Client) set(ctx context.Context, namespace, key, value string, ttl time.Duration) {
	c.fallback.Add(key, value)

	if !c.isConnected() {
		return
	}

	err := c.breaker.Call(func() error {
		return c.retry.Do(ctx, func() error {
			opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
			defer cancel()
			return c.rdb.Set(opCtx, key, value, ttl).Err()
		})
	})
	if err != nil {
		c.recordError(namespace, err, key)
	}
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected && c.rdb != nil
}

// ==================== 响应缓存 ====================

// GetResponse 读取查询的缓存响应。键由查询哈希与上下文哈希组合。
func (c *Client) GetResponse(ctx context.Context, query string, history []Turn, sideContext string) (json.RawMessage, bool) {
	key := fmt.Sprintf("%s:%s:%s", nsResponse, HashText(query), HashContext(history, sideContext))
	raw, ok := c.get(ctx, nsResponse, key)
	if !ok {
		return nil, false
	}
	if !json.Valid([]byte(raw)) {
		c.logger.Warn("malformed cached response, treating as miss", zap.String("key", key))
		return nil, false
	}
	return json.RawMessage(raw), true
}

// SetResponse 缓存查询响应
func (c *Client) SetResponse(ctx context.Context, query string, history []Turn, sideContext string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.logger.Warn("failed to marshal response for caching", zap.Error(err))
		return
	}
	key := fmt.Sprintf("%s:%s:%s", nsResponse, HashText(query), HashContext(history, sideContext))
	c.set(ctx, nsResponse, key, string(data), c.config.ResponseTTL)
}

// ==================== 校验缓存 ====================

// GetValidation 读取文档相关性校验结果
func (c *Client) GetValidation(ctx context.Context, query, docText string, out any) bool {
	key := fmt.Sprintf("%s:%s:%s", nsValidation, HashText(query), HashDocument(docText))
	raw, ok := c.get(ctx, nsValidation, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		c.logger.Warn("malformed cached validation, treating as miss", zap.String("key", key))
		return false
	}
	return true
}

// SetValidation 缓存文档相关性校验结果
func (c *Client) SetValidation(ctx context.Context, query, docText string, result any) {
	data, err := json.Marshal(result)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s:%s:%s", nsValidation, HashText(query), HashDocument(docText))
	c.set(ctx, nsValidation, key, string(data), c.config.ValidationTTL)
}

// ==================== 重排缓存 ====================

// GetRerank 读取缓存的重排序索引
func (c *Client) GetRerank(ctx context.Context, query string, docTexts []string) ([]int, bool) {
	key := fmt.Sprintf("%s:%s:%s", nsRerank, HashText(query), HashDocuments(docTexts))
	raw, ok := c.get(ctx, nsRerank, key)
	if !ok {
		return nil, false
	}
	var indices []int
	if err := json.Unmarshal([]byte(raw), &indices); err != nil {
		c.logger.Warn("malformed cached rerank, treating as miss", zap.String("key", key))
		return nil, false
	}
	return indices, true
}

// SetRerank 缓存重排序索引
func (c *Client) SetRerank(ctx context.Context, query string, docTexts []string, indices []int) {
	data, err := json.Marshal(indices)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s:%s:%s", nsRerank, HashText(query), HashDocuments(docTexts))
	c.set(ctx, nsRerank, key, string(data), c.config.RerankTTL)
}

// ==================== 查询改写缓存 ====================

// GetTransform 读取缓存的改写查询
func (c *Client) GetTransform(ctx context.Context, query string) (string, bool) {
	key := fmt.Sprintf("%s:%s", nsTransform, HashText(query))
	return c.get(ctx, nsTransform, key)
}

// SetTransform 缓存改写查询
func (c *Client) SetTransform(ctx context.Context, query, transformed string) {
	key := fmt.Sprintf("%s:%s", nsTransform, HashText(query))
	c.set(ctx, nsTransform, key, transformed, c.config.TransformTTL)
}

// ==================== 嵌入缓存 ====================

// GetEmbedding 读取缓存的嵌入向量
func (c *Client) GetEmbedding(ctx context.Context, text string) ([]float64, bool) {
	key := fmt.Sprintf("%s:%s", nsEmbedding, HashText(text))
	raw, ok := c.get(ctx, nsEmbedding, key)
	if !ok {
		return nil, false
	}
	var embedding []float64
	if err := json.Unmarshal([]byte(raw), &embedding); err != nil {
		c.logger.Warn("malformed cached embedding, treating as miss", zap.String("key", key))
		return nil, false
	}
	return embedding, true
}

// SetEmbedding 缓存嵌入向量
func (c *Client) SetEmbedding(ctx context.Context, text string, embedding []float64) {
	data, err := json.Marshal(embedding)
	if err != nil {
		return
	}
	key := fmt.Sprintf("%s:%s", nsEmbedding, HashText(text))
	c.set(ctx, nsEmbedding, key, string(data), c.config.EmbeddingTTL)
}

// ==================== 原始键访问 ====================
// 语义缓存使用自己的键空间（semantic: 前缀），走同一条弹性路径。

// GetRaw 按完整键读取
func (c *Client) GetRaw(ctx context.Context, key string) (string, bool) {
	return c.get(ctx, namespaceOf(key), key)
}

// SetRaw 按完整键写入
func (c *Client) SetRaw(ctx context.Context, key, value string, ttl time.Duration) {
	c.set(ctx, namespaceOf(key), key, value, ttl)
}

func namespaceOf(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return "raw"
}

// ==================== 统计 ====================

func (c *Client) recordHit(namespace string) {
	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordCacheHit(namespace)
	}
}

func (c *Client) recordMiss(namespace string) {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordCacheMiss(namespace)
	}
}

func (c *Client) recordFallbackHit(namespace string) {
	c.mu.Lock()
	c.fbHits++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordCacheFallbackHit(namespace)
	}
}

func (c *Client) recordError(namespace string, err error, key string) {
	c.mu.Lock()
	c.errors++
	c.misses++
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.RecordCacheError(namespace)
	}

	if len(key) > 50 {
		key = key[:50]
	}
	c.logger.Warn("cache operation failed",
		zap.String("namespace", namespace),
		zap.String("key", key),
		zap.Error(err))
}

// GetStats 获取缓存统计
func (c *Client) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := 0.0
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return Stats{
		Hits:         c.hits,
		Misses:       c.misses,
		FallbackHits: c.fbHits,
		Errors:       c.errors,
		HitRate:      hitRate,
		Connected:    c.connected,
		FallbackSize: c.fallback.Len(),
	}
}

// HealthCheck 检查缓存健康状态
func (c *Client) HealthCheck(ctx context.Context) map[string]any {
	if !c.config.Enabled {
		return map[string]any{"healthy": true, "status": "disabled", "fallback_active": true}
	}
	if !c.isConnected() {
		return map[string]any{
			"healthy":         true, // 降级但可用
			"status":          "fallback_only",
			"fallback_active": true,
			"fallback_size":   c.fallback.Len(),
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, c.config.OpTimeout)
	defer cancel()
	if err := c.rdb.Ping(opCtx).Err(); err != nil {
		return map[string]any{
			"healthy":         true, // 降级但可用
			"status":          "degraded",
			"error":           err.Error(),
			"fallback_active": true,
		}
	}

	stats := c.GetStats()
	return map[string]any{
		"healthy":         true,
		"status":          "connected",
		"fallback_active": false,
		"hits":            stats.Hits,
		"misses":          stats.Misses,
		"hit_rate":        stats.HitRate,
	}
}

// Close 关闭底层连接
func (c *Client) Close() error {
	if c.rdb != nil {
		return c.rdb.Close()
	}
	return nil
}
