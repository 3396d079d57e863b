package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
)

// 启动时后端探活的超时
const healthProbeTimeout = 5 * time.Second

// Backend 向量存储后端接口
type Backend interface {
	// Upsert 写入或覆盖记录
	Upsert(ctx context.Context, docs []StoredDocument) error

	// Query 按向量检索 topK 条记录，按相似度降序返回，
	// 只返回 score >= scoreThreshold 的记录
	Query(ctx context.Context, embedding []float64, topK int, scoreThreshold float64) ([]SearchResult, error)

	// Clear 清空存储
	Clear(ctx context.Context) error

	// Count 返回记录数
	Count(ctx context.Context) (int, error)

	// HealthCheck 探测后端可用性
	HealthCheck(ctx context.Context) error

	// Name 后端名称
	Name() string
}

// StoreConfig 向量存储门面配置
type StoreConfig struct {
	// TopK 默认返回条数
	TopK int
	// ScoreThreshold 常规检索相似度阈值
	ScoreThreshold float64
	// RelaxedThreshold 兜底检索的放宽阈值
	RelaxedThreshold float64
}

// DefaultStoreConfig 默认检索配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		TopK:             5,
		ScoreThreshold:   0.7,
		RelaxedThreshold: 0.5,
	}
}

// StoreMetrics 检索指标上报接口（可选）
type StoreMetrics interface {
	RecordSearch(backend string, returned int, duration time.Duration, err error)
	RecordDocumentsIndexed(count int)
}

// Store 向量存储门面。持有后端和嵌入器，负责文本到向量的转换、
// 内容派生 ID 以及阈值选择；过滤由后端按请求携带的阈值执行。
type Store struct {
	backend  Backend
	embedder Embedder
	config   StoreConfig
	metrics  StoreMetrics
	logger   *zap.Logger
}

// NewStore 创建向量存储门面
func NewStore(backend Backend, embedder Embedder, config StoreConfig, logger *zap.Logger) *Store {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		backend:  backend,
		embedder: embedder,
		config:   config,
		logger:   logger.With(zap.String("component", "vector_store")),
	}
}

// NewStoreWithFallback 创建门面，首选后端探活失败时降级到备用后端。
// 降级只发生在启动时，运行期不做自动切换。
func NewStoreWithFallback(primary, fallback Backend, embedder Embedder, config StoreConfig, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), healthProbeTimeout)
	defer cancel()

	backend := primary
	if err := primary.HealthCheck(ctx); err != nil {
		logger.Warn("primary vector backend unavailable, falling back",
			zap.String("primary", primary.Name()),
			zap.String("fallback", fallback.Name()),
			zap.Error(err))
		backend = fallback
	}

	return NewStore(backend, embedder, config, logger)
}

// Backend 返回当前使用的后端
func (s *Store) Backend() Backend { return s.backend }

// SetMetrics 挂接检索指标上报
func (s *Store) SetMetrics(m StoreMetrics) { s.metrics = m }

// AddChunks 嵌入并写入一批文档块。
// 记录 ID 由块内容哈希派生，重复入库自然幂等。
func (s *Store) AddChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	embeddings, err := s.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}

	docs := make([]StoredDocument, len(chunks))
	for i, c := range chunks {
		docs[i] = StoredDocument{
			ID:        contentID(c.Content),
			Content:   c.Content,
			Embedding: embeddings[i],
			Metadata:  c.Metadata,
		}
	}

	if err := s.backend.Upsert(ctx, docs); err != nil {
		return fmt.Errorf("add chunks: %w", err)
	}
	if s.metrics != nil {
		s.metrics.RecordDocumentsIndexed(len(docs))
	}

	s.logger.Info("chunks indexed",
		zap.Int("count", len(docs)),
		zap.String("backend", s.backend.Name()))
	return nil
}

// Search 常规检索：嵌入查询后取 topK 并按 ScoreThreshold 过滤。
// topK <= 0 时使用配置默认值。
func (s *Store) Search(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	return s.search(ctx, query, topK, s.config.ScoreThreshold)
}

// SearchRelaxed 兜底检索：常规检索空手而归时用放宽的阈值重试
func (s *Store) SearchRelaxed(ctx context.Context, query string, topK int) ([]SearchResult, error) {
	return s.search(ctx, query, topK, s.config.RelaxedThreshold)
}

func (s *Store) search(ctx context.Context, query string, topK int, threshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		topK = s.config.TopK
	}

	embedding, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	start := time.Now()
	results, err := s.backend.Query(ctx, embedding, topK, threshold)
	if s.metrics != nil {
		s.metrics.RecordSearch(s.backend.Name(), len(results), time.Since(start), err)
	}
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	s.logger.Debug("search completed",
		zap.Int("returned", len(results)),
		zap.Float64("threshold", threshold))
	return results, nil
}

// Clear 清空存储
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// Count 返回记录数
func (s *Store) Count(ctx context.Context) (int, error) {
	return s.backend.Count(ctx)
}

// HealthCheck 探测当前后端
func (s *Store) HealthCheck(ctx context.Context) error {
	return s.backend.HealthCheck(ctx)
}

// contentID 由内容哈希派生的稳定记录 ID
func contentID(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:32]
}

// cosineSimilarity 余弦相似度，维度不符或零向量时返回 0
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// sortByScore 按相似度降序排序
func sortByScore(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
}
