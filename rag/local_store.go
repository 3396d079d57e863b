package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// localSnapshot 快照文件格式：按下标对齐的平行数组
type localSnapshot struct {
	IDs        []string         `json:"ids"`
	Documents  []string         `json:"documents"`
	Embeddings [][]float64      `json:"embeddings"`
	Metadatas  []map[string]any `json:"metadatas"`
}

// LocalBackend 进程内平铺索引。全部向量驻留内存，检索是一次
// 线性余弦扫描；每次写入后整体重写 JSON 快照文件。
// 适合小规模文档集和 Qdrant 不可用时的降级运行。
type LocalBackend struct {
	path   string
	logger *zap.Logger

	mu   sync.RWMutex
	snap localSnapshot
}

// NewLocalBackend 创建本地后端并加载现有快照。
// 快照缺失按空库处理，损坏的快照是错误。
func NewLocalBackend(path string, logger *zap.Logger) (*LocalBackend, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &LocalBackend{
		path:   path,
		logger: logger.With(zap.String("component", "local_backend")),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// 首次运行
		case err != nil:
			return nil, fmt.Errorf("local backend: read snapshot: %w", err)
		default:
			if err := json.Unmarshal(data, &b.snap); err != nil {
				return nil, fmt.Errorf("local backend: corrupt snapshot %s: %w", path, err)
			}
			b.logger.Info("local snapshot loaded",
				zap.String("path", path),
				zap.Int("documents", len(b.snap.IDs)))
		}
	}

	return b, nil
}

func (b *LocalBackend) Name() string { return "local" }

// Upsert 写入记录，已有 ID 原位覆盖
func (b *LocalBackend) Upsert(ctx context.Context, docs []StoredDocument) error {
	if len(docs) == 0 {
		return nil
	}
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document[%d] has empty id", i)
		}
		if len(doc.Embedding) == 0 {
			return fmt.Errorf("document[%d] has no embedding", i)
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	index := make(map[string]int, len(b.snap.IDs))
	for i, id := range b.snap.IDs {
		index[id] = i
	}

	for _, doc := range docs {
		if i, ok := index[doc.ID]; ok {
			b.snap.Documents[i] = doc.Content
			b.snap.Embeddings[i] = doc.Embedding
			b.snap.Metadatas[i] = doc.Metadata
			continue
		}
		index[doc.ID] = len(b.snap.IDs)
		b.snap.IDs = append(b.snap.IDs, doc.ID)
		b.snap.Documents = append(b.snap.Documents, doc.Content)
		b.snap.Embeddings = append(b.snap.Embeddings, doc.Embedding)
		b.snap.Metadatas = append(b.snap.Metadatas, doc.Metadata)
	}

	return b.persistLocked()
}

// Query 线性余弦扫描，过滤掉低于阈值的记录后降序返回 topK
func (b *LocalBackend) Query(ctx context.Context, embedding []float64, topK int, scoreThreshold float64) ([]SearchResult, error) {
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	results := make([]SearchResult, 0, len(b.snap.IDs))
	for i := range b.snap.IDs {
		score := cosineSimilarity(embedding, b.snap.Embeddings[i])
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{
			Document: StoredDocument{
				ID:       b.snap.IDs[i],
				Content:  b.snap.Documents[i],
				Metadata: b.snap.Metadatas[i],
			},
			Score:    score,
			Distance: 1.0 - score,
		})
	}

	sortByScore(results)
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Clear 清空并持久化
func (b *LocalBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.snap = localSnapshot{}
	return b.persistLocked()
}

// Count 返回记录数
func (b *LocalBackend) Count(ctx context.Context) (int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.snap.IDs), nil
}

// HealthCheck 本地后端始终可用
func (b *LocalBackend) HealthCheck(ctx context.Context) error {
	return nil
}

// persistLocked 整体重写快照，先写临时文件再原子改名。
// 调用方必须持有写锁。
func (b *LocalBackend) persistLocked() error {
	if b.path == "" {
		return nil
	}

	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("local backend: create dir: %w", err)
		}
	}

	data, err := json.Marshal(b.snap)
	if err != nil {
		return fmt.Errorf("local backend: marshal snapshot: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("local backend: write snapshot: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("local backend: replace snapshot: %w", err)
	}
	return nil
}
