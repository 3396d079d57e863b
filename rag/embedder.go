package rag

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/resilience"
)

// Embedder 嵌入提供者接口
type Embedder interface {
	// EmbedQuery 嵌入单个查询
	EmbedQuery(ctx context.Context, query string) ([]float64, error)

	// EmbedDocuments 嵌入一批文档，结果顺序与输入一致
	EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions 返回嵌入维度
	Dimensions() int
}

// ==================== Gemini 嵌入 ====================

// GeminiEmbedderConfig 配置 Gemini 嵌入提供者.
type GeminiEmbedderConfig struct {
	APIKey    string        `json:"api_key" yaml:"api_key"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Model     string        `json:"model,omitempty" yaml:"model,omitempty"`
	Dimension int           `json:"dimension,omitempty" yaml:"dimension,omitempty"`
	BatchSize int           `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
}

// GeminiEmbedder 使用 Google Gemini API 执行嵌入.
// 注: Gemini 使用不同的端点格式: /models/{model}:embedContent
type GeminiEmbedder struct {
	cfg    GeminiEmbedderConfig
	client *http.Client
}

// NewGeminiEmbedder 创建 Gemini 嵌入提供者.
func NewGeminiEmbedder(cfg GeminiEmbedderConfig) *GeminiEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-004"
	}
	if cfg.Dimension == 0 {
		cfg.Dimension = 768
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return &GeminiEmbedder{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (p *GeminiEmbedder) Dimensions() int { return p.cfg.Dimension }

type geminiEmbedRequest struct {
	Model    string        `json:"model"`
	Content  geminiContent `json:"content"`
	TaskType string        `json:"taskType,omitempty"`
}

type geminiBatchEmbedRequest struct {
	Requests []geminiEmbedRequest `json:"requests"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContentEmbedding struct {
	Values []float64 `json:"values"`
}

type geminiEmbedResponse struct {
	Embedding geminiContentEmbedding `json:"embedding"`
}

type geminiBatchEmbedResponse struct {
	Embeddings []geminiContentEmbedding `json:"embeddings"`
}

// EmbedQuery 嵌入单个查询.
func (p *GeminiEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	body := geminiEmbedRequest{
		Model:    fmt.Sprintf("models/%s", p.cfg.Model),
		Content:  geminiContent{Parts: []geminiPart{{Text: query}}},
		TaskType: "RETRIEVAL_QUERY",
	}

	endpoint := fmt.Sprintf("%s/models/%s:embedContent", strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.Model)
	respBody, err := p.doRequest(ctx, endpoint, body)
	if err != nil {
		return nil, err
	}

	var resp geminiEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gemini embed: decode response: %w", err)
	}
	if len(resp.Embedding.Values) == 0 {
		return nil, fmt.Errorf("gemini embed: empty embedding in response")
	}
	return resp.Embedding.Values, nil
}

// EmbedDocuments 嵌入一批文档，超出批量上限时自动分批.
func (p *GeminiEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += p.cfg.BatchSize {
		end := start + p.cfg.BatchSize
		if end > len(texts) {
			end = len(texts)
		}

		batch, err := p.embedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

func (p *GeminiEmbedder) embedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	requests := make([]geminiEmbedRequest, len(texts))
	for i, text := range texts {
		requests[i] = geminiEmbedRequest{
			Model:    fmt.Sprintf("models/%s", p.cfg.Model),
			Content:  geminiContent{Parts: []geminiPart{{Text: text}}},
			TaskType: "RETRIEVAL_DOCUMENT",
		}
	}

	endpoint := fmt.Sprintf("%s/models/%s:batchEmbedContents", strings.TrimRight(p.cfg.BaseURL, "/"), p.cfg.Model)
	respBody, err := p.doRequest(ctx, endpoint, geminiBatchEmbedRequest{Requests: requests})
	if err != nil {
		return nil, err
	}

	var resp geminiBatchEmbedResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("gemini embed: decode batch response: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d inputs", len(resp.Embeddings), len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, e := range resp.Embeddings {
		if len(e.Values) == 0 {
			return nil, fmt.Errorf("gemini embed: empty embedding at index %d", i)
		}
		out[i] = e.Values
	}
	return out, nil
}

func (p *GeminiEmbedder) doRequest(ctx context.Context, endpoint string, body any) ([]byte, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", p.cfg.APIKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("gemini embed: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return raw, nil
}

// ==================== 带缓存的嵌入 ====================

// EmbeddingCache 嵌入缓存层接口，由缓存客户端实现
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, text string) ([]float64, bool)
	SetEmbedding(ctx context.Context, text string, embedding []float64)
}

// CachedEmbedder 旁路缓存的嵌入包装器。
// 批量嵌入时只把未命中的文本发给提供者，结果按原始顺序重组；
// 提供者错误经有界重试后原样上抛，嵌入是硬依赖，失败不降级。
type CachedEmbedder struct {
	inner  Embedder
	cache  EmbeddingCache
	retry  *resilience.RetryPolicy
	logger *zap.Logger
}

// NewCachedEmbedder 创建带缓存的嵌入包装器
func NewCachedEmbedder(inner Embedder, cache EmbeddingCache, retry *resilience.RetryPolicy, logger *zap.Logger) *CachedEmbedder {
	if retry == nil {
		retry = resilience.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedEmbedder{
		inner:  inner,
		cache:  cache,
		retry:  retry,
		logger: logger.With(zap.String("component", "embedder")),
	}
}

func (e *CachedEmbedder) Dimensions() int { return e.inner.Dimensions() }

// EmbedQuery 嵌入单个查询，命中缓存时不触碰提供者
func (e *CachedEmbedder) EmbedQuery(ctx context.Context, query string) ([]float64, error) {
	if embedding, ok := e.cache.GetEmbedding(ctx, query); ok {
		return embedding, nil
	}

	var embedding []float64
	err := e.retry.Do(ctx, func() error {
		var innerErr error
		embedding, innerErr = e.inner.EmbedQuery(ctx, query)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	e.cache.SetEmbedding(ctx, query, embedding)
	return embedding, nil
}

// EmbedDocuments 批量嵌入。部分命中时只请求未命中的文本，
// 响应按未命中位置回填，保证输出顺序与输入一一对应。
func (e *CachedEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	out := make([][]float64, len(texts))
	var missing []string
	var missingIdx []int

	for i, text := range texts {
		if embedding, ok := e.cache.GetEmbedding(ctx, text); ok {
			out[i] = embedding
			continue
		}
		missing = append(missing, text)
		missingIdx = append(missingIdx, i)
	}

	if len(missing) == 0 {
		return out, nil
	}

	var fresh [][]float64
	err := e.retry.Do(ctx, func() error {
		var innerErr error
		fresh, innerErr = e.inner.EmbedDocuments(ctx, missing)
		return innerErr
	})
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(fresh) != len(missing) {
		return nil, fmt.Errorf("embed documents: got %d embeddings for %d inputs", len(fresh), len(missing))
	}

	for j, embedding := range fresh {
		idx := missingIdx[j]
		out[idx] = embedding
		e.cache.SetEmbedding(ctx, texts[idx], embedding)
	}

	e.logger.Debug("batch embedding completed",
		zap.Int("total", len(texts)),
		zap.Int("cache_hits", len(texts)-len(missing)),
		zap.Int("embedded", len(missing)))

	return out, nil
}
