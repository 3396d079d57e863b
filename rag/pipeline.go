package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/cache"
)

// Validator 文档相关性校验接口
type Validator interface {
	// Validate 判断文档与查询是否相关
	Validate(ctx context.Context, query string, doc StoredDocument) (bool, error)
}

// Reranker 重排序接口
type Reranker interface {
	// Rerank 返回按相关性重排后的下标序列
	Rerank(ctx context.Context, query string, docs []StoredDocument) ([]int, error)
}

// Generator 答案生成接口
type Generator interface {
	// Generate 基于检索到的上下文生成回答
	Generate(ctx context.Context, query string, docs []StoredDocument, history []cache.Turn) (string, error)
}

// PipelineMetrics 管线指标上报接口（可选）
type PipelineMetrics interface {
	RecordQuery(queryType string)
	RecordCacheLayerHit(layer string)
	RecordRetrievalFallback(stage string)
}

// Source 回答引用的文档来源
type Source struct {
	Content     string  `json:"content"`
	HeadingPath string  `json:"heading_path,omitempty"`
	Score       float64 `json:"score"`
}

// Answer 管线输出
type Answer struct {
	Answer     string    `json:"answer"`
	Sources    []Source  `json:"sources,omitempty"`
	QueryType  QueryType `json:"query_type"`
	Cached     bool      `json:"cached"`
	CacheLayer string    `json:"cache_layer,omitempty"` // response / semantic
}

// PipelineConfig 编排配置
type PipelineConfig struct {
	// TopK 检索返回条数
	TopK int
	// MaxIterations 迭代检索最大轮数
	MaxIterations int
}

// DefaultPipelineConfig 默认编排配置
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		TopK:          5,
		MaxIterations: 3,
	}
}

// PipelineOptions 管线依赖。Planner/Cache/Store/Chunker/Rewriter 必填，
// Validator/Reranker/Generator/SemanticCache/Metrics 可选。
type PipelineOptions struct {
	Planner       *Planner
	Cache         *cache.Client
	SemanticCache *SemanticCache
	Store         *Store
	Chunker       *Chunker
	Rewriter      *Rewriter
	Validator     Validator
	Reranker      Reranker
	Generator     Generator
	Metrics       PipelineMetrics
	Config        PipelineConfig
	Logger        *zap.Logger
}

// Pipeline 检索编排器。把规划、缓存分层、检索兜底、校验、
// 重排和生成串成一条问答管线。
type Pipeline struct {
	planner       *Planner
	cache         *cache.Client
	semanticCache *SemanticCache
	store         *Store
	chunker       *Chunker
	rewriter      *Rewriter
	validator     Validator
	reranker      Reranker
	generator     Generator
	metrics       PipelineMetrics
	config        PipelineConfig
	logger        *zap.Logger
}

// NewPipeline 创建检索编排器
func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.Planner == nil {
		return nil, fmt.Errorf("pipeline: planner is required")
	}
	if opts.Cache == nil {
		return nil, fmt.Errorf("pipeline: cache client is required")
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("pipeline: vector store is required")
	}
	if opts.Chunker == nil {
		return nil, fmt.Errorf("pipeline: chunker is required")
	}
	if opts.Rewriter == nil {
		return nil, fmt.Errorf("pipeline: rewriter is required")
	}
	if opts.Config.TopK <= 0 {
		opts.Config.TopK = 5
	}
	if opts.Config.MaxIterations <= 0 {
		opts.Config.MaxIterations = 3
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Pipeline{
		planner:       opts.Planner,
		cache:         opts.Cache,
		semanticCache: opts.SemanticCache,
		store:         opts.Store,
		chunker:       opts.Chunker,
		rewriter:      opts.Rewriter,
		validator:     opts.Validator,
		reranker:      opts.Reranker,
		generator:     opts.Generator,
		metrics:       opts.Metrics,
		config:        opts.Config,
		logger:        logger.With(zap.String("component", "pipeline")),
	}, nil
}

// Ingest 切分并入库一批文档
func (p *Pipeline) Ingest(ctx context.Context, docs []Document) (int, error) {
	chunks := p.chunker.ChunkAll(docs)
	if len(chunks) == 0 {
		return 0, nil
	}
	if err := p.store.AddChunks(ctx, chunks); err != nil {
		return 0, err
	}
	return len(chunks), nil
}

// LearnText 把一段临时文本直接切分入库，供运营侧补充知识
func (p *Pipeline) LearnText(ctx context.Context, title, text string) (int, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, fmt.Errorf("learn: empty text")
	}
	doc := Document{
		ID:       contentID(text),
		Title:    title,
		Content:  text,
		Metadata: map[string]any{"source": "learned"},
	}
	return p.Ingest(ctx, []Document{doc})
}

// Answer 回答一个查询
func (p *Pipeline) Answer(ctx context.Context, query string, history []cache.Turn, sideContext string) (*Answer, error) {
	plan := p.planner.Plan(query)
	if p.metrics != nil {
		p.metrics.RecordQuery(string(plan.Type))
	}

	// 1. 规划器直出：问候 / 事实速查
	if plan.CannedResponse != "" {
		return &Answer{Answer: plan.CannedResponse, QueryType: plan.Type}, nil
	}

	// 2. 响应缓存（查询 + 对话上下文组合键）
	if raw, ok := p.cache.GetResponse(ctx, query, history, sideContext); ok {
		if answer := decodeAnswer(raw, plan.Type); answer != nil {
			p.recordCacheHit("response")
			return answer, nil
		}
	}

	// 3. 语义缓存
	if p.semanticCache != nil {
		if raw, ok := p.semanticCache.Get(ctx, query); ok {
			if answer := decodeAnswer(raw, plan.Type); answer != nil {
				answer.CacheLayer = "semantic"
				p.recordCacheHit("semantic")
				return answer, nil
			}
		}
	}

	// 4. 检索（计划允许跳过）。检索彻底失败时降级为
	// 无上下文回答，不把错误抛给调用方。
	var docs []StoredDocument
	if !plan.SkipRetrieval {
		results, err := p.retrieve(ctx, query, plan)
		if err != nil {
			p.logger.Warn("retrieval failed, answering without context", zap.Error(err))
			p.recordFallback("no_context")
		} else {
			docs = resultDocs(results)

			// 5. 相关性校验
			if !plan.SkipValidation && p.validator != nil {
				docs = p.validate(ctx, query, docs)
			}

			// 6. 重排序
			if !plan.SkipRerank && p.reranker != nil && len(docs) > 1 {
				docs = p.rerank(ctx, query, docs)
			}
		}
	}

	// 7. 生成回答
	text, err := p.generate(ctx, query, docs, history)
	if err != nil {
		return nil, err
	}

	answer := &Answer{
		Answer:    text,
		QueryType: plan.Type,
		Sources:   docSources(docs),
	}

	// 8. 写入两级缓存
	p.cache.SetResponse(ctx, query, history, sideContext, answer)
	if p.semanticCache != nil {
		p.semanticCache.Set(ctx, query, answer)
	}

	return answer, nil
}

// retrieve 多级兜底检索：常规 → 错误日志加权 → 迭代改写 →
// 放宽阈值 → 查询分解。
func (p *Pipeline) retrieve(ctx context.Context, query string, plan Plan) ([]SearchResult, error) {
	results, err := p.store.Search(ctx, query, p.config.TopK)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	// 错误排查类查询优先错误日志文档
	if plan.Type == QueryErrorDebug {
		boostErrorDocs(results)
	}

	// 迭代改写检索，改写结果和上一轮相同时提前终止
	prev := query
	for attempt := 1; len(results) == 0 && attempt <= p.config.MaxIterations; attempt++ {
		variant, rerr := p.rewriter.Reformulate(ctx, query, attempt)
		if rerr != nil || variant == prev {
			break
		}
		prev = variant
		p.recordFallback("reformulate")
		p.logger.Debug("iterative retrieval",
			zap.Int("attempt", attempt),
			zap.String("variant", variant))

		results, err = p.store.Search(ctx, variant, p.config.TopK)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
	}

	// 放宽阈值兜底
	if len(results) == 0 {
		p.recordFallback("relaxed")
		results, err = p.store.SearchRelaxed(ctx, query, p.config.TopK)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
	}

	// 长查询分解后合并子查询结果
	if len(results) == 0 {
		if subQueries := p.rewriter.Decompose(query); len(subQueries) > 0 {
			p.recordFallback("decompose")
			results, err = p.searchSubQueries(ctx, subQueries)
			if err != nil {
				return nil, err
			}
		}
	}

	return results, nil
}

func (p *Pipeline) searchSubQueries(ctx context.Context, subQueries []string) ([]SearchResult, error) {
	var merged []SearchResult
	seen := make(map[string]bool)

	for _, sub := range subQueries {
		results, err := p.store.Search(ctx, sub, p.config.TopK)
		if err != nil {
			return nil, fmt.Errorf("retrieve: %w", err)
		}
		for _, r := range results {
			if seen[r.Document.ID] {
				continue
			}
			seen[r.Document.ID] = true
			merged = append(merged, r)
		}
	}

	sortByScore(merged)
	if len(merged) > p.config.TopK {
		merged = merged[:p.config.TopK]
	}
	return merged, nil
}

// validate 过滤不相关文档，结果进校验缓存。
// 校验器出错时保守地保留文档。
func (p *Pipeline) validate(ctx context.Context, query string, docs []StoredDocument) []StoredDocument {
	kept := docs[:0]
	for _, doc := range docs {
		var relevant bool
		if p.cache.GetValidation(ctx, query, doc.Content, &relevant) {
			if relevant {
				kept = append(kept, doc)
			}
			continue
		}

		relevant, err := p.validator.Validate(ctx, query, doc)
		if err != nil {
			p.logger.Warn("validation failed, keeping document", zap.Error(err))
			kept = append(kept, doc)
			continue
		}

		p.cache.SetValidation(ctx, query, doc.Content, relevant)
		if relevant {
			kept = append(kept, doc)
		}
	}
	return kept
}

// rerank 重排文档，索引序列进重排缓存。
// 越界或长度不符的缓存序列按失效处理。
func (p *Pipeline) rerank(ctx context.Context, query string, docs []StoredDocument) []StoredDocument {
	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.Content
	}

	indices, ok := p.cache.GetRerank(ctx, query, texts)
	if !ok || !validPermutation(indices, len(docs)) {
		var err error
		indices, err = p.reranker.Rerank(ctx, query, docs)
		if err != nil || !validPermutation(indices, len(docs)) {
			if err != nil {
				p.logger.Warn("rerank failed, keeping retrieval order", zap.Error(err))
			}
			return docs
		}
		p.cache.SetRerank(ctx, query, texts, indices)
	}

	reordered := make([]StoredDocument, len(docs))
	for pos, idx := range indices {
		reordered[pos] = docs[idx]
	}
	return reordered
}

func (p *Pipeline) generate(ctx context.Context, query string, docs []StoredDocument, history []cache.Turn) (string, error) {
	if p.generator != nil {
		text, err := p.generator.Generate(ctx, query, docs, history)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}
		return text, nil
	}

	// 没有生成器时退化为抽取式回答
	if len(docs) == 0 {
		return "I couldn't find anything relevant in the docs for that. Try rephrasing your question.", nil
	}
	return docs[0].Content, nil
}

// Stats 汇总各组件统计
func (p *Pipeline) Stats() map[string]any {
	stats := map[string]any{
		"cache": p.cache.GetStats(),
	}
	if p.semanticCache != nil {
		stats["semantic_cache"] = p.semanticCache.Stats()
	}
	return stats
}

// HealthCheck 汇总各组件健康状态
func (p *Pipeline) HealthCheck(ctx context.Context) map[string]any {
	health := map[string]any{
		"cache": p.cache.HealthCheck(ctx),
	}

	if err := p.store.HealthCheck(ctx); err != nil {
		health["vector_store"] = map[string]any{"healthy": false, "error": err.Error()}
	} else {
		count, _ := p.store.Count(ctx)
		health["vector_store"] = map[string]any{
			"healthy":   true,
			"backend":   p.store.Backend().Name(),
			"documents": count,
		}
	}
	return health
}

func (p *Pipeline) recordCacheHit(layer string) {
	if p.metrics != nil {
		p.metrics.RecordCacheLayerHit(layer)
	}
}

func (p *Pipeline) recordFallback(stage string) {
	if p.metrics != nil {
		p.metrics.RecordRetrievalFallback(stage)
	}
}

// ==================== 辅助函数 ====================

func decodeAnswer(raw json.RawMessage, queryType QueryType) *Answer {
	var answer Answer
	if err := json.Unmarshal(raw, &answer); err != nil || answer.Answer == "" {
		return nil
	}
	answer.QueryType = queryType
	answer.Cached = true
	answer.CacheLayer = "response"
	return &answer
}

func resultDocs(results []SearchResult) []StoredDocument {
	docs := make([]StoredDocument, len(results))
	for i, r := range results {
		docs[i] = r.Document
		// 不回写后端持有的元数据
		meta := make(map[string]any, len(r.Document.Metadata)+1)
		for k, v := range r.Document.Metadata {
			meta[k] = v
		}
		meta["score"] = r.Score
		docs[i].Metadata = meta
	}
	return docs
}

func docSources(docs []StoredDocument) []Source {
	sources := make([]Source, 0, len(docs))
	for _, d := range docs {
		source := Source{Content: d.Content}
		if hp, ok := d.Metadata["heading_path"].(string); ok {
			source.HeadingPath = hp
		}
		if score, ok := d.Metadata["score"].(float64); ok {
			source.Score = score
		}
		sources = append(sources, source)
	}
	return sources
}

// boostErrorDocs 把错误日志类文档的得分上调并重排
func boostErrorDocs(results []SearchResult) {
	changed := false
	for i := range results {
		docType, _ := results[i].Document.Metadata["doc_type"].(string)
		if docType == "error_log" || strings.Contains(docType, "error") {
			results[i].Score *= 1.1
			if results[i].Score > 1.0 {
				results[i].Score = 1.0
			}
			changed = true
		}
	}
	if changed {
		sortByScore(results)
	}
}

// validPermutation 检查 indices 是否为 [0,n) 的一个排列
func validPermutation(indices []int, n int) bool {
	if len(indices) != n {
		return false
	}
	seen := make([]bool, n)
	for _, idx := range indices {
		if idx < 0 || idx >= n || seen[idx] {
			return false
		}
		seen[idx] = true
	}
	return true
}
