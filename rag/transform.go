package rag

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// LLMProvider 基于 LLM 的文本补全接口
type LLMProvider interface {
	// Complete 生成给定提示词的补全
	Complete(ctx context.Context, prompt string) (string, error)
}

// TransformCache 改写结果缓存层，由缓存客户端实现
type TransformCache interface {
	GetTransform(ctx context.Context, query string) (string, bool)
	SetTransform(ctx context.Context, query, transformed string)
}

// RewriterConfig 查询改写配置
type RewriterConfig struct {
	// MaxSubQueries 分解出的子查询上限
	MaxSubQueries int
	// DecomposeMinWords 触发分解的最小词数
	DecomposeMinWords int
}

// DefaultRewriterConfig 默认改写配置
func DefaultRewriterConfig() RewriterConfig {
	return RewriterConfig{
		MaxSubQueries:     3,
		DecomposeMinWords: 8,
	}
}

// Rewriter 查询改写器。迭代检索每轮要一个与此前都不同的表述：
// 首轮走 LLM（结果进缓存），LLM 缺席或失败时退回规则改写，
// 后续轮次套用确定性模板。
type Rewriter struct {
	llm    LLMProvider
	cache  TransformCache
	config RewriterConfig
	logger *zap.Logger
}

// NewRewriter 创建查询改写器。llm 可以为 nil，此时全部走规则。
func NewRewriter(llm LLMProvider, cache TransformCache, config RewriterConfig, logger *zap.Logger) *Rewriter {
	if config.MaxSubQueries <= 0 {
		config.MaxSubQueries = 3
	}
	if config.DecomposeMinWords <= 0 {
		config.DecomposeMinWords = 8
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rewriter{
		llm:    llm,
		cache:  cache,
		config: config,
		logger: logger.With(zap.String("component", "rewriter")),
	}
}

// 迭代轮次使用的改写模板
var reformulateTemplates = []string{
	"%s documentation",
	"steps to %s",
	"troubleshooting %s",
	"%s setup guide",
}

// Reformulate 为第 attempt 轮检索生成查询变体（attempt 从 1 开始）。
// 同一查询不同轮次的返回值互不相同，也不同于原始查询。
func (r *Rewriter) Reformulate(ctx context.Context, query string, attempt int) (string, error) {
	if attempt <= 1 {
		rewritten := r.rewrite(ctx, query)
		if !strings.EqualFold(rewritten, query) {
			return rewritten, nil
		}
		// 改写没有产生变化时退到模板
		attempt = 2
	}

	template := reformulateTemplates[(attempt-2)%len(reformulateTemplates)]
	return fmt.Sprintf(template, stripFillers(query)), nil
}

// rewrite 单次查询改写：缓存 → LLM → 规则
func (r *Rewriter) rewrite(ctx context.Context, query string) string {
	if r.cache != nil {
		if cached, ok := r.cache.GetTransform(ctx, query); ok {
			return cached
		}
	}

	if r.llm != nil {
		prompt := fmt.Sprintf(`Rewrite the following query to be more effective for semantic search retrieval.
- Remove filler words and conversational elements
- Focus on key concepts and entities
- Keep the core meaning intact

Original query: %s

Rewritten query:`, query)

		response, err := r.llm.Complete(ctx, prompt)
		if err == nil {
			rewritten := strings.TrimSpace(response)
			if rewritten != "" {
				if r.cache != nil {
					r.cache.SetTransform(ctx, query, rewritten)
				}
				return rewritten
			}
		} else {
			r.logger.Warn("llm rewrite failed, using rules", zap.Error(err))
		}
	}

	rewritten := stripFillers(query)
	if r.cache != nil && !strings.EqualFold(rewritten, query) {
		r.cache.SetTransform(ctx, query, rewritten)
	}
	return rewritten
}

// Decompose 把长查询分解为子查询。低于词数门槛返回 nil，
// 子查询数量受 MaxSubQueries 限制。
func (r *Rewriter) Decompose(query string) []string {
	if len(strings.Fields(query)) < r.config.DecomposeMinWords {
		return nil
	}

	separators := []string{" and ", " or ", " also ", " as well as ", ", ", "? "}
	parts := []string{query}

	for _, sep := range separators {
		var next []string
		for _, part := range parts {
			for _, s := range strings.Split(part, sep) {
				s = strings.TrimSpace(s)
				if s != "" {
					next = append(next, s)
				}
			}
		}
		parts = next
	}

	// 过短的碎片不是有效子查询
	var subQueries []string
	for _, part := range parts {
		if len(strings.Fields(part)) >= 2 {
			subQueries = append(subQueries, strings.TrimSuffix(part, "?"))
		}
	}

	if len(subQueries) <= 1 {
		return nil
	}
	if len(subQueries) > r.config.MaxSubQueries {
		subQueries = subQueries[:r.config.MaxSubQueries]
	}
	return subQueries
}

// 口语填充词，改写时删除
var queryFillers = []string{
	"can you tell me",
	"i want to know",
	"please explain",
	"i need help with",
	"could you help me",
	"i'm looking for",
	"i would like to",
	"can you help me",
	"how do i",
	"how can i",
	"what is the way to",
}

// stripFillers 基于规则的查询精简
func stripFillers(query string) string {
	result := strings.ToLower(query)
	for _, filler := range queryFillers {
		result = strings.Replace(result, filler, "", 1)
	}

	result = strings.TrimSpace(result)
	result = strings.TrimSuffix(result, "?")
	result = strings.TrimSpace(result)

	if result == "" {
		return strings.TrimSpace(strings.TrimSuffix(query, "?"))
	}
	return result
}
