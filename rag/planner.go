package rag

import (
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// QueryType 查询类别
type QueryType string

const (
	QueryGreeting    QueryType = "greeting"
	QuerySimpleFact  QueryType = "simple_fact"
	QueryErrorDebug  QueryType = "error_debug"
	QueryCodeRequest QueryType = "code_request"
	QueryGeneric     QueryType = "generic_knowledge"
	QueryDomain      QueryType = "domain_specific"
	QueryComplex     QueryType = "complex"
)

// Plan 查询执行计划。Skip 开关告诉编排器哪些阶段可以整段跳过，
// CannedResponse 非空时直接返回，不触碰任何下游组件。
type Plan struct {
	Type           QueryType `json:"type"`
	Confidence     float64   `json:"confidence"`
	SkipRetrieval  bool      `json:"skip_retrieval"`
	SkipValidation bool      `json:"skip_validation"`
	SkipRerank     bool      `json:"skip_rerank"`
	CannedResponse string    `json:"canned_response,omitempty"`
	Reason         string    `json:"reason"`
}

// PlannerConfig 规划器配置
type PlannerConfig struct {
	// GenericMarkers 领域通识词，命中后跳过检索直接由模型回答
	GenericMarkers []string
	// ProductMarkers 产品专有词，命中后走完整检索管线
	ProductMarkers []string
	// Facts 事实速查表：规范化问题子串 -> 固定答案
	Facts map[string]string
}

// Planner 基于规则的查询规划器。规则按特异性从高到低依次匹配，
// 第一条命中的规则决定计划。
type Planner struct {
	config PlannerConfig
	logger *zap.Logger
}

var (
	greetingRe = regexp.MustCompile(`(?i)^(hi|hello|hey|yo|sup|gm|gn|what'?s up|good (morning|afternoon|evening))[\s!.,?]*$`)
	thanksRe   = regexp.MustCompile(`(?i)^(thanks|thank you|thx|ty|ok|okay|cool|great|nice|got it|bye|goodbye|see you)[\s!.,?]*$`)
)

// 错误排查信号：出现任意一个就按完整管线处理并提升错误日志文档权重
var errorIndicators = []string{
	"error", "exception", "failed", "failure", "traceback", "stack trace",
	"not working", "doesn't work", "broken", "timeout", "denied",
	"401", "403", "404", "429", "500", "502", "503", "-1",
}

// 代码请求信号：答案形态是代码片段，相关性校验和重排意义不大
var codeIndicators = []string{
	"how to", "example", "snippet", "sample code", "show me",
	"code for", "implement", "curl", "python", "javascript", "golang",
}

// NewPlanner 创建查询规划器
func NewPlanner(config PlannerConfig, logger *zap.Logger) *Planner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Planner{
		config: config,
		logger: logger.With(zap.String("component", "planner")),
	}
}

// Plan 为查询生成执行计划
func (p *Planner) Plan(query string) Plan {
	trimmed := strings.TrimSpace(query)
	normalized := strings.ToLower(trimmed)

	plan := p.classify(trimmed, normalized)

	p.logger.Debug("query planned",
		zap.String("type", string(plan.Type)),
		zap.Float64("confidence", plan.Confidence),
		zap.Bool("skip_retrieval", plan.SkipRetrieval),
		zap.String("reason", plan.Reason))

	return plan
}

func (p *Planner) classify(trimmed, normalized string) Plan {
	// 空查询按问候处理
	if trimmed == "" {
		return Plan{
			Type:           QueryGreeting,
			Confidence:     1.0,
			SkipRetrieval:  true,
			SkipValidation: true,
			SkipRerank:     true,
			CannedResponse: "Hi! Ask me anything about the product docs.",
			Reason:         "empty query",
		}
	}

	if greetingRe.MatchString(trimmed) {
		return Plan{
			Type:           QueryGreeting,
			Confidence:     1.0,
			SkipRetrieval:  true,
			SkipValidation: true,
			SkipRerank:     true,
			CannedResponse: "Hi! Ask me anything about the product docs.",
			Reason:         "greeting pattern",
		}
	}

	if thanksRe.MatchString(trimmed) {
		return Plan{
			Type:           QueryGreeting,
			Confidence:     1.0,
			SkipRetrieval:  true,
			SkipValidation: true,
			SkipRerank:     true,
			CannedResponse: "You're welcome! Anything else I can help with?",
			Reason:         "acknowledgement pattern",
		}
	}

	// 事实速查：答案固定，无需检索。按字典序匹配，
	// 多条同时命中时结果稳定。
	for _, needle := range sortedKeys(p.config.Facts) {
		if strings.Contains(normalized, strings.ToLower(needle)) {
			return Plan{
				Type:           QuerySimpleFact,
				Confidence:     1.0,
				SkipRetrieval:  true,
				SkipValidation: true,
				SkipRerank:     true,
				CannedResponse: p.config.Facts[needle],
				Reason:         "fact table hit: " + needle,
			}
		}
	}

	// 错误排查优先于代码请求：带错误码的 "how to fix 500" 要走完整管线
	for _, indicator := range errorIndicators {
		if containsToken(normalized, indicator) {
			return Plan{
				Type:       QueryErrorDebug,
				Confidence: 0.9,
				Reason:     "error indicator: " + indicator,
			}
		}
	}

	for _, indicator := range codeIndicators {
		if containsToken(normalized, indicator) {
			return Plan{
				Type:           QueryCodeRequest,
				Confidence:     0.9,
				SkipValidation: true,
				SkipRerank:     true,
				Reason:         "code indicator: " + indicator,
			}
		}
	}

	// 产品专有词优先于通识词：两者同时出现说明问题与产品相关
	for _, marker := range p.config.ProductMarkers {
		if containsToken(normalized, strings.ToLower(marker)) {
			return Plan{
				Type:       QueryDomain,
				Confidence: 0.9,
				Reason:     "product marker: " + marker,
			}
		}
	}

	for _, marker := range p.config.GenericMarkers {
		if containsToken(normalized, strings.ToLower(marker)) {
			return Plan{
				Type:           QueryGeneric,
				Confidence:     0.8,
				SkipRetrieval:  true,
				SkipValidation: true,
				SkipRerank:     true,
				Reason:         "generic marker: " + marker,
			}
		}
	}

	// 没有任何信号命中时走完整管线
	return Plan{
		Type:       QueryComplex,
		Confidence: 0.7,
		Reason:     "no rule matched",
	}
}

// PlanSavings 一次查询计划预计节省的下游调用量
type PlanSavings struct {
	FullPipelineCalls int     `json:"full_pipeline_calls"`
	AvoidedCalls      int     `json:"avoided_calls"`
	RemainingCalls    int     `json:"remaining_calls"`
	SavingsPercent    float64 `json:"savings_percent"`
}

// 完整管线的下游调用基准：嵌入 + 检索 + 校验 + 重排 + 生成
const fullPipelineCalls = 5

// EstimateSavings 估算计划相对完整管线省掉的调用次数。
// 固定应答直接短路全部阶段；否则每个 Skip 开关各省一次。
func (p *Planner) EstimateSavings(plan Plan) PlanSavings {
	avoided := 0
	switch {
	case plan.CannedResponse != "":
		avoided = fullPipelineCalls
	default:
		if plan.SkipRetrieval {
			// 跳过检索同时省掉查询嵌入
			avoided += 2
		}
		if plan.SkipValidation {
			avoided++
		}
		if plan.SkipRerank {
			avoided++
		}
	}
	return PlanSavings{
		FullPipelineCalls: fullPipelineCalls,
		AvoidedCalls:      avoided,
		RemainingCalls:    fullPipelineCalls - avoided,
		SavingsPercent:    float64(avoided) / float64(fullPipelineCalls) * 100,
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// containsToken 子串匹配，多词短语直接 Contains，单词要求词边界，
// 避免 "error" 命中 "terror" 这类误报。
func containsToken(text, token string) bool {
	if strings.Contains(token, " ") {
		return strings.Contains(text, token)
	}
	for _, field := range strings.FieldsFunc(text, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == ',' || r == '.' ||
			r == '?' || r == '!' || r == ':' || r == ';' || r == '(' || r == ')'
	}) {
		if field == token {
			return true
		}
	}
	return false
}
