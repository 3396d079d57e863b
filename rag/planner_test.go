package rag

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func testPlanner() *Planner {
	return NewPlanner(PlannerConfig{
		GenericMarkers: []string{"candlestick", "stop loss", "leverage", "what is trading"},
		ProductMarkers: []string{"vault", "coin sets", "api key"},
		Facts: map[string]string{
			"trading fees": "Spot trading fee is 0.1% per order.",
		},
	}, zap.NewNop())
}

func TestPlanner_GreetingSkipsEverything(t *testing.T) {
	planner := testPlanner()

	for _, query := range []string{"hi", "Hello!", "hey", "yo", "GM", "what's up", "good morning"} {
		plan := planner.Plan(query)
		assert.Equal(t, QueryGreeting, plan.Type, query)
		assert.True(t, plan.SkipRetrieval, query)
		assert.True(t, plan.SkipValidation, query)
		assert.True(t, plan.SkipRerank, query)
		assert.NotEmpty(t, plan.CannedResponse, query)
		assert.Equal(t, 1.0, plan.Confidence, query)
	}
}

func TestPlanner_EmptyQueryIsGreeting(t *testing.T) {
	plan := testPlanner().Plan("   ")
	assert.Equal(t, QueryGreeting, plan.Type)
	assert.NotEmpty(t, plan.CannedResponse)
}

func TestPlanner_GreetingPrefixIsNotGreeting(t *testing.T) {
	// 以问候词开头的真实问题必须走完整分类
	plan := testPlanner().Plan("hi, how do I create an api key?")
	assert.NotEqual(t, QueryGreeting, plan.Type)
	assert.Empty(t, plan.CannedResponse)
}

func TestPlanner_Acknowledgement(t *testing.T) {
	plan := testPlanner().Plan("thanks!")
	assert.Equal(t, QueryGreeting, plan.Type)
	assert.NotEmpty(t, plan.CannedResponse)
}

func TestPlanner_FactTableHit(t *testing.T) {
	plan := testPlanner().Plan("What are the trading fees?")
	assert.Equal(t, QuerySimpleFact, plan.Type)
	assert.True(t, plan.SkipRetrieval)
	assert.Equal(t, "Spot trading fee is 0.1% per order.", plan.CannedResponse)
}

func TestPlanner_FactTableMatchIsDeterministic(t *testing.T) {
	planner := NewPlanner(PlannerConfig{
		Facts: map[string]string{
			"withdrawal fee": "Withdrawals cost 0.5 USDT.",
			"deposit fee":    "Deposits are free.",
		},
	}, zap.NewNop())

	// 两条速查同时命中时按字典序取第一条，多次规划结果一致
	for i := 0; i < 20; i++ {
		plan := planner.Plan("what is the deposit fee and the withdrawal fee")
		assert.Equal(t, QuerySimpleFact, plan.Type)
		assert.Equal(t, "Deposits are free.", plan.CannedResponse)
	}
}

func TestPlanner_ErrorDebugRunsFullPipeline(t *testing.T) {
	tests := []string{
		"I keep getting a 401 error when calling the API",
		"order placement failed with timeout",
		"why is my request returning 429",
	}
	for _, query := range tests {
		plan := testPlanner().Plan(query)
		assert.Equal(t, QueryErrorDebug, plan.Type, query)
		assert.False(t, plan.SkipRetrieval, query)
		assert.False(t, plan.SkipValidation, query)
		assert.False(t, plan.SkipRerank, query)
	}
}

func TestPlanner_ErrorBeatsCode(t *testing.T) {
	// 同时命中错误信号和代码信号时按错误排查处理
	plan := testPlanner().Plan("how to fix 500 error in my integration")
	assert.Equal(t, QueryErrorDebug, plan.Type)
}

func TestPlanner_CodeRequestSkipsValidationAndRerank(t *testing.T) {
	plan := testPlanner().Plan("show me an example of placing an order in python")
	assert.Equal(t, QueryCodeRequest, plan.Type)
	assert.False(t, plan.SkipRetrieval)
	assert.True(t, plan.SkipValidation)
	assert.True(t, plan.SkipRerank)
	assert.Equal(t, 0.9, plan.Confidence)
}

func TestPlanner_GenericKnowledgeSkipsRetrieval(t *testing.T) {
	plan := testPlanner().Plan("can you explain what a candlestick chart means")
	assert.Equal(t, QueryGeneric, plan.Type)
	assert.True(t, plan.SkipRetrieval)
	assert.True(t, plan.SkipValidation)
	assert.True(t, plan.SkipRerank)
	assert.Empty(t, plan.CannedResponse)
}

func TestPlanner_ProductBeatsGeneric(t *testing.T) {
	// 产品词和通识词同时出现时问题与产品相关，必须检索
	plan := testPlanner().Plan("does the vault support stop loss settings")
	assert.Equal(t, QueryDomain, plan.Type)
	assert.False(t, plan.SkipRetrieval)
}

func TestPlanner_DefaultIsComplex(t *testing.T) {
	plan := testPlanner().Plan("walk me through migrating my account to the new portfolio view")
	assert.Equal(t, QueryComplex, plan.Type)
	assert.Equal(t, 0.7, plan.Confidence)
	assert.False(t, plan.SkipRetrieval)
}

func TestPlanner_EstimateSavings(t *testing.T) {
	planner := testPlanner()

	tests := []struct {
		name    string
		query   string
		avoided int
	}{
		{"canned greeting avoids everything", "hello", 5},
		{"generic knowledge skips embed+retrieve+validate+rerank", "what is a candlestick pattern", 4},
		{"code request skips validate and rerank", "show me an example in python", 2},
		{"complex query saves nothing", "walk me through migrating my account", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			savings := planner.EstimateSavings(planner.Plan(tt.query))
			assert.Equal(t, 5, savings.FullPipelineCalls)
			assert.Equal(t, tt.avoided, savings.AvoidedCalls)
			assert.Equal(t, 5-tt.avoided, savings.RemainingCalls)
			assert.InDelta(t, float64(tt.avoided)/5*100, savings.SavingsPercent, 1e-9)
		})
	}
}

func TestContainsToken_WordBoundary(t *testing.T) {
	// 单词要求词边界
	assert.False(t, containsToken("the terrorist attack", "error"))
	assert.True(t, containsToken("got an error today", "error"))
	assert.True(t, containsToken("error: bad request", "error"))

	// 多词短语直接子串匹配
	assert.True(t, containsToken("tell me how to do it", "how to"))
}
