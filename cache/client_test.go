package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/docpilot/resilience"
)

func setupTestClient(t *testing.T) (*miniredis.Miniredis, *Client) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.OpTimeout = 500 * time.Millisecond
	// 失败路径测试不需要慢速重试
	config.Retry = &resilience.RetryPolicy{
		MaxAttempts:    1,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     time.Millisecond,
		Multiplier:     2.0,
	}

	client := NewClient(config, zap.NewNop())
	require.True(t, client.isConnected())

	return mr, client
}

func TestNewClient_Disabled(t *testing.T) {
	config := DefaultConfig()
	config.Enabled = false

	client := NewClient(config, zap.NewNop())
	defer client.Close()

	assert.False(t, client.isConnected())

	// 纯进程内模式下读写照常工作
	ctx := context.Background()
	client.SetTransform(ctx, "original query", "rewritten query")
	value, ok := client.GetTransform(ctx, "original query")
	assert.True(t, ok)
	assert.Equal(t, "rewritten query", value)
}

func TestNewClient_ConnectFailure(t *testing.T) {
	config := DefaultConfig()
	config.Addr = "127.0.0.1:1" // 无监听端口
	config.OpTimeout = 200 * time.Millisecond

	client := NewClient(config, zap.NewNop())
	defer client.Close()

	// 连接失败降级为仅回退缓存，不是致命错误
	assert.False(t, client.isConnected())

	ctx := context.Background()
	client.SetEmbedding(ctx, "some text", []float64{0.1, 0.2})
	embedding, ok := client.GetEmbedding(ctx, "some text")
	assert.True(t, ok)
	assert.Equal(t, []float64{0.1, 0.2}, embedding)
}

func TestClient_ResponseRoundTrip(t *testing.T) {
	mr, client := setupTestClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	history := []Turn{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	payload := map[string]string{"answer": "use the settings page"}
	client.SetResponse(ctx, "How do I reset my API key?", history, "", payload)

	// 等价规范化查询命中同一个键
	raw, ok := client.GetResponse(ctx, "how do i reset my API key", history, "")
	require.True(t, ok)
	assert.JSONEq(t, `{"answer":"use the settings page"}`, string(raw))

	// 不同的对话历史是不同的缓存条目
	_, ok = client.GetResponse(ctx, "How do I reset my API key?", nil, "")
	assert.False(t, ok)
}

func TestClient_ValidationRoundTrip(t *testing.T) {
	mr, client := setupTestClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()

	type verdict struct {
		Relevant bool    `json:"relevant"`
		Score    float64 `json:"score"`
	}

	client.SetValidation(ctx, "query", "document body text", verdict{Relevant: true, Score: 0.9})

	var out verdict
	require.True(t, client.GetValidation(ctx, "query", "document body text", &out))
	assert.True(t, out.Relevant)
	assert.InDelta(t, 0.9, out.Score, 1e-9)

	assert.False(t, client.GetValidation(ctx, "query", "another document", &out))
}

func TestClient_RerankRoundTrip(t *testing.T) {
	mr, client := setupTestClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	docs := []string{"doc a", "doc b", "doc c"}

	client.SetRerank(ctx, "query", docs, []int{2, 0, 1})

	indices, ok := client.GetRerank(ctx, "query", docs)
	require.True(t, ok)
	assert.Equal(t, []int{2, 0, 1}, indices)

	// 文档集合哈希与顺序无关
	indices, ok = client.GetRerank(ctx, "query", []string{"doc c", "doc b", "doc a"})
	require.True(t, ok)
	assert.Equal(t, []int{2, 0, 1}, indices)
}

func TestClient_EmbeddingRoundTrip(t *testing.T) {
	mr, client := setupTestClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()

	_, ok := client.GetEmbedding(ctx, "never embedded")
	assert.False(t, ok)

	client.SetEmbedding(ctx, "hello world", []float64{0.5, -0.25, 1.0})
	embedding, ok := client.GetEmbedding(ctx, "hello world")
	require.True(t, ok)
	assert.Equal(t, []float64{0.5, -0.25, 1.0}, embedding)
}

func TestClient_RawRoundTrip(t *testing.T) {
	mr, client := setupTestClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()
	client.SetRaw(ctx, "semantic:abc123", `{"query":"q"}`, time.Minute)

	value, ok := client.GetRaw(ctx, "semantic:abc123")
	require.True(t, ok)
	assert.Equal(t, `{"query":"q"}`, value)

	_, ok = client.GetRaw(ctx, "semantic:missing")
	assert.False(t, ok)
}

func TestClient_FallbackServesWhenRedisDies(t *testing.T) {
	mr, client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	client.SetTransform(ctx, "query", "rewritten")

	// Redis 挂掉后回退缓存继续供给
	mr.Close()

	value, ok := client.GetTransform(ctx, "query")
	assert.True(t, ok)
	assert.Equal(t, "rewritten", value)

	stats := client.GetStats()
	assert.Greater(t, stats.FallbackHits, int64(0))
}

func TestClient_FailOpenAfterRedisDies(t *testing.T) {
	mr, client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()
	mr.Close()

	// 远程失败只计为未命中，永不向调用方报错
	_, ok := client.GetTransform(ctx, "uncached query")
	assert.False(t, ok)

	// set 也不报错，回退层照常写入
	client.SetTransform(ctx, "another query", "rewritten")
	value, ok := client.GetTransform(ctx, "another query")
	assert.True(t, ok)
	assert.Equal(t, "rewritten", value)

	stats := client.GetStats()
	assert.Greater(t, stats.Errors, int64(0))
}

func TestClient_BreakerShortCircuitsRepeatedFailures(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultConfig()
	config.Addr = mr.Addr()
	config.OpTimeout = 200 * time.Millisecond
	config.FallbackTTL = time.Millisecond // 让回退缓存立即过期，强制走远程
	config.Retry = &resilience.RetryPolicy{MaxAttempts: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 2.0}
	config.Breaker = &resilience.BreakerConfig{Threshold: 2, RecoveryTimeout: time.Hour}

	client := NewClient(config, zap.NewNop())
	defer client.Close()
	require.True(t, client.isConnected())

	mr.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, ok := client.GetRaw(ctx, "semantic:key")
		assert.False(t, ok)
	}

	// 达到阈值后熔断器打开，后续请求不再触碰 Redis
	assert.Equal(t, resilience.StateOpen, client.breaker.State())
}

func TestClient_GetStats(t *testing.T) {
	mr, client := setupTestClient(t)
	defer mr.Close()
	defer client.Close()

	ctx := context.Background()

	_, _ = client.GetTransform(ctx, "miss one")
	_, _ = client.GetTransform(ctx, "miss two")

	client.SetTransform(ctx, "query", "rewritten")
	_, _ = client.GetTransform(ctx, "query") // 回退命中

	stats := client.GetStats()
	assert.Equal(t, int64(2), stats.Misses)
	assert.Equal(t, int64(1), stats.FallbackHits)
	assert.True(t, stats.Connected)
	assert.Equal(t, 1, stats.FallbackSize)
}

func TestClient_HealthCheck(t *testing.T) {
	mr, client := setupTestClient(t)
	defer client.Close()

	ctx := context.Background()

	health := client.HealthCheck(ctx)
	assert.Equal(t, true, health["healthy"])
	assert.Equal(t, "connected", health["status"])

	// Redis 挂掉后降级但仍然健康
	mr.Close()
	health = client.HealthCheck(ctx)
	assert.Equal(t, true, health["healthy"])
	assert.Equal(t, "degraded", health["status"])
}
