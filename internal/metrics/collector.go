// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。实现 cache.MetricsRecorder 和
// rag.PipelineMetrics，把缓存与检索管线的运行数据导出为
// Prometheus 指标。
type Collector struct {
	// 缓存指标
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
	cacheFallbackHits *prometheus.CounterVec
	cacheErrors       *prometheus.CounterVec

	// 管线指标
	queriesTotal       *prometheus.CounterVec
	cacheLayerHits     *prometheus.CounterVec
	retrievalFallbacks *prometheus.CounterVec

	// 检索指标
	searchesTotal     *prometheus.CounterVec
	searchDuration    *prometheus.HistogramVec
	documentsIndexed  prometheus.Counter
	documentsReturned prometheus.Histogram

	logger *zap.Logger
}

// NewCollector 创建指标收集器。reg 为 nil 时注册到默认 Registry。
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// 缓存指标
	c.cacheHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Total number of cache hits",
		},
		[]string{"cache_namespace"},
	)

	c.cacheMisses = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Total number of cache misses",
		},
		[]string{"cache_namespace"},
	)

	c.cacheFallbackHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_fallback_hits_total",
			Help:      "Total number of in-process fallback cache hits",
		},
		[]string{"cache_namespace"},
	)

	c.cacheErrors = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_errors_total",
			Help:      "Total number of remote cache errors",
		},
		[]string{"cache_namespace"},
	)

	// 管线指标
	c.queriesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Total number of answered queries",
		},
		[]string{"query_type"},
	)

	c.cacheLayerHits = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_layer_hits_total",
			Help:      "Answers served from a cache layer",
		},
		[]string{"layer"}, // layer: response, semantic
	)

	c.retrievalFallbacks = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retrieval_fallbacks_total",
			Help:      "Retrieval fallback stages entered",
		},
		[]string{"stage"}, // stage: reformulate, relaxed, decompose
	)

	// 检索指标
	c.searchesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vector_searches_total",
			Help:      "Total number of vector searches",
		},
		[]string{"backend", "status"},
	)

	c.searchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vector_search_duration_seconds",
			Help:      "Vector search duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
		[]string{"backend"},
	)

	c.documentsIndexed = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Total number of chunks indexed into the vector store",
		},
	)

	c.documentsReturned = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "search_documents_returned",
			Help:      "Number of documents returned per search",
			Buckets:   []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 💾 缓存指标记录
// =============================================================================

// RecordCacheHit 记录缓存命中
func (c *Collector) RecordCacheHit(namespace string) {
	c.cacheHits.WithLabelValues(namespace).Inc()
}

// RecordCacheMiss 记录缓存未命中
func (c *Collector) RecordCacheMiss(namespace string) {
	c.cacheMisses.WithLabelValues(namespace).Inc()
}

// RecordCacheFallbackHit 记录进程内回退缓存命中
func (c *Collector) RecordCacheFallbackHit(namespace string) {
	c.cacheFallbackHits.WithLabelValues(namespace).Inc()
}

// RecordCacheError 记录远端缓存错误
func (c *Collector) RecordCacheError(namespace string) {
	c.cacheErrors.WithLabelValues(namespace).Inc()
}

// =============================================================================
// 🔎 管线指标记录
// =============================================================================

// RecordQuery 按查询类型计数
func (c *Collector) RecordQuery(queryType string) {
	c.queriesTotal.WithLabelValues(queryType).Inc()
}

// RecordCacheLayerHit 记录由缓存层直接命中的回答
func (c *Collector) RecordCacheLayerHit(layer string) {
	c.cacheLayerHits.WithLabelValues(layer).Inc()
}

// RecordRetrievalFallback 记录进入的检索兜底阶段
func (c *Collector) RecordRetrievalFallback(stage string) {
	c.retrievalFallbacks.WithLabelValues(stage).Inc()
}

// =============================================================================
// 📚 检索指标记录
// =============================================================================

// RecordSearch 记录一次向量检索
func (c *Collector) RecordSearch(backend string, returned int, duration time.Duration, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.searchesTotal.WithLabelValues(backend, status).Inc()
	c.searchDuration.WithLabelValues(backend).Observe(duration.Seconds())
	if err == nil {
		c.documentsReturned.Observe(float64(returned))
	}
}

// RecordDocumentsIndexed 记录入库的文档块数
func (c *Collector) RecordDocumentsIndexed(count int) {
	c.documentsIndexed.Add(float64(count))
}
