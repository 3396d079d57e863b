// 版权所有 2025 DocPilot Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的指标采集能力，覆盖缓存、
检索管线与向量检索三个维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制。所有指标按 namespace 隔离，支持多维度 label 分组，
便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，同时实现 cache.MetricsRecorder 和
    rag.PipelineMetrics，由缓存客户端与检索编排器直接上报。

# 主要能力

  - 缓存指标：命中、未命中、进程内回退命中、远端错误计数，
    按缓存命名空间（response/relevancy/rerank/transform/embedding）分组。
  - 管线指标：按查询类型的回答计数、缓存层直出计数、
    检索兜底阶段（reformulate/relaxed/decompose）计数。
  - 检索指标：向量检索次数与耗时、单次返回文档数分布、
    累计入库文档块数，按后端（qdrant/local）分组。
*/
package metrics
