// Copyright 2025-2026 DocPilot Authors. All rights reserved.
// Use of this source code is governed by the project license.

/*
# 概述

Package rag 实现文档问答的检索与缓存引擎。

该包覆盖从文档入库到回答产出的完整链路：标题感知的文档分块、
向量存储（Qdrant / 本地快照双后端）、查询规划、迭代检索兜底、
语义缓存和检索编排。

# 核心接口/类型

  - Backend — 向量存储后端接口（Upsert / Query / Clear / Count / HealthCheck）
  - Store — 向量存储门面，负责嵌入、内容派生 ID 和阈值过滤
  - Embedder — 嵌入接口（EmbedQuery / EmbedDocuments），Gemini REST 实现
  - Planner — 查询规划器，按规则级联决定跳过哪些管线阶段
  - Rewriter — 查询改写器，驱动迭代检索与长查询分解
  - SemanticCache — 语义层缓存：精确哈希快路径 + 向量相似度扫描
  - Pipeline — 编排器，把规划、缓存分层、检索、校验、重排和生成串起来
  - Validator / Reranker / Generator — 可注入的管线钩子

# 主要能力

  - 文档分块：Markdown 标题栈 + 祖先路径前缀 + 句边界滑窗（Chunker）
  - 双后端向量存储：Qdrant REST 与本地 JSON 快照，启动时探活降级
  - 查询规划：问候直出、事实速查、错误/代码/通识/产品分类（Planner）
  - 多级检索兜底：迭代改写 → 放宽阈值 → 子查询分解合并（Pipeline）
  - 语义缓存：阈值 0.95 的相似问答复用，容量有界、旧条目先逐出
  - 嵌入缓存：CachedEmbedder 装饰器，批量请求部分命中重组
*/
package rag
