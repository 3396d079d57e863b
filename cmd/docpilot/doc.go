// Copyright (c) DocPilot Authors.
// Licensed under the MIT License.

/*
Package main 提供 DocPilot 命令行程序入口。

# 概述

cmd/docpilot 是文档问答引擎的可执行入口，提供文档入库、查询和
状态查看子命令。程序支持 YAML 配置文件加载与环境变量覆盖、
结构化日志（zap）以及 Prometheus 指标采集。

# 核心类型

  - app — 装配完成的引擎：缓存客户端、向量存储、检索编排器、文档加载器

# 主要能力

  - 子命令：ingest（切分并索引文档目录）、query（回答问题）、
    stats（缓存与存储状态）、version
  - 向量后端选择：qdrant / local，qdrant 探活失败时自动降级本地快照
  - 查询输出：回答正文 + 来源标题路径与得分，--json 输出完整结构
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
