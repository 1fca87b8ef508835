// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 persistence 保存派发给 Agent 的任务记录。

# 概述

工作流引擎在把一个步骤交给 Agent 时写入一条 types.AgentTask 记录。
调度核心只写不读；读取接口供运维与测试使用。

# 核心接口

  - TaskRepository: Add，调度核心唯一依赖的接口。
  - TaskReader: Get / ListByWorkflow / ListByAgent。
  - TaskStatusUpdater: 记录任务完成或失败。
  - TaskStore: 以上接口加 Store（Close / Ping）。

# 后端实现

  - Memory: 内存实现，适合开发与测试，重启后数据丢失。
  - Redis: JSON 记录加按工作流、按 Agent 的 Sorted Set 索引，
    调用经过 gobreaker 熔断器，Redis 不可用时快速失败。
  - SQL: 基于 gorm，支持 postgres / mysql / sqlite。默认表 agent_tasks 可由
    "agentdispatch migrate up" 创建；auto_migrate 开启时启动阶段自行 AutoMigrate，
    自定义 table_name 时只能依赖后者。

# 使用方式

	store, err := persistence.NewTaskStore(config, persistence.Dependencies{
	    DB:      db,
	    Metrics: collector,
	    Logger:  logger,
	})
*/
package persistence
