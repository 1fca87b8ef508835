// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供调度核心共享的类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 discovery、balancer、
workflow、persistence 等上层模块提供统一的数据契约。

# 核心类型

  - Agent / Specialization：外部注册表提供的只读 Agent 快照
  - TaskRequirements：任务需求值对象（领域、能力、优先级、最低技能）
  - AgentTask：工作流 AgentTask 步骤写入任务仓库的记录
  - Value / ValueMap：工作流数据、步骤配置与条件参数的标签联合类型
  - Error / ErrorCode：结构化错误体系

# 主要能力

  - 可用性谓词：Agent.CanAcceptTask
  - 专长相关度：Specialization.Relevance（0-100）
  - 优先级乘数：TaskPriority.Multiplier
  - 类型安全访问：Value.AsString / AsNumber / AsBool / AsDuration
  - 错误工具链：IsErrorCode / GetErrorCode / IsRetryable
*/
package types
