// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 AgentDispatch 调度进程入口。

# 概述

cmd/agentdispatch 把能力匹配器、负载均衡器、工作流引擎与任务存储
组装为一个长期运行的进程，并提供任务表迁移、健康探测和版本查询等
子命令。配置来自 YAML 文件与环境变量，日志使用 zap。

# 核心类型

  - App：组件装配结果，负责 Start/WaitForShutdown/Shutdown
  - Middleware：运维端口的 HTTP 中间件：RequestID、RequestLogger、Recovery

# 主要能力

  - 子命令：serve、migrate（up/down/steps/force/status/version/info）、
    version、health（--ready 探测 /readyz）
  - 周期任务：poll_workflows 推进待处理工作流，agent_health 执行 Agent
    健康检查，rebalance_report 记录负载失衡，purge_finished 清理已结束的工作流
  - 热加载：名册文件与模板目录变更后重新加载
  - 优雅关闭：信号监听 → 停止调度 → 停止监听 → 关闭 HTTP → 关闭引擎 → 关闭存储
  - 构建注入：Version、BuildTime、GitCommit 通过 ldflags 设置
*/
package main
