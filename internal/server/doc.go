// Copyright (c) AgentFlow Authors.
// Licensed under the MIT License.

/*
包 server 提供调度进程的运维 HTTP 端口：服务器生命周期管理与
/metrics、/healthz、/readyz、/version 端点。

# 核心类型

  - Manager：HTTP 服务器管理器，状态为 idle、serving、stopped 单向推进，
    停止后不可重启。Start 非阻塞，Run 阻塞至 ctx 结束或服务失败，
    Errors 通道报告异步服务错误。启动后 Addr 返回实际绑定的地址，便于以 ":0" 监听。
  - OpsHandler：运维端点处理器。/metrics 由 promhttp 暴露给定的
    prometheus.Gatherer；/readyz 依次执行 RegisterCheck 注册的就绪检查
    （任务存储、数据库连接池），任一失败返回 503。

# 主要能力

  - 非阻塞启动与带超时的优雅关闭
  - 请求计数：SetMetrics 后每个请求记录到 metrics.Collector
*/
package server
