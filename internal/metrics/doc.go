// 版权所有 2024 AgentFlow Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的调度链路指标采集能力，覆盖
HTTP、能力匹配、负载均衡、工作流与任务仓库五大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto.With
注册到调用方提供的 Registerer（默认 prometheus.DefaultRegisterer），
测试可以传入独立的 Registry 以避免重复注册。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 指标，按业务域分组管理。nil Collector 安全可用。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，状态码归类为 2xx/3xx/4xx/5xx。
  - 匹配指标：匹配请求数（按 operation/outcome）、耗时、候选数量。
  - 负载均衡指标：分配次数（按 strategy/outcome）、熔断器转换与打开数量。
  - 工作流指标：状态转换、步骤结果、步骤耗时、运行中步骤数。
  - 存储指标：任务仓库操作计数与耗时、数据库连接数。
*/
package metrics
