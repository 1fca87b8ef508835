// Package scheduler 运行调度进程的周期任务：轮询待推进的工作流、
// Agent 健康检查与已结束工作流的清理。调度表达式可以是 cron 表达式
// 也可以是时长。
package scheduler
