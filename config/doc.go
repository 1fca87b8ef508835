// Package config 提供 AgentDispatch 的配置管理功能。
//
// 配置按 默认值 → YAML 文件 → 环境变量（前缀 AGENTDISPATCH）的顺序加载，
// Validate 一次性报告全部问题。FileWatcher 以轮询方式监听模板目录与
// Agent 名册文件，供宿主进程在变更时重新加载。
package config
