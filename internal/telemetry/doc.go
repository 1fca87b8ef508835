// Package telemetry 封装 OpenTelemetry SDK 初始化逻辑，为调度进程安装
// 全局 TracerProvider 和 MeterProvider。禁用时保持 noop 实现。
package telemetry
