package testutil

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// 测试中轮询异步状态（工作流推进、熔断器恢复、池内任务完成）的间隔
const pollInterval = 5 * time.Millisecond

// TestContext 返回 30 秒后过期的上下文，测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext returns a context that is already done, for exercising
// the early ctx.Err() paths of registry and store calls.
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// AssertEventuallyTrue fails t unless cond holds at some point before timeout.
// cond is checked once more at the deadline.
func AssertEventuallyTrue(t *testing.T, cond func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Errorf("condition not met within %v", timeout)
			return
		}
		time.Sleep(pollInterval)
	}
}

// AssertNeverTrue fails t if cond holds at any check during window.
func AssertNeverTrue(t *testing.T, cond func() bool, window time.Duration) {
	t.Helper()
	for end := time.Now().Add(window); time.Now().Before(end); time.Sleep(pollInterval) {
		if cond() {
			t.Errorf("condition met within %v", window)
			return
		}
	}
}

// ObservedLogger 返回记录所有级别日志的 logger，用于断言组件的日志输出
func ObservedLogger() (*zap.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return zap.New(core), logs
}
