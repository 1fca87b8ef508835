// Package ctxkeys carries dispatch identifiers through context.Context so
// executors and log statements can correlate work with its workflow.
package ctxkeys

import (
	"context"

	"go.uber.org/zap"
)

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	workflowIDKey contextKey = "workflow_id"
	stepIDKey     contextKey = "step_id"
	agentIDKey    contextKey = "agent_id"
)

// WithWorkflowID 设置 WorkflowID
func WithWorkflowID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workflowIDKey, id)
}

// WorkflowID 获取 WorkflowID
func WorkflowID(ctx context.Context) (string, bool) {
	return stringValue(ctx, workflowIDKey)
}

// WithStepID 设置 StepID
func WithStepID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, stepIDKey, id)
}

// StepID 获取 StepID
func StepID(ctx context.Context) (string, bool) {
	return stringValue(ctx, stepIDKey)
}

// WithAgentID 设置 AgentID
func WithAgentID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, agentIDKey, id)
}

// AgentID 获取 AgentID
func AgentID(ctx context.Context) (string, bool) {
	return stringValue(ctx, agentIDKey)
}

// LogFields 返回 context 中已设置的标识字段
func LogFields(ctx context.Context) []zap.Field {
	var fields []zap.Field
	if v, ok := WorkflowID(ctx); ok {
		fields = append(fields, zap.String("workflow_id", v))
	}
	if v, ok := StepID(ctx); ok {
		fields = append(fields, zap.String("step_id", v))
	}
	if v, ok := AgentID(ctx); ok {
		fields = append(fields, zap.String("agent_id", v))
	}
	return fields
}

func stringValue(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
