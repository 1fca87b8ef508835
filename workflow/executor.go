package workflow

import (
	"context"
	"time"

	"github.com/BaSui01/agentdispatch/types"
)

// TaskExecutor runs an agent task to completion. The engine calls Execute on
// its worker pool and reports the outcome through HandleStepCompletion or
// HandleStepFailure. The context carries the step timeout and the workflow,
// step and agent ids (see internal/ctxkeys).
type TaskExecutor interface {
	Execute(ctx context.Context, task *types.AgentTask) (types.ValueMap, error)
}

// ExecutorFunc adapts a function to TaskExecutor.
type ExecutorFunc func(ctx context.Context, task *types.AgentTask) (types.ValueMap, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, task *types.AgentTask) (types.ValueMap, error) {
	return f(ctx, task)
}

// SimulatedExecutor completes every task after a fixed delay. It stands in
// for real agents in development and tests.
type SimulatedExecutor struct {
	Delay time.Duration
}

// NewSimulatedExecutor creates an executor that completes after delay.
func NewSimulatedExecutor(delay time.Duration) *SimulatedExecutor {
	return &SimulatedExecutor{Delay: delay}
}

// Execute waits for the delay and returns the assigned agent as output.
func (s *SimulatedExecutor) Execute(ctx context.Context, task *types.AgentTask) (types.ValueMap, error) {
	timer := time.NewTimer(s.Delay)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return types.ValueMap{
		task.StepID + "_agent": types.String(task.AgentID),
		task.StepID + "_task":  types.String(task.ID),
	}, nil
}
