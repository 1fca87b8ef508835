package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/agent/persistence"
	"github.com/BaSui01/agentdispatch/internal/ctxkeys"
	"github.com/BaSui01/agentdispatch/types"
)

// Step configuration keys.
const (
	configDelayMs  = "delayMs"
	configMappings = "mappings"
	configSet      = "set"
)

// maxDelay caps a delay step.
const maxDelay = 24 * time.Hour

// =============================================================================
// Dispatch
// =============================================================================

// dispatch starts an admitted step. Synchronous step types report back
// before returning; asynchronous ones run on the worker pool. A panic is
// converted into a step failure.
func (e *Engine) dispatch(ctx context.Context, entry *executionEntry, a admittedStep) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step dispatch panicked",
				errorCode(types.ErrInternalError),
				zap.String("workflow_id", a.workflowID),
				zap.String("step_id", a.step.ID),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			e.failStep(ctx, a.workflowID, a.step.ID, a.attempt, fmt.Sprintf("step dispatch panicked: %v", r))
		}
	}()

	e.logger.Debug("dispatching step",
		zap.String("workflow_id", a.workflowID),
		zap.String("step_id", a.step.ID),
		zap.String("step_type", string(a.step.Type)),
		zap.Int("attempt", a.attempt),
	)

	switch a.step.Type {
	case StepTypeAgentTask:
		e.runAgentTask(ctx, entry, a)
	case StepTypeDelay:
		e.runDelay(ctx, entry, a)
	case StepTypeDataTransformation:
		e.runDataTransformation(ctx, a)
	case StepTypeConditional:
		e.completeStep(ctx, a.workflowID, a.step.ID, a.attempt, nil)
	default:
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt, fmt.Sprintf("unknown step type: %s", a.step.Type))
	}
}

func (e *Engine) runAgentTask(ctx context.Context, entry *executionEntry, a admittedStep) {
	req := a.step.Requirements
	if req == nil {
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
			fmt.Sprintf("agent task step %s requires task requirements", a.step.ID))
		return
	}
	if e.matcher == nil {
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt, "no capability matcher configured")
		return
	}

	match := e.matcher.FindBestMatch(ctx, *req)
	if match == nil || match.Agent == nil {
		e.logger.Warn("no agent matched step",
			errorCode(types.ErrNoMatch),
			zap.String("workflow_id", a.workflowID),
			zap.String("step_id", a.step.ID),
		)
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
			fmt.Sprintf("no suitable agent found for step %s", a.step.ID))
		return
	}

	title := a.step.Name
	if title == "" {
		title = a.step.ID
	}
	task := &types.AgentTask{
		ID:           uuid.NewString(),
		WorkflowID:   a.workflowID,
		StepID:       a.step.ID,
		AgentID:      match.Agent.ID,
		Title:        title,
		Requirements: *req,
		Input:        a.data,
		Status:       types.AgentTaskAssigned,
		CreatedAt:    e.now(),
	}

	if e.repo != nil {
		if err := e.repo.Add(ctx, task); err != nil {
			e.failStep(ctx, a.workflowID, a.step.ID, a.attempt, fmt.Sprintf("failed to record agent task: %v", err))
			return
		}
	}

	if !e.bindTask(entry, a, task) {
		return
	}

	e.logger.Info("agent task assigned",
		zap.String("workflow_id", a.workflowID),
		zap.String("step_id", a.step.ID),
		zap.String("task_id", task.ID),
		zap.String("agent_id", task.AgentID),
		zap.Float64("score", match.Score),
	)

	if e.executor == nil {
		// completion arrives through HandleStepCompletion/HandleStepFailure
		return
	}
	e.submit(ctx, entry, a, task.AgentID, func(ctx context.Context) (types.ValueMap, error) {
		return e.executor.Execute(ctx, task)
	})
}

// bindTask stores the task and agent ids on the step if it is still running
// the same attempt.
func (e *Engine) bindTask(entry *executionEntry, a admittedStep, task *types.AgentTask) bool {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	se := entry.exec.Steps[a.step.ID]
	if entry.exec.Status.IsTerminal() || se.Status != StepRunning || se.Attempts != a.attempt {
		return false
	}
	se.TaskID = task.ID
	se.AgentID = task.AgentID
	return true
}

func (e *Engine) runDelay(ctx context.Context, entry *executionEntry, a admittedStep) {
	v, ok := a.step.Config.Get(configDelayMs)
	ms, isNum := v.AsNumber()
	if !ok || !isNum || math.IsNaN(ms) || ms < 0 {
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
			fmt.Sprintf("delay step %s requires a non-negative %s", a.step.ID, configDelayMs))
		return
	}
	if ms > float64(maxDelay/time.Millisecond) {
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
			fmt.Sprintf("delay step %s: %s exceeds %s", a.step.ID, configDelayMs, maxDelay))
		return
	}

	delay := time.Duration(ms * float64(time.Millisecond))
	e.submit(ctx, entry, a, "", func(ctx context.Context) (types.ValueMap, error) {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			return types.ValueMap{configDelayMs: types.Number(ms)}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
}

func (e *Engine) runDataTransformation(ctx context.Context, a admittedStep) {
	mappings, hasMappings := a.step.Config.Get(configMappings)
	set, hasSet := a.step.Config.Get(configSet)
	if !hasMappings && !hasSet {
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
			fmt.Sprintf("data transformation step %s requires %s or %s", a.step.ID, configMappings, configSet))
		return
	}

	out := make(types.ValueMap)
	if hasMappings {
		m, ok := mappings.AsMap()
		if !ok {
			e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
				fmt.Sprintf("data transformation step %s: %s must be a map", a.step.ID, configMappings))
			return
		}
		for _, target := range m.Keys() {
			source, ok := m[target].AsString()
			if !ok {
				e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
					fmt.Sprintf("data transformation step %s: mapping for %s must name a source key", a.step.ID, target))
				return
			}
			if v, ok := a.data[source]; ok {
				out[target] = v
			}
		}
	}
	if hasSet {
		m, ok := set.AsMap()
		if !ok {
			e.failStep(ctx, a.workflowID, a.step.ID, a.attempt,
				fmt.Sprintf("data transformation step %s: %s must be a map", a.step.ID, configSet))
			return
		}
		out.Merge(m)
	}

	e.completeStep(ctx, a.workflowID, a.step.ID, a.attempt, out)
}

// submit runs fn on the worker pool under the execution context and the
// step timeout, then reports the outcome.
func (e *Engine) submit(ctx context.Context, entry *executionEntry, a admittedStep, agentID string,
	fn func(ctx context.Context) (types.ValueMap, error)) {
	job := func(jobCtx context.Context) error {
		stepCtx := ctxkeys.WithStepID(ctxkeys.WithWorkflowID(jobCtx, a.workflowID), a.step.ID)
		if agentID != "" {
			stepCtx = ctxkeys.WithAgentID(stepCtx, agentID)
		}
		cancel := func() {}
		if a.step.Timeout > 0 {
			stepCtx, cancel = context.WithTimeout(stepCtx, a.step.Timeout)
		}
		defer cancel()

		result, err := safeRun(stepCtx, fn)
		if entry.ctx.Err() != nil {
			// execution finished or engine closed
			return nil
		}
		if err != nil {
			msg := err.Error()
			if errors.Is(stepCtx.Err(), context.DeadlineExceeded) {
				msg = fmt.Sprintf("step timed out after %s", a.step.Timeout)
				e.logger.Warn("step timed out",
					errorCode(types.ErrTimeout),
					zap.String("workflow_id", a.workflowID),
					zap.String("step_id", a.step.ID),
					zap.Duration("timeout", a.step.Timeout),
				)
			}
			e.failStep(entry.ctx, a.workflowID, a.step.ID, a.attempt, msg)
			return err
		}
		e.completeStep(entry.ctx, a.workflowID, a.step.ID, a.attempt, result)
		return nil
	}

	if err := e.workers.TrySubmit(entry.ctx, string(a.step.Type)+":"+a.step.ID, job); err != nil {
		if entry.ctx.Err() != nil {
			return
		}
		e.failStep(ctx, a.workflowID, a.step.ID, a.attempt, fmt.Sprintf("failed to schedule step: %v", err))
	}
}

// safeRun converts a panic in fn into an error so the step still reports.
func safeRun(ctx context.Context, fn func(ctx context.Context) (types.ValueMap, error)) (result types.ValueMap, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("step panicked: %v", r)
		}
	}()
	return fn(ctx)
}

// =============================================================================
// Step outcomes
// =============================================================================

// HandleStepCompletion records a step result, merges it into the data bag,
// applies outgoing data transforms and ticks. It returns false, and changes
// nothing, unless the execution is non-terminal and the step is Running.
func (e *Engine) HandleStepCompletion(ctx context.Context, workflowID, stepID string, result types.ValueMap) bool {
	return e.completeStep(ctx, workflowID, stepID, 0, result)
}

// HandleStepFailure records a step failure. A step with retries left goes
// back to Pending; otherwise it is Failed and the completion check runs.
// The same guard as HandleStepCompletion applies.
func (e *Engine) HandleStepFailure(ctx context.Context, workflowID, stepID, message string) bool {
	return e.failStep(ctx, workflowID, stepID, 0, message)
}

// completeStep is HandleStepCompletion restricted to one attempt. Attempt
// zero matches any attempt.
func (e *Engine) completeStep(ctx context.Context, workflowID, stepID string, attempt int, result types.ValueMap) bool {
	entry := e.lookup(workflowID, "complete_step")
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	step, se, ok := e.runningStep(entry, stepID, attempt, "complete_step")
	if !ok {
		entry.mu.Unlock()
		return false
	}

	exec := entry.exec
	now := e.now()
	se.Status = StepCompleted
	se.CompletedAt = now
	se.Result = result.Clone()
	se.Error = ""
	exec.Data.Merge(result)
	exec.UpdatedAt = now
	e.applyDataTransforms(exec, stepID, now)

	e.recordStepEnd(entry, step, se, StepCompleted, "", now)
	e.updateProgress(exec)
	e.checkCompletion(entry)
	running := exec.Status == StatusRunning
	taskID, agentID := se.TaskID, se.AgentID
	entry.mu.Unlock()

	e.logger.Debug("step completed",
		zap.String("workflow_id", workflowID),
		zap.String("step_id", stepID),
	)
	e.reportOutcome(ctx, taskID, agentID, true)
	if running {
		e.ProcessWorkflowSteps(ctx, workflowID)
	}
	return true
}

// failStep is HandleStepFailure restricted to one attempt.
func (e *Engine) failStep(ctx context.Context, workflowID, stepID string, attempt int, message string) bool {
	entry := e.lookup(workflowID, "fail_step")
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	step, se, ok := e.runningStep(entry, stepID, attempt, "fail_step")
	if !ok {
		entry.mu.Unlock()
		return false
	}

	exec := entry.exec
	now := e.now()
	retry := se.Attempts <= step.RetryCount
	e.recordStepEnd(entry, step, se, StepFailed, message, now)
	se.Error = message
	exec.UpdatedAt = now
	if retry {
		se.Status = StepPending
	} else {
		se.Status = StepFailed
		se.CompletedAt = now
	}
	e.updateProgress(exec)
	if !retry {
		e.checkCompletion(entry)
	}
	running := exec.Status == StatusRunning
	taskID, agentID := se.TaskID, se.AgentID
	attempts := se.Attempts
	if retry {
		se.TaskID, se.AgentID = "", ""
	}
	entry.mu.Unlock()

	if retry {
		e.logger.Warn("step failed, retrying",
			zap.String("workflow_id", workflowID),
			zap.String("step_id", stepID),
			zap.Int("attempt", attempts),
			zap.Int("retry_count", step.RetryCount),
			zap.String("error", message),
		)
	} else {
		e.logger.Warn("step failed",
			errorCode(types.ErrStepFailed),
			zap.String("workflow_id", workflowID),
			zap.String("step_id", stepID),
			zap.Bool("optional", step.Optional),
			zap.String("error", message),
		)
	}

	e.reportOutcome(ctx, taskID, agentID, false)
	if running {
		e.ProcessWorkflowSteps(ctx, workflowID)
	}
	return true
}

// runningStep resolves a step that may accept an outcome. Must be called
// with entry.mu held.
func (e *Engine) runningStep(entry *executionEntry, stepID string, attempt int, op string) (*Step, *StepExecution, bool) {
	exec := entry.exec
	if exec.Status.IsTerminal() {
		e.logger.Debug("ignoring step outcome for finished workflow",
			zap.String("workflow_id", exec.ID),
			zap.String("step_id", stepID),
			zap.String("status", string(exec.Status)),
		)
		return nil, nil, false
	}
	step, ok := exec.Definition.Step(stepID)
	if !ok {
		e.logger.Warn("step not found",
			errorCode(types.ErrStepNotFound),
			zap.String("workflow_id", exec.ID),
			zap.String("step_id", stepID),
			zap.String("operation", op),
		)
		return nil, nil, false
	}
	se := exec.Steps[stepID]
	if se.Status != StepRunning || (attempt != 0 && se.Attempts != attempt) {
		e.logger.Debug("ignoring outcome for step that is not running",
			zap.String("workflow_id", exec.ID),
			zap.String("step_id", stepID),
			zap.String("status", string(se.Status)),
		)
		return nil, nil, false
	}
	return step, se, true
}

// applyDataTransforms copies data bag keys along the outgoing transitions
// of a completed step whose condition holds.
func (e *Engine) applyDataTransforms(exec *Execution, stepID string, now time.Time) {
	scope := scopeOf(exec, now)
	for _, t := range exec.Definition.outgoing(stepID) {
		if len(t.DataTransform) == 0 || !t.Condition.evaluate(scope) {
			continue
		}
		for _, target := range sortedKeys(t.DataTransform) {
			if v, ok := exec.Data[t.DataTransform[target]]; ok {
				exec.Data[target] = v
			}
		}
	}
}

func (e *Engine) recordStepEnd(entry *executionEntry, step *Step, se *StepExecution, status StepStatus, errMsg string, now time.Time) {
	entry.history.RecordStepEnd(step.ID, se.AgentID, status, errMsg, now)
	e.metrics.RecordStepFinished(string(step.Type), string(status), now.Sub(se.StartedAt))
}

// reportOutcome feeds agent task outcomes to the outcome reporter and the
// task store.
func (e *Engine) reportOutcome(ctx context.Context, taskID, agentID string, success bool) {
	if agentID != "" && e.reporter != nil {
		e.reporter.ReportTaskOutcome(agentID, success)
	}
	if taskID == "" {
		return
	}
	updater, ok := e.repo.(persistence.TaskStatusUpdater)
	if !ok {
		return
	}
	status := types.AgentTaskCompleted
	if !success {
		status = types.AgentTaskFailed
	}
	// the execution context is cancelled once the last step finishes
	if err := updater.UpdateStatus(context.WithoutCancel(ctx), taskID, status); err != nil {
		e.logger.Warn("failed to update agent task status",
			zap.String("task_id", taskID),
			zap.Error(err),
		)
	}
}
