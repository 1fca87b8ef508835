package workflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/types"
)

// admittedStep is a step marked Running by a tick and awaiting dispatch.
type admittedStep struct {
	workflowID string
	step       *Step
	attempt    int
	// data is a snapshot of the data bag at admission.
	data types.ValueMap
}

// ProcessWorkflowSteps runs one tick of a Running execution: unreachable
// steps are skipped, ready steps are admitted up to the concurrency window
// and dispatched. With nothing ready the completion check runs.
func (e *Engine) ProcessWorkflowSteps(ctx context.Context, workflowID string) {
	entry := e.lookup(workflowID, "process")
	if entry == nil {
		return
	}

	ctx, span := e.tracer.Start(ctx, "workflow.process_steps",
		trace.WithAttributes(attribute.String("workflow.id", workflowID)))
	defer span.End()

	admitted := e.admit(ctx, entry)
	span.SetAttributes(attribute.Int("workflow.admitted", len(admitted)))

	for _, a := range admitted {
		e.dispatch(ctx, entry, a)
	}
}

// ProcessPendingWorkflows ticks every Running execution and returns how many
// were ticked. It is the poller entry point: it enforces MaxExecutionTime and
// re-evaluates time based conditions.
func (e *Engine) ProcessPendingWorkflows(ctx context.Context) int {
	ticked := 0
	for _, entry := range e.entries() {
		if ctx.Err() != nil {
			break
		}
		entry.mu.Lock()
		id, running := entry.exec.ID, entry.exec.Status == StatusRunning
		entry.mu.Unlock()
		if !running {
			continue
		}
		e.ProcessWorkflowSteps(ctx, id)
		ticked++
	}
	return ticked
}

func (e *Engine) admit(ctx context.Context, entry *executionEntry) []admittedStep {
	entry.mu.Lock()
	defer entry.mu.Unlock()

	exec := entry.exec
	if exec.Status != StatusRunning {
		return nil
	}

	now := e.now()
	if limit := exec.Definition.Settings.MaxExecutionTime; limit > 0 && now.Sub(exec.StartedAt) > limit {
		e.finish(entry, StatusFailed, fmt.Sprintf("workflow exceeded max execution time of %s", limit))
		return nil
	}

	ready := e.resolveReady(entry, now)
	if len(ready) == 0 {
		e.checkCompletion(entry)
		return nil
	}

	window := e.window(exec.Definition) - countRunning(exec)
	if window <= 0 {
		return nil
	}
	if len(ready) > window {
		ready = ready[:window]
	}

	out := make([]admittedStep, 0, len(ready))
	for _, step := range ready {
		se := exec.Steps[step.ID]
		se.Status = StepRunning
		se.StartedAt = now
		se.CompletedAt = time.Time{}
		se.Error = ""
		se.Attempts++

		entry.history.RecordStepStart(step.ID, step.Type, se.Attempts, now)
		e.metrics.RecordStepStarted()
		if e.stepsStarted != nil {
			e.stepsStarted.Add(ctx, 1, metric.WithAttributes(attribute.String("step.type", string(step.Type))))
		}

		out = append(out, admittedStep{
			workflowID: exec.ID,
			step:       step,
			attempt:    se.Attempts,
			data:       exec.Data.Clone(),
		})
	}
	exec.UpdatedAt = now
	return out
}

// window is the concurrency window of a definition.
func (e *Engine) window(def *Definition) int {
	if !def.Settings.AllowParallel {
		return 1
	}
	if def.Settings.MaxConcurrentSteps > 0 {
		return def.Settings.MaxConcurrentSteps
	}
	return e.config.DefaultMaxConcurrentSteps
}

type prerequisiteState int

const (
	prerequisitesMet prerequisiteState = iota
	prerequisitesWaiting
	prerequisitesDead
)

// resolveReady returns the ready steps in declaration order. Pending steps
// that can no longer run are marked Skipped: those behind a failed or skipped
// prerequisite, and, once nothing is running or ready, those behind a false
// condition that can no longer change or that waits on steps which are
// themselves stuck. Must be called with entry.mu held.
func (e *Engine) resolveReady(entry *executionEntry, now time.Time) []*Step {
	exec := entry.exec
	def := exec.Definition
	incoming := def.incoming()
	scope := scopeOf(exec, now)

	for {
		var ready, blocked, waiting []*Step
		running, skipped := 0, false

		for i := range def.Steps {
			step := &def.Steps[i]
			se := exec.Steps[step.ID]
			if se.Status == StepRunning {
				running++
				continue
			}
			if se.Status != StepPending {
				continue
			}

			switch prerequisitesOf(exec, step) {
			case prerequisitesDead:
				e.skip(entry, step, "prerequisite did not complete", now)
				skipped = true
				continue
			case prerequisitesWaiting:
				waiting = append(waiting, step)
				continue
			}

			met, waitable := true, true
			for _, t := range incoming[step.ID] {
				if !t.Condition.evaluate(scope) {
					met = false
					if !t.Condition.mayChange(scope) {
						waitable = false
					}
				}
			}
			switch {
			case met:
				ready = append(ready, step)
			case !waitable:
				blocked = append(blocked, step)
			default:
				waiting = append(waiting, step)
			}
		}

		if skipped {
			continue
		}
		if len(ready) == 0 && running == 0 {
			dead := append(blocked, stalled(exec, incoming, scope, waiting)...)
			if len(dead) > 0 {
				for _, step := range dead {
					e.skip(entry, step, "transition condition not met", now)
				}
				continue
			}
		}
		return ready
	}
}

// stalled returns the waiting steps with met prerequisites that can never
// become ready on an idle execution. Only time moves an idle execution
// forward, so a step can advance when each unmet step condition refers to a
// step that can itself advance. Steps waiting on each other never do.
func stalled(exec *Execution, incoming map[string][]Transition, scope conditionScope, waiting []*Step) []*Step {
	live := make(map[string]bool, len(waiting))
	for changed := true; changed; {
		changed = false
		for _, step := range waiting {
			if !live[step.ID] && canAdvance(exec, step, incoming[step.ID], scope, live) {
				live[step.ID] = true
				changed = true
			}
		}
	}

	var out []*Step
	for _, step := range waiting {
		if !live[step.ID] && prerequisitesOf(exec, step) == prerequisitesMet {
			out = append(out, step)
		}
	}
	return out
}

func canAdvance(exec *Execution, step *Step, transitions []Transition, scope conditionScope, live map[string]bool) bool {
	for _, pre := range step.Prerequisites {
		if exec.Steps[pre].Status != StepCompleted && !live[pre] {
			return false
		}
	}
	for _, t := range transitions {
		c := t.Condition
		if c == nil || c.evaluate(scope) {
			continue
		}
		switch c.Type {
		case ConditionStepCompleted, ConditionStepFailed:
			if !live[c.StepID] {
				return false
			}
		}
	}
	return true
}

func prerequisitesOf(exec *Execution, step *Step) prerequisiteState {
	state := prerequisitesMet
	for _, pre := range step.Prerequisites {
		switch exec.Steps[pre].Status {
		case StepCompleted:
		case StepFailed, StepSkipped:
			return prerequisitesDead
		default:
			state = prerequisitesWaiting
		}
	}
	return state
}

func (e *Engine) skip(entry *executionEntry, step *Step, reason string, now time.Time) {
	se := entry.exec.Steps[step.ID]
	se.Status = StepSkipped
	se.CompletedAt = now
	se.Error = reason
	e.logger.Debug("step skipped",
		zap.String("workflow_id", entry.exec.ID),
		zap.String("step_id", step.ID),
		zap.String("reason", reason),
	)
}

// checkCompletion finishes the execution when the step statuses allow it.
// Must be called with entry.mu held.
func (e *Engine) checkCompletion(entry *executionEntry) {
	exec := entry.exec
	if exec.Status.IsTerminal() {
		return
	}
	def := exec.Definition

	var failedRequired []string
	allTerminal, succeeded := true, true
	for _, step := range def.Steps {
		switch exec.Steps[step.ID].Status {
		case StepCompleted, StepSkipped:
		case StepFailed:
			if !step.Optional {
				failedRequired = append(failedRequired, step.ID)
				succeeded = false
			}
		default:
			allTerminal, succeeded = false, false
		}
	}

	switch {
	case len(failedRequired) > 0 && def.Settings.FailOnStepError:
		e.finish(entry, StatusFailed, "step failed: "+strings.Join(failedRequired, ", "))
	case succeeded:
		e.finish(entry, StatusCompleted, "")
	case allTerminal:
		e.finish(entry, StatusCompleted, "completed with failed steps: "+strings.Join(failedRequired, ", "))
	}
}

func (e *Engine) updateProgress(exec *Execution) {
	if len(exec.Steps) == 0 {
		exec.Progress = 0
		return
	}
	completed := 0
	for _, se := range exec.Steps {
		if se.Status == StepCompleted {
			completed++
		}
	}
	exec.Progress = float64(completed) / float64(len(exec.Steps)) * 100
}

func countRunning(exec *Execution) int {
	n := 0
	for _, se := range exec.Steps {
		if se.Status == StepRunning {
			n++
		}
	}
	return n
}
