package workflow

import (
	"sync"
	"time"
)

// StepAttempt records one admission of a step.
type StepAttempt struct {
	StepID    string        `json:"step_id"`
	StepType  StepType      `json:"step_type"`
	Attempt   int           `json:"attempt"`
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Status    StepStatus    `json:"status"`
	AgentID   string        `json:"agent_id,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// ExecutionHistory is the ordered attempt log of one execution.
type ExecutionHistory struct {
	ExecutionID string         `json:"execution_id"`
	Workflow    string         `json:"workflow"`
	StartTime   time.Time      `json:"start_time"`
	EndTime     time.Time      `json:"end_time"`
	Status      Status         `json:"status"`
	Attempts    []*StepAttempt `json:"attempts"`
	Error       string         `json:"error,omitempty"`
	mu          sync.RWMutex
}

// NewExecutionHistory creates an empty history.
func NewExecutionHistory(executionID, workflow string) *ExecutionHistory {
	return &ExecutionHistory{
		ExecutionID: executionID,
		Workflow:    workflow,
		Status:      StatusCreated,
		Attempts:    make([]*StepAttempt, 0),
	}
}

// RecordStepStart appends a running attempt.
func (h *ExecutionHistory) RecordStepStart(stepID string, stepType StepType, attempt int, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.StartTime.IsZero() {
		h.StartTime = at
	}
	h.Attempts = append(h.Attempts, &StepAttempt{
		StepID:    stepID,
		StepType:  stepType,
		Attempt:   attempt,
		StartTime: at,
		Status:    StepRunning,
	})
}

// RecordStepEnd closes the latest running attempt of the step. Status is the
// attempt outcome, so a retried failure is recorded as failed.
func (h *ExecutionHistory) RecordStepEnd(stepID, agentID string, status StepStatus, errMsg string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.Attempts) - 1; i >= 0; i-- {
		a := h.Attempts[i]
		if a.StepID != stepID || a.Status != StepRunning {
			continue
		}
		a.EndTime = at
		a.Duration = at.Sub(a.StartTime)
		a.Status = status
		a.AgentID = agentID
		a.Error = errMsg
		return
	}
}

// Complete stamps the final status.
func (h *ExecutionHistory) Complete(status Status, errMsg string, at time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.EndTime = at
	h.Status = status
	h.Error = errMsg
}

// GetAttempts returns a copy of the attempt log.
func (h *ExecutionHistory) GetAttempts() []StepAttempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]StepAttempt, len(h.Attempts))
	for i, a := range h.Attempts {
		out[i] = *a
	}
	return out
}

// AttemptsFor returns the attempts of a single step.
func (h *ExecutionHistory) AttemptsFor(stepID string) []StepAttempt {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []StepAttempt
	for _, a := range h.Attempts {
		if a.StepID == stepID {
			out = append(out, *a)
		}
	}
	return out
}

// Snapshot returns a detached copy.
func (h *ExecutionHistory) Snapshot() *ExecutionHistory {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := &ExecutionHistory{
		ExecutionID: h.ExecutionID,
		Workflow:    h.Workflow,
		StartTime:   h.StartTime,
		EndTime:     h.EndTime,
		Status:      h.Status,
		Error:       h.Error,
		Attempts:    make([]*StepAttempt, len(h.Attempts)),
	}
	for i, a := range h.Attempts {
		cp := *a
		out.Attempts[i] = &cp
	}
	return out
}
