package workflow

import (
	"strings"
	"time"

	"github.com/BaSui01/agentdispatch/types"
)

// conditionScope is the state a condition is evaluated against.
type conditionScope struct {
	data      types.ValueMap
	steps     map[string]*StepExecution
	startedAt time.Time
	now       time.Time
}

func scopeOf(exec *Execution, now time.Time) conditionScope {
	return conditionScope{data: exec.Data, steps: exec.Steps, startedAt: exec.StartedAt, now: now}
}

// Evaluate reports whether the condition holds for the execution at now.
// A nil condition holds. An unrecognized condition type also holds: unknown
// operators are permissive.
func (c *Condition) Evaluate(exec *Execution, now time.Time) bool {
	if c == nil {
		return true
	}
	return c.evaluate(scopeOf(exec, now))
}

func (c *Condition) evaluate(s conditionScope) bool {
	if c == nil {
		return true
	}

	switch c.Type {
	case ConditionDataEquals:
		v, ok := s.data[c.Key]
		return ok && valuesEqual(v, c.Value)
	case ConditionDataNotEquals:
		v, ok := s.data[c.Key]
		return !ok || !valuesEqual(v, c.Value)
	case ConditionDataContains:
		v, ok := s.data[c.Key]
		if !ok {
			return false
		}
		return strings.Contains(strings.ToLower(v.Text()), strings.ToLower(c.Value.Text()))
	case ConditionDataGreaterThan, ConditionDataLessThan:
		v, ok := s.data[c.Key]
		if !ok {
			return false
		}
		left, lok := v.AsNumber()
		right, rok := c.Value.AsNumber()
		if !lok || !rok {
			return false
		}
		if c.Type == ConditionDataGreaterThan {
			return left > right
		}
		return left < right
	case ConditionStepCompleted:
		st, ok := s.steps[c.StepID]
		return ok && st.Status == StepCompleted
	case ConditionStepFailed:
		st, ok := s.steps[c.StepID]
		return ok && st.Status == StepFailed
	case ConditionTimeElapsed:
		minutes, ok := c.Value.AsNumber()
		if !ok || s.startedAt.IsZero() {
			return false
		}
		return s.now.Sub(s.startedAt).Minutes() >= minutes
	default:
		return true
	}
}

// mayChange reports whether a false condition can still become true without
// new caller data: time passing or a referenced step that has not finished.
func (c *Condition) mayChange(s conditionScope) bool {
	if c == nil {
		return false
	}
	switch c.Type {
	case ConditionTimeElapsed:
		return true
	case ConditionStepCompleted, ConditionStepFailed:
		st, ok := s.steps[c.StepID]
		return ok && !st.Status.IsTerminal()
	default:
		return false
	}
}

// valuesEqual compares deeply, falling back to the text form for scalars of
// different kinds so "5" equals 5.
func valuesEqual(a, b types.Value) bool {
	if a.Equal(b) {
		return true
	}
	if isScalar(a) && isScalar(b) {
		return a.Text() == b.Text()
	}
	return false
}

func isScalar(v types.Value) bool {
	switch v.Kind() {
	case types.KindString, types.KindNumber, types.KindBool:
		return true
	default:
		return false
	}
}
