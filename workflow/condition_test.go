package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BaSui01/agentdispatch/types"
)

func TestCondition_Evaluate(t *testing.T) {
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	exec := &Execution{
		StartedAt: started,
		Data: types.ValueMap{
			"status":  types.String("Approved by Reviewer"),
			"score":   types.Int(85),
			"count":   types.String("5"),
			"label":   types.String("n/a"),
			"flags":   types.List(types.String("a"), types.String("b")),
			"enabled": types.Bool(true),
		},
		Steps: map[string]*StepExecution{
			"build":  {StepID: "build", Status: StepCompleted},
			"deploy": {StepID: "deploy", Status: StepFailed},
			"verify": {StepID: "verify", Status: StepRunning},
		},
	}

	tests := []struct {
		name string
		cond *Condition
		now  time.Time
		want bool
	}{
		{"nil condition", nil, started, true},
		{"unknown type", &Condition{Type: "is_friday"}, started, true},

		{"equals string", &Condition{Type: ConditionDataEquals, Key: "status", Value: types.String("Approved by Reviewer")}, started, true},
		{"equals is case sensitive", &Condition{Type: ConditionDataEquals, Key: "status", Value: types.String("approved by reviewer")}, started, false},
		{"equals number", &Condition{Type: ConditionDataEquals, Key: "score", Value: types.Int(85)}, started, true},
		{"equals across kinds", &Condition{Type: ConditionDataEquals, Key: "count", Value: types.Int(5)}, started, true},
		{"equals bool text", &Condition{Type: ConditionDataEquals, Key: "enabled", Value: types.String("true")}, started, true},
		{"equals list", &Condition{Type: ConditionDataEquals, Key: "flags", Value: types.List(types.String("a"), types.String("b"))}, started, true},
		{"equals missing key", &Condition{Type: ConditionDataEquals, Key: "missing", Value: types.String("")}, started, false},

		{"not equals", &Condition{Type: ConditionDataNotEquals, Key: "score", Value: types.Int(90)}, started, true},
		{"not equals same", &Condition{Type: ConditionDataNotEquals, Key: "score", Value: types.Int(85)}, started, false},
		{"not equals missing key", &Condition{Type: ConditionDataNotEquals, Key: "missing", Value: types.Int(1)}, started, true},

		{"contains ignores case", &Condition{Type: ConditionDataContains, Key: "status", Value: types.String("APPROVED")}, started, true},
		{"contains absent", &Condition{Type: ConditionDataContains, Key: "status", Value: types.String("rejected")}, started, false},
		{"contains missing key", &Condition{Type: ConditionDataContains, Key: "missing", Value: types.String("x")}, started, false},

		{"greater than", &Condition{Type: ConditionDataGreaterThan, Key: "score", Value: types.Int(80)}, started, true},
		{"greater than equal", &Condition{Type: ConditionDataGreaterThan, Key: "score", Value: types.Int(85)}, started, false},
		{"greater than numeric string", &Condition{Type: ConditionDataGreaterThan, Key: "count", Value: types.String("4.5")}, started, true},
		{"greater than unparseable", &Condition{Type: ConditionDataGreaterThan, Key: "label", Value: types.Int(0)}, started, false},
		{"less than", &Condition{Type: ConditionDataLessThan, Key: "score", Value: types.Int(100)}, started, true},
		{"less than unparseable threshold", &Condition{Type: ConditionDataLessThan, Key: "score", Value: types.String("lots")}, started, false},
		{"less than missing key", &Condition{Type: ConditionDataLessThan, Key: "missing", Value: types.Int(1)}, started, false},

		{"step completed", &Condition{Type: ConditionStepCompleted, StepID: "build"}, started, true},
		{"step completed while running", &Condition{Type: ConditionStepCompleted, StepID: "verify"}, started, false},
		{"step completed unknown", &Condition{Type: ConditionStepCompleted, StepID: "ghost"}, started, false},
		{"step failed", &Condition{Type: ConditionStepFailed, StepID: "deploy"}, started, true},
		{"step failed on success", &Condition{Type: ConditionStepFailed, StepID: "build"}, started, false},

		{"time elapsed not yet", &Condition{Type: ConditionTimeElapsed, Value: types.Int(10)}, started.Add(9 * time.Minute), false},
		{"time elapsed exactly", &Condition{Type: ConditionTimeElapsed, Value: types.Int(10)}, started.Add(10 * time.Minute), true},
		{"time elapsed fractional", &Condition{Type: ConditionTimeElapsed, Value: types.Number(0.5)}, started.Add(31 * time.Second), true},
		{"time elapsed bad value", &Condition{Type: ConditionTimeElapsed, Value: types.String("soon")}, started.Add(time.Hour), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.Evaluate(exec, tt.now))
		})
	}
}

func TestCondition_TimeElapsedBeforeStart(t *testing.T) {
	exec := &Execution{Data: types.ValueMap{}}
	cond := &Condition{Type: ConditionTimeElapsed, Value: types.Int(0)}
	assert.False(t, cond.Evaluate(exec, time.Now()))
}

func TestCondition_MayChange(t *testing.T) {
	exec := &Execution{
		Data: types.ValueMap{},
		Steps: map[string]*StepExecution{
			"done":    {Status: StepCompleted},
			"waiting": {Status: StepPending},
		},
	}
	scope := scopeOf(exec, time.Now())

	tests := []struct {
		name string
		cond *Condition
		want bool
	}{
		{"nil", nil, false},
		{"data condition", &Condition{Type: ConditionDataEquals, Key: "k", Value: types.String("v")}, false},
		{"time elapsed", &Condition{Type: ConditionTimeElapsed, Value: types.Int(5)}, true},
		{"step not finished", &Condition{Type: ConditionStepCompleted, StepID: "waiting"}, true},
		{"step finished", &Condition{Type: ConditionStepFailed, StepID: "done"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.cond.mayChange(scope))
		})
	}
}
