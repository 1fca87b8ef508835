package workflow

import (
	"time"

	"github.com/BaSui01/agentdispatch/types"
)

// =============================================================================
// Definition
// =============================================================================

// StepType identifies how a step is executed.
type StepType string

const (
	// StepTypeAgentTask hands the step to the best matching agent.
	StepTypeAgentTask StepType = "agent_task"
	// StepTypeDelay waits for Config["delayMs"] milliseconds.
	StepTypeDelay StepType = "delay"
	// StepTypeDataTransformation copies and sets data bag keys.
	StepTypeDataTransformation StepType = "data_transformation"
	// StepTypeConditional completes immediately; branching lives on transitions.
	StepTypeConditional StepType = "conditional"
)

// ConditionType is the operator of a transition condition.
type ConditionType string

const (
	ConditionDataEquals      ConditionType = "data_equals"
	ConditionDataNotEquals   ConditionType = "data_not_equals"
	ConditionDataContains    ConditionType = "data_contains"
	ConditionDataGreaterThan ConditionType = "data_greater_than"
	ConditionDataLessThan    ConditionType = "data_less_than"
	ConditionStepCompleted   ConditionType = "step_completed"
	ConditionStepFailed      ConditionType = "step_failed"
	ConditionTimeElapsed     ConditionType = "time_elapsed"
)

// Condition gates a transition. Key names a data bag entry for the Data*
// operators, StepID names a step for the Step* operators and Value holds the
// operand (minutes for TimeElapsed).
type Condition struct {
	Type   ConditionType `json:"type" yaml:"type"`
	Key    string        `json:"key,omitempty" yaml:"key,omitempty"`
	Value  types.Value   `json:"value" yaml:"value"`
	StepID string        `json:"step_id,omitempty" yaml:"step_id,omitempty"`
}

// Step is one node of a workflow definition.
type Step struct {
	ID           string                  `json:"id" yaml:"id"`
	Name         string                  `json:"name,omitempty" yaml:"name,omitempty"`
	Type         StepType                `json:"type" yaml:"type"`
	Requirements *types.TaskRequirements `json:"requirements,omitempty" yaml:"requirements,omitempty"`
	Config       types.ValueMap          `json:"config,omitempty" yaml:"config,omitempty"`
	// Timeout bounds the asynchronous part of the step. Zero means no limit.
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// RetryCount is how many times a failed step is re-admitted.
	RetryCount    int      `json:"retry_count,omitempty" yaml:"retry_count,omitempty"`
	Prerequisites []string `json:"prerequisites,omitempty" yaml:"prerequisites,omitempty"`
	Optional      bool     `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Transition links two steps. A step with incoming transitions is only ready
// when every incoming condition holds. DataTransform maps target keys to
// source keys and is applied when From completes.
type Transition struct {
	From          string            `json:"from" yaml:"from"`
	To            string            `json:"to" yaml:"to"`
	Condition     *Condition        `json:"condition,omitempty" yaml:"condition,omitempty"`
	DataTransform map[string]string `json:"data_transform,omitempty" yaml:"data_transform,omitempty"`
}

// Settings tunes a single workflow.
type Settings struct {
	// MaxConcurrentSteps is the per-execution concurrency window. Zero uses
	// the engine default.
	MaxConcurrentSteps int  `json:"max_concurrent_steps,omitempty" yaml:"max_concurrent_steps,omitempty"`
	FailOnStepError    bool `json:"fail_on_step_error,omitempty" yaml:"fail_on_step_error,omitempty"`
	// AllowParallel=false forces a window of one.
	AllowParallel    bool          `json:"allow_parallel,omitempty" yaml:"allow_parallel,omitempty"`
	MaxExecutionTime time.Duration `json:"max_execution_time,omitempty" yaml:"max_execution_time,omitempty"`
}

// Definition is an immutable workflow template.
type Definition struct {
	Name        string         `json:"name" yaml:"name"`
	Description string         `json:"description,omitempty" yaml:"description,omitempty"`
	Steps       []Step         `json:"steps" yaml:"steps"`
	Transitions []Transition   `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Settings    Settings       `json:"settings,omitempty" yaml:"settings,omitempty"`
	DefaultData types.ValueMap `json:"default_data,omitempty" yaml:"default_data,omitempty"`
}

// Step returns the step with the given id.
func (d *Definition) Step(id string) (*Step, bool) {
	for i := range d.Steps {
		if d.Steps[i].ID == id {
			return &d.Steps[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	out := *d
	out.Steps = make([]Step, len(d.Steps))
	for i, s := range d.Steps {
		if s.Requirements != nil {
			req := *s.Requirements
			req.Keywords = append([]string(nil), s.Requirements.Keywords...)
			req.RequiredCapabilities = append([]string(nil), s.Requirements.RequiredCapabilities...)
			s.Requirements = &req
		}
		s.Config = s.Config.Clone()
		s.Prerequisites = append([]string(nil), s.Prerequisites...)
		out.Steps[i] = s
	}
	out.Transitions = make([]Transition, len(d.Transitions))
	for i, t := range d.Transitions {
		if t.Condition != nil {
			c := *t.Condition
			t.Condition = &c
		}
		if t.DataTransform != nil {
			dt := make(map[string]string, len(t.DataTransform))
			for k, v := range t.DataTransform {
				dt[k] = v
			}
			t.DataTransform = dt
		}
		out.Transitions[i] = t
	}
	out.DefaultData = d.DefaultData.Clone()
	return &out
}

// =============================================================================
// Execution
// =============================================================================

// Status is the state of a workflow execution.
type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no transition leaves s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepStatus is the state of one step within an execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// IsTerminal reports whether the step will not run again.
func (s StepStatus) IsTerminal() bool {
	return s == StepCompleted || s == StepFailed || s == StepSkipped
}

// StepExecution is the live record of one step.
type StepExecution struct {
	StepID      string         `json:"step_id"`
	Status      StepStatus     `json:"status"`
	Attempts    int            `json:"attempts"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt time.Time      `json:"completed_at"`
	Result      types.ValueMap `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`
	// TaskID and AgentID are set for agent task steps once dispatched.
	TaskID  string `json:"task_id,omitempty"`
	AgentID string `json:"agent_id,omitempty"`
}

// Execution is a running instance of a Definition. Values handed out by the
// engine are snapshots; mutating them has no effect on the engine.
type Execution struct {
	ID          string                    `json:"id"`
	Definition  *Definition               `json:"definition"`
	Status      Status                    `json:"status"`
	Data        types.ValueMap            `json:"data"`
	Steps       map[string]*StepExecution `json:"steps"`
	Progress    float64                   `json:"progress"`
	Error       string                    `json:"error,omitempty"`
	CreatedAt   time.Time                 `json:"created_at"`
	StartedAt   time.Time                 `json:"started_at"`
	CompletedAt time.Time                 `json:"completed_at"`
	UpdatedAt   time.Time                 `json:"updated_at"`
}

// Step returns the record of the given step.
func (e *Execution) Step(id string) (*StepExecution, bool) {
	s, ok := e.Steps[id]
	return s, ok
}

// Clone returns a deep copy. The definition is shared since it never changes.
func (e *Execution) Clone() *Execution {
	if e == nil {
		return nil
	}
	out := *e
	out.Data = e.Data.Clone()
	out.Steps = make(map[string]*StepExecution, len(e.Steps))
	for id, s := range e.Steps {
		cp := *s
		cp.Result = s.Result.Clone()
		out.Steps[id] = &cp
	}
	return &out
}
