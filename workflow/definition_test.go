package workflow

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdispatch/types"
)

func TestDefinition_Validate(t *testing.T) {
	valid := func() *Definition {
		return &Definition{
			Name: "pipeline",
			Steps: []Step{
				{ID: "a", Type: StepTypeConditional},
				{ID: "b", Type: StepTypeConditional, Prerequisites: []string{"a"}},
			},
			Transitions: []Transition{{From: "a", To: "b"}},
		}
	}

	tests := []struct {
		name   string
		mutate func(d *Definition)
		want   string
	}{
		{"valid", func(*Definition) {}, ""},
		{"missing name", func(d *Definition) { d.Name = " " }, "workflow name is required"},
		{"no steps", func(d *Definition) { d.Steps = nil; d.Transitions = nil }, "at least one step"},
		{"negative window", func(d *Definition) { d.Settings.MaxConcurrentSteps = -1 }, "max_concurrent_steps"},
		{"empty step id", func(d *Definition) { d.Steps = append(d.Steps, Step{Type: StepTypeDelay}) }, "step ID is required"},
		{"duplicate step id", func(d *Definition) { d.Steps = append(d.Steps, Step{ID: "a", Type: StepTypeDelay}) }, "duplicate step ID: a"},
		{"missing type", func(d *Definition) { d.Steps[0].Type = "" }, "step a: type is required"},
		{"negative retries", func(d *Definition) { d.Steps[1].RetryCount = -2 }, "retry_count"},
		{"self dependency", func(d *Definition) { d.Steps[0].Prerequisites = []string{"a"} }, "cannot depend on itself"},
		{"unknown prerequisite", func(d *Definition) { d.Steps[1].Prerequisites = []string{"z"} }, "prerequisite z does not exist"},
		{"unknown transition source", func(d *Definition) { d.Transitions[0].From = "z" }, `from step "z"`},
		{"unknown transition target", func(d *Definition) { d.Transitions[0].To = "z" }, `to step "z"`},
		{"unknown condition step", func(d *Definition) {
			d.Transitions[0].Condition = &Condition{Type: ConditionStepCompleted, StepID: "z"}
		}, `condition step "z"`},
		{"cycle", func(d *Definition) { d.Steps[0].Prerequisites = []string{"b"} }, "cycle"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := valid()
			tt.mutate(d)
			err := d.Validate()
			if tt.want == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidDefinition))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefinition_ValidateReportsAllProblems(t *testing.T) {
	d := &Definition{
		Steps: []Step{
			{ID: "a"},
			{ID: "a", Type: StepTypeDelay, RetryCount: -1},
		},
	}
	err := d.Validate()
	require.Error(t, err)
	for _, want := range []string{"workflow name is required", "duplicate step ID: a", "type is required", "retry_count"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestDefinition_ValidateNil(t *testing.T) {
	var d *Definition
	assert.True(t, types.IsErrorCode(d.Validate(), types.ErrInvalidDefinition))
}

func TestDefinition_LongerCycle(t *testing.T) {
	d := &Definition{
		Name: "loop",
		Steps: []Step{
			{ID: "entry", Type: StepTypeConditional},
			{ID: "x", Type: StepTypeConditional, Prerequisites: []string{"entry", "z"}},
			{ID: "y", Type: StepTypeConditional, Prerequisites: []string{"x"}},
			{ID: "z", Type: StepTypeConditional, Prerequisites: []string{"y"}},
		},
	}
	err := d.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")

	// a diamond shares prerequisites without looping
	d = &Definition{
		Name: "diamond",
		Steps: []Step{
			{ID: "root", Type: StepTypeConditional},
			{ID: "left", Type: StepTypeConditional, Prerequisites: []string{"root"}},
			{ID: "right", Type: StepTypeConditional, Prerequisites: []string{"root"}},
			{ID: "join", Type: StepTypeConditional, Prerequisites: []string{"left", "right"}},
		},
	}
	assert.NoError(t, d.Validate())
}

const releaseYAML = `
name: release
description: build and ship
settings:
  max_concurrent_steps: 2
  fail_on_step_error: true
  allow_parallel: true
  max_execution_time: 30m
default_data:
  channel: stable
steps:
  - id: build
    type: agent_task
    timeout: 90s
    retry_count: 2
    requirements:
      domain: code
      required_capabilities: [code-generation]
      priority: high
  - id: wait
    type: delay
    prerequisites: [build]
    config:
      delayMs: 250
  - id: announce
    type: data_transformation
    prerequisites: [wait]
    optional: true
    config:
      set:
        announced: true
transitions:
  - from: build
    to: wait
    condition:
      type: step_completed
      step_id: build
    data_transform:
      artifact: build_output
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(releaseYAML))
	require.NoError(t, err)

	assert.Equal(t, "release", def.Name)
	assert.Equal(t, Settings{
		MaxConcurrentSteps: 2,
		FailOnStepError:    true,
		AllowParallel:      true,
		MaxExecutionTime:   30 * time.Minute,
	}, def.Settings)
	assert.Equal(t, "stable", def.DefaultData["channel"].Text())
	require.Len(t, def.Steps, 3)

	build, ok := def.Step("build")
	require.True(t, ok)
	assert.Equal(t, StepTypeAgentTask, build.Type)
	assert.Equal(t, 90*time.Second, build.Timeout)
	assert.Equal(t, 2, build.RetryCount)
	require.NotNil(t, build.Requirements)
	assert.Equal(t, types.PriorityHigh, build.Requirements.Priority)
	assert.Equal(t, []string{"code-generation"}, build.Requirements.RequiredCapabilities)

	wait, _ := def.Step("wait")
	ms, ok := wait.Config["delayMs"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 250.0, ms)

	announce, _ := def.Step("announce")
	assert.True(t, announce.Optional)
	set, ok := announce.Config["set"].AsMap()
	require.True(t, ok)
	assert.True(t, set["announced"].Equal(types.Bool(true)))

	require.Len(t, def.Transitions, 1)
	assert.Equal(t, ConditionStepCompleted, def.Transitions[0].Condition.Type)
	assert.Equal(t, map[string]string{"artifact": "build_output"}, def.Transitions[0].DataTransform)

	_, ok = def.Step("missing")
	assert.False(t, ok)
}

func TestParseDefinition_Errors(t *testing.T) {
	_, err := ParseDefinition([]byte("name: [unterminated"))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrInvalidDefinition))

	_, err = ParseDefinition([]byte("name: empty\nsteps: []\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one step")
}

func TestDefinition_YAMLRoundTrip(t *testing.T) {
	def, err := ParseDefinition([]byte(releaseYAML))
	require.NoError(t, err)

	out, err := def.ToYAML()
	require.NoError(t, err)

	again, err := ParseDefinition(out)
	require.NoError(t, err)
	assert.Equal(t, def.Settings, again.Settings)
	assert.Equal(t, def.Transitions, again.Transitions)
	assert.Equal(t, len(def.Steps), len(again.Steps))
	assert.Equal(t, def.Steps[0].Timeout, again.Steps[0].Timeout)
}

func TestLoadDefinitionFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "release.yaml")
	require.NoError(t, os.WriteFile(path, []byte(releaseYAML), 0o600))

	def, err := LoadDefinitionFile(path)
	require.NoError(t, err)
	assert.Equal(t, "release", def.Name)

	_, err = LoadDefinitionFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestDefinition_CloneIsDeep(t *testing.T) {
	def, err := ParseDefinition([]byte(releaseYAML))
	require.NoError(t, err)

	cp := def.Clone()
	cp.Steps[0].Prerequisites = append(cp.Steps[0].Prerequisites, "x")
	cp.Steps[0].Requirements.RequiredCapabilities[0] = "changed"
	cp.Transitions[0].DataTransform["artifact"] = "other"
	cp.DefaultData["channel"] = types.String("beta")

	assert.Empty(t, def.Steps[0].Prerequisites)
	assert.Equal(t, "code-generation", def.Steps[0].Requirements.RequiredCapabilities[0])
	assert.Equal(t, "build_output", def.Transitions[0].DataTransform["artifact"])
	assert.Equal(t, "stable", def.DefaultData["channel"].Text())
}
