package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdispatch/internal/ctxkeys"
	"github.com/BaSui01/agentdispatch/testutil"
	"github.com/BaSui01/agentdispatch/types"
)

func TestDelayStep(t *testing.T) {
	te := newTestEngine(t)
	exec, err := te.CreateWorkflow(context.Background(), definition(parallel(1), delayStep("wait", 100)), nil)
	require.NoError(t, err)
	assert.Equal(t, StepPending, exec.Steps["wait"].Status)

	require.True(t, te.StartWorkflow(context.Background(), exec.ID, nil))
	assert.Equal(t, StepRunning, te.GetWorkflow(exec.ID).Steps["wait"].Status)

	got := te.waitStatus(t, exec.ID, StatusCompleted)
	se := got.Steps["wait"]
	assert.Equal(t, StepCompleted, se.Status)
	assert.GreaterOrEqual(t, se.CompletedAt.Sub(se.StartedAt), 100*time.Millisecond)
	assert.Equal(t, []string{"delayMs"}, got.Data.Keys(), "only the configured output is added")
	n, ok := got.Data["delayMs"].AsNumber()
	require.True(t, ok)
	assert.Equal(t, 100.0, n)
	assert.InDelta(t, 100.0, got.Progress, 0.001)
}

func TestDelayStep_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config types.ValueMap
	}{
		{"missing", nil},
		{"not a number", types.ValueMap{"delayMs": types.String("soon")}},
		{"negative", types.ValueMap{"delayMs": types.Int(-5)}},
		{"NaN", types.ValueMap{"delayMs": types.String("NaN")}},
		{"infinite", types.ValueMap{"delayMs": types.String("+Inf")}},
		{"beyond a day", types.ValueMap{"delayMs": types.Number(1e300)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t)
			settings := parallel(1)
			settings.FailOnStepError = true
			id := te.createAndStart(t, definition(settings, Step{ID: "wait", Type: StepTypeDelay, Config: tt.config}), nil)

			got := te.GetWorkflow(id)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Contains(t, got.Steps["wait"].Error, "delayMs")
		})
	}
}

func TestUnknownStepType(t *testing.T) {
	te := newTestEngine(t)
	settings := parallel(1)
	settings.FailOnStepError = true
	id := te.createAndStart(t, definition(settings, Step{ID: "x", Type: "teleport"}), nil)

	got := te.GetWorkflow(id)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "unknown step type: teleport", got.Steps["x"].Error)
}

func TestDataTransformationStep(t *testing.T) {
	te := newTestEngine(t)
	step := Step{
		ID:   "shape",
		Type: StepTypeDataTransformation,
		Config: types.ValueMap{
			"mappings": types.Map(types.ValueMap{
				"customer": types.String("user"),
				"missing":  types.String("nowhere"),
			}),
			"set": types.Map(types.ValueMap{"stage": types.String("shaped")}),
		},
	}
	id := te.createAndStart(t, definition(parallel(1), step), types.ValueMap{"user": types.String("ada")})

	got := te.GetWorkflow(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "ada", got.Data["customer"].Text())
	assert.Equal(t, "shaped", got.Data["stage"].Text())
	assert.NotContains(t, got.Data, "missing")
	assert.Equal(t, []string{"customer", "stage"}, got.Steps["shape"].Result.Keys())
}

func TestDataTransformationStep_InvalidConfig(t *testing.T) {
	tests := []struct {
		name   string
		config types.ValueMap
		want   string
	}{
		{"no parameters", nil, "requires mappings or set"},
		{"mappings not a map", types.ValueMap{"mappings": types.String("a=b")}, "mappings must be a map"},
		{"set not a map", types.ValueMap{"set": types.Int(1)}, "set must be a map"},
		{"mapping source not a string", types.ValueMap{"mappings": types.Map(types.ValueMap{"a": types.Int(1)})}, "must name a source key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			te := newTestEngine(t)
			settings := parallel(1)
			settings.FailOnStepError = true
			id := te.createAndStart(t, definition(settings, Step{ID: "shape", Type: StepTypeDataTransformation, Config: tt.config}), nil)

			got := te.GetWorkflow(id)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Contains(t, got.Steps["shape"].Error, tt.want)
		})
	}
}

func TestConditionalBranching(t *testing.T) {
	branches := func() *Definition {
		return &Definition{
			Name:     "review",
			Settings: parallel(2),
			Steps: []Step{
				{ID: "check", Type: StepTypeConditional},
				{ID: "approve", Type: StepTypeDataTransformation, Prerequisites: []string{"check"},
					Config: types.ValueMap{"set": types.Map(types.ValueMap{"outcome": types.String("approved")})}},
				{ID: "reject", Type: StepTypeDataTransformation, Prerequisites: []string{"check"},
					Config: types.ValueMap{"set": types.Map(types.ValueMap{"outcome": types.String("rejected")})}},
				{ID: "notify", Type: StepTypeConditional, Prerequisites: []string{"reject"}},
			},
			Transitions: []Transition{
				{From: "check", To: "approve", Condition: &Condition{Type: ConditionDataGreaterThan, Key: "score", Value: types.Int(70)}},
				{From: "check", To: "reject", Condition: &Condition{Type: ConditionDataLessThan, Key: "score", Value: types.Int(71)}},
			},
		}
	}

	t.Run("approve", func(t *testing.T) {
		te := newTestEngine(t)
		id := te.createAndStart(t, branches(), types.ValueMap{"score": types.Int(90)})

		got := te.GetWorkflow(id)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "approved", got.Data["outcome"].Text())
		assert.Equal(t, map[string]StepStatus{
			"check": StepCompleted, "approve": StepCompleted, "reject": StepSkipped, "notify": StepSkipped,
		}, stepStatuses(got))
		assert.InDelta(t, 50.0, got.Progress, 0.001)
	})

	t.Run("reject", func(t *testing.T) {
		te := newTestEngine(t)
		id := te.createAndStart(t, branches(), types.ValueMap{"score": types.String("12")})

		got := te.GetWorkflow(id)
		assert.Equal(t, StatusCompleted, got.Status)
		assert.Equal(t, "rejected", got.Data["outcome"].Text())
		assert.Equal(t, StepSkipped, got.Steps["approve"].Status)
		assert.Equal(t, StepCompleted, got.Steps["notify"].Status)
	})
}

func TestTransitionDataTransform(t *testing.T) {
	te := newTestEngine(t)
	def := &Definition{
		Name:     "handoff",
		Settings: parallel(1),
		Steps: []Step{
			agentStep("draft"),
			{ID: "publish", Type: StepTypeConditional, Prerequisites: []string{"draft"}},
		},
		Transitions: []Transition{{
			From:          "draft",
			To:            "publish",
			Condition:     &Condition{Type: ConditionStepCompleted, StepID: "draft"},
			DataTransform: map[string]string{"article": "draft_text"},
		}},
	}
	id := te.createAndStart(t, def, nil)

	require.True(t, te.HandleStepCompletion(context.Background(), id, "draft",
		types.ValueMap{"draft_text": types.String("hello")}))

	got := te.GetWorkflow(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, "hello", got.Data["article"].Text())
	assert.Equal(t, "hello", got.Data["draft_text"].Text())
}

func TestTimeElapsedConditionWaitsForPoller(t *testing.T) {
	te := newTestEngine(t)
	clock := newFakeClock()
	te.now = clock.Now

	def := &Definition{
		Name:     "cooldown",
		Settings: parallel(1),
		Steps: []Step{
			{ID: "start", Type: StepTypeConditional},
			{ID: "later", Type: StepTypeConditional},
		},
		Transitions: []Transition{{
			From:      "start",
			To:        "later",
			Condition: &Condition{Type: ConditionTimeElapsed, Value: types.Int(5)},
		}},
	}
	id := te.createAndStart(t, def, nil)

	got := te.GetWorkflow(id)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, StepPending, got.Steps["later"].Status)

	clock.Advance(6 * time.Minute)
	te.ProcessPendingWorkflows(context.Background())

	got = te.GetWorkflow(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, StepCompleted, got.Steps["later"].Status)
}

func TestMutuallyWaitingConditionsAreSkipped(t *testing.T) {
	te := newTestEngine(t)
	def := &Definition{
		Name:     "deadlock",
		Settings: parallel(2),
		Steps: []Step{
			{ID: "a", Type: StepTypeConditional},
			{ID: "b", Type: StepTypeConditional},
			{ID: "c", Type: StepTypeConditional},
			{ID: "after", Type: StepTypeConditional, Prerequisites: []string{"b"}},
		},
		Transitions: []Transition{
			{From: "a", To: "b", Condition: &Condition{Type: ConditionStepCompleted, StepID: "c"}},
			{From: "a", To: "c", Condition: &Condition{Type: ConditionStepCompleted, StepID: "b"}},
		},
	}
	require.NoError(t, def.Validate())

	id := te.createAndStart(t, def, nil)
	te.ProcessPendingWorkflows(context.Background())

	got := te.GetWorkflow(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, map[string]StepStatus{
		"a": StepCompleted, "b": StepSkipped, "c": StepSkipped, "after": StepSkipped,
	}, stepStatuses(got))
}

func TestConditionOnTimedStepKeepsWaiting(t *testing.T) {
	te := newTestEngine(t)
	clock := newFakeClock()
	te.now = clock.Now

	def := &Definition{
		Name:     "chain",
		Settings: parallel(2),
		Steps: []Step{
			{ID: "start", Type: StepTypeConditional},
			{ID: "later", Type: StepTypeConditional},
			{ID: "follow", Type: StepTypeConditional},
		},
		Transitions: []Transition{
			{From: "start", To: "later", Condition: &Condition{Type: ConditionTimeElapsed, Value: types.Int(5)}},
			{From: "start", To: "follow", Condition: &Condition{Type: ConditionStepCompleted, StepID: "later"}},
		},
	}
	id := te.createAndStart(t, def, nil)

	got := te.GetWorkflow(id)
	assert.Equal(t, StatusRunning, got.Status)
	assert.Equal(t, StepPending, got.Steps["follow"].Status)

	clock.Advance(6 * time.Minute)
	te.ProcessPendingWorkflows(context.Background())

	got = te.GetWorkflow(id)
	assert.Equal(t, StatusCompleted, got.Status)
	assert.Equal(t, StepCompleted, got.Steps["later"].Status)
	assert.Equal(t, StepCompleted, got.Steps["follow"].Status)
}

func TestAgentTaskStep_WithExecutor(t *testing.T) {
	te := newTestEngine(t)
	reporter := &recordingReporter{}
	te.SetOutcomeReporter(reporter)

	seen := make(chan string, 1)
	te.SetExecutor(ExecutorFunc(func(ctx context.Context, task *types.AgentTask) (types.ValueMap, error) {
		wf, _ := ctxkeys.WorkflowID(ctx)
		agent, _ := ctxkeys.AgentID(ctx)
		seen <- wf + "/" + agent
		return types.ValueMap{"summary": types.String("done by " + task.AgentID)}, nil
	}))

	step := agentStep("code")
	step.Name = "Write handler"
	id := te.createAndStart(t, definition(parallel(1), step), types.ValueMap{"repo": types.String("svc")})

	got := te.waitStatus(t, id, StatusCompleted)
	assert.Equal(t, id+"/agent-1", <-seen)
	assert.Equal(t, "done by agent-1", got.Data["summary"].Text())

	se := got.Steps["code"]
	assert.Equal(t, "agent-1", se.AgentID)
	require.NotEmpty(t, se.TaskID)

	tasks, err := te.store.ListByWorkflow(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, se.TaskID, tasks[0].ID)
	assert.Equal(t, "Write handler", tasks[0].Title)
	assert.Equal(t, "code", tasks[0].StepID)
	assert.Equal(t, "svc", tasks[0].Input["repo"].Text())

	testutil.AssertEventuallyTrue(t, func() bool {
		task, err := te.store.Get(context.Background(), se.TaskID)
		return err == nil && task.Status == types.AgentTaskCompleted
	}, time.Second)
	testutil.AssertEventuallyTrue(t, func() bool {
		agents, outcomes := reporter.snapshot()
		return len(agents) == 1 && agents[0] == "agent-1" && outcomes[0]
	}, time.Second)
}

func TestAgentTaskStep_SimulatedExecutor(t *testing.T) {
	te := newTestEngine(t)
	te.SetExecutor(NewSimulatedExecutor(10 * time.Millisecond))

	id := te.createAndStart(t, definition(parallel(2), agentStep("a"), agentStep("b", "a")), nil)
	got := te.waitStatus(t, id, StatusCompleted)

	assert.Equal(t, "agent-1", got.Data["a_agent"].Text())
	assert.Equal(t, got.Steps["b"].TaskID, got.Data["b_task"].Text())
	assert.Equal(t, int32(2), te.matcher.calls.Load())
}

func TestAgentTaskStep_ExecutorFailure(t *testing.T) {
	te := newTestEngine(t)
	reporter := &recordingReporter{}
	te.SetOutcomeReporter(reporter)
	te.SetExecutor(ExecutorFunc(func(context.Context, *types.AgentTask) (types.ValueMap, error) {
		return nil, errors.New("agent rejected task")
	}))

	settings := parallel(1)
	settings.FailOnStepError = true
	id := te.createAndStart(t, definition(settings, agentStep("a")), nil)

	got := te.waitStatus(t, id, StatusFailed)
	assert.Equal(t, "agent rejected task", got.Steps["a"].Error)

	testutil.AssertEventuallyTrue(t, func() bool {
		_, outcomes := reporter.snapshot()
		return len(outcomes) == 1 && !outcomes[0]
	}, time.Second)

	testutil.AssertEventuallyTrue(t, func() bool {
		task, err := te.store.Get(context.Background(), got.Steps["a"].TaskID)
		return err == nil && task.Status == types.AgentTaskFailed
	}, time.Second)
}

func TestAgentTaskStep_ExecutorPanic(t *testing.T) {
	te := newTestEngine(t)
	te.SetExecutor(ExecutorFunc(func(context.Context, *types.AgentTask) (types.ValueMap, error) {
		panic("executor exploded")
	}))

	settings := parallel(1)
	settings.FailOnStepError = true
	id := te.createAndStart(t, definition(settings, agentStep("a")), nil)

	got := te.waitStatus(t, id, StatusFailed)
	assert.Contains(t, got.Steps["a"].Error, "executor exploded")
}

func TestEngine_LogsErrorCodes(t *testing.T) {
	logger, logs := testutil.ObservedLogger()
	te := newTestEngineWithLogger(t, logger)
	te.matcher.agent = nil

	settings := parallel(1)
	settings.FailOnStepError = true
	id := te.createAndStart(t, definition(settings, agentStep("a")), nil)
	require.Equal(t, StatusFailed, te.GetWorkflow(id).Status)

	assert.False(t, te.PauseWorkflow(context.Background(), id))
	assert.False(t, te.HandleStepCompletion(context.Background(), "missing", "a", nil))

	running := te.createAndStart(t, definition(parallel(1), delayStep("wait", 1000)), nil)
	assert.False(t, te.HandleStepCompletion(context.Background(), running, "ghost", nil))

	codes := make(map[string]string)
	for _, entry := range logs.All() {
		if code, ok := entry.ContextMap()["code"].(string); ok {
			codes[entry.Message] = code
		}
	}
	assert.Equal(t, string(types.ErrNoMatch), codes["no agent matched step"])
	assert.Equal(t, string(types.ErrStepFailed), codes["step failed"])
	assert.Equal(t, string(types.ErrInvalidTransition), codes["invalid workflow transition"])
	assert.Equal(t, string(types.ErrWorkflowNotFound), codes["workflow not found"])
	assert.Equal(t, string(types.ErrStepNotFound), codes["step not found"])
}

func TestAgentTaskStep_Failures(t *testing.T) {
	t.Run("no requirements", func(t *testing.T) {
		te := newTestEngine(t)
		settings := parallel(1)
		settings.FailOnStepError = true
		id := te.createAndStart(t, definition(settings, Step{ID: "a", Type: StepTypeAgentTask}), nil)
		assert.Contains(t, te.GetWorkflow(id).Steps["a"].Error, "requires task requirements")
	})

	t.Run("no match", func(t *testing.T) {
		te := newTestEngine(t)
		te.matcher.agent = nil
		settings := parallel(1)
		settings.FailOnStepError = true
		id := te.createAndStart(t, definition(settings, agentStep("a")), nil)

		got := te.GetWorkflow(id)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Equal(t, "no suitable agent found for step a", got.Steps["a"].Error)
	})

	t.Run("store unavailable", func(t *testing.T) {
		te := newTestEngine(t)
		require.NoError(t, te.store.Close())
		settings := parallel(1)
		settings.FailOnStepError = true
		id := te.createAndStart(t, definition(settings, agentStep("a")), nil)

		got := te.GetWorkflow(id)
		assert.Equal(t, StatusFailed, got.Status)
		assert.Contains(t, got.Steps["a"].Error, "failed to record agent task")
	})
}

func TestAgentTaskStep_ExternalCompletion(t *testing.T) {
	te := newTestEngine(t)
	id := te.createAndStart(t, definition(parallel(1), agentStep("a")), nil)

	se := te.GetWorkflow(id).Steps["a"]
	require.Equal(t, StepRunning, se.Status)
	require.NotEmpty(t, se.TaskID)

	task, err := te.store.Get(context.Background(), se.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentTaskAssigned, task.Status)

	require.True(t, te.HandleStepCompletion(context.Background(), id, "a", nil))
	task, err = te.store.Get(context.Background(), se.TaskID)
	require.NoError(t, err)
	assert.Equal(t, types.AgentTaskCompleted, task.Status)
}
