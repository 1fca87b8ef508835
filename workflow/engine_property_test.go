package workflow

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentdispatch/agent/persistence"
	"github.com/BaSui01/agentdispatch/internal/pool"
	"github.com/BaSui01/agentdispatch/testutil/fixtures"
)

func newPropertyEngine() *Engine {
	matcher := &stubMatcher{agent: fixtures.CodeAgent("agent-1")}
	config := &Config{
		DefaultMaxConcurrentSteps: 3,
		Pool:                      pool.Config{MaxWorkers: 2, QueueSize: 8, IdleTimeout: time.Second},
	}
	return NewEngine(matcher, persistence.NewMemoryTaskStore(), config, zap.NewNop())
}

func closeEngine(e *Engine) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = e.Close(ctx)
}

// Property: whatever the DAG shape and the order of outcomes, the number of
// Running steps never exceeds the concurrency window and a finished
// execution never changes again.
func TestProperty_ConcurrencyWindowHolds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		e := newPropertyEngine()
		defer closeEngine(e)

		n := rapid.IntRange(1, 8).Draw(rt, "steps")
		settings := Settings{
			MaxConcurrentSteps: rapid.IntRange(0, 4).Draw(rt, "window"),
			AllowParallel:      rapid.Bool().Draw(rt, "parallel"),
			FailOnStepError:    rapid.Bool().Draw(rt, "fail_fast"),
		}
		limit := settings.MaxConcurrentSteps
		if limit == 0 {
			limit = 3
		}
		if !settings.AllowParallel {
			limit = 1
		}

		def := &Definition{Name: "prop", Settings: settings}
		for i := 0; i < n; i++ {
			step := agentStep(fmt.Sprintf("s%d", i))
			step.RetryCount = rapid.IntRange(0, 1).Draw(rt, fmt.Sprintf("retries_%d", i))
			step.Optional = rapid.Bool().Draw(rt, fmt.Sprintf("optional_%d", i))
			if i > 0 && rapid.Bool().Draw(rt, fmt.Sprintf("has_pre_%d", i)) {
				pre := rapid.IntRange(0, i-1).Draw(rt, fmt.Sprintf("pre_%d", i))
				step.Prerequisites = []string{fmt.Sprintf("s%d", pre)}
			}
			def.Steps = append(def.Steps, step)
		}

		ctx := context.Background()
		exec, err := e.CreateWorkflow(ctx, def, nil)
		require.NoError(rt, err)
		require.True(rt, e.StartWorkflow(ctx, exec.ID, nil))

		for i := 0; i < 4*n; i++ {
			snap := e.GetWorkflow(exec.ID)
			require.LessOrEqual(rt, countRunning(snap), limit)
			if snap.Status.IsTerminal() {
				require.False(rt, e.StartWorkflow(ctx, exec.ID, nil))
				require.False(rt, e.PauseWorkflow(ctx, exec.ID))
				require.Equal(rt, snap.Status, e.GetWorkflow(exec.ID).Status)
				return
			}

			var running []string
			for _, s := range def.Steps {
				if snap.Steps[s.ID].Status == StepRunning {
					running = append(running, s.ID)
				}
			}
			require.NotEmpty(rt, running, "a non-terminal execution with nothing running is stuck")

			target := rapid.SampledFrom(running).Draw(rt, "target")
			if rapid.Bool().Draw(rt, "succeed") {
				require.True(rt, e.HandleStepCompletion(ctx, exec.ID, target, nil))
			} else {
				require.True(rt, e.HandleStepFailure(ctx, exec.ID, target, "boom"))
			}
		}

		require.True(rt, e.GetWorkflow(exec.ID).Status.IsTerminal())
	})
}

// Property: for independent steps, the execution fails exactly when a
// required step fails with FailOnStepError set; otherwise it completes, with
// an error message exactly when a required step failed.
func TestProperty_CompletionPredicate(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	// 0 required ok, 1 required failed, 2 optional ok, 3 optional failed
	properties.Property("final status follows step outcomes", prop.ForAll(
		func(outcomes []int, failFast bool) bool {
			e := newPropertyEngine()
			defer closeEngine(e)

			def := &Definition{Name: "prop", Settings: Settings{
				MaxConcurrentSteps: len(outcomes),
				AllowParallel:      true,
				FailOnStepError:    failFast,
			}}
			for i, o := range outcomes {
				step := agentStep(fmt.Sprintf("s%d", i))
				step.Optional = o >= 2
				def.Steps = append(def.Steps, step)
			}

			ctx := context.Background()
			exec, err := e.CreateWorkflow(ctx, def, nil)
			if err != nil || !e.StartWorkflow(ctx, exec.ID, nil) {
				return false
			}

			requiredFailed := false
			for i, o := range outcomes {
				id := fmt.Sprintf("s%d", i)
				if o == 1 || o == 3 {
					e.HandleStepFailure(ctx, exec.ID, id, "boom")
				} else {
					e.HandleStepCompletion(ctx, exec.ID, id, nil)
				}
				requiredFailed = requiredFailed || o == 1
			}

			got := e.GetWorkflow(exec.ID)
			switch {
			case requiredFailed && failFast:
				return got.Status == StatusFailed
			case requiredFailed:
				return got.Status == StatusCompleted && got.Error != ""
			default:
				return got.Status == StatusCompleted && got.Error == ""
			}
		},
		gen.SliceOfN(5, gen.IntRange(0, 3)),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
