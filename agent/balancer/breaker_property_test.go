package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentdispatch/agent/discovery"
	"github.com/BaSui01/agentdispatch/testutil/fixtures"
	"github.com/BaSui01/agentdispatch/types"
)

// Property: whatever sequence of trips, resets, outcomes and clock moves is
// applied, an agent is available exactly when its breaker is not open, and an
// open breaker always carries a retry time in the future.
func TestProperty_Breaker_AvailabilityMatchesState(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		lb, _, clock := newTestBalancer(t, nil)
		lb.breakers.failureThreshold = rapid.IntRange(0, 4).Draw(rt, "threshold")
		ids := []string{"a", "b", "c"}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			switch rapid.IntRange(0, 4).Draw(rt, "op") {
			case 0:
				lb.TripCircuitBreaker(id, "prop")
			case 1:
				lb.ResetCircuitBreaker(id)
			case 2:
				lb.ReportTaskOutcome(id, rapid.Bool().Draw(rt, "success"))
			case 3:
				clock.Advance(time.Duration(rapid.IntRange(0, 400).Draw(rt, "secs")) * time.Second)
			case 4:
				lb.GetAllCircuitBreakers()
			}

			for _, check := range ids {
				st := lb.GetCircuitBreakerStatus(check)
				require.Equal(rt, st.State != CircuitOpen, lb.IsAgentAvailable(context.Background(), check))
				if st.State == CircuitOpen {
					require.NotNil(rt, st.NextRetryAt)
					require.True(rt, clock.Now().Before(*st.NextRetryAt))
				}
			}
		}
	})
}

// Property: an assignment never names an agent whose breaker is open.
func TestProperty_Assignment_NeverPicksOpenAgent(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("assigned agent is available", prop.ForAll(
		func(openMask uint8, strategyIdx int) bool {
			agents := fixtures.NumberedAgents("w", 5)
			matches := make([]*discovery.AgentMatch, len(agents))
			for i, a := range agents {
				matches[i] = match(a, float64(100-i*10), float64(i*10), float64((i*37)%100), float64(90-i*5))
			}
			lb, _, _ := newTestBalancer(t, matches, agents...)
			for i, a := range agents {
				if openMask&(1<<i) != 0 {
					lb.TripCircuitBreaker(a.ID, "prop")
				}
			}

			strategies := []Strategy{StrategyHybrid, StrategyCapabilityBased, StrategyPerformanceBased, StrategyAvailabilityBased, StrategyRoundRobin}
			tk := &Task{ID: "t", Requirements: types.TaskRequirements{RequiredCapabilities: []string{"x"}}, Strategy: strategies[strategyIdx]}

			a := lb.AssignTaskWithLoadBalancing(context.Background(), tk)
			if a == nil {
				return false
			}
			if a.Queued {
				return a.AgentID == "" && a.IsFallback
			}
			return lb.IsAgentAvailable(context.Background(), a.AgentID)
		},
		gen.UInt8Range(0, 31),
		gen.IntRange(0, 4),
	))

	properties.TestingRun(t)
}
