package balancer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdispatch/agent/discovery"
	"github.com/BaSui01/agentdispatch/testutil/fixtures"
	"github.com/BaSui01/agentdispatch/types"
)

func TestLoadBalancer_ResourceUtilization(t *testing.T) {
	lb, _, clock := newTestBalancer(t, nil)

	assert.Nil(t, lb.GetResourceUtilization("a"))

	lb.UpdateResourceUtilization(ResourceUtilization{AgentID: "a", CPUPercent: 42, MemoryPercent: 10, ActiveTasks: 2})
	lb.UpdateResourceUtilization(ResourceUtilization{CPUPercent: 99})

	got := lb.GetResourceUtilization("a")
	require.NotNil(t, got)
	assert.Equal(t, 42.0, got.CPUPercent)
	assert.Equal(t, clock.Now(), got.UpdatedAt)

	got.CPUPercent = 0
	assert.Equal(t, 42.0, lb.GetResourceUtilization("a").CPUPercent)
}

func TestLoadBalancer_Throttling(t *testing.T) {
	lb, _, clock := newTestBalancer(t, nil)

	assert.True(t, lb.ThrottleAllows("a"))
	assert.Nil(t, lb.GetThrottleSettings("a"))

	lb.ApplyThrottling(ThrottleSettings{AgentID: "a", MaxConcurrentTasks: 2, MinRequestInterval: time.Second})

	s := lb.GetThrottleSettings("a")
	require.NotNil(t, s)
	assert.Equal(t, 2, s.MaxConcurrentTasks)

	assert.True(t, lb.ThrottleAllows("a"))
	assert.False(t, lb.ThrottleAllows("a"))
	clock.Advance(time.Second)
	assert.True(t, lb.ThrottleAllows("a"))

	assert.True(t, lb.RemoveThrottling("a"))
	assert.False(t, lb.RemoveThrottling("a"))
	assert.True(t, lb.ThrottleAllows("a"))
}

func TestLoadBalancer_ThrottlingDoesNotAffectAssignment(t *testing.T) {
	a := fixtures.NewAgent("a", types.AgentTypeCode)
	lb, _, _ := newTestBalancer(t, []*discovery.AgentMatch{match(a, 90, 0, 0, 0)}, a)

	lb.ApplyThrottling(ThrottleSettings{AgentID: "a", MaxConcurrentTasks: 0, MinRequestInterval: time.Hour})
	for i := 0; i < 3; i++ {
		got := lb.AssignTaskWithLoadBalancing(context.Background(), task("t"))
		require.NotNil(t, got)
		assert.Equal(t, "a", got.AgentID)
	}
}

func TestLoadBalancer_AutoScalingRules(t *testing.T) {
	lb, _, _ := newTestBalancer(t, nil)

	lb.SetAutoScalingRule(AutoScalingRule{Name: "writers", AgentType: types.AgentTypeWriting, MaxAgents: 4})
	lb.SetAutoScalingRule(AutoScalingRule{Name: "coders", AgentType: types.AgentTypeCode, MaxAgents: 8})
	lb.SetAutoScalingRule(AutoScalingRule{Name: "coders", AgentType: types.AgentTypeCode, MaxAgents: 10})
	lb.SetAutoScalingRule(AutoScalingRule{})

	rules := lb.GetAutoScalingRules()
	require.Len(t, rules, 2)
	assert.Equal(t, "coders", rules[0].Name)
	assert.Equal(t, 10, rules[0].MaxAgents)

	assert.True(t, lb.RemoveAutoScalingRule("coders"))
	assert.False(t, lb.RemoveAutoScalingRule("coders"))
	assert.Len(t, lb.GetAutoScalingRules(), 1)
}
