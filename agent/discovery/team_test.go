package discovery

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentdispatch/testutil/fixtures"
	"github.com/BaSui01/agentdispatch/types"
)

func writingRequirements() types.TaskRequirements {
	return types.TaskRequirements{
		Description:          "write the release notes",
		Domain:               "writing",
		RequiredCapabilities: []string{"copywriting"},
	}
}

func TestSuggestTeam_GreedyUniqueAssignment(t *testing.T) {
	m := newTestMatcher(fixtures.AgentPool()...)
	task := &ComplexTask{
		Description: "ship a feature",
		Components: []TaskComponent{
			{Name: "backend", Requirements: fixtures.CodeRequirements(types.PriorityMedium)},
			{Name: "docs", Requirements: writingRequirements()},
			{Name: "frontend", Requirements: fixtures.CodeRequirements(types.PriorityMedium)},
		},
	}

	team := m.SuggestTeamForComplexTask(context.Background(), task)
	require.Len(t, team.Members, 3)

	assert.Equal(t, "code-1", team.Members[0].Agent.ID)
	assert.Equal(t, []string{"backend"}, team.Members[0].Components)
	assert.Equal(t, "writer-1", team.Members[1].Agent.ID)
	assert.Equal(t, "code-2", team.Members[2].Agent.ID)
	assert.Equal(t, []string{"frontend"}, team.Members[2].Components)
	assert.Empty(t, team.Unassigned)

	for _, member := range team.Members {
		assert.Equal(t, TeamRoleSpecialist, member.Role)
	}

	sum := 0.0
	for _, member := range team.Members {
		sum += member.Contribution
	}
	assert.InDelta(t, sum/3, team.TeamScore, 1e-9)
}

func TestSuggestTeam_ParallelExecutionReusesBestAgent(t *testing.T) {
	m := newTestMatcher(fixtures.AgentPool()...)
	req := fixtures.CodeRequirements(types.PriorityMedium)
	task := &ComplexTask{
		AllowParallelExecution: true,
		Components: []TaskComponent{
			{Name: "a", Requirements: req},
			{Name: "b", Requirements: req},
			{Name: "c", Requirements: req},
		},
	}

	team := m.SuggestTeamForComplexTask(context.Background(), task)
	require.Len(t, team.Members, 1)
	assert.Equal(t, TeamRoleLead, team.Members[0].Role)
	assert.Equal(t, []string{"a", "b", "c"}, team.Members[0].Components)
	assert.InDelta(t, team.Members[0].Contribution, team.TeamScore, 1e-9)
}

func TestSuggestTeam_UnassignedWhenPoolExhausted(t *testing.T) {
	m := newTestMatcher(fixtures.CodeAgent("solo"))
	req := fixtures.CodeRequirements(types.PriorityMedium)

	team := m.SuggestTeamForComplexTask(context.Background(), &ComplexTask{
		Components: []TaskComponent{{Name: "first", Requirements: req}, {Name: "second", Requirements: req}},
	})
	require.Len(t, team.Members, 1)
	assert.Equal(t, []string{"second"}, team.Unassigned)
}

func TestSuggestTeam_EmptyTask(t *testing.T) {
	m := newTestMatcher(fixtures.AgentPool()...)

	assert.Empty(t, m.SuggestTeamForComplexTask(context.Background(), nil).Members)
	assert.Empty(t, m.SuggestTeamForComplexTask(context.Background(), &ComplexTask{}).Members)
}

func TestDeriveRole(t *testing.T) {
	expert := fixtures.NewAgent("e", types.AgentTypeCode,
		fixtures.WithSpecialization("code", "", 9, 1, "go"),
		fixtures.WithHistory(99, 1))
	specialist := fixtures.NewAgent("s", types.AgentTypeCode,
		fixtures.WithSpecialization("code", "", 3, 0.5))
	support := fixtures.GeneralAgent("g")

	assert.Equal(t, TeamRoleLead, deriveRole(expert, 1))
	assert.Equal(t, TeamRoleSpecialist, deriveRole(specialist, 1))
	assert.Equal(t, TeamRoleSupport, deriveRole(support, 1))
	assert.Equal(t, TeamRoleLead, deriveRole(support, 3))
}
