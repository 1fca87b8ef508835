package discovery

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/types"
)

// SuggestTeamForComplexTask assigns each component, in order, to the best
// agent not already on the team (any agent when AllowParallelExecution is set),
// then groups the assignments into members with a derived role.
func (m *CapabilityMatcher) SuggestTeamForComplexTask(ctx context.Context, task *ComplexTask) *TeamSuggestion {
	suggestion := &TeamSuggestion{}
	if task == nil || len(task.Components) == 0 {
		return suggestion
	}

	ctx, span := m.tracer.Start(ctx, "discovery.SuggestTeamForComplexTask",
		trace.WithAttributes(attribute.Int("team.components", len(task.Components))))
	defer span.End()

	agents, err := m.registry.GetAvailableAgents(ctx)
	if err != nil {
		m.logger.Warn("failed to load available agents for team", zap.Error(err))
		span.RecordError(err)
		return suggestion
	}

	type memberAcc struct {
		member *TeamMember
		scores []float64
	}
	byAgent := make(map[string]*memberAcc)
	var order []string

	for _, comp := range task.Components {
		var pick *AgentMatch
		for _, match := range m.rank(agents, comp.Requirements) {
			if _, used := byAgent[match.Agent.ID]; used && !task.AllowParallelExecution {
				continue
			}
			pick = match
			break
		}
		if pick == nil {
			suggestion.Unassigned = append(suggestion.Unassigned, comp.Name)
			continue
		}

		acc, ok := byAgent[pick.Agent.ID]
		if !ok {
			acc = &memberAcc{member: &TeamMember{Agent: pick.Agent}}
			byAgent[pick.Agent.ID] = acc
			order = append(order, pick.Agent.ID)
		}
		acc.member.Components = append(acc.member.Components, comp.Name)
		acc.scores = append(acc.scores, pick.Score)
	}

	total := 0.0
	for _, id := range order {
		acc := byAgent[id]
		acc.member.Contribution = mean(acc.scores)
		acc.member.Role = deriveRole(acc.member.Agent, len(acc.member.Components))
		suggestion.Members = append(suggestion.Members, acc.member)
		total += acc.member.Contribution
	}
	if len(suggestion.Members) > 0 {
		suggestion.TeamScore = total / float64(len(suggestion.Members))
	}

	m.logger.Debug("team suggested",
		zap.Int("components", len(task.Components)),
		zap.Int("members", len(suggestion.Members)),
		zap.Int("unassigned", len(suggestion.Unassigned)),
	)
	return suggestion
}

// deriveRole picks Lead for members carrying more than two components or
// highly skilled and reliable agents, Specialist for skilled or specialized
// agents, and Support otherwise.
func deriveRole(agent *types.Agent, components int) TeamRole {
	avgSkill := 0.0
	if n := len(agent.Specializations); n > 0 {
		sum := 0
		for _, s := range agent.Specializations {
			sum += s.SkillLevel
		}
		avgSkill = float64(sum) / float64(n)
	}

	switch {
	case components > 2 || (avgSkill >= 8 && agent.SuccessRate() > 0.9):
		return TeamRoleLead
	case avgSkill >= 7 || len(agent.Specializations) > 0:
		return TeamRoleSpecialist
	default:
		return TeamRoleSupport
	}
}

func mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
