package balancer

import (
	"context"
	"sort"

	"go.uber.org/zap"
)

// GetLoadReport summarizes load across active agents.
func (lb *LoadBalancer) GetLoadReport(ctx context.Context) *LoadReport {
	report := &LoadReport{GeneratedAt: lb.now()}

	agents, err := lb.registry.GetActiveAgents(ctx)
	if err != nil {
		lb.logger.Warn("failed to load agents for load report", zap.Error(err))
		return report
	}

	sum := 0.0
	for _, a := range agents {
		ratio := a.LoadRatio()
		report.Agents = append(report.Agents, AgentLoad{
			AgentID:      a.ID,
			CurrentTasks: a.CurrentTasks,
			MaxTasks:     a.MaxConcurrentTasks,
			LoadRatio:    ratio,
			CircuitState: lb.breakers.status(a.ID).State,
		})
		report.TotalCapacity += a.MaxConcurrentTasks
		report.TotalActive += a.CurrentTasks
		sum += ratio

		switch {
		case ratio > lb.config.OverloadThreshold:
			report.Overloaded = append(report.Overloaded, a.ID)
		case ratio < lb.config.UnderutilizedThreshold:
			report.Underutilized = append(report.Underutilized, a.ID)
		}
	}
	if len(agents) > 0 {
		report.AverageLoad = sum / float64(len(agents))
	}
	return report
}

// RebalanceTasks proposes moving up to MaxMovesPerAgent tasks from each
// overloaded agent to the currently least-loaded underutilized agent. The
// plan is returned and logged; no task is migrated.
func (lb *LoadBalancer) RebalanceTasks(ctx context.Context) *RebalancePlan {
	plan := &RebalancePlan{CreatedAt: lb.now()}

	agents, err := lb.registry.GetActiveAgents(ctx)
	if err != nil {
		lb.logger.Warn("failed to load agents for rebalance", zap.Error(err))
		return plan
	}

	type slot struct {
		id      string
		current int
		max     int
	}
	ratio := func(s *slot) float64 {
		if s.max <= 0 {
			return 1
		}
		return float64(s.current) / float64(s.max)
	}

	var over, under []*slot
	for _, a := range agents {
		s := &slot{id: a.ID, current: a.CurrentTasks, max: a.MaxConcurrentTasks}
		switch r := a.LoadRatio(); {
		case r > lb.config.OverloadThreshold:
			over = append(over, s)
			plan.Overloaded = append(plan.Overloaded, a.ID)
		case r < lb.config.UnderutilizedThreshold && lb.breakers.available(a.ID):
			under = append(under, s)
			plan.Underutilized = append(plan.Underutilized, a.ID)
		}
	}
	if len(over) == 0 || len(under) == 0 {
		return plan
	}

	for _, from := range over {
		counts := make(map[string]int)
		var targets []string
		for moved := 0; moved < lb.config.MaxMovesPerAgent && from.current > 0; moved++ {
			sort.Slice(under, func(i, j int) bool {
				ri, rj := ratio(under[i]), ratio(under[j])
				if ri != rj {
					return ri < rj
				}
				return under[i].id < under[j].id
			})
			to := under[0]
			if to.current >= to.max {
				break
			}
			from.current--
			to.current++
			if counts[to.id] == 0 {
				targets = append(targets, to.id)
			}
			counts[to.id]++
		}
		for _, id := range targets {
			plan.Moves = append(plan.Moves, TaskMove{FromAgentID: from.id, ToAgentID: id, TaskCount: counts[id]})
		}
	}

	lb.logger.Info("rebalance plan computed",
		zap.Int("overloaded", len(plan.Overloaded)),
		zap.Int("underutilized", len(plan.Underutilized)),
		zap.Int("moves", len(plan.Moves)),
	)
	return plan
}
