package balancer

import (
	"sort"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// throttleEntry pairs stored settings with the limiter built from them.
type throttleEntry struct {
	settings ThrottleSettings
	limiter  *rate.Limiter
}

// =============================================================================
// Resource utilization
// =============================================================================

// UpdateResourceUtilization stores the latest usage report of an agent.
func (lb *LoadBalancer) UpdateResourceUtilization(u ResourceUtilization) {
	if u.AgentID == "" {
		return
	}
	u.UpdatedAt = lb.now()

	lb.resourceMu.Lock()
	lb.resources[u.AgentID] = &u
	lb.resourceMu.Unlock()
}

// GetResourceUtilization returns the last report, or nil.
func (lb *LoadBalancer) GetResourceUtilization(agentID string) *ResourceUtilization {
	lb.resourceMu.RLock()
	defer lb.resourceMu.RUnlock()

	u, ok := lb.resources[agentID]
	if !ok {
		return nil
	}
	cp := *u
	return &cp
}

// =============================================================================
// Throttling
// =============================================================================

// ApplyThrottling stores throttle settings for an agent. A positive
// MinRequestInterval also installs a limiter used by ThrottleAllows.
func (lb *LoadBalancer) ApplyThrottling(settings ThrottleSettings) {
	if settings.AgentID == "" {
		return
	}
	settings.UpdatedAt = lb.now()

	entry := &throttleEntry{settings: settings}
	if settings.MinRequestInterval > 0 {
		entry.limiter = rate.NewLimiter(rate.Every(settings.MinRequestInterval), 1)
	}

	lb.throttleMu.Lock()
	lb.throttles[settings.AgentID] = entry
	lb.throttleMu.Unlock()

	lb.logger.Info("throttling applied",
		zap.String("agent_id", settings.AgentID),
		zap.Int("max_concurrent_tasks", settings.MaxConcurrentTasks),
		zap.Duration("min_request_interval", settings.MinRequestInterval),
	)
}

// GetThrottleSettings returns the stored settings, or nil.
func (lb *LoadBalancer) GetThrottleSettings(agentID string) *ThrottleSettings {
	lb.throttleMu.RLock()
	defer lb.throttleMu.RUnlock()

	e, ok := lb.throttles[agentID]
	if !ok {
		return nil
	}
	s := e.settings
	return &s
}

// RemoveThrottling drops the settings of an agent.
func (lb *LoadBalancer) RemoveThrottling(agentID string) bool {
	lb.throttleMu.Lock()
	defer lb.throttleMu.Unlock()

	if _, ok := lb.throttles[agentID]; !ok {
		return false
	}
	delete(lb.throttles, agentID)
	return true
}

// ThrottleAllows consumes one token of the agent's limiter. Agents without
// throttling, or without an interval, are always allowed.
func (lb *LoadBalancer) ThrottleAllows(agentID string) bool {
	lb.throttleMu.RLock()
	e, ok := lb.throttles[agentID]
	lb.throttleMu.RUnlock()

	if !ok || e.limiter == nil {
		return true
	}
	return e.limiter.AllowN(lb.now(), 1)
}

// =============================================================================
// Auto-scaling rules
// =============================================================================

// SetAutoScalingRule stores or replaces a rule by name.
func (lb *LoadBalancer) SetAutoScalingRule(rule AutoScalingRule) {
	if rule.Name == "" {
		return
	}
	lb.scalingMu.Lock()
	lb.scalingRules[rule.Name] = rule
	lb.scalingMu.Unlock()
}

// GetAutoScalingRules returns all rules sorted by name.
func (lb *LoadBalancer) GetAutoScalingRules() []AutoScalingRule {
	lb.scalingMu.RLock()
	defer lb.scalingMu.RUnlock()

	out := make([]AutoScalingRule, 0, len(lb.scalingRules))
	for _, r := range lb.scalingRules {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RemoveAutoScalingRule deletes a rule.
func (lb *LoadBalancer) RemoveAutoScalingRule(name string) bool {
	lb.scalingMu.Lock()
	defer lb.scalingMu.Unlock()

	if _, ok := lb.scalingRules[name]; !ok {
		return false
	}
	delete(lb.scalingRules, name)
	return true
}
