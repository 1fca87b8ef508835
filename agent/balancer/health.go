package balancer

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/types"
)

// allAgentsLister is implemented by registries that can list agents of every
// status. GetSystemHealth prefers it over GetActiveAgents.
type allAgentsLister interface {
	GetAllAgents(ctx context.Context) ([]*types.Agent, error)
}

// GetSystemHealth grades every agent and the pool as a whole. An agent is
// healthy when its level is fair or better and its breaker is not open.
func (lb *LoadBalancer) GetSystemHealth(ctx context.Context) *SystemHealth {
	agents, err := lb.listAgents(ctx)
	if err != nil {
		lb.logger.Warn("failed to load agents for health", zap.Error(err))
		return &SystemHealth{Level: HealthCritical, CheckedAt: lb.now()}
	}

	health := &SystemHealth{
		TotalAgents: len(agents),
		Agents:      make([]AgentHealth, 0, len(agents)),
		CheckedAt:   lb.now(),
	}
	for _, a := range agents {
		ah := lb.agentHealth(a)
		if ah.CircuitState == CircuitOpen {
			health.OpenCircuits++
		} else if ah.Level != HealthPoor && ah.Level != HealthCritical {
			health.HealthyAgents++
		}
		health.Agents = append(health.Agents, ah)
	}
	if health.TotalAgents > 0 {
		health.HealthyRatio = float64(health.HealthyAgents) / float64(health.TotalAgents)
	}
	health.Level = ratioLevel(health.HealthyRatio)
	return health
}

// PerformHealthCheck stamps the last-check time of one agent, or of every
// agent when agentID is empty, and raises a warning for poor or critical
// agents. It returns false when the agent is unknown or the registry fails.
func (lb *LoadBalancer) PerformHealthCheck(ctx context.Context, agentID string) bool {
	var agents []*types.Agent
	if agentID == "" {
		all, err := lb.listAgents(ctx)
		if err != nil {
			lb.logger.Warn("health check failed", zap.Error(err))
			return false
		}
		agents = all
	} else {
		a, err := lb.registry.GetByID(ctx, agentID)
		if err != nil {
			lb.logger.Warn("health check failed",
				zap.String("agent_id", agentID),
				zap.Error(err))
			return false
		}
		agents = []*types.Agent{a}
	}

	now := lb.now()
	lb.checkMu.Lock()
	for _, a := range agents {
		lb.lastChecked[a.ID] = now
	}
	lb.checkMu.Unlock()

	for _, a := range agents {
		ah := lb.agentHealth(a)
		if ah.Level == HealthPoor || ah.Level == HealthCritical {
			lb.raiseAlert(a.ID, AlertWarning,
				fmt.Sprintf("agent health is %s (success rate %.2f)", ah.Level, ah.SuccessRate))
		}
	}

	lb.logger.Debug("health check performed", zap.Int("agents", len(agents)))
	return true
}

// GetHealthAlerts returns recorded alerts, oldest first.
func (lb *LoadBalancer) GetHealthAlerts() []HealthAlert {
	lb.alertMu.Lock()
	defer lb.alertMu.Unlock()

	out := make([]HealthAlert, len(lb.alerts))
	copy(out, lb.alerts)
	return out
}

func (lb *LoadBalancer) agentHealth(a *types.Agent) AgentHealth {
	ah := AgentHealth{
		AgentID:      a.ID,
		Status:       a.Status,
		SuccessRate:  a.SuccessRate(),
		CircuitState: lb.breakers.status(a.ID).State,
	}

	lb.checkMu.RLock()
	ah.LastCheckedAt = lb.lastChecked[a.ID]
	lb.checkMu.RUnlock()

	if a.Status == types.AgentStatusInactive {
		ah.Level = HealthCritical
		return ah
	}
	switch rate := ah.SuccessRate; {
	case rate > 0.9:
		ah.Level = HealthExcellent
	case rate > 0.8:
		ah.Level = HealthGood
	case rate > 0.6:
		ah.Level = HealthFair
	case rate > 0.3:
		ah.Level = HealthPoor
	default:
		ah.Level = HealthCritical
	}
	return ah
}

func ratioLevel(ratio float64) HealthLevel {
	switch {
	case ratio > 0.8:
		return HealthExcellent
	case ratio > 0.6:
		return HealthGood
	case ratio > 0.4:
		return HealthFair
	case ratio > 0.2:
		return HealthPoor
	default:
		return HealthCritical
	}
}

func (lb *LoadBalancer) listAgents(ctx context.Context) ([]*types.Agent, error) {
	if all, ok := lb.registry.(allAgentsLister); ok {
		return all.GetAllAgents(ctx)
	}
	return lb.registry.GetActiveAgents(ctx)
}

// raiseAlert appends to the bounded alert log, dropping the oldest entries.
func (lb *LoadBalancer) raiseAlert(agentID string, severity AlertSeverity, message string) {
	alert := HealthAlert{
		ID:        uuid.NewString(),
		AgentID:   agentID,
		Severity:  severity,
		Message:   message,
		CreatedAt: lb.now(),
	}

	lb.alertMu.Lock()
	lb.alerts = append(lb.alerts, alert)
	if limit := lb.config.MaxHealthAlerts; limit > 0 && len(lb.alerts) > limit {
		lb.alerts = append([]HealthAlert(nil), lb.alerts[len(lb.alerts)-limit:]...)
	}
	lb.alertMu.Unlock()

	lb.logger.Warn("health alert",
		zap.String("agent_id", agentID),
		zap.String("severity", string(severity)),
		zap.String("message", message),
	)
}
