package balancer

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/types"
)

// HandleFallbackAssignment assigns the task to the most suitable fallback
// option. The queue option is always present, so the result is never nil
// unless task is nil.
func (lb *LoadBalancer) HandleFallbackAssignment(ctx context.Context, task *Task) *Assignment {
	if task == nil {
		return nil
	}

	strategy := task.Strategy
	if strategy == "" {
		strategy = lb.config.Strategy
	}

	options := lb.GetFallbackOptions(ctx, task.Requirements)
	best := options[0]

	a := &Assignment{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		Strategy:   strategy,
		IsFallback: true,
		Fallback:   &best,
		AssignedAt: lb.now(),
	}
	if best.Agent != nil {
		a.AgentID = best.Agent.ID
		lb.metrics.RecordAssignment(string(strategy), "fallback")
	} else {
		a.Queued = true
		lb.metrics.RecordAssignment(string(strategy), "queued")
	}

	lb.logger.Info("fallback assignment",
		zap.String("task_id", task.ID),
		zap.String("kind", string(best.Kind)),
		zap.String("agent_id", a.AgentID),
		zap.Float64("suitability", best.Suitability),
	)
	return a
}

// GetFallbackOptions lists lower-confidence alternatives sorted by
// suitability: agents sharing a capability keyword, then general-purpose
// agents, then queueing the task. Agents behind an open breaker are skipped.
func (lb *LoadBalancer) GetFallbackOptions(ctx context.Context, req types.TaskRequirements) []FallbackOption {
	var options []FallbackOption
	seen := make(map[string]bool)

	agents, err := lb.registry.GetActiveAgents(ctx)
	if err != nil {
		lb.logger.Warn("failed to load active agents for fallback", zap.Error(err))
		agents = nil
	}

	wanted := capabilityKeywords(req.RequiredCapabilities)
	if len(wanted) > 0 {
		for _, a := range agents {
			if seen[a.ID] || !lb.breakers.available(a.ID) {
				continue
			}
			if kw, ok := sharesKeyword(a.Capabilities, wanted); ok {
				seen[a.ID] = true
				options = append(options, FallbackOption{
					Kind:        FallbackSharedCapability,
					Agent:       a,
					Suitability: sharedCapabilitySuitability,
					Reason:      fmt.Sprintf("shares capability keyword %q", kw),
				})
			}
		}
	}

	for _, a := range agents {
		if seen[a.ID] || !lb.breakers.available(a.ID) {
			continue
		}
		if a.Type == types.AgentTypeGeneral || a.HasCapability("general") {
			seen[a.ID] = true
			options = append(options, FallbackOption{
				Kind:        FallbackGeneralPurpose,
				Agent:       a,
				Suitability: generalPurposeSuitability,
				Reason:      "general-purpose agent",
			})
		}
	}

	options = append(options, FallbackOption{
		Kind:        FallbackQueue,
		Suitability: queueSuitability,
		Reason:      "queue until a suitable agent is available",
	})

	sort.SliceStable(options, func(i, j int) bool {
		return options[i].Suitability > options[j].Suitability
	})
	return options
}

// capabilityKeywords splits capability names on '-' and '_' into lowercase
// keywords.
func capabilityKeywords(capabilities []string) map[string]bool {
	out := make(map[string]bool)
	for _, c := range capabilities {
		for _, part := range strings.FieldsFunc(strings.ToLower(c), isCapabilitySeparator) {
			out[part] = true
		}
	}
	return out
}

func sharesKeyword(capabilities []string, wanted map[string]bool) (string, bool) {
	for _, c := range capabilities {
		for _, part := range strings.FieldsFunc(strings.ToLower(c), isCapabilitySeparator) {
			if wanted[part] {
				return part, true
			}
		}
	}
	return "", false
}

func isCapabilitySeparator(r rune) bool {
	return r == '-' || r == '_' || r == ' '
}
