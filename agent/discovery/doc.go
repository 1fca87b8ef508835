// Package discovery ranks agents against task requirements.
//
// The discovery package implements:
//   - Agent Registry view: the read-only AgentRegistry interface and an in-memory implementation
//   - Capability Matching: score and rank every available agent for a TaskRequirements value
//   - Team Formation: greedily assign the components of a complex task to distinct agents
//
// # Scoring
//
// Each candidate gets three sub-scores in [0, 100]:
//
//   - availability: free capacity in percent, plus 10 when active in the last hour or 5 in the last day
//   - performance: success rate * 70, plus up to 20 for experience, minus up to 20 for responses slower than 5s
//   - relevance: 15 per matched capability, 0.6 * best specialization relevance, 10 when the agent type fits the domain
//
// The total is 0.3*availability + 0.3*performance + 0.4*relevance multiplied by
// the task priority (critical 1.3, high 1.1, medium 1.0, low 0.9). The product is
// not clamped.
//
// # Basic Usage
//
//	registry := discovery.NewMemoryRegistry(logger)
//	registry.Upsert(agents...)
//
//	matcher := discovery.NewCapabilityMatcher(registry, discovery.DefaultMatcherConfig(), logger)
//	best := matcher.FindBestMatch(ctx, types.TaskRequirements{
//	    Domain:               "code",
//	    RequiredCapabilities: []string{"code-generation"},
//	    Priority:             types.PriorityHigh,
//	})
//	if best == nil {
//	    // no agent can take the task
//	}
//
// # Failure Semantics
//
// Matching never returns errors. Registry failures and panics while scoring a
// single agent are logged and turn into empty results. AnalyzeAgentCapabilities
// is the exception and reports unknown agents as types.ErrAgentNotFound.
package discovery
