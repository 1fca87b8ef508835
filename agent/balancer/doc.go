// Package balancer 在能力匹配结果之上做负载均衡与故障隔离。
//
// LoadBalancer takes the ranked matches of a discovery matcher, removes agents
// whose circuit breaker is open, and picks one by strategy:
//
//   - capability_based: highest relevance score
//   - performance_based: highest performance score
//   - availability_based: highest availability score
//   - round_robin: fewest current tasks
//   - hybrid (default): highest total score
//
// When no healthy match remains the fallback chain is used: agents sharing a
// capability keyword (0.7), general-purpose agents (0.5), and finally queueing
// the task (0.3).
//
// # Circuit Breakers
//
// Each agent has at most one breaker. TripCircuitBreaker opens it for one
// cool-down period; once the period has elapsed the breaker is observed as
// half-open and lets work through again. ReportTaskOutcome closes a half-open
// breaker on success and reopens it on failure. An agent without a breaker is
// available; the breaker state overrides the agent's own availability.
//
// Throttle settings, resource reports and auto-scaling rules are stored for
// operators and never change assignment. RebalanceTasks returns an advisory
// plan and migrates nothing.
package balancer
