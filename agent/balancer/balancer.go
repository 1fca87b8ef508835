package balancer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentdispatch/agent/discovery"
	"github.com/BaSui01/agentdispatch/internal/metrics"
	"github.com/BaSui01/agentdispatch/types"
)

const instrumentationName = "github.com/BaSui01/agentdispatch/agent/balancer"

// Matcher is the part of the capability matcher the balancer consumes.
type Matcher interface {
	FindMatchingAgents(ctx context.Context, req types.TaskRequirements) []*discovery.AgentMatch
}

// Config holds configuration for the load balancer.
type Config struct {
	// Strategy is the default selection strategy.
	Strategy Strategy `json:"strategy" yaml:"strategy"`
	// BreakerCooldown is how long a tripped breaker stays open.
	BreakerCooldown time.Duration `json:"breaker_cooldown" yaml:"breaker_cooldown"`
	// FailureThreshold is the number of consecutive reported failures that
	// trips a breaker. Zero disables automatic tripping.
	FailureThreshold int `json:"failure_threshold" yaml:"failure_threshold"`
	// MaxBackups is the number of runner-up matches kept per assignment.
	MaxBackups int `json:"max_backups" yaml:"max_backups"`
	// OverloadThreshold and UnderutilizedThreshold bound load ratios used by
	// load reports and rebalancing.
	OverloadThreshold      float64 `json:"overload_threshold" yaml:"overload_threshold"`
	UnderutilizedThreshold float64 `json:"underutilized_threshold" yaml:"underutilized_threshold"`
	// MaxMovesPerAgent caps proposed moves away from one overloaded agent.
	MaxMovesPerAgent int `json:"max_moves_per_agent" yaml:"max_moves_per_agent"`
	// BatchParallelism bounds concurrent assignments in AssignTasks.
	BatchParallelism int `json:"batch_parallelism" yaml:"batch_parallelism"`
	// MaxHealthAlerts bounds the in-memory alert log.
	MaxHealthAlerts int `json:"max_health_alerts" yaml:"max_health_alerts"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Strategy:               StrategyHybrid,
		BreakerCooldown:        5 * time.Minute,
		FailureThreshold:       5,
		MaxBackups:             2,
		OverloadThreshold:      0.8,
		UnderutilizedThreshold: 0.3,
		MaxMovesPerAgent:       2,
		BatchParallelism:       8,
		MaxHealthAlerts:        100,
	}
}

// LoadBalancer assigns tasks to agents. It owns the per-agent circuit
// breakers, throttle settings, resource reports and health alerts.
//
// Public methods never return errors: failures are logged and degrade to
// nil, empty or false.
type LoadBalancer struct {
	matcher  Matcher
	registry discovery.AgentRegistry
	config   *Config
	breakers *breakerStore

	throttles  map[string]*throttleEntry
	throttleMu sync.RWMutex

	resources  map[string]*ResourceUtilization
	resourceMu sync.RWMutex

	scalingRules map[string]AutoScalingRule
	scalingMu    sync.RWMutex

	lastChecked map[string]time.Time
	checkMu     sync.RWMutex

	alerts  []HealthAlert
	alertMu sync.Mutex

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
	now     func() time.Time
}

// NewLoadBalancer creates a new load balancer.
func NewLoadBalancer(matcher Matcher, registry discovery.AgentRegistry, config *Config, logger *zap.Logger) *LoadBalancer {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "load_balancer"))

	lb := &LoadBalancer{
		matcher:      matcher,
		registry:     registry,
		config:       config,
		throttles:    make(map[string]*throttleEntry),
		resources:    make(map[string]*ResourceUtilization),
		scalingRules: make(map[string]AutoScalingRule),
		lastChecked:  make(map[string]time.Time),
		tracer:       otel.Tracer(instrumentationName),
		logger:       logger,
		now:          time.Now,
	}
	lb.breakers = newBreakerStore(config.BreakerCooldown, config.FailureThreshold, lb, logger)
	return lb
}

// SetMetrics attaches a metrics collector.
func (lb *LoadBalancer) SetMetrics(c *metrics.Collector) {
	lb.metrics = c
}

// =============================================================================
// Assignment
// =============================================================================

// AssignTaskWithLoadBalancing picks an agent for the task. Matches behind an
// open breaker are dropped; when none remain the fallback chain is used.
func (lb *LoadBalancer) AssignTaskWithLoadBalancing(ctx context.Context, task *Task) *Assignment {
	if task == nil {
		lb.logger.Warn("assign called with nil task")
		return nil
	}

	strategy := task.Strategy
	if strategy == "" {
		strategy = lb.config.Strategy
	}

	ctx, span := lb.tracer.Start(ctx, "balancer.AssignTask",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("balancer.strategy", string(strategy)),
		))
	defer span.End()

	matches := lb.matcher.FindMatchingAgents(ctx, task.Requirements)
	healthy := make([]*discovery.AgentMatch, 0, len(matches))
	for _, m := range matches {
		if lb.breakers.available(m.Agent.ID) {
			healthy = append(healthy, m)
		}
	}
	span.SetAttributes(
		attribute.Int("balancer.matches", len(matches)),
		attribute.Int("balancer.healthy", len(healthy)),
	)

	if len(healthy) == 0 {
		lb.logger.Info("no healthy match, using fallback",
			zap.String("task_id", task.ID),
			zap.Int("matches", len(matches)),
		)
		return lb.HandleFallbackAssignment(ctx, task)
	}

	chosen := selectByStrategy(healthy, strategy)
	backups := make([]*discovery.AgentMatch, 0, lb.config.MaxBackups)
	for _, m := range healthy {
		if len(backups) >= lb.config.MaxBackups {
			break
		}
		if m != chosen {
			backups = append(backups, m)
		}
	}

	assignment := &Assignment{
		ID:         uuid.NewString(),
		TaskID:     task.ID,
		AgentID:    chosen.Agent.ID,
		Match:      chosen,
		Strategy:   strategy,
		Backups:    backups,
		AssignedAt: lb.now(),
	}
	lb.metrics.RecordAssignment(string(strategy), "assigned")
	span.SetAttributes(attribute.String("balancer.agent_id", chosen.Agent.ID))

	lb.logger.Debug("task assigned",
		zap.String("task_id", task.ID),
		zap.String("agent_id", chosen.Agent.ID),
		zap.String("strategy", string(strategy)),
		zap.Float64("score", chosen.Score),
		zap.Int("backups", len(backups)),
	)
	return assignment
}

// AssignTasks assigns a batch concurrently. Tasks that could not be
// assigned are absent from the result; order follows the input.
func (lb *LoadBalancer) AssignTasks(ctx context.Context, tasks []*Task) []*Assignment {
	results := make([]*Assignment, len(tasks))

	g, gctx := errgroup.WithContext(ctx)
	if lb.config.BatchParallelism > 0 {
		g.SetLimit(lb.config.BatchParallelism)
	}
	for i, task := range tasks {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil
			}
			results[i] = lb.safeAssign(gctx, task)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]*Assignment, 0, len(tasks))
	for _, a := range results {
		if a != nil {
			out = append(out, a)
		}
	}

	lb.logger.Info("batch assignment finished",
		zap.Int("requested", len(tasks)),
		zap.Int("assigned", len(out)),
		zap.Int("failed", len(tasks)-len(out)),
	)
	return out
}

func (lb *LoadBalancer) safeAssign(ctx context.Context, task *Task) (a *Assignment) {
	defer func() {
		if r := recover(); r != nil {
			lb.logger.Error("assignment panicked", zap.Any("panic", r))
			a = nil
		}
	}()
	return lb.AssignTaskWithLoadBalancing(ctx, task)
}

// selectByStrategy returns the best match under the strategy. Ties keep the
// ranking order.
func selectByStrategy(matches []*discovery.AgentMatch, strategy Strategy) *discovery.AgentMatch {
	var key func(*discovery.AgentMatch) float64
	switch strategy {
	case StrategyCapabilityBased:
		key = func(m *discovery.AgentMatch) float64 { return m.RelevanceScore }
	case StrategyPerformanceBased:
		key = func(m *discovery.AgentMatch) float64 { return m.PerformanceScore }
	case StrategyAvailabilityBased:
		key = func(m *discovery.AgentMatch) float64 { return m.AvailabilityScore }
	case StrategyRoundRobin:
		key = func(m *discovery.AgentMatch) float64 { return -float64(m.Agent.CurrentTasks) }
	default:
		key = func(m *discovery.AgentMatch) float64 { return m.Score }
	}

	best := matches[0]
	bestKey := key(best)
	for _, m := range matches[1:] {
		if k := key(m); k > bestKey {
			best, bestKey = m, k
		}
	}
	return best
}

// =============================================================================
// Circuit breakers
// =============================================================================

// TripCircuitBreaker opens the agent's breaker for one cool-down period.
func (lb *LoadBalancer) TripCircuitBreaker(agentID, reason string) {
	if agentID == "" {
		return
	}
	lb.breakers.trip(agentID, reason)
}

// ResetCircuitBreaker closes the agent's breaker and zeroes its counters.
func (lb *LoadBalancer) ResetCircuitBreaker(agentID string) {
	if agentID == "" {
		return
	}
	lb.breakers.reset(agentID)
}

// GetCircuitBreakerStatus returns the breaker of an agent. Unknown agents
// report a closed breaker.
func (lb *LoadBalancer) GetCircuitBreakerStatus(agentID string) *CircuitBreakerStatus {
	return lb.breakers.status(agentID)
}

// GetAllCircuitBreakers returns every known breaker.
func (lb *LoadBalancer) GetAllCircuitBreakers() []*CircuitBreakerStatus {
	return lb.breakers.all()
}

// IsAgentAvailable reports whether the breaker lets work through. The agent's
// own availability is not consulted: the breaker overrides it.
func (lb *LoadBalancer) IsAgentAvailable(_ context.Context, agentID string) bool {
	return lb.breakers.available(agentID)
}

// ReportTaskOutcome feeds a finished task into the agent's breaker.
func (lb *LoadBalancer) ReportTaskOutcome(agentID string, success bool) {
	if agentID == "" {
		return
	}
	lb.breakers.recordOutcome(agentID, success)
}

// OnStateChange implements CircuitBreakerEventHandler.
func (lb *LoadBalancer) OnStateChange(event CircuitBreakerEvent) {
	lb.metrics.RecordBreakerTransition(event.NewState.String(), lb.breakers.openCount())

	if event.NewState == CircuitOpen {
		lb.raiseAlert(event.AgentID, AlertCritical,
			fmt.Sprintf("circuit breaker opened: %s", event.Reason))
	}
}
