package balancer

import (
	"time"

	"github.com/BaSui01/agentdispatch/agent/discovery"
	"github.com/BaSui01/agentdispatch/types"
)

// Strategy selects one agent among healthy matches.
type Strategy string

const (
	// StrategyCapabilityBased picks the highest relevance score.
	StrategyCapabilityBased Strategy = "capability_based"
	// StrategyPerformanceBased picks the highest performance score.
	StrategyPerformanceBased Strategy = "performance_based"
	// StrategyAvailabilityBased picks the highest availability score.
	StrategyAvailabilityBased Strategy = "availability_based"
	// StrategyRoundRobin picks the agent with the fewest current tasks.
	StrategyRoundRobin Strategy = "round_robin"
	// StrategyHybrid picks the highest total score.
	StrategyHybrid Strategy = "hybrid"
)

// Task is a single unit of work to assign.
type Task struct {
	ID           string                 `json:"id"`
	Title        string                 `json:"title"`
	Requirements types.TaskRequirements `json:"requirements"`
	// Strategy overrides the balancer default when set.
	Strategy  Strategy  `json:"strategy,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Assignment is the outcome of assigning a task.
type Assignment struct {
	ID       string                  `json:"id"`
	TaskID   string                  `json:"task_id"`
	AgentID  string                  `json:"agent_id,omitempty"`
	Match    *discovery.AgentMatch   `json:"match,omitempty"`
	Strategy Strategy                `json:"strategy"`
	Backups  []*discovery.AgentMatch `json:"backups,omitempty"`

	// IsFallback is set when no healthy primary match existed.
	IsFallback bool            `json:"is_fallback"`
	Fallback   *FallbackOption `json:"fallback,omitempty"`
	// Queued is set when the task was parked instead of given to an agent.
	Queued bool `json:"queued"`

	AssignedAt time.Time `json:"assigned_at"`
}

// FallbackKind tells where a fallback option came from.
type FallbackKind string

const (
	FallbackSharedCapability FallbackKind = "shared_capability"
	FallbackGeneralPurpose   FallbackKind = "general_purpose"
	FallbackQueue            FallbackKind = "queue"
)

// Fallback suitabilities.
const (
	sharedCapabilitySuitability = 0.7
	generalPurposeSuitability   = 0.5
	queueSuitability            = 0.3
)

// FallbackOption is a lower-confidence alternative assignment.
type FallbackOption struct {
	Kind FallbackKind `json:"kind"`
	// Agent is nil for the queue option.
	Agent       *types.Agent `json:"agent,omitempty"`
	Suitability float64      `json:"suitability"`
	Reason      string       `json:"reason"`
}

// =============================================================================
// Circuit breaker
// =============================================================================

// CircuitState 熔断器状态
type CircuitState int

const (
	// CircuitClosed 正常状态，允许分配
	CircuitClosed CircuitState = iota
	// CircuitOpen 熔断状态，拒绝分配
	CircuitOpen
	// CircuitHalfOpen 半开状态，冷却结束后允许探测
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerStatus is the breaker state of one agent.
type CircuitBreakerStatus struct {
	AgentID         string       `json:"agent_id"`
	State           CircuitState `json:"state"`
	LastStateChange time.Time    `json:"last_state_change,omitempty"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	NextRetryAt     *time.Time   `json:"next_retry_at,omitempty"`
	Reason          string       `json:"reason,omitempty"`
}

// CircuitBreakerEvent 熔断器状态变更事件
type CircuitBreakerEvent struct {
	AgentID   string       `json:"agent_id"`
	OldState  CircuitState `json:"old_state"`
	NewState  CircuitState `json:"new_state"`
	Timestamp time.Time    `json:"timestamp"`
	Reason    string       `json:"reason"`
	Failures  int          `json:"failures"`
}

// =============================================================================
// Health
// =============================================================================

// HealthLevel is a five-step health scale.
type HealthLevel string

const (
	HealthExcellent HealthLevel = "excellent"
	HealthGood      HealthLevel = "good"
	HealthFair      HealthLevel = "fair"
	HealthPoor      HealthLevel = "poor"
	HealthCritical  HealthLevel = "critical"
)

// AgentHealth is the health of one agent.
type AgentHealth struct {
	AgentID       string            `json:"agent_id"`
	Level         HealthLevel       `json:"level"`
	Status        types.AgentStatus `json:"status"`
	SuccessRate   float64           `json:"success_rate"`
	CircuitState  CircuitState      `json:"circuit_state"`
	LastCheckedAt time.Time         `json:"last_checked_at,omitempty"`
}

// SystemHealth aggregates agent health.
type SystemHealth struct {
	Level         HealthLevel   `json:"level"`
	TotalAgents   int           `json:"total_agents"`
	HealthyAgents int           `json:"healthy_agents"`
	HealthyRatio  float64       `json:"healthy_ratio"`
	OpenCircuits  int           `json:"open_circuits"`
	Agents        []AgentHealth `json:"agents"`
	CheckedAt     time.Time     `json:"checked_at"`
}

// AlertSeverity grades health alerts.
type AlertSeverity string

const (
	AlertWarning  AlertSeverity = "warning"
	AlertCritical AlertSeverity = "critical"
)

// HealthAlert is a recorded health incident.
type HealthAlert struct {
	ID        string        `json:"id"`
	AgentID   string        `json:"agent_id,omitempty"`
	Severity  AlertSeverity `json:"severity"`
	Message   string        `json:"message"`
	CreatedAt time.Time     `json:"created_at"`
}

// =============================================================================
// Administrative state
// =============================================================================

// ResourceUtilization is the last reported resource usage of an agent.
type ResourceUtilization struct {
	AgentID       string    `json:"agent_id"`
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryPercent float64   `json:"memory_percent"`
	ActiveTasks   int       `json:"active_tasks"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ThrottleSettings are advisory per-agent limits. The balancer stores them and
// exposes ThrottleAllows, but assignment does not consult them.
type ThrottleSettings struct {
	AgentID            string        `json:"agent_id" yaml:"agent_id"`
	CPULimit           float64       `json:"cpu_limit" yaml:"cpu_limit"`
	MemoryLimit        float64       `json:"memory_limit" yaml:"memory_limit"`
	MaxConcurrentTasks int           `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	MinRequestInterval time.Duration `json:"min_request_interval" yaml:"min_request_interval"`
	UpdatedAt          time.Time     `json:"updated_at" yaml:"-"`
}

// AutoScalingRule is stored for operators; nothing in the balancer scales.
type AutoScalingRule struct {
	Name               string          `json:"name" yaml:"name"`
	AgentType          types.AgentType `json:"agent_type" yaml:"agent_type"`
	MinAgents          int             `json:"min_agents" yaml:"min_agents"`
	MaxAgents          int             `json:"max_agents" yaml:"max_agents"`
	ScaleUpThreshold   float64         `json:"scale_up_threshold" yaml:"scale_up_threshold"`
	ScaleDownThreshold float64         `json:"scale_down_threshold" yaml:"scale_down_threshold"`
	Cooldown           time.Duration   `json:"cooldown" yaml:"cooldown"`
	Enabled            bool            `json:"enabled" yaml:"enabled"`
}

// =============================================================================
// Load reporting
// =============================================================================

// AgentLoad is the load of one agent.
type AgentLoad struct {
	AgentID      string       `json:"agent_id"`
	CurrentTasks int          `json:"current_tasks"`
	MaxTasks     int          `json:"max_tasks"`
	LoadRatio    float64      `json:"load_ratio"`
	CircuitState CircuitState `json:"circuit_state"`
}

// LoadReport summarizes load across active agents.
type LoadReport struct {
	Agents        []AgentLoad `json:"agents"`
	TotalCapacity int         `json:"total_capacity"`
	TotalActive   int         `json:"total_active"`
	AverageLoad   float64     `json:"average_load"`
	Overloaded    []string    `json:"overloaded,omitempty"`
	Underutilized []string    `json:"underutilized,omitempty"`
	GeneratedAt   time.Time   `json:"generated_at"`
}

// TaskMove is one proposed migration.
type TaskMove struct {
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
	TaskCount   int    `json:"task_count"`
}

// RebalancePlan is advisory: the balancer never migrates tasks itself.
type RebalancePlan struct {
	Moves         []TaskMove `json:"moves"`
	Overloaded    []string   `json:"overloaded"`
	Underutilized []string   `json:"underutilized"`
	CreatedAt     time.Time  `json:"created_at"`
}
