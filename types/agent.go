package types

import (
	"strings"
	"time"
)

// =============================================================================
// Agent snapshot
// =============================================================================
// Agents are owned by an external registry. Everything in this file is a
// point-in-time read model: the dispatcher never mutates an agent record.
// =============================================================================

// AgentType classifies an agent by the domain it mainly serves.
type AgentType string

const (
	AgentTypeCode       AgentType = "code"
	AgentTypeWriting    AgentType = "writing"
	AgentTypeAnalysis   AgentType = "analysis"
	AgentTypePlanning   AgentType = "planning"
	AgentTypeResearch   AgentType = "research"
	AgentTypeAutomation AgentType = "automation"
	AgentTypeGeneral    AgentType = "general"
)

// AgentStatus is the lifecycle status reported by the registry.
type AgentStatus string

const (
	AgentStatusActive      AgentStatus = "active"
	AgentStatusInactive    AgentStatus = "inactive"
	AgentStatusMaintenance AgentStatus = "maintenance"
)

// Specialization is a (domain, subdomain) skill record.
type Specialization struct {
	Domain     string    `json:"domain" yaml:"domain"`
	Subdomain  string    `json:"subdomain,omitempty" yaml:"subdomain,omitempty"`
	SkillLevel int       `json:"skill_level" yaml:"skill_level"` // 1-10
	Confidence float64   `json:"confidence" yaml:"confidence"`   // 0.0-1.0
	UsageCount int       `json:"usage_count,omitempty" yaml:"usage_count,omitempty"`
	LastUsedAt time.Time `json:"last_used_at,omitempty" yaml:"last_used_at,omitempty"`
	Keywords   []string  `json:"keywords,omitempty" yaml:"keywords,omitempty"`
}

// Relevance scores how well this specialization fits a (domain, subdomain,
// keywords) request. The result is in [0, 100].
//
// Domain and subdomain must match case-insensitively; keyword overlap is the
// share of requested keywords found in the specialization. When nothing
// matches the relevance is 0, otherwise skill and confidence add up to 20.
func (s Specialization) Relevance(domain, subdomain string, keywords []string) float64 {
	score := 0.0
	if domain != "" && strings.EqualFold(s.Domain, domain) {
		score += 40
	}
	if subdomain != "" && strings.EqualFold(s.Subdomain, subdomain) {
		score += 20
	}
	if len(keywords) > 0 && len(s.Keywords) > 0 {
		hits := 0
		for _, kw := range keywords {
			if containsFold(s.Keywords, kw) {
				hits++
			}
		}
		score += float64(hits) / float64(len(keywords)) * 20
	}
	if score == 0 {
		return 0
	}

	score += float64(clampInt(s.SkillLevel, 0, 10)) / 10 * 10
	score += clampFloat(s.Confidence, 0, 1) * 10
	if score > 100 {
		score = 100
	}
	return score
}

// Agent is a read-only snapshot of a worker.
type Agent struct {
	ID                 string            `json:"id" yaml:"id"`
	Name               string            `json:"name" yaml:"name"`
	Type               AgentType         `json:"type" yaml:"type"`
	Capabilities       []string          `json:"capabilities,omitempty" yaml:"capabilities,omitempty"`
	Specializations    []Specialization  `json:"specializations,omitempty" yaml:"specializations,omitempty"`
	Status             AgentStatus       `json:"status" yaml:"status"`
	CurrentTasks       int               `json:"current_tasks" yaml:"current_tasks"`
	MaxConcurrentTasks int               `json:"max_concurrent_tasks" yaml:"max_concurrent_tasks"`
	SuccessCount       int               `json:"success_count" yaml:"success_count"`
	FailureCount       int               `json:"failure_count" yaml:"failure_count"`
	AvgResponseTime    time.Duration     `json:"avg_response_time" yaml:"avg_response_time"`
	LastActiveAt       time.Time         `json:"last_active_at,omitempty" yaml:"last_active_at,omitempty"`
	CreatedAt          time.Time         `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// CanAcceptTask is the availability predicate: the agent is active and has
// free task slots.
func (a *Agent) CanAcceptTask() bool {
	return a.Status == AgentStatusActive && a.CurrentTasks < a.MaxConcurrentTasks
}

// TotalTasks returns the number of finished tasks.
func (a *Agent) TotalTasks() int {
	return a.SuccessCount + a.FailureCount
}

// SuccessRate returns success / total. An agent without history reports 1.0.
func (a *Agent) SuccessRate() float64 {
	total := a.TotalTasks()
	if total == 0 {
		return 1.0
	}
	return float64(a.SuccessCount) / float64(total)
}

// LoadRatio returns CurrentTasks / MaxConcurrentTasks (1 when max is unset).
func (a *Agent) LoadRatio() float64 {
	if a.MaxConcurrentTasks <= 0 {
		return 1
	}
	return float64(a.CurrentTasks) / float64(a.MaxConcurrentTasks)
}

// HasCapability reports whether the agent advertises capability (case-insensitive).
func (a *Agent) HasCapability(capability string) bool {
	return containsFold(a.Capabilities, capability)
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	if a == nil {
		return nil
	}
	c := *a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	if a.Specializations != nil {
		c.Specializations = make([]Specialization, len(a.Specializations))
		for i, s := range a.Specializations {
			s.Keywords = append([]string(nil), s.Keywords...)
			c.Specializations[i] = s
		}
	}
	if a.Metadata != nil {
		c.Metadata = make(map[string]string, len(a.Metadata))
		for k, v := range a.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// =============================================================================
// Task requirements
// =============================================================================

// TaskPriority orders tasks and scales match scores.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// Multiplier returns the score multiplier for the priority.
func (p TaskPriority) Multiplier() float64 {
	switch p {
	case PriorityCritical:
		return 1.3
	case PriorityHigh:
		return 1.1
	case PriorityLow:
		return 0.9
	default:
		return 1.0
	}
}

// TaskRequirements describes what a task needs from an agent. Treat values as
// immutable once handed to the dispatcher.
type TaskRequirements struct {
	Description          string        `json:"description" yaml:"description"`
	Domain               string        `json:"domain,omitempty" yaml:"domain,omitempty"`
	Subdomain            string        `json:"subdomain,omitempty" yaml:"subdomain,omitempty"`
	Keywords             []string      `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	RequiredCapabilities []string      `json:"required_capabilities,omitempty" yaml:"required_capabilities,omitempty"`
	Priority             TaskPriority  `json:"priority,omitempty" yaml:"priority,omitempty"`
	MinSkillLevel        int           `json:"min_skill_level,omitempty" yaml:"min_skill_level,omitempty"`
	MinConfidence        float64       `json:"min_confidence,omitempty" yaml:"min_confidence,omitempty"`
	EstimatedDuration    time.Duration `json:"estimated_duration,omitempty" yaml:"estimated_duration,omitempty"`
}

// =============================================================================
// Agent task
// =============================================================================

// AgentTaskStatus is the status of a dispatched task record.
type AgentTaskStatus string

const (
	AgentTaskAssigned  AgentTaskStatus = "assigned"
	AgentTaskCompleted AgentTaskStatus = "completed"
	AgentTaskFailed    AgentTaskStatus = "failed"
)

// AgentTask is the record written when a workflow step is handed to an agent.
type AgentTask struct {
	ID           string           `json:"id"`
	WorkflowID   string           `json:"workflow_id"`
	StepID       string           `json:"step_id"`
	AgentID      string           `json:"agent_id"`
	Title        string           `json:"title"`
	Requirements TaskRequirements `json:"requirements"`
	Input        ValueMap         `json:"input,omitempty"`
	Status       AgentTaskStatus  `json:"status"`
	CreatedAt    time.Time        `json:"created_at"`
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
