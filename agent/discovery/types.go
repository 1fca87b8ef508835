// Package discovery ranks agents against task requirements.
// It implements the agent registry view, the capability matcher and team formation.
package discovery

import (
	"context"

	"github.com/BaSui01/agentdispatch/types"
)

// MatchReason is the primary reason an agent was matched. Values are ordered
// by precedence, strongest first.
type MatchReason string

const (
	// MatchReasonPerfect indicates high relevance backed by a matching specialization.
	MatchReasonPerfect MatchReason = "perfect_match"
	// MatchReasonSpecialization indicates at least one specialization matched.
	MatchReasonSpecialization MatchReason = "specialization_match"
	// MatchReasonCapability indicates at least one required capability matched.
	MatchReasonCapability MatchReason = "capability_match"
	// MatchReasonType indicates the agent type fits the task domain.
	MatchReasonType MatchReason = "type_match"
	// MatchReasonBestAvailable indicates some relevance but nothing specific.
	MatchReasonBestAvailable MatchReason = "best_available"
	// MatchReasonFallback indicates no relevance at all.
	MatchReasonFallback MatchReason = "fallback_option"
)

// AgentMatch is a scored pairing of one agent to one task's requirements.
// It is created fresh per matching call and never persisted.
type AgentMatch struct {
	// Agent is the snapshot that was scored.
	Agent *types.Agent `json:"agent"`

	// Score is the weighted total multiplied by the priority multiplier.
	// It is not clamped and may exceed 100 for high-priority tasks.
	Score float64 `json:"score"`

	// PrimaryReason is the strongest reason for the match.
	PrimaryReason MatchReason `json:"primary_reason"`

	// MatchedCapabilities are the required capabilities the agent has.
	MatchedCapabilities []string `json:"matched_capabilities,omitempty"`

	// MatchedSpecializations are the specializations with non-zero relevance.
	MatchedSpecializations []types.Specialization `json:"matched_specializations,omitempty"`

	AvailabilityScore float64 `json:"availability_score"`
	PerformanceScore  float64 `json:"performance_score"`
	RelevanceScore    float64 `json:"relevance_score"`

	// Concerns are advisory caveats. They never affect Score.
	Concerns []string `json:"concerns,omitempty"`
}

// AgentRegistry is the read-only view of the external agent registry.
// Every call may return a stale snapshot.
type AgentRegistry interface {
	// GetAvailableAgents returns agents the registry considers available.
	GetAvailableAgents(ctx context.Context) ([]*types.Agent, error)
	// GetActiveAgents returns agents with active status.
	GetActiveAgents(ctx context.Context) ([]*types.Agent, error)
	// GetByID returns one agent or a types.ErrAgentNotFound error.
	GetByID(ctx context.Context, agentID string) (*types.Agent, error)
	// GetAgentsByType returns agents of the given type.
	GetAgentsByType(ctx context.Context, agentType types.AgentType) ([]*types.Agent, error)
	// GetAgentsWithCapabilities returns agents having any of the capabilities.
	GetAgentsWithCapabilities(ctx context.Context, capabilities []string) ([]*types.Agent, error)
}

// CapabilityProfile is a reporting view of an agent. It carries no score.
type CapabilityProfile struct {
	AgentID         string                 `json:"agent_id"`
	AgentName       string                 `json:"agent_name"`
	AgentType       types.AgentType        `json:"agent_type"`
	Capabilities    []string               `json:"capabilities"`
	Specializations []types.Specialization `json:"specializations"`
	// TopDomains lists specialization domains by descending skill level.
	TopDomains []string `json:"top_domains"`

	// Performance
	SuccessRate     float64 `json:"success_rate"`
	TotalTasks      int     `json:"total_tasks"`
	AvgResponseTime string  `json:"avg_response_time"`

	// Availability
	Status        types.AgentStatus `json:"status"`
	CurrentTasks  int               `json:"current_tasks"`
	MaxTasks      int               `json:"max_tasks"`
	LoadRatio     float64           `json:"load_ratio"`
	CanAcceptTask bool              `json:"can_accept_task"`
}

// =============================================================================
// Team formation
// =============================================================================

// TeamRole is derived from what a member was assigned.
type TeamRole string

const (
	TeamRoleLead       TeamRole = "lead"
	TeamRoleSpecialist TeamRole = "specialist"
	TeamRoleSupport    TeamRole = "support"
)

// TaskComponent is one part of a complex task.
type TaskComponent struct {
	Name         string                 `json:"name" yaml:"name"`
	Requirements types.TaskRequirements `json:"requirements" yaml:"requirements"`
}

// ComplexTask is a task decomposed into components.
type ComplexTask struct {
	Description string          `json:"description" yaml:"description"`
	Components  []TaskComponent `json:"components" yaml:"components"`
	// AllowParallelExecution lets one agent take several components.
	AllowParallelExecution bool `json:"allow_parallel_execution" yaml:"allow_parallel_execution"`
}

// TeamMember groups the components assigned to one agent.
type TeamMember struct {
	Agent      *types.Agent `json:"agent"`
	Role       TeamRole     `json:"role"`
	Components []string     `json:"components"`
	// Contribution is the mean match score over the member's components.
	Contribution float64 `json:"contribution"`
}

// TeamSuggestion is the proposed team for a complex task.
type TeamSuggestion struct {
	Members []*TeamMember `json:"members"`
	// Unassigned lists components no agent could take.
	Unassigned []string `json:"unassigned,omitempty"`
	// TeamScore is the mean member contribution.
	TeamScore float64 `json:"team_score"`
}
