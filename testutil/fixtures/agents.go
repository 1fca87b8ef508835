// =============================================================================
// 📦 测试数据工厂 - Agent 测试数据
// =============================================================================
// 提供预定义的 Agent 快照与任务需求，用于测试
// =============================================================================
package fixtures

import (
	"fmt"
	"time"

	"github.com/BaSui01/agentdispatch/types"
)

// =============================================================================
// 🤖 Agent 快照工厂
// =============================================================================

// AgentOption 修改 Agent 快照
type AgentOption func(*types.Agent)

// NewAgent 返回一个空闲、活跃、无历史记录的 Agent
func NewAgent(id string, agentType types.AgentType, opts ...AgentOption) *types.Agent {
	a := &types.Agent{
		ID:                 id,
		Name:               id,
		Type:               agentType,
		Status:             types.AgentStatusActive,
		MaxConcurrentTasks: 5,
		AvgResponseTime:    time.Second,
		CreatedAt:          time.Now().Add(-30 * 24 * time.Hour),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// WithCapabilities 设置能力
func WithCapabilities(caps ...string) AgentOption {
	return func(a *types.Agent) { a.Capabilities = caps }
}

// WithSpecialization 追加专长
func WithSpecialization(domain, subdomain string, skill int, confidence float64, keywords ...string) AgentOption {
	return func(a *types.Agent) {
		a.Specializations = append(a.Specializations, types.Specialization{
			Domain:     domain,
			Subdomain:  subdomain,
			SkillLevel: skill,
			Confidence: confidence,
			Keywords:   keywords,
		})
	}
}

// WithLoad 设置当前任务数与最大并发
func WithLoad(current, max int) AgentOption {
	return func(a *types.Agent) {
		a.CurrentTasks = current
		a.MaxConcurrentTasks = max
	}
}

// WithHistory 设置成功/失败次数
func WithHistory(success, failure int) AgentOption {
	return func(a *types.Agent) {
		a.SuccessCount = success
		a.FailureCount = failure
	}
}

// WithResponseTime 设置平均响应时间
func WithResponseTime(d time.Duration) AgentOption {
	return func(a *types.Agent) { a.AvgResponseTime = d }
}

// WithStatus 设置状态
func WithStatus(status types.AgentStatus) AgentOption {
	return func(a *types.Agent) { a.Status = status }
}

// WithLastActive 设置最近活跃时间
func WithLastActive(t time.Time) AgentOption {
	return func(a *types.Agent) { a.LastActiveAt = t }
}

// CodeAgent 返回一个擅长代码生成的 Agent
func CodeAgent(id string) *types.Agent {
	return NewAgent(id, types.AgentTypeCode,
		WithCapabilities("code-generation", "code-review"),
		WithSpecialization("code", "go", 8, 0.9, "golang", "backend"),
		WithHistory(180, 20),
		WithResponseTime(2*time.Second),
	)
}

// WriterAgent 返回一个写作 Agent
func WriterAgent(id string) *types.Agent {
	return NewAgent(id, types.AgentTypeWriting,
		WithCapabilities("copywriting", "summarization"),
		WithSpecialization("writing", "technical", 7, 0.8, "docs"),
		WithHistory(50, 5),
	)
}

// GeneralAgent 返回一个通用 Agent
func GeneralAgent(id string) *types.Agent {
	return NewAgent(id, types.AgentTypeGeneral,
		WithCapabilities("general"),
		WithHistory(10, 10),
	)
}

// AgentPool 返回混合类型的 Agent 池
func AgentPool() []*types.Agent {
	return []*types.Agent{
		CodeAgent("code-1"),
		CodeAgent("code-2"),
		WriterAgent("writer-1"),
		GeneralAgent("general-1"),
	}
}

// NumberedAgents 返回 n 个同构 Agent，ID 为 prefix-0..prefix-(n-1)
func NumberedAgents(prefix string, n int, opts ...AgentOption) []*types.Agent {
	agents := make([]*types.Agent, n)
	for i := range agents {
		agents[i] = NewAgent(fmt.Sprintf("%s-%d", prefix, i), types.AgentTypeGeneral, opts...)
	}
	return agents
}

// =============================================================================
// 📋 任务需求工厂
// =============================================================================

// CodeRequirements 返回代码生成任务需求
func CodeRequirements(priority types.TaskPriority) types.TaskRequirements {
	return types.TaskRequirements{
		Description:          "implement a REST handler",
		Domain:               "code",
		RequiredCapabilities: []string{"code-generation"},
		Priority:             priority,
	}
}
