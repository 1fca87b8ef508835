package discovery

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/BaSui01/agentdispatch/types"
)

// MemoryRegistry is an in-memory AgentRegistry. It stands in for the external
// agent store in tests and in the host process, where it is fed from a roster
// file. Reads return deep copies in insertion order.
type MemoryRegistry struct {
	agents map[string]*types.Agent
	order  []string
	mu     sync.RWMutex

	logger *zap.Logger
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry(logger *zap.Logger) *MemoryRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryRegistry{
		agents: make(map[string]*types.Agent),
		logger: logger.With(zap.String("component", "agent_registry")),
	}
}

// Upsert stores copies of the agents, replacing existing ids in place.
func (r *MemoryRegistry) Upsert(agents ...*types.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, a := range agents {
		if a == nil || a.ID == "" {
			continue
		}
		if _, exists := r.agents[a.ID]; !exists {
			r.order = append(r.order, a.ID)
		}
		r.agents[a.ID] = a.Clone()
	}
}

// Remove deletes an agent. It returns false when the id is unknown.
func (r *MemoryRegistry) Remove(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[agentID]; !ok {
		return false
	}
	delete(r.agents, agentID)
	for i, id := range r.order {
		if id == agentID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// UpdateLoad sets the current task count and stamps LastActiveAt.
func (r *MemoryRegistry) UpdateLoad(agentID string, currentTasks int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return types.Errorf(types.ErrAgentNotFound, "agent %q not found", agentID)
	}
	a.CurrentTasks = currentTasks
	a.LastActiveAt = time.Now()
	return nil
}

// SetStatus updates the lifecycle status of an agent.
func (r *MemoryRegistry) SetStatus(agentID string, status types.AgentStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[agentID]
	if !ok {
		return types.Errorf(types.ErrAgentNotFound, "agent %q not found", agentID)
	}
	a.Status = status
	return nil
}

// Len returns the number of registered agents.
func (r *MemoryRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// roster is the on-disk format read by LoadRoster.
type roster struct {
	Agents []*types.Agent `yaml:"agents"`
}

// LoadRoster reads agents from a YAML file and upserts them.
func (r *MemoryRegistry) LoadRoster(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("read roster: %w", err)
	}

	var doc roster
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return 0, fmt.Errorf("parse roster %s: %w", path, err)
	}
	for i, a := range doc.Agents {
		if a == nil || a.ID == "" {
			return 0, fmt.Errorf("roster %s: agent #%d has no id", path, i)
		}
		if a.Status == "" {
			a.Status = types.AgentStatusActive
		}
	}

	r.Upsert(doc.Agents...)
	r.logger.Info("agent roster loaded",
		zap.String("path", path),
		zap.Int("agents", len(doc.Agents)),
	)
	return len(doc.Agents), nil
}

// =============================================================================
// AgentRegistry
// =============================================================================

// GetAvailableAgents returns agents that can accept a task.
func (r *MemoryRegistry) GetAvailableAgents(ctx context.Context) ([]*types.Agent, error) {
	return r.filter(ctx, func(a *types.Agent) bool { return a.CanAcceptTask() })
}

// GetActiveAgents returns agents with active status.
func (r *MemoryRegistry) GetActiveAgents(ctx context.Context) ([]*types.Agent, error) {
	return r.filter(ctx, func(a *types.Agent) bool { return a.Status == types.AgentStatusActive })
}

// GetByID returns one agent.
func (r *MemoryRegistry) GetByID(ctx context.Context, agentID string) (*types.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[agentID]
	if !ok {
		return nil, types.Errorf(types.ErrAgentNotFound, "agent %q not found", agentID)
	}
	return a.Clone(), nil
}

// GetAgentsByType returns agents of the given type.
func (r *MemoryRegistry) GetAgentsByType(ctx context.Context, agentType types.AgentType) ([]*types.Agent, error) {
	return r.filter(ctx, func(a *types.Agent) bool { return a.Type == agentType })
}

// GetAgentsWithCapabilities returns agents having any of the capabilities.
func (r *MemoryRegistry) GetAgentsWithCapabilities(ctx context.Context, capabilities []string) ([]*types.Agent, error) {
	return r.filter(ctx, func(a *types.Agent) bool {
		for _, c := range capabilities {
			if a.HasCapability(strings.TrimSpace(c)) {
				return true
			}
		}
		return false
	})
}

// GetAllAgents returns every agent regardless of status.
func (r *MemoryRegistry) GetAllAgents(ctx context.Context) ([]*types.Agent, error) {
	return r.filter(ctx, func(*types.Agent) bool { return true })
}

func (r *MemoryRegistry) filter(ctx context.Context, keep func(*types.Agent) bool) ([]*types.Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*types.Agent, 0, len(r.order))
	for _, id := range r.order {
		if a := r.agents[id]; keep(a) {
			out = append(out, a.Clone())
		}
	}
	return out, nil
}
