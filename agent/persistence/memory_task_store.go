package persistence

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentdispatch/types"
)

type idSet map[string]struct{}

// MemoryTaskStore 进程内任务存储，按工作流和 Agent 维护二级索引，重启后丢失
type MemoryTaskStore struct {
	mu         sync.RWMutex
	tasks      map[string]*types.AgentTask
	byWorkflow map[string]idSet
	byAgent    map[string]idSet
	closed     bool
	now        func() time.Time
}

// NewMemoryTaskStore 创建空的内存存储
func NewMemoryTaskStore() *MemoryTaskStore {
	return &MemoryTaskStore{
		tasks:      make(map[string]*types.AgentTask),
		byWorkflow: make(map[string]idSet),
		byAgent:    make(map[string]idSet),
		now:        time.Now,
	}
}

// Close marks the store closed; later calls fail with ErrStoreClosed.
func (s *MemoryTaskStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Ping reports ErrStoreClosed after Close.
func (s *MemoryTaskStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openErr()
}

// Add stores a copy of the task. A record with the same id is replaced and
// re-indexed.
func (s *MemoryTaskStore) Add(_ context.Context, task *types.AgentTask) error {
	if err := prepare(task, s.now()); err != nil {
		return err
	}
	stored := cloneTask(task)

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openErr(); err != nil {
		return err
	}
	if old, ok := s.tasks[stored.ID]; ok {
		unindex(s.byWorkflow, old.WorkflowID, old.ID)
		unindex(s.byAgent, old.AgentID, old.ID)
	}
	s.tasks[stored.ID] = stored
	index(s.byWorkflow, stored.WorkflowID, stored.ID)
	index(s.byAgent, stored.AgentID, stored.ID)
	return nil
}

// Get 按 id 返回任务副本
func (s *MemoryTaskStore) Get(_ context.Context, taskID string) (*types.AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.openErr(); err != nil {
		return nil, err
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTask(t), nil
}

// ListByWorkflow 返回工作流的任务，按创建时间升序
func (s *MemoryTaskStore) ListByWorkflow(_ context.Context, workflowID string) ([]*types.AgentTask, error) {
	return s.collect(s.byWorkflow, workflowID)
}

// ListByAgent 返回分配给 Agent 的任务，按创建时间升序
func (s *MemoryTaskStore) ListByAgent(_ context.Context, agentID string) ([]*types.AgentTask, error) {
	return s.collect(s.byAgent, agentID)
}

// UpdateStatus records the outcome of a stored task.
func (s *MemoryTaskStore) UpdateStatus(_ context.Context, taskID string, status types.AgentTaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.openErr(); err != nil {
		return err
	}
	t, ok := s.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	t.Status = status
	return nil
}

// openErr 必须在持有锁时调用
func (s *MemoryTaskStore) openErr() error {
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryTaskStore) collect(idx map[string]idSet, key string) ([]*types.AgentTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.openErr(); err != nil {
		return nil, err
	}

	ids := idx[key]
	out := make([]*types.AgentTask, 0, len(ids))
	for id := range ids {
		out = append(out, cloneTask(s.tasks[id]))
	}
	sortByCreated(out)
	return out, nil
}

func index(idx map[string]idSet, key, id string) {
	set, ok := idx[key]
	if !ok {
		set = make(idSet)
		idx[key] = set
	}
	set[id] = struct{}{}
}

func unindex(idx map[string]idSet, key, id string) {
	if set, ok := idx[key]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(idx, key)
		}
	}
}

// sortByCreated orders tasks by creation time, then id.
func sortByCreated(tasks []*types.AgentTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
		}
		return tasks[i].ID < tasks[j].ID
	})
}
