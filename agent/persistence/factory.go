package persistence

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentdispatch/internal/metrics"
	"github.com/BaSui01/agentdispatch/types"
)

// Dependencies carries the resources a backend may need.
type Dependencies struct {
	// DB is required for the sql backend.
	DB      *gorm.DB
	Metrics *metrics.Collector
	Logger  *zap.Logger
}

// NewTaskStore creates a TaskStore based on the configuration. The result
// records per-operation metrics when deps.Metrics is set.
func NewTaskStore(config StoreConfig, deps Dependencies) (TaskStore, error) {
	var (
		store TaskStore
		err   error
	)

	switch config.Type {
	case StoreTypeMemory, "":
		store = NewMemoryTaskStore()
	case StoreTypeRedis:
		store, err = NewRedisTaskStore(config, deps.Logger)
	case StoreTypeSQL:
		store, err = NewSQLTaskStore(deps.DB, config, deps.Logger)
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	backend := string(config.Type)
	if backend == "" {
		backend = string(StoreTypeMemory)
	}
	return Instrument(store, backend, deps.Metrics), nil
}

// Instrument wraps a store so every operation is timed. A nil collector
// returns the store unchanged.
func Instrument(store TaskStore, backend string, collector *metrics.Collector) TaskStore {
	if collector == nil {
		return store
	}
	return &instrumentedStore{inner: store, backend: backend, metrics: collector}
}

type instrumentedStore struct {
	inner   TaskStore
	backend string
	metrics *metrics.Collector
}

func (s *instrumentedStore) observe(op string, start time.Time, err error) {
	s.metrics.RecordTaskStoreOp(s.backend, op, err, time.Since(start))
}

func (s *instrumentedStore) Close() error { return s.inner.Close() }

func (s *instrumentedStore) Ping(ctx context.Context) (err error) {
	defer func(start time.Time) { s.observe("ping", start, err) }(time.Now())
	return s.inner.Ping(ctx)
}

func (s *instrumentedStore) Add(ctx context.Context, task *types.AgentTask) (err error) {
	defer func(start time.Time) { s.observe("add", start, err) }(time.Now())
	return s.inner.Add(ctx, task)
}

func (s *instrumentedStore) Get(ctx context.Context, taskID string) (t *types.AgentTask, err error) {
	defer func(start time.Time) { s.observe("get", start, err) }(time.Now())
	return s.inner.Get(ctx, taskID)
}

func (s *instrumentedStore) ListByWorkflow(ctx context.Context, workflowID string) (ts []*types.AgentTask, err error) {
	defer func(start time.Time) { s.observe("list_by_workflow", start, err) }(time.Now())
	return s.inner.ListByWorkflow(ctx, workflowID)
}

func (s *instrumentedStore) ListByAgent(ctx context.Context, agentID string) (ts []*types.AgentTask, err error) {
	defer func(start time.Time) { s.observe("list_by_agent", start, err) }(time.Now())
	return s.inner.ListByAgent(ctx, agentID)
}

func (s *instrumentedStore) UpdateStatus(ctx context.Context, taskID string, status types.AgentTaskStatus) (err error) {
	defer func(start time.Time) { s.observe("update_status", start, err) }(time.Now())
	return s.inner.UpdateStatus(ctx, taskID, status)
}
