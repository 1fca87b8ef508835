package workflow

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/agent/discovery"
	"github.com/BaSui01/agentdispatch/agent/persistence"
	"github.com/BaSui01/agentdispatch/internal/metrics"
	"github.com/BaSui01/agentdispatch/internal/pool"
	"github.com/BaSui01/agentdispatch/types"
)

const instrumentationName = "github.com/BaSui01/agentdispatch/workflow"

// Matcher is the part of the capability matcher the engine consumes.
type Matcher interface {
	FindBestMatch(ctx context.Context, req types.TaskRequirements) *discovery.AgentMatch
}

// OutcomeReporter receives agent task outcomes, typically the load
// balancer's ReportTaskOutcome feeding its circuit breakers.
type OutcomeReporter interface {
	ReportTaskOutcome(agentID string, success bool)
}

// Config holds engine configuration.
type Config struct {
	// DefaultMaxConcurrentSteps applies to definitions that leave
	// Settings.MaxConcurrentSteps at zero.
	DefaultMaxConcurrentSteps int `json:"default_max_concurrent_steps" yaml:"default_max_concurrent_steps"`
	// Pool sizes the worker pool running delays and agent tasks.
	Pool pool.Config `json:"pool" yaml:"pool"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DefaultMaxConcurrentSteps: 3,
		Pool:                      pool.DefaultConfig(),
	}
}

// executionEntry is the registry slot of one execution. Every mutation of
// exec happens under mu; dispatch happens after mu is released.
type executionEntry struct {
	mu      sync.Mutex
	exec    *Execution
	history *ExecutionHistory

	// ctx is cancelled when the execution becomes terminal or the engine
	// closes; asynchronous step work runs under it.
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine runs workflow executions. It owns the execution registry and the
// template store.
//
// Lifecycle methods return false for unknown ids and invalid transitions;
// step failures always flow through HandleStepFailure.
type Engine struct {
	matcher  Matcher
	repo     persistence.TaskRepository
	executor TaskExecutor
	reporter OutcomeReporter
	workers  *pool.WorkerPool
	config   *Config

	executions map[string]*executionEntry
	execMu     sync.RWMutex

	templates  map[string]*Definition
	templateMu sync.RWMutex

	baseCtx    context.Context
	baseCancel context.CancelFunc

	metrics      *metrics.Collector
	tracer       trace.Tracer
	stepsStarted metric.Int64Counter
	logger       *zap.Logger
	now          func() time.Time
}

// NewEngine creates a workflow engine. repo may be nil, in which case agent
// task records are not persisted.
func NewEngine(matcher Matcher, repo persistence.TaskRepository, config *Config, logger *zap.Logger) *Engine {
	if config == nil {
		config = DefaultConfig()
	}
	if config.DefaultMaxConcurrentSteps <= 0 {
		config.DefaultMaxConcurrentSteps = DefaultConfig().DefaultMaxConcurrentSteps
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "workflow_engine"))

	baseCtx, baseCancel := context.WithCancel(context.Background())
	e := &Engine{
		matcher:    matcher,
		repo:       repo,
		workers:    pool.New(config.Pool, logger),
		config:     config,
		executions: make(map[string]*executionEntry),
		templates:  make(map[string]*Definition),
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		tracer:     otel.Tracer(instrumentationName),
		logger:     logger,
		now:        time.Now,
	}

	counter, err := otel.Meter(instrumentationName).Int64Counter("workflow.steps.started",
		metric.WithDescription("Number of workflow steps admitted for execution"))
	if err != nil {
		logger.Warn("failed to create step counter", zap.Error(err))
	}
	e.stepsStarted = counter
	return e
}

// SetExecutor sets the executor for agent task steps. Without one, agent
// task steps wait for an external HandleStepCompletion/HandleStepFailure.
func (e *Engine) SetExecutor(executor TaskExecutor) {
	e.executor = executor
}

// SetOutcomeReporter sets the receiver of agent task outcomes.
func (e *Engine) SetOutcomeReporter(r OutcomeReporter) {
	e.reporter = r
}

// SetMetrics attaches a metrics collector.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.metrics = c
}

// =============================================================================
// Lifecycle
// =============================================================================

// CreateWorkflow validates the definition and registers a new execution in
// the Created state. Default data is merged first, then data.
func (e *Engine) CreateWorkflow(ctx context.Context, def *Definition, data types.ValueMap) (*Execution, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	def = def.Clone()

	now := e.now()
	exec := &Execution{
		ID:         uuid.NewString(),
		Definition: def,
		Status:     StatusCreated,
		Data:       make(types.ValueMap),
		Steps:      make(map[string]*StepExecution, len(def.Steps)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	exec.Data.Merge(def.DefaultData)
	exec.Data.Merge(data)
	for _, s := range def.Steps {
		exec.Steps[s.ID] = &StepExecution{StepID: s.ID, Status: StepPending}
	}

	entryCtx, cancel := context.WithCancel(e.baseCtx)
	entry := &executionEntry{
		exec:    exec,
		history: NewExecutionHistory(exec.ID, def.Name),
		ctx:     entryCtx,
		cancel:  cancel,
	}

	e.execMu.Lock()
	e.executions[exec.ID] = entry
	e.execMu.Unlock()

	e.logger.Info("workflow created",
		zap.String("workflow_id", exec.ID),
		zap.String("workflow", def.Name),
		zap.Int("steps", len(def.Steps)),
	)
	return exec.Clone(), nil
}

// CreateWorkflowFromTemplate creates an execution of a stored template.
func (e *Engine) CreateWorkflowFromTemplate(ctx context.Context, name string, data types.ValueMap) (*Execution, error) {
	def := e.GetTemplate(name)
	if def == nil {
		return nil, types.Errorf(types.ErrTemplateNotFound, "template not found: %s", name)
	}
	return e.CreateWorkflow(ctx, def, data)
}

// StartWorkflow moves a Created or Paused execution to Running, merges data
// and ticks.
func (e *Engine) StartWorkflow(ctx context.Context, workflowID string, data types.ValueMap) bool {
	return e.run(ctx, workflowID, data, "start", StatusCreated, StatusPaused)
}

// ResumeWorkflow moves a Paused execution back to Running, merges data and
// ticks.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID string, data types.ValueMap) bool {
	return e.run(ctx, workflowID, data, "resume", StatusPaused)
}

func (e *Engine) run(ctx context.Context, workflowID string, data types.ValueMap, op string, from ...Status) bool {
	entry := e.lookup(workflowID, op)
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	exec := entry.exec
	if status := exec.Status; !statusIn(status, from) {
		entry.mu.Unlock()
		e.logger.Warn("invalid workflow transition",
			errorCode(types.ErrInvalidTransition),
			zap.String("workflow_id", workflowID),
			zap.String("operation", op),
			zap.String("status", string(status)),
		)
		return false
	}
	exec.Data.Merge(data)
	if exec.StartedAt.IsZero() {
		exec.StartedAt = e.now()
	}
	e.setStatus(entry, StatusRunning)
	entry.mu.Unlock()

	e.logger.Info("workflow running", zap.String("workflow_id", workflowID), zap.String("operation", op))
	e.ProcessWorkflowSteps(ctx, workflowID)
	return true
}

// PauseWorkflow stops admitting new steps. In-flight steps still report back.
func (e *Engine) PauseWorkflow(ctx context.Context, workflowID string) bool {
	entry := e.lookup(workflowID, "pause")
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.exec.Status != StatusRunning {
		e.logger.Warn("invalid workflow transition",
			errorCode(types.ErrInvalidTransition),
			zap.String("workflow_id", workflowID),
			zap.String("operation", "pause"),
			zap.String("status", string(entry.exec.Status)),
		)
		return false
	}
	e.setStatus(entry, StatusPaused)
	e.logger.Info("workflow paused", zap.String("workflow_id", workflowID))
	return true
}

// CancelWorkflow terminates a non-terminal execution. Steps already running
// are not interrupted synchronously; their late results are ignored.
func (e *Engine) CancelWorkflow(ctx context.Context, workflowID, reason string) bool {
	entry := e.lookup(workflowID, "cancel")
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	if entry.exec.Status.IsTerminal() {
		e.logger.Warn("invalid workflow transition",
			errorCode(types.ErrInvalidTransition),
			zap.String("workflow_id", workflowID),
			zap.String("operation", "cancel"),
			zap.String("status", string(entry.exec.Status)),
		)
		return false
	}
	msg := "workflow cancelled"
	if reason != "" {
		msg += ": " + reason
	}
	e.finish(entry, StatusCancelled, msg)
	return true
}

// =============================================================================
// Queries
// =============================================================================

// GetWorkflow returns a snapshot of the execution or nil.
func (e *Engine) GetWorkflow(workflowID string) *Execution {
	entry := e.lookup(workflowID, "get")
	if entry == nil {
		return nil
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.exec.Clone()
}

// GetHistory returns the step attempt log of the execution or nil.
func (e *Engine) GetHistory(workflowID string) *ExecutionHistory {
	entry := e.lookup(workflowID, "history")
	if entry == nil {
		return nil
	}
	return entry.history.Snapshot()
}

// ListWorkflows returns snapshots ordered by creation time. With statuses
// given only executions in one of them are returned.
func (e *Engine) ListWorkflows(statuses ...Status) []*Execution {
	var out []*Execution
	for _, entry := range e.entries() {
		entry.mu.Lock()
		if len(statuses) == 0 || statusIn(entry.exec.Status, statuses) {
			out = append(out, entry.exec.Clone())
		}
		entry.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// PurgeFinished drops terminal executions that completed more than
// olderThan ago and returns how many were removed.
func (e *Engine) PurgeFinished(olderThan time.Duration) int {
	cutoff := e.now().Add(-olderThan)

	e.execMu.Lock()
	defer e.execMu.Unlock()

	removed := 0
	for id, entry := range e.executions {
		entry.mu.Lock()
		drop := entry.exec.Status.IsTerminal() && !entry.exec.CompletedAt.After(cutoff)
		entry.mu.Unlock()
		if drop {
			delete(e.executions, id)
			removed++
		}
	}
	if removed > 0 {
		e.logger.Debug("purged finished workflows", zap.Int("count", removed))
	}
	return removed
}

// Close cancels all in-flight step work and waits for the worker pool.
func (e *Engine) Close(ctx context.Context) error {
	e.baseCancel()
	return e.workers.Close(ctx)
}

// =============================================================================
// Internals
// =============================================================================

func (e *Engine) lookup(workflowID, op string) *executionEntry {
	e.execMu.RLock()
	entry, ok := e.executions[workflowID]
	e.execMu.RUnlock()
	if !ok {
		e.logger.Warn("workflow not found",
			errorCode(types.ErrWorkflowNotFound),
			zap.String("workflow_id", workflowID),
			zap.String("operation", op),
		)
		return nil
	}
	return entry
}

func (e *Engine) entries() []*executionEntry {
	e.execMu.RLock()
	defer e.execMu.RUnlock()
	out := make([]*executionEntry, 0, len(e.executions))
	for _, entry := range e.executions {
		out = append(out, entry)
	}
	return out
}

// setStatus must be called with entry.mu held.
func (e *Engine) setStatus(entry *executionEntry, to Status) {
	from := entry.exec.Status
	entry.exec.Status = to
	entry.exec.UpdatedAt = e.now()
	e.metrics.RecordWorkflowTransition(string(from), string(to))
}

// finish moves the execution to a terminal status. Must be called with
// entry.mu held.
func (e *Engine) finish(entry *executionEntry, to Status, errMsg string) {
	exec := entry.exec
	now := e.now()
	e.setStatus(entry, to)
	exec.CompletedAt = now
	exec.Error = errMsg

	for _, step := range exec.Definition.Steps {
		if se := exec.Steps[step.ID]; se.Status == StepRunning {
			e.metrics.RecordStepFinished(string(step.Type), "abandoned", now.Sub(se.StartedAt))
		}
	}

	entry.history.Complete(to, errMsg, now)
	entry.cancel()

	fields := []zap.Field{
		zap.String("workflow_id", exec.ID),
		zap.String("status", string(to)),
		zap.Float64("progress", exec.Progress),
	}
	if errMsg != "" {
		fields = append(fields, zap.String("error", errMsg))
	}
	e.logger.Info("workflow finished", fields...)
}

func statusIn(s Status, set []Status) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

func errorCode(code types.ErrorCode) zap.Field {
	return zap.String("code", string(code))
}
