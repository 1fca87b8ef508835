package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/agentdispatch/types"
)

// agentTaskRow is the table model of a task record.
type agentTaskRow struct {
	ID           string    `gorm:"primaryKey;size:64"`
	WorkflowID   string    `gorm:"size:64;index:idx_agent_tasks_workflow"`
	StepID       string    `gorm:"size:128"`
	AgentID      string    `gorm:"size:128;index:idx_agent_tasks_agent"`
	Title        string    `gorm:"size:255"`
	Status       string    `gorm:"size:32;not null"`
	Requirements string    `gorm:"type:text"`
	Input        string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"index"`
	UpdatedAt    time.Time
}

func toRow(t *types.AgentTask) (*agentTaskRow, error) {
	req, err := json.Marshal(t.Requirements)
	if err != nil {
		return nil, fmt.Errorf("marshal requirements: %w", err)
	}
	input := []byte("{}")
	if len(t.Input) > 0 {
		if input, err = json.Marshal(t.Input); err != nil {
			return nil, fmt.Errorf("marshal input: %w", err)
		}
	}
	return &agentTaskRow{
		ID:           t.ID,
		WorkflowID:   t.WorkflowID,
		StepID:       t.StepID,
		AgentID:      t.AgentID,
		Title:        t.Title,
		Status:       string(t.Status),
		Requirements: string(req),
		Input:        string(input),
		CreatedAt:    t.CreatedAt,
	}, nil
}

func (r *agentTaskRow) toTask() (*types.AgentTask, error) {
	t := &types.AgentTask{
		ID:         r.ID,
		WorkflowID: r.WorkflowID,
		StepID:     r.StepID,
		AgentID:    r.AgentID,
		Title:      r.Title,
		Status:     types.AgentTaskStatus(r.Status),
		CreatedAt:  r.CreatedAt,
	}
	if r.Requirements != "" {
		if err := json.Unmarshal([]byte(r.Requirements), &t.Requirements); err != nil {
			return nil, fmt.Errorf("unmarshal requirements of %s: %w", r.ID, err)
		}
	}
	if r.Input != "" && r.Input != "{}" {
		if err := json.Unmarshal([]byte(r.Input), &t.Input); err != nil {
			return nil, fmt.Errorf("unmarshal input of %s: %w", r.ID, err)
		}
	}
	return t, nil
}

// SQLTaskStore is a gorm-backed implementation of TaskStore. It works with
// any dialect gorm supports; the host wires postgres, mysql or sqlite.
type SQLTaskStore struct {
	db     *gorm.DB
	table  string
	logger *zap.Logger
	now    func() time.Time
}

// NewSQLTaskStore creates a task store on an open database.
func NewSQLTaskStore(db *gorm.DB, config StoreConfig, logger *zap.Logger) (*SQLTaskStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	table := config.SQL.TableName
	if table == "" {
		table = "agent_tasks"
	}

	s := &SQLTaskStore{
		db:     db,
		table:  table,
		logger: logger.With(zap.String("component", "sql_task_store")),
		now:    time.Now,
	}

	if config.SQL.AutoMigrate {
		if err := s.tx(context.Background()).AutoMigrate(&agentTaskRow{}); err != nil {
			return nil, fmt.Errorf("migrate %s: %w", table, err)
		}
		s.logger.Info("task table migrated", zap.String("table", table))
	}
	return s, nil
}

func (s *SQLTaskStore) tx(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Table(s.table)
}

// Close is a no-op: the connection pool belongs to the caller.
func (s *SQLTaskStore) Close() error {
	return nil
}

// Ping checks if the store is healthy
func (s *SQLTaskStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Add inserts the task, replacing any row with the same id.
func (s *SQLTaskStore) Add(ctx context.Context, task *types.AgentTask) error {
	if err := prepare(task, s.now()); err != nil {
		return err
	}

	row, err := toRow(task)
	if err != nil {
		return err
	}
	row.UpdatedAt = s.now()

	err = s.tx(ctx).Clauses(clause.OnConflict{UpdateAll: true}).Create(row).Error
	if err != nil {
		return fmt.Errorf("insert task %s: %w", task.ID, err)
	}
	return nil
}

// Get retrieves a task by ID
func (s *SQLTaskStore) Get(ctx context.Context, taskID string) (*types.AgentTask, error) {
	var row agentTaskRow
	err := s.tx(ctx).Where("id = ?", taskID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return row.toTask()
}

// ListByWorkflow returns the tasks of a workflow oldest first.
func (s *SQLTaskStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*types.AgentTask, error) {
	return s.list(ctx, "workflow_id = ?", workflowID)
}

// ListByAgent returns the tasks given to an agent oldest first.
func (s *SQLTaskStore) ListByAgent(ctx context.Context, agentID string) ([]*types.AgentTask, error) {
	return s.list(ctx, "agent_id = ?", agentID)
}

func (s *SQLTaskStore) list(ctx context.Context, query string, arg any) ([]*types.AgentTask, error) {
	var rows []agentTaskRow
	if err := s.tx(ctx).Where(query, arg).Order("created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}

	out := make([]*types.AgentTask, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTask()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// UpdateStatus sets the status of a stored task.
func (s *SQLTaskStore) UpdateStatus(ctx context.Context, taskID string, status types.AgentTaskStatus) error {
	res := s.tx(ctx).Where("id = ?", taskID).Updates(map[string]any{
		"status":     string(status),
		"updated_at": s.now(),
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
