package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentdispatch/types"
)

// Common errors
var (
	ErrNotFound     = errors.New("not found")
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
)

// TaskRepository receives the records of tasks handed to agents.
// The dispatcher only ever writes.
type TaskRepository interface {
	Add(ctx context.Context, task *types.AgentTask) error
}

// TaskReader reads records back for operators and tests.
type TaskReader interface {
	Get(ctx context.Context, taskID string) (*types.AgentTask, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*types.AgentTask, error)
	ListByAgent(ctx context.Context, agentID string) ([]*types.AgentTask, error)
}

// TaskStatusUpdater records the outcome of a dispatched task.
type TaskStatusUpdater interface {
	UpdateStatus(ctx context.Context, taskID string, status types.AgentTaskStatus) error
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// TaskStore is the full contract every backend implements.
type TaskStore interface {
	Store
	TaskRepository
	TaskReader
	TaskStatusUpdater
}

// StoreConfig is the base configuration for all store implementations
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// Redis configuration (only used when Type is "redis")
	Redis RedisStoreConfig `json:"redis" yaml:"redis"`

	// SQL configuration (only used when Type is "sql")
	SQL SQLStoreConfig `json:"sql" yaml:"sql"`

	// Breaker guards remote backends
	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Addr is the Redis server address (host:port)
	Addr string `json:"addr" yaml:"addr"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`

	// KeyPrefix is the prefix for all Redis keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL expires task records; zero keeps them forever
	TTL time.Duration `json:"ttl" yaml:"ttl"`
}

// SQLStoreConfig contains gorm-specific configuration
type SQLStoreConfig struct {
	// TableName overrides the default table name
	TableName string `json:"table_name" yaml:"table_name"`

	// AutoMigrate creates or updates the table on startup
	AutoMigrate bool `json:"auto_migrate" yaml:"auto_migrate"`
}

// BreakerConfig configures the circuit breaker around a remote backend.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `json:"max_failures" yaml:"max_failures"`
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type: StoreTypeMemory,
		Redis: RedisStoreConfig{
			Addr:      "localhost:6379",
			PoolSize:  10,
			KeyPrefix: "agentdispatch:",
		},
		SQL: SQLStoreConfig{
			TableName:   "agent_tasks",
			AutoMigrate: true,
		},
		Breaker: BreakerConfig{
			MaxFailures: 5,
			Timeout:     30 * time.Second,
			Interval:    60 * time.Second,
		},
	}
}

// prepare validates a record and fills its id and timestamp.
func prepare(task *types.AgentTask, now time.Time) error {
	if task == nil {
		return ErrInvalidInput
	}
	if task.ID == "" {
		return types.NewError(types.ErrInvalidRequest, "task id is required").WithCause(ErrInvalidInput)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	if task.Status == "" {
		task.Status = types.AgentTaskAssigned
	}
	return nil
}

func cloneTask(t *types.AgentTask) *types.AgentTask {
	c := *t
	c.Input = t.Input.Clone()
	c.Requirements.Keywords = append([]string(nil), t.Requirements.Keywords...)
	c.Requirements.RequiredCapabilities = append([]string(nil), t.Requirements.RequiredCapabilities...)
	return &c
}
