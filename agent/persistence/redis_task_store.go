package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/types"
)

// RedisTaskStore is a Redis-based implementation of TaskStore.
// Each task is a JSON string; sorted sets scored by creation time index
// tasks per workflow and per agent. Calls go through a circuit breaker so a
// dead Redis fails fast.
type RedisTaskStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
	breaker   *gobreaker.CircuitBreaker[any]
	logger    *zap.Logger
	now       func() time.Time
}

// NewRedisTaskStore connects to Redis and creates a task store.
func NewRedisTaskStore(config StoreConfig, logger *zap.Logger) (*RedisTaskStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, types.NewError(types.ErrStoreUnavailable, "failed to connect to Redis").
			WithCause(err).WithRetryable(true)
	}

	return NewRedisTaskStoreWithClient(client, config, logger), nil
}

// NewRedisTaskStoreWithClient wraps an existing client.
func NewRedisTaskStoreWithClient(client redis.UniversalClient, config StoreConfig, logger *zap.Logger) *RedisTaskStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "redis_task_store"))

	keyPrefix := config.Redis.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "agentdispatch:"
	}

	return &RedisTaskStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
		ttl:       config.Redis.TTL,
		breaker:   newStoreBreaker("redis_task_store", config.Breaker, logger),
		logger:    logger,
		now:       time.Now,
	}
}

// newStoreBreaker builds the breaker guarding a remote backend. A missing
// record is not a failure.
func newStoreBreaker(name string, cfg BreakerConfig, logger *zap.Logger) *gobreaker.CircuitBreaker[any] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	return gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    cfg.Interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput)
		},
	})
}

// Close closes the store
func (s *RedisTaskStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// BreakerState returns the state of the breaker for monitoring.
func (s *RedisTaskStore) BreakerState() gobreaker.State {
	return s.breaker.State()
}

// taskKey returns the Redis key for a task
func (s *RedisTaskStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

// workflowKey returns the Redis key for a workflow's task index
func (s *RedisTaskStore) workflowKey(workflowID string) string {
	return s.keyPrefix + "workflow:" + workflowID
}

// agentKey returns the Redis key for an agent's task index
func (s *RedisTaskStore) agentKey(agentID string) string {
	return s.keyPrefix + "agent:" + agentID
}

// Add persists a task and indexes it.
func (s *RedisTaskStore) Add(ctx context.Context, task *types.AgentTask) error {
	if err := prepare(task, s.now()); err != nil {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	score := float64(task.CreatedAt.UnixNano())
	return s.exec(func() error {
		pipe := s.client.TxPipeline()
		pipe.Set(ctx, s.taskKey(task.ID), data, s.ttl)
		if task.WorkflowID != "" {
			pipe.ZAdd(ctx, s.workflowKey(task.WorkflowID), redis.Z{Score: score, Member: task.ID})
		}
		if task.AgentID != "" {
			pipe.ZAdd(ctx, s.agentKey(task.AgentID), redis.Z{Score: score, Member: task.ID})
		}
		_, err := pipe.Exec(ctx)
		return err
	})
}

// Get retrieves a task by ID
func (s *RedisTaskStore) Get(ctx context.Context, taskID string) (*types.AgentTask, error) {
	var task *types.AgentTask
	err := s.exec(func() error {
		t, err := s.get(ctx, taskID)
		task = t
		return err
	})
	return task, err
}

func (s *RedisTaskStore) get(ctx context.Context, taskID string) (*types.AgentTask, error) {
	data, err := s.client.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var task types.AgentTask
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}
	return &task, nil
}

// ListByWorkflow returns the tasks of a workflow oldest first.
func (s *RedisTaskStore) ListByWorkflow(ctx context.Context, workflowID string) ([]*types.AgentTask, error) {
	return s.listIndex(ctx, s.workflowKey(workflowID))
}

// ListByAgent returns the tasks given to an agent oldest first.
func (s *RedisTaskStore) ListByAgent(ctx context.Context, agentID string) ([]*types.AgentTask, error) {
	return s.listIndex(ctx, s.agentKey(agentID))
}

// listIndex loads the tasks referenced by a sorted set. Expired records are
// pruned from the index.
func (s *RedisTaskStore) listIndex(ctx context.Context, key string) ([]*types.AgentTask, error) {
	var result []*types.AgentTask
	err := s.exec(func() error {
		ids, err := s.client.ZRange(ctx, key, 0, -1).Result()
		if err != nil {
			return err
		}

		result = make([]*types.AgentTask, 0, len(ids))
		var stale []any
		for _, id := range ids {
			t, err := s.get(ctx, id)
			if errors.Is(err, ErrNotFound) {
				stale = append(stale, id)
				continue
			}
			if err != nil {
				return err
			}
			result = append(result, t)
		}
		if len(stale) > 0 {
			if err := s.client.ZRem(ctx, key, stale...).Err(); err != nil {
				s.logger.Debug("failed to prune task index", zap.String("key", key), zap.Error(err))
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortByCreated(result)
	return result, nil
}

// UpdateStatus rewrites the status of a stored task, keeping its TTL.
func (s *RedisTaskStore) UpdateStatus(ctx context.Context, taskID string, status types.AgentTaskStatus) error {
	return s.exec(func() error {
		t, err := s.get(ctx, taskID)
		if err != nil {
			return err
		}
		t.Status = status
		data, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}
		return s.client.SetArgs(ctx, s.taskKey(taskID), data, redis.SetArgs{KeepTTL: true}).Err()
	})
}

// exec runs fn through the breaker and maps an open circuit to a retryable
// STORE_UNAVAILABLE error.
func (s *RedisTaskStore) exec(fn func() error) error {
	_, err := s.breaker.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return types.NewError(types.ErrStoreUnavailable, "redis task store circuit open").
			WithCause(err).WithRetryable(true)
	}
	return err
}
