package persistence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/BaSui01/agentdispatch/internal/metrics"
	"github.com/BaSui01/agentdispatch/types"
)

func newMiniredisStore(t *testing.T) (*RedisTaskStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisTaskStoreWithClient(client, DefaultStoreConfig(), zap.NewNop()), mr
}

func newSQLiteStore(t *testing.T) *SQLTaskStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// one connection keeps the in-memory database alive and shared
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	store, err := NewSQLTaskStore(db, DefaultStoreConfig(), zap.NewNop())
	require.NoError(t, err)
	return store
}

func sampleTask(id, workflowID, agentID string, created time.Time) *types.AgentTask {
	return &types.AgentTask{
		ID:         id,
		WorkflowID: workflowID,
		StepID:     "step-" + id,
		AgentID:    agentID,
		Title:      "task " + id,
		Requirements: types.TaskRequirements{
			Description:          "write code",
			Domain:               "code",
			RequiredCapabilities: []string{"code-generation"},
			Priority:             types.PriorityHigh,
		},
		Input: types.ValueMap{
			"lang":  types.String("go"),
			"lines": types.Int(120),
		},
		CreatedAt: created,
	}
}

// TestTaskStores runs the same contract against every backend.
func TestTaskStores(t *testing.T) {
	backends := map[string]func(t *testing.T) TaskStore{
		"memory": func(t *testing.T) TaskStore { return NewMemoryTaskStore() },
		"redis": func(t *testing.T) TaskStore {
			s, _ := newMiniredisStore(t)
			return s
		},
		"sql": func(t *testing.T) TaskStore { return newSQLiteStore(t) },
	}

	for name, newStore := range backends {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			store := newStore(t)
			defer store.Close()

			require.NoError(t, store.Ping(ctx))

			base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
			require.NoError(t, store.Add(ctx, sampleTask("t2", "wf-1", "agent-a", base.Add(time.Second))))
			require.NoError(t, store.Add(ctx, sampleTask("t1", "wf-1", "agent-b", base)))
			require.NoError(t, store.Add(ctx, sampleTask("t3", "wf-2", "agent-a", base.Add(2*time.Second))))

			t.Run("Get", func(t *testing.T) {
				got, err := store.Get(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "wf-1", got.WorkflowID)
				assert.Equal(t, "agent-b", got.AgentID)
				assert.Equal(t, types.AgentTaskAssigned, got.Status)
				assert.Equal(t, types.PriorityHigh, got.Requirements.Priority)
				assert.Equal(t, []string{"code-generation"}, got.Requirements.RequiredCapabilities)
				assert.True(t, base.Equal(got.CreatedAt))

				lang, ok := got.Input.GetString("lang")
				require.True(t, ok)
				assert.Equal(t, "go", lang)
				lines, ok := got.Input["lines"].AsInt()
				require.True(t, ok)
				assert.Equal(t, 120, lines)
			})

			t.Run("GetMissing", func(t *testing.T) {
				_, err := store.Get(ctx, "nope")
				assert.ErrorIs(t, err, ErrNotFound)
			})

			t.Run("ListByWorkflow", func(t *testing.T) {
				tasks, err := store.ListByWorkflow(ctx, "wf-1")
				require.NoError(t, err)
				require.Len(t, tasks, 2)
				assert.Equal(t, "t1", tasks[0].ID)
				assert.Equal(t, "t2", tasks[1].ID)

				none, err := store.ListByWorkflow(ctx, "wf-missing")
				require.NoError(t, err)
				assert.Empty(t, none)
			})

			t.Run("ListByAgent", func(t *testing.T) {
				tasks, err := store.ListByAgent(ctx, "agent-a")
				require.NoError(t, err)
				require.Len(t, tasks, 2)
				assert.Equal(t, "t2", tasks[0].ID)
				assert.Equal(t, "t3", tasks[1].ID)
			})

			t.Run("UpdateStatus", func(t *testing.T) {
				require.NoError(t, store.UpdateStatus(ctx, "t3", types.AgentTaskCompleted))
				got, err := store.Get(ctx, "t3")
				require.NoError(t, err)
				assert.Equal(t, types.AgentTaskCompleted, got.Status)

				assert.ErrorIs(t, store.UpdateStatus(ctx, "nope", types.AgentTaskFailed), ErrNotFound)
			})

			t.Run("AddReplaces", func(t *testing.T) {
				task := sampleTask("t1", "wf-1", "agent-b", base)
				task.Title = "renamed"
				require.NoError(t, store.Add(ctx, task))

				got, err := store.Get(ctx, "t1")
				require.NoError(t, err)
				assert.Equal(t, "renamed", got.Title)

				tasks, err := store.ListByWorkflow(ctx, "wf-1")
				require.NoError(t, err)
				assert.Len(t, tasks, 2)
			})

			t.Run("InvalidInput", func(t *testing.T) {
				assert.ErrorIs(t, store.Add(ctx, nil), ErrInvalidInput)
				err := store.Add(ctx, &types.AgentTask{WorkflowID: "wf"})
				assert.ErrorIs(t, err, ErrInvalidInput)
				assert.True(t, types.IsErrorCode(err, types.ErrInvalidRequest))
			})
		})
	}
}

func TestMemoryTaskStore_Closed(t *testing.T) {
	store := NewMemoryTaskStore()
	require.NoError(t, store.Close())

	ctx := context.Background()
	assert.ErrorIs(t, store.Ping(ctx), ErrStoreClosed)
	assert.ErrorIs(t, store.Add(ctx, sampleTask("x", "wf", "a", time.Now())), ErrStoreClosed)
}

func TestMemoryTaskStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()

	task := sampleTask("t", "wf", "a", time.Now())
	require.NoError(t, store.Add(ctx, task))
	task.Input["lang"] = types.String("rust")

	got, err := store.Get(ctx, "t")
	require.NoError(t, err)
	lang, _ := got.Input.GetString("lang")
	assert.Equal(t, "go", lang)
}

func TestMemoryTaskStore_ReplaceReindexes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	now := time.Now()

	require.NoError(t, store.Add(ctx, sampleTask("t", "wf-1", "coder-1", now)))
	require.NoError(t, store.Add(ctx, sampleTask("t", "wf-2", "coder-2", now)))

	old, err := store.ListByWorkflow(ctx, "wf-1")
	require.NoError(t, err)
	assert.Empty(t, old)
	oldAgent, err := store.ListByAgent(ctx, "coder-1")
	require.NoError(t, err)
	assert.Empty(t, oldAgent)

	moved, err := store.ListByAgent(ctx, "coder-2")
	require.NoError(t, err)
	require.Len(t, moved, 1)
	assert.Equal(t, "wf-2", moved[0].WorkflowID)
}

func TestMemoryTaskStore_FillsDefaults(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTaskStore()
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	require.NoError(t, store.Add(ctx, &types.AgentTask{ID: "t"}))
	got, err := store.Get(ctx, "t")
	require.NoError(t, err)
	assert.Equal(t, fixed, got.CreatedAt)
	assert.Equal(t, types.AgentTaskAssigned, got.Status)
}

func TestRedisTaskStore_TTL(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	cfg := DefaultStoreConfig()
	cfg.Redis.TTL = time.Minute
	store := NewRedisTaskStoreWithClient(client, cfg, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, store.Add(ctx, sampleTask("t1", "wf", "a", time.Now())))
	require.NoError(t, store.UpdateStatus(ctx, "t1", types.AgentTaskCompleted))
	assert.Equal(t, time.Minute, mr.TTL("agentdispatch:task:data:t1"))

	mr.FastForward(2 * time.Minute)

	_, err := store.Get(ctx, "t1")
	assert.ErrorIs(t, err, ErrNotFound)

	tasks, err := store.ListByWorkflow(ctx, "wf")
	require.NoError(t, err)
	assert.Empty(t, tasks)

	members, err := mr.ZMembers("agentdispatch:task:workflow:wf")
	if err == nil {
		assert.Empty(t, members)
	}
}

func TestRedisTaskStore_BreakerOpensWhenRedisIsDown(t *testing.T) {
	store, mr := newMiniredisStore(t)
	ctx := context.Background()

	mr.Close()
	for i := 0; i < 5; i++ {
		err := store.Add(ctx, sampleTask("t", "wf", "a", time.Now()))
		require.Error(t, err)
	}
	assert.Equal(t, gobreaker.StateOpen, store.BreakerState())

	err := store.Add(ctx, sampleTask("t", "wf", "a", time.Now()))
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStoreUnavailable))
	assert.True(t, types.IsRetryable(err))
	assert.True(t, errors.Is(err, gobreaker.ErrOpenState))
}

func TestRedisTaskStore_MissingRecordsDoNotTrip(t *testing.T) {
	store, _ := newMiniredisStore(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, err := store.Get(ctx, "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, store.BreakerState())
}

func TestNewRedisTaskStore_Unreachable(t *testing.T) {
	cfg := DefaultStoreConfig()
	cfg.Type = StoreTypeRedis
	cfg.Redis.Addr = "127.0.0.1:1"

	_, err := NewRedisTaskStore(cfg, nil)
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrStoreUnavailable))
}

func TestNewTaskStore(t *testing.T) {
	t.Run("memory by default", func(t *testing.T) {
		store, err := NewTaskStore(StoreConfig{}, Dependencies{})
		require.NoError(t, err)
		assert.IsType(t, &MemoryTaskStore{}, store)
	})

	t.Run("redis", func(t *testing.T) {
		mr := miniredis.RunT(t)
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeRedis
		cfg.Redis.Addr = mr.Addr()

		store, err := NewTaskStore(cfg, Dependencies{})
		require.NoError(t, err)
		defer store.Close()
		assert.IsType(t, &RedisTaskStore{}, store)
	})

	t.Run("sql requires db", func(t *testing.T) {
		cfg := DefaultStoreConfig()
		cfg.Type = StoreTypeSQL
		_, err := NewTaskStore(cfg, Dependencies{})
		assert.Error(t, err)
	})

	t.Run("unknown", func(t *testing.T) {
		_, err := NewTaskStore(StoreConfig{Type: "etcd"}, Dependencies{})
		assert.Error(t, err)
	})

	t.Run("instrumented", func(t *testing.T) {
		reg := prometheus.NewRegistry()
		collector := metrics.NewCollectorWithRegisterer("test", reg, zap.NewNop())

		store, err := NewTaskStore(DefaultStoreConfig(), Dependencies{Metrics: collector})
		require.NoError(t, err)

		ctx := context.Background()
		require.NoError(t, store.Add(ctx, sampleTask("t", "wf", "a", time.Now())))
		_, err = store.Get(ctx, "missing")
		require.Error(t, err)

		n, err := testutil.GatherAndCount(reg, "test_task_store_operations_total")
		require.NoError(t, err)
		assert.Equal(t, 2, n)
	})
}
