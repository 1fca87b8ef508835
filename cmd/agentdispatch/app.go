package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/agent/balancer"
	"github.com/BaSui01/agentdispatch/agent/discovery"
	"github.com/BaSui01/agentdispatch/agent/persistence"
	"github.com/BaSui01/agentdispatch/config"
	"github.com/BaSui01/agentdispatch/internal/database"
	"github.com/BaSui01/agentdispatch/internal/metrics"
	"github.com/BaSui01/agentdispatch/internal/pool"
	"github.com/BaSui01/agentdispatch/internal/scheduler"
	"github.com/BaSui01/agentdispatch/internal/server"
	"github.com/BaSui01/agentdispatch/internal/telemetry"
	"github.com/BaSui01/agentdispatch/workflow"
)

// =============================================================================
// 🖥️ App 结构
// =============================================================================

// App 是调度进程的组装结果：注册表、匹配器、负载均衡器、工作流引擎、
// 任务存储，以及驱动它们的调度器、文件监听器和运维 HTTP 端口。
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	registry *prometheus.Registry
	metrics  *metrics.Collector
	otel     *telemetry.Providers

	agents   *discovery.MemoryRegistry
	matcher  *discovery.CapabilityMatcher
	balancer *balancer.LoadBalancer
	engine   *workflow.Engine
	store    persistence.TaskStore
	db       *database.PoolManager

	scheduler *scheduler.Scheduler
	watcher   *config.FileWatcher
	ops       *server.OpsHandler
	http      *server.Manager
}

// NewApp 按配置组装所有组件，不启动任何后台任务
func NewApp(cfg *config.Config, logger *zap.Logger) (app *App, err error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	a := &App{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.release(context.Background())
		}
	}()

	// 1. 指标与遥测
	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	a.metrics = metrics.NewCollectorWithRegisterer("agentdispatch", a.registry, logger)

	a.otel, err = telemetry.Init(cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
		a.otel = nil
		err = nil
	}

	// 2. Agent 注册表
	a.agents = discovery.NewMemoryRegistry(logger)
	if cfg.Workflow.RosterFile != "" {
		if _, rerr := a.agents.LoadRoster(cfg.Workflow.RosterFile); rerr != nil {
			if !errors.Is(rerr, os.ErrNotExist) {
				return nil, rerr
			}
			logger.Warn("agent roster not found, starting with an empty registry",
				zap.String("path", cfg.Workflow.RosterFile))
		}
	}

	// 3. 任务存储
	if persistence.StoreType(cfg.TaskStore.Backend) == persistence.StoreTypeSQL {
		a.db, err = database.Open(cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		a.db.SetMetrics(a.metrics)
	}
	deps := persistence.Dependencies{Metrics: a.metrics, Logger: logger}
	if a.db != nil {
		deps.DB = a.db.DB()
	}
	a.store, err = persistence.NewTaskStore(storeConfigFrom(cfg), deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create task store: %w", err)
	}

	// 4. 匹配与负载均衡
	a.matcher = discovery.NewCapabilityMatcher(a.agents, &discovery.MatcherConfig{
		MinScoreThreshold: cfg.Matcher.MinScoreThreshold,
	}, logger)
	a.matcher.SetMetrics(a.metrics)

	a.balancer = balancer.NewLoadBalancer(a.matcher, a.agents, balancerConfigFrom(cfg.Balancer), logger)
	a.balancer.SetMetrics(a.metrics)

	// 5. 工作流引擎
	a.engine = workflow.NewEngine(a.matcher, a.store, engineConfigFrom(cfg.Workflow), logger)
	a.engine.SetOutcomeReporter(a.balancer)
	a.engine.SetMetrics(a.metrics)
	if cfg.Workflow.SimulatedDelay > 0 {
		a.engine.SetExecutor(workflow.NewSimulatedExecutor(cfg.Workflow.SimulatedDelay))
	}
	if _, err = a.engine.LoadTemplatesFromDir(cfg.Workflow.TemplateDir); err != nil {
		return nil, err
	}

	// 6. 定时任务
	a.scheduler = scheduler.New(logger)
	if err = a.registerJobs(); err != nil {
		return nil, err
	}

	// 7. 名册与模板热加载
	if cfg.Workflow.WatchInterval > 0 {
		a.watcher, err = config.NewFileWatcher(
			[]string{cfg.Workflow.RosterFile, cfg.Workflow.TemplateDir},
			config.WithPollInterval(cfg.Workflow.WatchInterval),
			config.WithWatcherLogger(logger),
		)
		if err != nil {
			return nil, err
		}
		a.watcher.OnChange(a.reload)
	}

	// 8. 运维端口
	a.ops = server.NewOpsHandler(a.registry, Version, logger)
	a.ops.SetMetrics(a.metrics)
	a.ops.RegisterCheck("task_store", a.store.Ping)
	if a.db != nil {
		a.ops.RegisterCheck("database", a.db.Ping)
	}

	httpLogger := logger.With(zap.String("component", "ops_http"))
	handler := Chain(a.ops, RequestID(), RequestLogger(httpLogger), Recovery(httpLogger))
	a.http = server.NewManager(handler, server.Config{
		Addr:            server.PortAddr(cfg.Server.HTTPPort),
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		IdleTimeout:     server.DefaultConfig().IdleTimeout,
		MaxHeaderBytes:  server.DefaultConfig().MaxHeaderBytes,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger)

	return a, nil
}

// =============================================================================
// 🚀 启动与关闭
// =============================================================================

// Start 启动运维端口、文件监听与定时任务
func (a *App) Start(ctx context.Context) error {
	if err := a.http.Start(); err != nil {
		return fmt.Errorf("failed to start ops server: %w", err)
	}
	if a.watcher != nil {
		if err := a.watcher.Start(ctx); err != nil {
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
	}
	a.scheduler.Start(ctx)

	a.logger.Info("agent dispatcher started",
		zap.String("ops_addr", a.http.Addr()),
		zap.String("task_store", a.cfg.TaskStore.Backend),
		zap.Int("agents", a.agents.Len()),
		zap.Int("templates", len(a.engine.GetAvailableTemplates())),
	)
	return nil
}

// WaitForShutdown 阻塞直到收到 SIGINT/SIGTERM 或运维端口异常退出，然后关闭
func (a *App) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		a.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-a.http.Errors():
		if err != nil {
			a.logger.Error("ops server exited unexpectedly", zap.Error(err))
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.Shutdown(ctx); err != nil {
		a.logger.Error("shutdown error", zap.Error(err))
	}
}

// Shutdown 按依赖逆序关闭：先停止产生工作的组件，再关闭存储
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down agent dispatcher")
	return a.release(ctx)
}

func (a *App) release(ctx context.Context) error {
	var errs []error
	if a.scheduler != nil {
		errs = append(errs, a.scheduler.Stop(ctx))
	}
	if a.watcher != nil {
		errs = append(errs, a.watcher.Stop())
	}
	if a.http != nil {
		errs = append(errs, a.http.Shutdown(ctx))
	}
	if a.engine != nil {
		errs = append(errs, a.engine.Close(ctx))
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.otel != nil {
		errs = append(errs, a.otel.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Addr 返回运维端口的实际监听地址
func (a *App) Addr() string {
	return a.http.Addr()
}

// =============================================================================
// 🔄 热加载
// =============================================================================

// reload 根据变更的路径重新加载名册或模板
func (a *App) reload(evt config.FileEvent) {
	roster, _ := filepath.Abs(a.cfg.Workflow.RosterFile)
	if a.cfg.Workflow.RosterFile != "" && evt.Path == roster {
		if evt.Op == config.FileOpRemove {
			a.logger.Warn("agent roster removed, keeping registered agents", zap.String("path", evt.Path))
			return
		}
		if _, err := a.agents.LoadRoster(a.cfg.Workflow.RosterFile); err != nil {
			a.logger.Error("failed to reload agent roster", zap.Error(err))
		}
		return
	}

	n, err := a.engine.LoadTemplatesFromDir(a.cfg.Workflow.TemplateDir)
	if err != nil {
		a.logger.Error("failed to reload workflow templates", zap.Error(err))
		return
	}
	a.logger.Info("workflow templates reloaded", zap.Int("templates", n))
}

// =============================================================================
// 🔧 配置映射
// =============================================================================

func storeConfigFrom(cfg *config.Config) persistence.StoreConfig {
	return persistence.StoreConfig{
		Type: persistence.StoreType(cfg.TaskStore.Backend),
		Redis: persistence.RedisStoreConfig{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			PoolSize:  cfg.Redis.PoolSize,
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		},
		SQL: persistence.SQLStoreConfig{
			TableName:   cfg.TaskStore.TableName,
			AutoMigrate: cfg.TaskStore.AutoMigrate,
		},
		Breaker: persistence.BreakerConfig{
			MaxFailures: cfg.TaskStore.BreakerMaxFailures,
			Timeout:     cfg.TaskStore.BreakerTimeout,
			Interval:    cfg.TaskStore.BreakerInterval,
		},
	}
}

func balancerConfigFrom(cfg config.BalancerConfig) *balancer.Config {
	return &balancer.Config{
		Strategy:               balancer.Strategy(cfg.Strategy),
		BreakerCooldown:        cfg.BreakerCooldown,
		FailureThreshold:       cfg.FailureThreshold,
		MaxBackups:             cfg.MaxBackups,
		OverloadThreshold:      cfg.OverloadThreshold,
		UnderutilizedThreshold: cfg.UnderutilizedThreshold,
		MaxMovesPerAgent:       cfg.MaxMovesPerAgent,
		BatchParallelism:       cfg.BatchParallelism,
		MaxHealthAlerts:        cfg.MaxHealthAlerts,
	}
}

func engineConfigFrom(cfg config.WorkflowConfig) *workflow.Config {
	poolCfg := pool.DefaultConfig()
	if cfg.Workers > 0 {
		poolCfg.MaxWorkers = cfg.Workers
	}
	if cfg.QueueSize > 0 {
		poolCfg.QueueSize = cfg.QueueSize
	}
	return &workflow.Config{
		DefaultMaxConcurrentSteps: cfg.DefaultMaxConcurrentSteps,
		Pool:                      poolCfg,
	}
}
