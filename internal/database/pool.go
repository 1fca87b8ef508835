package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/agentdispatch/config"
	"github.com/BaSui01/agentdispatch/internal/metrics"
)

// =============================================================================
// 🗄️ 任务库连接池
// =============================================================================

// ErrPoolClosed is returned by Ping after Close.
var ErrPoolClosed = errors.New("pool is closed")

const healthCheckTimeout = 5 * time.Second

// PoolConfig 连接池参数，字段与 config.DatabaseConfig 中的同名项对应
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 0 表示不做后台探活，仅在 /readyz 时 Ping
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认数据库配置对应的连接池参数
func DefaultPoolConfig() PoolConfig {
	return PoolConfigFrom(config.DefaultDatabaseConfig())
}

// PoolConfigFrom 从数据库配置提取连接池参数
func PoolConfigFrom(cfg config.DatabaseConfig) PoolConfig {
	return PoolConfig{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxOpenConns:        cfg.MaxOpenConns,
		ConnMaxLifetime:     cfg.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.ConnMaxIdleTime,
		HealthCheckInterval: cfg.HealthCheckInterval,
	}
}

func (c PoolConfig) apply(sqlDB *sql.DB) {
	sqlDB.SetMaxIdleConns(c.MaxIdleConns)
	sqlDB.SetMaxOpenConns(c.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(c.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// PoolManager wraps the gorm handle used by the SQL task store. It tunes the
// underlying sql.DB, optionally probes it in the background, and publishes
// connection gauges after every successful probe.
type PoolManager struct {
	db      *gorm.DB
	sqlDB   *sql.DB
	config  PoolConfig
	dialect string
	logger  *zap.Logger

	mu      sync.RWMutex
	metrics *metrics.Collector
	closed  bool

	cancel    context.CancelFunc
	loopDone  chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// NewPoolManager 应用连接池参数，并在 HealthCheckInterval > 0 时启动后台探活
func NewPoolManager(db *gorm.DB, cfg PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, fmt.Errorf("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("unwrap sql.DB: %w", err)
	}
	cfg.apply(sqlDB)

	ctx, cancel := context.WithCancel(context.Background())
	pm := &PoolManager{
		db:       db,
		sqlDB:    sqlDB,
		config:   cfg,
		dialect:  db.Dialector.Name(),
		logger:   logger.With(zap.String("component", "db_pool")),
		cancel:   cancel,
		loopDone: make(chan struct{}),
	}
	go pm.probeLoop(ctx)

	pm.logger.Info("task database pool ready",
		zap.String("dialect", pm.dialect),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
		zap.Int("max_idle_conns", cfg.MaxIdleConns),
		zap.Duration("health_check_interval", cfg.HealthCheckInterval),
	)
	return pm, nil
}

// SetMetrics 设置连接数指标的收集器
func (pm *PoolManager) SetMetrics(collector *metrics.Collector) {
	pm.mu.Lock()
	pm.metrics = collector
	pm.mu.Unlock()
}

// DB 返回 gorm 句柄
func (pm *PoolManager) DB() *gorm.DB { return pm.db }

// Name 返回方言名，作为指标的 db 标签
func (pm *PoolManager) Name() string { return pm.dialect }

// Stats 返回 database/sql 的原始统计
func (pm *PoolManager) Stats() sql.DBStats { return pm.sqlDB.Stats() }

// Ping checks connectivity. It fails with ErrPoolClosed once Close has run.
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	closed := pm.closed
	pm.mu.RUnlock()
	if closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// CheckHealth pings with a bounded timeout and, on success, publishes the
// open and idle connection counts.
func (pm *PoolManager) CheckHealth(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if err := pm.Ping(ctx); err != nil {
		pm.logger.Warn("task database unreachable", zap.Error(err))
		return err
	}

	stats := pm.Stats()
	pm.mu.RLock()
	collector := pm.metrics
	pm.mu.RUnlock()
	collector.RecordDBConnections(pm.dialect, stats.OpenConnections, stats.Idle)

	pm.logger.Debug("task database healthy",
		zap.Int("open", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
		zap.Int("idle", stats.Idle),
		zap.Int64("wait_count", stats.WaitCount),
	)
	return nil
}

func (pm *PoolManager) probeLoop(ctx context.Context) {
	defer close(pm.loopDone)
	if pm.config.HealthCheckInterval <= 0 {
		return
	}

	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = pm.CheckHealth(ctx)
		}
	}
}

// Close 停止后台探活并关闭连接；重复调用返回首次的结果
func (pm *PoolManager) Close() error {
	pm.closeOnce.Do(func() {
		pm.mu.Lock()
		pm.closed = true
		pm.mu.Unlock()

		pm.cancel()
		<-pm.loopDone
		pm.closeErr = pm.sqlDB.Close()
		pm.logger.Info("task database pool closed")
	})
	return pm.closeErr
}
