// =============================================================================
// 📦 AgentDispatch 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:    DefaultServerConfig(),
		Log:       DefaultLogConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		TaskStore: DefaultTaskStoreConfig(),
		Matcher:   DefaultMatcherConfig(),
		Balancer:  DefaultBalancerConfig(),
		Workflow:  DefaultWorkflowConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "agentdispatch",
		SampleRate:   0.1,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:      "localhost:6379",
		Password:  "",
		DB:        0,
		PoolSize:  10,
		KeyPrefix: "agentdispatch:",
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:              "postgres",
		Host:                "localhost",
		Port:                5432,
		User:                "agentdispatch",
		Password:            "",
		Name:                "agentdispatch",
		SSLMode:             "disable",
		MaxOpenConns:        25,
		MaxIdleConns:        5,
		ConnMaxLifetime:     5 * time.Minute,
		ConnMaxIdleTime:     time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// DefaultTaskStoreConfig 返回默认任务存储配置
func DefaultTaskStoreConfig() TaskStoreConfig {
	return TaskStoreConfig{
		Backend:            "memory",
		TableName:          "agent_tasks",
		AutoMigrate:        true,
		BreakerMaxFailures: 5,
		BreakerTimeout:     30 * time.Second,
		BreakerInterval:    60 * time.Second,
	}
}

// DefaultMatcherConfig 返回默认匹配配置
func DefaultMatcherConfig() MatcherConfig {
	return MatcherConfig{
		MinScoreThreshold: 30,
	}
}

// DefaultBalancerConfig 返回默认负载均衡配置
func DefaultBalancerConfig() BalancerConfig {
	return BalancerConfig{
		Strategy:               "hybrid",
		BreakerCooldown:        5 * time.Minute,
		FailureThreshold:       5,
		MaxBackups:             2,
		OverloadThreshold:      0.8,
		UnderutilizedThreshold: 0.3,
		MaxMovesPerAgent:       2,
		BatchParallelism:       8,
		MaxHealthAlerts:        100,
	}
}

// DefaultWorkflowConfig 返回默认工作流配置
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		DefaultMaxConcurrentSteps: 3,
		Workers:                   16,
		QueueSize:                 256,
		PollInterval:              5 * time.Second,
		HealthCheckSchedule:       "@every 1m",
		RetainFinished:            24 * time.Hour,
		TemplateDir:               "templates",
		RosterFile:                "agents.yaml",
		WatchInterval:             2 * time.Second,
		SimulatedDelay:            0,
	}
}
