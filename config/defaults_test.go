package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- DefaultConfig aggregate ---

func TestDefaultConfig_ContainsAllSubConfigs(t *testing.T) {
	cfg := DefaultConfig()
	require.NotNil(t, cfg)

	assert.NotEqual(t, ServerConfig{}, cfg.Server)
	assert.NotEqual(t, TelemetryConfig{}, cfg.Telemetry)
	assert.NotEqual(t, RedisConfig{}, cfg.Redis)
	assert.NotEqual(t, DatabaseConfig{}, cfg.Database)
	assert.NotEqual(t, TaskStoreConfig{}, cfg.TaskStore)
	assert.NotEqual(t, MatcherConfig{}, cfg.Matcher)
	assert.NotEqual(t, BalancerConfig{}, cfg.Balancer)
	assert.NotEqual(t, WorkflowConfig{}, cfg.Workflow)
	assert.NotEmpty(t, cfg.Log.Level)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

// --- Individual Default*Config functions ---

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	assert.Equal(t, 9091, cfg.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 30*time.Second, cfg.WriteTimeout)
	assert.Equal(t, 15*time.Second, cfg.ShutdownTimeout)
}

func TestDefaultTaskStoreConfig(t *testing.T) {
	cfg := DefaultTaskStoreConfig()
	assert.Equal(t, "memory", cfg.Backend)
	assert.Equal(t, "agent_tasks", cfg.TableName)
	assert.True(t, cfg.AutoMigrate)
	assert.Equal(t, uint32(5), cfg.BreakerMaxFailures)
}

func TestDefaultBalancerConfig(t *testing.T) {
	cfg := DefaultBalancerConfig()
	assert.Equal(t, "hybrid", cfg.Strategy)
	assert.Equal(t, 5*time.Minute, cfg.BreakerCooldown)
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 2, cfg.MaxBackups)
	assert.InDelta(t, 0.8, cfg.OverloadThreshold, 0.001)
	assert.InDelta(t, 0.3, cfg.UnderutilizedThreshold, 0.001)
}

func TestDefaultWorkflowConfig(t *testing.T) {
	cfg := DefaultWorkflowConfig()
	assert.Equal(t, 3, cfg.DefaultMaxConcurrentSteps)
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, "@every 1m", cfg.HealthCheckSchedule)
	assert.Equal(t, "templates", cfg.TemplateDir)
	assert.Zero(t, cfg.SimulatedDelay)
}

func TestDefaultTelemetryConfig(t *testing.T) {
	cfg := DefaultTelemetryConfig()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, "agentdispatch", cfg.ServiceName)
	assert.InDelta(t, 0.1, cfg.SampleRate, 0.001)
}
