// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器。nil *Collector 上的所有 Record* 方法都是空操作。
type Collector struct {
	// HTTP 指标
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// 匹配指标
	matchRequestsTotal *prometheus.CounterVec
	matchDuration      *prometheus.HistogramVec
	matchCandidates    prometheus.Histogram

	// 负载均衡指标
	assignmentsTotal   *prometheus.CounterVec
	breakerTransitions *prometheus.CounterVec
	breakersOpen       prometheus.Gauge

	// 工作流指标
	workflowTransitions *prometheus.CounterVec
	stepOutcomes        *prometheus.CounterVec
	stepDuration        *prometheus.HistogramVec
	stepsRunning        prometheus.Gauge

	// 任务仓库指标
	taskStoreOps      *prometheus.CounterVec
	taskStoreDuration *prometheus.HistogramVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器，注册到 prometheus 默认 Registerer
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWithRegisterer(namespace, prometheus.DefaultRegisterer, logger)
}

// NewCollectorWithRegisterer 创建指标收集器，注册到指定 Registerer
func NewCollectorWithRegisterer(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	// HTTP 指标
	c.httpRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// 匹配指标
	c.matchRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_requests_total",
			Help:      "Total number of capability match requests",
		},
		[]string{"operation", "outcome"}, // outcome: matched, empty, error
	)

	c.matchDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_duration_seconds",
			Help:      "Capability match duration in seconds",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
		},
		[]string{"operation"},
	)

	c.matchCandidates = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "match_candidates",
			Help:      "Number of candidate agents scored per match request",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// 负载均衡指标
	c.assignmentsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assignments_total",
			Help:      "Total number of task assignments",
		},
		[]string{"strategy", "outcome"}, // outcome: assigned, fallback, none
	)

	c.breakerTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Total number of agent circuit breaker transitions",
		},
		[]string{"to_state"},
	)

	c.breakersOpen = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breakers_open",
			Help:      "Number of agent circuit breakers currently open",
		},
	)

	// 工作流指标
	c.workflowTransitions = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Total number of workflow status transitions",
		},
		[]string{"from", "to"},
	)

	c.stepOutcomes = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_step_outcomes_total",
			Help:      "Total number of finished workflow steps",
		},
		[]string{"step_type", "status"},
	)

	c.stepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_step_duration_seconds",
			Help:      "Workflow step duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 30, 120, 600},
		},
		[]string{"step_type"},
	)

	c.stepsRunning = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflow_steps_running",
			Help:      "Number of workflow steps currently running",
		},
	)

	// 任务仓库指标
	c.taskStoreOps = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_store_operations_total",
			Help:      "Total number of task repository operations",
		},
		[]string{"backend", "operation", "status"},
	)

	c.taskStoreDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_store_operation_duration_seconds",
			Help:      "Task repository operation duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend", "operation"},
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// =============================================================================
// 🎯 HTTP 指标记录
// =============================================================================

// RecordHTTPRequest 记录 HTTP 请求
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if c == nil {
		return
	}
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// =============================================================================
// 🔍 匹配指标记录
// =============================================================================

// RecordMatch 记录一次能力匹配
func (c *Collector) RecordMatch(operation, outcome string, candidates int, duration time.Duration) {
	if c == nil {
		return
	}
	c.matchRequestsTotal.WithLabelValues(operation, outcome).Inc()
	c.matchDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.matchCandidates.Observe(float64(candidates))
}

// =============================================================================
// ⚖️ 负载均衡指标记录
// =============================================================================

// RecordAssignment 记录一次任务分配
func (c *Collector) RecordAssignment(strategy, outcome string) {
	if c == nil {
		return
	}
	c.assignmentsTotal.WithLabelValues(strategy, outcome).Inc()
}

// RecordBreakerTransition 记录熔断器状态转换及当前打开数量
func (c *Collector) RecordBreakerTransition(toState string, openCount int) {
	if c == nil {
		return
	}
	c.breakerTransitions.WithLabelValues(toState).Inc()
	c.breakersOpen.Set(float64(openCount))
}

// =============================================================================
// 🔀 工作流指标记录
// =============================================================================

// RecordWorkflowTransition 记录工作流状态转换
func (c *Collector) RecordWorkflowTransition(from, to string) {
	if c == nil {
		return
	}
	c.workflowTransitions.WithLabelValues(from, to).Inc()
}

// RecordStepStarted 记录步骤开始
func (c *Collector) RecordStepStarted() {
	if c == nil {
		return
	}
	c.stepsRunning.Inc()
}

// RecordStepFinished 记录步骤结束
func (c *Collector) RecordStepFinished(stepType, status string, duration time.Duration) {
	if c == nil {
		return
	}
	c.stepsRunning.Dec()
	c.stepOutcomes.WithLabelValues(stepType, status).Inc()
	c.stepDuration.WithLabelValues(stepType).Observe(duration.Seconds())
}

// =============================================================================
// 🗄️ 存储指标记录
// =============================================================================

// RecordTaskStoreOp 记录任务仓库操作
func (c *Collector) RecordTaskStoreOp(backend, operation string, err error, duration time.Duration) {
	if c == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	c.taskStoreOps.WithLabelValues(backend, operation, status).Inc()
	c.taskStoreDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
}

// RecordDBConnections 记录数据库连接数
func (c *Collector) RecordDBConnections(database string, open, idle int) {
	if c == nil {
		return
	}
	c.dbConnectionsOpen.WithLabelValues(database).Set(float64(open))
	c.dbConnectionsIdle.WithLabelValues(database).Set(float64(idle))
}

// =============================================================================
// 🔧 辅助函数
// =============================================================================

// statusCode 将 HTTP 状态码转换为字符串
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
