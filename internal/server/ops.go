package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/agentdispatch/internal/metrics"
)

// =============================================================================
// 🏥 运维端点
// =============================================================================

// ReadinessCheck 就绪检查
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthStatus 健康状态响应
type HealthStatus struct {
	Status    string                 `json:"status"` // "healthy", "unhealthy"
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// CheckResult 单个检查结果
type CheckResult struct {
	Status  string `json:"status"` // "pass", "fail"
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// OpsHandler serves /metrics, /healthz, /readyz and /version.
type OpsHandler struct {
	mux          *http.ServeMux
	version      string
	checkTimeout time.Duration
	metrics      *metrics.Collector
	logger       *zap.Logger

	mu     sync.RWMutex
	checks []ReadinessCheck
}

// NewOpsHandler 创建运维端点处理器。gatherer 为 nil 时使用默认注册表。
func NewOpsHandler(gatherer prometheus.Gatherer, version string, logger *zap.Logger) *OpsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	h := &OpsHandler{
		mux:          http.NewServeMux(),
		version:      version,
		checkTimeout: 5 * time.Second,
		logger:       logger.With(zap.String("component", "ops_handler")),
	}
	h.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.mux.HandleFunc("/healthz", h.handleHealthz)
	h.mux.HandleFunc("/readyz", h.handleReady)
	h.mux.HandleFunc("/version", h.handleVersion)
	return h
}

// SetMetrics records request counts and latency for every endpoint.
func (h *OpsHandler) SetMetrics(collector *metrics.Collector) {
	h.metrics = collector
}

// RegisterCheck 注册就绪检查
func (h *OpsHandler) RegisterCheck(name string, check func(ctx context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks = append(h.checks, ReadinessCheck{Name: name, Check: check})
}

// ServeHTTP implements http.Handler.
func (h *OpsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		h.mux.ServeHTTP(w, r)
		return
	}
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	h.metrics.RecordHTTPRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
}

// handleHealthz 活跃度探针，只说明进程在运行
func (h *OpsHandler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
	})
}

// handleReady 就绪探针，逐个执行已注册的检查
func (h *OpsHandler) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.checkTimeout)
	defer cancel()

	h.mu.RLock()
	checks := make([]ReadinessCheck, len(h.checks))
	copy(checks, h.checks)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(checks)),
	}

	allHealthy := true
	for _, check := range checks {
		start := time.Now()
		err := check.Check(ctx)
		latency := time.Since(start)

		result := CheckResult{Status: "pass", Latency: latency.String()}
		if err != nil {
			result.Status = "fail"
			result.Message = err.Error()
			allHealthy = false

			h.logger.Warn("readiness check failed",
				zap.String("check", check.Name),
				zap.Error(err),
				zap.Duration("latency", latency),
			)
		}
		status.Checks[check.Name] = result
	}

	if !allHealthy {
		status.Status = "unhealthy"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *OpsHandler) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

// CheckNames returns the registered readiness checks in name order.
func (h *OpsHandler) CheckNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for _, c := range h.checks {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// =============================================================================
// 🔧 辅助方法
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// ProbeURL builds the URL the health command polls.
func ProbeURL(addr, path string) string {
	if addr == "" {
		addr = "localhost:9091"
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + path
}

// PortAddr formats a listen address for a port.
func PortAddr(port int) string {
	return ":" + strconv.Itoa(port)
}
