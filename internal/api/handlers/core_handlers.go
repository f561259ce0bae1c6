package handlers

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/rail-service/cctp_transfer/pkg/logger"
	"github.com/rail-service/cctp_transfer/pkg/metrics"
)

// CheckFunc probes one dependency
type CheckFunc func(ctx context.Context) error

// CoreHandlers contains health, readiness and metrics handlers
type CoreHandlers struct {
	checks  map[string]CheckFunc
	metrics *metrics.Registry
	version string
	logger  *logger.Logger
}

// NewCoreHandlers creates core handlers. checks are run by Ready; a nil entry is skipped.
func NewCoreHandlers(checks map[string]CheckFunc, reg *metrics.Registry, version string, logger *logger.Logger) *CoreHandlers {
	return &CoreHandlers{
		checks:  checks,
		metrics: reg,
		version: version,
		logger:  logger,
	}
}

var startTime = time.Now()

// HealthCheck represents a health check result
type HealthCheck struct {
	Service   string        `json:"service"`
	Status    string        `json:"status"`
	Latency   time.Duration `json:"latency"`
	Error     string        `json:"error,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// HealthResponse represents the overall health response
type HealthResponse struct {
	Status    string                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Uptime    time.Duration          `json:"uptime"`
	Checks    map[string]HealthCheck `json:"checks,omitempty"`
}

// Health reports liveness and never touches dependencies
// @Summary Liveness check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (h *CoreHandlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(startTime),
	})
}

// Ready checks if the application is ready to serve traffic
// @Summary Readiness check
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (h *CoreHandlers) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name, check := range h.checks {
		if check != nil {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	checks := make(map[string]HealthCheck, len(names))
	ready := true
	for _, name := range names {
		check := h.runCheck(ctx, name, h.checks[name])
		checks[name] = check
		if check.Status != "healthy" {
			ready = false
		}
	}

	response := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   h.version,
		Uptime:    time.Since(startTime),
		Checks:    checks,
	}

	statusCode := http.StatusOK
	if !ready {
		response.Status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		h.logger.Warn("Readiness check failed", "checks", checks)
	}

	c.JSON(statusCode, response)
}

func (h *CoreHandlers) runCheck(ctx context.Context, name string, fn CheckFunc) HealthCheck {
	start := time.Now()
	check := HealthCheck{
		Service:   name,
		Timestamp: start,
	}

	err := fn(ctx)
	check.Latency = time.Since(start)

	if err != nil {
		check.Status = "unhealthy"
		check.Error = err.Error()
	} else {
		check.Status = "healthy"
	}

	return check
}

// Metrics exposes Prometheus metrics
func (h *CoreHandlers) Metrics() gin.HandlerFunc {
	handler := h.metrics.Handler()
	return func(c *gin.Context) {
		handler.ServeHTTP(c.Writer, c.Request)
	}
}
