// Package health reports connector liveness and the reachability of the
// directory, calendar and control channel.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/openidx/connector/internal/common/resilience"
)

// Component states, from best to worst
const (
	StatusUp       = "up"
	StatusDegraded = "degraded"
	StatusDown     = "down"
)

var severity = map[string]int{StatusUp: 0, StatusDegraded: 1, StatusDown: 2}

// ComponentStatus represents the health status of a single component
type ComponentStatus struct {
	Status    string  `json:"status"`
	LatencyMS float64 `json:"latency_ms"`
	Details   string  `json:"details,omitempty"`
	CheckedAt string  `json:"checked_at"`
}

// DependencyInfo lists a checked component in registration order
type DependencyInfo struct {
	Name     string `json:"name"`
	Status   string `json:"status"`
	Critical bool   `json:"critical"`
}

// HealthResponse is the response structure for health checks
type HealthResponse struct {
	Status          string                           `json:"status"`
	Ready           bool                             `json:"ready"`
	NotReadyReason  string                           `json:"not_ready_reason,omitempty"`
	Components      map[string]ComponentStatus       `json:"components"`
	Dependencies    []DependencyInfo                 `json:"dependencies,omitempty"`
	CircuitBreakers []resilience.CircuitBreakerStats `json:"circuit_breakers,omitempty"`
	Version         string                           `json:"version,omitempty"`
	Uptime          string                           `json:"uptime,omitempty"`
	CheckedAt       string                           `json:"checked_at"`
}

// HealthChecker is implemented by every probed component. A critical
// component that is down makes the connector not ready.
type HealthChecker interface {
	Name() string
	Check(ctx context.Context) ComponentStatus
	IsCritical() bool
}

// HealthService runs the registered checkers concurrently and folds their
// results with the circuit breaker states into one report
type HealthService struct {
	logger    *zap.Logger
	startTime time.Time

	mu       sync.RWMutex
	checkers []HealthChecker
	breakers *resilience.Registry
	version  string
	timeout  time.Duration
	last     map[string]string
}

// NewHealthService creates a new HealthService
func NewHealthService(logger *zap.Logger) *HealthService {
	return &HealthService{
		logger:    logger.With(zap.String("component", "health")),
		startTime: time.Now(),
		timeout:   5 * time.Second,
		last:      make(map[string]string),
	}
}

// SetBreakers attaches the backend circuit breakers. An open breaker
// degrades an otherwise healthy report.
func (h *HealthService) SetBreakers(r *resilience.Registry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.breakers = r
}

// SetCheckTimeout bounds each individual checker
func (h *HealthService) SetCheckTimeout(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if d > 0 {
		h.timeout = d
	}
}

// SetVersion sets the connector version reported in health responses
func (h *HealthService) SetVersion(version string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.version = version
}

// RegisterCheck adds a checker
func (h *HealthService) RegisterCheck(checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers = append(h.checkers, checker)
}

// Check runs all checkers and aggregates the results
func (h *HealthService) Check(ctx context.Context) *HealthResponse {
	h.mu.RLock()
	checkers := append([]HealthChecker(nil), h.checkers...)
	version, breakers, timeout := h.version, h.breakers, h.timeout
	h.mu.RUnlock()

	statuses := make([]ComponentStatus, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c HealthChecker) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			statuses[i] = c.Check(checkCtx)
		}(i, c)
	}
	wg.Wait()

	resp := &HealthResponse{
		Status:       StatusUp,
		Ready:        true,
		Components:   make(map[string]ComponentStatus, len(checkers)),
		Dependencies: make([]DependencyInfo, 0, len(checkers)),
		Version:      version,
		Uptime:       formatDuration(time.Since(h.startTime)),
		CheckedAt:    time.Now().UTC().Format(time.RFC3339),
	}

	for i, c := range checkers {
		cs := statuses[i]
		resp.Components[c.Name()] = cs
		resp.Dependencies = append(resp.Dependencies, DependencyInfo{Name: c.Name(), Status: cs.Status, Critical: c.IsCritical()})
		if severity[cs.Status] > severity[resp.Status] {
			resp.Status = cs.Status
		}
		if c.IsCritical() && cs.Status == StatusDown && resp.Ready {
			resp.Ready = false
			resp.NotReadyReason = fmt.Sprintf("critical component %s is down", c.Name())
		}
		h.noteTransition(c.Name(), cs)
	}

	if breakers != nil {
		resp.CircuitBreakers = breakers.AllStats()
		if open := breakers.Open(); len(open) > 0 && resp.Status == StatusUp {
			resp.Status = StatusDegraded
		}
	}

	return resp
}

// noteTransition logs a component only when its status changes
func (h *HealthService) noteTransition(name string, cs ComponentStatus) {
	h.mu.Lock()
	prev, seen := h.last[name]
	h.last[name] = cs.Status
	h.mu.Unlock()

	if seen && prev == cs.Status {
		return
	}
	fields := []zap.Field{zap.String("target", name), zap.String("status", cs.Status)}
	if cs.Details != "" {
		fields = append(fields, zap.String("details", cs.Details))
	}
	if cs.Status == StatusUp {
		h.logger.Info("Health changed", fields...)
		return
	}
	h.logger.Warn("Health changed", fields...)
}

// Handler serves the full report: 200 for up or degraded, 503 for down
func (h *HealthService) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())
		code := http.StatusOK
		if resp.Status == StatusDown {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, resp)
	}
}

// ReadyHandler serves the readiness probe: 503 while a critical component is down
func (h *HealthService) ReadyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := h.Check(c.Request.Context())
		if !resp.Ready {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "reason": resp.NotReadyReason})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	}
}

// LiveHandler serves the liveness probe
func (h *HealthService) LiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "alive",
			"uptime": formatDuration(time.Since(h.startTime)),
		})
	}
}

// RegisterStandardRoutes mounts the report, readiness and liveness endpoints
// under prefix (default /health)
func (h *HealthService) RegisterStandardRoutes(router gin.IRouter, prefix string) {
	if prefix == "" {
		prefix = "/health"
	}
	router.GET(prefix, h.Handler())
	router.GET(prefix+"/ready", h.ReadyHandler())
	router.GET(prefix+"/live", h.LiveHandler())
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}
