package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/openidx/connector/internal/common/resilience"
	"github.com/openidx/connector/internal/status"
)

type mockChecker struct {
	name     string
	status   string
	critical bool
}

func (m *mockChecker) Name() string { return m.name }

func (m *mockChecker) Check(ctx context.Context) ComponentStatus {
	return ComponentStatus{Status: m.status, CheckedAt: time.Now().UTC().Format(time.RFC3339)}
}

func (m *mockChecker) IsCritical() bool { return m.critical }

type proberFunc func(ctx context.Context) error

func (f proberFunc) TestConnection(ctx context.Context) error { return f(ctx) }

func TestHealthService_Check(t *testing.T) {
	tests := []struct {
		name           string
		checkers       []HealthChecker
		expectedStatus string
	}{
		{
			name: "all components up",
			checkers: []HealthChecker{
				&mockChecker{name: "directory", status: "up", critical: true},
				&mockChecker{name: "calendar", status: "up"},
			},
			expectedStatus: "up",
		},
		{
			name: "one component degraded",
			checkers: []HealthChecker{
				&mockChecker{name: "directory", status: "up", critical: true},
				&mockChecker{name: "control_channel", status: "degraded"},
			},
			expectedStatus: "degraded",
		},
		{
			name: "down takes precedence over degraded",
			checkers: []HealthChecker{
				&mockChecker{name: "directory", status: "down", critical: true},
				&mockChecker{name: "control_channel", status: "degraded"},
			},
			expectedStatus: "down",
		},
		{
			name: "non-critical down",
			checkers: []HealthChecker{
				&mockChecker{name: "directory", status: "up", critical: true},
				&mockChecker{name: "calendar", status: "down"},
			},
			expectedStatus: "down",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(zaptest.NewLogger(t))
			for _, checker := range tt.checkers {
				hs.RegisterCheck(checker)
			}

			result := hs.Check(context.Background())

			assert.Equal(t, tt.expectedStatus, result.Status)
			assert.Len(t, result.Components, len(tt.checkers))
			assert.Len(t, result.Dependencies, len(tt.checkers))
			for _, checker := range tt.checkers {
				assert.Equal(t, checker.(*mockChecker).status, result.Components[checker.Name()].Status)
			}
		})
	}
}

func TestHealthService_OpenBreakerDegrades(t *testing.T) {
	hs := NewHealthService(zaptest.NewLogger(t))
	hs.RegisterCheck(&mockChecker{name: "directory", status: "up", critical: true})

	reg := resilience.NewRegistry()
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "health-test-ews", Threshold: 1, ResetTimeout: time.Hour})
	reg.Register(cb)
	hs.SetBreakers(reg)

	assert.Equal(t, "up", hs.Check(context.Background()).Status)

	_ = cb.Execute(func() error { return errors.New("boom") })

	result := hs.Check(context.Background())
	assert.Equal(t, "degraded", result.Status)
	require.Len(t, result.CircuitBreakers, 1)
	assert.Equal(t, resilience.StateOpen, result.CircuitBreakers[0].State)
}

func TestHealthService_ReadyHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		checkers []HealthChecker
		wantCode int
	}{
		{
			name:     "critical up",
			checkers: []HealthChecker{&mockChecker{name: "directory", status: "up", critical: true}},
			wantCode: http.StatusOK,
		},
		{
			name: "non-critical down stays ready",
			checkers: []HealthChecker{
				&mockChecker{name: "directory", status: "up", critical: true},
				&mockChecker{name: "calendar", status: "down"},
			},
			wantCode: http.StatusOK,
		},
		{
			name:     "critical down",
			checkers: []HealthChecker{&mockChecker{name: "directory", status: "down", critical: true}},
			wantCode: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hs := NewHealthService(zaptest.NewLogger(t))
			for _, c := range tt.checkers {
				hs.RegisterCheck(c)
			}
			router := gin.New()
			hs.RegisterStandardRoutes(router, "")

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestHealthService_Handler(t *testing.T) {
	gin.SetMode(gin.TestMode)

	hs := NewHealthService(zaptest.NewLogger(t))
	hs.SetVersion("1.2.3")
	hs.RegisterCheck(&mockChecker{name: "directory", status: "down", critical: true})
	router := gin.New()
	hs.RegisterStandardRoutes(router, "/health")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "down", resp.Status)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "alive")
}

func TestHealthService_CheckTimeout(t *testing.T) {
	hs := NewHealthService(zaptest.NewLogger(t))
	hs.SetCheckTimeout(20 * time.Millisecond)
	hs.RegisterCheck(NewDirectoryChecker(proberFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})))

	result := hs.Check(context.Background())
	assert.Equal(t, "down", result.Components["directory"].Status)
}

func TestProbeChecker(t *testing.T) {
	dir := NewDirectoryChecker(proberFunc(func(context.Context) error { return nil }))
	assert.Equal(t, "directory", dir.Name())
	assert.True(t, dir.IsCritical())
	assert.Equal(t, "up", dir.Check(context.Background()).Status)

	cal := NewCalendarChecker(proberFunc(func(context.Context) error { return errors.New("EWS returned 401 Unauthorized") }))
	assert.Equal(t, "calendar", cal.Name())
	assert.False(t, cal.IsCritical())
	cs := cal.Check(context.Background())
	assert.Equal(t, "down", cs.Status)
	assert.Equal(t, "EWS returned 401 Unauthorized", cs.Details)

	slow := &ProbeChecker{name: "slow", slowLatency: time.Millisecond, prober: proberFunc(func(context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return nil
	})}
	assert.Equal(t, "degraded", slow.Check(context.Background()).Status)
}

func TestChannelChecker(t *testing.T) {
	lastErr := "Connection failed: dial tcp: connection refused"

	tests := []struct {
		name        string
		snap        status.Snapshot
		wantStatus  string
		wantDetails string
	}{
		{"stopped", status.Snapshot{}, "up", "stopped"},
		{"connected", status.Snapshot{Running: true, ChannelConnected: true}, "up", "connected"},
		{"disconnected", status.Snapshot{Running: true}, "degraded", "disconnected"},
		{"disconnected with error", status.Snapshot{Running: true, LastError: &lastErr}, "degraded", lastErr},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChannelChecker(func() status.Snapshot { return tt.snap })
			cs := c.Check(context.Background())
			assert.Equal(t, tt.wantStatus, cs.Status)
			assert.Equal(t, tt.wantDetails, cs.Details)
			assert.False(t, c.IsCritical())
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{2*time.Minute + 3*time.Second, "2m 3s"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1h 2m 3s"},
		{49 * time.Hour, "2d 1h 0m 0s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.d))
	}
}

func TestHealthService_ReadinessInReport(t *testing.T) {
	hs := NewHealthService(zaptest.NewLogger(t))
	hs.RegisterCheck(&mockChecker{name: "control_channel", status: "degraded"})
	hs.RegisterCheck(&mockChecker{name: "directory", status: "down", critical: true})
	hs.RegisterCheck(&mockChecker{name: "calendar", status: "up"})

	result := hs.Check(context.Background())

	assert.False(t, result.Ready)
	assert.Equal(t, "critical component directory is down", result.NotReadyReason)
	require.Len(t, result.Dependencies, 3)
	assert.Equal(t, "control_channel", result.Dependencies[0].Name)
	assert.Equal(t, "directory", result.Dependencies[1].Name)
	assert.True(t, result.Dependencies[1].Critical)
	assert.Equal(t, "calendar", result.Dependencies[2].Name)
}
