package logger

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewWithLevel(t *testing.T) {
	tests := []struct {
		env, level string
		enabled    zapcore.Level
		disabled   zapcore.Level
	}{
		{"production", "", zapcore.InfoLevel, zapcore.DebugLevel},
		{"development", "", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"production", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"development", "error", zapcore.ErrorLevel, zapcore.WarnLevel},
		{"prod", "bogus", zapcore.InfoLevel, zapcore.DebugLevel},
	}
	for _, tt := range tests {
		log := NewWithLevel(tt.env, tt.level)
		assert.True(t, log.Core().Enabled(tt.enabled), "%s/%s", tt.env, tt.level)
		assert.False(t, log.Core().Enabled(tt.disabled), "%s/%s", tt.env, tt.level)
	}
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	core, logs := observer.New(zapcore.DebugLevel)

	router := gin.New()
	router.Use(GinMiddleware(zap.New(core)))
	router.GET("/api/v1/status", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.POST("/api/v1/start", func(c *gin.Context) { c.Status(http.StatusBadGateway) })

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/v1/status?x=1", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/start", nil))

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Request completed", entries[0].Message)
	assert.Equal(t, "/api/v1/status", entries[0].ContextMap()["path"])
	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
}

func TestWithSession(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	WithSession(zap.New(core), "abc").Info("hello")
	assert.Equal(t, "abc", logs.All()[0].ContextMap()["session_id"])
}

func TestWithTraceContext(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	base := zap.New(core)

	WithTraceContext(base, context.Background()).Info("no span")
	assert.NotContains(t, logs.All()[0].ContextMap(), "trace_id")

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	WithTraceContext(base, ctx).Info("with span")

	fields := logs.All()[1].ContextMap()
	assert.Equal(t, sc.TraceID().String(), fields["trace_id"])
	assert.Equal(t, sc.SpanID().String(), fields["span_id"])
}

func TestAuditLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	audit := NewAuditLogger(zap.New(core))
	audit.now = func() time.Time { return time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC) }

	audit.LogAuthentication("jdoe", true, "")
	audit.LogAuthentication("jdoe", false, "Invalid credentials")
	audit.LogSessionStarted("s1", "127.0.0.1:8080")
	audit.LogSessionFailed("s2", "connection refused")
	audit.LogSessionStopped("s1")

	entries := logs.All()
	require.Len(t, entries, 5)

	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, "audit", entries[0].ContextMap()["log_type"])
	assert.Equal(t, "jdoe", entries[0].ContextMap()["actor"])
	assert.NotContains(t, entries[0].ContextMap(), "reason")

	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "Invalid credentials", entries[1].ContextMap()["reason"])

	assert.Equal(t, "s1", entries[2].ContextMap()["session_id"])
	assert.Contains(t, entries[2].ContextMap(), "metadata")

	assert.Equal(t, zapcore.ErrorLevel, entries[3].Level)
	assert.Equal(t, "operator", entries[4].ContextMap()["actor"])
}

func TestPerformanceLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	perf := NewPerformanceLogger(zap.New(core))

	d := perf.StartTimer("ping", zap.String("request_id", "r1")).Stop()
	assert.GreaterOrEqual(t, d, time.Duration(0))

	perf.SlowThreshold = -1
	perf.StartTimer("sync_users").Stop()

	perf.StartTimer("get_user").StopWithError(errors.New("boom"))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "r1", entries[0].ContextMap()["request_id"])
	assert.Equal(t, "Slow operation", entries[1].Message)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, "boom", entries[2].ContextMap()["error"])
}
