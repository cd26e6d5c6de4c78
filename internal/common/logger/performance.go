package logger

import (
	"time"

	"go.uber.org/zap"
)

// PerformanceLogger provides performance tracking and logging
type PerformanceLogger struct {
	logger *zap.Logger
	// SlowThreshold is the duration above which an operation logs at warn level
	SlowThreshold time.Duration
}

// NewPerformanceLogger creates a new performance logger
func NewPerformanceLogger(logger *zap.Logger) *PerformanceLogger {
	return &PerformanceLogger{
		logger:        logger.With(zap.String("log_type", "performance")),
		SlowThreshold: 5 * time.Second,
	}
}

// Timer represents a performance timer
type Timer struct {
	logger    *zap.Logger
	operation string
	slow      time.Duration
	startTime time.Time
	fields    []zap.Field
}

// StartTimer starts a new performance timer
func (p *PerformanceLogger) StartTimer(operation string, fields ...zap.Field) *Timer {
	return &Timer{
		logger:    p.logger,
		operation: operation,
		slow:      p.SlowThreshold,
		startTime: time.Now(),
		fields:    fields,
	}
}

// Stop stops the timer and logs the duration
func (t *Timer) Stop() time.Duration {
	duration := time.Since(t.startTime)
	fields := t.withDuration(duration)

	switch {
	case duration > t.slow:
		t.logger.Warn("Slow operation", fields...)
	case duration > time.Second:
		t.logger.Info("Operation completed", fields...)
	default:
		t.logger.Debug("Operation completed", fields...)
	}

	return duration
}

// StopWithError stops the timer and logs the duration with error
func (t *Timer) StopWithError(err error) time.Duration {
	duration := time.Since(t.startTime)
	t.logger.Error("Operation failed", append(t.withDuration(duration), zap.Error(err))...)
	return duration
}

func (t *Timer) withDuration(d time.Duration) []zap.Field {
	fields := make([]zap.Field, 0, len(t.fields)+3)
	fields = append(fields, t.fields...)
	return append(fields,
		zap.String("operation", t.operation),
		zap.Duration("duration", d),
		zap.Int64("duration_ms", d.Milliseconds()),
	)
}
