// Package metrics provides Prometheus metrics collection for the connector
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics for the local status API
var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"service", "method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connector",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "method", "path"},
	)

	httpRequestsInFlight = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "http_requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
		[]string{"service"},
	)
)

// Control channel metrics
var (
	commandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "commands_total",
			Help:      "Total number of commands dispatched from the control channel",
		},
		[]string{"command", "outcome"}, // outcome: success, failure
	)

	commandDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "connector",
			Name:      "command_duration_seconds",
			Help:      "Command handling latency in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"command"},
	)

	channelConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "channel_connected",
			Help:      "1 while the control channel is open",
		},
	)
)

// Backend metrics
var (
	backendReachable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "backend_reachable",
			Help:      "Result of the last reachability probe (1=reachable)",
		},
		[]string{"backend"}, // backend: directory, calendar
	)

	syncUsers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "sync_users",
			Help:      "User counts of the last directory synchronization pass",
		},
		[]string{"kind"}, // kind: total, returned, filtered_out
	)
)

// Middleware returns a Gin middleware that records HTTP metrics.
// serviceName is used as the "service" label on all metrics.
func Middleware(serviceName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = "unknown"
		}

		// Skip metrics endpoint itself to avoid recursion
		if path == "/metrics" {
			c.Next()
			return
		}

		httpRequestsInFlight.WithLabelValues(serviceName).Inc()
		start := time.Now()

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(serviceName, c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(serviceName, c.Request.Method, path).Observe(time.Since(start).Seconds())
		httpRequestsInFlight.WithLabelValues(serviceName).Dec()
	}
}

// Handler returns a gin.HandlerFunc that serves Prometheus metrics.
// Register this on the "/metrics" route.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordCommand records one dispatched command
func RecordCommand(command string, success bool, duration time.Duration) {
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	commandsTotal.WithLabelValues(command, outcome).Inc()
	commandDuration.WithLabelValues(command).Observe(duration.Seconds())
}

// SetChannelConnected reports whether the control channel is open
func SetChannelConnected(connected bool) {
	channelConnected.Set(boolToFloat(connected))
}

// SetBackendReachable records the outcome of a reachability probe
func SetBackendReachable(backend string, reachable bool) {
	backendReachable.WithLabelValues(backend).Set(boolToFloat(reachable))
}

// RecordSync records the counters of a synchronization pass
func RecordSync(total, returned, filteredOut int) {
	syncUsers.WithLabelValues("total").Set(float64(total))
	syncUsers.WithLabelValues("returned").Set(float64(returned))
	syncUsers.WithLabelValues("filtered_out").Set(float64(filteredOut))
}

func boolToFloat(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
