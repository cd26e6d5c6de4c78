// Package resilience guards calls to on-premises backends with a circuit breaker.
package resilience

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// ErrCircuitOpen is returned while the breaker rejects calls
var ErrCircuitOpen = errors.New("circuit breaker open")

// CircuitState represents the state of a circuit breaker
type CircuitState string

const (
	StateClosed   CircuitState = "closed"
	StateOpen     CircuitState = "open"
	StateHalfOpen CircuitState = "half-open"
)

// gauge values for connector_circuit_breaker_state
var stateValue = map[CircuitState]float64{
	StateClosed:   0,
	StateHalfOpen: 1,
	StateOpen:     2,
}

var (
	breakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "connector",
			Name:      "circuit_breaker_state",
			Help:      "Backend circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	breakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "circuit_breaker_transitions_total",
			Help:      "Backend circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	breakerCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "connector",
			Name:      "circuit_breaker_requests_total",
			Help:      "Backend calls seen by the circuit breaker, by result",
		},
		[]string{"name", "result"},
	)
)

// CircuitBreakerConfig configures a CircuitBreaker
type CircuitBreakerConfig struct {
	Name         string
	Threshold    int           // consecutive failures before opening, default 5
	ResetTimeout time.Duration // open period before a probe is let through, default 30s
	Logger       *zap.Logger
}

// CircuitBreakerStats is the health report view of a breaker
type CircuitBreakerStats struct {
	Name        string       `json:"name"`
	State       CircuitState `json:"state"`
	Failures    int          `json:"failures"`
	Threshold   int          `json:"threshold"`
	LastFailure *time.Time   `json:"last_failure,omitempty"`
	RetryAt     *time.Time   `json:"retry_at,omitempty"`
}

// CircuitBreaker stops calling a backend after Threshold consecutive
// failures. Once ResetTimeout has passed a single probe call is admitted;
// its outcome closes or reopens the breaker.
type CircuitBreaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	logger       *zap.Logger
	now          func() time.Time

	mu          sync.Mutex
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a closed breaker
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	breakerState.WithLabelValues(cfg.Name).Set(stateValue[StateClosed])
	return &CircuitBreaker{
		name:         cfg.Name,
		threshold:    cfg.Threshold,
		resetTimeout: cfg.ResetTimeout,
		logger:       cfg.Logger.With(zap.String("breaker", cfg.Name)),
		now:          time.Now,
		state:        StateClosed,
	}
}

// Execute runs fn unless the breaker is rejecting calls, in which case an
// error wrapping ErrCircuitOpen is returned without calling fn.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		breakerCalls.WithLabelValues(cb.name, "rejected").Inc()
		return err
	}

	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		retryAt := cb.lastFailure.Add(cb.resetTimeout)
		if cb.now().Before(retryAt) {
			return fmt.Errorf("%w: %s retries at %s", ErrCircuitOpen, cb.name, retryAt.Format(time.RFC3339))
		}
		cb.setState(StateHalfOpen)
		cb.probing = true
	case StateHalfOpen:
		if cb.probing {
			return fmt.Errorf("%w: %s is probing the backend", ErrCircuitOpen, cb.name)
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	wasProbe := cb.state == StateHalfOpen
	cb.probing = false

	if err == nil {
		breakerCalls.WithLabelValues(cb.name, "success").Inc()
		if wasProbe {
			cb.logger.Info("Backend recovered, circuit closed")
		}
		cb.failures = 0
		cb.setState(StateClosed)
		return
	}

	breakerCalls.WithLabelValues(cb.name, "failure").Inc()
	cb.failures++
	cb.lastFailure = cb.now()
	cb.logger.Warn("Backend call failed",
		zap.Int("failures", cb.failures),
		zap.Int("threshold", cb.threshold),
		zap.Error(err))

	if wasProbe || cb.failures >= cb.threshold {
		if cb.state != StateOpen {
			cb.logger.Error("Circuit opened", zap.Duration("reset_timeout", cb.resetTimeout))
		}
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held
func (cb *CircuitBreaker) setState(to CircuitState) {
	if cb.state == to {
		return
	}
	breakerTransitions.WithLabelValues(cb.name, string(cb.state), string(to)).Inc()
	breakerState.WithLabelValues(cb.name).Set(stateValue[to])
	cb.state = to
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Reset closes the breaker and forgets recorded failures
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.lastFailure = time.Time{}
	cb.probing = false
	cb.setState(StateClosed)
	cb.logger.Info("Circuit reset")
}

// Stats returns a point-in-time view for health reporting
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	stats := CircuitBreakerStats{
		Name:      cb.name,
		State:     cb.state,
		Failures:  cb.failures,
		Threshold: cb.threshold,
	}
	if !cb.lastFailure.IsZero() {
		last := cb.lastFailure
		stats.LastFailure = &last
	}
	if cb.state == StateOpen {
		retry := cb.lastFailure.Add(cb.resetTimeout)
		stats.RetryAt = &retry
	}
	return stats
}
