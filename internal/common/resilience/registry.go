package resilience

import (
	"sort"
	"sync"
)

// Registry tracks the circuit breakers guarding backends for health reporting
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Register adds cb, replacing any breaker with the same name
func (r *Registry) Register(cb *CircuitBreaker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.breakers[cb.name] = cb
}

// AllStats returns the stats of every registered breaker sorted by name
func (r *Registry) AllStats() []CircuitBreakerStats {
	r.mu.RLock()
	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	r.mu.RUnlock()

	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}

// Open returns the names of breakers currently rejecting calls
func (r *Registry) Open() []string {
	var open []string
	for _, s := range r.AllStats() {
		if s.State == StateOpen {
			open = append(open, s.Name)
		}
	}
	return open
}
