package resilience

import "sync"

// Registry is a named set of long-lived circuit breakers, queryable for
// diagnostics. It has its own lock, independent of any breaker's lock, so
// registration never contends with call execution.
type Registry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
}

// NewRegistry creates an empty breaker registry
func NewRegistry() *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Register stores a breaker by name, overwriting any previous breaker
// registered under that name. Callers that need one shared instance per
// name should use GetOrCreate instead.
func (r *Registry) Register(cb *CircuitBreaker) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers[cb.Name()] = cb
}

// Get returns the breaker registered under name, if any
func (r *Registry) Get(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	cb, ok := r.breakers[name]
	return cb, ok
}

// GetOrCreate returns the breaker registered under name, creating and
// registering one from config on first use. Concurrent callers receive the
// same instance.
func (r *Registry) GetOrCreate(name string, config Config) *CircuitBreaker {
	r.mutex.RLock()
	cb, ok := r.breakers[name]
	r.mutex.RUnlock()

	if ok {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, ok = r.breakers[name]; ok {
		return cb
	}

	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Unregister removes the breaker registered under name
func (r *Registry) Unregister(name string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.breakers, name)
}

// All returns a snapshot copy of the registered breakers
func (r *Registry) All() map[string]*CircuitBreaker {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	all := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		all[name] = cb
	}
	return all
}

// Report returns a point-in-time diagnostic snapshot of every registered
// breaker, keyed by name. Intended for health-check endpoints.
func (r *Registry) Report() map[string]BreakerStatus {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	report := make(map[string]BreakerStatus, len(r.breakers))
	for name, cb := range r.breakers {
		report[name] = cb.Status()
	}
	return report
}
