package resilience

import (
	"context"
	"errors"
	"sync"
	"time"

	apperrors "github.com/socialflow/resilience/pkg/errors"
	"github.com/socialflow/resilience/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, calls are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, calls are rejected
	StateOpen
	// StateHalfOpen - circuit is half-open, a limited number of probe calls are allowed
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrorMatcher reports whether an error belongs to a failure category.
type ErrorMatcher func(error) bool

// MatchType matches errors whose application error type equals t.
func MatchType(t apperrors.ErrorType) ErrorMatcher {
	return func(err error) bool {
		return apperrors.IsType(err, t)
	}
}

// Match matches errors equal to (or wrapping) the given target.
func Match(target error) ErrorMatcher {
	return func(err error) bool {
		return errors.Is(err, target)
	}
}

// Config holds configuration for the circuit breaker
type Config struct {
	// Name identifies the breaker, used as the registry key and in errors/logs
	Name string
	// FailureThreshold is the number of counted failures in the closed state
	// that opens the circuit
	FailureThreshold int
	// ResetTimeout is the period of the open state, after which the next
	// call attempt moves the breaker to half-open
	ResetTimeout time.Duration
	// HalfOpenMaxCalls is the maximum number of probe calls admitted while
	// the breaker is half-open
	HalfOpenMaxCalls int
	// MonitoredErrors lists the failure categories that count toward opening
	// the circuit. Empty means every error counts.
	MonitoredErrors []ErrorMatcher
	// ExcludedErrors lists failure categories that never count, checked after
	// MonitoredErrors. Exclusion wins.
	ExcludedErrors []ErrorMatcher
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
}

const (
	defaultFailureThreshold = 5
	defaultResetTimeout     = 60 * time.Second
	defaultHalfOpenMaxCalls = 1
)

// CircuitBreaker guards calls to one downstream dependency. It rejects fast
// while open and probes cautiously while half-open.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	resetTimeout     time.Duration
	halfOpenMaxCalls int
	monitored        []ErrorMatcher
	excluded         []ErrorMatcher
	onStateChange    func(name string, from CircuitState, to CircuitState)

	mutex         sync.Mutex
	state         CircuitState
	halfOpenCalls int
	stats         CircuitStats

	logger *logging.Logger
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config Config) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = defaultFailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = defaultResetTimeout
	}
	if config.HalfOpenMaxCalls <= 0 {
		config.HalfOpenMaxCalls = defaultHalfOpenMaxCalls
	}

	return &CircuitBreaker{
		name:             config.Name,
		failureThreshold: config.FailureThreshold,
		resetTimeout:     config.ResetTimeout,
		halfOpenMaxCalls: config.HalfOpenMaxCalls,
		monitored:        config.MonitoredErrors,
		excluded:         config.ExcludedErrors,
		onStateChange:    config.OnStateChange,
		state:            StateClosed,
		stats:            newCircuitStats(time.Now()),
		logger:           logging.GetLogger(),
	}
}

// Execute runs the given function if the circuit breaker admits the call.
// The function is invoked outside the breaker's lock, so a slow downstream
// call never blocks other callers from checking or updating circuit state.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := fn()
	return cb.afterCall(result, err)
}

// ExecuteContext is the suspending twin of Execute: identical admission,
// classification, and bookkeeping, with the wrapped call as the only
// suspension point.
func (cb *CircuitBreaker) ExecuteContext(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	if err := cb.beforeCall(); err != nil {
		return nil, err
	}

	result, err := fn(ctx)
	return cb.afterCall(result, err)
}

// beforeCall decides admission and performs the lazy open-to-half-open
// transition once the reset timeout has elapsed.
func (cb *CircuitBreaker) beforeCall() error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()

	switch cb.state {
	case StateClosed:
		return nil
	case StateOpen:
		if now.Sub(cb.stats.LastStateChangeTime) >= cb.resetTimeout {
			cb.setState(StateHalfOpen, now)
			cb.halfOpenCalls++
			return nil
		}
		cb.stats.recordRejection()
		return &OpenError{Name: cb.name, State: StateOpen}
	case StateHalfOpen:
		if cb.halfOpenCalls < cb.halfOpenMaxCalls {
			cb.halfOpenCalls++
			return nil
		}
		cb.stats.recordRejection()
		return &OpenError{Name: cb.name, State: StateHalfOpen}
	default:
		return nil
	}
}

// afterCall records the outcome of an admitted call. Errors are always
// re-surfaced wrapped in a BreakError; excluded errors propagate without
// moving the state machine.
func (cb *CircuitBreaker) afterCall(result interface{}, err error) (interface{}, error) {
	if err == nil {
		cb.recordSuccess()
		return result, nil
	}

	if cb.isCircuitFailure(err) {
		cb.recordFailure()
	}
	return nil, &BreakError{Name: cb.name, Err: err}
}

// isCircuitFailure classifies an error: in the monitored set AND NOT in the
// excluded set. An empty monitored set counts every error.
func (cb *CircuitBreaker) isCircuitFailure(err error) bool {
	matched := len(cb.monitored) == 0
	for _, m := range cb.monitored {
		if m(err) {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}

	for _, m := range cb.excluded {
		if m(err) {
			return false
		}
	}
	return true
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.stats.recordSuccess(now)

	// The first successful probe closes the circuit, even when other probes
	// are still in flight.
	if cb.state == StateHalfOpen {
		cb.setState(StateClosed, now)
	}
}

func (cb *CircuitBreaker) recordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	cb.stats.recordFailure(now)

	switch cb.state {
	case StateClosed:
		if cb.stats.FailureCount >= int64(cb.failureThreshold) {
			cb.setState(StateOpen, now)
		}
	case StateHalfOpen:
		cb.setState(StateOpen, now)
	}
}

// setState transitions the breaker. Caller must hold the lock.
func (cb *CircuitBreaker) setState(state CircuitState, now time.Time) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state
	cb.stats.LastStateChangeTime = now

	switch state {
	case StateHalfOpen:
		// Failure statistics survive the transition; only the probe budget resets.
		cb.halfOpenCalls = 0
	case StateClosed:
		cb.stats.FailureCount = 0
		cb.halfOpenCalls = 0
	}

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	cb.logger.Info("Circuit breaker state changed",
		"name", cb.name,
		"from", prev.String(),
		"to", state.String(),
		"failure_count", cb.stats.FailureCount,
		"rejected_count", cb.stats.RejectedCount,
	)
}

// Reset forces the breaker to CLOSED from any state and clears all statistics.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	now := time.Now()
	prev := cb.state
	cb.state = StateClosed
	cb.halfOpenCalls = 0
	cb.stats.reset(now)

	if prev != StateClosed && cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, StateClosed)
	}

	cb.logger.Info("Circuit breaker reset",
		"name", cb.name,
		"from", prev.String(),
	)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// Stats returns a copy of the current statistics
func (cb *CircuitBreaker) Stats() CircuitStats {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.stats
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Status returns a point-in-time diagnostic snapshot of the breaker
func (cb *CircuitBreaker) Status() BreakerStatus {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return BreakerStatus{
		State:               cb.state.String(),
		FailureCount:        cb.stats.FailureCount,
		SuccessCount:        cb.stats.SuccessCount,
		RejectedCount:       cb.stats.RejectedCount,
		LastFailureTime:     cb.stats.LastFailureTime,
		LastSuccessTime:     cb.stats.LastSuccessTime,
		LastStateChangeTime: cb.stats.LastStateChangeTime,
	}
}
