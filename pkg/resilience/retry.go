package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"github.com/socialflow/resilience/pkg/logging"
)

// RetryConfig holds configuration for the retry-with-backoff wrapper
type RetryConfig struct {
	// MaxRetries is the number of retries after the initial attempt
	MaxRetries int
	// BackoffFactor scales the exponential delay: backoff = BackoffFactor * 2^attempt
	BackoffFactor float64
	// MaxDelay is the maximum delay between retries
	MaxDelay time.Duration
	// Jitter adds randomness to delay to avoid thundering herd
	Jitter bool
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:    3,
		BackoffFactor: 1.0,
		MaxDelay:      30 * time.Second,
	}
}

// Retrier retries a breaker-guarded call with exponential backoff. Attempts
// are strictly sequential; an open circuit stops retrying immediately.
type Retrier struct {
	config RetryConfig
	logger *logging.Logger
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig) *Retrier {
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BackoffFactor <= 0 {
		config.BackoffFactor = 1.0
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = 30 * time.Second
	}

	return &Retrier{
		config: config,
		logger: logging.GetLogger(),
	}
}

// Do executes fn through the breaker, retrying counted failures with
// exponential backoff. A circuit-open rejection propagates immediately.
// Once retries are exhausted the original error is surfaced, unwrapped
// from its BreakError envelope.
func (r *Retrier) Do(cb *CircuitBreaker, fn func() (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		result, err := cb.Execute(fn)
		if err == nil {
			if attempt > 0 {
				r.logger.Info("Operation succeeded after retry",
					"breaker", cb.Name(),
					"attempt", attempt+1,
				)
			}
			return result, nil
		}

		if IsOpenError(err) {
			r.logger.Debug("Circuit is open, stopping retries",
				"breaker", cb.Name(),
				"attempt", attempt+1,
			)
			return nil, err
		}

		lastErr = err

		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.calculateDelay(attempt)

		r.logger.Debug("Operation failed, retrying",
			"breaker", cb.Name(),
			"error", err.Error(),
			"attempt", attempt+1,
			"delay", delay,
		)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		time.Sleep(delay)
	}

	r.logger.Error("Operation failed after all retry attempts",
		"breaker", cb.Name(),
		"error", lastErr.Error(),
		"attempts", r.config.MaxRetries+1,
	)

	return nil, unwrapBreakError(lastErr)
}

// DoContext is the suspending twin of Do: the backoff sleep is the only
// interruptible wait point, and cancelling the context between attempts
// stops further retries.
func (r *Retrier) DoContext(ctx context.Context, cb *CircuitBreaker, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	var lastErr error

	for attempt := 0; attempt <= r.config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		result, err := cb.ExecuteContext(ctx, fn)
		if err == nil {
			return result, nil
		}

		if IsOpenError(err) {
			return nil, err
		}

		lastErr = err

		if attempt == r.config.MaxRetries {
			break
		}

		delay := r.calculateDelay(attempt)

		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt, err, delay)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, unwrapBreakError(lastErr)
}

func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := r.config.BackoffFactor * math.Pow(2, float64(attempt)) * float64(time.Second)

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		delay += rand.Float64() * 0.1 * delay
	}

	return time.Duration(delay)
}

// unwrapBreakError surfaces the original cause of a wrapped call failure
func unwrapBreakError(err error) error {
	var breakErr *BreakError
	if errors.As(err, &breakErr) {
		return breakErr.Err
	}
	return err
}

// GuardedOperation binds a named circuit breaker and a retrier into one
// guarded callable. It is the explicit replacement for decorator-based
// wrapping: the breaker is resolved through the registry by name, so
// repeated construction under one name shares a single breaker.
type GuardedOperation struct {
	breaker *CircuitBreaker
	retrier *Retrier
}

// NewGuardedOperation creates a guarded operation registered under name
func NewGuardedOperation(name string, registry *Registry, cbConfig Config, retryConfig RetryConfig) *GuardedOperation {
	return &GuardedOperation{
		breaker: registry.GetOrCreate(name, cbConfig),
		retrier: NewRetrier(retryConfig),
	}
}

// Execute runs fn with circuit breaking and retry
func (g *GuardedOperation) Execute(fn func() (interface{}, error)) (interface{}, error) {
	return g.retrier.Do(g.breaker, fn)
}

// ExecuteContext runs fn with circuit breaking and retry, honoring ctx
// between attempts
func (g *GuardedOperation) ExecuteContext(ctx context.Context, fn func(context.Context) (interface{}, error)) (interface{}, error) {
	return g.retrier.DoContext(ctx, g.breaker, fn)
}

// State returns the current state of the underlying circuit breaker
func (g *GuardedOperation) State() CircuitState {
	return g.breaker.State()
}

// Stats returns the current statistics of the underlying circuit breaker
func (g *GuardedOperation) Stats() CircuitStats {
	return g.breaker.Stats()
}

// Breaker returns the underlying circuit breaker
func (g *GuardedOperation) Breaker() *CircuitBreaker {
	return g.breaker
}
