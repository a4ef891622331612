package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetrier_SucceedsFirstAttempt(t *testing.T) {
	cb := NewCircuitBreaker(Config{Name: "retry-cb"})
	r := NewRetrier(RetryConfig{MaxRetries: 3, BackoffFactor: 0.01})

	calls := 0
	result, err := r.Do(cb, func() (interface{}, error) {
		calls++
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetrier_RecoversAfterTransientFailures(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 10,
	})
	r := NewRetrier(RetryConfig{MaxRetries: 3, BackoffFactor: 0.01})

	calls := 0
	start := time.Now()
	result, err := r.Do(cb, func() (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errBoom
		}
		return "recovered", nil
	})
	elapsed := time.Since(start)

	require.NoError(t, err)
	assert.Equal(t, "recovered", result)
	assert.Equal(t, 3, calls)
	// Two backoff sleeps: 0.01*2^0 + 0.01*2^1 = 30ms
	assert.GreaterOrEqual(t, elapsed, 25*time.Millisecond)
}

func TestRetrier_ExhaustionSurfacesOriginalError(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 10,
	})
	r := NewRetrier(RetryConfig{MaxRetries: 2, BackoffFactor: 0.01})

	calls := 0
	_, err := r.Do(cb, func() (interface{}, error) {
		calls++
		return nil, errBoom
	})

	require.Error(t, err)
	assert.Equal(t, 3, calls, "initial attempt plus two retries")
	assert.Equal(t, errBoom, err, "exhaustion unwraps the call failure envelope")
	assert.False(t, IsBreakError(err))
}

func TestRetrier_OpenCircuitStopsRetries(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 1,
		ResetTimeout:     time.Minute,
	})
	cb.Execute(failingCall)
	require.Equal(t, StateOpen, cb.State())

	r := NewRetrier(RetryConfig{MaxRetries: 5, BackoffFactor: 0.01})

	calls := 0
	_, err := r.Do(cb, func() (interface{}, error) {
		calls++
		return "ok", nil
	})

	require.Error(t, err)
	assert.True(t, IsOpenError(err))
	assert.Equal(t, 0, calls, "the wrapped function is never invoked")
}

func TestRetrier_OpeningMidRetryStopsFurtherAttempts(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})
	r := NewRetrier(RetryConfig{MaxRetries: 5, BackoffFactor: 0.01})

	calls := 0
	_, err := r.Do(cb, func() (interface{}, error) {
		calls++
		return nil, errBoom
	})

	require.Error(t, err)
	// Attempts 1 and 2 fail and trip the circuit; attempt 3 is rejected.
	assert.Equal(t, 2, calls)
	assert.True(t, IsOpenError(err))
	assert.Equal(t, StateOpen, cb.State())
}

func TestRetrier_BackoffProgression(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 10,
	})

	var delays []time.Duration
	r := NewRetrier(RetryConfig{
		MaxRetries:    3,
		BackoffFactor: 0.01,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			delays = append(delays, delay)
		},
	})

	r.Do(cb, failingCall)

	require.Len(t, delays, 3)
	assert.InDelta(t, float64(10*time.Millisecond), float64(delays[0]), float64(time.Millisecond))
	assert.InDelta(t, float64(20*time.Millisecond), float64(delays[1]), float64(time.Millisecond))
	assert.InDelta(t, float64(40*time.Millisecond), float64(delays[2]), float64(time.Millisecond))
}

func TestRetrier_DelayCappedByMaxDelay(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:    10,
		BackoffFactor: 1.0,
		MaxDelay:      2 * time.Second,
	})

	assert.Equal(t, time.Second, r.calculateDelay(0))
	assert.Equal(t, 2*time.Second, r.calculateDelay(1))
	assert.Equal(t, 2*time.Second, r.calculateDelay(8))
}

func TestRetrier_JitterStaysWithinBounds(t *testing.T) {
	r := NewRetrier(RetryConfig{
		MaxRetries:    1,
		BackoffFactor: 1.0,
		MaxDelay:      30 * time.Second,
		Jitter:        true,
	})

	for i := 0; i < 20; i++ {
		delay := r.calculateDelay(0)
		assert.GreaterOrEqual(t, delay, time.Second)
		assert.LessOrEqual(t, delay, 1100*time.Millisecond)
	}
}

func TestRetrier_DoContextCancellation(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 10,
	})
	r := NewRetrier(RetryConfig{MaxRetries: 5, BackoffFactor: 1.0})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	start := time.Now()
	_, err := r.DoContext(ctx, cb, func(ctx context.Context) (interface{}, error) {
		calls++
		return nil, errBoom
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, calls, "cancellation during backoff prevents the next attempt")
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetrier_DoContextSuccess(t *testing.T) {
	cb := NewCircuitBreaker(Config{
		Name:             "retry-cb",
		FailureThreshold: 10,
	})
	r := NewRetrier(RetryConfig{MaxRetries: 2, BackoffFactor: 0.01})

	calls := 0
	result, err := r.DoContext(context.Background(), cb, func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 2 {
			return nil, errBoom
		}
		return "ok", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 2, calls)
}

func TestNewRetrier_NormalizesConfig(t *testing.T) {
	r := NewRetrier(RetryConfig{MaxRetries: -1, BackoffFactor: -2})
	assert.Equal(t, 0, r.config.MaxRetries)
	assert.Equal(t, 1.0, r.config.BackoffFactor)
	assert.Equal(t, 30*time.Second, r.config.MaxDelay)
}

func TestGuardedOperation_SharesBreakerByName(t *testing.T) {
	registry := NewRegistry()

	g1 := NewGuardedOperation("shared", registry,
		Config{FailureThreshold: 1, ResetTimeout: time.Minute},
		RetryConfig{MaxRetries: 0, BackoffFactor: 0.01},
	)
	g2 := NewGuardedOperation("shared", registry,
		Config{FailureThreshold: 99, ResetTimeout: time.Minute},
		RetryConfig{MaxRetries: 0, BackoffFactor: 0.01},
	)

	require.Same(t, g1.Breaker(), g2.Breaker())

	// Trip through g1, observe through g2
	g1.Execute(failingCall)
	assert.Equal(t, StateOpen, g2.State())

	_, err := g2.Execute(succeedingCall)
	assert.True(t, IsOpenError(err))
}

func TestGuardedOperation_ExecuteContext(t *testing.T) {
	registry := NewRegistry()
	g := NewGuardedOperation("guarded", registry,
		Config{FailureThreshold: 10},
		RetryConfig{MaxRetries: 2, BackoffFactor: 0.01},
	)

	calls := 0
	result, err := g.ExecuteContext(context.Background(), func(ctx context.Context) (interface{}, error) {
		calls++
		if calls < 3 {
			return nil, errBoom
		}
		return "done", nil
	})

	require.NoError(t, err)
	assert.Equal(t, "done", result)
	assert.Equal(t, 3, calls)
	assert.Equal(t, int64(1), g.Stats().SuccessCount)
	assert.Equal(t, int64(2), g.Stats().FailureCount)
}
