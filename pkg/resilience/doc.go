// Package resilience provides circuit breaking, retry with exponential
// backoff, and breaker registry reporting for calls to unreliable upstream
// services.
//
// # Circuit Breaker Pattern
//
// A breaker guards one downstream dependency. It passes traffic while
// CLOSED, rejects fast while OPEN, and probes cautiously while HALF_OPEN.
// The circuit opens after FailureThreshold counted failures and moves to
// half-open lazily, on the first call attempt after ResetTimeout elapses.
//
//	cb := resilience.NewCircuitBreaker(resilience.Config{
//		Name:             "facebook-api",
//		FailureThreshold: 5,
//		ResetTimeout:     60 * time.Second,
//	})
//
//	result, err := cb.Execute(func() (interface{}, error) {
//		return client.FetchProfile(id)
//	})
//
// Errors raised by the wrapped call are classified against the configured
// monitored and excluded matcher sets; only counted failures move the state
// machine, but every failure surfaces to the caller wrapped in a BreakError.
// Rejected calls fail with an OpenError.
//
// # Retry with Exponential Backoff
//
// The retrier delegates each attempt through a breaker and sleeps
// BackoffFactor * 2^attempt seconds between attempts. An open circuit stops
// retrying immediately; after the last attempt the original error is
// surfaced, unwrapped.
//
//	retrier := resilience.NewRetrier(resilience.DefaultRetryConfig())
//	result, err := retrier.Do(cb, func() (interface{}, error) {
//		return client.FetchProfile(id)
//	})
//
// # Registry
//
// A Registry holds named, long-lived breakers and produces point-in-time
// diagnostic reports for health endpoints. GetOrCreate is the primary way
// to obtain a breaker so that one instance exists per name.
//
// # Combined Usage
//
//	reg := resilience.NewRegistry()
//	op := resilience.NewGuardedOperation("facebook-api", reg, cbConfig, retryConfig)
//	result, err := op.Execute(func() (interface{}, error) {
//		return client.FetchProfile(id)
//	})
//
// The package is thread-safe: each breaker owns one mutex guarding its state
// and statistics, and wrapped calls run outside that lock.
package resilience
