package resilience

import (
	"errors"
	"fmt"
)

// OpenError is returned when a call is rejected because the circuit is open
// or the half-open probe budget is exhausted. It is never retried.
type OpenError struct {
	Name  string
	State CircuitState
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s: call rejected", e.Name, e.State.String())
}

// IsOpenError checks if an error is a circuit-open rejection
func IsOpenError(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}

// BreakError wraps any error raised by a call that was admitted through the
// breaker. The original error is available via Unwrap, whether or not it
// counted toward circuit statistics.
type BreakError struct {
	Name string
	Err  error
}

func (e *BreakError) Error() string {
	return fmt.Sprintf("circuit breaker '%s': call failed: %v", e.Name, e.Err)
}

// Unwrap returns the original error from the wrapped call
func (e *BreakError) Unwrap() error {
	return e.Err
}

// IsBreakError checks if an error is a wrapped call failure
func IsBreakError(err error) bool {
	var breakErr *BreakError
	return errors.As(err, &breakErr)
}
