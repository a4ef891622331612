package resilience

import "time"

// CircuitStats holds the counters and timestamps for a single circuit breaker.
// All fields are owned by the breaker and mutated only while its lock is held.
type CircuitStats struct {
	SuccessCount  int64
	FailureCount  int64
	RejectedCount int64

	LastFailureTime     *time.Time
	LastSuccessTime     *time.Time
	LastStateChangeTime time.Time
}

// newCircuitStats returns stats initialized with the construction timestamp.
func newCircuitStats(now time.Time) CircuitStats {
	return CircuitStats{LastStateChangeTime: now}
}

// recordSuccess increments the success counter and stamps the event time.
func (s *CircuitStats) recordSuccess(now time.Time) {
	s.SuccessCount++
	t := now
	s.LastSuccessTime = &t
}

// recordFailure increments the failure counter and stamps the event time.
func (s *CircuitStats) recordFailure(now time.Time) {
	s.FailureCount++
	t := now
	s.LastFailureTime = &t
}

// recordRejection increments the rejected counter.
func (s *CircuitStats) recordRejection() {
	s.RejectedCount++
}

// reset clears all counters and event timestamps and stamps the state change.
func (s *CircuitStats) reset(now time.Time) {
	s.SuccessCount = 0
	s.FailureCount = 0
	s.RejectedCount = 0
	s.LastFailureTime = nil
	s.LastSuccessTime = nil
	s.LastStateChangeTime = now
}

// BreakerStatus is a point-in-time diagnostic snapshot of one breaker,
// shaped for health-check and dashboard consumers.
type BreakerStatus struct {
	State               string     `json:"state"`
	FailureCount        int64      `json:"failure_count"`
	SuccessCount        int64      `json:"success_count"`
	RejectedCount       int64      `json:"rejected_count"`
	LastFailureTime     *time.Time `json:"last_failure_time"`
	LastSuccessTime     *time.Time `json:"last_success_time"`
	LastStateChangeTime time.Time  `json:"last_state_change_time"`
}
