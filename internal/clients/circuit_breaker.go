package clients

import (
	"errors"
	"time"

	"github.com/sony/gobreaker"

	"tutorials/backend/internal/bootstrap"
)

// NewCircuitBreaker returns a gobreaker configured to trip after 3 consecutive
// failures and reset after 30 seconds in the open state.
func NewCircuitBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})
}

// probeResult turns the outcome of a breaker-wrapped probe into a
// ProbeResult. An open breaker is reported as "circuit open".
func probeResult(name string, start time.Time, err error) bootstrap.ProbeResult {
	latency := time.Since(start).Milliseconds()
	if err == nil {
		return bootstrap.ProbeResult{Name: name, OK: true, LatencyMs: latency}
	}

	errMsg := err.Error()
	if errors.Is(err, gobreaker.ErrOpenState) {
		errMsg = "circuit open"
	}
	return bootstrap.ProbeResult{
		Name:      name,
		OK:        false,
		LatencyMs: latency,
		Error:     errMsg,
	}
}
