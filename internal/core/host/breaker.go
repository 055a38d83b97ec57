package host

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

// String returns the state name.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker suppresses a repeatedly failing module. Consecutive
// failures at or past the threshold open the circuit; after the reset
// timeout one trial run is allowed, and its outcome decides between
// closing again and re-opening.
type CircuitBreaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time

	state       BreakerState
	failures    int
	lastFailure time.Time
	trialInUse  bool
}

// NewCircuitBreaker creates a closed breaker. A threshold of zero
// disables tripping entirely.
func NewCircuitBreaker(threshold int, resetTimeout time.Duration, now func() time.Time) *CircuitBreaker {
	if now == nil {
		now = time.Now
	}
	return &CircuitBreaker{
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          now,
	}
}

// Allow reports whether a run may start. In the open state it flips to
// half-open once the reset timeout has elapsed and admits exactly one
// trial.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.resetTimeout {
			cb.state = BreakerHalfOpen
			cb.trialInUse = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if cb.trialInUse {
			return false
		}
		cb.trialInUse = true
		return true
	}
	return false
}

// RecordSuccess resets the failure streak; from half-open it closes
// the circuit.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.trialInUse = false
	cb.state = BreakerClosed
}

// RecordFailure extends the failure streak; at the threshold, or on a
// failed half-open trial, the circuit opens.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures++
	cb.lastFailure = cb.now()
	cb.trialInUse = false

	switch cb.state {
	case BreakerHalfOpen:
		cb.state = BreakerOpen
	case BreakerClosed:
		if cb.threshold > 0 && cb.failures >= cb.threshold {
			cb.state = BreakerOpen
		}
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
