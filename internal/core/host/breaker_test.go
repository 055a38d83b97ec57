package host

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_CircuitBreaker_OpensAtThreshold(t *testing.T) {
	// Arrange
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(3, time.Second, func() time.Time { return now })

	// Act: two failures keep it closed, the third opens it.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())

	cb.RecordFailure()

	// Assert
	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
}

func Test_CircuitBreaker_SuccessResetsStreak(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(3, time.Second, func() time.Time { return now })

	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, BreakerClosed, cb.State(), "non-consecutive failures do not trip")
}

func Test_CircuitBreaker_HalfOpenTrial(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second, func() time.Time { return now })
	cb.RecordFailure()
	assert.Equal(t, BreakerOpen, cb.State())

	// Before the reset timeout, no runs are admitted.
	now = now.Add(500 * time.Millisecond)
	assert.False(t, cb.Allow())

	// After the timeout, exactly one trial is admitted.
	now = now.Add(600 * time.Millisecond)
	assert.True(t, cb.Allow())
	assert.Equal(t, BreakerHalfOpen, cb.State())
	assert.False(t, cb.Allow(), "second trial blocked while the first is in flight")

	// A successful trial closes the circuit.
	cb.RecordSuccess()
	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}

func Test_CircuitBreaker_FailedTrialReopens(t *testing.T) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker(1, time.Second, func() time.Time { return now })
	cb.RecordFailure()

	now = now.Add(2 * time.Second)
	assert.True(t, cb.Allow())
	cb.RecordFailure()

	assert.Equal(t, BreakerOpen, cb.State())
	assert.False(t, cb.Allow())
}

func Test_CircuitBreaker_ZeroThresholdNeverTrips(t *testing.T) {
	cb := NewCircuitBreaker(0, time.Second, nil)

	for i := 0; i < 100; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, BreakerClosed, cb.State())
	assert.True(t, cb.Allow())
}
