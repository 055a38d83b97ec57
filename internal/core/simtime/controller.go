// Package simtime implements the swappable time controllers of the
// simulation kernel: continuous wall-clock time (standalone, master,
// and PLL-disciplined slave) and deterministic stepped time (lockstep
// master and slave), plus the pause-barrier protocol that switches a
// whole cluster between the two modes.
package simtime

import (
	"time"
)

// Sample is the per-frame output of a time controller.
type Sample struct {
	DT         float64 // scaled frame delta, seconds
	UnscaledDT float64 // wall (or fixed) delta before time scale
	TotalTime  float64 // accumulated sim time, seconds
	Frame      int64   // frame number
	TimeScale  float64
}

// State is the swap-preserved controller state. TotalTime and Frame
// survive a controller swap bit-for-bit.
type State struct {
	TotalTime float64
	Frame     int64
	TimeScale float64
}

// Controller is the common surface of all time controllers. Step is
// the manual lockstep advance; controllers outside stepped master mode
// reject it with WrongMode.
type Controller interface {
	// Update produces the next frame's time sample.
	Update() Sample

	// Step advances manually by the given fixed delta. Only the
	// stepped master supports it.
	Step(fixedDelta float64) (Sample, error)

	// SetTimeScale changes the sim-time scale factor.
	SetTimeScale(scale float64)

	// State returns the swap-preserved state.
	State() State

	// SeedState installs swap-preserved state from the predecessor.
	SeedState(State)
}

// Config carries the time subsystem parameters with their documented
// defaults. File decoding happens in the host's config package; this
// struct is the in-memory parameter set the controllers consume.
type Config struct {
	FixedDeltaSeconds   float32
	PLLGain             float64
	MaxSlew             float32
	SnapThresholdMS     float64
	JitterWindow        uint32
	PauseBarrierFrames  uint32
	AverageLatencyTicks int64
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		FixedDeltaSeconds:   1.0 / 60.0,
		PLLGain:             0.1,
		MaxSlew:             0.05,
		SnapThresholdMS:     500,
		JitterWindow:        5,
		PauseBarrierFrames:  5,
		AverageLatencyTicks: 0,
	}
}

// ==============================================
// Clocks
// ==============================================

// TicksPerSecond is the resolution of wall ticks in wire messages and
// clock readings: one tick is one nanosecond.
const TicksPerSecond = int64(time.Second)

// Clock supplies monotonic wall ticks. The production clock reads the
// runtime's monotonic timer; tests drive a manual clock.
type Clock interface {
	NowTicks() int64
}

// monotonicClock measures against a fixed base so readings never go
// backwards with wall-clock adjustments.
type monotonicClock struct {
	base time.Time
}

// NewMonotonicClock creates the production clock.
func NewMonotonicClock() Clock {
	return &monotonicClock{base: time.Now()}
}

func (c *monotonicClock) NowTicks() int64 {
	return int64(time.Since(c.base))
}

// ManualClock is a hand-advanced clock for tests.
type ManualClock struct {
	ticks int64
}

// NewManualClock creates a manual clock at tick zero.
func NewManualClock() *ManualClock {
	return &ManualClock{}
}

// NowTicks returns the current manual tick count.
func (c *ManualClock) NowTicks() int64 {
	return c.ticks
}

// Advance moves the clock forward by d.
func (c *ManualClock) Advance(d time.Duration) {
	c.ticks += int64(d)
}

// Set positions the clock at an absolute tick count.
func (c *ManualClock) Set(ticks int64) {
	c.ticks = ticks
}

func ticksToSeconds(t int64) float64 {
	return float64(t) / float64(TicksPerSecond)
}

func secondsToTicks(s float64) int64 {
	return int64(s * float64(TicksPerSecond))
}
