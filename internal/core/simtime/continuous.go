package simtime

import (
	"simkernel/internal/core/ecs"
	"simkernel/pkg/logger"
)

// pulseIntervalTicks is the spacing of the master's wall-clock
// reference broadcasts: one per second.
const pulseIntervalTicks = TicksPerSecond

// Continuous is the wall-clock controller for standalone hosts and
// time masters. It reads a monotonic clock, multiplies elapsed wall
// time by the time scale, and — when attached to an endpoint — emits a
// TimePulse at 1 Hz plus immediately on every scale change.
type Continuous struct {
	clock Clock
	ep    *Endpoint // nil for standalone
	log   *logger.Logger

	lastTicks   int64
	total       float64
	frame       int64
	scale       float64
	seq         int64
	lastPulseAt int64
	started     bool
}

// NewContinuous creates a standalone continuous controller.
func NewContinuous(clock Clock, log *logger.Logger) *Continuous {
	return &Continuous{clock: clock, log: log, scale: 1}
}

// NewContinuousMaster creates a continuous controller that broadcasts
// reference pulses through the endpoint.
func NewContinuousMaster(clock Clock, ep *Endpoint, log *logger.Logger) *Continuous {
	return &Continuous{clock: clock, ep: ep, log: log, scale: 1}
}

// Update advances sim time by scaled wall elapsed and emits a pulse
// when due.
func (c *Continuous) Update() Sample {
	now := c.clock.NowTicks()
	if !c.started {
		c.lastTicks = now
		c.lastPulseAt = now - pulseIntervalTicks // pulse immediately on first frame
		c.started = true
	}
	raw := ticksToSeconds(now - c.lastTicks)
	c.lastTicks = now

	dt := raw * c.scale
	c.total += dt
	c.frame++

	if c.ep != nil && now-c.lastPulseAt >= pulseIntervalTicks {
		c.emitPulse(now)
	}

	return Sample{DT: dt, UnscaledDT: raw, TotalTime: c.total, Frame: c.frame, TimeScale: c.scale}
}

// Step is not supported by continuous controllers.
func (c *Continuous) Step(float64) (Sample, error) {
	return Sample{}, ecs.NewError(ecs.CodeWrongMode, "step is only valid on a stepped master")
}

// SetTimeScale changes the scale and, on a master, immediately emits a
// pulse carrying the new scale.
func (c *Continuous) SetTimeScale(scale float64) {
	c.scale = scale
	if c.ep != nil {
		c.emitPulse(c.clock.NowTicks())
	}
}

func (c *Continuous) emitPulse(now int64) {
	c.seq++
	c.ep.BroadcastPulse(TimePulse{
		MasterWallTicks: now,
		SimTimeSnapshot: c.total,
		TimeScale:       float32(c.scale),
		SequenceID:      c.seq,
	})
	c.lastPulseAt = now
}

// State returns the swap-preserved state.
func (c *Continuous) State() State {
	return State{TotalTime: c.total, Frame: c.frame, TimeScale: c.scale}
}

// SeedState installs predecessor state and reseeds the last-tick
// marker to the current instant so no accumulated wall slack leaks
// into the first delta after a swap.
func (c *Continuous) SeedState(s State) {
	c.total = s.TotalTime
	c.frame = s.Frame
	if s.TimeScale != 0 {
		c.scale = s.TimeScale
	}
	c.lastTicks = c.clock.NowTicks()
	c.lastPulseAt = c.lastTicks
	c.started = true
}
