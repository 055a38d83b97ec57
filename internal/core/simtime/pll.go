package simtime

import (
	"math"
	"sort"

	"simkernel/internal/core/ecs"
	"simkernel/pkg/logger"
)

// medianFilter is a fixed-window median over recent phase errors; the
// median rejects single-pulse jitter outliers that a mean would let
// through.
type medianFilter struct {
	window  int
	samples []float64
	scratch []float64
}

func newMedianFilter(window int) *medianFilter {
	if window < 1 {
		window = 1
	}
	return &medianFilter{
		window:  window,
		samples: make([]float64, 0, window),
		scratch: make([]float64, 0, window),
	}
}

func (f *medianFilter) push(v float64) {
	if len(f.samples) == f.window {
		copy(f.samples, f.samples[1:])
		f.samples[len(f.samples)-1] = v
	} else {
		f.samples = append(f.samples, v)
	}
}

func (f *medianFilter) median() float64 {
	n := len(f.samples)
	if n == 0 {
		return 0
	}
	f.scratch = append(f.scratch[:0], f.samples...)
	sort.Float64s(f.scratch)
	if n%2 == 1 {
		return f.scratch[n/2]
	}
	return (f.scratch[n/2-1] + f.scratch[n/2]) / 2
}

func (f *medianFilter) reset() {
	f.samples = f.samples[:0]
}

func (f *medianFilter) len() int {
	return len(f.samples)
}

// PLLSlave is the continuous slave controller. It keeps a virtual wall
// clock driven by the local monotonic clock and disciplines it toward
// the master's pulses with a P-controller: phase errors go through a
// median filter, the filtered error times the gain becomes a slew-
// clamped rate correction, and errors beyond the snap threshold jump
// the virtual clock in one step instead of slewing for minutes.
type PLLSlave struct {
	clock Clock
	ep    *Endpoint
	cfg   Config
	log   *logger.Logger

	virtualWall float64 // seconds
	lastTicks   int64
	filter      *medianFilter
	lastSeq     int64

	total float64
	frame int64
	scale float64

	started   bool
	snapCount int64
}

// NewPLLSlave creates the slave controller over its network endpoint.
func NewPLLSlave(clock Clock, ep *Endpoint, cfg Config, log *logger.Logger) *PLLSlave {
	return &PLLSlave{
		clock:  clock,
		ep:     ep,
		cfg:    cfg,
		log:    log,
		filter: newMedianFilter(int(cfg.JitterWindow)),
		scale:  1,
	}
}

// Update advances the virtual wall clock with the current correction
// and maps the wall delta to sim time through the time scale.
func (p *PLLSlave) Update() Sample {
	now := p.clock.NowTicks()
	if !p.started {
		p.lastTicks = now
		p.virtualWall = ticksToSeconds(now)
		p.started = true
	}
	raw := ticksToSeconds(now - p.lastTicks)
	p.lastTicks = now

	p.ingestPulses()

	ferr := p.filter.median()
	snapThreshold := p.cfg.SnapThresholdMS / 1000.0

	if math.Abs(ferr) > snapThreshold {
		// Hard snap: jump the virtual wall clock to the target and reset
		// the filter. The snap magnitude lands in TotalTime, never in the
		// returned delta.
		p.virtualWall += ferr
		p.total += ferr * p.scale
		p.filter.reset()
		p.snapCount++
		if p.log != nil {
			p.log.Warnf("pll hard snap: error %.3fs exceeds threshold %.3fs", ferr, snapThreshold)
		}
		ferr = 0
	}

	correction := ferr * p.cfg.PLLGain
	maxSlew := float64(p.cfg.MaxSlew)
	if correction > maxSlew {
		correction = maxSlew
	} else if correction < -maxSlew {
		correction = -maxSlew
	}

	wallDelta := raw * (1 + correction)
	p.virtualWall += wallDelta

	dt := wallDelta * p.scale
	p.total += dt
	p.frame++

	return Sample{DT: dt, UnscaledDT: wallDelta, TotalTime: p.total, Frame: p.frame, TimeScale: p.scale}
}

// ingestPulses folds newly received pulses into the phase-error filter.
func (p *PLLSlave) ingestPulses() {
	for _, pulse := range p.ep.DrainPulses() {
		if pulse.SequenceID <= p.lastSeq {
			continue // stale or duplicated pulse
		}
		p.lastSeq = pulse.SequenceID
		p.scale = float64(pulse.TimeScale)
		target := ticksToSeconds(pulse.MasterWallTicks + p.cfg.AverageLatencyTicks)
		p.filter.push(target - p.virtualWall)
	}
}

// Step is not supported by the slave.
func (p *PLLSlave) Step(float64) (Sample, error) {
	return Sample{}, ecs.NewError(ecs.CodeWrongMode, "step is only valid on a stepped master")
}

// SetTimeScale changes the local scale. The master's pulses override
// it on arrival; this exists for standalone testing.
func (p *PLLSlave) SetTimeScale(scale float64) {
	p.scale = scale
}

// State returns the swap-preserved state.
func (p *PLLSlave) State() State {
	return State{TotalTime: p.total, Frame: p.frame, TimeScale: p.scale}
}

// SeedState installs predecessor state and restarts the virtual wall
// clock at the current instant with an empty filter.
func (p *PLLSlave) SeedState(s State) {
	p.total = s.TotalTime
	p.frame = s.Frame
	if s.TimeScale != 0 {
		p.scale = s.TimeScale
	}
	p.lastTicks = p.clock.NowTicks()
	p.virtualWall = ticksToSeconds(p.lastTicks)
	p.filter.reset()
	p.started = true
}

// SnapCount returns the number of hard snaps taken, for tests.
func (p *PLLSlave) SnapCount() int64 {
	return p.snapCount
}

// FilterFill returns the number of buffered filter samples, for tests.
func (p *PLLSlave) FilterFill() int {
	return p.filter.len()
}
