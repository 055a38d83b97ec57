package simtime

import (
	"simkernel/internal/core/ecs"
	"simkernel/pkg/logger"
)

// Role places a node in the time topology.
type Role uint8

const (
	RoleStandalone Role = iota
	RoleMaster
	RoleSlave
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleStandalone:
		return "standalone"
	case RoleMaster:
		return "master"
	case RoleSlave:
		return "slave"
	default:
		return "unknown"
	}
}

// Manager owns the active time controller and drives the cluster-wide
// mode-switch protocol. Controllers are swappable at runtime; the swap
// preserves (total time, frame number) bit-for-bit through the State /
// SeedState handshake.
type Manager struct {
	cfg      Config
	clock    Clock
	ep       *Endpoint // nil for standalone
	log      *logger.Logger
	role     Role
	nodeID   int32
	slaveIDs []int32

	current Controller
	mode    TimeMode
	pending *SwitchTimeMode
}

// NewManager creates the manager with a continuous controller matching
// the role.
func NewManager(cfg Config, clock Clock, ep *Endpoint, role Role, slaveIDs []int32, log *logger.Logger) *Manager {
	m := &Manager{
		cfg:      cfg,
		clock:    clock,
		ep:       ep,
		log:      log,
		role:     role,
		slaveIDs: slaveIDs,
		mode:     ModeContinuous,
	}
	if ep != nil {
		m.nodeID = ep.NodeID()
	}
	m.current = m.buildController(ModeContinuous)
	return m
}

// Update processes pending mode switches and produces the frame's time
// sample from the active controller.
func (m *Manager) Update() Sample {
	m.ingestSwitches()

	sample := m.current.Update()

	if m.pending != nil && sample.Frame >= m.pending.BarrierFrame {
		m.executeSwitch(*m.pending)
		m.pending = nil
	}

	return sample
}

func (m *Manager) ingestSwitches() {
	if m.ep == nil {
		return
	}
	for _, sw := range m.ep.DrainSwitches() {
		msg := sw
		if sw.TargetMode == ModeContinuous {
			// Unpause is immediate on both sides.
			m.executeSwitch(msg)
			m.pending = nil
			continue
		}
		if m.current.State().Frame >= sw.BarrierFrame {
			// The barrier already passed before the message arrived: swap
			// immediately from local state, without rewinding.
			if m.log != nil {
				m.log.Warnf("time switch: %s barrier frame %d already passed at frame %d, swapping immediately",
					ecs.CodeBarrierExpired, sw.BarrierFrame, m.current.State().Frame)
			}
			m.executeSwitch(msg)
			m.pending = nil
			continue
		}
		m.pending = &msg
	}
}

// RequestPause broadcasts the continuous-to-deterministic switch with
// the configured lookahead and schedules the local swap at the same
// barrier frame. Master only.
func (m *Manager) RequestPause() error {
	if m.role != RoleMaster {
		return ecs.NewError(ecs.CodeWrongMode, "only the master initiates a pause")
	}
	if m.mode == ModeDeterministic {
		return ecs.NewError(ecs.CodeWrongMode, "already in deterministic mode")
	}
	state := m.current.State()
	sw := SwitchTimeMode{
		TargetMode:     ModeDeterministic,
		BarrierFrame:   state.Frame + int64(m.cfg.PauseBarrierFrames),
		ReferenceFrame: state.Frame,
	}
	m.ep.BroadcastSwitch(sw)
	m.pending = &sw
	return nil
}

// RequestResume broadcasts the deterministic-to-continuous switch and
// swaps immediately. Master only.
func (m *Manager) RequestResume() error {
	if m.role != RoleMaster {
		return ecs.NewError(ecs.CodeWrongMode, "only the master initiates a resume")
	}
	if m.mode == ModeContinuous {
		return ecs.NewError(ecs.CodeWrongMode, "already in continuous mode")
	}
	state := m.current.State()
	sw := SwitchTimeMode{
		TargetMode:     ModeContinuous,
		BarrierFrame:   state.Frame,
		ReferenceFrame: state.Frame,
	}
	m.ep.BroadcastSwitch(sw)
	m.executeSwitch(sw)
	m.pending = nil
	return nil
}

func (m *Manager) executeSwitch(sw SwitchTimeMode) {
	if sw.TargetMode == m.mode {
		return
	}
	next := m.buildController(sw.TargetMode)
	m.SwapController(next)
	m.mode = sw.TargetMode
	if m.log != nil {
		m.log.Infof("time mode switched to %s at frame %d", sw.TargetMode, m.current.State().Frame)
	}
}

// SwapController replaces the active controller, seeding it with the
// predecessor's state so total time and frame number carry over
// unchanged. The continuous controllers reseed their last-tick marker
// inside SeedState, so accumulated wall slack never reaches the first
// post-swap delta.
func (m *Manager) SwapController(next Controller) {
	next.SeedState(m.current.State())
	m.current = next
}

func (m *Manager) buildController(mode TimeMode) Controller {
	fixed := float64(m.cfg.FixedDeltaSeconds)
	switch mode {
	case ModeDeterministic:
		switch m.role {
		case RoleSlave:
			return NewSteppedSlave(m.ep, m.nodeID, m.log)
		default:
			// A standalone stepped master has no slaves and advances
			// freely at the fixed delta.
			return NewSteppedMaster(m.ep, fixed, m.slaveIDs, m.log)
		}
	default:
		switch m.role {
		case RoleMaster:
			return NewContinuousMaster(m.clock, m.ep, m.log)
		case RoleSlave:
			return NewPLLSlave(m.clock, m.ep, m.cfg, m.log)
		default:
			return NewContinuous(m.clock, m.log)
		}
	}
}

// Step forwards a manual advance to the active controller.
func (m *Manager) Step(fixedDelta float64) (Sample, error) {
	return m.current.Step(fixedDelta)
}

// SetTimeScale forwards the scale change to the active controller.
func (m *Manager) SetTimeScale(scale float64) {
	m.current.SetTimeScale(scale)
}

// State returns the active controller's swap-preserved state.
func (m *Manager) State() State {
	return m.current.State()
}

// Mode returns the active time mode.
func (m *Manager) Mode() TimeMode {
	return m.mode
}

// Current returns the active controller, for tests.
func (m *Manager) Current() Controller {
	return m.current
}
