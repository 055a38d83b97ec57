package simtime

import (
	"sort"

	"simkernel/internal/core/ecs"
	"simkernel/pkg/logger"
)

// SteppedMaster is the deterministic lockstep master. Each frame it
// publishes a FrameOrder and waits for a FrameAck from every declared
// slave before advancing; until the acks arrive, Update returns
// zero-dt waiting samples.
type SteppedMaster struct {
	ep         *Endpoint
	log        *logger.Logger
	fixedDelta float64
	slaves     map[int32]bool

	frame     int64
	total     float64
	scale     float64
	acked     map[int32]bool
	orderSent bool
	waiting   int64 // consecutive zero-dt updates while acks are missing
}

// NewSteppedMaster creates the lockstep master over the declared set of
// slave node ids.
func NewSteppedMaster(ep *Endpoint, fixedDelta float64, slaveIDs []int32, log *logger.Logger) *SteppedMaster {
	slaves := make(map[int32]bool, len(slaveIDs))
	for _, id := range slaveIDs {
		slaves[id] = true
	}
	return &SteppedMaster{
		ep:         ep,
		log:        log,
		fixedDelta: fixedDelta,
		slaves:     slaves,
		acked:      make(map[int32]bool, len(slaveIDs)),
		scale:      1,
	}
}

// Update publishes the pending frame order if needed, collects acks,
// and advances exactly when every slave has acknowledged the current
// frame. Acks for earlier frames are stale and ignored.
func (m *SteppedMaster) Update() Sample {
	if m.ep == nil {
		// Standalone stepped operation: no slaves to wait for.
		return m.advance()
	}

	if !m.orderSent {
		m.ep.BroadcastOrder(FrameOrder{FrameID: m.frame, FixedDelta: float32(m.fixedDelta)})
		m.orderSent = true
	}

	for _, ack := range m.ep.DrainAcks() {
		if ack.FrameID < m.frame {
			continue // stale
		}
		if ack.FrameID == m.frame && m.slaves[ack.NodeID] {
			m.acked[ack.NodeID] = true
		}
	}

	if len(m.acked) < len(m.slaves) {
		m.waiting++
		return Sample{TotalTime: m.total, Frame: m.frame, TimeScale: m.scale}
	}

	return m.advance()
}

func (m *SteppedMaster) advance() Sample {
	m.waiting = 0
	m.orderSent = false
	for id := range m.acked {
		delete(m.acked, id)
	}

	dt := m.fixedDelta
	m.total += dt
	m.frame++
	return Sample{DT: dt, UnscaledDT: m.fixedDelta, TotalTime: m.total, Frame: m.frame, TimeScale: m.scale}
}

// Step advances unconditionally by the given fixed delta and publishes
// the order for the executed frame. Manual mode bypasses the ack
// barrier.
func (m *SteppedMaster) Step(fixedDelta float64) (Sample, error) {
	if m.ep != nil {
		m.ep.BroadcastOrder(FrameOrder{FrameID: m.frame, FixedDelta: float32(fixedDelta)})
	}
	m.orderSent = false
	for id := range m.acked {
		delete(m.acked, id)
	}
	m.total += fixedDelta
	m.frame++
	return Sample{DT: fixedDelta, UnscaledDT: fixedDelta, TotalTime: m.total, Frame: m.frame, TimeScale: m.scale}, nil
}

// MissingAcks returns the slaves that have not acknowledged the current
// frame, in id order.
func (m *SteppedMaster) MissingAcks() []int32 {
	var out []int32
	for id := range m.slaves {
		if !m.acked[id] {
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PeerStatus reports PeerUnreachable once the master has waited more
// than maxWaitingUpdates consecutive updates on missing acks.
func (m *SteppedMaster) PeerStatus(maxWaitingUpdates int64) error {
	if maxWaitingUpdates > 0 && m.waiting >= maxWaitingUpdates {
		return ecs.Errorf(ecs.CodePeerUnreachable, "no ack from nodes %v after %d updates", m.MissingAcks(), m.waiting)
	}
	return nil
}

// SetTimeScale records the scale for state preservation; stepped time
// advances by the fixed delta regardless.
func (m *SteppedMaster) SetTimeScale(scale float64) {
	m.scale = scale
}

// State returns the swap-preserved state.
func (m *SteppedMaster) State() State {
	return State{TotalTime: m.total, Frame: m.frame, TimeScale: m.scale}
}

// SeedState installs predecessor state.
func (m *SteppedMaster) SeedState(s State) {
	m.total = s.TotalTime
	m.frame = s.Frame
	if s.TimeScale != 0 {
		m.scale = s.TimeScale
	}
	m.orderSent = false
	for id := range m.acked {
		delete(m.acked, id)
	}
}

// SteppedSlave is the deterministic lockstep slave. It waits for the
// order of its next expected frame, executes with the ordered fixed
// delta, and acknowledges with its node id.
type SteppedSlave struct {
	ep     *Endpoint
	log    *logger.Logger
	nodeID int32

	frame   int64
	total   float64
	scale   float64
	pending []FrameOrder
}

// NewSteppedSlave creates the lockstep slave.
func NewSteppedSlave(ep *Endpoint, nodeID int32, log *logger.Logger) *SteppedSlave {
	return &SteppedSlave{ep: ep, log: log, nodeID: nodeID, scale: 1}
}

// Update executes the next expected frame if its order has arrived,
// then acks; otherwise it returns a zero-dt sample. Orders for frames
// already executed are dropped; orders from the future are held.
func (s *SteppedSlave) Update() Sample {
	s.pending = append(s.pending, s.ep.DrainOrders()...)

	for i, order := range s.pending {
		if order.FrameID < s.frame {
			continue
		}
		if order.FrameID != s.frame {
			continue
		}
		s.pending = append(s.pending[:i], s.pending[i+1:]...)
		s.dropStale()

		dt := float64(order.FixedDelta)
		s.total += dt
		s.frame++
		if err := s.ep.SendAck(MasterNodeID, FrameAck{FrameID: order.FrameID, NodeID: s.nodeID}); err != nil && s.log != nil {
			s.log.Errorf("lockstep slave %d: ack send failed: %v", s.nodeID, err)
		}
		return Sample{DT: dt, UnscaledDT: dt, TotalTime: s.total, Frame: s.frame, TimeScale: s.scale}
	}

	s.dropStale()
	return Sample{TotalTime: s.total, Frame: s.frame, TimeScale: s.scale}
}

func (s *SteppedSlave) dropStale() {
	kept := s.pending[:0]
	for _, o := range s.pending {
		if o.FrameID >= s.frame {
			kept = append(kept, o)
		}
	}
	s.pending = kept
}

// Step is not supported by the slave.
func (s *SteppedSlave) Step(float64) (Sample, error) {
	return Sample{}, ecs.NewError(ecs.CodeWrongMode, "step is only valid on a stepped master")
}

// SetTimeScale records the scale; stepped time ignores it.
func (s *SteppedSlave) SetTimeScale(scale float64) {
	s.scale = scale
}

// State returns the swap-preserved state.
func (s *SteppedSlave) State() State {
	return State{TotalTime: s.total, Frame: s.frame, TimeScale: s.scale}
}

// SeedState installs predecessor state.
func (s *SteppedSlave) SeedState(st State) {
	s.total = st.TotalTime
	s.frame = st.Frame
	if st.TimeScale != 0 {
		s.scale = st.TimeScale
	}
	s.pending = s.pending[:0]
}
