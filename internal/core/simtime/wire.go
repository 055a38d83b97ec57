package simtime

import (
	"encoding/binary"
	"math"

	"simkernel/internal/core/ecs"
)

// Wire messages of the synchronization subsystem. All fields are
// fixed-width little-endian on the wire; the structs are pointer-free
// so they double as event payloads on the in-process bus.

// TimeMode identifies a time-controller family in SwitchTimeMode.
type TimeMode uint8

const (
	ModeContinuous TimeMode = iota
	ModeDeterministic
)

// String returns the mode name.
func (m TimeMode) String() string {
	switch m {
	case ModeContinuous:
		return "continuous"
	case ModeDeterministic:
		return "deterministic"
	default:
		return "unknown"
	}
}

// TimePulse is the master's 1 Hz wall-clock reference broadcast.
type TimePulse struct {
	MasterWallTicks int64
	SimTimeSnapshot float64
	TimeScale       float32
	SequenceID      int64
}

// FrameOrder instructs lockstep slaves to execute one frame.
type FrameOrder struct {
	FrameID    int64
	FixedDelta float32
}

// FrameAck confirms a slave's execution of one frame.
type FrameAck struct {
	FrameID int64
	NodeID  int32
}

// SwitchTimeMode coordinates a cluster-wide controller swap at a
// barrier frame.
type SwitchTimeMode struct {
	TargetMode     TimeMode
	BarrierFrame   int64
	ReferenceFrame int64
}

// Encoded sizes in bytes.
const (
	TimePulseWireSize      = 8 + 8 + 4 + 8
	FrameOrderWireSize     = 8 + 4
	FrameAckWireSize       = 8 + 4
	SwitchTimeModeWireSize = 1 + 8 + 8
)

// MarshalBinary encodes the pulse little-endian.
func (p TimePulse) MarshalBinary() ([]byte, error) {
	buf := make([]byte, TimePulseWireSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(p.MasterWallTicks))
	binary.LittleEndian.PutUint64(buf[8:], math.Float64bits(p.SimTimeSnapshot))
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(p.TimeScale))
	binary.LittleEndian.PutUint64(buf[20:], uint64(p.SequenceID))
	return buf, nil
}

// UnmarshalBinary decodes the pulse.
func (p *TimePulse) UnmarshalBinary(buf []byte) error {
	if len(buf) < TimePulseWireSize {
		return ecs.Errorf(ecs.CodePolicyInvalid, "time pulse needs %d bytes, got %d", TimePulseWireSize, len(buf))
	}
	p.MasterWallTicks = int64(binary.LittleEndian.Uint64(buf[0:]))
	p.SimTimeSnapshot = math.Float64frombits(binary.LittleEndian.Uint64(buf[8:]))
	p.TimeScale = math.Float32frombits(binary.LittleEndian.Uint32(buf[16:]))
	p.SequenceID = int64(binary.LittleEndian.Uint64(buf[20:]))
	return nil
}

// MarshalBinary encodes the order little-endian.
func (o FrameOrder) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameOrderWireSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(o.FrameID))
	binary.LittleEndian.PutUint32(buf[8:], math.Float32bits(o.FixedDelta))
	return buf, nil
}

// UnmarshalBinary decodes the order.
func (o *FrameOrder) UnmarshalBinary(buf []byte) error {
	if len(buf) < FrameOrderWireSize {
		return ecs.Errorf(ecs.CodePolicyInvalid, "frame order needs %d bytes, got %d", FrameOrderWireSize, len(buf))
	}
	o.FrameID = int64(binary.LittleEndian.Uint64(buf[0:]))
	o.FixedDelta = math.Float32frombits(binary.LittleEndian.Uint32(buf[8:]))
	return nil
}

// MarshalBinary encodes the ack little-endian.
func (a FrameAck) MarshalBinary() ([]byte, error) {
	buf := make([]byte, FrameAckWireSize)
	binary.LittleEndian.PutUint64(buf[0:], uint64(a.FrameID))
	binary.LittleEndian.PutUint32(buf[8:], uint32(a.NodeID))
	return buf, nil
}

// UnmarshalBinary decodes the ack.
func (a *FrameAck) UnmarshalBinary(buf []byte) error {
	if len(buf) < FrameAckWireSize {
		return ecs.Errorf(ecs.CodePolicyInvalid, "frame ack needs %d bytes, got %d", FrameAckWireSize, len(buf))
	}
	a.FrameID = int64(binary.LittleEndian.Uint64(buf[0:]))
	a.NodeID = int32(binary.LittleEndian.Uint32(buf[8:]))
	return nil
}

// MarshalBinary encodes the switch message little-endian.
func (s SwitchTimeMode) MarshalBinary() ([]byte, error) {
	buf := make([]byte, SwitchTimeModeWireSize)
	buf[0] = byte(s.TargetMode)
	binary.LittleEndian.PutUint64(buf[1:], uint64(s.BarrierFrame))
	binary.LittleEndian.PutUint64(buf[9:], uint64(s.ReferenceFrame))
	return buf, nil
}

// UnmarshalBinary decodes the switch message.
func (s *SwitchTimeMode) UnmarshalBinary(buf []byte) error {
	if len(buf) < SwitchTimeModeWireSize {
		return ecs.Errorf(ecs.CodePolicyInvalid, "switch message needs %d bytes, got %d", SwitchTimeModeWireSize, len(buf))
	}
	s.TargetMode = TimeMode(buf[0])
	s.BarrierFrame = int64(binary.LittleEndian.Uint64(buf[1:]))
	s.ReferenceFrame = int64(binary.LittleEndian.Uint64(buf[9:]))
	return nil
}
