// Package events implements the double-buffered, type-indexed event
// transport of the simulation kernel.
//
// Every registered event type owns two append buffers. Publishers
// append to the pending buffer from any thread; the orchestrator swaps
// the buffers once per frame, making last frame's events the current,
// read-only set. There is no same-frame delivery: an event published in
// frame N is consumable exactly from frame N+1 until the next swap.
//
// Publish reserves a slot with an atomic fetch-add. The payload write
// is guarded by a reader lock so that capacity growth — which doubles
// the buffer under the matching writer lock — cannot move memory out
// from under an in-flight publisher. This one-shot-lock-on-overflow
// scheme was chosen over a CAS-grown ring for its simplicity; growth is
// rare after warm-up because capacity never shrinks.
package events

import (
	"sync"
	"sync/atomic"
	"unsafe"

	"simkernel/internal/core/ecs"
)

const initialCapacity = 1024

// buffer is one half of a stream's double buffer.
type buffer struct {
	mu       sync.RWMutex
	count    atomic.Int64
	data     []byte
	capElems int
	elemSize int
}

func newBuffer(elemSize int) *buffer {
	es := elemSize
	if es == 0 {
		es = 1
	}
	return &buffer{
		data:     make([]byte, initialCapacity*es),
		capElems: initialCapacity,
		elemSize: es,
	}
}

// append reserves a slot and copies the payload in.
func (b *buffer) append(payload []byte) {
	for {
		b.mu.RLock()
		n := b.count.Add(1) - 1
		if n < int64(b.capElems) {
			copy(b.data[int(n)*b.elemSize:], payload)
			b.mu.RUnlock()
			return
		}
		// Overflow: undo the reservation, release the read side, and
		// grow under the writer lock.
		b.count.Add(-1)
		b.mu.RUnlock()
		b.grow()
	}
}

func (b *buffer) grow() {
	b.mu.Lock()
	if int(b.count.Load()) >= b.capElems {
		next := make([]byte, 2*len(b.data))
		copy(next, b.data)
		b.data = next
		b.capElems *= 2
	}
	b.mu.Unlock()
}

func (b *buffer) reset() {
	b.count.Store(0)
}

func (b *buffer) len() int {
	return int(b.count.Load())
}

// stream is the per-event-type double buffer plus the role tag naming
// which half is currently pending.
type stream struct {
	info    *ecs.TypeInfo
	bufs    [2]*buffer
	pending atomic.Uint32
}

func (s *stream) pendingBuf() *buffer {
	return s.bufs[s.pending.Load()]
}

func (s *stream) currentBuf() *buffer {
	return s.bufs[1-s.pending.Load()]
}

// Bus is the event transport for one host. It is bound to a sealed
// registry; every registered event type gets a stream.
type Bus struct {
	reg     *ecs.Registry
	streams []*stream
	active  []ecs.TypeID // event ids with data in the current buffers
}

// NewBus creates the bus for every event type registered so far. Call
// after schema registration is complete.
func NewBus(reg *ecs.Registry) *Bus {
	infos := reg.AllEvents()
	b := &Bus{
		reg:     reg,
		streams: make([]*stream, len(infos)),
		active:  make([]ecs.TypeID, 0, len(infos)),
	}
	for i, info := range infos {
		b.streams[i] = &stream{
			info: info,
			bufs: [2]*buffer{newBuffer(info.Size), newBuffer(info.Size)},
		}
	}
	return b
}

func (b *Bus) streamOf(id ecs.TypeID) (*stream, error) {
	if int(id) >= len(b.streams) {
		return nil, ecs.ErrNotRegistered(id)
	}
	return b.streams[id], nil
}

// PublishRaw appends pre-encoded payload bytes to the pending buffer of
// the event type. Safe from any thread. Implements ecs.EventSink for
// command buffer playback.
func (b *Bus) PublishRaw(id ecs.TypeID, payload []byte) error {
	s, err := b.streamOf(id)
	if err != nil {
		return err
	}
	if len(payload) != s.info.Size {
		return ecs.Errorf(ecs.CodePolicyInvalid, "payload size %d does not match event size %d", len(payload), s.info.Size).WithType(id)
	}
	s.pendingBuf().append(payload)
	return nil
}

// Publish appends one event value to the pending buffer. O(1),
// multi-writer safe.
func Publish[T any](b *Bus, v T) error {
	id, err := ecs.EventID[T](b.reg)
	if err != nil {
		return err
	}
	s := b.streams[id]
	s.pendingBuf().append(valueBytes(&v))
	return nil
}

// SwapBuffers clears the outgoing current buffers, promotes pending to
// current, and rebuilds the active-type set. Single-writer: only the
// orchestrator calls this, once per frame.
func (b *Bus) SwapBuffers() {
	b.active = b.active[:0]
	for id, s := range b.streams {
		s.currentBuf().reset()
		s.pending.Store(1 - s.pending.Load())
		if s.currentBuf().len() > 0 {
			b.active = append(b.active, ecs.TypeID(id))
		}
	}
}

// Consume returns a zero-copy view of the current buffer of event type
// T. Repeated calls within the same frame return equal data; the view
// is invalidated by the next SwapBuffers.
func Consume[T any](b *Bus) ([]T, error) {
	id, err := ecs.EventID[T](b.reg)
	if err != nil {
		return nil, err
	}
	s := b.streams[id]
	cur := s.currentBuf()
	n := cur.len()
	if n == 0 {
		return nil, nil
	}
	return unsafe.Slice((*T)(unsafe.Pointer(&cur.data[0])), n), nil
}

// HasEvent reports whether at least one event of the type is present in
// the current buffer after the most recent swap.
func (b *Bus) HasEvent(id ecs.TypeID) bool {
	s, err := b.streamOf(id)
	if err != nil {
		return false
	}
	return s.currentBuf().len() > 0
}

// CountOf returns the number of current events of the type.
func (b *Bus) CountOf(id ecs.TypeID) int {
	s, err := b.streamOf(id)
	if err != nil {
		return 0
	}
	return s.currentBuf().len()
}

// StreamView describes one active event stream for serialization.
type StreamView struct {
	TypeID      ecs.TypeID
	ElementSize int
	Count       int
	Bytes       []byte
}

// Streams enumerates the active streams of the current frame: type id,
// element size, count, and the raw current-buffer bytes.
func (b *Bus) Streams() []StreamView {
	out := make([]StreamView, 0, len(b.active))
	for _, id := range b.active {
		s := b.streams[id]
		cur := s.currentBuf()
		n := cur.len()
		out = append(out, StreamView{
			TypeID:      id,
			ElementSize: s.info.Size,
			Count:       n,
			Bytes:       cur.data[:n*cur.elemSize],
		})
	}
	return out
}

// ActiveTypes returns the event type ids present in the current frame.
func (b *Bus) ActiveTypes() []ecs.TypeID {
	out := make([]ecs.TypeID, len(b.active))
	copy(out, b.active)
	return out
}

func valueBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
