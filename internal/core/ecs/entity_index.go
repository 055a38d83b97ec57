package ecs

// slotHeader is the per-slot entity header: generation counter,
// lifecycle state, and the archetype bitmask of carried components.
type slotHeader struct {
	generation uint32
	lifecycle  Lifecycle
	mask       TypeMask
}

// entityIndex owns the slot headers and supplies stable generational
// handles. Dead slots are recycled through a free list; reuse bumps the
// generation so old handles observably dangle.
type entityIndex struct {
	slots []slotHeader
	free  []uint32
	live  int
}

func newEntityIndex(initialCapacity int) entityIndex {
	return entityIndex{
		slots: make([]slotHeader, 0, initialCapacity),
		free:  make([]uint32, 0, 64),
	}
}

// allocate returns a handle for a fresh or recycled slot with the given
// initial lifecycle.
func (ei *entityIndex) allocate(state Lifecycle) Entity {
	var idx uint32
	if n := len(ei.free); n > 0 {
		idx = ei.free[n-1]
		ei.free = ei.free[:n-1]
		// Generation was already bumped at release time.
		ei.slots[idx].lifecycle = state
		ei.slots[idx].mask = TypeMask{}
	} else {
		idx = uint32(len(ei.slots))
		ei.slots = append(ei.slots, slotHeader{generation: 1, lifecycle: state})
	}
	ei.live++
	return MakeEntity(idx, ei.slots[idx].generation)
}

// release marks the slot dead, bumps its generation, and queues the
// index for reuse. The bumped generation guarantees that any handle
// minted later for the same index is disjoint from all prior handles.
func (ei *entityIndex) release(idx uint32) {
	ei.slots[idx].lifecycle = LifecycleDead
	ei.slots[idx].generation++
	ei.slots[idx].mask = TypeMask{}
	ei.free = append(ei.free, idx)
	ei.live--
}

// resolve validates a handle: the generation must match the slot and
// the slot must not be dead.
func (ei *entityIndex) resolve(e Entity) (*slotHeader, bool) {
	idx := e.Index()
	if int(idx) >= len(ei.slots) {
		return nil, false
	}
	h := &ei.slots[idx]
	if h.generation != e.Generation() || h.lifecycle == LifecycleDead {
		return nil, false
	}
	return h, true
}

// liveCount returns the number of allocated, non-dead slots.
func (ei *entityIndex) liveCount() int {
	return ei.live
}

// capacity returns the number of slots ever allocated.
func (ei *entityIndex) capacity() int {
	return len(ei.slots)
}

// copyFrom replaces this index with a deep copy of src. Slot headers
// are plain values, so a slice copy is a full snapshot.
func (ei *entityIndex) copyFrom(src *entityIndex) {
	if cap(ei.slots) < len(src.slots) {
		ei.slots = make([]slotHeader, len(src.slots))
	} else {
		ei.slots = ei.slots[:len(src.slots)]
	}
	copy(ei.slots, src.slots)

	if cap(ei.free) < len(src.free) {
		ei.free = make([]uint32, len(src.free))
	} else {
		ei.free = ei.free[:len(src.free)]
	}
	copy(ei.free, src.free)
	ei.live = src.live
}
