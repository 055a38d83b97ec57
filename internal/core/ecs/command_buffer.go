package ecs

// EventSink receives events re-published during command buffer
// playback. The event bus implements it.
type EventSink interface {
	PublishRaw(id TypeID, data []byte) error
}

// Ref names an entity inside a command buffer: either a real handle or
// a negative temp id returned by CreateEntity, resolved at playback.
type Ref struct {
	temp   int32
	handle Entity
}

// HandleRef wraps an existing entity handle for use in commands.
func HandleRef(e Entity) Ref {
	return Ref{handle: e}
}

// IsTemp reports whether the ref names a pending create.
func (r Ref) IsTemp() bool {
	return r.temp < 0
}

// TempID returns the negative temp id, or 0 for handle refs.
func (r Ref) TempID() int32 {
	return r.temp
}

type commandOp uint8

const (
	opCreate commandOp = iota
	opDestroy
	opSetComponent
	opSetManaged
	opRemoveComponent
	opSetLifecycle
	opPublishEvent
)

type command struct {
	op        commandOp
	target    Ref
	typeID    TypeID
	payload   []byte
	managed   any
	lifecycle Lifecycle
}

// CommandBuffer is a thread-local journal of structural operations.
// Worker threads record against their buffer; the orchestrator plays
// the journal back in FIFO order against the live world, remapping
// temp ids to the entities allocated during playback.
type CommandBuffer struct {
	reg      *Registry
	commands []command
	nextTemp int32
}

// NewCommandBuffer creates an empty journal over the given schema.
func NewCommandBuffer(reg *Registry) *CommandBuffer {
	return &CommandBuffer{reg: reg, nextTemp: -1}
}

// Len returns the number of recorded commands.
func (cb *CommandBuffer) Len() int {
	return len(cb.commands)
}

// Reset drops all recorded commands, keeping capacity.
func (cb *CommandBuffer) Reset() {
	cb.commands = cb.commands[:0]
	cb.nextTemp = -1
}

// CreateEntity records an entity creation and returns a negative temp
// ref. The ref is legal in every subsequent command of the same buffer
// and resolves to the entity allocated at playback.
func (cb *CommandBuffer) CreateEntity() Ref {
	ref := Ref{temp: cb.nextTemp}
	cb.nextTemp--
	cb.commands = append(cb.commands, command{op: opCreate, target: ref})
	return ref
}

// DestroyEntity records a deferred destruction.
func (cb *CommandBuffer) DestroyEntity(target Ref) {
	cb.commands = append(cb.commands, command{op: opDestroy, target: target})
}

// SetLifecycle records a deferred lifecycle transition.
func (cb *CommandBuffer) SetLifecycle(target Ref, state Lifecycle) {
	cb.commands = append(cb.commands, command{op: opSetLifecycle, target: target, lifecycle: state})
}

// RemoveComponentID records a deferred component removal.
func (cb *CommandBuffer) RemoveComponentID(target Ref, id TypeID) {
	cb.commands = append(cb.commands, command{op: opRemoveComponent, target: target, typeID: id})
}

// RecordSet records a deferred add-or-set of an unmanaged component.
// The value bytes are captured at record time.
func RecordSet[T any](cb *CommandBuffer, target Ref, v T) error {
	id, err := ComponentID[T](cb.reg)
	if err != nil {
		return err
	}
	payload := make([]byte, len(rawBytes(&v)))
	copy(payload, rawBytes(&v))
	cb.commands = append(cb.commands, command{op: opSetComponent, target: target, typeID: id, payload: payload})
	return nil
}

// RecordSetManaged records a deferred add-or-set of a managed
// component. The reference is captured as-is.
func RecordSetManaged[T any](cb *CommandBuffer, target Ref, v T) error {
	id, err := ComponentID[T](cb.reg)
	if err != nil {
		return err
	}
	cb.commands = append(cb.commands, command{op: opSetManaged, target: target, typeID: id, managed: any(v)})
	return nil
}

// RecordRemove records a deferred removal of component T.
func RecordRemove[T any](cb *CommandBuffer, target Ref) error {
	id, err := ComponentID[T](cb.reg)
	if err != nil {
		return err
	}
	cb.RemoveComponentID(target, id)
	return nil
}

// RecordEvent records a deferred event publication, delivered through
// the sink at playback.
func RecordEvent[T any](cb *CommandBuffer, v T) error {
	id, err := EventID[T](cb.reg)
	if err != nil {
		return err
	}
	payload := make([]byte, len(rawBytes(&v)))
	copy(payload, rawBytes(&v))
	cb.commands = append(cb.commands, command{op: opPublishEvent, typeID: id, payload: payload})
	return nil
}

// Playback applies the journal against the repository in FIFO order on
// the orchestrator thread. Temp refs resolve consistently to the
// entities allocated here. The first failing command aborts playback
// and returns its error; prior commands stay applied.
func (cb *CommandBuffer) Playback(repo *Repository, sink EventSink) error {
	remap := make(map[int32]Entity, 8)

	resolve := func(ref Ref) (Entity, error) {
		if !ref.IsTemp() {
			return ref.handle, nil
		}
		e, ok := remap[ref.temp]
		if !ok {
			return Nil, Errorf(CodeNotAlive, "temp id %d was never created in this buffer", ref.temp)
		}
		return e, nil
	}

	for i := range cb.commands {
		cmd := &cb.commands[i]
		switch cmd.op {
		case opCreate:
			e, err := repo.CreateEntity()
			if err != nil {
				return err
			}
			remap[cmd.target.temp] = e

		case opDestroy:
			e, err := resolve(cmd.target)
			if err != nil {
				return err
			}
			if err := repo.DestroyEntity(e); err != nil {
				return err
			}

		case opSetLifecycle:
			e, err := resolve(cmd.target)
			if err != nil {
				return err
			}
			if err := repo.SetLifecycle(e, cmd.lifecycle); err != nil {
				return err
			}

		case opSetComponent:
			e, err := resolve(cmd.target)
			if err != nil {
				return err
			}
			if err := repo.SetRawComponent(e, cmd.typeID, cmd.payload); err != nil {
				return err
			}

		case opSetManaged:
			e, err := resolve(cmd.target)
			if err != nil {
				return err
			}
			if err := repo.setManagedByID(e, cmd.typeID, cmd.managed); err != nil {
				return err
			}

		case opRemoveComponent:
			e, err := resolve(cmd.target)
			if err != nil {
				return err
			}
			if err := repo.RemoveComponentID(e, cmd.typeID); err != nil {
				return err
			}

		case opPublishEvent:
			if sink == nil {
				return NewError(CodePolicyInvalid, "buffer publishes events but playback has no sink")
			}
			if err := sink.PublishRaw(cmd.typeID, cmd.payload); err != nil {
				return err
			}
		}
	}
	return nil
}

// setManagedByID is the untyped playback path for managed components.
func (r *Repository) setManagedByID(e Entity, id TypeID, v any) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return err
	}
	if t.info.Kind != KindManaged {
		return Errorf(CodePolicyInvalid, "type %s is unmanaged", t.info.Name).WithType(id)
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	return setManagedRow(r, t, h, e, id, v)
}
