package ecs

import (
	"unsafe"
)

// Repository owns the entity index, the per-type chunked tables, and
// the singleton slots of one world. The live world is mutated only by
// the orchestrator thread during writable phases; mirror repositories
// are read-only views populated by dirty-chunk sync.
type Repository struct {
	reg *Registry
	cfg RepositoryConfig

	index      entityIndex
	tables     []*table
	singletons []*singletonSlot

	globalVersion uint64
	phase         Phase
	readOnly      bool
	activeIters   int

	// Mirror bookkeeping: versions of source chunks already copied in,
	// so SyncFrom touches only chunks written since the last sync.
	syncChunks     [][]uint64
	syncSingletons []uint64
}

// NewRepository creates the live world for a registered schema. The
// registry is sealed: every mirror created later shares the same dense
// type ids, so all registration must happen first.
func NewRepository(reg *Registry, cfg RepositoryConfig) *Repository {
	reg.Seal()
	r := &Repository{
		reg:           reg,
		cfg:           cfg,
		index:         newEntityIndex(cfg.InitialCapacity),
		phase:         PhaseInput,
		globalVersion: 1,
	}
	r.buildStorage()
	return r
}

// NewMirror creates an empty repository over the same schema, intended
// as a sync target. Mirrors are read-only from the consumer's side.
func (r *Repository) NewMirror() *Repository {
	m := &Repository{
		reg:      r.reg,
		cfg:      r.cfg,
		index:    newEntityIndex(r.cfg.InitialCapacity),
		readOnly: true,
		phase:    PhaseExport,
	}
	m.buildStorage()
	return m
}

func (r *Repository) buildStorage() {
	infos := r.reg.AllComponents()
	r.tables = make([]*table, len(infos))
	r.singletons = make([]*singletonSlot, len(infos))
	r.syncChunks = make([][]uint64, len(infos))
	r.syncSingletons = make([]uint64, len(infos))
	for i, info := range infos {
		if info.Singleton {
			r.singletons[i] = newSingletonSlot(info)
		} else {
			r.tables[i] = newTable(info)
		}
	}
}

// Registry returns the schema registry shared by this repository
// family.
func (r *Repository) Registry() *Registry {
	return r.reg
}

// ==============================================
// Versioning and Phases
// ==============================================

// Tick bumps the global version. Called exactly once per frame by the
// orchestrator before any phase runs.
func (r *Repository) Tick() {
	r.globalVersion++
}

// GlobalVersion returns the current global version.
func (r *Repository) GlobalVersion() uint64 {
	return r.globalVersion
}

// SetPhase moves the repository into the given frame phase.
func (r *Repository) SetPhase(p Phase) {
	r.phase = p
}

// CurrentPhase returns the active frame phase.
func (r *Repository) CurrentPhase() Phase {
	return r.phase
}

// ReadOnly reports whether this repository is a mirror view.
func (r *Repository) ReadOnly() bool {
	return r.readOnly
}

// HasComponentChanged reports whether any chunk of the component type
// was written after the given version. Singleton types compare their
// dedicated slot.
func (r *Repository) HasComponentChanged(id TypeID, since uint64) bool {
	if int(id) >= len(r.tables) {
		return false
	}
	if s := r.singletons[id]; s != nil {
		return s.lastWrite > since
	}
	return r.tables[id].changedSince(since)
}

func (r *Repository) checkMutable() error {
	if r.readOnly {
		return NewError(CodeStructuralDuringRead, "repository is a read-only view")
	}
	if !r.phase.Writable() {
		return ErrWrongPhase(r.phase)
	}
	return nil
}

func (r *Repository) checkStructural() error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if r.activeIters > 0 {
		return NewError(CodeStructuralDuringRead, "structural mutation while query iterators are live")
	}
	return nil
}

// ==============================================
// Entity Lifecycle
// ==============================================

// CreateEntity allocates a slot (reusing dead slots) and returns its
// handle with lifecycle Active. O(1) amortized.
func (r *Repository) CreateEntity() (Entity, error) {
	return r.CreateEntityWithState(LifecycleActive)
}

// CreateEntityWithState allocates a slot with an explicit initial
// lifecycle, e.g. Ghost for network-announced entities.
func (r *Repository) CreateEntityWithState(state Lifecycle) (Entity, error) {
	if err := r.checkStructural(); err != nil {
		return Nil, err
	}
	if state == LifecycleDead {
		return Nil, NewError(CodePolicyInvalid, "cannot create an entity in the dead state")
	}
	if r.cfg.MaxEntities > 0 && r.index.liveCount() >= r.cfg.MaxEntities {
		return Nil, Errorf(CodeCapacityExceeded, "entity capacity %d exhausted", r.cfg.MaxEntities)
	}
	return r.index.allocate(state), nil
}

// DestroyEntity sets the slot dead, bumps its generation, and returns
// all component rows to the per-type free lists.
func (r *Repository) DestroyEntity(e Entity) error {
	if err := r.checkStructural(); err != nil {
		return err
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	idx := e.Index()
	h.mask.ForEach(func(id TypeID) {
		if t := r.tables[id]; t != nil {
			t.freeRow(idx, r.globalVersion)
		}
	})
	r.index.release(idx)
	return nil
}

// IsAlive reports whether the handle's generation matches its slot and
// the slot is not dead.
func (r *Repository) IsAlive(e Entity) bool {
	_, ok := r.index.resolve(e)
	return ok
}

// LifecycleOf returns the lifecycle state of a live entity.
func (r *Repository) LifecycleOf(e Entity) (Lifecycle, error) {
	h, ok := r.index.resolve(e)
	if !ok {
		return LifecycleDead, ErrNotAlive(e)
	}
	return h.lifecycle, nil
}

// SetLifecycle transitions a live entity to the given state. Moving to
// Dead goes through DestroyEntity instead.
func (r *Repository) SetLifecycle(e Entity, state Lifecycle) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	if state == LifecycleDead {
		return r.DestroyEntity(e)
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	h.lifecycle = state
	return nil
}

// EntityCount returns the number of live entities.
func (r *Repository) EntityCount() int {
	return r.index.liveCount()
}

// MaskOf returns the archetype mask of a live entity.
func (r *Repository) MaskOf(e Entity) (TypeMask, error) {
	h, ok := r.index.resolve(e)
	if !ok {
		return TypeMask{}, ErrNotAlive(e)
	}
	return h.mask, nil
}

// ==============================================
// Raw Component Access (by type id)
// ==============================================

// HasComponentID reports whether the entity carries the component.
func (r *Repository) HasComponentID(e Entity, id TypeID) bool {
	h, ok := r.index.resolve(e)
	return ok && h.mask.Has(id)
}

func (r *Repository) componentTable(id TypeID) (*table, error) {
	if int(id) >= len(r.tables) || r.tables[id] == nil {
		return nil, ErrNotRegistered(id)
	}
	return r.tables[id], nil
}

// SetRawComponent installs or overwrites the packed bytes of an
// unmanaged component, flipping the archetype bit and stamping the
// chunk version.
func (r *Repository) SetRawComponent(e Entity, id TypeID, data []byte) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return err
	}
	if t.info.Kind != KindUnmanaged {
		return Errorf(CodePolicyInvalid, "type %s is managed; use the managed accessors", t.info.Name).WithType(id)
	}
	if len(data) != t.info.Size {
		return Errorf(CodePolicyInvalid, "payload size %d does not match element size %d", len(data), t.info.Size).WithType(id)
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	row := t.rowOf(e.Index())
	if row == noRow {
		if err := r.checkStructural(); err != nil {
			return err
		}
		row = t.allocRow(e.Index(), r.globalVersion)
		h.mask = h.mask.Set(id)
	}
	copy(t.rowBytes(row), data)
	t.touch(row, r.globalVersion)
	return nil
}

// GetRawComponent returns a read-only view of the packed bytes of an
// unmanaged component. Reads never bump chunk versions.
func (r *Repository) GetRawComponent(e Entity, id TypeID) ([]byte, error) {
	t, err := r.componentTable(id)
	if err != nil {
		return nil, err
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return nil, ErrNotAlive(e)
	}
	if !h.mask.Has(id) {
		return nil, ErrMissing(e, id)
	}
	row := t.rowOf(e.Index())
	if row == noRow {
		// Mask bit without a row: the type was excluded from this
		// mirror's sync mask.
		return nil, ErrMissing(e, id)
	}
	return t.rowBytes(row), nil
}

// RemoveComponentID detaches the component from the entity, clearing
// the archetype bit and recycling the row.
func (r *Repository) RemoveComponentID(e Entity, id TypeID) error {
	if err := r.checkStructural(); err != nil {
		return err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return err
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	if !h.mask.Has(id) {
		return ErrMissing(e, id)
	}
	t.freeRow(e.Index(), r.globalVersion)
	h.mask = h.mask.Clear(id)
	return nil
}

// ==============================================
// Typed Component Access
// ==============================================

// Add installs component value v on the entity, overwriting any prior
// value. The archetype bit flips on first install.
func Add[T any](r *Repository, e Entity, v T) error {
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return err
	}
	return setTyped(r, e, id, &v)
}

// Set overwrites an existing component value; it fails with Missing if
// the entity does not carry the component.
func Set[T any](r *Repository, e Entity, v T) error {
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return err
	}
	if !r.HasComponentID(e, id) {
		if !r.IsAlive(e) {
			return ErrNotAlive(e)
		}
		return ErrMissing(e, id)
	}
	return setTyped(r, e, id, &v)
}

func setTyped[T any](r *Repository, e Entity, id TypeID, v *T) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return err
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	if t.info.Kind == KindManaged {
		return setManagedRow(r, t, h, e, id, any(*v))
	}
	row := t.rowOf(e.Index())
	if row == noRow {
		if err := r.checkStructural(); err != nil {
			return err
		}
		row = t.allocRow(e.Index(), r.globalVersion)
		h.mask = h.mask.Set(id)
	}
	copy(t.rowBytes(row), rawBytes(v))
	t.touch(row, r.globalVersion)
	return nil
}

// Get returns a copy of the component value.
func Get[T any](r *Repository, e Entity) (T, error) {
	var out T
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return out, err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return out, err
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return out, ErrNotAlive(e)
	}
	if !h.mask.Has(id) {
		return out, ErrMissing(e, id)
	}
	row := t.rowOf(e.Index())
	if row == noRow {
		return out, ErrMissing(e, id)
	}
	if t.info.Kind == KindManaged {
		c, rr := t.chunkOf(row)
		v, cast := c.refs[rr].(T)
		if !cast {
			return out, ErrMissing(e, id)
		}
		return v, nil
	}
	out = *(*T)(t.rowPtr(row))
	return out, nil
}

// GetRO returns an immutable in-place reference to an unmanaged
// component. The pointer is valid until the next structural change of
// the type's table; reads never bump chunk versions.
func GetRO[T any](r *Repository, e Entity) (*T, error) {
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return nil, err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return nil, err
	}
	if t.info.Kind != KindUnmanaged {
		return nil, Errorf(CodePolicyInvalid, "type %s is managed; use Get", t.info.Name).WithType(id)
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return nil, ErrNotAlive(e)
	}
	if !h.mask.Has(id) {
		return nil, ErrMissing(e, id)
	}
	row := t.rowOf(e.Index())
	if row == noRow {
		return nil, ErrMissing(e, id)
	}
	return (*T)(t.rowPtr(row)), nil
}

// GetMut returns a mutable in-place reference to an unmanaged
// component and stamps the owning chunk's write version.
func GetMut[T any](r *Repository, e Entity) (*T, error) {
	if err := r.checkMutable(); err != nil {
		return nil, err
	}
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return nil, err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return nil, err
	}
	if t.info.Kind != KindUnmanaged {
		return nil, Errorf(CodePolicyInvalid, "type %s is managed; use Get/Add", t.info.Name).WithType(id)
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return nil, ErrNotAlive(e)
	}
	if !h.mask.Has(id) {
		return nil, ErrMissing(e, id)
	}
	row := t.rowOf(e.Index())
	if row == noRow {
		return nil, ErrMissing(e, id)
	}
	t.touch(row, r.globalVersion)
	return (*T)(t.rowPtr(row)), nil
}

// Remove detaches component T from the entity.
func Remove[T any](r *Repository, e Entity) error {
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return err
	}
	return r.RemoveComponentID(e, id)
}

// Has reports whether the entity carries component T.
func Has[T any](r *Repository, e Entity) bool {
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return false
	}
	return r.HasComponentID(e, id)
}

// ==============================================
// Managed Components
// ==============================================

func setManagedRow(r *Repository, t *table, h *slotHeader, e Entity, id TypeID, v any) error {
	row := t.rowOf(e.Index())
	if row == noRow {
		if err := r.checkStructural(); err != nil {
			return err
		}
		row = t.allocRow(e.Index(), r.globalVersion)
		h.mask = h.mask.Set(id)
	}
	c, rr := t.chunkOf(row)
	c.refs[rr] = v
	c.lastWrite = r.globalVersion
	return nil
}

// AddManaged installs a managed component value on the entity.
func AddManaged[T any](r *Repository, e Entity, v T) error {
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return err
	}
	if err := r.checkMutable(); err != nil {
		return err
	}
	t, err := r.componentTable(id)
	if err != nil {
		return err
	}
	if t.info.Kind != KindManaged {
		return Errorf(CodePolicyInvalid, "type %s is unmanaged; use Add", t.info.Name).WithType(id)
	}
	h, ok := r.index.resolve(e)
	if !ok {
		return ErrNotAlive(e)
	}
	return setManagedRow(r, t, h, e, id, any(v))
}

// ==============================================
// Singletons
// ==============================================

func (r *Repository) singletonSlotOf(id TypeID) (*singletonSlot, error) {
	if int(id) >= len(r.singletons) || r.singletons[id] == nil {
		return nil, ErrNotRegistered(id)
	}
	return r.singletons[id], nil
}

// SetSingleton writes the singleton value, stamping its slot version.
func SetSingleton[T any](r *Repository, v T) error {
	if err := r.checkMutable(); err != nil {
		return err
	}
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return err
	}
	s, err := r.singletonSlotOf(id)
	if err != nil {
		return err
	}
	copy(s.data, rawBytes(&v))
	s.present = true
	s.lastWrite = r.globalVersion
	return nil
}

// GetSingleton returns a copy of the singleton value, or Missing if it
// was never set.
func GetSingleton[T any](r *Repository) (T, error) {
	var out T
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return out, err
	}
	s, err := r.singletonSlotOf(id)
	if err != nil {
		return out, err
	}
	if !s.present {
		return out, Errorf(CodeMissing, "singleton %s has not been set", s.info.Name).WithType(id)
	}
	out = *(*T)(unsafe.Pointer(&s.data[0]))
	return out, nil
}

// GetSingletonMut returns a mutable reference to the singleton value
// and stamps its slot version.
func GetSingletonMut[T any](r *Repository) (*T, error) {
	if err := r.checkMutable(); err != nil {
		return nil, err
	}
	id, err := ComponentID[T](r.reg)
	if err != nil {
		return nil, err
	}
	s, err := r.singletonSlotOf(id)
	if err != nil {
		return nil, err
	}
	if !s.present {
		return nil, Errorf(CodeMissing, "singleton %s has not been set", s.info.Name).WithType(id)
	}
	s.lastWrite = r.globalVersion
	return (*T)(unsafe.Pointer(&s.data[0])), nil
}
