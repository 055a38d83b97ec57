package ecs

import (
	"reflect"
	"sync"
	"unsafe"
)

// ==============================================
// Type Metadata
// ==============================================

// TypeKind distinguishes the two storage tiers plus event payloads.
type TypeKind uint8

const (
	// KindUnmanaged components are pointer-free value types stored as
	// packed bytes in chunks.
	KindUnmanaged TypeKind = iota

	// KindManaged components are stored as reference slots and never
	// flow to concurrent readers unless explicitly marked snapshotable.
	KindManaged

	// KindEvent payloads are pointer-free value types appended to the
	// event bus buffers.
	KindEvent
)

// String returns the kind name.
func (k TypeKind) String() string {
	switch k {
	case KindUnmanaged:
		return "unmanaged"
	case KindManaged:
		return "managed"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// TypeInfo records the registration metadata of one component, event,
// or singleton type.
type TypeInfo struct {
	ID           TypeID
	Name         string
	Size         int
	Align        int
	Kind         TypeKind
	Snapshotable bool
	Singleton    bool
	goType       reflect.Type
}

// ==============================================
// Registration Options
// ==============================================

type typeOptions struct {
	snapshotable    bool
	snapshotableSet bool
	transient       bool
	singleton       bool
}

// TypeOption customizes a registration.
type TypeOption func(*typeOptions)

// WithSnapshotable explicitly opts a type into snapshot propagation.
// Required for managed (reference) types whose instances the caller
// guarantees are treated as immutable once published.
func WithSnapshotable() TypeOption {
	return func(o *typeOptions) {
		o.snapshotable = true
		o.snapshotableSet = true
	}
}

// WithTransient opts a type out of snapshot propagation; it is skipped
// by replica syncs unless the sync explicitly includes transients.
func WithTransient() TypeOption {
	return func(o *typeOptions) {
		o.transient = true
		o.snapshotableSet = true
	}
}

// ==============================================
// Registry
// ==============================================

// Registry assigns dense ids to component and event types and records
// their element size, alignment, kind, and snapshotable flag. A
// registry is host-local: it is owned by a repository family (the live
// world and every mirror created from the same schema), never
// process-global.
type Registry struct {
	mu          sync.RWMutex
	components  []*TypeInfo
	events      []*TypeInfo
	byType      map[reflect.Type]*TypeInfo
	eventByType map[reflect.Type]*TypeInfo
	sealed      bool
}

// NewRegistry creates an empty type registry.
func NewRegistry() *Registry {
	return &Registry{
		components:  make([]*TypeInfo, 0, 64),
		events:      make([]*TypeInfo, 0, 16),
		byType:      make(map[reflect.Type]*TypeInfo),
		eventByType: make(map[reflect.Type]*TypeInfo),
	}
}

// Seal freezes the registry. Mirrors share a sealed registry with the
// live world, so registration after the first repository clone fails.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// ComponentCount returns the number of registered component types.
func (r *Registry) ComponentCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.components)
}

// EventCount returns the number of registered event types.
func (r *Registry) EventCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.events)
}

// ComponentInfo returns the metadata for a component type id.
func (r *Registry) ComponentInfo(id TypeID) (*TypeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.components) {
		return nil, ErrNotRegistered(id)
	}
	return r.components[id], nil
}

// EventInfo returns the metadata for an event type id.
func (r *Registry) EventInfo(id TypeID) (*TypeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.events) {
		return nil, ErrNotRegistered(id)
	}
	return r.events[id], nil
}

// AllComponents returns the component infos in id order.
func (r *Registry) AllComponents() []*TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeInfo, len(r.components))
	copy(out, r.components)
	return out
}

// AllEvents returns the event infos in id order.
func (r *Registry) AllEvents() []*TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*TypeInfo, len(r.events))
	copy(out, r.events)
	return out
}

// AllComponentsMask returns a mask covering every registered component.
func (r *Registry) AllComponentsMask() TypeMask {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return AllTypesMask(len(r.components))
}

func (r *Registry) register(rt reflect.Type, kind TypeKind, opts []TypeOption) (*TypeInfo, error) {
	var o typeOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return nil, NewError(CodePolicyInvalid, "registry is sealed; register all types before creating mirrors")
	}

	pointerFree := isPointerFree(rt)

	switch kind {
	case KindUnmanaged, KindEvent:
		if !pointerFree {
			return nil, Errorf(CodePolicyInvalid,
				"%s contains pointers and cannot be stored as packed bytes; register it as a managed component", rt.String())
		}
	case KindManaged:
		// Reference types default to rejected: the caller must either use
		// a pointer-free value type, mark the type transient, or opt into
		// snapshot propagation for instances treated as immutable.
		if !pointerFree && !o.snapshotableSet {
			return nil, Errorf(CodePolicyInvalid,
				"%s is a mutable reference type; make it a pointer-free value type, register with WithTransient(), or opt in with WithSnapshotable()", rt.String())
		}
	}

	snapshotable := pointerFree
	if o.snapshotableSet {
		snapshotable = o.snapshotable && !o.transient
	}

	info := &TypeInfo{
		Name:         rt.String(),
		Size:         int(rt.Size()),
		Align:        rt.Align(),
		Kind:         kind,
		Snapshotable: snapshotable,
		Singleton:    o.singleton,
		goType:       rt,
	}

	if kind == KindEvent {
		if _, dup := r.eventByType[rt]; dup {
			return nil, Errorf(CodePolicyInvalid, "event type %s already registered", rt.String())
		}
		info.ID = TypeID(len(r.events))
		r.events = append(r.events, info)
		r.eventByType[rt] = info
		return info, nil
	}

	if _, dup := r.byType[rt]; dup {
		return nil, Errorf(CodePolicyInvalid, "component type %s already registered", rt.String())
	}
	if len(r.components) >= MaxComponentTypes {
		return nil, Errorf(CodeCapacityExceeded, "component type space exhausted (%d)", MaxComponentTypes)
	}
	info.ID = TypeID(len(r.components))
	r.components = append(r.components, info)
	r.byType[rt] = info
	return info, nil
}

func (r *Registry) componentIDOf(rt reflect.Type) (TypeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.byType[rt]; ok {
		return info.ID, nil
	}
	return InvalidTypeID, Errorf(CodeNotRegistered, "component type %s is not registered", rt.String())
}

func (r *Registry) eventIDOf(rt reflect.Type) (TypeID, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if info, ok := r.eventByType[rt]; ok {
		return info.ID, nil
	}
	return InvalidTypeID, Errorf(CodeNotRegistered, "event type %s is not registered", rt.String())
}

// ==============================================
// Generic Registration Helpers
// ==============================================

// RegisterComponent registers T as an unmanaged component type. T must
// be a pointer-free value type.
func RegisterComponent[T any](r *Registry, opts ...TypeOption) (TypeID, error) {
	info, err := r.register(typeOf[T](), KindUnmanaged, opts)
	if err != nil {
		return InvalidTypeID, err
	}
	return info.ID, nil
}

// RegisterManagedComponent registers T as a managed component type.
// Instances are stored by reference; types carrying pointers must be
// registered with WithTransient() or WithSnapshotable().
func RegisterManagedComponent[T any](r *Registry, opts ...TypeOption) (TypeID, error) {
	info, err := r.register(typeOf[T](), KindManaged, opts)
	if err != nil {
		return InvalidTypeID, err
	}
	return info.ID, nil
}

// RegisterSingleton registers T as a singleton component type. The
// repository reserves one dedicated slot for it.
func RegisterSingleton[T any](r *Registry, opts ...TypeOption) (TypeID, error) {
	opts = append(opts, func(o *typeOptions) { o.singleton = true })
	info, err := r.register(typeOf[T](), KindUnmanaged, opts)
	if err != nil {
		return InvalidTypeID, err
	}
	return info.ID, nil
}

// RegisterEvent registers T as an event payload type. T must be a
// pointer-free value type so it can move through the double buffers and
// wire serialization untouched.
func RegisterEvent[T any](r *Registry) (TypeID, error) {
	info, err := r.register(typeOf[T](), KindEvent, nil)
	if err != nil {
		return InvalidTypeID, err
	}
	return info.ID, nil
}

// MustRegisterComponent is RegisterComponent that panics on error, for
// schema setup code where failure is a programming bug.
func MustRegisterComponent[T any](r *Registry, opts ...TypeOption) TypeID {
	id, err := RegisterComponent[T](r, opts...)
	if err != nil {
		panic(err)
	}
	return id
}

// MustRegisterEvent is RegisterEvent that panics on error.
func MustRegisterEvent[T any](r *Registry) TypeID {
	id, err := RegisterEvent[T](r)
	if err != nil {
		panic(err)
	}
	return id
}

// ComponentID resolves the id previously assigned to component type T.
func ComponentID[T any](r *Registry) (TypeID, error) {
	return r.componentIDOf(typeOf[T]())
}

// EventID resolves the id previously assigned to event type T.
func EventID[T any](r *Registry) (TypeID, error) {
	return r.eventIDOf(typeOf[T]())
}

func typeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// isPointerFree reports whether values of rt contain no Go pointers,
// which is the condition for packed byte storage and for implicit
// snapshot safety.
func isPointerFree(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return isPointerFree(rt.Elem())
	case reflect.Struct:
		for i := 0; i < rt.NumField(); i++ {
			if !isPointerFree(rt.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		// Pointers, maps, slices, channels, funcs, interfaces, strings,
		// and unsafe pointers all carry references.
		return false
	}
}

// rawBytes views v as its in-memory byte representation. Only legal for
// pointer-free types, which registration guarantees.
func rawBytes[T any](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}
