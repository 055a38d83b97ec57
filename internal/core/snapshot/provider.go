// Package snapshot turns point-in-time world state into acquirable
// read views. Four provider strategies cover the module host's data
// needs: the live world itself (Direct), a persistent dirty-synced
// replica (GDB), a pool of on-demand mirrors (SoD), and one shared
// mirror for a convoy of modules with matching policies.
package snapshot

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"simkernel/internal/core/ecs"
)

// Kind tags the provider strategy.
type Kind uint8

const (
	KindDirect Kind = iota
	KindGDB
	KindSoD
	KindShared
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindDirect:
		return "direct"
	case KindGDB:
		return "gdb"
	case KindSoD:
		return "sod"
	case KindShared:
		return "shared"
	default:
		return "unknown"
	}
}

// Tuning carries the provider pool and lease parameters. File decoding
// happens in the host's config package; this struct is the in-memory
// parameter set the providers consume.
type Tuning struct {
	OnDemandInitialPool int
	OnDemandMaxPool     int // 0 = unbounded
	SharedPoolWarmup    int
	HardLeaseExpiry     time.Duration
}

// DefaultTuning returns the documented defaults.
func DefaultTuning() Tuning {
	return Tuning{
		OnDemandInitialPool: 5,
		OnDemandMaxPool:     0,
		SharedPoolWarmup:    10,
		HardLeaseExpiry:     2 * time.Second,
	}
}

// Provider is the common surface of all snapshot strategies. Update is
// the orchestrator-side sync point; Acquire and Release bracket a
// consumer's use of a view.
type Provider interface {
	Kind() Kind
	Acquire() (*View, error)
	Release(v *View) error
	Update() error
}

// View is an acquired read-only window onto a world. The underlying
// repository is stable for the lifetime of the acquisition even while
// the live world mutates. Every view carries a hard-expiry lease: once
// expired, reads fail with StaleView and the owner's command buffer is
// dropped at the next harvest.
type View struct {
	id      uuid.UUID
	repo    *ecs.Repository
	expires time.Time // zero = never expires

	mu      sync.Mutex
	expired bool
}

// ID returns the lease id, for logs.
func (v *View) ID() uuid.UUID {
	return v.id
}

// Repo returns the repository behind the view, or StaleView once the
// lease has hard-expired.
func (v *View) Repo() (*ecs.Repository, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.expired {
		return nil, ecs.Errorf(ecs.CodeStaleView, "lease %s has expired", v.id)
	}
	return v.repo, nil
}

// Expired reports whether the lease has been invalidated.
func (v *View) Expired() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.expired
}

// Invalidate force-expires the view so further reads fail with
// StaleView. The host uses it to cut abandoned workers off from their
// snapshot.
func (v *View) Invalidate() {
	v.mu.Lock()
	v.expired = true
	v.mu.Unlock()
}

// expiresAt reports whether the lease deadline has passed at t.
func (v *View) expiresAt(t time.Time) bool {
	return !v.expires.IsZero() && t.After(v.expires)
}

// leaseTable tracks outstanding views for expiry sweeps.
type leaseTable struct {
	mu     sync.Mutex
	leases map[uuid.UUID]*View
	now    func() time.Time
	expiry time.Duration
}

func newLeaseTable(expiry time.Duration, now func() time.Time) *leaseTable {
	if now == nil {
		now = time.Now
	}
	return &leaseTable{
		leases: make(map[uuid.UUID]*View),
		now:    now,
		expiry: expiry,
	}
}

func (lt *leaseTable) issue(repo *ecs.Repository) *View {
	v := &View{id: uuid.New(), repo: repo}
	if lt.expiry > 0 {
		v.expires = lt.now().Add(lt.expiry)
	}
	lt.mu.Lock()
	lt.leases[v.id] = v
	lt.mu.Unlock()
	return v
}

func (lt *leaseTable) drop(v *View) bool {
	lt.mu.Lock()
	_, held := lt.leases[v.id]
	delete(lt.leases, v.id)
	lt.mu.Unlock()
	return held
}

// sweep invalidates every lease past its deadline and returns them.
func (lt *leaseTable) sweep() []*View {
	t := lt.now()
	var dead []*View
	lt.mu.Lock()
	for id, v := range lt.leases {
		if v.expiresAt(t) {
			dead = append(dead, v)
			delete(lt.leases, id)
		}
	}
	lt.mu.Unlock()
	for _, v := range dead {
		v.Invalidate()
	}
	return dead
}

// Option customizes provider construction.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock swaps the wall clock used for lease deadlines; tests drive
// virtual time through it.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
