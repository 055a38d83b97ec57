package snapshot

import (
	"sync"

	"simkernel/internal/core/ecs"
)

// PoolProvider serves on-demand snapshots from a free stack of mirror
// worlds. Acquire pops a mirror (or creates one while under the
// capacity cap), syncs it against the live world with the configured
// mask, and wraps it in a hard-expiring lease. Release soft-clears the
// mirror and pushes it back.
type PoolProvider struct {
	mu     sync.Mutex
	live   *ecs.Repository
	mask   ecs.TypeMask
	free   []*ecs.Repository
	total  int
	cap    int // 0 = unbounded
	leases *leaseTable
	owner  map[*View]*ecs.Repository
}

// NewPool creates the on-demand provider with the initial pool from
// tuning warmed up.
func NewPool(live *ecs.Repository, mask ecs.TypeMask, tuning Tuning, opts ...Option) *PoolProvider {
	o := applyOptions(opts)
	p := &PoolProvider{
		live:   live,
		mask:   mask,
		cap:    tuning.OnDemandMaxPool,
		leases: newLeaseTable(tuning.HardLeaseExpiry, o.now),
		owner:  make(map[*View]*ecs.Repository),
	}
	for i := 0; i < tuning.OnDemandInitialPool; i++ {
		p.free = append(p.free, live.NewMirror())
		p.total++
	}
	return p
}

// Kind returns KindSoD.
func (p *PoolProvider) Kind() Kind { return KindSoD }

// Acquire pops a mirror from the free stack (creating one if the pool
// is empty and under its cap), syncs it from the live world, and
// returns a leased view.
func (p *PoolProvider) Acquire() (*View, error) {
	p.mu.Lock()
	var mirror *ecs.Repository
	if n := len(p.free); n > 0 {
		mirror = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		if p.cap > 0 && p.total >= p.cap {
			p.mu.Unlock()
			return nil, ecs.Errorf(ecs.CodePoolExhausted, "on-demand pool is at its cap of %d mirrors", p.cap)
		}
		mirror = p.live.NewMirror()
		p.total++
	}
	p.mu.Unlock()

	if err := mirror.SyncFrom(p.live, ecs.SyncMask(p.mask)); err != nil {
		p.mu.Lock()
		p.free = append(p.free, mirror)
		p.mu.Unlock()
		return nil, err
	}

	v := p.leases.issue(mirror)
	p.mu.Lock()
	p.owner[v] = mirror
	p.mu.Unlock()
	return v, nil
}

// Release soft-clears the view's mirror and returns it to the free
// stack. Releasing an expired view only drops the bookkeeping; its
// mirror was already reclaimed by the expiry sweep.
func (p *PoolProvider) Release(v *View) error {
	held := p.leases.drop(v)
	v.Invalidate()

	p.mu.Lock()
	mirror, owned := p.owner[v]
	delete(p.owner, v)
	p.mu.Unlock()
	if !owned || !held {
		return nil
	}

	mirror.SoftClear()
	p.mu.Lock()
	p.free = append(p.free, mirror)
	p.mu.Unlock()
	return nil
}

// Update sweeps expired leases and reclaims their mirrors. The sync
// itself happens at Acquire time, so there is nothing else to do at
// the frame sync point.
func (p *PoolProvider) Update() error {
	for _, v := range p.leases.sweep() {
		p.mu.Lock()
		mirror, owned := p.owner[v]
		delete(p.owner, v)
		p.mu.Unlock()
		if owned {
			mirror.SoftClear()
			p.mu.Lock()
			p.free = append(p.free, mirror)
			p.mu.Unlock()
		}
	}
	return nil
}

// FreeCount returns the number of pooled idle mirrors, for tests.
func (p *PoolProvider) FreeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
