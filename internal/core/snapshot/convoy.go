package snapshot

import (
	"sync"

	"simkernel/internal/core/ecs"
)

// ConvoyProvider shares one pooled mirror among the N consumers of a
// convoy group. The first acquire of a frame syncs the mirror against
// the union mask; later acquires in the same frame share the result.
// The last release parks the mirror until the next frame's first
// acquire.
type ConvoyProvider struct {
	mu          sync.Mutex
	live        *ecs.Repository
	mask        ecs.TypeMask
	mirror      *ecs.Repository
	leases      *leaseTable
	readers     int
	syncedFrame uint64 // live global version of the last sync
	views       map[*View]struct{}
}

// NewConvoy creates the shared provider for one convoy group.
func NewConvoy(live *ecs.Repository, mask ecs.TypeMask, tuning Tuning, opts ...Option) *ConvoyProvider {
	o := applyOptions(opts)
	return &ConvoyProvider{
		live:   live,
		mask:   mask,
		mirror: live.NewMirror(),
		leases: newLeaseTable(tuning.HardLeaseExpiry, o.now),
		views:  make(map[*View]struct{}),
	}
}

// Kind returns KindShared.
func (p *ConvoyProvider) Kind() Kind { return KindShared }

// Acquire returns a leased view of the convoy mirror, syncing it on the
// frame's first acquisition.
func (p *ConvoyProvider) Acquire() (*View, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if frame := p.live.GlobalVersion(); p.syncedFrame != frame {
		if err := p.mirror.SyncFrom(p.live, ecs.SyncMask(p.mask)); err != nil {
			return nil, err
		}
		p.syncedFrame = frame
	}

	v := p.leases.issue(p.mirror)
	p.views[v] = struct{}{}
	p.readers++
	return v, nil
}

// Release decrements the active-reader count. The mirror itself is
// retained for the next frame's sync.
func (p *ConvoyProvider) Release(v *View) error {
	held := p.leases.drop(v)
	v.Invalidate()

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.views[v]; !ok {
		return nil
	}
	delete(p.views, v)
	if held {
		p.readers--
	}
	return nil
}

// Update sweeps expired leases so zombie readers lose their view.
func (p *ConvoyProvider) Update() error {
	for _, v := range p.leases.sweep() {
		p.mu.Lock()
		if _, ok := p.views[v]; ok {
			delete(p.views, v)
			p.readers--
		}
		p.mu.Unlock()
	}
	return nil
}

// ActiveReaders returns the current reader count, for tests.
func (p *ConvoyProvider) ActiveReaders() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.readers
}

// Mirror exposes the shared mirror for tests.
func (p *ConvoyProvider) Mirror() *ecs.Repository {
	return p.mirror
}
