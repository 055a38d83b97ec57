package snapshot

import (
	"sync"

	"simkernel/internal/core/ecs"
)

// ReplicaProvider owns a persistent mirror world refreshed by
// dirty-chunk sync at the frame sync point. Acquire and Release are
// O(1); the view is zero-copy and persists across frames. One replica
// serves every consumer in its group, syncing the union of their
// component masks.
type ReplicaProvider struct {
	mu     sync.Mutex
	live   *ecs.Repository
	mirror *ecs.Repository
	mask   ecs.TypeMask
	view   *View
}

// NewReplica creates the persistent replica over the live world,
// restricted to the union component mask of its consumers. The single
// persistent view never hard-expires, so no lease table is kept; the
// opts parameter exists for signature parity with the leased providers.
func NewReplica(live *ecs.Repository, mask ecs.TypeMask, tuning Tuning, opts ...Option) *ReplicaProvider {
	p := &ReplicaProvider{
		live:   live,
		mirror: live.NewMirror(),
		mask:   mask,
	}
	p.view = &View{repo: p.mirror}
	return p
}

// Kind returns KindGDB.
func (p *ReplicaProvider) Kind() Kind { return KindGDB }

// Acquire returns the persistent replica view. O(1).
func (p *ReplicaProvider) Acquire() (*View, error) {
	return p.view, nil
}

// Release is a no-op: the replica persists across frames.
func (p *ReplicaProvider) Release(*View) error { return nil }

// Update syncs dirty chunks from the live world into the mirror.
// Called by the orchestrator at the per-frame sync point.
func (p *ReplicaProvider) Update() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mirror.SyncFrom(p.live, ecs.SyncMask(p.mask))
}

// Mirror exposes the replica repository for tests.
func (p *ReplicaProvider) Mirror() *ecs.Repository {
	return p.mirror
}
