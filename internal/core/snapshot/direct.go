package snapshot

import (
	"simkernel/internal/core/ecs"
)

// DirectProvider hands out the live world itself. Only legal for
// synchronous modules: the consumer runs on the orchestrator thread
// while the world is quiescent, so no mirror is needed. Direct views
// carry no expiry lease.
type DirectProvider struct {
	live *ecs.Repository
	view *View
}

// NewDirect creates the pass-through provider over the live world.
func NewDirect(live *ecs.Repository) *DirectProvider {
	return &DirectProvider{
		live: live,
		view: &View{repo: live},
	}
}

// Kind returns KindDirect.
func (p *DirectProvider) Kind() Kind { return KindDirect }

// Acquire returns the live world view. O(1), never expires.
func (p *DirectProvider) Acquire() (*View, error) {
	return p.view, nil
}

// Release is a no-op for the live view.
func (p *DirectProvider) Release(*View) error { return nil }

// Update is a no-op: the live world needs no sync.
func (p *DirectProvider) Update() error { return nil }
