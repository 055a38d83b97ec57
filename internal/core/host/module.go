package host

import (
	"simkernel/internal/core/ecs"
	"simkernel/internal/core/schedule"
)

// TickContext is everything a module tick may touch. The view is a
// read-only window per the module's data strategy; all mutation and
// event publication goes through the command buffer, which the
// orchestrator plays back at harvest. A tick abandoned on timeout
// keeps writing only its buffer, which is dropped with the lease.
type TickContext struct {
	// View is the module's world window for this tick.
	View *ecs.Repository

	// DT is the accumulated sim-time delta since the module's last run.
	DT float64

	// Frame is the global version of the dispatching frame.
	Frame uint64

	// Commands is the module's structural journal for this tick.
	Commands *ecs.CommandBuffer
}

// Module is a hosted workload. The host dispatches Tick per the
// module's execution policy; watch lists make dispatch reactive.
type Module interface {
	// Name identifies the module in logs, stats, and metrics.
	Name() string

	// Policy returns the module's execution policy.
	Policy() ExecutionPolicy

	// WatchComponents lists component types whose changes wake the
	// module ahead of its periodic schedule.
	WatchComponents() []ecs.TypeID

	// WatchEvents lists event types whose presence wakes the module.
	WatchEvents() []ecs.TypeID

	// RequiredComponents lists the component types the module reads.
	// Providers sync only the union of their consumers' lists; an empty
	// list conservatively maps to all types.
	RequiredComponents() []ecs.TypeID

	// Tick runs one unit of the module's work.
	Tick(ctx *TickContext) error
}

// SystemProvider is implemented by modules that contribute scheduler
// systems in addition to their tick.
type SystemProvider interface {
	Systems() []schedule.System
}

// BaseModule provides empty watch and requirement lists; embed it and
// override what the module needs.
type BaseModule struct{}

// WatchComponents returns no watched components.
func (BaseModule) WatchComponents() []ecs.TypeID { return nil }

// WatchEvents returns no watched events.
func (BaseModule) WatchEvents() []ecs.TypeID { return nil }

// RequiredComponents returns the conservative empty list.
func (BaseModule) RequiredComponents() []ecs.TypeID { return nil }
