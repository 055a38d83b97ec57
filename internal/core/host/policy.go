package host

import (
	"math"
	"time"

	"simkernel/internal/core/ecs"
)

// RunMode selects the thread model of a module's tick.
type RunMode uint8

const (
	// RunSynchronous ticks inline on the orchestrator thread.
	RunSynchronous RunMode = iota

	// RunFrameSynced ticks on a worker but the frame barrier-waits for
	// completion before the post-simulation phases.
	RunFrameSynced

	// RunAsynchronous ticks on a worker across frame boundaries; the
	// result is harvested whenever it completes.
	RunAsynchronous
)

// String returns the run mode name.
func (m RunMode) String() string {
	switch m {
	case RunSynchronous:
		return "synchronous"
	case RunFrameSynced:
		return "frame_synced"
	case RunAsynchronous:
		return "asynchronous"
	default:
		return "unknown"
	}
}

// DataStrategy selects the snapshot source of a module's view.
type DataStrategy uint8

const (
	// DataDirect hands the module the live world itself.
	DataDirect DataStrategy = iota

	// DataGDB serves a persistent dirty-synced replica.
	DataGDB

	// DataSoD serves an on-demand pooled snapshot.
	DataSoD
)

// String returns the strategy name.
func (s DataStrategy) String() string {
	switch s {
	case DataDirect:
		return "direct"
	case DataGDB:
		return "gdb"
	case DataSoD:
		return "sod"
	default:
		return "unknown"
	}
}

// TriggerKind selects the wake condition of a module.
type TriggerKind uint8

const (
	// TriggerAlways applies the default wake logic: watched events,
	// watched component changes, then periodic throttling.
	TriggerAlways TriggerKind = iota

	// TriggerInterval wakes when the configured sim-time interval has
	// elapsed since the last run.
	TriggerInterval

	// TriggerOnEvent wakes exactly when the configured event type is
	// present in the current buffer.
	TriggerOnEvent

	// TriggerOnComponentChange wakes exactly when the configured
	// component type changed since the last run.
	TriggerOnComponentChange
)

// Trigger is the wake condition override of a policy.
type Trigger struct {
	Kind          TriggerKind
	IntervalMS    float64    // TriggerInterval
	EventType     ecs.TypeID // TriggerOnEvent
	ComponentType ecs.TypeID // TriggerOnComponentChange
}

// OnEvent builds an event-triggered wake condition.
func OnEvent(eventType ecs.TypeID) Trigger {
	return Trigger{Kind: TriggerOnEvent, EventType: eventType}
}

// OnComponentChange builds a change-triggered wake condition.
func OnComponentChange(componentType ecs.TypeID) Trigger {
	return Trigger{Kind: TriggerOnComponentChange, ComponentType: componentType}
}

// EveryInterval builds a sim-time interval wake condition.
func EveryInterval(ms float64) Trigger {
	return Trigger{Kind: TriggerInterval, IntervalMS: ms}
}

// baseFrameRate is the nominal frame rate the periodic throttle divides.
const baseFrameRate = 60.0

// defaultTimeout applies when MaxExpectedRuntimeMS is zero.
const defaultTimeout = 1000 * time.Millisecond

// ExecutionPolicy is the per-module dispatch contract.
type ExecutionPolicy struct {
	RunMode               RunMode
	DataStrategy          DataStrategy
	TargetFrequencyHz     float64
	Trigger               Trigger
	MaxExpectedRuntimeMS  float64
	FailureThreshold      int
	CircuitResetTimeoutMS float64
}

// DefaultPolicy returns a synchronous every-frame policy over the live
// world.
func DefaultPolicy() ExecutionPolicy {
	return ExecutionPolicy{
		RunMode:               RunSynchronous,
		DataStrategy:          DataDirect,
		TargetFrequencyHz:     0,
		FailureThreshold:      5,
		CircuitResetTimeoutMS: 5000,
	}
}

// Validate rejects policy combinations the host cannot honor. The live
// world must never be visible off the orchestrator thread, so the
// Direct strategy is only legal with the synchronous run mode.
func (p ExecutionPolicy) Validate() error {
	if p.DataStrategy == DataDirect && p.RunMode != RunSynchronous {
		return ecs.Errorf(ecs.CodePolicyInvalid,
			"direct data strategy requires the synchronous run mode, got %s", p.RunMode)
	}
	if p.MaxExpectedRuntimeMS < 0 {
		return ecs.NewError(ecs.CodePolicyInvalid, "max expected runtime must be >= 0")
	}
	if p.FailureThreshold < 0 {
		return ecs.NewError(ecs.CodePolicyInvalid, "failure threshold must be >= 0")
	}
	if p.Trigger.Kind == TriggerInterval && p.Trigger.IntervalMS <= 0 {
		return ecs.NewError(ecs.CodePolicyInvalid, "interval trigger requires a positive interval")
	}
	return nil
}

// SkipFrames returns the periodic throttle in frames: every frame for
// unset or >= base-rate frequencies, otherwise ceil(60/hz).
func (p ExecutionPolicy) SkipFrames() int {
	if p.TargetFrequencyHz <= 0 || p.TargetFrequencyHz >= baseFrameRate {
		return 1
	}
	return int(math.Ceil(baseFrameRate / p.TargetFrequencyHz))
}

// Timeout returns the tick runtime budget, defaulting to one second.
func (p ExecutionPolicy) Timeout() time.Duration {
	if p.MaxExpectedRuntimeMS <= 0 {
		return defaultTimeout
	}
	return time.Duration(p.MaxExpectedRuntimeMS * float64(time.Millisecond))
}

// ResetTimeout returns the breaker's open-state duration.
func (p ExecutionPolicy) ResetTimeout() time.Duration {
	return time.Duration(p.CircuitResetTimeoutMS * float64(time.Millisecond))
}
