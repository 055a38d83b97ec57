package host

import (
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"simkernel/internal/core/ecs"
	"simkernel/internal/core/events"
	"simkernel/internal/core/schedule"
	"simkernel/internal/core/simtime"
	"simkernel/internal/core/snapshot"
	"simkernel/pkg/logger"
	"simkernel/pkg/metrics"
)

// eventLogFrames bounds the event accumulator: events-of-frame stay
// retrievable for this many frames.
const eventLogFrames = 120

// CapturedStream is one event stream captured into the accumulator.
type CapturedStream struct {
	TypeID      ecs.TypeID
	ElementSize int
	Count       int
	Bytes       []byte
}

// taskSlot tracks one outstanding module tick on a worker.
type taskSlot struct {
	module      string
	done        chan struct{}
	err         error // written by the worker before done closes
	duration    time.Duration
	view        *snapshot.View
	provider    snapshot.Provider
	commands    *ecs.CommandBuffer
	frameSynced bool
	deadline    time.Time
}

// moduleState is the host-side record of one registered module.
type moduleState struct {
	module  Module
	policy  ExecutionPolicy
	breaker *CircuitBreaker

	provider     snapshot.Provider
	requiredMask ecs.TypeMask
	watchEvents  []ecs.TypeID
	watchComps   []ecs.TypeID

	accumulator    float64
	framesSinceRun int
	lastRunVersion uint64
	lastRunSimMS   float64

	task  *taskSlot
	stats ExecutionStats
}

// Host orchestrates the per-frame procedure: world tick, scheduler
// phases, command flush, event swap, provider sync, harvest, and
// policy-driven module dispatch with the resilience envelope.
type Host struct {
	log    *logger.Logger
	rec    *metrics.Recorder
	live   *ecs.Repository
	bus    *events.Bus
	sched  *schedule.Scheduler
	tuning snapshot.Tuning
	now    func() time.Time

	providerOpts []snapshot.Option
	providers    []snapshot.Provider
	modules      []*moduleState
	byName       map[string]*moduleState
	zombies      []*taskSlot

	pendMu  sync.Mutex
	pending []*ecs.CommandBuffer

	eventLog      map[uint64][]CapturedStream
	eventLogOrder []uint64

	simTimeMS   float64
	initialized bool
	faulted     bool
}

// Option customizes host construction.
type Option func(*Host)

// WithClock swaps the wall clock used for timeouts, breakers, and
// lease deadlines.
func WithClock(now func() time.Time) Option {
	return func(h *Host) {
		h.now = now
		h.providerOpts = append(h.providerOpts, snapshot.WithClock(now))
	}
}

// WithTuning overrides the provider tuning.
func WithTuning(t snapshot.Tuning) Option {
	return func(h *Host) { h.tuning = t }
}

// NewHost creates the host over its collaborators.
func NewHost(live *ecs.Repository, bus *events.Bus, sched *schedule.Scheduler, log *logger.Logger, rec *metrics.Recorder, opts ...Option) *Host {
	h := &Host{
		log:      log,
		rec:      rec,
		live:     live,
		bus:      bus,
		sched:    sched,
		tuning:   snapshot.DefaultTuning(),
		now:      time.Now,
		byName:   make(map[string]*moduleState),
		eventLog: make(map[uint64][]CapturedStream),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterModule adds a module before Init. The policy is validated
// here so misconfigurations fail at registration, not mid-frame.
func (h *Host) RegisterModule(m Module) error {
	if h.initialized {
		return ecs.NewError(ecs.CodePolicyInvalid, "host already initialized; module registration is once-only")
	}
	name := m.Name()
	if name == "" {
		return ecs.NewError(ecs.CodePolicyInvalid, "module name must not be empty")
	}
	if _, dup := h.byName[name]; dup {
		return ecs.Errorf(ecs.CodePolicyInvalid, "module %q already registered", name)
	}
	policy := m.Policy()
	if err := policy.Validate(); err != nil {
		return err
	}

	ms := &moduleState{
		module:       m,
		policy:       policy,
		breaker:      NewCircuitBreaker(policy.FailureThreshold, policy.ResetTimeout(), h.now),
		requiredMask: requiredMask(h.live.Registry(), m.RequiredComponents()),
		watchEvents:  m.WatchEvents(),
		watchComps:   m.WatchComponents(),
	}
	h.modules = append(h.modules, ms)
	h.byName[name] = ms
	return nil
}

// Init wires providers and the scheduler. Initialization is once-only:
// a second Init fails rather than regrouping modules against possibly
// reassigned masks.
func (h *Host) Init() error {
	if h.initialized {
		return ecs.NewError(ecs.CodePolicyInvalid, "host already initialized")
	}

	h.autoAssignProviders()

	for _, ms := range h.modules {
		if sp, ok := ms.module.(SystemProvider); ok {
			for _, sys := range sp.Systems() {
				if err := h.sched.Register(sys); err != nil {
					return err
				}
			}
		}
	}
	if err := h.sched.Build(); err != nil {
		return err
	}

	h.initialized = true
	return nil
}

// EnqueueCommands hands a command buffer to the orchestrator for the
// next frame's flush point. Safe from any thread.
func (h *Host) EnqueueCommands(cb *ecs.CommandBuffer) {
	h.pendMu.Lock()
	h.pending = append(h.pending, cb)
	h.pendMu.Unlock()
}

// Step runs one frame with the given time sample. A phase fault leaves
// the host paused; further steps fail until the process owner decides
// what to do.
func (h *Host) Step(sample simtime.Sample) error {
	if !h.initialized {
		return ecs.NewError(ecs.CodePolicyInvalid, "host not initialized")
	}
	if h.faulted {
		return ecs.NewError(ecs.CodePolicyInvalid, "host is paused after a frame fault")
	}

	frameStart := h.now()
	h.simTimeMS += sample.DT * 1000

	// 1. Advance the global version.
	h.live.Tick()

	// 2-3. Input and pre-sync phases.
	if err := h.runPhase(ecs.PhaseInput, sample.DT); err != nil {
		return err
	}
	if err := h.runPhase(ecs.PhaseBeforeSync, sample.DT); err != nil {
		return err
	}

	// 4. Flush per-thread command buffers into the live world.
	h.flushPending()

	// 5. Promote last frame's events.
	h.bus.SwapBuffers()

	// 6. Capture events-of-frame keyed by the global version.
	h.captureEvents(h.live.GlobalVersion())

	// 7. Sync point for every provider.
	for _, p := range h.providers {
		if err := p.Update(); err != nil {
			h.log.Errorf("provider %s update failed: %v", p.Kind(), err)
		}
	}

	// 8. Harvest completed and timed-out tasks.
	h.harvestCompleted()
	h.sweepZombies()

	// 9. Dispatch.
	var frameSynced []*taskSlot
	for _, ms := range h.modules {
		if t := h.dispatch(ms, sample); t != nil && t.frameSynced {
			frameSynced = append(frameSynced, t)
		}
	}

	// Simulation-phase systems run on the orchestrator while worker
	// ticks are in flight; they see the same frame the workers'
	// snapshots were cut from.
	if err := h.runPhase(ecs.PhaseSimulation, sample.DT); err != nil {
		return err
	}

	// 10. Barrier-wait on this frame's FrameSynced tasks.
	h.awaitFrameSynced(frameSynced)

	// 11-12. Post-simulation and export phases.
	if err := h.runPhase(ecs.PhasePostSimulation, sample.DT); err != nil {
		return err
	}
	if err := h.runPhase(ecs.PhaseExport, sample.DT); err != nil {
		return err
	}
	h.live.SetPhase(ecs.PhaseInput)

	h.rec.FramesTotal.Inc()
	h.rec.FrameDuration.Observe(h.now().Sub(frameStart).Seconds())
	return nil
}

func (h *Host) runPhase(phase ecs.Phase, dt float64) error {
	h.live.SetPhase(phase)
	if err := h.sched.ExecutePhase(phase, h.live, dt); err != nil {
		// Repository invariant violations are frame-fatal: the host
		// pauses in a defined state and does not auto-recover.
		h.faulted = true
		h.log.Errorf("phase %s faulted, host paused: %v", phase, err)
		return fmt.Errorf("phase %s: %w", phase, err)
	}
	return nil
}

func (h *Host) flushPending() {
	h.pendMu.Lock()
	buffers := h.pending
	h.pending = nil
	h.pendMu.Unlock()

	for _, cb := range buffers {
		if err := cb.Playback(h.live, h.bus); err != nil {
			h.log.Errorf("command flush failed: %v", err)
		}
		cb.Reset()
	}
}

func (h *Host) captureEvents(version uint64) {
	streams := h.bus.Streams()
	if len(streams) == 0 {
		return
	}
	captured := make([]CapturedStream, len(streams))
	for i, s := range streams {
		data := make([]byte, len(s.Bytes))
		copy(data, s.Bytes)
		captured[i] = CapturedStream{TypeID: s.TypeID, ElementSize: s.ElementSize, Count: s.Count, Bytes: data}
		h.rec.EventsPublished.WithLabelValues(fmt.Sprintf("%d", s.TypeID)).Add(float64(s.Count))
	}
	h.eventLog[version] = captured
	h.eventLogOrder = append(h.eventLogOrder, version)
	for len(h.eventLogOrder) > eventLogFrames {
		delete(h.eventLog, h.eventLogOrder[0])
		h.eventLogOrder = h.eventLogOrder[1:]
	}
}

// EventsOfFrame returns the captured streams of a frame's global
// version, while still inside the accumulator window.
func (h *Host) EventsOfFrame(version uint64) []CapturedStream {
	return h.eventLog[version]
}

// ==============================================
// Harvest
// ==============================================

func (h *Host) harvestCompleted() {
	for _, ms := range h.modules {
		t := ms.task
		if t == nil {
			continue
		}
		select {
		case <-t.done:
			h.finishTask(ms, t)
		default:
			if h.now().After(t.deadline) {
				h.abandonTask(ms, t)
			}
		}
	}
}

// finishTask harvests one completed task: play back its command buffer
// against the live world, release the leased view, record the outcome,
// and clear the slot.
func (h *Host) finishTask(ms *moduleState, t *taskSlot) {
	name := ms.module.Name()

	if t.err != nil {
		ms.breaker.RecordFailure()
		ms.stats.Failures++
		ms.stats.LastError = t.err.Error()
		h.rec.ModuleFailures.WithLabelValues(name).Inc()
		h.log.Errorf("module %s tick failed: %v", name, t.err)
	} else if t.view != nil && t.view.Expired() {
		// The lease hard-expired mid-run; the buffer may reference a
		// stale world, so it is dropped.
		ms.breaker.RecordFailure()
		ms.stats.Failures++
		ms.stats.LastError = "view lease expired during tick"
		h.rec.LeasesExpired.Inc()
		h.log.Warnf("module %s: lease expired during tick, commands dropped", name)
	} else {
		ms.breaker.RecordSuccess()
		if err := t.commands.Playback(h.live, h.bus); err != nil {
			h.log.Errorf("module %s command playback failed: %v", name, err)
		}
	}

	ms.stats.LastRuntime = t.duration
	ms.stats.TotalRuntime += t.duration
	h.rec.DispatchLatency.WithLabelValues(name).Observe(t.duration.Seconds())
	h.rec.BreakerState.WithLabelValues(name).Set(float64(ms.breaker.State()))

	if t.provider != nil {
		if err := t.provider.Release(t.view); err != nil {
			h.log.Errorf("module %s view release failed: %v", name, err)
		}
	}
	ms.task = nil
}

// abandonTask gives up on a task past its deadline. There is no safe
// way to terminate arbitrary code, so the worker keeps running as a
// zombie; its view is force-expired and its command buffer dies with
// the slot, which frees the module for redispatch.
func (h *Host) abandonTask(ms *moduleState, t *taskSlot) {
	name := ms.module.Name()
	ms.breaker.RecordFailure()
	ms.stats.Timeouts++
	ms.stats.Failures++
	ms.stats.LastError = ecs.CodeTimeout
	h.rec.ModuleTimeouts.WithLabelValues(name).Inc()
	h.rec.BreakerState.WithLabelValues(name).Set(float64(ms.breaker.State()))
	h.log.Errorf("module %s exceeded its %s budget, task abandoned", name, ms.policy.Timeout())

	if t.view != nil {
		t.view.Invalidate()
	}
	h.zombies = append(h.zombies, t)
	ms.task = nil
}

// sweepZombies releases the views of abandoned tasks whose workers have
// finally finished.
func (h *Host) sweepZombies() {
	kept := h.zombies[:0]
	for _, t := range h.zombies {
		select {
		case <-t.done:
			if t.provider != nil {
				_ = t.provider.Release(t.view)
			}
		default:
			kept = append(kept, t)
		}
	}
	h.zombies = kept
}

// ==============================================
// Dispatch
// ==============================================

// dispatch runs the per-module step of the frame: accumulate dt, skip
// modules with outstanding work, evaluate the wake condition, and
// launch the tick per the run mode inside the safety envelope.
func (h *Host) dispatch(ms *moduleState, sample simtime.Sample) *taskSlot {
	ms.accumulator += sample.DT
	ms.framesSinceRun++

	if ms.task != nil {
		return nil // still running; accumulation continues
	}
	if !h.shouldRun(ms) {
		return nil
	}

	if !ms.breaker.Allow() {
		ms.stats.Skips++
		return nil
	}

	view, err := ms.provider.Acquire()
	if err != nil {
		h.log.Errorf("module %s view acquire failed: %v", ms.module.Name(), err)
		ms.breaker.RecordFailure()
		ms.stats.Failures++
		ms.stats.LastError = err.Error()
		return nil
	}

	dt := ms.accumulator
	ms.accumulator = 0
	ms.framesSinceRun = 0
	ms.lastRunVersion = h.live.GlobalVersion() - 1
	ms.lastRunSimMS = h.simTimeMS
	ms.stats.Runs++
	h.rec.ModuleRuns.WithLabelValues(ms.module.Name()).Inc()

	repo, err := view.Repo()
	if err != nil {
		h.log.Errorf("module %s acquired a stale view: %v", ms.module.Name(), err)
		_ = ms.provider.Release(view)
		return nil
	}

	ctx := &TickContext{
		View:     repo,
		DT:       dt,
		Frame:    h.live.GlobalVersion(),
		Commands: ecs.NewCommandBuffer(h.live.Registry()),
	}

	if ms.policy.RunMode == RunSynchronous {
		h.runSynchronous(ms, view, ctx)
		return nil
	}

	t := &taskSlot{
		module:      ms.module.Name(),
		done:        make(chan struct{}),
		view:        view,
		provider:    ms.provider,
		commands:    ctx.Commands,
		frameSynced: ms.policy.RunMode == RunFrameSynced,
		deadline:    h.now().Add(ms.policy.Timeout()),
	}
	ms.task = t

	go func() {
		start := time.Now()
		t.err = safeTick(ms.module, ctx)
		t.duration = time.Since(start)
		close(t.done)
	}()
	return t
}

// runSynchronous ticks inline on the orchestrator. There is no worker
// to race a timeout against, so an overrun is recorded after the fact.
func (h *Host) runSynchronous(ms *moduleState, view *snapshot.View, ctx *TickContext) {
	name := ms.module.Name()
	start := time.Now()
	err := safeTick(ms.module, ctx)
	duration := time.Since(start)

	ms.stats.LastRuntime = duration
	ms.stats.TotalRuntime += duration
	h.rec.DispatchLatency.WithLabelValues(name).Observe(duration.Seconds())

	switch {
	case err != nil:
		ms.breaker.RecordFailure()
		ms.stats.Failures++
		ms.stats.LastError = err.Error()
		h.rec.ModuleFailures.WithLabelValues(name).Inc()
		h.log.Errorf("module %s tick failed: %v", name, err)
	case duration > ms.policy.Timeout():
		ms.breaker.RecordFailure()
		ms.stats.Timeouts++
		ms.stats.Failures++
		ms.stats.LastError = ecs.CodeTimeout
		h.rec.ModuleTimeouts.WithLabelValues(name).Inc()
		h.log.Warnf("module %s overran its %s budget synchronously", name, ms.policy.Timeout())
	default:
		ms.breaker.RecordSuccess()
		if err := ctx.Commands.Playback(h.live, h.bus); err != nil {
			h.log.Errorf("module %s command playback failed: %v", name, err)
		}
	}
	h.rec.BreakerState.WithLabelValues(name).Set(float64(ms.breaker.State()))
	_ = ms.provider.Release(view)
}

// awaitFrameSynced barrier-waits on the frame's FrameSynced tasks and
// harvests them immediately; tasks past their deadline are abandoned.
func (h *Host) awaitFrameSynced(tasks []*taskSlot) {
	if len(tasks) == 0 {
		return
	}

	var g errgroup.Group
	for _, t := range tasks {
		t := t
		g.Go(func() error {
			budget := t.deadline.Sub(h.now())
			if budget < 0 {
				budget = 0
			}
			select {
			case <-t.done:
			case <-time.After(budget):
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, t := range tasks {
		ms := h.byName[t.module]
		if ms.task != t {
			continue
		}
		select {
		case <-t.done:
			h.finishTask(ms, t)
		default:
			h.abandonTask(ms, t)
		}
	}
}

// shouldRun evaluates the module's wake condition. Trigger overrides
// short-circuit the default event/component/throttle cascade.
func (h *Host) shouldRun(ms *moduleState) bool {
	switch ms.policy.Trigger.Kind {
	case TriggerOnEvent:
		return h.bus.HasEvent(ms.policy.Trigger.EventType)
	case TriggerOnComponentChange:
		return h.live.HasComponentChanged(ms.policy.Trigger.ComponentType, ms.lastRunVersion)
	case TriggerInterval:
		return h.simTimeMS-ms.lastRunSimMS >= ms.policy.Trigger.IntervalMS
	}

	for _, id := range ms.watchEvents {
		if h.bus.HasEvent(id) {
			return true
		}
	}
	for _, id := range ms.watchComps {
		if h.live.HasComponentChanged(id, ms.lastRunVersion) {
			return true
		}
	}
	return ms.framesSinceRun >= ms.policy.SkipFrames()
}

// safeTick shields the orchestrator and workers from module panics.
func safeTick(m Module, ctx *TickContext) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = ecs.Errorf(ecs.CodePolicyInvalid, "module %s panicked: %v", m.Name(), r)
		}
	}()
	return m.Tick(ctx)
}

// ==============================================
// Introspection
// ==============================================

// Stats returns a snapshot of a module's execution statistics.
// Reading never resets; use ResetStats for a fresh window.
func (h *Host) Stats(module string) (ExecutionStats, bool) {
	ms, ok := h.byName[module]
	if !ok {
		return ExecutionStats{}, false
	}
	return ms.stats, true
}

// ResetStats zeroes a module's execution statistics.
func (h *Host) ResetStats(module string) {
	if ms, ok := h.byName[module]; ok {
		ms.stats = ExecutionStats{}
	}
}

// BreakerStateOf returns a module's breaker state.
func (h *Host) BreakerStateOf(module string) (BreakerState, bool) {
	ms, ok := h.byName[module]
	if !ok {
		return BreakerClosed, false
	}
	return ms.breaker.State(), true
}

// Faulted reports whether a frame fault paused the host.
func (h *Host) Faulted() bool {
	return h.faulted
}

// ModuleNames returns the registered module names in registration
// order.
func (h *Host) ModuleNames() []string {
	out := make([]string, len(h.modules))
	for i, ms := range h.modules {
		out[i] = ms.module.Name()
	}
	return out
}
