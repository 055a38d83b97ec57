// Package schedule orders phase-tagged systems for execution. Systems
// declare runs-before / runs-after hints by name; Build computes a
// topological order per phase and rejects cyclic declarations.
package schedule

import (
	"sort"
	"strings"

	"simkernel/internal/core/ecs"
)

// System is a unit of per-frame logic. Systems never hold references to
// each other: dependency on another system's output is expressed by
// reading a component, singleton, or event that it writes, and ordering
// constraints are declared by name through RunsBefore/RunsAfter.
type System interface {
	// Name identifies the system for ordering constraints and logs.
	Name() string

	// Phase tags the frame phase this system executes in.
	Phase() ecs.Phase

	// RunsBefore lists system names that must execute after this one.
	RunsBefore() []string

	// RunsAfter lists system names that must execute before this one.
	RunsAfter() []string

	// Execute runs one step against the world with the frame delta.
	Execute(world *ecs.Repository, dt float64) error
}

// BaseSystem provides no-op ordering hints for systems that do not
// declare any. Embed it and override what you need.
type BaseSystem struct{}

// RunsBefore returns no constraints.
func (BaseSystem) RunsBefore() []string { return nil }

// RunsAfter returns no constraints.
func (BaseSystem) RunsAfter() []string { return nil }

// Scheduler owns the registered systems and their computed execution
// order. Register everything, call Build once, then ExecutePhase each
// frame.
type Scheduler struct {
	systems map[string]System
	order   [][]System // by phase, topological
	built   bool
}

// NewScheduler creates an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		systems: make(map[string]System),
		order:   make([][]System, len(ecs.Phases())),
	}
}

// Register adds a system. Registration after Build fails.
func (s *Scheduler) Register(sys System) error {
	if s.built {
		return ecs.NewError(ecs.CodePolicyInvalid, "scheduler already built; register systems before Build")
	}
	name := sys.Name()
	if name == "" {
		return ecs.NewError(ecs.CodePolicyInvalid, "system name must not be empty")
	}
	if _, dup := s.systems[name]; dup {
		return ecs.Errorf(ecs.CodePolicyInvalid, "system %q already registered", name)
	}
	s.systems[name] = sys
	return nil
}

// SystemCount returns the number of registered systems.
func (s *Scheduler) SystemCount() int {
	return len(s.systems)
}

// Build computes the per-phase topological order. A cycle in the
// declared constraints fails the build with CycleDetected, naming the
// cycle members.
func (s *Scheduler) Build() error {
	if s.built {
		return ecs.NewError(ecs.CodePolicyInvalid, "scheduler already built")
	}

	for _, phase := range ecs.Phases() {
		ordered, err := s.sortPhase(phase)
		if err != nil {
			return err
		}
		s.order[phase] = ordered
	}
	s.built = true
	return nil
}

// sortPhase runs Kahn's algorithm over the systems of one phase.
// Alphabetical name order breaks ties so execution order is stable
// across runs with identical registrations.
func (s *Scheduler) sortPhase(phase ecs.Phase) ([]System, error) {
	var names []string
	for name, sys := range s.systems {
		if sys.Phase() == phase {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	inPhase := make(map[string]bool, len(names))
	for _, n := range names {
		inPhase[n] = true
	}

	// b in succ[a] means a runs before b.
	succ := make(map[string][]string, len(names))
	indeg := make(map[string]int, len(names))
	for _, n := range names {
		indeg[n] = 0
	}
	addEdge := func(before, after string) {
		if !inPhase[before] || !inPhase[after] || before == after {
			return
		}
		succ[before] = append(succ[before], after)
		indeg[after]++
	}
	for _, n := range names {
		sys := s.systems[n]
		for _, b := range sys.RunsBefore() {
			addEdge(n, b)
		}
		for _, a := range sys.RunsAfter() {
			addEdge(a, n)
		}
	}

	var ready []string
	for _, n := range names {
		if indeg[n] == 0 {
			ready = append(ready, n)
		}
	}
	sort.Strings(ready)

	ordered := make([]System, 0, len(names))
	for len(ready) > 0 {
		n := ready[0]
		ready = ready[1:]
		ordered = append(ordered, s.systems[n])
		unlocked := false
		for _, m := range succ[n] {
			indeg[m]--
			if indeg[m] == 0 {
				ready = append(ready, m)
				unlocked = true
			}
		}
		if unlocked {
			sort.Strings(ready)
		}
	}

	if len(ordered) != len(names) {
		var cycle []string
		for _, n := range names {
			if indeg[n] > 0 {
				cycle = append(cycle, n)
			}
		}
		return nil, ecs.Errorf(ecs.CodeCycleDetected,
			"ordering constraints form a cycle in phase %s: %s", phase, strings.Join(cycle, " -> "))
	}
	return ordered, nil
}

// ExecutePhase invokes every system of the phase in the computed order.
// The first failing system aborts the phase and returns its error.
func (s *Scheduler) ExecutePhase(phase ecs.Phase, world *ecs.Repository, dt float64) error {
	if !s.built {
		return ecs.NewError(ecs.CodePolicyInvalid, "scheduler not built")
	}
	for _, sys := range s.order[phase] {
		if err := sys.Execute(world, dt); err != nil {
			return err
		}
	}
	return nil
}

// PhaseOrder returns the computed system names of a phase, for
// diagnostics and tests.
func (s *Scheduler) PhaseOrder(phase ecs.Phase) []string {
	out := make([]string, 0, len(s.order[phase]))
	for _, sys := range s.order[phase] {
		out = append(out, sys.Name())
	}
	return out
}
