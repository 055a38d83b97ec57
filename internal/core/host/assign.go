package host

import (
	"simkernel/internal/core/ecs"
	"simkernel/internal/core/snapshot"
)

// providerGroupKey groups modules that can share a snapshot provider.
type providerGroupKey struct {
	runMode  RunMode
	strategy DataStrategy
	hz       float64
}

// requiredMask derives a module's component mask from its declared
// required-components list. An empty list conservatively maps to every
// registered type.
func requiredMask(reg *ecs.Registry, required []ecs.TypeID) ecs.TypeMask {
	if len(required) == 0 {
		return reg.AllComponentsMask()
	}
	var m ecs.TypeMask
	return m.SetMany(required...)
}

// autoAssignProviders groups the modules by (run mode, data strategy,
// target frequency) and wires each group to its provider:
//
//   - Direct groups get the pass-through live-world provider.
//   - GDB groups share one persistent replica syncing the bitwise-or
//     of the members' masks.
//   - SoD singletons get an on-demand pool; larger SoD groups share a
//     convoy mirror under the union mask.
//
// Assignment runs once at Init; the masks captured here are final.
func (h *Host) autoAssignProviders() {
	groups := make(map[providerGroupKey][]*moduleState)
	var order []providerGroupKey
	for _, ms := range h.modules {
		key := providerGroupKey{
			runMode:  ms.policy.RunMode,
			strategy: ms.policy.DataStrategy,
			hz:       ms.policy.TargetFrequencyHz,
		}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], ms)
	}

	for _, key := range order {
		members := groups[key]

		var union ecs.TypeMask
		for _, ms := range members {
			union = union.Or(ms.requiredMask)
		}

		switch key.strategy {
		case DataDirect:
			p := snapshot.NewDirect(h.live)
			for _, ms := range members {
				ms.provider = p
			}

		case DataGDB:
			p := snapshot.NewReplica(h.live, union, h.tuning, h.providerOpts...)
			h.providers = append(h.providers, p)
			for _, ms := range members {
				ms.provider = p
			}

		case DataSoD:
			if len(members) == 1 {
				p := snapshot.NewPool(h.live, union, h.tuning, h.providerOpts...)
				h.providers = append(h.providers, p)
				members[0].provider = p
			} else {
				p := snapshot.NewConvoy(h.live, union, h.tuning, h.providerOpts...)
				h.providers = append(h.providers, p)
				for _, ms := range members {
					ms.provider = p
				}
			}
		}
	}
}
