package ecs

// QueryBuilder accumulates include/exclude masks and lifecycle filters
// for iteration over live entities. Builders are value types; Iter
// returns an allocation-free iterator over the entity index.
type QueryBuilder struct {
	repo      *Repository
	include   TypeMask
	exclude   TypeMask
	lifecycle uint8 // bit per Lifecycle value
	never     bool  // poisoned query, matches nothing
}

const defaultLifecycleFilter = 1 << LifecycleActive

// Query starts a query over this repository. By default only Active
// entities match; Ghost and Constructing require an explicit
// WithLifecycle.
func (r *Repository) Query() QueryBuilder {
	return QueryBuilder{repo: r, lifecycle: defaultLifecycleFilter}
}

// With narrows the query to entities carrying all given component ids.
func (q QueryBuilder) With(ids ...TypeID) QueryBuilder {
	q.include = q.include.SetMany(ids...)
	return q
}

// Without excludes entities carrying any of the given component ids.
func (q QueryBuilder) Without(ids ...TypeID) QueryBuilder {
	q.exclude = q.exclude.SetMany(ids...)
	return q
}

// WithLifecycle replaces the lifecycle filter with the given states.
func (q QueryBuilder) WithLifecycle(states ...Lifecycle) QueryBuilder {
	q.lifecycle = 0
	for _, s := range states {
		q.lifecycle |= 1 << s
	}
	return q
}

// QueryWith is a typed convenience: narrows by component type T.
func QueryWith[T any](q QueryBuilder) QueryBuilder {
	id, err := ComponentID[T](q.repo.reg)
	if err != nil {
		// An unregistered include can never match.
		q.never = true
		return q
	}
	return q.With(id)
}

// Count returns the number of matching entities without allocating.
func (q QueryBuilder) Count() int {
	n := 0
	for it := q.Iter(); it.Next(); {
		n++
	}
	return n
}

// Entities collects the matching handles into a fresh slice. Intended
// for tests and cold paths; hot paths iterate.
func (q QueryBuilder) Entities() []Entity {
	out := make([]Entity, 0, 64)
	for it := q.Iter(); it.Next(); {
		out = append(out, it.Entity())
	}
	return out
}

// Iter returns a value-type iterator over matching entities. The
// iterator must be driven to completion (or abandoned only after Next
// returns false) before structural mutation resumes; live iterators
// make structural ops fail with StructuralDuringRead.
func (q QueryBuilder) Iter() Iterator {
	q.repo.activeIters++
	return Iterator{q: q, next: 0, open: true}
}

// Iterator walks the entity index slots matching a query. It is a value
// type and performs no allocation.
type Iterator struct {
	q       QueryBuilder
	next    uint32
	current Entity
	open    bool
}

// Next advances to the next matching entity. It returns false once the
// index is exhausted, at which point the iterator unregisters itself.
func (it *Iterator) Next() bool {
	repo := it.q.repo
	slots := repo.index.slots
	for !it.q.never && int(it.next) < len(slots) {
		idx := it.next
		it.next++
		h := &slots[idx]
		if it.q.lifecycle&(1<<h.lifecycle) == 0 {
			continue
		}
		if !h.mask.ContainsAll(it.q.include) {
			continue
		}
		if h.mask.Intersects(it.q.exclude) {
			continue
		}
		it.current = MakeEntity(idx, h.generation)
		return true
	}
	if it.open {
		it.open = false
		repo.activeIters--
	}
	return false
}

// Entity returns the handle at the current position.
func (it *Iterator) Entity() Entity {
	return it.current
}

// Close releases the iterator early, re-enabling structural mutation.
// Safe to call multiple times.
func (it *Iterator) Close() {
	if it.open {
		it.open = false
		it.q.repo.activeIters--
	}
}
