package ecs

// SyncOption customizes a SyncFrom pass.
type SyncOption func(*syncOptions)

type syncOptions struct {
	includeTransient bool
	exclude          TypeMask
}

// SyncWithTransient copies non-snapshotable types too. Default syncs
// skip them so mutable references never flow to concurrent readers.
func SyncWithTransient() SyncOption {
	return func(o *syncOptions) { o.includeTransient = true }
}

// SyncExclude skips the given component types regardless of their
// snapshotable flag.
func SyncExclude(ids ...TypeID) SyncOption {
	return func(o *syncOptions) { o.exclude = o.exclude.SetMany(ids...) }
}

// SyncMask restricts the sync to the given component mask: every type
// outside the mask is excluded. Used by providers syncing only the
// union of their consumers' component sets.
func SyncMask(mask TypeMask) SyncOption {
	return func(o *syncOptions) {
		o.exclude = o.exclude.Or(AllTypesMask(MaxComponentTypes).AndNot(mask))
	}
}

// SyncFrom populates this repository from src by copying only chunks
// whose write version exceeds the version mirrored at the previous
// sync. Entity headers and row directories are always refreshed (their
// changes always accompany a chunk write); chunk payloads move only
// when dirty. src and the destination must share the same registry.
func (r *Repository) SyncFrom(src *Repository, opts ...SyncOption) error {
	if r.reg != src.reg {
		return NewError(CodePolicyInvalid, "sync requires repositories of the same schema")
	}
	var o syncOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.index.copyFrom(&src.index)

	for id := range src.tables {
		tid := TypeID(id)
		if o.exclude.Has(tid) {
			continue
		}
		info := r.reg.components[id]
		if !info.Snapshotable && !o.includeTransient {
			continue
		}

		if ss := src.singletons[id]; ss != nil {
			if ss.lastWrite > r.syncSingletons[id] {
				r.singletons[id].copyFrom(ss)
				r.syncSingletons[id] = ss.lastWrite
			}
			continue
		}

		st, dt := src.tables[id], r.tables[id]
		dt.copyDirFrom(st)

		mirrored := r.syncChunks[id]
		for len(mirrored) < len(st.chunks) {
			mirrored = append(mirrored, 0)
		}
		for i, c := range st.chunks {
			if c.lastWrite > mirrored[i] {
				dt.copyChunkFrom(st, i)
				mirrored[i] = c.lastWrite
			}
		}
		r.syncChunks[id] = mirrored
	}

	r.globalVersion = src.globalVersion
	return nil
}

// SoftClear drops all entities and component rows but keeps storage
// allocations and sync bookkeeping reset, readying a pooled mirror for
// its next acquisition.
func (r *Repository) SoftClear() {
	r.index = newEntityIndex(r.cfg.InitialCapacity)
	for id, t := range r.tables {
		if t != nil {
			t.softClear()
		}
		if s := r.singletons[id]; s != nil {
			s.present = false
			s.lastWrite = 0
			clearBytes(s.data)
		}
		if r.syncChunks[id] != nil {
			r.syncChunks[id] = r.syncChunks[id][:0]
		}
		r.syncSingletons[id] = 0
	}
	r.globalVersion = 0
}
