package dispatch

// entryArena is a slot map holding operator entries. Handles into it are
// (index, generation) pairs: a slot's generation is bumped on erase, so a
// stale handle resolves to nil instead of a recycled entry. Insertions never
// move existing slots, which is what keeps OperatorHandles stable.
//
// Iteration follows insertion order, not slot order: a reused slot re-enters
// at the tail, so listener replay and registry walks see operators in the
// order they were created.
type entrySlot struct {
	entry *OperatorEntry // nil when the slot is free
	gen   uint32
}

type entryArena struct {
	slots []entrySlot
	order []int32 // live slot indices, oldest first
	free  []int32 // indices of free slots, reused LIFO
}

// insert stores e in a free slot (or grows) and returns its handle.
func (a *entryArena) insert(e *OperatorEntry) OperatorHandle {
	var idx int32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[idx].entry = e
	} else {
		idx = int32(len(a.slots))
		a.slots = append(a.slots, entrySlot{entry: e})
	}
	a.order = append(a.order, idx)
	return OperatorHandle{idx: idx, gen: a.slots[idx].gen, entry: e}
}

// resolve returns the entry h points at, or nil if h is stale or invalid.
func (a *entryArena) resolve(h OperatorHandle) *OperatorEntry {
	if h.entry == nil || int(h.idx) >= len(a.slots) {
		return nil
	}
	s := a.slots[h.idx]
	if s.gen != h.gen {
		return nil
	}
	return s.entry
}

// erase frees the slot h points at. Erasing through a stale handle is an
// internal defect.
func (a *entryArena) erase(h OperatorHandle) {
	if a.resolve(h) == nil {
		panic("dispatch: erase through stale operator handle")
	}
	a.slots[h.idx].entry = nil
	a.slots[h.idx].gen++
	a.free = append(a.free, h.idx)
	for i, idx := range a.order {
		if idx == h.idx {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}

// forEach visits every live entry in insertion order.
func (a *entryArena) forEach(fn func(OperatorHandle, *OperatorEntry)) {
	for _, idx := range a.order {
		s := a.slots[idx]
		fn(OperatorHandle{idx: idx, gen: s.gen, entry: s.entry}, s.entry)
	}
}

// len returns the number of live entries.
func (a *entryArena) len() int {
	return len(a.order)
}
