package dispatch

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"
)

// kernelEntry is one live kernel registration in an operator's table.
type kernelEntry struct {
	id       uuid.UUID // registration identity, shows up in debug dumps
	kernel   KernelFunction
	inferred *FunctionSchema // schema fragment inferred from the kernel, if any
	debug    string          // free-form label from the registration site
}

// dispatchTable is the precomputed resolution state for one operator: the
// winning kernel per dispatch key, the catch-all kernel, and the schema.
// Tables are immutable once published; every mutation of the operator entry
// builds a fresh table and swaps it in atomically, so the resolution path
// and handle accessors read without taking any lock.
type dispatchTable struct {
	schema    *FunctionSchema
	kernels   [NumDispatchKeys]KernelFunction
	supported []DispatchKey // keys with kernels, in key order
	catchAll  KernelFunction
}

// lookup resolves a dispatch key: the kernel for the key, else the catch-all.
func (t *dispatchTable) lookup(key DispatchKey) (KernelFunction, bool) {
	if k := t.kernels[key]; k.IsValid() {
		return k, true
	}
	if t.catchAll.IsValid() {
		return t.catchAll, true
	}
	return KernelFunction{}, false
}

// coverage lists the operator's backend coverage for diagnostics, with
// "CatchAll" appended when a catch-all kernel exists.
func (t *dispatchTable) coverage() []string {
	var out []string
	for _, k := range t.supported {
		out = append(out, k.String())
	}
	if t.catchAll.IsValid() {
		out = append(out, "CatchAll")
	}
	return out
}

// OperatorEntry owns one operator's schema state and per-backend kernel
// table. All mutation happens under the dispatcher's registration mutex and
// republishes the dispatch table, which is what concurrent readers see.
//
// Counters: defCount is the number of live schema registrations;
// defAndImplCount additionally counts kernel registrations, i.e. the total
// number of outstanding registration handles referencing this entry.
// defCount <= defAndImplCount always holds.
type OperatorEntry struct {
	name     OperatorName
	schema   *FunctionSchema
	kernels  map[DispatchKey][]kernelEntry // newest first
	catchAll []kernelEntry                 // newest first

	table atomic.Pointer[dispatchTable]

	defCount        int
	defAndImplCount int
}

func newOperatorEntry(name OperatorName) *OperatorEntry {
	e := &OperatorEntry{
		name:    name,
		kernels: make(map[DispatchKey][]kernelEntry),
	}
	e.table.Store(&dispatchTable{})
	return e
}

// updateTable recomputes and publishes the dispatch table from the current
// registration state. Every mutation path ends here; the caller holds the
// dispatcher's registration mutex.
func (e *OperatorEntry) updateTable() {
	t := &dispatchTable{schema: e.schema}
	for k := DispatchKey(0); int(k) < NumDispatchKeys; k++ {
		if list := e.kernels[k]; len(list) > 0 {
			t.kernels[k] = list[0].kernel
			t.supported = append(t.supported, k)
		}
	}
	if len(e.catchAll) > 0 {
		t.catchAll = e.catchAll[0].kernel
	}
	e.table.Store(t)
}

// registerSchema stores the schema. Not idempotent: storing twice is an
// internal defect (the dispatcher only calls this when defCount == 0).
func (e *OperatorEntry) registerSchema(s FunctionSchema) {
	if e.schema != nil {
		panic(fmt.Sprintf("dispatch: registerSchema called twice for %s", e.name))
	}
	e.schema = &s
	e.updateTable()
}

func (e *OperatorEntry) deregisterSchema() {
	if e.schema == nil {
		panic(fmt.Sprintf("dispatch: deregisterSchema without a schema for %s", e.name))
	}
	e.schema = nil
	e.updateTable()
}

// registerKernel appends a kernel for the target and returns the slot token
// identifying exactly this registration. Multiple kernels may coexist for
// the same target; the newest one wins at resolution time while the older
// ones are retained so deregistration order is unconstrained.
func (e *OperatorEntry) registerKernel(target Target, k KernelFunction, inferred *FunctionSchema, debug string) uuid.UUID {
	ke := kernelEntry{id: uuid.New(), kernel: k, inferred: inferred, debug: debug}
	if key, ok := target.Key(); ok {
		e.kernels[key] = append([]kernelEntry{ke}, e.kernels[key]...)
	} else {
		e.catchAll = append([]kernelEntry{ke}, e.catchAll...)
	}
	e.updateTable()
	return ke.id
}

// deregisterKernel removes exactly the slot identified by token. Removing a
// token that was never registered (or already removed) is an internal defect.
func (e *OperatorEntry) deregisterKernel(target Target, token uuid.UUID) {
	if key, ok := target.Key(); ok {
		if list, ok := removeKernel(e.kernels[key], token); ok {
			if len(list) == 0 {
				delete(e.kernels, key)
			} else {
				e.kernels[key] = list
			}
			e.updateTable()
			return
		}
	} else if list, ok := removeKernel(e.catchAll, token); ok {
		e.catchAll = list
		e.updateTable()
		return
	}
	panic(fmt.Sprintf("dispatch: deregisterKernel for %s: no kernel slot %s under %s", e.name, token, target))
}

func removeKernel(list []kernelEntry, token uuid.UUID) ([]kernelEntry, bool) {
	for i := range list {
		if list[i].id == token {
			return append(list[:i:i], list[i+1:]...), true
		}
	}
	return list, false
}

// lookupKernel resolves a dispatch key against the published table: newest
// kernel for the key, else newest catch-all kernel. Safe without locks.
func (e *OperatorEntry) lookupKernel(key DispatchKey) (KernelFunction, bool) {
	return e.table.Load().lookup(key)
}

// supportedKeys returns the keys with registered kernels, in key order.
func (e *OperatorEntry) supportedKeys() []DispatchKey {
	keys := make([]DispatchKey, 0, len(e.kernels))
	for k := DispatchKey(0); int(k) < NumDispatchKeys; k++ {
		if len(e.kernels[k]) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// coverage lists backend coverage from the published table.
func (e *OperatorEntry) coverage() []string {
	return e.table.Load().coverage()
}

// checkInvariants verifies the entry's own consistency.
func (e *OperatorEntry) checkInvariants() error {
	if e.defCount < 0 || e.defAndImplCount < 0 {
		return fmt.Errorf("operator %s: negative registration count (def=%d, defAndImpl=%d)",
			e.name, e.defCount, e.defAndImplCount)
	}
	if e.defCount > e.defAndImplCount {
		return fmt.Errorf("operator %s: def count %d exceeds total registration count %d",
			e.name, e.defCount, e.defAndImplCount)
	}
	if e.defCount > 0 && e.schema == nil {
		return fmt.Errorf("operator %s: def count %d but no schema registered", e.name, e.defCount)
	}
	if e.defCount == 0 && e.schema != nil {
		return fmt.Errorf("operator %s: schema registered but def count is zero", e.name)
	}
	if e.schema != nil && e.schema.name != e.name {
		return fmt.Errorf("operator %s: schema declares mismatching name %s", e.name, e.schema.name)
	}
	for k, list := range e.kernels {
		if len(list) == 0 {
			return fmt.Errorf("operator %s: empty kernel list retained for %s", e.name, k)
		}
	}
	t := e.table.Load()
	if t.schema != e.schema {
		return fmt.Errorf("operator %s: published table carries a different schema", e.name)
	}
	for k := DispatchKey(0); int(k) < NumDispatchKeys; k++ {
		if t.kernels[k].IsValid() != (len(e.kernels[k]) > 0) {
			return fmt.Errorf("operator %s: published table disagrees with kernel list for %s", e.name, k)
		}
	}
	if t.catchAll.IsValid() != (len(e.catchAll) > 0) {
		return fmt.Errorf("operator %s: published table disagrees with catch-all kernel list", e.name)
	}
	return nil
}

// prepareForDeregistration asserts no dangling state remains before the
// entry is erased. Called exactly when defAndImplCount reaches zero.
func (e *OperatorEntry) prepareForDeregistration() {
	if e.schema != nil {
		panic(fmt.Sprintf("dispatch: removing operator %s that still has a schema", e.name))
	}
	if len(e.kernels) != 0 || len(e.catchAll) != 0 {
		panic(fmt.Sprintf("dispatch: removing operator %s that still has kernels registered", e.name))
	}
}

// dumpState renders the entry for debug output.
func (e *OperatorEntry) dumpState() string {
	var b strings.Builder
	fmt.Fprintf(&b, "operator %s (defs=%d, total=%d)\n", e.name, e.defCount, e.defAndImplCount)
	if e.schema != nil {
		fmt.Fprintf(&b, "  schema: %s [%s]\n", e.schema, e.schema.alias)
	}
	for _, k := range e.supportedKeys() {
		for _, ke := range e.kernels[k] {
			fmt.Fprintf(&b, "  kernel %s: %s %s\n", k, ke.id, ke.debug)
		}
	}
	for _, ke := range e.catchAll {
		fmt.Fprintf(&b, "  kernel CatchAll: %s %s\n", ke.id, ke.debug)
	}
	return b.String()
}
