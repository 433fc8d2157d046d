package dispatch

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Dispatcher is the operator dispatch registry. It owns the durable set of
// operator entries, the name lookup index, the backend fallback table, and
// the listener list.
//
// A single registration mutex serializes all mutation; registration is rare
// and administrative, so correctness is preferred over write throughput.
// The lookup index has its own read/write lock so lookups only wait for the
// instant of an index mutation, never for registration work in progress.
type Dispatcher struct {
	mu        sync.Mutex // registration mutex, guards all mutation
	operators entryArena
	listeners listenerList

	lookupMu sync.RWMutex
	lookup   map[OperatorName]OperatorHandle

	// fallbacks holds at most one backend fallback kernel per key. Guarded
	// by mu for writes and lookupMu for reads from the resolution path.
	fallbacks [NumDispatchKeys]KernelFunction

	// withoutFallthrough caches which backends have no fallthrough fallback
	// registered. Derived from fallbacks; CheckInvariants cross-checks it.
	withoutFallthrough KeySet
}

// New creates an empty dispatcher. Most callers want Singleton instead;
// separate instances exist for tests and embedded runtimes.
func New() *Dispatcher {
	return &Dispatcher{
		lookup:             make(map[OperatorName]OperatorHandle),
		withoutFallthrough: FullKeySet(),
	}
}

var singleton = sync.OnceValue(New)

// Singleton returns the process-wide dispatcher, created lazily on first
// access. It lives for the process duration; there is no teardown API.
func Singleton() *Dispatcher {
	return singleton()
}

// FindByName returns a handle for the operator, if any entry exists for it
// (schema or kernel-only). It never takes the registration mutex.
func (d *Dispatcher) FindByName(name OperatorName) (OperatorHandle, bool) {
	d.lookupMu.RLock()
	h, ok := d.lookup[name]
	d.lookupMu.RUnlock()
	return h, ok
}

// FindSchema returns a handle only if the operator exists and has a
// declared schema.
func (d *Dispatcher) FindSchema(name OperatorName) (OperatorHandle, bool) {
	h, ok := d.FindByName(name)
	if !ok || !h.HasSchema() {
		return OperatorHandle{}, false
	}
	return h, true
}

// FindSchemaOrError is FindSchema with a diagnosable failure: NotFoundError
// when no entry exists at all, MissingSchemaError when the operator has
// implementations but no schema declaration.
func (d *Dispatcher) FindSchemaOrError(name OperatorName) (OperatorHandle, error) {
	h, ok := d.FindByName(name)
	if !ok {
		return OperatorHandle{}, &NotFoundError{Name: name}
	}
	if !h.HasSchema() {
		return OperatorHandle{}, &MissingSchemaError{Name: name}
	}
	return h, nil
}

// findOrRegisterName returns the entry for name, creating it if needed.
// Caller must hold mu.
func (d *Dispatcher) findOrRegisterName(name OperatorName) OperatorHandle {
	if h, ok := d.FindByName(name); ok {
		return h
	}
	h := d.operators.insert(newOperatorEntry(name))
	d.lookupMu.Lock()
	d.lookup[name] = h
	d.lookupMu.Unlock()
	return h
}

// RegisterDef registers an operator schema. The first registration for a
// name stores the schema and notifies listeners; later ones must be
// compatible with the stored schema (exact signature, reconcilable
// alias-analysis kind). The returned handle deregisters the schema.
func (d *Dispatcher) RegisterDef(schema FunctionSchema) (*RegistrationHandle, error) {
	if schema.Name().IsZero() {
		return nil, fmt.Errorf("dispatch: schema with empty operator name")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	name := schema.Name()
	op := d.findOrRegisterName(name)
	e := op.entry

	if e.defCount == 0 {
		// First schema registration: store (registerSchema is not
		// idempotent) and announce the operator.
		e.registerSchema(schema)
		d.listeners.callRegistered(op)
	} else {
		if err := checkSchemaCompatibility(e, schema); err != nil {
			return nil, err
		}
	}

	// Counts move only after all validation passed.
	e.defCount++
	e.defAndImplCount++

	return &RegistrationHandle{d: d, kind: regDef, op: op, name: name}, nil
}

// checkSchemaCompatibility applies the repeated-registration rules. Caller
// holds mu. May record the first concrete alias-analysis kind on the stored
// schema when it was previously unspecified.
func checkSchemaCompatibility(e *OperatorEntry, schema FunctionSchema) error {
	if !e.schema.Equal(schema) {
		return &SchemaMismatchError{Name: e.name, Stored: e.schema.Signature(), Incoming: schema.Signature()}
	}
	switch {
	case schema.IsDefaultAliasAnalysisKind():
		// A later unspecified registration is accepted against anything.
		// Backward-compatibility allowance for registration sites that never
		// declared a kind; scheduled for removal once those sites migrate.
	case e.schema.IsDefaultAliasAnalysisKind():
		// The stored schema never specified a kind; adopt the first concrete
		// choice. Later concrete registrations must agree with it. Published
		// schemas are immutable, so the adoption lands on a fresh copy.
		adopted := *e.schema
		adopted.alias = schema.alias
		e.schema = &adopted
		e.updateTable()
	case e.schema.alias != schema.alias:
		return &AliasAnalysisConflictError{Name: e.name, Stored: e.schema.alias, Incoming: schema.alias}
	}
	return nil
}

func (d *Dispatcher) deregisterDef(op OperatorHandle, name OperatorName) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.mustResolve(op, name)
	if e.defCount <= 0 || e.defAndImplCount <= 0 {
		panic(fmt.Sprintf("dispatch: def registration count underflow for %s", name))
	}

	e.defCount--
	e.defAndImplCount--
	if e.defCount == 0 {
		// Listeners run before the schema goes away so the operator is
		// still fully observable during the callback.
		d.listeners.callDeregistered(op)
		e.deregisterSchema()
	}

	d.cleanup(op, name)
}

// RegisterImpl registers a kernel for (name, target). The operator entry is
// created if the name was never seen; a schema is not required, kernels may
// arrive first. inferred optionally carries a schema fragment derived from
// the kernel; debug is a free-form label for diagnostics.
func (d *Dispatcher) RegisterImpl(name OperatorName, target Target, kernel KernelFunction, inferred *FunctionSchema, debug string) (*RegistrationHandle, error) {
	if name.IsZero() {
		return nil, fmt.Errorf("dispatch: kernel registration with empty operator name")
	}
	if !kernel.IsValid() {
		return nil, fmt.Errorf("dispatch: invalid kernel registered for %s", name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	op := d.findOrRegisterName(name)
	token := op.entry.registerKernel(target, kernel, inferred, debug)
	op.entry.defAndImplCount++

	return &RegistrationHandle{d: d, kind: regImpl, op: op, name: name, target: target, token: token}, nil
}

func (d *Dispatcher) deregisterImpl(op OperatorHandle, name OperatorName, target Target, token uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	e := d.mustResolve(op, name)
	e.deregisterKernel(target, token)

	if e.defAndImplCount <= 0 {
		panic(fmt.Sprintf("dispatch: impl registration count underflow for %s", name))
	}
	e.defAndImplCount--

	d.cleanup(op, name)
}

// cleanup erases the entry once nothing references it. Runs after every
// decrement path; the last reference to an operator may be a kernel rather
// than a schema. Caller holds mu.
func (d *Dispatcher) cleanup(op OperatorHandle, name OperatorName) {
	if op.entry.defAndImplCount != 0 {
		return
	}
	op.entry.prepareForDeregistration()
	d.operators.erase(op)
	d.lookupMu.Lock()
	delete(d.lookup, name)
	d.lookupMu.Unlock()
}

// mustResolve returns the live entry behind op, panicking on a stale handle
// or name mismatch; both indicate a broken deregistration path.
func (d *Dispatcher) mustResolve(op OperatorHandle, name OperatorName) *OperatorEntry {
	e := d.operators.resolve(op)
	if e == nil {
		panic(fmt.Sprintf("dispatch: deregistration through stale handle for %s", name))
	}
	if e.name != name {
		panic(fmt.Sprintf("dispatch: deregistration name mismatch: handle %s vs %s", e.name, name))
	}
	return e
}

// RegisterFallback registers a backend-wide fallback kernel used when an
// operator has no kernel for the requested key. At most one fallback per
// key may exist at a time.
func (d *Dispatcher) RegisterFallback(key DispatchKey, kernel KernelFunction) (*RegistrationHandle, error) {
	if !kernel.IsValid() {
		return nil, fmt.Errorf("dispatch: invalid fallback kernel registered for %s", key)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.fallbacks[key].IsValid() {
		return nil, &DuplicateFallbackError{Key: key}
	}
	d.lookupMu.Lock()
	d.fallbacks[key] = kernel
	d.lookupMu.Unlock()
	if kernel.IsFallthrough() {
		d.withoutFallthrough = d.withoutFallthrough.Remove(key)
	}

	return &RegistrationHandle{d: d, kind: regFallback, key: key}, nil
}

func (d *Dispatcher) deregisterFallback(key DispatchKey) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.fallbacks[key].IsValid() {
		panic(fmt.Sprintf("dispatch: tried to deregister a backend fallback kernel for %s but there was none registered", key))
	}
	d.lookupMu.Lock()
	d.fallbacks[key] = KernelFunction{}
	d.lookupMu.Unlock()
	d.withoutFallthrough = d.withoutFallthrough.Add(key)
}

// AddListener subscribes to operator lifecycle events. Before the listener
// is added it is replayed an OnOperatorRegistered call for every currently
// live operator with a schema, in registration order, so late subscribers
// observe the same logical event stream as early ones.
func (d *Dispatcher) AddListener(listener RegistrationListener) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.operators.forEach(func(op OperatorHandle, e *OperatorEntry) {
		if e.defCount > 0 {
			listener.OnOperatorRegistered(op)
		}
	})
	d.listeners.add(listener)
}

// Resolve returns the kernel to invoke for (op, key): the operator's own
// table first (newest for the key, else catch-all), then the backend
// fallback. When nothing resolves it returns a DispatchResolutionError
// whose message distinguishes "no identifiable backend" (Undefined) from a
// concrete but unsupported backend.
//
// The operator table is read from the entry's published snapshot, so Resolve
// never blocks on registration in progress; only the fallback table read
// takes the lookup read lock.
func (d *Dispatcher) Resolve(op OperatorHandle, key DispatchKey) (KernelFunction, error) {
	t := op.entry.table.Load()
	if k, ok := t.lookup(key); ok {
		return k, nil
	}
	d.lookupMu.RLock()
	fb := d.fallbacks[key]
	d.lookupMu.RUnlock()
	if fb.IsValid() && !fb.IsFallthrough() {
		return fb, nil
	}
	return KernelFunction{}, &DispatchResolutionError{Name: op.Name(), Key: key, Available: t.coverage()}
}

// NumOperators returns the number of live operator entries.
func (d *Dispatcher) NumOperators() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.operators.len()
}

// Operators visits every live operator in registration order under the
// registration mutex. fn must not mutate the registry.
func (d *Dispatcher) Operators(fn func(OperatorHandle)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.operators.forEach(func(op OperatorHandle, _ *OperatorEntry) {
		fn(op)
	})
}

// CheckInvariants is a diagnostic pass over the whole registry: each entry
// checks its own consistency, and the cached "backends without fallthrough"
// bitset is cross-checked against the fallback table. Not for hot paths.
func (d *Dispatcher) CheckInvariants() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var err error
	d.operators.forEach(func(op OperatorHandle, e *OperatorEntry) {
		if err == nil {
			err = e.checkInvariants()
		}
	})
	if err != nil {
		return err
	}

	d.lookupMu.RLock()
	defer d.lookupMu.RUnlock()
	if len(d.lookup) != d.operators.len() {
		return fmt.Errorf("lookup index has %d entries but %d operators are live", len(d.lookup), d.operators.len())
	}
	for name, h := range d.lookup {
		e := d.operators.resolve(h)
		if e == nil {
			return fmt.Errorf("lookup index holds stale handle for %s", name)
		}
		if e.name != name {
			return fmt.Errorf("lookup index maps %s to entry named %s", name, e.name)
		}
	}

	// Skip Undefined: it never has kernels of its own.
	for k := DispatchKey(1); int(k) < NumDispatchKeys; k++ {
		if !d.withoutFallthrough.Has(k) && !d.fallbacks[k].IsFallthrough() {
			return fmt.Errorf("fallthrough bitset claims %s has a fallthrough fallback but the table disagrees", k)
		}
	}
	return nil
}

// DumpState renders every live entry for debugging.
func (d *Dispatcher) DumpState() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := ""
	d.operators.forEach(func(_ OperatorHandle, e *OperatorEntry) {
		out += e.dumpState()
	})
	return out
}
