package dispatch

import "github.com/google/uuid"

// OperatorHandle is a lightweight, copyable reference to an operator entry.
// It never owns the entry; it stays valid exactly as long as at least one
// registration references the operator. The zero value is invalid.
type OperatorHandle struct {
	idx   int32
	gen   uint32
	entry *OperatorEntry
}

// Valid reports whether the handle references an entry. It does not detect
// staleness after the entry was erased; holding a handle past the last
// deregistration is a caller error.
func (h OperatorHandle) Valid() bool {
	return h.entry != nil
}

// Name returns the operator name.
func (h OperatorHandle) Name() OperatorName {
	return h.entry.name
}

// HasSchema reports whether the operator currently has a declared schema.
// Like all handle accessors, it reads the entry's published table, so it is
// safe to call concurrently with registration.
func (h OperatorHandle) HasSchema() bool {
	return h.entry.table.Load().schema != nil
}

// Schema returns the declared schema. Calling it on an operator without a
// schema is an internal defect.
func (h OperatorHandle) Schema() FunctionSchema {
	s := h.entry.table.Load().schema
	if s == nil {
		panic("dispatch: Schema called on operator without a schema")
	}
	return *s
}

// SupportedKeys returns the dispatch keys the operator has kernels for, in
// key order, plus "CatchAll" coverage via HasCatchAll.
func (h OperatorHandle) SupportedKeys() []DispatchKey {
	t := h.entry.table.Load()
	return append([]DispatchKey(nil), t.supported...)
}

// HasCatchAll reports whether a catch-all kernel is registered.
func (h OperatorHandle) HasCatchAll() bool {
	return h.entry.table.Load().catchAll.IsValid()
}

// registration kinds for RegistrationHandle
type regKind uint8

const (
	regDef regKind = iota + 1
	regImpl
	regFallback
)

// RegistrationHandle is the one-shot capability returned from every
// register call. Deregister unwinds exactly the registration that produced
// the handle. It must be called exactly once; a second call panics, and
// never calling it leaks the registration (tolerated at process exit).
//
// The handle stores only identifying data; disposal calls back into the
// dispatcher rather than capturing registration state in a closure.
type RegistrationHandle struct {
	d      *Dispatcher
	kind   regKind
	op     OperatorHandle
	name   OperatorName
	target Target
	token  uuid.UUID   // identifies the exact kernel slot (regImpl only)
	key    DispatchKey // fallback key (regFallback only)
	done   bool
}

// Deregister unwinds the registration.
func (h *RegistrationHandle) Deregister() {
	if h.done {
		panic("dispatch: registration already released")
	}
	h.done = true
	switch h.kind {
	case regDef:
		h.d.deregisterDef(h.op, h.name)
	case regImpl:
		h.d.deregisterImpl(h.op, h.name, h.target, h.token)
	case regFallback:
		h.d.deregisterFallback(h.key)
	default:
		panic("dispatch: unknown registration kind")
	}
}
