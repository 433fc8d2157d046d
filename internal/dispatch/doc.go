// Package dispatch implements the operator dispatch registry at the heart of
// the Loom runtime.
//
// The registry binds operator names to a declared schema and a set of
// per-backend kernels. Libraries register schemas (RegisterDef) and kernels
// (RegisterImpl) independently, from unrelated init paths, in any order; the
// registry converges to the same state regardless of ordering. Every
// register call returns a RegistrationHandle whose Deregister method unwinds
// exactly that registration. An operator entry lives for as long as at least
// one registration references it and is removed synchronously when the last
// handle is released.
//
// All mutation is serialized by a single registration mutex. Lookups go
// through a separately synchronized name index, and kernel resolution reads
// an immutable per-operator table republished after every mutation; neither
// path ever waits on registration work in progress.
//
// Listener callbacks run while the registration mutex is held. A listener
// must not call back into a mutating registry operation; the mutex is not
// reentrant and doing so deadlocks.
package dispatch
