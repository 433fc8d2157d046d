// Copyright 2026 Loom ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package dispatch is the public surface of the Loom operator dispatch
// registry.
//
// # Overview
//
// The registry binds operator names to a declared schema and per-backend
// kernels, and resolves which kernel to invoke for a given dispatch key.
// Libraries register from independent init paths, in any order:
//
//	schema, _ := dispatch.ParseSchema("loom::add(Tensor a, Tensor b) -> Tensor", dispatch.AliasFromSchema)
//	def, err := dispatch.Singleton().RegisterDef(schema)
//	...
//	impl, err := dispatch.Singleton().RegisterImpl(
//	    dispatch.ParseName("loom::add"),
//	    dispatch.ForKey(dispatch.CPU),
//	    dispatch.NewKernel(addKernel),
//	    nil, "cpu kernel")
//
// Every registration returns a handle; releasing the handle deregisters
// exactly that registration. The operator disappears when its last handle
// is released.
//
// # Concurrency
//
// All mutating operations are serialized on one registration mutex.
// Lookups (FindByName, FindSchema, FindSchemaOrError) use a separate
// reader/writer index and never block on registrations in progress.
// Listener callbacks run with the registration mutex held and must not
// mutate the registry.
package dispatch
