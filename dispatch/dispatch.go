// Copyright 2026 Loom ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

package dispatch

import "github.com/loom-ml/loom/internal/dispatch"

// Dispatcher is the operator dispatch registry.
type Dispatcher = dispatch.Dispatcher

// Core identifier and schema types.
type (
	OperatorName      = dispatch.OperatorName
	FunctionSchema    = dispatch.FunctionSchema
	AliasAnalysisKind = dispatch.AliasAnalysisKind
)

// Handles.
type (
	OperatorHandle     = dispatch.OperatorHandle
	RegistrationHandle = dispatch.RegistrationHandle
)

// Kernel types.
type (
	Context        = dispatch.Context
	KernelFunc     = dispatch.KernelFunc
	KernelFunction = dispatch.KernelFunction
)

// Dispatch keys and targets.
type (
	DispatchKey = dispatch.DispatchKey
	KeySet      = dispatch.KeySet
	Target      = dispatch.Target
)

// RegistrationListener observes operator lifecycle events.
type RegistrationListener = dispatch.RegistrationListener

// LogListener logs operator lifecycle events through slog.
type LogListener = dispatch.LogListener

// Backend dispatch keys.
const (
	Undefined = dispatch.Undefined
	CPU       = dispatch.CPU
	CUDA      = dispatch.CUDA
	Vulkan    = dispatch.Vulkan
	Metal     = dispatch.Metal
	WebGPU    = dispatch.WebGPU
	Autograd  = dispatch.Autograd
)

// Alias-analysis classifications.
const (
	AliasDefault      = dispatch.AliasDefault
	AliasConservative = dispatch.AliasConservative
	AliasFromSchema   = dispatch.AliasFromSchema
	AliasPure         = dispatch.AliasPure
)

// Error sentinels, for errors.Is.
var (
	ErrNotFound              = dispatch.ErrNotFound
	ErrMissingSchema         = dispatch.ErrMissingSchema
	ErrSchemaMismatch        = dispatch.ErrSchemaMismatch
	ErrAliasAnalysisConflict = dispatch.ErrAliasAnalysisConflict
	ErrDuplicateFallback     = dispatch.ErrDuplicateFallback
	ErrDispatchResolution    = dispatch.ErrDispatchResolution
)

// Detailed error types, for errors.As.
type (
	NotFoundError              = dispatch.NotFoundError
	MissingSchemaError         = dispatch.MissingSchemaError
	SchemaMismatchError        = dispatch.SchemaMismatchError
	AliasAnalysisConflictError = dispatch.AliasAnalysisConflictError
	DuplicateFallbackError     = dispatch.DuplicateFallbackError
	DispatchResolutionError    = dispatch.DispatchResolutionError
)

// Singleton returns the process-wide dispatcher, created lazily on first
// access.
func Singleton() *Dispatcher {
	return dispatch.Singleton()
}

// New creates a standalone dispatcher, independent of the singleton.
func New() *Dispatcher {
	return dispatch.New()
}

// ParseName parses "name" or "name.overload" into an OperatorName.
func ParseName(s string) OperatorName {
	return dispatch.ParseName(s)
}

// NewSchema builds a schema from its parts.
func NewSchema(name OperatorName, signature string, alias AliasAnalysisKind) FunctionSchema {
	return dispatch.NewSchema(name, signature, alias)
}

// ParseSchema parses a declaration like "loom::add(Tensor a, Tensor b) -> Tensor".
func ParseSchema(decl string, alias AliasAnalysisKind) (FunctionSchema, error) {
	return dispatch.ParseSchema(decl, alias)
}

// ParseAliasAnalysisKind parses the manifest spelling of an alias kind.
func ParseAliasAnalysisKind(s string) (AliasAnalysisKind, error) {
	return dispatch.ParseAliasAnalysisKind(s)
}

// NewKernel wraps fn as a kernel.
func NewKernel(fn KernelFunc) KernelFunction {
	return dispatch.NewKernel(fn)
}

// Fallthrough returns the pass-through kernel marker.
func Fallthrough() KernelFunction {
	return dispatch.Fallthrough()
}

// ForKey returns the registration target for a specific dispatch key.
func ForKey(k DispatchKey) Target {
	return dispatch.ForKey(k)
}

// CatchAll returns the operator-wide catch-all registration target.
func CatchAll() Target {
	return dispatch.CatchAll()
}
