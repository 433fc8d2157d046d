package dispatch

import "github.com/loom-ml/loom/internal/tensor"

// Context carries per-call information into a kernel.
type Context struct {
	Key DispatchKey // the key the call resolved through
}

// KernelFunc is the signature all kernels implement.
type KernelFunc func(ctx *Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error)

// KernelFunction wraps a kernel implementation. The zero value is invalid
// (no kernel). A fallthrough kernel carries no implementation: it marks a
// backend fallback slot as "pass through to the next candidate".
type KernelFunction struct {
	fn          KernelFunc
	passthrough bool
}

// NewKernel wraps fn as a kernel.
func NewKernel(fn KernelFunc) KernelFunction {
	return KernelFunction{fn: fn}
}

// Fallthrough returns the pass-through kernel.
func Fallthrough() KernelFunction {
	return KernelFunction{passthrough: true}
}

// IsValid reports whether the kernel carries an implementation or is a
// fallthrough marker.
func (k KernelFunction) IsValid() bool {
	return k.fn != nil || k.passthrough
}

// IsFallthrough reports whether the kernel is the pass-through marker.
func (k KernelFunction) IsFallthrough() bool {
	return k.passthrough
}

// Call invokes the kernel. Calling an invalid or fallthrough kernel is an
// internal defect.
func (k KernelFunction) Call(ctx *Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if k.fn == nil {
		panic("dispatch: Call on invalid or fallthrough kernel")
	}
	return k.fn(ctx, args)
}
