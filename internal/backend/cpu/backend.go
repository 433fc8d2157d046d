// Package cpu provides the pure Go CPU kernels for the Loom dispatch
// registry.
package cpu

import (
	"fmt"

	"github.com/loom-ml/loom/internal/dispatch"
	"github.com/loom-ml/loom/internal/tensor"
)

// ops maps operator names to their CPU kernels. Schemas are declared
// elsewhere (e.g. an operator manifest); kernels may be registered before
// any schema exists.
var ops = map[string]dispatch.KernelFunc{
	"loom::add":    addKernel,
	"loom::mul":    mulKernel,
	"loom::matmul": matmulKernel,
	"loom::relu":   reluKernel,
}

// Register installs every CPU kernel into d and returns the registration
// handles. On failure all handles registered so far are released.
func Register(d *dispatch.Dispatcher) ([]*dispatch.RegistrationHandle, error) {
	handles := make([]*dispatch.RegistrationHandle, 0, len(ops))
	for name, fn := range ops {
		h, err := d.RegisterImpl(dispatch.ParseName(name), dispatch.ForKey(dispatch.CPU),
			dispatch.NewKernel(fn), nil, "cpu kernel")
		if err != nil {
			for _, prev := range handles {
				prev.Deregister()
			}
			return nil, fmt.Errorf("cpu: registering %s: %w", name, err)
		}
		handles = append(handles, h)
	}
	return handles, nil
}

func binaryArgs(op string, args []*tensor.RawTensor) (a, b *tensor.RawTensor, err error) {
	if len(args) != 2 {
		return nil, nil, fmt.Errorf("%s: expected 2 arguments, got %d", op, len(args))
	}
	a, b = args[0], args[1]
	if a.DType() != tensor.Float32 || b.DType() != tensor.Float32 {
		return nil, nil, fmt.Errorf("%s: only float32 supported, got %s and %s", op, a.DType(), b.DType())
	}
	return a, b, nil
}

func elementwise(op string, args []*tensor.RawTensor, f func(x, y float32) float32) ([]*tensor.RawTensor, error) {
	a, b, err := binaryArgs(op, args)
	if err != nil {
		return nil, err
	}
	if !a.Shape().Equal(b.Shape()) {
		return nil, fmt.Errorf("%s: shape mismatch %s vs %s", op, a.Shape(), b.Shape())
	}
	out, err := tensor.NewRaw(a.Shape(), tensor.Float32)
	if err != nil {
		return nil, err
	}
	av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
	for i := range ov {
		ov[i] = f(av[i], bv[i])
	}
	return []*tensor.RawTensor{out}, nil
}

func addKernel(_ *dispatch.Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return elementwise("add", args, func(x, y float32) float32 { return x + y })
}

func mulKernel(_ *dispatch.Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	return elementwise("mul", args, func(x, y float32) float32 { return x * y })
}

// matmulKernel multiplies 2D matrices: (M, K) @ (K, N) -> (M, N).
func matmulKernel(_ *dispatch.Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	a, b, err := binaryArgs("matmul", args)
	if err != nil {
		return nil, err
	}
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		return nil, fmt.Errorf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape))
	}
	m, k := aShape[0], aShape[1]
	kAlt, n := bShape[0], bShape[1]
	if k != kAlt {
		return nil, fmt.Errorf("matmul: shape mismatch %s @ %s", aShape, bShape)
	}

	out, err := tensor.NewRaw(tensor.Shape{m, n}, tensor.Float32)
	if err != nil {
		return nil, err
	}
	av, bv, ov := a.Float32s(), b.Float32s(), out.Float32s()
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			x := av[i*k+l]
			for j := 0; j < n; j++ {
				ov[i*n+j] += x * bv[l*n+j]
			}
		}
	}
	return []*tensor.RawTensor{out}, nil
}

func reluKernel(_ *dispatch.Context, args []*tensor.RawTensor) ([]*tensor.RawTensor, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("relu: expected 1 argument, got %d", len(args))
	}
	x := args[0]
	if x.DType() != tensor.Float32 {
		return nil, fmt.Errorf("relu: only float32 supported, got %s", x.DType())
	}
	out := x.Clone()
	ov := out.Float32s()
	for i, v := range ov {
		if v < 0 {
			ov[i] = 0
		}
	}
	return []*tensor.RawTensor{out}, nil
}
