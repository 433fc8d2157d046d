package tensor

import (
	"fmt"
	"unsafe"
)

// RawTensor is the low-level tensor representation passed between kernels.
// It owns a flat byte buffer interpreted according to its DataType.
type RawTensor struct {
	data  []byte
	shape Shape
	dtype DataType
}

// NewRaw creates a new RawTensor with the given shape and type.
// Memory is allocated and zero-initialized.
func NewRaw(shape Shape, dtype DataType) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		data:  make([]byte, shape.NumElements()*dtype.Size()),
		shape: shape.Clone(),
		dtype: dtype,
	}, nil
}

// FromFloat32s creates a Float32 RawTensor holding a copy of data.
func FromFloat32s(data []float32, shape Shape) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if len(data) != shape.NumElements() {
		return nil, fmt.Errorf("data length %d does not match shape %s (%d elements)",
			len(data), shape, shape.NumElements())
	}
	r, err := NewRaw(shape, Float32)
	if err != nil {
		return nil, err
	}
	copy(r.Float32s(), data)
	return r, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape {
	return r.shape
}

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType {
	return r.dtype
}

// NumElements returns the total element count.
func (r *RawTensor) NumElements() int {
	return r.shape.NumElements()
}

// Bytes returns the raw backing buffer.
func (r *RawTensor) Bytes() []byte {
	return r.data
}

// Float32s reinterprets the buffer as []float32.
// Panics if the tensor is not Float32.
func (r *RawTensor) Float32s() []float32 {
	if r.dtype != Float32 {
		panic(fmt.Sprintf("Float32s called on %s tensor", r.dtype))
	}
	if len(r.data) == 0 {
		return nil
	}
	return unsafe.Slice((*float32)(unsafe.Pointer(&r.data[0])), len(r.data)/4)
}

// Clone returns a deep copy of the tensor.
func (r *RawTensor) Clone() *RawTensor {
	out := &RawTensor{
		data:  make([]byte, len(r.data)),
		shape: r.shape.Clone(),
		dtype: r.dtype,
	}
	copy(out.data, r.data)
	return out
}

// String returns a summary like "RawTensor(float32, (2, 3))".
func (r *RawTensor) String() string {
	return fmt.Sprintf("RawTensor(%s, %s)", r.dtype, r.shape)
}
