package tensor

import (
	"fmt"
)

// NewTensor creates a tensor with the given shape and backing data. The data
// slice length must match the shape's element count; the slice is used
// directly, not copied.
func NewTensor(shape []int, dtype DType, data interface{}) (*Tensor, error) {
	if err := validateShape(shape); err != nil {
		return nil, err
	}

	numElems := calculateNumElements(shape)

	switch dtype {
	case Float32:
		d, ok := data.([]float32)
		if !ok {
			return nil, fmt.Errorf("expected []float32 for Float32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	case Int32:
		d, ok := data.([]int32)
		if !ok {
			return nil, fmt.Errorf("expected []int32 for Int32 tensor, got %T", data)
		}
		if len(d) != numElems {
			return nil, fmt.Errorf("data length %d does not match shape %v (%d elements)", len(d), shape, numElems)
		}
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}

	shapeCopy := make([]int, len(shape))
	copy(shapeCopy, shape)

	return &Tensor{
		Shape:    shapeCopy,
		Strides:  calculateStrides(shapeCopy),
		DType:    dtype,
		Data:     data,
		NumElems: numElems,
	}, nil
}

// Zeros creates a tensor of the given shape filled with zeros.
func Zeros(shape []int, dtype DType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	switch dtype {
	case Float32:
		return NewTensor(shape, dtype, make([]float32, numElems))
	case Int32:
		return NewTensor(shape, dtype, make([]int32, numElems))
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// Ones creates a tensor of the given shape filled with ones.
func Ones(shape []int, dtype DType) (*Tensor, error) {
	numElems := calculateNumElements(shape)
	switch dtype {
	case Float32:
		data := make([]float32, numElems)
		for i := range data {
			data[i] = 1.0
		}
		return NewTensor(shape, dtype, data)
	case Int32:
		data := make([]int32, numElems)
		for i := range data {
			data[i] = 1
		}
		return NewTensor(shape, dtype, data)
	default:
		return nil, fmt.Errorf("unsupported dtype: %s", dtype)
	}
}

// FromScalar creates a [1]-shaped tensor holding a single value.
func FromScalar(value float64, dtype DType) *Tensor {
	switch dtype {
	case Int32:
		t, _ := NewTensor([]int{1}, dtype, []int32{int32(value)})
		return t
	default:
		t, _ := NewTensor([]int{1}, Float32, []float32{float32(value)})
		return t
	}
}
