package tensor

import (
	"fmt"
)

// Clone returns a deep copy of the tensor's shape and data. The clone does
// not carry the original's gradient or graph node.
func (t *Tensor) Clone() (*Tensor, error) {
	clone := &Tensor{
		Shape:        make([]int, len(t.Shape)),
		Strides:      make([]int, len(t.Strides)),
		DType:        t.DType,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}
	copy(clone.Shape, t.Shape)
	copy(clone.Strides, t.Strides)

	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		cloneData := make([]float32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	case Int32:
		data := t.Data.([]int32)
		cloneData := make([]int32, len(data))
		copy(cloneData, data)
		clone.Data = cloneData
	default:
		return nil, fmt.Errorf("unsupported dtype for Clone: %s", t.DType)
	}

	return clone, nil
}

// Reshape returns a tensor sharing the same data with a different shape.
// The new shape must have the same total element count; a single -1
// dimension is inferred.
func (t *Tensor) Reshape(newShape []int) (*Tensor, error) {
	resolved := make([]int, len(newShape))
	copy(resolved, newShape)

	known := 1
	inferIdx := -1
	for i, dim := range resolved {
		switch {
		case dim == -1:
			if inferIdx != -1 {
				return nil, fmt.Errorf("only one dimension can be -1")
			}
			inferIdx = i
		case dim <= 0:
			return nil, fmt.Errorf("invalid dimension %d at index %d", dim, i)
		default:
			known *= dim
		}
	}

	if inferIdx != -1 {
		if t.NumElems%known != 0 {
			return nil, fmt.Errorf("cannot infer dimension: %d elements not divisible by %d", t.NumElems, known)
		}
		resolved[inferIdx] = t.NumElems / known
		known *= resolved[inferIdx]
	}

	if known != t.NumElems {
		return nil, fmt.Errorf("cannot reshape %d elements into shape %v", t.NumElems, newShape)
	}

	return &Tensor{
		Shape:        resolved,
		Strides:      calculateStrides(resolved),
		DType:        t.DType,
		Data:         t.Data,
		NumElems:     t.NumElems,
		requiresGrad: t.requiresGrad,
	}, nil
}

// GetFloat32Data returns the backing slice of a Float32 tensor.
func (t *Tensor) GetFloat32Data() ([]float32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Float32", t.DType)
	}
	return t.Data.([]float32), nil
}

// GetInt32Data returns the backing slice of an Int32 tensor.
func (t *Tensor) GetInt32Data() ([]int32, error) {
	if t.DType != Int32 {
		return nil, fmt.Errorf("tensor dtype is %s, not Int32", t.DType)
	}
	return t.Data.([]int32), nil
}

// Item returns the value of a single-element tensor as a float64.
func (t *Tensor) Item() (float64, error) {
	if t.NumElems != 1 {
		return 0, fmt.Errorf("item requires a single-element tensor, got %d elements", t.NumElems)
	}
	switch t.DType {
	case Float32:
		return float64(t.Data.([]float32)[0]), nil
	case Int32:
		return float64(t.Data.([]int32)[0]), nil
	default:
		return 0, fmt.Errorf("unsupported dtype for Item: %s", t.DType)
	}
}

// At returns an element of a Float32 tensor by multi-dimensional index.
func (t *Tensor) At(indices ...int) (float32, error) {
	if len(indices) != len(t.Shape) {
		return 0, fmt.Errorf("expected %d indices, got %d", len(t.Shape), len(indices))
	}
	if t.DType != Float32 {
		return 0, fmt.Errorf("At requires a Float32 tensor")
	}

	idx := 0
	for i, coord := range indices {
		if coord < 0 || coord >= t.Shape[i] {
			return 0, fmt.Errorf("index %d out of bounds for dimension %d (size %d)", coord, i, t.Shape[i])
		}
		idx += coord * t.Strides[i]
	}
	return t.Data.([]float32)[idx], nil
}

// ZeroGrad zeroes the accumulated gradients of every tensor in the slice.
func ZeroGrad(tensors []*Tensor) {
	for _, t := range tensors {
		if t.requiresGrad && t.grad != nil {
			data := t.grad.Data.([]float32)
			for i := range data {
				data[i] = 0
			}
		}
	}
}

// Detach returns a view of the tensor cut loose from the autograd graph.
// The data is shared; gradient tracking is off.
func (t *Tensor) Detach() *Tensor {
	return &Tensor{
		Shape:    t.Shape,
		Strides:  t.Strides,
		DType:    t.DType,
		Data:     t.Data,
		NumElems: t.NumElems,
	}
}
