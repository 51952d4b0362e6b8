package tensor

import (
	"fmt"
)

type DType int

const (
	Float32 DType = iota
	Int32
)

func (d DType) String() string {
	switch d {
	case Float32:
		return "Float32"
	case Int32:
		return "Int32"
	default:
		return "Unknown"
	}
}

// Operation is a node in the define-by-run autograd graph. Each forward
// helper (AddAutograd, MatMulAutograd, ...) creates one operation, attaches
// it to its result via Attach, and stores the inputs for the backward walk.
type Operation interface {
	// Inputs returns the tensors the operation was applied to, in order.
	Inputs() []*Tensor

	// Backward computes the gradients of the loss with respect to each
	// input, given the gradient with respect to the operation's output.
	// The returned slice is parallel to Inputs; a nil entry means the
	// corresponding input does not receive a gradient.
	Backward(gradOut *Tensor) ([]*Tensor, error)
}

// Tensor is a CPU-resident n-dimensional array with optional gradient
// tracking. Data is []float32 for Float32 tensors and []int32 for Int32.
type Tensor struct {
	Shape    []int
	Strides  []int
	DType    DType
	Data     interface{}
	NumElems int

	requiresGrad bool
	grad         *Tensor
	creator      Operation
}

func (t *Tensor) String() string {
	return fmt.Sprintf("Tensor(shape=%v, dtype=%s, elements=%d)", t.Shape, t.DType, t.NumElems)
}

func (t *Tensor) RequiresGrad() bool {
	return t.requiresGrad
}

func (t *Tensor) SetRequiresGrad(requires bool) {
	t.requiresGrad = requires
}

// Grad returns the accumulated gradient, or nil if none has been computed.
func (t *Tensor) Grad() *Tensor {
	return t.grad
}

// Attach registers op as the creator of result and propagates gradient
// requirements from the operation's inputs. Packages that implement their
// own differentiable operations (loss functions, alignment distances) use
// this to join the autograd graph.
func Attach(result *Tensor, op Operation) {
	result.creator = op
	for _, in := range op.Inputs() {
		if in != nil && in.requiresGrad {
			result.requiresGrad = true
		}
	}
}

// SetData replaces the tensor's backing data in place. The replacement must
// have the same element count and type as the current data.
func (t *Tensor) SetData(data interface{}) error {
	switch t.DType {
	case Float32:
		src, ok := data.([]float32)
		if !ok {
			return fmt.Errorf("expected []float32 for Float32 tensor, got %T", data)
		}
		dst := t.Data.([]float32)
		if len(src) != len(dst) {
			return fmt.Errorf("data length mismatch: expected %d, got %d", len(dst), len(src))
		}
		copy(dst, src)
	case Int32:
		src, ok := data.([]int32)
		if !ok {
			return fmt.Errorf("expected []int32 for Int32 tensor, got %T", data)
		}
		dst := t.Data.([]int32)
		if len(src) != len(dst) {
			return fmt.Errorf("data length mismatch: expected %d, got %d", len(dst), len(src))
		}
		copy(dst, src)
	default:
		return fmt.Errorf("unsupported dtype for SetData: %s", t.DType)
	}
	return nil
}

func calculateStrides(shape []int) []int {
	if len(shape) == 0 {
		return []int{}
	}

	strides := make([]int, len(shape))
	stride := 1
	for i := len(shape) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= shape[i]
	}
	return strides
}

func calculateNumElements(shape []int) int {
	if len(shape) == 0 {
		return 0
	}

	elements := 1
	for _, dim := range shape {
		elements *= dim
	}
	return elements
}

func validateShape(shape []int) error {
	for i, dim := range shape {
		if dim <= 0 {
			return fmt.Errorf("invalid shape: dimension %d has size %d, must be positive", i, dim)
		}
	}
	return nil
}

func shapesEqual(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i, v := range a {
		if v != b[i] {
			return false
		}
	}
	return true
}
