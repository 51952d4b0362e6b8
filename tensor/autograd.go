package tensor

import (
	"fmt"
)

// reduceToShape reduces a gradient to a target operand shape. Only the
// bias-broadcast case needs reduction: a 1-D operand broadcast across the
// rows of a 2-D result receives the column sums of the gradient.
func reduceToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}
	if len(targetShape) == 1 && len(grad.Shape) == 2 && grad.Shape[1] == targetShape[0] {
		rows, cols := grad.Shape[0], grad.Shape[1]
		data := grad.Data.([]float32)
		result := make([]float32, cols)
		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				result[j] += data[i*cols+j]
			}
		}
		return NewTensor(targetShape, Float32, result)
	}
	return nil, fmt.Errorf("cannot reduce gradient of shape %v to %v", grad.Shape, targetShape)
}

// AddOp implements addition, with bias broadcasting on the right operand.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	// d(a+b)/da = 1, d(a+b)/db = 1; broadcast operands sum their gradient.
	gradA, err := reduceToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("add backward (a): %w", err)
	}
	gradB, err := reduceToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("add backward (b): %w", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// AddAutograd performs addition with gradient tracking.
func AddAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Add(a, b)
	if err != nil {
		return nil, err
	}
	Attach(result, &AddOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// SubOp implements subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	gradA, err := reduceToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		return nil, fmt.Errorf("sub backward (a): %w", err)
	}
	neg, err := Scale(gradOut, -1)
	if err != nil {
		return nil, err
	}
	gradB, err := reduceToShape(neg, op.inputs[1].Shape)
	if err != nil {
		return nil, fmt.Errorf("sub backward (b): %w", err)
	}
	return []*Tensor{gradA, gradB}, nil
}

// SubAutograd performs subtraction with gradient tracking.
func SubAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Sub(a, b)
	if err != nil {
		return nil, err
	}
	Attach(result, &SubOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// MulOp implements element-wise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(a*b)/da = b, d(a*b)/db = a.
	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		return nil, fmt.Errorf("mul backward (a): %w", err)
	}
	gradA, err := reduceToShape(gradAFull, a.Shape)
	if err != nil {
		return nil, err
	}

	gradBFull, err := Mul(gradOut, a)
	if err != nil {
		return nil, fmt.Errorf("mul backward (b): %w", err)
	}
	gradB, err := reduceToShape(gradBFull, b.Shape)
	if err != nil {
		return nil, err
	}

	return []*Tensor{gradA, gradB}, nil
}

// MulAutograd performs element-wise multiplication with gradient tracking.
func MulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := Mul(a, b)
	if err != nil {
		return nil, err
	}
	Attach(result, &MulOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// MatMulOp implements 2-D matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a, b := op.inputs[0], op.inputs[1]

	// d(A@B)/dA = gradOut @ B^T, d(A@B)/dB = A^T @ gradOut.
	bT, err := Transpose(b)
	if err != nil {
		return nil, err
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		return nil, fmt.Errorf("matmul backward (a): %w", err)
	}

	aT, err := Transpose(a)
	if err != nil {
		return nil, err
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		return nil, fmt.Errorf("matmul backward (b): %w", err)
	}

	return []*Tensor{gradA, gradB}, nil
}

// MatMulAutograd performs matrix multiplication with gradient tracking.
func MatMulAutograd(a, b *Tensor) (*Tensor, error) {
	result, err := MatMul(a, b)
	if err != nil {
		return nil, err
	}
	Attach(result, &MatMulOp{inputs: []*Tensor{a, b}})
	return result, nil
}

// ReLUOp implements the ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]

	grad, err := gradOut.Clone()
	if err != nil {
		return nil, err
	}
	inputData := a.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}
	return []*Tensor{grad}, nil
}

// ReLUAutograd performs ReLU activation with gradient tracking.
func ReLUAutograd(a *Tensor) (*Tensor, error) {
	result, err := ReLU(a)
	if err != nil {
		return nil, err
	}
	Attach(result, &ReLUOp{inputs: []*Tensor{a}})
	return result, nil
}

// ScaleOp implements multiplication by a constant scalar.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// ScaleAutograd multiplies a tensor by a constant with gradient tracking.
func ScaleAutograd(a *Tensor, factor float64) (*Tensor, error) {
	result, err := Scale(a, factor)
	if err != nil {
		return nil, err
	}
	Attach(result, &ScaleOp{inputs: []*Tensor{a}, factor: factor})
	return result, nil
}

// SumOp implements reduction of all elements to a scalar.
type SumOp struct {
	inputs []*Tensor
}

func (op *SumOp) Inputs() []*Tensor { return op.inputs }

func (op *SumOp) Backward(gradOut *Tensor) ([]*Tensor, error) {
	a := op.inputs[0]
	g := gradOut.Data.([]float32)[0]

	data := make([]float32, a.NumElems)
	for i := range data {
		data[i] = g
	}
	grad, err := NewTensor(a.Shape, Float32, data)
	if err != nil {
		return nil, err
	}
	return []*Tensor{grad}, nil
}

// SumAutograd reduces all elements to a [1]-shaped scalar with gradient
// tracking.
func SumAutograd(a *Tensor) (*Tensor, error) {
	if a.DType != Float32 {
		return nil, fmt.Errorf("sum autograd requires a Float32 tensor")
	}
	result, err := Sum(a)
	if err != nil {
		return nil, err
	}
	Attach(result, &SumOp{inputs: []*Tensor{a}})
	return result, nil
}

// MeanAutograd reduces all elements to their mean with gradient tracking.
func MeanAutograd(a *Tensor) (*Tensor, error) {
	s, err := SumAutograd(a)
	if err != nil {
		return nil, err
	}
	return ScaleAutograd(s, 1.0/float64(a.NumElems))
}
