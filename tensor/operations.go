package tensor

import (
	"fmt"
	"math"
)

// binaryShapes validates element-wise operand shapes. A 1-D right operand
// whose length matches the left operand's last dimension is broadcast across
// rows (the bias-add case); anything else must match exactly.
func binaryShapes(a, b *Tensor) (broadcast bool, err error) {
	if shapesEqual(a.Shape, b.Shape) {
		return false, nil
	}
	if len(b.Shape) == 1 && len(a.Shape) >= 1 && a.Shape[len(a.Shape)-1] == b.Shape[0] {
		return true, nil
	}
	return false, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
}

func elementwise(a, b *Tensor, f func(x, y float32) float32) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("operation requires Float32 tensors, got %s and %s", a.DType, b.DType)
	}

	broadcast, err := binaryShapes(a, b)
	if err != nil {
		return nil, err
	}

	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, a.NumElems)

	if broadcast {
		n := b.Shape[0]
		for i := range aData {
			result[i] = f(aData[i], bData[i%n])
		}
	} else {
		for i := range aData {
			result[i] = f(aData[i], bData[i])
		}
	}

	return NewTensor(a.Shape, Float32, result)
}

// Add computes a + b element-wise. A 1-D b is broadcast across the last
// dimension of a.
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x + y })
}

// Sub computes a - b element-wise.
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x - y })
}

// Mul computes a * b element-wise.
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x * y })
}

// Div computes a / b element-wise.
func Div(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x / y })
}

// Scale multiplies every element of t by s.
func Scale(t *Tensor, s float64) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("scale requires a Float32 tensor, got %s", t.DType)
	}
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	fs := float32(s)
	for i, v := range data {
		result[i] = v * fs
	}
	return NewTensor(t.Shape, Float32, result)
}

// MatMul computes the matrix product of two 2-D tensors.
func MatMul(a, b *Tensor) (*Tensor, error) {
	if a.DType != Float32 || b.DType != Float32 {
		return nil, fmt.Errorf("matmul requires Float32 tensors")
	}
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("matmul requires 2D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}
	if a.Shape[1] != b.Shape[0] {
		return nil, fmt.Errorf("matmul dimension mismatch: %v x %v", a.Shape, b.Shape)
	}

	m, k, n := a.Shape[0], a.Shape[1], b.Shape[1]
	aData := a.Data.([]float32)
	bData := b.Data.([]float32)
	result := make([]float32, m*n)

	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := aData[i*k+l]
			if av == 0 {
				continue
			}
			row := bData[l*n : (l+1)*n]
			out := result[i*n : (i+1)*n]
			for j := range row {
				out[j] += av * row[j]
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, result)
}

// Transpose swaps the two dimensions of a 2-D tensor.
func Transpose(t *Tensor) (*Tensor, error) {
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("transpose requires a 2D tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return nil, fmt.Errorf("transpose requires a Float32 tensor")
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result[j*rows+i] = data[i*cols+j]
		}
	}
	return NewTensor([]int{cols, rows}, Float32, result)
}

// ReLU computes max(0, x) element-wise.
func ReLU(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("relu requires a Float32 tensor")
	}
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, v := range data {
		if v > 0 {
			result[i] = v
		}
	}
	return NewTensor(t.Shape, Float32, result)
}

// Sigmoid computes 1/(1+exp(-x)) element-wise.
func Sigmoid(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("sigmoid requires a Float32 tensor")
	}
	data := t.Data.([]float32)
	result := make([]float32, len(data))
	for i, v := range data {
		result[i] = float32(1.0 / (1.0 + math.Exp(float64(-v))))
	}
	return NewTensor(t.Shape, Float32, result)
}

// Softmax applies a numerically stable row-wise softmax to a 2-D tensor.
func Softmax(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("softmax requires a Float32 tensor")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("softmax requires a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	result := make([]float32, len(data))

	for i := 0; i < rows; i++ {
		offset := i * cols

		maxVal := data[offset]
		for j := 1; j < cols; j++ {
			if data[offset+j] > maxVal {
				maxVal = data[offset+j]
			}
		}

		var sum float32
		for j := 0; j < cols; j++ {
			e := float32(math.Exp(float64(data[offset+j] - maxVal)))
			result[offset+j] = e
			sum += e
		}
		for j := 0; j < cols; j++ {
			result[offset+j] /= sum
		}
	}

	return NewTensor(t.Shape, Float32, result)
}

// Sum reduces all elements to a [1]-shaped scalar tensor.
func Sum(t *Tensor) (*Tensor, error) {
	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		var sum float32
		for _, v := range data {
			sum += v
		}
		return NewTensor([]int{1}, Float32, []float32{sum})
	case Int32:
		data := t.Data.([]int32)
		var sum int32
		for _, v := range data {
			sum += v
		}
		return NewTensor([]int{1}, Int32, []int32{sum})
	default:
		return nil, fmt.Errorf("unsupported dtype for sum: %s", t.DType)
	}
}

// Mean reduces all elements to their mean as a [1]-shaped scalar tensor.
func Mean(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("mean requires a Float32 tensor")
	}
	if t.NumElems == 0 {
		return nil, fmt.Errorf("mean of empty tensor")
	}
	s, err := Sum(t)
	if err != nil {
		return nil, err
	}
	return Scale(s, 1.0/float64(t.NumElems))
}

// ColumnMeans computes the per-column mean of a 2-D tensor, returning a
// 1-D tensor of length cols.
func ColumnMeans(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("column means require a Float32 tensor")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("column means require a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	result := make([]float32, cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result[j] += data[i*cols+j]
		}
	}
	inv := 1.0 / float32(rows)
	for j := range result {
		result[j] *= inv
	}
	return NewTensor([]int{cols}, Float32, result)
}

// ArgmaxRows returns the index of the largest value in each row of a 2-D
// Float32 tensor.
func ArgmaxRows(t *Tensor) ([]int32, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("argmax requires a Float32 tensor")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("argmax requires a 2D tensor, got shape %v", t.Shape)
	}

	rows, cols := t.Shape[0], t.Shape[1]
	data := t.Data.([]float32)
	out := make([]int32, rows)
	for i := 0; i < rows; i++ {
		maxIdx := 0
		maxVal := data[i*cols]
		for j := 1; j < cols; j++ {
			if data[i*cols+j] > maxVal {
				maxVal = data[i*cols+j]
				maxIdx = j
			}
		}
		out[i] = int32(maxIdx)
	}
	return out, nil
}
