package tensor

import (
	"math"
	"reflect"
	"testing"
)

func TestAddAutograd(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 2}, Float32, []float32{5, 6, 7, 8})
	a.SetRequiresGrad(true)
	b.SetRequiresGrad(true)

	sum, err := AddAutograd(a, b)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, err := SumAutograd(sum)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	for _, p := range []*Tensor{a, b} {
		grad := p.Grad()
		if grad == nil {
			t.Fatal("Expected gradient to be set")
		}
		expected := []float32{1, 1, 1, 1}
		if !reflect.DeepEqual(grad.Data.([]float32), expected) {
			t.Errorf("Expected grad %v, got %v", expected, grad.Data)
		}
	}
}

func TestAddAutogradBiasBroadcast(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float32, []float32{1, 2, 3, 4, 5, 6})
	bias, _ := NewTensor([]int{3}, Float32, []float32{1, 1, 1})
	bias.SetRequiresGrad(true)

	out, err := AddAutograd(x, bias)
	if err != nil {
		t.Fatalf("AddAutograd failed: %v", err)
	}
	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := bias.Grad()
	if grad == nil {
		t.Fatal("Expected bias gradient")
	}
	// Broadcast gradient collapses over the batch dimension.
	expected := []float32{2, 2, 2}
	if !reflect.DeepEqual(grad.Data.([]float32), expected) {
		t.Errorf("Expected grad %v, got %v", expected, grad.Data)
	}
}

func TestMatMulAutograd(t *testing.T) {
	a, _ := NewTensor([]int{1, 2}, Float32, []float32{1, 2})
	w, _ := NewTensor([]int{2, 1}, Float32, []float32{3, 4})
	w.SetRequiresGrad(true)

	out, err := MatMulAutograd(a, w)
	if err != nil {
		t.Fatalf("MatMulAutograd failed: %v", err)
	}
	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := w.Grad()
	if grad == nil {
		t.Fatal("Expected weight gradient")
	}
	// dL/dW = A^T since gradOut is ones.
	expected := []float32{1, 2}
	if !reflect.DeepEqual(grad.Data.([]float32), expected) {
		t.Errorf("Expected grad %v, got %v", expected, grad.Data)
	}
}

func TestReLUAutograd(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, []float32{-1, 2, -3, 4})
	x.SetRequiresGrad(true)

	out, err := ReLUAutograd(x)
	if err != nil {
		t.Fatalf("ReLUAutograd failed: %v", err)
	}
	loss, _ := SumAutograd(out)
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := x.Grad()
	expected := []float32{0, 1, 0, 1}
	if !reflect.DeepEqual(grad.Data.([]float32), expected) {
		t.Errorf("Expected grad %v, got %v", expected, grad.Data)
	}
}

func TestMeanAutograd(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, []float32{1, 2, 3, 4})
	x.SetRequiresGrad(true)

	mean, err := MeanAutograd(x)
	if err != nil {
		t.Fatalf("MeanAutograd failed: %v", err)
	}
	v, _ := mean.Item()
	if math.Abs(v-2.5) > 1e-6 {
		t.Errorf("Expected mean 2.5, got %f", v)
	}
	if err := mean.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	grad := x.Grad()
	expected := []float32{0.25, 0.25, 0.25, 0.25}
	if !reflect.DeepEqual(grad.Data.([]float32), expected) {
		t.Errorf("Expected grad %v, got %v", expected, grad.Data)
	}
}

func TestChainedBackward(t *testing.T) {
	// y = relu(x*w), loss = sum(y)
	x, _ := NewTensor([]int{1, 2}, Float32, []float32{1, -1})
	w, _ := NewTensor([]int{2, 2}, Float32, []float32{1, -2, 3, 4})
	w.SetRequiresGrad(true)

	h, err := MatMulAutograd(x, w)
	if err != nil {
		t.Fatalf("MatMulAutograd failed: %v", err)
	}
	y, err := ReLUAutograd(h)
	if err != nil {
		t.Fatalf("ReLUAutograd failed: %v", err)
	}
	loss, err := SumAutograd(y)
	if err != nil {
		t.Fatalf("SumAutograd failed: %v", err)
	}
	if err := loss.Backward(); err != nil {
		t.Fatalf("Backward failed: %v", err)
	}

	// h = [1*1-1*3, 1*(-2)-1*4] = [-2, -6]; both negative so relu kills
	// all gradient flow into w.
	grad := w.Grad()
	if grad == nil {
		t.Fatal("Expected weight gradient")
	}
	expected := []float32{0, 0, 0, 0}
	if !reflect.DeepEqual(grad.Data.([]float32), expected) {
		t.Errorf("Expected grad %v, got %v", expected, grad.Data)
	}
}

func TestGradAccumulation(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	x.SetRequiresGrad(true)

	for i := 0; i < 2; i++ {
		loss, err := SumAutograd(x)
		if err != nil {
			t.Fatalf("SumAutograd failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}
	}

	grad := x.Grad()
	expected := []float32{2, 2}
	if !reflect.DeepEqual(grad.Data.([]float32), expected) {
		t.Errorf("Expected accumulated grad %v, got %v", expected, grad.Data)
	}

	ZeroGrad([]*Tensor{x})
	if !reflect.DeepEqual(x.Grad().Data.([]float32), []float32{0, 0}) {
		t.Errorf("Expected zeroed grad, got %v", x.Grad().Data)
	}
}

func TestBackwardRequiresScalar(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, []float32{1, 2})
	x.SetRequiresGrad(true)
	if err := x.Backward(); err == nil {
		t.Error("Expected error calling Backward on non-scalar tensor")
	}
}
