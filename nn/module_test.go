package nn

import (
	"math"
	"testing"

	"github.com/vloison/skada/tensor"
)

func TestLinear(t *testing.T) {
	t.Run("Forward shape", func(t *testing.T) {
		SetRandomSeed(42)
		layer, err := NewLinear(3, 2, true)
		if err != nil {
			t.Fatalf("NewLinear failed: %v", err)
		}

		input, _ := tensor.NewTensor([]int{4, 3}, tensor.Float32, make([]float32, 12))
		out, err := layer.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if out.Shape[0] != 4 || out.Shape[1] != 2 {
			t.Errorf("Expected shape [4 2], got %v", out.Shape)
		}
	})

	t.Run("Parameters", func(t *testing.T) {
		layer, _ := NewLinear(3, 2, true)
		if len(layer.Parameters()) != 2 {
			t.Errorf("Expected 2 parameters, got %d", len(layer.Parameters()))
		}
		noBias, _ := NewLinear(3, 2, false)
		if len(noBias.Parameters()) != 1 {
			t.Errorf("Expected 1 parameter, got %d", len(noBias.Parameters()))
		}
	})

	t.Run("Deterministic init", func(t *testing.T) {
		SetRandomSeed(7)
		a, _ := NewLinear(4, 4, false)
		SetRandomSeed(7)
		b, _ := NewLinear(4, 4, false)

		aw, _ := a.Weight().GetFloat32Data()
		bw, _ := b.Weight().GetFloat32Data()
		for i := range aw {
			if aw[i] != bw[i] {
				t.Fatalf("Weights differ at %d: %f vs %f", i, aw[i], bw[i])
			}
		}
	})

	t.Run("Input size mismatch", func(t *testing.T) {
		layer, _ := NewLinear(3, 2, true)
		input, _ := tensor.NewTensor([]int{4, 5}, tensor.Float32, make([]float32, 20))
		if _, err := layer.Forward(input); err == nil {
			t.Error("Expected error for mismatched input size")
		}
	})
}

func TestDropout(t *testing.T) {
	input, _ := tensor.NewTensor([]int{2, 5}, tensor.Float32, []float32{
		1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
	})

	t.Run("Identity in eval mode", func(t *testing.T) {
		d, _ := NewDropout(0.5)
		d.Eval()
		out, err := d.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if out != input {
			t.Error("Expected identity in eval mode")
		}
	})

	t.Run("Scales survivors in train mode", func(t *testing.T) {
		SetRandomSeed(3)
		d, _ := NewDropout(0.5)
		out, err := d.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		data, _ := out.GetFloat32Data()
		for _, v := range data {
			if v != 0 && math.Abs(float64(v)-2.0) > 1e-6 {
				t.Errorf("Expected 0 or 2.0, got %f", v)
			}
		}
	})

	t.Run("Invalid probability", func(t *testing.T) {
		if _, err := NewDropout(1.0); err == nil {
			t.Error("Expected error for p=1.0")
		}
	})
}

func TestSequential(t *testing.T) {
	build := func() *Sequential {
		SetRandomSeed(1)
		l1, _ := NewLinear(4, 8, true)
		l2, _ := NewLinear(8, 3, true)
		return NewSequential().
			Add("hidden", l1).
			Add("act", NewReLU()).
			Add("output", l2)
	}

	t.Run("Forward through layers", func(t *testing.T) {
		model := build()
		if model.Err() != nil {
			t.Fatalf("Build failed: %v", model.Err())
		}
		input, _ := tensor.NewTensor([]int{2, 4}, tensor.Float32, make([]float32, 8))
		out, err := model.Forward(input)
		if err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if out.Shape[0] != 2 || out.Shape[1] != 3 {
			t.Errorf("Expected shape [2 3], got %v", out.Shape)
		}
	})

	t.Run("Layer names in order", func(t *testing.T) {
		model := build()
		names := model.LayerNames()
		want := []string{"hidden", "act", "output"}
		if len(names) != len(want) {
			t.Fatalf("Expected %d names, got %d", len(want), len(names))
		}
		for i := range want {
			if names[i] != want[i] {
				t.Errorf("Name %d: expected %q, got %q", i, want[i], names[i])
			}
		}
	})

	t.Run("Duplicate name rejected", func(t *testing.T) {
		l, _ := NewLinear(2, 2, false)
		s := NewSequential().Add("a", l).Add("a", NewReLU())
		if s.Err() == nil {
			t.Error("Expected error for duplicate layer name")
		}
	})

	t.Run("Hooks fire with layer output", func(t *testing.T) {
		model := build()
		var captured *tensor.Tensor
		err := model.RegisterForwardHook("act", func(name string, out *tensor.Tensor) {
			captured = out
		})
		if err != nil {
			t.Fatalf("RegisterForwardHook failed: %v", err)
		}

		input, _ := tensor.NewTensor([]int{2, 4}, tensor.Float32, make([]float32, 8))
		if _, err := model.Forward(input); err != nil {
			t.Fatalf("Forward failed: %v", err)
		}
		if captured == nil {
			t.Fatal("Hook did not fire")
		}
		if captured.Shape[0] != 2 || captured.Shape[1] != 8 {
			t.Errorf("Expected hook output shape [2 8], got %v", captured.Shape)
		}
	})

	t.Run("Hook on unknown layer", func(t *testing.T) {
		model := build()
		err := model.RegisterForwardHook("missing", func(string, *tensor.Tensor) {})
		if err == nil {
			t.Error("Expected error for unknown layer")
		}
	})

	t.Run("Train and eval propagate", func(t *testing.T) {
		model := build()
		model.Eval()
		if model.IsTraining() {
			t.Error("Expected eval mode")
		}
		model.Train()
		if !model.IsTraining() {
			t.Error("Expected training mode")
		}
	})
}

func TestCrossEntropy(t *testing.T) {
	t.Run("Uniform logits", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{2, 4}, tensor.Float32, make([]float32, 8))
		labels, _ := tensor.NewTensor([]int{2}, tensor.Int32, []int32{0, 3})

		loss, err := CrossEntropy(logits, labels)
		if err != nil {
			t.Fatalf("CrossEntropy failed: %v", err)
		}
		v, _ := loss.Item()
		if math.Abs(v-math.Log(4)) > 1e-5 {
			t.Errorf("Expected loss ln(4)=%f, got %f", math.Log(4), v)
		}
	})

	t.Run("Gradient", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0, 0})
		logits.SetRequiresGrad(true)
		labels, _ := tensor.NewTensor([]int{1}, tensor.Int32, []int32{0})

		loss, err := CrossEntropy(logits, labels)
		if err != nil {
			t.Fatalf("CrossEntropy failed: %v", err)
		}
		if err := loss.Backward(); err != nil {
			t.Fatalf("Backward failed: %v", err)
		}

		grad, _ := logits.Grad().GetFloat32Data()
		// probs are [0.5, 0.5]; grad = probs - onehot = [-0.5, 0.5]
		if math.Abs(float64(grad[0])+0.5) > 1e-5 || math.Abs(float64(grad[1])-0.5) > 1e-5 {
			t.Errorf("Expected grad [-0.5 0.5], got %v", grad)
		}
	})

	t.Run("Label out of range", func(t *testing.T) {
		logits, _ := tensor.NewTensor([]int{1, 2}, tensor.Float32, []float32{0, 0})
		labels, _ := tensor.NewTensor([]int{1}, tensor.Int32, []int32{5})
		if _, err := CrossEntropy(logits, labels); err == nil {
			t.Error("Expected error for out-of-range label")
		}
	})
}

func TestAccuracy(t *testing.T) {
	pred, _ := tensor.NewTensor([]int{4, 2}, tensor.Float32, []float32{
		0.9, 0.1,
		0.2, 0.8,
		0.6, 0.4,
		0.3, 0.7,
	})
	labels, _ := tensor.NewTensor([]int{4}, tensor.Int32, []int32{0, 1, 1, 1})

	acc, err := Accuracy(pred, labels)
	if err != nil {
		t.Fatalf("Accuracy failed: %v", err)
	}
	if math.Abs(acc-0.75) > 1e-9 {
		t.Errorf("Expected accuracy 0.75, got %f", acc)
	}
}
