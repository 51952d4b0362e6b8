package tensor

import (
	"fmt"
)

// Backward runs reverse-mode differentiation from a scalar tensor, walking
// the operation graph in reverse topological order and accumulating
// gradients into every tensor that requires them. Gradients accumulate
// across calls; clear them with ZeroGrad between optimization steps.
func (t *Tensor) Backward() error {
	if t.NumElems != 1 {
		return fmt.Errorf("backward requires a scalar tensor, got shape %v", t.Shape)
	}
	if t.DType != Float32 {
		return fmt.Errorf("backward requires a Float32 tensor, got %s", t.DType)
	}

	order := topoSort(t)

	seed, err := Ones(t.Shape, Float32)
	if err != nil {
		return err
	}

	grads := map[*Tensor]*Tensor{t: seed}

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		grad := grads[node]
		if grad == nil {
			continue
		}

		if node.requiresGrad {
			if err := node.accumulateGrad(grad); err != nil {
				return err
			}
		}

		if node.creator == nil {
			continue
		}

		inputGrads, err := node.creator.Backward(grad)
		if err != nil {
			return fmt.Errorf("backward through %T: %w", node.creator, err)
		}

		inputs := node.creator.Inputs()
		if len(inputGrads) != len(inputs) {
			return fmt.Errorf("backward through %T returned %d gradients for %d inputs",
				node.creator, len(inputGrads), len(inputs))
		}

		for j, in := range inputs {
			ig := inputGrads[j]
			if in == nil || ig == nil {
				continue
			}
			if existing := grads[in]; existing != nil {
				summed, err := Add(existing, ig)
				if err != nil {
					return fmt.Errorf("gradient accumulation: %w", err)
				}
				grads[in] = summed
			} else {
				grads[in] = ig
			}
		}
	}

	return nil
}

// topoSort returns the graph nodes reachable from root in topological order
// (inputs before the tensors computed from them).
func topoSort(root *Tensor) []*Tensor {
	visited := make(map[*Tensor]bool)
	var order []*Tensor

	var visit func(*Tensor)
	visit = func(n *Tensor) {
		if n == nil || visited[n] {
			return
		}
		visited[n] = true
		if n.creator != nil {
			for _, in := range n.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, n)
	}
	visit(root)

	return order
}

func (t *Tensor) accumulateGrad(g *Tensor) error {
	if t.grad == nil {
		clone, err := g.Clone()
		if err != nil {
			return err
		}
		t.grad = clone
		return nil
	}

	dst := t.grad.Data.([]float32)
	src := g.Data.([]float32)
	if len(dst) != len(src) {
		return fmt.Errorf("gradient size mismatch: %d vs %d", len(dst), len(src))
	}
	for i := range dst {
		dst[i] += src[i]
	}
	return nil
}
