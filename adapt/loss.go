package adapt

import (
	"fmt"

	"github.com/vloison/skada/nn"
	"github.com/vloison/skada/tensor"
)

// LossInput bundles everything a loss strategy may inspect for one
// training step. SourceEmbeddings and TargetEmbeddings are the captured
// layer activations in declared layer order; they stay attached to their
// forward graphs so alignment losses can backpropagate through both
// domains. Criterion and Lambda let the strategy build the composite
// loss itself.
type LossInput struct {
	YPred            *tensor.Tensor
	YTrue            *tensor.Tensor
	SourceEmbeddings []*tensor.Tensor
	TargetEmbeddings []*tensor.Tensor
	X                *tensor.Tensor
	YPredTarget      *tensor.Tensor
	Criterion        nn.Criterion
	Lambda           float64
	Training         bool
}

// LossStrategy computes the composite loss for one step. All three
// returned tensors are scalars; total is what gets backpropagated, so a
// strategy owns the composition of its classification and alignment
// terms.
type LossStrategy interface {
	ComputeLoss(in *LossInput) (total, classif, da *tensor.Tensor, err error)
}

// composeLoss builds total = classif + Lambda*da, the composition the
// shipped strategies share.
func composeLoss(in *LossInput, da *tensor.Tensor) (total, classif *tensor.Tensor, err error) {
	if in.Criterion == nil {
		return nil, nil, fmt.Errorf("loss input carries no criterion")
	}
	classif, err = in.Criterion(in.YPred, in.YTrue)
	if err != nil {
		return nil, nil, fmt.Errorf("classification loss failed: %v", err)
	}
	weighted, err := tensor.ScaleAutograd(da, in.Lambda)
	if err != nil {
		return nil, nil, err
	}
	total, err = tensor.AddAutograd(classif, weighted)
	if err != nil {
		return nil, nil, err
	}
	return total, classif, nil
}

// sumLayerwise applies align to each source/target embedding pair and
// sums the per-layer scalars. CORAL and MMD both reduce to this shape.
func sumLayerwise(in *LossInput, align func(source, target *tensor.Tensor) (*tensor.Tensor, error)) (*tensor.Tensor, error) {
	if len(in.SourceEmbeddings) == 0 {
		return nil, fmt.Errorf("no source embeddings provided")
	}
	if len(in.SourceEmbeddings) != len(in.TargetEmbeddings) {
		return nil, fmt.Errorf("embedding count mismatch: %d source vs %d target",
			len(in.SourceEmbeddings), len(in.TargetEmbeddings))
	}

	var total *tensor.Tensor
	for i := range in.SourceEmbeddings {
		layerLoss, err := align(in.SourceEmbeddings[i], in.TargetEmbeddings[i])
		if err != nil {
			return nil, fmt.Errorf("alignment failed at embedding %d: %v", i, err)
		}
		if total == nil {
			total = layerLoss
			continue
		}
		total, err = tensor.AddAutograd(total, layerLoss)
		if err != nil {
			return nil, err
		}
	}
	return total, nil
}

// checkEmbeddingPair validates that a source/target embedding pair is
// usable for second-order alignment statistics.
func checkEmbeddingPair(source, target *tensor.Tensor) error {
	if len(source.Shape) != 2 || len(target.Shape) != 2 {
		return fmt.Errorf("embeddings must be 2D, got %v and %v", source.Shape, target.Shape)
	}
	if source.Shape[1] != target.Shape[1] {
		return fmt.Errorf("embedding width mismatch: %d vs %d", source.Shape[1], target.Shape[1])
	}
	if source.Shape[0] < 2 || target.Shape[0] < 2 {
		return fmt.Errorf("alignment needs at least 2 samples per domain, got %d and %d",
			source.Shape[0], target.Shape[0])
	}
	return nil
}
