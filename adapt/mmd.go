package adapt

import (
	"fmt"

	"github.com/vloison/skada/tensor"
)

// LinearMMD aligns first-order statistics: the loss is the squared
// euclidean distance between the source and target embedding means.
type LinearMMD struct{}

// NewLinearMMD creates the linear maximum mean discrepancy strategy.
func NewLinearMMD() *LinearMMD {
	return &LinearMMD{}
}

// AlignmentLoss is the mean-distance term alone, summed over embedding
// pairs.
func (m *LinearMMD) AlignmentLoss(in *LossInput) (*tensor.Tensor, error) {
	return sumLayerwise(in, linearMMDLoss)
}

func (m *LinearMMD) ComputeLoss(in *LossInput) (total, classif, da *tensor.Tensor, err error) {
	da, err = m.AlignmentLoss(in)
	if err != nil {
		return nil, nil, nil, err
	}
	total, classif, err = composeLoss(in, da)
	if err != nil {
		return nil, nil, nil, err
	}
	return total, classif, da, nil
}

type mmdOp struct {
	source, target       *tensor.Tensor
	meanDiff             []float32
	numSource, numTarget int
}

func (op *mmdOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.source, op.target}
}

func (op *mmdOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale, err := gradOut.Item()
	if err != nil {
		return nil, fmt.Errorf("mmd expects scalar upstream gradient: %v", err)
	}

	d := len(op.meanDiff)
	// Every source row receives 2(ms - mt)/ns; target rows the negation.
	gradS := make([]float32, op.numSource*d)
	gradT := make([]float32, op.numTarget*d)
	sFactor := 2.0 * float32(scale) / float32(op.numSource)
	tFactor := -2.0 * float32(scale) / float32(op.numTarget)
	for i := 0; i < op.numSource; i++ {
		for j := 0; j < d; j++ {
			gradS[i*d+j] = sFactor * op.meanDiff[j]
		}
	}
	for i := 0; i < op.numTarget; i++ {
		for j := 0; j < d; j++ {
			gradT[i*d+j] = tFactor * op.meanDiff[j]
		}
	}

	gradSTensor, err := tensor.NewTensor([]int{op.numSource, d}, tensor.Float32, gradS)
	if err != nil {
		return nil, err
	}
	gradTTensor, err := tensor.NewTensor([]int{op.numTarget, d}, tensor.Float32, gradT)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{gradSTensor, gradTTensor}, nil
}

func linearMMDLoss(source, target *tensor.Tensor) (*tensor.Tensor, error) {
	if len(source.Shape) != 2 || len(target.Shape) != 2 {
		return nil, fmt.Errorf("embeddings must be 2D, got %v and %v", source.Shape, target.Shape)
	}
	if source.Shape[1] != target.Shape[1] {
		return nil, fmt.Errorf("embedding width mismatch: %d vs %d", source.Shape[1], target.Shape[1])
	}

	sData, err := source.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	tData, err := target.GetFloat32Data()
	if err != nil {
		return nil, err
	}

	ns, nt, d := source.Shape[0], target.Shape[0], source.Shape[1]
	meanDiff := make([]float32, d)
	for j := 0; j < d; j++ {
		var ms, mt float64
		for i := 0; i < ns; i++ {
			ms += float64(sData[i*d+j])
		}
		for i := 0; i < nt; i++ {
			mt += float64(tData[i*d+j])
		}
		meanDiff[j] = float32(ms/float64(ns) - mt/float64(nt))
	}

	var lossValue float64
	for _, v := range meanDiff {
		lossValue += float64(v) * float64(v)
	}

	loss := tensor.FromScalar(lossValue, tensor.Float32)
	if source.RequiresGrad() || target.RequiresGrad() {
		loss.SetRequiresGrad(true)
		tensor.Attach(loss, &mmdOp{
			source:    source,
			target:    target,
			meanDiff:  meanDiff,
			numSource: ns,
			numTarget: nt,
		})
	}
	return loss, nil
}
