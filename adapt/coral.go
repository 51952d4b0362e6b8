package adapt

import (
	"fmt"

	"github.com/vloison/skada/tensor"
)

// CORAL aligns second-order statistics: the loss is the squared Frobenius
// distance between the source and target feature covariance matrices,
// scaled by 1/(4d^2) where d is the embedding width.
type CORAL struct{}

// NewCORAL creates the CORAL loss strategy.
func NewCORAL() *CORAL {
	return &CORAL{}
}

// AlignmentLoss is the CORAL term alone, summed over embedding pairs.
func (c *CORAL) AlignmentLoss(in *LossInput) (*tensor.Tensor, error) {
	return sumLayerwise(in, coralLoss)
}

func (c *CORAL) ComputeLoss(in *LossInput) (total, classif, da *tensor.Tensor, err error) {
	da, err = c.AlignmentLoss(in)
	if err != nil {
		return nil, nil, nil, err
	}
	total, classif, err = composeLoss(in, da)
	if err != nil {
		return nil, nil, nil, err
	}
	return total, classif, da, nil
}

// coralOp carries the intermediates needed for the analytic gradient.
// With D = Cs - Ct, the source gradient is Xc_s D / (d^2 (ns-1)); the
// centering correction vanishes because the columns of Xc_s sum to zero.
type coralOp struct {
	source, target       *tensor.Tensor
	centeredS            []float32
	centeredT            []float32
	diff                 []float32
	dim                  int
	numSource, numTarget int
}

func (op *coralOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.source, op.target}
}

func (op *coralOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale, err := gradOut.Item()
	if err != nil {
		return nil, fmt.Errorf("coral expects scalar upstream gradient: %v", err)
	}

	d := op.dim
	gradS := matScale(matMulRaw(op.centeredS, op.diff, op.numSource, d, d),
		float32(scale)/float32(d*d*(op.numSource-1)))
	gradT := matScale(matMulRaw(op.centeredT, op.diff, op.numTarget, d, d),
		-float32(scale)/float32(d*d*(op.numTarget-1)))

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

func coralLoss(source, target *tensor.Tensor) (*tensor.Tensor, error) {
	if err := checkEmbeddingPair(source, target); err != nil {
		return nil, err
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
	centeredS := centerRows(sData, ns, d)
	centeredT := centerRows(tData, nt, d)

	// Covariances and their difference.
	covS := covariance(centeredS, ns, d)
	covT := covariance(centeredT, nt, d)
	diff := make([]float32, d*d)
	var frobenius float64
	for i := range diff {
		diff[i] = covS[i] - covT[i]
		frobenius += float64(diff[i]) * float64(diff[i])
	}

	lossValue := frobenius / float64(4*d*d)
	loss := tensor.FromScalar(lossValue, tensor.Float32)
	if source.RequiresGrad() || target.RequiresGrad() {
		loss.SetRequiresGrad(true)
		tensor.Attach(loss, &coralOp{
			source:    source,
			target:    target,
			centeredS: centeredS,
			centeredT: centeredT,
			diff:      diff,
			dim:       d,
			numSource: ns,
			numTarget: nt,
		})
	}
	return loss, nil
}

// centerRows subtracts the column mean from every row of an n x d matrix.
func centerRows(data []float32, n, d int) []float32 {
	means := make([]float64, d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			means[j] += float64(data[i*d+j])
		}
	}
	for j := range means {
		means[j] /= float64(n)
	}
	centered := make([]float32, n*d)
	for i := 0; i < n; i++ {
		for j := 0; j < d; j++ {
			centered[i*d+j] = data[i*d+j] - float32(means[j])
		}
	}
	return centered
}

// covariance computes X^T X / (n-1) for a centered n x d matrix.
func covariance(centered []float32, n, d int) []float32 {
	cov := make([]float32, d*d)
	norm := float32(n - 1)
	for i := 0; i < n; i++ {
		row := centered[i*d : (i+1)*d]
		for a := 0; a < d; a++ {
			va := row[a]
			if va == 0 {
				continue
			}
			for b := 0; b < d; b++ {
				cov[a*d+b] += va * row[b]
			}
		}
	}
	for i := range cov {
		cov[i] /= norm
	}
	return cov
}

// matMulRaw computes A (n x k) times B (k x m) over raw float32 slices.
func matMulRaw(a, b []float32, n, k, m int) []float32 {
	out := make([]float32, n*m)
	for i := 0; i < n; i++ {
		for p := 0; p < k; p++ {
			av := a[i*k+p]
			if av == 0 {
				continue
			}
			for j := 0; j < m; j++ {
				out[i*m+j] += av * b[p*m+j]
			}
		}
	}
	return out
}

func matScale(data []float32, s float32) []float32 {
	for i := range data {
		data[i] *= s
	}
	return data
}
