package nn

import (
	"fmt"
	"math"

	"github.com/vloison/skada/tensor"
)

// Criterion computes a scalar loss from predictions and targets.
type Criterion func(pred, target *tensor.Tensor) (*tensor.Tensor, error)

// crossEntropyOp backpropagates softmax cross-entropy through the logits.
type crossEntropyOp struct {
	logits *tensor.Tensor
	probs  []float32
	labels []int32
}

func (op *crossEntropyOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.logits}
}

func (op *crossEntropyOp) Backward(gradOut *tensor.Tensor) ([]*tensor.Tensor, error) {
	scale, err := gradOut.Item()
	if err != nil {
		return nil, fmt.Errorf("cross-entropy expects scalar upstream gradient: %v", err)
	}

	batchSize := op.logits.Shape[0]
	numClasses := op.logits.Shape[1]
	gradData := make([]float32, len(op.probs))
	factor := float32(scale) / float32(batchSize)
	for i := 0; i < batchSize; i++ {
		for j := 0; j < numClasses; j++ {
			idx := i*numClasses + j
			g := op.probs[idx]
			if int32(j) == op.labels[i] {
				g -= 1.0
			}
			gradData[idx] = g * factor
		}
	}

	grad, err := tensor.NewTensor(op.logits.Shape, tensor.Float32, gradData)
	if err != nil {
		return nil, err
	}
	return []*tensor.Tensor{grad}, nil
}

// CrossEntropy computes softmax cross-entropy between logits [batch, classes]
// and integer class labels [batch], averaged over the batch.
func CrossEntropy(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	if len(pred.Shape) != 2 {
		return nil, fmt.Errorf("cross-entropy expects 2D logits, got shape %v", pred.Shape)
	}
	if len(target.Shape) != 1 || target.Shape[0] != pred.Shape[0] {
		return nil, fmt.Errorf("label shape %v does not match logits shape %v", target.Shape, pred.Shape)
	}
	if target.DType != tensor.Int32 {
		return nil, fmt.Errorf("cross-entropy expects int32 labels, got %v", target.DType)
	}

	logits, err := pred.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	labels, err := target.GetInt32Data()
	if err != nil {
		return nil, err
	}

	batchSize := pred.Shape[0]
	numClasses := pred.Shape[1]
	probs := make([]float32, len(logits))
	var totalLoss float64
	for i := 0; i < batchSize; i++ {
		label := labels[i]
		if label < 0 || int(label) >= numClasses {
			return nil, fmt.Errorf("label %d out of range for %d classes", label, numClasses)
		}

		row := logits[i*numClasses : (i+1)*numClasses]
		maxVal := row[0]
		for _, v := range row[1:] {
			if v > maxVal {
				maxVal = v
			}
		}
		var sumExp float64
		for j, v := range row {
			e := math.Exp(float64(v - maxVal))
			probs[i*numClasses+j] = float32(e)
			sumExp += e
		}
		for j := range row {
			probs[i*numClasses+j] /= float32(sumExp)
		}
		totalLoss += -math.Log(float64(probs[i*numClasses+int(label)]) + 1e-12)
	}

	loss := tensor.FromScalar(totalLoss/float64(batchSize), tensor.Float32)
	if pred.RequiresGrad() {
		loss.SetRequiresGrad(true)
		tensor.Attach(loss, &crossEntropyOp{logits: pred, probs: probs, labels: labels})
	}
	return loss, nil
}

// MSE computes the mean squared error between prediction and target,
// averaged over all elements.
func MSE(pred, target *tensor.Tensor) (*tensor.Tensor, error) {
	diff, err := tensor.SubAutograd(pred, target)
	if err != nil {
		return nil, fmt.Errorf("mse failed: %v", err)
	}
	squared, err := tensor.MulAutograd(diff, diff)
	if err != nil {
		return nil, fmt.Errorf("mse failed: %v", err)
	}
	return tensor.MeanAutograd(squared)
}

// Accuracy returns the fraction of rows in pred [batch, classes] whose
// argmax matches the integer label in target [batch].
func Accuracy(pred, target *tensor.Tensor) (float64, error) {
	indices, err := tensor.ArgmaxRows(pred)
	if err != nil {
		return 0, err
	}
	labels, err := target.GetInt32Data()
	if err != nil {
		return 0, err
	}
	if len(indices) != len(labels) {
		return 0, fmt.Errorf("prediction count %d does not match label count %d", len(indices), len(labels))
	}
	if len(labels) == 0 {
		return 0, fmt.Errorf("cannot compute accuracy on empty batch")
	}

	correct := 0
	for i, idx := range indices {
		if idx == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(labels)), nil
}
