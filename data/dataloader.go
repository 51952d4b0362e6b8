package data

import (
	"fmt"
	"math/rand"

	"github.com/vloison/skada/tensor"
)

// Batch holds one mini-batch of features and labels as tensors. Data has
// shape [batch, features] and Labels has shape [batch].
type Batch struct {
	Data   *tensor.Tensor
	Labels *tensor.Tensor
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return b.Data.Shape[0]
}

// DataLoader iterates over a dataset in mini-batches. The final batch of
// a pass may be smaller than the configured batch size. When shuffling is
// enabled, Reset draws a fresh permutation.
type DataLoader struct {
	dataset   Dataset
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	cursor    int
}

// NewDataLoader creates a loader over dataset. rng is only used when
// shuffle is true and must be non-nil in that case.
func NewDataLoader(dataset Dataset, batchSize int, shuffle bool, rng *rand.Rand) (*DataLoader, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset must not be nil")
	}
	if batchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, got %d", batchSize)
	}
	if shuffle && rng == nil {
		return nil, fmt.Errorf("shuffling requires a random source")
	}

	dl := &DataLoader{
		dataset:   dataset,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rng,
	}
	dl.Reset()
	return dl, nil
}

// Reset rewinds the loader to the start of the dataset, reshuffling the
// sample order when shuffling is enabled.
func (dl *DataLoader) Reset() {
	n := dl.dataset.Len()
	if dl.shuffle {
		dl.indices = dl.rng.Perm(n)
	} else {
		if dl.indices == nil {
			dl.indices = make([]int, n)
			for i := range dl.indices {
				dl.indices[i] = i
			}
		}
	}
	dl.cursor = 0
}

// HasNext reports whether another batch remains in the current pass.
func (dl *DataLoader) HasNext() bool {
	return dl.cursor < len(dl.indices)
}

// NumBatches returns the number of batches in a full pass.
func (dl *DataLoader) NumBatches() int {
	n := dl.dataset.Len()
	return (n + dl.batchSize - 1) / dl.batchSize
}

// BatchSize returns the configured batch size.
func (dl *DataLoader) BatchSize() int {
	return dl.batchSize
}

// Next returns the next batch. It fails once the pass is exhausted; use
// HasNext or Reset to start another pass.
func (dl *DataLoader) Next() (*Batch, error) {
	if !dl.HasNext() {
		return nil, fmt.Errorf("data loader exhausted")
	}

	end := dl.cursor + dl.batchSize
	if end > len(dl.indices) {
		end = len(dl.indices)
	}
	batchIndices := dl.indices[dl.cursor:end]
	dl.cursor = end

	numFeatures := dl.dataset.NumFeatures()
	features := make([]float32, len(batchIndices)*numFeatures)
	labels := make([]int32, len(batchIndices))
	for i, idx := range batchIndices {
		f, label, err := dl.dataset.GetItem(idx)
		if err != nil {
			return nil, fmt.Errorf("failed to load sample %d: %v", idx, err)
		}
		copy(features[i*numFeatures:(i+1)*numFeatures], f)
		labels[i] = label
	}

	dataT, err := tensor.NewTensor([]int{len(batchIndices), numFeatures}, tensor.Float32, features)
	if err != nil {
		return nil, fmt.Errorf("failed to build batch tensor: %v", err)
	}
	labelT, err := tensor.NewTensor([]int{len(batchIndices)}, tensor.Int32, labels)
	if err != nil {
		return nil, fmt.Errorf("failed to build label tensor: %v", err)
	}

	return &Batch{Data: dataT, Labels: labelT}, nil
}
