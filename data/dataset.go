// Package data provides datasets and batch iteration for training loops.
package data

import (
	"fmt"
	"math/rand"
)

// Dataset provides indexed access to feature vectors and integer labels.
type Dataset interface {
	// Len returns the number of samples.
	Len() int
	// GetItem returns the feature vector and label at index idx.
	GetItem(idx int) ([]float32, int32, error)
	// NumFeatures returns the dimensionality of each feature vector.
	NumFeatures() int
}

// SliceDataset wraps in-memory features and labels.
type SliceDataset struct {
	features [][]float32
	labels   []int32
}

// NewSliceDataset creates a dataset over the given samples. All feature
// vectors must share the same length, and labels must match features
// one to one.
func NewSliceDataset(features [][]float32, labels []int32) (*SliceDataset, error) {
	if len(features) == 0 {
		return nil, fmt.Errorf("dataset must not be empty")
	}
	if len(features) != len(labels) {
		return nil, fmt.Errorf("feature count %d does not match label count %d", len(features), len(labels))
	}
	dim := len(features[0])
	if dim == 0 {
		return nil, fmt.Errorf("feature vectors must not be empty")
	}
	for i, f := range features {
		if len(f) != dim {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(f), dim)
		}
	}
	return &SliceDataset{features: features, labels: labels}, nil
}

// NewUnlabeled creates a dataset over the given samples with all labels
// set to zero. Target-domain data has no labels; the placeholder keeps
// the batch shapes uniform so loaders can treat both domains alike.
func NewUnlabeled(features [][]float32) (*SliceDataset, error) {
	return NewSliceDataset(features, make([]int32, len(features)))
}

func (d *SliceDataset) Len() int { return len(d.features) }

func (d *SliceDataset) GetItem(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(d.features) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(d.features))
	}
	return d.features[idx], d.labels[idx], nil
}

func (d *SliceDataset) NumFeatures() int { return len(d.features[0]) }

// Subset exposes a subset of a dataset through an index list.
type Subset struct {
	dataset Dataset
	indices []int
}

// NewSubset creates a view over dataset restricted to indices.
func NewSubset(dataset Dataset, indices []int) (*Subset, error) {
	if dataset == nil {
		return nil, fmt.Errorf("dataset must not be nil")
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("subset must not be empty")
	}
	n := dataset.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("subset index %d out of range [0, %d)", idx, n)
		}
	}
	return &Subset{dataset: dataset, indices: indices}, nil
}

func (s *Subset) Len() int { return len(s.indices) }

func (s *Subset) GetItem(idx int) ([]float32, int32, error) {
	if idx < 0 || idx >= len(s.indices) {
		return nil, 0, fmt.Errorf("index %d out of range [0, %d)", idx, len(s.indices))
	}
	return s.dataset.GetItem(s.indices[idx])
}

func (s *Subset) NumFeatures() int { return s.dataset.NumFeatures() }

// Split partitions a dataset into train and validation subsets. validFraction
// is the share of samples held out for validation; the split is a random
// permutation driven by rng. A zero fraction returns the full dataset and
// a nil validation set.
func Split(dataset Dataset, validFraction float64, rng *rand.Rand) (Dataset, Dataset, error) {
	if dataset == nil {
		return nil, nil, fmt.Errorf("dataset must not be nil")
	}
	if validFraction < 0 || validFraction >= 1 {
		return nil, nil, fmt.Errorf("valid fraction must be in [0, 1), got %f", validFraction)
	}
	if validFraction == 0 {
		return dataset, nil, nil
	}
	if rng == nil {
		return nil, nil, fmt.Errorf("splitting requires a random source")
	}

	n := dataset.Len()
	numValid := int(float64(n) * validFraction)
	if numValid == 0 {
		return dataset, nil, nil
	}
	if numValid == n {
		return nil, nil, fmt.Errorf("valid fraction %f leaves no training samples", validFraction)
	}

	perm := rng.Perm(n)
	train, err := NewSubset(dataset, perm[numValid:])
	if err != nil {
		return nil, nil, err
	}
	valid, err := NewSubset(dataset, perm[:numValid])
	if err != nil {
		return nil, nil, err
	}
	return train, valid, nil
}
