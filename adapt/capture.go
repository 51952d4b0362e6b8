// Package adapt implements domain-adaptation training: a classifier
// trained on labeled source data while an alignment loss pulls source and
// target feature distributions together at chosen embedding layers.
package adapt

import (
	"fmt"

	"github.com/vloison/skada/nn"
	"github.com/vloison/skada/tensor"
)

// Capture records the outputs of chosen layers during forward passes.
// Each forward pass overwrites the previous activation for a layer, so a
// snapshot must be taken after the pass whose activations it needs and
// before the next one.
type Capture struct {
	layerNames  []string
	activations map[string]*tensor.Tensor
}

// NewCapture creates a capture for the given layer names. Order is
// preserved: snapshots list activations in the declared order.
func NewCapture(layerNames []string) (*Capture, error) {
	if len(layerNames) == 0 {
		return nil, fmt.Errorf("at least one layer name is required")
	}
	seen := make(map[string]bool, len(layerNames))
	for _, name := range layerNames {
		if seen[name] {
			return nil, fmt.Errorf("duplicate layer name %q", name)
		}
		seen[name] = true
	}
	return &Capture{
		layerNames:  layerNames,
		activations: make(map[string]*tensor.Tensor),
	}, nil
}

// Instrument registers forward hooks on the model for every captured
// layer. It fails if any declared layer is missing from the model.
func (c *Capture) Instrument(model *nn.Sequential) error {
	if model == nil {
		return fmt.Errorf("model must not be nil")
	}
	for _, name := range c.layerNames {
		layerName := name
		err := model.RegisterForwardHook(layerName, func(_ string, output *tensor.Tensor) {
			c.activations[layerName] = output
		})
		if err != nil {
			return fmt.Errorf("cannot capture layer %q: %v", layerName, err)
		}
	}
	return nil
}

// LayerNames returns the captured layer names in declared order.
func (c *Capture) LayerNames() []string {
	return c.layerNames
}

// Snapshot returns the most recent activation of every captured layer,
// in declared order. It fails if any layer has not produced an
// activation yet. The returned tensors stay attached to the autograd
// graph of the forward pass that produced them.
func (c *Capture) Snapshot() ([]*tensor.Tensor, error) {
	snapshot := make([]*tensor.Tensor, len(c.layerNames))
	for i, name := range c.layerNames {
		act, ok := c.activations[name]
		if !ok {
			return nil, fmt.Errorf("no activation captured for layer %q", name)
		}
		snapshot[i] = act
	}
	return snapshot, nil
}

// Clear drops all stored activations.
func (c *Capture) Clear() {
	c.activations = make(map[string]*tensor.Tensor)
}
