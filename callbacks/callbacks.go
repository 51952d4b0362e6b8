// Package callbacks defines training lifecycle hooks. Callbacks observe
// the run; they cannot abort it.
package callbacks

import (
	"github.com/vloison/skada/data"
	"github.com/vloison/skada/history"
	"github.com/vloison/skada/tensor"
)

// Context carries the training state visible to callbacks at each
// lifecycle point. Fields that do not apply to a given hook are zero.
// X and Y are the current source batch; Params maps parameter names to
// the live learnable tensors at grad time.
type Context struct {
	Epoch    int
	Batch    int
	Training bool

	Loss        float64
	LossClassif float64
	LossDA      float64
	BatchSize   int

	X           *tensor.Tensor
	Y           *tensor.Tensor
	YPred       *tensor.Tensor
	YPredTarget *tensor.Tensor

	History *history.History
	Params  map[string]*tensor.Tensor

	DatasetTrain  data.Dataset
	DatasetTarget data.Dataset
	DatasetValid  data.Dataset
}

// Callback receives notifications across the training lifecycle. All
// methods are fire-and-forget.
type Callback interface {
	OnTrainBegin(ctx *Context)
	OnTrainEnd(ctx *Context)
	OnEpochBegin(ctx *Context)
	OnEpochEnd(ctx *Context)
	OnBatchBegin(ctx *Context)
	OnBatchEnd(ctx *Context)
	// OnGradComputed fires after gradients are computed, before the
	// optimizer applies the update.
	OnGradComputed(ctx *Context)
}

// Base is a no-op Callback for embedding. Override only the hooks you
// need.
type Base struct{}

func (Base) OnTrainBegin(*Context)   {}
func (Base) OnTrainEnd(*Context)     {}
func (Base) OnEpochBegin(*Context)   {}
func (Base) OnEpochEnd(*Context)     {}
func (Base) OnBatchBegin(*Context)   {}
func (Base) OnBatchEnd(*Context)     {}
func (Base) OnGradComputed(*Context) {}
