package adapt

import (
	"context"
	"errors"
	"fmt"
	"math/rand"

	"github.com/vloison/skada/callbacks"
	"github.com/vloison/skada/data"
	"github.com/vloison/skada/history"
	"github.com/vloison/skada/nn"
	"github.com/vloison/skada/optimizer"
	"github.com/vloison/skada/tensor"
)

// defaults applied by NewClassifier for zero-valued config fields.
const (
	DefaultEpochs    = 10
	DefaultBatchSize = 32
	DefaultLambda    = 1.0
)

// Config holds the training hyperparameters.
type Config struct {
	// Epochs is the number of passes over the source data per fit call.
	Epochs int
	// BatchSize applies to the source and validation loaders.
	BatchSize int
	// BatchSizeTarget overrides the target loader's batch size. Zero
	// means use BatchSize.
	BatchSizeTarget int
	// Lambda weights the domain-alignment term in the total loss.
	Lambda float64
	// ValidFraction is the share of source samples held out for
	// validation. Zero disables the validation pass.
	ValidFraction float64
	// WarmStart keeps learned parameters and history across Fit calls
	// instead of re-initializing.
	WarmStart bool
	// Shuffle reshuffles the source and target sample order each pass.
	Shuffle bool
	// Seed drives parameter initialization, shuffling and splitting.
	Seed int64
}

// ModuleFactory builds a fresh, uninitialized-state model.
type ModuleFactory func() (*nn.Sequential, error)

// OptimizerFactory builds an optimizer over the model's parameters.
type OptimizerFactory func(params []*tensor.Tensor) (optimizer.Optimizer, error)

// StepResult reports the loss components and predictions of one
// optimization step.
type StepResult struct {
	Loss        float64
	LossClassif float64
	LossDA      float64
	BatchSize   int
	YPred       *tensor.Tensor
	YPredTarget *tensor.Tensor
}

// stepAccumulator keeps the first step stored during an optimizer step.
// Optimizers that re-evaluate the closure report the initial loss, not
// the post-update one.
type stepAccumulator struct {
	step   StepResult
	stored bool
}

func (a *stepAccumulator) store(step StepResult) {
	if !a.stored {
		a.step = step
		a.stored = true
	}
}

// Classifier trains a neural classifier on labeled source data while
// aligning chosen embedding layers with unlabeled target data. The total
// loss per step is classification loss plus Lambda times the alignment
// loss.
type Classifier struct {
	cfg        Config
	buildModel ModuleFactory
	buildOpt   OptimizerFactory
	criterion  nn.Criterion
	strategy   LossStrategy
	layerNames []string
	cbs        []callbacks.Callback

	module  *nn.Sequential
	opt     optimizer.Optimizer
	capture *Capture
	hist    *history.History
	rng     *rand.Rand

	initialized bool
}

// NewClassifier creates a domain-adaptation classifier. layerNames are
// the model layers whose activations feed the alignment loss; they must
// exist in every model the factory builds. Zero-valued Epochs, BatchSize
// and Lambda take the package defaults.
func NewClassifier(cfg Config, buildModel ModuleFactory, buildOpt OptimizerFactory,
	criterion nn.Criterion, strategy LossStrategy, layerNames []string,
	cbs ...callbacks.Callback) (*Classifier, error) {

	if buildModel == nil {
		return nil, fmt.Errorf("module factory must not be nil")
	}
	if buildOpt == nil {
		return nil, fmt.Errorf("optimizer factory must not be nil")
	}
	if criterion == nil {
		return nil, fmt.Errorf("criterion must not be nil")
	}
	if strategy == nil {
		return nil, fmt.Errorf("loss strategy must not be nil")
	}
	if len(layerNames) == 0 {
		return nil, fmt.Errorf("at least one embedding layer name is required")
	}
	if cfg.Epochs < 0 || cfg.BatchSize < 0 || cfg.Lambda < 0 {
		return nil, fmt.Errorf("epochs, batch size and lambda must not be negative")
	}
	if cfg.Epochs == 0 {
		cfg.Epochs = DefaultEpochs
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchSizeTarget < 0 {
		return nil, fmt.Errorf("target batch size must not be negative")
	}
	if cfg.BatchSizeTarget == 0 {
		cfg.BatchSizeTarget = cfg.BatchSize
	}
	if cfg.Lambda == 0 {
		cfg.Lambda = DefaultLambda
	}
	if cfg.ValidFraction < 0 || cfg.ValidFraction >= 1 {
		return nil, fmt.Errorf("valid fraction must be in [0, 1), got %f", cfg.ValidFraction)
	}

	return &Classifier{
		cfg:        cfg,
		buildModel: buildModel,
		buildOpt:   buildOpt,
		criterion:  criterion,
		strategy:   strategy,
		layerNames: layerNames,
		cbs:        cbs,
	}, nil
}

// Initialize builds a fresh model, optimizer, capture and history,
// discarding any previous training state.
func (c *Classifier) Initialize() error {
	nn.SetRandomSeed(c.cfg.Seed)
	c.rng = rand.New(rand.NewSource(c.cfg.Seed))

	module, err := c.buildModel()
	if err != nil {
		return fmt.Errorf("module factory failed: %v", err)
	}
	if module == nil {
		return fmt.Errorf("module factory returned nil")
	}
	if module.Err() != nil {
		return fmt.Errorf("module factory produced invalid model: %v", module.Err())
	}

	capture, err := NewCapture(c.layerNames)
	if err != nil {
		return err
	}
	if err := capture.Instrument(module); err != nil {
		return err
	}

	opt, err := c.buildOpt(module.Parameters())
	if err != nil {
		return fmt.Errorf("optimizer factory failed: %v", err)
	}
	if opt == nil {
		return fmt.Errorf("optimizer factory returned nil")
	}

	c.module = module
	c.capture = capture
	c.opt = opt
	c.hist = history.New()
	c.initialized = true
	return nil
}

// IsInitialized reports whether the classifier holds a trained or
// trainable model.
func (c *Classifier) IsInitialized() bool {
	return c.initialized
}

// Module returns the underlying model, or nil before initialization.
func (c *Classifier) Module() *nn.Sequential {
	return c.module
}

// History returns the training history, or nil before initialization.
func (c *Classifier) History() *history.History {
	return c.hist
}

// Fit trains the classifier on labeled source samples X, y and unlabeled
// target samples XTarget. Unless WarmStart is set, training state is
// re-initialized first. A canceled context stops training cleanly between
// batches without returning an error.
func (c *Classifier) Fit(ctx context.Context, X [][]float32, y []int32, XTarget [][]float32) error {
	if !c.cfg.WarmStart || !c.initialized {
		if err := c.Initialize(); err != nil {
			return err
		}
	}
	return c.PartialFit(ctx, X, y, XTarget)
}

// PartialFit trains without re-initializing, continuing from the current
// parameters and appending to the existing history.
func (c *Classifier) PartialFit(ctx context.Context, X [][]float32, y []int32, XTarget [][]float32) error {
	if !c.initialized {
		if err := c.Initialize(); err != nil {
			return err
		}
	}
	if ctx == nil {
		ctx = context.Background()
	}

	dsSource, err := data.NewSliceDataset(X, y)
	if err != nil {
		return fmt.Errorf("invalid source data: %v", err)
	}
	dsTarget, err := data.NewUnlabeled(XTarget)
	if err != nil {
		return fmt.Errorf("invalid target data: %v", err)
	}
	dsTrain, dsValid, err := data.Split(dsSource, c.cfg.ValidFraction, c.rng)
	if err != nil {
		return fmt.Errorf("train/valid split failed: %v", err)
	}

	cbCtx := &callbacks.Context{
		History:       c.hist,
		DatasetTrain:  dsTrain,
		DatasetTarget: dsTarget,
		DatasetValid:  dsValid,
	}
	c.notify(cbCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnTrainBegin(x) })

	fitErr := c.fitLoop(ctx, dsTrain, dsValid, dsTarget)

	// Train-end fires even on interruption so observers can flush.
	c.notify(cbCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnTrainEnd(x) })

	if errors.Is(fitErr, context.Canceled) || errors.Is(fitErr, context.DeadlineExceeded) {
		return nil
	}
	return fitErr
}

func (c *Classifier) fitLoop(ctx context.Context, dsTrain, dsValid, dsTarget data.Dataset) error {
	trainLoader, err := data.NewDataLoader(dsTrain, c.cfg.BatchSize, c.cfg.Shuffle, c.rng)
	if err != nil {
		return fmt.Errorf("train loader: %v", err)
	}
	targetLoader, err := data.NewDataLoader(dsTarget, c.cfg.BatchSizeTarget, c.cfg.Shuffle, c.rng)
	if err != nil {
		return fmt.Errorf("target loader: %v", err)
	}
	var validLoader *data.DataLoader
	if dsValid != nil {
		validLoader, err = data.NewDataLoader(dsValid, c.cfg.BatchSize, false, nil)
		if err != nil {
			return fmt.Errorf("valid loader: %v", err)
		}
	}

	for epoch := 0; epoch < c.cfg.Epochs; epoch++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.hist.NewEpoch()

		epochCtx := &callbacks.Context{
			Epoch:         c.hist.NumEpochs(),
			History:       c.hist,
			DatasetTrain:  dsTrain,
			DatasetTarget: dsTarget,
			DatasetValid:  dsValid,
		}
		c.notify(epochCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnEpochBegin(x) })

		if err := c.runTrainPass(ctx, trainLoader, targetLoader); err != nil {
			return err
		}
		if validLoader != nil {
			if err := c.runValidPass(ctx, validLoader); err != nil {
				return err
			}
		}

		c.notify(epochCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnEpochEnd(x) })
	}
	return nil
}

// runTrainPass runs one epoch over the source data. Each source batch
// draws the next target batch, cycling back to the start of the target
// data whenever it runs out. An epoch ends early when the source and
// target batch sizes diverge, since alignment statistics need paired
// activations from both domains.
func (c *Classifier) runTrainPass(ctx context.Context, trainLoader, targetLoader *data.DataLoader) error {
	c.module.Train()
	trainLoader.Reset()
	targetLoader.Reset()

	var sumLoss, sumClassif, sumDA float64
	var totalSamples, batchCount int

	for trainLoader.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch, err := trainLoader.Next()
		if err != nil {
			return fmt.Errorf("source batch failed: %v", err)
		}
		if !targetLoader.HasNext() {
			targetLoader.Reset()
		}
		batchTarget, err := targetLoader.Next()
		if err != nil {
			return fmt.Errorf("target batch failed: %v", err)
		}

		// A drawn pairing counts even when it ends the epoch early.
		batchCount++
		if batch.Size() != batchTarget.Size() {
			break
		}

		c.hist.NewBatch()
		batchCtx := &callbacks.Context{
			Epoch:     c.hist.NumEpochs(),
			Batch:     batchCount,
			Training:  true,
			BatchSize: batch.Size(),
			History:   c.hist,
		}
		c.notify(batchCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnBatchBegin(x) })

		step, err := c.trainStep(batch, batchTarget)
		if err != nil {
			return err
		}

		c.hist.RecordBatch("train_loss", step.Loss)
		c.hist.RecordBatch("train_loss_classif", step.LossClassif)
		c.hist.RecordBatch("train_loss_da", step.LossDA)
		c.hist.RecordBatch("train_batch_size", float64(step.BatchSize))

		batchCtx.Loss = step.Loss
		batchCtx.LossClassif = step.LossClassif
		batchCtx.LossDA = step.LossDA
		batchCtx.YPred = step.YPred
		batchCtx.YPredTarget = step.YPredTarget
		c.notify(batchCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnBatchEnd(x) })

		sumLoss += step.Loss * float64(step.BatchSize)
		sumClassif += step.LossClassif * float64(step.BatchSize)
		sumDA += step.LossDA * float64(step.BatchSize)
		totalSamples += step.BatchSize
	}

	if totalSamples > 0 {
		c.hist.Record("train_loss", sumLoss/float64(totalSamples))
		c.hist.Record("train_loss_classif", sumClassif/float64(totalSamples))
		c.hist.Record("train_loss_da", sumDA/float64(totalSamples))
	}
	c.hist.Record("train_batch_count", float64(batchCount))
	return nil
}

func (c *Classifier) runValidPass(ctx context.Context, validLoader *data.DataLoader) error {
	c.module.Eval()
	validLoader.Reset()

	var sumLoss float64
	var totalSamples, batchCount int

	for validLoader.HasNext() {
		if err := ctx.Err(); err != nil {
			return err
		}
		batch, err := validLoader.Next()
		if err != nil {
			return fmt.Errorf("valid batch failed: %v", err)
		}

		c.hist.NewBatch()
		loss, err := c.validationStep(batch)
		if err != nil {
			return err
		}
		c.hist.RecordBatch("valid_loss", loss)
		c.hist.RecordBatch("valid_batch_size", float64(batch.Size()))

		sumLoss += loss * float64(batch.Size())
		totalSamples += batch.Size()
		batchCount++
	}

	if totalSamples > 0 {
		c.hist.Record("valid_loss", sumLoss/float64(totalSamples))
	}
	c.hist.Record("valid_batch_count", float64(batchCount))
	return nil
}

// trainStep runs one optimization step through the optimizer's closure.
// Gradients are zeroed inside the closure so re-evaluating optimizers
// recompute them correctly.
func (c *Classifier) trainStep(batch, batchTarget *data.Batch) (StepResult, error) {
	acc := &stepAccumulator{}
	closure := func() (float64, error) {
		c.opt.ZeroGrad()
		loss, step, err := c.trainStepSingle(batch, batchTarget)
		if err != nil {
			return 0, err
		}
		if err := loss.Backward(); err != nil {
			return 0, fmt.Errorf("backward failed: %v", err)
		}
		acc.store(step)

		gradCtx := &callbacks.Context{
			Epoch:     c.hist.NumEpochs(),
			Training:  true,
			Loss:      step.Loss,
			BatchSize: step.BatchSize,
			X:         batch.Data,
			Y:         batch.Labels,
			Params:    c.namedParams(),
			History:   c.hist,
		}
		c.notify(gradCtx, func(cb callbacks.Callback, x *callbacks.Context) { cb.OnGradComputed(x) })
		return step.Loss, nil
	}

	if _, err := c.opt.Step(closure); err != nil {
		return StepResult{}, fmt.Errorf("optimizer step failed: %v", err)
	}
	return acc.step, nil
}

// trainStepSingle runs the dual forward pass and builds the composite
// loss. The source snapshot must be taken before the target forward pass
// overwrites the captured activations.
func (c *Classifier) trainStepSingle(batch, batchTarget *data.Batch) (*tensor.Tensor, StepResult, error) {
	c.module.Train()

	yPred, err := c.module.Forward(batch.Data)
	if err != nil {
		return nil, StepResult{}, fmt.Errorf("source forward failed: %v", err)
	}
	sourceEmb, err := c.capture.Snapshot()
	if err != nil {
		return nil, StepResult{}, err
	}

	yPredTarget, err := c.module.Forward(batchTarget.Data)
	if err != nil {
		return nil, StepResult{}, fmt.Errorf("target forward failed: %v", err)
	}
	targetEmb, err := c.capture.Snapshot()
	if err != nil {
		return nil, StepResult{}, err
	}

	loss, lossClassif, lossDA, err := c.strategy.ComputeLoss(&LossInput{
		YPred:            yPred,
		YTrue:            batch.Labels,
		SourceEmbeddings: sourceEmb,
		TargetEmbeddings: targetEmb,
		X:                batch.Data,
		YPredTarget:      yPredTarget,
		Criterion:        c.criterion,
		Lambda:           c.cfg.Lambda,
		Training:         true,
	})
	if err != nil {
		return nil, StepResult{}, fmt.Errorf("loss strategy failed: %v", err)
	}

	lossVal, err := loss.Item()
	if err != nil {
		return nil, StepResult{}, err
	}
	classifVal, err := lossClassif.Item()
	if err != nil {
		return nil, StepResult{}, err
	}
	daVal, err := lossDA.Item()
	if err != nil {
		return nil, StepResult{}, err
	}

	return loss, StepResult{
		Loss:        lossVal,
		LossClassif: classifVal,
		LossDA:      daVal,
		BatchSize:   batch.Size(),
		YPred:       yPred,
		YPredTarget: yPredTarget,
	}, nil
}

// namedParams snapshots the learnable parameters by name for callback
// contexts.
func (c *Classifier) namedParams() map[string]*tensor.Tensor {
	named := c.module.NamedParameters()
	out := make(map[string]*tensor.Tensor, len(named))
	for _, np := range named {
		out[np.Name] = np.Tensor
	}
	return out
}

func (c *Classifier) validationStep(batch *data.Batch) (float64, error) {
	c.module.Eval()
	yPred, err := c.module.Forward(batch.Data)
	if err != nil {
		return 0, fmt.Errorf("valid forward failed: %v", err)
	}
	loss, err := c.criterion(yPred, batch.Labels)
	if err != nil {
		return 0, fmt.Errorf("valid loss failed: %v", err)
	}
	return loss.Item()
}

// PredictProba runs the model in eval mode and returns softmax class
// probabilities with shape [len(X), classes].
func (c *Classifier) PredictProba(X [][]float32) (*tensor.Tensor, error) {
	logits, err := c.forwardAll(X)
	if err != nil {
		return nil, err
	}
	return tensor.Softmax(logits)
}

// Predict returns the most likely class per sample.
func (c *Classifier) Predict(X [][]float32) ([]int32, error) {
	logits, err := c.forwardAll(X)
	if err != nil {
		return nil, err
	}
	return tensor.ArgmaxRows(logits)
}

func (c *Classifier) forwardAll(X [][]float32) (*tensor.Tensor, error) {
	if !c.initialized {
		return nil, fmt.Errorf("classifier is not initialized; call Fit first")
	}
	if len(X) == 0 {
		return nil, fmt.Errorf("input must not be empty")
	}

	dim := len(X[0])
	flat := make([]float32, 0, len(X)*dim)
	for i, row := range X {
		if len(row) != dim {
			return nil, fmt.Errorf("sample %d has %d features, expected %d", i, len(row), dim)
		}
		flat = append(flat, row...)
	}
	input, err := tensor.NewTensor([]int{len(X), dim}, tensor.Float32, flat)
	if err != nil {
		return nil, err
	}

	c.module.Eval()
	return c.module.Forward(input)
}

func (c *Classifier) notify(ctx *callbacks.Context, fire func(callbacks.Callback, *callbacks.Context)) {
	for _, cb := range c.cbs {
		fire(cb, ctx)
	}
}
