package main

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/vloison/skada/adapt"
	"github.com/vloison/skada/callbacks"
	"github.com/vloison/skada/checkpoints"
	"github.com/vloison/skada/nn"
	"github.com/vloison/skada/optimizer"
	"github.com/vloison/skada/tensor"
)

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a domain-adapted classifier on synthetic two-domain data",
		Long: `Train fits a small neural classifier on a labeled source domain while
aligning its embeddings with a shifted, unlabeled target domain. Ctrl-C
stops training cleanly, keeping the progress made so far.`,
		RunE: runTrain,
	}

	flags := cmd.Flags()
	flags.Int("epochs", 10, "number of training epochs")
	flags.Int("batch-size", 32, "source batch size")
	flags.Int("batch-size-target", 0, "target batch size (0 = same as batch-size)")
	flags.Float64("lambda", 1.0, "weight of the domain-alignment loss")
	flags.String("method", "coral", "alignment method: coral or mmd")
	flags.String("optimizer", "sgd", "optimizer: sgd or adam")
	flags.Float64("lr", 0.05, "learning rate")
	flags.Float64("momentum", 0.9, "sgd momentum")
	flags.Float64("valid-fraction", 0.0, "source fraction held out for validation")
	flags.Bool("shuffle", true, "shuffle batches each epoch")
	flags.Int64("seed", 1, "random seed")
	flags.Int("hidden", 16, "hidden layer width")
	flags.Int("samples", 200, "samples per domain")
	flags.Float64("shift", 1.0, "covariate shift applied to the target domain")
	flags.Float64("noise", 0.3, "gaussian noise level of the synthetic data")
	flags.String("checkpoint", "", "path to save the trained model as JSON")

	return cmd
}

func runTrain(cmd *cobra.Command, args []string) error {
	cfgFile, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := LoadConfig(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	rng := rand.New(rand.NewSource(cfg.Seed))
	XSource, ySource := makeBlobs(cfg.Samples, 0, cfg.Noise, rng)
	XTarget, yTarget := makeBlobs(cfg.Samples, cfg.Shift, cfg.Noise, rng)
	logger.Debug("generated synthetic domains",
		"samples", cfg.Samples, "shift", cfg.Shift, "noise", cfg.Noise)

	var strategy adapt.LossStrategy
	switch cfg.Method {
	case "coral":
		strategy = adapt.NewCORAL()
	case "mmd":
		strategy = adapt.NewLinearMMD()
	}

	moduleFactory := func() (*nn.Sequential, error) {
		feat, err := nn.NewLinear(2, cfg.Hidden, true)
		if err != nil {
			return nil, err
		}
		out, err := nn.NewLinear(cfg.Hidden, 2, true)
		if err != nil {
			return nil, err
		}
		return nn.NewSequential().
			Add("feat", feat).
			Add("act", nn.NewReLU()).
			Add("out", out), nil
	}

	optFactory := func(params []*tensor.Tensor) (optimizer.Optimizer, error) {
		switch cfg.Optimizer {
		case "adam":
			return optimizer.NewAdam(params, optimizer.AdamConfig{LR: cfg.LR})
		default:
			return optimizer.NewSGD(params, optimizer.SGDConfig{LR: cfg.LR, Momentum: cfg.Momentum})
		}
	}

	clf, err := adapt.NewClassifier(adapt.Config{
		Epochs:          cfg.Epochs,
		BatchSize:       cfg.BatchSize,
		BatchSizeTarget: cfg.BatchSizeTarget,
		Lambda:          cfg.Lambda,
		ValidFraction:   cfg.ValidFraction,
		Shuffle:         cfg.Shuffle,
		Seed:            cfg.Seed,
	}, moduleFactory, optFactory, nn.CrossEntropy, strategy, []string{"feat"},
		callbacks.NewPrintLog(cmd.OutOrStdout()))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	logger.Info("training", "method", cfg.Method, "epochs", cfg.Epochs,
		"batch_size", cfg.BatchSize, "lambda", cfg.Lambda)
	if err := clf.Fit(ctx, XSource, ySource, XTarget); err != nil {
		return fmt.Errorf("training failed: %w", err)
	}
	if ctx.Err() != nil {
		logger.Info("training interrupted, keeping progress so far",
			"epochs_completed", clf.History().NumEpochs())
	}

	sourceAcc, err := accuracy(clf, XSource, ySource)
	if err != nil {
		return err
	}
	targetAcc, err := accuracy(clf, XTarget, yTarget)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "source accuracy: %.3f\ntarget accuracy: %.3f\n", sourceAcc, targetAcc)

	if cfg.Checkpoint != "" {
		ckpt, err := checkpoints.FromModule(clf.Module(), clf.History(),
			fmt.Sprintf("%s, lambda=%.3f", cfg.Method, cfg.Lambda))
		if err != nil {
			return fmt.Errorf("checkpoint build failed: %w", err)
		}
		if err := ckpt.Save(cfg.Checkpoint); err != nil {
			return fmt.Errorf("checkpoint save failed: %w", err)
		}
		logger.Info("saved checkpoint", "path", cfg.Checkpoint, "run_id", ckpt.Metadata.RunID)
	}
	return nil
}

func accuracy(clf *adapt.Classifier, X [][]float32, y []int32) (float64, error) {
	preds, err := clf.Predict(X)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i, p := range preds {
		if p == y[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(y)), nil
}
