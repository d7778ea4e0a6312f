// Command pretrain runs the reconstruction pretraining phase: the generator
// learns to reproduce ground-truth recolorings under mean squared error, and
// the best validation checkpoint is kept for the adversarial phase.
package main

import (
	"context"
	"flag"
	"math/rand"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/tsawler/go-recolor/checkpoints"
	"github.com/tsawler/go-recolor/data"
	"github.com/tsawler/go-recolor/nn"
	"github.com/tsawler/go-recolor/training"
)

func main() {
	// Values in a .env file become defaults; flags still win.
	_ = godotenv.Load()

	var (
		epochs      = flag.Int("epochs", 10, "number of training epochs")
		batchSize   = flag.Int("batch-size", training.DefaultBatchSize, "training batch size")
		datasetSize = flag.Int("dataset-size", 64, "synthetic training set size")
		valSize     = flag.Int("val-size", 16, "synthetic validation set size")
		testSize    = flag.Int("test-size", 16, "synthetic test set size")

		imageHeight = flag.Int("image-height", 24, "image height in pixels")
		imageWidth  = flag.Int("image-width", 32, "image width in pixels")
		paletteSize = flag.Int("palette-size", 6, "swatches per palette")
		hiddenDim   = flag.Int("hidden-dim", 64, "generator hidden dimension")

		lr          = flag.Float64("lr", training.DefaultLearningRate, "learning rate")
		beta1       = flag.Float64("beta1", training.DefaultBeta1, "Adam beta1")
		beta2       = flag.Float64("beta2", training.DefaultBeta2, "Adam beta2")
		weightDecay = flag.Float64("weight-decay", 0, "weight decay")
		optimizer   = flag.String("optimizer", string(training.OptimizerAdam), "optimizer kind: adam or adamw")

		accumulate = flag.Int("accumulate-grad-batches", 1, "gradient accumulation window")
		clipVal    = flag.Float64("gradient-clip-val", 0, "gradient norm clip value, 0 disables")
		precision  = flag.Int("precision", 32, "numeric precision, only 32 is supported")
		patience   = flag.Int("patience", training.DefaultPatience, "early-stopping patience in epochs")

		checkpointRoot = flag.String("checkpoints-dir", envOr("CHECKPOINTS_DIR", "checkpoints-out"), "checkpoint root directory")
		name           = flag.String("name", "pretrain", "run name")
		version        = flag.String("version", "", "run version, auto-generated when empty")
		exportONNX     = flag.Bool("export-onnx", false, "export the final generator to ONNX")
		seed           = flag.Int64("seed", 42, "random seed")
		logJSON        = flag.Bool("log-json", false, "emit JSON logs")
	)
	flag.Parse()

	log := logrus.New()
	if *logJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	}

	if *precision != 32 {
		log.Fatalf("precision %d is not supported, use 32", *precision)
	}

	runVersion := *version
	if runVersion == "" {
		runVersion = uuid.NewString()
	}
	runDir := filepath.Join(checkpoints.ResolveLocation(*checkpointRoot), *name, runVersion)

	log.WithFields(logrus.Fields{
		"name":    *name,
		"version": runVersion,
		"dir":     runDir,
		"epochs":  *epochs,
	}).Info("starting pretraining")

	rng := rand.New(rand.NewSource(*seed))

	gen, err := nn.NewPaletteNet(nn.PaletteNetConfig{
		ImageHeight: *imageHeight,
		ImageWidth:  *imageWidth,
		HiddenDim:   *hiddenDim,
		PaletteDim:  *paletteSize * 3,
	}, rng)
	if err != nil {
		log.Fatalf("failed to build generator: %v", err)
	}

	hparams := training.PretrainHyperParams{
		LearningRate:      *lr,
		Beta1:             *beta1,
		Beta2:             *beta2,
		WeightDecay:       *weightDecay,
		Optimizer:         training.OptimizerKind(*optimizer),
		BatchSize:         *batchSize,
		AccumulateGrad:    *accumulate,
		GradientClipVal:   *clipVal,
		SchedulerFactor:   0.1,
		SchedulerPatience: training.DefaultPatience,
	}

	system, err := training.NewPretrainSystem(gen, hparams, training.NewLogrusSink(log))
	if err != nil {
		log.Fatalf("failed to build pretrain system: %v", err)
	}

	trainLoader := mustLoader(log, *datasetSize, *imageHeight, *imageWidth, *paletteSize, *seed, *batchSize, true)
	valLoader := mustLoader(log, *valSize, *imageHeight, *imageWidth, *paletteSize, *seed+1, *batchSize, false)
	testLoader := mustLoader(log, *testSize, *imageHeight, *imageWidth, *paletteSize, *seed+2, *batchSize, false)

	gate, err := checkpoints.NewGate(runDir, training.PhaseVal.Metric("loss_epoch"), checkpoints.KeepBest)
	if err != nil {
		log.Fatalf("failed to create checkpoint gate: %v", err)
	}

	ctx := context.Background()
	bestVal := 0.0
	badEpochs := 0

	for epoch := 0; epoch < *epochs; epoch++ {
		if err := runEpoch(ctx, trainLoader, func(b training.AdversarialBatch) error {
			_, err := system.TrainingStep(b.Pretrain())
			return err
		}); err != nil {
			log.Fatalf("training epoch %d failed: %v", epoch, err)
		}

		if err := runEpoch(ctx, valLoader, func(b training.AdversarialBatch) error {
			_, err := system.ValidationStep(b.Pretrain())
			return err
		}); err != nil {
			log.Fatalf("validation epoch %d failed: %v", epoch, err)
		}

		valLoss, err := system.ValidationEpochEnd()
		if err != nil {
			log.Fatalf("validation epoch %d failed: %v", epoch, err)
		}

		ckpt, err := checkpoints.FromPretrain(gen, system.HyperParams(), checkpoints.TrainingState{
			GlobalStep:   system.GlobalStep(),
			LearningRate: system.LearningRate(),
		})
		if err != nil {
			log.Fatalf("failed to build checkpoint: %v", err)
		}
		saved, path, err := gate.Consider(ckpt, valLoss, epoch)
		if err != nil {
			log.Fatalf("failed to save checkpoint: %v", err)
		}
		if saved {
			log.WithField("path", path).Info("checkpoint saved")
		}

		if epoch == 0 || valLoss < bestVal {
			bestVal = valLoss
			badEpochs = 0
		} else {
			badEpochs++
			if badEpochs >= *patience {
				log.WithField("epoch", epoch).Info("early stopping")
				break
			}
		}
	}

	if err := runEpoch(ctx, testLoader, func(b training.AdversarialBatch) error {
		_, err := system.TestStep(b.Pretrain())
		return err
	}); err != nil {
		log.Fatalf("test pass failed: %v", err)
	}
	testLoss, err := system.TestEpochEnd()
	if err != nil {
		log.Fatalf("test pass failed: %v", err)
	}
	log.WithField("test_loss", testLoss).Info("pretraining finished")

	if *exportONNX {
		ckpt, err := checkpoints.FromPretrain(gen, system.HyperParams(), checkpoints.TrainingState{
			GlobalStep:   system.GlobalStep(),
			LearningRate: system.LearningRate(),
		})
		if err != nil {
			log.Fatalf("failed to snapshot generator: %v", err)
		}
		onnxPath := filepath.Join(runDir, "generator.onnx")
		if err := checkpoints.ExportONNX(ckpt, onnxPath); err != nil {
			log.Fatalf("ONNX export failed: %v", err)
		}
		log.WithField("path", onnxPath).Info("exported ONNX model")
	}
}

// runEpoch consumes one loader pass, feeding each batch to step. The derived
// context releases the loader's producer if a step fails mid-pass.
func runEpoch(ctx context.Context, loader *data.Loader, step func(training.AdversarialBatch) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	batches, wait := loader.Stream(ctx)
	for batch := range batches {
		if err := step(batch); err != nil {
			return err
		}
	}
	return wait()
}

func mustLoader(log *logrus.Logger, size, h, w, paletteSize int, seed int64, batchSize int, shuffle bool) *data.Loader {
	ds, err := data.NewSynthetic(data.SyntheticConfig{
		Size:        size,
		ImageHeight: h,
		ImageWidth:  w,
		PaletteSize: paletteSize,
		Seed:        seed,
	})
	if err != nil {
		log.Fatalf("failed to build dataset: %v", err)
	}

	loader, err := data.NewLoader(ds, paletteSize, data.LoaderConfig{
		BatchSize: batchSize,
		Shuffle:   shuffle,
		Seed:      seed,
		Prefetch:  2,
	})
	if err != nil {
		log.Fatalf("failed to build loader: %v", err)
	}
	return loader
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
