// Command adversarial runs the adversarial phase: a pretrained generator is
// refined against a fresh discriminator that judges (image, palette)
// authenticity. Every epoch's checkpoint is retained, since adversarial loss
// is a poor model-selection signal.
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
	_ = godotenv.Load()

	var (
		pretrainCkpt = flag.String("pretrain-checkpoint", "", "path to the pretrain checkpoint to start from (required)")
		objectiveArg = flag.String("objective", "combined", "generator objective: combined or adversarial")

		epochs      = flag.Int("epochs", 10, "number of training epochs")
		batchSize   = flag.Int("batch-size", training.DefaultBatchSize, "training batch size")
		datasetSize = flag.Int("dataset-size", 64, "synthetic training set size")
		valSize     = flag.Int("val-size", 16, "synthetic validation set size")
		testSize    = flag.Int("test-size", 16, "synthetic test set size")

		genLR     = flag.Float64("generator-lr", training.DefaultLearningRate, "generator learning rate")
		discLR    = flag.Float64("discriminator-lr", training.DefaultLearningRate, "discriminator learning rate")
		beta1     = flag.Float64("beta1", training.DefaultBeta1, "Adam beta1")
		beta2     = flag.Float64("beta2", training.DefaultBeta2, "Adam beta2")
		genWD     = flag.Float64("generator-weight-decay", 0, "generator weight decay")
		discWD    = flag.Float64("discriminator-weight-decay", 0, "discriminator weight decay")
		optimizer = flag.String("optimizer", string(training.OptimizerAdam), "optimizer kind: adam or adamw")

		cadence   = flag.Int("cadence", training.DefaultCadence, "discriminator update cadence k")
		mseLambda = flag.Float64("mse-lambda", training.DefaultMSELambda, "reconstruction weight in the combined objective")
		dropoutP  = flag.Float64("dropout", training.DefaultDropoutP, "discriminator dropout probability")
		discHidden = flag.Int("discriminator-hidden-dim", 64, "discriminator hidden dimension")

		clipVal   = flag.Float64("gradient-clip-val", 0, "gradient norm clip value, 0 disables")
		precision = flag.Int("precision", 32, "numeric precision, only 32 is supported")
		logProbes = flag.Bool("log-probes", false, "report per-probe discriminator scores")

		checkpointRoot = flag.String("checkpoints-dir", envOr("CHECKPOINTS_DIR", "checkpoints-out"), "checkpoint root directory")
		name           = flag.String("name", "adversarial", "run name")
		version        = flag.String("version", "", "run version, auto-generated when empty")
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
	if *pretrainCkpt == "" {
		log.Fatal("-pretrain-checkpoint is required")
	}

	var objective training.Objective
	switch *objectiveArg {
	case "combined":
		objective = training.CombinedObjective
	case "adversarial":
		objective = training.PureAdversarialObjective
	default:
		log.Fatalf("unknown objective %q, use combined or adversarial", *objectiveArg)
	}

	runVersion := *version
	if runVersion == "" {
		runVersion = uuid.NewString()
	}
	runDir := filepath.Join(checkpoints.ResolveLocation(*checkpointRoot), *name, runVersion)

	rng := rand.New(rand.NewSource(*seed))

	ckpt, err := checkpoints.Load(*pretrainCkpt)
	if err != nil {
		log.Fatalf("failed to load pretrain checkpoint: %v", err)
	}
	gen, err := ckpt.RestoreGenerator(rng)
	if err != nil {
		log.Fatalf("failed to restore generator: %v", err)
	}

	genCfg := gen.Config()
	disc, err := nn.NewDiscriminator(nn.DiscriminatorConfig{
		ImageChannels: 3,
		ImageHeight:   genCfg.ImageHeight,
		ImageWidth:    genCfg.ImageWidth,
		HiddenDim:     *discHidden,
		PaletteDim:    genCfg.PaletteDim,
		DropoutP:      *dropoutP,
	}, rng)
	if err != nil {
		log.Fatalf("failed to build discriminator: %v", err)
	}

	hparams := training.AdversarialHyperParams{
		GeneratorLR:              *genLR,
		DiscriminatorLR:          *discLR,
		Beta1:                    *beta1,
		Beta2:                    *beta2,
		GeneratorWeightDecay:     *genWD,
		DiscriminatorWeightDecay: *discWD,
		Optimizer:                training.OptimizerKind(*optimizer),
		BatchSize:                *batchSize,
		Cadence:                  *cadence,
		NoiseBase:                0.1,
		NoiseDecay:               0.25,
		MSELambda:                *mseLambda,
		DropoutP:                 *dropoutP,
		GradientClipVal:          *clipVal,
	}

	system, err := training.NewAdversarialSystem(gen, disc, objective, hparams, training.NewLogrusSink(log), rng)
	if err != nil {
		log.Fatalf("failed to build adversarial system: %v", err)
	}
	system.SetLogProbes(*logProbes)

	log.WithFields(logrus.Fields{
		"name":      *name,
		"version":   runVersion,
		"dir":       runDir,
		"objective": objective.String(),
		"cadence":   *cadence,
	}).Info("starting adversarial training")

	paletteSize := genCfg.PaletteDim / 3
	trainLoader := mustLoader(log, *datasetSize, genCfg.ImageHeight, genCfg.ImageWidth, paletteSize, *seed, *batchSize, true)
	valLoader := mustLoader(log, *valSize, genCfg.ImageHeight, genCfg.ImageWidth, paletteSize, *seed+1, *batchSize, false)
	testLoader := mustLoader(log, *testSize, genCfg.ImageHeight, genCfg.ImageWidth, paletteSize, *seed+2, *batchSize, false)

	gate, err := checkpoints.NewGate(runDir, training.PhaseVal.Metric("adv_loss_epoch"), checkpoints.KeepAll)
	if err != nil {
		log.Fatalf("failed to create checkpoint gate: %v", err)
	}

	ctx := context.Background()

	for epoch := 0; epoch < *epochs; epoch++ {
		if err := runEpoch(ctx, trainLoader, func(b training.AdversarialBatch) error {
			if _, err := system.TrainingStep(b, training.GeneratorTurn); err != nil {
				return err
			}
			_, err := system.TrainingStep(b, training.DiscriminatorTurn)
			return err
		}); err != nil {
			log.Fatalf("training epoch %d failed: %v", epoch, err)
		}

		if err := runEpoch(ctx, valLoader, func(b training.AdversarialBatch) error {
			_, err := system.ValidationStep(b)
			return err
		}); err != nil {
			log.Fatalf("validation epoch %d failed: %v", epoch, err)
		}

		valAdv, err := system.ValidationEpochEnd()
		if err != nil {
			log.Fatalf("validation epoch %d failed: %v", epoch, err)
		}

		epochCkpt, err := checkpoints.FromAdversarial(gen, disc, system.HyperParams(), checkpoints.TrainingState{
			GlobalStep:   system.GlobalStep(),
			LearningRate: *genLR,
		})
		if err != nil {
			log.Fatalf("failed to build checkpoint: %v", err)
		}
		if _, path, err := gate.Consider(epochCkpt, valAdv, epoch); err != nil {
			log.Fatalf("failed to save checkpoint: %v", err)
		} else {
			log.WithField("path", path).Info("checkpoint saved")
		}
	}

	if err := runEpoch(ctx, testLoader, func(b training.AdversarialBatch) error {
		_, err := system.TestStep(b)
		return err
	}); err != nil {
		log.Fatalf("test pass failed: %v", err)
	}
	testAdv, err := system.TestEpochEnd()
	if err != nil {
		log.Fatalf("test pass failed: %v", err)
	}
	log.WithField("test_adv_loss", testAdv).Info("adversarial training finished")
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
