package training

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-recolor/tensor"
)

// Objective selects the generator's loss composition for the adversarial
// phase.
type Objective int

const (
	// CombinedObjective trains the generator on mse*lambda + adversarial.
	CombinedObjective Objective = iota

	// PureAdversarialObjective trains the generator on the adversarial term
	// alone.
	PureAdversarialObjective
)

// String implements fmt.Stringer.
func (o Objective) String() string {
	switch o {
	case CombinedObjective:
		return "combined"
	case PureAdversarialObjective:
		return "adversarial"
	default:
		return fmt.Sprintf("Objective(%d)", int(o))
	}
}

// AdversarialSystem drives the adversarial phase. Each batch is processed as
// two turns: a generator turn that always applies an update, and a
// discriminator turn that scores the four probes every batch but applies its
// update only on the configured cadence. The generator is expected to arrive
// pretrained; the discriminator starts fresh.
type AdversarialSystem struct {
	hparams   AdversarialHyperParams
	objective Objective

	gen  Generator
	disc Discriminator

	genOpt  Optimizer
	discOpt Optimizer

	noise    *NoiseScheduler
	schedule UpdateSchedule
	sink     MetricSink

	valAgg  *EpochAggregator
	testAgg *EpochAggregator

	// genParams are the parameters the generator optimizer manages: the
	// decoder subset when the generator exposes one, otherwise everything.
	genParams []*tensor.Tensor

	// logProbes additionally reports the mean score of each discriminator
	// probe. The aggregate loss is always reported.
	logProbes bool

	globalStep int64
}

// NewAdversarialSystem wires both networks to their optimizers, the noise
// scheduler and the update cadence.
func NewAdversarialSystem(gen Generator, disc Discriminator, objective Objective,
	hparams AdversarialHyperParams, sink MetricSink, rng *rand.Rand) (*AdversarialSystem, error) {

	if gen == nil || disc == nil {
		return nil, fmt.Errorf("adversarial system requires both networks")
	}
	if objective != CombinedObjective && objective != PureAdversarialObjective {
		return nil, fmt.Errorf("unknown objective %v", objective)
	}
	if sink == nil {
		sink = NewMemorySink()
	}

	genParams := gen.Parameters()
	if dp, ok := gen.(DecoderParameterizer); ok {
		genParams = dp.DecoderParameters()
	}

	genOpt, err := NewOptimizer(genParams, OptimizerConfig{
		Kind:         hparams.Optimizer,
		LearningRate: hparams.GeneratorLR,
		Beta1:        hparams.Beta1,
		Beta2:        hparams.Beta2,
		WeightDecay:  hparams.GeneratorWeightDecay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build generator optimizer: %v", err)
	}

	discOpt, err := NewOptimizer(disc.Parameters(), OptimizerConfig{
		Kind:         hparams.Optimizer,
		LearningRate: hparams.DiscriminatorLR,
		Beta1:        hparams.Beta1,
		Beta2:        hparams.Beta2,
		WeightDecay:  hparams.DiscriminatorWeightDecay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build discriminator optimizer: %v", err)
	}

	noise, err := NewNoiseScheduler(hparams.NoiseBase, hparams.NoiseDecay, rng)
	if err != nil {
		return nil, err
	}

	schedule, err := NewUpdateSchedule(hparams.Cadence)
	if err != nil {
		return nil, err
	}

	return &AdversarialSystem{
		hparams:   hparams,
		objective: objective,
		gen:       gen,
		disc:      disc,
		genOpt:    genOpt,
		discOpt:   discOpt,
		noise:     noise,
		schedule:  schedule,
		sink:      sink,
		valAgg:    NewEpochAggregator(),
		testAgg:   NewEpochAggregator(),
		genParams: genParams,
	}, nil
}

// SetLogProbes enables per-probe mean score reporting.
func (s *AdversarialSystem) SetLogProbes(enabled bool) { s.logProbes = enabled }

// TrainingStep dispatches one turn over the batch. Drivers call it twice per
// batch: first with GeneratorTurn, then with DiscriminatorTurn. Any other
// turn value is an error. Returns the turn's loss.
func (s *AdversarialSystem) TrainingStep(batch AdversarialBatch, turn Turn) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, fmt.Errorf("invalid batch: %v", err)
	}

	switch turn {
	case GeneratorTurn:
		return s.generatorStep(batch)
	case DiscriminatorTurn:
		return s.discriminatorStep(batch)
	default:
		return 0, fmt.Errorf("invalid turn %v: training steps are generator or discriminator turns", turn)
	}
}

// generatorStep updates the generator against the frozen discriminator using
// a closure so the optimizer controls the zero/loss/apply sequence.
func (s *AdversarialSystem) generatorStep(batch AdversarialBatch) (float64, error) {
	s.gen.Train()
	s.disc.Train()

	var mseValue, advValue float64
	closure := func() (float64, error) {
		ab, err := s.gen.Forward(batch.Source, batch.TargetPalette)
		if err != nil {
			return 0, fmt.Errorf("generator forward failed: %v", err)
		}

		recolored, err := ComposeRecolored(batch.Source, ab)
		if err != nil {
			return 0, err
		}

		realProb, err := s.disc.Forward(recolored, batch.TargetPalette)
		if err != nil {
			return 0, fmt.Errorf("discriminator forward failed: %v", err)
		}

		adv, err := AdversarialLoss(realProb)
		if err != nil {
			return 0, err
		}
		advValue, err = adv.Item()
		if err != nil {
			return 0, err
		}

		var mse *tensor.Tensor
		if s.objective == CombinedObjective {
			mse, err = ReconstructionLoss(ab, batch.TargetAB)
			if err != nil {
				return 0, err
			}
			mseValue, err = mse.Item()
			if err != nil {
				return 0, err
			}
		}

		objective, err := GeneratorObjective(mse, adv, s.hparams.MSELambda)
		if err != nil {
			return 0, err
		}

		lossValue, err := objective.Item()
		if err != nil {
			return 0, err
		}

		if err := objective.Backward(); err != nil {
			return 0, fmt.Errorf("backward pass failed: %v", err)
		}
		if s.hparams.GradientClipVal > 0 {
			if _, err := ClipGradNorm(s.genParams, s.hparams.GradientClipVal); err != nil {
				return 0, err
			}
		}

		return lossValue, nil
	}

	lossValue, err := s.genOpt.StepClosure(closure)
	if err != nil {
		return 0, err
	}

	s.sink.LogScalar(PhaseTrain.Metric("generator_loss"), lossValue, s.globalStep)
	s.sink.LogScalar(PhaseTrain.Metric("adv_loss"), advValue, s.globalStep)
	if s.objective == CombinedObjective {
		s.sink.LogScalar(PhaseTrain.Metric("mse_loss"), mseValue, s.globalStep)
	}

	return lossValue, nil
}

// discriminatorStep scores the four probes on noise-perturbed inputs and,
// when the cadence allows, updates the discriminator. The recolored image is
// detached so no gradient reaches the generator. The global step advances
// here, once per batch.
func (s *AdversarialSystem) discriminatorStep(batch AdversarialBatch) (float64, error) {
	s.disc.Train()

	ab, err := s.gen.Forward(batch.Source, batch.TargetPalette)
	if err != nil {
		return 0, fmt.Errorf("generator forward failed: %v", err)
	}

	fake, err := ComposeRecolored(batch.Source, ab.Detach())
	if err != nil {
		return 0, err
	}

	probes, err := s.scoreProbes(fake, batch, s.globalStep)
	if err != nil {
		return 0, err
	}

	loss, err := DiscriminatorLoss(probes)
	if err != nil {
		return 0, err
	}
	lossValue, err := loss.Item()
	if err != nil {
		return 0, err
	}

	if s.schedule.ShouldStepDiscriminator(s.globalStep) {
		s.discOpt.ZeroGrad()
		if err := loss.Backward(); err != nil {
			return 0, fmt.Errorf("backward pass failed: %v", err)
		}
		if s.hparams.GradientClipVal > 0 {
			if _, err := ClipGradNorm(s.disc.Parameters(), s.hparams.GradientClipVal); err != nil {
				return 0, err
			}
		}
		if err := s.discOpt.Step(); err != nil {
			return 0, fmt.Errorf("optimizer step failed: %v", err)
		}
	}

	s.sink.LogScalar(PhaseTrain.Metric("discriminator_loss"), lossValue, s.globalStep)
	if s.logProbes {
		if err := s.logProbeMeans(PhaseTrain, probes); err != nil {
			return 0, err
		}
	}

	s.globalStep++

	return lossValue, nil
}

// scoreProbes runs the four (image, palette) pairings through the
// discriminator with step-scheduled input noise. The mismatched and authentic
// probes pair against the batch's unrelated real image and palette.
func (s *AdversarialSystem) scoreProbes(fake *tensor.Tensor, batch AdversarialBatch, step int64) (DiscriminatorProbes, error) {
	score := func(image, pal *tensor.Tensor) (*tensor.Tensor, error) {
		noisy, err := s.noise.Perturb(image, step)
		if err != nil {
			return nil, err
		}
		return s.disc.Forward(noisy, pal)
	}

	var probes DiscriminatorProbes
	var err error

	if probes.FakeTT, err = score(fake, batch.TargetPalette); err != nil {
		return probes, fmt.Errorf("fake/target probe failed: %v", err)
	}
	if probes.FakeTO, err = score(fake, batch.OriginalPalette); err != nil {
		return probes, fmt.Errorf("fake/original probe failed: %v", err)
	}
	if probes.FakeOT, err = score(batch.Original, batch.TargetPalette); err != nil {
		return probes, fmt.Errorf("original/target probe failed: %v", err)
	}
	if probes.RealOO, err = score(batch.Original, batch.OriginalPalette); err != nil {
		return probes, fmt.Errorf("original/original probe failed: %v", err)
	}

	return probes, nil
}

func (s *AdversarialSystem) logProbeMeans(phase Phase, probes DiscriminatorProbes) error {
	for name, probe := range map[string]*tensor.Tensor{
		"discriminator_tt": probes.FakeTT,
		"discriminator_to": probes.FakeTO,
		"discriminator_ot": probes.FakeOT,
		"discriminator_oo": probes.RealOO,
	} {
		mean, err := tensor.Mean(probe)
		if err != nil {
			return err
		}
		value, err := mean.Item()
		if err != nil {
			return err
		}
		s.sink.LogScalar(phase.Metric(name), value, s.globalStep)
	}
	return nil
}

// ValidationStep mirrors both turns without noise, gradients or weight
// updates, and records the losses for the epoch reduction.
func (s *AdversarialSystem) ValidationStep(batch AdversarialBatch) (float64, error) {
	return s.evalStep(batch, s.valAgg)
}

// ValidationEpochEnd reports the epoch means and returns the mean adversarial
// loss, the metric the phase driver monitors.
func (s *AdversarialSystem) ValidationEpochEnd() (float64, error) {
	return s.epochEnd(PhaseVal, s.valAgg, false)
}

// TestStep evaluates one held-out batch.
func (s *AdversarialSystem) TestStep(batch AdversarialBatch) (float64, error) {
	return s.evalStep(batch, s.testAgg)
}

// TestEpochEnd reports the test means and emits the hyperparameter record.
func (s *AdversarialSystem) TestEpochEnd() (float64, error) {
	return s.epochEnd(PhaseTest, s.testAgg, true)
}

func (s *AdversarialSystem) evalStep(batch AdversarialBatch, agg *EpochAggregator) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, fmt.Errorf("invalid batch: %v", err)
	}

	s.gen.Eval()
	s.disc.Eval()

	ab, err := s.gen.Forward(batch.Source, batch.TargetPalette)
	if err != nil {
		return 0, fmt.Errorf("generator forward failed: %v", err)
	}

	recolored, err := ComposeRecolored(batch.Source, ab)
	if err != nil {
		return 0, err
	}

	realProb, err := s.disc.Forward(recolored, batch.TargetPalette)
	if err != nil {
		return 0, fmt.Errorf("discriminator forward failed: %v", err)
	}

	adv, err := AdversarialLoss(realProb)
	if err != nil {
		return 0, err
	}
	advValue, err := adv.Item()
	if err != nil {
		return 0, err
	}

	mse, err := ReconstructionLoss(ab, batch.TargetAB)
	if err != nil {
		return 0, err
	}
	mseValue, err := mse.Item()
	if err != nil {
		return 0, err
	}

	fake, err := ComposeRecolored(batch.Source, ab.Detach())
	if err != nil {
		return 0, err
	}
	probes := DiscriminatorProbes{}
	if probes.FakeTT, err = s.disc.Forward(fake, batch.TargetPalette); err != nil {
		return 0, err
	}
	if probes.FakeTO, err = s.disc.Forward(fake, batch.OriginalPalette); err != nil {
		return 0, err
	}
	if probes.FakeOT, err = s.disc.Forward(batch.Original, batch.TargetPalette); err != nil {
		return 0, err
	}
	if probes.RealOO, err = s.disc.Forward(batch.Original, batch.OriginalPalette); err != nil {
		return 0, err
	}
	discLoss, err := DiscriminatorLoss(probes)
	if err != nil {
		return 0, err
	}
	discValue, err := discLoss.Item()
	if err != nil {
		return 0, err
	}

	agg.Add("adv_loss", advValue)
	agg.Add("mse_loss", mseValue)
	agg.Add("discriminator_loss", discValue)

	return advValue, nil
}

func (s *AdversarialSystem) epochEnd(phase Phase, agg *EpochAggregator, recordHParams bool) (float64, error) {
	advMean, ok := agg.Mean("adv_loss")
	if !ok {
		return 0, fmt.Errorf("%s epoch ended with no recorded steps", phase)
	}

	for _, name := range []string{"adv_loss", "mse_loss", "discriminator_loss"} {
		if mean, ok := agg.Mean(name); ok {
			s.sink.LogScalar(phase.Metric(name+"_epoch"), mean, s.globalStep)
		}
	}
	agg.Reset()

	if recordHParams {
		s.sink.LogHyperParams(s.hparams, map[string]float64{
			phase.Metric("adv_loss_epoch"): advMean,
		})
	}

	return advMean, nil
}

// Generator exposes the trained generator, e.g. for checkpointing.
func (s *AdversarialSystem) Generator() Generator { return s.gen }

// Discriminator exposes the discriminator network.
func (s *AdversarialSystem) Discriminator() Discriminator { return s.disc }

// HyperParams returns the configuration the system was built with.
func (s *AdversarialSystem) HyperParams() AdversarialHyperParams { return s.hparams }

// GlobalStep returns the number of batches fully processed.
func (s *AdversarialSystem) GlobalStep() int64 { return s.globalStep }
