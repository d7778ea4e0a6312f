package training

import (
	"fmt"

	"github.com/tsawler/go-recolor/tensor"
)

// PretrainSystem drives the reconstruction phase: the generator alone is
// trained to reproduce ground-truth recolorings under mean squared error,
// giving the adversarial phase a sensible starting point.
type PretrainSystem struct {
	hparams PretrainHyperParams

	gen       Generator
	optimizer Optimizer
	scheduler *ReduceLROnPlateau
	sink      MetricSink

	valAgg  *EpochAggregator
	testAgg *EpochAggregator

	globalStep int64
	accumCount int
}

// NewPretrainSystem wires the generator to its optimizer, plateau scheduler
// and metric sink.
func NewPretrainSystem(gen Generator, hparams PretrainHyperParams, sink MetricSink) (*PretrainSystem, error) {
	if gen == nil {
		return nil, fmt.Errorf("pretrain system requires a generator")
	}
	if sink == nil {
		sink = NewMemorySink()
	}

	optimizer, err := NewOptimizer(gen.Parameters(), OptimizerConfig{
		Kind:         hparams.Optimizer,
		LearningRate: hparams.LearningRate,
		Beta1:        hparams.Beta1,
		Beta2:        hparams.Beta2,
		WeightDecay:  hparams.WeightDecay,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build generator optimizer: %v", err)
	}

	scheduler, err := NewReduceLROnPlateau(hparams.SchedulerFactor, hparams.SchedulerPatience, 1e-4, "min")
	if err != nil {
		return nil, fmt.Errorf("failed to build plateau scheduler: %v", err)
	}

	return &PretrainSystem{
		hparams:   hparams,
		gen:       gen,
		optimizer: optimizer,
		scheduler: scheduler,
		sink:      sink,
		valAgg:    NewEpochAggregator(),
		testAgg:   NewEpochAggregator(),
	}, nil
}

// TrainingStep runs one batch through the generator, accumulates gradients
// across the configured window, and applies the optimizer at window
// boundaries. Returns the unscaled batch loss.
func (s *PretrainSystem) TrainingStep(batch PretrainBatch) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, fmt.Errorf("invalid batch: %v", err)
	}

	s.gen.Train()

	window := s.hparams.AccumulateGrad
	if window < 1 {
		window = 1
	}

	if s.accumCount == 0 {
		s.optimizer.ZeroGrad()
	}

	predicted, err := s.gen.Forward(batch.Source, batch.TargetPalette)
	if err != nil {
		return 0, fmt.Errorf("generator forward failed: %v", err)
	}

	loss, err := ReconstructionLoss(predicted, batch.TargetAB)
	if err != nil {
		return 0, err
	}

	lossValue, err := loss.Item()
	if err != nil {
		return 0, fmt.Errorf("failed to read loss value: %v", err)
	}

	// Scale by the window so accumulated gradients average instead of sum.
	scaled := tensor.ScaleAutograd(loss, 1.0/float64(window))
	if err := scaled.Backward(); err != nil {
		return 0, fmt.Errorf("backward pass failed: %v", err)
	}

	s.accumCount++
	if s.accumCount >= window {
		if s.hparams.GradientClipVal > 0 {
			if _, err := ClipGradNorm(s.gen.Parameters(), s.hparams.GradientClipVal); err != nil {
				return 0, err
			}
		}
		if err := s.optimizer.Step(); err != nil {
			return 0, fmt.Errorf("optimizer step failed: %v", err)
		}
		s.accumCount = 0
	}

	s.sink.LogScalar(PhaseTrain.Metric("loss"), lossValue, s.globalStep)
	s.globalStep++

	return lossValue, nil
}

// ValidationStep evaluates one batch without touching gradients or weights.
func (s *PretrainSystem) ValidationStep(batch PretrainBatch) (float64, error) {
	lossValue, err := s.evalLoss(batch)
	if err != nil {
		return 0, err
	}
	s.valAgg.Add("loss", lossValue)
	return lossValue, nil
}

// ValidationEpochEnd reduces the epoch's validation losses to their mean,
// reports it, and feeds the plateau scheduler.
func (s *PretrainSystem) ValidationEpochEnd() (float64, error) {
	mean, ok := s.valAgg.Mean("loss")
	if !ok {
		return 0, fmt.Errorf("validation epoch ended with no recorded steps")
	}
	s.valAgg.Reset()

	s.sink.LogScalar(PhaseVal.Metric("loss_epoch"), mean, s.globalStep)

	newLR := s.scheduler.Step(mean, s.optimizer.GetLR())
	s.optimizer.SetLR(newLR)

	return mean, nil
}

// TestStep evaluates one held-out batch.
func (s *PretrainSystem) TestStep(batch PretrainBatch) (float64, error) {
	lossValue, err := s.evalLoss(batch)
	if err != nil {
		return 0, err
	}
	s.testAgg.Add("loss", lossValue)
	return lossValue, nil
}

// TestEpochEnd reduces the test losses to their mean, reports it, and emits
// the hyperparameter record tying this run's configuration to its outcome.
func (s *PretrainSystem) TestEpochEnd() (float64, error) {
	mean, ok := s.testAgg.Mean("loss")
	if !ok {
		return 0, fmt.Errorf("test epoch ended with no recorded steps")
	}
	s.testAgg.Reset()

	metric := PhaseTest.Metric("loss_epoch")
	s.sink.LogScalar(metric, mean, s.globalStep)
	s.sink.LogHyperParams(s.hparams, map[string]float64{metric: mean})

	return mean, nil
}

func (s *PretrainSystem) evalLoss(batch PretrainBatch) (float64, error) {
	if err := batch.Validate(); err != nil {
		return 0, fmt.Errorf("invalid batch: %v", err)
	}

	s.gen.Eval()

	predicted, err := s.gen.Forward(batch.Source, batch.TargetPalette)
	if err != nil {
		return 0, fmt.Errorf("generator forward failed: %v", err)
	}

	loss, err := ReconstructionLoss(predicted, batch.TargetAB)
	if err != nil {
		return 0, err
	}

	return loss.Item()
}

// Generator exposes the trained network, e.g. for checkpointing.
func (s *PretrainSystem) Generator() Generator { return s.gen }

// HyperParams returns the configuration the system was built with.
func (s *PretrainSystem) HyperParams() PretrainHyperParams { return s.hparams }

// LearningRate returns the optimizer's current learning rate.
func (s *PretrainSystem) LearningRate() float64 { return s.optimizer.GetLR() }

// GlobalStep returns the number of training steps taken.
func (s *PretrainSystem) GlobalStep() int64 { return s.globalStep }
