package training

import (
	"fmt"

	"github.com/tsawler/go-recolor/tensor"
)

// OptimizerConfig fully describes one optimizer instance. Each network gets
// its own config so the generator and discriminator can run with independent
// rates and decay.
type OptimizerConfig struct {
	Kind         OptimizerKind `json:"kind"`
	LearningRate float64       `json:"learning_rate"`
	Beta1        float64       `json:"beta_1"`
	Beta2        float64       `json:"beta_2"`
	Eps          float64       `json:"eps"`
	WeightDecay  float64       `json:"weight_decay"`
}

// NewOptimizer constructs the optimizer named by cfg.Kind. An unknown kind is
// an error at construction time, never a silent default.
func NewOptimizer(parameters []*tensor.Tensor, cfg OptimizerConfig) (Optimizer, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("optimizer requires at least one parameter")
	}
	if cfg.LearningRate <= 0 {
		return nil, fmt.Errorf("learning rate must be positive, got %g", cfg.LearningRate)
	}

	eps := cfg.Eps
	if eps == 0 {
		eps = DefaultEps
	}

	switch cfg.Kind {
	case OptimizerAdam:
		return NewAdam(parameters, cfg.LearningRate, cfg.Beta1, cfg.Beta2, eps, cfg.WeightDecay), nil
	case OptimizerAdamW:
		return NewAdamW(parameters, cfg.LearningRate, cfg.Beta1, cfg.Beta2, eps, cfg.WeightDecay), nil
	default:
		return nil, fmt.Errorf("unknown optimizer kind %q", cfg.Kind)
	}
}
