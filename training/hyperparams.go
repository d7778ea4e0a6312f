// Package training implements the orchestration core for palette-conditioned
// recoloring: loss composition, input-noise decay, update cadence, optimizers,
// learning-rate scheduling, metric reporting, and the two phase controllers.
package training

// Defaults shared by both training phases.
const (
	DefaultLearningRate = 2e-4
	DefaultBeta1        = 0.5
	DefaultBeta2        = 0.999
	DefaultEps          = 1e-8
	DefaultBatchSize    = 8
	DefaultImageHeight  = 288
	DefaultImageWidth   = 432
	DefaultCadence      = 4
	DefaultDropoutP     = 0.1
	DefaultMSELambda    = 1.0
	DefaultPatience     = 10
)

// OptimizerKind selects the optimizer family built by the factory.
type OptimizerKind string

const (
	OptimizerAdam  OptimizerKind = "adam"
	OptimizerAdamW OptimizerKind = "adamw"
)

// PretrainHyperParams configures the reconstruction pretraining phase. The
// struct is treated as immutable once a system has been constructed from it;
// runtime state such as the current learning rate lives in the optimizer.
type PretrainHyperParams struct {
	LearningRate float64       `json:"learning_rate"`
	Beta1        float64       `json:"beta_1"`
	Beta2        float64       `json:"beta_2"`
	WeightDecay  float64       `json:"weight_decay"`
	Optimizer    OptimizerKind `json:"optimizer"`

	BatchSize        int     `json:"batch_size"`
	AccumulateGrad   int     `json:"accumulate_grad_batches"`
	GradientClipVal  float64 `json:"gradient_clip_val"`
	SchedulerFactor  float64 `json:"scheduler_factor"`
	SchedulerPatience int    `json:"scheduler_patience"`
}

// DefaultPretrainHyperParams returns the stock pretraining configuration.
func DefaultPretrainHyperParams() PretrainHyperParams {
	return PretrainHyperParams{
		LearningRate:      DefaultLearningRate,
		Beta1:             DefaultBeta1,
		Beta2:             DefaultBeta2,
		WeightDecay:       0,
		Optimizer:         OptimizerAdam,
		BatchSize:         DefaultBatchSize,
		AccumulateGrad:    1,
		GradientClipVal:   0,
		SchedulerFactor:   0.1,
		SchedulerPatience: DefaultPatience,
	}
}

// AdversarialHyperParams configures the adversarial phase. Generator and
// discriminator carry independent optimizer settings.
type AdversarialHyperParams struct {
	GeneratorLR     float64 `json:"generator_lr"`
	DiscriminatorLR float64 `json:"discriminator_lr"`
	Beta1           float64 `json:"beta_1"`
	Beta2           float64 `json:"beta_2"`

	// Weight decay is configured per network.
	GeneratorWeightDecay     float64 `json:"generator_weight_decay"`
	DiscriminatorWeightDecay float64 `json:"discriminator_weight_decay"`

	Optimizer OptimizerKind `json:"optimizer"`

	BatchSize int `json:"batch_size"`

	// Cadence is the k in "the discriminator steps only when step % k == 0".
	Cadence int `json:"cadence"`

	// NoiseBase and NoiseDecay define the input-noise amplitude
	// base / (step+1)^decay applied on the discriminator path.
	NoiseBase  float64 `json:"noise_base"`
	NoiseDecay float64 `json:"noise_decay"`

	// MSELambda scales the reconstruction term when the system runs the
	// combined objective. Ignored by the pure adversarial variant.
	MSELambda float64 `json:"mse_lambda"`

	// DropoutP is the discriminator dropout probability.
	DropoutP float64 `json:"dropout_p"`

	GradientClipVal float64 `json:"gradient_clip_val"`
}

// DefaultAdversarialHyperParams returns the stock adversarial configuration.
func DefaultAdversarialHyperParams() AdversarialHyperParams {
	return AdversarialHyperParams{
		GeneratorLR:              DefaultLearningRate,
		DiscriminatorLR:          DefaultLearningRate,
		Beta1:                    DefaultBeta1,
		Beta2:                    DefaultBeta2,
		GeneratorWeightDecay:     0,
		DiscriminatorWeightDecay: 0,
		Optimizer:                OptimizerAdam,
		BatchSize:       DefaultBatchSize,
		Cadence:         DefaultCadence,
		NoiseBase:       0.1,
		NoiseDecay:      0.25,
		MSELambda:       DefaultMSELambda,
		DropoutP:        DefaultDropoutP,
		GradientClipVal: 0,
	}
}
