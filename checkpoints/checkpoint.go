// Package checkpoints persists training runs as JSON checkpoints, applies
// metric-gated retention, and exports generator weights to ONNX.
package checkpoints

import (
	"encoding/json"
	"math/rand"
	"os"
	"time"

	"github.com/pkg/errors"

	"github.com/tsawler/go-recolor/nn"
	"github.com/tsawler/go-recolor/tensor"
)

// Phase names which controller produced a checkpoint.
type Phase string

const (
	PhasePretrain    Phase = "pretrain"
	PhaseAdversarial Phase = "adversarial"
)

// Checkpoint is the complete persisted state of a training run: network
// configurations and weights, the phase hyperparameters, and progress
// metadata. Discriminator fields are only present for adversarial runs.
type Checkpoint struct {
	Phase Phase `json:"phase"`

	GeneratorConfig  nn.PaletteNetConfig `json:"generator_config"`
	GeneratorWeights []WeightTensor      `json:"generator_weights"`

	DiscriminatorConfig  *nn.DiscriminatorConfig `json:"discriminator_config,omitempty"`
	DiscriminatorWeights []WeightTensor          `json:"discriminator_weights,omitempty"`

	// HyperParams is the phase's hyperparameter struct, serialized as-is so
	// a reload can rebuild the exact configuration.
	HyperParams json.RawMessage `json:"hyper_params"`

	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// WeightTensor is one parameter tensor with its values.
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float32 `json:"data"`
}

// TrainingState captures where the run was when the checkpoint was taken.
type TrainingState struct {
	Epoch          int     `json:"epoch"`
	GlobalStep     int64   `json:"global_step"`
	LearningRate   float64 `json:"learning_rate"`
	MonitoredName  string  `json:"monitored_name"`
	MonitoredValue float64 `json:"monitored_value"`
}

// CheckpointMetadata describes the artifact itself.
type CheckpointMetadata struct {
	Framework string    `json:"framework"`
	Version   string    `json:"version"`
	CreatedAt time.Time `json:"created_at"`

	// ExampleInputShapes records the (image, palette) input shapes the
	// generator was trained with, for reload sanity checks.
	ExampleInputShapes [][]int `json:"example_input_shapes,omitempty"`
}

// GeneratorSource is what a checkpoint needs from a generator: its
// dimensions and its parameters in canonical order.
type GeneratorSource interface {
	Config() nn.PaletteNetConfig
	Parameters() []*tensor.Tensor
}

// DiscriminatorSource is the discriminator counterpart of GeneratorSource.
type DiscriminatorSource interface {
	Config() nn.DiscriminatorConfig
	Parameters() []*tensor.Tensor
}

// Canonical parameter names, index-aligned with Parameters() order.
var generatorParamNames = []string{
	"encoder.weight", "encoder.bias",
	"decoder.fc1.weight", "decoder.fc1.bias",
	"decoder.fc2.weight", "decoder.fc2.bias",
}

var discriminatorParamNames = []string{
	"fc1.weight", "fc1.bias",
	"fc2.weight", "fc2.bias",
	"fc3.weight", "fc3.bias",
}

// FromPretrain captures a pretraining checkpoint.
func FromPretrain(gen GeneratorSource, hyperParams interface{}, state TrainingState) (*Checkpoint, error) {
	weights, err := snapshot(gen.Parameters(), generatorParamNames)
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot generator")
	}

	raw, err := json.Marshal(hyperParams)
	if err != nil {
		return nil, errors.Wrap(err, "failed to serialize hyperparameters")
	}

	cfg := gen.Config()
	return &Checkpoint{
		Phase:            PhasePretrain,
		GeneratorConfig:  cfg,
		GeneratorWeights: weights,
		HyperParams:      raw,
		TrainingState:    state,
		Metadata:         newMetadata(cfg),
	}, nil
}

// FromAdversarial captures an adversarial checkpoint with both networks.
func FromAdversarial(gen GeneratorSource, disc DiscriminatorSource, hyperParams interface{}, state TrainingState) (*Checkpoint, error) {
	ckpt, err := FromPretrain(gen, hyperParams, state)
	if err != nil {
		return nil, err
	}
	ckpt.Phase = PhaseAdversarial

	discWeights, err := snapshot(disc.Parameters(), discriminatorParamNames)
	if err != nil {
		return nil, errors.Wrap(err, "failed to snapshot discriminator")
	}

	discCfg := disc.Config()
	ckpt.DiscriminatorConfig = &discCfg
	ckpt.DiscriminatorWeights = discWeights

	return ckpt, nil
}

func newMetadata(cfg nn.PaletteNetConfig) CheckpointMetadata {
	return CheckpointMetadata{
		Framework: "go-recolor",
		Version:   "1.0",
		CreatedAt: time.Now().UTC(),
		ExampleInputShapes: [][]int{
			{1, 3, cfg.ImageHeight, cfg.ImageWidth},
			{1, cfg.PaletteDim},
		},
	}
}

func snapshot(params []*tensor.Tensor, names []string) ([]WeightTensor, error) {
	if len(params) != len(names) {
		return nil, errors.Errorf("expected %d parameters, got %d", len(names), len(params))
	}

	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		data, err := p.GetFloat32Data()
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read parameter %s", names[i])
		}
		cp := make([]float32, len(data))
		copy(cp, data)
		weights[i] = WeightTensor{
			Name:  names[i],
			Shape: append([]int(nil), p.Shape...),
			Data:  cp,
		}
	}

	return weights, nil
}

// RestoreGenerator rebuilds a PaletteNet from the checkpoint's configuration
// and loads its weights. This is the extraction path the adversarial phase
// uses on pretrain checkpoints: only generator state is read, anything else
// in the checkpoint is ignored.
func (c *Checkpoint) RestoreGenerator(rng *rand.Rand) (*nn.PaletteNet, error) {
	gen, err := nn.NewPaletteNet(c.GeneratorConfig, rng)
	if err != nil {
		return nil, errors.Wrap(err, "failed to rebuild generator")
	}

	if err := load(gen.Parameters(), c.GeneratorWeights, generatorParamNames); err != nil {
		return nil, errors.Wrap(err, "failed to load generator weights")
	}

	return gen, nil
}

// RestoreDiscriminator rebuilds the discriminator from an adversarial
// checkpoint.
func (c *Checkpoint) RestoreDiscriminator(rng *rand.Rand) (*nn.Discriminator, error) {
	if c.DiscriminatorConfig == nil {
		return nil, errors.Errorf("checkpoint from phase %q has no discriminator", c.Phase)
	}

	disc, err := nn.NewDiscriminator(*c.DiscriminatorConfig, rng)
	if err != nil {
		return nil, errors.Wrap(err, "failed to rebuild discriminator")
	}

	if err := load(disc.Parameters(), c.DiscriminatorWeights, discriminatorParamNames); err != nil {
		return nil, errors.Wrap(err, "failed to load discriminator weights")
	}

	return disc, nil
}

func load(params []*tensor.Tensor, weights []WeightTensor, names []string) error {
	if len(weights) != len(names) {
		return errors.Errorf("expected %d weight tensors, got %d", len(names), len(weights))
	}

	byName := make(map[string]WeightTensor, len(weights))
	for _, w := range weights {
		byName[w.Name] = w
	}

	for i, p := range params {
		w, ok := byName[names[i]]
		if !ok {
			return errors.Errorf("checkpoint is missing tensor %q", names[i])
		}

		data, err := p.GetFloat32Data()
		if err != nil {
			return errors.Wrapf(err, "failed to access parameter %s", names[i])
		}
		if len(w.Data) != len(data) {
			return errors.Errorf("tensor %q has %d values, parameter needs %d", names[i], len(w.Data), len(data))
		}
		copy(data, w.Data)
	}

	return nil
}

// Save writes the checkpoint to path as JSON.
func Save(ckpt *Checkpoint, path string) error {
	raw, err := json.MarshalIndent(ckpt, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to serialize checkpoint")
	}

	if err := os.WriteFile(path, raw, 0644); err != nil {
		return errors.Wrapf(err, "failed to write checkpoint to %s", path)
	}

	return nil
}

// Load reads a checkpoint from path.
func Load(path string) (*Checkpoint, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read checkpoint from %s", path)
	}

	var ckpt Checkpoint
	if err := json.Unmarshal(raw, &ckpt); err != nil {
		return nil, errors.Wrapf(err, "failed to parse checkpoint %s", path)
	}

	return &ckpt, nil
}
