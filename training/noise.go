package training

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-recolor/tensor"
)

// NoiseScheduler perturbs discriminator-path inputs with zero-mean Gaussian
// noise whose amplitude decays with the global step. Early in training the
// noise keeps the real and fake distributions overlapping; it fades as the
// generator improves.
type NoiseScheduler struct {
	Base  float64
	Decay float64

	rng *rand.Rand
}

// NewNoiseScheduler builds a scheduler with amplitude base / (step+1)^decay.
func NewNoiseScheduler(base, decay float64, rng *rand.Rand) (*NoiseScheduler, error) {
	if base < 0 {
		return nil, fmt.Errorf("noise base must be non-negative, got %g", base)
	}
	if rng == nil {
		return nil, fmt.Errorf("noise scheduler requires a random source")
	}
	return &NoiseScheduler{Base: base, Decay: decay, rng: rng}, nil
}

// Amplitude returns the noise amplitude at the given global step.
func (n *NoiseScheduler) Amplitude(step int64) float64 {
	return n.Base / math.Pow(float64(step+1), n.Decay)
}

// Perturb returns a copy of t with amplitude-scaled Gaussian noise added.
// The input is never modified and the result carries no gradient history.
func (n *NoiseScheduler) Perturb(t *tensor.Tensor, step int64) (*tensor.Tensor, error) {
	if t == nil {
		return nil, fmt.Errorf("cannot perturb a nil tensor")
	}

	amp := n.Amplitude(step)
	out, err := t.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to copy tensor for perturbation: %v", err)
	}
	if amp == 0 {
		return out, nil
	}

	data, err := out.GetFloat32Data()
	if err != nil {
		return nil, err
	}
	for i := range data {
		data[i] += float32(n.rng.NormFloat64() * amp)
	}

	return out, nil
}
