package nn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-recolor/tensor"
)

// Module is the common surface of trainable network components.
type Module interface {
	// Parameters returns every trainable tensor owned by the module.
	Parameters() []*tensor.Tensor

	// Train puts the module into training mode.
	Train()

	// Eval puts the module into evaluation mode.
	Eval()

	// IsTraining reports whether the module is in training mode.
	IsTraining() bool
}

// Linear is a fully connected layer computing x @ W + b.
type Linear struct {
	Weight *tensor.Tensor // [in, out]
	Bias   *tensor.Tensor // [out]

	inFeatures  int
	outFeatures int
}

// NewLinear creates a fully connected layer with Xavier-initialized weights
// and zero bias. The rng is explicit so weight initialization is reproducible.
func NewLinear(inFeatures, outFeatures int, rng *rand.Rand) (*Linear, error) {
	if inFeatures <= 0 || outFeatures <= 0 {
		return nil, fmt.Errorf("linear layer dimensions must be positive, got in=%d out=%d", inFeatures, outFeatures)
	}

	std := float32(math.Sqrt(2.0 / float64(inFeatures+outFeatures)))
	weight, err := tensor.RandomNormal([]int{inFeatures, outFeatures}, 0, std, rng, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize weight: %v", err)
	}
	weight.SetRequiresGrad(true)

	bias, err := tensor.Zeros([]int{outFeatures}, tensor.Float32, tensor.CPU)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize bias: %v", err)
	}
	bias.SetRequiresGrad(true)

	return &Linear{
		Weight:      weight,
		Bias:        bias,
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
	}, nil
}

// Forward computes x @ W + b for a [batch, in] input.
func (l *Linear) Forward(x *tensor.Tensor) *tensor.Tensor {
	out := tensor.MatMulAutograd(x, l.Weight)
	return tensor.AddAutograd(out, l.Bias)
}

// Parameters returns the weight and bias tensors.
func (l *Linear) Parameters() []*tensor.Tensor {
	return []*tensor.Tensor{l.Weight, l.Bias}
}

// InFeatures returns the input dimension.
func (l *Linear) InFeatures() int { return l.inFeatures }

// OutFeatures returns the output dimension.
func (l *Linear) OutFeatures() int { return l.outFeatures }

// Dropout zeroes a random fraction p of activations during training and
// rescales the survivors by 1/(1-p) so expected magnitude is unchanged.
// During evaluation it is the identity.
type Dropout struct {
	P        float64
	rng      *rand.Rand
	training bool
}

// NewDropout creates a dropout layer with drop probability p.
func NewDropout(p float64, rng *rand.Rand) (*Dropout, error) {
	if p < 0 || p >= 1 {
		return nil, fmt.Errorf("dropout probability must be in [0, 1), got %g", p)
	}
	return &Dropout{P: p, rng: rng, training: true}, nil
}

// Forward applies the dropout mask in training mode.
func (d *Dropout) Forward(x *tensor.Tensor) *tensor.Tensor {
	if !d.training || d.P == 0 {
		return x
	}

	keep := float32(1.0 / (1.0 - d.P))
	maskData := make([]float32, x.NumElems)
	for i := range maskData {
		if d.rng.Float64() >= d.P {
			maskData[i] = keep
		}
	}

	mask, err := tensor.NewTensor(append([]int(nil), x.Shape...), tensor.Float32, x.Device, maskData)
	if err != nil {
		panic(fmt.Sprintf("failed to build dropout mask: %v", err))
	}

	return tensor.MulAutograd(x, mask)
}

// Train enables the dropout mask.
func (d *Dropout) Train() { d.training = true }

// Eval disables the dropout mask.
func (d *Dropout) Eval() { d.training = false }

// IsTraining reports whether the mask is active.
func (d *Dropout) IsTraining() bool { return d.training }
