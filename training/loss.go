package training

import (
	"fmt"

	"github.com/tsawler/go-recolor/tensor"
)

// probEps bounds probabilities away from 0 and 1 before any logarithm so a
// saturated discriminator cannot produce an infinite loss.
const probEps = 1e-7

// safeLog clamps p to [probEps, 1-probEps] and takes the natural log, keeping
// the clamp inside the autograd graph so gradients vanish in the saturated
// region instead of exploding.
func safeLog(p *tensor.Tensor) *tensor.Tensor {
	return tensor.LogAutograd(tensor.ClampAutograd(p, probEps, 1-probEps))
}

// oneMinus computes 1 - p without introducing a new trainable leaf.
func oneMinus(p *tensor.Tensor) (*tensor.Tensor, error) {
	ones, err := tensor.Ones(p.Shape, p.DType, p.Device)
	if err != nil {
		return nil, fmt.Errorf("failed to build ones tensor: %v", err)
	}
	return tensor.SubAutograd(ones, p), nil
}

// ReconstructionLoss is the mean squared error between predicted and target
// chromatic channels.
func ReconstructionLoss(predicted, target *tensor.Tensor) (*tensor.Tensor, error) {
	if predicted == nil || target == nil {
		return nil, fmt.Errorf("reconstruction loss requires both predicted and target tensors")
	}

	diff := tensor.SubAutograd(predicted, target)
	return tensor.MeanAutograd(tensor.MulAutograd(diff, diff)), nil
}

// AdversarialLoss is the generator's non-saturating objective
// -mean(log(realProb)): it is minimized when the discriminator scores the
// recolored output as authentic.
func AdversarialLoss(realProb *tensor.Tensor) (*tensor.Tensor, error) {
	if realProb == nil {
		return nil, fmt.Errorf("adversarial loss requires discriminator output")
	}

	return tensor.ScaleAutograd(tensor.MeanAutograd(safeLog(realProb)), -1), nil
}

// DiscriminatorProbes are the four (image, palette) pairings scored per step.
// The first three are mismatched pairings the discriminator should reject;
// the last is the authentic pairing it should accept.
type DiscriminatorProbes struct {
	// FakeTT scores (recolored image, target palette).
	FakeTT *tensor.Tensor
	// FakeTO scores (recolored image, original palette).
	FakeTO *tensor.Tensor
	// FakeOT scores (original image, target palette).
	FakeOT *tensor.Tensor
	// RealOO scores (original image, original palette).
	RealOO *tensor.Tensor
}

// DiscriminatorLoss combines the four probes into
//
//	-( mean(log(1-FakeTT)) + mean(log(1-FakeTO)) + mean(log(1-FakeOT)) + mean(log(RealOO)) )
//
// so the discriminator is rewarded for rejecting every mismatched pairing and
// accepting the authentic one.
func DiscriminatorLoss(probes DiscriminatorProbes) (*tensor.Tensor, error) {
	if probes.FakeTT == nil || probes.FakeTO == nil || probes.FakeOT == nil || probes.RealOO == nil {
		return nil, fmt.Errorf("discriminator loss requires all four probes")
	}

	var total *tensor.Tensor
	for _, fake := range []*tensor.Tensor{probes.FakeTT, probes.FakeTO, probes.FakeOT} {
		rejected, err := oneMinus(fake)
		if err != nil {
			return nil, err
		}
		term := tensor.MeanAutograd(safeLog(rejected))
		if total == nil {
			total = term
		} else {
			total = tensor.AddAutograd(total, term)
		}
	}

	total = tensor.AddAutograd(total, tensor.MeanAutograd(safeLog(probes.RealOO)))

	return tensor.ScaleAutograd(total, -1), nil
}

// GeneratorObjective combines reconstruction and adversarial terms as
// mse*lambda + adv. A nil mse selects the pure adversarial objective.
func GeneratorObjective(mse, adv *tensor.Tensor, lambda float64) (*tensor.Tensor, error) {
	if adv == nil {
		return nil, fmt.Errorf("generator objective requires an adversarial term")
	}
	if mse == nil {
		return adv, nil
	}

	return tensor.AddAutograd(tensor.ScaleAutograd(mse, lambda), adv), nil
}
