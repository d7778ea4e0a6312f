package training

import (
	"fmt"

	"github.com/tsawler/go-recolor/tensor"
)

// Generator is the network surface the phase controllers drive. Forward maps
// a [B,3,H,W] source image and a [B,P] flattened palette to [B,2,H,W]
// predicted chromatic channels.
type Generator interface {
	Forward(image, palette *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
}

// DecoderParameterizer is implemented by generators whose conditioning
// decoder can be trained separately from the feature encoder. The adversarial
// phase updates only these parameters when available.
type DecoderParameterizer interface {
	DecoderParameters() []*tensor.Tensor
}

// Discriminator scores a (image, palette) pair, returning a [B,1] probability
// that the pair is an authentic recoloring.
type Discriminator interface {
	Forward(image, palette *tensor.Tensor) (*tensor.Tensor, error)
	Parameters() []*tensor.Tensor
	Train()
	Eval()
}

// PretrainBatch is one reconstruction training example group.
type PretrainBatch struct {
	// Source is the [B,3,H,W] original image in normalized Lab.
	Source *tensor.Tensor
	// TargetAB is the [B,2,H,W] ground-truth chromatic channels of the
	// recolored version.
	TargetAB *tensor.Tensor
	// TargetPalette is the [B,P] flattened palette conditioning the
	// recoloring.
	TargetPalette *tensor.Tensor
}

// Validate checks shapes and batch agreement.
func (b PretrainBatch) Validate() error {
	if b.Source == nil || b.TargetAB == nil || b.TargetPalette == nil {
		return fmt.Errorf("pretrain batch has nil tensors")
	}
	if len(b.Source.Shape) != 4 || b.Source.Shape[1] != 3 {
		return fmt.Errorf("expected [B,3,H,W] source, got shape %v", b.Source.Shape)
	}
	if len(b.TargetAB.Shape) != 4 || b.TargetAB.Shape[1] != 2 {
		return fmt.Errorf("expected [B,2,H,W] target, got shape %v", b.TargetAB.Shape)
	}
	if len(b.TargetPalette.Shape) != 2 {
		return fmt.Errorf("expected [B,P] palette, got shape %v", b.TargetPalette.Shape)
	}
	n := b.Source.Shape[0]
	if b.TargetAB.Shape[0] != n || b.TargetPalette.Shape[0] != n {
		return fmt.Errorf("batch sizes disagree: source %d, target %d, palette %d",
			n, b.TargetAB.Shape[0], b.TargetPalette.Shape[0])
	}
	return nil
}

// AdversarialBatch extends the pretrain batch with the source image's own
// palette and an unrelated real (image, palette) pair. The unrelated pair
// supplies the discriminator's mismatched and authentic probes; it must not
// be the recoloring pair itself.
type AdversarialBatch struct {
	Source        *tensor.Tensor // [B,3,H,W] image being recolored
	SourcePalette *tensor.Tensor // [B,P] palette of the source image
	TargetAB      *tensor.Tensor // [B,2,H,W] ground-truth recolored chroma
	TargetPalette *tensor.Tensor // [B,P] palette conditioning the recoloring

	Original        *tensor.Tensor // [B,3,H,W] unrelated real image
	OriginalPalette *tensor.Tensor // [B,P] palette of the unrelated image
}

// Validate checks shapes and batch agreement.
func (b AdversarialBatch) Validate() error {
	pre := PretrainBatch{Source: b.Source, TargetAB: b.TargetAB, TargetPalette: b.TargetPalette}
	if err := pre.Validate(); err != nil {
		return err
	}
	if b.SourcePalette == nil {
		return fmt.Errorf("adversarial batch has nil source palette")
	}
	if len(b.SourcePalette.Shape) != 2 || !sameShape(b.SourcePalette.Shape, b.TargetPalette.Shape) {
		return fmt.Errorf("source palette shape %v does not match target palette shape %v",
			b.SourcePalette.Shape, b.TargetPalette.Shape)
	}
	if b.Original == nil || b.OriginalPalette == nil {
		return fmt.Errorf("adversarial batch has nil unrelated pair")
	}
	if !sameShape(b.Original.Shape, b.Source.Shape) {
		return fmt.Errorf("unrelated image shape %v does not match source shape %v",
			b.Original.Shape, b.Source.Shape)
	}
	if !sameShape(b.OriginalPalette.Shape, b.TargetPalette.Shape) {
		return fmt.Errorf("unrelated palette shape %v does not match target palette shape %v",
			b.OriginalPalette.Shape, b.TargetPalette.Shape)
	}
	return nil
}

// Pretrain projects the batch down to the fields the pretrain phase uses.
func (b AdversarialBatch) Pretrain() PretrainBatch {
	return PretrainBatch{Source: b.Source, TargetAB: b.TargetAB, TargetPalette: b.TargetPalette}
}

func sameShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ComposeRecolored reattaches the source luminance channel to predicted
// chromatic channels, producing the full [B,3,H,W] recolored image the
// discriminator scores. Gradient history of ab is preserved.
func ComposeRecolored(source, ab *tensor.Tensor) (*tensor.Tensor, error) {
	if source == nil || ab == nil {
		return nil, fmt.Errorf("compose requires both source and chroma tensors")
	}
	if len(source.Shape) != 4 || len(ab.Shape) != 4 {
		return nil, fmt.Errorf("compose requires 4D tensors, got %v and %v", source.Shape, ab.Shape)
	}

	luminance, err := tensor.Narrow(source, 1, 0, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to extract luminance: %v", err)
	}

	return tensor.ConcatAutograd(luminance, ab, 1), nil
}
