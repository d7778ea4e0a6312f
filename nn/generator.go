package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-recolor/tensor"
)

// PaletteNet is the recoloring generator. It encodes a source image into a
// compact feature vector, conditions that vector on a flattened target
// palette, and decodes the pair into new chromatic (ab) channels. The
// luminance channel of the source is never produced by the network; callers
// reattach it downstream.
//
// Layout:
//
//	encoder: flatten([B,3,H,W]) -> Linear -> ReLU -> [B, hidden]
//	decoder: concat(features, palette) -> Linear -> ReLU -> Linear -> Tanh -> [B,2,H,W]
//
// The Tanh keeps outputs in [-1, 1], matching normalized ab channels.
type PaletteNet struct {
	ImageHeight int
	ImageWidth  int
	HiddenDim   int
	PaletteDim  int

	encoder *Linear
	dec1    *Linear
	dec2    *Linear

	training bool
}

// PaletteNetConfig holds the dimensions of a PaletteNet.
type PaletteNetConfig struct {
	ImageHeight int `json:"image_height"`
	ImageWidth  int `json:"image_width"`
	HiddenDim   int `json:"hidden_dim"`
	PaletteDim  int `json:"palette_dim"`
}

// NewPaletteNet builds the generator. paletteDim is the flattened palette
// length, i.e. number of swatches times three Lab components.
func NewPaletteNet(cfg PaletteNetConfig, rng *rand.Rand) (*PaletteNet, error) {
	if cfg.ImageHeight <= 0 || cfg.ImageWidth <= 0 {
		return nil, fmt.Errorf("image dimensions must be positive, got %dx%d", cfg.ImageHeight, cfg.ImageWidth)
	}
	if cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("hidden dimension must be positive, got %d", cfg.HiddenDim)
	}
	if cfg.PaletteDim <= 0 || cfg.PaletteDim%3 != 0 {
		return nil, fmt.Errorf("palette dimension must be a positive multiple of 3, got %d", cfg.PaletteDim)
	}

	pixels := cfg.ImageHeight * cfg.ImageWidth

	encoder, err := NewLinear(3*pixels, cfg.HiddenDim, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build encoder: %v", err)
	}
	dec1, err := NewLinear(cfg.HiddenDim+cfg.PaletteDim, cfg.HiddenDim, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder stage 1: %v", err)
	}
	dec2, err := NewLinear(cfg.HiddenDim, 2*pixels, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build decoder stage 2: %v", err)
	}

	return &PaletteNet{
		ImageHeight: cfg.ImageHeight,
		ImageWidth:  cfg.ImageWidth,
		HiddenDim:   cfg.HiddenDim,
		PaletteDim:  cfg.PaletteDim,
		encoder:     encoder,
		dec1:        dec1,
		dec2:        dec2,
		training:    true,
	}, nil
}

// Forward maps a [B,3,H,W] source image and a [B,paletteDim] flattened
// palette to [B,2,H,W] predicted ab channels.
func (g *PaletteNet) Forward(image, palette *tensor.Tensor) (*tensor.Tensor, error) {
	if len(image.Shape) != 4 || image.Shape[1] != 3 {
		return nil, fmt.Errorf("expected [B,3,H,W] image, got shape %v", image.Shape)
	}
	if image.Shape[2] != g.ImageHeight || image.Shape[3] != g.ImageWidth {
		return nil, fmt.Errorf("image size %dx%d does not match network size %dx%d",
			image.Shape[2], image.Shape[3], g.ImageHeight, g.ImageWidth)
	}
	if len(palette.Shape) != 2 || palette.Shape[1] != g.PaletteDim {
		return nil, fmt.Errorf("expected [B,%d] palette, got shape %v", g.PaletteDim, palette.Shape)
	}
	if image.Shape[0] != palette.Shape[0] {
		return nil, fmt.Errorf("batch size mismatch: image %d vs palette %d", image.Shape[0], palette.Shape[0])
	}

	batch := image.Shape[0]
	pixels := g.ImageHeight * g.ImageWidth

	flat := tensor.ReshapeAutograd(image, []int{batch, 3 * pixels})
	features := tensor.ReLUAutograd(g.encoder.Forward(flat))

	conditioned := tensor.ConcatAutograd(features, palette, 1)
	hidden := tensor.ReLUAutograd(g.dec1.Forward(conditioned))
	ab := tensor.TanhAutograd(g.dec2.Forward(hidden))

	return tensor.ReshapeAutograd(ab, []int{batch, 2, g.ImageHeight, g.ImageWidth}), nil
}

// Parameters returns all trainable tensors of the generator.
func (g *PaletteNet) Parameters() []*tensor.Tensor {
	params := g.EncoderParameters()
	return append(params, g.DecoderParameters()...)
}

// EncoderParameters returns the trainable tensors of the encoder stage.
func (g *PaletteNet) EncoderParameters() []*tensor.Tensor {
	return g.encoder.Parameters()
}

// DecoderParameters returns the trainable tensors of the decoder stages.
func (g *PaletteNet) DecoderParameters() []*tensor.Tensor {
	params := g.dec1.Parameters()
	return append(params, g.dec2.Parameters()...)
}

// Train puts the generator into training mode.
func (g *PaletteNet) Train() { g.training = true }

// Eval puts the generator into evaluation mode.
func (g *PaletteNet) Eval() { g.training = false }

// IsTraining reports whether the generator is in training mode.
func (g *PaletteNet) IsTraining() bool { return g.training }

// Config returns the dimensions the generator was built with.
func (g *PaletteNet) Config() PaletteNetConfig {
	return PaletteNetConfig{
		ImageHeight: g.ImageHeight,
		ImageWidth:  g.ImageWidth,
		HiddenDim:   g.HiddenDim,
		PaletteDim:  g.PaletteDim,
	}
}
