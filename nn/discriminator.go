package nn

import (
	"fmt"
	"math/rand"

	"github.com/tsawler/go-recolor/tensor"
)

// Discriminator scores (image, palette) pairs. It flattens the image,
// concatenates the flattened palette, and runs the result through a small
// fully connected stack ending in a sigmoid, producing a [B,1] probability
// that the pair is an authentic recoloring.
type Discriminator struct {
	ImageChannels int
	ImageHeight   int
	ImageWidth    int
	HiddenDim     int
	PaletteDim    int

	fc1     *Linear
	fc2     *Linear
	fc3     *Linear
	dropout *Dropout

	training bool
}

// DiscriminatorConfig holds the dimensions of a Discriminator.
type DiscriminatorConfig struct {
	ImageChannels int     `json:"image_channels"`
	ImageHeight   int     `json:"image_height"`
	ImageWidth    int     `json:"image_width"`
	HiddenDim     int     `json:"hidden_dim"`
	PaletteDim    int     `json:"palette_dim"`
	DropoutP      float64 `json:"dropout_p"`
}

// NewDiscriminator builds the critic network.
func NewDiscriminator(cfg DiscriminatorConfig, rng *rand.Rand) (*Discriminator, error) {
	if cfg.ImageChannels <= 0 || cfg.ImageHeight <= 0 || cfg.ImageWidth <= 0 {
		return nil, fmt.Errorf("image dimensions must be positive, got %dx%dx%d",
			cfg.ImageChannels, cfg.ImageHeight, cfg.ImageWidth)
	}
	if cfg.HiddenDim <= 0 {
		return nil, fmt.Errorf("hidden dimension must be positive, got %d", cfg.HiddenDim)
	}
	if cfg.PaletteDim <= 0 {
		return nil, fmt.Errorf("palette dimension must be positive, got %d", cfg.PaletteDim)
	}

	flatImage := cfg.ImageChannels * cfg.ImageHeight * cfg.ImageWidth

	fc1, err := NewLinear(flatImage+cfg.PaletteDim, cfg.HiddenDim, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build fc1: %v", err)
	}
	fc2, err := NewLinear(cfg.HiddenDim, cfg.HiddenDim, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build fc2: %v", err)
	}
	fc3, err := NewLinear(cfg.HiddenDim, 1, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build fc3: %v", err)
	}
	dropout, err := NewDropout(cfg.DropoutP, rng)
	if err != nil {
		return nil, fmt.Errorf("failed to build dropout: %v", err)
	}

	return &Discriminator{
		ImageChannels: cfg.ImageChannels,
		ImageHeight:   cfg.ImageHeight,
		ImageWidth:    cfg.ImageWidth,
		HiddenDim:     cfg.HiddenDim,
		PaletteDim:    cfg.PaletteDim,
		fc1:           fc1,
		fc2:           fc2,
		fc3:           fc3,
		dropout:       dropout,
		training:      true,
	}, nil
}

// Forward maps a [B,C,H,W] image and a [B,paletteDim] flattened palette to a
// [B,1] authenticity probability.
func (d *Discriminator) Forward(image, palette *tensor.Tensor) (*tensor.Tensor, error) {
	if len(image.Shape) != 4 || image.Shape[1] != d.ImageChannels {
		return nil, fmt.Errorf("expected [B,%d,H,W] image, got shape %v", d.ImageChannels, image.Shape)
	}
	if image.Shape[2] != d.ImageHeight || image.Shape[3] != d.ImageWidth {
		return nil, fmt.Errorf("image size %dx%d does not match network size %dx%d",
			image.Shape[2], image.Shape[3], d.ImageHeight, d.ImageWidth)
	}
	if len(palette.Shape) != 2 || palette.Shape[1] != d.PaletteDim {
		return nil, fmt.Errorf("expected [B,%d] palette, got shape %v", d.PaletteDim, palette.Shape)
	}
	if image.Shape[0] != palette.Shape[0] {
		return nil, fmt.Errorf("batch size mismatch: image %d vs palette %d", image.Shape[0], palette.Shape[0])
	}

	batch := image.Shape[0]
	flatImage := d.ImageChannels * d.ImageHeight * d.ImageWidth

	flat := tensor.ReshapeAutograd(image, []int{batch, flatImage})
	joined := tensor.ConcatAutograd(flat, palette, 1)

	h := tensor.ReLUAutograd(d.fc1.Forward(joined))
	h = d.dropout.Forward(h)
	h = tensor.ReLUAutograd(d.fc2.Forward(h))

	return tensor.SigmoidAutograd(d.fc3.Forward(h)), nil
}

// Parameters returns all trainable tensors of the discriminator.
func (d *Discriminator) Parameters() []*tensor.Tensor {
	params := d.fc1.Parameters()
	params = append(params, d.fc2.Parameters()...)
	return append(params, d.fc3.Parameters()...)
}

// Train puts the discriminator into training mode.
func (d *Discriminator) Train() {
	d.training = true
	d.dropout.Train()
}

// Eval puts the discriminator into evaluation mode.
func (d *Discriminator) Eval() {
	d.training = false
	d.dropout.Eval()
}

// IsTraining reports whether the discriminator is in training mode.
func (d *Discriminator) IsTraining() bool { return d.training }

// Config returns the dimensions the discriminator was built with.
func (d *Discriminator) Config() DiscriminatorConfig {
	return DiscriminatorConfig{
		ImageChannels: d.ImageChannels,
		ImageHeight:   d.ImageHeight,
		ImageWidth:    d.ImageWidth,
		HiddenDim:     d.HiddenDim,
		PaletteDim:    d.PaletteDim,
		DropoutP:      d.dropout.P,
	}
}
