// Package data provides the paired-recoloring dataset abstraction and a
// prefetching batch loader. The shipped dataset is synthetic: each example is
// a procedurally shaded image plus its ground-truth recoloring toward a
// different palette, which is enough to exercise every training path without
// real image I/O.
package data

import (
	"math"
	"math/rand"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/tsawler/go-recolor/palette"
)

// Example is one paired recoloring: a source image, its palette, and the
// chromatic channels of the same image recolored toward a target palette.
// Image channels are normalized Lab planes in [-1, 1], laid out [C][H*W].
type Example struct {
	Source        []float32 // 3*H*W: L, a, b planes of the source image
	TargetAB      []float32 // 2*H*W: a, b planes of the recolored image
	SourcePalette palette.Palette
	TargetPalette palette.Palette
}

// Dataset is an indexable collection of examples with a fixed image size.
type Dataset interface {
	Len() int
	Dims() (height, width int)
	Example(i int) (Example, error)
}

// SyntheticConfig sizes the generated dataset.
type SyntheticConfig struct {
	Size        int
	ImageHeight int
	ImageWidth  int
	PaletteSize int
	Seed        int64
}

// Synthetic is a deterministic procedurally generated dataset. Example i is
// always the same for a given config, so loaders can re-read freely.
type Synthetic struct {
	cfg SyntheticConfig
}

// NewSynthetic validates the config and builds the dataset.
func NewSynthetic(cfg SyntheticConfig) (*Synthetic, error) {
	if cfg.Size <= 0 {
		return nil, errors.Errorf("dataset size must be positive, got %d", cfg.Size)
	}
	if cfg.ImageHeight <= 0 || cfg.ImageWidth <= 0 {
		return nil, errors.Errorf("image dimensions must be positive, got %dx%d", cfg.ImageHeight, cfg.ImageWidth)
	}
	if cfg.PaletteSize <= 0 {
		return nil, errors.Errorf("palette size must be positive, got %d", cfg.PaletteSize)
	}
	return &Synthetic{cfg: cfg}, nil
}

// Len implements Dataset.
func (s *Synthetic) Len() int { return s.cfg.Size }

// Dims implements Dataset.
func (s *Synthetic) Dims() (int, int) { return s.cfg.ImageHeight, s.cfg.ImageWidth }

// Example implements Dataset. The source image blends the source palette's
// swatches across smooth spatial gradients; the target channels blend the
// target palette's swatches across the same gradients, so the pair is a true
// recoloring of identical content.
func (s *Synthetic) Example(i int) (Example, error) {
	if i < 0 || i >= s.cfg.Size {
		return Example{}, errors.Errorf("example index %d out of range [0, %d)", i, s.cfg.Size)
	}

	rng := rand.New(rand.NewSource(s.cfg.Seed + int64(i)))

	srcPal := randomPalette(rng, s.cfg.PaletteSize)
	tgtPal := randomPalette(rng, s.cfg.PaletteSize)
	srcPal.SortByLightness()
	tgtPal.SortByLightness()

	h, w := s.cfg.ImageHeight, s.cfg.ImageWidth
	pixels := h * w

	// Per-example gradient orientation, shared by source and target so the
	// spatial structure is identical in both.
	phaseX := rng.Float64() * 2 * math.Pi
	phaseY := rng.Float64() * 2 * math.Pi

	source := make([]float32, 3*pixels)
	targetAB := make([]float32, 2*pixels)

	var norm palette.Normalizer
	n := len(srcPal)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			idx := y*w + x

			// Blend weight in [0, 1) selecting between adjacent swatches.
			t := 0.5 + 0.25*math.Sin(2*math.Pi*float64(x)/float64(w)+phaseX) +
				0.25*math.Cos(2*math.Pi*float64(y)/float64(h)+phaseY)
			t = math.Min(0.999, math.Max(0, t))

			pos := t * float64(n-1)
			lo := int(pos)
			frac := pos - float64(lo)
			hi := lo + 1
			if hi >= n {
				hi = n - 1
			}

			sl, sa, sb := blend(norm, srcPal[lo], srcPal[hi], frac)
			source[idx] = sl
			source[pixels+idx] = sa
			source[2*pixels+idx] = sb

			_, ta, tb := blend(norm, tgtPal[lo], tgtPal[hi], frac)
			targetAB[idx] = ta
			targetAB[pixels+idx] = tb
		}
	}

	return Example{
		Source:        source,
		TargetAB:      targetAB,
		SourcePalette: srcPal,
		TargetPalette: tgtPal,
	}, nil
}

// randomPalette draws n colors in HSV with controlled saturation and value,
// then converts them to Lab swatches.
func randomPalette(rng *rand.Rand, n int) palette.Palette {
	colors := make([]colorful.Color, n)
	for i := range colors {
		colors[i] = colorful.Hsv(
			rng.Float64()*360,
			0.4+0.5*rng.Float64(),
			0.35+0.6*rng.Float64(),
		)
	}
	return palette.FromColors(colors)
}

// blend interpolates two swatches in normalized space.
func blend(norm palette.Normalizer, a, b palette.Swatch, t float64) (float32, float32, float32) {
	al, aa, ab := norm.Normalize(a)
	bl, ba, bb := norm.Normalize(b)
	f := float32(t)
	return al + (bl-al)*f, aa + (ba-aa)*f, ab + (bb-ab)*f
}
