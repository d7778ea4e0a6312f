// Package palette represents target color palettes as Lab swatches and
// converts them to the normalized tensor form the networks consume.
package palette

import (
	"fmt"
	"math"
	"sort"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tsawler/go-recolor/tensor"
)

// Swatch is a single palette entry in CIE Lab space. L is in [0, 100],
// A and B are roughly in [-128, 127].
type Swatch struct {
	L float64 `json:"l"`
	A float64 `json:"a"`
	B float64 `json:"b"`
}

// Palette is an ordered list of swatches conditioning one recoloring.
type Palette []Swatch

// FromColors converts sRGB colors to a Lab palette.
func FromColors(colors []colorful.Color) Palette {
	p := make(Palette, len(colors))
	for i, c := range colors {
		l, a, b := c.Lab()
		// go-colorful works in [0,1] Lab units; scale to conventional ranges.
		p[i] = Swatch{L: l * 100, A: a * 100, B: b * 100}
	}
	return p
}

// Color converts swatch i back to an sRGB color, clamped to gamut.
func (p Palette) Color(i int) colorful.Color {
	s := p[i]
	return colorful.Lab(s.L/100, s.A/100, s.B/100).Clamped()
}

// SortByLightness orders swatches darkest first. Conditioning is order
// sensitive, so palettes are canonicalized before flattening.
func (p Palette) SortByLightness() {
	sort.Slice(p, func(i, j int) bool { return p[i].L < p[j].L })
}

// Normalizer maps Lab components to and from the [-1, 1] range the
// networks operate in.
type Normalizer struct{}

// Normalize maps one swatch to three values in [-1, 1].
func (Normalizer) Normalize(s Swatch) (float32, float32, float32) {
	l := s.L/50.0 - 1.0
	a := s.A / 128.0
	b := s.B / 128.0
	return clampUnit(l), clampUnit(a), clampUnit(b)
}

// Denormalize is the inverse of Normalize.
func (Normalizer) Denormalize(l, a, b float32) Swatch {
	return Swatch{
		L: (float64(l) + 1.0) * 50.0,
		A: float64(a) * 128.0,
		B: float64(b) * 128.0,
	}
}

func clampUnit(v float64) float32 {
	return float32(math.Max(-1, math.Min(1, v)))
}

// FlattenBatch converts a batch of palettes to a [batch, n*3] tensor of
// normalized components. Every palette must have exactly n swatches.
func FlattenBatch(palettes []Palette, n int) (*tensor.Tensor, error) {
	if len(palettes) == 0 {
		return nil, fmt.Errorf("cannot flatten an empty batch")
	}
	if n <= 0 {
		return nil, fmt.Errorf("swatch count must be positive, got %d", n)
	}

	var norm Normalizer
	data := make([]float32, 0, len(palettes)*n*3)
	for i, p := range palettes {
		if len(p) != n {
			return nil, fmt.Errorf("palette %d has %d swatches, want %d", i, len(p), n)
		}
		for _, s := range p {
			l, a, b := norm.Normalize(s)
			data = append(data, l, a, b)
		}
	}

	return tensor.NewTensor([]int{len(palettes), n * 3}, tensor.Float32, tensor.CPU, data)
}

// Unflatten reads one palette back out of a normalized [n*3] row.
func Unflatten(row []float32) (Palette, error) {
	if len(row)%3 != 0 {
		return nil, fmt.Errorf("row length %d is not a multiple of 3", len(row))
	}

	var norm Normalizer
	p := make(Palette, 0, len(row)/3)
	for i := 0; i < len(row); i += 3 {
		p = append(p, norm.Denormalize(row[i], row[i+1], row[i+2]))
	}
	return p, nil
}
