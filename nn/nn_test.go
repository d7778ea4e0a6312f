package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-recolor/tensor"
)

func testRNG() *rand.Rand {
	return rand.New(rand.NewSource(1))
}

func TestLinearForwardShape(t *testing.T) {
	layer, err := NewLinear(4, 3, testRNG())
	if err != nil {
		t.Fatalf("failed to build layer: %v", err)
	}

	x, _ := tensor.NewTensor([]int{2, 4}, tensor.Float32, tensor.CPU, make([]float32, 8))
	out := layer.Forward(x)

	if out.Shape[0] != 2 || out.Shape[1] != 3 {
		t.Errorf("output shape = %v, want [2 3]", out.Shape)
	}
	if len(layer.Parameters()) != 2 {
		t.Errorf("parameter count = %d, want 2", len(layer.Parameters()))
	}
}

func TestLinearRejectsBadDimensions(t *testing.T) {
	if _, err := NewLinear(0, 3, testRNG()); err == nil {
		t.Error("expected error for zero input dimension")
	}
	if _, err := NewLinear(4, -1, testRNG()); err == nil {
		t.Error("expected error for negative output dimension")
	}
}

func TestDropoutEvalIsIdentity(t *testing.T) {
	d, err := NewDropout(0.5, testRNG())
	if err != nil {
		t.Fatalf("failed to build dropout: %v", err)
	}
	d.Eval()

	data := []float32{1, 2, 3, 4}
	x, _ := tensor.NewTensor([]int{4}, tensor.Float32, tensor.CPU, data)
	out := d.Forward(x)

	got := out.Data.([]float32)
	for i := range data {
		if got[i] != data[i] {
			t.Errorf("element %d = %g, want %g", i, got[i], data[i])
		}
	}
}

func TestDropoutTrainZeroesAndRescales(t *testing.T) {
	d, err := NewDropout(0.5, testRNG())
	if err != nil {
		t.Fatalf("failed to build dropout: %v", err)
	}
	d.Train()

	n := 1000
	data := make([]float32, n)
	for i := range data {
		data[i] = 1
	}
	x, _ := tensor.NewTensor([]int{n}, tensor.Float32, tensor.CPU, data)
	out := d.Forward(x)

	zeros := 0
	for _, v := range out.Data.([]float32) {
		switch v {
		case 0:
			zeros++
		case 2:
			// survivor rescaled by 1/(1-p)
		default:
			t.Fatalf("unexpected activation value %g", v)
		}
	}

	if zeros < n/4 || zeros > 3*n/4 {
		t.Errorf("dropped %d of %d activations, expected roughly half", zeros, n)
	}
}

func TestDropoutRejectsBadProbability(t *testing.T) {
	if _, err := NewDropout(1.0, testRNG()); err == nil {
		t.Error("expected error for p = 1")
	}
	if _, err := NewDropout(-0.1, testRNG()); err == nil {
		t.Error("expected error for negative p")
	}
}

func smallGenerator(t *testing.T) *PaletteNet {
	t.Helper()
	gen, err := NewPaletteNet(PaletteNetConfig{
		ImageHeight: 4,
		ImageWidth:  6,
		HiddenDim:   8,
		PaletteDim:  9,
	}, testRNG())
	if err != nil {
		t.Fatalf("failed to build generator: %v", err)
	}
	return gen
}

func TestPaletteNetForward(t *testing.T) {
	gen := smallGenerator(t)

	image, _ := tensor.NewTensor([]int{2, 3, 4, 6}, tensor.Float32, tensor.CPU, make([]float32, 2*3*4*6))
	pal, _ := tensor.NewTensor([]int{2, 9}, tensor.Float32, tensor.CPU, make([]float32, 18))

	out, err := gen.Forward(image, pal)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	wantShape := []int{2, 2, 4, 6}
	for i, d := range wantShape {
		if out.Shape[i] != d {
			t.Fatalf("output shape = %v, want %v", out.Shape, wantShape)
		}
	}

	// Tanh output must be inside [-1, 1].
	for i, v := range out.Data.([]float32) {
		if v < -1 || v > 1 {
			t.Fatalf("output element %d = %g outside [-1, 1]", i, v)
		}
	}
}

func TestPaletteNetRejectsMismatchedInputs(t *testing.T) {
	gen := smallGenerator(t)

	wrongImage, _ := tensor.NewTensor([]int{1, 3, 5, 6}, tensor.Float32, tensor.CPU, make([]float32, 90))
	pal, _ := tensor.NewTensor([]int{1, 9}, tensor.Float32, tensor.CPU, make([]float32, 9))
	if _, err := gen.Forward(wrongImage, pal); err == nil {
		t.Error("expected error for wrong image size")
	}

	image, _ := tensor.NewTensor([]int{1, 3, 4, 6}, tensor.Float32, tensor.CPU, make([]float32, 72))
	wrongPal, _ := tensor.NewTensor([]int{1, 6}, tensor.Float32, tensor.CPU, make([]float32, 6))
	if _, err := gen.Forward(image, wrongPal); err == nil {
		t.Error("expected error for wrong palette size")
	}

	otherBatchPal, _ := tensor.NewTensor([]int{2, 9}, tensor.Float32, tensor.CPU, make([]float32, 18))
	if _, err := gen.Forward(image, otherBatchPal); err == nil {
		t.Error("expected error for batch mismatch")
	}
}

func TestPaletteNetParameterSplit(t *testing.T) {
	gen := smallGenerator(t)

	enc := len(gen.EncoderParameters())
	dec := len(gen.DecoderParameters())
	all := len(gen.Parameters())

	if enc != 2 {
		t.Errorf("encoder parameter count = %d, want 2", enc)
	}
	if dec != 4 {
		t.Errorf("decoder parameter count = %d, want 4", dec)
	}
	if all != enc+dec {
		t.Errorf("total parameter count = %d, want %d", all, enc+dec)
	}
}

func TestPaletteNetGradientsFlow(t *testing.T) {
	gen := smallGenerator(t)

	image, _ := tensor.NewTensor([]int{1, 3, 4, 6}, tensor.Float32, tensor.CPU, make([]float32, 72))
	pal, _ := tensor.NewTensor([]int{1, 9}, tensor.Float32, tensor.CPU, make([]float32, 9))

	out, err := gen.Forward(image, pal)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}

	loss := tensor.MeanAutograd(tensor.MulAutograd(out, out))
	if err := loss.Backward(); err != nil {
		t.Fatalf("backward failed: %v", err)
	}

	for i, p := range gen.Parameters() {
		if p.Grad() == nil {
			t.Errorf("parameter %d has no gradient after backward", i)
		}
	}
}

func TestDiscriminatorForward(t *testing.T) {
	disc, err := NewDiscriminator(DiscriminatorConfig{
		ImageChannels: 3,
		ImageHeight:   4,
		ImageWidth:    6,
		HiddenDim:     8,
		PaletteDim:    9,
		DropoutP:      0.1,
	}, testRNG())
	if err != nil {
		t.Fatalf("failed to build discriminator: %v", err)
	}
	disc.Eval()

	image, _ := tensor.NewTensor([]int{2, 3, 4, 6}, tensor.Float32, tensor.CPU, make([]float32, 144))
	pal, _ := tensor.NewTensor([]int{2, 9}, tensor.Float32, tensor.CPU, make([]float32, 18))

	prob, err := disc.Forward(image, pal)
	if err != nil {
		t.Fatalf("forward failed: %v", err)
	}
	if prob.Shape[0] != 2 || prob.Shape[1] != 1 {
		t.Fatalf("probability shape = %v, want [2 1]", prob.Shape)
	}

	for i, v := range prob.Data.([]float32) {
		if v <= 0 || v >= 1 || math.IsNaN(float64(v)) {
			t.Errorf("probability %d = %g, want value in (0, 1)", i, v)
		}
	}
}

func TestDiscriminatorTrainEvalPropagatesToDropout(t *testing.T) {
	disc, err := NewDiscriminator(DiscriminatorConfig{
		ImageChannels: 3,
		ImageHeight:   2,
		ImageWidth:    2,
		HiddenDim:     4,
		PaletteDim:    3,
		DropoutP:      0.5,
	}, testRNG())
	if err != nil {
		t.Fatalf("failed to build discriminator: %v", err)
	}

	disc.Eval()
	if disc.IsTraining() || disc.dropout.IsTraining() {
		t.Error("expected eval mode to propagate to dropout")
	}
	disc.Train()
	if !disc.IsTraining() || !disc.dropout.IsTraining() {
		t.Error("expected train mode to propagate to dropout")
	}
}
