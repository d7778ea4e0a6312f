package training

import (
	"math/rand"
	"testing"

	"github.com/tsawler/go-recolor/nn"
	"github.com/tsawler/go-recolor/tensor"
)

const (
	testHeight     = 2
	testWidth      = 3
	testBatch      = 2
	testPaletteDim = 6
)

func testGenerator(t *testing.T) *nn.PaletteNet {
	t.Helper()
	gen, err := nn.NewPaletteNet(nn.PaletteNetConfig{
		ImageHeight: testHeight,
		ImageWidth:  testWidth,
		HiddenDim:   8,
		PaletteDim:  testPaletteDim,
	}, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("failed to build generator: %v", err)
	}
	return gen
}

func randomTensor(t *testing.T, rng *rand.Rand, shape []int) *tensor.Tensor {
	t.Helper()
	n := 1
	for _, d := range shape {
		n *= d
	}
	data := make([]float32, n)
	for i := range data {
		data[i] = float32(rng.Float64()*2 - 1)
	}
	out, err := tensor.NewTensor(shape, tensor.Float32, tensor.CPU, data)
	if err != nil {
		t.Fatalf("failed to build tensor: %v", err)
	}
	return out
}

func testPretrainBatch(t *testing.T, seed int64) PretrainBatch {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	return PretrainBatch{
		Source:        randomTensor(t, rng, []int{testBatch, 3, testHeight, testWidth}),
		TargetAB:      randomTensor(t, rng, []int{testBatch, 2, testHeight, testWidth}),
		TargetPalette: randomTensor(t, rng, []int{testBatch, testPaletteDim}),
	}
}

func snapshotParams(params []*tensor.Tensor) [][]float32 {
	out := make([][]float32, len(params))
	for i, p := range params {
		data := p.Data.([]float32)
		cp := make([]float32, len(data))
		copy(cp, data)
		out[i] = cp
	}
	return out
}

func paramsEqual(a [][]float32, params []*tensor.Tensor) bool {
	for i, p := range params {
		data := p.Data.([]float32)
		for j := range data {
			if data[j] != a[i][j] {
				return false
			}
		}
	}
	return true
}

func TestPretrainTrainingStepReducesLoss(t *testing.T) {
	gen := testGenerator(t)
	hp := DefaultPretrainHyperParams()
	hp.LearningRate = 0.01

	system, err := NewPretrainSystem(gen, hp, NewMemorySink())
	if err != nil {
		t.Fatalf("failed to build system: %v", err)
	}

	batch := testPretrainBatch(t, 1)

	first, err := system.TrainingStep(batch)
	if err != nil {
		t.Fatalf("first step failed: %v", err)
	}

	var last float64
	for i := 0; i < 60; i++ {
		last, err = system.TrainingStep(batch)
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
	}

	if last >= first {
		t.Errorf("loss did not decrease: first %g, last %g", first, last)
	}
}

func TestPretrainRejectsInvalidBatch(t *testing.T) {
	system, err := NewPretrainSystem(testGenerator(t), DefaultPretrainHyperParams(), nil)
	if err != nil {
		t.Fatalf("failed to build system: %v", err)
	}

	if _, err := system.TrainingStep(PretrainBatch{}); err == nil {
		t.Error("expected error for empty batch")
	}
}

func TestPretrainMetricFlow(t *testing.T) {
	gen := testGenerator(t)
	sink := NewMemorySink()

	system, err := NewPretrainSystem(gen, DefaultPretrainHyperParams(), sink)
	if err != nil {
		t.Fatalf("failed to build system: %v", err)
	}

	batch := testPretrainBatch(t, 2)

	for i := 0; i < 2; i++ {
		if _, err := system.TrainingStep(batch); err != nil {
			t.Fatalf("training step failed: %v", err)
		}
	}
	if got := len(sink.Scalars("Train/loss")); got != 2 {
		t.Errorf("Train/loss has %d points, want 2", got)
	}

	for i := 0; i < 3; i++ {
		if _, err := system.ValidationStep(batch); err != nil {
			t.Fatalf("validation step failed: %v", err)
		}
	}
	valLoss, err := system.ValidationEpochEnd()
	if err != nil {
		t.Fatalf("validation epoch end failed: %v", err)
	}
	points := sink.Scalars("Val/loss_epoch")
	if len(points) != 1 || points[0].Value != valLoss {
		t.Errorf("Val/loss_epoch points = %+v, want one point of %g", points, valLoss)
	}

	if _, err := system.TestStep(batch); err != nil {
		t.Fatalf("test step failed: %v", err)
	}
	testLoss, err := system.TestEpochEnd()
	if err != nil {
		t.Fatalf("test epoch end failed: %v", err)
	}
	if got := sink.Scalars("Test/loss_epoch"); len(got) != 1 {
		t.Fatalf("Test/loss_epoch has %d points, want 1", len(got))
	}

	records := sink.HyperParams()
	if len(records) != 1 {
		t.Fatalf("recorded %d hyperparameter records, want 1", len(records))
	}
	if records[0].Metrics["Test/loss_epoch"] != testLoss {
		t.Errorf("hyperparameter record metric = %g, want %g", records[0].Metrics["Test/loss_epoch"], testLoss)
	}
}

func TestPretrainValidationDoesNotUpdateWeights(t *testing.T) {
	gen := testGenerator(t)
	system, err := NewPretrainSystem(gen, DefaultPretrainHyperParams(), nil)
	if err != nil {
		t.Fatalf("failed to build system: %v", err)
	}

	before := snapshotParams(gen.Parameters())

	batch := testPretrainBatch(t, 3)
	if _, err := system.ValidationStep(batch); err != nil {
		t.Fatalf("validation step failed: %v", err)
	}
	if _, err := system.TestStep(batch); err != nil {
		t.Fatalf("test step failed: %v", err)
	}

	if !paramsEqual(before, gen.Parameters()) {
		t.Error("evaluation steps must not modify weights")
	}
}

func TestPretrainEpochEndWithoutStepsFails(t *testing.T) {
	system, err := NewPretrainSystem(testGenerator(t), DefaultPretrainHyperParams(), nil)
	if err != nil {
		t.Fatalf("failed to build system: %v", err)
	}

	if _, err := system.ValidationEpochEnd(); err == nil {
		t.Error("expected error for empty validation epoch")
	}
	if _, err := system.TestEpochEnd(); err == nil {
		t.Error("expected error for empty test epoch")
	}
}

func TestPretrainGradientAccumulationDefersUpdate(t *testing.T) {
	gen := testGenerator(t)
	hp := DefaultPretrainHyperParams()
	hp.AccumulateGrad = 2

	system, err := NewPretrainSystem(gen, hp, nil)
	if err != nil {
		t.Fatalf("failed to build system: %v", err)
	}

	before := snapshotParams(gen.Parameters())
	batch := testPretrainBatch(t, 4)

	if _, err := system.TrainingStep(batch); err != nil {
		t.Fatalf("first step failed: %v", err)
	}
	if !paramsEqual(before, gen.Parameters()) {
		t.Fatal("weights changed mid-window")
	}

	if _, err := system.TrainingStep(batch); err != nil {
		t.Fatalf("second step failed: %v", err)
	}
	if paramsEqual(before, gen.Parameters()) {
		t.Error("weights unchanged after the accumulation window closed")
	}
}

func TestPretrainRejectsUnknownOptimizer(t *testing.T) {
	hp := DefaultPretrainHyperParams()
	hp.Optimizer = "rmsprop"

	if _, err := NewPretrainSystem(testGenerator(t), hp, nil); err == nil {
		t.Error("expected construction error for unknown optimizer kind")
	}
}
