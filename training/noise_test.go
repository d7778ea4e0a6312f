package training

import (
	"math"
	"math/rand"
	"testing"

	"github.com/tsawler/go-recolor/tensor"
)

func TestNoiseAmplitudeSchedule(t *testing.T) {
	n, err := NewNoiseScheduler(0.1, 0.25, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tests := []struct {
		step int64
		want float64
	}{
		{0, 0.1},
		{1, 0.1 / math.Pow(2, 0.25)},
		{15, 0.1 / math.Pow(16, 0.25)}, // = 0.05
		{255, 0.1 / math.Pow(256, 0.25)},
	}

	for _, tt := range tests {
		if got := n.Amplitude(tt.step); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("Amplitude(%d) = %g, want %g", tt.step, got, tt.want)
		}
	}
}

func TestNoiseAmplitudeDecreases(t *testing.T) {
	n, _ := NewNoiseScheduler(0.1, 0.25, rand.New(rand.NewSource(1)))

	prev := n.Amplitude(0)
	for step := int64(1); step < 100; step *= 2 {
		cur := n.Amplitude(step)
		if cur >= prev {
			t.Fatalf("amplitude did not decrease at step %d: %g >= %g", step, cur, prev)
		}
		prev = cur
	}
}

func TestPerturbLeavesInputUntouched(t *testing.T) {
	n, _ := NewNoiseScheduler(0.5, 0.25, rand.New(rand.NewSource(1)))

	original := []float32{1, 2, 3, 4}
	x, _ := tensor.NewTensor([]int{4}, tensor.Float32, tensor.CPU, append([]float32(nil), original...))

	noisy, err := n.Perturb(x, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, v := range x.Data.([]float32) {
		if v != original[i] {
			t.Errorf("input element %d modified: %g != %g", i, v, original[i])
		}
	}

	changed := false
	for i, v := range noisy.Data.([]float32) {
		if v != original[i] {
			changed = true
		}
	}
	if !changed {
		t.Error("expected perturbation to change at least one element")
	}
	if !sameShape(noisy.Shape, x.Shape) {
		t.Errorf("perturbed shape = %v, want %v", noisy.Shape, x.Shape)
	}
}

func TestPerturbWithZeroBaseIsIdentity(t *testing.T) {
	n, err := NewNoiseScheduler(0, 0.25, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	x, _ := tensor.NewTensor([]int{3}, tensor.Float32, tensor.CPU, []float32{1, 2, 3})
	noisy, err := n.Perturb(x, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i, v := range noisy.Data.([]float32) {
		if v != x.Data.([]float32)[i] {
			t.Errorf("element %d changed with zero noise base", i)
		}
	}
}

func TestNewNoiseSchedulerValidation(t *testing.T) {
	if _, err := NewNoiseScheduler(-0.1, 0.25, rand.New(rand.NewSource(1))); err == nil {
		t.Error("expected error for negative base")
	}
	if _, err := NewNoiseScheduler(0.1, 0.25, nil); err == nil {
		t.Error("expected error for nil rng")
	}
}
