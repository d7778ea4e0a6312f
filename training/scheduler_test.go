package training

import (
	"math"
	"testing"
)

func newTestScheduler(t *testing.T, factor float64, patience int, threshold float64, mode string) *ReduceLROnPlateau {
	t.Helper()
	s, err := NewReduceLROnPlateau(factor, patience, threshold, mode)
	if err != nil {
		t.Fatalf("failed to build scheduler: %v", err)
	}
	return s
}

func TestPlateauSchedulerReducesAfterPatience(t *testing.T) {
	s := newTestScheduler(t, 0.5, 2, 1e-4, "min")

	lr := 0.1
	// First call initializes the best metric.
	lr = s.Step(1.0, lr)
	if lr != 0.1 {
		t.Fatalf("lr after init = %g, want 0.1", lr)
	}

	// One non-improving epoch: still within patience.
	lr = s.Step(1.0, lr)
	if lr != 0.1 {
		t.Fatalf("lr after 1 bad epoch = %g, want 0.1", lr)
	}

	// Second non-improving epoch: patience exhausted, reduce.
	lr = s.Step(1.0, lr)
	if math.Abs(lr-0.05) > 1e-12 {
		t.Fatalf("lr after 2 bad epochs = %g, want 0.05", lr)
	}
}

func TestPlateauSchedulerResetsOnImprovement(t *testing.T) {
	s := newTestScheduler(t, 0.5, 2, 1e-4, "min")

	lr := 0.1
	lr = s.Step(1.0, lr)
	lr = s.Step(1.0, lr)  // bad epoch 1
	lr = s.Step(0.5, lr)  // improvement resets the counter
	lr = s.Step(0.5, lr)  // bad epoch 1 again
	if lr != 0.1 {
		t.Fatalf("lr = %g, want 0.1 after counter reset", lr)
	}

	lr = s.Step(0.5, lr) // bad epoch 2: reduce
	if math.Abs(lr-0.05) > 1e-12 {
		t.Fatalf("lr = %g, want 0.05", lr)
	}
}

func TestPlateauSchedulerMaxMode(t *testing.T) {
	s := newTestScheduler(t, 0.5, 1, 1e-4, "max")

	lr := 0.1
	lr = s.Step(0.5, lr)
	lr = s.Step(0.9, lr) // improvement in max mode
	if lr != 0.1 {
		t.Fatalf("lr = %g, want 0.1 after improvement", lr)
	}

	lr = s.Step(0.8, lr) // regression: patience 1 exhausted immediately
	if math.Abs(lr-0.05) > 1e-12 {
		t.Fatalf("lr = %g, want 0.05", lr)
	}
}

func TestPlateauSchedulerRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name      string
		factor    float64
		patience  int
		threshold float64
		mode      string
	}{
		{"negative factor", -1, 2, 1e-4, "min"},
		{"factor of one", 1, 2, 1e-4, "min"},
		{"zero patience", 0.5, 0, 1e-4, "min"},
		{"negative threshold", 0.5, 2, -1, "min"},
		{"unknown mode", 0.5, 2, 1e-4, "bogus"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewReduceLROnPlateau(tt.factor, tt.patience, tt.threshold, tt.mode); err == nil {
				t.Error("expected construction error, got nil")
			}
		})
	}
}
