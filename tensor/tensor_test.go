package tensor

import (
	"math"
	"testing"
)

func TestNewTensor(t *testing.T) {
	tests := []struct {
		name    string
		shape   []int
		data    []float32
		wantErr bool
	}{
		{"valid 2x2", []int{2, 2}, []float32{1, 2, 3, 4}, false},
		{"valid vector", []int{3}, []float32{1, 2, 3}, false},
		{"size mismatch", []int{2, 2}, []float32{1, 2, 3}, true},
		{"zero dimension", []int{0, 2}, []float32{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tensor, err := NewTensor(tt.shape, Float32, CPU, tt.data)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tensor.NumElems != len(tt.data) {
				t.Errorf("NumElems = %d, want %d", tensor.NumElems, len(tt.data))
			}
		})
	}
}

func TestElementwiseOps(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{5, 6, 7, 8})

	tests := []struct {
		name string
		op   func(x, y *Tensor) (*Tensor, error)
		want []float32
	}{
		{"add", Add, []float32{6, 8, 10, 12}},
		{"sub", Sub, []float32{-4, -4, -4, -4}},
		{"mul", Mul, []float32{5, 12, 21, 32}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tt.op(a, b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			got := result.Data.([]float32)
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("element %d = %g, want %g", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestAddBroadcastsBias(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	bias, _ := NewTensor([]int{3}, Float32, CPU, []float32{10, 20, 30})

	result, err := Add(x, bias)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []float32{11, 22, 33, 14, 25, 36}
	got := result.Data.([]float32)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestMatMul(t *testing.T) {
	a, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})
	b, _ := NewTensor([]int{3, 2}, Float32, CPU, []float32{7, 8, 9, 10, 11, 12})

	result, err := MatMul(a, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Shape[0] != 2 || result.Shape[1] != 2 {
		t.Fatalf("result shape = %v, want [2 2]", result.Shape)
	}

	want := []float32{58, 64, 139, 154}
	got := result.Data.([]float32)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestMeanAndItem(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, CPU, []float32{1, 2, 3, 4})

	mean, err := Mean(x)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	val, err := mean.Item()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(val-2.5) > 1e-6 {
		t.Errorf("mean = %g, want 2.5", val)
	}
}

func TestClamp(t *testing.T) {
	x, _ := NewTensor([]int{4}, Float32, CPU, []float32{-1, 0.25, 0.75, 2})

	result, err := Clamp(x, 0, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []float32{0, 0.25, 0.75, 1}
	got := result.Data.([]float32)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}
}

func TestLogRejectsNonPositive(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 0})
	if _, err := Log(x); err == nil {
		t.Error("expected error for log of zero")
	}
}

func TestConcatAndNarrow(t *testing.T) {
	a, _ := NewTensor([]int{2, 2}, Float32, CPU, []float32{1, 2, 3, 4})
	b, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{5, 6, 7, 8, 9, 10})

	joined, err := Concat(a, b, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if joined.Shape[0] != 2 || joined.Shape[1] != 5 {
		t.Fatalf("joined shape = %v, want [2 5]", joined.Shape)
	}

	want := []float32{1, 2, 5, 6, 7, 3, 4, 8, 9, 10}
	got := joined.Data.([]float32)
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("element %d = %g, want %g", i, got[i], want[i])
		}
	}

	back, err := Narrow(joined, 1, 2, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantB := b.Data.([]float32)
	gotB := back.Data.([]float32)
	for i := range wantB {
		if gotB[i] != wantB[i] {
			t.Errorf("narrowed element %d = %g, want %g", i, gotB[i], wantB[i])
		}
	}
}

func TestDetachSharesDataWithoutGraph(t *testing.T) {
	x, _ := NewTensor([]int{2}, Float32, CPU, []float32{1, 2})
	x.SetRequiresGrad(true)

	y := ReLUAutograd(x)
	d := y.Detach()

	if d.RequiresGrad() {
		t.Error("detached tensor should not require grad")
	}
	if &d.Data.([]float32)[0] != &y.Data.([]float32)[0] {
		t.Error("detached tensor should share backing data")
	}
}

func TestReshape(t *testing.T) {
	x, _ := NewTensor([]int{2, 3}, Float32, CPU, []float32{1, 2, 3, 4, 5, 6})

	r, err := x.Reshape([]int{3, 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.Shape[0] != 3 || r.Shape[1] != 2 {
		t.Errorf("shape = %v, want [3 2]", r.Shape)
	}

	if _, err := x.Reshape([]int{4, 2}); err == nil {
		t.Error("expected error for element count mismatch")
	}
}
