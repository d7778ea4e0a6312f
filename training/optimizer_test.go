package training

import (
	"math"
	"testing"

	"github.com/tsawler/go-recolor/tensor"
)

func paramWithGrad(t *testing.T, values, grads []float32) *tensor.Tensor {
	t.Helper()
	p, err := tensor.NewTensor([]int{len(values)}, tensor.Float32, tensor.CPU, values)
	if err != nil {
		t.Fatalf("failed to create parameter: %v", err)
	}
	p.SetRequiresGrad(true)

	if grads != nil {
		// d/dp [n * mean(p*g)] = g, so this seeds exactly the wanted gradient.
		scaled := tensor.ScaleAutograd(tensor.MeanAutograd(tensor.MulAutograd(p, constTensor(t, grads))), float64(len(values)))
		if err := scaled.Backward(); err != nil {
			t.Fatalf("failed to seed gradient: %v", err)
		}
	}

	return p
}

func constTensor(t *testing.T, values []float32) *tensor.Tensor {
	t.Helper()
	c, err := tensor.NewTensor([]int{len(values)}, tensor.Float32, tensor.CPU, values)
	if err != nil {
		t.Fatalf("failed to create tensor: %v", err)
	}
	return c
}

func TestAdamFirstStepMovesAgainstGradient(t *testing.T) {
	p := paramWithGrad(t, []float32{1, 1}, []float32{1, -1})

	opt := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0)
	if err := opt.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	// With constant gradient g, Adam's first bias-corrected update is
	// approximately lr * sign(g).
	data := p.Data.([]float32)
	if math.Abs(float64(data[0])-0.9) > 1e-3 {
		t.Errorf("param[0] = %g, want about 0.9", data[0])
	}
	if math.Abs(float64(data[1])-1.1) > 1e-3 {
		t.Errorf("param[1] = %g, want about 1.1", data[1])
	}
}

func TestAdamConvergesOnQuadratic(t *testing.T) {
	// Minimize (x - 3)^2 from x = 0.
	p := paramWithGrad(t, []float32{0}, nil)
	target := constTensor(t, []float32{3})

	opt := NewAdam([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0)

	var lastLoss float64
	for i := 0; i < 200; i++ {
		loss, err := opt.StepClosure(func() (float64, error) {
			diff := tensor.SubAutograd(p, target)
			l := tensor.MeanAutograd(tensor.MulAutograd(diff, diff))
			v, err := l.Item()
			if err != nil {
				return 0, err
			}
			return v, l.Backward()
		})
		if err != nil {
			t.Fatalf("step %d failed: %v", i, err)
		}
		lastLoss = loss
	}

	if lastLoss > 0.01 {
		t.Errorf("final loss = %g, want near 0", lastLoss)
	}
	if x := p.Data.([]float32)[0]; math.Abs(float64(x)-3) > 0.2 {
		t.Errorf("final x = %g, want near 3", x)
	}
}

func TestAdamWDecoupledDecayShrinksWeights(t *testing.T) {
	// With zero gradient an AdamW step reduces the weight by lr*wd*w exactly;
	// plain Adam routes decay through the moment estimates instead.
	p, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{1})
	p.SetRequiresGrad(true)
	zeroGrad := tensor.MeanAutograd(tensor.ScaleAutograd(p, 0))
	if err := zeroGrad.Backward(); err != nil {
		t.Fatalf("failed to seed gradient: %v", err)
	}

	opt := NewAdamW([]*tensor.Tensor{p}, 0.1, 0.9, 0.999, 1e-8, 0.5)
	if err := opt.Step(); err != nil {
		t.Fatalf("step failed: %v", err)
	}

	// 1 - 0.1*0.5*1 = 0.95
	if got := p.Data.([]float32)[0]; math.Abs(float64(got)-0.95) > 1e-5 {
		t.Errorf("weight = %g, want 0.95", got)
	}
}

func TestOptimizerLearningRateAccessors(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, nil)
	opt := NewAdam([]*tensor.Tensor{p}, 0.01, 0.9, 0.999, 1e-8, 0)

	if got := opt.GetLR(); got != 0.01 {
		t.Errorf("GetLR() = %g, want 0.01", got)
	}
	opt.SetLR(0.001)
	if got := opt.GetLR(); got != 0.001 {
		t.Errorf("GetLR() after SetLR = %g, want 0.001", got)
	}
}

func TestClipGradNorm(t *testing.T) {
	p, _ := tensor.NewTensor([]int{2}, tensor.Float32, tensor.CPU, []float32{0, 0})
	p.SetRequiresGrad(true)

	// Gradient (3, 4) has norm 5.
	scaled := tensor.ScaleAutograd(tensor.MeanAutograd(tensor.MulAutograd(p, constTensor(t, []float32{3, 4}))), 2)
	if err := scaled.Backward(); err != nil {
		t.Fatalf("failed to seed gradient: %v", err)
	}

	norm, err := ClipGradNorm([]*tensor.Tensor{p}, 1.0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if math.Abs(norm-5) > 1e-5 {
		t.Errorf("pre-clip norm = %g, want 5", norm)
	}

	g := p.Grad().Data.([]float32)
	clipped := math.Sqrt(float64(g[0]*g[0] + g[1]*g[1]))
	if math.Abs(clipped-1) > 1e-5 {
		t.Errorf("post-clip norm = %g, want 1", clipped)
	}
}

func TestClipGradNormDisabled(t *testing.T) {
	p, _ := tensor.NewTensor([]int{1}, tensor.Float32, tensor.CPU, []float32{0})
	p.SetRequiresGrad(true)
	scaled := tensor.ScaleAutograd(tensor.MeanAutograd(tensor.MulAutograd(p, constTensor(t, []float32{10}))), 1)
	if err := scaled.Backward(); err != nil {
		t.Fatalf("failed to seed gradient: %v", err)
	}
	before := p.Grad().Data.([]float32)[0]

	if _, err := ClipGradNorm([]*tensor.Tensor{p}, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if after := p.Grad().Data.([]float32)[0]; after != before {
		t.Errorf("gradient changed with clipping disabled: %g != %g", after, before)
	}
}

func TestNewOptimizerFactory(t *testing.T) {
	p := paramWithGrad(t, []float32{1}, nil)

	tests := []struct {
		name    string
		cfg     OptimizerConfig
		wantErr bool
	}{
		{"adam", OptimizerConfig{Kind: OptimizerAdam, LearningRate: 0.01, Beta1: 0.5, Beta2: 0.999}, false},
		{"adamw", OptimizerConfig{Kind: OptimizerAdamW, LearningRate: 0.01, Beta1: 0.5, Beta2: 0.999}, false},
		{"unknown kind", OptimizerConfig{Kind: "sgd", LearningRate: 0.01}, true},
		{"empty kind", OptimizerConfig{LearningRate: 0.01}, true},
		{"zero lr", OptimizerConfig{Kind: OptimizerAdam}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewOptimizer([]*tensor.Tensor{p}, tt.cfg)
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}

	if _, err := NewOptimizer(nil, OptimizerConfig{Kind: OptimizerAdam, LearningRate: 0.01}); err == nil {
		t.Error("expected error for empty parameter list")
	}
}
