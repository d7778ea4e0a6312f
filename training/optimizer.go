package training

import (
	"fmt"
	"math"
	"sync"

	"github.com/tsawler/go-recolor/tensor"
)

// Optimizer is the contract the phase controllers drive. StepClosure supports
// the generator's closure-based update: the closure recomputes the loss and
// populates gradients, then the optimizer applies them.
type Optimizer interface {
	// Step updates parameters from the gradients currently attached to them.
	Step() error

	// StepClosure zeroes gradients, runs the closure to produce the loss and
	// fresh gradients, then applies the update. Returns the closure's loss.
	StepClosure(closure func() (float64, error)) (float64, error)

	// ZeroGrad clears gradients on all managed parameters.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float64

	// SetLR replaces the learning rate.
	SetLR(lr float64)
}

// Adam implements the Adam optimizer with optional decoupled weight decay
// (the AdamW variant). First and second moment estimates are kept per
// parameter with bias correction.
type Adam struct {
	parameters   []*tensor.Tensor
	learningRate float64
	beta1        float64
	beta2        float64
	eps          float64
	weightDecay  float64

	// decoupled selects AdamW: decay is applied directly to the weights
	// instead of being folded into the gradient.
	decoupled bool

	m    map[*tensor.Tensor][]float32
	v    map[*tensor.Tensor][]float32
	step int

	mutex sync.Mutex
}

// NewAdam creates a standard Adam optimizer. Weight decay, if non-zero, is
// added to the gradient (L2 regularization).
func NewAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return newAdam(parameters, lr, beta1, beta2, eps, weightDecay, false)
}

// NewAdamW creates an Adam optimizer with decoupled weight decay.
func NewAdamW(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64) *Adam {
	return newAdam(parameters, lr, beta1, beta2, eps, weightDecay, true)
}

func newAdam(parameters []*tensor.Tensor, lr, beta1, beta2, eps, weightDecay float64, decoupled bool) *Adam {
	return &Adam{
		parameters:   parameters,
		learningRate: lr,
		beta1:        beta1,
		beta2:        beta2,
		eps:          eps,
		weightDecay:  weightDecay,
		decoupled:    decoupled,
		m:            make(map[*tensor.Tensor][]float32),
		v:            make(map[*tensor.Tensor][]float32),
	}
}

// Step performs a single optimization step.
func (a *Adam) Step() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.step++
	biasCorr1 := 1 - math.Pow(a.beta1, float64(a.step))
	biasCorr2 := 1 - math.Pow(a.beta2, float64(a.step))

	for _, param := range a.parameters {
		if !param.RequiresGrad() || param.Grad() == nil {
			continue
		}

		paramData, err := param.GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access parameter data: %v", err)
		}
		gradData, err := param.Grad().GetFloat32Data()
		if err != nil {
			return fmt.Errorf("failed to access gradient data: %v", err)
		}
		if len(gradData) != len(paramData) {
			return fmt.Errorf("gradient size %d does not match parameter size %d", len(gradData), len(paramData))
		}

		m := a.m[param]
		if m == nil {
			m = make([]float32, len(paramData))
			a.m[param] = m
		}
		v := a.v[param]
		if v == nil {
			v = make([]float32, len(paramData))
			a.v[param] = v
		}

		for i := range paramData {
			g := float64(gradData[i])
			if a.weightDecay > 0 && !a.decoupled {
				g += a.weightDecay * float64(paramData[i])
			}

			m[i] = float32(a.beta1*float64(m[i]) + (1-a.beta1)*g)
			v[i] = float32(a.beta2*float64(v[i]) + (1-a.beta2)*g*g)

			mHat := float64(m[i]) / biasCorr1
			vHat := float64(v[i]) / biasCorr2

			update := a.learningRate * mHat / (math.Sqrt(vHat) + a.eps)
			if a.weightDecay > 0 && a.decoupled {
				update += a.learningRate * a.weightDecay * float64(paramData[i])
			}

			paramData[i] -= float32(update)
		}
	}

	return nil
}

// StepClosure zeroes gradients, evaluates the closure, then steps.
func (a *Adam) StepClosure(closure func() (float64, error)) (float64, error) {
	a.ZeroGrad()

	loss, err := closure()
	if err != nil {
		return 0, fmt.Errorf("closure failed: %v", err)
	}

	if err := a.Step(); err != nil {
		return 0, err
	}

	return loss, nil
}

// ZeroGrad resets gradients on all managed parameters.
func (a *Adam) ZeroGrad() {
	tensor.ZeroGrad(a.parameters)
}

// GetLR returns the current learning rate.
func (a *Adam) GetLR() float64 {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.learningRate
}

// SetLR replaces the learning rate.
func (a *Adam) SetLR(lr float64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.learningRate = lr
}

// ClipGradNorm rescales the gradients of params so their global L2 norm does
// not exceed maxNorm. Returns the norm measured before clipping. A maxNorm of
// zero or less disables clipping.
func ClipGradNorm(params []*tensor.Tensor, maxNorm float64) (float64, error) {
	var sumSq float64
	var grads [][]float32

	for _, p := range params {
		if p.Grad() == nil {
			continue
		}
		g, err := p.Grad().GetFloat32Data()
		if err != nil {
			return 0, fmt.Errorf("failed to access gradient data: %v", err)
		}
		grads = append(grads, g)
		for _, val := range g {
			sumSq += float64(val) * float64(val)
		}
	}

	norm := math.Sqrt(sumSq)
	if maxNorm <= 0 || norm <= maxNorm {
		return norm, nil
	}

	scale := float32(maxNorm / norm)
	for _, g := range grads {
		for i := range g {
			g[i] *= scale
		}
	}

	return norm, nil
}
