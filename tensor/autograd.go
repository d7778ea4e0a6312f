package tensor

import (
	"fmt"
)

// reduceGradientToShape reduces a gradient tensor to match the target shape.
// This is needed when trailing-dimension broadcasting occurred during the
// forward pass (e.g. a [out] bias added to [batch, out] activations).
func reduceGradientToShape(grad *Tensor, targetShape []int) (*Tensor, error) {
	if shapesEqual(grad.Shape, targetShape) {
		return grad.Clone()
	}

	if len(targetShape) == 1 && targetShape[0] == 1 {
		return sumAllElements(grad)
	}

	if len(targetShape) >= len(grad.Shape) {
		return nil, fmt.Errorf("cannot reduce gradient of shape %v to shape %v", grad.Shape, targetShape)
	}

	// Sum over the leading broadcast dimensions.
	inner := calculateNumElements(targetShape)
	outer := grad.NumElems / inner
	if outer*inner != grad.NumElems {
		return nil, fmt.Errorf("gradient shape %v is not a broadcast of %v", grad.Shape, targetShape)
	}

	result, err := Zeros(targetShape, grad.DType, grad.Device)
	if err != nil {
		return nil, err
	}

	src := grad.Data.([]float32)
	dst := result.Data.([]float32)
	for o := 0; o < outer; o++ {
		base := o * inner
		for i := 0; i < inner; i++ {
			dst[i] += src[base+i]
		}
	}

	return result, nil
}

func sumAllElements(t *Tensor) (*Tensor, error) {
	switch t.DType {
	case Float32:
		data := t.Data.([]float32)
		sum := float32(0)
		for _, val := range data {
			sum += val
		}
		return NewTensor([]int{1}, t.DType, t.Device, []float32{sum})
	case Int32:
		data := t.Data.([]int32)
		sum := int32(0)
		for _, val := range data {
			sum += val
		}
		return NewTensor([]int{1}, t.DType, t.Device, []int32{sum})
	default:
		return nil, fmt.Errorf("unsupported data type for sum: %v", t.DType)
	}
}

// Backward runs reverse-mode differentiation from a single-element tensor,
// accumulating gradients into every reachable tensor that requires them.
func (t *Tensor) Backward() error {
	if !t.requiresGrad {
		return fmt.Errorf("cannot call Backward on a tensor that does not require grad")
	}
	if t.NumElems != 1 {
		return fmt.Errorf("Backward requires a single-element tensor, got shape %v", t.Shape)
	}

	seed, err := Ones(t.Shape, t.DType, t.Device)
	if err != nil {
		return fmt.Errorf("failed to seed gradient: %v", err)
	}
	t.grad = seed

	// Topological order over the graph of creators.
	var order []*Tensor
	visited := make(map[*Tensor]bool)
	var visit func(node *Tensor)
	visit = func(node *Tensor) {
		if visited[node] {
			return
		}
		visited[node] = true
		if node.creator != nil {
			for _, in := range node.creator.Inputs() {
				visit(in)
			}
		}
		order = append(order, node)
	}
	visit(t)

	for i := len(order) - 1; i >= 0; i-- {
		node := order[i]
		if node.creator == nil || node.grad == nil {
			continue
		}

		grads := node.creator.Backward(node.grad)
		inputs := node.creator.Inputs()
		if len(grads) != len(inputs) {
			return fmt.Errorf("operation produced %d gradients for %d inputs", len(grads), len(inputs))
		}

		for j, in := range inputs {
			if !in.requiresGrad {
				continue
			}
			g := grads[j]
			if g == nil {
				continue
			}
			if in.grad == nil {
				in.grad = g
			} else {
				sum, err := Add(in.grad, g)
				if err != nil {
					return fmt.Errorf("failed to accumulate gradient: %v", err)
				}
				in.grad = sum
			}
		}
	}

	return nil
}

// AddOp implements the Operation interface for tensor addition.
type AddOp struct {
	inputs []*Tensor
}

func (op *AddOp) Inputs() []*Tensor { return op.inputs }

func (op *AddOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("AddOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Add(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *AddOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a + b)/∂a = 1, ∂(a + b)/∂b = 1; broadcasting reduces to input shapes.
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradB, err := reduceGradientToShape(gradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// SubOp implements the Operation interface for tensor subtraction.
type SubOp struct {
	inputs []*Tensor
}

func (op *SubOp) Inputs() []*Tensor { return op.inputs }

func (op *SubOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("SubOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Sub(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *SubOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂(a - b)/∂a = 1, ∂(a - b)/∂b = -1
	gradA, err := reduceGradientToShape(gradOut, op.inputs[0].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	negGradOut, err := Scale(gradOut, -1)
	if err != nil {
		panic(fmt.Sprintf("failed to negate gradient: %v", err))
	}

	gradB, err := reduceGradientToShape(negGradOut, op.inputs[1].Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// MulOp implements the Operation interface for elementwise multiplication.
type MulOp struct {
	inputs []*Tensor
}

func (op *MulOp) Inputs() []*Tensor { return op.inputs }

func (op *MulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Mul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *MulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(a * b)/∂a = b, ∂(a * b)/∂b = a
	gradAFull, err := Mul(gradOut, b)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}
	gradA, err := reduceGradientToShape(gradAFull, a.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input A: %v", err))
	}

	gradBFull, err := Mul(gradOut, a.Detach())
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}
	gradB, err := reduceGradientToShape(gradBFull, b.Shape)
	if err != nil {
		panic(fmt.Sprintf("failed to reduce gradient for input B: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// MatMulOp implements the Operation interface for matrix multiplication.
type MatMulOp struct {
	inputs []*Tensor
}

func (op *MatMulOp) Inputs() []*Tensor { return op.inputs }

func (op *MatMulOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("MatMulOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := MatMul(a, b)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *MatMulOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	// ∂(A @ B)/∂A = gradOut @ B^T, ∂(A @ B)/∂B = A^T @ gradOut
	bT, err := Transpose(b, 0, 1)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose B: %v", err))
	}
	gradA, err := MatMul(gradOut, bT)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}

	aT, err := Transpose(a, 0, 1)
	if err != nil {
		panic(fmt.Sprintf("failed to transpose A: %v", err))
	}
	gradB, err := MatMul(aT, gradOut)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// ReLUOp implements the Operation interface for ReLU activation.
type ReLUOp struct {
	inputs []*Tensor
}

func (op *ReLUOp) Inputs() []*Tensor { return op.inputs }

func (op *ReLUOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReLUOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := ReLU(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ReLUOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	// ∂ReLU(x)/∂x = 1 if x > 0, else 0
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}

	inputData := a.Data.([]float32)
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] <= 0 {
			gradData[i] = 0
		}
	}

	return []*Tensor{grad}
}

// SigmoidOp implements the Operation interface for Sigmoid activation.
type SigmoidOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *SigmoidOp) Inputs() []*Tensor { return op.inputs }

func (op *SigmoidOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("SigmoidOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Sigmoid(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	op.output = result
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *SigmoidOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂σ(x)/∂x = σ(x) * (1 - σ(x))
	out := op.output.Data.([]float32)
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}
	gradData := grad.Data.([]float32)
	for i := range gradData {
		gradData[i] *= out[i] * (1 - out[i])
	}

	return []*Tensor{grad}
}

// TanhOp implements the Operation interface for Tanh activation.
type TanhOp struct {
	inputs []*Tensor
	output *Tensor
}

func (op *TanhOp) Inputs() []*Tensor { return op.inputs }

func (op *TanhOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("TanhOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Tanh(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	op.output = result
	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *TanhOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂tanh(x)/∂x = 1 - tanh(x)^2
	out := op.output.Data.([]float32)
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}
	gradData := grad.Data.([]float32)
	for i := range gradData {
		gradData[i] *= 1 - out[i]*out[i]
	}

	return []*Tensor{grad}
}

// LogOp implements the Operation interface for the natural logarithm.
type LogOp struct {
	inputs []*Tensor
}

func (op *LogOp) Inputs() []*Tensor { return op.inputs }

func (op *LogOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("LogOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Log(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *LogOp) Backward(gradOut *Tensor) []*Tensor {
	// ∂log(x)/∂x = 1/x
	a := op.inputs[0]
	inputData := a.Data.([]float32)
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}
	gradData := grad.Data.([]float32)
	for i := range gradData {
		gradData[i] /= inputData[i]
	}

	return []*Tensor{grad}
}

// ClampOp implements the Operation interface for value clamping. Gradients
// pass through unchanged inside the clamp interval and are zeroed outside it.
type ClampOp struct {
	inputs   []*Tensor
	min, max float32
}

func (op *ClampOp) Inputs() []*Tensor { return op.inputs }

func (op *ClampOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ClampOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Clamp(a, op.min, op.max)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ClampOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	inputData := a.Data.([]float32)
	grad, err := gradOut.Clone()
	if err != nil {
		panic(fmt.Sprintf("failed to clone gradient: %v", err))
	}
	gradData := grad.Data.([]float32)
	for i := range gradData {
		if inputData[i] < op.min || inputData[i] > op.max {
			gradData[i] = 0
		}
	}

	return []*Tensor{grad}
}

// ScaleOp implements the Operation interface for multiplication by a scalar
// constant.
type ScaleOp struct {
	inputs []*Tensor
	factor float64
}

func (op *ScaleOp) Inputs() []*Tensor { return op.inputs }

func (op *ScaleOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ScaleOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Scale(a, op.factor)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ScaleOp) Backward(gradOut *Tensor) []*Tensor {
	grad, err := Scale(gradOut, op.factor)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// MeanOp implements the Operation interface for the full reduction to a
// single-element mean.
type MeanOp struct {
	inputs []*Tensor
}

func (op *MeanOp) Inputs() []*Tensor { return op.inputs }

func (op *MeanOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("MeanOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	result, err := Mean(a)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *MeanOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]

	// Every element receives gradOut / N.
	g := gradOut.Data.([]float32)[0] / float32(a.NumElems)
	gradData := make([]float32, a.NumElems)
	for i := range gradData {
		gradData[i] = g
	}

	grad, err := NewTensor(append([]int(nil), a.Shape...), Float32, a.Device, gradData)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}

	return []*Tensor{grad}
}

// ConcatOp implements the Operation interface for concatenation along a
// dimension. The backward pass splits the gradient at the join.
type ConcatOp struct {
	inputs []*Tensor
	dim    int
}

func (op *ConcatOp) Inputs() []*Tensor { return op.inputs }

func (op *ConcatOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 2 {
		panic("ConcatOp requires exactly 2 inputs")
	}

	a, b := inputs[0], inputs[1]
	op.inputs = inputs

	result, err := Concat(a, b, op.dim)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad || b.requiresGrad

	return result
}

func (op *ConcatOp) Backward(gradOut *Tensor) []*Tensor {
	a, b := op.inputs[0], op.inputs[1]

	gradA, err := Narrow(gradOut, op.dim, 0, a.Shape[op.dim])
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradA: %v", err))
	}
	gradB, err := Narrow(gradOut, op.dim, a.Shape[op.dim], b.Shape[op.dim])
	if err != nil {
		panic(fmt.Sprintf("backward pass failed for gradB: %v", err))
	}

	return []*Tensor{gradA, gradB}
}

// ReshapeOp implements the Operation interface for shape changes that keep
// the element count.
type ReshapeOp struct {
	inputs []*Tensor
	shape  []int
}

func (op *ReshapeOp) Inputs() []*Tensor { return op.inputs }

func (op *ReshapeOp) Forward(inputs ...*Tensor) *Tensor {
	if len(inputs) != 1 {
		panic("ReshapeOp requires exactly 1 input")
	}

	a := inputs[0]
	op.inputs = inputs

	// Reshape on a copy so the graph node owns its data.
	clone, err := a.Clone()
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}
	result, err := clone.Reshape(op.shape)
	if err != nil {
		panic(fmt.Sprintf("Forward pass failed: %v", err))
	}

	result.creator = op
	result.requiresGrad = a.requiresGrad

	return result
}

func (op *ReshapeOp) Backward(gradOut *Tensor) []*Tensor {
	a := op.inputs[0]
	grad, err := gradOut.Reshape(a.Shape)
	if err != nil {
		panic(fmt.Sprintf("backward pass failed: %v", err))
	}
	return []*Tensor{grad}
}

// High-level autograd functions that create and execute operations.

// AddAutograd performs addition with automatic differentiation.
func AddAutograd(a, b *Tensor) *Tensor {
	op := &AddOp{}
	return op.Forward(a, b)
}

// SubAutograd performs subtraction with automatic differentiation.
func SubAutograd(a, b *Tensor) *Tensor {
	op := &SubOp{}
	return op.Forward(a, b)
}

// MulAutograd performs elementwise multiplication with automatic differentiation.
func MulAutograd(a, b *Tensor) *Tensor {
	op := &MulOp{}
	return op.Forward(a, b)
}

// MatMulAutograd performs matrix multiplication with automatic differentiation.
func MatMulAutograd(a, b *Tensor) *Tensor {
	op := &MatMulOp{}
	return op.Forward(a, b)
}

// ReLUAutograd performs ReLU activation with automatic differentiation.
func ReLUAutograd(a *Tensor) *Tensor {
	op := &ReLUOp{}
	return op.Forward(a)
}

// SigmoidAutograd performs Sigmoid activation with automatic differentiation.
func SigmoidAutograd(a *Tensor) *Tensor {
	op := &SigmoidOp{}
	return op.Forward(a)
}

// TanhAutograd performs Tanh activation with automatic differentiation.
func TanhAutograd(a *Tensor) *Tensor {
	op := &TanhOp{}
	return op.Forward(a)
}

// LogAutograd takes the natural logarithm with automatic differentiation.
func LogAutograd(a *Tensor) *Tensor {
	op := &LogOp{}
	return op.Forward(a)
}

// ClampAutograd clamps values to [min, max] with automatic differentiation.
func ClampAutograd(a *Tensor, min, max float32) *Tensor {
	op := &ClampOp{min: min, max: max}
	return op.Forward(a)
}

// ScaleAutograd multiplies by a scalar constant with automatic differentiation.
func ScaleAutograd(a *Tensor, factor float64) *Tensor {
	op := &ScaleOp{factor: factor}
	return op.Forward(a)
}

// MeanAutograd reduces to the mean of all elements with automatic differentiation.
func MeanAutograd(a *Tensor) *Tensor {
	op := &MeanOp{}
	return op.Forward(a)
}

// ConcatAutograd concatenates along dim with automatic differentiation.
func ConcatAutograd(a, b *Tensor, dim int) *Tensor {
	op := &ConcatOp{dim: dim}
	return op.Forward(a, b)
}

// ReshapeAutograd changes the shape with automatic differentiation.
func ReshapeAutograd(a *Tensor, shape []int) *Tensor {
	op := &ReshapeOp{shape: append([]int(nil), shape...)}
	return op.Forward(a)
}
