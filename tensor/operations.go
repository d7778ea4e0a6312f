package tensor

import (
	"fmt"
	"math"
)

func checkCompatibility(t1, t2 *Tensor) error {
	if t1.DType != t2.DType {
		return fmt.Errorf("tensors must have same dtype: %s vs %s", t1.DType, t2.DType)
	}
	if t1.Device != t2.Device {
		return fmt.Errorf("tensors must be on same device: %s vs %s", t1.Device, t2.Device)
	}
	return nil
}

// broadcastStride returns the element count of t2 when it can be repeated
// over the leading dimensions of t1 (a trailing-dimension broadcast, e.g. a
// [out] bias against [batch, out] activations). Returns an error for any
// other shape combination.
func broadcastStride(shape1, shape2 []int) (int, error) {
	if len(shape1) == 0 || len(shape2) == 0 {
		return 0, fmt.Errorf("cannot operate on empty tensors")
	}

	if shapesEqual(shape1, shape2) {
		return calculateNumElements(shape2), nil
	}

	if len(shape2) < len(shape1) {
		offset := len(shape1) - len(shape2)
		for i := range shape2 {
			if shape1[offset+i] != shape2[i] {
				return 0, fmt.Errorf("tensor shapes not broadcastable: %v vs %v", shape1, shape2)
			}
		}
		return calculateNumElements(shape2), nil
	}

	return 0, fmt.Errorf("tensor shapes must match: %v vs %v", shape1, shape2)
}

func elementwise(t1, t2 *Tensor, opName string, f32 func(a, b float32) float32, i32 func(a, b int32) int32) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}

	stride, err := broadcastStride(t1.Shape, t2.Shape)
	if err != nil {
		return nil, err
	}

	result, err := Zeros(t1.Shape, t1.DType, t1.Device)
	if err != nil {
		return nil, err
	}

	switch t1.DType {
	case Float32:
		data1 := t1.Data.([]float32)
		data2 := t2.Data.([]float32)
		resultData := result.Data.([]float32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = f32(data1[i], data2[i%stride])
		}
	case Int32:
		data1 := t1.Data.([]int32)
		data2 := t2.Data.([]int32)
		resultData := result.Data.([]int32)

		for i := 0; i < t1.NumElems; i++ {
			resultData[i] = i32(data1[i], data2[i%stride])
		}
	default:
		return nil, fmt.Errorf("unsupported dtype for %s: %s", opName, t1.DType)
	}

	return result, nil
}

func Add(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "Add",
		func(a, b float32) float32 { return a + b },
		func(a, b int32) int32 { return a + b })
}

func Sub(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "Sub",
		func(a, b float32) float32 { return a - b },
		func(a, b int32) int32 { return a - b })
}

func Mul(t1, t2 *Tensor) (*Tensor, error) {
	return elementwise(t1, t2, "Mul",
		func(a, b float32) float32 { return a * b },
		func(a, b int32) int32 { return a * b })
}

func Div(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType == Float32 {
		data2 := t2.Data.([]float32)
		for i, v := range data2 {
			if v == 0 {
				return nil, fmt.Errorf("division by zero at index %d", i)
			}
		}
	}
	return elementwise(t1, t2, "Div",
		func(a, b float32) float32 { return a / b },
		func(a, b int32) int32 { return a / b })
}

func mapFloat32(t *Tensor, opName string, f func(float32) (float32, error)) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("%s only supports Float32 dtype", opName)
	}

	result, err := Zeros(t.Shape, t.DType, t.Device)
	if err != nil {
		return nil, err
	}

	data := t.Data.([]float32)
	resultData := result.Data.([]float32)

	for i := 0; i < t.NumElems; i++ {
		v, err := f(data[i])
		if err != nil {
			return nil, fmt.Errorf("%s failed at index %d: %v", opName, i, err)
		}
		resultData[i] = v
	}

	return result, nil
}

func ReLU(t *Tensor) (*Tensor, error) {
	return mapFloat32(t, "ReLU", func(x float32) (float32, error) {
		if x > 0 {
			return x, nil
		}
		return 0, nil
	})
}

func Sigmoid(t *Tensor) (*Tensor, error) {
	return mapFloat32(t, "Sigmoid", func(x float32) (float32, error) {
		return float32(1.0 / (1.0 + math.Exp(-float64(x)))), nil
	})
}

func Tanh(t *Tensor) (*Tensor, error) {
	return mapFloat32(t, "Tanh", func(x float32) (float32, error) {
		return float32(math.Tanh(float64(x))), nil
	})
}

func Exp(t *Tensor) (*Tensor, error) {
	return mapFloat32(t, "Exp", func(x float32) (float32, error) {
		return float32(math.Exp(float64(x))), nil
	})
}

func Log(t *Tensor) (*Tensor, error) {
	return mapFloat32(t, "Log", func(x float32) (float32, error) {
		if x <= 0 {
			return 0, fmt.Errorf("log of non-positive value %f", x)
		}
		return float32(math.Log(float64(x))), nil
	})
}

func Sqrt(t *Tensor) (*Tensor, error) {
	return mapFloat32(t, "Sqrt", func(x float32) (float32, error) {
		if x < 0 {
			return 0, fmt.Errorf("sqrt of negative value %f", x)
		}
		return float32(math.Sqrt(float64(x))), nil
	})
}

// Clamp limits every element to the closed interval [min, max].
func Clamp(t *Tensor, min, max float32) (*Tensor, error) {
	if min > max {
		return nil, fmt.Errorf("invalid clamp bounds: min %f > max %f", min, max)
	}
	return mapFloat32(t, "Clamp", func(x float32) (float32, error) {
		if x < min {
			return min, nil
		}
		if x > max {
			return max, nil
		}
		return x, nil
	})
}

// Scale multiplies every element by a scalar constant.
func Scale(t *Tensor, factor float64) (*Tensor, error) {
	return mapFloat32(t, "Scale", func(x float32) (float32, error) {
		return float32(float64(x) * factor), nil
	})
}

// Mean reduces all elements to a single-element tensor holding their mean.
func Mean(t *Tensor) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Mean only supports Float32 dtype")
	}
	if t.NumElems == 0 {
		return nil, fmt.Errorf("cannot take mean of empty tensor")
	}

	data := t.Data.([]float32)
	var sum float64
	for _, v := range data {
		sum += float64(v)
	}

	return NewTensor([]int{1}, Float32, t.Device, []float32{float32(sum / float64(t.NumElems))})
}

// Concat joins two tensors along the given dimension. All other dimensions
// must match.
func Concat(t1, t2 *Tensor, dim int) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("Concat only supports Float32 dtype")
	}
	if len(t1.Shape) != len(t2.Shape) {
		return nil, fmt.Errorf("concat rank mismatch: %v vs %v", t1.Shape, t2.Shape)
	}
	if dim < 0 || dim >= len(t1.Shape) {
		return nil, fmt.Errorf("concat dimension %d out of range for rank %d", dim, len(t1.Shape))
	}
	for i := range t1.Shape {
		if i != dim && t1.Shape[i] != t2.Shape[i] {
			return nil, fmt.Errorf("concat shapes incompatible along dimension %d: %v vs %v", i, t1.Shape, t2.Shape)
		}
	}

	outShape := append([]int(nil), t1.Shape...)
	outShape[dim] += t2.Shape[dim]

	result, err := Zeros(outShape, Float32, t1.Device)
	if err != nil {
		return nil, err
	}

	outer := 1
	for i := 0; i < dim; i++ {
		outer *= t1.Shape[i]
	}
	inner := 1
	for i := dim + 1; i < len(t1.Shape); i++ {
		inner *= t1.Shape[i]
	}

	data1 := t1.Data.([]float32)
	data2 := t2.Data.([]float32)
	out := result.Data.([]float32)

	block1 := t1.Shape[dim] * inner
	block2 := t2.Shape[dim] * inner
	blockOut := block1 + block2

	for o := 0; o < outer; o++ {
		copy(out[o*blockOut:o*blockOut+block1], data1[o*block1:(o+1)*block1])
		copy(out[o*blockOut+block1:(o+1)*blockOut], data2[o*block2:(o+1)*block2])
	}

	return result, nil
}

// Narrow returns a copy of a contiguous slice [start, start+length) of the
// tensor along the given dimension.
func Narrow(t *Tensor, dim, start, length int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Narrow only supports Float32 dtype")
	}
	if dim < 0 || dim >= len(t.Shape) {
		return nil, fmt.Errorf("narrow dimension %d out of range for rank %d", dim, len(t.Shape))
	}
	if start < 0 || length <= 0 || start+length > t.Shape[dim] {
		return nil, fmt.Errorf("narrow range [%d, %d) out of bounds for dimension of size %d", start, start+length, t.Shape[dim])
	}

	outShape := append([]int(nil), t.Shape...)
	outShape[dim] = length

	result, err := Zeros(outShape, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	outer := 1
	for i := 0; i < dim; i++ {
		outer *= t.Shape[i]
	}
	inner := 1
	for i := dim + 1; i < len(t.Shape); i++ {
		inner *= t.Shape[i]
	}

	data := t.Data.([]float32)
	out := result.Data.([]float32)

	blockIn := t.Shape[dim] * inner
	blockOut := length * inner

	for o := 0; o < outer; o++ {
		copy(out[o*blockOut:(o+1)*blockOut], data[o*blockIn+start*inner:o*blockIn+(start+length)*inner])
	}

	return result, nil
}
