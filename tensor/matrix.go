package tensor

import (
	"fmt"
)

// MatMul computes the 2D matrix product of [m, k] and [k, n] tensors.
func MatMul(t1, t2 *Tensor) (*Tensor, error) {
	if err := checkCompatibility(t1, t2); err != nil {
		return nil, err
	}
	if t1.DType != Float32 {
		return nil, fmt.Errorf("MatMul only supports Float32 dtype")
	}
	if len(t1.Shape) != 2 || len(t2.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got %v and %v", t1.Shape, t2.Shape)
	}
	if t1.Shape[1] != t2.Shape[0] {
		return nil, fmt.Errorf("MatMul inner dimensions must match: %v vs %v", t1.Shape, t2.Shape)
	}

	m := t1.Shape[0]
	k := t1.Shape[1]
	n := t2.Shape[1]

	result, err := Zeros([]int{m, n}, Float32, t1.Device)
	if err != nil {
		return nil, err
	}

	a := t1.Data.([]float32)
	b := t2.Data.([]float32)
	c := result.Data.([]float32)

	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := a[i*k+l]
			if av == 0 {
				continue
			}
			rowB := b[l*n : (l+1)*n]
			rowC := c[i*n : (i+1)*n]
			for j := range rowB {
				rowC[j] += av * rowB[j]
			}
		}
	}

	return result, nil
}

// Transpose swaps two dimensions of a 2D tensor.
func Transpose(t *Tensor, dim0, dim1 int) (*Tensor, error) {
	if t.DType != Float32 {
		return nil, fmt.Errorf("Transpose only supports Float32 dtype")
	}
	if len(t.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got %v", t.Shape)
	}
	if !((dim0 == 0 && dim1 == 1) || (dim0 == 1 && dim1 == 0)) {
		return nil, fmt.Errorf("invalid transpose dimensions (%d, %d) for 2D tensor", dim0, dim1)
	}

	rows := t.Shape[0]
	cols := t.Shape[1]

	result, err := Zeros([]int{cols, rows}, Float32, t.Device)
	if err != nil {
		return nil, err
	}

	src := t.Data.([]float32)
	dst := result.Data.([]float32)

	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			dst[j*rows+i] = src[i*cols+j]
		}
	}

	return result, nil
}
