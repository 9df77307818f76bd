package tensor

import (
	"fmt"
	"math"
)

// Elementwise binary operations decode Float16 operands transparently and
// always produce Float32 results on the first operand's device.

func sameShape(a, b *Tensor) bool {
	if len(a.Shape) != len(b.Shape) {
		return false
	}
	for i, dim := range a.Shape {
		if dim != b.Shape[i] {
			return false
		}
	}
	return true
}

func elementwise(a, b *Tensor, op func(x, y float32) float32) (*Tensor, error) {
	aData, err := a.Float32Slice()
	if err != nil {
		return nil, err
	}
	bData, err := b.Float32Slice()
	if err != nil {
		return nil, err
	}

	// Scalar broadcasting: a single-element operand applies to every element
	if b.NumElems == 1 && a.NumElems != 1 {
		result := make([]float32, a.NumElems)
		for i, x := range aData {
			result[i] = op(x, bData[0])
		}
		return NewTensor(a.Shape, Float32, a.Device, result)
	}
	if a.NumElems == 1 && b.NumElems != 1 {
		result := make([]float32, b.NumElems)
		for i, y := range bData {
			result[i] = op(aData[0], y)
		}
		return NewTensor(b.Shape, Float32, a.Device, result)
	}

	if !sameShape(a, b) {
		return nil, fmt.Errorf("shape mismatch: %v vs %v", a.Shape, b.Shape)
	}

	result := make([]float32, a.NumElems)
	for i := range result {
		result[i] = op(aData[i], bData[i])
	}
	return NewTensor(a.Shape, Float32, a.Device, result)
}

// Add computes a + b elementwise
func Add(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x + y })
}

// Sub computes a - b elementwise
func Sub(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x - y })
}

// Mul computes a * b elementwise
func Mul(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x * y })
}

// Div computes a / b elementwise
func Div(a, b *Tensor) (*Tensor, error) {
	return elementwise(a, b, func(x, y float32) float32 { return x / y })
}

// Sqrt computes the elementwise square root
func Sqrt(a *Tensor) (*Tensor, error) {
	aData, err := a.Float32Slice()
	if err != nil {
		return nil, err
	}

	result := make([]float32, a.NumElems)
	for i, x := range aData {
		result[i] = float32(math.Sqrt(float64(x)))
	}
	return NewTensor(a.Shape, Float32, a.Device, result)
}

// MatMul computes the matrix product of two 2D tensors: [m,k] x [k,n] -> [m,n]
func MatMul(a, b *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 || len(b.Shape) != 2 {
		return nil, fmt.Errorf("MatMul requires 2D tensors, got shapes %v and %v", a.Shape, b.Shape)
	}

	m, k := a.Shape[0], a.Shape[1]
	k2, n := b.Shape[0], b.Shape[1]
	if k != k2 {
		return nil, fmt.Errorf("inner dimension mismatch: %v x %v", a.Shape, b.Shape)
	}

	aData, err := a.Float32Slice()
	if err != nil {
		return nil, err
	}
	bData, err := b.Float32Slice()
	if err != nil {
		return nil, err
	}

	result := make([]float32, m*n)
	for i := 0; i < m; i++ {
		for l := 0; l < k; l++ {
			av := aData[i*k+l]
			if av == 0 {
				continue
			}
			row := bData[l*n : (l+1)*n]
			out := result[i*n : (i+1)*n]
			for j, bv := range row {
				out[j] += av * bv
			}
		}
	}

	return NewTensor([]int{m, n}, Float32, a.Device, result)
}

// Transpose returns the transpose of a 2D tensor
func Transpose(a *Tensor) (*Tensor, error) {
	if len(a.Shape) != 2 {
		return nil, fmt.Errorf("Transpose requires a 2D tensor, got shape %v", a.Shape)
	}

	rows, cols := a.Shape[0], a.Shape[1]
	aData, err := a.Float32Slice()
	if err != nil {
		return nil, err
	}

	result := make([]float32, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			result[j*rows+i] = aData[i*cols+j]
		}
	}

	return NewTensor([]int{cols, rows}, Float32, a.Device, result)
}
