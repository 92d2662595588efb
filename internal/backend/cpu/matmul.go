package cpu

import (
	"fmt"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/born-ml/tagger/internal/tensor"
)

// MatMul performs matrix multiplication.
// For 2D tensors: (M, K) @ (K, N) -> (M, N)
func (cpu *CPUBackend) MatMul(a, b *tensor.Tensor) *tensor.Tensor {
	return cpu.Gemm(false, false, a, b)
}

// Gemm computes op(a) @ op(b) where op transposes its argument when the
// matching flag is set. Both inputs must be 2D.
//
// Backward passes of dense layers use the transposed forms:
//
//	dX = dY @ Wᵀ    Gemm(false, true, dY, W)
//	dW = Xᵀ @ dY    Gemm(true, false, X, dY)
func (cpu *CPUBackend) Gemm(transA, transB bool, a, b *tensor.Tensor) *tensor.Tensor {
	aShape, bShape := a.Shape(), b.Shape()
	if len(aShape) != 2 || len(bShape) != 2 {
		panic(fmt.Sprintf("matmul: only 2D tensors supported, got %dD and %dD", len(aShape), len(bShape)))
	}

	m, k := aShape[0], aShape[1]
	if transA {
		m, k = k, m
	}
	kAlt, n := bShape[0], bShape[1]
	if transB {
		kAlt, n = n, kAlt
	}
	if k != kAlt {
		panic(fmt.Sprintf("matmul: shape mismatch %v (trans=%t) @ %v (trans=%t)", aShape, transA, bShape, transB))
	}

	result := newOutput("matmul", tensor.Shape{m, n})
	sgemm(transA, transB, m, n, k, a.Data(), b.Data(), result.Data(), 0)
	return result
}

// sgemm computes c = op(a) @ op(b) + beta*c for row-major buffers, where op(a) is
// [m,k] and op(b) is [k,n].
func sgemm(transA, transB bool, m, n, k int, a, b, c []float32, beta float32) {
	ta, tb := blas.NoTrans, blas.NoTrans
	aRows, aCols := m, k
	if transA {
		ta = blas.Trans
		aRows, aCols = k, m
	}
	bRows, bCols := k, n
	if transB {
		tb = blas.Trans
		bRows, bCols = n, k
	}

	blas32.Gemm(ta, tb, 1,
		blas32.General{Rows: aRows, Cols: aCols, Stride: aCols, Data: a},
		blas32.General{Rows: bRows, Cols: bCols, Stride: bCols, Data: b},
		beta,
		blas32.General{Rows: m, Cols: n, Stride: n, Data: c},
	)
}
