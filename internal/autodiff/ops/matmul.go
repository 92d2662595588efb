package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// MatMulOp represents a matrix multiplication: output = a @ b.
//
// Backward pass:
//   - d(a@b)/da = outputGrad @ b^T
//   - d(a@b)/db = a^T @ outputGrad
type MatMulOp struct {
	a      *tensor.Tensor
	b      *tensor.Tensor
	output *tensor.Tensor
}

// NewMatMulOp creates a new MatMulOp.
func NewMatMulOp(a, b, output *tensor.Tensor) *MatMulOp {
	return &MatMulOp{a: a, b: b, output: output}
}

// Backward computes input gradients for matrix multiplication.
func (op *MatMulOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	gradA := backend.Gemm(false, true, outputGrad, op.b)
	gradB := backend.Gemm(true, false, op.a, outputGrad)
	return []*tensor.Tensor{gradA, gradB}
}

// Inputs returns the input tensors [a, b].
func (op *MatMulOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.a, op.b}
}

// Output returns the output tensor a @ b.
func (op *MatMulOp) Output() *tensor.Tensor {
	return op.output
}
