package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// AddOp represents element-wise addition: output = a + b.
//
// Backward pass:
//   - d(a+b)/da = 1, so grad_a = outputGrad
//   - d(a+b)/db = 1, so grad_b = outputGrad
type AddOp struct {
	a      *tensor.Tensor
	b      *tensor.Tensor
	output *tensor.Tensor
}

// NewAddOp creates a new AddOp.
func NewAddOp(a, b, output *tensor.Tensor) *AddOp {
	return &AddOp{a: a, b: b, output: output}
}

// Backward passes the output gradient to both inputs.
func (op *AddOp) Backward(outputGrad *tensor.Tensor, _ *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{outputGrad, outputGrad}
}

// Inputs returns the input tensors [a, b].
func (op *AddOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.a, op.b}
}

// Output returns the output tensor a + b.
func (op *AddOp) Output() *tensor.Tensor {
	return op.output
}
