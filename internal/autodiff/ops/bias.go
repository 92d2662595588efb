package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// BiasOp records output = input + bias, with bias [C] broadcast over every
// axis of input [N, C, ...] except the channel axis.
//
// Backward:
//   - d_input = d_output
//   - d_bias  = Σ d_output over the batch and trailing axes
type BiasOp struct {
	input  *tensor.Tensor
	bias   *tensor.Tensor
	output *tensor.Tensor
}

// NewBiasOp creates a new BiasOp.
func NewBiasOp(input, bias, output *tensor.Tensor) *BiasOp {
	return &BiasOp{input: input, bias: bias, output: output}
}

// Inputs returns [input, bias].
func (op *BiasOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.bias}
}

// Output returns the biased tensor.
func (op *BiasOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes gradients for input and bias.
func (op *BiasOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{outputGrad, backend.BiasBackward(outputGrad)}
}
