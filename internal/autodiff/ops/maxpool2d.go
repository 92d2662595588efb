package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// MaxPool2DOp records a SAME max-pooling operation.
//
// Backward routes each output gradient to the input element that won the max,
// using the argmax indices captured during the forward pass.
type MaxPool2DOp struct {
	input      *tensor.Tensor
	output     *tensor.Tensor
	maxIndices []int
}

// NewMaxPool2DOp creates a new MaxPool2D operation.
func NewMaxPool2DOp(input, output *tensor.Tensor, maxIndices []int) *MaxPool2DOp {
	return &MaxPool2DOp{
		input:      input,
		output:     output,
		maxIndices: maxIndices,
	}
}

// Inputs returns the input tensor.
func (op *MaxPool2DOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the pooled tensor.
func (op *MaxPool2DOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes the input gradient.
func (op *MaxPool2DOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.MaxPool2DBackward(op.input.Shape(), outputGrad, op.maxIndices)}
}
