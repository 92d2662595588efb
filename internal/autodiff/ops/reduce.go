package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// MeanOp records the reduction of a tensor to its scalar mean.
// Every input element receives outputGrad / n.
type MeanOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

// NewMeanOp creates a new MeanOp.
func NewMeanOp(input, output *tensor.Tensor) *MeanOp {
	return &MeanOp{input: input, output: output}
}

// Inputs returns the input tensor.
func (op *MeanOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the scalar mean.
func (op *MeanOp) Output() *tensor.Tensor {
	return op.output
}

// Backward spreads the scalar gradient evenly over the input.
func (op *MeanOp) Backward(outputGrad *tensor.Tensor, _ *cpu.CPUBackend) []*tensor.Tensor {
	g := outputGrad.Item() / float32(op.input.NumElements())
	return []*tensor.Tensor{tensor.Full(op.input.Shape(), g)}
}

// SumSquaresOp records output = Σ input². Backward: d_input = 2 · input · d_output.
type SumSquaresOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
}

// NewSumSquaresOp creates a new SumSquaresOp.
func NewSumSquaresOp(input, output *tensor.Tensor) *SumSquaresOp {
	return &SumSquaresOp{input: input, output: output}
}

// Inputs returns the input tensor.
func (op *SumSquaresOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the scalar sum of squares.
func (op *SumSquaresOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes 2 · input · d_output.
func (op *SumSquaresOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.Scale(op.input, 2*outputGrad.Item())}
}
