package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// MulConstOp records output = input * factor where factor is a constant tensor
// broadcast over the input (a dropout mask, or per-label class weights).
// No gradient flows to factor.
type MulConstOp struct {
	input  *tensor.Tensor
	factor *tensor.Tensor
	output *tensor.Tensor
}

// NewMulConstOp creates a new MulConstOp.
func NewMulConstOp(input, factor, output *tensor.Tensor) *MulConstOp {
	return &MulConstOp{input: input, factor: factor, output: output}
}

// Inputs returns the input tensor.
func (op *MulConstOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the scaled tensor.
func (op *MulConstOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes d_input = d_output * factor.
func (op *MulConstOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.MulBroadcast(outputGrad, op.factor)}
}

// ScaleOp records output = input * s for a scalar constant s.
type ScaleOp struct {
	input  *tensor.Tensor
	output *tensor.Tensor
	scale  float32
}

// NewScaleOp creates a new ScaleOp.
func NewScaleOp(input, output *tensor.Tensor, scale float32) *ScaleOp {
	return &ScaleOp{input: input, output: output, scale: scale}
}

// Inputs returns the input tensor.
func (op *ScaleOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input}
}

// Output returns the scaled tensor.
func (op *ScaleOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes d_input = d_output * s.
func (op *ScaleOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.Scale(outputGrad, op.scale)}
}
