// Package ops defines operation interfaces and implementations for automatic differentiation.
//
// Each operation implements the Operation interface, which provides:
//   - Forward pass: computed by the backend before the op is recorded
//   - Backward pass: computes gradients for inputs given output gradient
//
// Supported operations:
//   - Conv2DOp, MaxPool2DOp: the convolutional trunk
//   - BiasOp, BatchNormOp, ReLUOp: per-channel affine, normalization and activation
//   - MatMulOp, ReshapeOp: dense layers and flattening
//   - MulConstOp, ScaleOp, AddOp: dropout masks, class weights, loss composition
//   - SigmoidCrossEntropyOp, MeanOp, SumSquaresOp: the loss
package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// Operation represents a differentiable operation in the computation graph.
// Each operation records its inputs and output during the forward pass,
// and computes input gradients during the backward pass.
type Operation interface {
	// Backward computes gradients for inputs given the output gradient.
	// Returns a slice of gradients corresponding to each input tensor;
	// a nil entry means no gradient flows to that input.
	Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor

	// Inputs returns the input tensors for this operation.
	Inputs() []*tensor.Tensor

	// Output returns the output tensor produced by this operation.
	Output() *tensor.Tensor
}
