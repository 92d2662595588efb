package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// BatchNormOp records a training-mode batch normalization, which normalizes
// with the statistics of the current batch. Gradients flow through those
// statistics as well as through γ and β.
type BatchNormOp struct {
	input  *tensor.Tensor
	gamma  *tensor.Tensor
	beta   *tensor.Tensor
	output *tensor.Tensor
	stats  cpu.BatchNormStats
}

// NewBatchNormOp creates a new BatchNormOp from the forward pass results.
func NewBatchNormOp(input, gamma, beta, output *tensor.Tensor, stats cpu.BatchNormStats) *BatchNormOp {
	return &BatchNormOp{
		input:  input,
		gamma:  gamma,
		beta:   beta,
		output: output,
		stats:  stats,
	}
}

// Inputs returns [input, gamma, beta].
func (op *BatchNormOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.input, op.gamma, op.beta}
}

// Output returns the normalized tensor.
func (op *BatchNormOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes gradients for input, gamma and beta.
func (op *BatchNormOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	dx, dgamma, dbeta := backend.BatchNormBackward(outputGrad, op.gamma, op.stats)
	return []*tensor.Tensor{dx, dgamma, dbeta}
}
