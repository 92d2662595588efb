package ops

import (
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// SigmoidCrossEntropyOp records the element-wise logistic loss of logits
// against constant binary labels.
//
// Backward pass:
//   - d_logits = d_output · (σ(logits) − labels)
//   - labels receive no gradient
type SigmoidCrossEntropyOp struct {
	logits *tensor.Tensor
	labels *tensor.Tensor
	output *tensor.Tensor
}

// NewSigmoidCrossEntropyOp creates a new SigmoidCrossEntropyOp.
func NewSigmoidCrossEntropyOp(logits, labels, output *tensor.Tensor) *SigmoidCrossEntropyOp {
	return &SigmoidCrossEntropyOp{logits: logits, labels: labels, output: output}
}

// Inputs returns the logits.
func (op *SigmoidCrossEntropyOp) Inputs() []*tensor.Tensor {
	return []*tensor.Tensor{op.logits}
}

// Output returns the per-element loss.
func (op *SigmoidCrossEntropyOp) Output() *tensor.Tensor {
	return op.output
}

// Backward computes the logits gradient.
func (op *SigmoidCrossEntropyOp) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) []*tensor.Tensor {
	return []*tensor.Tensor{backend.SigmoidCrossEntropyBackward(outputGrad, op.logits, op.labels)}
}
