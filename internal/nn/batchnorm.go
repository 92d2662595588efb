package nn

import (
	"fmt"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/tensor"
)

// Batch-norm defaults.
const (
	DefaultBNDecay   = 0.99
	DefaultBNEpsilon = 1e-3
)

// BatchNorm2D normalizes each channel of an [N, C, H, W] input.
//
// In training mode it normalizes with the batch's own statistics and records
// them as a pending update; ApplyUpdates later folds them into the running
// averages:
//
//	running = decay · running + (1 − decay) · batch
//
// In inference mode it normalizes with the running averages.
type BatchNorm2D struct {
	channels int
	decay    float32
	eps      float32

	gamma       *Parameter
	beta        *Parameter
	runningMean *Parameter
	runningVar  *Parameter

	pendingMean []float32
	pendingVar  []float32
}

// NewBatchNorm2D creates a batch-norm layer with γ = 1, β = 0, running mean 0
// and running variance 1.
func NewBatchNorm2D(name string, channels int) *BatchNorm2D {
	if channels <= 0 {
		panic(fmt.Sprintf("batchnorm: invalid channels %d", channels))
	}
	shape := tensor.Shape{channels}
	return &BatchNorm2D{
		channels:    channels,
		decay:       DefaultBNDecay,
		eps:         DefaultBNEpsilon,
		gamma:       NewParameter(name+".gamma", tensor.Ones(shape)),
		beta:        NewParameter(name+".beta", tensor.Zeros(shape)),
		runningMean: NewParameter(name+".running_mean", tensor.Zeros(shape)),
		runningVar:  NewParameter(name+".running_var", tensor.Ones(shape)),
	}
}

// Forward normalizes the input according to mode.
func (bn *BatchNorm2D) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, mode Mode) *tensor.Tensor {
	if c := input.Shape()[1]; c != bn.channels {
		panic(fmt.Sprintf("batchnorm: input channels %d != expected %d", c, bn.channels))
	}

	if !mode.Training {
		return ad.Inner().BatchNormInference(input, bn.gamma.Tensor(), bn.beta.Tensor(),
			bn.runningMean.Tensor(), bn.runningVar.Tensor(), bn.eps)
	}

	out, stats := ad.BatchNormTrain(input, bn.gamma.Tensor(), bn.beta.Tensor(), bn.eps)
	bn.pendingMean = stats.Mean
	bn.pendingVar = stats.Variance
	return out
}

// ApplyUpdates folds the statistics of the last training forward pass into
// the running averages.
func (bn *BatchNorm2D) ApplyUpdates() bool {
	if bn.pendingMean == nil {
		return false
	}
	mean, variance := bn.runningMean.Tensor().Data(), bn.runningVar.Tensor().Data()
	for c := range mean {
		mean[c] = bn.decay*mean[c] + (1-bn.decay)*bn.pendingMean[c]
		variance[c] = bn.decay*variance[c] + (1-bn.decay)*bn.pendingVar[c]
	}
	bn.pendingMean, bn.pendingVar = nil, nil
	return true
}

// Parameters returns [gamma, beta].
func (bn *BatchNorm2D) Parameters() []*Parameter {
	return []*Parameter{bn.gamma, bn.beta}
}

// Buffers returns [running_mean, running_var].
func (bn *BatchNorm2D) Buffers() []*Parameter {
	return []*Parameter{bn.runningMean, bn.runningVar}
}
