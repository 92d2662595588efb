// Package nn implements the neural network layers of the tagger:
//   - Module interface: Base interface for all NN components
//   - Parameter: Named tensors, trainable or running statistics
//   - Conv2D, BatchNorm2D, MaxPool2D: the convolutional trunk
//   - Flatten, Dense, Dropout, ReLU: the classifier head
//   - Sequential: Container for stacking layers
//
// Layers compute through an autodiff backend, so a forward pass under a
// recording tape can be differentiated afterwards.
package nn

import (
	"math/rand"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/tensor"
)

// Mode carries the per-call switches that change layer behavior between
// training and inference.
type Mode struct {
	// Training selects batch statistics in BatchNorm2D and enables Dropout.
	Training bool
	// KeepProb is the dropout keep probability used when Training is set.
	KeepProb float32
	// RNG draws dropout masks. Required when Training and KeepProb < 1.
	RNG *rand.Rand
}

// Inference is the mode used for evaluation and prediction.
var Inference = Mode{Training: false, KeepProb: 1}

// Module is the base interface for all neural network components.
//
// Every NN module must implement:
//   - Forward: Compute output from input
//   - Parameters: Return all trainable parameters
type Module interface {
	// Forward computes the output of the module given an input tensor.
	Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, mode Mode) *tensor.Tensor

	// Parameters returns all trainable parameters of this module.
	// Returns an empty slice for modules without trainable parameters.
	Parameters() []*Parameter
}

// Buffered is implemented by modules that keep non-trainable state which
// must be checkpointed alongside the parameters (BatchNorm2D running stats).
type Buffered interface {
	Buffers() []*Parameter
}

// Updater is implemented by modules that defer a state update computed during
// a training forward pass until the caller applies it.
type Updater interface {
	// ApplyUpdates commits the pending update, if any, and reports whether one was applied.
	ApplyUpdates() bool
}
