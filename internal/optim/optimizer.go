// Package optim implements the optimizer that trains the tagger network.
//
// This package provides:
//   - Optimizer interface: Base interface for all optimizers
//   - RMSProp: RMSProp with momentum
//
// Example usage:
//
//	optimizer := optim.NewRMSProp(graph.Parameters(), optim.RMSPropConfig{LR: 1e-4})
//
//	ad.Tape().StartRecording()
//	loss := ...
//	grads := ad.Backward(loss)
//	optimizer.Step(grads)
//	optimizer.ZeroGrad()
package optim

import (
	"github.com/born-ml/tagger/internal/nn"
	"github.com/born-ml/tagger/internal/tensor"
)

// Optimizer is the base interface for all optimization algorithms.
//
// Optimizers update model parameters based on computed gradients to
// minimize the loss function during training.
type Optimizer interface {
	// Step applies gradient updates to all parameters.
	//
	// Takes a gradient map from Backward() and updates parameters in-place.
	// Parameters without an entry in grads are left untouched.
	Step(grads map[*tensor.Tensor]*tensor.Tensor)

	// ZeroGrad clears all parameter gradients.
	ZeroGrad()

	// GetLR returns the current learning rate.
	GetLR() float32

	// StateDict returns a copy of the optimizer slots for checkpointing.
	StateDict() map[string]*tensor.Tensor

	// LoadStateDict restores optimizer slots saved by StateDict.
	LoadStateDict(state map[string]*tensor.Tensor) error
}

// Config is the base configuration for all optimizers.
type Config struct {
	LR float32 // Learning rate
}

// getGradient safely retrieves gradient for a parameter.
//
// Returns nil if no gradient is found (parameter wasn't part of computation graph).
func getGradient(param *nn.Parameter, grads map[*tensor.Tensor]*tensor.Tensor) *tensor.Tensor {
	if param == nil {
		return nil
	}
	return grads[param.Tensor()]
}
