package nn

import (
	"github.com/born-ml/tagger/internal/tensor"
)

// Parameter represents a named tensor owned by a layer.
//
// Trainable parameters (weights, biases, batch-norm scale and shift) are
// updated by the optimizer from their gradient. Buffers such as batch-norm
// running statistics use the same type but are never handed to the optimizer.
//
// Example:
//
//	weight := nn.NewParameter("dense1.weight", weightTensor)
//	grad := grads[weight.Tensor()]
type Parameter struct {
	name   string         // Parameter name (e.g., "conv1.weight")
	tensor *tensor.Tensor // The parameter tensor
	grad   *tensor.Tensor // Gradient tensor (set after the backward pass)
}

// NewParameter creates a new parameter.
func NewParameter(name string, t *tensor.Tensor) *Parameter {
	return &Parameter{
		name:   name,
		tensor: t,
	}
}

// Name returns the parameter name.
func (p *Parameter) Name() string {
	return p.name
}

// Tensor returns the parameter tensor.
func (p *Parameter) Tensor() *tensor.Tensor {
	return p.tensor
}

// Grad returns the gradient tensor.
//
// Returns nil if no gradient has been computed yet (before backward pass).
func (p *Parameter) Grad() *tensor.Tensor {
	return p.grad
}

// SetGrad sets the gradient tensor.
func (p *Parameter) SetGrad(grad *tensor.Tensor) {
	p.grad = grad
}

// ZeroGrad clears the gradient tensor.
func (p *Parameter) ZeroGrad() {
	p.grad = nil
}

// CollectGrads copies the gradient of every parameter out of a tape's gradient
// map. Parameters the loss does not depend on get a nil gradient.
func CollectGrads(params []*Parameter, grads map[*tensor.Tensor]*tensor.Tensor) {
	for _, p := range params {
		p.SetGrad(grads[p.Tensor()])
	}
}
