package cpu

import (
	"math"

	"github.com/born-ml/tagger/internal/tensor"
)

// ReLU computes max(x, 0) element-wise.
func (cpu *CPUBackend) ReLU(x *tensor.Tensor) *tensor.Tensor {
	result := newOutput("relu", x.Shape())
	dst := result.Data()
	for i, v := range x.Data() {
		if v > 0 {
			dst[i] = v
		}
	}
	return result
}

// ReLUBackward passes grad where the forward output was positive.
func (cpu *CPUBackend) ReLUBackward(output, grad *tensor.Tensor) *tensor.Tensor {
	result := newOutput("relu backward", grad.Shape())
	dst, out := result.Data(), output.Data()
	for i, g := range grad.Data() {
		if out[i] > 0 {
			dst[i] = g
		}
	}
	return result
}

// Sigmoid computes 1/(1+e^{-x}) element-wise.
func (cpu *CPUBackend) Sigmoid(x *tensor.Tensor) *tensor.Tensor {
	result := newOutput("sigmoid", x.Shape())
	dst := result.Data()
	for i, v := range x.Data() {
		dst[i] = Sigmoid32(v)
	}
	return result
}

// Sigmoid32 is a numerically stable scalar sigmoid.
func Sigmoid32(x float32) float32 {
	if x >= 0 {
		return float32(1 / (1 + math.Exp(-float64(x))))
	}
	e := math.Exp(float64(x))
	return float32(e / (1 + e))
}
