package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/tagger/internal/tensor"
)

// SigmoidCrossEntropy computes the element-wise logistic loss between logits z
// and binary labels y in the overflow-free form
//
//	max(z, 0) − z·y + log(1 + e^{−|z|})
//
// The output has the shape of logits; no reduction across labels is done.
func (cpu *CPUBackend) SigmoidCrossEntropy(logits, labels *tensor.Tensor) *tensor.Tensor {
	if !logits.Shape().Equal(labels.Shape()) {
		panic(fmt.Sprintf("sigmoid cross entropy: logits %v vs labels %v", logits.Shape(), labels.Shape()))
	}
	result := newOutput("sigmoid cross entropy", logits.Shape())
	dst, y := result.Data(), labels.Data()
	for i, z := range logits.Data() {
		zf, yf := float64(z), float64(y[i])
		dst[i] = float32(math.Max(zf, 0) - zf*yf + math.Log1p(math.Exp(-math.Abs(zf))))
	}
	return result
}

// SigmoidCrossEntropyBackward returns grad · (σ(z) − y).
func (cpu *CPUBackend) SigmoidCrossEntropyBackward(grad, logits, labels *tensor.Tensor) *tensor.Tensor {
	result := newOutput("sigmoid cross entropy backward", logits.Shape())
	dst, g, y := result.Data(), grad.Data(), labels.Data()
	for i, z := range logits.Data() {
		dst[i] = g[i] * (Sigmoid32(z) - y[i])
	}
	return result
}
