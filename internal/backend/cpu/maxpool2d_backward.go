package cpu

import (
	"fmt"

	"github.com/born-ml/tagger/internal/tensor"
)

// MaxPool2DBackward computes gradient w.r.t. input for MaxPool2D.
//
// Gradients flow only to the positions that won the max in the forward pass;
// every other position in a pooling window receives zero. Windows overlap when
// kernelSize > stride, so contributions are accumulated.
//
// References:
//   - CS231n: Backprop for pooling layers
func (cpu *CPUBackend) MaxPool2DBackward(inputShape tensor.Shape, grad *tensor.Tensor, maxIndices []int) *tensor.Tensor {
	if len(maxIndices) != grad.NumElements() {
		panic(fmt.Sprintf("MaxPool2DBackward: maxIndices length %d != expected %d", len(maxIndices), grad.NumElements()))
	}

	inputGrad := newOutput("MaxPool2DBackward", inputShape)
	dx, dy := inputGrad.Data(), grad.Data()
	for o, idx := range maxIndices {
		dx[idx] += dy[o]
	}
	return inputGrad
}
