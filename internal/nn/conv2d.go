package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// Conv2D is a 2D convolutional layer with SAME padding and stride 1.
//
// Performs convolution: output = Conv2D(input, weight) + bias
//
// Input shape:  [batch, in_channels, height, width]
// Weight shape: [out_channels, in_channels, kernel, kernel]
// Bias shape:   [out_channels]
// Output shape: [batch, out_channels, height, width]
type Conv2D struct {
	inChannels  int
	outChannels int
	kernelSize  int
	padding     int

	weight *Parameter
	bias   *Parameter
}

// NewConv2D creates a new 2D convolutional layer with Xavier initialization.
//
// Initialization:
//   - Weights: Xavier/Glorot uniform initialization
//   - Bias: Zeros
func NewConv2D(name string, inChannels, outChannels, kernelSize int, rng *rand.Rand) *Conv2D {
	if inChannels <= 0 || outChannels <= 0 {
		panic(fmt.Sprintf("conv2d: invalid channels in=%d, out=%d", inChannels, outChannels))
	}
	if kernelSize <= 0 || kernelSize%2 == 0 {
		panic(fmt.Sprintf("conv2d: SAME convolution needs an odd kernel size, got %d", kernelSize))
	}

	// For Conv2D:
	//   fan_in = in_channels * kernel_h * kernel_w
	//   fan_out = out_channels * kernel_h * kernel_w
	area := kernelSize * kernelSize
	weight := Xavier(inChannels*area, outChannels*area,
		tensor.Shape{outChannels, inChannels, kernelSize, kernelSize}, rng)

	return &Conv2D{
		inChannels:  inChannels,
		outChannels: outChannels,
		kernelSize:  kernelSize,
		padding:     cpu.SamePadding(kernelSize),
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outChannels})),
	}
}

// Forward performs the forward pass.
func (c *Conv2D) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, _ Mode) *tensor.Tensor {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if inputShape[1] != c.inChannels {
		panic(fmt.Sprintf("conv2d: input channels %d != expected %d", inputShape[1], c.inChannels))
	}

	out := ad.Conv2D(input, c.weight.Tensor(), 1, c.padding)
	return ad.AddBias(out, c.bias.Tensor())
}

// Parameters returns [weight, bias].
func (c *Conv2D) Parameters() []*Parameter {
	return []*Parameter{c.weight, c.bias}
}

// Weight returns the kernel parameter.
func (c *Conv2D) Weight() *Parameter {
	return c.weight
}

// Bias returns the bias parameter.
func (c *Conv2D) Bias() *Parameter {
	return c.bias
}

// OutChannels returns the number of filters.
func (c *Conv2D) OutChannels() int {
	return c.outChannels
}
