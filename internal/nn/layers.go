package nn

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/tensor"
)

// Dense is a fully connected layer: output = input @ weight + bias.
//
// Weight shape: [in_features, out_features]
// Bias shape:   [out_features]
type Dense struct {
	inFeatures  int
	outFeatures int
	weight      *Parameter
	bias        *Parameter
}

// NewDense creates a fully connected layer with Xavier weights and zero bias.
func NewDense(name string, inFeatures, outFeatures int, rng *rand.Rand) *Dense {
	if inFeatures <= 0 || outFeatures <= 0 {
		panic(fmt.Sprintf("dense: invalid features in=%d, out=%d", inFeatures, outFeatures))
	}
	weight := Xavier(inFeatures, outFeatures, tensor.Shape{inFeatures, outFeatures}, rng)
	return &Dense{
		inFeatures:  inFeatures,
		outFeatures: outFeatures,
		weight:      NewParameter(name+".weight", weight),
		bias:        NewParameter(name+".bias", tensor.Zeros(tensor.Shape{outFeatures})),
	}
}

// Forward computes input @ weight + bias for input [batch, in_features].
func (d *Dense) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, _ Mode) *tensor.Tensor {
	shape := input.Shape()
	if len(shape) != 2 || shape[1] != d.inFeatures {
		panic(fmt.Sprintf("dense: expected input [N,%d], got %v", d.inFeatures, shape))
	}
	return ad.AddBias(ad.MatMul(input, d.weight.Tensor()), d.bias.Tensor())
}

// Parameters returns [weight, bias].
func (d *Dense) Parameters() []*Parameter {
	return []*Parameter{d.weight, d.bias}
}

// ReLU applies max(0, x).
type ReLU struct{}

// NewReLU creates a ReLU activation.
func NewReLU() *ReLU { return &ReLU{} }

// Forward applies the activation.
func (r *ReLU) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, _ Mode) *tensor.Tensor {
	return ad.ReLU(input)
}

// Parameters returns nil.
func (r *ReLU) Parameters() []*Parameter { return nil }

// MaxPool2D is a max-pooling layer with SAME padding.
type MaxPool2D struct {
	kernelSize int
	stride     int
}

// NewMaxPool2D creates a max-pooling layer.
func NewMaxPool2D(kernelSize, stride int) *MaxPool2D {
	return &MaxPool2D{kernelSize: kernelSize, stride: stride}
}

// Forward pools the input.
func (m *MaxPool2D) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, _ Mode) *tensor.Tensor {
	return ad.MaxPool2D(input, m.kernelSize, m.stride)
}

// Parameters returns nil.
func (m *MaxPool2D) Parameters() []*Parameter { return nil }

// Flatten reshapes [N, ...] to [N, prod(...)].
type Flatten struct{}

// NewFlatten creates a Flatten layer.
func NewFlatten() *Flatten { return &Flatten{} }

// Forward flattens every axis but the first.
func (f *Flatten) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, _ Mode) *tensor.Tensor {
	n := input.Shape()[0]
	return ad.Reshape(input, n, input.NumElements()/n)
}

// Parameters returns nil.
func (f *Flatten) Parameters() []*Parameter { return nil }

// Dropout zeroes activations with probability 1 − KeepProb during training.
// It is the identity in inference mode.
type Dropout struct{}

// NewDropout creates a Dropout layer.
func NewDropout() *Dropout { return &Dropout{} }

// Forward applies dropout when mode.Training is set.
func (d *Dropout) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, mode Mode) *tensor.Tensor {
	if !mode.Training || mode.KeepProb >= 1 {
		return input
	}
	if mode.RNG == nil {
		panic("dropout: training mode requires an RNG")
	}
	return ad.Dropout(input, mode.KeepProb, mode.RNG)
}

// Parameters returns nil.
func (d *Dropout) Parameters() []*Parameter { return nil }
