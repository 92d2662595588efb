package cpu

import (
	"fmt"

	"github.com/born-ml/tagger/internal/tensor"
)

// Add performs element-wise addition of two tensors with equal shapes.
func (cpu *CPUBackend) Add(a, b *tensor.Tensor) *tensor.Tensor {
	if !a.Shape().Equal(b.Shape()) {
		panic(fmt.Sprintf("add: shape mismatch %v vs %v", a.Shape(), b.Shape()))
	}
	result := newOutput("add", a.Shape())
	dst, bd := result.Data(), b.Data()
	for i, v := range a.Data() {
		dst[i] = v + bd[i]
	}
	return result
}

// Scale multiplies every element by s.
func (cpu *CPUBackend) Scale(x *tensor.Tensor, s float32) *tensor.Tensor {
	result := newOutput("scale", x.Shape())
	dst := result.Data()
	for i, v := range x.Data() {
		dst[i] = v * s
	}
	return result
}

// MulBroadcast multiplies x by m, repeating m over x's leading elements.
// len(m) must divide len(x): a [L] vector scales every row of a [B,L] matrix,
// and a mask with x's own shape is applied element-wise.
func (cpu *CPUBackend) MulBroadcast(x, m *tensor.Tensor) *tensor.Tensor {
	xd, md := x.Data(), m.Data()
	if len(md) == 0 || len(xd)%len(md) != 0 {
		panic(fmt.Sprintf("mul: cannot broadcast %v over %v", m.Shape(), x.Shape()))
	}
	result := newOutput("mul", x.Shape())
	dst := result.Data()
	for i, v := range xd {
		dst[i] = v * md[i%len(md)]
	}
	return result
}

// AddBias adds a per-channel bias to x of shape [N, C, ...].
func (cpu *CPUBackend) AddBias(x, bias *tensor.Tensor) *tensor.Tensor {
	n, c, inner := channelLayout("add bias", x.Shape())
	if bias.NumElements() != c {
		panic(fmt.Sprintf("add bias: bias has %d elements, input has %d channels", bias.NumElements(), c))
	}
	result := newOutput("add bias", x.Shape())
	src, dst, b := x.Data(), result.Data(), bias.Data()
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			off := (i*c + ch) * inner
			for j := off; j < off+inner; j++ {
				dst[j] = src[j] + b[ch]
			}
		}
	}
	return result
}

// BiasBackward reduces grad [N, C, ...] to the per-channel bias gradient [C].
func (cpu *CPUBackend) BiasBackward(grad *tensor.Tensor) *tensor.Tensor {
	n, c, inner := channelLayout("bias backward", grad.Shape())
	result := newOutput("bias backward", tensor.Shape{c})
	g, dst := grad.Data(), result.Data()
	for i := 0; i < n; i++ {
		for ch := 0; ch < c; ch++ {
			off := (i*c + ch) * inner
			var sum float32
			for _, v := range g[off : off+inner] {
				sum += v
			}
			dst[ch] += sum
		}
	}
	return result
}

// Mean reduces x to a single-element tensor holding its arithmetic mean.
// Accumulation is done in float64.
func (cpu *CPUBackend) Mean(x *tensor.Tensor) *tensor.Tensor {
	var sum float64
	for _, v := range x.Data() {
		sum += float64(v)
	}
	result := newOutput("mean", tensor.Shape{1})
	result.Data()[0] = float32(sum / float64(x.NumElements()))
	return result
}

// SumSquares returns Σx² as a single-element tensor.
func (cpu *CPUBackend) SumSquares(x *tensor.Tensor) *tensor.Tensor {
	var sum float64
	for _, v := range x.Data() {
		sum += float64(v) * float64(v)
	}
	result := newOutput("sum squares", tensor.Shape{1})
	result.Data()[0] = float32(sum)
	return result
}

// channelLayout splits a [N, C, ...] shape into batch, channels and the
// number of elements per (batch, channel) pair.
func channelLayout(op string, shape tensor.Shape) (n, c, inner int) {
	if len(shape) < 2 {
		panic(fmt.Sprintf("%s: expected at least 2D input [N,C,...], got %v", op, shape))
	}
	inner = 1
	for _, d := range shape[2:] {
		inner *= d
	}
	return shape[0], shape[1], inner
}
