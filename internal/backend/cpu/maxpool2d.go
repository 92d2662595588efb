package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/tagger/internal/parallel"
	"github.com/born-ml/tagger/internal/tensor"
)

// MaxPool2D performs 2D max pooling with SAME padding.
//
// Input shape:  [batch, channels, height, width]
// Output shape: [batch, channels, ceil(height/stride), ceil(width/stride)]
//
// SAME padding pads just enough for every input row/column to be covered,
// putting the extra cell on the bottom/right. Padded cells never win the max.
// The returned indices hold, per output element, the flat input index of the
// winning element and are consumed by MaxPool2DBackward.
//
// Example (2x2 pool, stride=2):
//
//	Input: [[1,2,3,4],    Output: [[4,6],
//	        [5,6,7,8],             [12,14]]
//	        [9,10,11,12],
//	        [13,14,15,16]]
func (cpu *CPUBackend) MaxPool2D(input *tensor.Tensor, kernelSize, stride int) (*tensor.Tensor, []int) {
	inputShape := input.Shape()
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("maxpool2d: expected 4D input [N,C,H,W], got %dD", len(inputShape)))
	}
	if kernelSize <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid kernel size %d", kernelSize))
	}
	if stride <= 0 {
		panic(fmt.Sprintf("maxpool2d: invalid stride %d", stride))
	}

	N, C, H, W := inputShape.NCHW()
	HOut, padTop := samePool(H, kernelSize, stride)
	WOut, padLeft := samePool(W, kernelSize, stride)

	output := newOutput("maxpool2d", tensor.Shape{N, C, HOut, WOut})
	maxIndices := make([]int, output.NumElements())
	in, out := input.Data(), output.Data()

	parallel.For(N*C, func(plane int) {
		inBase := plane * H * W
		outBase := plane * HOut * WOut
		for oh := 0; oh < HOut; oh++ {
			h0 := oh*stride - padTop
			for ow := 0; ow < WOut; ow++ {
				w0 := ow*stride - padLeft
				best := float32(math.Inf(-1))
				bestIdx := -1
				for kh := max(h0, 0); kh < min(h0+kernelSize, H); kh++ {
					for kw := max(w0, 0); kw < min(w0+kernelSize, W); kw++ {
						idx := inBase + kh*W + kw
						if bestIdx < 0 || in[idx] > best {
							best, bestIdx = in[idx], idx
						}
					}
				}
				o := outBase + oh*WOut + ow
				out[o] = best
				maxIndices[o] = bestIdx
			}
		}
	}, cpu.par)

	return output, maxIndices
}

// PoolOutputSize returns ceil(size/stride), the SAME-padded pooled extent.
func PoolOutputSize(size, stride int) int {
	return (size + stride - 1) / stride
}

// samePool returns the output extent and the leading pad of a SAME pooling axis.
func samePool(size, kernelSize, stride int) (out, padBefore int) {
	out = PoolOutputSize(size, stride)
	padTotal := max((out-1)*stride+kernelSize-size, 0)
	return out, padTotal / 2
}
