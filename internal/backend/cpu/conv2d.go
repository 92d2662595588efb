package cpu

import (
	"fmt"

	"github.com/born-ml/tagger/internal/parallel"
	"github.com/born-ml/tagger/internal/tensor"
)

// Conv2D performs 2D convolution using the im2col algorithm.
//
// Input shape: [batch, in_channels, height, width]
// Kernel shape: [out_channels, in_channels, kernel_h, kernel_w]
// Output shape: [batch, out_channels, out_h, out_w]
//
// Algorithm, per image of the batch:
//  1. Im2col: unfold the padded input into col [C_in*K_h*K_w, H_out*W_out]
//  2. GEMM: kernel [C_out, C_in*K_h*K_w] @ col -> [C_out, H_out*W_out]
//
// The GEMM result is already the NCHW slab of that image, so no rearrangement is
// needed. Images are spread across workers, each owning one col buffer.
//
// Reference: "High Performance Convolutional Neural Networks for Document Processing"
// (Chellapilla et al., 2006).
func (cpu *CPUBackend) Conv2D(input, kernel *tensor.Tensor, stride, padding int) *tensor.Tensor {
	g := newConvGeometry(input.Shape(), kernel.Shape(), stride, padding)

	output := newOutput("conv2d", tensor.Shape{g.N, g.COut, g.HOut, g.WOut})
	in, k, out := input.Data(), kernel.Data(), output.Data()

	cpu.forEachImage(g.N, g.colSize(), func(n int, col []float32) {
		g.im2col(col, in[n*g.inSize():(n+1)*g.inSize()])
		sgemm(false, false, g.COut, g.spatial(), g.patch(), k, col,
			out[n*g.outSize():(n+1)*g.outSize()], 0)
	})

	return output
}

// SamePadding returns the symmetric padding that keeps H_out == H for an odd
// kernel at stride 1.
func SamePadding(kernelSize int) int {
	return (kernelSize - 1) / 2
}

// convGeometry holds the dimensions shared by the forward and backward kernels.
type convGeometry struct {
	N, CIn, H, W    int
	COut, KH, KW    int
	HOut, WOut      int
	stride, padding int
}

func newConvGeometry(inputShape, kernelShape tensor.Shape, stride, padding int) convGeometry {
	if len(inputShape) != 4 {
		panic(fmt.Sprintf("conv2d: input must be 4D [N,C,H,W], got %dD", len(inputShape)))
	}
	if len(kernelShape) != 4 {
		panic(fmt.Sprintf("conv2d: kernel must be 4D [C_out,C_in,K_h,K_w], got %dD", len(kernelShape)))
	}
	if stride <= 0 || padding < 0 {
		panic(fmt.Sprintf("conv2d: invalid stride %d or padding %d", stride, padding))
	}

	g := convGeometry{stride: stride, padding: padding}
	g.N, g.CIn, g.H, g.W = inputShape.NCHW()
	var cInK int
	g.COut, cInK, g.KH, g.KW = kernelShape.NCHW()

	if g.CIn != cInK {
		panic(fmt.Sprintf("conv2d: input channels %d != kernel channels %d", g.CIn, cInK))
	}

	g.HOut = (g.H+2*padding-g.KH)/stride + 1
	g.WOut = (g.W+2*padding-g.KW)/stride + 1
	if g.HOut <= 0 || g.WOut <= 0 {
		panic(fmt.Sprintf("conv2d: invalid output dimensions: out_h=%d, out_w=%d (check stride/padding)", g.HOut, g.WOut))
	}
	return g
}

func (g convGeometry) patch() int   { return g.CIn * g.KH * g.KW }
func (g convGeometry) spatial() int { return g.HOut * g.WOut }
func (g convGeometry) colSize() int { return g.patch() * g.spatial() }
func (g convGeometry) inSize() int  { return g.CIn * g.H * g.W }
func (g convGeometry) outSize() int { return g.COut * g.spatial() }

// im2col unfolds one image [C, H, W] into col [C*K_h*K_w, H_out*W_out].
// Row r = (c, kh, kw) holds, for every output position, the input value that
// kernel tap multiplies. Out-of-bounds taps read as zero padding.
func (g convGeometry) im2col(col, img []float32) {
	spatial := g.spatial()
	row := 0
	for c := 0; c < g.CIn; c++ {
		plane := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				dst := col[row*spatial : (row+1)*spatial]
				i := 0
				for oh := 0; oh < g.HOut; oh++ {
					h := oh*g.stride - g.padding + kh
					if h < 0 || h >= g.H {
						for ow := 0; ow < g.WOut; ow++ {
							dst[i] = 0
							i++
						}
						continue
					}
					src := plane[h*g.W : (h+1)*g.W]
					for ow := 0; ow < g.WOut; ow++ {
						w := ow*g.stride - g.padding + kw
						if w >= 0 && w < g.W {
							dst[i] = src[w]
						} else {
							dst[i] = 0
						}
						i++
					}
				}
				row++
			}
		}
	}
}

// col2im is the adjoint of im2col: it scatter-adds col back into one image
// [C, H, W]. img must be zeroed by the caller.
func (g convGeometry) col2im(img, col []float32) {
	spatial := g.spatial()
	row := 0
	for c := 0; c < g.CIn; c++ {
		plane := img[c*g.H*g.W : (c+1)*g.H*g.W]
		for kh := 0; kh < g.KH; kh++ {
			for kw := 0; kw < g.KW; kw++ {
				src := col[row*spatial : (row+1)*spatial]
				i := 0
				for oh := 0; oh < g.HOut; oh++ {
					h := oh*g.stride - g.padding + kh
					if h < 0 || h >= g.H {
						i += g.WOut
						continue
					}
					dst := plane[h*g.W : (h+1)*g.W]
					for ow := 0; ow < g.WOut; ow++ {
						w := ow*g.stride - g.padding + kw
						if w >= 0 && w < g.W {
							dst[w] += src[i]
						}
						i++
					}
				}
				row++
			}
		}
	}
}

// forEachImage runs f for every image index, handing each worker a private
// scratch buffer of scratchSize floats.
func (cpu *CPUBackend) forEachImage(n, scratchSize int, f func(n int, scratch []float32)) {
	parallel.ForRange(n, func(start, end int) {
		scratch := make([]float32, scratchSize)
		for i := start; i < end; i++ {
			f(i, scratch)
		}
	}, cpu.par)
}
