package cpu

import (
	"fmt"
	"sync"

	"github.com/born-ml/tagger/internal/parallel"
	"github.com/born-ml/tagger/internal/tensor"
)

// Conv2DInputBackward computes gradient w.r.t. input using transposed convolution.
//
// Per image: dcol = kernelᵀ [C_in*K_h*K_w, C_out] @ grad [C_out, H_out*W_out],
// then col2im scatters dcol back onto the input positions each tap read.
//
// References:
//   - "A guide to convolution arithmetic for deep learning" (Dumoulin & Visin, 2016)
func (cpu *CPUBackend) Conv2DInputBackward(input, kernel, grad *tensor.Tensor, stride, padding int) *tensor.Tensor {
	g := newConvGeometry(input.Shape(), kernel.Shape(), stride, padding)
	checkConvGrad(g, grad.Shape())

	inputGrad := newOutput("Conv2DInputBackward", input.Shape())
	k, dy, dx := kernel.Data(), grad.Data(), inputGrad.Data()

	cpu.forEachImage(g.N, g.colSize(), func(n int, dcol []float32) {
		sgemm(true, false, g.patch(), g.spatial(), g.COut, k,
			dy[n*g.outSize():(n+1)*g.outSize()], dcol, 0)
		g.col2im(dx[n*g.inSize():(n+1)*g.inSize()], dcol)
	})

	return inputGrad
}

// Conv2DKernelBackward computes gradient w.r.t. kernel.
//
// Per image: dK += grad [C_out, H_out*W_out] @ colᵀ [H_out*W_out, C_in*K_h*K_w].
// Each worker accumulates into a private dK; partial sums are reduced at the end.
func (cpu *CPUBackend) Conv2DKernelBackward(input, kernel, grad *tensor.Tensor, stride, padding int) *tensor.Tensor {
	g := newConvGeometry(input.Shape(), kernel.Shape(), stride, padding)
	checkConvGrad(g, grad.Shape())

	kernelGrad := newOutput("Conv2DKernelBackward", kernel.Shape())
	x, dy, dk := input.Data(), grad.Data(), kernelGrad.Data()

	var mu sync.Mutex
	parallel.ForRange(g.N, func(start, end int) {
		col := make([]float32, g.colSize())
		partial := make([]float32, len(dk))
		for n := start; n < end; n++ {
			g.im2col(col, x[n*g.inSize():(n+1)*g.inSize()])
			sgemm(false, true, g.COut, g.patch(), g.spatial(),
				dy[n*g.outSize():(n+1)*g.outSize()], col, partial, 1)
		}
		mu.Lock()
		for i, v := range partial {
			dk[i] += v
		}
		mu.Unlock()
	}, cpu.par)

	return kernelGrad
}

func checkConvGrad(g convGeometry, gradShape tensor.Shape) {
	want := tensor.Shape{g.N, g.COut, g.HOut, g.WOut}
	if !gradShape.Equal(want) {
		panic(fmt.Sprintf("conv2d backward: grad shape %v, expected %v", gradShape, want))
	}
}
