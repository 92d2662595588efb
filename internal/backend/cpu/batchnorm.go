package cpu

import (
	"fmt"
	"math"

	"github.com/born-ml/tagger/internal/parallel"
	"github.com/born-ml/tagger/internal/tensor"
)

// BatchNormStats carries what the training-mode forward pass leaves behind for
// the backward pass and for the running-statistics update.
type BatchNormStats struct {
	Normalized *tensor.Tensor // x̂ = (x − μ) / sqrt(σ² + ε), shape of x
	Mean       []float32      // per-channel batch mean
	Variance   []float32      // per-channel biased batch variance
	InvStd     []float32      // per-channel 1 / sqrt(σ² + ε)
}

// BatchNormTrain normalizes x [N, C, ...] with the statistics of the batch itself:
//
//	y = γ · (x − μ_B) / sqrt(σ²_B + ε) + β
//
// where μ_B and σ²_B are taken per channel over the batch and spatial axes.
func (cpu *CPUBackend) BatchNormTrain(x, gamma, beta *tensor.Tensor, eps float32) (*tensor.Tensor, BatchNormStats) {
	n, c, inner := channelLayout("batchnorm", x.Shape())
	checkChannels("batchnorm", c, gamma, beta)

	y := newOutput("batchnorm", x.Shape())
	xhat := newOutput("batchnorm", x.Shape())
	stats := BatchNormStats{
		Normalized: xhat,
		Mean:       make([]float32, c),
		Variance:   make([]float32, c),
		InvStd:     make([]float32, c),
	}
	src, dst, xh := x.Data(), y.Data(), xhat.Data()
	g, b := gamma.Data(), beta.Data()
	m := float64(n * inner)

	parallel.For(c, func(ch int) {
		var sum float64
		forChannel(n, c, inner, ch, func(off int) {
			for _, v := range src[off : off+inner] {
				sum += float64(v)
			}
		})
		mean := sum / m

		var sq float64
		forChannel(n, c, inner, ch, func(off int) {
			for _, v := range src[off : off+inner] {
				d := float64(v) - mean
				sq += d * d
			}
		})
		variance := sq / m
		invStd := 1 / math.Sqrt(variance+float64(eps))

		forChannel(n, c, inner, ch, func(off int) {
			for j := off; j < off+inner; j++ {
				h := float32((float64(src[j]) - mean) * invStd)
				xh[j] = h
				dst[j] = g[ch]*h + b[ch]
			}
		})

		stats.Mean[ch] = float32(mean)
		stats.Variance[ch] = float32(variance)
		stats.InvStd[ch] = float32(invStd)
	}, cpu.par)

	return y, stats
}

// BatchNormInference normalizes x with fixed (running) statistics.
func (cpu *CPUBackend) BatchNormInference(x, gamma, beta, mean, variance *tensor.Tensor, eps float32) *tensor.Tensor {
	n, c, inner := channelLayout("batchnorm", x.Shape())
	checkChannels("batchnorm", c, gamma, beta, mean, variance)

	y := newOutput("batchnorm", x.Shape())
	src, dst := x.Data(), y.Data()
	g, b, mu, v := gamma.Data(), beta.Data(), mean.Data(), variance.Data()

	for ch := 0; ch < c; ch++ {
		scale := g[ch] / float32(math.Sqrt(float64(v[ch]+eps)))
		shift := b[ch] - mu[ch]*scale
		forChannel(n, c, inner, ch, func(off int) {
			for j := off; j < off+inner; j++ {
				dst[j] = src[j]*scale + shift
			}
		})
	}
	return y
}

// BatchNormBackward computes the gradients of a training-mode batch norm:
//
//	dβ = Σ dy
//	dγ = Σ dy · x̂
//	dx = γ · invStd / m · (m · dy − Σ dy − x̂ · Σ(dy · x̂))
//
// with sums over the batch and spatial axes of each channel and m their size.
func (cpu *CPUBackend) BatchNormBackward(grad, gamma *tensor.Tensor, stats BatchNormStats) (dx, dgamma, dbeta *tensor.Tensor) {
	n, c, inner := channelLayout("batchnorm backward", grad.Shape())
	checkChannels("batchnorm backward", c, gamma)

	dx = newOutput("batchnorm backward", grad.Shape())
	dgamma = newOutput("batchnorm backward", tensor.Shape{c})
	dbeta = newOutput("batchnorm backward", tensor.Shape{c})

	dy, xh, out := grad.Data(), stats.Normalized.Data(), dx.Data()
	g, dg, db := gamma.Data(), dgamma.Data(), dbeta.Data()
	m := float64(n * inner)

	parallel.For(c, func(ch int) {
		var sumDy, sumDyXhat float64
		forChannel(n, c, inner, ch, func(off int) {
			for j := off; j < off+inner; j++ {
				sumDy += float64(dy[j])
				sumDyXhat += float64(dy[j]) * float64(xh[j])
			}
		})
		db[ch] = float32(sumDy)
		dg[ch] = float32(sumDyXhat)

		k := float64(g[ch]) * float64(stats.InvStd[ch]) / m
		forChannel(n, c, inner, ch, func(off int) {
			for j := off; j < off+inner; j++ {
				out[j] = float32(k * (m*float64(dy[j]) - sumDy - float64(xh[j])*sumDyXhat))
			}
		})
	}, cpu.par)

	return dx, dgamma, dbeta
}

// forChannel calls f with the offset of every [inner] run belonging to channel ch.
func forChannel(n, c, inner, ch int, f func(off int)) {
	for i := 0; i < n; i++ {
		f((i*c + ch) * inner)
	}
}

func checkChannels(op string, c int, ts ...*tensor.Tensor) {
	for _, t := range ts {
		if t.NumElements() != c {
			panic(fmt.Sprintf("%s: per-channel tensor %v does not match %d channels", op, t.Shape(), c))
		}
	}
}
