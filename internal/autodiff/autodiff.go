// Package autodiff implements reverse-mode automatic differentiation using the
// decorator pattern.
//
// AutodiffBackend wraps the CPU backend: every method computes its result with
// the wrapped backend and, while the tape is recording, appends an ops.Operation
// that knows how to push gradients back to the operation's inputs.
//
// Usage:
//
//	ad := autodiff.New(cpu.New())
//	ad.Tape().StartRecording()
//	loss := ad.Mean(ad.SigmoidCrossEntropy(logits, labels))
//	grads := ad.Backward(loss)
//	dW := grads[weight]
package autodiff

import (
	"fmt"
	"math/rand"

	"github.com/born-ml/tagger/internal/autodiff/ops"
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// AutodiffBackend wraps a CPU backend and adds automatic differentiation.
type AutodiffBackend struct {
	inner *cpu.CPUBackend // Wrapped backend
	tape  *GradientTape   // Records operations for backpropagation
}

// New creates a new AutodiffBackend wrapping the given backend.
func New(backend *cpu.CPUBackend) *AutodiffBackend {
	return &AutodiffBackend{
		inner: backend,
		tape:  NewGradientTape(),
	}
}

// Tape returns the gradient tape for manual control.
func (b *AutodiffBackend) Tape() *GradientTape {
	return b.tape
}

// Inner returns the wrapped backend for direct access.
func (b *AutodiffBackend) Inner() *cpu.CPUBackend {
	return b.inner
}

// Name returns the backend name.
func (b *AutodiffBackend) Name() string {
	return "Autodiff(" + b.inner.Name() + ")"
}

func (b *AutodiffBackend) record(op ops.Operation) {
	if b.tape.IsRecording() {
		b.tape.Record(op)
	}
}

// Backward differentiates the scalar loss with respect to every leaf tensor
// recorded on the tape. loss must be the output of the last recorded operation.
func (b *AutodiffBackend) Backward(loss *tensor.Tensor) map[*tensor.Tensor]*tensor.Tensor {
	if loss.NumElements() != 1 {
		panic(fmt.Sprintf("backward: loss must be a scalar, got shape %v", loss.Shape()))
	}
	return b.tape.Backward(tensor.Ones(loss.Shape()), b.inner)
}

// Conv2D performs 2D convolution and records the operation.
func (b *AutodiffBackend) Conv2D(input, kernel *tensor.Tensor, stride, padding int) *tensor.Tensor {
	result := b.inner.Conv2D(input, kernel, stride, padding)
	b.record(ops.NewConv2DOp(input, kernel, result, stride, padding))
	return result
}

// MaxPool2D performs SAME max pooling and records the operation.
func (b *AutodiffBackend) MaxPool2D(input *tensor.Tensor, kernelSize, stride int) *tensor.Tensor {
	result, maxIndices := b.inner.MaxPool2D(input, kernelSize, stride)
	b.record(ops.NewMaxPool2DOp(input, result, maxIndices))
	return result
}

// ReLU applies ReLU activation and records the operation.
func (b *AutodiffBackend) ReLU(x *tensor.Tensor) *tensor.Tensor {
	result := b.inner.ReLU(x)
	b.record(ops.NewReLUOp(x, result))
	return result
}

// AddBias adds a per-channel bias and records the operation.
func (b *AutodiffBackend) AddBias(x, bias *tensor.Tensor) *tensor.Tensor {
	result := b.inner.AddBias(x, bias)
	b.record(ops.NewBiasOp(x, bias, result))
	return result
}

// BatchNormTrain normalizes x with batch statistics and records the operation.
// The returned statistics feed the running-average update.
func (b *AutodiffBackend) BatchNormTrain(x, gamma, beta *tensor.Tensor, eps float32) (*tensor.Tensor, cpu.BatchNormStats) {
	result, stats := b.inner.BatchNormTrain(x, gamma, beta, eps)
	b.record(ops.NewBatchNormOp(x, gamma, beta, result, stats))
	return result, stats
}

// MatMul performs matrix multiplication and records the operation.
func (b *AutodiffBackend) MatMul(a, c *tensor.Tensor) *tensor.Tensor {
	result := b.inner.MatMul(a, c)
	b.record(ops.NewMatMulOp(a, c, result))
	return result
}

// Reshape returns a view of t with a new shape and records the operation so
// gradients reach the original tensor.
func (b *AutodiffBackend) Reshape(t *tensor.Tensor, newShape ...int) *tensor.Tensor {
	result := t.Reshape(newShape...)
	b.record(ops.NewReshapeOp(t, result))
	return result
}

// MulConst multiplies x by a constant broadcast factor and records the operation.
func (b *AutodiffBackend) MulConst(x, factor *tensor.Tensor) *tensor.Tensor {
	result := b.inner.MulBroadcast(x, factor)
	b.record(ops.NewMulConstOp(x, factor, result))
	return result
}

// Scale multiplies x by a scalar constant and records the operation.
func (b *AutodiffBackend) Scale(x *tensor.Tensor, s float32) *tensor.Tensor {
	result := b.inner.Scale(x, s)
	b.record(ops.NewScaleOp(x, result, s))
	return result
}

// Add performs element-wise addition and records the operation.
func (b *AutodiffBackend) Add(a, c *tensor.Tensor) *tensor.Tensor {
	result := b.inner.Add(a, c)
	b.record(ops.NewAddOp(a, c, result))
	return result
}

// Mean reduces x to its scalar mean and records the operation.
func (b *AutodiffBackend) Mean(x *tensor.Tensor) *tensor.Tensor {
	result := b.inner.Mean(x)
	b.record(ops.NewMeanOp(x, result))
	return result
}

// SumSquares reduces x to Σx² and records the operation.
func (b *AutodiffBackend) SumSquares(x *tensor.Tensor) *tensor.Tensor {
	result := b.inner.SumSquares(x)
	b.record(ops.NewSumSquaresOp(x, result))
	return result
}

// SigmoidCrossEntropy computes the element-wise logistic loss and records the operation.
func (b *AutodiffBackend) SigmoidCrossEntropy(logits, labels *tensor.Tensor) *tensor.Tensor {
	result := b.inner.SigmoidCrossEntropy(logits, labels)
	b.record(ops.NewSigmoidCrossEntropyOp(logits, labels, result))
	return result
}

// Dropout keeps each element with probability keep and scales survivors by
// 1/keep, so the expected activation is unchanged. keep >= 1 returns x as is.
func (b *AutodiffBackend) Dropout(x *tensor.Tensor, keep float32, rng *rand.Rand) *tensor.Tensor {
	if keep >= 1 {
		return x
	}
	if keep <= 0 {
		panic(fmt.Sprintf("dropout: keep probability must be in (0, 1], got %v", keep))
	}
	mask := tensor.Zeros(x.Shape())
	m := mask.Data()
	scale := 1 / keep
	for i := range m {
		if rng.Float32() < keep {
			m[i] = scale
		}
	}
	return b.MulConst(x, mask)
}
