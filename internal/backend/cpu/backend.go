// Package cpu implements the float32 CPU kernels behind the tagger network:
// GEMM via gonum BLAS, im2col convolution and SAME max pooling, forward and backward.
//
// Kernels panic on shape violations. Those are programmer errors: every shape is
// fixed when the graph is built, and the graph validates its feed before calling in.
package cpu

import (
	"fmt"

	"github.com/born-ml/tagger/internal/parallel"
	"github.com/born-ml/tagger/internal/tensor"
)

// CPUBackend implements tensor operations on CPU.
type CPUBackend struct {
	par parallel.Config
}

// New creates a CPU backend that uses every available core.
func New() *CPUBackend {
	return &CPUBackend{par: parallel.DefaultConfig()}
}

// NewWithThreads creates a CPU backend whose kernels fan out to at most n goroutines.
// n <= 0 means runtime.NumCPU().
func NewWithThreads(n int) *CPUBackend {
	return &CPUBackend{par: parallel.WithWorkers(n)}
}

// Name returns the backend name.
func (cpu *CPUBackend) Name() string {
	return "CPU"
}

// Workers returns the maximum kernel fan-out.
func (cpu *CPUBackend) Workers() int {
	return cpu.par.NumWorkers
}

func newOutput(op string, shape tensor.Shape) *tensor.Tensor {
	out, err := tensor.New(shape)
	if err != nil {
		panic(fmt.Sprintf("%s: failed to create output tensor: %v", op, err))
	}
	return out
}
