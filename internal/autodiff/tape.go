package autodiff

import (
	"github.com/born-ml/tagger/internal/autodiff/ops"
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// GradientTape is the record of one training step's forward pass. The
// controller clears it, starts recording, runs forward and loss, then asks
// for the gradients of the loss:
//
//	tape.Clear()
//	tape.StartRecording()
//	loss := ...
//	grads := tape.Backward(tensor.Ones(loss.Shape()), backend)
//
// Inference never records, so a prediction pass leaves the tape empty.
type GradientTape struct {
	ops       []ops.Operation
	recording bool
}

// NewGradientTape returns an idle, empty tape.
func NewGradientTape() *GradientTape {
	// A full forward pass of the tagger records on the order of 60 ops.
	return &GradientTape{ops: make([]ops.Operation, 0, 64)}
}

// StartRecording makes Record append operations.
func (t *GradientTape) StartRecording() { t.recording = true }

// StopRecording makes Record a no-op.
func (t *GradientTape) StopRecording() { t.recording = false }

// IsRecording reports whether operations are being recorded.
func (t *GradientTape) IsRecording() bool { return t.recording }

// Record appends op while recording.
func (t *GradientTape) Record(op ops.Operation) {
	if t.recording {
		t.ops = append(t.ops, op)
	}
}

// Clear drops every recorded operation, releasing the intermediate
// activations they reference. The recording flag is left as is.
func (t *GradientTape) Clear() {
	clear(t.ops)
	t.ops = t.ops[:0]
}

// NumOps returns the number of recorded operations.
func (t *GradientTape) NumOps() int { return len(t.ops) }

// Backward seeds the output of the last recorded operation with outputGrad
// and propagates gradients through the tape in reverse order.
//
// A tensor consumed by several operations receives the sum of their
// gradients. Once an operation has propagated, the gradient of its output is
// dropped, so the returned map holds only leaves: tensors no recorded
// operation produced, such as parameters and the network input.
func (t *GradientTape) Backward(outputGrad *tensor.Tensor, backend *cpu.CPUBackend) map[*tensor.Tensor]*tensor.Tensor {
	grads := make(map[*tensor.Tensor]*tensor.Tensor)
	if len(t.ops) == 0 {
		return grads
	}

	// Backward ops run on the plain backend; keep them off the tape.
	prev := t.recording
	t.recording = false
	defer func() { t.recording = prev }()

	grads[t.ops[len(t.ops)-1].Output()] = outputGrad
	for i := len(t.ops) - 1; i >= 0; i-- {
		op := t.ops[i]
		g, ok := grads[op.Output()]
		if !ok {
			continue
		}
		delete(grads, op.Output())

		inputs := op.Inputs()
		for j, ig := range op.Backward(g, backend) {
			if ig == nil || j >= len(inputs) {
				continue
			}
			if acc, seen := grads[inputs[j]]; seen {
				grads[inputs[j]] = backend.Add(acc, ig)
			} else {
				grads[inputs[j]] = ig
			}
		}
	}
	return grads
}
