package autodiff

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

func TestGradientTape_RecordsOnlyWhileRecording(t *testing.T) {
	ad := New(cpu.New())
	x := tensor.Ones(tensor.Shape{2})

	ad.ReLU(x)
	assert.Equal(t, 0, ad.Tape().NumOps())

	ad.Tape().StartRecording()
	ad.ReLU(x)
	assert.Equal(t, 1, ad.Tape().NumOps())

	ad.Tape().Clear()
	assert.Equal(t, 0, ad.Tape().NumOps())
	assert.True(t, ad.Tape().IsRecording())
}

func TestGradientTape_AccumulatesSharedInputs(t *testing.T) {
	ad := New(cpu.New())
	ad.Tape().StartRecording()

	x, err := tensor.FromSlice([]float32{1, 2, 3}, tensor.Shape{3})
	require.NoError(t, err)
	loss := ad.SumSquares(ad.Add(x, x)) // Σ(2x)² → d/dx = 8x

	grads := ad.Backward(loss)

	assert.InDeltaSlice(t, []float32{8, 16, 24}, grads[x].Data(), 1e-5)
	assert.True(t, ad.Tape().IsRecording(), "recording state is restored after backward")
}

func TestGradientTape_ReleasesIntermediateGrads(t *testing.T) {
	ad := New(cpu.New())
	ad.Tape().StartRecording()

	x := tensor.Ones(tensor.Shape{2, 2})
	hidden := ad.Scale(x, 3)
	loss := ad.Mean(hidden)

	grads := ad.Backward(loss)

	assert.Contains(t, grads, x)
	assert.NotContains(t, grads, hidden)
	assert.NotContains(t, grads, loss)
}

func TestBackward_RequiresScalar(t *testing.T) {
	ad := New(cpu.New())
	ad.Tape().StartRecording()
	y := ad.ReLU(tensor.Ones(tensor.Shape{3}))
	assert.Panics(t, func() { ad.Backward(y) })
}

func TestSigmoidCrossEntropy_Values(t *testing.T) {
	ad := New(cpu.New())
	logits, err := tensor.FromSlice([]float32{0, 100, -100, 2}, tensor.Shape{1, 4})
	require.NoError(t, err)
	labels, err := tensor.FromSlice([]float32{1, 1, 1, 0}, tensor.Shape{1, 4})
	require.NoError(t, err)

	ce := ad.SigmoidCrossEntropy(logits, labels).Data()

	assert.InDelta(t, math.Log(2), ce[0], 1e-6)
	assert.InDelta(t, 0, ce[1], 1e-6)
	assert.InDelta(t, 100, ce[2], 1e-4)
	assert.InDelta(t, 2+math.Log1p(math.Exp(-2)), ce[3], 1e-5)
}
