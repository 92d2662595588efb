package nn

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

func newAD() *autodiff.AutodiffBackend {
	return autodiff.New(cpu.NewWithThreads(2))
}

func TestParameter(t *testing.T) {
	p := NewParameter("dense1.weight", tensor.Ones(tensor.Shape{2, 2}))
	assert.Equal(t, "dense1.weight", p.Name())
	assert.Nil(t, p.Grad())

	grads := map[*tensor.Tensor]*tensor.Tensor{p.Tensor(): tensor.Full(tensor.Shape{2, 2}, 3)}
	CollectGrads([]*Parameter{p}, grads)
	require.NotNil(t, p.Grad())
	assert.Equal(t, float32(3), p.Grad().Data()[0])

	p.ZeroGrad()
	assert.Nil(t, p.Grad())
}

func TestXavier_Bounds(t *testing.T) {
	w := Xavier(10, 20, tensor.Shape{10, 20}, rand.New(rand.NewSource(1)))
	bound := float32(math.Sqrt(6.0 / 30.0))
	for _, v := range w.Data() {
		assert.LessOrEqual(t, v, bound)
		assert.GreaterOrEqual(t, v, -bound)
	}
}

func TestXavier_SeedsDiffer(t *testing.T) {
	a := Xavier(4, 4, tensor.Shape{4, 4}, rand.New(rand.NewSource(1)))
	b := Xavier(4, 4, tensor.Shape{4, 4}, rand.New(rand.NewSource(2)))
	assert.NotEqual(t, a.Data(), b.Data())
}

func TestConv2D_SameShape(t *testing.T) {
	conv := NewConv2D("conv1", 3, 8, 3, rand.New(rand.NewSource(1)))
	out := conv.Forward(newAD(), tensor.Ones(tensor.Shape{2, 3, 7, 5}), Inference)

	assert.Equal(t, tensor.Shape{2, 8, 7, 5}, out.Shape())
	assert.Equal(t, "conv1.weight", conv.Weight().Name())
	assert.Equal(t, "conv1.bias", conv.Bias().Name())
	assert.Len(t, conv.Parameters(), 2)
	assert.Panics(t, func() { conv.Forward(newAD(), tensor.Ones(tensor.Shape{1, 1, 4, 4}), Inference) })
}

func TestDense_Forward(t *testing.T) {
	d := NewDense("dense1", 2, 2, rand.New(rand.NewSource(1)))
	require.NoError(t, d.weight.Tensor().CopyFrom(must(tensor.FromSlice([]float32{1, 2, 3, 4}, tensor.Shape{2, 2}))))
	require.NoError(t, d.bias.Tensor().CopyFrom(must(tensor.FromSlice([]float32{10, 20}, tensor.Shape{2}))))

	x := must(tensor.FromSlice([]float32{1, 1, 0, 1}, tensor.Shape{2, 2}))
	out := d.Forward(newAD(), x, Inference)

	// [1,1]@W = [4,6]; [0,1]@W = [3,4]
	assert.Equal(t, []float32{14, 26, 13, 24}, out.Data())
}

func TestBatchNorm2D_TrainingNormalizesAndUpdates(t *testing.T) {
	bn := NewBatchNorm2D("bn1", 1)
	x := must(tensor.FromSlice([]float32{1, 2, 3, 4, 5, 6, 7, 8}, tensor.Shape{2, 1, 2, 2}))

	out := bn.Forward(newAD(), x, Mode{Training: true, KeepProb: 1})

	var mean, sq float64
	for _, v := range out.Data() {
		mean += float64(v)
	}
	mean /= 8
	for _, v := range out.Data() {
		sq += (float64(v) - mean) * (float64(v) - mean)
	}
	assert.InDelta(t, 0, mean, 1e-5)
	assert.InDelta(t, 1, sq/8, 1e-3)

	// Running statistics only move once the update is applied.
	assert.Equal(t, float32(0), bn.runningMean.Tensor().Data()[0])
	require.True(t, bn.ApplyUpdates())
	assert.False(t, bn.ApplyUpdates(), "update is consumed")

	// batch mean 4.5, biased variance 5.25
	assert.InDelta(t, 0.01*4.5, bn.runningMean.Tensor().Data()[0], 1e-6)
	assert.InDelta(t, 0.99+0.01*5.25, bn.runningVar.Tensor().Data()[0], 1e-6)
}

func TestBatchNorm2D_InferenceUsesRunningStats(t *testing.T) {
	bn := NewBatchNorm2D("bn1", 2)
	copy(bn.runningMean.Tensor().Data(), []float32{1, -1})
	copy(bn.runningVar.Tensor().Data(), []float32{4, 1})
	copy(bn.gamma.Tensor().Data(), []float32{2, 1})
	copy(bn.beta.Tensor().Data(), []float32{0, 0.5})

	x := must(tensor.FromSlice([]float32{3, 0}, tensor.Shape{1, 2, 1, 1}))
	out := bn.Forward(newAD(), x, Inference)

	eps := float64(DefaultBNEpsilon)
	assert.InDelta(t, 2*(3-1)/math.Sqrt(4+eps), out.Data()[0], 1e-5)
	assert.InDelta(t, (0+1)/math.Sqrt(1+eps)+0.5, out.Data()[1], 1e-5)
	assert.False(t, bn.ApplyUpdates(), "inference leaves no pending update")
}

func TestDropout_InferenceIsIdentity(t *testing.T) {
	x := tensor.Ones(tensor.Shape{3, 4})
	d := NewDropout()

	assert.Same(t, x, d.Forward(newAD(), x, Inference))
	assert.Same(t, x, d.Forward(newAD(), x, Mode{Training: true, KeepProb: 1}))
	assert.Panics(t, func() { d.Forward(newAD(), x, Mode{Training: true, KeepProb: 0.5}) })
}

func TestSequential(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	model := NewSequential(
		NewConv2D("conv1", 1, 2, 3, rng),
		NewBatchNorm2D("bn1", 2),
		NewReLU(),
		NewMaxPool2D(2, 2),
		NewFlatten(),
		NewDense("dense1", 2*2*2, 3, rng),
	)

	out := model.Forward(newAD(), tensor.Ones(tensor.Shape{4, 1, 3, 3}), Mode{Training: true, KeepProb: 1})

	assert.Equal(t, tensor.Shape{4, 3}, out.Shape())
	assert.Equal(t, 6, model.Len())

	names := func(ps []*Parameter) []string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Name())
		}
		return out
	}
	assert.Equal(t, []string{"conv1.weight", "conv1.bias", "bn1.gamma", "bn1.beta", "dense1.weight", "dense1.bias"},
		names(model.Parameters()))
	assert.Equal(t, []string{"bn1.running_mean", "bn1.running_var"}, names(model.Buffers()))
	assert.True(t, model.ApplyUpdates())
}

func TestStateDict_RoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	src := NewDense("dense1", 3, 2, rng)
	dst := NewDense("dense1", 3, 2, rng)

	state := StateDict(src.Parameters())
	require.Len(t, state, 2)

	// Snapshot is a copy.
	src.weight.Tensor().Data()[0] = 42
	assert.NotEqual(t, float32(42), state["dense1.weight"].Data()[0])

	require.NoError(t, LoadStateDict(state, dst.Parameters()))
	assert.Equal(t, state["dense1.weight"].Data(), dst.weight.Tensor().Data())
}

func TestLoadStateDict_Mismatch(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	d := NewDense("dense1", 3, 2, rng)
	before := d.weight.Tensor().Clone()

	err := LoadStateDict(map[string]*tensor.Tensor{
		"dense1.weight": tensor.Zeros(tensor.Shape{2, 3}),
	}, d.Parameters())

	require.ErrorIs(t, err, ErrStateDict)
	assert.Contains(t, err.Error(), "dense1.bias")
	assert.Equal(t, before.Data(), d.weight.Tensor().Data(), "nothing is loaded on error")
}

func must(t *tensor.Tensor, err error) *tensor.Tensor {
	if err != nil {
		panic(err)
	}
	return t
}
