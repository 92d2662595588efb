package objective

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/nn"
	"github.com/born-ml/tagger/internal/tensor"
)

func mat(t *testing.T, rows, cols int, values ...float32) *tensor.Tensor {
	t.Helper()
	x, err := tensor.FromSlice(values, tensor.Shape{rows, cols})
	require.NoError(t, err)
	return x
}

func randomBatch(seed int64, b, l int) (logits, labels *tensor.Tensor) {
	rng := rand.New(rand.NewSource(seed))
	logits = tensor.Randn(tensor.Shape{b, l}, 2, rng)
	labels = tensor.Zeros(tensor.Shape{b, l})
	for i := range labels.Data() {
		if rng.Intn(2) == 1 {
			labels.Data()[i] = 1
		}
	}
	return logits, labels
}

func newAD() *autodiff.AutodiffBackend {
	return autodiff.New(cpu.NewWithThreads(1))
}

func TestAccuracy_AllLabelsMustMatch(t *testing.T) {
	thresholds := []float32{0.5, 0.5, 0.5}
	logits := mat(t, 3, 3,
		2, -2, 2,   // predicts 1 0 1
		2, 2, -2,   // predicts 1 1 0
		-2, -2, -2, // predicts 0 0 0
	)
	labels := mat(t, 3, 3,
		1, 0, 1, // all match
		1, 0, 0, // second label wrong
		0, 0, 0, // all match
	)

	acc, err := Accuracy(logits, labels, thresholds)
	require.NoError(t, err)
	assert.InDelta(t, 2.0/3.0, acc, 1e-12)

	perLabel, err := PerLabelAccuracy(logits, labels, thresholds)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float64{1, 2.0 / 3.0, 1}, perLabel, 1e-12)
}

// TestAccuracy_MatchesDefinition checks the metric against a direct
// evaluation of the all-correct rule on random batches.
func TestAccuracy_MatchesDefinition(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := range 20 {
		logits, labels := randomBatch(int64(trial), 6, 5)
		thresholds := make([]float32, 5)
		for i := range thresholds {
			thresholds[i] = rng.Float32()
		}

		want := 0.0
		for b := range 6 {
			ok := true
			for i := range 5 {
				pred := 1 / (1 + math.Exp(-float64(logits.At(b, i)))) > float64(thresholds[i])
				if pred != (labels.At(b, i) == 1) {
					ok = false
				}
			}
			if ok {
				want++
			}
		}
		got, err := Accuracy(logits, labels, thresholds)
		require.NoError(t, err)
		assert.InDelta(t, want/6, got, 1e-12, "trial %d", trial)
	}
}

func TestAccuracy_ZeroThresholds(t *testing.T) {
	const b, l = 4, 17
	thresholds := make([]float32, l)
	logits := tensor.Uniform(tensor.Shape{b, l}, 0, 5, rand.New(rand.NewSource(1)))

	// Every sigmoid is above zero, so all-positive labels are fully correct.
	acc, err := Accuracy(logits, tensor.Ones(tensor.Shape{b, l}), thresholds)
	require.NoError(t, err)
	assert.Equal(t, 1.0, acc)

	// A single zero label makes its sample wrong.
	labels := tensor.Ones(tensor.Shape{b, l})
	labels.Set(0, 2, 5)
	acc, err = Accuracy(logits, labels, thresholds)
	require.NoError(t, err)
	assert.Equal(t, 0.75, acc)
}

func TestAccuracy_ShapeErrors(t *testing.T) {
	logits, labels := randomBatch(1, 2, 3)
	_, err := Accuracy(logits, labels, []float32{0.5})
	assert.ErrorIs(t, err, ErrShape)

	_, err = Accuracy(logits, tensor.Zeros(tensor.Shape{3, 2}), []float32{0.5, 0.5, 0.5})
	assert.ErrorIs(t, err, ErrShape)

	_, err = Threshold([]float32{0.1}, []float32{0.2, 0.3})
	assert.ErrorIs(t, err, ErrShape)
}

func TestThreshold(t *testing.T) {
	got, err := Threshold([]float32{0.1, 0.2, 0.9}, []float32{0.2, 0.2, 0.5})
	require.NoError(t, err)
	// Strictly greater than the cutoff.
	assert.Equal(t, []bool{false, false, true}, got)
}

func TestLoss_UnitWeightsEqualUnweighted(t *testing.T) {
	for seed := range int64(5) {
		logits, labels := randomBatch(seed, 4, 17)

		plain, err := Loss{}.Build(newAD(), logits, labels, nil)
		require.NoError(t, err)

		ones := make([]float32, 17)
		for i := range ones {
			ones[i] = 1
		}
		weighted, err := Loss{Weights: ones}.Build(newAD(), logits, labels, nil)
		require.NoError(t, err)

		assert.Equal(t, plain.Item(), weighted.Item())

		want, err := MeanLoss(logits, labels)
		require.NoError(t, err)
		assert.InDelta(t, want, plain.Item(), 1e-5)
	}
}

func TestLoss_WeightsScaleColumns(t *testing.T) {
	logits := mat(t, 1, 2, 0, 0)
	labels := mat(t, 1, 2, 1, 0)

	loss, err := Loss{Weights: []float32{2, 0}}.Build(newAD(), logits, labels, nil)
	require.NoError(t, err)
	// CE(0, y) = log 2 per entry; mean of [2·log2, 0].
	assert.InDelta(t, math.Ln2, loss.Item(), 1e-6)

	_, err = Loss{Weights: []float32{1}}.Build(newAD(), logits, labels, nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestLoss_L2ZeroWhenBetaZero(t *testing.T) {
	logits, labels := randomBatch(3, 2, 4)
	params := []*nn.Parameter{
		nn.NewParameter("dense1.weight", tensor.Full(tensor.Shape{3, 3}, 1e3)),
		nn.NewParameter("dense1.bias", tensor.Full(tensor.Shape{3}, -7)),
	}

	assert.Zero(t, L2(params, 0))

	withParams, err := Loss{Beta: 0}.Build(newAD(), logits, labels, params)
	require.NoError(t, err)
	without, err := Loss{}.Build(newAD(), logits, labels, nil)
	require.NoError(t, err)
	assert.Equal(t, without.Item(), withParams.Item())
}

func TestLoss_L2AddsPenaltyAndGradient(t *testing.T) {
	logits, labels := randomBatch(4, 2, 4)
	w := nn.NewParameter("readout.weight", mat(t, 1, 2, 1, -2))
	b := nn.NewParameter("readout.bias", mat(t, 1, 1, 3))
	params := []*nn.Parameter{w, b}

	ad := newAD()
	ad.Tape().StartRecording()
	loss, err := Loss{Beta: 0.1}.Build(ad, logits, labels, params)
	require.NoError(t, err)

	mean, err := MeanLoss(logits, labels)
	require.NoError(t, err)
	assert.InDelta(t, mean+0.1*(1+4+9), loss.Item(), 1e-5)
	assert.InDelta(t, 0.1*14, L2(params, 0.1), 1e-6)

	grads := ad.Backward(loss)
	// d/dp β·p² = 2βp
	assert.InDeltaSlice(t, []float32{0.2, -0.4}, grads[w.Tensor()].Data(), 1e-6)
	assert.InDeltaSlice(t, []float32{0.6}, grads[b.Tensor()].Data(), 1e-6)
}

func TestLoss_GradientIsSigmoidMinusLabel(t *testing.T) {
	logits := mat(t, 1, 2, 0.5, -1)
	labels := mat(t, 1, 2, 1, 0)

	ad := newAD()
	ad.Tape().StartRecording()
	loss, err := Loss{}.Build(ad, logits, labels, nil)
	require.NoError(t, err)
	grads := ad.Backward(loss)

	// Mean over two entries halves σ(z) − y.
	want := []float32{(Sigmoid(0.5) - 1) / 2, Sigmoid(-1) / 2}
	assert.InDeltaSlice(t, want, grads[logits].Data(), 1e-6)
}

func TestF2Score(t *testing.T) {
	thresholds := []float32{0.5, 0.5, 0.5, 0.5}
	logits := mat(t, 2, 4,
		5, 5, -5, -5,   // predicts {0,1}
		-5, -5, -5, -5, // predicts {}
	)
	labels := mat(t, 2, 4,
		1, 0, 1, 0, // tp=1 fp=1 fn=1
		0, 0, 0, 0, // nothing to find
	)

	f2, err := F2Score(logits, labels, thresholds)
	require.NoError(t, err)
	// Sample 1: 5·1 / (5·1 + 4·1 + 1) = 0.5; sample 2 scores 1.
	assert.InDelta(t, 0.75, f2, 1e-12)

	perfect, err := F2Score(logits, mat(t, 2, 4, 1, 1, 0, 0, 0, 0, 0, 0), thresholds)
	require.NoError(t, err)
	assert.Equal(t, 1.0, perfect)
}
