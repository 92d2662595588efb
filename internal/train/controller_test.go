package train

import (
	"context"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tagger/internal/checkpoint"
	"github.com/born-ml/tagger/internal/model"
	"github.com/born-ml/tagger/internal/objective"
	"github.com/born-ml/tagger/internal/optim"
	"github.com/born-ml/tagger/internal/pipeline"
	"github.com/born-ml/tagger/internal/tensor"
)

const classes = 3

var testShape = [3]int{8, 8, 3}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// repeat serves the same batch a fixed number of times, then io.EOF.
type repeat struct {
	batch *pipeline.Batch
	left  int
	calls int
}

func (r *repeat) Next(ctx context.Context) (*pipeline.Batch, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.calls++
	if r.left == 0 {
		return nil, io.EOF
	}
	if r.left > 0 {
		r.left--
	}
	return r.batch, nil
}

func forever(b *pipeline.Batch) *repeat { return &repeat{batch: b, left: -1} }

func testBatch(t *testing.T, seed int64) *pipeline.Batch {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	const n = 4
	images := make([]float32, n*testShape[2]*testShape[0]*testShape[1])
	for i := range images {
		images[i] = rng.Float32()
	}
	labels := make([]float32, n*classes)
	for i := range labels {
		if rng.Intn(2) == 0 {
			labels[i] = 1
		}
	}
	img, err := tensor.FromSlice(images, tensor.Shape{n, testShape[2], testShape[0], testShape[1]})
	require.NoError(t, err)
	lab, err := tensor.FromSlice(labels, tensor.Shape{n, classes})
	require.NoError(t, err)
	return &pipeline.Batch{Images: img, Labels: lab, Paths: []string{"a", "b", "c", "d"}}
}

func newGraph(t *testing.T, seed int64) *model.Graph {
	t.Helper()
	g, err := model.Build(model.Config{Shape: testShape, NumClasses: classes, Threads: 2}, rand.New(rand.NewSource(seed)))
	require.NoError(t, err)
	return g
}

func testConfig(maxSteps int64) Config {
	return Config{
		MaxSteps:   maxSteps,
		KeepProb:   0.5,
		Thresholds: []float32{0.5, 0.5, 0.5},
		Loss:       objective.Loss{Beta: 1e-4},
	}
}

func newController(t *testing.T, cfg Config, g *model.Graph, saver *checkpoint.Saver) *Controller {
	t.Helper()
	opt := optim.NewRMSProp(g.Parameters(), optim.RMSPropConfig{LR: 1e-3})
	c, err := New(cfg, g, opt, saver, quietLogger())
	require.NoError(t, err)
	return c
}

func TestNew_RejectsBadConfig(t *testing.T) {
	g := newGraph(t, 1)
	opt := optim.NewRMSProp(g.Parameters(), optim.RMSPropConfig{})

	bad := []Config{
		{MaxSteps: 0, KeepProb: 1, Thresholds: []float32{0.5, 0.5, 0.5}},
		{MaxSteps: 1, KeepProb: 0, Thresholds: []float32{0.5, 0.5, 0.5}},
		{MaxSteps: 1, KeepProb: 1, Thresholds: []float32{0.5}},
		{MaxSteps: 1, KeepProb: 1, EvalInterval: -1, Thresholds: []float32{0.5, 0.5, 0.5}},
	}
	for _, cfg := range bad {
		_, err := New(cfg, g, opt, nil, nil)
		assert.Error(t, err, "%+v", cfg)
	}
}

func TestStep_UpdatesParametersAndBatchNorm(t *testing.T) {
	g := newGraph(t, 1)
	c := newController(t, testConfig(1), g, nil)
	before := g.StateDict()

	loss, acc, err := c.Step(testBatch(t, 2))
	require.NoError(t, err)
	assert.False(t, math.IsNaN(loss))
	assert.Greater(t, loss, 0.0)
	assert.GreaterOrEqual(t, acc, 0.0)
	assert.LessOrEqual(t, acc, 1.0)

	after := g.StateDict()
	for _, name := range []string{"conv1.weight", "dense1.weight", "readout.bias", "bn1.running_mean", "bn13.running_var"} {
		assert.NotEqual(t, before[name].Data(), after[name].Data(), name)
	}
	assert.Zero(t, c.ad.Tape().NumOps(), "tape is cleared after a step")
}

func TestStep_NonFiniteLossLeavesParametersUntouched(t *testing.T) {
	g := newGraph(t, 1)
	c := newController(t, testConfig(1), g, nil)
	before := g.StateDict()

	batch := testBatch(t, 2)
	batch.Images.Data()[0] = float32(math.NaN())

	_, _, err := c.Step(batch)
	require.ErrorIs(t, err, ErrNonFinite)

	after := g.StateDict()
	for name, v := range before {
		assert.Equal(t, v.Data(), after[name].Data(), name)
	}
}

func TestRun_TrainsEvaluatesAndCheckpoints(t *testing.T) {
	dir := t.TempDir()
	saver, err := checkpoint.NewSaver(dir, 2, quietLogger())
	require.NoError(t, err)

	cfg := testConfig(5)
	cfg.EvalInterval = 2
	cfg.CheckpointInterval = 3
	g := newGraph(t, 1)
	c := newController(t, cfg, g, saver)

	valid := forever(testBatch(t, 3))
	res, err := c.Run(context.Background(), forever(testBatch(t, 2)), valid)
	require.NoError(t, err)

	assert.Equal(t, int64(0), res.StartStep)
	assert.Equal(t, int64(5), res.Steps)
	assert.Equal(t, 2, valid.calls, "evaluated at steps 2 and 4")
	require.NotNil(t, res.LastEval)
	assert.Equal(t, int64(4), res.LastEval.Step)
	assert.Len(t, res.LastEval.PerLabel, classes)
	assert.Equal(t, saver.Path(5), res.CheckpointPath)

	idx, err := checkpoint.ReadIndex(dir)
	require.NoError(t, err)
	assert.Equal(t, int64(5), idx.LatestStep)
	assert.Len(t, idx.All, 2, "checkpoints at steps 3 and 5")
}

func TestRun_ResumeContinuesFromCheckpoint(t *testing.T) {
	dir := t.TempDir()
	saver, err := checkpoint.NewSaver(dir, 2, quietLogger())
	require.NoError(t, err)

	g := newGraph(t, 1)
	_, err = newController(t, testConfig(2), g, saver).Run(context.Background(), forever(testBatch(t, 2)), nil)
	require.NoError(t, err)
	trained := g.StateDict()

	// A differently seeded graph takes the checkpoint's parameters on resume.
	resumed := newGraph(t, 99)
	cfg := testConfig(4)
	cfg.Resume = true
	saver2, err := checkpoint.NewSaver(dir, 2, quietLogger())
	require.NoError(t, err)
	c := newController(t, cfg, resumed, saver2)

	train := forever(testBatch(t, 2))
	res, err := c.Run(context.Background(), train, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.StartStep)
	assert.Equal(t, int64(4), res.Steps)
	assert.Equal(t, 2, train.calls, "only the remaining steps run")
	assert.NotEqual(t, trained["dense1.weight"].Data(), resumed.StateDict()["dense1.weight"].Data())

	// Resuming at MaxSteps is a no-op.
	cfg.MaxSteps = 4
	done := newController(t, cfg, newGraph(t, 5), saver2)
	res, err = done.Run(context.Background(), forever(testBatch(t, 2)), nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), res.Steps)
}

func TestRun_ResumeWithoutCheckpointFails(t *testing.T) {
	saver, err := checkpoint.NewSaver(t.TempDir(), 2, quietLogger())
	require.NoError(t, err)

	cfg := testConfig(2)
	cfg.Resume = true
	c := newController(t, cfg, newGraph(t, 1), saver)

	_, err = c.Run(context.Background(), forever(testBatch(t, 2)), nil)
	require.ErrorIs(t, err, ErrResume)
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)

	c = newController(t, cfg, newGraph(t, 1), nil)
	_, err = c.Run(context.Background(), forever(testBatch(t, 2)), nil)
	require.ErrorIs(t, err, ErrResume)
}

func TestRun_StopsOnCancelAndStreamEnd(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := newController(t, testConfig(3), newGraph(t, 1), nil)
	_, err := c.Run(ctx, forever(testBatch(t, 2)), nil)
	require.ErrorIs(t, err, context.Canceled)

	c = newController(t, testConfig(3), newGraph(t, 1), nil)
	res, err := c.Run(context.Background(), &repeat{batch: testBatch(t, 2), left: 1}, nil)
	require.ErrorIs(t, err, ErrStreamEnded)
	assert.Equal(t, int64(1), res.Steps)
}

func TestEvaluate_DoesNotMutateGraph(t *testing.T) {
	g := newGraph(t, 1)
	c := newController(t, testConfig(1), g, nil)
	before := g.StateDict()

	ev, err := c.Evaluate(testBatch(t, 2))
	require.NoError(t, err)
	assert.Greater(t, ev.Loss, 0.0)
	assert.GreaterOrEqual(t, ev.F2, 0.0)
	assert.LessOrEqual(t, ev.F2, 1.0)

	for name, v := range before {
		assert.Equal(t, v.Data(), g.StateDict()[name].Data(), name)
	}
	assert.False(t, g.ApplyUpdates(), "no pending batch-norm update")
}
