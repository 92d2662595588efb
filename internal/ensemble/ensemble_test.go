package ensemble

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/tagger/internal/checkpoint"
	"github.com/born-ml/tagger/internal/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMean_IsElementwiseArithmeticMean(t *testing.T) {
	paths := []string{"a", "b"}
	members := []Prediction{
		{Paths: paths, Probs: [][]float32{{0.1, 0.9}, {0.5, 0.0}}},
		{Paths: paths, Probs: [][]float32{{0.3, 0.6}, {0.5, 1.0}}},
		{Paths: paths, Probs: [][]float32{{0.2, 0.0}, {0.2, 0.5}}},
	}

	got, err := Mean(members)
	require.NoError(t, err)
	assert.Equal(t, paths, got.Paths)

	want := [][]float64{{0.2, 0.5}, {0.4, 0.5}}
	for r := range want {
		for l := range want[r] {
			assert.InDelta(t, want[r][l], got.Probs[r][l], 1e-6)
		}
	}
}

func TestMean_SingleMemberIsExact(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	p := Prediction{Paths: []string{"a", "b", "c"}}
	for range p.Paths {
		row := make([]float32, 17)
		for i := range row {
			row[i] = rng.Float32()
		}
		p.Probs = append(p.Probs, row)
	}

	for _, cont := range []bool{false, true} {
		for _, policy := range []string{config.ContinueLast, config.ContinueAverage} {
			got, err := Combine([]Prediction{p}, cont, policy)
			require.NoError(t, err)
			assert.Equal(t, p, got, "continue=%v policy=%s", cont, policy)
		}
	}
}

func TestCombine_Policies(t *testing.T) {
	paths := []string{"a"}
	members := []Prediction{
		{Paths: paths, Probs: [][]float32{{0.2}}},
		{Paths: paths, Probs: [][]float32{{0.6}}},
	}

	fresh, err := Combine(members, false, config.ContinueLast)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, fresh.Probs[0][0], 1e-6)

	last, err := Combine(members, true, config.ContinueLast)
	require.NoError(t, err)
	assert.Equal(t, members[1], last)

	avg, err := Combine(members, true, config.ContinueAverage)
	require.NoError(t, err)
	assert.InDelta(t, 0.4, avg.Probs[0][0], 1e-6)

	_, err = Combine(nil, false, config.ContinueLast)
	assert.Error(t, err)

	members[1].Paths = []string{"b"}
	_, err = Mean(members)
	assert.Error(t, err)
}

func TestStageError(t *testing.T) {
	root := checkpoint.ErrNoCheckpoint
	err := fmt.Errorf("wrapped: %w", stageErr(StageEval, 2, pkgerrors.Wrap(root, "restore")))

	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageEval, se.Stage)
	assert.Equal(t, 2, se.Member)
	assert.ErrorIs(t, err, root)
	assert.Equal(t, root, pkgerrors.Cause(se))
	assert.Equal(t, "eval (member 2): restore: no checkpoint found", se.Error())
	assert.Equal(t, "submit: boom", stageErr(StageSubmit, -1, pkgerrors.New("boom")).Error())
	assert.NoError(t, stageErr(StageBuild, 0, nil))
}

func writePNG(t *testing.T, path string, rng *rand.Rand) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := range 10 {
		for x := range 10 {
			img.Set(x, y, color.NRGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: uint8(rng.Intn(256)), A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
}

// runConfig lays out a tiny dataset under a temp dir and returns a config
// that trains and evaluates on it.
func runConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	rng := rand.New(rand.NewSource(1))

	trainDir := filepath.Join(root, "images", "train")
	testDir := filepath.Join(root, "images", "test")
	require.NoError(t, os.MkdirAll(trainDir, 0o755))
	require.NoError(t, os.MkdirAll(testDir, 0o755))

	labels := []string{"image_name,tags"}
	tagSets := []string{"clear primary", "haze", "clear", "primary haze", "clear haze primary", "haze"}
	for i, tags := range tagSets {
		name := fmt.Sprintf("train_%d", i)
		writePNG(t, filepath.Join(trainDir, name+".png"), rng)
		labels = append(labels, name+","+tags)
	}
	for i := range 3 {
		writePNG(t, filepath.Join(testDir, fmt.Sprintf("test_%d.png", i)), rng)
	}
	labelsFile := filepath.Join(root, "labels.csv")
	require.NoError(t, os.WriteFile(labelsFile, []byte(strings.Join(labels, "\n")+"\n"), 0o644))

	cfg := config.Default()
	cfg.ImagePath = filepath.Join(root, "images")
	cfg.LabelsFile = labelsFile
	cfg.Ext = "png"
	cfg.ImageShape = [3]int{8, 8, 3}
	cfg.ValidSize = 0.34
	cfg.Threads = 2
	cfg.Tags = []string{"clear", "haze", "primary"}
	cfg.TagThresholds = []float32{0.5, 0.5, 0.5}
	cfg.TagWeights = []float32{1, 2, 1}
	cfg.ClassBalance = true
	cfg.L2Norm = true
	cfg.BatchSize = 2
	cfg.MaxSteps = 2
	cfg.EvalInterval = 1
	cfg.CheckpointInterval = 0
	cfg.Ensemble = 2
	cfg.ModelPath = filepath.Join(root, "models")
	cfg.OutputPath = filepath.Join(root, "out", "submission.csv")
	return cfg
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestDriver_TrainEvalEnsemble(t *testing.T) {
	cfg := runConfig(t)
	d, err := New(cfg, quietLogger())
	require.NoError(t, err)

	res, err := d.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, res.Trained, 2)
	for _, tr := range res.Trained {
		assert.Equal(t, int64(2), tr.Steps)
		require.NotNil(t, tr.LastEval)
	}
	require.Len(t, res.Members, 2)
	require.NotNil(t, res.Final)

	// Members start from different seeds.
	assert.NotEqual(t, res.Members[0].Probs, res.Members[1].Probs)

	mean, err := Mean(res.Members)
	require.NoError(t, err)
	assert.Equal(t, mean, *res.Final)

	lines := readLines(t, cfg.OutputPath)
	require.Len(t, lines, 4)
	assert.Equal(t, "image_name,tags", lines[0])
	for i, line := range lines[1:] {
		assert.True(t, strings.HasPrefix(line, fmt.Sprintf("test_%d,", i)), line)
	}

	for i := range 2 {
		_, err := checkpoint.Latest(cfg.MemberDir(i))
		assert.NoError(t, err, "member %d checkpoint", i)
	}
	saved, err := config.Load(filepath.Join(cfg.ModelPath, ConfigFile))
	require.NoError(t, err)
	assert.Equal(t, cfg, saved)

	// Evaluating the saved members again reproduces their predictions.
	cfg.Train = false
	cfg.Continue = true
	d, err = New(cfg, quietLogger())
	require.NoError(t, err)
	again, err := d.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, again.Members, 2)
	for i := range 2 {
		for r := range again.Members[i].Probs {
			assert.InDeltaSlice(t, res.Members[i].Probs[r], again.Members[i].Probs[r], 1e-6)
		}
	}
	assert.Equal(t, again.Members[1], *again.Final, "continued runs submit the last member by default")
}

func TestDriver_EvalWithoutCheckpointFails(t *testing.T) {
	cfg := runConfig(t)
	cfg.Train = false
	d, err := New(cfg, quietLogger())
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageEval, se.Stage)
	assert.Equal(t, 0, se.Member)
	assert.ErrorIs(t, err, checkpoint.ErrNoCheckpoint)
	assert.NoFileExists(t, cfg.OutputPath)
}

func TestDriver_ResumeWithoutCheckpointFails(t *testing.T) {
	cfg := runConfig(t)
	cfg.Continue = true
	d, err := New(cfg, quietLogger())
	require.NoError(t, err)

	_, err = d.Run(context.Background())
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageTrain, se.Stage)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.TagThresholds = nil

	_, err := New(cfg, nil)
	var se *StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, StageBuild, se.Stage)
	assert.Equal(t, -1, se.Member)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
