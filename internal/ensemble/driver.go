// Package ensemble drives a full run: it trains and evaluates N independently
// initialized members in sequence, combines their test-set probabilities and
// writes the submission.
package ensemble

import (
	"context"
	"io"
	"log/slog"
	"math/rand"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"

	"github.com/born-ml/tagger/internal/checkpoint"
	"github.com/born-ml/tagger/internal/config"
	"github.com/born-ml/tagger/internal/model"
	"github.com/born-ml/tagger/internal/objective"
	"github.com/born-ml/tagger/internal/optim"
	"github.com/born-ml/tagger/internal/pipeline"
	"github.com/born-ml/tagger/internal/submit"
	"github.com/born-ml/tagger/internal/train"
)

// ConfigFile is the name of the effective configuration written next to the
// member checkpoints.
const ConfigFile = "config.yaml"

// Prediction holds one probability row per test image.
type Prediction struct {
	Paths []string
	Probs [][]float32
}

// Result summarizes a run.
type Result struct {
	Trained []train.Result // one per member when training
	Members []Prediction   // one per member when evaluating
	Final   *Prediction    // combined probabilities; nil without eval
}

// Driver runs the configured members.
type Driver struct {
	cfg    config.Config
	logger *slog.Logger
}

// New validates cfg and returns a driver.
func New(cfg config.Config, logger *slog.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, stageErr(StageBuild, -1, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{cfg: cfg, logger: logger}, nil
}

// Run executes every member and, when eval is enabled, writes the submission
// to the configured output path.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	var res Result
	cfg := d.cfg

	var testPaths []string
	if cfg.Eval {
		var err error
		if testPaths, err = pipeline.TestSkeleton(cfg.TestDir(), cfg.Ext); err != nil {
			return res, stageErr(StageEval, -1, errors.Wrap(err, "list test images"))
		}
		d.logger.Info("test set", "dir", cfg.TestDir(), "images", len(testPaths))
	}
	if cfg.Train {
		if err := cfg.WriteFile(filepath.Join(cfg.ModelPath, ConfigFile)); err != nil {
			return res, stageErr(StageTrain, -1, err)
		}
	}

	for i := range cfg.Ensemble {
		logger := d.logger.With("member", i)
		seed := cfg.Seed + int64(i)

		g, err := model.Build(d.modelConfig(), rand.New(rand.NewSource(seed)))
		if err != nil {
			return res, stageErr(StageBuild, i, err)
		}
		logger.Info("graph built", "parameters", g.NumParameters(), "seed", seed)

		if cfg.Train {
			tr, err := d.trainMember(ctx, i, seed, g, logger)
			if err != nil {
				return res, stageErr(StageTrain, i, err)
			}
			res.Trained = append(res.Trained, tr)
		}
		if cfg.Eval {
			p, err := d.predictMember(ctx, i, g, testPaths, logger)
			if err != nil {
				return res, stageErr(StageEval, i, err)
			}
			res.Members = append(res.Members, p)
		}
	}

	if !cfg.Eval {
		return res, nil
	}
	final, err := Combine(res.Members, cfg.Continue, cfg.ContinuePolicy)
	if err != nil {
		return res, stageErr(StageEnsemble, -1, err)
	}
	res.Final = &final

	if err := submit.WriteFile(cfg.OutputPath, final.Paths, final.Probs, cfg.Tags, cfg.TagThresholds); err != nil {
		return res, stageErr(StageSubmit, -1, err)
	}
	d.logger.Info("submission written", "path", cfg.OutputPath, "images", len(final.Paths), "members", len(res.Members))
	return res, nil
}

func (d *Driver) modelConfig() model.Config {
	return model.Config{Shape: d.cfg.ImageShape, NumClasses: len(d.cfg.Tags), Threads: d.cfg.Threads}
}

func (d *Driver) loss() objective.Loss {
	var l objective.Loss
	if d.cfg.ClassBalance {
		l.Weights = d.cfg.TagWeights
	}
	if d.cfg.L2Norm {
		l.Beta = d.cfg.Beta
	}
	return l
}

func (d *Driver) trainMember(ctx context.Context, member int, seed int64, g *model.Graph, logger *slog.Logger) (train.Result, error) {
	cfg := d.cfg

	skel, err := pipeline.GenerateDataSkeleton(cfg.TrainDir(), cfg.LabelsFile, cfg.Tags, cfg.ValidSize, cfg.Ext,
		rand.New(rand.NewSource(seed)))
	if err != nil {
		return train.Result{}, errors.Wrap(err, "build data skeleton")
	}
	if len(skel.Unlabeled) > 0 {
		logger.Warn("images without labels ignored", "count", len(skel.Unlabeled))
	}
	logger.Info("data split", "train", len(skel.Train), "valid", len(skel.Valid))

	opts := pipeline.Options{
		Shape:     cfg.ImageShape,
		BatchSize: cfg.BatchSize,
		Shuffle:   true,
		Threads:   cfg.Threads,
		QueueSize: cfg.QueueSize,
		Seed:      seed,
		Logger:    logger,
	}

	trainOpts := opts
	trainOpts.Augment = cfg.Augment
	paths, labels := pipeline.Paths(skel.Train)
	trainStream, err := pipeline.DataPipe(ctx, paths, labels, trainOpts)
	if err != nil {
		return train.Result{}, errors.Wrap(err, "open training stream")
	}
	defer trainStream.Close()

	var valid train.Batches
	if len(skel.Valid) > 0 {
		paths, labels := pipeline.Paths(skel.Valid)
		validStream, err := pipeline.DataPipe(ctx, paths, labels, opts)
		if err != nil {
			return train.Result{}, errors.Wrap(err, "open validation stream")
		}
		defer validStream.Close()
		valid = validStream
	}

	saver, err := checkpoint.NewSaver(cfg.MemberDir(member), cfg.MaxToKeep, logger)
	if err != nil {
		return train.Result{}, err
	}
	saver.SetMetadata("member", strconv.Itoa(member))
	saver.SetMetadata("seed", strconv.FormatInt(seed, 10))

	opt := optim.NewRMSProp(g.Parameters(), optim.RMSPropConfig{LR: cfg.Alpha})
	ctrl, err := train.New(train.Config{
		MaxSteps:           cfg.MaxSteps,
		EvalInterval:       cfg.EvalInterval,
		CheckpointInterval: cfg.CheckpointInterval,
		KeepProb:           cfg.KeepRate,
		Thresholds:         cfg.TagThresholds,
		Loss:               d.loss(),
		Resume:             cfg.Continue,
	}, g, opt, saver, logger)
	if err != nil {
		return train.Result{}, err
	}

	start := time.Now()
	res, err := ctrl.Run(ctx, trainStream, valid)
	if err != nil {
		return res, err
	}
	logger.Info("training finished",
		"steps", res.Steps,
		"loss", res.LastLoss,
		"accuracy", res.LastAccuracy,
		"checkpoint", res.CheckpointPath,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (d *Driver) predictMember(ctx context.Context, member int, g *model.Graph, testPaths []string, logger *slog.Logger) (Prediction, error) {
	cfg := d.cfg

	path, err := checkpoint.Latest(cfg.MemberDir(member))
	if err != nil {
		return Prediction{}, err
	}
	meta, err := checkpoint.Load(path, g, nil)
	if err != nil {
		return Prediction{}, errors.Wrap(err, "restore")
	}
	logger.Info("restored for eval", "path", path, "step", meta.Step)

	return Predict(ctx, g, testPaths, pipeline.Options{
		EpochLimit: 1,
		Shape:      cfg.ImageShape,
		BatchSize:  cfg.BatchSize,
		Threads:    cfg.Threads,
		QueueSize:  cfg.QueueSize,
		Logger:     logger,
	})
}

// Predict streams paths through g exactly once and returns one probability
// row per path, in path order. Every image must decode: a submission that
// silently drops test images is rejected.
func Predict(ctx context.Context, g *model.Graph, paths []string, opts pipeline.Options) (Prediction, error) {
	opts.EpochLimit = 1
	opts.Shuffle = false
	opts.Augment = false

	stream, err := pipeline.DataPipe(ctx, paths, nil, opts)
	if err != nil {
		return Prediction{}, errors.Wrap(err, "open test stream")
	}
	defer stream.Close()

	out := Prediction{
		Paths: make([]string, 0, len(paths)),
		Probs: make([][]float32, 0, len(paths)),
	}
	for {
		b, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Prediction{}, err
		}
		probs, err := g.Predict(b.Images)
		if err != nil {
			return Prediction{}, err
		}
		l := probs.Shape()[1]
		data := probs.Data()
		for r, p := range b.Paths {
			out.Paths = append(out.Paths, p)
			out.Probs = append(out.Probs, slices.Clone(data[r*l:(r+1)*l]))
		}
	}

	if n := stream.Skipped(); n > 0 {
		return Prediction{}, errors.Errorf("%d of %d test images could not be read", n, len(paths))
	}
	if !slices.Equal(out.Paths, paths) {
		return Prediction{}, errors.Errorf("test pass returned %d rows for %d images", len(out.Paths), len(paths))
	}
	return out, nil
}

// Combine reduces member predictions to one. A fresh ensemble takes the
// elementwise mean over members. A continued run takes the last member's
// probabilities under ContinueLast, or the mean under ContinueAverage.
func Combine(members []Prediction, cont bool, policy string) (Prediction, error) {
	if len(members) == 0 {
		return Prediction{}, errors.New("no member predictions")
	}
	if cont && policy != config.ContinueAverage {
		return members[len(members)-1], nil
	}
	return Mean(members)
}

// Mean returns the elementwise arithmetic mean of member probabilities. All
// members must cover the same paths in the same order.
func Mean(members []Prediction) (Prediction, error) {
	if len(members) == 0 {
		return Prediction{}, errors.New("no member predictions")
	}
	first := members[0]
	for i, m := range members[1:] {
		if !slices.Equal(m.Paths, first.Paths) || len(m.Probs) != len(first.Probs) {
			return Prediction{}, errors.Errorf("member %d predicted a different set of images", i+1)
		}
	}

	out := Prediction{Paths: slices.Clone(first.Paths), Probs: make([][]float32, len(first.Probs))}
	for r := range first.Probs {
		width := len(first.Probs[r])
		acc := make([]float64, width)
		row := make([]float64, width)
		for i, m := range members {
			if len(m.Probs[r]) != width {
				return Prediction{}, errors.Errorf("member %d row %d has %d probabilities, expected %d", i, r, len(m.Probs[r]), width)
			}
			for l, p := range m.Probs[r] {
				row[l] = float64(p)
			}
			floats.Add(acc, row)
		}
		floats.Scale(1/float64(len(members)), acc)

		out.Probs[r] = make([]float32, width)
		for l, v := range acc {
			out.Probs[r][l] = float32(v)
		}
	}
	return out, nil
}
