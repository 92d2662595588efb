// Package train runs the optimization loop of one ensemble member.
//
// The controller moves through INIT (fresh or restored parameters), a
// sequence of STEP states with periodic EVAL and CHECKPOINT sub-states, and
// DONE at MaxSteps. Each step applies the batch-norm running-statistic
// updates of its forward pass before the optimizer moves the weights.
package train

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/checkpoint"
	"github.com/born-ml/tagger/internal/model"
	"github.com/born-ml/tagger/internal/objective"
	"github.com/born-ml/tagger/internal/optim"
	"github.com/born-ml/tagger/internal/pipeline"
)

// Errors.
var (
	// ErrResume is returned when a requested restore fails. The controller
	// never falls back to fresh parameters.
	ErrResume = errors.New("resume failed")
	// ErrNonFinite is returned when the training loss is NaN or infinite.
	// No optimizer step is applied for that batch.
	ErrNonFinite = errors.New("non-finite loss")
	// ErrStreamEnded is returned when the training stream runs dry before MaxSteps.
	ErrStreamEnded = errors.New("training stream ended early")
)

// Batches is a source of batches; *pipeline.Stream implements it.
type Batches interface {
	Next(ctx context.Context) (*pipeline.Batch, error)
}

// Config holds the loop settings.
type Config struct {
	MaxSteps           int64
	EvalInterval       int64 // 0 disables evaluation
	CheckpointInterval int64 // 0 checkpoints only at MaxSteps
	KeepProb           float32
	Thresholds         []float32
	Loss               objective.Loss
	Resume             bool
}

// Result summarizes a finished run.
type Result struct {
	StartStep      int64
	Steps          int64
	LastLoss       float64
	LastAccuracy   float64
	LastEval       *EvalResult
	CheckpointPath string
}

// EvalResult holds the metrics of one validation batch.
type EvalResult struct {
	Step     int64
	Loss     float64
	Accuracy float64
	F2       float64
	PerLabel []float64
}

// Controller trains one graph.
type Controller struct {
	cfg    Config
	graph  *model.Graph
	opt    optim.Optimizer
	saver  *checkpoint.Saver
	logger *slog.Logger

	ad     *autodiff.AutodiffBackend // recording backend for steps
	evalAD *autodiff.AutodiffBackend // never records
}

// New creates a controller. saver may be nil when nothing is persisted; a
// Resume config then fails with ErrResume.
func New(cfg Config, graph *model.Graph, opt optim.Optimizer, saver *checkpoint.Saver, logger *slog.Logger) (*Controller, error) {
	if cfg.MaxSteps <= 0 {
		return nil, fmt.Errorf("max steps must be positive, got %d", cfg.MaxSteps)
	}
	if cfg.EvalInterval < 0 || cfg.CheckpointInterval < 0 {
		return nil, fmt.Errorf("intervals must be non-negative, got eval=%d checkpoint=%d", cfg.EvalInterval, cfg.CheckpointInterval)
	}
	if cfg.KeepProb <= 0 || cfg.KeepProb > 1 {
		return nil, fmt.Errorf("keep probability %v outside (0, 1]", cfg.KeepProb)
	}
	if n := graph.Config().NumClasses; len(cfg.Thresholds) != n {
		return nil, fmt.Errorf("%d thresholds for %d classes", len(cfg.Thresholds), n)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		graph:  graph,
		opt:    opt,
		saver:  saver,
		logger: logger,
		ad:     graph.NewAutodiff(),
		evalAD: graph.NewAutodiff(),
	}, nil
}

// Run executes the loop until MaxSteps, an error or ctx cancellation. valid
// may be nil to skip evaluation.
func (c *Controller) Run(ctx context.Context, trainStream, valid Batches) (Result, error) {
	var res Result

	if c.cfg.Resume {
		if c.saver == nil {
			return res, fmt.Errorf("%w: no checkpoint directory", ErrResume)
		}
		meta, err := c.saver.Restore(c.graph, c.opt)
		if err != nil {
			return res, fmt.Errorf("%w: %w", ErrResume, err)
		}
		res.StartStep = meta.Step
		res.Steps = meta.Step
		res.LastLoss = meta.Loss
		c.logger.Info("restored checkpoint", "dir", c.saver.Dir(), "step", meta.Step, "run_id", meta.RunID)
	}
	if res.StartStep >= c.cfg.MaxSteps {
		c.logger.Info("checkpoint already at max steps", "step", res.StartStep, "max_steps", c.cfg.MaxSteps)
		return res, nil
	}

	start := time.Now()
	for step := res.StartStep + 1; step <= c.cfg.MaxSteps; step++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		batch, err := trainStream.Next(ctx)
		if errors.Is(err, io.EOF) {
			return res, fmt.Errorf("%w at step %d", ErrStreamEnded, step)
		}
		if err != nil {
			return res, err
		}

		loss, acc, err := c.Step(batch)
		if err != nil {
			return res, fmt.Errorf("step %d: %w", step, err)
		}
		res.Steps, res.LastLoss, res.LastAccuracy = step, loss, acc
		c.logger.Debug("train step", "step", step, "loss", loss, "accuracy", acc)

		if valid != nil && c.cfg.EvalInterval > 0 && step%c.cfg.EvalInterval == 0 {
			ev, err := c.evaluate(ctx, valid, step)
			if err != nil {
				return res, fmt.Errorf("eval at step %d: %w", step, err)
			}
			res.LastEval = ev
			c.logger.Info("validation",
				"step", step,
				"train_loss", loss,
				"train_accuracy", acc,
				"loss", ev.Loss,
				"accuracy", ev.Accuracy,
				"f2", ev.F2,
				"elapsed", time.Since(start).Round(time.Millisecond))
		}

		if c.saver != nil && (step == c.cfg.MaxSteps ||
			(c.cfg.CheckpointInterval > 0 && step%c.cfg.CheckpointInterval == 0)) {
			path, err := c.saver.Save(step, loss, c.graph, c.opt)
			if err != nil {
				return res, fmt.Errorf("checkpoint at step %d: %w", step, err)
			}
			res.CheckpointPath = path
			c.logger.Info("checkpoint", "step", step, "path", path)
		}
	}
	return res, nil
}

// Step runs one update on batch: forward in training mode, loss, backward,
// then (a) the batch-norm running-statistic update and (b) the optimizer step.
// It returns the batch loss and all-correct accuracy.
func (c *Controller) Step(batch *pipeline.Batch) (loss, accuracy float64, err error) {
	if batch.Labels == nil {
		return 0, 0, errors.New("training batch has no labels")
	}

	err = c.graph.Update(func() error {
		tape := c.ad.Tape()
		tape.Clear()
		tape.StartRecording()
		defer func() {
			tape.StopRecording()
			tape.Clear()
		}()

		c.opt.ZeroGrad()
		logits, err := c.graph.Forward(c.ad, model.Feed{
			Images:   batch.Images,
			Labels:   batch.Labels,
			KeepProb: c.cfg.KeepProb,
			Training: true,
		})
		if err != nil {
			return err
		}
		lossT, err := c.cfg.Loss.Build(c.ad, logits, batch.Labels, c.graph.Regularized())
		if err != nil {
			return err
		}
		loss = float64(lossT.Item())
		if math.IsNaN(loss) || math.IsInf(loss, 0) {
			return fmt.Errorf("%w: %v", ErrNonFinite, loss)
		}
		accuracy, err = objective.Accuracy(logits, batch.Labels, c.cfg.Thresholds)
		if err != nil {
			return err
		}

		grads := c.ad.Backward(lossT)
		c.graph.ApplyUpdates()
		c.opt.Step(grads)
		return nil
	})
	return loss, accuracy, err
}

// Evaluate computes validation metrics on one batch without touching the
// parameters or batch-norm statistics.
func (c *Controller) Evaluate(batch *pipeline.Batch) (*EvalResult, error) {
	if batch.Labels == nil {
		return nil, errors.New("validation batch has no labels")
	}
	ev := &EvalResult{}
	var err error
	c.graph.View(func() {
		logits, ferr := c.graph.Forward(c.evalAD, model.Feed{Images: batch.Images, Labels: batch.Labels, KeepProb: 1})
		if ferr != nil {
			err = ferr
			return
		}
		lossT, lerr := c.cfg.Loss.Build(c.evalAD, logits, batch.Labels, c.graph.Regularized())
		if lerr != nil {
			err = lerr
			return
		}
		ev.Loss = float64(lossT.Item())
		if ev.Accuracy, err = objective.Accuracy(logits, batch.Labels, c.cfg.Thresholds); err != nil {
			return
		}
		if ev.PerLabel, err = objective.PerLabelAccuracy(logits, batch.Labels, c.cfg.Thresholds); err != nil {
			return
		}
		ev.F2, err = objective.F2Score(logits, batch.Labels, c.cfg.Thresholds)
	})
	if err != nil {
		return nil, err
	}
	return ev, nil
}

func (c *Controller) evaluate(ctx context.Context, valid Batches, step int64) (*EvalResult, error) {
	batch, err := valid.Next(ctx)
	if err != nil {
		return nil, err
	}
	ev, err := c.Evaluate(batch)
	if err != nil {
		return nil, err
	}
	ev.Step = step
	return ev, nil
}
