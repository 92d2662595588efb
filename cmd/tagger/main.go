// Package main provides the tagger CLI: it trains an ensemble of one-versus-rest
// CNNs on labelled images and writes a submission for the test set.
//
// Usage:
//
//	tagger [flags]
//	tagger version
//
// Settings come from -config (YAML) on top of the built-in defaults; any flag
// given on the command line overrides the file.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/born-ml/tagger/internal/config"
	"github.com/born-ml/tagger/internal/ensemble"
)

const version = "v0.1.0"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Printf("tagger %s\n", version)
		return
	}
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("tagger", flag.ContinueOnError)
	var (
		configPath = fs.String("config", "", "YAML configuration file")
		logLevel   = fs.String("log-level", "info", "debug, info, warn or error")

		imagePath  = fs.String("image-path", "", "directory holding train/ and test/")
		labelsFile = fs.String("labels", "", "labels CSV (image_name,tags)")
		modelPath  = fs.String("model-path", "", "checkpoint directory")
		outputPath = fs.String("output", "", "submission CSV path")

		doTrain  = fs.Bool("train", false, "train the ensemble members")
		doEval   = fs.Bool("eval", false, "predict the test set and write the submission")
		cont     = fs.Bool("continue", false, "resume every member from its latest checkpoint")
		policy   = fs.String("continue-policy", "", "combine continued members: last or average")
		members  = fs.Int("ensemble", 0, "number of ensemble members")
		maxSteps = fs.Int64("max-steps", 0, "training steps per member")
		batch    = fs.Int("batch-size", 0, "batch size")
		threads  = fs.Int("threads", 0, "data pipeline workers")
		augment  = fs.Bool("augment", false, "random flips and rotations")
		seed     = fs.Int64("seed", 0, "base random seed; member i uses seed+i")
	)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	logger, err := newLogger(*logLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "tagger: %v\n", err)
		return 2
	}

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			fmt.Fprintf(os.Stderr, "tagger: %s failed: %v\n", ensemble.StageBuild, err)
			return 1
		}
	}

	// Only flags given explicitly override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "image-path":
			cfg.ImagePath = *imagePath
		case "labels":
			cfg.LabelsFile = *labelsFile
		case "model-path":
			cfg.ModelPath = *modelPath
		case "output":
			cfg.OutputPath = *outputPath
		case "train":
			cfg.Train = *doTrain
		case "eval":
			cfg.Eval = *doEval
		case "continue":
			cfg.Continue = *cont
		case "continue-policy":
			cfg.ContinuePolicy = *policy
		case "ensemble":
			cfg.Ensemble = *members
		case "max-steps":
			cfg.MaxSteps = *maxSteps
		case "batch-size":
			cfg.BatchSize = *batch
		case "threads":
			cfg.Threads = *threads
		case "augment":
			cfg.Augment = *augment
		case "seed":
			cfg.Seed = *seed
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := ensemble.New(cfg, logger)
	if err == nil {
		_, err = d.Run(ctx)
	}
	if err != nil {
		var se *ensemble.StageError
		if errors.As(err, &se) {
			fmt.Fprintf(os.Stderr, "tagger: %s failed: %v\n", se.Stage, se.Err)
			logger.Debug("root cause", "member", se.Member, "cause", errors.Cause(err))
		} else {
			fmt.Fprintf(os.Stderr, "tagger: %v\n", err)
		}
		return 1
	}
	return 0
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
