// Package config holds the process-wide settings of a tagger run.
//
// Settings are read from a YAML file on top of Default; the command line can
// override individual fields afterwards. A Config is fixed once Validate
// accepts it.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Continue policies for combining member predictions when resuming.
const (
	ContinueLast    = "last"
	ContinueAverage = "average"
)

// PlanetTags are the 17 labels of the Amazon rainforest satellite imagery
// dataset, in submission order.
var PlanetTags = []string{
	"agriculture", "artisinal_mine", "bare_ground", "blooming", "blow_down",
	"clear", "cloudy", "conventional_mine", "cultivation", "habitation",
	"haze", "partly_cloudy", "primary", "road", "selective_logging",
	"slash_burn", "water",
}

// Config is the full run configuration.
type Config struct {
	// Data. ImagePath holds the train/ and test/ directories; LabelsFile is
	// an image_name,tags CSV. ValidSize is the fraction held out for
	// validation.
	ImagePath  string  `yaml:"image_path"`
	LabelsFile string  `yaml:"labels_file"`
	Ext        string  `yaml:"ext"`
	ImageShape [3]int  `yaml:"image_shape"` // [height, width, channels]
	ValidSize  float64 `yaml:"valid_size"`
	Augment    bool    `yaml:"augment"`
	Threads    int     `yaml:"threads"`
	QueueSize  int     `yaml:"queue_size"`

	// Labels
	Tags          []string  `yaml:"tags"`
	TagWeights    []float32 `yaml:"tag_weights"`
	TagThresholds []float32 `yaml:"tag_thresholds"`
	ClassBalance  bool      `yaml:"class_balance"`

	// Optimization
	BatchSize          int     `yaml:"batch_size"`
	Alpha              float32 `yaml:"alpha"`
	Beta               float32 `yaml:"beta"`
	L2Norm             bool    `yaml:"l2_norm"`
	KeepRate           float32 `yaml:"keep_rate"`
	MaxSteps           int64   `yaml:"max_steps"`
	EvalInterval       int64   `yaml:"eval_interval"`
	CheckpointInterval int64   `yaml:"checkpoint_interval"`
	MaxToKeep          int     `yaml:"max_to_keep"`

	// Modes
	Ensemble       int    `yaml:"ensemble"`
	Train          bool   `yaml:"train"`
	Eval           bool   `yaml:"eval"`
	Continue       bool   `yaml:"continue"`
	ContinuePolicy string `yaml:"continue_policy"`
	Seed           int64  `yaml:"seed"`

	// Outputs
	ModelPath  string `yaml:"model_path"`
	OutputPath string `yaml:"output_path"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	tags := append([]string(nil), PlanetTags...)
	weights := make([]float32, len(tags))
	thresholds := make([]float32, len(tags))
	for i := range tags {
		weights[i] = 1
		thresholds[i] = 0.2
	}
	return Config{
		ImagePath:  "data",
		LabelsFile: filepath.Join("data", "train_v2.csv"),
		Ext:        "jpg",
		ImageShape: [3]int{128, 128, 3},
		ValidSize:  0.1,
		Threads:    4,
		QueueSize:  2,

		Tags:          tags,
		TagWeights:    weights,
		TagThresholds: thresholds,

		BatchSize:          32,
		Alpha:              1e-3,
		Beta:               1e-2,
		KeepRate:           0.5,
		MaxSteps:           10000,
		EvalInterval:       100,
		CheckpointInterval: 1000,
		MaxToKeep:          5,

		Ensemble:       1,
		Train:          true,
		Eval:           true,
		ContinuePolicy: ContinueLast,

		ModelPath:  "models",
		OutputPath: "submission.csv",
	}
}

// Load reads a YAML file on top of Default. Unknown keys are rejected.
func Load(path string) (Config, error) {
	cfg := Default()
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// WriteFile stores cfg as YAML at path.
func (c Config) WriteFile(path string) error {
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// TrainDir is the directory of labelled training images.
func (c Config) TrainDir() string { return filepath.Join(c.ImagePath, "train") }

// TestDir is the directory of unlabelled test images.
func (c Config) TestDir() string { return filepath.Join(c.ImagePath, "test") }

// MemberDir is the checkpoint directory of ensemble member i.
func (c Config) MemberDir(i int) string {
	return filepath.Join(c.ModelPath, fmt.Sprintf("member-%d", i))
}

// Validate reports every problem with the configuration at once.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if !c.Train && !c.Eval {
		bad("neither train nor eval is enabled")
	}
	if c.ImagePath == "" {
		bad("image_path is empty")
	}
	if c.Train && c.LabelsFile == "" {
		bad("labels_file is required for training")
	}
	if c.ModelPath == "" {
		bad("model_path is empty")
	}
	if c.Eval && c.OutputPath == "" {
		bad("output_path is required for eval")
	}
	if c.Ext == "" {
		bad("ext is empty")
	}

	h, w, ch := c.ImageShape[0], c.ImageShape[1], c.ImageShape[2]
	if h <= 0 || w <= 0 {
		bad("image_shape %dx%d", h, w)
	}
	if ch != 1 && ch != 3 && ch != 4 {
		bad("image_shape has %d channels, want 1, 3 or 4", ch)
	}
	if c.ValidSize < 0 || c.ValidSize >= 1 {
		bad("valid_size %v outside [0, 1)", c.ValidSize)
	}
	if c.Threads < 1 {
		bad("threads %d", c.Threads)
	}
	if c.QueueSize < 1 {
		bad("queue_size %d", c.QueueSize)
	}

	errs = append(errs, c.validateTags()...)

	if c.BatchSize < 1 {
		bad("batch_size %d", c.BatchSize)
	}
	if c.Alpha <= 0 {
		bad("alpha %v must be positive", c.Alpha)
	}
	if c.Beta < 0 {
		bad("beta %v is negative", c.Beta)
	}
	if c.KeepRate <= 0 || c.KeepRate > 1 {
		bad("keep_rate %v outside (0, 1]", c.KeepRate)
	}
	if c.Train && c.MaxSteps < 1 {
		bad("max_steps %d", c.MaxSteps)
	}
	if c.EvalInterval < 0 || c.CheckpointInterval < 0 {
		bad("negative interval (eval %d, checkpoint %d)", c.EvalInterval, c.CheckpointInterval)
	}
	if c.MaxToKeep < 1 {
		bad("max_to_keep %d", c.MaxToKeep)
	}

	if c.Ensemble < 1 {
		bad("ensemble %d", c.Ensemble)
	}
	if c.ContinuePolicy != ContinueLast && c.ContinuePolicy != ContinueAverage {
		bad("continue_policy %q, want %q or %q", c.ContinuePolicy, ContinueLast, ContinueAverage)
	}
	return errors.Join(errs...)
}

func (c Config) validateTags() []error {
	var errs []error
	if len(c.Tags) == 0 {
		errs = append(errs, fmt.Errorf("%w: no tags", ErrInvalid))
	}
	seen := make(map[string]bool, len(c.Tags))
	for _, t := range c.Tags {
		if t == "" || seen[t] {
			errs = append(errs, fmt.Errorf("%w: empty or duplicate tag %q", ErrInvalid, t))
		}
		seen[t] = true
	}
	if len(c.TagThresholds) != len(c.Tags) {
		errs = append(errs, fmt.Errorf("%w: %d tag_thresholds for %d tags", ErrInvalid, len(c.TagThresholds), len(c.Tags)))
	}
	for i, th := range c.TagThresholds {
		if th < 0 || th > 1 {
			errs = append(errs, fmt.Errorf("%w: tag_thresholds[%d] = %v outside [0, 1]", ErrInvalid, i, th))
		}
	}
	if len(c.TagWeights) != len(c.Tags) {
		errs = append(errs, fmt.Errorf("%w: %d tag_weights for %d tags", ErrInvalid, len(c.TagWeights), len(c.Tags)))
	}
	for i, w := range c.TagWeights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("%w: tag_weights[%d] = %v is negative", ErrInvalid, i, w))
		}
	}
	return errs
}
