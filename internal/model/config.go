package model

import (
	"errors"
	"fmt"
)

// Build errors.
var (
	// ErrConfig is returned by Build for an unusable configuration.
	ErrConfig = errors.New("invalid model configuration")
	// ErrShape is returned when a feed does not match the built graph.
	ErrShape = errors.New("input shape mismatch")
)

// ConvStages lists the output widths of the convolutional trunk, one slice
// per stage. Every stage ends with a 2×2 stride-2 max-pool.
var ConvStages = [][]int{
	{32, 32},
	{64, 64},
	{128, 128, 128},
	{256, 256, 256},
	{256, 256, 256},
}

// HiddenUnits lists the widths of the two dense layers before the readout.
var HiddenUnits = []int{2048, 500}

// Config describes the network to build.
type Config struct {
	// Shape is the input image shape as [height, width, channels].
	Shape [3]int
	// NumClasses is the number of labels L.
	NumClasses int
	// Threads bounds the goroutines the compute kernels fan out to.
	// Zero uses every CPU.
	Threads int
}

// Validate reports every problem with the configuration.
func (c Config) Validate() error {
	var errs []error
	h, w, ch := c.Shape[0], c.Shape[1], c.Shape[2]
	if h <= 0 || w <= 0 {
		errs = append(errs, fmt.Errorf("%w: image size %dx%d", ErrConfig, h, w))
	}
	if ch <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d input channels", ErrConfig, ch))
	}
	if c.NumClasses <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d classes", ErrConfig, c.NumClasses))
	}
	if c.Threads < 0 {
		errs = append(errs, fmt.Errorf("%w: %d threads", ErrConfig, c.Threads))
	}
	return errors.Join(errs...)
}
