// Package model builds the one-versus-rest tagging network.
//
// Architecture:
//
//	Input: [batch, C, H, W]
//	5 stages of 3×3 SAME Conv2D → BatchNorm2D → ReLU, widths
//	  32,32 | 64,64 | 128,128,128 | 256,256,256 | 256,256,256
//	  each stage followed by a 2×2 stride-2 SAME MaxPool2D
//	Flatten
//	Dense 2048 → ReLU → Dropout(keep)
//	Dense 500  → ReLU → Dropout(keep)
//	Readout: Dense L (raw logits, one independent decision per label)
//
// A Graph is the explicit context for one ensemble member: it owns every
// parameter and batch-norm buffer, and exposes the ordered handles the loss and
// the checkpoint need instead of any global registry.
package model

import (
	"fmt"
	"math/rand"
	"sync"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/nn"
	"github.com/born-ml/tagger/internal/tensor"
)

// Feed carries the inputs of one forward pass.
type Feed struct {
	Images   *tensor.Tensor // [B, C, H, W]
	Labels   *tensor.Tensor // [B, L]; nil for prediction
	KeepProb float32        // Dropout keep probability, used when Training
	Training bool           // Batch statistics in BatchNorm2D, dropout on
}

// Graph is a built network.
type Graph struct {
	mu sync.RWMutex

	cfg     Config
	backend *cpu.CPUBackend
	rng     *rand.Rand // Dropout masks

	trunk       *nn.Sequential
	head        *nn.Sequential
	regularized []*nn.Parameter
}

// Build validates cfg and constructs the network, drawing initial weights
// from rng. No parameter is allocated when cfg is invalid.
func Build(cfg Config, rng *rand.Rand) (*Graph, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rng == nil {
		return nil, fmt.Errorf("%w: nil random source", ErrConfig)
	}

	h, w, in := cfg.Shape[0], cfg.Shape[1], cfg.Shape[2]

	trunk := nn.NewSequential()
	layer := 0
	for _, stage := range ConvStages {
		for _, width := range stage {
			layer++
			trunk.Add(nn.NewConv2D(fmt.Sprintf("conv%d", layer), in, width, 3, rng))
			trunk.Add(nn.NewBatchNorm2D(fmt.Sprintf("bn%d", layer), width))
			trunk.Add(nn.NewReLU())
			in = width
		}
		trunk.Add(nn.NewMaxPool2D(2, 2))
		h, w = cpu.PoolOutputSize(h, 2), cpu.PoolOutputSize(w, 2)
	}

	head := nn.NewSequential(nn.NewFlatten())
	var regularized []*nn.Parameter
	features := in * h * w
	for i, units := range HiddenUnits {
		dense := nn.NewDense(fmt.Sprintf("dense%d", i+1), features, units, rng)
		head.Add(dense)
		head.Add(nn.NewReLU())
		head.Add(nn.NewDropout())
		regularized = append(regularized, dense.Parameters()...)
		features = units
	}
	readout := nn.NewDense("readout", features, cfg.NumClasses, rng)
	head.Add(readout)
	regularized = append(regularized, readout.Parameters()...)

	return &Graph{
		cfg:         cfg,
		backend:     cpu.NewWithThreads(cfg.Threads),
		rng:         rand.New(rand.NewSource(rng.Int63())),
		trunk:       trunk,
		head:        head,
		regularized: regularized,
	}, nil
}

// Config returns the configuration the graph was built from.
func (g *Graph) Config() Config {
	return g.cfg
}

// NewAutodiff returns an autodiff backend over the graph's compute backend.
// Its tape starts out idle.
func (g *Graph) NewAutodiff() *autodiff.AutodiffBackend {
	return autodiff.New(g.backend)
}

// CheckFeed validates a feed against the graph's input shape and class count.
func (g *Graph) CheckFeed(feed Feed) error {
	if feed.Images == nil {
		return fmt.Errorf("%w: missing images", ErrShape)
	}
	s := feed.Images.Shape()
	if len(s) != 4 {
		return fmt.Errorf("%w: images must be [B,C,H,W], got %v", ErrShape, s)
	}
	if s[1] != g.cfg.Shape[2] {
		return fmt.Errorf("%w: images have %d channels, graph expects %d", ErrShape, s[1], g.cfg.Shape[2])
	}
	if want := (tensor.Shape{s[0], g.cfg.Shape[2], g.cfg.Shape[0], g.cfg.Shape[1]}); !s.Equal(want) {
		return fmt.Errorf("%w: images %v, expected %v", ErrShape, s, want)
	}
	if feed.Labels != nil {
		if ls := feed.Labels.Shape(); !ls.Equal(tensor.Shape{s[0], g.cfg.NumClasses}) {
			return fmt.Errorf("%w: labels %v for %d images and %d classes", ErrShape, ls, s[0], g.cfg.NumClasses)
		}
	}
	if feed.Training && (feed.KeepProb <= 0 || feed.KeepProb > 1) {
		return fmt.Errorf("%w: keep probability %v outside (0, 1]", ErrConfig, feed.KeepProb)
	}
	return nil
}

// Forward computes logits [B, L] through ad. Operations are recorded when ad's
// tape is recording.
//
// Forward does not lock the graph; training steps run it inside Update.
func (g *Graph) Forward(ad *autodiff.AutodiffBackend, feed Feed) (*tensor.Tensor, error) {
	if err := g.CheckFeed(feed); err != nil {
		return nil, err
	}
	mode := nn.Inference
	if feed.Training {
		mode = nn.Mode{Training: true, KeepProb: feed.KeepProb, RNG: g.rng}
	}
	x := g.trunk.Forward(ad, feed.Images, mode)
	return g.head.Forward(ad, x, mode), nil
}

// Predict returns sigmoid probabilities [B, L] for images, with batch-norm in
// inference mode and dropout off.
func (g *Graph) Predict(images *tensor.Tensor) (*tensor.Tensor, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	logits, err := g.Forward(g.NewAutodiff(), Feed{Images: images, KeepProb: 1})
	if err != nil {
		return nil, err
	}
	return g.backend.Sigmoid(logits), nil
}

// Update runs fn while holding the graph's write lock. Training steps mutate
// parameters only inside Update, so a concurrent StateDict never observes a
// half-applied step.
func (g *Graph) Update(fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn()
}

// View runs fn while holding the graph's read lock.
func (g *Graph) View(fn func()) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	fn()
}

// ApplyUpdates folds the batch statistics of the last training forward pass
// into the batch-norm running averages. It must run before the optimizer step
// of the same update. Call it inside Update.
func (g *Graph) ApplyUpdates() bool {
	return g.trunk.ApplyUpdates()
}

// Parameters returns every trainable parameter in construction order.
func (g *Graph) Parameters() []*nn.Parameter {
	return append(g.trunk.Parameters(), g.head.Parameters()...)
}

// Buffers returns the batch-norm running statistics.
func (g *Graph) Buffers() []*nn.Parameter {
	return g.trunk.Buffers()
}

// Regularized returns the weight and bias of both dense layers and of the
// readout, in that order. Convolution filters are not regularized.
func (g *Graph) Regularized() []*nn.Parameter {
	out := make([]*nn.Parameter, len(g.regularized))
	copy(out, g.regularized)
	return out
}

// StateDict snapshots every parameter and buffer under the read lock.
func (g *Graph) StateDict() map[string]*tensor.Tensor {
	var state map[string]*tensor.Tensor
	g.View(func() { state = g.StateDictLocked() })
	return state
}

// StateDictLocked is StateDict for callers already inside View or Update.
func (g *Graph) StateDictLocked() map[string]*tensor.Tensor {
	return nn.StateDict(g.Parameters(), g.Buffers())
}

// LoadStateDict restores every parameter and buffer. The graph is unchanged
// when an error is returned.
func (g *Graph) LoadStateDict(state map[string]*tensor.Tensor) error {
	return g.Update(func() error { return g.LoadStateDictLocked(state) })
}

// LoadStateDictLocked is LoadStateDict for callers already inside Update.
func (g *Graph) LoadStateDictLocked(state map[string]*tensor.Tensor) error {
	return nn.LoadStateDict(state, g.Parameters(), g.Buffers())
}

// NumParameters returns the number of trainable scalars.
func (g *Graph) NumParameters() int {
	n := 0
	for _, p := range g.Parameters() {
		n += p.Tensor().NumElements()
	}
	return n
}
