// Package pipeline streams labelled images into fixed-size batches.
//
// A stream is a small producer graph:
//
//	feeder → Threads decode workers → reorder/batcher → bounded batch queue
//
// The feeder walks the sample indices epoch by epoch (shuffled per epoch when
// requested), workers decode and optionally augment images concurrently, and
// the batcher restores feeder order before cutting batches, so an unshuffled
// single-epoch stream yields every readable sample exactly once, in input
// order. Unreadable samples are logged and skipped.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"

	"github.com/born-ml/tagger/internal/tensor"
)

// ErrOptions is returned by DataPipe for invalid options.
var ErrOptions = errors.New("invalid pipeline options")

// Options configures a stream.
type Options struct {
	// EpochLimit is the number of passes over the samples; 0 repeats forever.
	EpochLimit int
	// Shape is the decoded image shape as [height, width, channels].
	Shape [3]int
	// BatchSize is the number of samples per batch. The final batch of a
	// finite stream may be smaller.
	BatchSize int
	// Augment enables random flips and rotations.
	Augment bool
	// Shuffle reorders the samples at the start of every epoch.
	Shuffle bool
	// Threads is the number of decode workers (default 1).
	Threads int
	// QueueSize bounds the number of ready batches (default 2).
	QueueSize int
	// Seed drives shuffling and augmentation.
	Seed int64
	// Logger receives skipped-sample warnings (default slog.Default()).
	Logger *slog.Logger
}

// Batch is one group of decoded samples.
type Batch struct {
	Images *tensor.Tensor // [B, C, H, W]
	Labels *tensor.Tensor // [B, L]; nil when the stream has no labels
	Paths  []string
}

// Size returns the number of samples in the batch.
func (b *Batch) Size() int {
	return len(b.Paths)
}

// Stream delivers batches produced in the background.
type Stream struct {
	out    chan *Batch
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	err     error
	skipped int
}

type job struct {
	seq int
	idx int
}

type result struct {
	seq  int
	idx  int
	data []float32 // nil when the sample was skipped
}

// DataPipe starts a stream over paths. labels is either nil (test mode) or
// holds one row of equal length per path.
func DataPipe(ctx context.Context, paths []string, labels [][]float32, opts Options) (*Stream, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no paths", ErrNoSamples)
	}
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("%w: batch size %d", ErrOptions, opts.BatchSize)
	}
	if opts.EpochLimit < 0 {
		return nil, fmt.Errorf("%w: epoch limit %d", ErrOptions, opts.EpochLimit)
	}
	numLabels := 0
	if labels != nil {
		if len(labels) != len(paths) {
			return nil, fmt.Errorf("%w: %d label rows for %d paths", ErrOptions, len(labels), len(paths))
		}
		numLabels = len(labels[0])
		for i, row := range labels {
			if len(row) != numLabels || numLabels == 0 {
				return nil, fmt.Errorf("%w: label row %d has %d entries, expected %d", ErrOptions, i, len(row), numLabels)
			}
		}
	}
	loader, err := NewLoader(opts.Shape)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOptions, err)
	}
	if opts.Threads <= 0 {
		opts.Threads = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 2
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{
		out:    make(chan *Batch, opts.QueueSize),
		cancel: cancel,
	}

	// window caps the samples in flight between feeder and batcher so the
	// reorder buffer stays bounded behind a slow decode.
	window := make(chan struct{}, opts.Threads*2+opts.BatchSize)
	jobs := make(chan job, opts.Threads)
	results := make(chan result, opts.Threads)

	p := &producer{
		paths:     paths,
		labels:    labels,
		numLabels: numLabels,
		loader:    loader,
		opts:      opts,
		window:    window,
		stream:    s,
	}

	s.wg.Add(2 + opts.Threads)
	go func() {
		defer s.wg.Done()
		p.feed(ctx, jobs)
	}()

	var workers sync.WaitGroup
	workers.Add(opts.Threads)
	for w := range opts.Threads {
		rng := rand.New(rand.NewSource(opts.Seed + int64(w) + 1))
		go func() {
			defer s.wg.Done()
			defer workers.Done()
			p.work(ctx, rng, jobs, results)
		}()
	}
	go func() {
		workers.Wait()
		close(results)
	}()

	go func() {
		defer s.wg.Done()
		defer close(s.out)
		p.batch(ctx, results)
	}()

	return s, nil
}

// Next blocks until a batch is ready. It returns io.EOF once a finite stream
// is exhausted, and the stream's error if production failed.
func (s *Stream) Next(ctx context.Context) (*Batch, error) {
	select {
	case b, ok := <-s.out:
		if ok {
			return b, nil
		}
		if err := s.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Err returns the error that stopped production, if any.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Skipped returns the number of samples skipped so far.
func (s *Stream) Skipped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.skipped
}

// Close stops the workers and waits for them to exit.
func (s *Stream) Close() error {
	s.cancel()
	s.wg.Wait()
	return nil
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

type producer struct {
	paths     []string
	labels    [][]float32
	numLabels int
	loader    Loader
	opts      Options
	window    chan struct{}
	stream    *Stream
}

func (p *producer) feed(ctx context.Context, jobs chan<- job) {
	defer close(jobs)

	rng := rand.New(rand.NewSource(p.opts.Seed))
	order := make([]int, len(p.paths))
	for i := range order {
		order[i] = i
	}

	seq := 0
	for epoch := 0; p.opts.EpochLimit == 0 || epoch < p.opts.EpochLimit; epoch++ {
		if p.opts.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}
		for _, idx := range order {
			select {
			case p.window <- struct{}{}:
			case <-ctx.Done():
				return
			}
			select {
			case jobs <- job{seq: seq, idx: idx}:
				seq++
			case <-ctx.Done():
				return
			}
		}
	}
}

func (p *producer) work(ctx context.Context, rng *rand.Rand, jobs <-chan job, results chan<- result) {
	l := p.loader
	for j := range jobs {
		r := result{seq: j.seq, idx: j.idx}
		data := make([]float32, l.Size())
		if err := l.Load(p.paths[j.idx], data); err != nil {
			p.opts.Logger.Warn("skipping unreadable sample", "path", p.paths[j.idx], "err", err)
		} else {
			if p.opts.Augment {
				Augment(data, l.Channels, l.Height, l.Width, rng)
			}
			r.data = data
		}
		select {
		case results <- r:
		case <-ctx.Done():
			return
		}
	}
}

// batch restores feeder order and cuts batches. It gives up with ErrNoSamples
// after a full pass's worth of consecutive skipped samples, so a stream whose
// every file is unreadable ends instead of stalling.
func (p *producer) batch(ctx context.Context, results <-chan result) {
	pending := make(map[int]result)
	next := 0
	consecutiveSkips := 0
	var group []result

	emit := func() bool {
		if len(group) == 0 {
			return true
		}
		b := p.assemble(group)
		group = group[:0]
		select {
		case p.stream.out <- b:
			return true
		case <-ctx.Done():
			return false
		}
	}

	for r := range results {
		pending[r.seq] = r
		for {
			r, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			<-p.window

			if r.data == nil {
				p.stream.mu.Lock()
				p.stream.skipped++
				p.stream.mu.Unlock()
				consecutiveSkips++
				if consecutiveSkips >= len(p.paths) {
					p.stream.fail(fmt.Errorf("%w: none of %d samples could be read", ErrNoSamples, len(p.paths)))
					p.stream.cancel()
					return
				}
				continue
			}
			consecutiveSkips = 0
			group = append(group, r)
			if len(group) == p.opts.BatchSize && !emit() {
				return
			}
		}
	}
	if ctx.Err() == nil {
		emit()
	}
}

func (p *producer) assemble(group []result) *Batch {
	l := p.loader
	n := len(group)
	images := tensor.Zeros(tensor.Shape{n, l.Channels, l.Height, l.Width})
	dst := images.Data()
	b := &Batch{Images: images, Paths: make([]string, n)}
	if p.labels != nil {
		b.Labels = tensor.Zeros(tensor.Shape{n, p.numLabels})
	}
	for i, r := range group {
		copy(dst[i*l.Size():], r.data)
		b.Paths[i] = p.paths[r.idx]
		if b.Labels != nil {
			copy(b.Labels.Data()[i*p.numLabels:], p.labels[r.idx])
		}
	}
	return b
}
