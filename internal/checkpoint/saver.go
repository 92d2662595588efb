// Package checkpoint persists training state as versioned .born files.
//
// A checkpoint directory holds files named model.ckpt-<step>.born plus an
// index file, "checkpoint", naming the latest file and every retained one.
// Each file carries all trainable parameters, the batch-norm running
// statistics and, when an optimizer is given, its slots under the
// "optimizer." prefix, so a resumed run continues exactly where it stopped.
package checkpoint

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/born-ml/tagger/internal/serialization"
	"github.com/born-ml/tagger/internal/tensor"
)

// DefaultMaxToKeep is the number of checkpoints retained when none is configured.
const DefaultMaxToKeep = 5

const (
	filePrefix      = "model.ckpt-"
	fileExt         = ".born"
	optimizerPrefix = "optimizer."
	modelType       = "tagger-ovr"
)

// Errors.
var (
	// ErrNoCheckpoint is returned when a directory has no usable checkpoint.
	ErrNoCheckpoint = errors.New("no checkpoint found")
	// ErrIndex is returned for a malformed index file.
	ErrIndex = errors.New("malformed checkpoint index")
)

// Model is the state a checkpoint captures. *model.Graph implements it.
type Model interface {
	// View runs fn with parameters quiesced for reading.
	View(fn func())
	// Update runs fn with exclusive access to the parameters.
	Update(fn func() error) error
	StateDictLocked() map[string]*tensor.Tensor
	LoadStateDictLocked(state map[string]*tensor.Tensor) error
}

// Slots is optimizer state stored alongside the model. optim.Optimizer
// implements it.
type Slots interface {
	StateDict() map[string]*tensor.Tensor
	LoadStateDict(state map[string]*tensor.Tensor) error
}

// Saver writes checkpoints into one directory and prunes all but the most
// recent maxToKeep.
type Saver struct {
	mu        sync.Mutex
	dir       string
	maxToKeep int
	runID     string
	metadata  map[string]string
	logger    *slog.Logger
	index     Index
}

// NewSaver creates dir if needed and picks up its existing index, so
// retention keeps counting across restarts. maxToKeep <= 0 selects
// DefaultMaxToKeep.
func NewSaver(dir string, maxToKeep int, logger *slog.Logger) (*Saver, error) {
	if maxToKeep <= 0 {
		maxToKeep = DefaultMaxToKeep
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create checkpoint dir: %w", err)
	}

	idx, err := ReadIndex(dir)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("read checkpoint index: %w", err)
	}
	return &Saver{
		dir:       dir,
		maxToKeep: maxToKeep,
		runID:     uuid.NewString(),
		metadata:  map[string]string{},
		logger:    logger,
		index:     idx,
	}, nil
}

// Dir returns the checkpoint directory.
func (s *Saver) Dir() string {
	return s.dir
}

// RunID identifies the process that wrote this saver's checkpoints.
func (s *Saver) RunID() string {
	return s.runID
}

// SetMetadata attaches a key/value pair to every subsequent checkpoint.
func (s *Saver) SetMetadata(key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Path returns the file a checkpoint for step is written to.
func (s *Saver) Path(step int64) string {
	return filepath.Join(s.dir, fileName(step))
}

// Save snapshots m (and opt, when non-nil) at step and returns the written
// path. The snapshot is taken inside m.View, so no update is applied while
// the parameters are copied.
func (s *Saver) Save(step int64, loss float64, m Model, opt Slots) (string, error) {
	var state map[string]*tensor.Tensor
	m.View(func() {
		state = m.StateDictLocked()
		if opt != nil {
			for name, slot := range opt.StateDict() {
				state[optimizerPrefix+name] = slot
			}
		}
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	metadata := make(map[string]string, len(s.metadata))
	for k, v := range s.metadata {
		metadata[k] = v
	}
	header := serialization.Header{
		ModelType: modelType,
		Metadata:  metadata,
		Checkpoint: &serialization.CheckpointMeta{
			Step:          step,
			Loss:          loss,
			RunID:         s.runID,
			OptimizerType: optimizerType(opt),
			HasOptimizer:  opt != nil,
		},
	}

	name := fileName(step)
	path := filepath.Join(s.dir, name)
	if err := serialization.WriteFile(path, state, header); err != nil {
		return "", fmt.Errorf("write checkpoint: %w", err)
	}

	all := make([]string, 0, len(s.index.All)+1)
	for _, p := range s.index.All {
		if p != name {
			all = append(all, p)
		}
	}
	all = append(all, name)
	for len(all) > s.maxToKeep {
		stale := all[0]
		all = all[1:]
		if err := os.Remove(filepath.Join(s.dir, stale)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Warn("failed to remove old checkpoint", "path", stale, "err", err)
		}
	}

	next := Index{Latest: name, All: all, LatestStep: step}
	if err := writeIndex(s.dir, next); err != nil {
		return "", fmt.Errorf("write checkpoint index: %w", err)
	}
	s.index = next
	s.logger.Debug("checkpoint saved", "path", path, "step", step)
	return path, nil
}

// Restore loads the latest checkpoint of the saver's directory.
func (s *Saver) Restore(m Model, opt Slots) (serialization.CheckpointMeta, error) {
	path, err := Latest(s.dir)
	if err != nil {
		return serialization.CheckpointMeta{}, err
	}
	return Load(path, m, opt)
}

// Latest returns the path of the newest checkpoint in dir. It fails with
// ErrNoCheckpoint when there is no index or the indexed file is gone.
func Latest(dir string) (string, error) {
	idx, err := ReadIndex(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w in %s", ErrNoCheckpoint, dir)
	}
	if err != nil {
		return "", err
	}
	if idx.Latest == "" {
		return "", fmt.Errorf("%w in %s: empty index", ErrNoCheckpoint, dir)
	}
	path := filepath.Join(dir, filepath.Base(idx.Latest))
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCheckpoint, err)
	}
	return path, nil
}

// Load restores m, and opt when non-nil, from the checkpoint at path. The
// whole file is read and verified before m is touched.
func Load(path string, m Model, opt Slots) (serialization.CheckpointMeta, error) {
	state, header, err := serialization.ReadFile(path)
	if err != nil {
		return serialization.CheckpointMeta{}, err
	}
	if header.Checkpoint == nil {
		return serialization.CheckpointMeta{}, fmt.Errorf("%s: not a training checkpoint", path)
	}

	params := make(map[string]*tensor.Tensor, len(state))
	slots := make(map[string]*tensor.Tensor)
	for name, t := range state {
		if rest, ok := strings.CutPrefix(name, optimizerPrefix); ok {
			slots[rest] = t
		} else {
			params[name] = t
		}
	}

	err = m.Update(func() error {
		if err := m.LoadStateDictLocked(params); err != nil {
			return err
		}
		if opt != nil {
			return opt.LoadStateDict(slots)
		}
		return nil
	})
	if err != nil {
		return serialization.CheckpointMeta{}, fmt.Errorf("%s: %w", path, err)
	}
	return *header.Checkpoint, nil
}

func fileName(step int64) string {
	return fmt.Sprintf("%s%d%s", filePrefix, step, fileExt)
}

func optimizerType(opt Slots) string {
	if opt == nil {
		return ""
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", opt), "*")
}
