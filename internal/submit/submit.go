// Package submit writes thresholded predictions as a submission CSV:
//
//	image_name,tags
//	test_0,clear primary
//	test_1,
//
// image_name is the file name without directory or extension; tags lists,
// space-separated and in tag order, every label whose probability is strictly
// greater than its threshold.
package submit

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/born-ml/tagger/internal/objective"
)

// ErrShape is returned when paths, probabilities, tags and thresholds disagree.
var ErrShape = errors.New("submit: shape mismatch")

// Header is the first CSV record.
var Header = []string{"image_name", "tags"}

// Write writes one record per path. probs[i] holds the L probabilities of
// paths[i].
func Write(w io.Writer, paths []string, probs [][]float32, tags []string, thresholds []float32) error {
	if len(paths) != len(probs) {
		return fmt.Errorf("%w: %d paths, %d probability rows", ErrShape, len(paths), len(probs))
	}
	if len(tags) != len(thresholds) {
		return fmt.Errorf("%w: %d tags, %d thresholds", ErrShape, len(tags), len(thresholds))
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return err
	}
	for i, p := range paths {
		if len(probs[i]) != len(tags) {
			return fmt.Errorf("%w: row %d has %d probabilities for %d tags", ErrShape, i, len(probs[i]), len(tags))
		}
		on, err := objective.Threshold(probs[i], thresholds)
		if err != nil {
			return err
		}
		var names []string
		for l, set := range on {
			if set {
				names = append(names, tags[l])
			}
		}
		if err := cw.Write([]string{ImageName(p), strings.Join(names, " ")}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFile writes the submission to path, creating parent directories.
func WriteFile(path string, paths []string, probs [][]float32, tags []string, thresholds []float32) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return Write(f, paths, probs, tags, thresholds)
}

// ImageName strips the directory and extension from path.
func ImageName(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
