package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Manifest errors.
var (
	ErrNoSamples  = errors.New("no samples")
	ErrUnknownTag = errors.New("unknown tag")
	ErrLabelsFile = errors.New("malformed labels file")
)

// Sample is one labelled image.
type Sample struct {
	Path   string
	Labels []float32 // multi-hot, one entry per tag
}

// Skeleton is the train/validation split of a labelled image directory.
type Skeleton struct {
	Train []Sample
	Valid []Sample
	// Unlabeled lists images that have no row in the labels file.
	Unlabeled []string
}

// Paths returns the paths and label rows of samples as parallel slices.
func Paths(samples []Sample) ([]string, [][]float32) {
	paths := make([]string, len(samples))
	labels := make([][]float32, len(samples))
	for i, s := range samples {
		paths[i] = s.Path
		labels[i] = s.Labels
	}
	return paths, labels
}

// ReadLabels parses a labels CSV with an "image_name,tags" header, where tags
// is a space-separated subset of tags. It returns a multi-hot row per image
// name, indexed in tags order.
func ReadLabels(r io.Reader, tags []string) (map[string][]float32, error) {
	index := make(map[string]int, len(tags))
	for i, t := range tags {
		index[t] = i
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrLabelsFile, err)
	}
	if strings.TrimSpace(header[0]) != "image_name" || strings.TrimSpace(header[1]) != "tags" {
		return nil, fmt.Errorf("%w: header %q, expected image_name,tags", ErrLabelsFile, header)
	}

	labels := make(map[string][]float32)
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrLabelsFile, err)
		}
		row := make([]float32, len(tags))
		for _, tag := range strings.Fields(rec[1]) {
			i, ok := index[tag]
			if !ok {
				return nil, fmt.Errorf("%w %q for image %s", ErrUnknownTag, tag, rec[0])
			}
			row[i] = 1
		}
		labels[strings.TrimSpace(rec[0])] = row
	}
	return labels, nil
}

// GenerateDataSkeleton lists the images under root with extension ext, joins
// them with the labels CSV and splits off round(validFraction·n) samples for
// validation after shuffling with rng.
func GenerateDataSkeleton(root, labelsCSV string, tags []string, validFraction float64, ext string, rng *rand.Rand) (Skeleton, error) {
	var sk Skeleton
	if validFraction < 0 || validFraction >= 1 {
		return sk, fmt.Errorf("validation fraction %v outside [0, 1)", validFraction)
	}

	f, err := os.Open(labelsCSV)
	if err != nil {
		return sk, fmt.Errorf("open labels: %w", err)
	}
	defer f.Close()
	labels, err := ReadLabels(f, tags)
	if err != nil {
		return sk, fmt.Errorf("%s: %w", labelsCSV, err)
	}

	paths, err := scan(root, ext)
	if err != nil {
		return sk, err
	}
	samples := make([]Sample, 0, len(paths))
	for _, p := range paths {
		name := strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
		row, ok := labels[name]
		if !ok {
			sk.Unlabeled = append(sk.Unlabeled, p)
			continue
		}
		samples = append(samples, Sample{Path: p, Labels: row})
	}
	if len(samples) == 0 {
		return sk, fmt.Errorf("%w: no labelled *%s images under %s", ErrNoSamples, normalizeExt(ext), root)
	}

	rng.Shuffle(len(samples), func(i, j int) { samples[i], samples[j] = samples[j], samples[i] })
	nValid := int(math.Round(validFraction * float64(len(samples))))
	sk.Valid = samples[:nValid]
	sk.Train = samples[nValid:]
	return sk, nil
}

// TestSkeleton lists the images under root with extension ext in sorted order.
func TestSkeleton(root, ext string) ([]string, error) {
	paths, err := scan(root, ext)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no *%s images under %s", ErrNoSamples, normalizeExt(ext), root)
	}
	return paths, nil
}

func scan(root, ext string) ([]string, error) {
	ext = normalizeExt(ext)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ext) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	sort.Strings(paths)
	return paths, nil
}

func normalizeExt(ext string) string {
	if ext != "" && !strings.HasPrefix(ext, ".") {
		return "." + ext
	}
	return ext
}
