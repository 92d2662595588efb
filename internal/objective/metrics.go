package objective

import (
	"fmt"
	"math"

	"github.com/born-ml/tagger/internal/backend/cpu"
	"github.com/born-ml/tagger/internal/tensor"
)

// Sigmoid returns 1 / (1 + e^{−z}).
func Sigmoid(z float32) float32 {
	return cpu.Sigmoid32(z)
}

// Threshold decides every label of one probability row: label i is positive
// when probs[i] > thresholds[i].
func Threshold(probs, thresholds []float32) ([]bool, error) {
	if len(probs) != len(thresholds) {
		return nil, fmt.Errorf("%w: %d probabilities, %d thresholds", ErrShape, len(probs), len(thresholds))
	}
	out := make([]bool, len(probs))
	for i, p := range probs {
		out[i] = p > thresholds[i]
	}
	return out, nil
}

// Accuracy returns the fraction of samples whose thresholded predictions
// match every one of their labels.
func Accuracy(logits, labels *tensor.Tensor, thresholds []float32) (float64, error) {
	correct, _, n, err := tally(logits, labels, thresholds)
	if err != nil || n == 0 {
		return 0, err
	}
	return float64(correct) / float64(n), nil
}

// PerLabelAccuracy returns, for each label, the fraction of samples whose
// thresholded prediction for that label is right.
func PerLabelAccuracy(logits, labels *tensor.Tensor, thresholds []float32) ([]float64, error) {
	_, hits, n, err := tally(logits, labels, thresholds)
	if err != nil {
		return nil, err
	}
	acc := make([]float64, len(hits))
	if n == 0 {
		return acc, nil
	}
	for i, h := range hits {
		acc[i] = float64(h) / float64(n)
	}
	return acc, nil
}

// F2Score returns the sample-averaged F-beta score with beta = 2, which
// weighs recall four times as much as precision. A sample with no positive
// labels and no positive predictions scores 1.
func F2Score(logits, labels *tensor.Tensor, thresholds []float32) (float64, error) {
	if err := checkMetricInputs(logits, labels, thresholds); err != nil {
		return 0, err
	}
	const beta2 = 4.0

	n, l := logits.Shape()[0], logits.Shape()[1]
	z, y := logits.Data(), labels.Data()
	if n == 0 {
		return 0, nil
	}
	var total float64
	for b := range n {
		var tp, fp, fn float64
		for i := range l {
			pred := Sigmoid(z[b*l+i]) > thresholds[i]
			truth := y[b*l+i] > 0.5
			switch {
			case pred && truth:
				tp++
			case pred:
				fp++
			case truth:
				fn++
			}
		}
		if tp+fp+fn == 0 {
			total++
			continue
		}
		total += (1 + beta2) * tp / ((1+beta2)*tp + beta2*fn + fp)
	}
	return total / float64(n), nil
}

// MeanLoss evaluates the unweighted mean sigmoid cross-entropy without a tape.
func MeanLoss(logits, labels *tensor.Tensor) (float64, error) {
	if err := checkPair(logits, labels); err != nil {
		return 0, err
	}
	z, y := logits.Data(), labels.Data()
	var sum float64
	for i := range z {
		zi, yi := float64(z[i]), float64(y[i])
		sum += math.Max(zi, 0) - zi*yi + math.Log1p(math.Exp(-math.Abs(zi)))
	}
	return sum / float64(len(z)), nil
}

// tally counts fully correct samples and per-label hits.
func tally(logits, labels *tensor.Tensor, thresholds []float32) (correct int, hits []int, n int, err error) {
	if err := checkMetricInputs(logits, labels, thresholds); err != nil {
		return 0, nil, 0, err
	}
	n, l := logits.Shape()[0], logits.Shape()[1]
	z, y := logits.Data(), labels.Data()
	hits = make([]int, l)
	for b := range n {
		all := true
		for i := range l {
			pred := Sigmoid(z[b*l+i]) > thresholds[i]
			if pred == (y[b*l+i] > 0.5) {
				hits[i]++
			} else {
				all = false
			}
		}
		if all {
			correct++
		}
	}
	return correct, hits, n, nil
}

func checkMetricInputs(logits, labels *tensor.Tensor, thresholds []float32) error {
	if err := checkPair(logits, labels); err != nil {
		return err
	}
	if l := logits.Shape()[1]; len(thresholds) != l {
		return fmt.Errorf("%w: %d thresholds for %d labels", ErrShape, len(thresholds), l)
	}
	return nil
}
