// Package objective computes the multi-label training loss and the metrics
// reported during training and evaluation.
//
// Every label is an independent binary decision: the loss is an elementwise
// sigmoid cross-entropy over [B, L] that is reduced only after optional
// per-label weighting, and the reported accuracy counts a sample as correct
// only when all of its L decisions are right.
package objective

import (
	"errors"
	"fmt"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/nn"
	"github.com/born-ml/tagger/internal/tensor"
)

// ErrShape is returned when logits, labels, weights or thresholds disagree.
var ErrShape = errors.New("objective: shape mismatch")

// Loss configures the scalar training loss:
//
//	loss = mean_{b,l}( w_l · CE(z_bl, y_bl) ) + β · Σ_p Σ p²
//
// where CE(z, y) = max(z, 0) − z·y + log(1 + e^{−|z|}).
type Loss struct {
	// Weights scales each label column before the mean. Nil disables
	// class balancing.
	Weights []float32
	// Beta is the L2 coefficient. Zero disables the penalty.
	Beta float32
}

// Build records the loss of logits against labels on ad's tape and returns
// the scalar loss tensor. The L2 penalty covers exactly the regularized
// parameters passed in.
func (l Loss) Build(ad *autodiff.AutodiffBackend, logits, labels *tensor.Tensor, regularized []*nn.Parameter) (*tensor.Tensor, error) {
	if err := checkPair(logits, labels); err != nil {
		return nil, err
	}
	numLabels := logits.Shape()[1]

	ce := ad.SigmoidCrossEntropy(logits, labels)
	if l.Weights != nil {
		if len(l.Weights) != numLabels {
			return nil, fmt.Errorf("%w: %d class weights for %d labels", ErrShape, len(l.Weights), numLabels)
		}
		w, err := tensor.FromSlice(l.Weights, tensor.Shape{numLabels})
		if err != nil {
			return nil, err
		}
		ce = ad.MulConst(ce, w)
	}
	loss := ad.Mean(ce)

	if l.Beta == 0 || len(regularized) == 0 {
		return loss, nil
	}
	var penalty *tensor.Tensor
	for _, p := range regularized {
		sq := ad.SumSquares(p.Tensor())
		if penalty == nil {
			penalty = sq
		} else {
			penalty = ad.Add(penalty, sq)
		}
	}
	return ad.Add(loss, ad.Scale(penalty, l.Beta)), nil
}

// L2 returns β · Σ_p Σ p² over params, evaluated without a tape. It is
// exactly zero when beta is zero.
func L2(params []*nn.Parameter, beta float32) float64 {
	if beta == 0 {
		return 0
	}
	var sum float64
	for _, p := range params {
		for _, v := range p.Tensor().Data() {
			sum += float64(v) * float64(v)
		}
	}
	return float64(beta) * sum
}

func checkPair(logits, labels *tensor.Tensor) error {
	if logits == nil || labels == nil {
		return fmt.Errorf("%w: missing logits or labels", ErrShape)
	}
	if len(logits.Shape()) != 2 || !logits.Shape().Equal(labels.Shape()) {
		return fmt.Errorf("%w: logits %v, labels %v", ErrShape, logits.Shape(), labels.Shape())
	}
	return nil
}
