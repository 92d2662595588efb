package optim

import (
	"errors"
	"fmt"
	"math"

	"github.com/born-ml/tagger/internal/nn"
	"github.com/born-ml/tagger/internal/tensor"
)

// RMSProp defaults used by the tagger.
const (
	DefaultRMSPropDecay    = 0.7
	DefaultRMSPropMomentum = 0.5
	DefaultRMSPropEpsilon  = 1e-10
)

// ErrOptimizerState is returned when a saved optimizer state does not match
// the parameters of the optimizer it is loaded into.
var ErrOptimizerState = errors.New("optimizer state mismatch")

// RMSProp implements non-centered RMSProp with momentum.
//
// Update rule, per parameter element:
//
//	ms  = decay · ms + (1 − decay) · g²
//	mom = momentum · mom + lr · g / sqrt(ms + eps)
//	w   = w − mom
//
// The mean-square slot starts at 1 and the momentum slot at 0, so the first
// steps are damped rather than amplified by a tiny ms.
//
// Reference: Tieleman & Hinton, Lecture 6.5 - RMSProp (COURSERA, 2012).
type RMSProp struct {
	params   []*nn.Parameter
	lr       float32
	decay    float32
	momentum float32
	eps      float64
	ms       map[*nn.Parameter]*tensor.Tensor // Mean-square slots
	mom      map[*nn.Parameter]*tensor.Tensor // Momentum slots
}

// RMSPropConfig holds configuration for the RMSProp optimizer.
type RMSPropConfig struct {
	LR       float32 // Learning rate (default: 0.001)
	Decay    float32 // Mean-square decay (default: 0.7)
	Momentum float32 // Momentum (default: 0.5)
	Eps      float64 // Term for numerical stability (default: 1e-10)
}

// NewRMSProp creates a new RMSProp optimizer.
//
// Zero-valued config fields take the defaults. Slots are allocated up front so
// a checkpoint always carries the complete optimizer state.
func NewRMSProp(params []*nn.Parameter, config RMSPropConfig) *RMSProp {
	if config.LR == 0 {
		config.LR = 0.001
	}
	if config.Decay == 0 {
		config.Decay = DefaultRMSPropDecay
	}
	if config.Momentum == 0 {
		config.Momentum = DefaultRMSPropMomentum
	}
	if config.Eps == 0 {
		config.Eps = DefaultRMSPropEpsilon
	}

	r := &RMSProp{
		params:   params,
		lr:       config.LR,
		decay:    config.Decay,
		momentum: config.Momentum,
		eps:      config.Eps,
		ms:       make(map[*nn.Parameter]*tensor.Tensor, len(params)),
		mom:      make(map[*nn.Parameter]*tensor.Tensor, len(params)),
	}
	for _, p := range params {
		r.ms[p] = tensor.Ones(p.Tensor().Shape())
		r.mom[p] = tensor.Zeros(p.Tensor().Shape())
	}
	return r
}

// Step performs a single optimization step.
// Parameters with no gradient are skipped.
func (r *RMSProp) Step(grads map[*tensor.Tensor]*tensor.Tensor) {
	for _, param := range r.params {
		grad := getGradient(param, grads)
		if grad == nil {
			continue
		}

		w := param.Tensor().Data()
		g := grad.Data()
		ms := r.ms[param].Data()
		mom := r.mom[param].Data()

		for i := range w {
			gi := g[i]
			ms[i] = r.decay*ms[i] + (1-r.decay)*gi*gi
			step := float64(r.lr) * float64(gi) / math.Sqrt(float64(ms[i])+r.eps)
			mom[i] = r.momentum*mom[i] + float32(step)
			w[i] -= mom[i]
		}
	}
}

// ZeroGrad clears all parameter gradients.
func (r *RMSProp) ZeroGrad() {
	for _, param := range r.params {
		param.ZeroGrad()
	}
}

// GetLR returns the current learning rate.
func (r *RMSProp) GetLR() float32 {
	return r.lr
}

// StateDict returns copies of the slots.
//
// State keys: "{param_name}.ms" and "{param_name}.momentum".
func (r *RMSProp) StateDict() map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor, 2*len(r.params))
	for _, p := range r.params {
		state[p.Name()+".ms"] = r.ms[p].Clone()
		state[p.Name()+".momentum"] = r.mom[p].Clone()
	}
	return state
}

// LoadStateDict restores the slots. Every slot must be present with the shape
// of its parameter; nothing is modified when an error is returned.
func (r *RMSProp) LoadStateDict(state map[string]*tensor.Tensor) error {
	for _, p := range r.params {
		for _, key := range []string{p.Name() + ".ms", p.Name() + ".momentum"} {
			slot, ok := state[key]
			if !ok {
				return fmt.Errorf("%w: missing %q", ErrOptimizerState, key)
			}
			if !slot.Shape().Equal(p.Tensor().Shape()) {
				return fmt.Errorf("%w: %q has shape %v, expected %v",
					ErrOptimizerState, key, slot.Shape(), p.Tensor().Shape())
			}
		}
	}
	for _, p := range r.params {
		if err := r.ms[p].CopyFrom(state[p.Name()+".ms"]); err != nil {
			return err
		}
		if err := r.mom[p].CopyFrom(state[p.Name()+".momentum"]); err != nil {
			return err
		}
	}
	return nil
}
