package nn

import (
	"errors"
	"fmt"

	"github.com/born-ml/tagger/internal/tensor"
)

// ErrStateDict is returned when a state dict does not match the module it is
// loaded into.
var ErrStateDict = errors.New("state dict mismatch")

// StateDict maps every named tensor to a copy of its current value.
//
// Copies are taken so a snapshot stays consistent after the caller releases
// whatever lock guarded the live tensors.
func StateDict(named ...[]*Parameter) map[string]*tensor.Tensor {
	state := make(map[string]*tensor.Tensor)
	for _, group := range named {
		for _, p := range group {
			state[p.Name()] = p.Tensor().Clone()
		}
	}
	return state
}

// LoadStateDict copies values from state into the named tensors.
//
// Every named tensor must be present with an identical shape; entries in state
// that match no tensor are ignored. Nothing is modified when an error is returned.
func LoadStateDict(state map[string]*tensor.Tensor, named ...[]*Parameter) error {
	var errs []error
	for _, group := range named {
		for _, p := range group {
			src, ok := state[p.Name()]
			switch {
			case !ok:
				errs = append(errs, fmt.Errorf("%w: missing %q", ErrStateDict, p.Name()))
			case !src.Shape().Equal(p.Tensor().Shape()):
				errs = append(errs, fmt.Errorf("%w: %q has shape %v, expected %v",
					ErrStateDict, p.Name(), src.Shape(), p.Tensor().Shape()))
			}
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	for _, group := range named {
		for _, p := range group {
			if err := p.Tensor().CopyFrom(state[p.Name()]); err != nil {
				return err
			}
		}
	}
	return nil
}
