package nn

import (
	"fmt"

	"github.com/born-ml/tagger/internal/autodiff"
	"github.com/born-ml/tagger/internal/tensor"
)

// Sequential is a container module that chains multiple modules together.
//
// Each module's output becomes the next module's input.
type Sequential struct {
	modules []Module
}

// NewSequential creates a new Sequential container.
func NewSequential(modules ...Module) *Sequential {
	return &Sequential{modules: modules}
}

// Forward applies all modules in sequence.
func (s *Sequential) Forward(ad *autodiff.AutodiffBackend, input *tensor.Tensor, mode Mode) *tensor.Tensor {
	output := input
	for _, module := range s.modules {
		output = module.Forward(ad, output, mode)
	}
	return output
}

// Parameters returns all trainable parameters from all modules, in order.
func (s *Sequential) Parameters() []*Parameter {
	var params []*Parameter
	for _, module := range s.modules {
		params = append(params, module.Parameters()...)
	}
	return params
}

// Buffers returns the buffers of every Buffered module, in order.
func (s *Sequential) Buffers() []*Parameter {
	var buffers []*Parameter
	for _, module := range s.modules {
		if b, ok := module.(Buffered); ok {
			buffers = append(buffers, b.Buffers()...)
		}
	}
	return buffers
}

// ApplyUpdates applies the pending updates of every Updater module.
// Reports whether any module had one.
func (s *Sequential) ApplyUpdates() bool {
	applied := false
	for _, module := range s.modules {
		if u, ok := module.(Updater); ok && u.ApplyUpdates() {
			applied = true
		}
	}
	return applied
}

// Add appends a module to the sequence.
func (s *Sequential) Add(module Module) {
	s.modules = append(s.modules, module)
}

// Len returns the number of modules.
func (s *Sequential) Len() int {
	return len(s.modules)
}

// Module returns the module at index i.
func (s *Sequential) Module(i int) Module {
	if i < 0 || i >= len(s.modules) {
		panic(fmt.Sprintf("sequential: index %d out of range [0, %d)", i, len(s.modules)))
	}
	return s.modules[i]
}
