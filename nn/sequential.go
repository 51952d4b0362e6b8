package nn

import (
	"fmt"

	"github.com/vloison/skada/tensor"
)

// ForwardHook observes a layer's output during the forward pass. Hooks
// must not modify the tensor they receive.
type ForwardHook func(layerName string, output *tensor.Tensor)

type namedModule struct {
	name   string
	module Module
}

// Sequential chains named layers and runs them in insertion order. Layer
// names let callers attach forward hooks to intermediate outputs, which
// is how embedding layers are observed during training.
type Sequential struct {
	layers []namedModule
	hooks  map[string][]ForwardHook
	err    error
}

// NewSequential creates an empty Sequential container.
func NewSequential() *Sequential {
	return &Sequential{
		hooks: make(map[string][]ForwardHook),
	}
}

// Add appends a named layer. It returns the container so layers can be
// chained; the first error (duplicate or empty name, nil module) is
// deferred and surfaced by Err or the first Forward call.
func (s *Sequential) Add(name string, module Module) *Sequential {
	if s.err != nil {
		return s
	}
	if name == "" {
		s.err = fmt.Errorf("layer name must not be empty")
		return s
	}
	if module == nil {
		s.err = fmt.Errorf("layer %q: module must not be nil", name)
		return s
	}
	for _, nm := range s.layers {
		if nm.name == name {
			s.err = fmt.Errorf("duplicate layer name %q", name)
			return s
		}
	}
	s.layers = append(s.layers, namedModule{name: name, module: module})
	return s
}

// Err returns the first error recorded while building the container.
func (s *Sequential) Err() error {
	return s.err
}

// LayerNames returns the layer names in forward order.
func (s *Sequential) LayerNames() []string {
	names := make([]string, len(s.layers))
	for i, nm := range s.layers {
		names[i] = nm.name
	}
	return names
}

// Layer returns the module registered under name.
func (s *Sequential) Layer(name string) (Module, bool) {
	for _, nm := range s.layers {
		if nm.name == name {
			return nm.module, true
		}
	}
	return nil, false
}

// RegisterForwardHook attaches a hook to the named layer. The hook fires
// after the layer's Forward on every pass, training or eval.
func (s *Sequential) RegisterForwardHook(name string, hook ForwardHook) error {
	if hook == nil {
		return fmt.Errorf("hook must not be nil")
	}
	if _, ok := s.Layer(name); !ok {
		return fmt.Errorf("unknown layer %q", name)
	}
	s.hooks[name] = append(s.hooks[name], hook)
	return nil
}

// Forward runs the input through all layers in order, firing hooks on
// each layer's output.
func (s *Sequential) Forward(input *tensor.Tensor) (*tensor.Tensor, error) {
	if s.err != nil {
		return nil, s.err
	}
	if len(s.layers) == 0 {
		return nil, fmt.Errorf("sequential container is empty")
	}

	current := input
	for _, nm := range s.layers {
		output, err := nm.module.Forward(current)
		if err != nil {
			return nil, fmt.Errorf("layer %q forward failed: %v", nm.name, err)
		}
		for _, hook := range s.hooks[nm.name] {
			hook(nm.name, output)
		}
		current = output
	}
	return current, nil
}

// Parameters returns all trainable parameters from all layers
func (s *Sequential) Parameters() []*tensor.Tensor {
	var params []*tensor.Tensor
	for _, nm := range s.layers {
		params = append(params, nm.module.Parameters()...)
	}
	return params
}

// NamedParameters returns parameters keyed by "<layer>.<index>", in
// forward order. Used for checkpoint serialization and callback
// contexts.
func (s *Sequential) NamedParameters() []NamedParameter {
	var named []NamedParameter
	for _, nm := range s.layers {
		for i, p := range nm.module.Parameters() {
			named = append(named, NamedParameter{
				Name:   fmt.Sprintf("%s.%d", nm.name, i),
				Tensor: p,
			})
		}
	}
	return named
}

// NamedParameter pairs a stable parameter name with its tensor.
type NamedParameter struct {
	Name   string
	Tensor *tensor.Tensor
}

// Train sets all layers to training mode
func (s *Sequential) Train() {
	for _, nm := range s.layers {
		nm.module.Train()
	}
}

// Eval sets all layers to evaluation mode
func (s *Sequential) Eval() {
	for _, nm := range s.layers {
		nm.module.Eval()
	}
}

// IsTraining reports whether the container is in training mode. An empty
// container reports false.
func (s *Sequential) IsTraining() bool {
	for _, nm := range s.layers {
		if !nm.module.IsTraining() {
			return false
		}
	}
	return len(s.layers) > 0
}
