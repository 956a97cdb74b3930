package saga

import (
	"fmt"
)

// Registry holds the fixed, ordered step sequence. Immutable after startup.
type Registry struct {
	steps  []Step
	byName map[string]Step
}

// NewRegistry builds a registry from the given steps. Step orders must be
// dense from 1 and names unique; anything else is a wiring bug.
func NewRegistry(steps ...Step) (*Registry, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("registry requires at least one step")
	}

	ordered := make([]Step, len(steps))
	byName := make(map[string]Step, len(steps))
	for _, step := range steps {
		order := step.Order()
		if order < 1 || order > len(steps) {
			return nil, fmt.Errorf("step %q has order %d outside [1..%d]", step.Name(), order, len(steps))
		}
		if ordered[order-1] != nil {
			return nil, fmt.Errorf("duplicate step order %d (%q and %q)", order, ordered[order-1].Name(), step.Name())
		}
		if _, exists := byName[step.Name()]; exists {
			return nil, fmt.Errorf("duplicate step name %q", step.Name())
		}
		ordered[order-1] = step
		byName[step.Name()] = step
	}

	return &Registry{steps: ordered, byName: byName}, nil
}

// MustNewRegistry is NewRegistry that panics on a wiring bug
func MustNewRegistry(steps ...Step) *Registry {
	r, err := NewRegistry(steps...)
	if err != nil {
		panic(err)
	}
	return r
}

// OrderedSteps returns the steps in execution order
func (r *Registry) OrderedSteps() []Step {
	return r.steps
}

// Len returns the number of steps
func (r *Registry) Len() int {
	return len(r.steps)
}

// StepByName returns the step with the given name
func (r *Registry) StepByName(name string) (Step, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// StepAt returns the step at the given 0-based index
func (r *Registry) StepAt(index int) (Step, bool) {
	if index < 0 || index >= len(r.steps) {
		return nil, false
	}
	return r.steps[index], true
}
