package pipeline

import (
	"fmt"

	"github.com/critters-rs/critters-pack/pkg/types"
)

// ValidTransitions is the pipeline transition table. The two edges out of
// COMPILING are further gated by shape in CanTransition.
var ValidTransitions = map[types.PipelineState][]types.PipelineState{
	types.StateCompiling:         {types.StateRegeneratingTypes, types.StateSkipped, types.StateFailed},
	types.StateRegeneratingTypes: {types.StatePatching, types.StateFailed},
	types.StatePatching:          {types.StateBundling, types.StateFailed},
	types.StateSkipped:           {types.StateBundling},
	types.StateBundling:          {types.StateCleaning, types.StateFailed},
	types.StateCleaning:          {types.StateDone, types.StateFailed},
	types.StateDone:              {},
	types.StateFailed:            {},
}

// CanTransition reports whether a run with the given shape may move from one
// state to another
func CanTransition(shape types.Shape, from, to types.PipelineState) bool {
	if from == types.StateCompiling {
		switch to {
		case types.StateRegeneratingTypes:
			if shape != types.ShapeFull {
				return false
			}
		case types.StateSkipped:
			if shape != types.ShapeReuseDeclarations {
				return false
			}
		}
	}

	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Machine tracks the current state of one run and refuses moves the table
// does not allow
type Machine struct {
	shape   types.Shape
	state   types.PipelineState
	history []types.PipelineState
}

// NewMachine starts a machine in COMPILING
func NewMachine(shape types.Shape) *Machine {
	return &Machine{
		shape:   shape,
		state:   types.StateCompiling,
		history: []types.PipelineState{types.StateCompiling},
	}
}

// State returns the current state
func (m *Machine) State() types.PipelineState { return m.state }

// Shape returns the shape the machine gates on
func (m *Machine) Shape() types.Shape { return m.shape }

// History returns every state entered, in order
func (m *Machine) History() []types.PipelineState {
	out := make([]types.PipelineState, len(m.history))
	copy(out, m.history)
	return out
}

// Advance moves to the next state
func (m *Machine) Advance(to types.PipelineState) error {
	if !CanTransition(m.shape, m.state, to) {
		return fmt.Errorf("%w: %s -> %s (%s)", ErrIllegalTransition, m.state, to, m.shape)
	}
	m.state = to
	m.history = append(m.history, to)
	return nil
}

// Next returns the state that follows the current one on the success path
func (m *Machine) Next() types.PipelineState {
	switch m.state {
	case types.StateCompiling:
		if m.shape == types.ShapeReuseDeclarations {
			return types.StateSkipped
		}
		return types.StateRegeneratingTypes
	case types.StateRegeneratingTypes:
		return types.StatePatching
	case types.StatePatching, types.StateSkipped:
		return types.StateBundling
	case types.StateBundling:
		return types.StateCleaning
	case types.StateCleaning:
		return types.StateDone
	}
	return m.state
}
