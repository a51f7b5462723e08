package pipeline

import (
	"errors"
	"fmt"

	"github.com/critters-rs/critters-pack/pkg/types"
)

var (
	// ErrIllegalTransition is returned when a move is not in the transition table
	ErrIllegalTransition = errors.New("illegal pipeline transition")

	// ErrMissingComponent is returned by Run when the orchestrator lacks a
	// component the requested shape needs
	ErrMissingComponent = errors.New("orchestrator is missing a component")
)

// StageError wraps the fatal error of the stage that was active when the run
// failed
type StageError struct {
	State types.PipelineState
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.State, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// FailedStage returns the state recorded in err's StageError, if any
func FailedStage(err error) (types.PipelineState, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.State, true
	}
	return "", false
}
