package process

import (
	"errors"
	"fmt"
	"os/exec"
)

// StartError reports a command that could not be spawned at all
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("could not start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error { return e.Err }

// NotFound reports whether the executable does not exist
func (e *StartError) NotFound() bool {
	return errors.Is(e.Err, exec.ErrNotFound)
}

// ExitError reports a command that ran and exited unsuccessfully.
// ExitCode is -1 when the process was killed by a signal.
type ExitError struct {
	Command  string
	ExitCode int
	Output   string
	Err      error
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s exited with code %d", e.Command, e.ExitCode)
}

func (e *ExitError) Unwrap() error { return e.Err }

// ExitCode extracts the exit code from err, or -1 if err carries none
func ExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode
	}
	return -1
}
