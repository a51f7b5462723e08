package declaration

import (
	"errors"
	"fmt"
)

var (
	// ErrNoConstructor means the document has no constructor signature to
	// rewrite. Patch treats this as a no-op; strict patchers fail with it.
	ErrNoConstructor = errors.New("no constructor signature found")

	// ErrUnbalancedParameters means a constructor parameter list has no
	// matching closing parenthesis.
	ErrUnbalancedParameters = errors.New("unbalanced constructor parameter list")
)

// SyntaxError is a positioned scan or parse error
type SyntaxError struct {
	Filename string
	Line     int
	Column   int
	Msg      string
	Err      error
}

func (e *SyntaxError) Error() string {
	name := e.Filename
	if name == "" {
		name = "<declaration>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s:%d:%d: %v: %s", name, e.Line, e.Column, e.Err, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", name, e.Line, e.Column, e.Msg)
}

func (e *SyntaxError) Unwrap() error { return e.Err }
