package bundler

import (
	"errors"
	"fmt"
	"strings"
)

// Stage is the bundler step that failed
type Stage string

const (
	StageResolve Stage = "resolve"
	StageCopy    Stage = "copy"
)

var (
	// ErrUnresolved means esbuild could not build the module graph
	ErrUnresolved = errors.New("module graph could not be resolved")
	// ErrNativeInlined means a native binary ended up inside the bundle
	ErrNativeInlined = errors.New("native binary was inlined into the bundle")
	// ErrIncompleteBundle means the output directory lacks a required file
	ErrIncompleteBundle = errors.New("distribution bundle is incomplete")
)

// BundleError reports a failed bundle. Messages holds esbuild's formatted
// diagnostics when there are any.
type BundleError struct {
	Stage    Stage
	Messages []string
	Err      error
}

func (e *BundleError) Error() string {
	msg := fmt.Sprintf("bundle %s failed: %v", e.Stage, e.Err)
	if len(e.Messages) > 0 {
		msg += "\n" + strings.TrimRight(strings.Join(e.Messages, ""), "\n")
	}
	return msg
}

func (e *BundleError) Unwrap() error { return e.Err }
