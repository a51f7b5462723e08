// Package toolchain drives the napi CLI to compile the native addon
package toolchain

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/process"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// Generated file names napi writes beside the binary
const (
	GeneratedJS          = "index.js"
	GeneratedDeclaration = "index.d.ts"
)

// ToolchainError reports a failed native compile. ExitCode is -1 when the
// toolchain never ran or exited successfully without producing a binary.
type ToolchainError struct {
	Target   string
	ExitCode int
	Err      error
}

func (e *ToolchainError) Error() string {
	target := e.Target
	if target == "" {
		target = "host"
	}
	if e.ExitCode >= 0 {
		return fmt.Sprintf("native compile for %s failed (exit %d): %v", target, e.ExitCode, e.Err)
	}
	return fmt.Sprintf("native compile for %s failed: %v", target, e.Err)
}

func (e *ToolchainError) Unwrap() error { return e.Err }

// ErrNoArtifact is returned when the toolchain succeeded but staging holds
// no binary for the requested platform
var ErrNoArtifact = errors.New("no native binary produced for platform")

// ErrAmbiguousArtifact is returned when staging holds more than one binary
var ErrAmbiguousArtifact = errors.New("more than one native binary in staging")

// Compiler invokes `napi build` in the crate directory
type Compiler struct {
	Runner     process.Runner
	Napi       string
	CrateDir   string
	StagingDir string
	CargoArgs  []string
	LogFile    string
	Logger     logger.Logger
}

// Args returns the napi argument list for req
func (c *Compiler) Args(req types.BuildRequest) []string {
	args := []string{
		"build",
		"--platform",
		"--release",
		"--output-dir", c.StagingDir,
		"--js", GeneratedJS,
		"--dts", GeneratedDeclaration,
	}
	if req.Target != "" {
		args = append(args, "--target", req.Target)
	}
	if req.UseCrossCompileHelper {
		args = append(args, "--use-napi-cross")
	}
	args = append(args, "--", "--lib")
	return append(args, c.CargoArgs...)
}

// Compile builds the addon for req and returns the staged binary. No retry
// is attempted.
func (c *Compiler) Compile(ctx context.Context, req types.BuildRequest) (*types.NativeArtifact, error) {
	tag, err := req.PlatformTag()
	if err != nil {
		return nil, &ToolchainError{Target: req.Target, ExitCode: -1, Err: err}
	}

	napi := c.Napi
	if napi == "" {
		napi = "napi"
	}

	if c.Logger != nil {
		c.Logger.Info("Compiling native addon",
			logger.WithField("platform", tag),
			logger.WithField("cross", req.UseCrossCompileHelper))
	}

	cmd := process.Command{
		Name:    napi,
		Args:    c.Args(req),
		Dir:     c.CrateDir,
		LogFile: c.LogFile,
	}
	if err := c.Runner.Run(ctx, cmd); err != nil {
		return nil, &ToolchainError{Target: req.Target, ExitCode: process.ExitCode(err), Err: err}
	}

	artifact, err := c.locate(tag)
	if err != nil {
		return nil, &ToolchainError{Target: req.Target, ExitCode: -1, Err: err}
	}

	if c.Logger != nil {
		c.Logger.Success("Native addon compiled", logger.WithField("binary", filepath.Base(artifact.Path)))
	}
	return artifact, nil
}

func (c *Compiler) locate(tag string) (*types.NativeArtifact, error) {
	matcher, err := utils.NewPatternMatcher([]string{"*.node"})
	if err != nil {
		return nil, err
	}
	found, err := matcher.Glob(c.StagingDir)
	if err != nil {
		return nil, err
	}

	switch len(found) {
	case 0:
		return nil, fmt.Errorf("%w %s in %s", ErrNoArtifact, tag, c.StagingDir)
	case 1:
	default:
		return nil, fmt.Errorf("%w: %s", ErrAmbiguousArtifact, strings.Join(found, ", "))
	}

	if !strings.HasSuffix(found[0], "."+tag+".node") {
		return nil, fmt.Errorf("%w %s: found %s", ErrNoArtifact, tag, found[0])
	}

	return &types.NativeArtifact{
		Path:        filepath.Join(c.StagingDir, filepath.FromSlash(found[0])),
		PlatformTag: tag,
	}, nil
}
