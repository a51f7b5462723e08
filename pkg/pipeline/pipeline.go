// Package pipeline sequences the build stages as an explicit state machine:
// compile, optionally regenerate and patch declarations, bundle, clean up.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/critters-rs/critters-pack/pkg/artifacts"
	runctx "github.com/critters-rs/critters-pack/pkg/context"
	"github.com/critters-rs/critters-pack/pkg/declaration"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/staging"
	"github.com/critters-rs/critters-pack/pkg/state"
	"github.com/critters-rs/critters-pack/pkg/toolchain"
	"github.com/critters-rs/critters-pack/pkg/types"
)

// Compiler produces the native binary in staging
type Compiler interface {
	Compile(ctx context.Context, req types.BuildRequest) (*types.NativeArtifact, error)
}

// Regenerator writes fresh type-description files into exportDir
type Regenerator interface {
	Regenerate(ctx context.Context, exportDir string) error
}

// DeclarationPatcher rewrites a declaration file in place
type DeclarationPatcher interface {
	PatchFile(path string) (declaration.Result, error)
}

// Bundler writes the distribution bundle
type Bundler interface {
	Bundle(ctx context.Context, plan artifacts.CopyPlan) (*types.DistributionBundle, error)
}

// Orchestrator runs one pipeline per call to Run. Store is optional.
type Orchestrator struct {
	Compiler    Compiler
	Regenerator Regenerator
	Patcher     DeclarationPatcher
	Bundler     Bundler
	Staging     *staging.Directory
	Store       *state.Store

	// ArtifactsDir holds binaries staged by an earlier build job
	ArtifactsDir string
	BinaryName   string
	DistDir      string
	Cleanup      types.CleanupPolicy
	Logger       logger.Logger
}

// Result describes a finished run
type Result struct {
	RunID    string
	State    types.PipelineState
	History  []types.PipelineState
	Artifact *types.NativeArtifact
	Bundle   *types.DistributionBundle
	Duration time.Duration
}

// Run executes the pipeline for req. On failure the returned error is a
// *StageError naming the active state and the Result is still populated.
// An orchestrator missing a component fails before any stage runs.
func (o *Orchestrator) Run(ctx context.Context, req types.BuildRequest) (*Result, error) {
	if err := o.check(req.Shape()); err != nil {
		return nil, err
	}
	ctx = runctx.EnrichContext(ctx)
	log := o.Logger
	if log == nil {
		log = logger.Discard()
	}
	log = logger.WithContext(ctx, log)

	r := &run{
		o:       o,
		req:     req,
		log:     log,
		machine: NewMachine(req.Shape()),
		result:  &Result{RunID: runctx.GetRunID(ctx)},
	}
	err := r.execute(ctx)

	r.result.State = r.machine.State()
	r.result.History = r.machine.History()
	r.result.Duration = runctx.GetDuration(ctx)
	return r.result, err
}

func (o *Orchestrator) check(shape types.Shape) error {
	missing := func(name string) error {
		return fmt.Errorf("%w: %s", ErrMissingComponent, name)
	}
	switch {
	case o.Staging == nil:
		return missing("staging directory")
	case o.Compiler == nil:
		return missing("compiler")
	case o.Bundler == nil:
		return missing("bundler")
	case shape == types.ShapeFull && o.Regenerator == nil:
		return missing("regenerator")
	case shape == types.ShapeFull && o.Patcher == nil:
		return missing("declaration patcher")
	}
	return nil
}

type run struct {
	o       *Orchestrator
	req     types.BuildRequest
	log     logger.Logger
	machine *Machine
	record  *state.RunRecord
	result  *Result
}

func (r *run) execute(ctx context.Context) error {
	tag, err := r.req.PlatformTag()
	if err != nil {
		return r.fail(&toolchain.ToolchainError{Target: r.req.Target, ExitCode: -1, Err: err})
	}

	if r.o.Store != nil {
		rec, err := r.o.Store.Begin(r.result.RunID, tag, r.o.Staging.Path, r.req)
		if err != nil {
			// Another run owns staging; it is neither touched nor recorded.
			return r.abort(err)
		}
		r.record = rec
		r.o.Store.StartHeartbeat(ctx, 0)
		defer r.o.Store.StopHeartbeat()
	}

	r.log.Info("Pipeline started",
		logger.WithField("platform", tag),
		logger.WithField("shape", r.machine.Shape()),
		logger.WithField("artifacts", r.req.Mode()))

	if err := r.o.Staging.Create(); err != nil {
		return r.fail(err)
	}

	artifact, err := r.o.Compiler.Compile(ctx, r.req)
	if err != nil {
		return r.fail(err)
	}
	r.result.Artifact = artifact

	if err := r.advance(r.machine.Next()); err != nil {
		return err
	}
	if r.machine.State() == types.StateRegeneratingTypes {
		if err := r.o.Regenerator.Regenerate(ctx, r.o.Staging.ExportDir()); err != nil {
			return r.fail(err)
		}
		if err := r.advance(types.StatePatching); err != nil {
			return err
		}
		if _, err := r.o.Patcher.PatchFile(r.o.Staging.DeclarationPath()); err != nil {
			return r.fail(err)
		}
	} else {
		r.log.Info("Reusing declarations already in staging",
			logger.WithField("file", r.o.Staging.DeclarationPath()))
	}

	if err := r.advance(types.StateBundling); err != nil {
		return err
	}
	plan := artifacts.Resolve(r.req.Mode(), artifacts.Layout{
		StagingDir:   r.o.Staging.Path,
		ArtifactsDir: r.o.ArtifactsDir,
		DistDir:      r.o.DistDir,
		PlatformTag:  tag,
		BinaryName:   r.o.BinaryName,
		Declaration:  r.o.Staging.Declaration,
		BindingsDir:  r.o.Staging.BindingsDir,
	})
	bundle, err := r.o.Bundler.Bundle(ctx, plan)
	if err != nil {
		return r.fail(err)
	}
	r.result.Bundle = bundle

	if err := r.advance(types.StateCleaning); err != nil {
		return err
	}
	if r.o.Cleanup != types.CleanupNever {
		if err := r.o.Staging.Remove(); err != nil {
			return r.fail(err)
		}
	}

	if err := r.advance(types.StateDone); err != nil {
		return err
	}
	r.finish(nil)
	r.log.Success("Pipeline finished",
		logger.WithField("dist", bundle.Dir),
		logger.WithField("duration", runctx.GetDuration(ctx).Round(time.Millisecond)))
	return nil
}

func (r *run) advance(to types.PipelineState) error {
	if err := r.machine.Advance(to); err != nil {
		return r.fail(err)
	}
	r.log.Debug("Stage entered", logger.WithField("state", to))
	if r.record != nil {
		if err := r.o.Store.Transition(r.record, to); err != nil {
			r.log.Warn("Failed to record state", logger.WithField("error", err))
		}
	}
	return nil
}

// fail moves the run to FAILED, applies the cleanup policy and returns the
// stage error to surface
func (r *run) fail(err error) error {
	failed := r.machine.State()
	stageErr := &StageError{State: failed, Err: err}

	if advErr := r.machine.Advance(types.StateFailed); advErr != nil {
		r.log.Debug("Failure from non-failing state", logger.WithField("error", advErr))
	}

	r.log.Error("Pipeline failed",
		logger.WithField("state", failed),
		logger.WithField("error", err))

	if r.o.Cleanup == types.CleanupAlways {
		if rmErr := r.o.Staging.Remove(); rmErr != nil {
			r.log.Warn("Failed to remove staging directory", logger.WithField("error", rmErr))
		}
	} else if r.o.Staging.Exists() {
		r.log.Info("Staging directory kept for inspection", logger.WithField("path", r.o.Staging.Path))
	}

	r.finish(stageErr)
	return stageErr
}

// abort ends a run that never started a stage
func (r *run) abort(err error) error {
	_ = r.machine.Advance(types.StateFailed)
	r.log.Error("Pipeline not started", logger.WithField("error", err))
	return fmt.Errorf("pipeline not started: %w", err)
}

func (r *run) finish(err error) {
	if r.record == nil {
		return
	}
	failed, _ := FailedStage(err)
	if recErr := r.o.Store.Finish(r.record, failed, err); recErr != nil {
		r.log.Warn("Failed to record run", logger.WithField("error", recErr))
	}
}
