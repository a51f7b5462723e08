// Package bindings regenerates the TypeScript type descriptions exported by
// the crate's test harness.
package bindings

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/process"
)

// DefaultExportDirEnv is the variable the harness reads its output directory from
const DefaultExportDirEnv = "TS_RS_EXPORT_DIR"

// DefaultHarnessArgs selects the export test of the crate
var DefaultHarnessArgs = []string{"test", "export_bindings"}

// RegenerationError reports a failed harness run. When Spawn is true the
// harness never started and Err holds the cause; otherwise ExitCode is set.
type RegenerationError struct {
	ExitCode int
	Spawn    bool
	Err      error
}

func (e *RegenerationError) Error() string {
	if e.Spawn {
		return fmt.Sprintf("type binding harness could not start: %v", e.Err)
	}
	return fmt.Sprintf("type binding harness failed with exit code %d", e.ExitCode)
}

func (e *RegenerationError) Unwrap() error { return e.Err }

// Regenerator runs `<cargo> test export_bindings` with the export directory
// passed through the environment.
type Regenerator struct {
	Runner       process.Runner
	Cargo        string
	CrateDir     string
	ExportDirEnv string
	HarnessArgs  []string
	LogFile      string
	Logger       logger.Logger
}

// Regenerate writes fresh type-description files into exportDir
func (r *Regenerator) Regenerate(ctx context.Context, exportDir string) error {
	if err := os.MkdirAll(exportDir, 0755); err != nil {
		return &RegenerationError{Spawn: true, ExitCode: -1, Err: fmt.Errorf("create export dir: %w", err)}
	}

	cargo := r.Cargo
	if cargo == "" {
		cargo = "cargo"
	}
	envName := r.ExportDirEnv
	if envName == "" {
		envName = DefaultExportDirEnv
	}
	args := r.HarnessArgs
	if len(args) == 0 {
		args = DefaultHarnessArgs
	}

	if r.Logger != nil {
		r.Logger.Info("Regenerating type bindings", logger.WithField("export_dir", exportDir))
	}

	err := r.Runner.Run(ctx, process.Command{
		Name:    cargo,
		Args:    args,
		Dir:     r.CrateDir,
		Env:     map[string]string{envName: exportDir},
		LogFile: r.LogFile,
	})
	if err != nil {
		var startErr *process.StartError
		if errors.As(err, &startErr) {
			return &RegenerationError{Spawn: true, ExitCode: -1, Err: err}
		}
		return &RegenerationError{ExitCode: process.ExitCode(err), Err: err}
	}

	if r.Logger != nil {
		r.Logger.Success("Type bindings regenerated")
	}
	return nil
}
