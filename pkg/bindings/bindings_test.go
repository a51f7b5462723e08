package bindings_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/golang/mock/gomock"

	"github.com/critters-rs/critters-pack/pkg/bindings"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/mocks"
	"github.com/critters-rs/critters-pack/pkg/process"
)

func TestRegenerate_PassesExportDir(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	crate := t.TempDir()
	exportDir := filepath.Join(t.TempDir(), "bindings")

	r := &bindings.Regenerator{Runner: runner, Cargo: "/opt/cargo", CrateDir: crate, Logger: logger.Discard()}

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd process.Command) error {
		if cmd.Name != "/opt/cargo" {
			t.Errorf("expected configured cargo, got %s", cmd.Name)
		}
		if !reflect.DeepEqual(cmd.Args, []string{"test", "export_bindings"}) {
			t.Errorf("unexpected args %v", cmd.Args)
		}
		if cmd.Env["TS_RS_EXPORT_DIR"] != exportDir {
			t.Errorf("TS_RS_EXPORT_DIR = %q, want %q", cmd.Env["TS_RS_EXPORT_DIR"], exportDir)
		}
		if cmd.Dir != crate {
			t.Errorf("Dir = %s", cmd.Dir)
		}
		return nil
	})

	if err := r.Regenerate(context.Background(), exportDir); err != nil {
		t.Fatalf("Regenerate() error: %v", err)
	}
	if info, err := os.Stat(exportDir); err != nil || !info.IsDir() {
		t.Error("expected export dir to be created")
	}
}

func TestRegenerate_DefaultsCargo(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	r := &bindings.Regenerator{Runner: runner}

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, cmd process.Command) error {
		if cmd.Name != "cargo" {
			t.Errorf("expected default cargo, got %s", cmd.Name)
		}
		return nil
	})

	if err := r.Regenerate(context.Background(), t.TempDir()); err != nil {
		t.Fatal(err)
	}
}

func TestRegenerate_ExitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	runner := mocks.NewMockRunner(ctrl)
	r := &bindings.Regenerator{Runner: runner}

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(&process.ExitError{Command: "cargo test", ExitCode: 101})

	err := r.Regenerate(context.Background(), t.TempDir())

	var regenErr *bindings.RegenerationError
	if !errors.As(err, &regenErr) {
		t.Fatalf("expected *RegenerationError, got %T", err)
	}
	if regenErr.Spawn || regenErr.ExitCode != 101 {
		t.Errorf("unexpected fields %+v", regenErr)
	}
	if !strings.Contains(err.Error(), "101") {
		t.Errorf("expected exit code in message, got %q", err.Error())
	}
}

func TestRegenerate_MissingExecutable(t *testing.T) {
	r := &bindings.Regenerator{
		Runner: &process.ExecRunner{},
		Cargo:  "cargo-that-does-not-exist-4242",
	}

	err := r.Regenerate(context.Background(), t.TempDir())

	var regenErr *bindings.RegenerationError
	if !errors.As(err, &regenErr) {
		t.Fatalf("expected *RegenerationError, got %T: %v", err, err)
	}
	if !regenErr.Spawn {
		t.Error("expected Spawn to be set")
	}
	if !errors.Is(err, exec.ErrNotFound) {
		t.Errorf("expected spawn cause to unwrap to exec.ErrNotFound, got %v", err)
	}
}
