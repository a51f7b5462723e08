package process_test

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/process"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
}

func TestExecRunner_Success(t *testing.T) {
	requireShell(t)

	var stream bytes.Buffer
	logPath := filepath.Join(t.TempDir(), "logs", "run.log")
	r := &process.ExecRunner{Stream: &stream, Logger: logger.Discard()}

	err := r.Run(context.Background(), process.Command{
		Name:    "sh",
		Args:    []string{"-c", "echo hello-$PACK_TEST"},
		Env:     map[string]string{"PACK_TEST": "world"},
		LogFile: logPath,
	})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if !strings.Contains(stream.String(), "hello-world") {
		t.Errorf("expected streamed output, got %q", stream.String())
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("expected log file: %v", err)
	}
	if !strings.Contains(string(data), "hello-world") || !strings.Contains(string(data), "SUCCEEDED") {
		t.Errorf("log file missing output or footer: %q", data)
	}
}

func TestExecRunner_WorkingDirectory(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	var stream bytes.Buffer
	r := &process.ExecRunner{Stream: &stream}

	if err := r.Run(context.Background(), process.Command{Name: "sh", Args: []string{"-c", "pwd"}, Dir: dir}); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(stream.String()))
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestExecRunner_ExitError(t *testing.T) {
	requireShell(t)

	r := &process.ExecRunner{}
	err := r.Run(context.Background(), process.Command{Name: "sh", Args: []string{"-c", "echo nope >&2; exit 7"}})

	var exitErr *process.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected *ExitError, got %T: %v", err, err)
	}
	if exitErr.ExitCode != 7 {
		t.Errorf("ExitCode = %d, want 7", exitErr.ExitCode)
	}
	if !strings.Contains(exitErr.Output, "nope") {
		t.Errorf("expected captured stderr in Output, got %q", exitErr.Output)
	}
	if process.ExitCode(err) != 7 {
		t.Errorf("process.ExitCode() = %d, want 7", process.ExitCode(err))
	}
}

func TestExecRunner_StartError(t *testing.T) {
	r := &process.ExecRunner{}
	err := r.Run(context.Background(), process.Command{Name: "definitely-not-a-real-binary-4242"})

	var startErr *process.StartError
	if !errors.As(err, &startErr) {
		t.Fatalf("expected *StartError, got %T: %v", err, err)
	}
	if !startErr.NotFound() {
		t.Errorf("expected NotFound() for missing executable, got %v", startErr.Err)
	}
	if process.ExitCode(err) != -1 {
		t.Errorf("expected no exit code for spawn failure")
	}
}

func TestCommand_EnvironOverridesInherited(t *testing.T) {
	t.Setenv("PACK_OVERRIDE", "inherited")

	env := process.Command{Env: map[string]string{"PACK_OVERRIDE": "explicit"}}.Environ()

	last := ""
	for _, kv := range env {
		if strings.HasPrefix(kv, "PACK_OVERRIDE=") {
			last = kv
		}
	}
	if last != "PACK_OVERRIDE=explicit" {
		t.Errorf("expected explicit value last, got %q", last)
	}
}

func TestCommand_String(t *testing.T) {
	c := process.Command{Name: "cargo", Args: []string{"test", "export_bindings"}}
	if c.String() != "cargo test export_bindings" {
		t.Errorf("String() = %q", c.String())
	}
}
