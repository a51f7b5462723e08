package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/critters-rs/critters-pack/pkg/logger"
)

// tailLimit bounds how much output is kept in memory for error reports
const tailLimit = 64 * 1024

// Command describes one external process invocation
type Command struct {
	Name    string
	Args    []string
	Dir     string
	Env     map[string]string
	LogFile string
}

// String renders the command line as an operator would type it
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Environ returns os.Environ() followed by the command's extra entries in
// key order, so later entries override inherited ones.
func (c Command) Environ() []string {
	env := os.Environ()
	keys := make([]string, 0, len(c.Env))
	for k := range c.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, fmt.Sprintf("%s=%s", k, c.Env[k]))
	}
	return env
}

//go:generate mockgen -destination=../mocks/runner_mock.go -package=mocks github.com/critters-rs/critters-pack/pkg/process Runner

// Runner runs external commands
type Runner interface {
	Run(ctx context.Context, cmd Command) error
}

// ExecRunner runs commands with os/exec, streaming output to Stream and
// appending it to the command's log file.
type ExecRunner struct {
	Stream io.Writer
	Logger logger.Logger
}

// NewExecRunner creates a runner streaming child output to stderr
func NewExecRunner(log logger.Logger) *ExecRunner {
	return &ExecRunner{Stream: os.Stderr, Logger: log}
}

// Run executes cmd and waits for it to exit
func (r *ExecRunner) Run(ctx context.Context, c Command) error {
	start := time.Now()

	logFile, err := openLogFile(c.LogFile)
	if err != nil && r.Logger != nil {
		r.Logger.Warn("Failed to open log file", logger.WithField("path", c.LogFile), logger.WithField("error", err))
	}
	if logFile != nil {
		defer logFile.Close()
		fmt.Fprintf(logFile, "\n=== %s at %s ===\n", c, start.Format("2006-01-02 15:04:05"))
	}

	tail := &tailBuffer{limit: tailLimit}
	writers := []io.Writer{tail}
	if r.Stream != nil {
		writers = append(writers, r.Stream)
	}
	if logFile != nil {
		writers = append(writers, logFile)
	}
	out := io.MultiWriter(writers...)

	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Env = c.Environ()
	cmd.Stdout = out
	cmd.Stderr = out

	if r.Logger != nil {
		r.Logger.Debug("Executing", logger.WithField("command", c.String()), logger.WithField("dir", c.Dir))
	}

	if err := cmd.Start(); err != nil {
		if logFile != nil {
			fmt.Fprintf(logFile, "=== could not start: %v ===\n", err)
		}
		return &StartError{Command: c.String(), Err: err}
	}

	err = cmd.Wait()
	duration := time.Since(start)
	if err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		if logFile != nil {
			fmt.Fprintf(logFile, "=== FAILED after %s (exit %d) ===\n", duration, code)
		}
		return &ExitError{Command: c.String(), ExitCode: code, Output: tail.String(), Err: err}
	}

	if logFile != nil {
		fmt.Fprintf(logFile, "=== SUCCEEDED after %s ===\n", duration)
	}
	return nil
}

func openLogFile(path string) (*os.File, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
}

// tailBuffer keeps the last limit bytes written to it
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
