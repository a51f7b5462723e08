package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	runctx "github.com/critters-rs/critters-pack/pkg/context"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/pipeline"
	"github.com/critters-rs/critters-pack/pkg/types"
)

type countingRunner struct {
	delay   time.Duration
	err     error
	runs    atomic.Int32
	active  atomic.Int32
	overlap atomic.Bool
	started chan struct{}

	mu           sync.Mutex
	correlations []string
}

func newCountingRunner(delay time.Duration) *countingRunner {
	return &countingRunner{delay: delay, started: make(chan struct{}, 64)}
}

func (r *countingRunner) Run(ctx context.Context, req types.BuildRequest) (*pipeline.Result, error) {
	if r.active.Add(1) > 1 {
		r.overlap.Store(true)
	}
	defer r.active.Add(-1)
	r.mu.Lock()
	r.correlations = append(r.correlations, runctx.GetCorrelationID(ctx))
	r.mu.Unlock()
	r.runs.Add(1)
	r.started <- struct{}{}
	select {
	case <-time.After(r.delay):
	case <-ctx.Done():
	}
	if r.err != nil {
		return &pipeline.Result{State: types.StateFailed}, r.err
	}
	return &pipeline.Result{State: types.StateDone}, nil
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func newCrate(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	for _, dir := range []string{"src", "target/debug", "node_modules/x"} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0755); err != nil {
			t.Fatal(err)
		}
	}
	if err := os.WriteFile(filepath.Join(root, "Cargo.toml"), []byte("[package]\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return root
}

func TestNew_RequiresPaths(t *testing.T) {
	if _, err := New(Options{Root: t.TempDir()}, newCountingRunner(0), nil, nil); err == nil {
		t.Error("expected error without watch paths")
	}
}

func TestRelevant(t *testing.T) {
	root := t.TempDir()
	w, err := New(Options{Root: root, Paths: []string{"src", "Cargo.toml", "build.rs"}}, newCountingRunner(0), nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		path string
		want bool
	}{
		{"src/lib.rs", true},
		{"src/nested/mod.rs", true},
		{"Cargo.toml", true},
		{"build.rs", true},
		{filepath.Join(root, "src", "lib.rs"), true},
		{"README.md", false},
		{"src/lib.rs.swp", false},
		{"target/debug/build.rs", false},
		{"src/critters.linux-x64-gnu.node", false},
		{filepath.Join(filepath.Dir(root), "elsewhere.rs"), false},
	}
	for _, tt := range tests {
		if got := w.Relevant(tt.path); got != tt.want {
			t.Errorf("Relevant(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestTrigger_AtMostOnePending(t *testing.T) {
	w, err := New(Options{Root: t.TempDir(), Paths: []string{"src"}}, newCountingRunner(0), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !w.Trigger() {
		t.Error("first trigger should be queued")
	}
	if w.Trigger() {
		t.Error("second trigger should coalesce into the pending run")
	}
}

func TestRun_InitialRunAndRebuildOnChange(t *testing.T) {
	root := newCrate(t)
	runner := newCountingRunner(0)

	var mu sync.Mutex
	var states []types.PipelineState
	w, err := New(Options{
		Root:     root,
		Paths:    []string{"src", "Cargo.toml"},
		Debounce: 20 * time.Millisecond,
	}, runner, logger.Discard(), func(res *pipeline.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, res.State)
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, types.BuildRequest{}) }()

	waitFor(t, func() bool { return runner.runs.Load() == 1 })

	if err := os.WriteFile(filepath.Join(root, "src", "lib.rs"), []byte("fn main() {}"), 0644); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return runner.runs.Load() == 2 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(states) < 2 || states[1] != types.StateDone {
		t.Errorf("observed states %v", states)
	}
}

func TestRun_SessionSharesCorrelationID(t *testing.T) {
	root := newCrate(t)
	runner := newCountingRunner(0)
	w, err := New(Options{Root: root, Paths: []string{"src"}, Debounce: 10 * time.Millisecond}, runner, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, types.BuildRequest{}) }()

	waitFor(t, func() bool { return runner.runs.Load() == 1 })
	w.Trigger()
	waitFor(t, func() bool { return runner.runs.Load() == 2 })
	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	first := runner.correlations[0]
	if first == "" {
		t.Fatal("runs should carry a correlation ID")
	}
	for i, id := range runner.correlations {
		if id != first {
			t.Errorf("run %d correlation ID = %q, want %q", i, id, first)
		}
	}
}

func TestRun_KeepsCallerCorrelationID(t *testing.T) {
	root := newCrate(t)
	runner := newCountingRunner(0)
	w, err := New(Options{Root: root, Paths: []string{"src"}}, runner, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(runctx.WithCorrelationID(context.Background(), "cor_session"))
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, types.BuildRequest{}) }()
	waitFor(t, func() bool { return runner.runs.Load() == 1 })
	cancel()
	<-done

	runner.mu.Lock()
	defer runner.mu.Unlock()
	if runner.correlations[0] != "cor_session" {
		t.Errorf("correlation ID = %q, want cor_session", runner.correlations[0])
	}
}

func TestRun_IgnoresExcludedChanges(t *testing.T) {
	root := newCrate(t)
	runner := newCountingRunner(0)
	w, err := New(Options{Root: root, Paths: []string{"**/*"}, Debounce: 10 * time.Millisecond, SkipInitial: true}, runner, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx, types.BuildRequest{}) }()
	time.Sleep(50 * time.Millisecond)

	if err := os.WriteFile(filepath.Join(root, "target", "debug", "out.rlib"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(150 * time.Millisecond)
	if n := runner.runs.Load(); n != 0 {
		t.Errorf("excluded change triggered %d runs", n)
	}
}

func TestRun_SerializesAndCoalesces(t *testing.T) {
	root := newCrate(t)
	runner := newCountingRunner(100 * time.Millisecond)
	w, err := New(Options{Root: root, Paths: []string{"src"}, SkipInitial: true}, runner, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx, types.BuildRequest{}) }()

	w.Trigger()
	<-runner.started
	for i := 0; i < 10; i++ {
		w.Trigger()
	}
	waitFor(t, func() bool { return runner.runs.Load() == 2 })
	time.Sleep(250 * time.Millisecond)

	if n := runner.runs.Load(); n != 2 {
		t.Errorf("expected burst during a run to coalesce into one follow-up run, got %d runs", n)
	}
	if runner.overlap.Load() {
		t.Error("runs overlapped")
	}
}

func TestRun_FailureKeepsWatching(t *testing.T) {
	root := newCrate(t)
	failing := newCountingRunner(0)
	failing.err = errors.New("compile failed")

	var failures atomic.Int32
	w, err := New(Options{Root: root, Paths: []string{"src"}}, failing, nil, func(_ *pipeline.Result, err error) {
		if err != nil {
			failures.Add(1)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx, types.BuildRequest{}) }()
	waitFor(t, func() bool { return failures.Load() == 1 })

	replacement := newCountingRunner(0)
	w.SetRunner(replacement)
	w.Trigger()
	waitFor(t, func() bool { return replacement.runs.Load() == 1 })

	cancel()
	if err := <-done; err != nil {
		t.Errorf("a failed run must not stop the watcher: %v", err)
	}
}
