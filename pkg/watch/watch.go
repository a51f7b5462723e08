// Package watch re-runs the pipeline when crate sources change. Runs are
// strictly serialised and change bursts coalesce into at most one pending run.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/critters-rs/critters-pack/internal/safegroup"
	runctx "github.com/critters-rs/critters-pack/pkg/context"
	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/pipeline"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// Runner executes one pipeline run; *pipeline.Orchestrator satisfies it
type Runner interface {
	Run(ctx context.Context, req types.BuildRequest) (*pipeline.Result, error)
}

// ResultFunc observes each finished run
type ResultFunc func(*pipeline.Result, error)

// Options configures a Watcher
type Options struct {
	// Root is the directory watched paths are relative to
	Root string
	// Paths are files, directories or glob patterns under Root
	Paths      []string
	Exclusions []string
	Debounce   time.Duration
	// SkipInitial suppresses the run normally started before the first change
	SkipInitial bool
}

// Watcher drives a Runner from file system events
type Watcher struct {
	opts     Options
	matcher  *utils.PatternMatcher
	excluded *utils.ExclusionMatcher
	logger   logger.Logger
	onResult ResultFunc

	mu      sync.Mutex
	runner  Runner
	trigger chan struct{}
}

// New creates a watcher. Exclusions default to utils.DefaultExclusions.
func New(opts Options, runner Runner, log logger.Logger, onResult ResultFunc) (*Watcher, error) {
	if log == nil {
		log = logger.Discard()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = types.WatchConfig{}.Debounce()
	}
	if opts.Exclusions == nil {
		opts.Exclusions = utils.DefaultExclusions()
	}
	if len(opts.Paths) == 0 {
		return nil, fmt.Errorf("no watch paths configured")
	}

	var patterns []string
	for _, p := range opts.Paths {
		patterns = append(patterns, utils.ExpandPattern(p)...)
	}
	matcher, err := utils.NewPatternMatcher(patterns)
	if err != nil {
		return nil, fmt.Errorf("invalid watch path: %w", err)
	}
	excluded, err := utils.NewExclusionMatcher(opts.Exclusions)
	if err != nil {
		return nil, fmt.Errorf("invalid exclusion: %w", err)
	}

	return &Watcher{
		opts:     opts,
		matcher:  matcher,
		excluded: excluded,
		logger:   log,
		onResult: onResult,
		runner:   runner,
		trigger:  make(chan struct{}, 1),
	}, nil
}

// SetRunner replaces the runner used from the next run on
func (w *Watcher) SetRunner(r Runner) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.runner = r
}

// Trigger requests a run. While a run is pending further requests are
// dropped.
func (w *Watcher) Trigger() bool {
	select {
	case w.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// Relevant reports whether a change to path (absolute or relative to Root)
// should trigger a run
func (w *Watcher) Relevant(path string) bool {
	rel := path
	if filepath.IsAbs(path) {
		r, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			return false
		}
		rel = r
	}
	rel = filepath.ToSlash(rel)
	if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") {
		return false
	}
	return !w.excluded.IsExcluded(rel) && w.matcher.Match(rel)
}

// Run watches until ctx is done. The file watcher and the build loop run in
// one safegroup; an error in either stops both. Every run of the session
// shares one correlation ID.
func (w *Watcher) Run(ctx context.Context, req types.BuildRequest) error {
	if runctx.GetCorrelationID(ctx) == "" {
		ctx = runctx.WithCorrelationID(ctx, "")
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer fsw.Close()

	count, err := w.addTree(fsw, w.opts.Root)
	if err != nil {
		return err
	}
	w.logger.Info("Watching for changes",
		logger.WithField("correlation_id", runctx.GetCorrelationID(ctx)),
		logger.WithField("root", w.opts.Root),
		logger.WithField("directories", count))

	if !w.opts.SkipInitial {
		w.Trigger()
	}

	g, gctx := safegroup.New(ctx, w.logger)
	g.Go("file-watcher", func() error { return w.watchLoop(gctx, fsw) })
	g.Go("build-loop", func() error { return w.buildLoop(gctx, req) })
	return g.Wait()
}

func (w *Watcher) watchLoop(ctx context.Context, fsw *fsnotify.Watcher) error {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if _, err := w.addTree(fsw, event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory", logger.WithField("error", err))
					}
				}
			}
			if event.Op == fsnotify.Chmod || !w.Relevant(event.Name) {
				continue
			}

			w.logger.Debug("Change detected", logger.WithField("file", event.Name), logger.WithField("op", event.Op.String()))
			if timer == nil {
				timer = time.AfterFunc(w.opts.Debounce, func() { w.Trigger() })
			} else {
				timer.Reset(w.opts.Debounce)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", logger.WithField("error", err))
		}
	}
}

// buildLoop is the only caller of runOnce, so runs never overlap
func (w *Watcher) buildLoop(ctx context.Context, req types.BuildRequest) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.trigger:
			w.runOnce(ctx, req)
		}
	}
}

func (w *Watcher) runOnce(ctx context.Context, req types.BuildRequest) {
	w.mu.Lock()
	runner := w.runner
	w.mu.Unlock()

	result, err := runner.Run(ctx, req)
	if err != nil {
		w.logger.Error("Run failed; waiting for changes", logger.WithField("error", err))
	}
	if w.onResult != nil {
		w.onResult(result, err)
	}
}

// addTree watches dir and every non-excluded directory below it
func (w *Watcher) addTree(fsw *fsnotify.Watcher, dir string) (int, error) {
	count := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != w.opts.Root {
			if rel, relErr := filepath.Rel(w.opts.Root, path); relErr == nil && w.excluded.IsExcluded(filepath.ToSlash(rel)) {
				return filepath.SkipDir
			}
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("failed to watch %s: %w", path, err)
		}
		count++
		return nil
	})
	return count, err
}
