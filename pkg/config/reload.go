package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/types"
)

// ReloadEventType classifies a config file change
type ReloadEventType string

const (
	ReloadEventModified ReloadEventType = "modified"
	ReloadEventRemoved  ReloadEventType = "removed"
	ReloadEventError    ReloadEventType = "error"
)

// ReloadEvent is delivered to subscribers after a debounced change. Config is
// nil when Err is set.
type ReloadEvent struct {
	Path   string
	Type   ReloadEventType
	Config *types.PackConfig
	Err    error
}

// ReloadFunc receives reload events
type ReloadFunc func(ReloadEvent)

// Reloader watches the config file during watch mode and re-resolves the
// configuration when it changes
type Reloader struct {
	root     string
	path     string
	logger   logger.Logger
	debounce time.Duration
	onReload ReloadFunc

	mu          sync.Mutex
	timer       *time.Timer
	pending     ReloadEventType
	lastModTime time.Time
}

// NewReloader creates a reloader for the config file at path, resolved
// against root like the initial load
func NewReloader(root, path string, log logger.Logger, onReload ReloadFunc) *Reloader {
	if log == nil {
		log = logger.Discard()
	}
	return &Reloader{
		root:     root,
		path:     path,
		logger:   log,
		debounce: 500 * time.Millisecond,
		onReload: onReload,
	}
}

// SetDebounce sets how long events are coalesced before reloading
func (r *Reloader) SetDebounce(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.debounce = d
}

// Run watches until ctx is done. The directory is watched rather than the
// file so editors that replace the file on save are followed.
func (r *Reloader) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	if info, err := os.Stat(r.path); err == nil {
		r.lastModTime = info.ModTime()
	}

	r.logger.Debug("Watching configuration file", logger.WithField("path", r.path))

	defer r.stopTimer()
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !r.isConfigEvent(event.Name) {
				continue
			}
			r.schedule(eventType(event.Op))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("Configuration watcher error", logger.WithField("error", err))
			r.deliver(ReloadEvent{Path: r.path, Type: ReloadEventError, Err: err})
		}
	}
}

// Reload re-reads the config file immediately
func (r *Reloader) Reload() {
	r.handle(ReloadEventModified, true)
}

func (r *Reloader) isConfigEvent(name string) bool {
	base := filepath.Base(r.path)
	got := filepath.Base(name)
	if got == base {
		return true
	}
	// Editors write a temporary sibling and rename it into place.
	return strings.HasPrefix(got, base) || (strings.HasSuffix(got, ".tmp") && strings.Contains(got, base))
}

func eventType(op fsnotify.Op) ReloadEventType {
	if op.Has(fsnotify.Remove) && !op.Has(fsnotify.Create) {
		return ReloadEventRemoved
	}
	return ReloadEventModified
}

func (r *Reloader) schedule(t ReloadEventType) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.pending = t
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		pending := r.pending
		r.mu.Unlock()
		r.handle(pending, false)
	})
}

func (r *Reloader) stopTimer() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
}

func (r *Reloader) handle(t ReloadEventType, force bool) {
	info, err := os.Stat(r.path)
	if t == ReloadEventRemoved || os.IsNotExist(err) {
		r.deliver(ReloadEvent{Path: r.path, Type: ReloadEventRemoved, Err: fmt.Errorf("configuration file was removed: %s", r.path)})
		return
	}
	if err != nil {
		r.deliver(ReloadEvent{Path: r.path, Type: ReloadEventError, Err: err})
		return
	}

	r.mu.Lock()
	if !force && !info.ModTime().After(r.lastModTime) {
		r.mu.Unlock()
		r.logger.Debug("Configuration file not modified, skipping reload")
		return
	}
	r.lastModTime = info.ModTime()
	r.mu.Unlock()

	cfg, err := NewManager().Load(r.root, r.path)
	if err != nil {
		r.logger.Error("Failed to reload configuration", logger.WithField("error", err))
		r.deliver(ReloadEvent{Path: r.path, Type: ReloadEventError, Err: err})
		return
	}

	r.logger.Info("Configuration reloaded", logger.WithField("path", r.path))
	r.deliver(ReloadEvent{Path: r.path, Type: ReloadEventModified, Config: cfg})
}

func (r *Reloader) deliver(ev ReloadEvent) {
	if r.onReload == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Reload callback panic recovered", logger.WithField("panic", p))
		}
	}()
	r.onReload(ev)
}
