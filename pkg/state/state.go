// Package state persists a record of the last pipeline run per platform tag
// and detects a concurrent live run holding the same staging directory.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/critters-rs/critters-pack/pkg/logger"
	"github.com/critters-rs/critters-pack/pkg/process"
	"github.com/critters-rs/critters-pack/pkg/types"
	"github.com/critters-rs/critters-pack/pkg/utils"
)

// DefaultDir is the state directory relative to the project root
const DefaultDir = ".critters-pack/state"

// HeartbeatTimeout is how old a heartbeat may be before its run is treated as dead
const HeartbeatTimeout = 30 * time.Second

const (
	lockFile = "begin.lock"
	lockWait = 5 * time.Second
	lockPoll = 20 * time.Millisecond
)

// ErrStagingBusy is returned when another live process holds the staging directory
var ErrStagingBusy = errors.New("staging directory is held by another live run")

// RunRecord is the persisted record of one pipeline run
type RunRecord struct {
	RunID        string              `json:"runId,omitempty"`
	PlatformTag  string              `json:"platformTag"`
	StagingDir   string              `json:"stagingDir"`
	State        types.PipelineState `json:"state"`
	FailedStage  types.PipelineState `json:"failedStage,omitempty"`
	Error        string              `json:"error,omitempty"`
	ArtifactMode types.ArtifactMode  `json:"artifactMode"`
	Shape        types.Shape         `json:"shape"`
	StartedAt    time.Time           `json:"startedAt"`
	Duration     time.Duration       `json:"duration,omitempty"`
	ProcessID    int                 `json:"processId"`
	Heartbeat    time.Time           `json:"heartbeat"`
}

// Live reports whether the run is still in progress in a process other
// than this one
func (r *RunRecord) Live() bool {
	if r.State.IsTerminal() || r.ProcessID == os.Getpid() {
		return false
	}
	if time.Since(r.Heartbeat) > HeartbeatTimeout {
		return false
	}
	return process.IsAlive(r.ProcessID)
}

// Store reads and writes run records as JSON files, one per platform tag
type Store struct {
	dir    string
	logger logger.Logger

	mu             sync.Mutex
	active         map[string]*RunRecord
	heartbeatStop  chan struct{}
	heartbeatDone  chan struct{}
	heartbeatTimer *time.Ticker
}

// NewStore creates a store writing into dir
func NewStore(dir string, log logger.Logger) *Store {
	if log == nil {
		log = logger.Discard()
	}
	return &Store{
		dir:    dir,
		logger: log,
		active: make(map[string]*RunRecord),
	}
}

// Dir returns the state directory
func (s *Store) Dir() string { return s.dir }

// Begin records the start of a run. It fails with ErrStagingBusy when a
// live run in another process holds the same staging directory. The check
// and the write happen under the store's lock file.
func (s *Store) Begin(runID, tag, stagingDir string, req types.BuildRequest) (*RunRecord, error) {
	unlock, err := s.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	records, err := s.List()
	if err != nil {
		return nil, err
	}
	for _, other := range records {
		if samePath(other.StagingDir, stagingDir) && other.Live() {
			return nil, fmt.Errorf("%w: pid %d (%s)", ErrStagingBusy, other.ProcessID, other.PlatformTag)
		}
	}

	now := time.Now()
	rec := &RunRecord{
		RunID:        runID,
		PlatformTag:  tag,
		StagingDir:   stagingDir,
		State:        types.StateCompiling,
		ArtifactMode: req.Mode(),
		Shape:        req.Shape(),
		StartedAt:    now,
		ProcessID:    os.Getpid(),
		Heartbeat:    now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.save(rec); err != nil {
		return nil, err
	}
	s.active[tag] = rec
	return rec, nil
}

// Transition records the state a run just entered
func (s *Store) Transition(rec *RunRecord, state types.PipelineState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.State = state
	rec.Heartbeat = time.Now()
	return s.save(rec)
}

// Finish records the terminal state of a run. failed is the state that was
// active when runErr occurred; both are ignored on success.
func (s *Store) Finish(rec *RunRecord, failed types.PipelineState, runErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	rec.Duration = now.Sub(rec.StartedAt)
	rec.Heartbeat = now
	if runErr != nil {
		rec.State = types.StateFailed
		rec.FailedStage = failed
		rec.Error = runErr.Error()
	} else {
		rec.State = types.StateDone
		rec.FailedStage = ""
		rec.Error = ""
	}

	delete(s.active, rec.PlatformTag)
	return s.save(rec)
}

// Read loads the record for a platform tag
func (s *Store) Read(tag string) (*RunRecord, error) {
	data, err := os.ReadFile(s.path(tag))
	if err != nil {
		return nil, err
	}

	var rec RunRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &rec, nil
}

// List loads every record, sorted by platform tag. Unreadable files are
// logged and skipped.
func (s *Store) List() ([]*RunRecord, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var records []*RunRecord
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		tag := strings.TrimSuffix(name, ".json")
		rec, err := s.Read(tag)
		if err != nil {
			s.logger.Warn("Failed to load state file",
				logger.WithField("tag", tag),
				logger.WithField("error", err))
			continue
		}
		records = append(records, rec)
	}

	sort.Slice(records, func(i, j int) bool { return records[i].PlatformTag < records[j].PlatformTag })
	return records, nil
}

// Remove deletes the record for a platform tag
func (s *Store) Remove(tag string) error {
	if err := os.Remove(s.path(tag)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// StartHeartbeat refreshes the heartbeat of every active run until ctx is
// done or StopHeartbeat is called
func (s *Store) StartHeartbeat(ctx context.Context, interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.heartbeatTimer != nil {
		return
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	ticker := time.NewTicker(interval)
	s.heartbeatStop = stop
	s.heartbeatDone = done
	s.heartbeatTimer = ticker

	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				s.beat(stop)
			}
		}
	}()
}

// StopHeartbeat stops the heartbeat goroutine and waits for it to exit, so
// no heartbeat is written once it returns
func (s *Store) StopHeartbeat() {
	s.mu.Lock()
	if s.heartbeatTimer != nil {
		s.heartbeatTimer.Stop()
		s.heartbeatTimer = nil
	}
	if s.heartbeatStop != nil {
		close(s.heartbeatStop)
		s.heartbeatStop = nil
	}
	done := s.heartbeatDone
	s.heartbeatDone = nil
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Beat refreshes the heartbeat of every active run once
func (s *Store) Beat() {
	s.beat(nil)
}

func (s *Store) beat(stop <-chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stop != nil {
		select {
		case <-stop:
			return
		default:
		}
	}

	now := time.Now()
	for tag, rec := range s.active {
		rec.Heartbeat = now
		if err := s.save(rec); err != nil {
			s.logger.Debug("Failed to update heartbeat",
				logger.WithField("tag", tag),
				logger.WithField("error", err))
		}
	}
}

// lock takes the store's exclusive lock file, waiting up to lockWait for a
// holder to release it. A lock file older than HeartbeatTimeout is treated
// as left behind by a crashed process and taken over.
func (s *Store) lock() (func(), error) {
	if err := utils.EnsureDirectory(s.dir); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	path := filepath.Join(s.dir, lockFile)
	deadline := time.Now().Add(lockWait)
	for {
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { _ = os.Remove(path) }, nil
		}
		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > HeartbeatTimeout {
			s.logger.Warn("Removing stale state lock", logger.WithField("path", path))
			_ = os.Remove(path)
			continue
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: %s is locked", ErrStagingBusy, path)
		}
		time.Sleep(lockPoll)
	}
}

func (s *Store) path(tag string) string {
	return filepath.Join(s.dir, tag+".json")
}

func (s *Store) save(rec *RunRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	if err := utils.WriteFileAtomic(s.path(rec.PlatformTag), data, 0644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
