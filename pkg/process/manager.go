// Package process runs the external toolchain and manages the lifetime of
// long-running pipeline processes.
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/critters-rs/critters-pack/pkg/logger"
)

// Manager turns OS signals into context cancellation
type Manager struct {
	logger  logger.Logger
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{logger: log}
}

// Start derives a context that is cancelled on SIGINT, SIGTERM or SIGHUP,
// or when parent is done. A manager starts once; later calls return an
// already cancelled context.
func (m *Manager) Start(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		cancel()
		return ctx
	}
	m.started = true
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer signal.Stop(sigChan)

		select {
		case <-ctx.Done():
		case sig := <-sigChan:
			m.logger.Info("Received signal", logger.WithField("signal", sig))
			cancel()
		}
		m.logger.Debug("Shutting down")
	}()

	return ctx
}

// Wait blocks until the signal goroutine has exited
func (m *Manager) Wait() {
	m.wg.Wait()
}

// IsAlive reports whether a process with the given PID exists
func IsAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
