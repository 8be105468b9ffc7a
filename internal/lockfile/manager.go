package lockfile

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"syscall"
	"time"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/state"
)

const (
	// orphanGrace is how long a stale-looking holder gets to exit
	// after a shutdown request before its artifacts are removed.
	orphanGrace = 5 * time.Second

	exitPollInterval = 100 * time.Millisecond
)

// Manager runs the startup locking protocol for one project: stale
// recovery, acquisition, and release.
type Manager struct {
	paths  state.Paths
	lock   *Lock
	logger *slog.Logger
}

func NewManager(paths state.Paths, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		paths:  paths,
		lock:   NewLock(paths.LockFile),
		logger: logger.With("component", "lockfile"),
	}
}

// RecoverStale clears artifacts left by dead or orphaned instances so
// a fresh start is not blocked by a crash.
func (m *Manager) RecoverStale(ctx context.Context) error {
	pid, err := ReadPID(m.paths.PIDFile)
	if err != nil {
		if errors.KindOf(err) == errors.KindNotFound {
			return nil // nothing recorded, nothing to recover
		}
		m.logger.Warn("pid file unreadable, removing artifacts", "error", err)
		return m.removeArtifacts()
	}

	if !PIDAlive(pid) {
		m.logger.Info("removing artifacts of dead instance", "pid", pid)
		return m.removeArtifacts()
	}

	runtime, rtErr := ReadRuntime(m.paths.RuntimeFile)
	if rtErr == nil && ProbeHealth(runtime.BaseURL, DefaultProbeTimeout) {
		return nil // healthy holder, Acquire will report it
	}

	// The pid is alive but unreachable: ask it to stop, give it a
	// grace period, then treat it as an orphan.
	m.logger.Warn("live pid with dead rendezvous, requesting shutdown", "pid", pid)
	m.requestShutdown(pid, runtime)
	if m.waitExit(ctx, pid) {
		m.logger.Info("stale instance exited", "pid", pid)
	} else {
		m.logger.Warn("stale instance ignored shutdown, removing artifacts", "pid", pid)
	}
	return m.removeArtifacts()
}

// Acquire takes the lock. When another instance holds it, the
// surviving rendezvous is returned alongside held=false so the caller
// can hand the client to the running daemon.
func (m *Manager) Acquire() (bool, *RuntimeState, error) {
	held, err := m.lock.TryLock()
	if err != nil {
		return false, nil, err
	}
	if !held {
		runtime, _ := ReadRuntime(m.paths.RuntimeFile)
		return false, runtime, nil
	}
	if err := WritePID(m.paths.PIDFile, os.Getpid()); err != nil {
		_ = m.lock.Unlock()
		return false, nil, err
	}
	return true, nil, nil
}

// Release removes the runtime and pid artifacts and drops the lock.
func (m *Manager) Release() error {
	var firstErr error
	if err := RemoveRuntime(m.paths.RuntimeFile); err != nil {
		firstErr = err
	}
	if err := RemovePID(m.paths.PIDFile); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := m.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// requestShutdown prefers the HTTP shutdown endpoint when a rendezvous
// is readable and falls back to SIGTERM.
func (m *Manager) requestShutdown(pid int, runtime *RuntimeState) {
	if runtime != nil && runtime.BaseURL != "" {
		client := &http.Client{Timeout: DefaultProbeTimeout}
		resp, err := client.Post(runtime.BaseURL+"/shutdown", "application/json", nil)
		if err == nil {
			_ = resp.Body.Close()
			return
		}
	}
	if proc, err := os.FindProcess(pid); err == nil {
		_ = proc.Signal(syscall.SIGTERM)
	}
}

func (m *Manager) waitExit(ctx context.Context, pid int) bool {
	deadline := time.Now().Add(orphanGrace)
	for time.Now().Before(deadline) {
		if !PIDAlive(pid) {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(exitPollInterval):
		}
	}
	return !PIDAlive(pid)
}

func (m *Manager) removeArtifacts() error {
	if err := RemoveRuntime(m.paths.RuntimeFile); err != nil {
		return err
	}
	if err := RemovePID(m.paths.PIDFile); err != nil {
		return err
	}
	if err := os.Remove(m.paths.LockFile); err != nil && !os.IsNotExist(err) {
		return errors.Internal("remove lock file", err)
	}
	return nil
}
