// Package lockfile enforces the one-instance-per-project rule: an
// advisory OS file lock, a pid file for fast stale detection, the
// runtime.json rendezvous descriptor, and the user-level instance
// registry.
package lockfile

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// Lock is an advisory exclusive lock on the project's lock file. The
// OS releases it on process exit, normal or not.
type Lock struct {
	path   string
	fl     *flock.Flock
	locked bool
}

func NewLock(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// TryLock attempts acquisition without blocking. false means another
// live process holds the lock.
func (l *Lock) TryLock() (bool, error) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return false, errors.Internal("create lock directory", err)
	}
	acquired, err := l.fl.TryLock()
	if err != nil {
		return false, errors.Internal("acquire lock", err)
	}
	l.locked = acquired
	return acquired, nil
}

// Unlock releases the lock. Safe to call when not held.
func (l *Lock) Unlock() error {
	if !l.locked {
		return nil
	}
	l.locked = false
	if err := l.fl.Unlock(); err != nil {
		return errors.Internal("release lock", err)
	}
	return nil
}

func (l *Lock) Path() string { return l.path }

// Held reports whether this process holds the lock.
func (l *Lock) Held() bool { return l.locked }
