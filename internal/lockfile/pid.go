package lockfile

import (
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/agentbrain/agentbrain/internal/errors"
)

// WritePID records the holder pid next to the lock for diagnostics
// and fast-path stale detection.
func WritePID(path string, pid int) error {
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)+"\n"), 0o644); err != nil {
		return errors.Internal("write pid file", err)
	}
	return nil
}

// ReadPID returns the recorded pid. A missing file is KindNotFound.
func ReadPID(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.New(errors.KindNotFound, "pid file not found")
		}
		return 0, errors.Internal("read pid file", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, errors.New(errors.KindInternal, "pid file is corrupt")
	}
	return pid, nil
}

// RemovePID deletes the pid file; a missing file is not an error.
func RemovePID(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Internal("remove pid file", err)
	}
	return nil
}

// PIDAlive probes liveness with signal 0. EPERM means the process
// exists but belongs to another user, which still counts as alive.
func PIDAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return err == syscall.EPERM
}
