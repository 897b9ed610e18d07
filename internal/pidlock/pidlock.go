// Package pidlock guards against two recorder instances running against
// the same database/storage root at once. Acquire creates an exclusive
// PID file with O_EXCL, recovering from a stale one left behind by a
// process that no longer exists.
package pidlock

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned by Acquire when path is held by a process
// that is still alive.
var ErrAlreadyRunning = errors.New("pidlock: another instance is already running")

// Lock is a held PID file. Release removes it.
type Lock struct {
	path string
}

// Acquire creates path exclusively and writes the current process's PID
// into it. If path already exists and names a live process, it returns
// ErrAlreadyRunning. If it exists but names a process that is no longer
// running, the stale file is removed and acquisition is retried once.
func Acquire(path string) (*Lock, error) {
	lock, err := tryAcquire(path)
	if err == nil {
		return lock, nil
	}
	if !os.IsExist(err) {
		return nil, fmt.Errorf("pidlock: create %s: %w", path, err)
	}

	if !holderAlive(path) {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			return nil, fmt.Errorf("pidlock: remove stale %s: %w", path, rmErr)
		}
		if lock, err = tryAcquire(path); err == nil {
			return lock, nil
		}
	}

	return nil, ErrAlreadyRunning
}

func tryAcquire(path string) (*Lock, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%d", os.Getpid()); err != nil {
		_ = os.Remove(path)
		return nil, fmt.Errorf("pidlock: write %s: %w", path, err)
	}
	return &Lock{path: path}, nil
}

// holderAlive reports whether the PID recorded in path refers to a live
// process. A file that can't be read or parsed is treated as stale.
func holderAlive(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

// Release removes the PID file. l may be nil, matching the zero value a
// failed Acquire returns.
func (l *Lock) Release() error {
	if l == nil {
		return nil
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}
