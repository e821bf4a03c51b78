// SPDX-License-Identifier: MIT

//go:build !windows

// Package lock provides the single-instance file lock for the daemon.
//
// Two daemons driving the same media player window would fight over it, so
// karad takes an exclusive flock(2) on a lock file in the runtime directory
// at startup and holds it until exit. A lock held by a dead process is
// detected and taken over.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// FileLock is an exclusive lock backed by flock(2) with PID tracking.
type FileLock struct {
	mu   sync.Mutex
	path string
	file *os.File
	pid  int
}

// New creates a file lock at path. The parent directory is created if
// needed.
func New(path string) (*FileLock, error) {
	if path == "" {
		return nil, errors.New("lock path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	return &FileLock{
		path: path,
		pid:  os.Getpid(),
	}, nil
}

// Acquire takes the exclusive lock, waiting up to timeout. A lock file
// owned by a process that no longer exists is removed first.
func (fl *FileLock) Acquire(timeout time.Duration) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file != nil {
		return errors.New("lock already acquired")
	}

	if stale := isStale(fl.path); stale {
		_ = os.Remove(fl.path)
	}

	file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o640) // #nosec G304 - path comes from configuration
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}

	deadline := time.Now().Add(timeout)
	for {
		err = syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			_ = file.Close()
			return fmt.Errorf("another instance holds the lock %q: %w", fl.path, err)
		}
		time.Sleep(100 * time.Millisecond)
	}

	if err := file.Truncate(0); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to truncate lock file: %w", err)
	}
	if _, err := file.WriteAt([]byte(strconv.Itoa(fl.pid)+"\n"), 0); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write pid to lock file: %w", err)
	}

	fl.file = file
	return nil
}

// Release drops the lock and removes the lock file. Safe to call when the
// lock was never acquired.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return nil
	}

	err := syscall.Flock(int(fl.file.Fd()), syscall.LOCK_UN)
	closeErr := fl.file.Close()
	fl.file = nil
	_ = os.Remove(fl.path)

	if err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return closeErr
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// isStale reports whether the lock file names a process that is gone.
func isStale(path string) bool {
	data, err := os.ReadFile(path) // #nosec G304 - path comes from configuration
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		// Unreadable content: treat as stale, flock decides the rest.
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return true
	}
	// Signal 0 probes for existence without touching the process.
	return process.Signal(syscall.Signal(0)) != nil
}
