// SPDX-License-Identifier: MIT

//go:build windows

// Package lock provides the single-instance file lock for the daemon.
//
// On Windows the lock relies on exclusive file creation: the lock file is
// opened with O_EXCL and removed on release. A lock file naming a dead
// process is taken over.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// FileLock is an exclusive lock backed by O_EXCL creation with PID
// tracking.
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

// Acquire takes the lock, waiting up to timeout.
func (fl *FileLock) Acquire(timeout time.Duration) error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file != nil {
		return errors.New("lock already acquired")
	}

	deadline := time.Now().Add(timeout)
	for {
		if stale := isStale(fl.path); stale {
			_ = os.Remove(fl.path)
		}

		file, err := os.OpenFile(fl.path, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o640)
		if err == nil {
			if _, err := file.WriteString(strconv.Itoa(fl.pid) + "\n"); err != nil {
				_ = file.Close()
				return fmt.Errorf("failed to write pid to lock file: %w", err)
			}
			fl.file = file
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("another instance holds the lock %q: %w", fl.path, err)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// Release drops the lock and removes the lock file. Safe to call when the
// lock was never acquired.
func (fl *FileLock) Release() error {
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if fl.file == nil {
		return nil
	}

	err := fl.file.Close()
	fl.file = nil
	_ = os.Remove(fl.path)
	return err
}

// Path returns the lock file path.
func (fl *FileLock) Path() string {
	return fl.path
}

// isStale reports whether the lock file names a process that is gone.
func isStale(path string) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return true
	}

	if _, err := os.FindProcess(pid); err != nil {
		return true
	}
	return false
}
