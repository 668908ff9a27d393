// Package filelock keeps a single rescuex process per data directory.
package filelock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// LockFileName is created inside the data directory
const LockFileName = "rescuex.lock"

// ErrAlreadyRunning is returned when another process holds the lock.
var ErrAlreadyRunning = errors.New("another rescuex instance is already using this data directory")

// InstanceLock wraps a flock file lock on the data directory.
type InstanceLock struct {
	flock *flock.Flock
	path  string
}

// Acquire takes the instance lock for dataDir without blocking.
func Acquire(dataDir string) (*InstanceLock, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory %s: %w", dataDir, err)
	}

	path := filepath.Join(dataDir, LockFileName)
	fl := flock.New(path)
	acquired, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to try lock on %s: %w", path, err)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}
	return &InstanceLock{flock: fl, path: path}, nil
}

// Path returns the lock file path.
func (l *InstanceLock) Path() string {
	return l.path
}

// Release unlocks. Safe to call more than once.
func (l *InstanceLock) Release() error {
	if err := l.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to release lock on %s: %w", l.path, err)
	}
	return nil
}
