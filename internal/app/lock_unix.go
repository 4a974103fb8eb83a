//go:build unix

package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
)

// OperationLock serializes backup, archive and restore operations on one
// database via an exclusive flock on a sidecar lock file. The engine
// itself does not lock; serialization is this caller layer's job.
type OperationLock struct {
	f *os.File
}

// AcquireOperationLock takes a non-blocking exclusive lock keyed on the
// database path. It fails immediately when another operation holds the
// lock rather than queueing behind it.
func AcquireOperationLock(dbPath string) (*OperationLock, error) {
	lockPath := dbPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return nil, fmt.Errorf("creating lock directory: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("another backup or restore operation is already running on %s", dbPath)
		}
		return nil, fmt.Errorf("locking %s: %w", lockPath, err)
	}

	return &OperationLock{f: f}, nil
}

// Release drops the lock. The lock file itself is left in place: removing
// it would race with a concurrent acquirer holding the old inode.
func (l *OperationLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	if err := syscall.Flock(int(l.f.Fd()), syscall.LOCK_UN); err != nil {
		l.f.Close()
		return fmt.Errorf("unlocking: %w", err)
	}
	return l.f.Close()
}
