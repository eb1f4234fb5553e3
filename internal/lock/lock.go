// Package lock provides the advisory directory lock a store holds between
// Open and Close, so two store instances do not open the same data
// directory concurrently. Grounded on the flock-based locking used by
// other bitcask-shaped implementations in the wild.
package lock

import (
	"fmt"
	"path/filepath"

	"github.com/gofrs/flock"
)

// Lock wraps an advisory file lock taken on a dotfile inside a data
// directory.
type Lock struct {
	fl *flock.Flock
}

// Acquire takes a non-blocking exclusive advisory lock on dir. It returns
// an error if the directory is already locked by another process.
func Acquire(dir string) (*Lock, error) {
	path := filepath.Join(dir, ".bitkv.lock")
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock: try lock %q: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("lock: directory %q is already locked by another store", dir)
	}

	return &Lock{fl: fl}, nil
}

// Release unlocks the directory.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	if err := l.fl.Unlock(); err != nil {
		return fmt.Errorf("lock: unlock: %w", err)
	}
	return nil
}
