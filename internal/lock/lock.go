// Package lock provides advisory inter-process locks on the record store.
//
// Sync holds a shared lock for the duration of a pass; maintenance holds an
// exclusive one. Acquisition never blocks: a conflicting holder yields
// ErrLocked so the operator can retry later.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLocked is returned when a conflicting lock is held.
var ErrLocked = errors.New("record store is locked by another operation")

// Lock is a held lock. Release it exactly once.
type Lock struct {
	f    *os.File
	path string
}

// PathFor returns the lock file used for the store at dbPath.
func PathFor(dbPath string) string {
	return dbPath + ".lock"
}

// Shared acquires a shared lock on path.
func Shared(path string) (*Lock, error) {
	return acquire(path, false)
}

// Exclusive acquires an exclusive lock on path.
func Exclusive(path string) (*Lock, error) {
	return acquire(path, true)
}

func acquire(path string, exclusive bool) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := lockFile(f, exclusive); err != nil {
		f.Close()
		return nil, err
	}
	return &Lock{f: f, path: path}, nil
}

// Release drops the lock.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unlockFile(l.f)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}
