//go:build !unix

package lock

import (
	"os"
	"sync"
)

// Without flock, locks only exclude holders within this process and every
// lock is exclusive.
var (
	heldMu sync.Mutex
	held   = map[string]bool{}
)

func lockFile(f *os.File, _ bool) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	if held[f.Name()] {
		return ErrLocked
	}
	held[f.Name()] = true
	return nil
}

func unlockFile(f *os.File) error {
	heldMu.Lock()
	defer heldMu.Unlock()
	delete(held, f.Name())
	return nil
}
