// Package lock implements the single-instance guard: an advisory lock file
// next to the updater executable that at most one updater process holds at
// a time. If the process dies the OS drops the lock, so a crashed run never
// wedges the next one.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// FileName is the sentinel file created next to the executable.
const FileName = "lockMCMDUpdater"

// ErrHeld means another updater instance owns the lock.
var ErrHeld = errors.New("lock: held by another updater instance")

// Handle represents exclusive ownership of the lock file for the process
// lifetime. Release it on clean exit.
type Handle struct {
	path string
	file *os.File
}

// Acquire takes the single-instance lock in dir without blocking.
func Acquire(dir string) (*Handle, error) {
	path := filepath.Join(dir, FileName)
	f, err := acquire(path)
	if err != nil {
		if errors.Is(err, ErrHeld) {
			return nil, ErrHeld
		}
		return nil, fmt.Errorf("lock: acquire %s: %w", path, err)
	}
	return &Handle{path: path, file: f}, nil
}

// Path returns the lock file location.
func (h *Handle) Path() string {
	return h.path
}

// Release drops the lock and removes the sentinel file. Safe to call on a
// nil handle and idempotent.
func (h *Handle) Release() {
	if h == nil || h.file == nil {
		return
	}
	release(h.file)
	h.file.Close()
	os.Remove(h.path)
	h.file = nil
}
