//go:build !windows

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// acquire opens (or creates) the lock file and takes a non-blocking
// exclusive flock on it, with close-on-exec so child processes never
// inherit ownership.
func acquire(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, err
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrHeld
		}
		return nil, err
	}

	unix.CloseOnExec(int(f.Fd()))
	return f, nil
}

func release(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN|unix.LOCK_NB)
}
