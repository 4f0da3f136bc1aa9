//go:build windows

package lock

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

// acquire opens the lock file with an exclusive share mode; a second opener
// gets a sharing violation until the handle is closed.
func acquire(path string) (*os.File, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return nil, err
	}

	h, err := windows.CreateFile(
		p,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0, // no sharing
		nil,
		windows.OPEN_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		if errors.Is(err, windows.ERROR_SHARING_VIOLATION) {
			return nil, ErrHeld
		}
		return nil, err
	}

	return os.NewFile(uintptr(h), path), nil
}

// release has nothing to do on Windows: closing the handle ends the
// exclusive share mode.
func release(*os.File) {}
