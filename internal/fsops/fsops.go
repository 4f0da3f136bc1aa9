// Package fsops abstracts the filesystem operations the update transaction
// performs. The engine only ever sees UTF-8 paths; whatever representation
// the platform wants (wide characters, long-path prefixes) is confined to
// this package. The interface exists so the transaction tests can inject
// faults at exact commit indices.
package fsops

import (
	"io/fs"
	"os"
	"path/filepath"
)

// FS is the capability surface the transaction engine runs on.
type FS interface {
	// MkdirAll creates path and any missing parents.
	MkdirAll(path string) error

	// Rename moves oldpath to newpath, replacing an existing file.
	Rename(oldpath, newpath string) error

	// Remove deletes a single file.
	Remove(path string) error

	// RemoveTree deletes path and everything under it. A missing path is
	// not an error.
	RemoveTree(path string) error

	// Size returns the byte size of the file at path. Directories and
	// missing files return an error.
	Size(path string) (int64, error)

	// Exists reports whether anything lives at path.
	Exists(path string) bool

	// ReadFile returns the full content of the file at path.
	ReadFile(path string) ([]byte, error)

	// WriteFile writes data to path, creating or truncating it.
	WriteFile(path string, data []byte, perm os.FileMode) error

	// Chmod changes the permission bits of path.
	Chmod(path string, perm os.FileMode) error
}

// NewOS returns the operating-system implementation.
func NewOS() FS {
	return osFS{}
}

type osFS struct{}

func (osFS) MkdirAll(path string) error {
	return os.MkdirAll(nativePath(path), 0o755)
}

func (osFS) Rename(oldpath, newpath string) error {
	return os.Rename(nativePath(oldpath), nativePath(newpath))
}

func (osFS) Remove(path string) error {
	return os.Remove(nativePath(path))
}

func (osFS) RemoveTree(path string) error {
	return os.RemoveAll(nativePath(path))
}

func (osFS) Size(path string) (int64, error) {
	info, err := os.Stat(nativePath(path))
	if err != nil {
		return 0, err
	}
	if info.IsDir() {
		return 0, &fs.PathError{Op: "size", Path: path, Err: fs.ErrInvalid}
	}
	return info.Size(), nil
}

func (osFS) Exists(path string) bool {
	_, err := os.Lstat(nativePath(path))
	return err == nil
}

func (osFS) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(nativePath(path))
}

func (osFS) WriteFile(path string, data []byte, perm os.FileMode) error {
	return os.WriteFile(nativePath(path), data, perm)
}

func (osFS) Chmod(path string, perm os.FileMode) error {
	return os.Chmod(nativePath(path), perm)
}

// ParentDir returns the directory holding path.
func ParentDir(path string) string {
	return filepath.Dir(path)
}
