//go:build windows

package fsops

import (
	"path/filepath"
	"strings"
)

// nativePath applies the extended-length prefix so installs nested past the
// historical MAX_PATH limit keep working. Relative paths and paths that are
// already prefixed pass through untouched.
func nativePath(path string) string {
	if strings.HasPrefix(path, `\\?\`) || !filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, `\\`) {
		// UNC share: \\server\share -> \\?\UNC\server\share
		return `\\?\UNC` + path[1:]
	}
	return `\\?\` + filepath.Clean(path)
}
