//go:build !windows

package updater

import (
	"path/filepath"
	"runtime"
	"strings"
)

// setPermissions applies the executable-bit rule: any path whose name
// contains "mega-" becomes rwxr-xr-x. Whether the substring match is
// intentional or a historical shortcut is an open product question; the
// behavior is preserved unchanged.
func (t *Task) setPermissions(path string) {
	if !strings.Contains(filepath.Base(path), "mega-") {
		return
	}
	if err := t.fs.Chmod(path, 0o755); err != nil {
		t.logger.Warn().Err(err).Str("path", path).Msg("could not set permissions")
	}
}

// wellKnownExecutables are the bundle binaries that must stay executable
// after an update.
var wellKnownExecutables = []string{"mega-cmd", "MEGAcmd", "MEGAcmdShell", "MEGAcmdUpdater"}

// finalizePermissions re-applies executable bits to the app-bundle
// binaries. Only the darwin bundle ships fixed binary names; elsewhere the
// mega- rule already covered everything during commit.
func (t *Task) finalizePermissions() {
	if runtime.GOOS != "darwin" {
		return
	}
	for _, name := range wellKnownExecutables {
		path := filepath.Join(t.layout.AppDir, "Contents", "MacOS", name)
		if !t.fs.Exists(path) {
			continue
		}
		if err := t.fs.Chmod(path, 0o755); err != nil {
			t.logger.Warn().Err(err).Str("path", path).Msg("could not set permissions")
		}
	}
}
