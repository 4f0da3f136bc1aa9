package updater

import (
	"path/filepath"

	"github.com/meganz/megacmd-updater/internal/config"
)

// Layout derives every path the transaction touches from its two roots: the
// live installation and the app-data scratch directory. Nothing here is
// persisted.
type Layout struct {
	AppDir     string
	AppDataDir string
}

// StagingDir is where freshly downloaded files land before commit.
func (l Layout) StagingDir() string {
	return filepath.Join(l.AppDataDir, config.UpdateFolderName)
}

// BackupDir holds displaced originals during the commit.
func (l Layout) BackupDir() string {
	return filepath.Join(l.AppDataDir, config.BackupFolderName)
}

// VersionFile stores the currently installed integer version.
func (l Layout) VersionFile() string {
	return filepath.Join(l.AppDataDir, config.VersionFileName)
}

// ManifestFile is where the downloaded manifest is parked while parsed.
func (l Layout) ManifestFile() string {
	return filepath.Join(l.AppDataDir, config.ManifestFileName)
}

// HistoryFile is the update-run journal database.
func (l Layout) HistoryFile() string {
	return filepath.Join(l.AppDataDir, config.HistoryFileName)
}

// LedgerFile marks an in-flight commit; it lives inside the staging tree so
// a successful finalize sweeps it away with everything else.
func (l Layout) LedgerFile() string {
	return filepath.Join(l.StagingDir(), ledgerFileName)
}

// Staged maps a manifest-relative path into the staging tree.
func (l Layout) Staged(rel string) string {
	return filepath.Join(l.StagingDir(), rel)
}

// Installed maps a manifest-relative path into the live installation.
func (l Layout) Installed(rel string) string {
	return filepath.Join(l.AppDir, rel)
}

// Backup maps a manifest-relative path into the backup tree.
func (l Layout) Backup(rel string) string {
	return filepath.Join(l.BackupDir(), rel)
}
