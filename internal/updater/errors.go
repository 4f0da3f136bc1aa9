package updater

import "errors"

var (
	// ErrManifestFetch means the manifest could not be downloaded or read.
	ErrManifestFetch = errors.New("updater: manifest fetch failed")

	// ErrDownloadFailed means a file URL did not yield the expected bytes.
	ErrDownloadFailed = errors.New("updater: download failed")

	// ErrDownloadCorrupt means a downloaded file failed signature
	// verification against the manifest.
	ErrDownloadCorrupt = errors.New("updater: downloaded file failed signature verification")

	// ErrCommitFailed means a rename failed mid-commit; the transaction was
	// rolled back.
	ErrCommitFailed = errors.New("updater: commit failed")

	// ErrRollbackPartial flags a rollback step that itself failed. The
	// installation may be in a mixed state.
	ErrRollbackPartial = errors.New("updater: rollback incomplete")
)
