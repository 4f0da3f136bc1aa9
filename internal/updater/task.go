// Package updater drives the update transaction: fetch and authenticate
// the manifest, download the new files into staging, re-verify each one,
// swap them into the live installation with a backup of everything
// displaced, and roll the whole thing back if any swap fails. All work is
// strictly sequential; the rollback correctness argument depends on a total
// order over filesystem mutations.
package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/meganz/megacmd-updater/internal/config"
	"github.com/meganz/megacmd-updater/internal/fsops"
	"github.com/meganz/megacmd-updater/internal/history"
	"github.com/meganz/megacmd-updater/internal/manifest"
	"github.com/meganz/megacmd-updater/internal/transport"
	"github.com/meganz/megacmd-updater/pkg/crypto"
)

// Task is one update transaction. Create a fresh Task per run.
type Task struct {
	cfg     *config.Config
	layout  Layout
	fs      fsops.FS
	fetcher transport.Fetcher
	key     *crypto.PublicKey
	proc    *manifest.Processor
	journal *history.DB
	logger  zerolog.Logger

	state State
	runID string
}

// New builds a Task from its collaborators. journal may be nil to disable
// the run journal.
func New(cfg *config.Config, fs fsops.FS, fetcher transport.Fetcher, journal *history.DB, logger zerolog.Logger) (*Task, error) {
	key, err := crypto.ParsePublicKey(cfg.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("updater: parse public key: %w", err)
	}

	return &Task{
		cfg:     cfg,
		layout:  Layout{AppDir: cfg.AppDir, AppDataDir: cfg.AppDataDir},
		fs:      fs,
		fetcher: fetcher,
		key:     key,
		proc:    manifest.NewProcessor(key, fs, cfg.AppDir, logger),
		journal: journal,
		logger:  logger.With().Str("component", "updater").Logger(),
		state:   StateIdle,
	}, nil
}

// State returns the current transaction state.
func (t *Task) State() State {
	return t.state
}

// Run executes the transaction. The returned bool is the "exit 1" success
// signal: true when new files were installed, or fully staged under
// --do-not-install. An up-to-date installation returns (false, nil).
func (t *Task) Run(ctx context.Context, emergency, doNotInstall bool) (bool, error) {
	t.runID = uuid.NewString()
	t.logger = t.logger.With().Str("run_id", t.runID).Logger()
	t.setState(StateChecking)
	t.logger.Info().Bool("emergency", emergency).Bool("do_not_install", doNotInstall).Msg("starting update check")

	t.warnStaleLedger()

	fromVersion, err := t.readVersion()
	if err != nil {
		t.setState(StateFailed)
		return false, err
	}

	if err := t.journal.Begin(ctx, t.runID, fromVersion); err != nil {
		t.logger.Warn().Err(err).Msg("could not open journal entry")
	}

	res, err := t.check(ctx, emergency, fromVersion)
	if err != nil {
		if errors.Is(err, manifest.ErrNoUpdate) {
			t.setState(StateUpToDate)
			t.finishJournal(ctx, fromVersion, history.OutcomeUpToDate, "")
			t.logger.Info().Msg("no update needed")
			return false, nil
		}
		t.setState(StateFailed)
		t.finishJournal(ctx, 0, history.OutcomeFailed, err.Error())
		return false, err
	}

	t.setState(StateDownloading)
	if err := t.download(ctx, res.Work); err != nil {
		t.setState(StateFailed)
		t.finishJournal(ctx, res.Version, history.OutcomeFailed, err.Error())
		return false, err
	}

	if doNotInstall {
		t.logger.Info().Msg("do-not-install requested, leaving update staged")
		t.finishJournal(ctx, res.Version, history.OutcomeStaged, "")
		return true, nil
	}

	// Pre-commit cleanup: the backup tree belongs wholly to this run.
	if err := t.fs.RemoveTree(t.layout.BackupDir()); err != nil {
		t.setState(StateFailed)
		err = fmt.Errorf("updater: clear backup tree: %w", err)
		t.finishJournal(ctx, res.Version, history.OutcomeFailed, err.Error())
		return false, err
	}

	paths := make([]string, len(res.Work))
	for i, e := range res.Work {
		paths[i] = e.Path
	}
	if err := t.fs.MkdirAll(t.layout.StagingDir()); err != nil {
		t.logger.Warn().Err(err).Msg("could not ensure staging directory")
	}
	if err := writeLedger(t.fs, t.layout.LedgerFile(), commitLedger{
		RunID:   t.runID,
		Version: res.Version,
		Paths:   paths,
	}); err != nil {
		t.logger.Warn().Err(err).Msg("could not write commit ledger")
	}

	t.setState(StateCommitting)
	t.logger.Info().Int("files", len(res.Work)).Int("version", res.Version).Msg("applying update")
	if err := t.commit(res.Work); err != nil {
		t.finishJournal(ctx, res.Version, history.OutcomeFailed, err.Error())
		return false, err
	}

	t.finalize(res.Version)
	t.setState(StateFinalized)
	t.finishJournal(ctx, res.Version, history.OutcomeInstalled, "")
	t.logger.Info().Int("version", res.Version).Msg("update successfully installed")
	return true, nil
}

// check downloads the manifest, parses and authenticates it, and reduces it
// to the pending work. The manifest temp file is removed on every path.
func (t *Task) check(ctx context.Context, emergency bool, fromVersion int) (*manifest.Result, error) {
	if err := t.fs.MkdirAll(t.layout.AppDataDir); err != nil {
		return nil, fmt.Errorf("updater: create app-data directory: %w", err)
	}

	url := t.cfg.ManifestURL(emergency) + transport.RandomQuerySuffix()
	dest := t.layout.ManifestFile()
	defer t.fs.Remove(dest)
	if err := t.fetcher.Fetch(ctx, url, dest); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestFetch, err)
	}

	data, err := t.fs.ReadFile(dest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestFetch, err)
	}

	return t.proc.Process(bytes.NewReader(data), fromVersion)
}

// download stages every pending entry, re-verifying each file after the
// fetch. A zero-length body is legal: it stages a deletion.
func (t *Task) download(ctx context.Context, work []manifest.Entry) error {
	for _, e := range work {
		staged := t.layout.Staged(e.Path)

		if manifest.FileMatchesSignature(t.fs, t.key, staged, e.Signature) {
			t.logger.Info().Str("path", e.Path).Msg("file already downloaded")
			continue
		}

		if err := t.fs.MkdirAll(fsops.ParentDir(staged)); err != nil {
			return fmt.Errorf("%w: create staging directory for %s: %s", ErrDownloadFailed, e.Path, err)
		}
		if t.fs.Exists(staged) {
			if err := t.fs.Remove(staged); err != nil {
				return fmt.Errorf("%w: clear stale staged file %s: %s", ErrDownloadFailed, e.Path, err)
			}
		}

		if err := t.fetcher.Fetch(ctx, e.URL+transport.RandomQuerySuffix(), staged); err != nil {
			return fmt.Errorf("%w: %s: %s", ErrDownloadFailed, e.URL, err)
		}

		if !manifest.FileMatchesSignature(t.fs, t.key, staged, e.Signature) {
			return fmt.Errorf("%w: %s", ErrDownloadCorrupt, e.Path)
		}
		t.logger.Info().Str("path", e.Path).Msg("file ready")
	}
	return nil
}

// commit swaps staged files into the live tree in manifest order. The first
// failure rolls back everything done so far, in reverse order.
func (t *Task) commit(work []manifest.Entry) error {
	for i, e := range work {
		if err := t.commitEntry(e); err != nil {
			t.logger.Error().Err(err).Str("path", e.Path).Msg("commit failed, restoring previous installation")
			t.setState(StateRollingBack)
			if t.rollback(work, i) {
				t.clearLedger()
			}
			t.setState(StateFailed)
			return fmt.Errorf("%w: %s: %s", ErrCommitFailed, e.Path, err)
		}
	}
	return nil
}

func (t *Task) commitEntry(e manifest.Entry) error {
	backup := t.layout.Backup(e.Path)
	if err := t.fs.MkdirAll(fsops.ParentDir(backup)); err != nil {
		return fmt.Errorf("create backup directory: %w", err)
	}

	// A missing original is a new-file install, not an error.
	installed := t.layout.Installed(e.Path)
	if err := t.fs.Rename(installed, backup); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("back up %s: %w", e.Path, err)
	}

	staged := t.layout.Staged(e.Path)
	size, err := t.fs.Size(staged)
	if err != nil || size == 0 {
		// Deletion request: the original has already moved to backup and
		// nothing replaces it.
		t.logger.Info().Str("path", e.Path).Msg("file removed")
		return nil
	}

	if err := t.fs.MkdirAll(fsops.ParentDir(installed)); err != nil {
		return fmt.Errorf("create target directory: %w", err)
	}
	t.setPermissions(fsops.ParentDir(installed))

	if err := t.fs.Rename(staged, installed); err != nil {
		return fmt.Errorf("install %s: %w", e.Path, err)
	}
	t.setPermissions(installed)

	t.logger.Info().Str("path", e.Path).Msg("file installed")
	return nil
}

// rollback undoes entries k..0 in reverse. Individual failures are logged
// and skipped: the tree is already inconsistent and every file restored is
// one fewer broken. Reports whether the rollback was complete.
func (t *Task) rollback(work []manifest.Entry, k int) bool {
	t.logger.Info().Int("entries", k+1).Msg("uninstalling update")

	complete := true
	for i := k; i >= 0; i-- {
		e := work[i]

		if err := t.fs.Rename(t.layout.Installed(e.Path), t.layout.Staged(e.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			complete = false
			t.logger.Warn().Err(err).Str("path", e.Path).Msg("could not move new file back to staging")
		}
		if err := t.fs.Rename(t.layout.Backup(e.Path), t.layout.Installed(e.Path)); err != nil && !errors.Is(err, os.ErrNotExist) {
			complete = false
			t.logger.Warn().Err(err).Str("path", e.Path).Msg("could not restore backup")
			continue
		}
		t.logger.Info().Str("path", e.Path).Msg("file restored")
	}

	if !complete {
		t.logger.Error().Err(ErrRollbackPartial).Msg("previous installation not fully restored")
	}
	return complete
}

// finalize removes the scratch trees, re-applies the platform permission
// hook to the well-known executables, and records the new version. Once the
// commit has succeeded the displaced originals in backup/ are dead weight;
// removing them leaves both scratch trees empty after a successful commit.
// Nothing here can un-install the update, so problems are
// logged rather than returned.
func (t *Task) finalize(version int) {
	if err := t.fs.RemoveTree(t.layout.StagingDir()); err != nil {
		t.logger.Warn().Err(err).Msg("could not remove staging tree")
	}
	if err := t.fs.RemoveTree(t.layout.BackupDir()); err != nil {
		t.logger.Warn().Err(err).Msg("could not remove backup tree")
	}

	t.finalizePermissions()

	if err := t.writeVersion(version); err != nil {
		t.logger.Error().Err(err).Int("version", version).Msg("could not record installed version")
	}
}

// readVersion parses the installed version file. A missing or unreadable
// file is an error: the updater refuses to guess what is installed.
func (t *Task) readVersion() (int, error) {
	data, err := t.fs.ReadFile(t.layout.VersionFile())
	if err != nil {
		return 0, fmt.Errorf("updater: read installed version: %w", err)
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("updater: parse installed version: %w", err)
	}
	return v, nil
}

func (t *Task) writeVersion(v int) error {
	return t.fs.WriteFile(t.layout.VersionFile(), []byte(strconv.Itoa(v)+"\n"), 0o644)
}

// warnStaleLedger surfaces a commit window a previous run never closed.
func (t *Task) warnStaleLedger() {
	l, err := readLedger(t.fs, t.layout.LedgerFile())
	if err != nil {
		return
	}
	t.logger.Warn().
		Str("interrupted_run", l.RunID).
		Int("target_version", l.Version).
		Int("files", len(l.Paths)).
		Msg("previous run was interrupted mid-commit; installation may be a mix of versions")
}

func (t *Task) clearLedger() {
	if err := t.fs.Remove(t.layout.LedgerFile()); err != nil && !errors.Is(err, os.ErrNotExist) {
		t.logger.Warn().Err(err).Msg("could not remove commit ledger")
	}
}

func (t *Task) setState(s State) {
	t.state = s
	t.logger.Debug().Str("state", s.String()).Msg("state changed")
}

func (t *Task) finishJournal(ctx context.Context, toVersion int, outcome history.Outcome, detail string) {
	if err := t.journal.Finish(ctx, t.runID, toVersion, outcome, detail); err != nil {
		t.logger.Warn().Err(err).Msg("could not close journal entry")
	}
}
