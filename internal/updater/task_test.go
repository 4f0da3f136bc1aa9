package updater

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meganz/megacmd-updater/internal/config"
	"github.com/meganz/megacmd-updater/internal/cryptotest"
	"github.com/meganz/megacmd-updater/internal/fsops"
	"github.com/meganz/megacmd-updater/internal/history"
	"github.com/meganz/megacmd-updater/internal/manifest"
	"github.com/meganz/megacmd-updater/internal/observability"
)

// fakeFetcher serves canned bodies keyed by URL with the random query
// suffix stripped.
type fakeFetcher struct {
	files map[string][]byte
	fail  map[string]bool
	calls []string
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{files: map[string][]byte{}, fail: map[string]bool{}}
}

func (f *fakeFetcher) Fetch(_ context.Context, url, dest string) error {
	base := url
	if i := strings.IndexByte(url, '?'); i >= 0 {
		base = url[:i]
	}
	f.calls = append(f.calls, base)

	if f.fail[base] {
		return errors.New("injected fetch failure")
	}
	data, ok := f.files[base]
	if !ok {
		return fmt.Errorf("no such url: %s", base)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dest, data, 0o644)
}

func (f *fakeFetcher) called(url string) bool {
	for _, c := range f.calls {
		if c == url {
			return true
		}
	}
	return false
}

// faultFS injects a single rename failure when the predicate first matches.
type faultFS struct {
	fsops.FS
	failRename func(oldpath, newpath string) bool
	fired      bool
}

func (f *faultFS) Rename(oldpath, newpath string) error {
	if !f.fired && f.failRename != nil && f.failRename(oldpath, newpath) {
		f.fired = true
		return errors.New("injected rename failure")
	}
	return f.FS.Rename(oldpath, newpath)
}

type mfile struct {
	url     string
	relpath string
	content []byte
	sig     string // optional override; defaults to the content's signature
}

type env struct {
	t       *testing.T
	cfg     *config.Config
	fetcher *fakeFetcher
}

func newEnv(t *testing.T) *env {
	t.Helper()

	cfg := config.Default()
	cfg.AppDir = t.TempDir()
	cfg.AppDataDir = t.TempDir()
	cfg.PublicKey = cryptotest.Key().PublicKeyB64()
	cfg.UpdateURL = "http://updates.test/v.txt"
	cfg.EmergencyUpdateURL = "http://updates.test/ev.txt"

	e := &env{t: t, cfg: cfg, fetcher: newFakeFetcher()}
	e.writeVersionFile("30")
	return e
}

func (e *env) writeVersionFile(v string) {
	require.NoError(e.t, os.WriteFile(filepath.Join(e.cfg.AppDataDir, config.VersionFileName), []byte(v+"\n"), 0o644))
}

func (e *env) readVersionFile() string {
	data, err := os.ReadFile(filepath.Join(e.cfg.AppDataDir, config.VersionFileName))
	require.NoError(e.t, err)
	return strings.TrimSpace(string(data))
}

// serveManifest signs and serves a manifest for the given files at the
// configured update URL, and serves each file body at its URL.
func (e *env) serveManifest(at, version string, files []mfile) {
	k := cryptotest.Key()

	signed := [][]byte{[]byte(version)}
	var body strings.Builder
	for _, f := range files {
		sig := f.sig
		if sig == "" {
			sig = k.Sign(f.content)
		}
		signed = append(signed, []byte(f.url), []byte(f.relpath), []byte(sig))
		body.WriteString(f.url + "\n" + f.relpath + "\n" + sig + "\n")
		e.fetcher.files[f.url] = f.content
	}

	doc := version + "\n" + k.Sign(signed...) + "\n" + body.String()
	e.fetcher.files[at] = []byte(doc)
}

// tamperManifest flips one character of the manifest signature line.
func (e *env) tamperManifest() {
	doc := string(e.fetcher.files[e.cfg.UpdateURL])
	lines := strings.SplitN(doc, "\n", 3)
	sig := []byte(lines[1])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	e.fetcher.files[e.cfg.UpdateURL] = []byte(lines[0] + "\n" + string(sig) + "\n" + lines[2])
}

func (e *env) installFile(rel string, content []byte) {
	path := filepath.Join(e.cfg.AppDir, rel)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, content, 0o755))
}

func (e *env) installedContent(rel string) []byte {
	data, err := os.ReadFile(filepath.Join(e.cfg.AppDir, rel))
	require.NoError(e.t, err)
	return data
}

// snapshot captures the full app dir as rel path -> content.
func (e *env) snapshot() map[string]string {
	out := map[string]string{}
	err := filepath.Walk(e.cfg.AppDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}
		rel, _ := filepath.Rel(e.cfg.AppDir, path)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(e.t, err)
	return out
}

func (e *env) newTask(fs fsops.FS, journal *history.DB) *Task {
	if fs == nil {
		fs = fsops.NewOS()
	}
	task, err := New(e.cfg, fs, e.fetcher, journal, observability.NewNopLogger())
	require.NoError(e.t, err)
	return task
}

func TestRunHappyPath(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))

	payload := bytes.Repeat([]byte{0xAB}, 1024)
	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: payload},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.True(t, installed)
	assert.Equal(t, StateFinalized, task.State())

	assert.Equal(t, payload, e.installedContent("mega-cmd"))
	assert.Equal(t, "31", e.readVersionFile())

	if runtime.GOOS != "windows" {
		info, err := os.Stat(filepath.Join(e.cfg.AppDir, "mega-cmd"))
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	}

	assert.NoDirExists(t, filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName))
	assert.NoDirExists(t, filepath.Join(e.cfg.AppDataDir, config.BackupFolderName))
}

func TestRunUpToDate(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("current"))
	before := e.snapshot()

	e.serveManifest(e.cfg.UpdateURL, "30", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("whatever")},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, StateUpToDate, task.State())

	assert.Equal(t, before, e.snapshot())
	assert.Equal(t, "30", e.readVersionFile())
	assert.False(t, e.fetcher.called("http://updates.test/files/mega-cmd"))
}

func TestRunAllFilesAlreadyInstalled(t *testing.T) {
	e := newEnv(t)
	current := []byte("already current")
	e.installFile("mega-cmd", current)

	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: current},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, StateUpToDate, task.State())
	assert.Equal(t, "30", e.readVersionFile())
}

func TestRunCorruptDownload(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))
	before := e.snapshot()

	// The manifest claims a signature for different bytes than the server
	// returns.
	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{
			url:     "http://updates.test/files/mega-cmd",
			relpath: "mega-cmd",
			content: []byte("delivered bytes"),
			sig:     cryptotest.Key().Sign([]byte("promised bytes")),
		},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	assert.ErrorIs(t, err, ErrDownloadCorrupt)
	assert.False(t, installed)
	assert.Equal(t, StateFailed, task.State())

	assert.Equal(t, before, e.snapshot())
	assert.Equal(t, "30", e.readVersionFile())
}

func TestRunTamperedManifest(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))
	before := e.snapshot()

	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("new binary")},
	})
	e.tamperManifest()

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	assert.ErrorIs(t, err, manifest.ErrSignatureInvalid)
	assert.False(t, installed)

	assert.Equal(t, before, e.snapshot())
	assert.False(t, e.fetcher.called("http://updates.test/files/mega-cmd"),
		"no file downloads after a manifest signature failure")
}

func TestRunDeletionEntry(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-obsolete", []byte("remove me"))
	e.installFile("mega-cmd", []byte("old binary"))

	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-obsolete", relpath: "mega-obsolete", content: nil},
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("new binary")},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.True(t, installed)

	assert.NoFileExists(t, filepath.Join(e.cfg.AppDir, "mega-obsolete"))
	assert.Equal(t, []byte("new binary"), e.installedContent("mega-cmd"))
	assert.Equal(t, "31", e.readVersionFile())
}

func TestRunRollbackOnCommitFailure(t *testing.T) {
	e := newEnv(t)
	e.installFile(filepath.Join("bin", "mega-cmd"), []byte("old a"))
	e.installFile(filepath.Join("bin", "mega-exec"), []byte("old b"))
	before := e.snapshot()

	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/a", relpath: "bin/mega-cmd", content: []byte("new a")},
		{url: "http://updates.test/files/b", relpath: "bin/mega-exec", content: []byte("new b")},
	})

	// Fail the install rename of the second entry.
	target := filepath.Join(e.cfg.AppDir, "bin", "mega-exec")
	staging := filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName)
	fs := &faultFS{
		FS: fsops.NewOS(),
		failRename: func(oldpath, newpath string) bool {
			return newpath == target && strings.HasPrefix(oldpath, staging)
		},
	}

	task := e.newTask(fs, nil)
	installed, err := task.Run(context.Background(), false, false)
	assert.ErrorIs(t, err, ErrCommitFailed)
	assert.False(t, installed)
	assert.Equal(t, StateFailed, task.State())

	assert.Equal(t, before, e.snapshot(), "rollback must restore the exact pre-run tree")
	assert.Equal(t, "30", e.readVersionFile())
}

func TestRunRollbackAtEveryIndex(t *testing.T) {
	// Rollback fidelity must hold wherever the commit breaks.
	for k := 0; k < 3; k++ {
		t.Run(fmt.Sprintf("fail at %d", k), func(t *testing.T) {
			e := newEnv(t)
			rels := []string{"mega-one", "mega-two", "mega-three"}
			for _, rel := range rels {
				e.installFile(rel, []byte("old "+rel))
			}
			before := e.snapshot()

			files := make([]mfile, len(rels))
			for i, rel := range rels {
				files[i] = mfile{
					url:     "http://updates.test/files/" + rel,
					relpath: rel,
					content: []byte("new " + rel),
				}
			}
			e.serveManifest(e.cfg.UpdateURL, "31", files)

			target := filepath.Join(e.cfg.AppDir, rels[k])
			staging := filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName)
			fs := &faultFS{
				FS: fsops.NewOS(),
				failRename: func(oldpath, newpath string) bool {
					return newpath == target && strings.HasPrefix(oldpath, staging)
				},
			}

			task := e.newTask(fs, nil)
			_, err := task.Run(context.Background(), false, false)
			assert.ErrorIs(t, err, ErrCommitFailed)
			assert.Equal(t, before, e.snapshot())
		})
	}
}

func TestRunDryRunStagesOnly(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))
	before := e.snapshot()

	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("new binary")},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, true)
	require.NoError(t, err)
	assert.True(t, installed, "a fully staged dry run reports success")

	assert.Equal(t, before, e.snapshot(), "dry run must not touch the installation")
	assert.Equal(t, "30", e.readVersionFile())

	staged, err := os.ReadFile(filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName, "mega-cmd"))
	require.NoError(t, err)
	assert.Equal(t, []byte("new binary"), staged)
}

func TestRunIdempotent(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))

	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("new binary")},
	})

	first := e.newTask(nil, nil)
	installed, err := first.Run(context.Background(), false, false)
	require.NoError(t, err)
	require.True(t, installed)
	after := e.snapshot()

	second := e.newTask(nil, nil)
	installed, err = second.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.False(t, installed)
	assert.Equal(t, StateUpToDate, second.State())

	assert.Equal(t, after, e.snapshot())
	assert.NoDirExists(t, filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName))
	assert.NoDirExists(t, filepath.Join(e.cfg.AppDataDir, config.BackupFolderName))
}

func TestRunSkipsAlreadyStagedFile(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))

	payload := []byte("new binary")
	fileURL := "http://updates.test/files/mega-cmd"
	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: fileURL, relpath: "mega-cmd", content: payload},
	})

	// Pre-stage the exact payload, then make its URL unreachable: the run
	// must succeed without refetching.
	stagingDir := filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName)
	require.NoError(t, os.MkdirAll(stagingDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stagingDir, "mega-cmd"), payload, 0o644))
	e.fetcher.fail[fileURL] = true

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.True(t, installed)
	assert.False(t, e.fetcher.called(fileURL))
	assert.Equal(t, payload, e.installedContent("mega-cmd"))
}

func TestRunManifestFetchFailure(t *testing.T) {
	e := newEnv(t)
	e.fetcher.fail[e.cfg.UpdateURL] = true

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	assert.ErrorIs(t, err, ErrManifestFetch)
	assert.False(t, installed)
	assert.Equal(t, StateFailed, task.State())
}

func TestRunEmergencyManifestURL(t *testing.T) {
	e := newEnv(t)
	e.serveManifest(e.cfg.EmergencyUpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("hotfix")},
	})

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), true, false)
	require.NoError(t, err)
	assert.True(t, installed)
	assert.True(t, e.fetcher.called(e.cfg.EmergencyUpdateURL))
	assert.False(t, e.fetcher.called(e.cfg.UpdateURL))
}

func TestRunMissingVersionFile(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Remove(filepath.Join(e.cfg.AppDataDir, config.VersionFileName)))

	task := e.newTask(nil, nil)
	installed, err := task.Run(context.Background(), false, false)
	assert.Error(t, err)
	assert.False(t, installed)
	assert.Empty(t, e.fetcher.calls, "no network traffic without a readable installed version")
}

func TestRunWarnsAboutStaleLedger(t *testing.T) {
	e := newEnv(t)
	e.serveManifest(e.cfg.UpdateURL, "30", nil) // up to date; the warning is what we care about

	fs := fsops.NewOS()
	stagingDir := filepath.Join(e.cfg.AppDataDir, config.UpdateFolderName)
	require.NoError(t, os.MkdirAll(stagingDir, 0o755))
	require.NoError(t, writeLedger(fs, filepath.Join(stagingDir, ledgerFileName), commitLedger{
		RunID:   "dead-run",
		Version: 31,
		Paths:   []string{"mega-cmd"},
	}))

	var buf bytes.Buffer
	task, err := New(e.cfg, fs, e.fetcher, nil, observability.NewTestLogger(&buf))
	require.NoError(t, err)

	_, err = task.Run(context.Background(), false, false)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "interrupted")
	assert.Contains(t, buf.String(), "dead-run")
}

func TestRunRecordsJournal(t *testing.T) {
	e := newEnv(t)
	e.installFile("mega-cmd", []byte("old binary"))
	e.serveManifest(e.cfg.UpdateURL, "31", []mfile{
		{url: "http://updates.test/files/mega-cmd", relpath: "mega-cmd", content: []byte("new binary")},
	})

	journal, err := history.Open(filepath.Join(t.TempDir(), "runs.db"), observability.NewNopLogger())
	require.NoError(t, err)
	defer journal.Close()

	task := e.newTask(nil, journal)
	installed, err := task.Run(context.Background(), false, false)
	require.NoError(t, err)
	require.True(t, installed)

	runs, err := journal.Recent(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 30, runs[0].FromVersion)
	assert.EqualValues(t, 31, runs[0].ToVersion.Int64)
	assert.Equal(t, string(history.OutcomeInstalled), runs[0].Outcome.String)
}
