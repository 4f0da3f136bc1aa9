// Package manifest parses the line-oriented update manifest and
// authenticates it against the embedded public key. Every field of every
// entry is fed into the manifest signature, including entries that are
// skipped because they are already installed, so the signature covers the
// document, not just the pending work.
package manifest

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/meganz/megacmd-updater/internal/fsops"
	"github.com/meganz/megacmd-updater/pkg/crypto"
)

// Entry is one (url, relative path, per-file signature) triple. Path is
// already translated to host separators.
type Entry struct {
	URL       string
	Path      string
	Signature string
}

// Result is a successfully authenticated manifest reduced to the work that
// still needs doing.
type Result struct {
	Version int
	Work    []Entry
}

var (
	// ErrMalformed means a required field was empty or unparseable.
	ErrMalformed = errors.New("manifest: malformed manifest")

	// ErrSignatureInvalid means the manifest failed RSA verification.
	ErrSignatureInvalid = errors.New("manifest: invalid manifest signature")

	// ErrNoUpdate means the installation is current. Not a hard failure.
	ErrNoUpdate = errors.New("manifest: no update needed")
)

// Processor authenticates manifests and filters already-installed entries.
type Processor struct {
	key    *crypto.PublicKey
	fs     fsops.FS
	appDir string
	logger zerolog.Logger
}

// NewProcessor creates a manifest processor for the installation at appDir.
func NewProcessor(key *crypto.PublicKey, fs fsops.FS, appDir string, logger zerolog.Logger) *Processor {
	return &Processor{
		key:    key,
		fs:     fs,
		appDir: appDir,
		logger: logger.With().Str("component", "manifest").Logger(),
	}
}

// Process reads a downloaded manifest and returns the target version plus
// the entries to fetch. It returns ErrNoUpdate when the advertised version
// is not newer than installedVersion or when every entry is already
// installed, ErrMalformed on structural problems, and ErrSignatureInvalid
// when the document does not verify.
func (p *Processor) Process(r io.Reader, installedVersion int) (*Result, error) {
	br := bufio.NewReader(r)

	versionLine := readLine(br)
	if versionLine == "" {
		return nil, fmt.Errorf("%w: empty version line", ErrMalformed)
	}

	manifestSig := readLine(br)
	if manifestSig == "" {
		return nil, fmt.Errorf("%w: empty manifest signature", ErrMalformed)
	}

	version, err := strconv.Atoi(versionLine)
	if err != nil {
		return nil, fmt.Errorf("%w: version %q is not an integer", ErrMalformed, versionLine)
	}

	if version <= installedVersion {
		p.logger.Info().
			Int("latest", version).
			Int("current", installedVersion).
			Msg("update not needed")
		return nil, fmt.Errorf("%w: latest version %d, installed version %d", ErrNoUpdate, version, installedVersion)
	}
	p.logger.Info().Int("latest", version).Int("current", installedVersion).Msg("update needed")

	verifier := crypto.NewVerifier(p.key)
	verifier.Init()
	verifier.Add([]byte(versionLine))

	var work []Entry
	for {
		url := readLine(br)
		if url == "" {
			break
		}

		path := readLine(br)
		if path == "" {
			return nil, fmt.Errorf("%w: empty path for %s", ErrMalformed, url)
		}

		sig := readLine(br)
		if sig == "" {
			return nil, fmt.Errorf("%w: empty file signature for %s", ErrMalformed, url)
		}

		// The signature covers the manifest form of the path, before
		// separator translation.
		verifier.Add([]byte(url))
		verifier.Add([]byte(path))
		verifier.Add([]byte(sig))

		native := filepath.FromSlash(path)
		if FileMatchesSignature(p.fs, p.key, filepath.Join(p.appDir, native), sig) {
			p.logger.Info().Str("path", native).Msg("file already installed")
			continue
		}

		work = append(work, Entry{URL: url, Path: native, Signature: sig})
	}

	if !verifier.Verify(manifestSig) {
		return nil, ErrSignatureInvalid
	}

	if len(work) == 0 {
		p.logger.Info().Msg("all files are up to date")
		return nil, fmt.Errorf("%w: all files are up to date", ErrNoUpdate)
	}

	return &Result{Version: version, Work: work}, nil
}

// FileMatchesSignature reads the whole file at path and reports whether it
// verifies against sig under key. A missing or unreadable file simply does
// not match.
func FileMatchesSignature(fs fsops.FS, key *crypto.PublicKey, path, sig string) bool {
	data, err := fs.ReadFile(path)
	if err != nil {
		return false
	}

	v := crypto.NewVerifier(key)
	v.Init()
	v.Add(data)
	return v.Verify(sig)
}

// readLine returns the next line without its trailing newline. EOF and
// empty lines are both reported as ""; the wire format never contains an
// empty field on a live line, so the two collapse.
func readLine(r *bufio.Reader) string {
	line, err := r.ReadString('\n')
	if err != nil && line == "" {
		return ""
	}
	if i := strings.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}
	return line
}
