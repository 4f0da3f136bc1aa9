// Command megacmd-updater checks the MEGAcmd update endpoint, stages and
// verifies any newer release, and atomically swaps it into the live
// installation with rollback on failure.
//
// The exit code convention is inverted and deliberate: 1 after a successful
// install (or a fully staged --do-not-install run), 0 otherwise. Downstream
// tooling depends on it.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meganz/megacmd-updater/internal/config"
	"github.com/meganz/megacmd-updater/internal/fsops"
	"github.com/meganz/megacmd-updater/internal/history"
	"github.com/meganz/megacmd-updater/internal/lock"
	"github.com/meganz/megacmd-updater/internal/observability"
	"github.com/meganz/megacmd-updater/internal/transport"
	"github.com/meganz/megacmd-updater/internal/updater"
	"github.com/meganz/megacmd-updater/pkg/version"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	var (
		doNotInstall  bool
		emergency     bool
		skipLockCheck bool
	)

	installed := false

	root := &cobra.Command{
		Use:     "megacmd-updater",
		Short:   "Self-update agent for the MEGAcmd bundle",
		Version: version.Get().String(),
		Long: `megacmd-updater contacts the MEGA update endpoint, verifies the
advertised release against the embedded public key, stages it on disk and
swaps it into the installation, rolling back if anything fails.

Exit code is 1 after a successful install and 0 otherwise.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			installed = execute(doNotInstall, emergency, skipLockCheck)
			return nil
		},
	}

	flags := root.Flags()
	flags.BoolVar(&doNotInstall, "do-not-install", false, "download and stage the update without installing it")
	flags.BoolVar(&emergency, "emergency-update", false, "use the emergency manifest URL")
	flags.BoolVar(&skipLockCheck, "skip-lock-check", false, "run even if another updater instance holds the lock (NOT RECOMMENDED)")

	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		return 0
	}
	if installed {
		return 1
	}
	return 0
}

func execute(doNotInstall, emergency, skipLockCheck bool) bool {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		return false
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:   cfg.LogLevel(),
		Format:  cfg.Logging.Format,
		Service: "megacmd-updater",
		Version: version.Version,
	})
	logger.Info().Str("platform", version.Platform).Msg("starting MEGAcmd updater")

	handle, err := lock.Acquire(executableDir())
	if err != nil {
		if !skipLockCheck {
			if errors.Is(err, lock.ErrHeld) {
				logger.Error().Msg("another instance of the MEGAcmd updater is running; use --skip-lock-check to force running (NOT RECOMMENDED)")
			} else {
				logger.Error().Err(err).Msg("could not acquire single-instance lock")
			}
			return false
		}
		logger.Warn().Err(err).Msg("proceeding without the single-instance lock")
	}
	defer handle.Release()

	journal := openJournal(cfg, logger)
	defer journal.Close()

	fetcher := transport.NewHTTPClient(cfg.HTTPTimeout, logger)
	task, err := updater.New(cfg, fsops.NewOS(), fetcher, journal, logger)
	if err != nil {
		logger.Error().Err(err).Msg("could not initialize update transaction")
		return false
	}

	installed, err := task.Run(context.Background(), emergency, doNotInstall)
	if err != nil {
		logger.Error().Err(err).Msg("update failed")
	}
	return installed
}

// openJournal opens the run journal; journaling is best-effort and a
// failure only costs the record, never the update.
func openJournal(cfg *config.Config, logger zerolog.Logger) *history.DB {
	if !cfg.HistoryEnabled {
		return nil
	}

	layout := updater.Layout{AppDir: cfg.AppDir, AppDataDir: cfg.AppDataDir}
	journal, err := history.Open(layout.HistoryFile(), logger)
	if err != nil {
		logger.Warn().Err(err).Msg("update journal unavailable")
		return nil
	}
	return journal
}

func executableDir() string {
	exe, err := os.Executable()
	if err != nil {
		return "."
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe)
}
