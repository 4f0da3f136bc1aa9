package updater

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/meganz/megacmd-updater/internal/fsops"
)

const ledgerFileName = ".ledger"

// commitLedger is written just before the commit phase starts mutating the
// installation and removed once the run finishes cleanly. A leftover ledger
// on the next start therefore means a previous run died inside its commit
// window, the one situation the recovery policy cannot repair, so it is at
// least made visible.
type commitLedger struct {
	RunID   string   `msgpack:"run_id"`
	Version int      `msgpack:"version"`
	Paths   []string `msgpack:"paths"`
}

func writeLedger(fs fsops.FS, path string, l commitLedger) error {
	data, err := msgpack.Marshal(&l)
	if err != nil {
		return fmt.Errorf("updater: encode commit ledger: %w", err)
	}
	if err := fs.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("updater: write commit ledger: %w", err)
	}
	return nil
}

func readLedger(fs fsops.FS, path string) (*commitLedger, error) {
	data, err := fs.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var l commitLedger
	if err := msgpack.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("updater: decode commit ledger: %w", err)
	}
	return &l, nil
}
