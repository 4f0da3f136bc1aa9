// Package history keeps a local journal of updater runs in SQLite. The
// journal is diagnostic only: it must never block or fail an update, so
// callers log journal errors at WARN and carry on. A nil *DB disables
// journaling entirely.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// Outcome classifies how a run ended.
type Outcome string

const (
	OutcomeInstalled Outcome = "installed"
	OutcomeUpToDate  Outcome = "up-to-date"
	OutcomeStaged    Outcome = "staged"
	OutcomeFailed    Outcome = "failed"
)

// Run is one journal row.
type Run struct {
	RunID       string
	StartedAt   time.Time
	FinishedAt  sql.NullTime
	FromVersion int
	ToVersion   sql.NullInt64
	Outcome     sql.NullString
	Detail      sql.NullString
}

// DB wraps the journal database.
type DB struct {
	conn   *sql.DB
	logger zerolog.Logger
}

const schema = `
	CREATE TABLE IF NOT EXISTS update_runs (
		run_id       TEXT PRIMARY KEY,
		started_at   DATETIME NOT NULL,
		finished_at  DATETIME,
		from_version INTEGER NOT NULL,
		to_version   INTEGER,
		outcome      TEXT,
		detail       TEXT
	)
`

// Open opens (or creates) the journal at path and ensures the schema.
func Open(path string, logger zerolog.Logger) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("history: create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?mode=rwc&_pragma=busy_timeout(5000)", path)
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open journal: %w", err)
	}

	// Single-writer local file; one connection is all we want.
	conn.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ping journal: %w", err)
	}
	if _, err := conn.ExecContext(ctx, schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("history: ensure schema: %w", err)
	}

	db := &DB{
		conn:   conn,
		logger: logger.With().Str("component", "history").Logger(),
	}
	db.logger.Debug().Str("path", path).Msg("update journal opened")
	return db, nil
}

// Begin records the start of a run.
func (h *DB) Begin(ctx context.Context, runID string, fromVersion int) error {
	if h == nil {
		return nil
	}
	_, err := h.conn.ExecContext(ctx,
		"INSERT INTO update_runs (run_id, started_at, from_version) VALUES (?, ?, ?)",
		runID, time.Now().UTC(), fromVersion,
	)
	if err != nil {
		return fmt.Errorf("history: record run start: %w", err)
	}
	return nil
}

// Finish records how a run ended. toVersion may be zero when no target
// version was ever established (fetch or parse failures).
func (h *DB) Finish(ctx context.Context, runID string, toVersion int, outcome Outcome, detail string) error {
	if h == nil {
		return nil
	}
	_, err := h.conn.ExecContext(ctx,
		"UPDATE update_runs SET finished_at = ?, to_version = ?, outcome = ?, detail = ? WHERE run_id = ?",
		time.Now().UTC(), toVersion, string(outcome), detail, runID,
	)
	if err != nil {
		return fmt.Errorf("history: record run end: %w", err)
	}
	return nil
}

// Recent returns up to n journal rows, newest first.
func (h *DB) Recent(ctx context.Context, n int) ([]Run, error) {
	if h == nil {
		return nil, nil
	}
	rows, err := h.conn.QueryContext(ctx,
		"SELECT run_id, started_at, finished_at, from_version, to_version, outcome, detail FROM update_runs ORDER BY started_at DESC LIMIT ?",
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("history: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.StartedAt, &r.FinishedAt, &r.FromVersion, &r.ToVersion, &r.Outcome, &r.Detail); err != nil {
			return nil, fmt.Errorf("history: scan run: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: iterate runs: %w", err)
	}
	return runs, nil
}

// Close closes the journal.
func (h *DB) Close() error {
	if h == nil {
		return nil
	}
	return h.conn.Close()
}
