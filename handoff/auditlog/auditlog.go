// Package auditlog implements a SQLite-backed handoff.AuditLog: a bounded
// ledger of terminal handoff outcomes, queryable through Recent and
// ForHandoff. The store is intentionally simple — one append-only
// table, oldest rows reaped past a configurable cap.
package auditlog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pairdev/orchestrator-core/handoff"
)

// DefaultMaxRows bounds the ledger size when Options does not override it.
const DefaultMaxRows = 10_000

// Record is one row of the ledger, as returned by Recent.
type Record struct {
	HandoffID  string
	FinalState string
	Result     string
	RecordedAt time.Time
}

// Options configures a Log.
type Options struct {
	// Path is the sqlite database path. Use ":memory:" for an in-process,
	// non-persisted ledger (the default for tests and for CLI runs with no
	// --audit-db flag).
	Path    string
	MaxRows int
}

// Log is a sqlite-backed handoff.AuditLog.
type Log struct {
	db      *sql.DB
	maxRows int
}

var _ handoff.AuditLog = (*Log)(nil)

// Open creates or attaches to the ledger database at opts.Path and ensures
// its schema exists.
func Open(opts Options) (*Log, error) {
	path := opts.Path
	if path == "" {
		path = ":memory:"
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = DefaultMaxRows
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	l := &Log{db: db, maxRows: maxRows}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate audit log: %w", err)
	}
	return l, nil
}

// Close closes the underlying database connection.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) migrate() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS handoff_outcomes (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			handoff_id  TEXT NOT NULL,
			final_state TEXT NOT NULL,
			result_json TEXT NOT NULL,
			recorded_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_handoff_outcomes_handoff_id
			ON handoff_outcomes (handoff_id);
	`)
	return err
}

// RecordOutcome appends outcome to the ledger and reaps the oldest rows past
// maxRows. It satisfies handoff.AuditLog.
func (l *Log) RecordOutcome(ctx context.Context, outcome handoff.Outcome) error {
	resultJSON, err := json.Marshal(outcome.Result)
	if err != nil {
		resultJSON = []byte(`"<unserializable result>"`)
	}

	_, err = l.db.ExecContext(ctx,
		`INSERT INTO handoff_outcomes (handoff_id, final_state, result_json, recorded_at)
		 VALUES (?, ?, ?, ?)`,
		outcome.HandoffID, string(outcome.FinalState), string(resultJSON), time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("record handoff outcome: %w", err)
	}

	_, err = l.db.ExecContext(ctx, `
		DELETE FROM handoff_outcomes WHERE id IN (
			SELECT id FROM handoff_outcomes ORDER BY id DESC LIMIT -1 OFFSET ?
		)`, l.maxRows)
	if err != nil {
		return fmt.Errorf("reap handoff outcomes: %w", err)
	}
	return nil
}

// Recent returns up to limit most-recent ledger rows, newest first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT handoff_id, final_state, result_json, recorded_at
		 FROM handoff_outcomes ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent outcomes: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var recordedAt string
		if err := rows.Scan(&r.HandoffID, &r.FinalState, &r.Result, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan recent outcomes: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}

// ForHandoff returns every ledger row recorded for handoffID, oldest first.
func (l *Log) ForHandoff(ctx context.Context, handoffID string) ([]Record, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT handoff_id, final_state, result_json, recorded_at
		 FROM handoff_outcomes WHERE handoff_id = ? ORDER BY id ASC`, handoffID)
	if err != nil {
		return nil, fmt.Errorf("query outcomes for handoff: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var r Record
		var recordedAt string
		if err := rows.Scan(&r.HandoffID, &r.FinalState, &r.Result, &recordedAt); err != nil {
			return nil, fmt.Errorf("scan outcomes for handoff: %w", err)
		}
		r.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
		records = append(records, r)
	}
	return records, rows.Err()
}
