// Package audit records one row per roundtrip session outcome in a local
// SQLite database, so operators can answer "who rewrote this page and when"
// after the fact.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Schema for the roundtrip_sessions table. Applied by Open.
const Schema = `
CREATE TABLE IF NOT EXISTS roundtrip_sessions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	document_id TEXT NOT NULL,
	action TEXT NOT NULL,
	state TEXT NOT NULL,
	mode TEXT NOT NULL DEFAULT '',
	changes INTEGER NOT NULL DEFAULT 0,
	new_version INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT NOT NULL DEFAULT '',
	detail TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_roundtrip_sessions_doc ON roundtrip_sessions(document_id, created_at);
`

// Entry is one audit row.
type Entry struct {
	SessionID  string    `json:"session_id"`
	DocumentID string    `json:"document_id"`
	Action     string    `json:"action"`
	State      string    `json:"state"`
	Mode       string    `json:"mode,omitempty"`
	Changes    int       `json:"changes"`
	NewVersion int       `json:"new_version,omitempty"`
	ErrorKind  string    `json:"error_kind,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Log is a SQLite-backed audit trail. Writes are synchronous; the volume is
// one row per session step, not per request.
type Log struct {
	db *sql.DB
}

// Open opens (or creates) the audit database at path and applies the schema.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	l := &Log{db: db}
	if err := l.Init(); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

// Init creates the roundtrip_sessions table if it doesn't exist.
func (l *Log) Init() error {
	if _, err := l.db.Exec(Schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}

// Record inserts one entry. A zero CreatedAt is filled with the current time.
func (l *Log) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO roundtrip_sessions
		 (session_id, document_id, action, state, mode, changes, new_version, error_kind, detail, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SessionID, e.DocumentID, e.Action, e.State, e.Mode,
		e.Changes, e.NewVersion, e.ErrorKind, e.Detail, e.CreatedAt.UnixMicro())
	if err != nil {
		return fmt.Errorf("record audit entry: %w", err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, document_id, action, state, mode, changes, new_version, error_kind, detail, created_at
		 FROM roundtrip_sessions ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var createdAt int64
		if err := rows.Scan(&e.SessionID, &e.DocumentID, &e.Action, &e.State, &e.Mode,
			&e.Changes, &e.NewVersion, &e.ErrorKind, &e.Detail, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.CreatedAt = time.UnixMicro(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}
