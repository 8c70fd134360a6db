// Package activitylog persists a read-only history of session lifecycle
// events to SQLite. It is an observability side-channel only: nothing in
// the registry ever reads this history back, and losing the database file
// must never affect session recovery.
package activitylog

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Event names recorded for a session's lifecycle, mirroring the transitions
// Registry.Lifecycle drives a session entry through.
const (
	EventCreated         = "created"
	EventReady           = "ready"
	EventDisconnected    = "disconnected"
	EventReconnected     = "reconnected"
	EventClosed          = "closed"
	EventRenamed         = "renamed"
	EventDiscoveryAdopt  = "discovery-adopt"
	EventDiscoveryKilled = "discovery-kill"
)

// Entry is one row of recorded history.
type Entry struct {
	ID         int64
	SessionID  string
	Event      string
	Level      string
	Message    string
	OccurredAt time.Time
}

// Log is a SQLite-backed append-only session event history.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite database at dsn and applies
// any pending migrations.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("activitylog: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitylog: set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitylog: enable foreign keys: %w", err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("activitylog: migrate: %w", err)
	}
	return l, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	return l.db.Close()
}

func (l *Log) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}

		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// Record appends one lifecycle event. Failures are the caller's to decide
// how to handle; activitylog never blocks or fails session operations on
// its own account, so callers should log-and-continue rather than propagate.
func (l *Log) Record(ctx context.Context, sessionID, event, level, message string, occurredAt time.Time) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event, level, message, occurred_at) VALUES (?, ?, ?, ?, ?)`,
		sessionID, event, level, message, occurredAt.UTC())
	if err != nil {
		return fmt.Errorf("activitylog: record event: %w", err)
	}
	return nil
}

// ForSession returns every recorded event for sessionID in chronological
// order, for the operator-facing history view. This is a one-way read path:
// display only, never reloaded into the registry.
func (l *Log) ForSession(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, event, level, message, occurred_at FROM session_events WHERE session_id = ? ORDER BY occurred_at ASC, id ASC`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("activitylog: query session history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the most recent limit events across all sessions, newest
// first, for an operator-facing activity feed.
func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, session_id, event, level, message, occurred_at FROM session_events ORDER BY occurred_at DESC, id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, fmt.Errorf("activitylog: query recent history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var occurredAt string
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Event, &e.Level, &e.Message, &occurredAt); err != nil {
			return nil, fmt.Errorf("activitylog: scan event row: %w", err)
		}
		ts, err := time.Parse("2006-01-02 15:04:05.999999999-07:00", occurredAt)
		if err != nil {
			ts, err = time.Parse(time.RFC3339Nano, occurredAt)
		}
		if err == nil {
			e.OccurredAt = ts
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
