// Package history implements an append-only audit log of workflow events,
// backed by SQLite. The control loop, issue processor, automerger, and
// cleaner append to it; the digest job and dashboard only ever read from
// it. A history-store failure is logged and swallowed by every writer —
// it never changes workflow behavior.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Event is one recorded transition or outcome.
type Event struct {
	ID        int64
	Timestamp time.Time
	Repo      string
	Issue     int
	Kind      string // "phase_transition" | "phase_transition_error" | "phase_exec_error" | "merge" | "merge_failed" | "cleanup" | "anomaly"
	FromLabel string
	ToLabel   string
	Detail    string
}

// Store wraps a SQLite database holding the events table.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path and ensures
// the events table exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			repo TEXT NOT NULL,
			issue INTEGER NOT NULL,
			kind TEXT NOT NULL,
			from_label TEXT NOT NULL DEFAULT '',
			to_label TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: create table: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// Append inserts one event. Events are never updated or deleted — the
// record is append-only by construction, not by convention.
func (s *Store) Append(ctx context.Context, e Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (timestamp, repo, issue, kind, from_label, to_label, detail) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.Timestamp.Unix(), e.Repo, e.Issue, e.Kind, e.FromLabel, e.ToLabel, e.Detail)
	if err != nil {
		return fmt.Errorf("history: append: %w", err)
	}
	return nil
}

// Query returns events for repo since a given time, in insertion order (by
// row id, not by timestamp).
func (s *Store) Query(ctx context.Context, repo string, since time.Time) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, repo, issue, kind, from_label, to_label, detail FROM events WHERE repo = ? AND timestamp >= ? ORDER BY id ASC`,
		repo, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []Event
	for rows.Next() {
		var e Event
		var ts int64
		if err := rows.Scan(&e.ID, &ts, &e.Repo, &e.Issue, &e.Kind, &e.FromLabel, &e.ToLabel, &e.Detail); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0).UTC()
		events = append(events, e)
	}
	return events, rows.Err()
}
