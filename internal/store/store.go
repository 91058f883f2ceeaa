// Package store provides the embedded local database for dialog.
//
// The database holds two logically isolated namespaces:
//
//   - events: the encrypted note events, the only table reachable by
//     filter-driven queries (and therefore the only data that can ever feed
//     outbound sync traffic)
//   - overlay: local-only per-note flags (read/synced) that never leave the
//     device; no filter query can touch this table
//
// The database runs in embedded mode with WAL for concurrent reads. The
// database file lives at <data_dir>/<pubkey>/dialog.db so identities are
// fully isolated from one another.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/futurepaul/dialog-final-v2/internal/note"
)

// ErrLocalWrite wraps failures to durably persist an event. This is the only
// error class that is fatal to the triggering command.
var ErrLocalWrite = errors.New("local write failed")

// DB wraps the embedded SQLite connection.
type DB struct {
	conn *sql.DB
	path string
}

// DataPath returns the database file location for an identity.
func DataPath(root, pubkey string) string {
	return filepath.Join(root, pubkey, "dialog.db")
}

// Open creates a database connection at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// the schema is created if missing. The caller must Close() when done.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.conn.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	if err := db.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return db, nil
}

// Close closes the database connection after checkpointing the WAL.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	db.conn = nil
	return nil
}

// Path returns the database file location.
func (db *DB) Path() string {
	return db.path
}

// Destroy removes the entire per-identity data directory. Used by the purge
// command; there is no undo.
func Destroy(root, pubkey string) error {
	dir := filepath.Join(root, pubkey)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove data directory: %w", err)
	}
	return nil
}

// initSchema creates the events and overlay tables. Idempotent.
//
// The two tables are intentionally unrelated: nothing joins them, and the
// filter query below only ever reads events. That separation is what makes
// the overlay non-leakage invariant structural rather than conventional.
func (db *DB) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		pubkey TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		kind INTEGER NOT NULL,
		tags TEXT NOT NULL,  -- JSON array of pairs
		content TEXT NOT NULL,
		sig TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_author_kind
	    ON events(pubkey, kind, created_at);
	CREATE INDEX IF NOT EXISTS idx_events_created ON events(created_at);

	-- Local-only namespace. Never queried by filters, never synced.
	CREATE TABLE IF NOT EXISTS overlay (
		event_id TEXT PRIMARY KEY,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_synced INTEGER NOT NULL DEFAULT 0
	);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// SaveEvent durably inserts or replaces an event by id.
//
// Failures are wrapped with ErrLocalWrite so callers can classify them as
// fatal to the triggering command.
func (db *DB) SaveEvent(ctx context.Context, ev *note.Event) error {
	if err := ev.Validate(); err != nil {
		return fmt.Errorf("%w: invalid event: %v", ErrLocalWrite, err)
	}

	tagsJSON, err := json.Marshal(ev.Tags)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal tags: %v", ErrLocalWrite, err)
	}

	query := `
	INSERT INTO events (id, pubkey, created_at, kind, tags, content, sig)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		pubkey = excluded.pubkey,
		created_at = excluded.created_at,
		kind = excluded.kind,
		tags = excluded.tags,
		content = excluded.content,
		sig = excluded.sig
	`

	if _, err := db.conn.ExecContext(ctx, query,
		ev.ID, ev.PubKey, ev.CreatedAt, ev.Kind, string(tagsJSON), ev.Content, ev.Sig,
	); err != nil {
		return fmt.Errorf("%w: %v", ErrLocalWrite, err)
	}
	return nil
}

// DeleteEvent removes an event and its overlay row. Idempotent.
func (db *DB) DeleteEvent(ctx context.Context, id string) error {
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM events WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete event %s: %w", id, err)
	}
	if _, err := db.conn.ExecContext(ctx, `DELETE FROM overlay WHERE event_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete overlay for %s: %w", id, err)
	}
	return nil
}

// Query returns events matching the filter, newest first, truncated to the
// filter limit when set.
//
// Author, kind, id, and since constraints are pushed down to SQL; hashtag
// matching happens on the decoded tag sets. Only the events table is read.
func (db *DB) Query(ctx context.Context, f note.Filter) ([]note.Event, error) {
	query := `SELECT id, pubkey, created_at, kind, tags, content, sig FROM events WHERE 1=1`
	var args []any

	if len(f.IDs) > 0 {
		query += ` AND id IN (` + placeholders(len(f.IDs)) + `)`
		for _, id := range f.IDs {
			args = append(args, id)
		}
	}
	if len(f.Authors) > 0 {
		query += ` AND pubkey IN (` + placeholders(len(f.Authors)) + `)`
		for _, a := range f.Authors {
			args = append(args, a)
		}
	}
	if len(f.Kinds) > 0 {
		query += ` AND kind IN (` + placeholders(len(f.Kinds)) + `)`
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.Since > 0 {
		query += ` AND created_at >= ?`
		args = append(args, f.Since)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var events []note.Event
	for rows.Next() {
		var ev note.Event
		var tagsJSON string
		if err := rows.Scan(&ev.ID, &ev.PubKey, &ev.CreatedAt, &ev.Kind, &tagsJSON, &ev.Content, &ev.Sig); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &ev.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags for %s: %w", ev.ID, err)
		}
		if len(f.Tags) > 0 && !(&f).Matches(&ev) {
			continue
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate events: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].CreatedAt > events[j].CreatedAt
	})
	if f.Limit > 0 && len(events) > f.Limit {
		events = events[:f.Limit]
	}
	return events, nil
}

// EventCount returns the total number of stored events.
func (db *DB) EventCount(ctx context.Context) (int, error) {
	var count int
	if err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM events").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return count, nil
}

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	out := "?"
	for i := 1; i < n; i++ {
		out += ", ?"
	}
	return out
}
