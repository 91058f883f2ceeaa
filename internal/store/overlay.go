package store

import (
	"context"
	"fmt"
)

// OverlayRecord carries the local-only flags for one note.
//
// Absent rows read as the zero value, so an OverlayRecord is never required
// for a note to render.
type OverlayRecord struct {
	IsRead   bool
	IsSynced bool
}

// AllOverlays returns every overlay row, keyed by event id. Single-record
// reads go through the in-memory overlay store, which preloads this map.
func (db *DB) AllOverlays(ctx context.Context) (map[string]OverlayRecord, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT event_id, is_read, is_synced FROM overlay`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlay: %w", err)
	}
	defer rows.Close()

	recs := make(map[string]OverlayRecord)
	for rows.Next() {
		var id string
		var rec OverlayRecord
		if err := rows.Scan(&id, &rec.IsRead, &rec.IsSynced); err != nil {
			return nil, fmt.Errorf("failed to scan overlay row: %w", err)
		}
		recs[id] = rec
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate overlay: %w", err)
	}
	return recs, nil
}

// SetOverlay upserts the overlay record for an event.
func (db *DB) SetOverlay(ctx context.Context, eventID string, rec OverlayRecord) error {
	query := `
	INSERT INTO overlay (event_id, is_read, is_synced)
	VALUES (?, ?, ?)
	ON CONFLICT(event_id) DO UPDATE SET
		is_read = excluded.is_read,
		is_synced = excluded.is_synced
	`
	if _, err := db.conn.ExecContext(ctx, query, eventID, rec.IsRead, rec.IsSynced); err != nil {
		return fmt.Errorf("failed to upsert overlay for %s: %w", eventID, err)
	}
	return nil
}
