// Package overlay stores per-note local-only flags: read/unread and sync
// status. Overlay state never enters outbound sync traffic; it lives in a
// separate storage namespace that no relay filter can reach, and the types
// here are never part of a wire event.
//
// The overlay store is locked independently of the note cache so UI-facing
// queries never contend with background sync writes.
package overlay

import (
	"context"
	"log/slog"
	"sync"

	"github.com/futurepaul/dialog-final-v2/internal/store"
)

// Record is the local-only metadata for one note. Defaults apply when a
// record is absent: unread, unsynced.
type Record = store.OverlayRecord

// Store keeps overlay records in memory, write-through to the local
// database. Persistence failures are logged and absorbed: overlay flags are
// additive metadata, and the in-memory copy still serves.
type Store struct {
	mu     sync.RWMutex
	recs   map[string]Record
	db     *store.DB
	logger *slog.Logger
}

// New creates an overlay store backed by the given database, preloading any
// persisted records. A nil db gives a purely in-memory store (used in tests).
func New(db *store.DB, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		recs:   make(map[string]Record),
		db:     db,
		logger: logger,
	}
	if db != nil {
		recs, err := db.AllOverlays(context.Background())
		if err != nil {
			logger.Warn("failed to preload overlay records", "error", err)
		} else {
			s.recs = recs
		}
	}
	return s
}

// Get returns the record for a note, defaults if absent. Never fails.
func (s *Store) Get(id string) Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.recs[id]
}

// SetRead marks a note as read. Idempotent; reports whether the flag
// actually changed.
func (s *Store) SetRead(id string) bool {
	return s.update(id, func(r *Record) bool {
		if r.IsRead {
			return false
		}
		r.IsRead = true
		return true
	})
}

// SetSynced records a confirmed remote acknowledgment for a note. Only the
// sync engine and watch loop call this; it is never driven by direct user
// action. Idempotent; reports whether the flag actually changed.
func (s *Store) SetSynced(id string) bool {
	return s.update(id, func(r *Record) bool {
		if r.IsSynced {
			return false
		}
		r.IsSynced = true
		return true
	})
}

// Delete drops the record for a note (used when the note itself is deleted).
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.recs, id)
	s.mu.Unlock()
}

func (s *Store) update(id string, mutate func(*Record) bool) bool {
	s.mu.Lock()
	rec := s.recs[id]
	changed := mutate(&rec)
	if changed {
		s.recs[id] = rec
	}
	s.mu.Unlock()

	if changed && s.db != nil {
		if err := s.db.SetOverlay(context.Background(), id, rec); err != nil {
			s.logger.Warn("failed to persist overlay record", "id", id, "error", err)
		}
	}
	return changed
}
