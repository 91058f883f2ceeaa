package overlay

import (
	"path/filepath"
	"testing"

	"github.com/futurepaul/dialog-final-v2/internal/logging"
	"github.com/futurepaul/dialog-final-v2/internal/store"
)

func TestDefaultsAndIdempotence(t *testing.T) {
	s := New(nil, logging.Discard())

	rec := s.Get("unknown")
	if rec.IsRead || rec.IsSynced {
		t.Errorf("absent record should default to unread/unsynced, got %+v", rec)
	}

	if !s.SetRead("a") {
		t.Error("first SetRead should report a change")
	}
	if s.SetRead("a") {
		t.Error("second SetRead should be a no-op")
	}
	if !s.SetSynced("a") {
		t.Error("first SetSynced should report a change")
	}
	if s.SetSynced("a") {
		t.Error("second SetSynced should be a no-op")
	}

	rec = s.Get("a")
	if !rec.IsRead || !rec.IsSynced {
		t.Errorf("record = %+v, want both flags set", rec)
	}

	s.Delete("a")
	if rec := s.Get("a"); rec.IsRead {
		t.Error("record should reset to defaults after Delete")
	}
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dialog.db")

	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	s := New(db, logging.Discard())
	s.SetRead("ev1")
	s.SetSynced("ev2")
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db, err = store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	reloaded := New(db, logging.Discard())
	if rec := reloaded.Get("ev1"); !rec.IsRead || rec.IsSynced {
		t.Errorf("ev1 = %+v, want read only", rec)
	}
	if rec := reloaded.Get("ev2"); rec.IsRead || !rec.IsSynced {
		t.Errorf("ev2 = %+v, want synced only", rec)
	}
}
