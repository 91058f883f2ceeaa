package bridge

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/store"
	dialogsync "github.com/futurepaul/dialog-final-v2/internal/sync"
)

// execute dispatches one command on a worker goroutine.
func (b *Bridge) execute(cmd Command) {
	switch c := cmd.(type) {
	case CreateNote:
		b.createNote(c.Text)
	case DeleteNote:
		b.deleteNote(c.ID)
	case MarkAsRead:
		b.markAsRead(c.ID)
	case SetTagFilter:
		b.setTagFilter(c.Tag)
	case LoadNotes:
		b.loadNotes(c.Limit)
	case SearchNotes:
		b.searchNotes(c.Query)
	case ConnectRelay:
		b.connectRelay(c.URL)
	case SetSyncMode:
		b.setMode(c.Mode)
		b.logger.Info("sync mode changed", "mode", c.Mode)
	default:
		b.logger.Warn("unknown command", "command", fmt.Sprintf("%T", cmd))
	}
}

// createNote encrypts, signs, and stores a new note, then attempts to
// publish it in the background. The local write is the source of truth: a
// failed publish only downgrades the note to unsynced, never loses it.
func (b *Bridge) createNote(text string) {
	if strings.TrimSpace(text) == "" {
		b.publish(Error{Message: "cannot create an empty note"})
		return
	}

	hashtags := note.ParseHashtags(text)

	ciphertext, err := b.cipher.Encrypt(text)
	if err != nil {
		b.publish(Error{Message: fmt.Sprintf("failed to encrypt note: %v", err)})
		return
	}

	ev := note.BuildNoteEvent(b.keys.PublicHex(), ciphertext, hashtags, time.Now().Unix())
	if err := ev.Sign(b.keys.Private()); err != nil {
		b.publish(Error{Message: fmt.Sprintf("failed to sign note: %v", err)})
		return
	}

	// Local durability first. If this fails the note does not exist.
	if err := b.db.SaveEvent(b.ctx, &ev); err != nil {
		b.logger.Error("local write failed", "id", ev.ID, "error", err)
		if errors.Is(err, store.ErrLocalWrite) {
			b.publish(Error{Message: "failed to save note to local storage"})
		} else {
			b.publish(Error{Message: fmt.Sprintf("failed to save note: %v", err)})
		}
		return
	}

	// The author has read their own note.
	b.overlay.SetRead(ev.ID)

	n := note.Note{
		ID:        ev.ID,
		Text:      text,
		Tags:      hashtags,
		CreatedAt: ev.CreatedAt,
		IsRead:    true,
	}
	b.cache.Upsert(n)
	b.publish(NoteAdded{Note: n})

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		if err := b.engine.Publish(b.ctx, &ev); err != nil {
			if errors.Is(err, dialogsync.ErrNoRelay) {
				// Offline is normal; the note stays pending until a sync.
				return
			}
			b.logger.Warn("publish failed", "id", ev.ID, "error", err)
			b.publish(Error{Message: fmt.Sprintf("note saved locally but not published: %v", err)})
			return
		}
		if synced, ok := b.cache.Get(ev.ID); ok {
			b.publish(NoteUpdated{Note: synced})
		}
	}()
}

// deleteNote removes a note from local state only. Relays are untouched, so
// the note may reappear after a future reconciliation from another device.
func (b *Bridge) deleteNote(id string) {
	if err := b.db.DeleteEvent(b.ctx, id); err != nil {
		b.logger.Warn("failed to delete stored event", "id", id, "error", err)
	}
	b.overlay.Delete(id)
	if b.cache.Delete(id) {
		b.publish(NoteDeleted{ID: id})
	}
}

func (b *Bridge) markAsRead(id string) {
	if !b.overlay.SetRead(id) {
		// Already read, or unknown id; nothing changed.
		return
	}
	if n, ok := b.cache.SetRead(id); ok {
		b.publish(NoteUpdated{Note: n})
	}
}

// setTagFilter records the filter and emits a filtered snapshot. The filter
// only shapes snapshots; tag counts and unread totals stay global.
func (b *Bridge) setTagFilter(tag string) {
	b.filterMu.Lock()
	b.tagFilter = tag
	b.filterMu.Unlock()

	b.publish(TagFilterChanged{Tag: tag})
	b.publish(NotesLoaded{Notes: b.cache.List(0, tag)})
}

// loadNotes rebuilds the cache from the local store and emits a snapshot.
func (b *Bridge) loadNotes(limit int) {
	notes, err := b.loadFromStore(limit)
	if err != nil {
		b.logger.Error("reload failed", "error", err)
		b.publish(Error{Message: "failed to load notes from local storage"})
		return
	}
	b.cache.ReplaceAll(notes)
	b.publish(NotesLoaded{Notes: b.cache.List(limit, b.TagFilter())})
}

func (b *Bridge) searchNotes(query string) {
	b.publish(NotesLoaded{Notes: b.cache.Search(query)})
}

// connectRelay connects, starts the live watch, and runs one sync pass in
// the current mode. Connection failure is a warning: the core keeps serving
// from local state.
func (b *Bridge) connectRelay(url string) {
	if _, err := b.engine.Connect(b.ctx, url); err != nil {
		b.logger.Warn("relay connection failed", "url", url, "error", err)
		b.publish(Error{Message: fmt.Sprintf("failed to connect to relay: %v", err)})
		return
	}

	b.loop.Start()

	if err := b.engine.Sync(b.ctx, b.currentMode()); err != nil {
		// Sync degradations already surface through the engine's warning
		// callback; log for the record and move on.
		b.logger.Warn("sync pass failed", "error", err)
	}

	b.publish(NotesLoaded{Notes: b.cache.List(0, b.TagFilter())})
}
