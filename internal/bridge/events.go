package bridge

import (
	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/sync"
)

// Command is a caller-to-core message. Commands are fire-and-forget: they
// never return a value directly; results surface as Events or through the
// synchronous snapshot queries.
type Command interface {
	isCommand()
}

// CreateNote creates and stores a note locally, then attempts to publish it.
type CreateNote struct {
	Text string
}

// DeleteNote removes a note locally. Deletion does not propagate to relays.
type DeleteNote struct {
	ID string
}

// MarkAsRead sets the local read flag on a note.
type MarkAsRead struct {
	ID string
}

// SetTagFilter sets or clears (empty Tag) the UI-side tag filter.
type SetTagFilter struct {
	Tag string
}

// LoadNotes reloads the cache from the local store and emits a snapshot.
type LoadNotes struct {
	Limit int
}

// SearchNotes emits a snapshot of notes whose text matches the query.
type SearchNotes struct {
	Query string
}

// ConnectRelay (re)connects to a relay and runs a sync pass.
type ConnectRelay struct {
	URL string
}

// SetSyncMode changes the reconciliation strategy for subsequent syncs.
type SetSyncMode struct {
	Mode sync.Mode
}

func (CreateNote) isCommand()   {}
func (DeleteNote) isCommand()   {}
func (MarkAsRead) isCommand()   {}
func (SetTagFilter) isCommand() {}
func (LoadNotes) isCommand()    {}
func (SearchNotes) isCommand()  {}
func (ConnectRelay) isCommand() {}
func (SetSyncMode) isCommand()  {}

// Event is a core-to-caller notification. Events are hints: the caller may
// always re-query for ground truth.
type Event interface {
	isEvent()
}

// Ready signals that initialization finished and queued commands will now
// execute.
type Ready struct{}

// NotesLoaded carries a full snapshot after a load, search, filter change,
// or sync pass.
type NotesLoaded struct {
	Notes []note.Note
}

// NoteAdded announces a note whose id was new to the cache.
type NoteAdded struct {
	Note note.Note
}

// NoteUpdated announces a change to an existing note (content or flags).
type NoteUpdated struct {
	Note note.Note
}

// NoteDeleted announces a local deletion.
type NoteDeleted struct {
	ID string
}

// TagFilterChanged echoes the current tag filter (empty = none).
type TagFilterChanged struct {
	Tag string
}

// SyncStatusChanged reports sync-in-progress transitions.
type SyncStatusChanged struct {
	Syncing bool
}

// Error carries a non-fatal warning or a command failure message.
type Error struct {
	Message string
}

// Error implements the error interface.
func (e Error) Error() string {
	return e.Message
}

func (Ready) isEvent()             {}
func (NotesLoaded) isEvent()       {}
func (NoteAdded) isEvent()         {}
func (NoteUpdated) isEvent()       {}
func (NoteDeleted) isEvent()       {}
func (TagFilterChanged) isEvent()  {}
func (SyncStatusChanged) isEvent() {}
func (Error) isEvent()             {}

// Listener receives every Event pushed by the core. Callbacks run on the
// core's internal runtime, never on the caller's thread.
type Listener interface {
	OnEvent(ev Event)
}

// ListenerFunc adapts a function to the Listener interface.
type ListenerFunc func(ev Event)

// OnEvent implements Listener.
func (f ListenerFunc) OnEvent(ev Event) {
	f(ev)
}
