// Package bridge is the sole entry and exit point for callers of the dialog
// core. It owns the internal concurrent runtime (a worker pool draining a
// command queue), a multi-subscriber event hub, and the synchronous snapshot
// queries over the in-memory cache.
//
// Commands never block the caller and never return values directly; results
// arrive as Events on registered listeners. Queries never touch the network
// and only take short read locks, so they are safe from any thread,
// including a UI thread.
//
// Commands sent before initialization completes are queued and execute once
// Ready has been emitted.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/futurepaul/dialog-final-v2/internal/cache"
	"github.com/futurepaul/dialog-final-v2/internal/cipher"
	"github.com/futurepaul/dialog-final-v2/internal/keys"
	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/overlay"
	"github.com/futurepaul/dialog-final-v2/internal/store"
	dialogsync "github.com/futurepaul/dialog-final-v2/internal/sync"
	"github.com/futurepaul/dialog-final-v2/internal/watch"
)

// Config configures a Bridge instance.
//
// Each Bridge is an independent core: there is no process-wide singleton,
// and multiple instances with separate data directories can coexist in one
// process.
type Config struct {
	// Keys is the local identity. Required.
	Keys *keys.Keys

	// DataDir is the root data directory; the database lives under
	// <DataDir>/<pubkey>/dialog.db. Ignored when DB is set.
	DataDir string

	// DB optionally supplies a pre-opened database (tests use :memory:).
	DB *store.DB

	// SyncMode is the initial reconciliation strategy.
	SyncMode dialogsync.Mode

	// Dial overrides the relay dialer. Defaults to the websocket client.
	Dial dialogsync.Dialer

	// InitialLimit bounds the startup load from the local store
	// (default 500).
	InitialLimit int

	// FetchTimeout and ReconcileTimeout bound the sync engine's network
	// exchanges.
	FetchTimeout     time.Duration
	ReconcileTimeout time.Duration

	// Workers sizes the command worker pool (default 4).
	Workers int

	// CommandBuffer sizes the command queue (default 256).
	CommandBuffer int

	// EventBuffer sizes each subscriber's event buffer (default 128).
	EventBuffer int

	Logger *slog.Logger
}

// Bridge is the command/event façade over the dialog core.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	keys    *keys.Keys
	cipher  *cipher.Cipher
	db      *store.DB
	ownsDB  bool
	cache   *cache.Cache
	overlay *overlay.Store
	engine  *dialogsync.Engine
	loop    *watch.Loop

	hub   *hub
	cmdCh chan Command

	// ready is closed once the initial cache load finishes; workers gate
	// on it so early commands queue instead of failing.
	ready chan struct{}

	filterMu  sync.RWMutex
	tagFilter string

	modeMu   sync.Mutex
	syncMode dialogsync.Mode

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	listenerMu      sync.Mutex
	listenerCancels []func()
}

// New builds the core and kicks off initialization. The returned Bridge
// accepts commands immediately; they execute once Ready is emitted.
func New(cfg Config) (*Bridge, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InitialLimit == 0 {
		cfg.InitialLimit = 500
	}
	if cfg.Workers == 0 {
		cfg.Workers = 4
	}
	if cfg.CommandBuffer == 0 {
		cfg.CommandBuffer = 256
	}
	if cfg.EventBuffer == 0 {
		cfg.EventBuffer = 128
	}

	cpr, err := cipher.New(cfg.Keys.Seed())
	if err != nil {
		return nil, err
	}

	db := cfg.DB
	ownsDB := false
	if db == nil {
		db, err = store.Open(store.DataPath(cfg.DataDir, cfg.Keys.PublicHex()))
		if err != nil {
			return nil, err
		}
		ownsDB = true
	}

	ctx, cancel := context.WithCancel(context.Background())

	b := &Bridge{
		cfg:      cfg,
		logger:   cfg.Logger,
		keys:     cfg.Keys,
		cipher:   cpr,
		db:       db,
		ownsDB:   ownsDB,
		cache:    cache.New(),
		overlay:  overlay.New(db, cfg.Logger),
		hub:      newHub(cfg.Logger),
		cmdCh:    make(chan Command, cfg.CommandBuffer),
		ready:    make(chan struct{}),
		syncMode: cfg.SyncMode,
		ctx:      ctx,
		cancel:   cancel,
	}

	b.engine = dialogsync.New(dialogsync.Config{
		Keys:             cfg.Keys,
		Cipher:           cpr,
		DB:               db,
		Cache:            b.cache,
		Overlay:          b.overlay,
		Dial:             cfg.Dial,
		FetchTimeout:     cfg.FetchTimeout,
		ReconcileTimeout: cfg.ReconcileTimeout,
		OnWarning: func(message string) {
			b.publish(Error{Message: message})
		},
		OnSyncStatus: func(syncing bool) {
			b.publish(SyncStatusChanged{Syncing: syncing})
		},
		Logger: cfg.Logger,
	})

	b.loop = watch.New(watch.Config{
		Relay:   b.engine.Relay,
		Filter:  func() note.Filter { return note.SelfNotes(cfg.Keys.PublicHex()) },
		Convert: b.engine.NoteFromEvent,
		Cache:   b.cache,
		Overlay: b.overlay,
		DB:      db,
		OnLoaded: func(notes []note.Note) {
			b.publish(NotesLoaded{Notes: notes})
		},
		OnAdded: func(n note.Note) {
			b.publish(NoteAdded{Note: n})
		},
		OnUpdated: func(n note.Note) {
			b.publish(NoteUpdated{Note: n})
		},
		Logger: cfg.Logger,
	})

	for i := 0; i < cfg.Workers; i++ {
		b.wg.Add(1)
		go b.worker()
	}

	b.wg.Add(1)
	go b.initialize()

	return b, nil
}

// initialize loads the cache from the local store, then opens the gate for
// queued commands and emits Ready.
func (b *Bridge) initialize() {
	defer b.wg.Done()

	notes, err := b.loadFromStore(b.cfg.InitialLimit)
	if err != nil {
		// Local cache can still serve; report upward as a warning.
		b.logger.Warn("initial load failed", "error", err)
		b.publish(Error{Message: "failed to load notes from local storage"})
	} else {
		b.cache.ReplaceAll(notes)
	}

	close(b.ready)
	b.publish(Ready{})
}

// loadFromStore reads, decrypts, and decorates notes from the local
// database. Events that fail to decrypt are skipped.
func (b *Bridge) loadFromStore(limit int) ([]note.Note, error) {
	filter := note.SelfNotes(b.keys.PublicHex())
	filter.Limit = limit

	events, err := b.db.Query(b.ctx, filter)
	if err != nil {
		return nil, err
	}

	notes := make([]note.Note, 0, len(events))
	for i := range events {
		n, err := b.engine.NoteFromEvent(&events[i])
		if err != nil {
			continue
		}
		notes = append(notes, n)
	}
	return notes, nil
}

// worker drains the command queue. Each worker gates on initialization so
// commands issued before Ready queue up rather than racing the initial load.
func (b *Bridge) worker() {
	defer b.wg.Done()

	for {
		select {
		case <-b.ctx.Done():
			return
		case cmd := <-b.cmdCh:
			select {
			case <-b.ctx.Done():
				return
			case <-b.ready:
			}
			b.execute(cmd)
		}
	}
}

// Start registers a listener and begins forwarding every event to it. The
// first delivery is an initial snapshot, routed through the same per-listener
// buffer as everything after it so callbacks never interleave. Multiple
// listeners may be registered; each gets its own bounded buffer.
func (b *Bridge) Start(listener Listener) {
	snapshot := NotesLoaded{Notes: b.GetNotes(100, "")}
	ch, cancel := b.hub.subscribe(b.cfg.EventBuffer, snapshot)

	b.listenerMu.Lock()
	b.listenerCancels = append(b.listenerCancels, cancel)
	b.listenerMu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for ev := range ch {
			listener.OnEvent(ev)
		}
	}()
}

// SendCommand schedules a command on the internal runtime. It never blocks:
// if the queue is full the command is rejected with an Error event.
func (b *Bridge) SendCommand(cmd Command) {
	select {
	case b.cmdCh <- cmd:
	default:
		b.logger.Warn("command queue full, rejecting command")
		b.publish(Error{Message: "command queue full"})
	}
}

// Stop shuts down the watch loop, the workers, and all listener
// registrations. Idempotent.
func (b *Bridge) Stop() {
	b.stopOnce.Do(func() {
		b.loop.Stop()
		b.engine.Disconnect()
		b.cancel()

		b.listenerMu.Lock()
		cancels := b.listenerCancels
		b.listenerCancels = nil
		b.listenerMu.Unlock()
		for _, cancel := range cancels {
			cancel()
		}
		b.hub.closeAll()

		b.wg.Wait()

		if b.ownsDB {
			if err := b.db.Close(); err != nil {
				b.logger.Warn("failed to close database", "error", err)
			}
		}
	})
}

// WaitReady blocks until initialization completes or the timeout elapses.
// Reports whether the core became ready.
func (b *Bridge) WaitReady(timeout time.Duration) bool {
	select {
	case <-b.ready:
		return true
	case <-time.After(timeout):
		return false
	}
}

// GetNotes returns a snapshot of notes sorted oldest first, filtered by tag
// when non-empty, truncated to the most recent limit entries.
func (b *Bridge) GetNotes(limit int, tag string) []note.Note {
	return b.cache.List(limit, tag)
}

// GetNote returns a single note by id.
func (b *Bridge) GetNote(id string) (note.Note, bool) {
	return b.cache.Get(id)
}

// GetAllTags returns the sorted, de-duplicated tag list.
func (b *Bridge) GetAllTags() []string {
	return b.cache.AllTags()
}

// GetTagCounts returns the global tag frequency snapshot, unaffected by the
// current tag filter.
func (b *Bridge) GetTagCounts() map[string]uint32 {
	return b.cache.TagCounts()
}

// GetUnreadCount returns the unread note count, optionally scoped to a tag.
func (b *Bridge) GetUnreadCount(tag string) uint32 {
	return b.cache.UnreadCount(tag)
}

// TagFilter returns the current UI-side tag filter (empty = none).
func (b *Bridge) TagFilter() string {
	b.filterMu.RLock()
	defer b.filterMu.RUnlock()
	return b.tagFilter
}

// EventsDropped returns how many events have been dropped for lagging
// subscribers since startup.
func (b *Bridge) EventsDropped() uint64 {
	return b.hub.droppedCount()
}

// WatchState exposes the watch loop's lifecycle state.
func (b *Bridge) WatchState() watch.State {
	return b.loop.State()
}

// publish pushes an event to all subscribers.
func (b *Bridge) publish(ev Event) {
	b.hub.publish(ev)
}

func (b *Bridge) currentMode() dialogsync.Mode {
	b.modeMu.Lock()
	defer b.modeMu.Unlock()
	return b.syncMode
}

func (b *Bridge) setMode(m dialogsync.Mode) {
	b.modeMu.Lock()
	b.syncMode = m
	b.modeMu.Unlock()
}
