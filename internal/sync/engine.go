// Package sync implements the reconciliation engine that keeps the local
// note cache eventually consistent with the configured relay.
//
// The engine decides between two strategies: a set-reconciliation exchange
// (negentropy) that transfers only the symmetric difference, or a plain
// bounded fetch that leaves live updates to the watch loop. A reconciliation
// failure latches the engine to subscribe mode for the remainder of the
// session, with a single warning surfaced to the caller.
//
// The engine is resilient the way the rest of the core is: local durability
// is attempted first, and every network failure degrades to a warning while
// local state stays authoritative.
package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/futurepaul/dialog-final-v2/internal/cache"
	"github.com/futurepaul/dialog-final-v2/internal/cipher"
	"github.com/futurepaul/dialog-final-v2/internal/keys"
	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/overlay"
	"github.com/futurepaul/dialog-final-v2/internal/relay"
	"github.com/futurepaul/dialog-final-v2/internal/store"
)

// ErrNoRelay indicates a sync or publish was attempted before any relay
// connection was established.
var ErrNoRelay = errors.New("no relay connected")

// Dialer opens a relay connection. Injected so tests can supply fakes.
type Dialer func(ctx context.Context, url string, logger *slog.Logger) (relay.Relay, error)

// Config configures the sync engine.
type Config struct {
	Keys    *keys.Keys
	Cipher  *cipher.Cipher
	DB      *store.DB
	Cache   *cache.Cache
	Overlay *overlay.Store

	// Dial opens relay connections. Defaults to the websocket client.
	Dial Dialer

	// FetchTimeout bounds the initial subscribe-mode fetch.
	FetchTimeout time.Duration

	// ReconcileTimeout bounds the negentropy exchange.
	ReconcileTimeout time.Duration

	// OnWarning receives non-fatal degradation notices (network errors,
	// fallback latching). May be nil.
	OnWarning func(message string)

	// OnSyncStatus receives sync-in-progress transitions. May be nil.
	OnSyncStatus func(syncing bool)

	Logger *slog.Logger
}

// Engine decides and executes the reconciliation strategy and publishes
// locally authored notes.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	active atomic.Pointer[relayHolder]

	// fallbackLatched is set after a failed reconciliation; the session
	// stays in subscribe mode from then on. fallbackWarned guarantees the
	// warning is emitted exactly once.
	fallbackLatched atomic.Bool
	fallbackWarned  atomic.Bool
}

type relayHolder struct {
	r relay.Relay
}

// New creates a sync engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string, logger *slog.Logger) (relay.Relay, error) {
			return relay.Dial(ctx, url, logger)
		}
	}
	if cfg.FetchTimeout == 0 {
		cfg.FetchTimeout = 15 * time.Second
	}
	if cfg.ReconcileTimeout == 0 {
		cfg.ReconcileTimeout = 30 * time.Second
	}
	return &Engine{cfg: cfg, logger: cfg.Logger}
}

// Connect establishes (or replaces) the active relay connection. Safe to
// call repeatedly: any prior connection is torn down first, which also fails
// its live subscriptions so the watch loop re-establishes against the new
// relay.
func (e *Engine) Connect(ctx context.Context, url string) (relay.Relay, error) {
	r, err := e.cfg.Dial(ctx, url, e.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to relay %s: %w", url, err)
	}

	if old := e.active.Swap(&relayHolder{r: r}); old != nil {
		if cerr := old.r.Close(); cerr != nil {
			e.logger.Warn("failed to close previous relay", "error", cerr)
		}
	}

	e.logger.Info("relay connected", "url", url)
	return r, nil
}

// Relay returns the active relay connection, or nil.
func (e *Engine) Relay() relay.Relay {
	if h := e.active.Load(); h != nil {
		return h.r
	}
	return nil
}

// Disconnect tears down the active relay connection, if any.
func (e *Engine) Disconnect() {
	if old := e.active.Swap(nil); old != nil {
		_ = old.r.Close()
	}
}

// FallbackLatched reports whether a failed reconciliation has latched the
// session to subscribe mode.
func (e *Engine) FallbackLatched() bool {
	return e.fallbackLatched.Load()
}

// Sync runs one reconciliation pass in the given mode.
//
// ModeAuto resolves to negentropy unless a previous failure latched the
// session to subscribe. A failed negentropy exchange falls back to a plain
// fetch within the same call and latches the session.
func (e *Engine) Sync(ctx context.Context, mode Mode) error {
	r := e.Relay()
	if r == nil {
		return ErrNoRelay
	}

	e.setSyncing(true)
	defer e.setSyncing(false)

	useNegentropy := false
	switch mode {
	case ModeNegentropy:
		useNegentropy = true
	case ModeAuto:
		useNegentropy = !e.fallbackLatched.Load()
	case ModeSubscribe:
	}

	if useNegentropy {
		err := e.reconcile(ctx, r)
		if err == nil {
			return nil
		}

		e.fallbackLatched.Store(true)
		if e.fallbackWarned.CompareAndSwap(false, true) {
			e.warn(fmt.Sprintf("reconciliation unavailable, using subscribe mode: %v", err))
		}
		e.logger.Warn("reconciliation failed, falling back to subscribe", "error", err)
	}

	return e.fetchAndMerge(ctx, r)
}

// reconcile runs the negentropy exchange: events the relay has that we lack
// are merged, and events we have that the relay lacks are published.
func (e *Engine) reconcile(ctx context.Context, r relay.Relay) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.ReconcileTimeout)
	defer cancel()

	filter := note.SelfNotes(e.cfg.Keys.PublicHex())
	have := e.fingerprints()

	diff, err := r.Reconcile(ctx, filter, have)
	if err != nil {
		return err
	}

	merged := e.merge(ctx, diff.Missing)
	e.logger.Info("reconciliation complete",
		"missing", len(diff.Missing), "merged", merged, "need", len(diff.NeedIDs))

	for _, id := range diff.NeedIDs {
		if err := e.publishStored(ctx, r, id); err != nil {
			e.logger.Warn("failed to publish during reconciliation", "id", id, "error", err)
		}
	}
	return nil
}

// fetchAndMerge performs the bounded subscribe-mode fetch and merges the
// results. A timeout merges whatever was collected and surfaces a warning.
func (e *Engine) fetchAndMerge(ctx context.Context, r relay.Relay) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
	defer cancel()

	filter := note.SelfNotes(e.cfg.Keys.PublicHex())
	events, err := r.Fetch(ctx, filter)
	merged := e.merge(context.WithoutCancel(ctx), events)
	e.logger.Info("initial fetch complete", "fetched", len(events), "merged", merged)

	if err != nil {
		e.warn(fmt.Sprintf("initial fetch incomplete: %v", err))
		return fmt.Errorf("initial fetch incomplete: %w", err)
	}
	return nil
}

// Publish sends a locally stored event to the relay. The local write has
// already happened by the time this is called; failure here only degrades to
// a warning. A confirmed acknowledgment marks the note synced.
func (e *Engine) Publish(ctx context.Context, ev *note.Event) error {
	r := e.Relay()
	if r == nil {
		return ErrNoRelay
	}
	if err := r.Publish(ctx, ev); err != nil {
		return fmt.Errorf("publish failed: %w", err)
	}

	e.cfg.Overlay.SetSynced(ev.ID)
	e.cfg.Cache.SetSynced(ev.ID)
	return nil
}

// NoteFromEvent verifies and decrypts a wire event into a Note decorated
// with overlay flags. An event whose id or signature does not check out is
// rejected before any decryption; returns cipher.ErrDecrypt for verified
// content this identity cannot open.
func (e *Engine) NoteFromEvent(ev *note.Event) (note.Note, error) {
	if err := ev.Verify(); err != nil {
		return note.Note{}, fmt.Errorf("rejecting unverifiable event: %w", err)
	}
	text, err := e.cfg.Cipher.Decrypt(ev.Content)
	if err != nil {
		return note.Note{}, err
	}
	rec := e.cfg.Overlay.Get(ev.ID)
	return note.Note{
		ID:        ev.ID,
		Text:      text,
		Tags:      ev.HashtagValues(),
		CreatedAt: ev.CreatedAt,
		IsRead:    rec.IsRead,
		IsSynced:  rec.IsSynced,
	}, nil
}

// merge verifies, decrypts, and stores remote events, upserting the cache.
// Events with an invalid id or signature are dropped with a warning; events
// that fail to decrypt are skipped silently. Storage failures are non-fatal
// warnings since the cache can still serve. Returns the number merged.
func (e *Engine) merge(ctx context.Context, events []note.Event) int {
	merged := 0
	for i := range events {
		ev := &events[i]

		if err := ev.Verify(); err != nil {
			e.logger.Warn("dropping event that failed verification", "id", ev.ID, "error", err)
			continue
		}

		text, err := e.cfg.Cipher.Decrypt(ev.Content)
		if err != nil {
			continue
		}

		if err := e.cfg.DB.SaveEvent(ctx, ev); err != nil {
			e.logger.Warn("failed to persist merged event", "id", ev.ID, "error", err)
		}

		// The relay had this event, so it is synced by definition.
		e.cfg.Overlay.SetSynced(ev.ID)
		rec := e.cfg.Overlay.Get(ev.ID)

		e.cfg.Cache.Upsert(note.Note{
			ID:        ev.ID,
			Text:      text,
			Tags:      ev.HashtagValues(),
			CreatedAt: ev.CreatedAt,
			IsRead:    rec.IsRead,
			IsSynced:  true,
		})
		merged++
	}
	return merged
}

// publishStored loads one event from the local store and publishes it.
func (e *Engine) publishStored(ctx context.Context, r relay.Relay, id string) error {
	events, err := e.cfg.DB.Query(ctx, note.Filter{IDs: []string{id}})
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return fmt.Errorf("event %s not found locally", id)
	}
	if err := r.Publish(ctx, &events[0]); err != nil {
		return err
	}
	e.cfg.Overlay.SetSynced(id)
	e.cfg.Cache.SetSynced(id)
	return nil
}

// fingerprints snapshots the cache as (id, created_at) pairs for the
// reconciliation exchange. Overlay state is structurally absent here.
func (e *Engine) fingerprints() []relay.IDStamp {
	notes := e.cfg.Cache.List(0, "")
	stamps := make([]relay.IDStamp, 0, len(notes))
	for _, n := range notes {
		stamps = append(stamps, relay.IDStamp{ID: n.ID, CreatedAt: n.CreatedAt})
	}
	return stamps
}

func (e *Engine) warn(message string) {
	if e.cfg.OnWarning != nil {
		e.cfg.OnWarning(message)
	}
}

func (e *Engine) setSyncing(on bool) {
	if e.cfg.OnSyncStatus != nil {
		e.cfg.OnSyncStatus(on)
	}
}
