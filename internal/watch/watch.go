// Package watch maintains the long-lived relay subscription that streams
// newly observed notes into the cache in near-real-time.
//
// The loop is a small state machine:
//
//	Stopped -> Starting -> Streaming -> (Reconnecting | Stopped)
//
// On transport failure it reconnects with exponential backoff (indefinite
// retries, capped interval, jittered). Already-delivered notes are not
// re-emitted after a reconnect: de-duplication against the cache, not a
// resume cursor, provides that guarantee.
package watch

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/futurepaul/dialog-final-v2/internal/cache"
	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/overlay"
	"github.com/futurepaul/dialog-final-v2/internal/relay"
	"github.com/futurepaul/dialog-final-v2/internal/store"
)

// State is the lifecycle state of the watch loop.
type State int32

const (
	// StateStopped means the loop is not running.
	StateStopped State = iota
	// StateStarting means the loop is establishing its first subscription.
	StateStarting
	// StateStreaming means live events are flowing.
	StateStreaming
	// StateReconnecting means the transport failed and the loop is backing
	// off before retrying.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateStreaming:
		return "streaming"
	case StateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// Config configures the watch loop.
type Config struct {
	// Relay returns the current relay connection, or nil if none. Looked
	// up on every (re)connect so a relay swap takes effect naturally.
	Relay func() relay.Relay

	// Filter returns the subscription filter, scoped to the local
	// identity's note kind.
	Filter func() note.Filter

	// Convert decrypts a wire event into a Note. A cipher.ErrDecrypt
	// return means the event is not ours and is skipped silently.
	Convert func(*note.Event) (note.Note, error)

	Cache   *cache.Cache
	Overlay *overlay.Store
	DB      *store.DB

	// OnLoaded receives the deduplicated first batch after (re)subscribing.
	OnLoaded func(notes []note.Note)

	// OnAdded receives each note whose id was new to the cache.
	OnAdded func(n note.Note)

	// OnUpdated receives each note whose id already existed but whose
	// content or flags changed.
	OnUpdated func(n note.Note)

	// InitialBackoff is the first reconnect delay (default 1s).
	InitialBackoff time.Duration

	// MaxBackoff caps the reconnect delay (default 30s).
	MaxBackoff time.Duration

	Logger *slog.Logger
}

// Loop is the live subscription driver.
type Loop struct {
	cfg    Config
	logger *slog.Logger

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a watch loop in the Stopped state.
func New(cfg Config) *Loop {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.InitialBackoff == 0 {
		cfg.InitialBackoff = time.Second
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	return &Loop{cfg: cfg, logger: cfg.Logger}
}

// State returns the current lifecycle state.
func (l *Loop) State() State {
	return State(l.state.Load())
}

// Start transitions Stopped -> Starting and runs the loop until Stop.
// Calling Start on a running loop is a no-op.
func (l *Loop) Start() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.state.Store(int32(StateStarting))

	l.wg.Add(1)
	go l.run(ctx)
}

// Stop cancels the active subscription and any pending backoff timer, then
// waits for the loop to exit. Idempotent.
func (l *Loop) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	l.state.Store(int32(StateStopped))
}

// run is the reconnect loop: subscribe, stream until failure, back off,
// repeat. Exits only on Stop.
func (l *Loop) run(ctx context.Context) {
	defer l.wg.Done()

	backoff := l.cfg.InitialBackoff
	for {
		r := l.cfg.Relay()
		if r == nil {
			if !l.sleep(ctx, backoff) {
				return
			}
			continue
		}

		sub, err := r.Subscribe(ctx, l.cfg.Filter())
		if err != nil {
			l.logger.Warn("subscription failed", "error", err)
			l.state.Store(int32(StateReconnecting))
			if !l.sleep(ctx, backoff) {
				return
			}
			backoff = l.nextBackoff(backoff)
			continue
		}

		l.state.Store(int32(StateStreaming))
		backoff = l.cfg.InitialBackoff

		if !l.stream(ctx, sub) {
			sub.Close()
			return
		}
		sub.Close()

		l.state.Store(int32(StateReconnecting))
		l.logger.Info("subscription lost, reconnecting")
		if !l.sleep(ctx, backoff) {
			return
		}
		backoff = l.nextBackoff(backoff)
	}
}

// stream consumes one subscription: the stored first batch becomes a single
// loaded notification, then live events flow one by one. Returns false when
// the loop should exit (Stop), true when it should reconnect.
func (l *Loop) stream(ctx context.Context, sub relay.Subscription) bool {
	var (
		batch    []note.Note
		batchIDs = make(map[string]bool)
		live     = false
	)

	// The end-of-stored signal is a closed channel, so the case must be
	// disabled after the first receipt or the select would never block again.
	eose := sub.EndOfStored()

	flushBatch := func() {
		live = true
		// Drain events already buffered ahead of the end-of-stored signal
		// into the batch.
		for {
			select {
			case ev := <-sub.Events():
				l.collect(&ev, &batch, batchIDs)
			default:
				if l.cfg.OnLoaded != nil {
					l.cfg.OnLoaded(batch)
				}
				batch = nil
				return
			}
		}
	}

	for {
		select {
		case <-ctx.Done():
			return false

		case <-sub.Done():
			if err := sub.Err(); err != nil {
				l.logger.Warn("subscription terminated", "error", err)
			}
			return true

		case <-eose:
			eose = nil
			if !live {
				flushBatch()
			}

		case ev := <-sub.Events():
			if !live {
				l.collect(&ev, &batch, batchIDs)
				continue
			}
			l.handleLive(&ev)
		}
	}
}

// collect folds one stored event into the first batch, deduplicating by id,
// and merges it into cache and store without emitting per-note events.
func (l *Loop) collect(ev *note.Event, batch *[]note.Note, seen map[string]bool) {
	if seen[ev.ID] {
		return
	}
	n, err := l.cfg.Convert(ev)
	if err != nil {
		return
	}
	seen[ev.ID] = true
	l.persist(ev)
	l.cfg.Overlay.SetSynced(ev.ID)
	n.IsSynced = true
	l.cfg.Cache.Upsert(n)
	*batch = append(*batch, n)
}

// handleLive merges one live event and emits added/updated, never both, and
// nothing at all for an occurrence identical to what the cache already has.
func (l *Loop) handleLive(ev *note.Event) {
	n, err := l.cfg.Convert(ev)
	if err != nil {
		// Not decryptable with our identity: not one of our notes.
		return
	}

	// Observing the note from the relay means it is synced.
	l.cfg.Overlay.SetSynced(ev.ID)
	n.IsSynced = true

	existing, exists := l.cfg.Cache.Get(ev.ID)
	if exists && notesEqual(existing, n) {
		// Duplicate delivery; keep UI updates monotonic.
		return
	}

	l.persist(ev)
	inserted := l.cfg.Cache.Upsert(n)

	switch {
	case inserted && l.cfg.OnAdded != nil:
		l.cfg.OnAdded(n)
	case !inserted && l.cfg.OnUpdated != nil:
		l.cfg.OnUpdated(n)
	}
}

// persist writes the event through to the local store. Failures are
// non-fatal: the cache still serves, storage catches up on the next sync.
func (l *Loop) persist(ev *note.Event) {
	if l.cfg.DB == nil {
		return
	}
	if err := l.cfg.DB.SaveEvent(context.Background(), ev); err != nil {
		l.logger.Warn("failed to persist watched event", "id", ev.ID, "error", err)
	}
}

// sleep waits for the given duration or until the loop is stopped.
// Returns false if the loop should exit.
func (l *Loop) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// nextBackoff doubles the delay up to the cap, with up to 25% jitter.
func (l *Loop) nextBackoff(current time.Duration) time.Duration {
	next := current * 2
	if next > l.cfg.MaxBackoff {
		next = l.cfg.MaxBackoff
	}
	if quarter := int64(next / 4); quarter > 0 {
		next -= time.Duration(rand.Int63n(quarter))
	}
	return next
}

// notesEqual compares two notes including overlay flags.
func notesEqual(a, b note.Note) bool {
	if a.ID != b.ID || a.Text != b.Text || a.CreatedAt != b.CreatedAt ||
		a.IsRead != b.IsRead || a.IsSynced != b.IsSynced {
		return false
	}
	if len(a.Tags) != len(b.Tags) {
		return false
	}
	for i := range a.Tags {
		if a.Tags[i] != b.Tags[i] {
			return false
		}
	}
	return true
}
