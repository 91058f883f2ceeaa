package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/futurepaul/dialog-final-v2/internal/cache"
	"github.com/futurepaul/dialog-final-v2/internal/cipher"
	"github.com/futurepaul/dialog-final-v2/internal/keys"
	"github.com/futurepaul/dialog-final-v2/internal/note"
	"github.com/futurepaul/dialog-final-v2/internal/overlay"
	"github.com/futurepaul/dialog-final-v2/internal/relay"
	"github.com/futurepaul/dialog-final-v2/internal/store"
)

// fakeRelay is a scriptable in-memory relay.
type fakeRelay struct {
	url string

	fetchEvents  []note.Event
	fetchErr     error
	fetchCalls   int
	reconcileErr error
	reconcileRes relay.Diff
	reconCalls   int
	published    []note.Event
	closed       bool
}

func (f *fakeRelay) URL() string { return f.url }

func (f *fakeRelay) Publish(ctx context.Context, ev *note.Event) error {
	f.published = append(f.published, *ev)
	return nil
}

func (f *fakeRelay) Fetch(ctx context.Context, filter note.Filter) ([]note.Event, error) {
	f.fetchCalls++
	return f.fetchEvents, f.fetchErr
}

func (f *fakeRelay) Subscribe(ctx context.Context, filter note.Filter) (relay.Subscription, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeRelay) Reconcile(ctx context.Context, filter note.Filter, have []relay.IDStamp) (relay.Diff, error) {
	f.reconCalls++
	return f.reconcileRes, f.reconcileErr
}

func (f *fakeRelay) Close() error {
	f.closed = true
	return nil
}

// harness bundles an engine with its collaborators and fake relay.
type harness struct {
	engine   *Engine
	relay    *fakeRelay
	keys     *keys.Keys
	cipher   *cipher.Cipher
	db       *store.DB
	cache    *cache.Cache
	overlay  *overlay.Store
	warnings *[]string
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	k, err := keys.Generate()
	if err != nil {
		t.Fatal(err)
	}
	cpr, err := cipher.New(k.Seed())
	if err != nil {
		t.Fatal(err)
	}
	db, err := store.Open(filepath.Join(t.TempDir(), "dialog.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := cache.New()
	ov := overlay.New(db, logger)
	fr := &fakeRelay{url: "ws://fake"}
	warnings := &[]string{}

	e := New(Config{
		Keys:    k,
		Cipher:  cpr,
		DB:      db,
		Cache:   c,
		Overlay: ov,
		Dial: func(ctx context.Context, url string, logger *slog.Logger) (relay.Relay, error) {
			return fr, nil
		},
		FetchTimeout:     2 * time.Second,
		ReconcileTimeout: 2 * time.Second,
		OnWarning:        func(msg string) { *warnings = append(*warnings, msg) },
		Logger:           logger,
	})

	return &harness{engine: e, relay: fr, keys: k, cipher: cpr, db: db, cache: c, overlay: ov, warnings: warnings}
}

// selfEvent builds a signed event whose content this harness can decrypt.
func (h *harness) selfEvent(t *testing.T, text string, createdAt int64) note.Event {
	t.Helper()
	ct, err := h.cipher.Encrypt(text)
	if err != nil {
		t.Fatal(err)
	}
	ev := note.BuildNoteEvent(h.keys.PublicHex(), ct, note.ParseHashtags(text), createdAt)
	if err := ev.Sign(h.keys.Private()); err != nil {
		t.Fatal(err)
	}
	return ev
}

func (h *harness) connect(t *testing.T) {
	t.Helper()
	if _, err := h.engine.Connect(context.Background(), "ws://fake"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
}

func TestSyncWithoutRelay(t *testing.T) {
	h := newHarness(t)
	if err := h.engine.Sync(context.Background(), ModeAuto); !errors.Is(err, ErrNoRelay) {
		t.Errorf("Sync error = %v, want ErrNoRelay", err)
	}
	if err := h.engine.Publish(context.Background(), &note.Event{}); !errors.Is(err, ErrNoRelay) {
		t.Errorf("Publish error = %v, want ErrNoRelay", err)
	}
}

func TestReconcileMergesMissingAndPublishesNeeded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// The relay has one event we lack.
	remote := h.selfEvent(t, "from another device #remote", 100)
	// We have one event the relay lacks.
	local := h.selfEvent(t, "local only", 200)
	if err := h.db.SaveEvent(ctx, &local); err != nil {
		t.Fatal(err)
	}
	h.cache.Upsert(note.Note{ID: local.ID, Text: "local only", CreatedAt: 200})

	h.relay.reconcileRes = relay.Diff{
		Missing: []note.Event{remote},
		NeedIDs: []string{local.ID},
	}

	h.connect(t)
	if err := h.engine.Sync(ctx, ModeAuto); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	n, ok := h.cache.Get(remote.ID)
	if !ok {
		t.Fatal("missing event was not merged into the cache")
	}
	if n.Text != "from another device #remote" || !n.IsSynced {
		t.Errorf("merged note = %+v", n)
	}

	if len(h.relay.published) != 1 || h.relay.published[0].ID != local.ID {
		t.Fatalf("published = %v, want the locally held event", h.relay.published)
	}
	if rec := h.overlay.Get(local.ID); !rec.IsSynced {
		t.Error("published event should be marked synced")
	}

	// Merged event must be durable.
	stored, err := h.db.Query(ctx, note.Filter{IDs: []string{remote.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 1 {
		t.Error("merged event was not persisted")
	}
}

func TestReconcileFailureLatchesFallbackOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.relay.reconcileErr = relay.ErrReconcileUnsupported
	h.relay.fetchEvents = []note.Event{h.selfEvent(t, "fetched", 50)}

	h.connect(t)

	if err := h.engine.Sync(ctx, ModeAuto); err != nil {
		t.Fatalf("Sync should fall back cleanly: %v", err)
	}
	if !h.engine.FallbackLatched() {
		t.Error("fallback should be latched after a reconcile failure")
	}
	if h.relay.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1", h.relay.fetchCalls)
	}
	if _, ok := h.cache.Get(h.relay.fetchEvents[0].ID); !ok {
		t.Error("fallback fetch result was not merged")
	}

	// A second auto sync goes straight to fetch and emits no second warning.
	if err := h.engine.Sync(ctx, ModeAuto); err != nil {
		t.Fatal(err)
	}
	if h.relay.reconCalls != 1 {
		t.Errorf("reconCalls = %d, want 1 (latched session must not retry)", h.relay.reconCalls)
	}
	if len(*h.warnings) != 1 {
		t.Errorf("warnings = %v, want exactly one", *h.warnings)
	}
}

func TestModeSubscribeSkipsReconcile(t *testing.T) {
	h := newHarness(t)
	h.connect(t)

	if err := h.engine.Sync(context.Background(), ModeSubscribe); err != nil {
		t.Fatal(err)
	}
	if h.relay.reconCalls != 0 {
		t.Error("subscribe mode must not attempt reconciliation")
	}
	if h.relay.fetchCalls != 1 {
		t.Errorf("fetchCalls = %d, want 1", h.relay.fetchCalls)
	}
}

func TestMergeSkipsUndecryptableEvents(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	foreign := note.BuildNoteEvent(h.keys.PublicHex(), "bm90IHJlYWwgY2lwaGVydGV4dA==", nil, 10)
	if err := foreign.Sign(h.keys.Private()); err != nil {
		t.Fatal(err)
	}
	h.relay.fetchEvents = []note.Event{foreign, h.selfEvent(t, "readable", 20)}

	h.connect(t)
	if err := h.engine.Sync(ctx, ModeSubscribe); err != nil {
		t.Fatal(err)
	}

	if h.cache.Len() != 1 {
		t.Errorf("cache has %d notes, want 1 (foreign ciphertext skipped)", h.cache.Len())
	}
	if _, ok := h.cache.Get(foreign.ID); ok {
		t.Error("undecryptable event must not enter the cache")
	}
}

func TestFetchErrorSurfacesWarningButMergesPartial(t *testing.T) {
	h := newHarness(t)

	h.relay.fetchEvents = []note.Event{h.selfEvent(t, "partial", 10)}
	h.relay.fetchErr = errors.New("connection reset")

	h.connect(t)
	err := h.engine.Sync(context.Background(), ModeSubscribe)
	if err == nil {
		t.Fatal("expected an error from an incomplete fetch")
	}
	if h.cache.Len() != 1 {
		t.Error("partial results should still merge")
	}
	if len(*h.warnings) == 0 {
		t.Error("an incomplete fetch should surface a warning")
	}
}

func TestPublishMarksSynced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	ev := h.selfEvent(t, "note", 10)
	h.cache.Upsert(note.Note{ID: ev.ID, Text: "note", CreatedAt: 10})

	h.connect(t)
	if err := h.engine.Publish(ctx, &ev); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	if n, _ := h.cache.Get(ev.ID); !n.IsSynced {
		t.Error("cache entry should be synced after publish")
	}
	if rec := h.overlay.Get(ev.ID); !rec.IsSynced {
		t.Error("overlay should be synced after publish")
	}
}

func TestConnectReplacesAndClosesPrevious(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first := h.relay
	h.connect(t)

	// Swap the dialer target and reconnect.
	second := &fakeRelay{url: "ws://other"}
	h.engine.cfg.Dial = func(ctx context.Context, url string, logger *slog.Logger) (relay.Relay, error) {
		return second, nil
	}
	if _, err := h.engine.Connect(ctx, "ws://other"); err != nil {
		t.Fatal(err)
	}

	if !first.closed {
		t.Error("previous relay should be closed on reconnect")
	}
	if h.engine.Relay() != relay.Relay(second) {
		t.Error("active relay should be the new connection")
	}

	h.engine.Disconnect()
	if !second.closed {
		t.Error("Disconnect should close the active relay")
	}
	if h.engine.Relay() != nil {
		t.Error("Relay should be nil after Disconnect")
	}
}

func TestNoteFromEventDecoratesOverlay(t *testing.T) {
	h := newHarness(t)

	ev := h.selfEvent(t, "decorated #tags", 42)
	h.overlay.SetRead(ev.ID)

	n, err := h.engine.NoteFromEvent(&ev)
	if err != nil {
		t.Fatal(err)
	}
	if n.Text != "decorated #tags" || !n.IsRead || n.IsSynced {
		t.Errorf("note = %+v", n)
	}
	if len(n.Tags) != 1 || n.Tags[0] != "tags" {
		t.Errorf("tags = %v", n.Tags)
	}

	// Tampered content breaks the id/signature check before decryption.
	bad := ev
	bad.Content = "garbage"
	if _, err := h.engine.NoteFromEvent(&bad); err == nil || errors.Is(err, cipher.ErrDecrypt) {
		t.Errorf("error = %v, want a verification failure", err)
	}

	// A properly signed event carrying foreign ciphertext still surfaces
	// ErrDecrypt.
	foreign := note.BuildNoteEvent(h.keys.PublicHex(), "bm90IHJlYWwgY2lwaGVydGV4dA==", nil, 50)
	if err := foreign.Sign(h.keys.Private()); err != nil {
		t.Fatal(err)
	}
	if _, err := h.engine.NoteFromEvent(&foreign); !errors.Is(err, cipher.ErrDecrypt) {
		t.Errorf("error = %v, want ErrDecrypt", err)
	}
}

func TestMergeDropsEventsFailingVerification(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Decryptable content with a forged signature must not be merged.
	forged := h.selfEvent(t, "forged", 10)
	forged.Sig = strings.Repeat("0", 128)
	h.relay.fetchEvents = []note.Event{forged, h.selfEvent(t, "genuine", 20)}

	h.connect(t)
	if err := h.engine.Sync(ctx, ModeSubscribe); err != nil {
		t.Fatalf("Sync failed: %v", err)
	}

	if h.cache.Contains(forged.ID) {
		t.Error("event with an invalid signature reached the cache")
	}
	if h.cache.Len() != 1 {
		t.Errorf("cache has %d notes, want only the genuine one", h.cache.Len())
	}
	stored, err := h.db.Query(ctx, note.Filter{IDs: []string{forged.ID}})
	if err != nil {
		t.Fatal(err)
	}
	if len(stored) != 0 {
		t.Error("event with an invalid signature was persisted")
	}
}
