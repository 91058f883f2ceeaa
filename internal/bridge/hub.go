package bridge

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// hub fans events out to every subscriber through bounded buffers.
//
// A slow or absent subscriber never blocks a publisher: when a subscriber's
// buffer is full the oldest buffered event is dropped to make room, a
// counter is bumped, and the lag is logged once per subscriber. Consumers
// treat events as hints and can re-query for ground truth, so dropping old
// events is safe.
type hub struct {
	mu      sync.Mutex
	subs    map[*hubSub]bool
	dropped atomic.Uint64
	logger  *slog.Logger
}

type hubSub struct {
	ch     chan Event
	warned bool
}

func newHub(logger *slog.Logger) *hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &hub{
		subs:   make(map[*hubSub]bool),
		logger: logger,
	}
}

// subscribe registers a new subscriber and returns its channel plus a
// cancel function. Initial events are seeded into the buffer before the
// subscriber is registered, so they precede anything published afterwards.
// The channel is closed on cancel or closeAll.
func (h *hub) subscribe(buffer int, initial ...Event) (<-chan Event, func()) {
	if buffer < len(initial) {
		buffer = len(initial)
	}
	sub := &hubSub{ch: make(chan Event, buffer)}
	for _, ev := range initial {
		sub.ch <- ev
	}

	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if h.subs[sub] {
			delete(h.subs, sub)
			close(sub.ch)
		}
		h.mu.Unlock()
	}
	return sub.ch, cancel
}

// publish delivers an event to every subscriber, dropping the oldest
// buffered event for any subscriber that has fallen behind.
func (h *hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		select {
		case sub.ch <- ev:
			continue
		default:
		}

		// Buffer full: make room by discarding the oldest event.
		select {
		case <-sub.ch:
			h.dropped.Add(1)
			if !sub.warned {
				sub.warned = true
				h.logger.Warn("event subscriber lagging, dropping oldest events")
			}
		default:
		}

		select {
		case sub.ch <- ev:
		default:
			// Still full (racing consumer); count the new event as dropped.
			h.dropped.Add(1)
		}
	}
}

// droppedCount returns the total number of events dropped across all
// subscribers since startup.
func (h *hub) droppedCount() uint64 {
	return h.dropped.Load()
}

// closeAll closes every subscriber channel.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for sub := range h.subs {
		delete(h.subs, sub)
		close(sub.ch)
	}
}
