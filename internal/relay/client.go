package relay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/futurepaul/dialog-final-v2/internal/note"
)

// subBuffer is the per-subscription event buffer. A lagging consumer drops
// events rather than blocking the shared read loop; de-duplication upstream
// makes redelivery after a reconnect harmless.
const subBuffer = 100

// Client is a websocket relay client implementing Relay.
type Client struct {
	url    string
	logger *slog.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu        sync.Mutex
	subs      map[string]*clientSub
	pendingOK map[string]chan okResult
	closed    bool

	readCancel context.CancelFunc
	wg         sync.WaitGroup
}

type okResult struct {
	accepted bool
	message  string
}

// Dial connects to a relay and starts the shared read loop.
//
// If logger is nil, slog.Default() is used.
func Dial(ctx context.Context, url string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial relay %s: %w", url, err)
	}
	// Reconciliation fingerprints can get large for big note sets.
	conn.SetReadLimit(16 << 20)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		url:        url,
		logger:     logger,
		conn:       conn,
		subs:       make(map[string]*clientSub),
		pendingOK:  make(map[string]chan okResult),
		readCancel: cancel,
	}

	c.wg.Add(1)
	go c.readLoop(readCtx)

	return c, nil
}

// URL implements Relay.
func (c *Client) URL() string {
	return c.url
}

// Close implements Relay.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.readCancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "client closing")
	c.wg.Wait()
	c.failAll(ErrClosed)
	return nil
}

// Publish implements Relay: it sends the event and waits for the relay's OK.
func (c *Client) Publish(ctx context.Context, ev *note.Event) error {
	ch := make(chan okResult, 1)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pendingOK[ev.ID] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pendingOK, ev.ID)
		c.mu.Unlock()
	}()

	frame, err := encodeEventFrame(ev)
	if err != nil {
		return err
	}
	if err := c.writeFrame(ctx, frame); err != nil {
		return err
	}

	select {
	case res := <-ch:
		if !res.accepted {
			return fmt.Errorf("relay rejected event %s: %s", ev.ID, res.message)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("publish of %s timed out: %w", ev.ID, ctx.Err())
	}
}

// Fetch implements Relay: a REQ that collects stored events until EOSE.
func (c *Client) Fetch(ctx context.Context, f note.Filter) ([]note.Event, error) {
	sub, err := c.Subscribe(ctx, f)
	if err != nil {
		return nil, err
	}
	defer sub.Close()

	var events []note.Event
	for {
		select {
		case ev := <-sub.Events():
			events = append(events, ev)
		case <-sub.EndOfStored():
			// Drain anything already buffered ahead of the EOSE signal.
			for {
				select {
				case ev := <-sub.Events():
					events = append(events, ev)
				default:
					return events, nil
				}
			}
		case <-sub.Done():
			return events, sub.Err()
		case <-ctx.Done():
			return events, fmt.Errorf("fetch timed out: %w", ctx.Err())
		}
	}
}

// Subscribe implements Relay.
func (c *Client) Subscribe(ctx context.Context, f note.Filter) (Subscription, error) {
	sub := newClientSub(c, uuid.NewString())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	frame, err := encodeReqFrame(sub.id, f)
	if err != nil {
		c.removeSub(sub.id)
		return nil, err
	}
	if err := c.writeFrame(ctx, frame); err != nil {
		c.removeSub(sub.id)
		return nil, err
	}
	return sub, nil
}

// Reconcile implements Relay.
func (c *Client) Reconcile(ctx context.Context, f note.Filter, have []IDStamp) (Diff, error) {
	sub := newClientSub(c, uuid.NewString())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Diff{}, ErrClosed
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()
	defer sub.Close()

	frame, err := encodeNegOpenFrame(sub.id, f, have)
	if err != nil {
		return Diff{}, err
	}
	if err := c.writeFrame(ctx, frame); err != nil {
		return Diff{}, err
	}

	var diff Diff
	for {
		select {
		case ev := <-sub.events:
			diff.Missing = append(diff.Missing, ev)
		case need := <-sub.negNeed:
			diff.NeedIDs = need
		case reason := <-sub.negErr:
			return Diff{}, fmt.Errorf("%w: %s", ErrReconcileUnsupported, reason)
		case <-sub.EndOfStored():
			for {
				select {
				case ev := <-sub.events:
					diff.Missing = append(diff.Missing, ev)
				case need := <-sub.negNeed:
					diff.NeedIDs = need
				default:
					return diff, nil
				}
			}
		case <-sub.Done():
			if err := sub.Err(); err != nil {
				return diff, err
			}
			return diff, ErrClosed
		case <-ctx.Done():
			return diff, fmt.Errorf("reconciliation timed out: %w", ctx.Err())
		}
	}
}

// writeFrame serializes all writes onto the single connection.
func (c *Client) writeFrame(ctx context.Context, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
		return fmt.Errorf("relay write failed: %w", err)
	}
	return nil
}

// readLoop dispatches inbound frames to subscriptions and OK waiters. It
// exits when the connection fails or the client closes, failing every live
// subscription so consumers observe the disconnect.
func (c *Client) readLoop(ctx context.Context) {
	defer c.wg.Done()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			c.failAll(fmt.Errorf("relay connection lost: %w", err))
			return
		}

		fr, err := parseFrame(data)
		if err != nil {
			c.logger.Warn("ignoring malformed relay frame", "error", err)
			continue
		}
		c.dispatch(fr)
	}
}

func (c *Client) dispatch(fr inboundFrame) {
	switch fr.Label {
	case frameOK:
		c.mu.Lock()
		ch := c.pendingOK[fr.EventID]
		c.mu.Unlock()
		if ch != nil {
			select {
			case ch <- okResult{accepted: fr.Accepted, message: fr.Message}:
			default:
			}
		}

	case frameEvent:
		if sub := c.lookupSub(fr.SubID); sub != nil {
			select {
			case sub.events <- fr.Event:
			default:
				c.logger.Warn("subscription buffer full, dropping event",
					"sub", fr.SubID, "event", fr.Event.ID)
			}
		}

	case frameEOSE:
		if sub := c.lookupSub(fr.SubID); sub != nil {
			sub.signalEOSE()
		}

	case frameNegMsg:
		if sub := c.lookupSub(fr.SubID); sub != nil {
			select {
			case sub.negNeed <- fr.Need:
			default:
			}
		}

	case frameNegErr:
		if sub := c.lookupSub(fr.SubID); sub != nil {
			select {
			case sub.negErr <- fr.Reason:
			default:
			}
		}

	case frameNotice:
		c.logger.Info("relay notice", "relay", c.url, "message", fr.Reason)
	}
}

func (c *Client) lookupSub(id string) *clientSub {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.subs[id]
}

func (c *Client) removeSub(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
}

// failAll terminates every live subscription and pending publish.
func (c *Client) failAll(err error) {
	c.mu.Lock()
	subs := make([]*clientSub, 0, len(c.subs))
	for _, sub := range c.subs {
		subs = append(subs, sub)
	}
	c.subs = make(map[string]*clientSub)
	pending := c.pendingOK
	c.pendingOK = make(map[string]chan okResult)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fail(err)
	}
	for _, ch := range pending {
		select {
		case ch <- okResult{accepted: false, message: err.Error()}:
		default:
		}
	}
}

// clientSub is the concrete Subscription over one REQ or NEG-OPEN exchange.
type clientSub struct {
	id     string
	client *Client

	events  chan note.Event
	negNeed chan []string
	negErr  chan string

	eose     chan struct{}
	eoseOnce sync.Once

	done     chan struct{}
	doneOnce sync.Once

	errMu sync.Mutex
	err   error
}

func newClientSub(c *Client, id string) *clientSub {
	return &clientSub{
		id:      id,
		client:  c,
		events:  make(chan note.Event, subBuffer),
		negNeed: make(chan []string, 1),
		negErr:  make(chan string, 1),
		eose:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Events implements Subscription.
func (s *clientSub) Events() <-chan note.Event { return s.events }

// EndOfStored implements Subscription.
func (s *clientSub) EndOfStored() <-chan struct{} { return s.eose }

// Done implements Subscription.
func (s *clientSub) Done() <-chan struct{} { return s.done }

// Err implements Subscription.
func (s *clientSub) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

// Close implements Subscription: it tells the relay to drop the
// subscription and terminates the local stream.
func (s *clientSub) Close() {
	s.client.removeSub(s.id)

	if frame, err := encodeCloseFrame(s.id); err == nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.client.writeFrame(ctx, frame)
		cancel()
	}
	s.fail(nil)
}

func (s *clientSub) signalEOSE() {
	s.eoseOnce.Do(func() { close(s.eose) })
}

func (s *clientSub) fail(err error) {
	s.doneOnce.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}
