// Package relay implements the wire-level client for dialog relays:
// publishing events, bounded fetches, live subscriptions, and the
// set-reconciliation exchange.
//
// The wire protocol is JSON arrays over a websocket:
//
//	client -> relay:
//	  ["EVENT", <event>]
//	  ["REQ", <sub>, <filter>]
//	  ["CLOSE", <sub>]
//	  ["NEG-OPEN", <sub>, <filter>, [[id, created_at], ...]]
//	relay -> client:
//	  ["OK", <event-id>, <accepted>, <message>]
//	  ["EVENT", <sub>, <event>]
//	  ["EOSE", <sub>]
//	  ["NEG-MSG", <sub>, {"need": [ids]}]
//	  ["NEG-ERR", <sub>, <reason>]
//	  ["NOTICE", <message>]
//
// A reconciliation opens with the client's (id, created_at) fingerprints;
// the relay answers with the ids it needs, streams the events the client
// lacks on the same subscription, and terminates with EOSE.
package relay

import (
	"context"
	"errors"

	"github.com/futurepaul/dialog-final-v2/internal/note"
)

// ErrReconcileUnsupported indicates the relay rejected or does not speak the
// set-reconciliation protocol. Callers fall back to plain subscribe mode.
var ErrReconcileUnsupported = errors.New("relay does not support reconciliation")

// ErrClosed indicates the connection has been torn down.
var ErrClosed = errors.New("relay connection closed")

// IDStamp is one entry of the client's reconciliation fingerprint: an event
// id plus its created_at. Nothing else about the local state crosses the
// wire during reconciliation.
type IDStamp struct {
	ID        string
	CreatedAt int64
}

// Diff is the outcome of a reconciliation exchange.
type Diff struct {
	// Missing holds events the relay had that the client lacked.
	Missing []note.Event

	// NeedIDs lists event ids the relay asked the client to publish.
	NeedIDs []string
}

// Relay is the client-side view of one remote relay.
//
// Implementations must be safe for concurrent use: the sync engine and the
// watch loop share a single connection.
type Relay interface {
	// URL returns the relay address this client talks to.
	URL() string

	// Publish sends an event and waits for the relay's acknowledgment.
	Publish(ctx context.Context, ev *note.Event) error

	// Fetch performs a bounded fetch: it requests all stored events
	// matching the filter and returns once the relay signals the end of
	// stored events or the context expires. On context expiry the events
	// collected so far are returned along with the error.
	Fetch(ctx context.Context, f note.Filter) ([]note.Event, error)

	// Subscribe opens a live subscription. Events arrive on the returned
	// subscription's channel until it is closed or the connection fails.
	Subscribe(ctx context.Context, f note.Filter) (Subscription, error)

	// Reconcile runs a set-reconciliation exchange for the filter, given
	// the client's current (id, created_at) fingerprints. Returns
	// ErrReconcileUnsupported if the relay rejects the protocol.
	Reconcile(ctx context.Context, f note.Filter, have []IDStamp) (Diff, error)

	// Close tears down the connection and fails all live subscriptions.
	Close() error
}

// Subscription is a live event stream from a relay.
type Subscription interface {
	// Events returns the channel delivering matching events.
	Events() <-chan note.Event

	// EndOfStored is closed once the relay has delivered all stored events
	// matching the filter; everything after is live.
	EndOfStored() <-chan struct{}

	// Done is closed when the subscription terminates for any reason.
	Done() <-chan struct{}

	// Err returns the terminal error, if any, once Done is closed.
	Err() error

	// Close cancels the subscription.
	Close()
}
