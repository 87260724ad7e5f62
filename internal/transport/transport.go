// Package transport defines the abstract per-peer message boundary the
// replication engine runs over (spec §4.7, §6), deliberately thin since
// the wire protocol's framing and semantics — not the carrier — are the
// core's concern (spec §2 "Non-goals": transport implementation detail).
package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/warren/internal/wire"
)

// Envelope pairs an inbound SyncMessage with the peer id it arrived
// from, since Transport multiplexes every connected peer onto one
// inbox (spec §5 "Transport outbox: per-peer; messages to one peer are
// ordered").
type Envelope struct {
	PeerID string
	Msg    wire.SyncMessage
}

// Transport sends and receives SyncMessage frames to/from named peers.
// Messages to one peer are delivered in send order; no ordering is
// implied across different peers.
type Transport interface {
	// Send delivers msg to peerID, blocking only as long as the
	// implementation's per-peer outbox is full (spec §5 "Back-pressure").
	Send(ctx context.Context, peerID string, msg wire.SyncMessage) error
	// Inbox returns the channel every inbound Envelope is delivered on,
	// across all peers.
	Inbox() <-chan Envelope
	Close() error
}

// InMemoryTransport is a direct, in-process Transport used for tests and
// single-binary demos: two InMemoryTransports created by NewLocalPair are
// wired so one's Send reaches the other's Inbox.
type InMemoryTransport struct {
	selfID string
	peer   *InMemoryTransport
	inbox  chan Envelope

	mu     sync.Mutex
	closed bool
}

// NewLocalPair builds two connected InMemoryTransports, aID and bID each
// naming the other side as seen from its own peer's perspective.
func NewLocalPair(aID, bID string, bufSize int) (a, b *InMemoryTransport) {
	a = &InMemoryTransport{selfID: aID, inbox: make(chan Envelope, bufSize)}
	b = &InMemoryTransport{selfID: bID, inbox: make(chan Envelope, bufSize)}
	a.peer, b.peer = b, a
	return a, b
}

func (t *InMemoryTransport) Send(ctx context.Context, peerID string, msg wire.SyncMessage) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return fmt.Errorf("transport: send on closed transport")
	}
	select {
	case t.peer.inbox <- Envelope{PeerID: t.selfID, Msg: msg}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *InMemoryTransport) Inbox() <-chan Envelope {
	return t.inbox
}

func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.closed {
		t.closed = true
		close(t.inbox)
	}
	return nil
}
