package core

// Peer transport: the capability-based interface seen by the rest of the
// mesh (job manager, federation sync, governance), per spec §9 "Swapping an
// in-memory backend for a persistent one must require no core changes" and
// §2's component table ("Peer transport — Pub/sub, direct send, peer
// discovery (interface)"). The concrete libp2p-backed implementation lives
// in peer_transport_libp2p.go; an in-memory double for tests lives here
// alongside the interface, mirroring the teacher's pattern of keeping
// Node/Dialer interfaces next to a loopback-friendly implementation in
// network.go.

import (
	"context"
	"fmt"
	"sync"
)

// PeerInfo is the discovery-facing view of a mesh participant.
type PeerInfo struct {
	Did     Did
	Addr    string
	Latency int64 // milliseconds, last observed round trip; 0 if unknown
}

// PeerTransport is implemented by every transport backend: the libp2p
// adapter for production nodes, and an in-memory bus for tests.
type PeerTransport interface {
	// LocalPeerId returns this node's own Did as seen by the transport.
	LocalPeerId() Did
	// Broadcast gossips an envelope to all subscribers of topic.
	Broadcast(ctx context.Context, topic string, env Envelope) error
	// Send delivers an envelope directly to a single peer, bypassing
	// pub/sub. InMemoryTransport returns ErrNotFound if the peer is not
	// connected; Libp2pTransport returns an error wrapping ErrTimeout when
	// it cannot open a stream to the peer.
	Send(ctx context.Context, to Did, env Envelope) error
	// Subscribe registers handler for every envelope broadcast on topic.
	// With InMemoryTransport, envelopes delivered by Send reach the
	// handlers registered for the empty topic "", and a handler stays
	// registered after ctx is cancelled.
	Subscribe(ctx context.Context, topic string, handler func(Envelope)) error
	// DiscoverPeers returns the currently known peer set.
	DiscoverPeers(ctx context.Context) ([]PeerInfo, error)
	// Connect dials a peer by address (implementation-defined scheme).
	Connect(ctx context.Context, addr string) error
	// Close releases transport resources.
	Close() error
}

// InMemoryTransport is a loopback PeerTransport usable in tests and in
// single-process integration scenarios without a real network.
type InMemoryTransport struct {
	mu       sync.RWMutex
	self     Did
	peers    map[Did]*InMemoryTransport
	subs     map[string][]func(Envelope)
	closed   bool
}

// NewInMemoryTransport constructs a standalone node; use Link to connect it
// to peers sharing the same in-process bus.
func NewInMemoryTransport(self Did) *InMemoryTransport {
	return &InMemoryTransport{
		self:  self,
		peers: map[Did]*InMemoryTransport{self: nil}, // self entry stays nil; Link adds the other peers
		subs:  make(map[string][]func(Envelope)),
	}
}

// Link connects two in-memory transports bidirectionally.
func Link(a, b *InMemoryTransport) {
	a.mu.Lock()
	a.peers[b.self] = b
	a.mu.Unlock()
	b.mu.Lock()
	b.peers[a.self] = a
	b.mu.Unlock()
}

func (t *InMemoryTransport) LocalPeerId() Did { return t.self }

func (t *InMemoryTransport) Broadcast(ctx context.Context, topic string, env Envelope) error {
	t.mu.RLock()
	peers := make([]*InMemoryTransport, 0, len(t.peers))
	for did, p := range t.peers {
		if did == t.self || p == nil {
			continue
		}
		peers = append(peers, p)
	}
	t.mu.RUnlock()
	for _, p := range peers {
		p.deliver(topic, env)
	}
	t.deliver(topic, env)
	return nil
}

func (t *InMemoryTransport) Send(ctx context.Context, to Did, env Envelope) error {
	t.mu.RLock()
	p, ok := t.peers[to]
	t.mu.RUnlock()
	if !ok || p == nil {
		return fmt.Errorf("core: peer %s not connected: %w", to, ErrNotFound)
	}
	p.deliver("", env)
	return nil
}

func (t *InMemoryTransport) deliver(topic string, env Envelope) {
	t.mu.RLock()
	handlers := append([]func(Envelope){}, t.subs[topic]...)
	t.mu.RUnlock()
	for _, h := range handlers {
		h(env)
	}
}

func (t *InMemoryTransport) Subscribe(ctx context.Context, topic string, handler func(Envelope)) error {
	t.mu.Lock()
	t.subs[topic] = append(t.subs[topic], handler)
	t.mu.Unlock()
	go func() {
		<-ctx.Done()
	}()
	return nil
}

func (t *InMemoryTransport) DiscoverPeers(ctx context.Context) ([]PeerInfo, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]PeerInfo, 0, len(t.peers))
	for did, p := range t.peers {
		if did == t.self || p == nil {
			continue
		}
		out = append(out, PeerInfo{Did: did})
	}
	return out, nil
}

func (t *InMemoryTransport) Connect(ctx context.Context, addr string) error {
	return fmt.Errorf("core: in-memory transport does not dial addresses, use Link: %w", ErrInvalidInput)
}

func (t *InMemoryTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.subs = nil
	return nil
}
