package core

import (
	"context"
	"testing"
	"time"
)

func TestInMemoryTransportBroadcastReachesPeer(t *testing.T) {
	a := NewInMemoryTransport(Did{Method: "key", ID: "a"})
	b := NewInMemoryTransport(Did{Method: "key", ID: "b"})
	Link(a, b)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Envelope, 1)
	if err := b.Subscribe(ctx, "gossip", func(env Envelope) { received <- env }); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	env := Envelope{Version: ProtocolVersion, Kind: PayloadGossip, SenderDid: a.LocalPeerId(), Timestamp: time.Unix(1, 0)}
	if err := a.Broadcast(ctx, "gossip", env); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case got := <-received:
		if got.SenderDid != a.LocalPeerId() {
			t.Fatalf("sender = %v, want %v", got.SenderDid, a.LocalPeerId())
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast delivery")
	}
}

func TestInMemoryTransportSendToUnknownPeerFails(t *testing.T) {
	a := NewInMemoryTransport(Did{Method: "key", ID: "a"})
	err := a.Send(context.Background(), Did{Method: "key", ID: "ghost"}, Envelope{})
	if !isErr(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryTransportDiscoverPeersExcludesSelf(t *testing.T) {
	a := NewInMemoryTransport(Did{Method: "key", ID: "a"})
	b := NewInMemoryTransport(Did{Method: "key", ID: "b"})
	Link(a, b)

	peers, err := a.DiscoverPeers(context.Background())
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(peers) != 1 || peers[0].Did != b.LocalPeerId() {
		t.Fatalf("peers = %v, want just b", peers)
	}
}
