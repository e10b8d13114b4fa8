package core

import (
	"testing"
	"time"
)

func TestEnvelopeRoundTripVerifies(t *testing.T) {
	signer, _, err := NewSigner(nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	payload := HeartbeatPayload{PeerDid: signer.Did(), SentAt: time.Unix(100, 0)}
	env, err := NewEnvelope(signer, PayloadHeartbeat, nil, payload, time.Unix(100, 0))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if err := env.Verify(); err != nil {
		t.Fatalf("verify: %v", err)
	}

	var decoded HeartbeatPayload
	if err := env.DecodePayload(&decoded); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if decoded.PeerDid != payload.PeerDid {
		t.Fatalf("decoded peer did = %v, want %v", decoded.PeerDid, payload.PeerDid)
	}
}

func TestEnvelopeTamperedSignatureFails(t *testing.T) {
	signer, _, err := NewSigner(nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	env, err := NewEnvelope(signer, PayloadGossip, nil, GossipPayload{Topic: "root"}, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	env.Signature[0] ^= 0xFF
	if err := env.Verify(); err == nil {
		t.Fatal("expected verification failure for tampered signature")
	}
}

func TestEnvelopeFutureVersionRejected(t *testing.T) {
	signer, _, err := NewSigner(nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	env, err := NewEnvelope(signer, PayloadGossip, nil, GossipPayload{Topic: "root"}, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	env.Version = ProtocolVersion + 1
	if err := env.Verify(); err == nil {
		t.Fatal("expected version-mismatch error for envelope newer than supported")
	}
}

func TestEnvelopeUnknownKindSameVersionIgnored(t *testing.T) {
	signer, _, err := NewSigner(nil)
	if err != nil {
		t.Fatalf("new signer: %v", err)
	}
	defer signer.Close()

	env, err := NewEnvelope(signer, PayloadKind("future_payload_kind"), nil, GossipPayload{}, time.Unix(1, 0))
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.IsKnown() {
		t.Fatal("expected unknown payload kind")
	}
	if err := env.Verify(); err != nil {
		t.Fatalf("unknown-kind-same-version envelope should not error, got %v", err)
	}
}
