package core

// Protocol codec: the envelope wrapping every peer message, with tagged
// payload variants and explicit version handling per spec §6 "Wire protocol
// (peer)". Grounded on the teacher's network.go gossip message shape and
// governance.go's JSON round-trip pattern, generalised to a single envelope
// covering every payload kind the mesh exchanges.

import (
	"encoding/json"
	"fmt"
	"time"
)

// ProtocolVersion is the envelope wire version this build produces and the
// highest version it understands.
const ProtocolVersion = 1

// PayloadKind tags the variant carried by an Envelope. Unknown kinds at or
// below ProtocolVersion are ignored by older code; kinds above it are a
// version-mismatch error.
type PayloadKind string

const (
	PayloadJobAnnouncement   PayloadKind = "job_announcement"
	PayloadBidSubmission     PayloadKind = "bid_submission"
	PayloadAssignmentNotice  PayloadKind = "assignment_notice"
	PayloadReceiptSubmission PayloadKind = "receipt_submission"
	PayloadBlockAnnounce     PayloadKind = "block_announce"
	PayloadBlockRequest      PayloadKind = "block_request"
	PayloadBlockResponse     PayloadKind = "block_response"
	PayloadGovProposal       PayloadKind = "gov_proposal"
	PayloadGovVote           PayloadKind = "gov_vote"
	PayloadGovStateSync      PayloadKind = "gov_state_sync"
	PayloadFederationJoin    PayloadKind = "federation_join"
	PayloadFederationSync    PayloadKind = "federation_sync"
	PayloadGossip            PayloadKind = "gossip"
	PayloadHeartbeat         PayloadKind = "heartbeat"
	PayloadPeerDiscovery     PayloadKind = "peer_discovery"
)

// knownPayloadKinds lets this build distinguish "unknown but same version,
// ignore" from "unknown and higher version, error".
var knownPayloadKinds = map[PayloadKind]struct{}{
	PayloadJobAnnouncement: {}, PayloadBidSubmission: {}, PayloadAssignmentNotice: {},
	PayloadReceiptSubmission: {}, PayloadBlockAnnounce: {}, PayloadBlockRequest: {},
	PayloadBlockResponse: {}, PayloadGovProposal: {}, PayloadGovVote: {},
	PayloadGovStateSync: {}, PayloadFederationJoin: {}, PayloadFederationSync: {},
	PayloadGossip: {}, PayloadHeartbeat: {}, PayloadPeerDiscovery: {},
}

// Envelope is the wire shape of every peer message, per spec §6.
type Envelope struct {
	Version       int             `json:"version"`
	Kind          PayloadKind     `json:"kind"`
	Payload       json.RawMessage `json:"payload"`
	SenderDid     Did             `json:"sender_did"`
	RecipientDid  *Did            `json:"recipient_did,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Signature     []byte          `json:"signature"`
}

// NewEnvelope marshals payload and signs the resulting envelope (minus the
// signature field itself) with signer.
func NewEnvelope(signer *Signer, kind PayloadKind, recipient *Did, payload interface{}, now time.Time) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("core: marshal envelope payload: %w", err)
	}
	env := Envelope{
		Version:      ProtocolVersion,
		Kind:         kind,
		Payload:      raw,
		SenderDid:    signer.Did(),
		RecipientDid: recipient,
		Timestamp:    now,
	}
	digest := envelopeSigningBytes(env)
	sig, err := signer.Sign(digest)
	if err != nil {
		return Envelope{}, fmt.Errorf("core: sign envelope: %w", err)
	}
	env.Signature = sig
	return env, nil
}

// envelopeSigningBytes is the canonical byte sequence signed and verified
// for an envelope: everything except the signature itself.
func envelopeSigningBytes(env Envelope) []byte {
	cp := env
	cp.Signature = nil
	b, _ := json.Marshal(cp)
	return b
}

// Verify checks the envelope's signature against the sender's embedded
// did:key public key and validates the version/kind contract from spec §6.
func (env Envelope) Verify() error {
	if env.Version > ProtocolVersion {
		return fmt.Errorf("core: envelope version %d newer than supported %d: %w", env.Version, ProtocolVersion, ErrInvalidInput)
	}
	if _, known := knownPayloadKinds[env.Kind]; !known && env.Version == ProtocolVersion {
		return nil // unknown kind at our own version: caller should ignore it, not error
	}
	pub, err := PublicKeyFromDid(env.SenderDid)
	if err != nil {
		return err
	}
	digest := envelopeSigningBytes(env)
	if !VerifySignature(pub, digest, env.Signature) {
		return fmt.Errorf("core: envelope signature invalid from %s: %w", env.SenderDid, ErrSignature)
	}
	return nil
}

// IsKnown reports whether this build recognizes the envelope's payload kind.
func (env Envelope) IsKnown() bool {
	_, ok := knownPayloadKinds[env.Kind]
	return ok
}

// DecodePayload unmarshals the envelope's payload into out.
func (env Envelope) DecodePayload(out interface{}) error {
	if err := json.Unmarshal(env.Payload, out); err != nil {
		return fmt.Errorf("core: decode envelope payload kind %s: %w", env.Kind, err)
	}
	return nil
}

// envelopeToWire/envelopeFromWire are the on-the-wire (de)serialization used
// by transport backends; kept distinct from application-level
// marshal/unmarshal so the wire format can change without touching signing.
func envelopeToWire(env Envelope) ([]byte, error) {
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("core: encode envelope for wire: %w", err)
	}
	return b, nil
}

func envelopeFromWire(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("core: decode envelope from wire: %w", err)
	}
	return env, nil
}

// RequestPriority orders federation block requests, per spec §4.4.
type RequestPriority int

const (
	PriorityBackground RequestPriority = iota
	PriorityNormal
	PriorityCritical
)

// BlockRequestPayload asks a peer for specific blocks by Cid, at the given
// request priority.
type BlockRequestPayload struct {
	Cids     []Cid           `json:"cids"`
	Priority RequestPriority `json:"priority"`
}

// BlockResponsePayload carries the blocks a peer could satisfy from a
// BlockRequestPayload, plus any it could not find.
type BlockResponsePayload struct {
	Blocks  []DagBlock `json:"blocks"`
	Missing []Cid      `json:"missing"`
}

// GossipPayload is an opaque application-level broadcast, used for root
// advancement announcements and other best-effort fanout.
type GossipPayload struct {
	Topic string          `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// HeartbeatPayload is a minimal liveness signal between connected peers.
// Nothing in this package sends it on a timer.
type HeartbeatPayload struct {
	PeerDid   Did       `json:"peer_did"`
	SentAt    time.Time `json:"sent_at"`
	RootCid   Cid       `json:"root_cid"`
}
