package core

// Signer manages a node's self-sovereign keypair: derivation from a BIP-39
// mnemonic, signing, verification and rotation. Grounded on the teacher's
// wallet.go (Ed25519 + SLIP-0010-style derivation) but trimmed to a single
// "identity key" per node rather than a full HD wallet tree, and addressed
// by Did rather than a 20-byte chain Address.
//
// Signer depends only on crypto + logging, same import-hygiene rule the
// teacher applied to wallet.go: no ledger, no network, no runtime.

import (
	"crypto/ed25519"
	crand "crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	bip39 "github.com/tyler-smith/go-bip39"
	logrus "github.com/sirupsen/logrus"
)

const didMethodKey = "key"

// Signer holds private key material in memory only. Callers must call
// Close to wipe it on shutdown or rotation, per spec §9 Cryptographic keys.
type Signer struct {
	mu      sync.RWMutex
	priv    ed25519.PrivateKey
	pub     ed25519.PublicKey
	did     Did
	log     *logrus.Logger
}

// NewSigner generates a fresh Ed25519 keypair and mnemonic. The mnemonic
// must be persisted securely by the caller (it is the only recovery path).
func NewSigner(log *logrus.Logger) (*Signer, string, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return nil, "", fmt.Errorf("core: generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return nil, "", fmt.Errorf("core: generate mnemonic: %w", err)
	}
	s, err := SignerFromMnemonic(mnemonic, "", log)
	if err != nil {
		return nil, "", err
	}
	return s, mnemonic, nil
}

// SignerFromMnemonic reconstructs a Signer's keypair deterministically from
// a BIP-39 mnemonic plus optional passphrase, mirroring wallet.go's
// WalletFromMnemonic / NewHDWalletFromSeed but reduced to a single
// account/index pair rather than a full derivation tree.
func SignerFromMnemonic(mnemonic, passphrase string, log *logrus.Logger) (*Signer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("core: invalid mnemonic: %w", ErrInvalidInput)
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	if len(seed) < ed25519.SeedSize {
		return nil, fmt.Errorf("core: seed too short: %w", ErrInvalidInput)
	}
	priv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	pub := priv.Public().(ed25519.PublicKey)
	s := &Signer{priv: priv, pub: pub, log: log}
	s.did = didFromPublicKey(pub)
	log.WithField("did", s.did.String()).Info("signer initialised")
	return s, nil
}

// didFromPublicKey derives a "did:key" identifier from an Ed25519 public
// key using unpadded base64url, the same scheme the spec's glossary gives
// as an example ("method 'key' + encoded pubkey").
func didFromPublicKey(pub ed25519.PublicKey) Did {
	return Did{Method: didMethodKey, ID: base64.RawURLEncoding.EncodeToString(pub)}
}

// Did returns this signer's identifier.
func (s *Signer) Did() Did {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.did
}

// PublicKey returns a copy of the public key bytes.
func (s *Signer) PublicKey() ed25519.PublicKey {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(ed25519.PublicKey, len(s.pub))
	copy(out, s.pub)
	return out
}

// Sign signs the given digest and returns a raw Ed25519 signature.
func (s *Signer) Sign(digest []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.priv == nil {
		return nil, fmt.Errorf("core: signer closed: %w", ErrInvalidState)
	}
	return ed25519.Sign(s.priv, digest), nil
}

// VerifySignature verifies a signature against an arbitrary public key,
// used by peers validating received artifacts rather than their own.
func VerifySignature(pub ed25519.PublicKey, digest, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, digest, sig)
}

// PublicKeyFromDid extracts the Ed25519 public key embedded in a did:key
// identifier. Returns ErrInvalidInput if the Did is not a did:key or the
// embedded key is malformed.
func PublicKeyFromDid(d Did) (ed25519.PublicKey, error) {
	if d.Method != didMethodKey {
		return nil, fmt.Errorf("core: unsupported did method %q: %w", d.Method, ErrInvalidInput)
	}
	raw, err := base64.RawURLEncoding.DecodeString(d.ID)
	if err != nil || len(raw) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("core: malformed did:key id: %w", ErrInvalidInput)
	}
	return ed25519.PublicKey(raw), nil
}

// RotationEvent is journaled to the DAG when a signer rotates keys, binding
// the new Did to the previous one per spec §9.
type RotationEvent struct {
	PreviousDid Did       `json:"previous_did"`
	NewDid      Did       `json:"new_did"`
	RotatedAt   time.Time `json:"rotated_at"`
}

// Rotate replaces the signer's keypair with a freshly generated one and
// returns a RotationEvent for the caller to anchor to the DAG. The old key
// material is wiped from memory before returning.
func (s *Signer) Rotate() (RotationEvent, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.priv == nil {
		return RotationEvent{}, "", fmt.Errorf("core: signer closed: %w", ErrInvalidState)
	}
	prev := s.did

	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return RotationEvent{}, "", fmt.Errorf("core: rotate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return RotationEvent{}, "", fmt.Errorf("core: rotate mnemonic: %w", err)
	}
	seed := bip39.NewSeed(mnemonic, "")
	newPriv := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	newPub := newPriv.Public().(ed25519.PublicKey)

	wipeBytes(s.priv)
	s.priv = newPriv
	s.pub = newPub
	s.did = didFromPublicKey(newPub)

	s.log.WithFields(logrus.Fields{"previous_did": prev.String(), "new_did": s.did.String()}).
		Info("signer key rotated")

	return RotationEvent{PreviousDid: prev, NewDid: s.did, RotatedAt: time.Now().UTC()}, mnemonic, nil
}

// Close wipes private key material from memory. The signer must not be used
// afterwards.
func (s *Signer) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wipeBytes(s.priv)
	s.priv = nil
	s.pub = nil
	return nil
}

// wipeBytes zeroes a byte slice in place (best-effort — the GC may have
// already copied it elsewhere), mirroring wallet.go's Wipe helper.
func wipeBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// randomBytes returns n cryptographically secure random bytes, used by
// callers needing nonces outside of the deterministic-execution paths
// (spec §9 forbids ambient entropy only at consensus-visible call sites).
func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := crand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
