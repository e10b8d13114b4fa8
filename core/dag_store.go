package core

// DAG store: signed, linked, content-addressed blocks with integrity
// verification, pinning/TTL, pruning and a merkle-root sync token.
//
// Grounded on the teacher's ledger.go: write-ahead log + periodic snapshot
// + prune-by-interval persistence model, and merkle_tree_operations.go for
// the root-folding approach, generalised here to pinned-Cid ordering
// instead of a flat leaf list.

import (
	"bufio"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// DagBlock is the unit of the content-addressed journal. Links are an
// ordered sequence of references to child blocks.
type DagBlock struct {
	Cid       Cid    `json:"cid"`
	Data      []byte `json:"data"`
	Links     []Link `json:"links"`
	Timestamp int64  `json:"timestamp"` // unix nanoseconds
	AuthorDid Did    `json:"author_did"`
	Signature []byte `json:"signature,omitempty"`
	Scope     string `json:"scope,omitempty"`
}

// recomputeCid re-derives the Cid from a block's content, per spec §4.1's
// integrity algorithm.
func recomputeCid(b *DagBlock) Cid {
	enc := canonicalEncode(CodecDagBlock, b.Data, b.Links, b.Timestamp, b.AuthorDid, b.Scope)
	sum := sha256.Sum256(enc)
	return Cid{Version: 1, Codec: CodecDagBlock, Alg: HashSHA256, Sum: sum}
}

// BlockBackend is the storage-backend capability interface. Swapping an
// in-memory backend for a persistent one (key-value, SQL) requires no
// change to DagStore; only a new BlockBackend implementation.
type BlockBackend interface {
	Get(cid Cid) (*DagBlock, bool, error)
	Put(cid Cid, b *DagBlock) error
	Delete(cid Cid) error
	ForEach(fn func(Cid, *DagBlock) error) error
}

// memBackend is the default in-memory BlockBackend. Process-memory only;
// callers needing durability provide their own BlockBackend (sql/kv).
type memBackend struct {
	mu     sync.RWMutex
	blocks map[Cid]*DagBlock
}

func newMemBackend() *memBackend { return &memBackend{blocks: make(map[Cid]*DagBlock)} }

func (m *memBackend) Get(cid Cid) (*DagBlock, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blocks[cid]
	return b, ok, nil
}

func (m *memBackend) Put(cid Cid, b *DagBlock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blocks[cid] = b
	return nil
}

func (m *memBackend) Delete(cid Cid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blocks, cid)
	return nil
}

func (m *memBackend) ForEach(fn func(Cid, *DagBlock) error) error {
	m.mu.RLock()
	items := make(map[Cid]*DagBlock, len(m.blocks))
	for k, v := range m.blocks {
		items[k] = v
	}
	m.mu.RUnlock()
	for k, v := range items {
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

type pinRecord struct {
	CreatedAt time.Time
	TTL       time.Duration // zero means no expiry
}

func (p pinRecord) expired(now time.Time) bool {
	return p.TTL > 0 && now.After(p.CreatedAt.Add(p.TTL))
}

// DagStoreConfig mirrors the storage section of the config surface (§6).
type DagStoreConfig struct {
	WALPath string
	Backend BlockBackend // nil selects the in-memory backend
	Breaker *CircuitBreaker
}

// DagStore is the exclusive owner of DagBlocks; other components hold only
// Cids as weak references (lookup keys).
type DagStore struct {
	mu      sync.RWMutex
	backend BlockBackend
	pins    map[Cid]pinRecord
	wal     *os.File
	breaker *CircuitBreaker
	log     *logrus.Logger
}

// NewDagStore opens (or creates) the WAL at cfg.WALPath and replays it into
// the backend, mirroring ledger.go's NewLedger replay-on-open model.
func NewDagStore(cfg DagStoreConfig) (*DagStore, error) {
	backend := cfg.Backend
	if backend == nil {
		backend = newMemBackend()
	}
	breaker := cfg.Breaker
	if breaker == nil {
		breaker = NewCircuitBreaker(CircuitBreakerConfig{})
	}
	s := &DagStore{
		backend: backend,
		pins:    make(map[Cid]pinRecord),
		breaker: breaker,
		log:     logrus.StandardLogger(),
	}

	if cfg.WALPath == "" {
		return s, nil
	}
	wal, err := os.OpenFile(cfg.WALPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("core: open dag wal: %w", ErrStorage)
	}
	s.wal = wal

	scanner := bufio.NewScanner(wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			wal.Close()
			return nil, fmt.Errorf("core: dag wal unmarshal: %w", err)
		}
		if err := s.replay(rec); err != nil {
			wal.Close()
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		wal.Close()
		return nil, fmt.Errorf("core: dag wal scan: %w", err)
	}
	return s, nil
}

type walRecord struct {
	Kind  string    `json:"kind"` // "put" | "pin" | "unpin"
	Block *DagBlock `json:"block,omitempty"`
	Cid   Cid       `json:"cid,omitempty"`
	TTL   int64     `json:"ttl_ns,omitempty"`
}

func (s *DagStore) replay(rec walRecord) error {
	switch rec.Kind {
	case "put":
		return s.backend.Put(rec.Block.Cid, rec.Block)
	case "pin":
		s.pins[rec.Cid] = pinRecord{CreatedAt: time.Now(), TTL: time.Duration(rec.TTL)}
		return nil
	case "unpin":
		delete(s.pins, rec.Cid)
		return nil
	}
	return nil
}

func (s *DagStore) appendWAL(rec walRecord) error {
	if s.wal == nil {
		return nil
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := s.wal.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("core: dag wal write: %w", ErrStorage)
	}
	return s.wal.Sync()
}

// Put validates integrity and signature (if present) and stores the block.
// Re-inserting identical content is idempotent: the recomputed Cid is the
// same and only one copy is kept.
func (s *DagStore) Put(b *DagBlock) (Cid, error) {
	want := recomputeCid(b)
	if !b.Cid.IsZero() && b.Cid != want {
		return Cid{}, fmt.Errorf("core: cid mismatch: %w", ErrIntegrity)
	}
	b.Cid = want

	if len(b.Signature) > 0 {
		pub, err := PublicKeyFromDid(b.AuthorDid)
		if err != nil {
			return Cid{}, fmt.Errorf("core: resolve author key: %w", ErrSignature)
		}
		if !VerifySignature(pub, want.Bytes(), b.Signature) {
			return Cid{}, fmt.Errorf("core: bad block signature: %w", ErrSignature)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok, _ := s.backend.Get(want); ok && existing != nil {
		return want, nil // idempotent re-insert
	}

	err := s.breaker.Call(func() error { return s.backend.Put(want, b) })
	if err != nil {
		return Cid{}, fmt.Errorf("core: put block: %w", err)
	}
	if err := s.appendWAL(walRecord{Kind: "put", Block: b}); err != nil {
		return Cid{}, err
	}
	s.log.WithFields(logrus.Fields{"cid": want.String(), "author": b.AuthorDid.String()}).Debug("dag: block stored")
	return want, nil
}

// Get returns the full block including its data payload.
func (s *DagStore) Get(cid Cid) (*DagBlock, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.backend.Get(cid)
}

// BlockMeta describes a block without transferring its data payload.
type BlockMeta struct {
	Cid       Cid
	Size      int
	Timestamp int64
	AuthorDid Did
	Links     []Link
}

// Meta returns block metadata without the data payload.
func (s *DagStore) Meta(cid Cid) (BlockMeta, bool, error) {
	b, ok, err := s.Get(cid)
	if err != nil || !ok {
		return BlockMeta{}, ok, err
	}
	return BlockMeta{Cid: b.Cid, Size: len(b.Data), Timestamp: b.Timestamp, AuthorDid: b.AuthorDid, Links: b.Links}, true, nil
}

// Pin adds a pin record for cid, expiring at createdAt+ttl if ttl > 0.
func (s *DagStore) Pin(cid Cid, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok, _ := s.backend.Get(cid); !ok {
		return fmt.Errorf("core: pin %s: %w", cid, ErrNotFound)
	}
	s.pins[cid] = pinRecord{CreatedAt: time.Now(), TTL: ttl}
	return s.appendWAL(walRecord{Kind: "pin", Cid: cid, TTL: int64(ttl)})
}

// Unpin removes a pin record. It is not an error if the Cid was not pinned.
func (s *DagStore) Unpin(cid Cid) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pins, cid)
	return s.appendWAL(walRecord{Kind: "unpin", Cid: cid})
}

// IsPinned reports whether cid currently holds an unexpired pin.
func (s *DagStore) IsPinned(cid Cid) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.pins[cid]
	return ok && !rec.expired(time.Now())
}

// reachableFromPins computes the set of Cids transitively referenced by any
// currently-pinned block, including the pinned Cids themselves.
func (s *DagStore) reachableFromPins() (map[Cid]struct{}, error) {
	now := time.Now()
	roots := make([]Cid, 0, len(s.pins))
	for cid, rec := range s.pins {
		if !rec.expired(now) {
			roots = append(roots, cid)
		}
	}
	reached := make(map[Cid]struct{}, len(roots))
	queue := append([]Cid(nil), roots...)
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if _, seen := reached[cur]; seen {
			continue
		}
		reached[cur] = struct{}{}
		b, ok, err := s.backend.Get(cur)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		for _, l := range b.Links {
			if _, seen := reached[l.ChildCid]; !seen {
				queue = append(queue, l.ChildCid)
			}
		}
	}
	return reached, nil
}

// Prune removes all blocks that are unpinned directly, not transitively
// referenced from any pinned block, and have no unexpired TTL pin. It
// returns the number of blocks removed.
func (s *DagStore) Prune() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for cid, rec := range s.pins {
		if rec.expired(now) {
			delete(s.pins, cid)
		}
	}

	reachable, err := s.reachableFromPins()
	if err != nil {
		return 0, fmt.Errorf("core: prune reachability: %w", err)
	}

	var toDelete []Cid
	if err := s.backend.ForEach(func(cid Cid, _ *DagBlock) error {
		if _, keep := reachable[cid]; !keep {
			toDelete = append(toDelete, cid)
		}
		return nil
	}); err != nil {
		return 0, err
	}
	for _, cid := range toDelete {
		if err := s.backend.Delete(cid); err != nil {
			return 0, fmt.Errorf("core: prune delete %s: %w", cid, ErrStorage)
		}
	}
	if len(toDelete) > 0 {
		s.log.WithField("count", len(toDelete)).Info("dag: pruned blocks")
	}
	return len(toDelete), nil
}

// MerkleRoot folds the currently-pinned block set, ordered by Cid, into a
// single deterministic Cid used as the federation sync token.
func (s *DagStore) MerkleRoot() (Cid, error) {
	s.mu.RLock()
	now := time.Now()
	pinned := make([]Cid, 0, len(s.pins))
	for cid, rec := range s.pins {
		if !rec.expired(now) {
			pinned = append(pinned, cid)
		}
	}
	s.mu.RUnlock()

	sort.Slice(pinned, func(i, j int) bool { return pinned[i].Less(pinned[j]) })

	if len(pinned) == 0 {
		sum := sha256.Sum256(nil)
		return Cid{Version: 1, Codec: CodecRaw, Alg: HashSHA256, Sum: sum}, nil
	}

	h := sha256.New()
	for _, cid := range pinned {
		h.Write(cid.Bytes())
	}
	var sum [32]byte
	copy(sum[:], h.Sum(nil))
	return Cid{Version: 1, Codec: CodecRaw, Alg: HashSHA256, Sum: sum}, nil
}

// PinnedCount reports how many pins (expired or not) are currently tracked;
// used by the status/health endpoints.
func (s *DagStore) PinnedCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pins)
}

// Close releases the WAL file handle.
func (s *DagStore) Close() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.Close()
}
