package core

// Federation sync: brings two scopes' DAG pinned sets to eventual
// consistency, detecting and deterministically resolving conflicts (spec
// §4.4). Grounded on the teacher's chain_fork_manager.go (competing-chain
// detection and canonical-chain selection) and blockchain_synchronization.go
// (status/delta/full sync request shapes), generalised from a single linear
// chain to an arbitrary pinned-block DAG with federation-vote escalation.

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// SyncStrategy names the federation sync mode used for a given round.
type SyncStrategy string

const (
	SyncStatus SyncStrategy = "status"
	SyncDelta  SyncStrategy = "delta"
	SyncFull   SyncStrategy = "full"
	SyncBlock  SyncStrategy = "block"
)

// StatusReport is the payload of a periodic status exchange.
type StatusReport struct {
	Scope      string    `json:"scope"`
	Root       Cid       `json:"root"`
	PinCount   int       `json:"pin_count"`
	ReportedAt time.Time `json:"reported_at"`
}

// ConflictKind enumerates the conflict classes from spec §4.4.
type ConflictKind string

const (
	ConflictDuelingRoots     ConflictKind = "dueling_roots"
	ConflictIncompatibleSlot ConflictKind = "incompatible_slot"
	ConflictMissingParent    ConflictKind = "missing_parent"
	ConflictCycle            ConflictKind = "cycle"
)

// Conflict describes a detected disagreement between two candidate blocks
// claiming the same logical position in a scope.
type Conflict struct {
	Kind    ConflictKind
	Scope   string
	A       Cid
	B       Cid
	Detected time.Time
}

// ResolutionWeights configures the multi-criteria resolver (spec §7 Open
// Questions: "treat the four weights as configurable").
type ResolutionWeights struct {
	Timestamp      float64
	Reputation     float64
	ReferenceCount float64
	ChainLength    float64
}

// DefaultResolutionWeights gives the four criteria equal standing.
func DefaultResolutionWeights() ResolutionWeights {
	return ResolutionWeights{Timestamp: 0.25, Reputation: 0.25, ReferenceCount: 0.25, ChainLength: 0.25}
}

// FederationSyncConfig mirrors the federation section of the config surface.
type FederationSyncConfig struct {
	SyncInterval       time.Duration
	MaxBlocksPerRequest int
	Weights            ResolutionWeights
	VoteWindow         time.Duration
}

func (c FederationSyncConfig) withDefaults() FederationSyncConfig {
	if c.SyncInterval <= 0 {
		c.SyncInterval = 30 * time.Second
	}
	if c.MaxBlocksPerRequest <= 0 {
		c.MaxBlocksPerRequest = 256
	}
	if c.Weights == (ResolutionWeights{}) {
		c.Weights = DefaultResolutionWeights()
	}
	if c.VoteWindow <= 0 {
		c.VoteWindow = 2 * time.Minute
	}
	return c
}

// candidateMeta is everything the resolver needs about one side of a
// conflict, gathered from the DAG store and reputation store.
type candidateMeta struct {
	Cid            Cid
	Timestamp      int64
	AuthorRep      float64
	ReferenceCount int
	ChainLength    int
}

// FederationSync drives status/delta/full/block-level sync rounds against
// peers reachable via a PeerTransport, resolving conflicts deterministically
// so honest nodes converge identically within a scope.
type FederationSync struct {
	store      *DagStore
	reputation *ReputationStore
	transport  PeerTransport
	cfg        FederationSyncConfig
	now        func() time.Time

	mu        sync.Mutex
	resolved  map[string]Cid // scope -> last resolved winning root
}

// NewFederationSync wires the sync engine to its dependencies.
func NewFederationSync(store *DagStore, reputation *ReputationStore, transport PeerTransport, cfg FederationSyncConfig) *FederationSync {
	return &FederationSync{
		store:      store,
		reputation: reputation,
		transport:  transport,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
		resolved:   make(map[string]Cid),
	}
}

// LocalStatus returns this node's current status report for scope.
func (f *FederationSync) LocalStatus(scope string) (StatusReport, error) {
	root, err := f.store.MerkleRoot()
	if err != nil {
		return StatusReport{}, err
	}
	return StatusReport{Scope: scope, Root: root, PinCount: f.store.PinnedCount(), ReportedAt: f.now()}, nil
}

// ChooseStrategy picks a sync strategy given the local and remote status,
// per spec §4.4: status exchange first, delta if a common root is known,
// full sync as the no-common-root fallback.
func ChooseStrategy(local, remote StatusReport, haveCommonRoot bool) SyncStrategy {
	if local.Root == remote.Root {
		return SyncStatus
	}
	if haveCommonRoot {
		return SyncDelta
	}
	return SyncFull
}

// RequestBlocks builds a prioritized block request for the given Cids,
// capped at cfg.MaxBlocksPerRequest per spec §4.4 "block requests carry
// priority".
func (f *FederationSync) RequestBlocks(cids []Cid, priority RequestPriority) BlockRequestPayload {
	if len(cids) > f.cfg.MaxBlocksPerRequest {
		cids = cids[:f.cfg.MaxBlocksPerRequest]
	}
	return BlockRequestPayload{Cids: cids, Priority: priority}
}

// FulfillRequest answers a BlockRequestPayload from local store contents.
func (f *FederationSync) FulfillRequest(req BlockRequestPayload) BlockResponsePayload {
	var resp BlockResponsePayload
	for _, cid := range req.Cids {
		b, ok, err := f.store.Get(cid)
		if err != nil || !ok {
			resp.Missing = append(resp.Missing, cid)
			continue
		}
		resp.Blocks = append(resp.Blocks, *b)
	}
	return resp
}

// IngestBlocks stores each received block, then reports the conflicts found
// among the ingested blocks of scope and against the blocks the store holds.
// Blocks that fail integrity or signature checks are dropped (DagStore.Put
// already enforces this).
func (f *FederationSync) IngestBlocks(scope string, blocks []DagBlock) ([]Conflict, error) {
	for i := range blocks {
		b := blocks[i]
		if _, err := f.store.Put(&b); err != nil {
			continue
		}
	}
	return f.detectConflicts(scope, blocks)
}

// detectConflicts scans newly-ingested blocks for the conflict classes from
// spec §4.4. Incompatible-slot detection flags a block whose own link list
// names the same logical slot twice with different child content. Cycle
// detection walks each block's link chain bounded by the number of ingested
// blocks plus one to guarantee termination on corrupt input.
func (f *FederationSync) detectConflicts(scope string, blocks []DagBlock) ([]Conflict, error) {
	var conflicts []Conflict
	var rootsSeen []DagBlock
	for _, b := range blocks {
		if b.Scope != scope {
			continue
		}
		if len(b.Links) == 0 {
			for _, existing := range rootsSeen {
				if existing.Cid != b.Cid && existing.AuthorDid != b.AuthorDid {
					conflicts = append(conflicts, Conflict{Kind: ConflictDuelingRoots, Scope: scope, A: existing.Cid, B: b.Cid, Detected: f.now()})
				}
			}
			rootsSeen = append(rootsSeen, b)
		}
		slotsSeen := map[string]Cid{}
		for _, l := range b.Links {
			if _, ok, err := f.store.Get(l.ChildCid); err == nil && !ok {
				conflicts = append(conflicts, Conflict{Kind: ConflictMissingParent, Scope: scope, A: b.Cid, B: l.ChildCid, Detected: f.now()})
			}
			if existing, ok := slotsSeen[l.Name]; ok && existing != l.ChildCid {
				conflicts = append(conflicts, Conflict{Kind: ConflictIncompatibleSlot, Scope: scope, A: existing, B: l.ChildCid, Detected: f.now()})
			}
			slotsSeen[l.Name] = l.ChildCid
		}
		if f.hasCycle(b.Cid, len(blocks)+1) {
			conflicts = append(conflicts, Conflict{Kind: ConflictCycle, Scope: scope, A: b.Cid, Detected: f.now()})
		}
	}
	return conflicts, nil
}

// hasCycle follows each block's first link from start for up to maxDepth
// hops, reporting a cycle when start or any block already visited on that
// chain is reached again. Cycles that run only through a block's other
// links are not detected.
func (f *FederationSync) hasCycle(start Cid, maxDepth int) bool {
	visited := map[Cid]struct{}{}
	cur := start
	for i := 0; i < maxDepth; i++ {
		b, ok, err := f.store.Get(cur)
		if err != nil || !ok || len(b.Links) == 0 {
			return false
		}
		next := b.Links[0].ChildCid
		if next == start {
			return true
		}
		if _, seen := visited[next]; seen {
			return true
		}
		visited[next] = struct{}{}
		cur = next
	}
	return false
}

// Resolve applies the default multi-criteria resolution strategy (spec
// §4.4 items 1-4), escalating to a federation vote when the weighted scores
// tie within epsilon. The winning Cid is recorded so repeated resolution of
// the same conflict is idempotent.
func (f *FederationSync) Resolve(ctx context.Context, c Conflict, metaA, metaB candidateMeta, activeMembers []Did, votes map[Did]Cid) (Cid, error) {
	f.mu.Lock()
	if prev, ok := f.resolved[c.Scope]; ok {
		f.mu.Unlock()
		return prev, nil
	}
	f.mu.Unlock()

	scoreA := f.weightedScore(metaA)
	scoreB := f.weightedScore(metaB)

	const epsilon = 1e-9
	var winner Cid
	switch {
	case scoreA > scoreB+epsilon:
		winner = metaA.Cid
	case scoreB > scoreA+epsilon:
		winner = metaB.Cid
	default:
		w, err := f.federationVote(ctx, c, metaA.Cid, metaB.Cid, activeMembers, votes)
		if err != nil {
			return Cid{}, err
		}
		winner = w
	}

	f.mu.Lock()
	f.resolved[c.Scope] = winner
	f.mu.Unlock()
	return winner, nil
}

func (f *FederationSync) weightedScore(m candidateMeta) float64 {
	w := f.cfg.Weights
	rep := 0.0
	// Timestamp favors earlier; invert so "wins" maps to higher score.
	tsScore := -float64(m.Timestamp)
	rep = Normalize(m.AuthorRep)
	return w.Timestamp*tsScore + w.Reputation*rep + w.ReferenceCount*float64(m.ReferenceCount) + w.ChainLength*float64(m.ChainLength)
}

// federationVote tallies the votes of active scope members, per spec §4.4
// item 5. votes maps voter Did to the Cid they support; only votes from
// activeMembers count. It tallies only the votes map it is given: it does
// not collect votes or bound a deliberation window (cfg.VoteWindow is not
// read here).
func (f *FederationSync) federationVote(ctx context.Context, c Conflict, a, b Cid, activeMembers []Did, votes map[Did]Cid) (Cid, error) {
	tally := map[Cid]int{}
	memberSet := make(map[Did]struct{}, len(activeMembers))
	for _, m := range activeMembers {
		memberSet[m] = struct{}{}
	}
	for voter, choice := range votes {
		if _, ok := memberSet[voter]; !ok {
			continue
		}
		if choice != a && choice != b {
			continue
		}
		tally[choice]++
	}
	if tally[a] == tally[b] {
		// Deterministic final tiebreak: lexicographically smaller Cid,
		// so every honest node reaches the identical answer even with an
		// exact vote tie.
		cids := []Cid{a, b}
		sort.Slice(cids, func(i, j int) bool { return cids[i].Less(cids[j]) })
		return cids[0], nil
	}
	if tally[a] > tally[b] {
		return a, nil
	}
	return b, nil
}

// PublishResolution anchors the resolution itself as a signed DagBlock so
// every peer in the federation converges on the identical outcome, per
// spec §4.4 "The chosen resolution is itself a signed DagBlock".
func (f *FederationSync) PublishResolution(signer *Signer, scope string, winner Cid, conflict Conflict) (Cid, error) {
	payload := struct {
		Scope    string       `json:"scope"`
		Winner   Cid          `json:"winner"`
		Conflict Conflict     `json:"conflict"`
	}{Scope: scope, Winner: winner, Conflict: conflict}
	data, err := json.Marshal(payload)
	if err != nil {
		return Cid{}, fmt.Errorf("core: marshal resolution payload: %w", err)
	}
	b := &DagBlock{Data: data, Timestamp: f.now().UnixNano(), AuthorDid: signer.Did(), Scope: scope}
	b.Cid = recomputeCid(b)
	sig, err := signer.Sign(b.Cid.Bytes())
	if err != nil {
		return Cid{}, fmt.Errorf("core: sign resolution block: %w", err)
	}
	b.Signature = sig
	return f.store.Put(b)
}
