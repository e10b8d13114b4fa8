package core

// Governance module: proposal/vote/tally/execute state machine (spec
// §4.6), sharing the DAG/mana spine with the rest of the mesh. Grounded on
// the teacher's governance.go (ProposeChange/VoteChange/EnactChange JSON
// round-trip through a keyed store, zap-backed logging, uuid proposal IDs)
// generalised from a flat key-value parameter store to the spec's quorum
// and threshold tally.

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	zap "go.uber.org/zap"
)

// ProposalType tags what a proposal's execution effect does. Left open
// ended (string) since governance non-goals exclude prescribing the tally
// algorithm or the universe of effect kinds.
type ProposalType string

const (
	ProposalParameterChange ProposalType = "parameter_change"
	ProposalMembershipChange ProposalType = "membership_change"
	ProposalGeneric          ProposalType = "generic"
)

// VoteOption is a ballot choice.
type VoteOption string

const (
	VoteYes     VoteOption = "yes"
	VoteNo      VoteOption = "no"
	VoteAbstain VoteOption = "abstain"
)

// ProposalStatus is the authoritative lifecycle state, per spec §3: monotone
// Active→{Passed|Rejected|Cancelled}→Executed or Expired.
type ProposalStatus string

const (
	ProposalActive    ProposalStatus = "active"
	ProposalPassed    ProposalStatus = "passed"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalCancelled ProposalStatus = "cancelled"
	ProposalExecuted  ProposalStatus = "executed"
	ProposalExpired   ProposalStatus = "expired"
)

// Proposal is the full governance record, per spec §3.
type Proposal struct {
	Id             string
	ProposerDid    Did
	Type           ProposalType
	Description    string
	CreatedAt      time.Time
	VotingDeadline time.Time
	Quorum         int
	Threshold      float64 // yes / (yes + no) required to pass
	Status         ProposalStatus
	Votes          map[Did]VoteOption
	Effect         map[string]string // opaque parameter-change payload
}

type proposalEntry struct {
	mu       sync.Mutex
	proposal Proposal
}

// GovernanceConfig mirrors the submission cost inputs read from the
// economics config section.
type GovernanceConfig struct {
	ProposalCostMana uint64
	VoteCostMana     uint64
}

// Governance owns every Proposal record exclusively, charging mana and
// anchoring DAG blocks for submit and vote per spec §4.6. Execute neither
// charges mana nor anchors a block.
type Governance struct {
	cfg   GovernanceConfig
	mana  *ManaLedger
	store *DagStore
	now   func() time.Time
	log   *zap.SugaredLogger

	mu        sync.RWMutex
	proposals map[string]*proposalEntry
}

// NewGovernance wires the module to its dependencies.
func NewGovernance(cfg GovernanceConfig, mana *ManaLedger, store *DagStore) *Governance {
	logger, _ := zap.NewProduction()
	return &Governance{
		cfg:       cfg,
		mana:      mana,
		store:     store,
		now:       time.Now,
		log:       logger.Sugar(),
		proposals: make(map[string]*proposalEntry),
	}
}

// Submit charges mana and anchors a proposal block, per spec §4.6.
func (g *Governance) Submit(proposer Did, typ ProposalType, description string, duration time.Duration, quorum int, threshold float64) (string, error) {
	if err := g.mana.Spend(proposer, g.cfg.ProposalCostMana); err != nil {
		return "", err
	}

	id := uuid.NewString()
	now := g.now()
	p := Proposal{
		Id:             id,
		ProposerDid:    proposer,
		Type:           typ,
		Description:    description,
		CreatedAt:      now,
		VotingDeadline: now.Add(duration),
		Quorum:         quorum,
		Threshold:      threshold,
		Status:         ProposalActive,
		Votes:          make(map[Did]VoteOption),
	}

	if err := g.anchor("gov_proposal", p); err != nil {
		g.mana.Credit(proposer, g.cfg.ProposalCostMana)
		return "", err
	}

	g.mu.Lock()
	g.proposals[id] = &proposalEntry{proposal: p}
	g.mu.Unlock()

	g.log.Infow("governance: proposal submitted", "id", id, "proposer", proposer.String())
	return id, nil
}

// Vote charges mana, anchors a vote block, and rejects duplicate votes from
// the same Did, per spec §4.6 and §3's "one vote per voter per proposal".
func (g *Governance) Vote(voter Did, proposalId string, option VoteOption) error {
	e := g.entry(proposalId)
	if e == nil {
		return fmt.Errorf("core: proposal %s: %w", proposalId, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proposal.Status != ProposalActive {
		return fmt.Errorf("core: proposal %s not active: %w", proposalId, ErrInvalidState)
	}
	if g.now().After(e.proposal.VotingDeadline) {
		return fmt.Errorf("core: proposal %s voting closed: %w", proposalId, ErrExpired)
	}
	if _, already := e.proposal.Votes[voter]; already {
		return fmt.Errorf("core: voter %s already voted on %s: %w", voter, proposalId, ErrInvalidInput)
	}

	if err := g.mana.Spend(voter, g.cfg.VoteCostMana); err != nil {
		return err
	}
	if err := g.anchor("gov_vote", struct {
		ProposalId string     `json:"proposal_id"`
		Voter      Did        `json:"voter"`
		Option     VoteOption `json:"option"`
	}{proposalId, voter, option}); err != nil {
		g.mana.Credit(voter, g.cfg.VoteCostMana)
		return err
	}

	e.proposal.Votes[voter] = option
	return nil
}

func (g *Governance) entry(id string) *proposalEntry {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.proposals[id]
}

// Proposal returns a snapshot copy of a proposal.
func (g *Governance) Proposal(id string) (Proposal, bool) {
	e := g.entry(id)
	if e == nil {
		return Proposal{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := e.proposal
	cp.Votes = make(map[Did]VoteOption, len(e.proposal.Votes))
	for k, v := range e.proposal.Votes {
		cp.Votes[k] = v
	}
	return cp, true
}

// Close tallies votes after the deadline, per spec §4.6: status becomes
// Passed iff total >= quorum and yes/(yes+no) >= threshold. Vote counts use
// a snapshot of votes causally preceding the deadline, per spec §5.
func (g *Governance) Close(proposalId string) (ProposalStatus, error) {
	e := g.entry(proposalId)
	if e == nil {
		return "", fmt.Errorf("core: proposal %s: %w", proposalId, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proposal.Status != ProposalActive {
		return e.proposal.Status, fmt.Errorf("core: proposal %s not active: %w", proposalId, ErrInvalidState)
	}
	if g.now().Before(e.proposal.VotingDeadline) {
		return "", fmt.Errorf("core: proposal %s voting still open: %w", proposalId, ErrInvalidState)
	}

	yes, no, total := 0, 0, 0
	for _, opt := range e.proposal.Votes {
		total++
		switch opt {
		case VoteYes:
			yes++
		case VoteNo:
			no++
		}
	}

	status := ProposalRejected
	if total >= e.proposal.Quorum && (yes+no) > 0 && float64(yes)/float64(yes+no) >= e.proposal.Threshold {
		status = ProposalPassed
	}
	e.proposal.Status = status
	g.log.Infow("governance: proposal closed", "id", proposalId, "status", status, "yes", yes, "no", no, "total", total)
	return status, nil
}

// Execute applies a Passed proposal's effect and transitions it to
// Executed, per spec §4.6. The effect itself (parameter change, membership
// change) is opaque to this module; callers interpret Proposal.Effect.
func (g *Governance) Execute(proposalId string, apply func(Proposal) error) error {
	e := g.entry(proposalId)
	if e == nil {
		return fmt.Errorf("core: proposal %s: %w", proposalId, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.proposal.Status != ProposalPassed {
		return fmt.Errorf("core: proposal %s not passed: %w", proposalId, ErrInvalidState)
	}
	if apply != nil {
		if err := apply(e.proposal); err != nil {
			return fmt.Errorf("core: execute proposal %s: %w", proposalId, err)
		}
	}
	e.proposal.Status = ProposalExecuted
	return nil
}

// anchor marshals v and anchors it as an unsigned DagBlock tagged by kind;
// governance blocks are anchored by the module itself rather than by an
// external signer, mirroring the teacher's CurrentStore() round-trip.
func (g *Governance) anchor(kind string, v interface{}) error {
	data, err := marshalJSONLocal(struct {
		Kind string      `json:"kind"`
		Body interface{} `json:"body"`
	}{kind, v})
	if err != nil {
		return fmt.Errorf("core: marshal %s: %w", kind, err)
	}
	b := &DagBlock{Data: data, Timestamp: g.now().UnixNano(), Scope: "governance"}
	_, err = g.store.Put(b)
	return err
}
