package core

import (
	"testing"
	"time"
)

func newTestGovernance(t *testing.T) (*Governance, *ManaLedger, Did, Did, Did) {
	t.Helper()
	mana := NewManaLedger(ManaLedgerConfig{DefaultMaxCapacity: 1000, DefaultBaseRegenRate: 0})
	store, err := NewDagStore(DagStoreConfig{})
	if err != nil {
		t.Fatalf("new dag store: %v", err)
	}
	gov := NewGovernance(GovernanceConfig{ProposalCostMana: 10, VoteCostMana: 1}, mana, store)

	proposer := Did{Method: "key", ID: "proposer"}
	voterA := Did{Method: "key", ID: "voter-a"}
	voterB := Did{Method: "key", ID: "voter-b"}
	mana.SetBalance(proposer, 100)
	mana.SetBalance(voterA, 100)
	mana.SetBalance(voterB, 100)
	return gov, mana, proposer, voterA, voterB
}

func TestGovernanceSubmitChargesManaAndAnchors(t *testing.T) {
	gov, mana, proposer, _, _ := newTestGovernance(t)
	id, err := gov.Submit(proposer, ProposalGeneric, "raise mesh fee", time.Hour, 2, 0.5)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if mana.Balance(proposer) != 90 {
		t.Fatalf("proposer balance = %d, want 90", mana.Balance(proposer))
	}
	p, ok := gov.Proposal(id)
	if !ok {
		t.Fatal("proposal not found")
	}
	if p.Status != ProposalActive {
		t.Fatalf("status = %v, want active", p.Status)
	}
}

func TestGovernanceVoteRejectsDuplicate(t *testing.T) {
	gov, _, proposer, voterA, _ := newTestGovernance(t)
	id, _ := gov.Submit(proposer, ProposalGeneric, "x", time.Hour, 1, 0.5)

	if err := gov.Vote(voterA, id, VoteYes); err != nil {
		t.Fatalf("first vote: %v", err)
	}
	err := gov.Vote(voterA, id, VoteNo)
	if !isErr(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput on duplicate vote, got %v", err)
	}
}

func TestGovernanceClosePassesAboveQuorumAndThreshold(t *testing.T) {
	gov, _, proposer, voterA, voterB := newTestGovernance(t)
	id, _ := gov.Submit(proposer, ProposalGeneric, "x", time.Millisecond, 2, 0.5)
	if err := gov.Vote(voterA, id, VoteYes); err != nil {
		t.Fatalf("vote a: %v", err)
	}
	if err := gov.Vote(voterB, id, VoteYes); err != nil {
		t.Fatalf("vote b: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	status, err := gov.Close(id)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if status != ProposalPassed {
		t.Fatalf("status = %v, want passed", status)
	}
}

func TestGovernanceCloseRejectsBelowQuorum(t *testing.T) {
	gov, _, proposer, voterA, _ := newTestGovernance(t)
	id, _ := gov.Submit(proposer, ProposalGeneric, "x", time.Millisecond, 5, 0.5)
	if err := gov.Vote(voterA, id, VoteYes); err != nil {
		t.Fatalf("vote: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	status, err := gov.Close(id)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if status != ProposalRejected {
		t.Fatalf("status = %v, want rejected (below quorum)", status)
	}
}

func TestGovernanceExecuteRequiresPassed(t *testing.T) {
	gov, _, proposer, _, _ := newTestGovernance(t)
	id, _ := gov.Submit(proposer, ProposalGeneric, "x", time.Hour, 1, 0.5)

	err := gov.Execute(id, nil)
	if !isErr(err, ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState executing a non-passed proposal, got %v", err)
	}
}

func TestGovernanceExecuteAppliesEffectAndTransitions(t *testing.T) {
	gov, _, proposer, voterA, _ := newTestGovernance(t)
	id, _ := gov.Submit(proposer, ProposalGeneric, "x", time.Millisecond, 1, 0.5)
	if err := gov.Vote(voterA, id, VoteYes); err != nil {
		t.Fatalf("vote: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := gov.Close(id); err != nil {
		t.Fatalf("close: %v", err)
	}

	applied := false
	if err := gov.Execute(id, func(p Proposal) error {
		applied = true
		return nil
	}); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !applied {
		t.Fatal("effect was not applied")
	}
	p, _ := gov.Proposal(id)
	if p.Status != ProposalExecuted {
		t.Fatalf("status = %v, want executed", p.Status)
	}
}
