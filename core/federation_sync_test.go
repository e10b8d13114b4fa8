package core

import (
	"context"
	"testing"
	"time"
)

func newTestFederationSync(t *testing.T) (*FederationSync, *DagStore) {
	t.Helper()
	store, err := NewDagStore(DagStoreConfig{})
	if err != nil {
		t.Fatalf("new dag store: %v", err)
	}
	rep := NewReputationStore(nil)
	fs := NewFederationSync(store, rep, nil, FederationSyncConfig{})
	return fs, store
}

func TestChooseStrategyPrefersStatusWhenRootsMatch(t *testing.T) {
	root := NewCid(CodecRaw, []byte("same"))
	local := StatusReport{Root: root}
	remote := StatusReport{Root: root}
	if got := ChooseStrategy(local, remote, false); got != SyncStatus {
		t.Fatalf("strategy = %v, want status", got)
	}
}

func TestChooseStrategyFullWhenNoCommonRoot(t *testing.T) {
	local := StatusReport{Root: NewCid(CodecRaw, []byte("a"))}
	remote := StatusReport{Root: NewCid(CodecRaw, []byte("b"))}
	if got := ChooseStrategy(local, remote, false); got != SyncFull {
		t.Fatalf("strategy = %v, want full", got)
	}
	if got := ChooseStrategy(local, remote, true); got != SyncDelta {
		t.Fatalf("strategy = %v, want delta", got)
	}
}

func TestResolveHigherReputationWins(t *testing.T) {
	fs, _ := newTestFederationSync(t)
	a := candidateMeta{Cid: NewCid(CodecRaw, []byte("a")), Timestamp: 100, AuthorRep: -50}
	b := candidateMeta{Cid: NewCid(CodecRaw, []byte("b")), Timestamp: 100, AuthorRep: 50}
	conflict := Conflict{Kind: ConflictDuelingRoots, Scope: "coop-1"}

	winner, err := fs.Resolve(context.Background(), conflict, a, b, nil, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if winner != b.Cid {
		t.Fatalf("winner = %v, want higher-reputation candidate b", winner)
	}
}

func TestResolveIsIdempotentPerScope(t *testing.T) {
	fs, _ := newTestFederationSync(t)
	a := candidateMeta{Cid: NewCid(CodecRaw, []byte("a")), AuthorRep: 10}
	b := candidateMeta{Cid: NewCid(CodecRaw, []byte("b")), AuthorRep: 20}
	conflict := Conflict{Kind: ConflictDuelingRoots, Scope: "coop-2"}

	first, err := fs.Resolve(context.Background(), conflict, a, b, nil, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	second, err := fs.Resolve(context.Background(), conflict, a, b, nil, nil)
	if err != nil {
		t.Fatalf("resolve again: %v", err)
	}
	if first != second {
		t.Fatalf("resolution not idempotent: %v != %v", first, second)
	}
}

func TestFederationVoteBreaksExactTieDeterministically(t *testing.T) {
	fs, _ := newTestFederationSync(t)
	a := candidateMeta{Cid: NewCid(CodecRaw, []byte("tie-a")), AuthorRep: 0}
	b := candidateMeta{Cid: NewCid(CodecRaw, []byte("tie-b")), AuthorRep: 0}
	conflict := Conflict{Kind: ConflictDuelingRoots, Scope: "coop-3"}
	members := []Did{{Method: "key", ID: "m1"}, {Method: "key", ID: "m2"}}
	votes := map[Did]Cid{members[0]: a.Cid, members[1]: b.Cid}

	winner, err := fs.Resolve(context.Background(), conflict, a, b, members, votes)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	wantFirst := a.Cid
	wantSecond := b.Cid
	if !wantFirst.Less(wantSecond) {
		wantFirst, wantSecond = wantSecond, wantFirst
	}
	if winner != wantFirst {
		t.Fatalf("tie-break winner = %v, want lexicographically smaller cid %v", winner, wantFirst)
	}
}

func TestIngestBlocksDetectsMissingParent(t *testing.T) {
	fs, _ := newTestFederationSync(t)
	child := Link{ChildCid: NewCid(CodecRaw, []byte("missing-parent")), Name: "c"}
	b := DagBlock{Links: []Link{child}, Timestamp: time.Now().UnixNano(), AuthorDid: Did{Method: "key", ID: "author"}, Scope: "coop-4"}
	b.Cid = recomputeCid(&b)

	conflicts, err := fs.IngestBlocks("coop-4", []DagBlock{b})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	found := false
	for _, c := range conflicts {
		if c.Kind == ConflictMissingParent {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected missing-parent conflict, got %v", conflicts)
	}
}
