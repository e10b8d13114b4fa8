package core

import (
	"testing"
	"time"
)

func TestReputationScoreAccumulatesVerifiedEvents(t *testing.T) {
	s := NewReputationStore(nil)
	start := time.Unix(0, 0)
	s.now = func() time.Time { return start }

	did := Did{Method: "key", ID: "exec1"}
	s.RecordEvent(did, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: start, Verified: true})
	s.RecordEvent(did, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: start, Verified: true})

	got := s.Score(did)
	want := defaultEventWeight[EventSuccessfulExecution] * 2
	if got != want {
		t.Fatalf("score = %v, want %v", got, want)
	}
}

func TestReputationUnverifiedEventsIgnored(t *testing.T) {
	s := NewReputationStore(nil)
	did := Did{Method: "key", ID: "exec2"}
	s.RecordEvent(did, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: time.Now(), Verified: false})
	if got := s.Score(did); got != reputationBaseScore {
		t.Fatalf("score = %v, want base %v for unverified event", got, reputationBaseScore)
	}
}

func TestReputationDecayReducesOldEvents(t *testing.T) {
	s := NewReputationStore(nil)
	start := time.Unix(0, 0)
	did := Did{Method: "key", ID: "exec3"}

	s.now = func() time.Time { return start }
	s.RecordEvent(did, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: start, Verified: true})
	fresh := s.Score(did)

	s.now = func() time.Time { return start.Add(time.Duration(decayHalfLifeYears*365*24) * time.Hour) }
	decayed := s.Score(did)

	if decayed >= fresh {
		t.Fatalf("decayed score %v should be less than fresh score %v", decayed, fresh)
	}
	if decayed < fresh/2-0.01 || decayed > fresh/2+0.01 {
		t.Fatalf("decayed score %v should be about half of fresh score %v after one half-life", decayed, fresh)
	}
}

func TestReputationScoreIsBounded(t *testing.T) {
	s := NewReputationStore(nil)
	did := Did{Method: "key", ID: "exec4"}
	now := time.Now()
	for i := 0; i < 1000; i++ {
		s.RecordEvent(did, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: now, Verified: true})
	}
	if got := s.Score(did); got > reputationMaxScore {
		t.Fatalf("score = %v, exceeds max %v", got, reputationMaxScore)
	}
}

func TestReputationFeedsManaFactorsUpward(t *testing.T) {
	mana := NewManaLedger(ManaLedgerConfig{DefaultMaxCapacity: 100})
	s := NewReputationStore(mana)
	did := Did{Method: "key", ID: "exec5"}
	now := time.Now()

	for i := 0; i < 5; i++ {
		s.RecordEvent(did, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: now, Verified: true})
	}

	acct := mana.Account(did)
	if acct.ReputationMultiplier <= 1.0 {
		t.Fatalf("reputation multiplier = %v, want increase above neutral 1.0 after positive events", acct.ReputationMultiplier)
	}
}

func TestNormalizeIsWithinUnitRange(t *testing.T) {
	for _, s := range []float64{reputationMinScore, 0, reputationMaxScore} {
		n := Normalize(s)
		if n < 0 || n > 1 {
			t.Fatalf("Normalize(%v) = %v, want within [0,1]", s, n)
		}
	}
}
