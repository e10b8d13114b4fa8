package core

// Reputation store: a per-Did bounded score computed as a pure function of a
// time-decayed signed event log (spec §4.5). Grounded on the teacher's
// quorum_tracker.go (per-key mutex map with bounded accumulation) and
// governance.go's event-sourced JSON-round-trip pattern, generalised from
// vote counting to weighted decayed scoring.

import (
	"math"
	"sort"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// EventKind enumerates the non-exhaustive reputation event catalogue from
// spec §4.5.
type EventKind string

const (
	EventSuccessfulExecution EventKind = "successful_execution"
	EventFailedExecution     EventKind = "failed_execution"
	EventGovernanceVote      EventKind = "governance_participation"
	EventSybilFlag           EventKind = "sybil_flag"
	EventPeerEndorsement     EventKind = "peer_endorsement"
)

// defaultEventWeight gives each catalogued kind a starting weight; callers
// may override per-event via ReputationEvent.Weight.
var defaultEventWeight = map[EventKind]float64{
	EventSuccessfulExecution: 1.0,
	EventFailedExecution:     -1.5,
	EventGovernanceVote:      0.25,
	EventSybilFlag:           -50.0,
	EventPeerEndorsement:     0.5,
}

// ReputationEvent is one signed entry in a Did's event log.
type ReputationEvent struct {
	Kind      EventKind `json:"kind"`
	Weight    float64   `json:"weight"`
	SourceDid Did       `json:"source_did"`
	Timestamp time.Time `json:"timestamp"`
	Verified  bool      `json:"verified"`
}

// ReputationRecord is the externally-visible snapshot of a Did's standing.
type ReputationRecord struct {
	Did      Did
	Score    float64
	EventLog []ReputationEvent
}

const (
	reputationBaseScore = 0.0
	reputationMinScore  = -100.0
	reputationMaxScore  = 100.0

	// decayHalfLifeYears sets the "small % per year of inactivity" decay
	// rate from spec §4.5: a contribution loses half its weight after
	// this many years of no further activity on that Did.
	decayHalfLifeYears = 4.0

	// significantDeltaThreshold gates the mana recompute hook: reputation
	// moves smaller than this never touch mana parameters.
	significantDeltaThreshold = 0.5

	// downwardSmoothingSteps spreads a reputation drop's effect on mana
	// capacity over this many smoothing steps, the first applied by
	// recompute, rather than all at once, per spec §4.5 "smooths downward
	// changes".
	downwardSmoothingSteps = 5
)

type reputationEntry struct {
	mu          sync.Mutex
	record      ReputationRecord
	lastScore   float64
	smoothSteps int // remaining steps of an in-progress downward smoothing
	smoothTo    float64
}

// ReputationStore holds one mutex-guarded record per Did, per spec §5.
type ReputationStore struct {
	mu      sync.RWMutex
	records map[Did]*reputationEntry
	mana    *ManaLedger // optional: wired by the runtime to push recomputed factors
	now     func() time.Time
	log     *logrus.Logger
}

// NewReputationStore constructs an empty store. mana may be nil if the
// reputation/mana feedback loop is not wired (e.g. in isolated tests).
func NewReputationStore(mana *ManaLedger) *ReputationStore {
	return &ReputationStore{
		records: make(map[Did]*reputationEntry),
		mana:    mana,
		now:     time.Now,
		log:     logrus.StandardLogger(),
	}
}

func (r *ReputationStore) entry(did Did) *reputationEntry {
	r.mu.RLock()
	e, ok := r.records[did]
	r.mu.RUnlock()
	if ok {
		return e
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.records[did]; ok {
		return e
	}
	e = &reputationEntry{record: ReputationRecord{Did: did, Score: reputationBaseScore}}
	r.records[did] = e
	return e
}

// decay implements the monotone decay function: contribution weight halves
// every decayHalfLifeYears of elapsed time.
func decay(age time.Duration) float64 {
	years := age.Hours() / (24 * 365)
	if years <= 0 {
		return 1.0
	}
	return math.Pow(0.5, years/decayHalfLifeYears)
}

func bound(score float64) float64 {
	if score < reputationMinScore {
		return reputationMinScore
	}
	if score > reputationMaxScore {
		return reputationMaxScore
	}
	return score
}

// scoreLocked recomputes the bounded score from the event log as a pure
// function of (event log, now). Caller must hold e.mu.
func (r *ReputationStore) scoreLocked(e *reputationEntry) float64 {
	now := r.now()
	sum := reputationBaseScore
	for _, ev := range e.record.EventLog {
		if !ev.Verified {
			continue
		}
		age := now.Sub(ev.Timestamp)
		if age < 0 {
			age = 0
		}
		sum += ev.Weight * decay(age)
	}
	return bound(sum)
}

// RecordEvent appends a signed event to did's log and recomputes its score,
// triggering the mana-parameter recompute hook if the change is significant.
func (r *ReputationStore) RecordEvent(did Did, ev ReputationEvent) {
	if ev.Weight == 0 {
		if w, ok := defaultEventWeight[ev.Kind]; ok {
			ev.Weight = w
		}
	}
	e := r.entry(did)
	e.mu.Lock()
	e.record.EventLog = append(e.record.EventLog, ev)
	newScore := r.scoreLocked(e)
	oldScore := e.lastScore
	e.record.Score = newScore
	e.lastScore = newScore
	e.mu.Unlock()

	delta := newScore - oldScore
	if math.Abs(delta) >= significantDeltaThreshold {
		r.recompute(did, oldScore, newScore)
		return
	}
	r.advanceSmoothing(did)
}

// Score returns did's current bounded score, recomputed from its event log.
func (r *ReputationStore) Score(did Did) float64 {
	e := r.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	s := r.scoreLocked(e)
	e.record.Score = s
	return s
}

// Record returns a snapshot copy of did's full record.
func (r *ReputationStore) Record(did Did) ReputationRecord {
	e := r.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.record.Score = r.scoreLocked(e)
	out := e.record
	out.EventLog = append([]ReputationEvent(nil), e.record.EventLog...)
	return out
}

// Normalize maps a bounded score into [0, 1] for use in the executor scoring
// function's R term (spec §4.3).
func Normalize(score float64) float64 {
	return (bound(score) - reputationMinScore) / (reputationMaxScore - reputationMinScore)
}

// recompute implements the "contract with mana" from spec §4.5: upward
// reputation changes push new mana factors immediately; downward changes are
// smoothed across downwardSmoothingSteps subsequent applications so a single
// bad receipt cannot collapse an account's capacity in one step.
func (r *ReputationStore) recompute(did Did, oldScore, newScore float64) {
	if r.mana == nil {
		return
	}
	e := r.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()

	targetRep := repMultiplierFromScore(newScore)
	targetCap := capScoreFromScore(newScore)

	if newScore >= oldScore {
		r.mana.SetReputationSnapshot(did, targetRep, targetCap)
		e.smoothSteps = 0
		r.log.WithFields(logrus.Fields{"did": did.String(), "score": newScore}).
			Debug("reputation: mana factors applied immediately (upward)")
		return
	}

	e.smoothSteps = downwardSmoothingSteps - 1
	e.smoothTo = targetRep
	current := r.mana.Account(did).ReputationMultiplier
	step := (current - targetRep) / float64(downwardSmoothingSteps)
	r.mana.SetReputationSnapshot(did, current-step, targetCap)
	r.log.WithFields(logrus.Fields{"did": did.String(), "score": newScore, "steps": downwardSmoothingSteps}).
		Debug("reputation: mana factors smoothing downward")
}

// advanceSmoothing applies the next step of an in-progress downward mana
// smoothing for did, per spec §4.5. RecordEvent calls this whenever an
// event's own delta isn't itself significant, so a smoothing sequence keeps
// progressing across subsequent events instead of stalling after its first
// step.
func (r *ReputationStore) advanceSmoothing(did Did) {
	if r.mana == nil {
		return
	}
	e := r.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.smoothSteps <= 0 {
		return
	}
	e.smoothSteps--
	current := r.mana.Account(did).ReputationMultiplier
	capTarget := capScoreFromScore(e.record.Score)
	if e.smoothSteps == 0 {
		r.mana.SetReputationSnapshot(did, e.smoothTo, capTarget)
		return
	}
	step := (current - e.smoothTo) / float64(e.smoothSteps+1)
	r.mana.SetReputationSnapshot(did, current-step, capTarget)
}

func repMultiplierFromScore(score float64) float64 {
	n := Normalize(score)
	return repFactorMin + n*(repFactorMax-repFactorMin)
}

func capScoreFromScore(score float64) float64 {
	n := Normalize(score)
	return capFactorMin + n*(capFactorMax-capFactorMin)
}

// TopDids returns the n highest-scoring Dids known to the store. Ties break
// on canonical Did string order for determinism.
func (r *ReputationStore) TopDids(n int) []Did {
	r.mu.RLock()
	type scored struct {
		did   Did
		score float64
	}
	all := make([]scored, 0, len(r.records))
	for did, e := range r.records {
		e.mu.Lock()
		s := r.scoreLocked(e)
		e.mu.Unlock()
		all = append(all, scored{did, s})
	}
	r.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].score != all[j].score {
			return all[i].score > all[j].score
		}
		return all[i].did.String() < all[j].did.String()
	})
	if n > len(all) {
		n = len(all)
	}
	out := make([]Did, n)
	for i := 0; i < n; i++ {
		out[i] = all[i].did
	}
	return out
}
