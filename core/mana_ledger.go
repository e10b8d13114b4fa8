package core

// Mana ledger: a non-transferable, regenerating capacity-credit account per
// Did. Grounded on the teacher's account_and_balance_operations.go
// (AccountManager wrapping a ledger's balance map under a mutex) and
// ledger.go's Mint/Transfer/Burn family, generalised from a transferable
// coin balance to the spec's regeneration/capacity/reputation-modulated
// model (§4.2).

import (
	"fmt"
	"sort"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// Regeneration bounds from spec §4.2.
const (
	capFactorMin = 0.1
	capFactorMax = 3.0
	repFactorMin = 0.5
	repFactorMax = 2.0
)

// ManaAccount mirrors the spec §3 data model.
type ManaAccount struct {
	Did                  Did
	Balance              uint64
	MaxCapacity          uint64
	BaseRegenRate         float64 // mana units per hour at neutral factors
	LastRegenAt           time.Time
	ReputationMultiplier float64 // f_rep snapshot, read from the reputation store
	CapacityScore        float64 // f_cap snapshot
}

type manaAccountEntry struct {
	mu      sync.Mutex
	account ManaAccount
}

// ManaLedgerConfig mirrors the economics section of the config surface.
type ManaLedgerConfig struct {
	DefaultMaxCapacity  uint64
	DefaultBaseRegenRate float64
}

// ManaLedger holds one mutex-guarded account per Did; there is no global
// lock, per spec §5. Cross-account operations take per-account locks in
// canonical Did order to avoid deadlock.
type ManaLedger struct {
	mu       sync.RWMutex // guards the accounts map itself, not account fields
	accounts map[Did]*manaAccountEntry
	cfg      ManaLedgerConfig
	now      func() time.Time
	log      *logrus.Logger
}

// NewManaLedger constructs an empty ledger. now defaults to time.Now and
// may be overridden in tests for deterministic regeneration.
func NewManaLedger(cfg ManaLedgerConfig) *ManaLedger {
	if cfg.DefaultMaxCapacity == 0 {
		cfg.DefaultMaxCapacity = 1000
	}
	if cfg.DefaultBaseRegenRate == 0 {
		cfg.DefaultBaseRegenRate = 10
	}
	return &ManaLedger{
		accounts: make(map[Did]*manaAccountEntry),
		cfg:      cfg,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
}

// entry returns (creating on first access) the account entry for did.
func (l *ManaLedger) entry(did Did) *manaAccountEntry {
	l.mu.RLock()
	e, ok := l.accounts[did]
	l.mu.RUnlock()
	if ok {
		return e
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if e, ok := l.accounts[did]; ok {
		return e
	}
	e = &manaAccountEntry{account: ManaAccount{
		Did:                  did,
		MaxCapacity:          l.cfg.DefaultMaxCapacity,
		BaseRegenRate:        l.cfg.DefaultBaseRegenRate,
		LastRegenAt:          l.now(),
		ReputationMultiplier: 1.0,
		CapacityScore:        1.0,
	}}
	l.accounts[did] = e
	return e
}

// regenerateLocked applies the regeneration contract from spec §4.2.
// Caller must hold e.mu.
func (l *ManaLedger) regenerateLocked(e *manaAccountEntry) {
	a := &e.account
	now := l.now()
	deltaHours := now.Sub(a.LastRegenAt).Hours()
	if deltaHours <= 0 {
		return
	}
	fCap := clampFloat(a.CapacityScore, capFactorMin, capFactorMax)
	fRep := clampFloat(a.ReputationMultiplier, repFactorMin, repFactorMax)
	delta := a.BaseRegenRate * fCap * fRep * deltaHours
	if delta > 0 {
		gained := uint64(delta) // floor, per spec's ⌊Δ⌋
		if a.Balance+gained > a.MaxCapacity || a.Balance+gained < a.Balance {
			a.Balance = a.MaxCapacity
		} else {
			a.Balance += gained
		}
	}
	a.LastRegenAt = now
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Balance auto-applies pending regeneration before returning.
func (l *ManaLedger) Balance(did Did) uint64 {
	e := l.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	l.regenerateLocked(e)
	return e.account.Balance
}

// Spend fails with ErrInsufficientMana if balance < amount, otherwise
// decrements atomically.
func (l *ManaLedger) Spend(did Did, amount uint64) error {
	e := l.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	l.regenerateLocked(e)
	if e.account.Balance < amount {
		return fmt.Errorf("core: spend %d for %s: %w", amount, did, ErrInsufficientMana)
	}
	e.account.Balance -= amount
	return nil
}

// Credit saturates at max_capacity.
func (l *ManaLedger) Credit(did Did, amount uint64) {
	e := l.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	l.regenerateLocked(e)
	if e.account.Balance+amount > e.account.MaxCapacity || e.account.Balance+amount < e.account.Balance {
		e.account.Balance = e.account.MaxCapacity
		return
	}
	e.account.Balance += amount
}

// SetBalance is an administrative override, clamped to capacity.
func (l *ManaLedger) SetBalance(did Did, amount uint64) {
	e := l.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	if amount > e.account.MaxCapacity {
		amount = e.account.MaxCapacity
	}
	e.account.Balance = amount
}

// CreditAll applies amount to every known account, taking per-account locks
// in canonical Did order to avoid deadlock with concurrent two-account ops.
func (l *ManaLedger) CreditAll(amount uint64) {
	l.mu.RLock()
	dids := make([]Did, 0, len(l.accounts))
	for d := range l.accounts {
		dids = append(dids, d)
	}
	l.mu.RUnlock()

	sort.Slice(dids, func(i, j int) bool { return dids[i].String() < dids[j].String() })
	for _, d := range dids {
		l.Credit(d, amount)
	}
	l.log.WithFields(logrus.Fields{"amount": amount, "accounts": len(dids)}).Info("mana: credited all accounts")
}

// SetReputationSnapshot updates the f_rep/f_cap inputs read by regeneration;
// called by the reputation store's feedback loop (spec §4.5).
func (l *ManaLedger) SetReputationSnapshot(did Did, reputationMultiplier, capacityScore float64) {
	e := l.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	l.regenerateLocked(e)
	e.account.ReputationMultiplier = reputationMultiplier
	e.account.CapacityScore = capacityScore
}

// Account returns a snapshot copy of the account after applying pending
// regeneration.
func (l *ManaLedger) Account(did Did) ManaAccount {
	e := l.entry(did)
	e.mu.Lock()
	defer e.mu.Unlock()
	l.regenerateLocked(e)
	return e.account
}

// Transfer moves mana between two non-transferable-in-spirit accounts for
// internal bookkeeping only (e.g. executor payout + submitter refund in the
// same job settlement); it is implemented as spend-then-credit, taking each
// account's lock in turn rather than holding both at once, so it never
// creates mana out of nothing and never deadlocks against a concurrent
// Transfer touching the same two accounts in the opposite direction.
func (l *ManaLedger) Transfer(from, to Did, amount uint64) error {
	if from == to {
		return nil
	}
	if err := l.Spend(from, amount); err != nil {
		return err
	}
	l.Credit(to, amount)
	return nil
}
