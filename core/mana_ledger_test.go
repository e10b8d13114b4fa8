package core

import (
	"testing"
	"time"
)

func newTestManaLedger(start time.Time) *ManaLedger {
	l := NewManaLedger(ManaLedgerConfig{DefaultMaxCapacity: 100, DefaultBaseRegenRate: 10})
	l.now = func() time.Time { return start }
	return l
}

func TestManaLedgerSpendAndCredit(t *testing.T) {
	did := Did{Method: "key", ID: "alice"}
	l := newTestManaLedger(time.Unix(0, 0))
	l.SetBalance(did, 50)

	if got := l.Balance(did); got != 50 {
		t.Fatalf("balance = %d, want 50", got)
	}
	if err := l.Spend(did, 20); err != nil {
		t.Fatalf("spend: %v", err)
	}
	if got := l.Balance(did); got != 30 {
		t.Fatalf("balance after spend = %d, want 30", got)
	}
	l.Credit(did, 10)
	if got := l.Balance(did); got != 40 {
		t.Fatalf("balance after credit = %d, want 40", got)
	}
}

func TestManaLedgerSpendInsufficient(t *testing.T) {
	did := Did{Method: "key", ID: "bob"}
	l := newTestManaLedger(time.Unix(0, 0))
	l.SetBalance(did, 5)

	err := l.Spend(did, 10)
	if err == nil {
		t.Fatal("expected error spending more than balance")
	}
	if !isErr(err, ErrInsufficientMana) {
		t.Fatalf("expected ErrInsufficientMana, got %v", err)
	}
	if got := l.Balance(did); got != 5 {
		t.Fatalf("balance must be unchanged after failed spend, got %d", got)
	}
}

func TestManaLedgerCreditSaturatesAtCapacity(t *testing.T) {
	did := Did{Method: "key", ID: "carol"}
	l := newTestManaLedger(time.Unix(0, 0))
	l.SetBalance(did, 90)
	l.Credit(did, 50)
	if got := l.Balance(did); got != 100 {
		t.Fatalf("balance = %d, want capped at 100", got)
	}
}

func TestManaLedgerRegeneratesOverTime(t *testing.T) {
	did := Did{Method: "key", ID: "dave"}
	start := time.Unix(0, 0)
	l := newTestManaLedger(start)
	l.SetBalance(did, 0)
	l.SetReputationSnapshot(did, 1.0, 1.0)

	l.now = func() time.Time { return start.Add(2 * time.Hour) }
	if got := l.Balance(did); got != 20 {
		t.Fatalf("balance after 2h at rate 10/h = %d, want 20", got)
	}
}

func TestManaLedgerCreditAllIsOrderedAndBounded(t *testing.T) {
	l := newTestManaLedger(time.Unix(0, 0))
	dids := []Did{
		{Method: "key", ID: "z"},
		{Method: "key", ID: "a"},
		{Method: "key", ID: "m"},
	}
	for _, d := range dids {
		l.SetBalance(d, 0)
	}
	l.CreditAll(5)
	for _, d := range dids {
		if got := l.Balance(d); got != 5 {
			t.Fatalf("did %s balance = %d, want 5", d, got)
		}
	}
}

func TestManaLedgerTransferIsNonCreating(t *testing.T) {
	from := Did{Method: "key", ID: "from"}
	to := Did{Method: "key", ID: "to"}
	l := newTestManaLedger(time.Unix(0, 0))
	l.SetBalance(from, 30)
	l.SetBalance(to, 0)

	if err := l.Transfer(from, to, 10); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if got := l.Balance(from); got != 20 {
		t.Fatalf("from balance = %d, want 20", got)
	}
	if got := l.Balance(to); got != 10 {
		t.Fatalf("to balance = %d, want 10", got)
	}
}

// isErr is a small errors.Is wrapper kept local to avoid importing errors in
// every test file that only needs this one check.
func isErr(err, target error) bool {
	for err != nil {
		if err == target {
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
