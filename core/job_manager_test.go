package core

import (
	"context"
	"testing"
	"time"
)

func newTestJobManager(t *testing.T) (*JobManager, *ManaLedger, *ReputationStore, *DagStore, Did, Did) {
	t.Helper()
	mana := NewManaLedger(ManaLedgerConfig{DefaultMaxCapacity: 1000, DefaultBaseRegenRate: 10})
	rep := NewReputationStore(mana)
	store, err := NewDagStore(DagStoreConfig{})
	if err != nil {
		t.Fatalf("new dag store: %v", err)
	}
	jm := NewJobManager(JobManagerConfig{BidWindow: time.Second, JobRetryCount: 2}, mana, rep, store, nil, 16)

	submitter := Did{Method: "key", ID: "submitter"}
	executor := Did{Method: "key", ID: "executor"}
	mana.SetBalance(submitter, 500)
	mana.SetBalance(executor, 0)
	return jm, mana, rep, store, submitter, executor
}

func TestJobManagerSubmitSpendsManaAndAnnounces(t *testing.T) {
	jm, mana, _, _, submitter, _ := newTestJobManager(t)
	jobId, err := jm.Submit(context.Background(), JobSpec{Kind: "render"}, submitter, 100, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	job, ok := jm.Job(jobId)
	if !ok {
		t.Fatal("job not found after submit")
	}
	if job.Status != JobBidding {
		t.Fatalf("status = %v, want bidding", job.Status)
	}
	if mana.Balance(submitter) != 500-job.CostMana {
		t.Fatalf("submitter balance = %d, want %d after spending cost_mana", mana.Balance(submitter), 500-job.CostMana)
	}
}

func TestJobManagerFullLifecycleSuccess(t *testing.T) {
	jm, mana, rep, store, submitter, executor := newTestJobManager(t)
	jobId, err := jm.Submit(context.Background(), JobSpec{Kind: "render"}, submitter, 100, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	bid := Bid{JobId: jobId, ExecutorDid: executor, PriceMana: 50, Timestamp: time.Now()}
	if err := jm.SubmitBid(jobId, bid); err != nil {
		t.Fatalf("submit bid: %v", err)
	}
	if err := jm.CloseBidding(context.Background(), jobId); err != nil {
		t.Fatalf("close bidding: %v", err)
	}

	job, _ := jm.Job(jobId)
	if job.Status != JobAssigned || job.AssignedExecutor == nil || *job.AssignedExecutor != executor {
		t.Fatalf("job not assigned to executor: %+v", job)
	}

	resultBlock := &DagBlock{Data: []byte("result"), Timestamp: time.Now().UnixNano(), AuthorDid: executor}
	resultCid, err := store.Put(resultBlock)
	if err != nil {
		t.Fatalf("put result block: %v", err)
	}

	receipt := Receipt{JobId: jobId, ExecutorDid: executor, ResultCid: resultCid, Success: true}
	if err := jm.SubmitReceipt(context.Background(), jobId, receipt); err != nil {
		t.Fatalf("submit receipt: %v", err)
	}

	job, _ = jm.Job(jobId)
	if job.Status != JobCompleted {
		t.Fatalf("status = %v, want completed", job.Status)
	}
	if mana.Balance(executor) != 50 {
		t.Fatalf("executor balance = %d, want 50", mana.Balance(executor))
	}
	if mana.Balance(submitter) != 450 {
		t.Fatalf("submitter balance = %d, want 450 (500 - 75 cost + 25 refund)", mana.Balance(submitter))
	}
	if got := rep.Score(executor); got <= 0 {
		t.Fatalf("executor reputation = %v, want positive after success", got)
	}
}

func TestJobManagerNoBidsFailsAndRetries(t *testing.T) {
	jm, mana, _, _, submitter, _ := newTestJobManager(t)
	jobId, err := jm.Submit(context.Background(), JobSpec{Kind: "render"}, submitter, 100, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := jm.CloseBidding(context.Background(), jobId); err != nil {
		t.Fatalf("close bidding: %v", err)
	}
	job, _ := jm.Job(jobId)
	if job.Status != JobBidding {
		t.Fatalf("status = %v, want re-opened bidding after empty bid set", job.Status)
	}
	if job.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", job.Attempts)
	}
	_ = mana
}

func TestJobManagerRollbackRefundsAfterAttemptsExhausted(t *testing.T) {
	jm, mana, _, _, submitter, _ := newTestJobManager(t)
	balanceBeforeSubmit := mana.Balance(submitter)
	jobId, err := jm.Submit(context.Background(), JobSpec{Kind: "render"}, submitter, 100, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := jm.CloseBidding(context.Background(), jobId); err != nil {
			t.Fatalf("close bidding iteration %d: %v", i, err)
		}
	}

	job, _ := jm.Job(jobId)
	if job.Status != JobRolledBack {
		t.Fatalf("status = %v, want rolled_back", job.Status)
	}
	if got := mana.Balance(submitter); got != balanceBeforeSubmit {
		t.Fatalf("submitter balance = %d, want %d after full refund restores pre-submission balance", got, balanceBeforeSubmit)
	}
}

func TestJobManagerBidOutsideWindowRejected(t *testing.T) {
	jm, _, _, _, submitter, executor := newTestJobManager(t)
	jm.cfg.BidWindow = time.Millisecond
	jobId, err := jm.Submit(context.Background(), JobSpec{Kind: "render"}, submitter, 100, nil)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	bid := Bid{JobId: jobId, ExecutorDid: executor, PriceMana: 10, Timestamp: time.Now()}
	err = jm.SubmitBid(jobId, bid)
	if !isErr(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
}

func TestJobManagerSubmitFailsWhenQueueFull(t *testing.T) {
	mana := NewManaLedger(ManaLedgerConfig{DefaultMaxCapacity: 10000})
	rep := NewReputationStore(mana)
	store, err := NewDagStore(DagStoreConfig{})
	if err != nil {
		t.Fatalf("new dag store: %v", err)
	}
	jm := NewJobManager(JobManagerConfig{BidWindow: time.Second}, mana, rep, store, nil, 1)
	submitter := Did{Method: "key", ID: "submitter"}
	mana.SetBalance(submitter, 10000)

	if _, err := jm.Submit(context.Background(), JobSpec{Kind: "a"}, submitter, 10, nil); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	_, err = jm.Submit(context.Background(), JobSpec{Kind: "b"}, submitter, 10, nil)
	if !isErr(err, ErrBackpressure) {
		t.Fatalf("expected ErrBackpressure when queue is full, got %v", err)
	}
}
