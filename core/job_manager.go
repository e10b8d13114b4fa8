package core

// Job manager: the mesh scheduler core, implementing the
// announce→bid→select→assign→execute→receipt→anchor state machine with
// retries, executor blacklisting, and rollback (spec §4.3). Grounded on the
// teacher's finalization_management.go (state-machine-with-journal pattern)
// and event_management.go (subscriber fanout on state transitions),
// generalised from block finalization to per-job lifecycle tracking.

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	logrus "github.com/sirupsen/logrus"
)

// JobStatus is the authoritative job lifecycle state, per spec §4.3.
type JobStatus string

const (
	JobSubmitted JobStatus = "submitted"
	JobBidding   JobStatus = "bidding"
	JobAssigned  JobStatus = "assigned"
	JobExecuting JobStatus = "executing"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobTimedOut  JobStatus = "timed_out"
	JobRetrying  JobStatus = "retrying"
	JobRolledBack JobStatus = "rolled_back"
	JobCancelled JobStatus = "cancelled"
)

// JobSpec carries the submitter's request: kind, resource requirements,
// input Cids, and expected output names.
type JobSpec struct {
	Kind       string       `json:"kind"`
	Required   ResourceSpec `json:"required_resources"`
	InputCids  []Cid        `json:"input_cids"`
	OutputNames []string    `json:"output_names"`
}

// Bid is a signed executor offer, valid only within a job's bidding window.
type Bid struct {
	JobId            Cid          `json:"job_id"`
	ExecutorDid      Did          `json:"executor_did"`
	PriceMana        uint64       `json:"price_mana"`
	OfferedResources ResourceSpec `json:"offered_resources"`
	Timestamp        time.Time    `json:"timestamp"`
	Signature        []byte       `json:"signature"`
}

// Receipt is the signed artifact an executor submits after execution.
type Receipt struct {
	JobId       Cid    `json:"job_id"`
	ExecutorDid Did    `json:"executor_did"`
	ResultCid   Cid    `json:"result_cid"`
	CpuMs       uint64 `json:"cpu_ms"`
	Success     bool   `json:"success"`
	Signature   []byte `json:"signature"`
}

// Job is the full scheduler record for one unit of mesh work.
type Job struct {
	JobId             Cid
	ManifestCid       Cid
	Spec              JobSpec
	CreatorDid        Did
	CostMana          uint64
	MaxWaitMs         uint64
	Signature         []byte
	Status            JobStatus
	Attempts          int
	Bids              []Bid
	AssignedExecutor  *Did
	Receipt           *Receipt
	BiddingDeadline   time.Time
	AssignDeadline    time.Time
	ExcludedExecutors map[Did]struct{}
}

// JobManagerConfig mirrors the mesh section of the config surface (§6).
type JobManagerConfig struct {
	JobRetryCount          int
	BlacklistAfterFailures int
	BlacklistCooldown      time.Duration
	AssignmentAckTimeout   time.Duration
	BidWindow              time.Duration
	MaxExecutionWait       time.Duration
	MaxConcurrentJobs      int
	MinExecutorReputation  float64
	SelectorWeights        SelectorWeights
}

func (c JobManagerConfig) withDefaults() JobManagerConfig {
	if c.JobRetryCount <= 0 {
		c.JobRetryCount = 3
	}
	if c.BlacklistAfterFailures <= 0 {
		c.BlacklistAfterFailures = 5
	}
	if c.BlacklistCooldown <= 0 {
		c.BlacklistCooldown = 10 * time.Minute
	}
	if c.AssignmentAckTimeout <= 0 {
		c.AssignmentAckTimeout = 5 * time.Second
	}
	if c.BidWindow <= 0 {
		c.BidWindow = 10 * time.Second
	}
	if c.MaxExecutionWait <= 0 {
		c.MaxExecutionWait = 2 * time.Minute
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = 1000
	}
	if c.SelectorWeights == (SelectorWeights{}) {
		c.SelectorWeights = DefaultSelectorWeights()
	}
	return c
}

type jobEntry struct {
	mu       sync.Mutex
	job      Job
	slotHeld bool
}

type executorFailureState struct {
	consecutiveFailures int
	blacklistedUntil    time.Time
}

// JobManager owns every Job record exclusively; other components see only
// Cids and signed artifacts passed through its methods.
type JobManager struct {
	cfg        JobManagerConfig
	mana       *ManaLedger
	reputation *ReputationStore
	store      *DagStore
	transport  PeerTransport
	now        func() time.Time
	log        *logrus.Logger

	mu            sync.RWMutex
	jobs          map[Cid]*jobEntry
	pending       chan Cid // dispatch queue drained by Run, per spec §4.3 "Priority & backpressure"
	queueCapacity int
	depthMu       sync.Mutex
	depth         int // count of jobs currently occupying a dispatch slot (pending or bidding)
	failures      map[Did]*executorFailureState
	failMu        sync.Mutex
}

// NewJobManager wires the scheduler to its dependencies. queueCapacity
// bounds the number of jobs that may be pending or bidding at once;
// submissions beyond it fail with ErrBackpressure per spec §4.3.
func NewJobManager(cfg JobManagerConfig, mana *ManaLedger, reputation *ReputationStore, store *DagStore, transport PeerTransport, queueCapacity int) *JobManager {
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	return &JobManager{
		cfg:           cfg.withDefaults(),
		mana:          mana,
		reputation:    reputation,
		store:         store,
		transport:     transport,
		now:           time.Now,
		log:           logrus.StandardLogger(),
		jobs:          make(map[Cid]*jobEntry),
		pending:       make(chan Cid, queueCapacity),
		queueCapacity: queueCapacity,
		failures:      make(map[Did]*executorFailureState),
	}
}

// Run drains the dispatch queue and schedules each job's bidding window to
// close at its deadline. This is the single dispatch task required by spec
// §4.3/§5; without it jobs submitted through Submit would sit in JobBidding
// forever. It blocks until ctx is cancelled.
func (m *JobManager) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case jobId, ok := <-m.pending:
			if !ok {
				return
			}
			m.scheduleClose(ctx, jobId)
		}
	}
}

// scheduleClose waits until jobId's current bidding deadline, then closes
// its bidding window. Runs in its own goroutine so Run keeps draining.
func (m *JobManager) scheduleClose(ctx context.Context, jobId Cid) {
	e := m.entry(jobId)
	if e == nil {
		return
	}
	e.mu.Lock()
	deadline := e.job.BiddingDeadline
	e.mu.Unlock()

	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}
		if err := m.CloseBidding(ctx, jobId); err != nil {
			m.log.WithError(err).WithField("job_id", jobId.String()).Warn("job: close bidding failed")
		}
	}()
}

// requeue re-enters jobId into the dispatch queue so Run schedules a close
// for its new bidding deadline (used when a retry reopens bidding).
func (m *JobManager) requeue(jobId Cid) {
	select {
	case m.pending <- jobId:
	default:
		m.log.WithField("job_id", jobId.String()).Warn("job: dispatch queue full, retry bidding window will not auto-close")
	}
}

func (m *JobManager) acquireSlot() bool {
	m.depthMu.Lock()
	defer m.depthMu.Unlock()
	if m.depth >= m.queueCapacity {
		return false
	}
	m.depth++
	return true
}

func (m *JobManager) releaseGlobalSlot() {
	m.depthMu.Lock()
	defer m.depthMu.Unlock()
	if m.depth > 0 {
		m.depth--
	}
}

// releaseSlot frees jobId's dispatch-queue slot exactly once, the first
// time it leaves the pending/bidding state (assignment or rollback).
func (m *JobManager) releaseSlot(jobId Cid) {
	e := m.entry(jobId)
	if e == nil {
		return
	}
	e.mu.Lock()
	held := e.slotHeld
	e.slotHeld = false
	e.mu.Unlock()
	if held {
		m.releaseGlobalSlot()
	}
}

// Submit verifies the submitter's signature (via envelope, done by the
// caller before reaching here), computes reputation-adjusted cost_mana,
// atomically spends mana and anchors the manifest, then transitions the job
// to Bidding and returns its JobId (the manifest's Cid).
func (m *JobManager) Submit(ctx context.Context, spec JobSpec, submitter Did, baseCost uint64, signature []byte) (Cid, error) {
	cost := m.reputationAdjustedCost(baseCost, submitter)

	manifest := &DagBlock{
		Data:      mustMarshalSpec(spec),
		Timestamp: m.now().UnixNano(),
		AuthorDid: submitter,
		Signature: signature,
	}
	manifestCid, err := m.store.Put(manifest)
	if err != nil {
		return Cid{}, fmt.Errorf("core: anchor job manifest: %w", err)
	}

	if !m.acquireSlot() {
		return Cid{}, fmt.Errorf("core: job queue full: %w", ErrBackpressure)
	}

	if err := m.mana.Spend(submitter, cost); err != nil {
		m.releaseGlobalSlot()
		return Cid{}, err
	}

	job := Job{
		JobId:             manifestCid,
		ManifestCid:       manifestCid,
		Spec:              spec,
		CreatorDid:        submitter,
		CostMana:          cost,
		Status:            JobSubmitted,
		BiddingDeadline:   m.now().Add(m.cfg.BidWindow),
		ExcludedExecutors: make(map[Did]struct{}),
	}

	m.mu.Lock()
	m.jobs[manifestCid] = &jobEntry{job: job, slotHeld: true}
	m.mu.Unlock()

	m.requeue(manifestCid)
	m.transitionTo(manifestCid, JobBidding)
	m.announce(ctx, manifestCid)
	m.log.WithFields(logrus.Fields{"job_id": manifestCid.String(), "cost_mana": cost}).Info("job: submitted and announced")
	return manifestCid, nil
}

func (m *JobManager) reputationAdjustedCost(base uint64, did Did) uint64 {
	score := m.reputation.Score(did)
	discount := 1.0 - 0.5*Normalize(score) // higher reputation, cheaper action
	if discount < 0.5 {
		discount = 0.5
	}
	return uint64(float64(base) * discount)
}

func mustMarshalSpec(spec JobSpec) []byte {
	b, err := marshalJSONLocal(spec)
	if err != nil {
		return nil
	}
	return b
}

func (m *JobManager) announce(ctx context.Context, jobId Cid) {
	if m.transport == nil {
		return
	}
	entry := m.entry(jobId)
	if entry == nil {
		return
	}
	entry.mu.Lock()
	job := entry.job
	entry.mu.Unlock()

	payload := struct {
		JobId Cid     `json:"job_id"`
		Spec  JobSpec `json:"spec"`
		Cost  uint64  `json:"cost_mana"`
	}{JobId: jobId, Spec: job.Spec, Cost: job.CostMana}
	env := Envelope{Version: ProtocolVersion, Kind: PayloadJobAnnouncement, SenderDid: job.CreatorDid, Timestamp: m.now()}
	raw, err := marshalJSONLocal(payload)
	if err != nil {
		return
	}
	env.Payload = raw
	_ = m.transport.Broadcast(ctx, "mesh.jobs", env)
}

func (m *JobManager) entry(jobId Cid) *jobEntry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.jobs[jobId]
}

// Job returns a snapshot copy of the current job record.
func (m *JobManager) Job(jobId Cid) (Job, bool) {
	e := m.entry(jobId)
	if e == nil {
		return Job{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job, true
}

func (m *JobManager) transitionTo(jobId Cid, status JobStatus) {
	e := m.entry(jobId)
	if e == nil {
		return
	}
	e.mu.Lock()
	e.job.Status = status
	e.mu.Unlock()
}

// SubmitBid accepts a bid if it passes the eligibility rules from spec
// §4.3: signature valid (checked by caller), inside the bidding window,
// reputation above threshold and not blacklisted, resources sufficient,
// price within budget.
func (m *JobManager) SubmitBid(jobId Cid, bid Bid) error {
	e := m.entry(jobId)
	if e == nil {
		return fmt.Errorf("core: job %s: %w", jobId, ErrNotFound)
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.job.Status != JobBidding {
		return fmt.Errorf("core: job %s not accepting bids in status %s: %w", jobId, e.job.Status, ErrInvalidState)
	}
	if m.now().After(e.job.BiddingDeadline) {
		return fmt.Errorf("core: bid for %s arrived after window closed: %w", jobId, ErrExpired)
	}
	if _, excluded := e.job.ExcludedExecutors[bid.ExecutorDid]; excluded {
		return fmt.Errorf("core: executor %s excluded from job %s: %w", bid.ExecutorDid, jobId, ErrPolicyDenied)
	}

	blacklisted := m.isBlacklisted(bid.ExecutorDid)
	repScore := m.reputation.Score(bid.ExecutorDid)
	if !EligibleBid(bid, e.job.Spec.Required, e.job.CostMana, repScore, m.cfg.MinExecutorReputation, blacklisted) {
		return fmt.Errorf("core: bid from %s ineligible for job %s: %w", bid.ExecutorDid, jobId, ErrPolicyDenied)
	}

	e.job.Bids = append(e.job.Bids, bid)
	return nil
}

func (m *JobManager) isBlacklisted(did Did) bool {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	st, ok := m.failures[did]
	if !ok {
		return false
	}
	return m.now().Before(st.blacklistedUntil)
}

// CloseBidding scores accumulated bids once the window has elapsed and
// assigns the winner, per spec §4.3. An empty bid set transitions the job
// to Failed and schedules a retry.
func (m *JobManager) CloseBidding(ctx context.Context, jobId Cid) error {
	e := m.entry(jobId)
	if e == nil {
		return fmt.Errorf("core: job %s: %w", jobId, ErrNotFound)
	}
	e.mu.Lock()
	if e.job.Status != JobBidding {
		e.mu.Unlock()
		return nil // already closed by a prior call (idempotent)
	}
	bids := append([]Bid(nil), e.job.Bids...)
	required := e.job.Spec.Required
	maxPrice := e.job.CostMana
	e.mu.Unlock()

	winner, err := SelectExecutor(bids, required, maxPrice, m.reputation.Score, m.cfg.SelectorWeights)
	if err != nil {
		return m.handleBiddingFailure(ctx, jobId)
	}

	e.mu.Lock()
	e.job.AssignedExecutor = &winner.ExecutorDid
	e.job.Status = JobAssigned
	e.job.AssignDeadline = m.now().Add(m.cfg.AssignmentAckTimeout)
	e.mu.Unlock()

	m.releaseSlot(jobId)
	m.emitAssignment(ctx, jobId, winner.ExecutorDid)
	m.log.WithFields(logrus.Fields{"job_id": jobId.String(), "executor": winner.ExecutorDid.String()}).Info("job: assigned")
	return nil
}

func (m *JobManager) emitAssignment(ctx context.Context, jobId Cid, executor Did) {
	if m.transport == nil {
		return
	}
	env := Envelope{Version: ProtocolVersion, Kind: PayloadAssignmentNotice, Timestamp: m.now()}
	payload := struct {
		JobId    Cid `json:"job_id"`
		Executor Did `json:"executor_did"`
	}{JobId: jobId, Executor: executor}
	raw, err := marshalJSONLocal(payload)
	if err != nil {
		return
	}
	env.Payload = raw
	_ = m.transport.Broadcast(ctx, "mesh.assignments", env)
}

func (m *JobManager) handleBiddingFailure(ctx context.Context, jobId Cid) error {
	e := m.entry(jobId)
	e.mu.Lock()
	e.job.Status = JobFailed
	e.mu.Unlock()
	return m.retryOrRollback(ctx, jobId, Did{})
}

// SubmitReceipt verifies the receipt binds to the assigned executor and
// job, then either anchors success (crediting the executor and refunding
// the submitter's unused cost, plus a reputation event) or routes to
// failure handling, per spec §4.3.
func (m *JobManager) SubmitReceipt(ctx context.Context, jobId Cid, receipt Receipt) error {
	e := m.entry(jobId)
	if e == nil {
		return fmt.Errorf("core: job %s: %w", jobId, ErrNotFound)
	}
	e.mu.Lock()
	assigned := e.job.AssignedExecutor
	e.mu.Unlock()

	if assigned == nil || *assigned != receipt.ExecutorDid || receipt.JobId != jobId {
		return fmt.Errorf("core: receipt does not match assignment for job %s: %w", jobId, ErrInvalidInput)
	}
	if _, ok, err := m.store.Get(receipt.ResultCid); err != nil {
		return err
	} else if !ok {
		return fmt.Errorf("core: receipt result %s not resolvable: %w", receipt.ResultCid, ErrNotFound)
	}

	if !receipt.Success {
		return m.handleReceiptFailure(ctx, jobId, receipt.ExecutorDid)
	}

	e.mu.Lock()
	e.job.Status = JobCompleted
	e.job.Receipt = &receipt
	job := e.job
	e.mu.Unlock()

	receiptBlock := &DagBlock{
		Data:      mustMarshalSpec(job.Spec),
		Timestamp: m.now().UnixNano(),
		AuthorDid: receipt.ExecutorDid,
		Signature: receipt.Signature,
	}
	if _, err := m.store.Put(receiptBlock); err != nil {
		return fmt.Errorf("core: anchor receipt: %w", err)
	}

	winningBid := findBid(job.Bids, receipt.ExecutorDid)
	price := winningBid.PriceMana
	refund := job.CostMana - price
	m.mana.Credit(receipt.ExecutorDid, price)
	if refund > 0 {
		m.mana.Credit(job.CreatorDid, refund)
	}
	m.reputation.RecordEvent(receipt.ExecutorDid, ReputationEvent{Kind: EventSuccessfulExecution, Timestamp: m.now(), Verified: true})
	m.log.WithFields(logrus.Fields{"job_id": jobId.String(), "executor": receipt.ExecutorDid.String()}).Info("job: completed")
	return nil
}

func findBid(bids []Bid, executor Did) Bid {
	for _, b := range bids {
		if b.ExecutorDid == executor {
			return b
		}
	}
	return Bid{}
}

func (m *JobManager) handleReceiptFailure(ctx context.Context, jobId Cid, executor Did) error {
	m.recordExecutorFailure(executor)
	m.reputation.RecordEvent(executor, ReputationEvent{Kind: EventFailedExecution, Timestamp: m.now(), Verified: true})
	return m.retryOrRollback(ctx, jobId, executor)
}

func (m *JobManager) recordExecutorFailure(executor Did) {
	m.failMu.Lock()
	defer m.failMu.Unlock()
	st, ok := m.failures[executor]
	if !ok {
		st = &executorFailureState{}
		m.failures[executor] = st
	}
	st.consecutiveFailures++
	if st.consecutiveFailures >= m.cfg.BlacklistAfterFailures {
		st.blacklistedUntil = m.now().Add(m.cfg.BlacklistCooldown)
	}
}

// retryOrRollback implements spec §4.3 "Failure handling": increments
// attempts; retries with the offending executor excluded if under the
// attempt cap, otherwise anchors a RollbackEvent and refunds the submitter.
func (m *JobManager) retryOrRollback(ctx context.Context, jobId Cid, excludeExecutor Did) error {
	e := m.entry(jobId)
	if e == nil {
		return fmt.Errorf("core: job %s: %w", jobId, ErrNotFound)
	}
	e.mu.Lock()
	e.job.Attempts++
	if !excludeExecutor.IsZero() {
		e.job.ExcludedExecutors[excludeExecutor] = struct{}{}
	}
	attemptsExhausted := e.job.Attempts >= m.cfg.JobRetryCount
	job := e.job
	if !attemptsExhausted {
		e.job.Status = JobRetrying
		e.job.Bids = nil
		e.job.AssignedExecutor = nil
		e.job.BiddingDeadline = m.now().Add(m.cfg.BidWindow)
	}
	e.mu.Unlock()

	if !attemptsExhausted {
		m.transitionTo(jobId, JobBidding)
		m.announce(ctx, jobId)
		m.requeue(jobId)
		return nil
	}
	return m.rollback(jobId, job)
}

// rollback anchors a RollbackEvent, refunds the submitter's cost_mana in
// full, and marks the job terminal.
func (m *JobManager) rollback(jobId Cid, job Job) error {
	event := struct {
		JobId Cid `json:"job_id"`
	}{JobId: jobId}
	data, err := marshalJSONLocal(event)
	if err != nil {
		return err
	}
	rb := &DagBlock{Data: data, Timestamp: m.now().UnixNano(), AuthorDid: job.CreatorDid}
	if _, err := m.store.Put(rb); err != nil {
		return fmt.Errorf("core: anchor rollback event: %w", err)
	}
	m.mana.Credit(job.CreatorDid, job.CostMana)

	e := m.entry(jobId)
	e.mu.Lock()
	e.job.Status = JobRolledBack
	e.mu.Unlock()
	m.releaseSlot(jobId)
	m.log.WithField("job_id", jobId.String()).Warn("job: rolled back after exhausting retries")
	return nil
}

func marshalJSONLocal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
