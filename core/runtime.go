package core

// Runtime is the process-wide composition root (spec §9): it owns the
// signer, DAG store, mana ledger, reputation store, peer transport, job
// manager and governance module, and is the single point through which a
// WASM module's Host ABI calls reach them. Grounded on the teacher's
// virtual_machine.go (a Host-ABI dispatch table wired to wasmer-go) and
// node.go-style lifecycle (Init/Run/Shutdown composition root).

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RuntimeConfig gathers every sub-component's config under one roof, read
// from the network/mesh/storage/identity/economics/federation config
// sections.
type RuntimeConfig struct {
	Mana        ManaLedgerConfig
	JobManager  JobManagerConfig
	Federation  FederationSyncConfig
	Governance  GovernanceConfig
	DagStore    DagStoreConfig
	Breaker     CircuitBreakerConfig
	QueueDepth  int
}

// Runtime is the composition root. Every field is exported for embedding
// convenience (e.g. by cmd/ wiring) but external callers should prefer the
// Host ABI methods below over reaching into sub-components directly.
type Runtime struct {
	Signer     *Signer
	Store      *DagStore
	Mana       *ManaLedger
	Reputation *ReputationStore
	Transport  PeerTransport
	Jobs       *JobManager
	Governance *Governance
	Federation *FederationSync
	Breaker    *CircuitBreaker

	log *logrus.Logger

	mu        sync.Mutex
	started   bool
	cancelRun context.CancelFunc
}

// NewRuntime wires every sub-component in dependency order: store before
// federation/jobs, mana+reputation before jobs/governance, transport last
// since it is the only piece that talks to the network.
func NewRuntime(cfg RuntimeConfig, signer *Signer, transport PeerTransport, log *logrus.Logger) (*Runtime, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	store, err := NewDagStore(cfg.DagStore)
	if err != nil {
		return nil, fmt.Errorf("core: init dag store: %w", err)
	}
	mana := NewManaLedger(cfg.Mana)
	reputation := NewReputationStore(mana)
	breaker := NewCircuitBreaker(cfg.Breaker)

	if transport == nil {
		selfDid := Did{}
		if signer != nil {
			selfDid = signer.Did()
		}
		transport = NewInMemoryTransport(selfDid)
	}

	jobs := NewJobManager(cfg.JobManager, mana, reputation, store, transport, cfg.QueueDepth)
	gov := NewGovernance(cfg.Governance, mana, store)
	fed := NewFederationSync(store, reputation, transport, cfg.Federation)

	return &Runtime{
		Signer:     signer,
		Store:      store,
		Mana:       mana,
		Reputation: reputation,
		Transport:  transport,
		Jobs:       jobs,
		Governance: gov,
		Federation: fed,
		Breaker:    breaker,
		log:        log,
	}, nil
}

// Start subscribes the job-announcement topic and marks the runtime live.
// It is idempotent; calling Start twice is a no-op.
func (r *Runtime) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.cancelRun = cancel
	if r.Transport != nil {
		if err := r.Transport.Subscribe(runCtx, "mesh.jobs", func(Envelope) {}); err != nil {
			cancel()
			return fmt.Errorf("core: subscribe mesh.jobs: %w", err)
		}
	}
	go r.Jobs.Run(runCtx)
	r.started = true
	r.log.Info("runtime: started")
	return nil
}

// Shutdown stops background subscriptions and closes the transport. Safe to
// call on a runtime that was never started.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelRun != nil {
		r.cancelRun()
	}
	if !r.started {
		return nil
	}
	r.started = false
	if r.Transport != nil {
		if err := r.Transport.Close(); err != nil {
			return fmt.Errorf("core: close transport: %w", err)
		}
	}
	r.log.Info("runtime: shut down")
	return nil
}

// HostCapability names a single function a WASM module may invoke through
// the Host ABI. Kept as a closed, explicit set rather than reflection-driven
// dispatch, per the teacher's virtual_machine.go opcode-table style.
type HostCapability string

const (
	HostDagGet       HostCapability = "dag_get"
	HostDagPut       HostCapability = "dag_put"
	HostManaBalance  HostCapability = "mana_balance"
	HostManaSpend    HostCapability = "mana_spend"
	HostReputation   HostCapability = "reputation_score"
	HostSubmitJob    HostCapability = "submit_job"
	HostJobStatus    HostCapability = "job_status"
)

// HostCall is a single Host ABI invocation: the WASM module names a
// capability and supplies a caller Did (for mana/accounting attribution)
// plus an opaque argument payload.
type HostCall struct {
	Capability HostCapability
	Caller     Did
	Args       map[string]interface{}
}

// HostResult is the Host ABI's uniform return envelope.
type HostResult struct {
	Value interface{}
	Err   error
}

// Dispatch routes a single Host ABI call to the owning sub-component. This
// is the only path by which a loaded WASM module touches runtime state;
// every capability is individually accounted and bounded by the
// sub-component's own locking discipline.
func (r *Runtime) Dispatch(ctx context.Context, call HostCall) HostResult {
	switch call.Capability {
	case HostDagGet:
		cid, _ := call.Args["cid"].(Cid)
		block, ok, err := r.Store.Get(cid)
		if err != nil {
			return HostResult{Err: err}
		}
		if !ok {
			return HostResult{Err: fmt.Errorf("core: dag_get %s: %w", cid.String(), ErrNotFound)}
		}
		return HostResult{Value: block}
	case HostDagPut:
		block, _ := call.Args["block"].(*DagBlock)
		if block == nil {
			return HostResult{Err: fmt.Errorf("core: dag_put: %w", ErrInvalidInput)}
		}
		cid, err := r.Store.Put(block)
		return HostResult{Value: cid, Err: err}
	case HostManaBalance:
		return HostResult{Value: r.Mana.Balance(call.Caller)}
	case HostManaSpend:
		amount, _ := call.Args["amount"].(uint64)
		err := r.Mana.Spend(call.Caller, amount)
		return HostResult{Err: err}
	case HostReputation:
		return HostResult{Value: r.Reputation.Score(call.Caller)}
	case HostSubmitJob:
		spec, _ := call.Args["spec"].(JobSpec)
		baseCost, _ := call.Args["base_cost"].(uint64)
		cid, err := r.Jobs.Submit(ctx, spec, call.Caller, baseCost, nil)
		return HostResult{Value: cid, Err: err}
	case HostJobStatus:
		jobId, _ := call.Args["job_id"].(Cid)
		job, ok := r.Jobs.Job(jobId)
		if !ok {
			return HostResult{Err: fmt.Errorf("core: job_status %s: %w", jobId.String(), ErrNotFound)}
		}
		return HostResult{Value: job}
	default:
		return HostResult{Err: fmt.Errorf("core: unknown host capability %q: %w", call.Capability, ErrInvalidInput)}
	}
}

// Now is the runtime's single clock source for components without their
// own injected now func (e.g. one-off timestamps in API handlers); every
// consensus-visible component keeps its own overridable now field.
func (r *Runtime) Now() time.Time { return time.Now() }
