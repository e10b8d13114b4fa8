package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"synnergy-network/core"
)

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"dag_wal_writable": true,
		"circuit_breaker":  s.rt.Breaker.State(),
	}
	if _, err := s.rt.Store.MerkleRoot(); err != nil {
		body["dag_wal_writable"] = false
		writeJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleNodeInfo(w http.ResponseWriter, r *http.Request) {
	did := ""
	if s.rt.Signer != nil {
		did = s.rt.Signer.Did().String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"did":           did,
		"pinned_blocks": s.rt.Store.PinnedCount(),
		"time":          time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleDagPut(w http.ResponseWriter, r *http.Request) {
	var block core.DagBlock
	if err := json.NewDecoder(r.Body).Decode(&block); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cid, err := s.rt.Store.Put(&block)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"cid": cid.String()})
}

func (s *Server) handleDagGet(w http.ResponseWriter, r *http.Request) {
	cid, err := core.ParseCid(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	block, ok, err := s.rt.Store.Get(cid)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, block)
}

func (s *Server) handleDagPin(w http.ResponseWriter, r *http.Request) {
	cid, err := core.ParseCid(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var body struct {
		TTLSeconds int64 `json:"ttl_seconds"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	ttl := time.Duration(body.TTLSeconds) * time.Second
	if err := s.rt.Store.Pin(cid, ttl); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": cid.String(), "pinned": "true"})
}

func (s *Server) handleDagUnpin(w http.ResponseWriter, r *http.Request) {
	cid, err := core.ParseCid(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Store.Unpin(cid); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"cid": cid.String(), "pinned": "false"})
}

func (s *Server) handleDagPrune(w http.ResponseWriter, r *http.Request) {
	n, err := s.rt.Store.Prune()
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"pruned": n})
}

func (s *Server) handleDagStatus(w http.ResponseWriter, r *http.Request) {
	root, err := s.rt.Store.MerkleRoot()
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"merkle_root":   root.String(),
		"pinned_blocks": s.rt.Store.PinnedCount(),
	})
}

func (s *Server) handleManaBalance(w http.ResponseWriter, r *http.Request) {
	did, err := core.ParseDid(chi.URLParam(r, "did"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"did":     did.String(),
		"balance": s.rt.Mana.Balance(did),
	})
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Spec      core.JobSpec `json:"spec"`
		Submitter string       `json:"submitter_did"`
		BaseCost  uint64       `json:"base_cost"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	submitter, err := core.ParseDid(body.Submitter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	jobId, err := s.rt.Jobs.Submit(reqCtx(r), body.Spec, submitter, body.BaseCost, nil)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"job_id": jobId.String()})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	cid, err := core.ParseCid(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	job, ok := s.rt.Jobs.Job(cid)
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleSubmitReceipt(w http.ResponseWriter, r *http.Request) {
	cid, err := core.ParseCid(chi.URLParam(r, "cid"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var receipt core.Receipt
	if err := json.NewDecoder(r.Body).Decode(&receipt); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	receipt.JobId = cid
	if err := s.rt.Jobs.SubmitReceipt(reqCtx(r), cid, receipt); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"job_id": cid.String(), "status": "accepted"})
}

func (s *Server) handleGovSubmit(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Proposer    string              `json:"proposer_did"`
		Type        core.ProposalType   `json:"type"`
		Description string              `json:"description"`
		DurationMS  int64               `json:"duration_ms"`
		Quorum      int                 `json:"quorum"`
		Threshold   float64             `json:"threshold"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	proposer, err := core.ParseDid(body.Proposer)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.rt.Governance.Submit(proposer, body.Type, body.Description, time.Duration(body.DurationMS)*time.Millisecond, body.Quorum, body.Threshold)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"proposal_id": id})
}

func (s *Server) handleGovGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.rt.Governance.Proposal(id)
	if !ok {
		writeError(w, http.StatusNotFound, core.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleGovVote(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var body struct {
		Voter  string          `json:"voter_did"`
		Option core.VoteOption `json:"option"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	voter, err := core.ParseDid(body.Voter)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.rt.Governance.Vote(voter, id, body.Option); err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"proposal_id": id, "status": "voted"})
}

func (s *Server) handleGovClose(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	status, err := s.rt.Governance.Close(id)
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"proposal_id": id, "status": string(status)})
}

func (s *Server) handleFederationStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.rt.Federation.LocalStatus("default")
	if err != nil {
		writeError(w, statusForErr(err), err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
