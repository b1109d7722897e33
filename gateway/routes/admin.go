package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/gateway/middleware"
)

func (s *server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.deps.Orchestrator.Pause()
	s.log.Warn("payments paused", "by", middleware.Subject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "paused": true})
}

func (s *server) handleResume(w http.ResponseWriter, r *http.Request) {
	s.deps.Orchestrator.Resume()
	s.log.Info("payments resumed", "by", middleware.Subject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "paused": false})
}

func (s *server) handleProcessors(w http.ResponseWriter, r *http.Request) {
	if s.deps.Registry == nil {
		writeJSON(w, http.StatusOK, map[string]any{"processors": []any{}})
		return
	}
	type processorStatus struct {
		Name      string `json:"name"`
		Breaker   string `json:"breaker"`
		Available bool   `json:"available"`
	}
	var out []processorStatus
	for _, name := range s.deps.Registry.Names() {
		state, err := s.deps.Registry.BreakerState(name)
		if err != nil {
			continue
		}
		out = append(out, processorStatus{
			Name:      name,
			Breaker:   string(state),
			Available: s.deps.Registry.Available(name),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"processors": out})
}

func (s *server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	if s.deps.Approvals == nil {
		writeJSON(w, http.StatusOK, map[string]any{"approvals": []any{}})
		return
	}
	pending := s.deps.Approvals.Pending()
	if limit := queryInt(r, "limit", 0); limit > 0 && limit < len(pending) {
		pending = pending[:limit]
	}
	writeJSON(w, http.StatusOK, map[string]any{"approvals": pending})
}

type decisionBody struct {
	Approve  bool   `json:"approve"`
	Reviewer string `json:"reviewer,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

func (b decisionBody) reviewerOr(ctx context.Context) string {
	if b.Reviewer != "" {
		return b.Reviewer
	}
	if subject := middleware.Subject(ctx); subject != "" {
		return subject
	}
	return "admin"
}

func (s *server) handleDecideApproval(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode decision"))
		return
	}
	id := chi.URLParam(r, "id")
	reviewer := body.reviewerOr(r.Context())
	entry, err := s.deps.Approvals.Decide(id, reviewer, body.Reason, body.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := map[string]any{"success": true, "approval": entry}

	// Payment reviews resume the held transaction on decision.
	if txID, ok := strings.CutPrefix(entry.EntityRef, "tx:"); ok && entry.Type == "payment_review" {
		result, rerr := s.deps.Orchestrator.ResumeVerification(r.Context(), txID, body.Approve)
		if rerr != nil {
			s.log.Error("resume after review failed", "tx", txID, "err", rerr)
		} else {
			resp["payment"] = paymentResponse(result)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleDecideRefund(w http.ResponseWriter, r *http.Request) {
	var body decisionBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode decision"))
		return
	}
	refund, err := s.deps.Orchestrator.DecideRefund(
		r.Context(), chi.URLParam(r, "id"), body.reviewerOr(r.Context()), body.Reason, body.Approve)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "refund": refund})
}

type holdBody struct {
	Reason string `json:"reason"`
}

func (s *server) handleHoldCreator(w http.ResponseWriter, r *http.Request) {
	var body holdBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode hold"))
		return
	}
	creatorID := chi.URLParam(r, "id")
	s.deps.Orchestrator.HoldCreator(creatorID, body.Reason)
	s.log.Warn("creator hold placed", "creator", creatorID, "reason", body.Reason,
		"by", middleware.Subject(r.Context()))
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "creatorId": creatorID, "held": true})
}

func (s *server) handleReleaseCreator(w http.ResponseWriter, r *http.Request) {
	creatorID := chi.URLParam(r, "id")
	s.deps.Orchestrator.ReleaseCreator(creatorID)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "creatorId": creatorID, "held": false})
}

func (s *server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	if s.deps.Settlements == nil {
		writeJSON(w, http.StatusOK, map[string]any{"settlements": []any{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"settlements": s.deps.Settlements.Batches()})
}

func (s *server) handleRunSettlements(w http.ResponseWriter, r *http.Request) {
	if s.deps.SettlementRunner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"success": false, "error": "settlement runner not configured"})
		return
	}
	s.log.Info("settlement re-run requested", "by", middleware.Subject(r.Context()))
	s.deps.SettlementRunner.RunOnce(r.Context())
	resp := map[string]any{"success": true}
	if s.deps.Settlements != nil {
		resp["settlements"] = s.deps.Settlements.Batches()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleBalance(w http.ResponseWriter, r *http.Request) {
	account := chi.URLParam(r, "account")
	var (
		balance any
		err     error
	)
	if r.URL.Query().Get("side") == "credit" {
		balance, err = s.deps.Ledger.CreditBalance(r.Context(), account, nil)
	} else {
		balance, err = s.deps.Ledger.Balance(r.Context(), account, nil)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"account": account, "balance": balance})
}
