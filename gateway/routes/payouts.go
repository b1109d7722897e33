package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
	"fanzcore/orchestrator"
)

// payoutDeadline bounds end-to-end payout handling.
const payoutDeadline = 60 * time.Second

type payoutBody struct {
	CreatorID   string       `json:"creatorId"`
	Method      string       `json:"method"`
	Amount      types.Amount `json:"amount"`
	Destination string       `json:"destination"`
	Processor   string       `json:"processor"`
	MID         string       `json:"mid"`
	Defer       bool         `json:"defer,omitempty"`
}

func (s *server) handlePayout(w http.ResponseWriter, r *http.Request) {
	var body payoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode payout"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), payoutDeadline)
	defer cancel()

	payout, err := s.deps.Orchestrator.RequestPayout(ctx, orchestrator.PayoutRequest{
		CreatorID:   body.CreatorID,
		Method:      body.Method,
		Amount:      body.Amount,
		Destination: body.Destination,
		Processor:   body.Processor,
		MID:         body.MID,
		Defer:       body.Defer,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "payout": payout})
}

type cancelPayoutBody struct {
	Reason string `json:"reason"`
}

func (s *server) handleCancelPayout(w http.ResponseWriter, r *http.Request) {
	var body cancelPayoutBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode cancel"))
		return
	}
	payout, err := s.deps.Orchestrator.CancelPayout(r.Context(), chi.URLParam(r, "id"), body.Reason)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "payout": payout})
}

type payoutBatchBody struct {
	Rail      string   `json:"rail"`
	Currency  string   `json:"currency"`
	PayoutIDs []string `json:"payoutIds"`
}

func (s *server) handlePayoutBatch(w http.ResponseWriter, r *http.Request) {
	var body payoutBatchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode batch"))
		return
	}
	batch, err := s.deps.Orchestrator.BatchPayouts(r.Context(), body.Rail, body.Currency, body.PayoutIDs)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "batch": batch})
}
