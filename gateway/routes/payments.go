package routes

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
	"fanzcore/native/trust"
	"fanzcore/orchestrator"
)

// paymentDeadline bounds end-to-end payment handling.
const paymentDeadline = 30 * time.Second

type proofBody struct {
	TxID              string `json:"txId,omitempty"`
	Last4             string `json:"last4,omitempty"`
	BIN               string `json:"bin,omitempty"`
	Email             string `json:"email,omitempty"`
	Timestamp         string `json:"timestamp,omitempty"`
	DeviceFingerprint string `json:"deviceFingerprint,omitempty"`
	IP                string `json:"ip,omitempty"`
	AVSResult         string `json:"avsResult,omitempty"`
	CVVResult         string `json:"cvvResult,omitempty"`
	ContentAccess     bool   `json:"contentAccess,omitempty"`
}

func (p proofBody) toProof() trust.Proof {
	proof := trust.Proof{
		TxID:              p.TxID,
		Last4:             p.Last4,
		BIN:               p.BIN,
		Email:             p.Email,
		DeviceFingerprint: p.DeviceFingerprint,
		IP:                p.IP,
		AVSResult:         p.AVSResult,
		CVVResult:         p.CVVResult,
		ContentAccess:     p.ContentAccess,
	}
	if ts, err := time.Parse(time.RFC3339, p.Timestamp); err == nil {
		proof.Timestamp = ts
	}
	return proof
}

type paymentBody struct {
	FanID      string              `json:"fanId"`
	CreatorID  string              `json:"creatorId"`
	Platform   string              `json:"platform"`
	Region     string              `json:"region,omitempty"`
	Amount     types.Amount        `json:"amount"`
	Method     types.PaymentMethod `json:"method"`
	Descriptor string              `json:"descriptor,omitempty"`
	Urgent     bool                `json:"urgent,omitempty"`
	Proof      proofBody           `json:"proof"`
}

func (s *server) handlePayment(w http.ResponseWriter, r *http.Request) {
	var body paymentBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode payment"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), paymentDeadline)
	defer cancel()

	result, err := s.deps.Orchestrator.ProcessPayment(ctx, orchestrator.PaymentRequest{
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
		FanID:          body.FanID,
		CreatorID:      body.CreatorID,
		Platform:       body.Platform,
		Region:         body.Region,
		Amount:         body.Amount,
		Method:         body.Method,
		Descriptor:     body.Descriptor,
		Urgent:         body.Urgent,
		Proof:          body.Proof.toProof(),
	})
	if err != nil {
		// A declined or blocked payment still created a transaction; the
		// caller gets the envelope with its id alongside the error code.
		if result.TransactionID != "" {
			writeJSON(w, statusForResult(result), paymentResponse(result))
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse(result))
}

func statusForResult(result orchestrator.PaymentResult) int {
	switch result.Status {
	case types.TxBlocked:
		return http.StatusForbidden
	case types.TxFailed:
		return http.StatusPaymentRequired
	default:
		return http.StatusOK
	}
}

func paymentResponse(result orchestrator.PaymentResult) map[string]any {
	resp := map[string]any{
		"success":       result.Status != types.TxBlocked && result.Status != types.TxFailed,
		"transactionId": result.TransactionID,
		"status":        result.Status,
		"trustScore":    result.TrustScore,
	}
	if result.Processor != "" {
		resp["processor"] = result.Processor
	}
	if result.MID != "" {
		resp["mid"] = result.MID
	}
	if result.ApprovalID != "" {
		resp["approvalId"] = result.ApprovalID
	}
	if result.ErrorCode != "" {
		resp["error"] = result.ErrorCode
	}
	return resp
}

func (s *server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	tx, err := s.deps.Store.GetTransaction(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *server) handleTransactionEvents(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if _, err := s.deps.Store.GetTransaction(r.Context(), txID); err != nil {
		writeError(w, r, err)
		return
	}
	events, err := s.deps.Store.TransactionEvents(r.Context(), txID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactionId": txID, "events": events})
}

type refundBody struct {
	TransactionID string       `json:"transactionId"`
	Amount        types.Amount `json:"amount"`
	Reason        string       `json:"reason"`
	Proof         proofBody    `json:"proof"`
}

func (s *server) handleRefund(w http.ResponseWriter, r *http.Request) {
	var body refundBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode refund"))
		return
	}
	refund, err := s.deps.Orchestrator.RequestRefund(r.Context(), orchestrator.RefundRequest{
		TransactionID: body.TransactionID,
		Amount:        body.Amount,
		Reason:        body.Reason,
		Proof:         body.Proof.toProof(),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "refund": refund})
}

type disputeResponseBody struct {
	Evidence string `json:"evidence"`
}

func (s *server) handleDisputeResponse(w http.ResponseWriter, r *http.Request) {
	var body disputeResponseBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "decode dispute response"))
		return
	}
	dispute, err := s.deps.Orchestrator.RespondDispute(r.Context(), chi.URLParam(r, "id"), body.Evidence)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "dispute": dispute})
}
