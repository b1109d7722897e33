// Package routes terminates the public and admin HTTP surface. Handlers
// translate JSON bodies into orchestrator calls and map failures onto
// the canonical error envelope; internal detail never crosses the wire.
package routes

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/gateway/middleware"
	"fanzcore/native/approval"
	"fanzcore/native/ledger"
	"fanzcore/orchestrator"
)

// errorEnvelope is the caller-visible failure shape. The correlation id
// keys the internal logs carrying the full detail.
type errorEnvelope struct {
	Success       bool   `json:"success"`
	Error         string `json:"error"`
	Hint          string `json:"hint,omitempty"`
	RetryAfterMS  int64  `json:"retry_after_ms,omitempty"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError maps an orchestration failure onto a status code and the
// taxonomy envelope.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	env := errorEnvelope{
		Error:         string(fanzerrors.CodeUnknown),
		CorrelationID: middleware.CorrelationID(r.Context()),
	}

	switch {
	case errors.Is(err, orchestrator.ErrInFlight):
		status = http.StatusConflict
		env.Error = "in_flight"
		env.Hint = "request with this idempotency key is being processed"
		env.RetryAfterMS = 2_000
		w.Header().Set("Retry-After", "2")
	case errors.Is(err, orchestrator.ErrOverloaded):
		status = http.StatusServiceUnavailable
		env.Error = "service_overloaded"
		env.RetryAfterMS = 5_000
		w.Header().Set("Retry-After", "5")
	case errors.Is(err, orchestrator.ErrPaused):
		status = http.StatusServiceUnavailable
		env.Error = "service_overloaded"
		env.Hint = "payments temporarily paused"
	case errors.Is(err, orchestrator.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
		env.Error = "insufficient_balance"
	case errors.Is(err, orchestrator.ErrBelowPayoutMinimum):
		status = http.StatusUnprocessableEntity
		env.Error = "below_minimum"
	case errors.Is(err, orchestrator.ErrCreatorHeld):
		status = http.StatusConflict
		env.Error = "creator_held"
	case errors.Is(err, orchestrator.ErrAmountOutOfBounds):
		status = http.StatusBadRequest
		env.Error = string(fanzerrors.CodeInvalidRequest)
		env.Hint = "amount outside configured limits"
	case errors.Is(err, orchestrator.ErrRefundExceedsCaptured),
		errors.Is(err, orchestrator.ErrNotRefundable):
		status = http.StatusUnprocessableEntity
		env.Error = string(fanzerrors.CodeInvalidRequest)
		env.Hint = "refund not allowed for this transaction"
	case errors.Is(err, orchestrator.ErrTxNotFound),
		errors.Is(err, orchestrator.ErrRefundNotFound),
		errors.Is(err, orchestrator.ErrPayoutNotFound),
		errors.Is(err, orchestrator.ErrDisputeNotFound),
		errors.Is(err, approval.ErrNotFound):
		status = http.StatusNotFound
		env.Error = string(fanzerrors.CodeInvalidRequest)
		env.Hint = "not found"
	case errors.Is(err, approval.ErrAlreadyDecided):
		status = http.StatusConflict
		env.Error = string(fanzerrors.CodeDuplicate)
		env.Hint = "entry already decided"
	case errors.Is(err, ledger.ErrConflict):
		// Integrity over availability: surface loudly, alert on the logs.
		status = http.StatusInternalServerError
		env.Error = string(fanzerrors.CodeUnknown)
		env.Hint = "ledger integrity conflict"
	default:
		switch code := fanzerrors.Classify(err); code {
		case fanzerrors.CodeInvalidRequest:
			status = http.StatusBadRequest
			env.Error = string(code)
		case fanzerrors.CodeAuthenticationFailed:
			status = http.StatusUnauthorized
			env.Error = string(code)
		case fanzerrors.CodeFraud, fanzerrors.CodeHardDecline, fanzerrors.CodeRetriableDecline:
			status = http.StatusPaymentRequired
			env.Error = string(code)
		case fanzerrors.CodeRateLimited:
			status = http.StatusTooManyRequests
			env.Error = string(code)
			env.RetryAfterMS = 1_000
			w.Header().Set("Retry-After", "1")
		case fanzerrors.CodeTimeout:
			status = http.StatusGatewayTimeout
			env.Error = string(code)
		case fanzerrors.CodeTransient:
			status = http.StatusServiceUnavailable
			env.Error = string(code)
			env.RetryAfterMS = 2_000
		case fanzerrors.CodeDuplicate:
			status = http.StatusConflict
			env.Error = string(code)
		}
	}
	writeJSON(w, status, env)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
