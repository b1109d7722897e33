// Package cryptopay implements the crypto payment processor adapter.
// Crypto flows have no authorization hold: an authorize call creates a
// charge, and capture completes once the chain confirms the deposit.
// There is no AVS or CVV, and a void cancels an unconfirmed charge.
package cryptopay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
	"fanzcore/processor"
)

// Name is the processor identifier used in routing and envelopes.
const Name = "cryptopay"

// statusCodes maps charge failure states into the canonical taxonomy.
var statusCodes = map[string]fanzerrors.Code{
	"underpaid":       fanzerrors.CodeRetriableDecline,
	"overpaid":        fanzerrors.CodeInvalidRequest,
	"expired":         fanzerrors.CodeHardDecline,
	"chain_congested": fanzerrors.CodeTransient,
	"address_reused":  fanzerrors.CodeInvalidRequest,
	"aml_hold":        fanzerrors.CodeFraud,
}

// Adapter speaks the crypto charge API.
type Adapter struct {
	client *processor.Client
}

// New constructs the adapter over a configured client.
func New(client *processor.Client) *Adapter {
	return &Adapter{client: client}
}

// Name implements processor.Adapter.
func (a *Adapter) Name() string { return Name }

type chargeResponse struct {
	ChargeID  string `json:"chargeId"`
	State     string `json:"state"`
	Detail    string `json:"detail"`
	Confirmed int64  `json:"confirmedAt"`
}

func (a *Adapter) result(resp chargeResponse, okStates ...string) (processor.Result, error) {
	res := processor.Result{
		ProcessorTxID: resp.ChargeID,
		RawCode:       resp.State,
		RawMessage:    resp.Detail,
		ProcessedAt:   time.Unix(resp.Confirmed, 0).UTC(),
	}
	state := strings.ToLower(resp.State)
	for _, ok := range okStates {
		if state == ok {
			return res, nil
		}
	}
	code, found := statusCodes[state]
	if !found {
		code = fanzerrors.CodeUnknown
	}
	return res, &fanzerrors.Error{Code: code, Processor: Name, Message: resp.Detail}
}

// Authorize implements processor.Adapter. For crypto this opens a charge
// awaiting the on-chain deposit.
func (a *Adapter) Authorize(ctx context.Context, req processor.AuthorizeRequest) (processor.Result, error) {
	if req.Method.Kind != types.MethodCrypto || req.Method.Crypto == nil {
		return processor.Result{}, &fanzerrors.Error{
			Code: fanzerrors.CodeInvalidRequest, Processor: Name,
			Message: "crypto method required",
		}
	}
	payload := map[string]any{
		"account":   req.MID,
		"amount":    req.Amount.Units,
		"currency":  req.Amount.Currency,
		"reference": req.TransactionID,
		"txid":      req.Method.Crypto.TxID,
		"address":   req.Method.Crypto.Address,
	}
	var resp chargeResponse
	if err := a.client.PostJSON(ctx, Name, "/charges", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp, "pending", "confirmed")
}

// Capture implements processor.Adapter. Capture completes a charge once
// enough confirmations are observed.
func (a *Adapter) Capture(ctx context.Context, req processor.CaptureRequest) (processor.Result, error) {
	payload := map[string]any{
		"account":  req.MID,
		"chargeId": req.ProcessorTxID,
		"amount":   req.Amount.Units,
		"currency": req.Amount.Currency,
	}
	var resp chargeResponse
	if err := a.client.PostJSON(ctx, Name, "/charges/complete", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp, "confirmed")
}

// Refund implements processor.Adapter. Crypto refunds are outbound
// transfers back to the depositing address.
func (a *Adapter) Refund(ctx context.Context, req processor.RefundRequest) (processor.Result, error) {
	payload := map[string]any{
		"account":   req.MID,
		"chargeId":  req.ProcessorTxID,
		"amount":    req.Amount.Units,
		"currency":  req.Amount.Currency,
		"reference": req.RefundID,
	}
	var resp chargeResponse
	if err := a.client.PostJSON(ctx, Name, "/refunds", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp, "sent", "confirmed")
}

// Void implements processor.Adapter. Only unconfirmed charges cancel.
func (a *Adapter) Void(ctx context.Context, req processor.VoidRequest) (processor.Result, error) {
	payload := map[string]any{"account": req.MID, "chargeId": req.ProcessorTxID}
	var resp chargeResponse
	if err := a.client.PostJSON(ctx, Name, "/charges/cancel", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp, "cancelled")
}

// SendPayout implements processor.Adapter.
func (a *Adapter) SendPayout(ctx context.Context, req processor.PayoutRequest) (processor.Result, error) {
	payload := map[string]any{
		"account":     req.MID,
		"amount":      req.Amount.Units,
		"currency":    req.Amount.Currency,
		"destination": req.Destination,
		"reference":   req.PayoutID,
	}
	var resp chargeResponse
	if err := a.client.PostJSON(ctx, Name, "/payouts", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp, "sent", "confirmed")
}

type webhookPayload struct {
	EventID  string `json:"eventId"`
	Event    string `json:"event"`
	ChargeID string `json:"chargeId"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	At       int64  `json:"at"`
	State    string `json:"state"`
}

var eventKinds = map[string]types.EventKind{
	"charge.pending":   types.EventAuthorized,
	"charge.confirmed": types.EventCaptured,
	"charge.failed":    types.EventAttemptDecline,
	"charge.cancelled": types.EventFailed,
	"charge.settled":   types.EventSettled,
	"refund.sent":      types.EventRefunded,
	"payout.sent":      types.EventPayoutSettled,
	"payout.failed":    types.EventPayoutFailed,
}

// VerifyWebhook implements processor.Adapter.
func (a *Adapter) VerifyWebhook(req processor.WebhookRequest) (processor.WebhookEvent, error) {
	if err := a.client.VerifySignature(req); err != nil {
		return processor.WebhookEvent{}, err
	}
	var payload webhookPayload
	if err := json.Unmarshal(req.Body, &payload); err != nil {
		return processor.WebhookEvent{}, &fanzerrors.Error{
			Code: fanzerrors.CodeInvalidRequest, Processor: Name,
			Message: fmt.Sprintf("decode webhook: %v", err),
		}
	}
	kind, ok := eventKinds[strings.ToLower(payload.Event)]
	if !ok {
		return processor.WebhookEvent{}, &fanzerrors.Error{
			Code: fanzerrors.CodeInvalidRequest, Processor: Name,
			Message: "unsupported event " + payload.Event,
		}
	}
	return processor.WebhookEvent{
		EventID:       payload.EventID,
		ProcessorTxID: payload.ChargeID,
		Kind:          kind,
		Amount:        types.NewAmount(payload.Amount, payload.Currency),
		OccurredAt:    time.Unix(payload.At, 0).UTC(),
		RawCode:       payload.State,
	}, nil
}

type settlementResponse struct {
	Entries []struct {
		ChargeID string `json:"chargeId"`
		Gross    int64  `json:"gross"`
		Fee      int64  `json:"fee"`
		Currency string `json:"currency"`
		Kind     string `json:"kind"`
	} `json:"entries"`
}

// FetchSettlement implements processor.Adapter.
func (a *Adapter) FetchSettlement(ctx context.Context, date time.Time) ([]types.SettlementLine, error) {
	payload := map[string]string{"date": date.UTC().Format("2006-01-02")}
	var resp settlementResponse
	if err := a.client.PostJSON(ctx, Name, "/settlements", "", payload, &resp); err != nil {
		return nil, err
	}
	lines := make([]types.SettlementLine, 0, len(resp.Entries))
	for _, entry := range resp.Entries {
		lines = append(lines, types.SettlementLine{
			ProcessorRef: entry.ChargeID,
			Gross:        types.NewAmount(entry.Gross, entry.Currency),
			Fee:          types.NewAmount(entry.Fee, entry.Currency),
			Kind:         entry.Kind,
		})
	}
	return lines, nil
}
