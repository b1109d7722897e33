// Package ccbill implements the CCBill card processor adapter.
package ccbill

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
const Name = "ccbill"

// declineCodes maps CCBill decline reasons into the canonical taxonomy.
// Unlisted codes fall through to unknown.
var declineCodes = map[string]fanzerrors.Code{
	"insufficient_funds": fanzerrors.CodeRetriableDecline,
	"do_not_honor":       fanzerrors.CodeRetriableDecline,
	"issuer_unavailable": fanzerrors.CodeRetriableDecline,
	"card_expired":       fanzerrors.CodeHardDecline,
	"invalid_card":       fanzerrors.CodeHardDecline,
	"account_closed":     fanzerrors.CodeHardDecline,
	"stolen_card":        fanzerrors.CodeFraud,
	"fraud_suspected":    fanzerrors.CodeFraud,
	"duplicate_txn":      fanzerrors.CodeDuplicate,
	"invalid_request":    fanzerrors.CodeInvalidRequest,
	"processing_error":   fanzerrors.CodeTransient,
}

// Adapter speaks the CCBill transaction API.
type Adapter struct {
	client *processor.Client
}

// New constructs the adapter over a configured client.
func New(client *processor.Client) *Adapter {
	return &Adapter{client: client}
}

// Name implements processor.Adapter.
func (a *Adapter) Name() string { return Name }

type txnResponse struct {
	TransactionID string `json:"transactionId"`
	Status        string `json:"status"`
	DeclineCode   string `json:"declineCode"`
	DeclineReason string `json:"declineReason"`
	AVSResult     string `json:"avsResult"`
	CVV2Result    string `json:"cvv2Result"`
	ProcessedAt   int64  `json:"processedAt"`
}

func (a *Adapter) result(resp txnResponse) (processor.Result, error) {
	res := processor.Result{
		ProcessorTxID: resp.TransactionID,
		RawCode:       resp.DeclineCode,
		RawMessage:    resp.DeclineReason,
		AVSResult:     resp.AVSResult,
		CVVResult:     resp.CVV2Result,
		ProcessedAt:   time.Unix(resp.ProcessedAt, 0).UTC(),
	}
	switch strings.ToLower(resp.Status) {
	case "approved":
		return res, nil
	case "declined", "error":
		code, ok := declineCodes[strings.ToLower(resp.DeclineCode)]
		if !ok {
			code = fanzerrors.CodeUnknown
		}
		return res, &fanzerrors.Error{Code: code, Processor: Name, Message: resp.DeclineReason}
	}
	return res, &fanzerrors.Error{Code: fanzerrors.CodeUnknown, Processor: Name, Message: "unexpected status " + resp.Status}
}

// instrument translates the payment method for the CCBill API. CCBill
// handles cards and device wallets only.
func instrument(method types.PaymentMethod) (map[string]string, error) {
	switch method.Kind {
	case types.MethodCard:
		if method.Card == nil {
			return nil, &fanzerrors.Error{Code: fanzerrors.CodeInvalidRequest, Processor: Name, Message: "card details required"}
		}
		return map[string]string{"type": "card", "token": method.Card.Token}, nil
	case types.MethodApplePay, types.MethodGooglePay, types.MethodWallet:
		if method.Wallet == nil {
			return nil, &fanzerrors.Error{Code: fanzerrors.CodeInvalidRequest, Processor: Name, Message: "wallet details required"}
		}
		return map[string]string{"type": string(method.Kind), "token": method.Wallet.Token}, nil
	}
	return nil, &fanzerrors.Error{Code: fanzerrors.CodeInvalidRequest, Processor: Name, Message: "unsupported method " + string(method.Kind)}
}

// Authorize implements processor.Adapter.
func (a *Adapter) Authorize(ctx context.Context, req processor.AuthorizeRequest) (processor.Result, error) {
	inst, err := instrument(req.Method)
	if err != nil {
		return processor.Result{}, err
	}
	payload := map[string]any{
		"merchantAccount": req.MID,
		"amount":          req.Amount.Units,
		"currency":        req.Amount.Currency,
		"descriptor":      req.Descriptor,
		"reference":       req.TransactionID,
		"instrument":      inst,
		"metadata":        req.Metadata,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/transactions/authorize", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// Capture implements processor.Adapter.
func (a *Adapter) Capture(ctx context.Context, req processor.CaptureRequest) (processor.Result, error) {
	payload := map[string]any{
		"merchantAccount": req.MID,
		"transactionId":   req.ProcessorTxID,
		"amount":          req.Amount.Units,
		"currency":        req.Amount.Currency,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/transactions/capture", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// Refund implements processor.Adapter.
func (a *Adapter) Refund(ctx context.Context, req processor.RefundRequest) (processor.Result, error) {
	payload := map[string]any{
		"merchantAccount": req.MID,
		"transactionId":   req.ProcessorTxID,
		"amount":          req.Amount.Units,
		"currency":        req.Amount.Currency,
		"reason":          req.Reason,
		"reference":       req.RefundID,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/transactions/refund", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// Void implements processor.Adapter.
func (a *Adapter) Void(ctx context.Context, req processor.VoidRequest) (processor.Result, error) {
	payload := map[string]any{
		"merchantAccount": req.MID,
		"transactionId":   req.ProcessorTxID,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/transactions/void", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// SendPayout implements processor.Adapter.
func (a *Adapter) SendPayout(ctx context.Context, req processor.PayoutRequest) (processor.Result, error) {
	payload := map[string]any{
		"merchantAccount": req.MID,
		"amount":          req.Amount.Units,
		"currency":        req.Amount.Currency,
		"destination":     req.Destination,
		"reference":       req.PayoutID,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/payouts", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

type webhookPayload struct {
	EventID       string `json:"eventId"`
	EventType     string `json:"eventType"`
	TransactionID string `json:"transactionId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	OccurredAt    int64  `json:"occurredAt"`
	DeclineCode   string `json:"declineCode"`
}

// eventKinds maps CCBill notification types to canonical event kinds.
var eventKinds = map[string]types.EventKind{
	"transaction.authorized": types.EventAuthorized,
	"transaction.captured":   types.EventCaptured,
	"transaction.declined":   types.EventAttemptDecline,
	"transaction.refunded":   types.EventRefunded,
	"transaction.voided":     types.EventFailed,
	"transaction.settled":    types.EventSettled,
	"chargeback.opened":      types.EventDisputed,
	"chargeback.resolved":    types.EventChargedBack,
	"payout.settled":         types.EventPayoutSettled,
	"payout.failed":          types.EventPayoutFailed,
}

// VerifyWebhook implements processor.Adapter.
func (a *Adapter) VerifyWebhook(req processor.WebhookRequest) (processor.WebhookEvent, error) {
	if err := a.client.VerifySignature(req); err != nil {
		return processor.WebhookEvent{}, err
	}
	var payload webhookPayload
	if err := decodeJSON(req.Body, &payload); err != nil {
		return processor.WebhookEvent{}, err
	}
	kind, ok := eventKinds[strings.ToLower(payload.EventType)]
	if !ok {
		return processor.WebhookEvent{}, &fanzerrors.Error{
			Code: fanzerrors.CodeInvalidRequest, Processor: Name,
			Message: "unsupported event type " + payload.EventType,
		}
	}
	return processor.WebhookEvent{
		EventID:       payload.EventID,
		ProcessorTxID: payload.TransactionID,
		Kind:          kind,
		Amount:        types.NewAmount(payload.Amount, payload.Currency),
		OccurredAt:    time.Unix(payload.OccurredAt, 0).UTC(),
		RawCode:       payload.DeclineCode,
	}, nil
}

type settlementResponse struct {
	Lines []struct {
		TransactionID string `json:"transactionId"`
		Gross         int64  `json:"gross"`
		Fee           int64  `json:"fee"`
		Currency      string `json:"currency"`
		Kind          string `json:"kind"`
	} `json:"lines"`
}

// FetchSettlement implements processor.Adapter.
func (a *Adapter) FetchSettlement(ctx context.Context, date time.Time) ([]types.SettlementLine, error) {
	payload := map[string]string{"date": date.UTC().Format("2006-01-02")}
	var resp settlementResponse
	if err := a.client.PostJSON(ctx, Name, "/settlements/fetch", "", payload, &resp); err != nil {
		return nil, err
	}
	lines := make([]types.SettlementLine, 0, len(resp.Lines))
	for _, line := range resp.Lines {
		lines = append(lines, types.SettlementLine{
			ProcessorRef: line.TransactionID,
			Gross:        types.NewAmount(line.Gross, line.Currency),
			Fee:          types.NewAmount(line.Fee, line.Currency),
			Kind:         line.Kind,
		})
	}
	return lines, nil
}

func decodeJSON(body []byte, out any) error {
	if err := json.Unmarshal(body, out); err != nil {
		return &fanzerrors.Error{Code: fanzerrors.CodeInvalidRequest, Processor: Name, Message: fmt.Sprintf("decode webhook: %v", err)}
	}
	return nil
}
