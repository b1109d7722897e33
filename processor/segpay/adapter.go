// Package segpay implements the SegPay card and bank processor adapter.
// SegPay reports outcomes as numeric reason codes on a flat response.
package segpay

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
const Name = "segpay"

// reasonCodes maps SegPay numeric reason codes into the canonical
// taxonomy. Unlisted codes fall through to unknown.
var reasonCodes = map[string]fanzerrors.Code{
	"9100": fanzerrors.CodeRetriableDecline, // insufficient funds
	"9101": fanzerrors.CodeRetriableDecline, // do not honor
	"9102": fanzerrors.CodeTransient,        // issuer timeout
	"9200": fanzerrors.CodeHardDecline,      // expired card
	"9201": fanzerrors.CodeHardDecline,      // invalid account
	"9300": fanzerrors.CodeFraud,            // pickup card
	"9301": fanzerrors.CodeFraud,            // fraud rules
	"9400": fanzerrors.CodeDuplicate,
	"9500": fanzerrors.CodeInvalidRequest,
}

// Adapter speaks the SegPay transaction API.
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
	TxnID      string `json:"txn_id"`
	Result     string `json:"result"`
	ReasonCode string `json:"reason_code"`
	ReasonText string `json:"reason_text"`
	AVS        string `json:"avs"`
	CVV        string `json:"cvv"`
	Processed  int64  `json:"processed"`
}

func (a *Adapter) result(resp txnResponse) (processor.Result, error) {
	res := processor.Result{
		ProcessorTxID: resp.TxnID,
		RawCode:       resp.ReasonCode,
		RawMessage:    resp.ReasonText,
		AVSResult:     resp.AVS,
		CVVResult:     resp.CVV,
		ProcessedAt:   time.Unix(resp.Processed, 0).UTC(),
	}
	if strings.EqualFold(resp.Result, "ok") {
		return res, nil
	}
	code, found := reasonCodes[strings.TrimSpace(resp.ReasonCode)]
	if !found {
		code = fanzerrors.CodeUnknown
	}
	return res, &fanzerrors.Error{Code: code, Processor: Name, Message: resp.ReasonText}
}

func instrument(method types.PaymentMethod) (map[string]string, error) {
	switch method.Kind {
	case types.MethodCard:
		if method.Card == nil {
			return nil, &fanzerrors.Error{Code: fanzerrors.CodeInvalidRequest, Processor: Name, Message: "card details required"}
		}
		return map[string]string{"kind": "card", "token": method.Card.Token}, nil
	case types.MethodBank:
		if method.Bank == nil {
			return nil, &fanzerrors.Error{Code: fanzerrors.CodeInvalidRequest, Processor: Name, Message: "bank details required"}
		}
		return map[string]string{"kind": "ach", "token": method.Bank.AccountToken, "routing": method.Bank.Routing}, nil
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
		"mid":        req.MID,
		"amount":     req.Amount.Units,
		"currency":   req.Amount.Currency,
		"descriptor": req.Descriptor,
		"merch_ref":  req.TransactionID,
		"instrument": inst,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/v2/auth", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// Capture implements processor.Adapter.
func (a *Adapter) Capture(ctx context.Context, req processor.CaptureRequest) (processor.Result, error) {
	payload := map[string]any{
		"mid":      req.MID,
		"txn_id":   req.ProcessorTxID,
		"amount":   req.Amount.Units,
		"currency": req.Amount.Currency,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/v2/capture", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// Refund implements processor.Adapter.
func (a *Adapter) Refund(ctx context.Context, req processor.RefundRequest) (processor.Result, error) {
	payload := map[string]any{
		"mid":       req.MID,
		"txn_id":    req.ProcessorTxID,
		"amount":    req.Amount.Units,
		"currency":  req.Amount.Currency,
		"merch_ref": req.RefundID,
		"reason":    req.Reason,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/v2/credit", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// Void implements processor.Adapter.
func (a *Adapter) Void(ctx context.Context, req processor.VoidRequest) (processor.Result, error) {
	payload := map[string]any{"mid": req.MID, "txn_id": req.ProcessorTxID}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/v2/void", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

// SendPayout implements processor.Adapter.
func (a *Adapter) SendPayout(ctx context.Context, req processor.PayoutRequest) (processor.Result, error) {
	payload := map[string]any{
		"mid":         req.MID,
		"amount":      req.Amount.Units,
		"currency":    req.Amount.Currency,
		"destination": req.Destination,
		"merch_ref":   req.PayoutID,
	}
	var resp txnResponse
	if err := a.client.PostJSON(ctx, Name, "/v2/payout", req.IdempotencyKey, payload, &resp); err != nil {
		return processor.Result{}, err
	}
	return a.result(resp)
}

type webhookPayload struct {
	EventID    string `json:"event_id"`
	Action     string `json:"action"`
	TxnID      string `json:"txn_id"`
	Amount     int64  `json:"amount"`
	Currency   string `json:"currency"`
	Occurred   int64  `json:"occurred"`
	ReasonCode string `json:"reason_code"`
}

var actionKinds = map[string]types.EventKind{
	"auth":            types.EventAuthorized,
	"capture":         types.EventCaptured,
	"decline":         types.EventAttemptDecline,
	"credit":          types.EventRefunded,
	"void":            types.EventFailed,
	"settle":          types.EventSettled,
	"chargeback":      types.EventDisputed,
	"chargeback_loss": types.EventChargedBack,
	"payout_settle":   types.EventPayoutSettled,
	"payout_fail":     types.EventPayoutFailed,
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
	kind, ok := actionKinds[strings.ToLower(payload.Action)]
	if !ok {
		return processor.WebhookEvent{}, &fanzerrors.Error{
			Code: fanzerrors.CodeInvalidRequest, Processor: Name,
			Message: "unsupported action " + payload.Action,
		}
	}
	return processor.WebhookEvent{
		EventID:       payload.EventID,
		ProcessorTxID: payload.TxnID,
		Kind:          kind,
		Amount:        types.NewAmount(payload.Amount, payload.Currency),
		OccurredAt:    time.Unix(payload.Occurred, 0).UTC(),
		RawCode:       payload.ReasonCode,
	}, nil
}

type settlementResponse struct {
	Rows []struct {
		TxnID    string `json:"txn_id"`
		Gross    int64  `json:"gross"`
		Fee      int64  `json:"fee"`
		Currency string `json:"currency"`
		RowType  string `json:"row_type"`
	} `json:"rows"`
}

// FetchSettlement implements processor.Adapter.
func (a *Adapter) FetchSettlement(ctx context.Context, date time.Time) ([]types.SettlementLine, error) {
	payload := map[string]string{"settle_date": date.UTC().Format("2006-01-02")}
	var resp settlementResponse
	if err := a.client.PostJSON(ctx, Name, "/v2/settlements", "", payload, &resp); err != nil {
		return nil, err
	}
	lines := make([]types.SettlementLine, 0, len(resp.Rows))
	for _, row := range resp.Rows {
		lines = append(lines, types.SettlementLine{
			ProcessorRef: row.TxnID,
			Gross:        types.NewAmount(row.Gross, row.Currency),
			Fee:          types.NewAmount(row.Fee, row.Currency),
			Kind:         row.RowType,
		})
	}
	return lines, nil
}
