// Package processor defines the adapter contract every payment processor
// integration implements, plus the circuit breaker and rate limiting that
// wrap each adapter. Adapters translate processor-specific requests,
// responses and failure codes into the canonical types; nothing above
// this layer sees a raw processor payload.
package processor

import (
	"context"
	"time"

	"fanzcore/core/types"
)

// AuthorizeRequest opens an authorization hold on a payment method.
type AuthorizeRequest struct {
	TransactionID  string
	MID            string
	Amount         types.Amount
	Method         types.PaymentMethod
	Descriptor     string
	IdempotencyKey string
	Metadata       map[string]string
}

// CaptureRequest settles a prior authorization, fully or partially.
type CaptureRequest struct {
	TransactionID  string
	MID            string
	ProcessorTxID  string
	Amount         types.Amount
	IdempotencyKey string
}

// RefundRequest returns captured funds to the fan.
type RefundRequest struct {
	TransactionID  string
	RefundID       string
	MID            string
	ProcessorTxID  string
	Amount         types.Amount
	Reason         string
	IdempotencyKey string
}

// VoidRequest cancels an authorization that was never captured.
type VoidRequest struct {
	TransactionID  string
	MID            string
	ProcessorTxID  string
	IdempotencyKey string
}

// PayoutRequest sends settled funds to a creator's payout destination.
type PayoutRequest struct {
	PayoutID       string
	CreatorID      string
	MID            string
	Amount         types.Amount
	Destination    string
	IdempotencyKey string
}

// Result is the canonical outcome of a processor call.
type Result struct {
	ProcessorTxID string
	RawCode       string
	RawMessage    string
	AVSResult     string
	CVVResult     string
	ProcessedAt   time.Time
}

// Envelope converts the result into the audit form stored on the
// transaction.
func (r Result) Envelope(processor string) types.ProcessorEnvelope {
	return types.ProcessorEnvelope{
		Processor:  processor,
		Reference:  r.ProcessorTxID,
		Code:       r.RawCode,
		RawMessage: r.RawMessage,
	}
}

// WebhookRequest is a raw inbound notification prior to verification.
type WebhookRequest struct {
	Body      []byte
	Signature string
	Timestamp string
}

// WebhookEvent is a verified notification translated to canonical form.
type WebhookEvent struct {
	EventID       string
	ProcessorTxID string
	Kind          types.EventKind
	Amount        types.Amount
	OccurredAt    time.Time
	RawCode       string
}

// Adapter is the contract each processor integration satisfies. All
// calls are synchronous; retries, fallback and breaker logic live in the
// layers above.
type Adapter interface {
	Name() string
	Authorize(ctx context.Context, req AuthorizeRequest) (Result, error)
	Capture(ctx context.Context, req CaptureRequest) (Result, error)
	Refund(ctx context.Context, req RefundRequest) (Result, error)
	Void(ctx context.Context, req VoidRequest) (Result, error)
	SendPayout(ctx context.Context, req PayoutRequest) (Result, error)
	VerifyWebhook(req WebhookRequest) (WebhookEvent, error)
	FetchSettlement(ctx context.Context, date time.Time) ([]types.SettlementLine, error)
}
