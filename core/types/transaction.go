package types

import (
	"errors"
	"time"
)

// TransactionStatus is a state in the payment lifecycle.
type TransactionStatus string

// Payment states. Terminal states never transition again.
const (
	TxInitiated            TransactionStatus = "initiated"
	TxRequiresVerification TransactionStatus = "requires_verification"
	TxVerified             TransactionStatus = "verified"
	TxRouted               TransactionStatus = "routed"
	TxAuthorized           TransactionStatus = "authorized"
	TxCaptured             TransactionStatus = "captured"
	TxSettled              TransactionStatus = "settled"
	TxDisputed             TransactionStatus = "disputed"
	TxBlocked              TransactionStatus = "blocked"
	TxFailed               TransactionStatus = "failed"
	TxRefunded             TransactionStatus = "refunded"
	TxChargedBack          TransactionStatus = "charged_back"
)

// ErrInvalidTransition reports a disallowed status change.
var ErrInvalidTransition = errors.New("types: invalid status transition")

// Terminal reports whether the status is a sink.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TxBlocked, TxFailed, TxRefunded, TxChargedBack:
		return true
	}
	return false
}

// rank orders the forward progression of the payment machine. Holds and
// terminals are handled separately in CanTransition.
func (s TransactionStatus) rank() int {
	switch s {
	case TxInitiated:
		return 0
	case TxRequiresVerification:
		return 1
	case TxVerified:
		return 2
	case TxRouted:
		return 3
	case TxAuthorized:
		return 4
	case TxCaptured:
		return 5
	case TxSettled:
		return 6
	}
	return -1
}

// CanTransition reports whether from-to is a legal payment transition.
func CanTransition(from, to TransactionStatus) bool {
	if from == to {
		return false
	}
	if from.Terminal() {
		return false
	}
	switch to {
	case TxBlocked:
		return from == TxInitiated || from == TxRequiresVerification
	case TxFailed:
		return from != TxSettled
	case TxRefunded:
		return from == TxCaptured || from == TxSettled || from == TxDisputed
	case TxChargedBack:
		return from == TxCaptured || from == TxSettled || from == TxDisputed
	case TxDisputed:
		return from == TxCaptured || from == TxSettled
	case TxRequiresVerification:
		return from == TxInitiated
	case TxVerified:
		return from == TxInitiated || from == TxRequiresVerification
	}
	fromRank, toRank := from.rank(), to.rank()
	if fromRank < 0 || toRank < 0 {
		return false
	}
	return toRank == fromRank+1
}

// ProcessorEnvelope preserves the raw processor response for audit.
type ProcessorEnvelope struct {
	Processor  string `json:"processor"`
	Reference  string `json:"reference"`
	Code       string `json:"code"`
	RawMessage string `json:"rawMessage"`
}

// Transaction is a single inbound payment across its lifecycle. Status and
// processor fields are the only mutable parts; the orchestrator owns writes.
type Transaction struct {
	ID              string            `json:"id"`
	FanID           string            `json:"fanId"`
	CreatorID       string            `json:"creatorId"`
	Platform        string            `json:"platform"`
	Region          string            `json:"region,omitempty"`
	Amount          Amount            `json:"amount"`
	PlatformFee     Amount            `json:"platformFee"`
	ProcessorFee    Amount            `json:"processorFee"`
	RefundedTotal   Amount            `json:"refundedTotal"`
	Method          PaymentMethod     `json:"method"`
	Processor       string            `json:"processor,omitempty"`
	MerchantAccount string            `json:"merchantAccount,omitempty"`
	Status          TransactionStatus `json:"status"`
	TrustScore      int               `json:"trustScore"`
	RiskFlags       []string          `json:"riskFlags,omitempty"`
	Response        ProcessorEnvelope `json:"response"`
	Version         int               `json:"version"`
	InitiatedAt     time.Time         `json:"initiatedAt"`
	AuthorizedAt    time.Time         `json:"authorizedAt,omitempty"`
	CapturedAt      time.Time         `json:"capturedAt,omitempty"`
	FailedAt        time.Time         `json:"failedAt,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
	UpdatedAt       time.Time         `json:"updatedAt"`
}

// NetAmount is the amount minus platform and processor fees. The invariant
// net = amount - fees holds at every observable state.
func (t *Transaction) NetAmount() Amount {
	net := t.Amount.Units - t.PlatformFee.Units - t.ProcessorFee.Units
	return Amount{Units: net, Currency: NormalizeCurrency(t.Amount.Currency)}
}

// RemainingRefundable is the captured amount not yet consumed by processed
// refunds.
func (t *Transaction) RemainingRefundable() Amount {
	return Amount{
		Units:    t.Amount.Units - t.RefundedTotal.Units,
		Currency: NormalizeCurrency(t.Amount.Currency),
	}
}

// EventKind labels a TransactionEvent row.
type EventKind string

const (
	EventInitiated      EventKind = "initiated"
	EventVerified       EventKind = "verified"
	EventRouted         EventKind = "routed"
	EventAuthorized     EventKind = "authorized"
	EventCaptured       EventKind = "captured"
	EventSettled        EventKind = "settled"
	EventBlocked        EventKind = "blocked"
	EventFailed         EventKind = "failed"
	EventRefunded       EventKind = "refunded"
	EventDisputed       EventKind = "disputed"
	EventChargedBack    EventKind = "charged_back"
	EventLateDuplicate  EventKind = "late_duplicate"
	EventAttemptDecline EventKind = "attempt_declined"
	EventPayoutSettled  EventKind = "payout_settled"
	EventPayoutFailed   EventKind = "payout_failed"
)

// TransactionEvent is an append-only record of a state change or processor
// callback against a transaction.
type TransactionEvent struct {
	ID               string    `json:"id"`
	TransactionID    string    `json:"transactionId"`
	Kind             EventKind `json:"kind"`
	Source           string    `json:"source"`
	AmountDelta      int64     `json:"amountDelta"`
	ProcessorEventID string    `json:"processorEventId,omitempty"`
	Success          bool      `json:"success"`
	ErrorCode        string    `json:"errorCode,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}
