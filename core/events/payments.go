package events

import "fanzcore/core/types"

// Payment event types.
const (
	TypePaymentInitiated  = "payment.initiated"
	TypePaymentVerified   = "payment.verified"
	TypePaymentAuthorized = "payment.authorized"
	TypePaymentCaptured   = "payment.captured"
	TypePaymentBlocked    = "payment.blocked"
	TypePaymentFailed     = "payment.failed"
	TypePaymentSettled    = "payment.settled"
)

// PaymentCaptured is emitted exactly once when a capture ledger entry
// lands for a transaction.
type PaymentCaptured struct {
	TransactionID string       `json:"transactionId"`
	FanID         string       `json:"fanId"`
	CreatorID     string       `json:"creatorId"`
	Platform      string       `json:"platform"`
	Amount        types.Amount `json:"amount"`
	PlatformFee   types.Amount `json:"platformFee"`
	ProcessorFee  types.Amount `json:"processorFee"`
	Processor     string       `json:"processor"`
	MID           string       `json:"mid"`
}

func (PaymentCaptured) EventType() string { return TypePaymentCaptured }
func (e PaymentCaptured) Subject() string { return "tx:" + e.TransactionID }

// PaymentStatusChanged covers the non-capture payment transitions.
type PaymentStatusChanged struct {
	TransactionID string                  `json:"transactionId"`
	Status        types.TransactionStatus `json:"status"`
	Reason        string                  `json:"reason,omitempty"`
	eventType     string
}

// NewPaymentStatusChanged builds a status event with the matching type.
func NewPaymentStatusChanged(txID string, status types.TransactionStatus, reason string) PaymentStatusChanged {
	evt := PaymentStatusChanged{TransactionID: txID, Status: status, Reason: reason}
	switch status {
	case types.TxInitiated:
		evt.eventType = TypePaymentInitiated
	case types.TxVerified, types.TxRequiresVerification:
		evt.eventType = TypePaymentVerified
	case types.TxAuthorized:
		evt.eventType = TypePaymentAuthorized
	case types.TxBlocked:
		evt.eventType = TypePaymentBlocked
	case types.TxFailed:
		evt.eventType = TypePaymentFailed
	case types.TxSettled:
		evt.eventType = TypePaymentSettled
	default:
		evt.eventType = "payment." + string(status)
	}
	return evt
}

func (e PaymentStatusChanged) EventType() string { return e.eventType }
func (e PaymentStatusChanged) Subject() string   { return "tx:" + e.TransactionID }
