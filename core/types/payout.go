package types

import "time"

// PayoutStatus is a state in the payout lifecycle.
type PayoutStatus string

const (
	PayoutPending   PayoutStatus = "pending"
	PayoutApproved  PayoutStatus = "approved"
	PayoutBatched   PayoutStatus = "batched"
	PayoutSent      PayoutStatus = "sent"
	PayoutCompleted PayoutStatus = "completed"
	PayoutFailed    PayoutStatus = "failed"
	PayoutCancelled PayoutStatus = "cancelled"
)

// Terminal reports whether the payout reached a sink state.
func (s PayoutStatus) Terminal() bool {
	switch s {
	case PayoutCompleted, PayoutFailed, PayoutCancelled:
		return true
	}
	return false
}

// CanPayoutTransition encodes the forward-only payout machine.
func CanPayoutTransition(from, to PayoutStatus) bool {
	if from == to || from.Terminal() {
		return false
	}
	switch to {
	case PayoutApproved:
		return from == PayoutPending
	case PayoutBatched:
		return from == PayoutApproved
	case PayoutSent:
		return from == PayoutApproved || from == PayoutBatched
	case PayoutCompleted:
		return from == PayoutSent
	case PayoutFailed:
		return from == PayoutApproved || from == PayoutBatched || from == PayoutSent
	case PayoutCancelled:
		return from == PayoutPending || from == PayoutApproved
	}
	return false
}

// Payout is a creator-directed outbound transfer.
type Payout struct {
	ID             string       `json:"id"`
	CreatorID      string       `json:"creatorId"`
	Method         string       `json:"method"`
	Amount         Amount       `json:"amount"`
	Fees           Amount       `json:"fees"`
	Net            Amount       `json:"net"`
	TaxWithholding Amount       `json:"taxWithholding"`
	Status         PayoutStatus `json:"status"`
	BatchID        string       `json:"batchId,omitempty"`
	ProcessorRef   string       `json:"processorRef,omitempty"`
	FailureReason  string       `json:"failureReason,omitempty"`
	Version        int          `json:"version"`
	CreatedAt      time.Time    `json:"createdAt"`
	UpdatedAt      time.Time    `json:"updatedAt"`
}

// PayoutBatch aggregates payouts bound for a single outbound file on one
// payout rail. The batch net must equal the sum of member nets.
type PayoutBatch struct {
	ID        string    `json:"id"`
	Rail      string    `json:"rail"`
	Currency  string    `json:"currency"`
	Net       Amount    `json:"net"`
	PayoutIDs []string  `json:"payoutIds"`
	SealedAt  time.Time `json:"sealedAt,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
