package events

import "fanzcore/core/types"

// Payout event types.
const (
	TypePayoutApproved  = "payout.approved"
	TypePayoutBatched   = "payout.batched"
	TypePayoutSent      = "payout.sent"
	TypePayoutCompleted = "payout.completed"
	TypePayoutFailed    = "payout.failed"
	TypePayoutCancelled = "payout.cancelled"
)

// PayoutStateChanged is emitted on every payout transition past pending.
type PayoutStateChanged struct {
	PayoutID  string             `json:"payoutId"`
	CreatorID string             `json:"creatorId"`
	Amount    types.Amount       `json:"amount"`
	Net       types.Amount       `json:"net"`
	Status    types.PayoutStatus `json:"status"`
	BatchID   string             `json:"batchId,omitempty"`
	Reason    string             `json:"reason,omitempty"`
}

func (e PayoutStateChanged) EventType() string {
	switch e.Status {
	case types.PayoutApproved:
		return TypePayoutApproved
	case types.PayoutBatched:
		return TypePayoutBatched
	case types.PayoutSent:
		return TypePayoutSent
	case types.PayoutCompleted:
		return TypePayoutCompleted
	case types.PayoutFailed:
		return TypePayoutFailed
	case types.PayoutCancelled:
		return TypePayoutCancelled
	}
	return "payout." + string(e.Status)
}

func (e PayoutStateChanged) Subject() string { return "payout:" + e.PayoutID }
