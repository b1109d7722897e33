package events

import "fanzcore/core/types"

// Refund and dispute event types.
const (
	TypeRefundRequested = "refund.requested"
	TypeRefundApproved  = "refund.approved"
	TypeRefundDenied    = "refund.denied"
	TypeRefundProcessed = "refund.processed"
	TypeRefundFailed    = "refund.failed"

	TypeDisputeOpened    = "dispute.opened"
	TypeDisputeResponded = "dispute.responded"
	TypeDisputeClosed    = "dispute.closed"
	TypeChargeback       = "dispute.chargeback"
)

// RefundStateChanged is emitted on every refund transition.
type RefundStateChanged struct {
	RefundID      string               `json:"refundId"`
	TransactionID string               `json:"transactionId"`
	Amount        types.Amount         `json:"amount"`
	Status        types.RefundStatus   `json:"status"`
	Decision      types.DecisionSource `json:"decision,omitempty"`
}

func (e RefundStateChanged) EventType() string {
	switch e.Status {
	case types.RefundRequested:
		return TypeRefundRequested
	case types.RefundAutoApproved, types.RefundApproved:
		return TypeRefundApproved
	case types.RefundDenied:
		return TypeRefundDenied
	case types.RefundProcessed, types.RefundReconciled:
		return TypeRefundProcessed
	case types.RefundFailed:
		return TypeRefundFailed
	}
	return "refund." + string(e.Status)
}

func (e RefundStateChanged) Subject() string { return "refund:" + e.RefundID }

// DisputeEvent covers dispute lifecycle changes including chargebacks.
type DisputeEvent struct {
	DisputeID     string             `json:"disputeId"`
	TransactionID string             `json:"transactionId"`
	Kind          types.DisputeKind  `json:"kind"`
	Stage         types.DisputeStage `json:"stage"`
	Amount        types.Amount       `json:"amount"`
}

func (e DisputeEvent) EventType() string {
	switch e.Stage {
	case types.DisputeResponded:
		return TypeDisputeResponded
	case types.DisputeClosed:
		return TypeDisputeClosed
	}
	if e.Kind == types.DisputeChargeback {
		return TypeChargeback
	}
	return TypeDisputeOpened
}

func (e DisputeEvent) Subject() string { return "dispute:" + e.DisputeID }
