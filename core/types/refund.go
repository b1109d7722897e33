package types

import "time"

// RefundStatus is a state in the refund workflow.
type RefundStatus string

const (
	RefundRequested    RefundStatus = "requested"
	RefundAutoApproved RefundStatus = "auto_approved"
	RefundManualReview RefundStatus = "manual_review"
	RefundApproved     RefundStatus = "approved"
	RefundDenied       RefundStatus = "denied"
	RefundProcessed    RefundStatus = "processed"
	RefundReconciled   RefundStatus = "reconciled"
	RefundFailed       RefundStatus = "failed"
)

// Terminal reports whether the refund can no longer transition.
func (s RefundStatus) Terminal() bool {
	switch s {
	case RefundDenied, RefundReconciled, RefundFailed:
		return true
	}
	return false
}

// DecisionSource records who approved or denied a refund.
type DecisionSource string

const (
	DecisionAuto       DecisionSource = "auto"
	DecisionManual     DecisionSource = "manual"
	DecisionChargeback DecisionSource = "chargeback"
)

// Refund reverses part or all of a captured transaction.
type Refund struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transactionId"`
	Amount        Amount         `json:"amount"`
	Reason        string         `json:"reason"`
	Status        RefundStatus   `json:"status"`
	Decision      DecisionSource `json:"decision,omitempty"`
	TrustScore    int            `json:"trustScore"`
	Version       int            `json:"version"`
	CreatedAt     time.Time      `json:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt"`
}

// DisputeStage tracks the lifecycle of an externally initiated dispute.
type DisputeStage string

const (
	DisputeInitial        DisputeStage = "initial"
	DisputeResponseDue    DisputeStage = "response_due"
	DisputeResponded      DisputeStage = "responded"
	DisputePreArbitration DisputeStage = "pre_arbitration"
	DisputeArbitration    DisputeStage = "arbitration"
	DisputeClosed         DisputeStage = "closed"
)

// DisputeKind distinguishes information requests from money-moving disputes.
type DisputeKind string

const (
	DisputeRetrieval  DisputeKind = "retrieval"
	DisputeChargeback DisputeKind = "chargeback"
)

// Dispute is raised by a processor on behalf of an issuer or fan.
type Dispute struct {
	ID            string       `json:"id"`
	TransactionID string       `json:"transactionId"`
	Kind          DisputeKind  `json:"kind"`
	Stage         DisputeStage `json:"stage"`
	Amount        Amount       `json:"amount"`
	ReasonCode    string       `json:"reasonCode"`
	Evidence      string       `json:"evidence,omitempty"`
	DeadlineAt    time.Time    `json:"deadlineAt"`
	Version       int          `json:"version"`
	CreatedAt     time.Time    `json:"createdAt"`
	UpdatedAt     time.Time    `json:"updatedAt"`
}
