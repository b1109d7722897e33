package types

import "time"

// SettlementStatus tracks a processor batch through reconciliation.
type SettlementStatus string

const (
	SettlementOpen       SettlementStatus = "open"
	SettlementReconciled SettlementStatus = "reconciled"
	SettlementSealed     SettlementStatus = "sealed"
)

// SettlementLine is one row of a processor settlement file.
type SettlementLine struct {
	ProcessorRef string `json:"processorRef"`
	Gross        Amount `json:"gross"`
	Fee          Amount `json:"fee"`
	Kind         string `json:"kind"`
}

// AmountMismatch records a local/remote amount disagreement found during
// reconciliation.
type AmountMismatch struct {
	TransactionID string `json:"transactionId"`
	Local         Amount `json:"local"`
	Remote        Amount `json:"remote"`
}

// DiscrepancyReport summarises reconciliation findings for one batch.
type DiscrepancyReport struct {
	MissingTxIDs     []string         `json:"missingTxIds,omitempty"`
	UnexpectedRefs   []string         `json:"unexpectedRefs,omitempty"`
	AmountMismatches []AmountMismatch `json:"amountMismatches,omitempty"`
}

// Empty reports whether the reconciliation found nothing to flag.
func (r DiscrepancyReport) Empty() bool {
	return len(r.MissingTxIDs) == 0 && len(r.UnexpectedRefs) == 0 && len(r.AmountMismatches) == 0
}

// Settlement is one processor batch: totals plus the discrepancy report
// attached after reconciliation. Sealed settlements never change.
type Settlement struct {
	ID          string            `json:"id"`
	Processor   string            `json:"processor"`
	WindowStart time.Time         `json:"windowStart"`
	WindowEnd   time.Time         `json:"windowEnd"`
	Gross       Amount            `json:"gross"`
	Fees        Amount            `json:"fees"`
	Chargebacks Amount            `json:"chargebacks"`
	Refunds     Amount            `json:"refunds"`
	Net         Amount            `json:"net"`
	Status      SettlementStatus  `json:"status"`
	Report      DiscrepancyReport `json:"report"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}
