package events

import "fanzcore/core/types"

// Settlement and trust event types.
const (
	TypeSettlementReconciled  = "settlement.reconciled"
	TypeSettlementDiscrepancy = "settlement.discrepancy"

	TypeTrustScored = "trust.scored"

	TypeApprovalCreated   = "approval.created"
	TypeApprovalDecided   = "approval.decided"
	TypeApprovalEscalated = "approval.escalated"
)

// SettlementReconciled is emitted once a batch has been matched against
// local captures.
type SettlementReconciled struct {
	SettlementID string       `json:"settlementId"`
	Processor    string       `json:"processor"`
	Gross        types.Amount `json:"gross"`
	Fees         types.Amount `json:"fees"`
	Net          types.Amount `json:"net"`
	Matched      int          `json:"matched"`
	Clean        bool         `json:"clean"`
}

func (SettlementReconciled) EventType() string { return TypeSettlementReconciled }
func (e SettlementReconciled) Subject() string { return "settlement:" + e.SettlementID }

// SettlementDiscrepancy carries the reconciliation findings for a batch
// that did not match cleanly.
type SettlementDiscrepancy struct {
	SettlementID string                  `json:"settlementId"`
	Processor    string                  `json:"processor"`
	Report       types.DiscrepancyReport `json:"report"`
}

func (SettlementDiscrepancy) EventType() string { return TypeSettlementDiscrepancy }
func (e SettlementDiscrepancy) Subject() string { return "settlement:" + e.SettlementID }

// TrustScored is the audit-trail record of a scoring decision.
type TrustScored struct {
	ScoreID    string              `json:"scoreId"`
	SubjectRef string              `json:"subjectRef"`
	Score      int                 `json:"score"`
	Decision   types.TrustDecision `json:"decision"`
}

func (TrustScored) EventType() string { return TypeTrustScored }
func (e TrustScored) Subject() string { return e.SubjectRef }

// ApprovalEvent covers review queue lifecycle changes.
type ApprovalEvent struct {
	ApprovalID string              `json:"approvalId"`
	EntityRef  string              `json:"entityRef"`
	State      types.ApprovalState `json:"state"`
	Decision   string              `json:"decision,omitempty"`
}

func (e ApprovalEvent) EventType() string {
	switch e.State {
	case types.ApprovalEscalated:
		return TypeApprovalEscalated
	case types.ApprovalApproved, types.ApprovalDenied, types.ApprovalExpired:
		return TypeApprovalDecided
	}
	return TypeApprovalCreated
}

func (e ApprovalEvent) Subject() string { return "approval:" + e.ApprovalID }
