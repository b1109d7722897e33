package types

import "time"

// ApprovalState tracks a review queue entry.
type ApprovalState string

const (
	ApprovalPending   ApprovalState = "pending"
	ApprovalApproved  ApprovalState = "approved"
	ApprovalDenied    ApprovalState = "denied"
	ApprovalEscalated ApprovalState = "escalated"
	ApprovalExpired   ApprovalState = "expired"
)

// Decided reports whether the entry already carries a decision.
func (s ApprovalState) Decided() bool {
	return s == ApprovalApproved || s == ApprovalDenied || s == ApprovalExpired
}

// ApprovalHistoryEntry is one audit line on an approval.
type ApprovalHistoryEntry struct {
	Actor  string    `json:"actor"`
	Action string    `json:"action"`
	Note   string    `json:"note,omitempty"`
	At     time.Time `json:"at"`
}

// Approval is an SLA-tracked review queue entry for a high-risk item.
type Approval struct {
	ID             string                 `json:"id"`
	EntityRef      string                 `json:"entityRef"`
	Type           string                 `json:"type"`
	State          ApprovalState          `json:"state"`
	Priority       int                    `json:"priority"`
	Assignee       string                 `json:"assignee,omitempty"`
	SLAMinutes     int                    `json:"slaMinutes"`
	SLAAt          time.Time              `json:"slaAt"`
	History        []ApprovalHistoryEntry `json:"history,omitempty"`
	Decision       string                 `json:"decision,omitempty"`
	DecisionReason string                 `json:"decisionReason,omitempty"`
	DecidedBy      string                 `json:"decidedBy,omitempty"`
	Version        int                    `json:"version"`
	CreatedAt      time.Time              `json:"createdAt"`
	UpdatedAt      time.Time              `json:"updatedAt"`
}
