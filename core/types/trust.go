package types

import "time"

// TrustDecision is the engine's advisory verdict for a request.
type TrustDecision string

const (
	DecisionAllow     TrustDecision = "allow"
	DecisionChallenge TrustDecision = "challenge"
	DecisionBlock     TrustDecision = "block"
	DecisionRefund    TrustDecision = "refund"
	DecisionReview    TrustDecision = "review"
)

// SignalSnapshot captures one collector's contribution to a score. Nil
// sub-scores (collector had no data) lower confidence but do not skew the
// weighted average.
type SignalSnapshot struct {
	Collector   string   `json:"collector"`
	Score       *int     `json:"score,omitempty"`
	ReasonCodes []string `json:"reasonCodes,omitempty"`
}

// TrustScore is the persisted record of one scoring decision. Given the
// same snapshot and model version the decision is reproducible.
type TrustScore struct {
	ID             string           `json:"id"`
	SubjectRef     string           `json:"subjectRef"`
	Score          int              `json:"score"`
	Confidence     float64          `json:"confidence"`
	ModelVersion   string           `json:"modelVersion"`
	Decision       TrustDecision    `json:"decision"`
	ReasonCodes    []string         `json:"reasonCodes,omitempty"`
	Signals        []SignalSnapshot `json:"signals"`
	Explanation    string           `json:"explanation,omitempty"`
	ProcessingTime time.Duration    `json:"processingTimeMs"`
	CreatedAt      time.Time        `json:"createdAt"`
}
