// Package trust implements the FanzTrust scoring engine: independent
// signal collectors combined by a weighted average into an advisory
// allow/challenge/block decision. Every decision is persisted with its
// signals snapshot before it is returned.
package trust

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"fanzcore/core/events"
	"fanzcore/core/types"
)

// ErrNoSignals reports a request no collector could score.
var ErrNoSignals = errors.New("trust: no signals collected")

// ScoreStore persists trust decisions.
type ScoreStore interface {
	SaveScore(ctx context.Context, score types.TrustScore) error
}

// Engine combines collector signals into decisions.
type Engine struct {
	collectors   []Collector
	weights      Weights
	thresholds   Thresholds
	modelVersion string
	store        ScoreStore
	emitter      events.Emitter
	now          func() time.Time
}

// Option customises the engine instance.
type Option func(*Engine)

// WithCollectors replaces the collector set.
func WithCollectors(collectors ...Collector) Option {
	return func(e *Engine) { e.collectors = collectors }
}

// WithWeights overrides the model weights.
func WithWeights(w Weights) Option {
	return func(e *Engine) { e.weights = w }
}

// WithThresholds overrides the decision thresholds.
func WithThresholds(t Thresholds) Option {
	return func(e *Engine) { e.thresholds = t }
}

// WithModelVersion stamps decisions with the model version.
func WithModelVersion(version string) Option {
	return func(e *Engine) { e.modelVersion = version }
}

// WithEmitter wires the audit-trail emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		if clock != nil {
			e.now = clock
		}
	}
}

// NewEngine constructs a scoring engine persisting to store.
func NewEngine(store ScoreStore, opts ...Option) (*Engine, error) {
	e := &Engine{
		weights:      DefaultWeights(),
		thresholds:   DefaultThresholds(),
		modelVersion: "fanztrust-1",
		store:        store,
		emitter:      events.NoopEmitter{},
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.store == nil {
		return nil, fmt.Errorf("trust: score store required")
	}
	if err := e.weights.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

// Score runs all collectors, combines their sub-scores and persists the
// decision. The decision is advisory; the orchestrator combines it with
// routing and policy.
func (e *Engine) Score(ctx context.Context, req VerificationRequest) (types.TrustScore, error) {
	start := e.now()

	signals := make([]Signal, len(e.collectors))
	var wg sync.WaitGroup
	for i, collector := range e.collectors {
		wg.Add(1)
		go func(i int, collector Collector) {
			defer wg.Done()
			signals[i] = collector.Collect(ctx, req)
		}(i, collector)
	}
	wg.Wait()

	var weighted, totalWeight float64
	nonNull := 0
	reasons := make([]string, 0, 8)
	snapshot := make([]types.SignalSnapshot, 0, len(signals))
	for _, sig := range signals {
		snap := types.SignalSnapshot{Collector: sig.Collector, ReasonCodes: sig.ReasonCodes}
		if sig.Score != nil {
			v := *sig.Score
			snap.Score = &v
			weight := e.weights.For(sig.Collector)
			weighted += float64(v) * weight
			totalWeight += weight
			nonNull++
		}
		reasons = append(reasons, sig.ReasonCodes...)
		snapshot = append(snapshot, snap)
	}
	if nonNull == 0 || totalWeight == 0 {
		return types.TrustScore{}, ErrNoSignals
	}

	final := int(math.Round(weighted / totalWeight))
	if final < 0 {
		final = 0
	}
	if final > 100 {
		final = 100
	}
	confidence := float64(nonNull) / float64(len(e.collectors))
	decision := e.decide(req, final)

	record := types.TrustScore{
		ID:             uuid.NewString(),
		SubjectRef:     subjectRef(req),
		Score:          final,
		Confidence:     confidence,
		ModelVersion:   e.modelVersion,
		Decision:       decision,
		ReasonCodes:    reasons,
		Signals:        snapshot,
		Explanation:    explain(decision, final, e.thresholds),
		ProcessingTime: e.now().Sub(start),
		CreatedAt:      start.UTC(),
	}
	if err := e.store.SaveScore(ctx, record); err != nil {
		return types.TrustScore{}, fmt.Errorf("trust: persist score: %w", err)
	}
	e.emitter.Emit(events.TrustScored{
		ScoreID:    record.ID,
		SubjectRef: record.SubjectRef,
		Score:      record.Score,
		Decision:   record.Decision,
	})
	return record, nil
}

// decide applies the threshold policy. Amounts are minor units.
func (e *Engine) decide(req VerificationRequest, score int) types.TrustDecision {
	t := e.thresholds
	if req.Context == ContextRefund {
		if score >= t.RefundAllow {
			return types.DecisionRefund
		}
		return types.DecisionReview
	}
	if score < t.Block {
		return types.DecisionBlock
	}
	decision := types.DecisionChallenge
	if score >= t.AutoAllow && req.Amount.Units < t.AutoApproveLimit {
		decision = types.DecisionAllow
	}
	if decision == types.DecisionChallenge && t.BlockLimit > 0 && req.Amount.Units >= t.BlockLimit {
		return types.DecisionBlock
	}
	return decision
}

// RequiresManualReview reports whether a challenge at this amount must
// escalate to the approval queue rather than an automated challenge.
func (e *Engine) RequiresManualReview(amount types.Amount) bool {
	limit := e.thresholds.ManualReviewLimit
	return limit > 0 && amount.Units >= limit
}

func subjectRef(req VerificationRequest) string {
	if req.Context == ContextRefund {
		return "refund-check:" + req.FanID
	}
	return "fan:" + req.FanID
}

func explain(decision types.TrustDecision, score int, t Thresholds) string {
	switch decision {
	case types.DecisionAllow:
		return fmt.Sprintf("score %d at or above allow threshold %d", score, t.AutoAllow)
	case types.DecisionBlock:
		return fmt.Sprintf("score %d below block threshold %d or amount over block limit", score, t.Block)
	case types.DecisionChallenge:
		return fmt.Sprintf("score %d between block threshold %d and allow threshold %d", score, t.Block, t.AutoAllow)
	case types.DecisionRefund:
		return fmt.Sprintf("refund context, score %d at or above refund threshold %d", score, t.RefundAllow)
	case types.DecisionReview:
		return fmt.Sprintf("refund context, score %d below refund threshold %d", score, t.RefundAllow)
	}
	return ""
}

// MemoryScoreStore retains decisions in memory. Safe for concurrent use.
type MemoryScoreStore struct {
	mu     sync.Mutex
	scores []types.TrustScore
}

// NewMemoryScoreStore constructs an empty score store.
func NewMemoryScoreStore() *MemoryScoreStore { return &MemoryScoreStore{} }

// SaveScore implements ScoreStore.
func (s *MemoryScoreStore) SaveScore(_ context.Context, score types.TrustScore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scores = append(s.scores, score)
	return nil
}

// Scores returns a copy of the persisted decisions. Primarily for testing.
func (s *MemoryScoreStore) Scores() []types.TrustScore {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TrustScore, len(s.scores))
	copy(out, s.scores)
	return out
}
