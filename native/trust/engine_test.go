package trust_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/core/types"
	"fanzcore/native/trust"
)

type fixedCollector struct {
	name    string
	score   *int
	reasons []string
}

func (c fixedCollector) Name() string { return c.name }
func (c fixedCollector) Collect(context.Context, trust.VerificationRequest) trust.Signal {
	return trust.Signal{Collector: c.name, Score: c.score, ReasonCodes: c.reasons}
}

func intp(v int) *int { return &v }

func newEngine(t *testing.T, store trust.ScoreStore, collectors ...trust.Collector) *trust.Engine {
	t.Helper()
	engine, err := trust.NewEngine(store,
		trust.WithCollectors(collectors...),
		trust.WithClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	require.NoError(t, err)
	return engine
}

func paymentRequest(amount int64) trust.VerificationRequest {
	return trust.VerificationRequest{
		FanID:     "F1",
		CreatorID: "C1",
		Platform:  "P1",
		Method:    types.MethodCard,
		Amount:    types.NewAmount(amount, "USD"),
		Context:   trust.ContextPayment,
	}
}

func TestScore_WeightedAverageAndAllow(t *testing.T) {
	store := trust.NewMemoryScoreStore()
	engine := newEngine(t, store,
		fixedCollector{name: "device", score: intp(90)},
		fixedCollector{name: "network", score: intp(80)},
		fixedCollector{name: "payment", score: intp(85)},
		fixedCollector{name: "behavioral", score: intp(85)},
		fixedCollector{name: "platform", score: intp(85)},
	)

	result, err := engine.Score(context.Background(), paymentRequest(1000))
	require.NoError(t, err)
	require.Equal(t, types.DecisionAllow, result.Decision)
	require.Equal(t, 85, result.Score)
	require.InDelta(t, 1.0, result.Confidence, 1e-9)

	saved := store.Scores()
	require.Len(t, saved, 1, "decision must be persisted before returning")
	require.Equal(t, result.ID, saved[0].ID)
	require.Len(t, saved[0].Signals, 5)
}

func TestScore_NilSignalsLowerConfidenceOnly(t *testing.T) {
	store := trust.NewMemoryScoreStore()
	engine := newEngine(t, store,
		fixedCollector{name: "device", score: intp(80)},
		fixedCollector{name: "network"},
		fixedCollector{name: "payment", score: intp(80)},
		fixedCollector{name: "behavioral"},
		fixedCollector{name: "platform", score: intp(80)},
	)

	result, err := engine.Score(context.Background(), paymentRequest(1000))
	require.NoError(t, err)
	require.Equal(t, 80, result.Score)
	require.InDelta(t, 0.6, result.Confidence, 1e-9)
}

func TestScore_Deterministic(t *testing.T) {
	collectors := []trust.Collector{
		fixedCollector{name: "device", score: intp(55), reasons: []string{"device_new"}},
		fixedCollector{name: "network", score: intp(62)},
		fixedCollector{name: "payment", score: intp(48)},
		fixedCollector{name: "behavioral", score: intp(70)},
		fixedCollector{name: "platform", score: intp(66)},
	}
	first := newEngine(t, trust.NewMemoryScoreStore(), collectors...)
	second := newEngine(t, trust.NewMemoryScoreStore(), collectors...)

	a, err := first.Score(context.Background(), paymentRequest(2500))
	require.NoError(t, err)
	b, err := second.Score(context.Background(), paymentRequest(2500))
	require.NoError(t, err)
	require.Equal(t, a.Score, b.Score)
	require.Equal(t, a.Decision, b.Decision)
	require.Equal(t, a.ModelVersion, b.ModelVersion)
}

func TestDecide_Bands(t *testing.T) {
	cases := []struct {
		name     string
		score    int
		amount   int64
		expected types.TrustDecision
	}{
		{"high score small amount allows", 85, 1000, types.DecisionAllow},
		{"high score large amount challenges", 85, 60_000, types.DecisionChallenge},
		{"mid score challenges", 55, 1000, types.DecisionChallenge},
		{"low score blocks", 30, 1000, types.DecisionBlock},
		{"challenge over block limit blocks", 55, 600_000, types.DecisionBlock},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newEngine(t, trust.NewMemoryScoreStore(),
				fixedCollector{name: "device", score: intp(tc.score)},
				fixedCollector{name: "network", score: intp(tc.score)},
				fixedCollector{name: "payment", score: intp(tc.score)},
				fixedCollector{name: "behavioral", score: intp(tc.score)},
				fixedCollector{name: "platform", score: intp(tc.score)},
			)
			result, err := engine.Score(context.Background(), paymentRequest(tc.amount))
			require.NoError(t, err)
			require.Equal(t, tc.expected, result.Decision)
		})
	}
}

func TestDecide_RefundContext(t *testing.T) {
	engine := newEngine(t, trust.NewMemoryScoreStore(),
		fixedCollector{name: "device", score: intp(80)},
		fixedCollector{name: "network", score: intp(80)},
		fixedCollector{name: "payment", score: intp(80)},
		fixedCollector{name: "behavioral", score: intp(80)},
		fixedCollector{name: "platform", score: intp(80)},
	)

	req := paymentRequest(1000)
	req.Context = trust.ContextRefund
	result, err := engine.Score(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.DecisionRefund, result.Decision)

	low := newEngine(t, trust.NewMemoryScoreStore(),
		fixedCollector{name: "device", score: intp(50)},
		fixedCollector{name: "network", score: intp(50)},
		fixedCollector{name: "payment", score: intp(50)},
		fixedCollector{name: "behavioral", score: intp(50)},
		fixedCollector{name: "platform", score: intp(50)},
	)
	result, err = low.Score(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.DecisionReview, result.Decision)
}

func TestScore_NoSignals(t *testing.T) {
	engine := newEngine(t, trust.NewMemoryScoreStore(),
		fixedCollector{name: "device"},
		fixedCollector{name: "network"},
	)
	_, err := engine.Score(context.Background(), paymentRequest(1000))
	require.ErrorIs(t, err, trust.ErrNoSignals)
}

func TestCollectors_DeviceScoring(t *testing.T) {
	history := stubHistory{seen: 0, attempts: 20, flagged: false}
	collector := trust.DeviceCollector{History: history, VelocityPerHour: 10}

	req := paymentRequest(1000)
	req.Proof.DeviceFingerprint = "fp-1"
	sig := collector.Collect(context.Background(), req)
	require.NotNil(t, sig.Score)
	require.Equal(t, 40, *sig.Score)
	require.Contains(t, sig.ReasonCodes, "device_new")
	require.Contains(t, sig.ReasonCodes, "device_velocity")
}

type stubHistory struct {
	seen     int
	attempts int
	flagged  bool
}

func (s stubHistory) SeenCount(string) int        { return s.seen }
func (s stubHistory) AttemptsLastHour(string) int { return s.attempts }
func (s stubHistory) Flagged(string) bool         { return s.flagged }
