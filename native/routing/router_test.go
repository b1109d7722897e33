package routing_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/core/types"
	"fanzcore/native/routing"
)

func fixedClock() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }

func usdAccount(mid, processor string) types.MerchantAccount {
	return types.MerchantAccount{MID: mid, Processor: processor, Currency: "USD"}
}

func cardRequest(units int64) routing.Request {
	return routing.Request{
		FanID:      "F1",
		CreatorID:  "C1",
		Platform:   "boyfanz",
		Region:     "US",
		Method:     types.MethodCard,
		Amount:     types.NewAmount(units, "USD"),
		TrustScore: 80,
	}
}

func newRouter(t *testing.T, snap *routing.Snapshot, opts ...routing.Option) *routing.Router {
	t.Helper()
	opts = append(opts, routing.WithClock(fixedClock))
	router, err := routing.NewRouter(routing.NewSnapshotHolder(snap), opts...)
	require.NoError(t, err)
	return router
}

func TestRoute_PriorityOrderAndTiebreak(t *testing.T) {
	rules := []types.RoutingRule{
		{ID: "r-b", Priority: 10, Active: true, Target: types.RuleTarget{Primary: "M2"}},
		{ID: "r-a", Priority: 10, Active: true, Target: types.RuleTarget{Primary: "M1"}},
		{ID: "r-low", Priority: 5, Active: false, Target: types.RuleTarget{Primary: "M3"}},
	}
	accounts := []types.MerchantAccount{
		usdAccount("M1", "ccbill"),
		usdAccount("M2", "segpay"),
		usdAccount("M3", "cryptopay"),
	}
	router := newRouter(t, routing.NewSnapshot(rules, accounts, ""))

	decision, err := router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "r-a", decision.RuleID, "equal priorities break ties by rule id")
	require.Equal(t, "M1", decision.MID)
	require.Equal(t, "ccbill", decision.Processor)
}

func TestRoute_ConditionsFilter(t *testing.T) {
	rules := []types.RoutingRule{
		{
			ID: "crypto-high", Priority: 1, Active: true,
			Conditions: types.RuleConditions{
				Methods: []types.PaymentMethodKind{types.MethodCrypto},
			},
			Target: types.RuleTarget{Primary: "M-crypto"},
		},
		{
			ID: "large-card", Priority: 2, Active: true,
			Conditions: types.RuleConditions{
				Methods: []types.PaymentMethodKind{types.MethodCard},
				Amount:  types.AmountRange{Min: 50_000},
			},
			Target: types.RuleTarget{Primary: "M-large"},
		},
	}
	accounts := []types.MerchantAccount{
		usdAccount("M-crypto", "cryptopay"),
		usdAccount("M-large", "segpay"),
		usdAccount("M-default", "ccbill"),
	}
	router := newRouter(t, routing.NewSnapshot(rules, accounts, "M-default"))

	decision, err := router.Route(cardRequest(75_000))
	require.NoError(t, err)
	require.Equal(t, "large-card", decision.RuleID)

	decision, err = router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "default", decision.RuleID)
	require.Equal(t, "M-default", decision.MID)
}

func TestRoute_HardConstraintsSkipToFallback(t *testing.T) {
	rules := []types.RoutingRule{
		{
			ID: "r1", Priority: 1, Active: true,
			Target: types.RuleTarget{Primary: "M-killed", Fallbacks: []string{"M-down", "M-ok"}},
		},
	}
	accounts := []types.MerchantAccount{
		usdAccount("M-ok", "segpay"),
	}
	killed := usdAccount("M-killed", "ccbill")
	killed.KillSwitch = true
	down := usdAccount("M-down", "cryptopay")
	accounts = append(accounts, killed, down)

	router := newRouter(t, routing.NewSnapshot(rules, accounts, ""),
		routing.WithAvailability(func(processor string) bool { return processor != "cryptopay" }),
	)

	decision, err := router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "M-ok", decision.MID)
	require.Empty(t, decision.Fallbacks)
}

func TestRoute_AmountLimitsHalfOpen(t *testing.T) {
	capped := usdAccount("M-capped", "ccbill")
	capped.MinAmount = 100
	capped.MaxAmount = 1000
	rules := []types.RoutingRule{
		{ID: "r1", Priority: 1, Active: true, Target: types.RuleTarget{Primary: "M-capped", Fallbacks: []string{"M-open"}}},
	}
	router := newRouter(t, routing.NewSnapshot(rules, []types.MerchantAccount{capped, usdAccount("M-open", "segpay")}, ""))

	decision, err := router.Route(cardRequest(100))
	require.NoError(t, err)
	require.Equal(t, "M-capped", decision.MID, "lower bound is inclusive")

	decision, err = router.Route(cardRequest(999))
	require.NoError(t, err)
	require.Equal(t, "M-capped", decision.MID)

	decision, err = router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "M-open", decision.MID, "upper bound is exclusive")
}

func TestRoute_NoEligibleAccount(t *testing.T) {
	killed := usdAccount("M1", "ccbill")
	killed.KillSwitch = true
	rules := []types.RoutingRule{
		{ID: "r1", Priority: 1, Active: true, Target: types.RuleTarget{Primary: "M1"}},
	}
	router := newRouter(t, routing.NewSnapshot(rules, []types.MerchantAccount{killed}, ""))

	_, err := router.Route(cardRequest(1000))
	require.ErrorIs(t, err, routing.ErrNoRoute)
}

func TestRoute_VolumeCapExcludesAccount(t *testing.T) {
	capped := usdAccount("M1", "ccbill")
	capped.DailyVolumeCap = 10_000
	rules := []types.RoutingRule{
		{ID: "r1", Priority: 1, Active: true, Target: types.RuleTarget{Primary: "M1", Fallbacks: []string{"M2"}}},
	}
	accounts := []types.MerchantAccount{capped, usdAccount("M2", "segpay")}
	router := newRouter(t, routing.NewSnapshot(rules, accounts, ""))

	router.Volumes().Record("M1", 9_500, fixedClock())
	decision, err := router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "M2", decision.MID, "cap would be exceeded on M1")

	decision, err = router.Route(cardRequest(500))
	require.NoError(t, err)
	require.Equal(t, "M1", decision.MID, "exactly at cap is still allowed")
}

func TestRoute_CanaryDeterministic(t *testing.T) {
	rules := []types.RoutingRule{
		{
			ID: "r1", Priority: 1, Active: true,
			Target: types.RuleTarget{Primary: "M-main"},
			Canary: types.CanaryConfig{Enabled: true, Target: "M-canary", Percentage: 50},
		},
	}
	accounts := []types.MerchantAccount{
		usdAccount("M-main", "ccbill"),
		usdAccount("M-canary", "segpay"),
	}
	router := newRouter(t, routing.NewSnapshot(rules, accounts, ""))

	seen := map[string]string{}
	canaried := 0
	for i := 0; i < 200; i++ {
		req := cardRequest(1000)
		req.FanID = "fan-" + string(rune('a'+i%26)) + string(rune('a'+i/26))
		first, err := router.Route(req)
		require.NoError(t, err)
		second, err := router.Route(req)
		require.NoError(t, err)
		require.Equal(t, first.MID, second.MID, "same fan must always land on the same side")
		seen[req.FanID] = first.MID
		if first.Canary {
			require.Equal(t, "M-canary", first.MID)
			canaried++
		}
	}
	require.Greater(t, canaried, 0, "a 50%% canary must divert some fans")
	require.Less(t, canaried, len(seen), "a 50%% canary must not divert all fans")
}

func TestRoute_SnapshotSwapIsAtomic(t *testing.T) {
	rules := []types.RoutingRule{
		{ID: "r1", Priority: 1, Active: true, Target: types.RuleTarget{Primary: "M1"}},
	}
	accounts := []types.MerchantAccount{usdAccount("M1", "ccbill"), usdAccount("M2", "segpay")}
	router := newRouter(t, routing.NewSnapshot(rules, accounts, ""))

	decision, err := router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "M1", decision.MID)

	next := []types.RoutingRule{
		{ID: "r1", Priority: 1, Active: true, Target: types.RuleTarget{Primary: "M2"}},
	}
	router.Swap(routing.NewSnapshot(next, accounts, ""))

	decision, err = router.Route(cardRequest(1000))
	require.NoError(t, err)
	require.Equal(t, "M2", decision.MID)
}

func TestVolumeTracker_WindowRollover(t *testing.T) {
	tracker := routing.NewVolumeTracker()
	day1 := time.Date(2024, 5, 10, 23, 0, 0, 0, time.UTC)
	day2 := day1.Add(2 * time.Hour)

	tracker.Record("M1", 5_000, day1)
	daily, monthly := tracker.Usage("M1", day1)
	require.Equal(t, int64(5_000), daily)
	require.Equal(t, int64(5_000), monthly)

	daily, monthly = tracker.Usage("M1", day2)
	require.Equal(t, int64(0), daily, "daily counter resets at the UTC day boundary")
	require.Equal(t, int64(5_000), monthly, "monthly counter carries within the month")
}
