package settlement_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/core/types"
	"fanzcore/native/settlement"
)

type stubFetcher struct {
	lines map[string][]types.SettlementLine
	errs  map[string]error
	dates map[string]time.Time
}

func (s *stubFetcher) FetchSettlement(_ context.Context, name string, date time.Time) ([]types.SettlementLine, error) {
	if s.dates == nil {
		s.dates = make(map[string]time.Time)
	}
	s.dates[name] = date
	if err := s.errs[name]; err != nil {
		return nil, err
	}
	return s.lines[name], nil
}

func TestRunnerReconcilesPreviousDay(t *testing.T) {
	engine, err := settlement.NewEngine(
		stubCaptures{captures: []settlement.LocalCapture{local("T1", "cc-1", 1000, 29)}},
	)
	require.NoError(t, err)

	fetcher := &stubFetcher{lines: map[string][]types.SettlementLine{
		"ccbill": {captureLine("cc-1", 1000, 29)},
	}}

	dir := t.TempDir()
	now := time.Date(2024, 5, 11, 6, 30, 0, 0, time.UTC)
	runner := settlement.NewRunner(engine, fetcher, []string{"ccbill"}, dir,
		settlement.WithRunnerClock(func() time.Time { return now }),
	)
	runner.RunOnce(context.Background())

	// Window is midnight-to-midnight for the day before the run.
	require.Equal(t, time.Date(2024, 5, 10, 0, 0, 0, 0, time.UTC), fetcher.dates["ccbill"])

	batches := engine.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, "ccbill", batches[0].Processor)
	require.True(t, batches[0].Report.Empty())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
}

func TestRunnerSkipsFailingProcessor(t *testing.T) {
	engine, err := settlement.NewEngine(stubCaptures{})
	require.NoError(t, err)

	fetcher := &stubFetcher{
		lines: map[string][]types.SettlementLine{},
		errs:  map[string]error{"segpay": errors.New("file not ready")},
	}
	runner := settlement.NewRunner(engine, fetcher, []string{"segpay", "ccbill"}, "",
		settlement.WithRunnerClock(func() time.Time {
			return time.Date(2024, 5, 11, 6, 30, 0, 0, time.UTC)
		}),
	)
	runner.RunOnce(context.Background())

	// segpay's fetch failed but ccbill still reconciled.
	batches := engine.Batches()
	require.Len(t, batches, 1)
	require.Equal(t, "ccbill", batches[0].Processor)
}
