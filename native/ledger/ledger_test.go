package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/core/types"
	"fanzcore/native/ledger"
)

func fixedClock() func() time.Time {
	return func() time.Time { return time.Unix(1700000000, 0) }
}

func captureSet(txID string, amount, platformFee, processorFee int64) []ledger.Entry {
	creator := amount - platformFee - processorFee
	return []ledger.Entry{
		{Account: types.AccountFanReceivable, Direction: types.Debit, Amount: types.NewAmount(amount, "USD"), TransactionRef: txID},
		{Account: types.CreatorPayableAccount("C1"), Direction: types.Credit, Amount: types.NewAmount(creator, "USD"), TransactionRef: txID},
		{Account: types.AccountPlatformFeeRevenue, Direction: types.Credit, Amount: types.NewAmount(platformFee, "USD"), TransactionRef: txID},
		{Account: types.AccountProcessorFeeExpense, Direction: types.Credit, Amount: types.NewAmount(processorFee, "USD"), TransactionRef: txID},
	}
}

func TestPost_BalancedSetAppends(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.WithClock(fixedClock()))

	err := l.Post(context.Background(), "tx:t1:capture", captureSet("t1", 1000, 50, 29))
	require.NoError(t, err)
	require.Equal(t, 4, store.Len())

	balance, err := l.CreditBalance(context.Background(), types.CreatorPayableAccount("C1"), nil)
	require.NoError(t, err)
	require.Equal(t, int64(921), balance.Units)
}

func TestPost_RejectsUnbalanced(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(fixedClock()))
	err := l.Post(context.Background(), "tx:t1:capture", []ledger.Entry{
		{Account: "a", Direction: types.Debit, Amount: types.NewAmount(100, "USD")},
		{Account: "b", Direction: types.Credit, Amount: types.NewAmount(99, "USD")},
	})
	require.ErrorIs(t, err, ledger.ErrUnbalanced)
}

func TestPost_RejectsMixedCurrency(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(fixedClock()))
	err := l.Post(context.Background(), "tx:t1:capture", []ledger.Entry{
		{Account: "a", Direction: types.Debit, Amount: types.NewAmount(100, "USD")},
		{Account: "b", Direction: types.Credit, Amount: types.NewAmount(100, "EUR")},
	})
	require.ErrorIs(t, err, ledger.ErrMixedCurrency)
}

func TestPost_IdempotentOnPairID(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.WithClock(fixedClock()))

	set := captureSet("t1", 1000, 50, 29)
	require.NoError(t, l.Post(context.Background(), "tx:t1:capture", set))
	require.NoError(t, l.Post(context.Background(), "tx:t1:capture", set))
	require.Equal(t, 4, store.Len(), "replay must not double-post")
}

func TestPost_ConflictOnDifferentSet(t *testing.T) {
	l := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(fixedClock()))
	require.NoError(t, l.Post(context.Background(), "tx:t1:capture", captureSet("t1", 1000, 50, 29)))

	err := l.Post(context.Background(), "tx:t1:capture", captureSet("t1", 2000, 100, 58))
	require.ErrorIs(t, err, ledger.ErrConflict)
}

func TestReplay_FiltersAndOrders(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.WithClock(fixedClock()))
	require.NoError(t, l.Post(context.Background(), "tx:t1:capture", captureSet("t1", 1000, 50, 29)))
	require.NoError(t, l.Post(context.Background(), "tx:t2:capture", captureSet("t2", 500, 25, 14)))

	var refs []string
	err := l.Replay(context.Background(), ledger.ReplayFilter{TransactionRef: "t2"}, func(e types.LedgerEntry) bool {
		refs = append(refs, e.PairID)
		return true
	})
	require.NoError(t, err)
	require.Len(t, refs, 4)
	for _, ref := range refs {
		require.Equal(t, "tx:t2:capture", ref)
	}
}

func TestFingerprint_OrderIndependent(t *testing.T) {
	set := captureSet("t1", 1000, 50, 29)
	reversed := make([]ledger.Entry, len(set))
	for i, entry := range set {
		reversed[len(set)-1-i] = entry
	}
	require.Equal(t, ledger.Fingerprint(set), ledger.Fingerprint(reversed))
}

func TestRefundCapture_NetZero(t *testing.T) {
	store := ledger.NewMemoryStore()
	l := ledger.New(store, ledger.WithClock(fixedClock()))
	require.NoError(t, l.Post(context.Background(), "tx:t1:capture", captureSet("t1", 1000, 50, 29)))

	// Reverse of the capture, scaled to the full amount.
	reverse := []ledger.Entry{
		{Account: types.AccountFanReceivable, Direction: types.Credit, Amount: types.NewAmount(1000, "USD"), TransactionRef: "t1"},
		{Account: types.CreatorPayableAccount("C1"), Direction: types.Debit, Amount: types.NewAmount(921, "USD"), TransactionRef: "t1"},
		{Account: types.AccountPlatformFeeRevenue, Direction: types.Debit, Amount: types.NewAmount(50, "USD"), TransactionRef: "t1"},
		{Account: types.AccountProcessorFeeExpense, Direction: types.Debit, Amount: types.NewAmount(29, "USD"), TransactionRef: "t1"},
	}
	require.NoError(t, l.Post(context.Background(), "tx:t1:refund:r1", reverse))

	for _, account := range []string{
		types.AccountFanReceivable,
		types.CreatorPayableAccount("C1"),
		types.AccountPlatformFeeRevenue,
		types.AccountProcessorFeeExpense,
	} {
		balance, err := l.Balance(context.Background(), account, nil)
		require.NoError(t, err)
		require.Zero(t, balance.Units, "account %s should net to zero", account)
	}
}
