package idempotency_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/native/idempotency"
)

func TestReserve_FreshThenInFlightThenCommitted(t *testing.T) {
	store := idempotency.NewMemoryStore()
	base := time.Unix(1700000000, 0)
	store.SetNowFunc(func() time.Time { return base })
	ctx := context.Background()

	res, err := store.Reserve(ctx, idempotency.ScopeInboundRequest, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)

	res, err = store.Reserve(ctx, idempotency.ScopeInboundRequest, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.InFlight, res.State)

	require.NoError(t, store.Commit(ctx, idempotency.ScopeInboundRequest, "k1", []byte(`{"ok":true}`)))

	res, err = store.Reserve(ctx, idempotency.ScopeInboundRequest, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Committed, res.State)
	require.JSONEq(t, `{"ok":true}`, string(res.Envelope))
}

func TestReserve_ScopesAreIndependent(t *testing.T) {
	store := idempotency.NewMemoryStore()
	ctx := context.Background()

	res, err := store.Reserve(ctx, idempotency.ScopeInboundRequest, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)

	res, err = store.Reserve(ctx, idempotency.ScopeProcessorEvent, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)
}

func TestReserve_ExpiredReservationReclaimed(t *testing.T) {
	store := idempotency.NewMemoryStore()
	base := time.Unix(1700000000, 0)
	now := base
	store.SetNowFunc(func() time.Time { return now })
	ctx := context.Background()

	res, err := store.Reserve(ctx, idempotency.ScopeOutboundCall, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)

	now = base.Add(2 * time.Minute)
	res, err = store.Reserve(ctx, idempotency.ScopeOutboundCall, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State, "abandoned reservation should be reclaimed")
}

func TestCommit_UnknownKey(t *testing.T) {
	store := idempotency.NewMemoryStore()
	err := store.Commit(context.Background(), idempotency.ScopeInboundRequest, "missing", nil)
	require.ErrorIs(t, err, idempotency.ErrUnknownKey)
}

func TestRelease_AllowsReclaim(t *testing.T) {
	store := idempotency.NewMemoryStore()
	ctx := context.Background()

	res, err := store.Reserve(ctx, idempotency.ScopeInboundRequest, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)

	require.NoError(t, store.Release(ctx, idempotency.ScopeInboundRequest, "k1"))

	res, err = store.Reserve(ctx, idempotency.ScopeInboundRequest, "k1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store, err := idempotency.NewSQLiteStore(t.TempDir() + "/idem.db")
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	res, err := store.Reserve(ctx, idempotency.ScopeProcessorEvent, "evt-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Fresh, res.State)

	res, err = store.Reserve(ctx, idempotency.ScopeProcessorEvent, "evt-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.InFlight, res.State)

	require.NoError(t, store.Commit(ctx, idempotency.ScopeProcessorEvent, "evt-1", []byte("done")))

	res, err = store.Reserve(ctx, idempotency.ScopeProcessorEvent, "evt-1", time.Minute)
	require.NoError(t, err)
	require.Equal(t, idempotency.Committed, res.State)
	require.Equal(t, []byte("done"), res.Envelope)
}
