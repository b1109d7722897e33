package approval_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/core/events"
	"fanzcore/core/types"
	"fanzcore/native/approval"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) eventTypes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.EventType()
	}
	return out
}

func newQueue(at *time.Time) (*approval.Queue, *captureEmitter) {
	emitter := &captureEmitter{}
	queue := approval.NewQueue(
		approval.WithEmitter(emitter),
		approval.WithClock(func() time.Time { return *at }),
	)
	return queue, emitter
}

func TestEnqueueAndDecide(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, emitter := newQueue(&at)

	entry, err := queue.Enqueue(approval.EnqueueRequest{
		EntityRef: "refund:R1", Type: "refund", Priority: 5, SLAMinutes: 60,
	})
	require.NoError(t, err)
	require.Equal(t, types.ApprovalPending, entry.State)
	require.Equal(t, at.UTC().Add(time.Hour), entry.SLAAt)

	decided, err := queue.Decide(entry.ID, "reviewer-1", "verified with fan", true)
	require.NoError(t, err)
	require.Equal(t, types.ApprovalApproved, decided.State)
	require.Equal(t, "reviewer-1", decided.DecidedBy)
	require.Len(t, decided.History, 2)

	require.Equal(t, []string{events.TypeApprovalCreated, events.TypeApprovalDecided}, emitter.eventTypes())
}

func TestDepth_CountsUndecided(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, _ := newQueue(&at)
	require.Equal(t, 0, queue.Depth())

	first, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "refund:R1", Type: "refund"})
	require.NoError(t, err)
	_, err = queue.Enqueue(approval.EnqueueRequest{EntityRef: "refund:R2", Type: "refund"})
	require.NoError(t, err)
	require.Equal(t, 2, queue.Depth())

	_, err = queue.Decide(first.ID, "reviewer-1", "", true)
	require.NoError(t, err)
	require.Equal(t, 1, queue.Depth())
}

func TestDecide_SingleDecision(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, _ := newQueue(&at)
	entry, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "refund:R1", Type: "refund"})
	require.NoError(t, err)

	_, err = queue.Decide(entry.ID, "a", "", true)
	require.NoError(t, err)
	_, err = queue.Decide(entry.ID, "b", "", false)
	require.ErrorIs(t, err, approval.ErrAlreadyDecided)

	got, err := queue.Get(entry.ID)
	require.NoError(t, err)
	require.Equal(t, types.ApprovalApproved, got.State, "first decision sticks")
}

func TestDecide_ConcurrentDecidersOneWins(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, _ := newQueue(&at)
	entry, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "payout:P1", Type: "payout"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = queue.Decide(entry.ID, "r", "", i%2 == 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			require.ErrorIs(t, err, approval.ErrAlreadyDecided)
		}
	}
	require.Equal(t, 1, wins)
}

func TestSweep_EscalatesOverdue(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, emitter := newQueue(&at)

	overdue, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "refund:R1", Type: "refund", SLAMinutes: 30})
	require.NoError(t, err)
	_, err = queue.Enqueue(approval.EnqueueRequest{EntityRef: "refund:R2", Type: "refund", SLAMinutes: 240})
	require.NoError(t, err)

	at = at.Add(31 * time.Minute)
	escalated := queue.Sweep()
	require.Len(t, escalated, 1)
	require.Equal(t, overdue.ID, escalated[0].ID)
	require.Equal(t, types.ApprovalEscalated, escalated[0].State)

	require.Empty(t, queue.Sweep(), "already escalated entries are not escalated twice")
	require.Contains(t, emitter.eventTypes(), events.TypeApprovalEscalated)
}

func TestPending_Ordering(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, _ := newQueue(&at)

	low, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "a", Type: "refund", Priority: 1, SLAMinutes: 10})
	require.NoError(t, err)
	high, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "b", Type: "refund", Priority: 9, SLAMinutes: 240})
	require.NoError(t, err)

	at = at.Add(11 * time.Minute)
	queue.Sweep()

	pending := queue.Pending()
	require.Len(t, pending, 2)
	require.Equal(t, low.ID, pending[0].ID, "escalated entries outrank higher priority pending ones")
	require.Equal(t, high.ID, pending[1].ID)
}

func TestAssign(t *testing.T) {
	at := time.Unix(1700000000, 0)
	queue, _ := newQueue(&at)
	entry, err := queue.Enqueue(approval.EnqueueRequest{EntityRef: "a", Type: "payout"})
	require.NoError(t, err)

	require.NoError(t, queue.Assign(entry.ID, "reviewer-2"))
	got, err := queue.Get(entry.ID)
	require.NoError(t, err)
	require.Equal(t, "reviewer-2", got.Assignee)

	require.ErrorIs(t, queue.Assign("missing", "x"), approval.ErrNotFound)
}
