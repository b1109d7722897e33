// Package approval implements the manual review queue. Entries carry an
// SLA deadline; a background sweeper escalates overdue entries so they
// surface at the top of the reviewer's list. Exactly one decision is
// recorded per entry, concurrent deciders lose with ErrAlreadyDecided.
package approval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fanzcore/core/events"
	"fanzcore/core/types"
)

var (
	// ErrNotFound reports an unknown approval id.
	ErrNotFound = errors.New("approval: not found")
	// ErrAlreadyDecided reports a second decision on the same entry.
	ErrAlreadyDecided = errors.New("approval: already decided")
)

// DefaultSLAMinutes applies when an enqueue request carries no SLA.
const DefaultSLAMinutes = 120

// sweepInterval is how often the sweeper scans for overdue entries.
const sweepInterval = 30 * time.Second

// Queue is the in-memory review queue. Safe for concurrent use.
type Queue struct {
	emitter events.Emitter
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]*types.Approval

	sweepOnce sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// Option customises the queue instance.
type Option func(*Queue)

// WithEmitter wires the audit-trail emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(q *Queue) {
		if emitter != nil {
			q.emitter = emitter
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(q *Queue) {
		if clock != nil {
			q.now = clock
		}
	}
}

// NewQueue constructs an empty review queue.
func NewQueue(opts ...Option) *Queue {
	q := &Queue{
		emitter: events.NoopEmitter{},
		now:     time.Now,
		entries: make(map[string]*types.Approval),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// EnqueueRequest describes the item needing review.
type EnqueueRequest struct {
	EntityRef  string
	Type       string
	Priority   int
	SLAMinutes int
}

// Enqueue adds a pending entry and returns it.
func (q *Queue) Enqueue(req EnqueueRequest) (types.Approval, error) {
	if strings.TrimSpace(req.EntityRef) == "" {
		return types.Approval{}, fmt.Errorf("approval: entity ref required")
	}
	sla := req.SLAMinutes
	if sla <= 0 {
		sla = DefaultSLAMinutes
	}
	now := q.now().UTC()
	entry := &types.Approval{
		ID:         uuid.NewString(),
		EntityRef:  req.EntityRef,
		Type:       req.Type,
		State:      types.ApprovalPending,
		Priority:   req.Priority,
		SLAMinutes: sla,
		SLAAt:      now.Add(time.Duration(sla) * time.Minute),
		History: []types.ApprovalHistoryEntry{
			{Actor: "system", Action: "enqueued", At: now},
		},
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	q.mu.Lock()
	q.entries[entry.ID] = entry
	q.mu.Unlock()

	q.emitter.Emit(events.ApprovalEvent{
		ApprovalID: entry.ID,
		EntityRef:  entry.EntityRef,
		State:      entry.State,
	})
	return *entry, nil
}

// Get returns a copy of one entry.
func (q *Queue) Get(id string) (types.Approval, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[id]
	if !ok {
		return types.Approval{}, ErrNotFound
	}
	return cloneEntry(entry), nil
}

// Pending lists undecided entries: escalated first, then by priority
// descending, then oldest SLA deadline first.
func (q *Queue) Pending() []types.Approval {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]types.Approval, 0, len(q.entries))
	for _, entry := range q.entries {
		if !entry.State.Decided() {
			out = append(out, cloneEntry(entry))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ei, ej := out[i], out[j]
		if (ei.State == types.ApprovalEscalated) != (ej.State == types.ApprovalEscalated) {
			return ei.State == types.ApprovalEscalated
		}
		if ei.Priority != ej.Priority {
			return ei.Priority > ej.Priority
		}
		return ei.SLAAt.Before(ej.SLAAt)
	})
	return out
}

// Depth counts undecided entries. Feeds the orchestrator's overload
// probe.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	depth := 0
	for _, entry := range q.entries {
		if !entry.State.Decided() {
			depth++
		}
	}
	return depth
}

// Assign claims an entry for a reviewer without deciding it.
func (q *Queue) Assign(id, reviewer string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	entry, ok := q.entries[id]
	if !ok {
		return ErrNotFound
	}
	if entry.State.Decided() {
		return ErrAlreadyDecided
	}
	now := q.now().UTC()
	entry.Assignee = reviewer
	entry.History = append(entry.History, types.ApprovalHistoryEntry{
		Actor: reviewer, Action: "assigned", At: now,
	})
	entry.Version++
	entry.UpdatedAt = now
	return nil
}

// Decide records the single decision on an entry. Approve is true for
// approval, false for denial.
func (q *Queue) Decide(id, reviewer, reason string, approve bool) (types.Approval, error) {
	q.mu.Lock()
	entry, ok := q.entries[id]
	if !ok {
		q.mu.Unlock()
		return types.Approval{}, ErrNotFound
	}
	if entry.State.Decided() {
		q.mu.Unlock()
		return types.Approval{}, ErrAlreadyDecided
	}
	now := q.now().UTC()
	if approve {
		entry.State = types.ApprovalApproved
		entry.Decision = "approved"
	} else {
		entry.State = types.ApprovalDenied
		entry.Decision = "denied"
	}
	entry.DecisionReason = reason
	entry.DecidedBy = reviewer
	entry.History = append(entry.History, types.ApprovalHistoryEntry{
		Actor: reviewer, Action: entry.Decision, Note: reason, At: now,
	})
	entry.Version++
	entry.UpdatedAt = now
	snapshot := cloneEntry(entry)
	q.mu.Unlock()

	q.emitter.Emit(events.ApprovalEvent{
		ApprovalID: snapshot.ID,
		EntityRef:  snapshot.EntityRef,
		State:      snapshot.State,
	})
	return snapshot, nil
}

// Sweep escalates pending entries past their SLA deadline. It returns
// the entries escalated by this pass.
func (q *Queue) Sweep() []types.Approval {
	now := q.now().UTC()
	var escalated []types.Approval
	q.mu.Lock()
	for _, entry := range q.entries {
		if entry.State != types.ApprovalPending || now.Before(entry.SLAAt) {
			continue
		}
		entry.State = types.ApprovalEscalated
		entry.History = append(entry.History, types.ApprovalHistoryEntry{
			Actor: "system", Action: "escalated", Note: "sla exceeded", At: now,
		})
		entry.Version++
		entry.UpdatedAt = now
		escalated = append(escalated, cloneEntry(entry))
	}
	q.mu.Unlock()

	for _, entry := range escalated {
		q.emitter.Emit(events.ApprovalEvent{
			ApprovalID: entry.ID,
			EntityRef:  entry.EntityRef,
			State:      entry.State,
		})
	}
	return escalated
}

// Run starts the SLA sweeper until the context is cancelled.
func (q *Queue) Run(ctx context.Context) {
	q.sweepOnce.Do(func() {
		go func() {
			defer close(q.done)
			ticker := time.NewTicker(sweepInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-q.stop:
					return
				case <-ticker.C:
					q.Sweep()
				}
			}
		}()
	})
}

// Close stops the sweeper.
func (q *Queue) Close() {
	select {
	case <-q.stop:
	default:
		close(q.stop)
	}
}

func cloneEntry(entry *types.Approval) types.Approval {
	out := *entry
	out.History = append([]types.ApprovalHistoryEntry(nil), entry.History...)
	return out
}
