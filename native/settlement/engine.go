// Package settlement reconciles processor settlement files against local
// captures, seals the batch, and materialises the daily report. A sealed
// settlement never changes; discrepancies are reported, not silently
// fixed.
package settlement

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
	"fanzcore/native/ledger"
)

var (
	// ErrSealed reports a mutation attempt on a sealed settlement.
	ErrSealed = errors.New("settlement: batch sealed")
	// ErrNotFound reports an unknown settlement id.
	ErrNotFound = errors.New("settlement: not found")
)

// LocalCapture is the orchestrator's view of one captured transaction,
// matched against settlement lines by processor reference.
type LocalCapture struct {
	TransactionID string
	ProcessorRef  string
	Gross         types.Amount
	ExpectedFee   types.Amount
}

// CaptureSource lists local captures for a processor window.
type CaptureSource interface {
	CapturesInWindow(ctx context.Context, processor string, start, end time.Time) ([]LocalCapture, error)
}

// Marker flips matched transactions to settled.
type Marker interface {
	MarkSettled(ctx context.Context, transactionID string) error
}

// Poster posts fee true-up entries. Satisfied by *ledger.Ledger.
type Poster interface {
	Post(ctx context.Context, pairID string, entries []ledger.Entry) error
}

// Engine runs reconciliation per processor batch.
type Engine struct {
	captures     CaptureSource
	marker       Marker
	poster       Poster
	emitter      events.Emitter
	now          func() time.Time
	feeTolerance int64

	mu      sync.Mutex
	batches map[string]*types.Settlement
}

// Option customises the engine instance.
type Option func(*Engine)

// WithMarker wires the transaction settle callback.
func WithMarker(m Marker) Option {
	return func(e *Engine) { e.marker = m }
}

// WithPoster wires the ledger for fee true-up postings.
func WithPoster(p Poster) Option {
	return func(e *Engine) { e.poster = p }
}

// WithEmitter wires the audit-trail emitter.
func WithEmitter(emitter events.Emitter) Option {
	return func(e *Engine) {
		if emitter != nil {
			e.emitter = emitter
		}
	}
}

// WithFeeTolerance sets the per-line fee delta, in minor units, below
// which no true-up is posted. Settlement files routinely round fees by
// a unit.
func WithFeeTolerance(units int64) Option {
	return func(e *Engine) {
		if units > 0 {
			e.feeTolerance = units
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

// NewEngine constructs a reconciliation engine.
func NewEngine(captures CaptureSource, opts ...Option) (*Engine, error) {
	if captures == nil {
		return nil, fmt.Errorf("settlement: capture source required")
	}
	e := &Engine{
		captures: captures,
		emitter:  events.NoopEmitter{},
		now:      time.Now,
		batches:  make(map[string]*types.Settlement),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Reconcile matches a processor's settlement lines against local captures
// for the window, marks matched transactions settled, posts processor fee
// true-ups, and records the batch.
func (e *Engine) Reconcile(ctx context.Context, processor string, start, end time.Time, lines []types.SettlementLine) (types.Settlement, error) {
	processor = strings.ToLower(strings.TrimSpace(processor))
	if processor == "" {
		return types.Settlement{}, fmt.Errorf("settlement: processor required")
	}
	locals, err := e.captures.CapturesInWindow(ctx, processor, start, end)
	if err != nil {
		return types.Settlement{}, fmt.Errorf("settlement: load captures: %w", err)
	}

	localByRef := make(map[string]LocalCapture, len(locals))
	for _, capture := range locals {
		localByRef[capture.ProcessorRef] = capture
	}

	currency := ""
	if len(lines) > 0 {
		currency = types.NormalizeCurrency(lines[0].Gross.Currency)
	} else if len(locals) > 0 {
		currency = types.NormalizeCurrency(locals[0].Gross.Currency)
	}

	var gross, fees, refunds, chargebacks int64
	report := types.DiscrepancyReport{}
	matchedRefs := make(map[string]bool, len(lines))
	matched := 0

	for _, line := range lines {
		fees += line.Fee.Units
		switch strings.ToLower(line.Kind) {
		case "refund":
			refunds += -line.Gross.Units
			continue
		case "chargeback":
			chargebacks += -line.Gross.Units
			continue
		}
		gross += line.Gross.Units

		local, ok := localByRef[line.ProcessorRef]
		if !ok {
			report.UnexpectedRefs = append(report.UnexpectedRefs, line.ProcessorRef)
			continue
		}
		matchedRefs[line.ProcessorRef] = true
		if local.Gross.Units != line.Gross.Units {
			report.AmountMismatches = append(report.AmountMismatches, types.AmountMismatch{
				TransactionID: local.TransactionID,
				Local:         local.Gross,
				Remote:        line.Gross,
			})
			continue
		}
		matched++
		if e.marker != nil {
			if err := e.marker.MarkSettled(ctx, local.TransactionID); err != nil {
				return types.Settlement{}, fmt.Errorf("settlement: mark %s settled: %w", local.TransactionID, err)
			}
		}
		if e.poster != nil && abs64(line.Fee.Units-local.ExpectedFee.Units) > e.feeTolerance {
			if err := e.postFeeTrueUp(ctx, local, line, currency); err != nil {
				return types.Settlement{}, err
			}
		}
	}
	for _, capture := range locals {
		if !matchedRefs[capture.ProcessorRef] {
			if mismatched(report, capture.TransactionID) {
				continue
			}
			report.MissingTxIDs = append(report.MissingTxIDs, capture.TransactionID)
		}
	}
	sort.Strings(report.MissingTxIDs)
	sort.Strings(report.UnexpectedRefs)

	now := e.now().UTC()
	batch := &types.Settlement{
		ID:          uuid.NewString(),
		Processor:   processor,
		WindowStart: start.UTC(),
		WindowEnd:   end.UTC(),
		Gross:       types.NewAmount(gross, currency),
		Fees:        types.NewAmount(fees, currency),
		Chargebacks: types.NewAmount(chargebacks, currency),
		Refunds:     types.NewAmount(refunds, currency),
		Net:         types.NewAmount(gross-fees-refunds-chargebacks, currency),
		Status:      types.SettlementReconciled,
		Report:      report,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	e.mu.Lock()
	e.batches[batch.ID] = batch
	e.mu.Unlock()

	e.emitter.Emit(events.SettlementReconciled{
		SettlementID: batch.ID,
		Processor:    processor,
		Gross:        batch.Gross,
		Fees:         batch.Fees,
		Net:          batch.Net,
		Matched:      matched,
		Clean:        report.Empty(),
	})
	if !report.Empty() {
		e.emitter.Emit(events.SettlementDiscrepancy{
			SettlementID: batch.ID,
			Processor:    processor,
			Report:       report,
		})
	}
	return *batch, nil
}

// postFeeTrueUp adjusts the processor fee expense when the settlement
// file reports a different fee than was booked at capture time.
func (e *Engine) postFeeTrueUp(ctx context.Context, local LocalCapture, line types.SettlementLine, currency string) error {
	delta := line.Fee.Units - local.ExpectedFee.Units
	pairID := "fee-trueup:" + local.TransactionID
	var entries []ledger.Entry
	if delta > 0 {
		entries = []ledger.Entry{
			{Account: types.AccountProcessorFeeExpense, Direction: types.Debit, Amount: types.NewAmount(delta, currency), TransactionRef: local.TransactionID},
			{Account: types.AccountProcessorPayable, Direction: types.Credit, Amount: types.NewAmount(delta, currency), TransactionRef: local.TransactionID},
		}
	} else {
		entries = []ledger.Entry{
			{Account: types.AccountProcessorPayable, Direction: types.Debit, Amount: types.NewAmount(-delta, currency), TransactionRef: local.TransactionID},
			{Account: types.AccountProcessorFeeExpense, Direction: types.Credit, Amount: types.NewAmount(-delta, currency), TransactionRef: local.TransactionID},
		}
	}
	if err := e.poster.Post(ctx, pairID, entries); err != nil {
		return fmt.Errorf("settlement: fee true-up %s: %w", local.TransactionID, err)
	}
	return nil
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func mismatched(report types.DiscrepancyReport, txID string) bool {
	for _, mm := range report.AmountMismatches {
		if mm.TransactionID == txID {
			return true
		}
	}
	return false
}

// Get returns one batch.
func (e *Engine) Get(id string) (types.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, ok := e.batches[id]
	if !ok {
		return types.Settlement{}, ErrNotFound
	}
	return *batch, nil
}

// Seal freezes a reconciled batch. Sealed batches reject further seals.
func (e *Engine) Seal(id string) (types.Settlement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	batch, ok := e.batches[id]
	if !ok {
		return types.Settlement{}, ErrNotFound
	}
	if batch.Status == types.SettlementSealed {
		return types.Settlement{}, ErrSealed
	}
	batch.Status = types.SettlementSealed
	batch.UpdatedAt = e.now().UTC()
	return *batch, nil
}

// Batches lists all recorded batches, newest first.
func (e *Engine) Batches() []types.Settlement {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]types.Settlement, 0, len(e.batches))
	for _, batch := range e.batches {
		out = append(out, *batch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}
