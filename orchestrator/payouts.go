package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/events"
	"fanzcore/core/types"
	"fanzcore/native/idempotency"
	"fanzcore/native/ledger"
	"fanzcore/processor"
)

var (
	// ErrInsufficientBalance reports a payout beyond the creator's
	// available ledger balance.
	ErrInsufficientBalance = errors.New("orchestrator: insufficient balance")
	// ErrBelowPayoutMinimum reports a payout under the method floor.
	ErrBelowPayoutMinimum = errors.New("orchestrator: below payout minimum")
	// ErrCreatorHeld reports a payout for a creator under an active hold.
	ErrCreatorHeld = errors.New("orchestrator: creator on hold")
	// ErrBatchMismatch reports a batch mixing rails, currencies or
	// non-approved payouts.
	ErrBatchMismatch = errors.New("orchestrator: batch members do not agree")
)

// PayoutRequest asks to move settled creator funds to a payout rail.
type PayoutRequest struct {
	CreatorID   string
	Method      string
	Amount      types.Amount
	Destination string
	Processor   string
	MID         string
	// Defer stops the machine at approved so the payout can join a batch
	// instead of being sent immediately.
	Defer bool
}

// RequestPayout approves and sends a payout. Requests for the same
// creator are serialized so the balance check and the ledger debit are
// atomic with respect to each other.
func (o *Orchestrator) RequestPayout(ctx context.Context, req PayoutRequest) (types.Payout, error) {
	if strings.TrimSpace(req.CreatorID) == "" || strings.TrimSpace(req.Destination) == "" {
		return types.Payout{}, fanzerrors.New(fanzerrors.CodeInvalidRequest, "creator and destination required")
	}
	if strings.TrimSpace(req.Processor) == "" || strings.TrimSpace(req.MID) == "" {
		return types.Payout{}, fanzerrors.New(fanzerrors.CodeInvalidRequest, "payout route required")
	}
	if !req.Amount.Positive() {
		return types.Payout{}, fanzerrors.New(fanzerrors.CodeInvalidRequest, "amount must be positive")
	}
	method := strings.ToLower(strings.TrimSpace(req.Method))
	if min, ok := o.payoutMins[method]; ok && req.Amount.Units < min {
		return types.Payout{}, fmt.Errorf("%w: %s minimum %d", ErrBelowPayoutMinimum, method, min)
	}

	unlock := o.creatorLocks.lock(req.CreatorID)
	defer unlock()

	if reason, held := o.creatorHold(req.CreatorID); held {
		return types.Payout{}, fmt.Errorf("%w: %s", ErrCreatorHeld, reason)
	}
	fee := o.fees.PayoutFee(req.Amount, method)
	available, err := o.ledger.CreditBalance(ctx, types.CreatorPayableAccount(req.CreatorID), nil)
	if err != nil {
		return types.Payout{}, err
	}
	required := req.Amount.Units + fee.Units
	if available.Units < required {
		return types.Payout{}, fmt.Errorf("%w: need %d, have %d", ErrInsufficientBalance, required, available.Units)
	}

	now := o.now().UTC()
	payout := types.Payout{
		ID:             uuid.NewString(),
		CreatorID:      req.CreatorID,
		Method:         method,
		Amount:         req.Amount,
		Fees:           fee,
		Net:            req.Amount,
		TaxWithholding: types.NewAmount(0, req.Amount.Currency),
		Status:         types.PayoutPending,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := o.store.InsertPayout(ctx, payout); err != nil {
		return types.Payout{}, err
	}

	// The debit lands at approval time, while the creator lock is held,
	// so a concurrent request sees the reduced balance.
	entries := make([]ledger.Entry, 0, 3)
	add := func(account string, direction types.EntryDirection, amount types.Amount) {
		if amount.Units > 0 {
			entries = append(entries, ledger.Entry{
				Account:        account,
				Direction:      direction,
				Amount:         amount,
				TransactionRef: payout.ID,
			})
		}
	}
	add(types.CreatorPayableAccount(req.CreatorID), types.Debit, types.NewAmount(required, req.Amount.Currency))
	add(types.AccountPayoutClearing, types.Credit, req.Amount)
	add(types.AccountPlatformFeeRevenue, types.Credit, fee)
	if err := o.ledger.Post(ctx, "payout:"+payout.ID, entries); err != nil {
		return types.Payout{}, err
	}

	payout, err = o.transitionPayout(ctx, payout.ID, types.PayoutApproved, nil)
	if err != nil {
		return types.Payout{}, err
	}
	if req.Defer {
		return payout, nil
	}
	return o.sendPayout(ctx, payout, req.Processor, req.MID, req.Destination)
}

// sendPayout issues the rail transfer for an approved or batched payout.
func (o *Orchestrator) sendPayout(ctx context.Context, payout types.Payout, proc, mid, destination string) (types.Payout, error) {
	key := "payout:" + payout.ID + ":1"
	reservation, err := o.idem.Reserve(ctx, idempotency.ScopeOutboundCall, key, outboundTTL)
	if err != nil {
		return types.Payout{}, err
	}
	var result processor.Result
	var callErr error
	if reservation.State == idempotency.Committed {
		callErr = json.Unmarshal(reservation.Envelope, &result)
	} else {
		result, callErr = o.processors.SendPayout(ctx, proc, processor.PayoutRequest{
			PayoutID:       payout.ID,
			CreatorID:      payout.CreatorID,
			MID:            mid,
			Amount:         payout.Net,
			Destination:    destination,
			IdempotencyKey: key,
		})
		if callErr == nil {
			if envelope, merr := json.Marshal(result); merr == nil {
				_ = o.idem.Commit(ctx, idempotency.ScopeOutboundCall, key, envelope)
			}
		} else {
			_ = o.idem.Release(ctx, idempotency.ScopeOutboundCall, key)
		}
	}
	if callErr != nil {
		failed, ferr := o.failPayout(ctx, payout.ID, fanzerrors.Classify(callErr))
		if ferr != nil {
			return types.Payout{}, ferr
		}
		return failed, callErr
	}
	return o.transitionPayout(ctx, payout.ID, types.PayoutSent, func(p *types.Payout) {
		p.ProcessorRef = result.ProcessorTxID
	})
}

// failPayout marks the payout failed and reverses its ledger debit.
func (o *Orchestrator) failPayout(ctx context.Context, payoutID string, code fanzerrors.Code) (types.Payout, error) {
	payout, err := o.store.GetPayout(ctx, payoutID)
	if err != nil {
		return types.Payout{}, err
	}
	if err := o.reversePayoutLedger(ctx, payout); err != nil {
		return types.Payout{}, err
	}
	return o.transitionPayout(ctx, payoutID, types.PayoutFailed, func(p *types.Payout) {
		p.FailureReason = string(code)
	})
}

func (o *Orchestrator) reversePayoutLedger(ctx context.Context, payout types.Payout) error {
	required := payout.Amount.Units + payout.Fees.Units
	entries := make([]ledger.Entry, 0, 3)
	add := func(account string, direction types.EntryDirection, amount types.Amount) {
		if amount.Units > 0 {
			entries = append(entries, ledger.Entry{
				Account:        account,
				Direction:      direction,
				Amount:         amount,
				TransactionRef: payout.ID,
			})
		}
	}
	add(types.AccountPayoutClearing, types.Debit, payout.Amount)
	add(types.AccountPlatformFeeRevenue, types.Debit, payout.Fees)
	add(types.CreatorPayableAccount(payout.CreatorID), types.Credit, types.NewAmount(required, payout.Amount.Currency))
	return o.ledger.Post(ctx, "payout:"+payout.ID+":reversal", entries)
}

// CancelPayout cancels a pending or approved payout, reversing the
// ledger debit when one landed.
func (o *Orchestrator) CancelPayout(ctx context.Context, payoutID, reason string) (types.Payout, error) {
	payout, err := o.store.GetPayout(ctx, payoutID)
	if err != nil {
		return types.Payout{}, err
	}
	unlock := o.creatorLocks.lock(payout.CreatorID)
	defer unlock()

	payout, err = o.store.GetPayout(ctx, payoutID)
	if err != nil {
		return types.Payout{}, err
	}
	if !types.CanPayoutTransition(payout.Status, types.PayoutCancelled) {
		return types.Payout{}, fmt.Errorf("%w: %s to %s", types.ErrInvalidTransition, payout.Status, types.PayoutCancelled)
	}
	if payout.Status == types.PayoutApproved {
		if err := o.reversePayoutLedger(ctx, payout); err != nil {
			return types.Payout{}, err
		}
	}
	return o.transitionPayout(ctx, payoutID, types.PayoutCancelled, func(p *types.Payout) {
		p.FailureReason = strings.TrimSpace(reason)
	})
}

// BatchPayouts groups deferred approved payouts bound for one rail and
// currency into a batch. The batch net must equal the sum of member
// nets.
func (o *Orchestrator) BatchPayouts(ctx context.Context, rail, currency string, payoutIDs []string) (types.PayoutBatch, error) {
	if len(payoutIDs) == 0 {
		return types.PayoutBatch{}, fanzerrors.New(fanzerrors.CodeInvalidRequest, "empty batch")
	}
	rail = strings.ToLower(strings.TrimSpace(rail))
	currency = types.NormalizeCurrency(currency)

	var net int64
	members := make([]types.Payout, 0, len(payoutIDs))
	for _, id := range payoutIDs {
		payout, err := o.store.GetPayout(ctx, id)
		if err != nil {
			return types.PayoutBatch{}, err
		}
		if payout.Status != types.PayoutApproved || payout.Method != rail ||
			types.NormalizeCurrency(payout.Net.Currency) != currency {
			return types.PayoutBatch{}, fmt.Errorf("%w: payout %s", ErrBatchMismatch, id)
		}
		net += payout.Net.Units
		members = append(members, payout)
	}

	now := o.now().UTC()
	batch := types.PayoutBatch{
		ID:        uuid.NewString(),
		Rail:      rail,
		Currency:  currency,
		Net:       types.NewAmount(net, currency),
		PayoutIDs: append([]string(nil), payoutIDs...),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := o.store.InsertPayoutBatch(ctx, batch); err != nil {
		return types.PayoutBatch{}, err
	}
	for _, member := range members {
		if _, err := o.transitionPayout(ctx, member.ID, types.PayoutBatched, func(p *types.Payout) {
			p.BatchID = batch.ID
		}); err != nil {
			return types.PayoutBatch{}, err
		}
	}
	return batch, nil
}

// SendBatch issues the rail transfer for every member of a batch.
func (o *Orchestrator) SendBatch(ctx context.Context, batchID, proc, mid string, destinations map[string]string) error {
	batch, err := o.store.GetPayoutBatch(ctx, batchID)
	if err != nil {
		return err
	}
	for _, id := range batch.PayoutIDs {
		payout, perr := o.store.GetPayout(ctx, id)
		if perr != nil {
			return perr
		}
		if payout.Status != types.PayoutBatched {
			continue
		}
		if _, serr := o.sendPayout(ctx, payout, proc, mid, destinations[payout.CreatorID]); serr != nil {
			return serr
		}
	}
	return nil
}

// HoldCreator blocks new payouts for a creator until released.
func (o *Orchestrator) HoldCreator(creatorID, reason string) {
	o.holdMu.Lock()
	o.holds[creatorID] = reason
	o.holdMu.Unlock()
}

// ReleaseCreator lifts a payout hold.
func (o *Orchestrator) ReleaseCreator(creatorID string) {
	o.holdMu.Lock()
	delete(o.holds, creatorID)
	o.holdMu.Unlock()
}

func (o *Orchestrator) creatorHold(creatorID string) (string, bool) {
	o.holdMu.Lock()
	defer o.holdMu.Unlock()
	reason, ok := o.holds[creatorID]
	return reason, ok
}

// transitionPayout applies a guarded payout status change with bounded
// optimistic retry and emits the state event.
func (o *Orchestrator) transitionPayout(ctx context.Context, payoutID string, to types.PayoutStatus, mutate func(*types.Payout)) (types.Payout, error) {
	for attempt := 0; attempt < 3; attempt++ {
		payout, err := o.store.GetPayout(ctx, payoutID)
		if err != nil {
			return types.Payout{}, err
		}
		if !types.CanPayoutTransition(payout.Status, to) {
			return types.Payout{}, fmt.Errorf("%w: %s to %s", types.ErrInvalidTransition, payout.Status, to)
		}
		payout.Status = to
		if mutate != nil {
			mutate(&payout)
		}
		payout.UpdatedAt = o.now().UTC()
		updated, err := o.store.UpdatePayout(ctx, payout)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		if err != nil {
			return types.Payout{}, err
		}
		o.emitter.Emit(events.PayoutStateChanged{
			PayoutID:  updated.ID,
			CreatorID: updated.CreatorID,
			Amount:    updated.Amount,
			Net:       updated.Net,
			Status:    updated.Status,
			BatchID:   updated.BatchID,
			Reason:    updated.FailureReason,
		})
		return updated, nil
	}
	return types.Payout{}, ErrVersionConflict
}
