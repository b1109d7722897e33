package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/events"
	"fanzcore/core/types"
	"fanzcore/native/approval"
	"fanzcore/native/ledger"
	"fanzcore/native/settlement"
	"fanzcore/processor"
)

// disputeResponseWindow is how long the platform has to respond to a
// money-moving dispute.
const disputeResponseWindow = 7 * 24 * time.Hour

// ApplyProcessorEvent applies a verified, deduplicated webhook event to
// the owning state machine. An event that would move a machine backward
// is recorded as a late duplicate and not applied.
func (o *Orchestrator) ApplyProcessorEvent(ctx context.Context, proc string, evt processor.WebhookEvent) error {
	switch evt.Kind {
	case types.EventPayoutSettled, types.EventPayoutFailed:
		return o.applyPayoutEvent(ctx, evt)
	}

	tx, err := o.store.TransactionByProcessorRef(ctx, evt.ProcessorTxID)
	if err != nil {
		return err
	}
	unlock := o.txLocks.lock(tx.ID)
	defer unlock()

	switch evt.Kind {
	case types.EventAuthorized:
		return o.applyTransition(ctx, tx.ID, types.TxAuthorized, evt, func(t *types.Transaction) {
			t.AuthorizedAt = evt.OccurredAt.UTC()
		})
	case types.EventCaptured:
		return o.applyCaptureEvent(ctx, tx.ID, proc, evt)
	case types.EventAttemptDecline:
		o.recordEvent(ctx, tx.ID, types.EventAttemptDecline, proc, 0, evt.EventID, false, evt.RawCode)
		return nil
	case types.EventFailed:
		return o.applyTransition(ctx, tx.ID, types.TxFailed, evt, func(t *types.Transaction) {
			t.FailedAt = evt.OccurredAt.UTC()
		})
	case types.EventRefunded:
		// Refund lifecycle is driven internally; the confirmation is
		// recorded for reconciliation.
		o.recordEvent(ctx, tx.ID, types.EventRefunded, proc, 0, evt.EventID, true, evt.RawCode)
		return nil
	case types.EventSettled:
		return o.MarkSettled(ctx, tx.ID)
	case types.EventDisputed:
		return o.openDispute(ctx, tx.ID, proc, evt)
	case types.EventChargedBack:
		return o.applyChargeback(ctx, tx.ID, proc, evt)
	}
	return fmt.Errorf("%s: unhandled event kind %q", proc, evt.Kind)
}

// applyTransition moves the payment machine forward, or records a late
// duplicate when the event arrives behind the current state.
func (o *Orchestrator) applyTransition(ctx context.Context, txID string, to types.TransactionStatus, evt processor.WebhookEvent, mutate func(*types.Transaction)) error {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if !types.CanTransition(tx.Status, to) {
		o.recordEvent(ctx, txID, types.EventLateDuplicate, "webhook", 0, evt.EventID, false, string(to))
		return nil
	}
	if _, err := o.transition(ctx, txID, to, mutate); err != nil {
		return err
	}
	o.recordEvent(ctx, txID, eventKindFor(to), "webhook", 0, evt.EventID, true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(txID, to, "webhook"))
	return nil
}

func (o *Orchestrator) applyCaptureEvent(ctx context.Context, txID, proc string, evt processor.WebhookEvent) error {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != types.TxAuthorized {
		// Already captured or beyond; the ledger pair id makes a replay
		// harmless, so only the arrival is recorded.
		o.recordEvent(ctx, txID, types.EventLateDuplicate, "webhook", 0, evt.EventID, false, string(types.TxCaptured))
		return nil
	}
	envelope := tx.Response
	if envelope.Reference == "" {
		envelope = types.ProcessorEnvelope{Processor: proc, Reference: evt.ProcessorTxID, Code: evt.RawCode}
	}
	_, err = o.finalizeCapture(ctx, txID, envelope, "webhook")
	return err
}

func (o *Orchestrator) applyPayoutEvent(ctx context.Context, evt processor.WebhookEvent) error {
	payout, err := o.store.PayoutByProcessorRef(ctx, evt.ProcessorTxID)
	if err != nil {
		return err
	}
	unlock := o.creatorLocks.lock(payout.CreatorID)
	defer unlock()

	payout, err = o.store.GetPayout(ctx, payout.ID)
	if err != nil {
		return err
	}
	switch evt.Kind {
	case types.EventPayoutSettled:
		if payout.Status != types.PayoutSent {
			return nil
		}
		_, err = o.transitionPayout(ctx, payout.ID, types.PayoutCompleted, nil)
		return err
	case types.EventPayoutFailed:
		if payout.Status.Terminal() {
			return nil
		}
		_, err = o.failPayout(ctx, payout.ID, fanzerrors.Code(evt.RawCode))
		return err
	}
	return nil
}

// openDispute creates the dispute row and moves the transaction to
// disputed. Retrieval requests are auto-responded with stored evidence;
// chargebacks escalate to a high-priority review.
func (o *Orchestrator) openDispute(ctx context.Context, txID, proc string, evt processor.WebhookEvent) error {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if !types.CanTransition(tx.Status, types.TxDisputed) {
		o.recordEvent(ctx, txID, types.EventLateDuplicate, "webhook", 0, evt.EventID, false, string(types.TxDisputed))
		return nil
	}

	kind := types.DisputeChargeback
	if strings.EqualFold(evt.RawCode, "retrieval") {
		kind = types.DisputeRetrieval
	}
	now := o.now().UTC()
	dispute := types.Dispute{
		ID:            uuid.NewString(),
		TransactionID: txID,
		Kind:          kind,
		Stage:         types.DisputeInitial,
		Amount:        evt.Amount,
		ReasonCode:    evt.RawCode,
		DeadlineAt:    now.Add(disputeResponseWindow),
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if dispute.Amount.IsZero() {
		dispute.Amount = tx.Amount
	}
	if err := o.store.InsertDispute(ctx, dispute); err != nil {
		return err
	}
	if _, err := o.transition(ctx, txID, types.TxDisputed, nil); err != nil {
		return err
	}
	o.recordEvent(ctx, txID, types.EventDisputed, proc, 0, evt.EventID, true, evt.RawCode)

	if kind == types.DisputeRetrieval {
		// Retrievals are information requests: answer from what is already
		// on file and move straight to responded.
		dispute.Stage = types.DisputeResponded
		dispute.Evidence = fmt.Sprintf("tx=%s trust_score=%d processor_ref=%s captured_at=%s",
			tx.ID, tx.TrustScore, tx.Response.Reference, tx.CapturedAt.Format(time.RFC3339))
		updated, uerr := o.store.UpdateDispute(ctx, dispute)
		if uerr != nil {
			return uerr
		}
		o.emitDispute(updated)
		return nil
	}

	if _, err := o.approvals.Enqueue(approval.EnqueueRequest{
		EntityRef: "dispute:" + dispute.ID,
		Type:      "dispute_response",
		Priority:  9,
	}); err != nil {
		return err
	}
	o.emitDispute(dispute)
	return nil
}

// applyChargeback pulls the unrefunded remainder back from the creator
// and closes the dispute.
func (o *Orchestrator) applyChargeback(ctx context.Context, txID, proc string, evt processor.WebhookEvent) error {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if !types.CanTransition(tx.Status, types.TxChargedBack) {
		o.recordEvent(ctx, txID, types.EventLateDuplicate, "webhook", 0, evt.EventID, false, string(types.TxChargedBack))
		return nil
	}

	remaining := tx.RemainingRefundable()
	if remaining.Positive() {
		split := reversalSplit(tx, remaining)
		entries := make([]ledger.Entry, 0, 4)
		add := func(account string, direction types.EntryDirection, amount types.Amount) {
			if amount.Units > 0 {
				entries = append(entries, ledger.Entry{
					Account:        account,
					Direction:      direction,
					Amount:         amount,
					TransactionRef: tx.ID,
				})
			}
		}
		add(types.CreatorPayableAccount(tx.CreatorID), types.Debit, split.Creator)
		add(types.AccountPlatformFeeRevenue, types.Debit, split.Platform)
		add(types.AccountProcessorPayable, types.Debit, split.Processor)
		add(types.AccountFanReceivable, types.Credit, remaining)
		if err := o.ledger.Post(ctx, "chargeback:"+tx.ID, entries); err != nil {
			return err
		}
	}

	if _, err := o.transition(ctx, txID, types.TxChargedBack, func(t *types.Transaction) {
		t.RefundedTotal = types.NewAmount(t.Amount.Units, t.Amount.Currency)
	}); err != nil {
		return err
	}
	o.recordEvent(ctx, txID, types.EventChargedBack, proc, -remaining.Units, evt.EventID, true, evt.RawCode)

	dispute, derr := o.store.DisputeForTransaction(ctx, txID)
	if derr == nil && dispute.Stage != types.DisputeClosed {
		dispute.Stage = types.DisputeClosed
		dispute.UpdatedAt = o.now().UTC()
		if updated, uerr := o.store.UpdateDispute(ctx, dispute); uerr == nil {
			o.emitDispute(updated)
		}
	} else {
		o.emitter.Emit(events.DisputeEvent{
			DisputeID:     dispute.ID,
			TransactionID: txID,
			Kind:          types.DisputeChargeback,
			Stage:         types.DisputeClosed,
			Amount:        remaining,
		})
	}
	return nil
}

// RespondDispute records evidence against an open dispute and moves it
// to responded.
func (o *Orchestrator) RespondDispute(ctx context.Context, disputeID, evidence string) (types.Dispute, error) {
	dispute, err := o.store.GetDispute(ctx, disputeID)
	if err != nil {
		return types.Dispute{}, err
	}
	unlock := o.txLocks.lock(dispute.TransactionID)
	defer unlock()

	dispute, err = o.store.GetDispute(ctx, disputeID)
	if err != nil {
		return types.Dispute{}, err
	}
	if dispute.Stage != types.DisputeInitial && dispute.Stage != types.DisputeResponseDue {
		return types.Dispute{}, fmt.Errorf("%w: stage %s", types.ErrInvalidTransition, dispute.Stage)
	}
	dispute.Stage = types.DisputeResponded
	dispute.Evidence = evidence
	dispute.UpdatedAt = o.now().UTC()
	updated, uerr := o.store.UpdateDispute(ctx, dispute)
	if uerr != nil {
		return types.Dispute{}, uerr
	}
	o.emitDispute(updated)
	return updated, nil
}

func (o *Orchestrator) emitDispute(dispute types.Dispute) {
	o.emitter.Emit(events.DisputeEvent{
		DisputeID:     dispute.ID,
		TransactionID: dispute.TransactionID,
		Kind:          dispute.Kind,
		Stage:         dispute.Stage,
		Amount:        dispute.Amount,
	})
}

// MarkSettled implements settlement.Marker: the settlement engine calls
// it for every cleanly matched capture.
func (o *Orchestrator) MarkSettled(ctx context.Context, txID string) error {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return err
	}
	if tx.Status != types.TxCaptured {
		o.recordEvent(ctx, txID, types.EventLateDuplicate, "settlement", 0, "", false, string(types.TxSettled))
		return nil
	}
	if _, err := o.transition(ctx, txID, types.TxSettled, nil); err != nil {
		return err
	}
	o.recordEvent(ctx, txID, types.EventSettled, "settlement", 0, "", true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(txID, types.TxSettled, ""))
	return nil
}

// CapturesInWindow implements settlement.CaptureSource over the
// transaction store.
func (o *Orchestrator) CapturesInWindow(ctx context.Context, proc string, start, end time.Time) ([]settlement.LocalCapture, error) {
	txs, err := o.store.CapturedBetween(ctx, proc, start, end)
	if err != nil {
		return nil, err
	}
	out := make([]settlement.LocalCapture, 0, len(txs))
	for _, tx := range txs {
		out = append(out, settlement.LocalCapture{
			TransactionID: tx.ID,
			ProcessorRef:  tx.Response.Reference,
			Gross:         tx.Amount,
			ExpectedFee:   tx.ProcessorFee,
		})
	}
	return out, nil
}

func eventKindFor(status types.TransactionStatus) types.EventKind {
	switch status {
	case types.TxAuthorized:
		return types.EventAuthorized
	case types.TxCaptured:
		return types.EventCaptured
	case types.TxSettled:
		return types.EventSettled
	case types.TxFailed:
		return types.EventFailed
	case types.TxDisputed:
		return types.EventDisputed
	case types.TxChargedBack:
		return types.EventChargedBack
	case types.TxRefunded:
		return types.EventRefunded
	case types.TxBlocked:
		return types.EventBlocked
	}
	return types.EventKind(status)
}
