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
	"fanzcore/native/approval"
	"fanzcore/native/fees"
	"fanzcore/native/idempotency"
	"fanzcore/native/ledger"
	"fanzcore/native/trust"
	"fanzcore/processor"
)

var (
	// ErrNotRefundable reports a refund against a transaction that holds
	// no captured funds.
	ErrNotRefundable = errors.New("orchestrator: transaction not refundable")
	// ErrRefundExceedsCaptured reports a refund beyond the remaining
	// captured amount.
	ErrRefundExceedsCaptured = errors.New("orchestrator: refund exceeds captured amount")
	// ErrRefundNotDecidable reports a decision on a refund outside manual
	// review.
	ErrRefundNotDecidable = errors.New("orchestrator: refund not awaiting review")
)

// RefundRequest asks to reverse part or all of a captured transaction.
type RefundRequest struct {
	TransactionID string
	Amount        types.Amount
	Reason        string
	Proof         trust.Proof
}

// RequestRefund creates a refund and runs the trust policy: auto-approved
// refunds process immediately, the rest queue for manual review.
func (o *Orchestrator) RequestRefund(ctx context.Context, req RefundRequest) (types.Refund, error) {
	unlock := o.txLocks.lock(req.TransactionID)
	defer unlock()

	tx, err := o.store.GetTransaction(ctx, req.TransactionID)
	if err != nil {
		return types.Refund{}, err
	}
	if tx.Status != types.TxCaptured && tx.Status != types.TxSettled && tx.Status != types.TxDisputed {
		return types.Refund{}, fmt.Errorf("%w: status %s", ErrNotRefundable, tx.Status)
	}
	if !req.Amount.Positive() || !req.Amount.SameCurrency(tx.Amount) {
		return types.Refund{}, fanzerrors.New(fanzerrors.CodeInvalidRequest, "refund amount invalid")
	}
	if remaining := tx.RemainingRefundable(); req.Amount.Units > remaining.Units {
		return types.Refund{}, fmt.Errorf("%w: %d remaining", ErrRefundExceedsCaptured, remaining.Units)
	}

	now := o.now().UTC()
	refund := types.Refund{
		ID:            uuid.NewString(),
		TransactionID: tx.ID,
		Amount:        req.Amount,
		Reason:        strings.TrimSpace(req.Reason),
		Status:        types.RefundRequested,
		TrustScore:    tx.TrustScore,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.InsertRefund(ctx, refund); err != nil {
		return types.Refund{}, err
	}
	o.emitRefund(refund)

	score, serr := o.trust.Score(ctx, trust.VerificationRequest{
		FanID:     tx.FanID,
		CreatorID: tx.CreatorID,
		Platform:  tx.Platform,
		Method:    tx.Method.Kind,
		Amount:    req.Amount,
		Context:   trust.ContextRefund,
		Proof:     req.Proof,
	})
	if serr == nil && score.Decision == types.DecisionRefund {
		refund.Status = types.RefundAutoApproved
		refund.Decision = types.DecisionAuto
		refund.TrustScore = score.Score
		updated, uerr := o.store.UpdateRefund(ctx, refund)
		if uerr != nil {
			return types.Refund{}, uerr
		}
		o.emitRefund(updated)
		return o.processRefund(ctx, updated, tx)
	}

	// No score or a review verdict: a human decides.
	refund.Status = types.RefundManualReview
	if serr == nil {
		refund.TrustScore = score.Score
	}
	updated, uerr := o.store.UpdateRefund(ctx, refund)
	if uerr != nil {
		return types.Refund{}, uerr
	}
	if _, aerr := o.approvals.Enqueue(approval.EnqueueRequest{
		EntityRef: "refund:" + refund.ID,
		Type:      "refund_review",
		Priority:  3,
	}); aerr != nil {
		return types.Refund{}, aerr
	}
	return updated, nil
}

// DecideRefund records the manual review outcome and processes approved
// refunds.
func (o *Orchestrator) DecideRefund(ctx context.Context, refundID, reviewer, reason string, approve bool) (types.Refund, error) {
	refund, err := o.store.GetRefund(ctx, refundID)
	if err != nil {
		return types.Refund{}, err
	}
	unlock := o.txLocks.lock(refund.TransactionID)
	defer unlock()

	refund, err = o.store.GetRefund(ctx, refundID)
	if err != nil {
		return types.Refund{}, err
	}
	if refund.Status != types.RefundManualReview {
		return types.Refund{}, fmt.Errorf("%w: status %s", ErrRefundNotDecidable, refund.Status)
	}
	refund.Decision = types.DecisionManual
	if !approve {
		refund.Status = types.RefundDenied
		refund.Reason = joinReason(refund.Reason, reason)
		updated, uerr := o.store.UpdateRefund(ctx, refund)
		if uerr != nil {
			return types.Refund{}, uerr
		}
		o.emitRefund(updated)
		return updated, nil
	}
	refund.Status = types.RefundApproved
	updated, uerr := o.store.UpdateRefund(ctx, refund)
	if uerr != nil {
		return types.Refund{}, uerr
	}
	o.emitRefund(updated)

	tx, terr := o.store.GetTransaction(ctx, refund.TransactionID)
	if terr != nil {
		return types.Refund{}, terr
	}
	return o.processRefund(ctx, updated, tx)
}

// reversalSplit scales the capture fee split over one reversal of
// amount, given what tx already has reversed. The platform and
// processor legs move by their cumulative floor share of the reversed
// total, so reversals summing to the capture reproduce its split
// exactly; the creator leg absorbs the remainder of each step.
func reversalSplit(tx types.Transaction, amount types.Amount) fees.Split {
	before := tx.RefundedTotal.Units
	after := before + amount.Units
	platform := cumulativeLeg(tx.PlatformFee.Units, after, tx.Amount.Units) -
		cumulativeLeg(tx.PlatformFee.Units, before, tx.Amount.Units)
	procFee := cumulativeLeg(tx.ProcessorFee.Units, after, tx.Amount.Units) -
		cumulativeLeg(tx.ProcessorFee.Units, before, tx.Amount.Units)
	return fees.Split{
		Platform:  types.NewAmount(platform, amount.Currency),
		Processor: types.NewAmount(procFee, amount.Currency),
		Creator:   types.NewAmount(amount.Units-platform-procFee, amount.Currency),
	}
}

func cumulativeLeg(leg, reversed, total int64) int64 {
	if total <= 0 {
		return 0
	}
	return leg * reversed / total
}

// processRefund issues the processor call and posts the reverse of the
// capture, scaled to the refund amount against the capture split so
// partial refunds that sum to the capture net the transaction to zero.
// Callers hold the transaction lock.
func (o *Orchestrator) processRefund(ctx context.Context, refund types.Refund, tx types.Transaction) (types.Refund, error) {
	result, callErr := o.refundWithRetry(ctx, refund, tx)
	if callErr != nil {
		refund.Status = types.RefundFailed
		updated, uerr := o.store.UpdateRefund(ctx, refund)
		if uerr != nil {
			return types.Refund{}, uerr
		}
		o.emitRefund(updated)
		return updated, callErr
	}

	split := reversalSplit(tx, refund.Amount)
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
	add(types.AccountFanReceivable, types.Credit, refund.Amount)
	if err := o.ledger.Post(ctx, "refund:"+refund.ID, entries); err != nil {
		return types.Refund{}, err
	}

	refund.Status = types.RefundProcessed
	updated, uerr := o.store.UpdateRefund(ctx, refund)
	if uerr != nil {
		return types.Refund{}, uerr
	}

	fullRefund := false
	if _, terr := o.mutateTransaction(ctx, tx.ID, func(t *types.Transaction) error {
		total := t.RefundedTotal.Units + refund.Amount.Units
		t.RefundedTotal = types.NewAmount(total, t.Amount.Currency)
		if total >= t.Amount.Units && types.CanTransition(t.Status, types.TxRefunded) {
			t.Status = types.TxRefunded
			fullRefund = true
		}
		return nil
	}); terr != nil {
		return types.Refund{}, terr
	}
	o.recordEvent(ctx, tx.ID, types.EventRefunded, "orchestrator", -refund.Amount.Units, result.ProcessorTxID, true, "")
	o.emitRefund(updated)
	if fullRefund {
		o.emitter.Emit(events.NewPaymentStatusChanged(tx.ID, types.TxRefunded, "fully_refunded"))
	}
	return updated, nil
}

func (o *Orchestrator) refundWithRetry(ctx context.Context, refund types.Refund, tx types.Transaction) (processor.Result, error) {
	var lastErr error
	for try := 1; try <= o.retry.MaxAttempts; try++ {
		key := fmt.Sprintf("refund:%s:%d", refund.ID, try)
		reservation, err := o.idem.Reserve(ctx, idempotency.ScopeOutboundCall, key, outboundTTL)
		if err != nil {
			return processor.Result{}, err
		}
		if reservation.State == idempotency.Committed {
			var prior processor.Result
			if uerr := json.Unmarshal(reservation.Envelope, &prior); uerr == nil {
				return prior, nil
			}
		}
		result, callErr := o.processors.Refund(ctx, tx.Processor, processor.RefundRequest{
			TransactionID:  tx.ID,
			RefundID:       refund.ID,
			MID:            tx.MerchantAccount,
			ProcessorTxID:  tx.Response.Reference,
			Amount:         refund.Amount,
			Reason:         refund.Reason,
			IdempotencyKey: key,
		})
		if callErr == nil {
			if envelope, merr := json.Marshal(result); merr == nil {
				_ = o.idem.Commit(ctx, idempotency.ScopeOutboundCall, key, envelope)
			}
			return result, nil
		}
		_ = o.idem.Release(ctx, idempotency.ScopeOutboundCall, key)
		lastErr = callErr
		if !fanzerrors.Classify(callErr).Retriable() {
			return processor.Result{}, callErr
		}
		if try < o.retry.MaxAttempts {
			if serr := o.sleep(ctx, o.retry.backoff(try)); serr != nil {
				return processor.Result{}, serr
			}
		}
	}
	return processor.Result{}, lastErr
}

func (o *Orchestrator) emitRefund(refund types.Refund) {
	o.emitter.Emit(events.RefundStateChanged{
		RefundID:      refund.ID,
		TransactionID: refund.TransactionID,
		Amount:        refund.Amount,
		Status:        refund.Status,
		Decision:      refund.Decision,
	})
}

func joinReason(base, extra string) string {
	extra = strings.TrimSpace(extra)
	if extra == "" {
		return base
	}
	if base == "" {
		return extra
	}
	return base + "; " + extra
}
