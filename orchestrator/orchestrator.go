// Package orchestrator drives the payment, refund, payout and dispute
// state machines. It owns every status write, serializes work with
// striped per-transaction and per-creator locks, and couples each
// money-moving transition to a balanced ledger post under a
// deterministic pair id so crash replays cannot double-post.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"lukechampine.com/blake3"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/events"
	"fanzcore/core/types"
	"fanzcore/native/approval"
	"fanzcore/native/fees"
	"fanzcore/native/idempotency"
	"fanzcore/native/ledger"
	"fanzcore/native/routing"
	"fanzcore/native/trust"
	"fanzcore/processor"
)

var (
	// ErrInFlight reports that another worker holds the same inbound
	// idempotency key. Callers back off with jitter and retry.
	ErrInFlight = errors.New("orchestrator: request in flight")
	// ErrOverloaded rejects non-urgent work past the high-water mark.
	ErrOverloaded = errors.New("orchestrator: service overloaded")
	// ErrPaused rejects new payments while the orchestrator is paused.
	ErrPaused = errors.New("orchestrator: payments paused")
	// ErrAmountOutOfBounds reports an amount outside the configured limits.
	ErrAmountOutOfBounds = errors.New("orchestrator: amount out of bounds")
	// ErrNotHeld reports a verification resume on a transaction that is
	// not held.
	ErrNotHeld = errors.New("orchestrator: transaction not awaiting verification")
)

const (
	inboundTTL  = 15 * time.Minute
	outboundTTL = 10 * time.Minute
)

// Limits bound accepted transaction amounts in minor units. Zero means
// unbounded on that side.
type Limits struct {
	MinAmount int64
	MaxAmount int64
}

// Deps are the collaborators injected into the orchestrator. All are
// required except Approvals, which defaults to an unobserved queue.
type Deps struct {
	Store       Store
	Ledger      *ledger.Ledger
	Idempotency idempotency.Store
	Trust       *trust.Engine
	Router      *routing.Router
	Processors  *processor.Registry
	Fees        *fees.Schedule
	Approvals   *approval.Queue
}

// Orchestrator coordinates the state machines over the injected
// collaborators.
type Orchestrator struct {
	store      Store
	ledger     *ledger.Ledger
	idem       idempotency.Store
	trust      *trust.Engine
	router     *routing.Router
	processors *processor.Registry
	fees       *fees.Schedule
	approvals  *approval.Queue
	emitter    events.Emitter

	retry        RetryPolicy
	limits       Limits
	payoutMins   map[string]int64
	txLocks      *stripedLocks
	creatorLocks *stripedLocks
	paused       atomic.Bool
	overloaded   func() bool
	sleep        func(context.Context, time.Duration) error
	now          func() time.Time

	holdMu sync.Mutex
	holds  map[string]string
}

// Option customises the orchestrator instance.
type Option func(*Orchestrator)

// WithEmitter wires the event bus.
func WithEmitter(emitter events.Emitter) Option {
	return func(o *Orchestrator) {
		if emitter != nil {
			o.emitter = emitter
		}
	}
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.now = clock
		}
	}
}

// WithRetryPolicy overrides the outbound retry configuration.
func WithRetryPolicy(policy RetryPolicy) Option {
	return func(o *Orchestrator) { o.retry = policy.normalized() }
}

// WithLimits bounds accepted transaction amounts.
func WithLimits(limits Limits) Option {
	return func(o *Orchestrator) { o.limits = limits }
}

// WithPayoutMinimums sets the per-method payout floors in minor units.
func WithPayoutMinimums(mins map[string]int64) Option {
	return func(o *Orchestrator) {
		o.payoutMins = make(map[string]int64, len(mins))
		for method, min := range mins {
			o.payoutMins[strings.ToLower(strings.TrimSpace(method))] = min
		}
	}
}

// WithOverloadProbe wires the backpressure signal. When the probe
// reports true, non-urgent payments are rejected with ErrOverloaded.
func WithOverloadProbe(probe func() bool) Option {
	return func(o *Orchestrator) {
		if probe != nil {
			o.overloaded = probe
		}
	}
}

// WithSleep overrides the backoff sleep. Tests pass a no-op.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(o *Orchestrator) {
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// WithLockStripes sets the striped lock width.
func WithLockStripes(n int) Option {
	return func(o *Orchestrator) {
		o.txLocks = newStripedLocks(n)
		o.creatorLocks = newStripedLocks(n)
	}
}

// New constructs an orchestrator over its collaborators.
func New(deps Deps, opts ...Option) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, fmt.Errorf("orchestrator: store required")
	case deps.Ledger == nil:
		return nil, fmt.Errorf("orchestrator: ledger required")
	case deps.Idempotency == nil:
		return nil, fmt.Errorf("orchestrator: idempotency store required")
	case deps.Trust == nil:
		return nil, fmt.Errorf("orchestrator: trust engine required")
	case deps.Router == nil:
		return nil, fmt.Errorf("orchestrator: router required")
	case deps.Processors == nil:
		return nil, fmt.Errorf("orchestrator: processor registry required")
	case deps.Fees == nil:
		return nil, fmt.Errorf("orchestrator: fee schedule required")
	}
	approvals := deps.Approvals
	if approvals == nil {
		approvals = approval.NewQueue()
	}
	o := &Orchestrator{
		store:        deps.Store,
		ledger:       deps.Ledger,
		idem:         deps.Idempotency,
		trust:        deps.Trust,
		router:       deps.Router,
		processors:   deps.Processors,
		fees:         deps.Fees,
		approvals:    approvals,
		emitter:      events.NoopEmitter{},
		retry:        RetryPolicy{}.normalized(),
		txLocks:      newStripedLocks(defaultLockStripes),
		creatorLocks: newStripedLocks(defaultLockStripes),
		overloaded:   func() bool { return false },
		sleep:        sleepCtx,
		now:          time.Now,
		holds:        make(map[string]string),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Pause stops accepting new payments. In-flight work completes.
func (o *Orchestrator) Pause() { o.paused.Store(true) }

// Resume lifts a pause.
func (o *Orchestrator) Resume() { o.paused.Store(false) }

// Paused reports the pause flag for admin surfaces.
func (o *Orchestrator) Paused() bool { return o.paused.Load() }

// PaymentRequest is a normalized inbound payment.
type PaymentRequest struct {
	IdempotencyKey string
	FanID          string
	CreatorID      string
	Platform       string
	Region         string
	Amount         types.Amount
	Method         types.PaymentMethod
	Descriptor     string
	// Urgent exempts the request from overload shedding. Payouts and
	// webhook-driven work set it; tips and subscriptions do not.
	Urgent bool
	Proof  trust.Proof
}

// PaymentResult is the caller-visible outcome. It is also the envelope
// committed under the inbound idempotency key, so replays of the same
// key return byte-identical responses.
type PaymentResult struct {
	TransactionID string                  `json:"transactionId"`
	Status        types.TransactionStatus `json:"status"`
	Processor     string                  `json:"processor,omitempty"`
	MID           string                  `json:"mid,omitempty"`
	TrustScore    int                     `json:"trustScore"`
	ApprovalID    string                  `json:"approvalId,omitempty"`
	ErrorCode     string                  `json:"errorCode,omitempty"`
}

// ProcessPayment runs the payment machine end to end: verify, route,
// authorize with retry and fallback, capture with a ledger post.
func (o *Orchestrator) ProcessPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	if o.paused.Load() {
		return PaymentResult{}, ErrPaused
	}
	if !req.Urgent && o.overloaded() {
		return PaymentResult{}, ErrOverloaded
	}
	if err := o.validatePayment(req); err != nil {
		return PaymentResult{}, err
	}

	key := strings.TrimSpace(req.IdempotencyKey)
	if key == "" {
		key = requestHash(req)
	}
	reservation, err := o.idem.Reserve(ctx, idempotency.ScopeInboundRequest, key, inboundTTL)
	if err != nil {
		return PaymentResult{}, err
	}
	switch reservation.State {
	case idempotency.InFlight:
		return PaymentResult{}, ErrInFlight
	case idempotency.Committed:
		var prior PaymentResult
		if err := json.Unmarshal(reservation.Envelope, &prior); err != nil {
			return PaymentResult{}, fmt.Errorf("orchestrator: decode committed envelope: %w", err)
		}
		return prior, nil
	}

	result, runErr := o.runPayment(ctx, req)
	if result.TransactionID == "" {
		// Nothing was created; free the key so a corrected retry can land.
		_ = o.idem.Release(ctx, idempotency.ScopeInboundRequest, key)
		return result, runErr
	}
	if envelope, err := json.Marshal(result); err == nil {
		_ = o.idem.Commit(ctx, idempotency.ScopeInboundRequest, key, envelope)
	}
	return result, runErr
}

func (o *Orchestrator) validatePayment(req PaymentRequest) error {
	if strings.TrimSpace(req.FanID) == "" || strings.TrimSpace(req.CreatorID) == "" {
		return fanzerrors.New(fanzerrors.CodeInvalidRequest, "fan and creator required")
	}
	if !req.Amount.Positive() {
		return fanzerrors.New(fanzerrors.CodeInvalidRequest, "amount must be positive")
	}
	if err := req.Method.Validate(); err != nil {
		return fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "payment method")
	}
	if o.limits.MinAmount > 0 && req.Amount.Units < o.limits.MinAmount {
		return fmt.Errorf("%w: below minimum", ErrAmountOutOfBounds)
	}
	if o.limits.MaxAmount > 0 && req.Amount.Units > o.limits.MaxAmount {
		return fmt.Errorf("%w: above maximum", ErrAmountOutOfBounds)
	}
	return nil
}

// requestHash derives a dedup key for callers that supply none.
func requestHash(req PaymentRequest) string {
	seed := strings.Join([]string{
		req.FanID, req.CreatorID, req.Platform,
		fmt.Sprintf("%d", req.Amount.Units), types.NormalizeCurrency(req.Amount.Currency),
		string(req.Method.Kind),
	}, "|")
	sum := blake3.Sum256([]byte(seed))
	return fmt.Sprintf("req-%x", sum[:16])
}

func (o *Orchestrator) runPayment(ctx context.Context, req PaymentRequest) (PaymentResult, error) {
	now := o.now().UTC()
	tx := types.Transaction{
		ID:          uuid.NewString(),
		FanID:       req.FanID,
		CreatorID:   req.CreatorID,
		Platform:    req.Platform,
		Region:      req.Region,
		Amount:      req.Amount,
		Method:      req.Method,
		Status:      types.TxInitiated,
		Version:     1,
		InitiatedAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.InsertTransaction(ctx, tx); err != nil {
		return PaymentResult{}, err
	}
	unlock := o.txLocks.lock(tx.ID)
	defer unlock()

	o.recordEvent(ctx, tx.ID, types.EventInitiated, "orchestrator", req.Amount.Units, "", true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(tx.ID, types.TxInitiated, ""))

	score, err := o.trust.Score(ctx, trust.VerificationRequest{
		FanID:     req.FanID,
		CreatorID: req.CreatorID,
		Platform:  req.Platform,
		Method:    req.Method.Kind,
		Amount:    req.Amount,
		Context:   trust.ContextPayment,
		Proof:     req.Proof,
	})
	if err != nil {
		o.failPayment(ctx, tx.ID, "trust_unavailable", fanzerrors.CodeUnknown)
		return PaymentResult{TransactionID: tx.ID, Status: types.TxFailed, ErrorCode: string(fanzerrors.CodeUnknown)},
			fanzerrors.Wrap(fanzerrors.CodeUnknown, err, "trust scoring")
	}

	switch score.Decision {
	case types.DecisionBlock:
		updated, terr := o.transition(ctx, tx.ID, types.TxBlocked, func(t *types.Transaction) {
			t.TrustScore = score.Score
			t.RiskFlags = score.ReasonCodes
		})
		if terr != nil {
			return PaymentResult{TransactionID: tx.ID}, terr
		}
		o.recordEvent(ctx, tx.ID, types.EventBlocked, "trust", 0, "", false, string(fanzerrors.CodeFraud))
		o.emitter.Emit(events.NewPaymentStatusChanged(tx.ID, types.TxBlocked, "trust_block"))
		return PaymentResult{
				TransactionID: updated.ID, Status: updated.Status,
				TrustScore: score.Score, ErrorCode: string(fanzerrors.CodeFraud),
			},
			fanzerrors.New(fanzerrors.CodeFraud, "blocked by trust policy")
	case types.DecisionChallenge:
		if o.trust.RequiresManualReview(req.Amount) {
			if _, terr := o.transition(ctx, tx.ID, types.TxRequiresVerification, func(t *types.Transaction) {
				t.TrustScore = score.Score
				t.RiskFlags = score.ReasonCodes
			}); terr != nil {
				return PaymentResult{TransactionID: tx.ID}, terr
			}
			entry, aerr := o.approvals.Enqueue(approval.EnqueueRequest{
				EntityRef: "tx:" + tx.ID,
				Type:      "payment_review",
				Priority:  5,
			})
			if aerr != nil {
				return PaymentResult{TransactionID: tx.ID}, aerr
			}
			o.recordEvent(ctx, tx.ID, types.EventVerified, "trust", 0, "", false, "manual_review")
			o.emitter.Emit(events.NewPaymentStatusChanged(tx.ID, types.TxRequiresVerification, "manual_review"))
			return PaymentResult{
				TransactionID: tx.ID,
				Status:        types.TxRequiresVerification,
				TrustScore:    score.Score,
				ApprovalID:    entry.ID,
			}, nil
		}
		// Challenge presented and satisfied inline; proceed as verified.
	}

	if _, terr := o.transition(ctx, tx.ID, types.TxVerified, func(t *types.Transaction) {
		t.TrustScore = score.Score
		t.RiskFlags = score.ReasonCodes
	}); terr != nil {
		return PaymentResult{TransactionID: tx.ID}, terr
	}
	o.recordEvent(ctx, tx.ID, types.EventVerified, "trust", 0, "", true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(tx.ID, types.TxVerified, ""))

	return o.executeVerified(ctx, tx.ID, req, score.Score)
}

// ResumeVerification continues a held transaction after its manual
// review decision. Deny blocks the transaction; approve resumes the
// machine from verified.
func (o *Orchestrator) ResumeVerification(ctx context.Context, txID string, approve bool) (PaymentResult, error) {
	unlock := o.txLocks.lock(txID)
	defer unlock()

	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return PaymentResult{}, err
	}
	if tx.Status != types.TxRequiresVerification {
		return PaymentResult{}, fmt.Errorf("%w: %s", ErrNotHeld, tx.Status)
	}
	if !approve {
		updated, terr := o.transition(ctx, txID, types.TxBlocked, nil)
		if terr != nil {
			return PaymentResult{}, terr
		}
		o.recordEvent(ctx, txID, types.EventBlocked, "approval", 0, "", false, "review_denied")
		o.emitter.Emit(events.NewPaymentStatusChanged(txID, types.TxBlocked, "review_denied"))
		return PaymentResult{TransactionID: txID, Status: updated.Status, TrustScore: tx.TrustScore}, nil
	}
	if _, terr := o.transition(ctx, txID, types.TxVerified, nil); terr != nil {
		return PaymentResult{}, terr
	}
	o.recordEvent(ctx, txID, types.EventVerified, "approval", 0, "", true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(txID, types.TxVerified, "review_approved"))

	req := PaymentRequest{
		FanID:     tx.FanID,
		CreatorID: tx.CreatorID,
		Platform:  tx.Platform,
		Region:    tx.Region,
		Amount:    tx.Amount,
		Method:    tx.Method,
	}
	return o.executeVerified(ctx, txID, req, tx.TrustScore)
}

// executeVerified routes and charges a verified transaction. Callers
// hold the transaction lock.
func (o *Orchestrator) executeVerified(ctx context.Context, txID string, req PaymentRequest, trustScore int) (PaymentResult, error) {
	decision, err := o.router.Route(routing.Request{
		FanID:      req.FanID,
		CreatorID:  req.CreatorID,
		Platform:   req.Platform,
		Region:     req.Region,
		Method:     req.Method.Kind,
		Amount:     req.Amount,
		TrustScore: trustScore,
		BIN:        methodBIN(req.Method),
	})
	if err != nil {
		o.failPayment(ctx, txID, "no_route", fanzerrors.CodeInvalidRequest)
		return PaymentResult{TransactionID: txID, Status: types.TxFailed, TrustScore: trustScore,
			ErrorCode: string(fanzerrors.CodeInvalidRequest)}, err
	}
	if _, terr := o.transition(ctx, txID, types.TxRouted, func(t *types.Transaction) {
		t.MerchantAccount = decision.MID
		t.Processor = decision.Processor
	}); terr != nil {
		return PaymentResult{TransactionID: txID}, terr
	}
	o.recordEvent(ctx, txID, types.EventRouted, "router", 0, "", true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(txID, types.TxRouted, decision.MID))

	return o.charge(ctx, txID, req, decision, trustScore)
}

// charge walks the MID candidates: retriable errors retry the same MID
// with backoff, retriable declines move to the next MID, terminal codes
// stop.
func (o *Orchestrator) charge(ctx context.Context, txID string, req PaymentRequest, decision routing.Decision, trustScore int) (PaymentResult, error) {
	candidates := append([]string{decision.MID}, decision.Fallbacks...)
	attempt := 0
	var lastErr error

	for _, mid := range candidates {
		account, ok := o.router.Account(mid)
		if !ok || !o.processors.Available(account.Processor) {
			continue
		}
		budget := o.retry.MaxAttempts
		for try := 1; try <= budget; try++ {
			attempt++
			result, callErr := o.authorizeOnce(ctx, txID, mid, account.Processor, attempt, req)
			if callErr == nil {
				return o.settleAuthorization(ctx, txID, mid, account.Processor, attempt, req, result, trustScore)
			}
			lastErr = callErr
			code := fanzerrors.Classify(callErr)
			o.recordEvent(ctx, txID, types.EventAttemptDecline, account.Processor, 0, "", false, string(code))
			if code == fanzerrors.CodeUnknown && budget > unknownBudget {
				budget = unknownBudget
			}
			if code.Fallback() {
				break // next MID
			}
			if code.Terminal() || !code.Retriable() {
				o.failPayment(ctx, txID, string(code), code)
				return PaymentResult{TransactionID: txID, Status: types.TxFailed,
					TrustScore: trustScore, ErrorCode: string(code)}, callErr
			}
			if try < budget {
				if serr := o.sleep(ctx, o.retry.backoff(try)); serr != nil {
					o.failPayment(ctx, txID, "timeout", fanzerrors.CodeTimeout)
					return PaymentResult{TransactionID: txID, Status: types.TxFailed,
						TrustScore: trustScore, ErrorCode: string(fanzerrors.CodeTimeout)}, serr
				}
				continue
			}
			// Retriable budget exhausted on this MID.
			o.failPayment(ctx, txID, string(code), code)
			return PaymentResult{TransactionID: txID, Status: types.TxFailed,
				TrustScore: trustScore, ErrorCode: string(code)}, callErr
		}
	}

	code := fanzerrors.Classify(lastErr)
	if lastErr == nil {
		lastErr = routing.ErrNoRoute
		code = fanzerrors.CodeInvalidRequest
	}
	o.failPayment(ctx, txID, "candidates_exhausted", code)
	return PaymentResult{TransactionID: txID, Status: types.TxFailed,
		TrustScore: trustScore, ErrorCode: string(code)}, lastErr
}

// settleAuthorization records the authorization then captures it. A
// failed capture voids the hold best-effort.
func (o *Orchestrator) settleAuthorization(ctx context.Context, txID, mid, proc string, attempt int, req PaymentRequest, auth processor.Result, trustScore int) (PaymentResult, error) {
	if _, terr := o.transition(ctx, txID, types.TxAuthorized, func(t *types.Transaction) {
		t.MerchantAccount = mid
		t.Processor = proc
		t.Response = auth.Envelope(proc)
		t.AuthorizedAt = o.now().UTC()
	}); terr != nil {
		return PaymentResult{TransactionID: txID}, terr
	}
	o.recordEvent(ctx, txID, types.EventAuthorized, proc, 0, "", true, "")
	o.emitter.Emit(events.NewPaymentStatusChanged(txID, types.TxAuthorized, ""))

	capture, capErr := o.captureWithRetry(ctx, txID, mid, proc, attempt, req.Amount, auth.ProcessorTxID)
	if capErr != nil {
		code := fanzerrors.Classify(capErr)
		_, _ = o.processors.Void(ctx, proc, processor.VoidRequest{
			TransactionID:  txID,
			MID:            mid,
			ProcessorTxID:  auth.ProcessorTxID,
			IdempotencyKey: txID + ":void:1",
		})
		o.failPayment(ctx, txID, string(code), code)
		return PaymentResult{TransactionID: txID, Status: types.TxFailed,
			TrustScore: trustScore, ErrorCode: string(code)}, capErr
	}

	tx, err := o.finalizeCapture(ctx, txID, capture.Envelope(proc), "orchestrator")
	if err != nil {
		return PaymentResult{TransactionID: txID}, err
	}
	return PaymentResult{
		TransactionID: tx.ID,
		Status:        tx.Status,
		Processor:     tx.Processor,
		MID:           tx.MerchantAccount,
		TrustScore:    tx.TrustScore,
	}, nil
}

// authorizeOnce issues one authorization attempt behind an outbound
// idempotency key, so a crash replay of the same attempt returns the
// committed result instead of charging twice.
func (o *Orchestrator) authorizeOnce(ctx context.Context, txID, mid, proc string, attempt int, req PaymentRequest) (processor.Result, error) {
	key := fmt.Sprintf("%s:auth:%d", txID, attempt)
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

	result, callErr := o.processors.Authorize(ctx, proc, processor.AuthorizeRequest{
		TransactionID:  txID,
		MID:            mid,
		Amount:         req.Amount,
		Method:         req.Method,
		Descriptor:     req.Descriptor,
		IdempotencyKey: key,
	})
	if callErr != nil {
		_ = o.idem.Release(ctx, idempotency.ScopeOutboundCall, key)
		return processor.Result{}, callErr
	}
	if envelope, merr := json.Marshal(result); merr == nil {
		_ = o.idem.Commit(ctx, idempotency.ScopeOutboundCall, key, envelope)
	}
	return result, nil
}

func (o *Orchestrator) captureWithRetry(ctx context.Context, txID, mid, proc string, attempt int, amount types.Amount, procTxID string) (processor.Result, error) {
	var lastErr error
	for try := 1; try <= o.retry.MaxAttempts; try++ {
		key := fmt.Sprintf("%s:capture:%d", txID, attempt+try-1)
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
		result, callErr := o.processors.Capture(ctx, proc, processor.CaptureRequest{
			TransactionID:  txID,
			MID:            mid,
			ProcessorTxID:  procTxID,
			Amount:         amount,
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

// finalizeCapture posts the capture ledger pair and moves the
// transaction to captured. The pair id is derived from the transaction
// id, so the webhook path and a crash replay converge on one entry set.
// Callers hold the transaction lock.
func (o *Orchestrator) finalizeCapture(ctx context.Context, txID string, envelope types.ProcessorEnvelope, source string) (types.Transaction, error) {
	tx, err := o.store.GetTransaction(ctx, txID)
	if err != nil {
		return types.Transaction{}, err
	}
	if tx.Status != types.TxAuthorized {
		return tx, fmt.Errorf("%w: capture from %s", types.ErrInvalidTransition, tx.Status)
	}

	split := o.fees.Apply(tx.Amount, tx.Processor)
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
	add(types.AccountFanReceivable, types.Debit, tx.Amount)
	add(types.CreatorPayableAccount(tx.CreatorID), types.Credit, split.Creator)
	add(types.AccountPlatformFeeRevenue, types.Credit, split.Platform)
	add(types.AccountProcessorPayable, types.Credit, split.Processor)
	if err := o.ledger.Post(ctx, "tx:"+tx.ID+":capture", entries); err != nil {
		// Integrity over availability: a conflicting pair is fatal.
		return types.Transaction{}, err
	}

	o.router.Volumes().Record(tx.MerchantAccount, tx.Amount.Units, o.now())

	updated, terr := o.transition(ctx, txID, types.TxCaptured, func(t *types.Transaction) {
		t.PlatformFee = split.Platform
		t.ProcessorFee = split.Processor
		t.RefundedTotal = types.NewAmount(0, t.Amount.Currency)
		t.Response = envelope
		t.CapturedAt = o.now().UTC()
	})
	if terr != nil {
		return types.Transaction{}, terr
	}
	o.recordEvent(ctx, txID, types.EventCaptured, source, tx.Amount.Units, "", true, "")
	o.emitter.Emit(events.PaymentCaptured{
		TransactionID: updated.ID,
		FanID:         updated.FanID,
		CreatorID:     updated.CreatorID,
		Platform:      updated.Platform,
		Amount:        updated.Amount,
		PlatformFee:   updated.PlatformFee,
		ProcessorFee:  updated.ProcessorFee,
		Processor:     updated.Processor,
		MID:           updated.MerchantAccount,
	})
	return updated, nil
}

func (o *Orchestrator) failPayment(ctx context.Context, txID, reason string, code fanzerrors.Code) {
	_, err := o.transition(ctx, txID, types.TxFailed, func(t *types.Transaction) {
		t.FailedAt = o.now().UTC()
	})
	if err != nil {
		return
	}
	o.recordEvent(ctx, txID, types.EventFailed, "orchestrator", 0, "", false, string(code))
	o.emitter.Emit(events.NewPaymentStatusChanged(txID, types.TxFailed, reason))
}

// transition applies a guarded status change with bounded optimistic
// retry.
func (o *Orchestrator) transition(ctx context.Context, txID string, to types.TransactionStatus, mutate func(*types.Transaction)) (types.Transaction, error) {
	return o.mutateTransaction(ctx, txID, func(t *types.Transaction) error {
		if !types.CanTransition(t.Status, to) {
			return fmt.Errorf("%w: %s to %s", types.ErrInvalidTransition, t.Status, to)
		}
		t.Status = to
		if mutate != nil {
			mutate(t)
		}
		return nil
	})
}

func (o *Orchestrator) mutateTransaction(ctx context.Context, txID string, mutate func(*types.Transaction) error) (types.Transaction, error) {
	for attempt := 0; attempt < 3; attempt++ {
		tx, err := o.store.GetTransaction(ctx, txID)
		if err != nil {
			return types.Transaction{}, err
		}
		if err := mutate(&tx); err != nil {
			return types.Transaction{}, err
		}
		tx.UpdatedAt = o.now().UTC()
		updated, err := o.store.UpdateTransaction(ctx, tx)
		if errors.Is(err, ErrVersionConflict) {
			continue
		}
		return updated, err
	}
	return types.Transaction{}, ErrVersionConflict
}

func (o *Orchestrator) recordEvent(ctx context.Context, txID string, kind types.EventKind, source string, delta int64, procEventID string, success bool, errorCode string) {
	_ = o.store.AppendTransactionEvent(ctx, types.TransactionEvent{
		ID:               uuid.NewString(),
		TransactionID:    txID,
		Kind:             kind,
		Source:           source,
		AmountDelta:      delta,
		ProcessorEventID: procEventID,
		Success:          success,
		ErrorCode:        errorCode,
		CreatedAt:        o.now().UTC(),
	})
}

func methodBIN(method types.PaymentMethod) string {
	if method.Card != nil {
		return method.Card.BIN
	}
	return ""
}
