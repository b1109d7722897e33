package orchestrator_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/events"
	"fanzcore/core/types"
	"fanzcore/native/approval"
	"fanzcore/native/fees"
	"fanzcore/native/idempotency"
	"fanzcore/native/ledger"
	"fanzcore/native/routing"
	"fanzcore/native/trust"
	"fanzcore/orchestrator"
	"fanzcore/processor"
)

func fixedTime() time.Time { return time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC) }

type staticCollector struct{ value int }

func (staticCollector) Name() string { return "device" }

func (c staticCollector) Collect(context.Context, trust.VerificationRequest) trust.Signal {
	v := c.value
	return trust.Signal{Collector: "device", Score: &v}
}

// scriptedAdapter returns queued errors first, then succeeds with
// sequential processor references.
type scriptedAdapter struct {
	name string

	mu          sync.Mutex
	seq         int
	authErrs    []error
	captureErrs []error
	refundErrs  []error
	payoutErrs  []error

	authCalls    int
	captureCalls int
	refundCalls  int
	payoutCalls  int
}

func (a *scriptedAdapter) Name() string { return a.name }

func (a *scriptedAdapter) pop(queue *[]error) error {
	if len(*queue) == 0 {
		return nil
	}
	err := (*queue)[0]
	*queue = (*queue)[1:]
	return err
}

func (a *scriptedAdapter) result() processor.Result {
	a.seq++
	return processor.Result{
		ProcessorTxID: fmt.Sprintf("%s-%d", a.name, a.seq),
		RawCode:       "approved",
		ProcessedAt:   fixedTime(),
	}
}

func (a *scriptedAdapter) Authorize(_ context.Context, _ processor.AuthorizeRequest) (processor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.authCalls++
	if err := a.pop(&a.authErrs); err != nil {
		return processor.Result{}, err
	}
	return a.result(), nil
}

func (a *scriptedAdapter) Capture(_ context.Context, _ processor.CaptureRequest) (processor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.captureCalls++
	if err := a.pop(&a.captureErrs); err != nil {
		return processor.Result{}, err
	}
	return a.result(), nil
}

func (a *scriptedAdapter) Refund(_ context.Context, _ processor.RefundRequest) (processor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.refundCalls++
	if err := a.pop(&a.refundErrs); err != nil {
		return processor.Result{}, err
	}
	return a.result(), nil
}

func (a *scriptedAdapter) Void(_ context.Context, _ processor.VoidRequest) (processor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result(), nil
}

func (a *scriptedAdapter) SendPayout(_ context.Context, _ processor.PayoutRequest) (processor.Result, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.payoutCalls++
	if err := a.pop(&a.payoutErrs); err != nil {
		return processor.Result{}, err
	}
	return a.result(), nil
}

func (a *scriptedAdapter) VerifyWebhook(processor.WebhookRequest) (processor.WebhookEvent, error) {
	return processor.WebhookEvent{}, nil
}

func (a *scriptedAdapter) FetchSettlement(context.Context, time.Time) ([]types.SettlementLine, error) {
	return nil, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, evt)
}

func (c *captureEmitter) count(eventType string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, evt := range c.events {
		if evt.EventType() == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	t        *testing.T
	store    *orchestrator.MemoryStore
	book     *ledger.Ledger
	emitter  *captureEmitter
	ccbill   *scriptedAdapter
	segpay   *scriptedAdapter
	approval *approval.Queue
	orc      *orchestrator.Orchestrator
}

func newFixture(t *testing.T, trustValue int, extra ...orchestrator.Option) *fixture {
	t.Helper()
	store := orchestrator.NewMemoryStore()
	book := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(fixedTime))
	idem := idempotency.NewMemoryStore()

	engine, err := trust.NewEngine(trust.NewMemoryScoreStore(),
		trust.WithCollectors(staticCollector{value: trustValue}),
		trust.WithClock(fixedTime),
	)
	require.NoError(t, err)

	snapshot := routing.NewSnapshot(
		[]types.RoutingRule{
			{
				ID:         "r-eu",
				Priority:   5,
				Active:     true,
				Conditions: types.RuleConditions{Regions: []string{"EU"}},
				Target:     types.RuleTarget{Primary: "M2"},
			},
			{
				ID:       "r-1",
				Priority: 10,
				Active:   true,
				Target:   types.RuleTarget{Primary: "M1", Fallbacks: []string{"M2"}},
			},
		},
		[]types.MerchantAccount{
			{MID: "M1", Processor: "ccbill", Currency: "USD"},
			{MID: "M2", Processor: "segpay", Currency: "USD"},
		},
		"",
	)
	router, err := routing.NewRouter(routing.NewSnapshotHolder(snapshot), routing.WithClock(fixedTime))
	require.NoError(t, err)

	registry := processor.NewRegistry(processor.WithRegistryClock(fixedTime))
	ccbill := &scriptedAdapter{name: "ccbill"}
	segpay := &scriptedAdapter{name: "segpay"}
	registry.Register(ccbill, processor.BreakerConfig{}, 0, 0)
	registry.Register(segpay, processor.BreakerConfig{}, 0, 0)

	schedule, err := fees.NewSchedule(500, map[string]int64{"ccbill": 290, "segpay": 290}, 290)
	require.NoError(t, err)

	queue := approval.NewQueue(approval.WithClock(fixedTime))
	emitter := &captureEmitter{}

	opts := []orchestrator.Option{
		orchestrator.WithEmitter(emitter),
		orchestrator.WithClock(fixedTime),
		orchestrator.WithRetryPolicy(orchestrator.RetryPolicy{
			MaxAttempts: 3,
			MinBackoff:  time.Millisecond,
			MaxBackoff:  time.Millisecond,
		}),
		orchestrator.WithSleep(func(context.Context, time.Duration) error { return nil }),
		orchestrator.WithPayoutMinimums(map[string]int64{"wire": 5000}),
	}
	opts = append(opts, extra...)

	orc, err := orchestrator.New(orchestrator.Deps{
		Store:       store,
		Ledger:      book,
		Idempotency: idem,
		Trust:       engine,
		Router:      router,
		Processors:  registry,
		Fees:        schedule,
		Approvals:   queue,
	}, opts...)
	require.NoError(t, err)

	return &fixture{
		t:        t,
		store:    store,
		book:     book,
		emitter:  emitter,
		ccbill:   ccbill,
		segpay:   segpay,
		approval: queue,
		orc:      orc,
	}
}

func (f *fixture) debitBalance(account string) int64 {
	f.t.Helper()
	amount, err := f.book.Balance(context.Background(), account, nil)
	require.NoError(f.t, err)
	return amount.Units
}

func (f *fixture) creditBalance(account string) int64 {
	f.t.Helper()
	amount, err := f.book.CreditBalance(context.Background(), account, nil)
	require.NoError(f.t, err)
	return amount.Units
}

func (f *fixture) eventKinds(txID string) map[types.EventKind]int {
	f.t.Helper()
	rows, err := f.store.TransactionEvents(context.Background(), txID)
	require.NoError(f.t, err)
	counts := make(map[types.EventKind]int)
	for _, row := range rows {
		counts[row.Kind]++
	}
	return counts
}

func cardPayment(key string) orchestrator.PaymentRequest {
	return orchestrator.PaymentRequest{
		IdempotencyKey: key,
		FanID:          "F1",
		CreatorID:      "C1",
		Platform:       "P1",
		Amount:         types.NewAmount(1000, "USD"),
		Method: types.PaymentMethod{
			Kind: types.MethodCard,
			Card: &types.CardDetails{Token: "tok-1", Last4: "4242", BIN: "411111"},
		},
	}
}

func TestPayment_ShedsNonUrgentWhenReviewQueueDeep(t *testing.T) {
	var f *fixture
	f = newFixture(t, 85, orchestrator.WithOverloadProbe(func() bool {
		return f.approval.Depth() >= 2
	}))

	for i := 0; i < 2; i++ {
		_, err := f.approval.Enqueue(approval.EnqueueRequest{
			EntityRef: fmt.Sprintf("refund:r-%d", i),
			Type:      "refund_review",
		})
		require.NoError(t, err)
	}

	_, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-shed"))
	require.ErrorIs(t, err, orchestrator.ErrOverloaded)

	urgent := cardPayment("pay-urgent")
	urgent.Urgent = true
	res, err := f.orc.ProcessPayment(context.Background(), urgent)
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, res.Status)

	// Deciding the backlog drains the queue and reopens intake.
	for _, entry := range f.approval.Pending() {
		_, derr := f.approval.Decide(entry.ID, "reviewer", "cleared", false)
		require.NoError(t, derr)
	}
	res, err = f.orc.ProcessPayment(context.Background(), cardPayment("pay-after"))
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, res.Status)
}

func TestPayment_HappyPath(t *testing.T) {
	f := newFixture(t, 85)

	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, res.Status)
	require.Equal(t, "ccbill", res.Processor)
	require.Equal(t, "M1", res.MID)
	require.Equal(t, 85, res.TrustScore)

	require.Equal(t, int64(1000), f.debitBalance(types.AccountFanReceivable))
	require.Equal(t, int64(921), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, int64(50), f.creditBalance(types.AccountPlatformFeeRevenue))
	require.Equal(t, int64(29), f.creditBalance(types.AccountProcessorPayable))
	require.Equal(t, 1, f.emitter.count(events.TypePaymentCaptured))
}

func TestPayment_FallbackOnRetriableDecline(t *testing.T) {
	f := newFixture(t, 85)
	f.ccbill.authErrs = []error{fanzerrors.New(fanzerrors.CodeRetriableDecline, "do not honor")}

	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, res.Status)
	require.Equal(t, "M2", res.MID)
	require.Equal(t, "segpay", res.Processor)

	require.Equal(t, 0, f.ccbill.captureCalls, "declined MID must not capture")
	require.Equal(t, int64(921), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, 1, f.emitter.count(events.TypePaymentCaptured))

	kinds := f.eventKinds(res.TransactionID)
	require.Equal(t, 1, kinds[types.EventAttemptDecline])
	require.Equal(t, 1, kinds[types.EventCaptured])
}

func TestWebhook_DuplicateCaptureRecordedNotApplied(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		err := f.orc.ApplyProcessorEvent(context.Background(), "ccbill", processor.WebhookEvent{
			EventID:       fmt.Sprintf("evt-%d", i+1),
			ProcessorTxID: tx.Response.Reference,
			Kind:          types.EventCaptured,
			Amount:        tx.Amount,
			OccurredAt:    fixedTime(),
		})
		require.NoError(t, err)
	}

	require.Equal(t, 1, f.emitter.count(events.TypePaymentCaptured))
	require.Equal(t, int64(921), f.creditBalance(types.CreatorPayableAccount("C1")))
	kinds := f.eventKinds(res.TransactionID)
	require.Equal(t, 1, kinds[types.EventCaptured])
	require.Equal(t, 2, kinds[types.EventLateDuplicate])
}

func TestRefund_FullNetsLedgerToZero(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	refund, err := f.orc.RequestRefund(context.Background(), orchestrator.RefundRequest{
		TransactionID: res.TransactionID,
		Amount:        types.NewAmount(1000, "USD"),
		Reason:        "customer_request",
	})
	require.NoError(t, err)
	require.Equal(t, types.RefundProcessed, refund.Status)
	require.Equal(t, types.DecisionAuto, refund.Decision)

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TxRefunded, tx.Status)

	require.Equal(t, int64(0), f.debitBalance(types.AccountFanReceivable))
	require.Equal(t, int64(0), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, int64(0), f.creditBalance(types.AccountPlatformFeeRevenue))
	require.Equal(t, int64(0), f.creditBalance(types.AccountProcessorPayable))
}

func TestRefund_PartialThenCaptureReplay(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	refund, err := f.orc.RequestRefund(context.Background(), orchestrator.RefundRequest{
		TransactionID: res.TransactionID,
		Amount:        types.NewAmount(400, "USD"),
		Reason:        "partial",
	})
	require.NoError(t, err)
	require.Equal(t, types.RefundProcessed, refund.Status)

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)

	// A delayed duplicate of the original capture arrives.
	err = f.orc.ApplyProcessorEvent(context.Background(), "ccbill", processor.WebhookEvent{
		EventID:       "evt-late",
		ProcessorTxID: tx.Response.Reference,
		Kind:          types.EventCaptured,
		Amount:        tx.Amount,
		OccurredAt:    fixedTime(),
	})
	require.NoError(t, err)

	tx, err = f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, tx.Status, "partial refund must not close the transaction")
	require.Equal(t, int64(400), tx.RefundedTotal.Units)

	// 400 reverses as creator 369, platform 20, processor 11.
	require.Equal(t, int64(552), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, int64(600), f.debitBalance(types.AccountFanReceivable))
	require.Equal(t, 1, f.emitter.count(events.TypePaymentCaptured))
}

func TestRefund_PartialsReverseCaptureSplitExactly(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	// The capture split of 1000 is creator 921, platform 50,
	// processor 29. Neither partial amount reproduces those legs under
	// independent floor rounding, so the reversals must scale against
	// the remaining unreversed fee amounts.
	for _, units := range []int64{400, 600} {
		refund, rerr := f.orc.RequestRefund(context.Background(), orchestrator.RefundRequest{
			TransactionID: res.TransactionID,
			Amount:        types.NewAmount(units, "USD"),
			Reason:        "partial",
		})
		require.NoError(t, rerr)
		require.Equal(t, types.RefundProcessed, refund.Status)
	}

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TxRefunded, tx.Status)

	require.Equal(t, int64(0), f.debitBalance(types.AccountFanReceivable))
	require.Equal(t, int64(0), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, int64(0), f.creditBalance(types.AccountPlatformFeeRevenue))
	require.Equal(t, int64(0), f.creditBalance(types.AccountProcessorPayable))
}

func TestPayout_ConcurrentRequestsSingleWinner(t *testing.T) {
	f := newFixture(t, 85)
	_, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)
	require.Equal(t, int64(921), f.creditBalance(types.CreatorPayableAccount("C1")))

	request := orchestrator.PayoutRequest{
		CreatorID:   "C1",
		Method:      "ach",
		Amount:      types.NewAmount(921, "USD"),
		Destination: "acct-9",
		Processor:   "ccbill",
		MID:         "M1",
	}
	var wg sync.WaitGroup
	results := make([]error, 2)
	payouts := make([]types.Payout, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payouts[i], results[i] = f.orc.RequestPayout(context.Background(), request)
		}(i)
	}
	wg.Wait()

	var won, lost int
	for i := range results {
		if results[i] == nil {
			won++
			require.Equal(t, types.PayoutSent, payouts[i].Status)
		} else {
			lost++
			require.ErrorIs(t, results[i], orchestrator.ErrInsufficientBalance)
		}
	}
	require.Equal(t, 1, won)
	require.Equal(t, 1, lost)
	require.Equal(t, int64(0), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, int64(921), f.creditBalance(types.AccountPayoutClearing))
	require.Equal(t, 1, f.ccbill.payoutCalls)
}

func TestPayment_InboundIdempotencyReturnsFirstEnvelope(t *testing.T) {
	f := newFixture(t, 85)

	first, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)
	second, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	require.Equal(t, first, second)
	require.Equal(t, 1, f.ccbill.authCalls)
	require.Equal(t, int64(1000), f.debitBalance(types.AccountFanReceivable))
}

func TestPayment_BlockedByTrust(t *testing.T) {
	f := newFixture(t, 30)

	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.Error(t, err)
	require.Equal(t, fanzerrors.CodeFraud, fanzerrors.Classify(err))
	require.Equal(t, types.TxBlocked, res.Status)

	require.Equal(t, 0, f.ccbill.authCalls)
	require.Equal(t, int64(0), f.debitBalance(types.AccountFanReceivable))
	require.Equal(t, 0, f.emitter.count(events.TypePaymentCaptured))
}

func TestPayment_ChallengeEscalatesAndResumes(t *testing.T) {
	f := newFixture(t, 60)

	req := cardPayment("pay-1")
	req.Amount = types.NewAmount(150_000, "USD")
	res, err := f.orc.ProcessPayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.TxRequiresVerification, res.Status)
	require.NotEmpty(t, res.ApprovalID)
	require.Len(t, f.approval.Pending(), 1)

	resumed, err := f.orc.ResumeVerification(context.Background(), res.TransactionID, true)
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, resumed.Status)
	require.Equal(t, int64(150_000), f.debitBalance(types.AccountFanReceivable))
}

func TestPayment_RegionRoutingSurvivesReviewResume(t *testing.T) {
	f := newFixture(t, 60)

	req := cardPayment("pay-eu")
	req.Region = "EU"
	req.Amount = types.NewAmount(150_000, "USD")
	res, err := f.orc.ProcessPayment(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, types.TxRequiresVerification, res.Status)

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, "EU", tx.Region, "region persists with the held transaction")

	resumed, err := f.orc.ResumeVerification(context.Background(), res.TransactionID, true)
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, resumed.Status)
	require.Equal(t, "segpay", resumed.Processor, "region rule still selects the EU account")
	require.Equal(t, "M2", resumed.MID)
}

func TestRefund_ExceedsRemainingRejected(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	_, err = f.orc.RequestRefund(context.Background(), orchestrator.RefundRequest{
		TransactionID: res.TransactionID,
		Amount:        types.NewAmount(1100, "USD"),
		Reason:        "too much",
	})
	require.ErrorIs(t, err, orchestrator.ErrRefundExceedsCaptured)
}

func TestPayout_BelowMinimumRejected(t *testing.T) {
	f := newFixture(t, 85)
	_, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	_, err = f.orc.RequestPayout(context.Background(), orchestrator.PayoutRequest{
		CreatorID:   "C1",
		Method:      "wire",
		Amount:      types.NewAmount(900, "USD"),
		Destination: "acct-9",
		Processor:   "ccbill",
		MID:         "M1",
	})
	require.ErrorIs(t, err, orchestrator.ErrBelowPayoutMinimum)
}

func TestDispute_ChargebackPullsFundsBack(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)

	err = f.orc.ApplyProcessorEvent(context.Background(), "ccbill", processor.WebhookEvent{
		EventID:       "evt-cb-open",
		ProcessorTxID: tx.Response.Reference,
		Kind:          types.EventDisputed,
		Amount:        tx.Amount,
		OccurredAt:    fixedTime(),
		RawCode:       "4863",
	})
	require.NoError(t, err)

	tx, err = f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TxDisputed, tx.Status)
	require.Len(t, f.approval.Pending(), 1, "chargeback disputes escalate to review")

	err = f.orc.ApplyProcessorEvent(context.Background(), "ccbill", processor.WebhookEvent{
		EventID:       "evt-cb-final",
		ProcessorTxID: tx.Response.Reference,
		Kind:          types.EventChargedBack,
		Amount:        tx.Amount,
		OccurredAt:    fixedTime(),
		RawCode:       "4863",
	})
	require.NoError(t, err)

	tx, err = f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TxChargedBack, tx.Status)
	require.Equal(t, int64(0), f.creditBalance(types.CreatorPayableAccount("C1")))
	require.Equal(t, int64(0), f.debitBalance(types.AccountFanReceivable))
}

func TestDispute_RetrievalAutoResponds(t *testing.T) {
	f := newFixture(t, 85)
	res, err := f.orc.ProcessPayment(context.Background(), cardPayment("pay-1"))
	require.NoError(t, err)

	tx, err := f.store.GetTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)

	err = f.orc.ApplyProcessorEvent(context.Background(), "ccbill", processor.WebhookEvent{
		EventID:       "evt-retrieval",
		ProcessorTxID: tx.Response.Reference,
		Kind:          types.EventDisputed,
		OccurredAt:    fixedTime(),
		RawCode:       "retrieval",
	})
	require.NoError(t, err)

	dispute, err := f.store.DisputeForTransaction(context.Background(), res.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.DisputeRetrieval, dispute.Kind)
	require.Equal(t, types.DisputeResponded, dispute.Stage)
	require.NotEmpty(t, dispute.Evidence)
	require.Empty(t, f.approval.Pending(), "retrievals answer without review")
}
