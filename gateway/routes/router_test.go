package routes_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"fanzcore/core/types"
	"fanzcore/gateway/middleware"
	"fanzcore/gateway/routes"
	"fanzcore/native/approval"
	"fanzcore/native/fees"
	"fanzcore/native/idempotency"
	"fanzcore/native/ledger"
	"fanzcore/native/routing"
	"fanzcore/native/trust"
	"fanzcore/orchestrator"
	"fanzcore/processor"
)

func fixedTime() time.Time { return time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC) }

type staticCollector struct{ value int }

func (staticCollector) Name() string { return "device" }

func (c staticCollector) Collect(context.Context, trust.VerificationRequest) trust.Signal {
	v := c.value
	return trust.Signal{Collector: "device", Score: &v}
}

// okAdapter approves everything with sequential references.
type okAdapter struct {
	name string
	seq  int
}

func (a *okAdapter) Name() string { return a.name }

func (a *okAdapter) result() processor.Result {
	a.seq++
	return processor.Result{
		ProcessorTxID: fmt.Sprintf("%s-%d", a.name, a.seq),
		RawCode:       "approved",
		ProcessedAt:   fixedTime(),
	}
}

func (a *okAdapter) Authorize(context.Context, processor.AuthorizeRequest) (processor.Result, error) {
	return a.result(), nil
}

func (a *okAdapter) Capture(context.Context, processor.CaptureRequest) (processor.Result, error) {
	return a.result(), nil
}

func (a *okAdapter) Refund(context.Context, processor.RefundRequest) (processor.Result, error) {
	return a.result(), nil
}

func (a *okAdapter) Void(context.Context, processor.VoidRequest) (processor.Result, error) {
	return a.result(), nil
}

func (a *okAdapter) SendPayout(context.Context, processor.PayoutRequest) (processor.Result, error) {
	return a.result(), nil
}

func (a *okAdapter) VerifyWebhook(processor.WebhookRequest) (processor.WebhookEvent, error) {
	return processor.WebhookEvent{}, nil
}

func (a *okAdapter) FetchSettlement(context.Context, time.Time) ([]types.SettlementLine, error) {
	return nil, nil
}

func newHandler(t *testing.T, trustValue int) (http.Handler, *orchestrator.MemoryStore) {
	t.Helper()
	store := orchestrator.NewMemoryStore()
	book := ledger.New(ledger.NewMemoryStore(), ledger.WithClock(fixedTime))

	engine, err := trust.NewEngine(trust.NewMemoryScoreStore(),
		trust.WithCollectors(staticCollector{value: trustValue}),
		trust.WithClock(fixedTime),
	)
	require.NoError(t, err)

	snapshot := routing.NewSnapshot(
		[]types.RoutingRule{{
			ID:       "r-1",
			Priority: 10,
			Active:   true,
			Target:   types.RuleTarget{Primary: "M1"},
		}},
		[]types.MerchantAccount{{MID: "M1", Processor: "ccbill", Currency: "USD"}},
		"",
	)
	router, err := routing.NewRouter(routing.NewSnapshotHolder(snapshot), routing.WithClock(fixedTime))
	require.NoError(t, err)

	registry := processor.NewRegistry(processor.WithRegistryClock(fixedTime))
	registry.Register(&okAdapter{name: "ccbill"}, processor.BreakerConfig{}, 0, 0)

	schedule, err := fees.NewSchedule(500, map[string]int64{"ccbill": 290}, 290)
	require.NoError(t, err)

	orc, err := orchestrator.New(orchestrator.Deps{
		Store:       store,
		Ledger:      book,
		Idempotency: idempotency.NewMemoryStore(),
		Trust:       engine,
		Router:      router,
		Processors:  registry,
		Fees:        schedule,
		Approvals:   approval.NewQueue(approval.WithClock(fixedTime)),
	},
		orchestrator.WithClock(fixedTime),
		orchestrator.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	require.NoError(t, err)

	handler, err := routes.New(routes.Deps{
		Orchestrator: orc,
		Store:        store,
		Ledger:       book,
		Registry:     registry,
		Auth:         middleware.NewAuthenticator(middleware.AuthConfig{}, nil),
	})
	require.NoError(t, err)
	return handler, store
}

func postJSON(t *testing.T, handler http.Handler, path string, payload any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func paymentPayload() map[string]any {
	return map[string]any{
		"fanId":     "F1",
		"creatorId": "C1",
		"platform":  "P1",
		"amount":    map[string]any{"units": 1000, "currency": "USD"},
		"method": map[string]any{
			"kind": "card",
			"card": map[string]any{"token": "tok-1", "last4": "4242", "bin": "411111"},
		},
	}
}

func TestPaymentEndpointCaptures(t *testing.T) {
	handler, store := newHandler(t, 85)

	rec := postJSON(t, handler, "/v1/payments", paymentPayload(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get(middleware.HeaderCorrelation))

	var resp struct {
		Success       bool   `json:"success"`
		TransactionID string `json:"transactionId"`
		Status        string `json:"status"`
		Processor     string `json:"processor"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "captured", resp.Status)
	require.Equal(t, "ccbill", resp.Processor)

	tx, err := store.GetTransaction(context.Background(), resp.TransactionID)
	require.NoError(t, err)
	require.Equal(t, types.TxCaptured, tx.Status)
}

func TestPaymentEndpointBlocksLowTrust(t *testing.T) {
	handler, _ := newHandler(t, 10)

	rec := postJSON(t, handler, "/v1/payments", paymentPayload(), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)

	var resp struct {
		Success bool   `json:"success"`
		Status  string `json:"status"`
		Error   string `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.False(t, resp.Success)
	require.Equal(t, "blocked", resp.Status)
	require.Equal(t, "fraud", resp.Error)
}

func TestPaymentEndpointInvalidBody(t *testing.T) {
	handler, _ := newHandler(t, 85)

	req := httptest.NewRequest(http.MethodPost, "/v1/payments", bytes.NewReader([]byte("{not json")))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var env struct {
		Success       bool   `json:"success"`
		Error         string `json:"error"`
		CorrelationID string `json:"correlation_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.False(t, env.Success)
	require.Equal(t, "invalid_request", env.Error)
	require.NotEmpty(t, env.CorrelationID)
}

func TestIdempotentPaymentReplay(t *testing.T) {
	handler, _ := newHandler(t, 85)
	headers := map[string]string{"Idempotency-Key": "idem-1"}

	first := postJSON(t, handler, "/v1/payments", paymentPayload(), headers)
	require.Equal(t, http.StatusOK, first.Code)

	second := postJSON(t, handler, "/v1/payments", paymentPayload(), headers)
	require.Equal(t, http.StatusOK, second.Code)

	// The orchestrator's inbound idempotency guarantees the same result
	// envelope; the same transaction id proves no second charge.
	var a, b struct {
		TransactionID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(first.Body.Bytes(), &a))
	require.NoError(t, json.Unmarshal(second.Body.Bytes(), &b))
	require.Equal(t, a.TransactionID, b.TransactionID)
}

func TestRefundEndpoint(t *testing.T) {
	handler, _ := newHandler(t, 85)

	pay := postJSON(t, handler, "/v1/payments", paymentPayload(), nil)
	require.Equal(t, http.StatusOK, pay.Code)
	var payResp struct {
		TransactionID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(pay.Body.Bytes(), &payResp))

	rec := postJSON(t, handler, "/v1/refunds", map[string]any{
		"transactionId": payResp.TransactionID,
		"amount":        map[string]any{"units": 1000, "currency": "USD"},
		"reason":        "customer_request",
	}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool `json:"success"`
		Refund  struct {
			Status string `json:"status"`
		} `json:"refund"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.True(t, resp.Success)
	require.Equal(t, "processed", resp.Refund.Status)
}

func TestTransactionLookup(t *testing.T) {
	handler, _ := newHandler(t, 85)

	pay := postJSON(t, handler, "/v1/payments", paymentPayload(), nil)
	var payResp struct {
		TransactionID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal(pay.Body.Bytes(), &payResp))

	req := httptest.NewRequest(http.MethodGet, "/v1/transactions/"+payResp.TransactionID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	missing := httptest.NewRequest(http.MethodGet, "/v1/transactions/nope", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, missing)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAdminPauseRejectsPayments(t *testing.T) {
	handler, _ := newHandler(t, 85)

	rec := postJSON(t, handler, "/admin/pause", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	pay := postJSON(t, handler, "/v1/payments", paymentPayload(), nil)
	require.Equal(t, http.StatusServiceUnavailable, pay.Code)

	rec = postJSON(t, handler, "/admin/resume", map[string]any{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	pay = postJSON(t, handler, "/v1/payments", paymentPayload(), nil)
	require.Equal(t, http.StatusOK, pay.Code)
}

func TestAdminProcessorsListing(t *testing.T) {
	handler, _ := newHandler(t, 85)

	req := httptest.NewRequest(http.MethodGet, "/admin/processors", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Processors []struct {
			Name      string `json:"name"`
			Available bool   `json:"available"`
		} `json:"processors"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Processors, 1)
	require.Equal(t, "ccbill", resp.Processors[0].Name)
	require.True(t, resp.Processors[0].Available)
}
