package ccbill_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
	"fanzcore/processor"
	"fanzcore/processor/ccbill"
)

func testAdapter(t *testing.T, handler http.HandlerFunc) *ccbill.Adapter {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := processor.NewClient(server.URL, "key", []byte("hook-secret"),
		processor.WithClientClock(func() time.Time { return time.Unix(1700000000, 0) }),
	)
	return ccbill.New(client)
}

func cardAuth(units int64) processor.AuthorizeRequest {
	return processor.AuthorizeRequest{
		TransactionID:  "T1",
		MID:            "M1",
		Amount:         types.NewAmount(units, "USD"),
		Method:         types.PaymentMethod{Kind: types.MethodCard, Card: &types.CardDetails{Token: "tok-1"}},
		IdempotencyKey: "T1:1",
	}
}

func TestAuthorize_Approved(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/transactions/authorize", r.URL.Path)
		require.Equal(t, "T1:1", r.Header.Get("Idempotency-Key"))
		json.NewEncoder(w).Encode(map[string]any{
			"transactionId": "cc-123",
			"status":        "approved",
			"avsResult":     "Y",
			"cvv2Result":    "M",
			"processedAt":   1700000001,
		})
	})

	res, err := adapter.Authorize(context.Background(), cardAuth(1000))
	require.NoError(t, err)
	require.Equal(t, "cc-123", res.ProcessorTxID)
	require.Equal(t, "Y", res.AVSResult)
}

func TestAuthorize_DeclineMapping(t *testing.T) {
	cases := []struct {
		declineCode string
		expected    fanzerrors.Code
	}{
		{"insufficient_funds", fanzerrors.CodeRetriableDecline},
		{"card_expired", fanzerrors.CodeHardDecline},
		{"stolen_card", fanzerrors.CodeFraud},
		{"duplicate_txn", fanzerrors.CodeDuplicate},
		{"something_new", fanzerrors.CodeUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.declineCode, func(t *testing.T) {
			adapter := testAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{
					"transactionId": "cc-1",
					"status":        "declined",
					"declineCode":   tc.declineCode,
					"declineReason": "declined",
				})
			})
			res, err := adapter.Authorize(context.Background(), cardAuth(1000))
			require.Error(t, err)
			require.Equal(t, tc.expected, fanzerrors.Classify(err))
			require.Equal(t, tc.declineCode, res.RawCode, "raw code survives for the audit envelope")
		})
	}
}

func TestAuthorize_UnsupportedMethod(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, _ *http.Request) {
		t.Fatal("request must not reach the processor")
	})
	req := cardAuth(1000)
	req.Method = types.PaymentMethod{Kind: types.MethodCrypto, Crypto: &types.CryptoDetails{TxID: "x"}}
	_, err := adapter.Authorize(context.Background(), req)
	require.Error(t, err)
	require.Equal(t, fanzerrors.CodeInvalidRequest, fanzerrors.Classify(err))
}

func TestVerifyWebhook_TranslatesEvent(t *testing.T) {
	secret := []byte("hook-secret")
	adapter := testAdapter(t, nil)

	body, err := json.Marshal(map[string]any{
		"eventId":       "evt-1",
		"eventType":     "transaction.captured",
		"transactionId": "cc-123",
		"amount":        1000,
		"currency":      "USD",
		"occurredAt":    1699999990,
	})
	require.NoError(t, err)
	ts := strconv.FormatInt(time.Unix(1700000000, 0).Unix(), 10)

	event, err := adapter.VerifyWebhook(processor.WebhookRequest{
		Body:      body,
		Timestamp: ts,
		Signature: processor.SignPayload(secret, ts, body),
	})
	require.NoError(t, err)
	require.Equal(t, "evt-1", event.EventID)
	require.Equal(t, types.EventCaptured, event.Kind)
	require.Equal(t, int64(1000), event.Amount.Units)

	_, err = adapter.VerifyWebhook(processor.WebhookRequest{
		Body:      body,
		Timestamp: ts,
		Signature: processor.SignPayload([]byte("other"), ts, body),
	})
	require.Error(t, err)
	require.Equal(t, fanzerrors.CodeAuthenticationFailed, fanzerrors.Classify(err))
}

func TestFetchSettlement_Lines(t *testing.T) {
	adapter := testAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settlements/fetch", r.URL.Path)
		json.NewEncoder(w).Encode(map[string]any{
			"lines": []map[string]any{
				{"transactionId": "cc-1", "gross": 1000, "fee": 29, "currency": "USD", "kind": "capture"},
				{"transactionId": "cc-2", "gross": -500, "fee": 0, "currency": "USD", "kind": "refund"},
			},
		})
	})

	lines, err := adapter.FetchSettlement(context.Background(), time.Unix(1700000000, 0))
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.Equal(t, "cc-1", lines[0].ProcessorRef)
	require.Equal(t, int64(29), lines[0].Fee.Units)
	require.Equal(t, "refund", lines[1].Kind)
}
