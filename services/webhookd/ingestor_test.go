package webhookd_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
	"fanzcore/native/idempotency"
	"fanzcore/processor"
	"fanzcore/services/webhookd"
)

type stubVerifier struct {
	evt processor.WebhookEvent
	err error
}

func (v *stubVerifier) VerifyWebhook(string, processor.WebhookRequest) (processor.WebhookEvent, error) {
	return v.evt, v.err
}

type stubApplier struct {
	calls int
	errs  []error
}

func (a *stubApplier) ApplyProcessorEvent(context.Context, string, processor.WebhookEvent) error {
	a.calls++
	if len(a.errs) == 0 {
		return nil
	}
	err := a.errs[0]
	a.errs = a.errs[1:]
	return err
}

func captureEvent() processor.WebhookEvent {
	return processor.WebhookEvent{
		EventID:       "evt-1",
		ProcessorTxID: "cc-9",
		Kind:          types.EventCaptured,
		Amount:        types.NewAmount(1000, "USD"),
		OccurredAt:    time.Unix(1715342400, 0).UTC(),
	}
}

func TestIngest_AppliesOnceThenDedups(t *testing.T) {
	verifier := &stubVerifier{evt: captureEvent()}
	applier := &stubApplier{}
	ing, err := webhookd.NewIngestor(verifier, applier, idempotency.NewMemoryStore())
	require.NoError(t, err)

	evt, err := ing.Ingest(context.Background(), "ccbill", processor.WebhookRequest{Body: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "evt-1", evt.EventID)

	_, err = ing.Ingest(context.Background(), "ccbill", processor.WebhookRequest{Body: []byte(`{}`)})
	require.ErrorIs(t, err, webhookd.ErrDuplicate)
	require.Equal(t, 1, applier.calls)
}

func TestIngest_ApplyFailureFreesKeyForRetry(t *testing.T) {
	verifier := &stubVerifier{evt: captureEvent()}
	applier := &stubApplier{errs: []error{fanzerrors.New(fanzerrors.CodeTransient, "store down")}}
	ing, err := webhookd.NewIngestor(verifier, applier, idempotency.NewMemoryStore())
	require.NoError(t, err)

	_, err = ing.Ingest(context.Background(), "ccbill", processor.WebhookRequest{Body: []byte(`{}`)})
	require.Error(t, err)

	_, err = ing.Ingest(context.Background(), "ccbill", processor.WebhookRequest{Body: []byte(`{}`)})
	require.NoError(t, err)
	require.Equal(t, 2, applier.calls)
}

func TestIngest_MissingEventIDDedupsOnBody(t *testing.T) {
	evt := captureEvent()
	evt.EventID = ""
	verifier := &stubVerifier{evt: evt}
	applier := &stubApplier{}
	ing, err := webhookd.NewIngestor(verifier, applier, idempotency.NewMemoryStore())
	require.NoError(t, err)

	body := []byte(`{"n":1}`)
	_, err = ing.Ingest(context.Background(), "segpay", processor.WebhookRequest{Body: body})
	require.NoError(t, err)
	_, err = ing.Ingest(context.Background(), "segpay", processor.WebhookRequest{Body: body})
	require.ErrorIs(t, err, webhookd.ErrDuplicate)

	// A different body is a different notification.
	_, err = ing.Ingest(context.Background(), "segpay", processor.WebhookRequest{Body: []byte(`{"n":2}`)})
	require.NoError(t, err)
	require.Equal(t, 2, applier.calls)
}

func newTestServer(t *testing.T, verifier webhookd.Verifier, applier webhookd.Applier) *httptest.Server {
	t.Helper()
	ing, err := webhookd.NewIngestor(verifier, applier, idempotency.NewMemoryStore())
	require.NoError(t, err)
	srv, err := webhookd.NewServer(ing, nil)
	require.NoError(t, err)
	return httptest.NewServer(srv)
}

func postWebhook(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestServer_AcknowledgesAppliedAndDuplicate(t *testing.T) {
	server := newTestServer(t, &stubVerifier{evt: captureEvent()}, &stubApplier{})
	defer server.Close()

	status, body := postWebhook(t, server.URL+"/webhooks/ccbill")
	require.Equal(t, http.StatusOK, status)
	require.Contains(t, body, `"applied"`)

	status, body = postWebhook(t, server.URL+"/webhooks/ccbill")
	require.Equal(t, http.StatusOK, status, "duplicates must still acknowledge")
	require.Contains(t, body, `"duplicate"`)
}

type capturingVerifier struct {
	req processor.WebhookRequest
	evt processor.WebhookEvent
}

func (v *capturingVerifier) VerifyWebhook(_ string, req processor.WebhookRequest) (processor.WebhookEvent, error) {
	v.req = req
	return v.evt, nil
}

func TestServer_AcceptsCanonicalAndShortHeaders(t *testing.T) {
	for _, tc := range []struct {
		name      string
		signature string
		timestamp string
	}{
		{name: "canonical", signature: "X-Webhook-Signature", timestamp: "X-Webhook-Timestamp"},
		{name: "short", signature: "X-Signature", timestamp: "X-Timestamp"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			verifier := &capturingVerifier{evt: captureEvent()}
			server := newTestServer(t, verifier, &stubApplier{})
			defer server.Close()

			req, err := http.NewRequest(http.MethodPost, server.URL+"/webhooks/ccbill", strings.NewReader(`{}`))
			require.NoError(t, err)
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set(tc.signature, "sha256=abc")
			req.Header.Set(tc.timestamp, "1715342400")
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			resp.Body.Close()

			require.Equal(t, http.StatusOK, resp.StatusCode)
			require.Equal(t, "sha256=abc", verifier.req.Signature)
			require.Equal(t, "1715342400", verifier.req.Timestamp)
		})
	}
}

func TestServer_RejectsNonJSONContentType(t *testing.T) {
	server := newTestServer(t, &stubVerifier{evt: captureEvent()}, &stubApplier{})
	defer server.Close()

	resp, err := http.Post(server.URL+"/webhooks/ccbill", "text/plain", strings.NewReader("hi"))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServer_RejectsBadSignature(t *testing.T) {
	verifier := &stubVerifier{err: fanzerrors.New(fanzerrors.CodeAuthenticationFailed, "signature mismatch")}
	server := newTestServer(t, verifier, &stubApplier{})
	defer server.Close()

	status, _ := postWebhook(t, server.URL+"/webhooks/ccbill")
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestServer_MalformedPayloadIsBadRequest(t *testing.T) {
	verifier := &stubVerifier{err: fanzerrors.New(fanzerrors.CodeInvalidRequest, "decode webhook")}
	server := newTestServer(t, verifier, &stubApplier{})
	defer server.Close()

	status, _ := postWebhook(t, server.URL+"/webhooks/ccbill")
	require.Equal(t, http.StatusBadRequest, status)
}

func TestServer_ApplyFailureAsksForRetry(t *testing.T) {
	applier := &stubApplier{errs: []error{errors.New("store down")}}
	server := newTestServer(t, &stubVerifier{evt: captureEvent()}, applier)
	defer server.Close()

	status, _ := postWebhook(t, server.URL+"/webhooks/ccbill")
	require.Equal(t, http.StatusServiceUnavailable, status)
}

func TestServer_UnknownProcessorIsNotFound(t *testing.T) {
	verifier := &stubVerifier{err: processor.ErrUnknownProcessor}
	server := newTestServer(t, verifier, &stubApplier{})
	defer server.Close()

	status, _ := postWebhook(t, server.URL+"/webhooks/nope")
	require.Equal(t, http.StatusNotFound, status)
}
