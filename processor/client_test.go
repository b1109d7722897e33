package processor

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fanzerrors "fanzcore/core/errors"
)

func TestSignPayload_VerifyRoundTrip(t *testing.T) {
	secret := []byte("hook-secret")
	now := time.Unix(1700000000, 0)
	body := []byte(`{"eventId":"e1"}`)
	ts := strconv.FormatInt(now.Unix(), 10)

	req := WebhookRequest{Body: body, Timestamp: ts, Signature: SignPayload(secret, ts, body)}
	require.NoError(t, VerifySignature(secret, req, now))

	req.Signature = SignPayload([]byte("wrong"), ts, body)
	err := VerifySignature(secret, req, now)
	require.Error(t, err)
	require.Equal(t, fanzerrors.CodeAuthenticationFailed, fanzerrors.Classify(err))
}

func TestVerifySignature_TimestampTolerance(t *testing.T) {
	secret := []byte("hook-secret")
	now := time.Unix(1700000000, 0)
	body := []byte(`{}`)

	stale := strconv.FormatInt(now.Add(-301*time.Second).Unix(), 10)
	req := WebhookRequest{Body: body, Timestamp: stale, Signature: SignPayload(secret, stale, body)}
	require.Error(t, VerifySignature(secret, req, now), "timestamps older than the tolerance are rejected")

	edge := strconv.FormatInt(now.Add(-300*time.Second).Unix(), 10)
	req = WebhookRequest{Body: body, Timestamp: edge, Signature: SignPayload(secret, edge, body)}
	require.NoError(t, VerifySignature(secret, req, now), "exactly at the tolerance is accepted")
}

func TestClient_PostJSONClassifiesStatus(t *testing.T) {
	cases := []struct {
		status   int
		expected fanzerrors.Code
	}{
		{http.StatusTooManyRequests, fanzerrors.CodeRateLimited},
		{http.StatusUnauthorized, fanzerrors.CodeAuthenticationFailed},
		{http.StatusConflict, fanzerrors.CodeDuplicate},
		{http.StatusBadGateway, fanzerrors.CodeTransient},
		{http.StatusUnprocessableEntity, fanzerrors.CodeInvalidRequest},
	}
	for _, tc := range cases {
		t.Run(strconv.Itoa(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tc.status)
			}))
			defer server.Close()

			client := NewClient(server.URL, "key", []byte("secret"))
			err := client.PostJSON(context.Background(), "test", "/op", "", map[string]string{}, nil)
			require.Error(t, err)
			require.Equal(t, tc.expected, fanzerrors.Classify(err))
		})
	}
}

func TestClient_PostJSONSignsRequests(t *testing.T) {
	secret := []byte("api-secret")
	var captured *http.Request
	var capturedBody []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = r.Clone(context.Background())
		capturedBody, _ = io.ReadAll(r.Body)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	now := time.Unix(1700000000, 0)
	client := NewClient(server.URL, "key", secret, WithClientClock(func() time.Time { return now }))
	require.NoError(t, client.PostJSON(context.Background(), "test", "/op", "idem-1", map[string]string{"a": "b"}, nil))

	require.Equal(t, "Bearer key", captured.Header.Get("Authorization"))
	require.Equal(t, "idem-1", captured.Header.Get("Idempotency-Key"))
	ts := captured.Header.Get("X-Timestamp")
	require.Equal(t, strconv.FormatInt(now.Unix(), 10), ts)
	require.Equal(t, SignPayload(secret, ts, capturedBody), captured.Header.Get("X-Signature"))
}

func TestClient_PostJSONTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Return after the client deadline so Close does not wait on us.
		_, _ = io.ReadAll(r.Body)
		time.Sleep(300 * time.Millisecond)
	}))
	defer server.Close()

	client := NewClient(server.URL, "key", []byte("secret"))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := client.PostJSON(ctx, "test", "/op", "", map[string]string{}, nil)
	require.Error(t, err)
	require.Equal(t, fanzerrors.CodeTimeout, fanzerrors.Classify(err))
}
