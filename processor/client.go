package processor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	fanzerrors "fanzcore/core/errors"
)

// SignatureTolerance bounds how old a signed webhook timestamp may be.
const SignatureTolerance = 300 * time.Second

// SignPayload computes the shared signature scheme: an HMAC-SHA256 over
// the timestamp, a newline, and the raw body, hex encoded with a scheme
// prefix.
func SignPayload(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a webhook signature and its timestamp freshness.
// Comparison is constant time.
func VerifySignature(secret []byte, req WebhookRequest, now time.Time) error {
	return verifySignature(secret, req, now, SignatureTolerance)
}

func verifySignature(secret []byte, req WebhookRequest, now time.Time, tolerance time.Duration) error {
	ts, err := strconv.ParseInt(strings.TrimSpace(req.Timestamp), 10, 64)
	if err != nil {
		return fanzerrors.New(fanzerrors.CodeAuthenticationFailed, "invalid webhook timestamp")
	}
	age := now.Sub(time.Unix(ts, 0))
	if age > tolerance || age < -tolerance {
		return fanzerrors.New(fanzerrors.CodeAuthenticationFailed, "webhook timestamp outside tolerance")
	}
	expected := SignPayload(secret, strings.TrimSpace(req.Timestamp), req.Body)
	if !hmac.Equal([]byte(expected), []byte(strings.TrimSpace(req.Signature))) {
		return fanzerrors.New(fanzerrors.CodeAuthenticationFailed, "webhook signature mismatch")
	}
	return nil
}

// Client is the shared HTTP transport adapters build on. Every response
// is decoded as JSON and every failure is classified into the canonical
// taxonomy before it leaves this package.
type Client struct {
	baseURL       string
	apiKey        string
	secret        []byte
	webhookSecret []byte
	tolerance     time.Duration
	httpClient    *http.Client
	now           func() time.Time
}

// ClientOption customises the client instance.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying transport.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.httpClient = h
		}
	}
}

// WithWebhookSecret sets a separate secret for inbound webhook
// signatures.
func WithWebhookSecret(secret []byte) ClientOption {
	return func(c *Client) { c.webhookSecret = secret }
}

// WithSignatureTolerance overrides the webhook timestamp freshness
// window.
func WithSignatureTolerance(tolerance time.Duration) ClientOption {
	return func(c *Client) {
		if tolerance > 0 {
			c.tolerance = tolerance
		}
	}
}

// WithClientClock sets the function used to derive request timestamps.
func WithClientClock(clock func() time.Time) ClientOption {
	return func(c *Client) {
		if clock != nil {
			c.now = clock
		}
	}
}

// NewClient constructs a signing HTTP client for one processor endpoint.
func NewClient(baseURL, apiKey string, secret []byte, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		secret:     secret,
		tolerance:  SignatureTolerance,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Secret exposes the shared secret for webhook verification. A
// dedicated webhook secret takes precedence when configured;
// processors that use one key for both fall back to the API secret.
func (c *Client) Secret() []byte {
	if len(c.webhookSecret) > 0 {
		return c.webhookSecret
	}
	return c.secret
}

// Now exposes the client clock for webhook freshness checks.
func (c *Client) Now() time.Time { return c.now() }

// VerifySignature checks an inbound webhook against the client's
// webhook secret and freshness window.
func (c *Client) VerifySignature(req WebhookRequest) error {
	return verifySignature(c.Secret(), req, c.now(), c.tolerance)
}

// PostJSON signs and sends a JSON request, decoding the response into
// out. The idempotency key travels as a header so replays short-circuit
// server side.
func (c *Client) PostJSON(ctx context.Context, processor, path, idempotencyKey string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "encode request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fanzerrors.Wrap(fanzerrors.CodeInvalidRequest, err, "build request")
	}
	timestamp := strconv.FormatInt(c.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-Timestamp", timestamp)
	req.Header.Set("X-Signature", SignPayload(c.secret, timestamp, body))
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(processor, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &fanzerrors.Error{Code: fanzerrors.CodeTransient, Processor: processor, Message: "read response", Cause: err}
	}
	if code := classifyStatus(resp.StatusCode); code != "" {
		return &fanzerrors.Error{
			Code:      code,
			Processor: processor,
			Message:   fmt.Sprintf("http %d: %s", resp.StatusCode, truncate(string(data), 256)),
		}
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return &fanzerrors.Error{Code: fanzerrors.CodeUnknown, Processor: processor, Message: "decode response", Cause: err}
		}
	}
	return nil
}

func classifyTransportError(processor string, err error) error {
	code := fanzerrors.CodeTransient
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = fanzerrors.CodeTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		code = fanzerrors.CodeTimeout
	case errors.Is(err, context.Canceled):
		code = fanzerrors.CodeTransient
	}
	return &fanzerrors.Error{Code: code, Processor: processor, Message: "transport", Cause: err}
}

// classifyStatus maps HTTP status classes that are failures regardless
// of body. 2xx returns empty; processor-level declines ride in the body
// and are mapped by each adapter.
func classifyStatus(status int) fanzerrors.Code {
	switch {
	case status >= 200 && status < 300:
		return ""
	case status == http.StatusTooManyRequests:
		return fanzerrors.CodeRateLimited
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fanzerrors.CodeAuthenticationFailed
	case status == http.StatusConflict:
		return fanzerrors.CodeDuplicate
	case status >= 500:
		return fanzerrors.CodeTransient
	case status >= 400:
		return fanzerrors.CodeInvalidRequest
	}
	return fanzerrors.CodeUnknown
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
