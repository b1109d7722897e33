package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
)

// scriptedAdapter returns queued errors for authorize calls.
type scriptedAdapter struct {
	name string
	errs []error
	call int
}

func (s *scriptedAdapter) Name() string { return s.name }

func (s *scriptedAdapter) Authorize(context.Context, AuthorizeRequest) (Result, error) {
	var err error
	if s.call < len(s.errs) {
		err = s.errs[s.call]
	}
	s.call++
	return Result{ProcessorTxID: "ptx-1"}, err
}

func (s *scriptedAdapter) Capture(context.Context, CaptureRequest) (Result, error) {
	return Result{}, nil
}
func (s *scriptedAdapter) Refund(context.Context, RefundRequest) (Result, error) {
	return Result{}, nil
}
func (s *scriptedAdapter) Void(context.Context, VoidRequest) (Result, error) { return Result{}, nil }
func (s *scriptedAdapter) SendPayout(context.Context, PayoutRequest) (Result, error) {
	return Result{}, nil
}
func (s *scriptedAdapter) VerifyWebhook(WebhookRequest) (WebhookEvent, error) {
	return WebhookEvent{}, nil
}
func (s *scriptedAdapter) FetchSettlement(context.Context, time.Time) ([]types.SettlementLine, error) {
	return nil, nil
}

func timeoutErr() error {
	return &fanzerrors.Error{Code: fanzerrors.CodeTimeout, Message: "deadline"}
}

func declineErr() error {
	return &fanzerrors.Error{Code: fanzerrors.CodeHardDecline, Message: "card expired"}
}

func TestRegistry_UnknownProcessor(t *testing.T) {
	registry := NewRegistry()
	_, err := registry.Authorize(context.Background(), "nope", AuthorizeRequest{})
	require.ErrorIs(t, err, ErrUnknownProcessor)
	require.False(t, registry.Available("nope"))
}

func TestRegistry_TimeoutsOpenBreaker(t *testing.T) {
	registry := NewRegistry()
	adapter := &scriptedAdapter{name: "flaky", errs: []error{timeoutErr(), timeoutErr(), timeoutErr(), timeoutErr()}}
	registry.Register(adapter, BreakerConfig{Window: time.Minute, MinRequests: 4, ErrorRatio: 0.5, Cooldown: time.Minute}, 0, 0)

	for i := 0; i < 4; i++ {
		_, err := registry.Authorize(context.Background(), "flaky", AuthorizeRequest{})
		require.Error(t, err)
	}
	require.False(t, registry.Available("flaky"))
	_, err := registry.Authorize(context.Background(), "flaky", AuthorizeRequest{})
	require.ErrorIs(t, err, ErrBreakerOpen)
}

func TestRegistry_DeclinesDoNotOpenBreaker(t *testing.T) {
	registry := NewRegistry()
	adapter := &scriptedAdapter{name: "strict", errs: []error{declineErr(), declineErr(), declineErr(), declineErr(), declineErr(), declineErr()}}
	registry.Register(adapter, BreakerConfig{Window: time.Minute, MinRequests: 4, ErrorRatio: 0.5, Cooldown: time.Minute}, 0, 0)

	for i := 0; i < 6; i++ {
		_, err := registry.Authorize(context.Background(), "strict", AuthorizeRequest{})
		require.Error(t, err)
		require.Equal(t, fanzerrors.CodeHardDecline, fanzerrors.Classify(err))
	}
	require.True(t, registry.Available("strict"), "declines are answers, not failures")
}

func TestRegistry_Names(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&scriptedAdapter{name: "b"}, DefaultBreakerConfig(), 0, 0)
	registry.Register(&scriptedAdapter{name: "a"}, DefaultBreakerConfig(), 0, 0)
	require.Equal(t, []string{"a", "b"}, registry.Names())
}
