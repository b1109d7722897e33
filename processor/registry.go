package processor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	fanzerrors "fanzcore/core/errors"
	"fanzcore/core/types"
)

// ErrUnknownProcessor reports a lookup for a processor that was never
// registered.
var ErrUnknownProcessor = fanzerrors.New(fanzerrors.CodeInvalidRequest, "unknown processor")

// guarded wraps an adapter with its breaker and rate limiter. Breaker
// accounting only counts infrastructure failures; a decline is a
// processor answering, not a processor failing.
type guarded struct {
	adapter Adapter
	breaker *Breaker
	limiter *rate.Limiter
}

// Registry holds the configured processor adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]*guarded
	now      func() time.Time
}

// RegistryOption customises the registry instance.
type RegistryOption func(*Registry)

// WithRegistryClock sets the function used to derive timestamps.
func WithRegistryClock(clock func() time.Time) RegistryOption {
	return func(r *Registry) {
		if clock != nil {
			r.now = clock
		}
	}
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{adapters: make(map[string]*guarded), now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register wires an adapter under its name. A zero rps disables rate
// limiting for that processor.
func (r *Registry) Register(adapter Adapter, breakerCfg BreakerConfig, rps float64, burst int) {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
		if burst <= 0 {
			burst = 1
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[adapter.Name()] = &guarded{
		adapter: adapter,
		breaker: NewBreaker(breakerCfg, r.now),
		limiter: rate.NewLimiter(limit, burst),
	}
}

func (r *Registry) lookup(name string) (*guarded, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.adapters[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProcessor, name)
	}
	return g, nil
}

// Names lists the registered processors in stable order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Available reports whether a processor's circuit admits traffic. The
// router uses this as a hard constraint.
func (r *Registry) Available(name string) bool {
	g, err := r.lookup(name)
	if err != nil {
		return false
	}
	return g.breaker.State() != BreakerOpen
}

// BreakerState exposes the circuit position for admin surfaces.
func (r *Registry) BreakerState(name string) (BreakerState, error) {
	g, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	return g.breaker.State(), nil
}

// call funnels every operation through the limiter and breaker.
func (g *guarded) call(ctx context.Context, op func(context.Context) error) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return fanzerrors.Wrap(fanzerrors.CodeRateLimited, err, "rate limit wait")
	}
	if !g.breaker.Allow() {
		return ErrBreakerOpen
	}
	err := op(ctx)
	g.breaker.Record(countsAsFailure(err))
	return err
}

// countsAsFailure classifies an error for breaker purposes. Timeouts and
// transient infrastructure errors trip the circuit; declines and request
// errors do not.
func countsAsFailure(err error) bool {
	if err == nil {
		return false
	}
	switch fanzerrors.Classify(err) {
	case fanzerrors.CodeTransient, fanzerrors.CodeTimeout, fanzerrors.CodeUnknown:
		return true
	}
	return false
}

// Authorize dispatches to the named processor.
func (r *Registry) Authorize(ctx context.Context, name string, req AuthorizeRequest) (Result, error) {
	g, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.call(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = g.adapter.Authorize(ctx, req)
		return opErr
	})
	return res, err
}

// Capture dispatches to the named processor.
func (r *Registry) Capture(ctx context.Context, name string, req CaptureRequest) (Result, error) {
	g, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.call(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = g.adapter.Capture(ctx, req)
		return opErr
	})
	return res, err
}

// Refund dispatches to the named processor.
func (r *Registry) Refund(ctx context.Context, name string, req RefundRequest) (Result, error) {
	g, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.call(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = g.adapter.Refund(ctx, req)
		return opErr
	})
	return res, err
}

// Void dispatches to the named processor.
func (r *Registry) Void(ctx context.Context, name string, req VoidRequest) (Result, error) {
	g, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.call(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = g.adapter.Void(ctx, req)
		return opErr
	})
	return res, err
}

// SendPayout dispatches to the named processor.
func (r *Registry) SendPayout(ctx context.Context, name string, req PayoutRequest) (Result, error) {
	g, err := r.lookup(name)
	if err != nil {
		return Result{}, err
	}
	var res Result
	err = g.call(ctx, func(ctx context.Context) error {
		var opErr error
		res, opErr = g.adapter.SendPayout(ctx, req)
		return opErr
	})
	return res, err
}

// VerifyWebhook dispatches verification without breaker accounting:
// inbound notifications are not outbound calls.
func (r *Registry) VerifyWebhook(name string, req WebhookRequest) (WebhookEvent, error) {
	g, err := r.lookup(name)
	if err != nil {
		return WebhookEvent{}, err
	}
	return g.adapter.VerifyWebhook(req)
}

// FetchSettlement dispatches to the named processor.
func (r *Registry) FetchSettlement(ctx context.Context, name string, date time.Time) ([]types.SettlementLine, error) {
	g, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	var lines []types.SettlementLine
	err = g.call(ctx, func(ctx context.Context) error {
		var opErr error
		lines, opErr = g.adapter.FetchSettlement(ctx, date)
		return opErr
	})
	return lines, err
}
