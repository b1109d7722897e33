package orchestrator

import (
	"context"
	"math/rand"
	"time"
)

// RetryPolicy bounds retries of outbound processor calls classified as
// retriable. Unknown errors get a reduced budget regardless of
// MaxAttempts.
type RetryPolicy struct {
	MaxAttempts int
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
}

// unknownBudget caps retries when the failure could not be classified.
const unknownBudget = 2

func (p RetryPolicy) normalized() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.MinBackoff <= 0 {
		p.MinBackoff = 200 * time.Millisecond
	}
	if p.MaxBackoff < p.MinBackoff {
		p.MaxBackoff = 5 * time.Second
	}
	return p
}

// backoff returns the jittered delay before the given retry (1-based).
// The base doubles per retry up to MaxBackoff; jitter keeps the full
// delay in [base/2, base) so synchronized workers spread out.
func (p RetryPolicy) backoff(retry int) time.Duration {
	base := p.MinBackoff
	for i := 1; i < retry; i++ {
		base *= 2
		if base >= p.MaxBackoff {
			base = p.MaxBackoff
			break
		}
	}
	half := base / 2
	if half <= 0 {
		return base
	}
	return half + time.Duration(rand.Int63n(int64(half)))
}

// sleepCtx waits for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
