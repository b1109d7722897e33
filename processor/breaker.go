package processor

import (
	"errors"
	"sync"
	"time"
)

// ErrBreakerOpen reports a call rejected because the processor's circuit
// is open.
var ErrBreakerOpen = errors.New("processor: circuit open")

// BreakerState is the circuit position.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	// Window is the rolling observation period.
	Window time.Duration
	// MinRequests is the minimum sample size before the ratio applies.
	MinRequests int
	// ErrorRatio in [0,1] opens the circuit once reached.
	ErrorRatio float64
	// Cooldown is how long the circuit stays open before probing.
	Cooldown time.Duration
}

// DefaultBreakerConfig mirrors the shipped processor policy.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:      30 * time.Second,
		MinRequests: 10,
		ErrorRatio:  0.5,
		Cooldown:    30 * time.Second,
	}
}

type breakerBucket struct {
	start    time.Time
	total    int
	failures int
}

// Breaker is a rolling-window circuit breaker. Only errors the caller
// classifies as processor failures count; declines are outcomes, not
// failures, and must not trip the circuit.
type Breaker struct {
	cfg BreakerConfig
	now func() time.Time

	mu       sync.Mutex
	state    BreakerState
	buckets  []breakerBucket
	openedAt time.Time
	probing  bool
}

// NewBreaker constructs a closed breaker.
func NewBreaker(cfg BreakerConfig, now func() time.Time) *Breaker {
	if cfg.Window <= 0 {
		cfg.Window = DefaultBreakerConfig().Window
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultBreakerConfig().Cooldown
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = DefaultBreakerConfig().MinRequests
	}
	if cfg.ErrorRatio <= 0 || cfg.ErrorRatio > 1 {
		cfg.ErrorRatio = DefaultBreakerConfig().ErrorRatio
	}
	if now == nil {
		now = time.Now
	}
	return &Breaker{cfg: cfg, now: now, state: BreakerClosed}
}

// Allow reports whether a call may proceed. In half-open state exactly
// one probe is admitted at a time.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
			b.state = BreakerHalfOpen
			b.probing = true
			return true
		}
		return false
	case BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// Record feeds a call outcome into the window.
func (b *Breaker) Record(failed bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.now()

	if b.state == BreakerHalfOpen {
		b.probing = false
		if failed {
			b.state = BreakerOpen
			b.openedAt = now
			b.buckets = nil
			return
		}
		b.state = BreakerClosed
		b.buckets = nil
		return
	}

	b.observe(now, failed)
	total, failures := b.tally(now)
	if total >= b.cfg.MinRequests && float64(failures)/float64(total) >= b.cfg.ErrorRatio {
		b.state = BreakerOpen
		b.openedAt = now
		b.buckets = nil
	}
}

// State returns the current circuit position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return BreakerHalfOpen
	}
	return b.state
}

// observe appends to one-second buckets, dropping those outside the window.
func (b *Breaker) observe(now time.Time, failed bool) {
	second := now.Truncate(time.Second)
	if n := len(b.buckets); n == 0 || !b.buckets[n-1].start.Equal(second) {
		b.buckets = append(b.buckets, breakerBucket{start: second})
	}
	last := &b.buckets[len(b.buckets)-1]
	last.total++
	if failed {
		last.failures++
	}
	cutoff := now.Add(-b.cfg.Window)
	trim := 0
	for trim < len(b.buckets) && b.buckets[trim].start.Before(cutoff) {
		trim++
	}
	b.buckets = b.buckets[trim:]
}

func (b *Breaker) tally(now time.Time) (total, failures int) {
	cutoff := now.Add(-b.cfg.Window)
	for _, bucket := range b.buckets {
		if bucket.start.Before(cutoff) {
			continue
		}
		total += bucket.total
		failures += bucket.failures
	}
	return total, failures
}
