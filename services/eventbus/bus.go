// Package eventbus fans domain events out to in-process subscribers,
// outbound webhook subscriptions, and the websocket stream. Delivery to
// each subscriber preserves emit order; a slow subscriber drops its
// oldest queued events rather than blocking emitters.
package eventbus

import (
	"sync"
	"time"

	"fanzcore/core/events"
)

const defaultBuffer = 256

// Subscription is one in-process consumer of enveloped events.
type Subscription struct {
	families map[string]struct{}
	ch       chan events.Envelope
	closed   chan struct{}
	once     sync.Once
}

// C is the ordered event channel.
func (s *Subscription) C() <-chan events.Envelope { return s.ch }

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() { close(s.closed) })
}

func (s *Subscription) wants(eventType string) bool {
	if len(s.families) == 0 {
		return true
	}
	_, ok := s.families[events.Family(eventType)]
	return ok
}

// Bus is the in-process event hub. It implements events.Emitter.
type Bus struct {
	source string
	now    func() time.Time

	mu   sync.Mutex
	subs []*Subscription
}

// Option customises the bus instance.
type Option func(*Bus)

// WithClock sets the function used to derive envelope timestamps.
func WithClock(clock func() time.Time) Option {
	return func(b *Bus) {
		if clock != nil {
			b.now = clock
		}
	}
}

// New constructs a bus stamping envelopes with source.
func New(source string, opts ...Option) *Bus {
	b := &Bus{source: source, now: time.Now}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers a consumer for the given topic families. No
// families means all events.
func (b *Bus) Subscribe(families ...string) *Subscription {
	sub := &Subscription{
		ch:     make(chan events.Envelope, defaultBuffer),
		closed: make(chan struct{}),
	}
	if len(families) > 0 {
		sub.families = make(map[string]struct{}, len(families))
		for _, family := range families {
			sub.families[family] = struct{}{}
		}
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return sub
}

// Emit implements events.Emitter. Events are enveloped once and pushed
// to every interested subscriber in registration order.
func (b *Bus) Emit(evt events.Event) {
	envelope, err := events.WrapEnvelope(evt, b.source, b.now())
	if err != nil {
		return
	}
	b.mu.Lock()
	live := b.subs[:0]
	for _, sub := range b.subs {
		select {
		case <-sub.closed:
			continue
		default:
		}
		live = append(live, sub)
		if !sub.wants(envelope.EventType) {
			continue
		}
		select {
		case sub.ch <- envelope:
		default:
			// Queue full: drop the oldest so order-preserving delivery
			// continues for a consumer that is merely lagging.
			select {
			case <-sub.ch:
			default:
			}
			select {
			case sub.ch <- envelope:
			default:
			}
		}
	}
	b.subs = live
	b.mu.Unlock()
}
