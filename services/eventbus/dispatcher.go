package eventbus

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"fanzcore/core/events"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second

	// DefaultRateLimit bounds deliveries per subscription per minute.
	DefaultRateLimit = 60
)

// OutboundSubscription is an external consumer endpoint.
type OutboundSubscription struct {
	ID        string
	Endpoint  string
	Secret    []byte
	Families  []string
	RateLimit int
}

// Dispatcher delivers envelopes to outbound subscriptions with
// at-least-once semantics: retry with exponential backoff, signed
// bodies, per-subscription rate limiting.
type Dispatcher struct {
	client      *http.Client
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration
	now         func() time.Time

	subsMu sync.RWMutex
	subs   map[string]OutboundSubscription

	rateMu sync.Mutex
	rate   map[string]rateWindow

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan outboundDelivery
	wg     sync.WaitGroup
}

type rateWindow struct {
	windowStart time.Time
	count       int
}

type outboundDelivery struct {
	sub      OutboundSubscription
	envelope events.Envelope
	body     []byte
}

// DispatcherOption mutates dispatcher configuration.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) DispatcherOption {
	return func(d *Dispatcher) {
		if maxAttempts > 0 {
			d.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			d.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			d.maxBackoff = maxBackoff
		}
	}
}

// WithDispatcherClock sets the function used for rate windows.
func WithDispatcherClock(clock func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if clock != nil {
			d.now = clock
		}
	}
}

// NewDispatcher constructs a dispatcher and spawns the worker goroutine.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		client:      &http.Client{Timeout: 15 * time.Second},
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		now:         time.Now,
		subs:        make(map[string]OutboundSubscription),
		rate:        make(map[string]rateWindow),
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan outboundDelivery, 128),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.wg.Add(1)
	go d.worker()
	return d
}

// Close stops the dispatcher and waits for in-flight deliveries.
func (d *Dispatcher) Close() {
	d.cancel()
	d.wg.Wait()
}

// Backlog is the number of queued outbound deliveries. Feeds the
// orchestrator's overload probe.
func (d *Dispatcher) Backlog() int {
	return len(d.queue)
}

// AddSubscription registers or replaces an outbound endpoint.
func (d *Dispatcher) AddSubscription(sub OutboundSubscription) error {
	if strings.TrimSpace(sub.ID) == "" {
		return errors.New("eventbus: subscription id required")
	}
	if strings.TrimSpace(sub.Endpoint) == "" {
		return errors.New("eventbus: endpoint required")
	}
	if len(sub.Secret) == 0 {
		return errors.New("eventbus: secret required")
	}
	sub.Secret = append([]byte(nil), sub.Secret...)
	d.subsMu.Lock()
	d.subs[sub.ID] = sub
	d.subsMu.Unlock()
	return nil
}

// RemoveSubscription unregisters an endpoint.
func (d *Dispatcher) RemoveSubscription(id string) {
	d.subsMu.Lock()
	delete(d.subs, id)
	d.subsMu.Unlock()
}

// Publish queues an envelope for every interested subscription.
func (d *Dispatcher) Publish(envelope events.Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		return err
	}
	family := events.Family(envelope.EventType)
	d.subsMu.RLock()
	targets := make([]OutboundSubscription, 0, len(d.subs))
	for _, sub := range d.subs {
		if subWants(sub, family) {
			targets = append(targets, sub)
		}
	}
	d.subsMu.RUnlock()

	for _, sub := range targets {
		select {
		case d.queue <- outboundDelivery{sub: sub, envelope: envelope, body: body}:
		case <-d.ctx.Done():
			return errors.New("eventbus: dispatcher closed")
		}
	}
	return nil
}

// Pump drains a bus subscription into the dispatcher until the context
// is cancelled.
func (d *Dispatcher) Pump(ctx context.Context, sub *Subscription) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.ctx.Done():
			return
		case envelope, ok := <-sub.C():
			if !ok {
				return
			}
			_ = d.Publish(envelope)
		}
	}
}

func subWants(sub OutboundSubscription, family string) bool {
	if len(sub.Families) == 0 {
		return true
	}
	for _, f := range sub.Families {
		if f == family {
			return true
		}
	}
	return false
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.process(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) process(job outboundDelivery) {
	if !d.allow(job.sub.ID, job.sub.RateLimit) {
		// Over the per-minute budget: requeue after the window resets.
		select {
		case <-time.After(d.untilReset(job.sub.ID)):
		case <-d.ctx.Done():
			return
		}
	}
	attempt := 0
	backoff := d.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(d.ctx, d.client.Timeout)
		err := d.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= d.maxAttempts {
			return
		}
		select {
		case <-time.After(backoff):
		case <-d.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, d.maxBackoff)
	}
}

func (d *Dispatcher) allow(id string, limit int) bool {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	now := d.now()
	d.rateMu.Lock()
	defer d.rateMu.Unlock()
	state := d.rate[id]
	if now.Sub(state.windowStart) >= time.Minute {
		state.windowStart = now
		state.count = 0
	}
	if state.count >= limit {
		d.rate[id] = state
		return false
	}
	state.count++
	d.rate[id] = state
	return true
}

func (d *Dispatcher) untilReset(id string) time.Duration {
	d.rateMu.Lock()
	defer d.rateMu.Unlock()
	state := d.rate[id]
	reset := state.windowStart.Add(time.Minute)
	wait := reset.Sub(d.now())
	if wait < 0 {
		return 0
	}
	return wait
}

func (d *Dispatcher) send(ctx context.Context, job outboundDelivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.sub.Endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	timestamp := strconv.FormatInt(d.now().Unix(), 10)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Fanz-Event", job.envelope.EventType)
	req.Header.Set("X-Fanz-Delivery", job.envelope.EventID)
	req.Header.Set("X-Fanz-Timestamp", timestamp)
	req.Header.Set("X-Fanz-Signature", sign(job.sub.Secret, timestamp, job.body))
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("eventbus: delivery failed with status %d", resp.StatusCode)
}

func sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write([]byte(timestamp))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
