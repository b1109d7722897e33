// Package webhookd ingests processor notifications. Every event is
// signature-verified, deduplicated on its processor event id and then
// handed to the orchestrator exactly once; replays acknowledge without
// side effects so processors stop resending.
package webhookd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lukechampine.com/blake3"

	"fanzcore/native/idempotency"
	"fanzcore/processor"
)

// ErrDuplicate reports an event that was already applied or is being
// applied concurrently.
var ErrDuplicate = errors.New("webhookd: duplicate event")

// dedupTTL bounds how long an event id blocks replays. Processors
// retry for at most a couple of days.
const dedupTTL = 48 * time.Hour

// Verifier checks an inbound notification and translates it to the
// canonical event form. The processor registry satisfies this.
type Verifier interface {
	VerifyWebhook(name string, req processor.WebhookRequest) (processor.WebhookEvent, error)
}

// Applier applies a verified event to the transaction it references.
// The orchestrator satisfies this.
type Applier interface {
	ApplyProcessorEvent(ctx context.Context, processorName string, evt processor.WebhookEvent) error
}

// Ingestor runs the verify-dedup-apply pipeline.
type Ingestor struct {
	verifier Verifier
	applier  Applier
	idem     idempotency.Store
	log      *slog.Logger
	ttl      time.Duration
}

// Option customises the ingestor.
type Option func(*Ingestor)

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(i *Ingestor) {
		if log != nil {
			i.log = log
		}
	}
}

// WithDedupTTL overrides how long applied event ids are remembered.
func WithDedupTTL(ttl time.Duration) Option {
	return func(i *Ingestor) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// NewIngestor constructs the pipeline.
func NewIngestor(verifier Verifier, applier Applier, idem idempotency.Store, opts ...Option) (*Ingestor, error) {
	switch {
	case verifier == nil:
		return nil, errors.New("webhookd: verifier required")
	case applier == nil:
		return nil, errors.New("webhookd: applier required")
	case idem == nil:
		return nil, errors.New("webhookd: idempotency store required")
	}
	i := &Ingestor{
		verifier: verifier,
		applier:  applier,
		idem:     idem,
		log:      slog.Default(),
		ttl:      dedupTTL,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// Ingest verifies and applies one notification. Duplicates return
// ErrDuplicate with the already-applied event; callers acknowledge
// those with a success status.
func (i *Ingestor) Ingest(ctx context.Context, processorName string, req processor.WebhookRequest) (processor.WebhookEvent, error) {
	evt, err := i.verifier.VerifyWebhook(processorName, req)
	if err != nil {
		return processor.WebhookEvent{}, err
	}

	key := processorName + ":" + evt.EventID
	if evt.EventID == "" {
		// Some processors omit an event id; fall back to a body hash so
		// byte-identical retries still dedup.
		sum := blake3.Sum256(req.Body)
		key = fmt.Sprintf("%s:body-%x", processorName, sum[:16])
	}
	reservation, err := i.idem.Reserve(ctx, idempotency.ScopeProcessorEvent, key, i.ttl)
	if err != nil {
		return processor.WebhookEvent{}, err
	}
	if reservation.State != idempotency.Fresh {
		i.log.Debug("webhook replay acknowledged",
			"processor", processorName, "event_id", evt.EventID, "kind", evt.Kind)
		return evt, ErrDuplicate
	}

	if err := i.applier.ApplyProcessorEvent(ctx, processorName, evt); err != nil {
		// Free the key so the processor's retry gets another attempt.
		_ = i.idem.Release(ctx, idempotency.ScopeProcessorEvent, key)
		return evt, err
	}
	if envelope, merr := json.Marshal(map[string]string{
		"kind":          string(evt.Kind),
		"processorTxId": evt.ProcessorTxID,
	}); merr == nil {
		_ = i.idem.Commit(ctx, idempotency.ScopeProcessorEvent, key, envelope)
	}
	i.log.Info("webhook applied",
		"processor", processorName, "event_id", evt.EventID,
		"kind", evt.Kind, "processor_tx_id", evt.ProcessorTxID)
	return evt, nil
}
