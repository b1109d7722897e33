// Package events defines the domain events the core emits and the emitter
// contract the bus implements. Event types are closed; consumers must
// tolerate unknown extra fields inside payloads.
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is stamped on every outbound envelope.
const SchemaVersion = 1

// Event represents a structured state change emitted by the core.
type Event interface {
	EventType() string
	// Subject identifies the entity the event is about (e.g. "tx:<id>").
	Subject() string
}

// Emitter broadcasts events to downstream subscribers (bus, audit trail).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies Emitter while discarding all events. Useful when a
// component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Envelope is the canonical wire form published out-of-process.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Subject       string          `json:"subject"`
	Data          json.RawMessage `json:"data"`
	Source        string          `json:"source"`
	SchemaVersion int             `json:"schema_version"`
}

// WrapEnvelope serialises a domain event into its wire envelope.
func WrapEnvelope(evt Event, source string, occurredAt time.Time) (Envelope, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     evt.EventType(),
		OccurredAt:    occurredAt.UTC(),
		Subject:       evt.Subject(),
		Data:          data,
		Source:        source,
		SchemaVersion: SchemaVersion,
	}, nil
}

// Family returns the topic family of an event type, the segment before the
// first dot. Outbound subscriptions are keyed by family.
func Family(eventType string) string {
	for i := 0; i < len(eventType); i++ {
		if eventType[i] == '.' {
			return eventType[:i]
		}
	}
	return eventType
}
