// Package idempotency deduplicates inbound requests, processor webhook
// events and outbound processor calls. Keys are scoped; a reservation is
// either fresh, held by another worker, or already committed with the
// first response envelope.
package idempotency

import (
	"context"
	"errors"
	"time"
)

// Scope partitions the key space.
type Scope string

const (
	ScopeInboundRequest Scope = "inbound-request"
	ScopeProcessorEvent Scope = "processor-event"
	ScopeOutboundCall   Scope = "outbound-call"
)

// State of a reservation.
type State string

const (
	// Fresh means the caller now holds the reservation and must Commit.
	Fresh State = "fresh"
	// InFlight means another worker holds the reservation; back off with
	// jitter and retry.
	InFlight State = "in_flight"
	// Committed means the key completed earlier; Envelope holds the first
	// response.
	Committed State = "committed"
)

// ErrUnknownKey is returned by Commit for a key never reserved.
var ErrUnknownKey = errors.New("idempotency: unknown key")

// Reservation is the outcome of Reserve.
type Reservation struct {
	State    State
	Envelope []byte
}

// Store is the idempotency contract shared by all backends.
type Store interface {
	// Reserve claims (scope, key) for the caller. An expired in-flight
	// reservation (past its TTL) is treated as abandoned and re-issued
	// fresh.
	Reserve(ctx context.Context, scope Scope, key string, ttl time.Duration) (Reservation, error)
	// Commit finalises a held reservation with the response envelope.
	Commit(ctx context.Context, scope Scope, key string, envelope []byte) error
	// Release abandons a held reservation so another worker can claim it.
	Release(ctx context.Context, scope Scope, key string) error
}
