package dispatch

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies an envelope.
// Domain events describe business facts, service events describe service
// call lifecycle, and system events are emitted by the runtime itself.
type EventKind string

const (
	EventKindDomain  EventKind = "domain"
	EventKindService EventKind = "service"
	EventKindSystem  EventKind = "system"
)

// EventEnvelope is an immutable event record carried through the bus.
// Envelopes are append-only values; once published they are never mutated.
type EventEnvelope struct {
	// Name is the dotted event name, e.g. "service.text_compose.ok".
	Name string `json:"name"`

	// Kind classifies the envelope as domain, service, or system.
	Kind EventKind `json:"kind"`

	// TenantID identifies the tenant the event belongs to.
	TenantID TenantID `json:"tenantId"`

	// EventID uniquely identifies this envelope.
	EventID string `json:"eventId"`

	// TraceID links every envelope of one logical flow.
	TraceID string `json:"traceId"`

	// OccurredAt is the event time in milliseconds since epoch.
	OccurredAt int64 `json:"occurredAtMs"`

	// Payload carries free-form event data. Never store secrets here.
	Payload map[string]any `json:"payload,omitempty"`

	// RequestID optionally correlates the envelope to a request.
	RequestID string `json:"requestId,omitempty"`

	// TicketID optionally correlates the envelope to a deferred ticket.
	TicketID string `json:"ticketId,omitempty"`
}

// EventHandler processes a delivered envelope. Handlers should respect
// context cancellation and return promptly when the context is cancelled.
type EventHandler func(ctx context.Context, event EventEnvelope) error

// Subscription binds a handler to an event name.
//
// Handler funcs are not comparable in Go, so subscription identity is an
// explicit HandlerID string. Subscribers keep the ID returned by Subscribe
// and present it to Unsubscribe; module handles record it for detach.
type Subscription struct {
	// Name is the event name to receive.
	Name string

	// Handler is invoked for each matching envelope.
	Handler EventHandler

	// HandlerID identifies the handler for unsubscription. Assigned a
	// fresh UUID by Subscribe when left empty.
	HandlerID string

	// Priority orders delivery; lower runs earlier. Defaults to 100 via
	// NewSubscription.
	Priority int

	// StopOnError skips the remaining subscribers of the original event
	// after this handler fails. Only meaningful with IsolateErrors.
	StopOnError bool

	// IsolateErrors captures handler failures and re-emits them as
	// system.handler_error events instead of propagating to the publisher.
	IsolateErrors bool
}

// DefaultSubscriptionPriority is the priority assigned by NewSubscription.
const DefaultSubscriptionPriority = 100

// NewSubscription creates a subscription with the default priority and
// error isolation enabled, matching the common case.
func NewSubscription(name string, handler EventHandler) Subscription {
	return Subscription{
		Name:          name,
		Handler:       handler,
		Priority:      DefaultSubscriptionPriority,
		IsolateErrors: true,
	}
}

// NowMillis returns the current wall-clock time in milliseconds since epoch.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

// NewID generates a prefixed unique identifier, e.g. "evt_6f1a...".
func NewID(prefix string) string {
	return prefix + "_" + uuid.NewString()
}
