package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// EventBus is a prioritized in-process pub/sub with per-handler error
// isolation.
//
// Delivery order within one Publish is deterministic: priority ascending,
// registration order as tie-break. Subscriptions added during an in-flight
// Publish do not receive that event (snapshot semantics).
type EventBus struct {
	mu            sync.RWMutex
	subscriptions map[string][]Subscription
	logger        Logger
}

// NewEventBus creates an empty event bus.
func NewEventBus(logger Logger) *EventBus {
	if logger == nil {
		logger = NoopLogger{}
	}
	return &EventBus{
		subscriptions: make(map[string][]Subscription),
		logger:        logger,
	}
}

// Subscribe registers a subscription and returns it with its HandlerID
// assigned. Duplicate subscribers are allowed; each is independent.
func (b *EventBus) Subscribe(sub Subscription) Subscription {
	if sub.HandlerID == "" {
		sub.HandlerID = NewID("sub")
	}

	b.mu.Lock()
	subs := append(b.subscriptions[sub.Name], sub)
	// Stable keeps registration order for equal priorities.
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].Priority < subs[j].Priority
	})
	b.subscriptions[sub.Name] = subs
	b.mu.Unlock()

	b.logger.Debug("Subscribed handler", "event", sub.Name, "handler", sub.HandlerID, "priority", sub.Priority)
	return sub
}

// Unsubscribe removes every subscription for the event name whose handler
// ID matches. Returns the number of removed subscriptions.
func (b *EventBus) Unsubscribe(name, handlerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subscriptions[name]
	if len(subs) == 0 {
		return 0
	}

	kept := subs[:0]
	for _, s := range subs {
		if s.HandlerID != handlerID {
			kept = append(kept, s)
		}
	}
	removed := len(subs) - len(kept)

	if len(kept) > 0 {
		b.subscriptions[name] = kept
	} else {
		delete(b.subscriptions, name)
	}
	return removed
}

// SubscriberCount returns the number of subscriptions for an event name.
func (b *EventBus) SubscriberCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscriptions[name])
}

// Publish delivers the envelope to every subscriber of its name, in
// priority order, sequentially.
//
// A failing handler with IsolateErrors set produces an internally published
// system.handler_error event; with StopOnError also set, the remaining
// subscribers of the original event are skipped. A failing handler without
// IsolateErrors aborts delivery and the error propagates to the caller.
func (b *EventBus) Publish(ctx context.Context, event EventEnvelope) error {
	subs := b.snapshot(event.Name)
	if len(subs) == 0 {
		b.logger.Debug("No subscribers for event", "event", event.Name)
		return nil
	}

	for _, sub := range subs {
		err := sub.Handler(ctx, event)
		if err == nil {
			continue
		}

		b.logger.Error("Error in event handler", "event", event.Name, "handler", sub.HandlerID, "error", err)

		if !sub.IsolateErrors {
			return fmt.Errorf("%w: event %q handler %q: %w", ErrHandlerFailed, event.Name, sub.HandlerID, err)
		}

		errEvent := EventEnvelope{
			Name:       EventSystemHandlerError,
			Kind:       EventKindSystem,
			TenantID:   event.TenantID,
			EventID:    NewID("evt"),
			TraceID:    event.TraceID,
			OccurredAt: NowMillis(),
			RequestID:  event.RequestID,
			TicketID:   event.TicketID,
			Payload: map[string]any{
				"failed_event":  event.Name,
				"handler":       sub.HandlerID,
				"error_type":    fmt.Sprintf("%T", err),
				"error_message": err.Error(),
			},
		}
		b.publishInternal(ctx, errEvent)

		if sub.StopOnError {
			break
		}
	}
	return nil
}

// publishInternal delivers system events, swallowing handler failures to
// prevent error recursion.
func (b *EventBus) publishInternal(ctx context.Context, event EventEnvelope) {
	for _, sub := range b.snapshot(event.Name) {
		if err := sub.Handler(ctx, event); err != nil {
			b.logger.Error("Error in system event handler", "event", event.Name, "handler", sub.HandlerID, "error", err)
		}
	}
}

func (b *EventBus) snapshot(name string) []Subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := b.subscriptions[name]
	if len(subs) == 0 {
		return nil
	}
	out := make([]Subscription, len(subs))
	copy(out, subs)
	return out
}
