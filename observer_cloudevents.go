package dispatch

// CloudEvents integration for the event bus. The bridge re-emits bus
// envelopes in CloudEvents format so external systems can consume runtime
// events through a standardized, interoperable shape.

import (
	"context"
	"fmt"
	"sync"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/google/uuid"
)

// CloudEventSource is the source URI attached to bridged events.
const CloudEventSource = "//dispatch/runtime"

// Observer receives bridged CloudEvents. ObserverID identifies the
// observer for unregistration.
type Observer interface {
	OnEvent(ctx context.Context, event cloudevents.Event) error
	ObserverID() string
}

// FunctionalObserver adapts a function to the Observer interface.
type FunctionalObserver struct {
	id      string
	handler func(ctx context.Context, event cloudevents.Event) error
}

// NewFunctionalObserver creates an observer backed by the given function.
func NewFunctionalObserver(id string, handler func(ctx context.Context, event cloudevents.Event) error) *FunctionalObserver {
	return &FunctionalObserver{id: id, handler: handler}
}

// OnEvent implements Observer.
func (f *FunctionalObserver) OnEvent(ctx context.Context, event cloudevents.Event) error {
	return f.handler(ctx, event)
}

// ObserverID implements Observer.
func (f *FunctionalObserver) ObserverID() string { return f.id }

// ToCloudEvent converts a bus envelope to a CloudEvent. The envelope name
// becomes the event type; tenant, trace, request, and ticket correlations
// travel as extensions; the payload is the JSON data.
func ToCloudEvent(env EventEnvelope) cloudevents.Event {
	event := cloudevents.NewEvent()
	event.SetID(env.EventID)
	event.SetSource(CloudEventSource)
	event.SetType(env.Name)
	event.SetSpecVersion(cloudevents.VersionV1)

	event.SetExtension("kind", string(env.Kind))
	event.SetExtension("tenantid", string(env.TenantID))
	event.SetExtension("traceid", env.TraceID)
	if env.RequestID != "" {
		event.SetExtension("requestid", env.RequestID)
	}
	if env.TicketID != "" {
		event.SetExtension("ticketid", env.TicketID)
	}

	if env.Payload != nil {
		_ = event.SetData(cloudevents.ApplicationJSON, env.Payload)
	}
	return event
}

// CloudEventBridge subscribes to bus event names and forwards matching
// envelopes to registered observers as CloudEvents. Observer errors are
// isolated by the bus's usual handler-error machinery.
type CloudEventBridge struct {
	bus    *EventBus
	logger Logger

	// handlerIDs: event name -> bus handler ID, for Close.
	handlerIDs map[string]string

	// observerMu guards observers; registrations happen while events flow.
	observerMu sync.RWMutex
	observers  map[string]Observer
}

// NewCloudEventBridge creates a bridge forwarding the given event names.
// Observers registered later receive events for all bridged names.
func NewCloudEventBridge(bus *EventBus, logger Logger, eventNames ...string) *CloudEventBridge {
	if logger == nil {
		logger = NoopLogger{}
	}
	b := &CloudEventBridge{
		bus:        bus,
		logger:     logger,
		handlerIDs: make(map[string]string, len(eventNames)),
		observers:  make(map[string]Observer),
	}
	for _, name := range eventNames {
		sub := bus.Subscribe(Subscription{
			Name:          name,
			Handler:       b.forward,
			HandlerID:     "cloudevents_bridge_" + uuid.NewString(),
			Priority:      DefaultSubscriptionPriority,
			IsolateErrors: true,
		})
		b.handlerIDs[name] = sub.HandlerID
	}
	return b
}

// RegisterObserver adds an observer. A later registration with the same
// ID replaces the earlier one.
func (b *CloudEventBridge) RegisterObserver(observer Observer) {
	b.observerMu.Lock()
	b.observers[observer.ObserverID()] = observer
	b.observerMu.Unlock()
}

// UnregisterObserver removes an observer. No-op if absent.
func (b *CloudEventBridge) UnregisterObserver(observerID string) {
	b.observerMu.Lock()
	delete(b.observers, observerID)
	b.observerMu.Unlock()
}

// Close unsubscribes the bridge from the bus.
func (b *CloudEventBridge) Close() {
	for name, handlerID := range b.handlerIDs {
		b.bus.Unsubscribe(name, handlerID)
	}
	b.handlerIDs = map[string]string{}
}

func (b *CloudEventBridge) forward(ctx context.Context, env EventEnvelope) error {
	b.observerMu.RLock()
	observers := make(map[string]Observer, len(b.observers))
	for id, observer := range b.observers {
		observers[id] = observer
	}
	b.observerMu.RUnlock()

	if len(observers) == 0 {
		return nil
	}

	ce := ToCloudEvent(env)
	var firstErr error
	for id, observer := range observers {
		if err := observer.OnEvent(ctx, ce); err != nil {
			b.logger.Error("CloudEvent observer failed", "observer", id, "event", env.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("observer %q: %w", id, err)
			}
		}
	}
	return firstErr
}
