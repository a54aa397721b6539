package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEnvelope(name string) EventEnvelope {
	return EventEnvelope{
		Name:       name,
		Kind:       EventKindDomain,
		TenantID:   "tenant_a",
		EventID:    NewID("evt"),
		TraceID:    "trc_test",
		OccurredAt: NowMillis(),
		Payload:    map[string]any{"k": "v"},
	}
}

func TestEventBusDeliversInPriorityOrder(t *testing.T) {
	bus := NewEventBus(nil)

	var order []string
	record := func(label string) EventHandler {
		return func(ctx context.Context, e EventEnvelope) error {
			order = append(order, label)
			return nil
		}
	}

	bus.Subscribe(Subscription{Name: "x.y", Handler: record("late"), Priority: 200})
	bus.Subscribe(Subscription{Name: "x.y", Handler: record("early"), Priority: 10})
	bus.Subscribe(Subscription{Name: "x.y", Handler: record("mid-first"), Priority: 100})
	bus.Subscribe(Subscription{Name: "x.y", Handler: record("mid-second"), Priority: 100})

	require.NoError(t, bus.Publish(context.Background(), testEnvelope("x.y")))

	// Priority ascending, registration order as tie-break.
	assert.Equal(t, []string{"early", "mid-first", "mid-second", "late"}, order)
}

func TestEventBusUnsubscribeRemovesAllMatches(t *testing.T) {
	bus := NewEventBus(nil)

	handler := func(ctx context.Context, e EventEnvelope) error { return nil }
	bus.Subscribe(Subscription{Name: "a.b", Handler: handler, HandlerID: "h1"})
	bus.Subscribe(Subscription{Name: "a.b", Handler: handler, HandlerID: "h1"})
	bus.Subscribe(Subscription{Name: "a.b", Handler: handler, HandlerID: "h2"})

	removed := bus.Unsubscribe("a.b", "h1")
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, bus.SubscriberCount("a.b"))

	assert.Equal(t, 0, bus.Unsubscribe("a.b", "missing"))
	assert.Equal(t, 1, bus.Unsubscribe("a.b", "h2"))
	assert.Equal(t, 0, bus.SubscriberCount("a.b"))
}

func TestEventBusSubscribeAssignsHandlerID(t *testing.T) {
	bus := NewEventBus(nil)

	sub := bus.Subscribe(NewSubscription("a.b", func(ctx context.Context, e EventEnvelope) error { return nil }))
	require.NotEmpty(t, sub.HandlerID)
	assert.Equal(t, 1, bus.Unsubscribe("a.b", sub.HandlerID))
}

func TestEventBusIsolatedHandlerErrorEmitsSystemEvent(t *testing.T) {
	bus := NewEventBus(nil)

	var systemEvents []EventEnvelope
	bus.Subscribe(Subscription{
		Name: EventSystemHandlerError,
		Handler: func(ctx context.Context, e EventEnvelope) error {
			systemEvents = append(systemEvents, e)
			return nil
		},
		IsolateErrors: true,
	})

	var delivered []string
	bus.Subscribe(Subscription{
		Name:     "svc.op",
		Priority: 1,
		Handler: func(ctx context.Context, e EventEnvelope) error {
			return errors.New("boom")
		},
		HandlerID:     "failing",
		IsolateErrors: true,
	})
	bus.Subscribe(Subscription{
		Name:     "svc.op",
		Priority: 2,
		Handler: func(ctx context.Context, e EventEnvelope) error {
			delivered = append(delivered, e.Name)
			return nil
		},
		IsolateErrors: true,
	})

	original := testEnvelope("svc.op")
	original.RequestID = "req_1"
	original.TicketID = "tkt_1"
	require.NoError(t, bus.Publish(context.Background(), original))

	// Delivery continued past the failing handler.
	assert.Equal(t, []string{"svc.op"}, delivered)

	require.Len(t, systemEvents, 1)
	errEvent := systemEvents[0]
	assert.Equal(t, EventKindSystem, errEvent.Kind)
	assert.Equal(t, original.TenantID, errEvent.TenantID)
	assert.Equal(t, original.TraceID, errEvent.TraceID)
	assert.Equal(t, "req_1", errEvent.RequestID)
	assert.Equal(t, "tkt_1", errEvent.TicketID)
	assert.Equal(t, "svc.op", errEvent.Payload["failed_event"])
	assert.Equal(t, "failing", errEvent.Payload["handler"])
	assert.Equal(t, "boom", errEvent.Payload["error_message"])
}

func TestEventBusStopOnErrorSkipsRemaining(t *testing.T) {
	bus := NewEventBus(nil)

	reached := false
	bus.Subscribe(Subscription{
		Name:          "svc.op",
		Priority:      1,
		Handler:       func(ctx context.Context, e EventEnvelope) error { return errors.New("boom") },
		IsolateErrors: true,
		StopOnError:   true,
	})
	bus.Subscribe(Subscription{
		Name:     "svc.op",
		Priority: 2,
		Handler: func(ctx context.Context, e EventEnvelope) error {
			reached = true
			return nil
		},
	})

	require.NoError(t, bus.Publish(context.Background(), testEnvelope("svc.op")))
	assert.False(t, reached, "subscriber after StopOnError failure should be skipped")
}

func TestEventBusUnisolatedErrorPropagates(t *testing.T) {
	bus := NewEventBus(nil)

	reached := false
	bus.Subscribe(Subscription{
		Name:          "svc.op",
		Priority:      1,
		Handler:       func(ctx context.Context, e EventEnvelope) error { return errors.New("boom") },
		IsolateErrors: false,
	})
	bus.Subscribe(Subscription{
		Name:     "svc.op",
		Priority: 2,
		Handler: func(ctx context.Context, e EventEnvelope) error {
			reached = true
			return nil
		},
	})

	err := bus.Publish(context.Background(), testEnvelope("svc.op"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrHandlerFailed)
	assert.False(t, reached, "delivery should abort when an unisolated handler fails")
}

func TestEventBusSystemEventErrorsAreSwallowed(t *testing.T) {
	bus := NewEventBus(nil)

	// A failing system.handler_error subscriber must not recurse or abort.
	bus.Subscribe(Subscription{
		Name:          EventSystemHandlerError,
		Handler:       func(ctx context.Context, e EventEnvelope) error { return errors.New("nested") },
		IsolateErrors: true,
	})
	bus.Subscribe(Subscription{
		Name:          "svc.op",
		Handler:       func(ctx context.Context, e EventEnvelope) error { return errors.New("boom") },
		IsolateErrors: true,
	})

	require.NoError(t, bus.Publish(context.Background(), testEnvelope("svc.op")))
}

func TestEventBusSnapshotSemantics(t *testing.T) {
	bus := NewEventBus(nil)

	lateDelivered := 0
	bus.Subscribe(Subscription{
		Name: "svc.op",
		Handler: func(ctx context.Context, e EventEnvelope) error {
			// Registered mid-publish; must not see the in-flight event.
			bus.Subscribe(Subscription{
				Name: "svc.op",
				Handler: func(ctx context.Context, e EventEnvelope) error {
					lateDelivered++
					return nil
				},
			})
			return nil
		},
	})

	require.NoError(t, bus.Publish(context.Background(), testEnvelope("svc.op")))
	assert.Equal(t, 0, lateDelivered)

	require.NoError(t, bus.Publish(context.Background(), testEnvelope("svc.op")))
	assert.Equal(t, 1, lateDelivered)
}

func TestEventBusPublishWithoutSubscribers(t *testing.T) {
	bus := NewEventBus(nil)
	if err := bus.Publish(context.Background(), testEnvelope("nobody.listens")); err != nil {
		t.Fatalf("publish to empty topic failed: %v", err)
	}
}
