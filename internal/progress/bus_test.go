package progress

import (
	"testing"

	"github.com/orderrush/saga-orchestrator/internal/domain"
)

func event(orderID string, eventType domain.EventType) *domain.OrderEvent {
	return &domain.OrderEvent{OrderID: orderID, EventType: eventType}
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("order-1")
	defer sub.Close()

	published := []domain.EventType{
		domain.EventSagaStarted,
		domain.EventStepStarted,
		domain.EventStepCompleted,
	}
	for _, et := range published {
		bus.Publish(event("order-1", et))
	}

	for i, want := range published {
		got := <-sub.Events()
		if got.EventType != want {
			t.Fatalf("position %d: expected %s, got %s", i, want, got.EventType)
		}
	}
}

func TestBus_IsolatesOrders(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("order-1")
	defer sub.Close()

	bus.Publish(event("order-2", domain.EventStepCompleted))

	select {
	case e := <-sub.Events():
		t.Fatalf("received another order's event: %+v", e)
	default:
	}
}

func TestBus_OverflowInsertsDroppedMarker(t *testing.T) {
	bus := NewBus(4)
	sub := bus.Subscribe("order-1")
	defer sub.Close()

	// Fill the buffer and one more; no consumer is draining
	for i := 0; i < 5; i++ {
		bus.Publish(event("order-1", domain.EventStepStarted))
	}

	var got []domain.EventType
	for len(sub.Events()) > 0 {
		got = append(got, (<-sub.Events()).EventType)
	}

	dropped := false
	for _, et := range got {
		if et == domain.EventDropped {
			dropped = true
		}
	}
	if !dropped {
		t.Fatalf("expected a DROPPED marker in %v", got)
	}
	// Two oldest were discarded for the marker and the new event
	if len(got) != 4 {
		t.Errorf("expected 4 buffered events, got %d (%v)", len(got), got)
	}
}

func TestBus_TerminalEventClosesSubscription(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("order-1")

	bus.Publish(event("order-1", domain.EventSagaCompleted))

	if got := (<-sub.Events()).EventType; got != domain.EventSagaCompleted {
		t.Fatalf("expected SAGA_COMPLETED, got %s", got)
	}
	if got := (<-sub.Events()).EventType; got != domain.EventTerminal {
		t.Fatalf("expected TERMINAL marker, got %s", got)
	}
	if _, open := <-sub.Events(); open {
		t.Error("expected the channel closed after the TERMINAL marker")
	}
	if n := bus.SubscriberCount("order-1"); n != 0 {
		t.Errorf("expected 0 subscribers after terminal event, got %d", n)
	}
}

func TestBus_CompensationCompletedIsTerminal(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("order-1")

	bus.Publish(event("order-1", domain.EventCompensationCompleted))

	<-sub.Events() // the event itself
	if got := (<-sub.Events()).EventType; got != domain.EventTerminal {
		t.Fatalf("expected TERMINAL marker, got %s", got)
	}
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	bus := NewBus(8)
	sub := bus.Subscribe("order-1")

	sub.Close()
	sub.Close()

	if n := bus.SubscriberCount("order-1"); n != 0 {
		t.Errorf("expected 0 subscribers, got %d", n)
	}
	// Publishing to a closed subscription must not panic
	bus.Publish(event("order-1", domain.EventStepCompleted))
}

func TestBus_MultipleSubscribersEachReceive(t *testing.T) {
	bus := NewBus(8)
	a := bus.Subscribe("order-1")
	b := bus.Subscribe("order-1")
	defer a.Close()
	defer b.Close()

	if n := bus.SubscriberCount("order-1"); n != 2 {
		t.Fatalf("expected 2 subscribers, got %d", n)
	}

	bus.Publish(event("order-1", domain.EventStepCompleted))

	if got := (<-a.Events()).EventType; got != domain.EventStepCompleted {
		t.Errorf("subscriber a: expected STEP_COMPLETED, got %s", got)
	}
	if got := (<-b.Events()).EventType; got != domain.EventStepCompleted {
		t.Errorf("subscriber b: expected STEP_COMPLETED, got %s", got)
	}
}

func TestBus_MinimumBufferSize(t *testing.T) {
	// A zero buffer is raised to the minimum so the gap marker always fits
	bus := NewBus(0)
	sub := bus.Subscribe("order-1")
	defer sub.Close()

	bus.Publish(event("order-1", domain.EventStepStarted))
	bus.Publish(event("order-1", domain.EventStepCompleted))
	bus.Publish(event("order-1", domain.EventStepStarted))

	// Publisher must not have blocked; buffer holds a DROPPED marker plus the
	// latest event
	got := (<-sub.Events()).EventType
	if got != domain.EventDropped {
		t.Fatalf("expected DROPPED marker first, got %s", got)
	}
}
