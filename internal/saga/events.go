package saga

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/repository"
)

// EventPublisher fans a persisted event out to live observers. Publish must
// never block orchestration.
type EventPublisher interface {
	Publish(event *domain.OrderEvent)
}

// NoOpPublisher discards events
type NoOpPublisher struct{}

func (NoOpPublisher) Publish(event *domain.OrderEvent) {}

// EventRecorder persists timeline events and fans them out to the publisher.
// Persistence failures are logged, never propagated: an event write must not
// abort a step transition.
type EventRecorder struct {
	store     repository.Store
	publisher EventPublisher
	logger    Logger
}

// NewEventRecorder creates an event recorder
func NewEventRecorder(store repository.Store, publisher EventPublisher, logger Logger) *EventRecorder {
	if publisher == nil {
		publisher = NoOpPublisher{}
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &EventRecorder{store: store, publisher: publisher, logger: logger}
}

// Record appends the event to the order's timeline and publishes it
func (r *EventRecorder) Record(ctx context.Context, event *domain.OrderEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if err := r.store.AppendEvent(ctx, event); err != nil {
		r.logger.ErrorContext(ctx, "failed to append order event",
			"order_id", event.OrderID,
			"event_type", string(event.EventType),
			"error", err)
	}

	r.publisher.Publish(event)
}
