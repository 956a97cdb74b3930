package service

import (
	"context"
	"encoding/json"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/progress"
	"github.com/orderrush/saga-orchestrator/pkg/kafka"
	"go.uber.org/zap"
)

// EventFanout delivers each recorded saga event to the in-process progress
// bus and, when a producer is wired, mirrors it to the Kafka events topic
// for downstream consumers. Both paths are fire-and-forget: neither may
// delay orchestration.
type EventFanout struct {
	bus      *progress.Bus
	producer *kafka.Producer
	topic    string
	logger   *zap.Logger
}

// NewEventFanout creates a fanout. producer may be nil when the mirror is
// disabled.
func NewEventFanout(bus *progress.Bus, producer *kafka.Producer, topic string, logger *zap.Logger) *EventFanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventFanout{bus: bus, producer: producer, topic: topic, logger: logger}
}

// Publish implements saga.EventPublisher
func (f *EventFanout) Publish(event *domain.OrderEvent) {
	f.bus.Publish(event)

	if f.producer == nil {
		return
	}
	// Bus markers are delivery artifacts, not order history
	if event.EventType == domain.EventDropped || event.EventType == domain.EventTerminal {
		return
	}

	value, err := json.Marshal(event)
	if err != nil {
		f.logger.Error("failed to marshal order event for kafka",
			zap.String("order_id", event.OrderID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err))
		return
	}

	headers := map[string]string{
		"event_type":   string(event.EventType),
		"event_id":     event.ID,
		"content_type": "application/json",
	}

	f.producer.ProduceAsync(context.Background(), f.topic, event.OrderID, value, headers, func(err error) {
		if err != nil {
			f.logger.Warn("failed to mirror order event to kafka",
				zap.String("order_id", event.OrderID),
				zap.String("event_type", string(event.EventType)),
				zap.Error(err))
		}
	})
}
