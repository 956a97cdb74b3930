package progress

import (
	"context"
	"sync"
	"time"

	"github.com/orderrush/saga-orchestrator/internal/domain"
	"github.com/orderrush/saga-orchestrator/internal/metrics"
)

// minBufferSize leaves room for a gap marker next to the event that
// triggered the overflow
const minBufferSize = 2

// Subscription is one observer's bounded view of an order's progress.
// The channel closes after the TERMINAL marker or on Close.
type Subscription struct {
	orderID string
	ch      chan *domain.OrderEvent
	bus     *Bus
	once    sync.Once
}

// Events returns the subscriber's event channel
func (s *Subscription) Events() <-chan *domain.OrderEvent {
	return s.ch
}

// Close detaches the subscription from the bus
func (s *Subscription) Close() {
	s.bus.remove(s)
}

// Bus is the in-process progress pub/sub. Publishers never block: each
// subscriber has a bounded buffer and the oldest events are dropped on
// overflow, with a DROPPED marker standing in for the gap.
type Bus struct {
	mu         sync.Mutex
	bufferSize int
	subs       map[string]map[*Subscription]struct{}
}

// NewBus creates a progress bus with the given per-subscriber buffer size
func NewBus(bufferSize int) *Bus {
	if bufferSize < minBufferSize {
		bufferSize = minBufferSize
	}
	return &Bus{
		bufferSize: bufferSize,
		subs:       make(map[string]map[*Subscription]struct{}),
	}
}

// Subscribe attaches an observer to the order's progress stream
func (b *Bus) Subscribe(orderID string) *Subscription {
	sub := &Subscription{
		orderID: orderID,
		ch:      make(chan *domain.OrderEvent, b.bufferSize),
		bus:     b,
	}

	b.mu.Lock()
	set, ok := b.subs[orderID]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[orderID] = set
	}
	set[sub] = struct{}{}
	b.mu.Unlock()

	metrics.IncStreamSubscribers(context.Background())
	return sub
}

// Publish fans the event out to the order's subscribers in publish order.
// A terminal event is followed by a TERMINAL marker and the subscriptions
// are closed.
func (b *Bus) Publish(event *domain.OrderEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	set := b.subs[event.OrderID]
	if len(set) == 0 {
		return
	}

	terminal := event.EventType.IsTerminalEvent()
	for sub := range set {
		b.deliver(sub, event)
		if terminal {
			b.deliver(sub, &domain.OrderEvent{
				OrderID:   event.OrderID,
				EventType: domain.EventTerminal,
				Timestamp: time.Now(),
			})
		}
	}

	if terminal {
		for sub := range set {
			b.removeLocked(sub)
		}
	}
}

// deliver places the event in the subscriber's buffer without ever blocking
// the publisher. Publishes are serialised under the bus lock and consumers
// only drain, so after dropping two slots the sends below cannot block.
func (b *Bus) deliver(sub *Subscription, event *domain.OrderEvent) {
	select {
	case sub.ch <- event:
		return
	default:
	}

	for i := 0; i < 2; i++ {
		select {
		case <-sub.ch:
		default:
		}
	}
	sub.ch <- &domain.OrderEvent{
		OrderID:   sub.orderID,
		EventType: domain.EventDropped,
		Timestamp: time.Now(),
	}
	sub.ch <- event
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(sub)
}

// removeLocked detaches and closes the subscription; callers hold the lock
func (b *Bus) removeLocked(sub *Subscription) {
	set, ok := b.subs[sub.orderID]
	if !ok {
		return
	}
	if _, present := set[sub]; !present {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(b.subs, sub.orderID)
	}
	sub.once.Do(func() {
		close(sub.ch)
		metrics.DecStreamSubscribers(context.Background())
	})
}

// SubscriberCount reports the current subscriber count for an order
func (b *Bus) SubscriberCount(orderID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[orderID])
}
