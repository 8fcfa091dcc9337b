// internal/events/bus.go
package events

import (
	"sync"

	"go.uber.org/zap"

	"modbus-connector/internal/model"
)

const (
	defaultBusBuffer        = 1000
	defaultSubscriberBuffer = 100
)

// Bus distributes lifecycle events to subscribers.
// Publish never blocks; events are dropped when the bus or a subscriber is full.
type Bus struct {
	subscribers map[model.EventType][]chan model.LifecycleEvent
	all         []chan model.LifecycleEvent
	events      chan model.LifecycleEvent
	done        chan struct{}
	closeOnce   sync.Once
	mutex       sync.RWMutex
	logger      *zap.Logger
}

// NewBus creates a new event bus
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subscribers: make(map[model.EventType][]chan model.LifecycleEvent),
		events:      make(chan model.LifecycleEvent, defaultBusBuffer),
		done:        make(chan struct{}),
		logger:      logger.With(zap.String("component", "event-bus")),
	}
}

// Start distributes events until Close is called
func (b *Bus) Start() {
	for {
		select {
		case <-b.done:
			return
		case event := <-b.events:
			b.distribute(event)
		}
	}
}

// Close stops distribution and closes every subscriber channel
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		close(b.done)

		b.mutex.Lock()
		defer b.mutex.Unlock()
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				close(ch)
			}
		}
		for _, ch := range b.all {
			close(ch)
		}
		b.subscribers = make(map[model.EventType][]chan model.LifecycleEvent)
		b.all = nil
	})
}

// Publish publishes an event
func (b *Bus) Publish(event model.LifecycleEvent) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.events <- event:
	default:
		b.logger.Warn("Event bus full, dropping event",
			zap.String("event_type", string(event.EventType)),
			zap.String("connection", event.Connection),
		)
	}
}

// Subscribe subscribes to events of a specific type
func (b *Bus) Subscribe(eventType model.EventType) <-chan model.LifecycleEvent {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subscriber := make(chan model.LifecycleEvent, defaultSubscriberBuffer)
	if b.isClosed() {
		close(subscriber)
		return subscriber
	}
	b.subscribers[eventType] = append(b.subscribers[eventType], subscriber)
	return subscriber
}

// SubscribeAll subscribes to every event
func (b *Bus) SubscribeAll() <-chan model.LifecycleEvent {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	subscriber := make(chan model.LifecycleEvent, defaultSubscriberBuffer)
	if b.isClosed() {
		close(subscriber)
		return subscriber
	}
	b.all = append(b.all, subscriber)
	return subscriber
}

// Unsubscribe removes and closes a subscription
func (b *Bus) Unsubscribe(subscription <-chan model.LifecycleEvent) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	for eventType, subs := range b.subscribers {
		if kept, removed := without(subs, subscription); removed {
			b.subscribers[eventType] = kept
			return
		}
	}
	if kept, removed := without(b.all, subscription); removed {
		b.all = kept
	}
}

func (b *Bus) isClosed() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

func without(subs []chan model.LifecycleEvent, target <-chan model.LifecycleEvent) ([]chan model.LifecycleEvent, bool) {
	for i, ch := range subs {
		if (<-chan model.LifecycleEvent)(ch) == target {
			close(ch)
			return append(subs[:i], subs[i+1:]...), true
		}
	}
	return subs, false
}

// distribute distributes an event to subscribers
func (b *Bus) distribute(event model.LifecycleEvent) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, subscriber := range b.subscribers[event.EventType] {
		b.deliver(subscriber, event)
	}
	for _, subscriber := range b.all {
		b.deliver(subscriber, event)
	}
}

func (b *Bus) deliver(subscriber chan model.LifecycleEvent, event model.LifecycleEvent) {
	select {
	case subscriber <- event:
	default:
		// subscriber is slow, skip
	}
}
