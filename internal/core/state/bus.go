package state

import (
	"strings"
	"sync"
	"sync/atomic"

	"github.com/frostdev-ops/pma-sensor-core/internal/core/types"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultSubscriberBuffer is the channel capacity of a subscription
const DefaultSubscriberBuffer = 64

// Filter selects the events a subscription receives
type Filter func(event *types.StateChangeEvent) bool

// AllEvents matches every event
func AllEvents(*types.StateChangeEvent) bool { return true }

// DeviceFilter matches events of one device
func DeviceFilter(deviceUUID string) Filter {
	return func(event *types.StateChangeEvent) bool { return event.UUID == deviceUUID }
}

// RoomFilter matches events of devices in a room, case-insensitively
func RoomFilter(room string) Filter {
	return func(event *types.StateChangeEvent) bool { return strings.EqualFold(event.Room, room) }
}

// TypeFilter matches events of one device type, case-insensitively
func TypeFilter(deviceType string) Filter {
	return func(event *types.StateChangeEvent) bool { return strings.EqualFold(event.DeviceType, deviceType) }
}

// Subscription is a live, lossy event stream
type Subscription struct {
	ID     string
	Events <-chan types.StateChangeEvent

	events  chan types.StateChangeEvent
	filter  Filter
	bus     *EventBus
	dropped atomic.Uint64
	once    sync.Once
}

// Dropped returns how many events were lost because the subscriber was slow
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close removes the subscription from its bus and closes the channel
func (s *Subscription) Close() {
	s.bus.Unsubscribe(s.ID)
}

// EventBus fans change events out to subscribers. Publishing never blocks;
// a full subscriber channel drops the event for that subscriber only.
type EventBus struct {
	subscriptions map[string]*Subscription
	buffer        int
	mutex         sync.RWMutex
	logger        *logrus.Logger
}

// NewEventBus creates a bus. buffer <= 0 uses DefaultSubscriberBuffer.
func NewEventBus(buffer int, logger *logrus.Logger) *EventBus {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	return &EventBus{
		subscriptions: make(map[string]*Subscription),
		buffer:        buffer,
		logger:        logger,
	}
}

// Subscribe registers a subscription. A nil filter receives every event.
func (b *EventBus) Subscribe(filter Filter) *Subscription {
	if filter == nil {
		filter = AllEvents
	}
	events := make(chan types.StateChangeEvent, b.buffer)
	sub := &Subscription{
		ID:     uuid.New().String(),
		Events: events,
		events: events,
		filter: filter,
		bus:    b,
	}

	b.mutex.Lock()
	b.subscriptions[sub.ID] = sub
	b.mutex.Unlock()

	b.logger.WithField("subscription_id", sub.ID).Debug("Event subscription added")
	return sub
}

// Unsubscribe removes a subscription and closes its channel
func (b *EventBus) Unsubscribe(id string) bool {
	b.mutex.Lock()
	sub, ok := b.subscriptions[id]
	delete(b.subscriptions, id)
	b.mutex.Unlock()

	if !ok {
		return false
	}
	sub.once.Do(func() { close(sub.events) })
	b.logger.WithField("subscription_id", id).Debug("Event subscription removed")
	return true
}

// Publish delivers event to every matching subscriber
func (b *EventBus) Publish(event types.StateChangeEvent) (delivered, dropped int) {
	b.mutex.RLock()
	defer b.mutex.RUnlock()

	for _, sub := range b.subscriptions {
		if !sub.filter(&event) {
			continue
		}
		select {
		case sub.events <- event:
			delivered++
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}

	if dropped > 0 {
		b.logger.WithFields(logrus.Fields{
			"event_id": event.ID,
			"uuid":     event.UUID,
			"dropped":  dropped,
		}).Debug("Slow subscribers missed a change event")
	}
	return delivered, dropped
}

// Len returns the number of subscriptions
func (b *EventBus) Len() int {
	b.mutex.RLock()
	defer b.mutex.RUnlock()
	return len(b.subscriptions)
}

// Close removes every subscription
func (b *EventBus) Close() {
	b.mutex.Lock()
	subs := b.subscriptions
	b.subscriptions = make(map[string]*Subscription)
	b.mutex.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.events) })
	}
}
