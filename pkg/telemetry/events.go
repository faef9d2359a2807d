package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openfroyo/fedbroker/pkg/engine"
)

// Event is one entry of the order event stream.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`

	OrderID      string              `json:"order_id,omitempty"`
	ResourceType engine.ResourceType `json:"resource_type,omitempty"`
	Member       string              `json:"member,omitempty"`

	Message string                 `json:"message"`
	Level   string                 `json:"level"`
	Data    map[string]interface{} `json:"data,omitempty"`
}

// Event types.
const (
	EventTypeOrderTransitioned = "order.transitioned"
	EventTypeOrderFailed       = "order.failed"
	EventTypeProcessorError    = "processor.error"
)

// Event levels.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber handles events. Subscribers run on the publisher's
// delivery goroutine, one event at a time, in publication order.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be delivered.
type EventFilter func(event Event) bool

// EventPublisher fans order events out to subscribers.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	mu          sync.RWMutex
	done        chan struct{}
	closeOnce   sync.Once
	wg          sync.WaitGroup
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a publisher and starts its delivery goroutine.
func NewEventPublisher(cfg EventsConfig) *EventPublisher {
	ep := &EventPublisher{config: cfg, done: make(chan struct{})}
	if !cfg.Enabled {
		return ep
	}

	ep.buffer = make(chan Event, cfg.BufferSize)
	ep.wg.Add(1)
	go ep.processEvents()
	return ep
}

// Publish queues an event. It never blocks; an event published while the
// queue is full or after Shutdown is dropped and reported.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	select {
	case <-ep.done:
		return fmt.Errorf("event publisher stopped")
	default:
	}

	select {
	case ep.buffer <- event:
		return nil
	default:
		return fmt.Errorf("event buffer full, event %s dropped", event.Type)
	}
}

// PublishTransition publishes a durable order transition. Transitions into a
// failed state are published as order.failed.
func (ep *EventPublisher) PublishTransition(order engine.OrderSnapshot, from, to engine.OrderState) error {
	event := Event{
		Type:         EventTypeOrderTransitioned,
		OrderID:      order.ID,
		ResourceType: order.ResourceType,
		Member:       order.ProvidingMember,
		Message:      fmt.Sprintf("Order %s moved from %s to %s", order.ID, from, to),
		Level:        EventLevelInfo,
		Data: map[string]interface{}{
			"from":              string(from),
			"to":                string(to),
			"requesting_member": order.RequestingMember,
		},
	}
	if to.IsFailed() {
		event.Type = EventTypeOrderFailed
		event.Level = EventLevelWarning
	}
	return ep.Publish(event)
}

// PublishProcessorError publishes an order a processor failed to advance.
func (ep *EventPublisher) PublishProcessorError(state engine.OrderState, orderID string, err error) error {
	return ep.Publish(Event{
		Type:    EventTypeProcessorError,
		OrderID: orderID,
		Message: fmt.Sprintf("Processor for %s could not advance order %s: %v", state, orderID, err),
		Level:   EventLevelError,
		Data: map[string]interface{}{
			"state": string(state),
			"kind":  errorKind(err),
		},
	})
}

// Subscribe adds a subscriber. A nil filter accepts every event.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	for {
		select {
		case event := <-ep.buffer:
			ep.deliverEvent(event)
		case <-ep.done:
			for {
				select {
				case event := <-ep.buffer:
					ep.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		if entry.filter != nil && !entry.filter(event) {
			continue
		}
		entry.subscriber(event)
	}
}

// Shutdown delivers the queued events and stops the publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	ep.closeOnce.Do(func() { close(ep.done) })

	finished := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// FilterByLevel accepts events of minLevel or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}
	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType accepts events of the given types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterByOrderID accepts events of one order.
func FilterByOrderID(orderID string) EventFilter {
	return func(event Event) bool {
		return event.OrderID == orderID
	}
}
