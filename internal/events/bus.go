package events

import (
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the default per-subscriber channel capacity.
	DefaultBufferSize = 100

	// EventTypeStatusChanged is published when automation is enabled, disabled or re-synced.
	EventTypeStatusChanged = "StatusChanged"
	// EventTypeLeaderChanged is published once per leadership transition.
	EventTypeLeaderChanged = "LeaderChanged"
	// EventTypeSessionStarted is published when a session opens.
	EventTypeSessionStarted = "SessionStarted"
	// EventTypeSessionEnded is published when a session closes.
	EventTypeSessionEnded = "SessionEnded"
	// EventTypeNotification carries a user-facing notification.
	EventTypeNotification = "Notification"
	// EventTypeSummaryUpdated is published when a summary request resolves.
	EventTypeSummaryUpdated = "SummaryUpdated"
	// EventTypeStatsCollected is published after each counter drain.
	EventTypeStatsCollected = "StatsCollected"
	// EventTypeHealthCheck carries a doctor report.
	EventTypeHealthCheck = "HealthCheck"
)

const (
	// SeverityInfo indicates informational event severity.
	SeverityInfo = "INFO"
	// SeverityWarn indicates warning event severity.
	SeverityWarn = "WARN"
	// SeverityError indicates error event severity.
	SeverityError = "ERROR"
)

// Event is the normalized message delivered through the in-process event bus.
type Event struct {
	Type       string    `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	EntityType string    `json:"entityType,omitempty"`
	EntityID   string    `json:"entityId,omitempty"`
	Payload    any       `json:"payload,omitempty"`
	Severity   string    `json:"severity,omitempty"`
}

// Handler consumes a published event.
type Handler func(Event)

// Logger captures warning logs for dropped events.
type Logger interface {
	Printf(format string, args ...any)
}

// Bus defines event subscription and publish behavior. Subscriptions return
// a function that detaches the handler.
type Bus interface {
	Subscribe(eventType string, handler Handler) func()
	SubscribeAll(handler Handler) func()
	Publish(event Event)
}

// Option customizes bus construction.
type Option func(*InMemoryBus)

// WithBufferSize configures per-subscriber channel capacity.
func WithBufferSize(size int) Option {
	return func(bus *InMemoryBus) {
		if size > 0 {
			bus.bufferSize = size
		}
	}
}

// WithLogger configures log sink used for dropped-event warnings.
func WithLogger(logger Logger) Option {
	return func(bus *InMemoryBus) {
		if logger != nil {
			bus.logger = logger
		}
	}
}

// InMemoryBus is a thread-safe in-process pub/sub bus backed by buffered channels.
type InMemoryBus struct {
	mu             sync.RWMutex
	bufferSize     int
	logger         Logger
	typedSubs      map[string][]*subscriber
	wildcardSubs   []*subscriber
	nextSubscriber uint64
}

type subscriber struct {
	id     uint64
	ch     chan Event
	closed bool
}

// New creates an in-memory event bus with optional configuration.
func New(options ...Option) *InMemoryBus {
	bus := &InMemoryBus{
		bufferSize:   DefaultBufferSize,
		logger:       log.Default(),
		typedSubs:    make(map[string][]*subscriber),
		wildcardSubs: make([]*subscriber, 0),
	}
	for _, option := range options {
		option(bus)
	}
	return bus
}

// Subscribe registers a handler for a specific event type.
func (b *InMemoryBus) Subscribe(eventType string, handler Handler) func() {
	normalizedType := strings.TrimSpace(eventType)
	if normalizedType == "" || handler == nil {
		return func() {}
	}
	sub := b.newSubscriber()

	b.mu.Lock()
	b.typedSubs[normalizedType] = append(b.typedSubs[normalizedType], sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
	return func() { b.remove(sub, normalizedType) }
}

// SubscribeAll registers a handler that receives every published event.
func (b *InMemoryBus) SubscribeAll(handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	sub := b.newSubscriber()

	b.mu.Lock()
	b.wildcardSubs = append(b.wildcardSubs, sub)
	b.mu.Unlock()

	go b.consume(sub, handler)
	return func() { b.remove(sub, "") }
}

// Publish delivers an event to typed subscribers and wildcard subscribers.
func (b *InMemoryBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.typedSubs[strings.TrimSpace(event.Type)] {
		b.deliver(sub, event)
	}
	for _, sub := range b.wildcardSubs {
		b.deliver(sub, event)
	}
}

func (b *InMemoryBus) remove(target *subscriber, eventType string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if target.closed {
		return
	}
	target.closed = true
	close(target.ch)

	if eventType == "" {
		b.wildcardSubs = without(b.wildcardSubs, target)
		return
	}
	b.typedSubs[eventType] = without(b.typedSubs[eventType], target)
	if len(b.typedSubs[eventType]) == 0 {
		delete(b.typedSubs, eventType)
	}
}

func without(subs []*subscriber, target *subscriber) []*subscriber {
	kept := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		if sub != target {
			kept = append(kept, sub)
		}
	}
	return kept
}

// deliver must be called with b.mu held so a concurrent remove cannot close
// the channel mid-send.
func (b *InMemoryBus) deliver(sub *subscriber, event Event) {
	select {
	case sub.ch <- event:
	default:
		b.logger.Printf(
			"events: dropping event for subscriber=%d type=%s entity_type=%s entity_id=%s",
			sub.id,
			event.Type,
			event.EntityType,
			event.EntityID,
		)
	}
}

func (b *InMemoryBus) newSubscriber() *subscriber {
	b.mu.Lock()
	b.nextSubscriber++
	id := b.nextSubscriber
	b.mu.Unlock()

	return &subscriber{
		id: id,
		ch: make(chan Event, b.bufferSize),
	}
}

func (b *InMemoryBus) consume(sub *subscriber, handler Handler) {
	for event := range sub.ch {
		handler(event)
	}
}
