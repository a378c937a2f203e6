// Package messaging implements the in-process event bus that carries
// presence transitions from the hub to infrastructure adapters (the Redis
// presence mirror, audit logging). Handlers are decoupled from the
// connection path: a slow subscriber must never hold up a handshake or a
// disconnect.
package messaging

import (
	"sync"
	"time"

	"github.com/mqerk/academy-live-hub/internal/domain/presence"
	"github.com/mqerk/academy-live-hub/pkg/logger"
)

// EventType discriminates presence transitions.
type EventType string

const (
	EventStudentOnline  EventType = "student.online"
	EventStudentOffline EventType = "student.offline"
	EventStaffOnline    EventType = "staff.online"
	EventStaffOffline   EventType = "staff.offline"
)

// PresenceEvent describes one presence transition.
type PresenceEvent struct {
	Type EventType

	// StudentID is set for student events.
	StudentID int64

	// UserID is set for all events.
	UserID int64

	// StaffRole is set for staff events.
	StaffRole presence.StaffRole

	// RoleStillOnline is the recomputed availability of the staff
	// sub-role after the transition. Meaningful for staff events only.
	RoleStillOnline bool

	// UserStillOnline reports whether this specific user still holds at
	// least one session in the sub-role after the transition. Meaningful
	// for staff events only.
	UserStillOnline bool

	// At is when the transition was observed.
	At time.Time
}

// Handler consumes a presence event. In async mode each handler runs on
// a single goroutine of its own, so it never races with itself.
type Handler func(ev PresenceEvent)

// Config contains bus configuration.
type Config struct {
	// Async gives every subscriber its own serial queue drained by one
	// worker goroutine, so Publish never blocks on a handler while each
	// subscriber still observes events in publish order. Synchronous mode
	// exists for tests that need deterministic interleaving.
	Async bool

	// QueueSize bounds each subscriber's backlog in async mode. When a
	// queue is full the event is dropped for that subscriber.
	QueueSize int

	Logger *logger.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Async:     true,
		QueueSize: 256,
	}
}

// subscriber is one registered handler plus, in async mode, its queue.
// The single drain goroutine per subscriber is what preserves publish
// order: consumers like the Redis mirror apply SAdd/SRem-style deltas,
// and a reordered disconnect/reconnect pair would leave them wrong until
// the user's next transition.
type subscriber struct {
	handler Handler
	queue   chan PresenceEvent
}

// Bus fans presence events out to registered subscribers.
type Bus struct {
	mu     sync.RWMutex
	byType map[EventType][]*subscriber
	all    []*subscriber
	closed bool

	async     bool
	queueSize int
	wg        sync.WaitGroup
	log       *logger.Logger
}

// NewBus creates a presence event bus.
func NewBus(cfg Config) *Bus {
	if cfg.Logger == nil {
		cfg.Logger = logger.Default()
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Bus{
		byType:    make(map[EventType][]*subscriber),
		async:     cfg.Async,
		queueSize: cfg.QueueSize,
		log:       cfg.Logger.With(logger.Component("presence-bus")),
	}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(t EventType, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.byType[t] = append(b.byType[t], b.newSubscriber(h))
}

// SubscribeAll registers a handler for every event type.
func (b *Bus) SubscribeAll(h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.all = append(b.all, b.newSubscriber(h))
}

// newSubscriber starts the drain goroutine in async mode. Caller holds
// the write lock.
func (b *Bus) newSubscriber(h Handler) *subscriber {
	s := &subscriber{handler: h}
	if b.async {
		s.queue = make(chan PresenceEvent, b.queueSize)
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			for ev := range s.queue {
				b.invoke(ev, s.handler)
			}
		}()
	}
	return s
}

// Publish delivers the event to all matching subscribers. In async mode
// the call only enqueues and returns; each subscriber applies events in
// publish order on its own goroutine. A closed bus drops the event.
func (b *Bus) Publish(ev PresenceEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, s := range b.byType[ev.Type] {
		b.deliver(ev, s)
	}
	for _, s := range b.all {
		b.deliver(ev, s)
	}
}

func (b *Bus) deliver(ev PresenceEvent, s *subscriber) {
	if !b.async {
		b.invoke(ev, s.handler)
		return
	}
	select {
	case s.queue <- ev:
	default:
		b.log.Warn("subscriber queue full, event dropped",
			logger.String("event_type", string(ev.Type)),
		)
	}
}

func (b *Bus) invoke(ev PresenceEvent, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("presence handler panicked",
				logger.String("event_type", string(ev.Type)),
				logger.Any("panic", r),
			)
		}
	}()
	h(ev)
}

// Close stops accepting events, then waits until every subscriber has
// drained the events it already accepted.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for _, subs := range b.byType {
		for _, s := range subs {
			if s.queue != nil {
				close(s.queue)
			}
		}
	}
	for _, s := range b.all {
		if s.queue != nil {
			close(s.queue)
		}
	}
	b.mu.Unlock()

	b.wg.Wait()
}
