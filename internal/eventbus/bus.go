// Package eventbus is a process-wide, in-memory publish/subscribe channel.
//
// WHY A BUS?
// The store shouldn't know who is looking at meals (a cached projection, a
// websocket client, a CLI watcher). It just announces "meals changed" and
// whoever subscribed reacts. That keeps the store free of view logic.
//
// DELIVERY RULES:
//   - Publish is synchronous: it returns after every current subscriber ran.
//   - Subscribers run in subscription order.
//   - A failing (or panicking) handler is logged and skipped; the remaining
//     subscribers still receive the event. Nothing is retried.
//   - Nothing is persisted; the bus lives and dies with the process.
package eventbus

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/rs/xid"
)

// Topics used across the application.
const (
	TopicMeals   = "meals.changed" // durable store mutations
	TopicPending = "meals.pending" // optimistic overlay changes
)

// Event is what a handler receives.
type Event struct {
	Topic   string
	Payload any
	At      time.Time
}

// Handler reacts to an event. Handlers must not block: they run on the
// publisher's goroutine.
type Handler func(Event) error

// Subscription identifies one registered handler. Pass it to Unsubscribe.
type Subscription struct {
	ID    string
	Topic string
}

// Publisher is the narrow interface producers depend on.
type Publisher interface {
	Publish(topic string, payload any)
}

type subscriber struct {
	id      string
	handler Handler
}

// Bus is safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string][]subscriber
	logger *slog.Logger
}

// compile-time check that *Bus satisfies Publisher
var _ Publisher = (*Bus)(nil)

// New creates an empty bus. A nil logger falls back to slog.Default().
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		subs:   make(map[string][]subscriber),
		logger: logger,
	}
}

// Subscribe registers h for topic and returns a handle for Unsubscribe.
func (b *Bus) Subscribe(topic string, h Handler) Subscription {
	sub := subscriber{id: xid.New().String(), handler: h}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()

	return Subscription{ID: sub.id, Topic: topic}
}

// Unsubscribe removes the handler. It reports whether anything was removed,
// so calling it twice is harmless.
func (b *Bus) Unsubscribe(s Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[s.Topic]
	for i, sub := range list {
		if sub.id != s.ID {
			continue
		}
		// Copy instead of re-slicing in place: a Publish running concurrently
		// may still be iterating over the old slice.
		next := make([]subscriber, 0, len(list)-1)
		next = append(next, list[:i]...)
		next = append(next, list[i+1:]...)
		if len(next) == 0 {
			delete(b.subs, s.Topic)
		} else {
			b.subs[s.Topic] = next
		}
		return true
	}
	return false
}

// Publish delivers payload to every current subscriber of topic.
//
// The subscriber list is snapshotted under the read lock and handlers are
// called without holding it, so a handler may itself Subscribe, Unsubscribe
// or Publish without deadlocking.
func (b *Bus) Publish(topic string, payload any) {
	b.mu.RLock()
	list := b.subs[topic]
	b.mu.RUnlock()

	ev := Event{Topic: topic, Payload: payload, At: time.Now()}
	for _, sub := range list {
		if err := b.deliver(sub, ev); err != nil {
			b.logger.Warn("event handler failed",
				slog.String("topic", topic),
				slog.String("subscription", sub.id),
				slog.String("error", err.Error()),
			)
		}
	}
}

// SubscriberCount returns how many handlers are registered for topic.
func (b *Bus) SubscriberCount(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

// deliver runs one handler, turning a panic into an error so one broken
// subscriber can't take the others down with it.
func (b *Bus) deliver(sub subscriber, ev Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return sub.handler(ev)
}
