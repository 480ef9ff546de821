package bus

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Per-topic retention cap. Oldest messages are evicted first.
const maxMessagesPerTopic = 10_000

// Bus is an in-memory topic bus. Every published event is delivered to all
// subscribed handlers and retained in a bounded per-topic ring so late
// subscribers can replay recent history.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string]EventHandler
	rings    map[string][]Event
	log      *slog.Logger
}

func New(log *slog.Logger) *Bus {
	return &Bus{
		handlers: make(map[string]EventHandler),
		rings:    make(map[string][]Event),
		log:      log,
	}
}

func (b *Bus) Subscribe(id string, handler EventHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[id] = handler
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.handlers, id)
}

// Publish retains ev in its topic ring and delivers it to every handler.
// Delivery happens on the caller's goroutine; handlers must be fast.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	ring := append(b.rings[ev.Topic], ev)
	if len(ring) > maxMessagesPerTopic {
		ring = ring[len(ring)-maxMessagesPerTopic:]
	}
	b.rings[ev.Topic] = ring

	hs := make([]EventHandler, 0, len(b.handlers))
	for _, h := range b.handlers {
		hs = append(hs, h)
	}
	b.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// PublishJSON marshals payload and publishes it under (topic, name).
func (b *Bus) PublishJSON(topic, name string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		b.log.Error("bus: marshal payload", "topic", topic, "event", name, "error", err)
		return
	}
	b.Publish(Event{Topic: topic, Name: name, Payload: raw})
}

// Recent returns up to limit retained events for topic, oldest first.
func (b *Bus) Recent(topic string, limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ring := b.rings[topic]
	if limit > 0 && len(ring) > limit {
		ring = ring[len(ring)-limit:]
	}
	out := make([]Event, len(ring))
	copy(out, ring)
	return out
}

// Stats reports retained message counts per topic.
func (b *Bus) Stats() map[string]int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make(map[string]int, len(b.rings))
	for topic, ring := range b.rings {
		out[topic] = len(ring)
	}
	return out
}
