package gateway

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

// Hub maintains the topic to socket-set map and bridges in-process bus
// events onto subscribed sockets. One mutex guards the whole map; bus
// delivery happens on the publisher's goroutine, so frames for one topic
// reach each client's queue in commit order.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Client]struct{}
	log    *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	return &Hub{topics: make(map[string]map[*Client]struct{}), log: log}
}

func (h *Hub) subscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Client]struct{})
		h.topics[topic] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unsubscribe(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.topics[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// remove drops the client from every subscription set.
func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.topics {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Subscribers returns the current subscriber count for a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}

// Broadcast pushes a frame to every subscriber of topic. Clients whose
// send queue is full are dropped from the hub.
func (h *Hub) Broadcast(topic string, f protocol.ServerFrame) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		targets = append(targets, c)
	}
	h.mu.Unlock()
	for _, c := range targets {
		if !c.push(f) {
			h.log.Warn("gateway: dropping slow client", "client", c.id, "topic", topic)
			c.close()
		}
	}
}

// targetedPayload is the subset of event payloads the hub inspects to
// narrow delivery of agent-addressed messages.
type targetedPayload struct {
	TargetHandle string `json:"targetHandle"`
}

// OnBusEvent translates one bus event into a server frame and fans it
// out. Blackboard posts carrying a targetHandle are delivered only to
// that handle's sockets (and to sockets with no bound handle, i.e.
// operator consoles).
func (h *Hub) OnBusEvent(ev bus.Event) {
	frame := protocol.ServerFrame{Type: ev.Name, Topic: ev.Topic, Data: ev.Payload}

	if ev.Name == protocol.EventBlackboardPost {
		var tp targetedPayload
		if json.Unmarshal(ev.Payload, &tp) == nil && tp.TargetHandle != "" {
			h.broadcastTargeted(ev.Topic, tp.TargetHandle, frame)
			return
		}
	}
	h.Broadcast(ev.Topic, frame)
}

func (h *Hub) broadcastTargeted(topic, handle string, f protocol.ServerFrame) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.topics[topic]))
	for c := range h.topics[topic] {
		if c.handle == "" || c.handle == handle {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()
	for _, c := range targets {
		if !c.push(f) {
			c.close()
		}
	}
}
