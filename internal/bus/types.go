package bus

import "encoding/json"

// Event is a server-side event fanned out to subscribed handlers and, via
// the gateway, to WebSocket clients watching the same topic.
type Event struct {
	Topic   string          `json:"topic"`
	Name    string          `json:"name"` // protocol.Event* constant
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventHandler handles one delivered event. Handlers must not block; slow
// consumers buffer on their own side.
type EventHandler func(Event)

// EventPublisher abstracts event broadcast and subscription so components
// depend on the capability rather than the concrete Bus.
type EventPublisher interface {
	Subscribe(id string, handler EventHandler)
	Unsubscribe(id string)
	Publish(ev Event)
}
