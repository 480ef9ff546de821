package protocol

import "encoding/json"

// ClientFrame is a frame sent by a WebSocket client.
// Exactly one of ChatID or Topic identifies the subscription target.
type ClientFrame struct {
	Type   string `json:"type"`
	ChatID string `json:"chatId,omitempty"`
	Topic  string `json:"topic,omitempty"`
	UID    string `json:"uid,omitempty"`
}

// ServerFrame is a frame pushed by the server. Payload fields are flattened
// into the frame so clients can switch on "type" alone.
type ServerFrame struct {
	Type    string          `json:"type"`
	ChatID  string          `json:"chatId,omitempty"`
	Topic   string          `json:"topic,omitempty"`
	Handle  string          `json:"handle,omitempty"`
	Message json.RawMessage `json:"message,omitempty"`
	Task    json.RawMessage `json:"task,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// NewFrame builds a ServerFrame with a pre-marshaled data payload.
// Marshal failures degrade to a null payload rather than dropping the frame.
func NewFrame(typ string, data any) ServerFrame {
	raw, err := json.Marshal(data)
	if err != nil {
		raw = []byte("null")
	}
	return ServerFrame{Type: typ, Data: raw}
}

// Target resolves the subscription topic a client frame refers to.
func (f ClientFrame) Target() string {
	if f.ChatID != "" {
		return TopicChatPrefix + f.ChatID
	}
	return f.Topic
}
