package supervisor

import (
	"encoding/json"
	"strings"

	"github.com/fleetworks/fleetd/pkg/protocol"
)

// agentEvent is one structured stdout line from a worker process.
type agentEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Result    string `json:"result,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   struct {
		Content []contentBlock `json:"content"`
	} `json:"message"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	Name string `json:"name,omitempty"` // tool_use
}

// classifyLine parses one output line. Lines that look like a single JSON
// object become agent events; anything else is raw.
func classifyLine(line string) (*agentEvent, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return nil, false
	}
	var ev agentEvent
	if err := json.Unmarshal([]byte(trimmed), &ev); err != nil || ev.Type == "" {
		return nil, false
	}
	return &ev, true
}

// textBlocks returns the assistant text content blocks, in order.
func (e *agentEvent) textBlocks() []string {
	var out []string
	for _, b := range e.Message.Content {
		if b.Type == "text" && b.Text != "" {
			out = append(out, b.Text)
		}
	}
	return out
}

// toolUses returns the names of tool_use blocks in the message.
func (e *agentEvent) toolUses() []string {
	var out []string
	for _, b := range e.Message.Content {
		if b.Type == "tool_use" && b.Name != "" {
			out = append(out, b.Name)
		}
	}
	return out
}

// isInit reports whether this is the session-init event that moves a
// worker from starting to ready.
func (e *agentEvent) isInit() bool {
	return e.Type == protocol.AgentEventSystem && e.Subtype == protocol.AgentSubtypeInit
}
