package gateway

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/fleetworks/fleetd/internal/bus"
	"github.com/fleetworks/fleetd/pkg/protocol"
)

func testHub() *Hub {
	return NewHub(slog.New(slog.DiscardHandler))
}

// drain empties a client's send queue.
func drain(c *Client) []protocol.ServerFrame {
	var out []protocol.ServerFrame
	for {
		select {
		case f := <-c.send:
			out = append(out, f)
		default:
			return out
		}
	}
}

func TestHub_SubscribeBroadcast(t *testing.T) {
	h := testHub()
	a := newClient(nil, h, "uid-a", "agent-a")
	b := newClient(nil, h, "uid-b", "agent-b")
	h.subscribe(a, "chat:chat-a1b2c")
	h.subscribe(b, "chat:chat-a1b2c")

	if n := h.Subscribers("chat:chat-a1b2c"); n != 2 {
		t.Fatalf("Subscribers = %d, want 2", n)
	}

	h.Broadcast("chat:chat-a1b2c", protocol.ServerFrame{Type: "new_message"})
	for _, c := range []*Client{a, b} {
		frames := drain(c)
		if len(frames) != 1 || frames[0].Type != "new_message" {
			t.Errorf("client %s got %v", c.handle, frames)
		}
	}

	h.unsubscribe(a, "chat:chat-a1b2c")
	h.Broadcast("chat:chat-a1b2c", protocol.ServerFrame{Type: "new_message"})
	if frames := drain(a); len(frames) != 0 {
		t.Errorf("unsubscribed client got %v", frames)
	}
	if frames := drain(b); len(frames) != 1 {
		t.Errorf("subscribed client got %v", frames)
	}
}

func TestHub_RemoveDropsAllSubscriptions(t *testing.T) {
	h := testHub()
	c := newClient(nil, h, "u", "w1")
	h.subscribe(c, "t1")
	h.subscribe(c, "t2")
	h.remove(c)
	if h.Subscribers("t1") != 0 || h.Subscribers("t2") != 0 {
		t.Error("remove left stale subscriptions")
	}
}

func TestHub_OnBusEvent_PlainFanout(t *testing.T) {
	h := testHub()
	c := newClient(nil, h, "u", "w1")
	h.subscribe(c, "team:alpha")

	payload, _ := json.Marshal(map[string]string{"text": "hi"})
	h.OnBusEvent(bus.Event{Topic: "team:alpha", Name: protocol.EventBroadcast, Payload: payload})

	frames := drain(c)
	if len(frames) != 1 {
		t.Fatalf("got %d frames", len(frames))
	}
	if frames[0].Type != protocol.EventBroadcast || frames[0].Topic != "team:alpha" {
		t.Errorf("frame = %+v", frames[0])
	}
	if string(frames[0].Data) != string(payload) {
		t.Errorf("payload = %s", frames[0].Data)
	}
}

func TestHub_OnBusEvent_TargetedBlackboardPost(t *testing.T) {
	h := testHub()
	target := newClient(nil, h, "u1", "scout-1")
	bystander := newClient(nil, h, "u2", "scout-2")
	console := newClient(nil, h, "", "") // operator console, no bound handle
	topic := "blackboard:sw1"
	for _, c := range []*Client{target, bystander, console} {
		h.subscribe(c, topic)
	}

	payload, _ := json.Marshal(map[string]string{"targetHandle": "scout-1", "messageType": "directive"})
	h.OnBusEvent(bus.Event{Topic: topic, Name: protocol.EventBlackboardPost, Payload: payload})

	if frames := drain(target); len(frames) != 1 {
		t.Errorf("target got %d frames, want 1", len(frames))
	}
	if frames := drain(bystander); len(frames) != 0 {
		t.Errorf("bystander got %d frames, want 0", len(frames))
	}
	if frames := drain(console); len(frames) != 1 {
		t.Errorf("console got %d frames, want 1", len(frames))
	}
}

func TestHub_OnBusEvent_UntargetedBlackboardPost(t *testing.T) {
	h := testHub()
	a := newClient(nil, h, "u1", "scout-1")
	b := newClient(nil, h, "u2", "scout-2")
	h.subscribe(a, "blackboard:sw1")
	h.subscribe(b, "blackboard:sw1")

	payload, _ := json.Marshal(map[string]string{"messageType": "status"})
	h.OnBusEvent(bus.Event{Topic: "blackboard:sw1", Name: protocol.EventBlackboardPost, Payload: payload})

	if len(drain(a)) != 1 || len(drain(b)) != 1 {
		t.Error("untargeted post should reach every subscriber")
	}
}

func TestClient_HandleFrame(t *testing.T) {
	h := testHub()
	c := newClient(nil, h, "", "")

	c.handleFrame(protocol.ClientFrame{Type: protocol.FrameSubscribe, ChatID: "chat-a1b2c", UID: "u9"})
	if h.Subscribers("chat:chat-a1b2c") != 1 {
		t.Error("subscribe frame did not register")
	}
	if c.uid != "u9" {
		t.Errorf("uid not bound from frame: %q", c.uid)
	}
	frames := drain(c)
	if len(frames) != 1 || frames[0].Type != protocol.EventSubscribed {
		t.Errorf("ack frames = %v", frames)
	}

	c.handleFrame(protocol.ClientFrame{Type: protocol.FramePing})
	if frames := drain(c); len(frames) != 1 || frames[0].Type != protocol.EventPong {
		t.Errorf("ping ack = %v", frames)
	}

	c.handleFrame(protocol.ClientFrame{Type: protocol.FrameSubscribe})
	if frames := drain(c); len(frames) != 1 || frames[0].Type != protocol.EventError {
		t.Errorf("missing target should error, got %v", frames)
	}

	c.handleFrame(protocol.ClientFrame{Type: "bogus"})
	if frames := drain(c); len(frames) != 1 || frames[0].Type != protocol.EventError {
		t.Errorf("unknown frame should error, got %v", frames)
	}

	c.handleFrame(protocol.ClientFrame{Type: protocol.FrameUnsubscribe, ChatID: "chat-a1b2c"})
	if h.Subscribers("chat:chat-a1b2c") != 0 {
		t.Error("unsubscribe frame did not remove")
	}
}
