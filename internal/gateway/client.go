package gateway

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/fleetworks/fleetd/pkg/protocol"
)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
	pongWait   = 40 * time.Second

	maxFrameBytes = 4096
	sendQueueSize = 64
)

// Client is one WebSocket connection. Frames flow out through a buffered
// channel so broadcasts never block on a slow peer; a peer whose queue
// fills is disconnected.
type Client struct {
	id     string
	uid    string
	handle string
	conn   *websocket.Conn
	hub    *Hub
	send   chan protocol.ServerFrame
	done   chan struct{}
}

func newClient(conn *websocket.Conn, hub *Hub, uid, handle string) *Client {
	return &Client{
		id:     uuid.NewString(),
		uid:    uid,
		handle: handle,
		conn:   conn,
		hub:    hub,
		send:   make(chan protocol.ServerFrame, sendQueueSize),
		done:   make(chan struct{}),
	}
}

// push queues a frame, reporting false when the client is too slow.
func (c *Client) push(f protocol.ServerFrame) bool {
	select {
	case c.send <- f:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// run drives both pumps and returns when the connection is gone.
func (c *Client) run() {
	go c.writePump()
	c.readPump()
}

func (c *Client) readPump() {
	defer c.close()
	c.conn.SetReadLimit(maxFrameBytes)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		var f protocol.ClientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.push(protocol.ServerFrame{Type: protocol.EventError, Error: "malformed frame"})
			continue
		}
		c.handleFrame(f)
	}
}

func (c *Client) handleFrame(f protocol.ClientFrame) {
	switch f.Type {
	case protocol.FrameSubscribe:
		topic := f.Target()
		if topic == "" {
			c.push(protocol.ServerFrame{Type: protocol.EventError, Error: "subscribe requires chatId or topic"})
			return
		}
		if f.UID != "" {
			c.uid = f.UID
		}
		c.hub.subscribe(c, topic)
		c.push(protocol.ServerFrame{Type: protocol.EventSubscribed, ChatID: f.ChatID, Topic: f.Topic})
	case protocol.FrameUnsubscribe:
		if topic := f.Target(); topic != "" {
			c.hub.unsubscribe(c, topic)
			c.push(protocol.ServerFrame{Type: protocol.EventUnsubscribed, ChatID: f.ChatID, Topic: f.Topic})
		}
	case protocol.FramePing:
		c.push(protocol.ServerFrame{Type: protocol.EventPong})
	default:
		c.push(protocol.ServerFrame{Type: protocol.EventError, Error: "unknown frame type " + f.Type})
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case f := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) close() {
	c.hub.remove(c)
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	c.conn.Close()
}
