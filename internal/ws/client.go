// ABOUTME: Per-connection websocket client with paired recv and send loops
// ABOUTME: Decodes inbound event frames and forwards room events to the socket

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Chronosbabu/serveurbabu/internal/chat"
	"github.com/Chronosbabu/serveurbabu/internal/metrics"
)

const (
	// writeWait bounds a single write to the peer.
	writeWait = 10 * time.Second

	// pongWait is how long we tolerate silence before dropping the peer.
	pongWait = 60 * time.Second

	// pingPeriod must be shorter than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxFrameSize caps inbound frames. Messages are short text; file
	// payloads travel over HTTP, not the socket.
	maxFrameSize = 16 * 1024

	outBufferSize = 64
)

// frame is the inbound wire shape, mirroring the outbound event envelope.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendMessageData struct {
	Receiver string `json:"receiver"`
	Text     string `json:"text"`
	ID       string `json:"id"`
}

type markReadData struct {
	Sender string `json:"sender"`
}

type typingData struct {
	Receiver string `json:"receiver"`
}

type joinData struct {
	Room string `json:"room"`
}

type errorData struct {
	Error string `json:"error"`
}

// client is one live websocket session. Events from every joined room are
// funneled into out; sendLoop is the only goroutine writing to the socket.
type client struct {
	hub      *Hub
	username string
	conn     *websocket.Conn
	out      chan chat.Event
	ctx      context.Context
	cancel   context.CancelFunc

	mu     sync.Mutex
	rooms  map[string]struct{}
	closed bool
}

// join subscribes the session to a room and forwards its events into out.
// Joining the same room twice is a no-op.
func (c *client) join(room string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.rooms == nil {
		c.rooms = make(map[string]struct{})
	}
	if _, ok := c.rooms[room]; ok {
		return
	}
	c.rooms[room] = struct{}{}

	events, _ := c.hub.svc.Broadcaster().Subscribe(c.ctx, room)
	go func() {
		for ev := range events {
			select {
			case c.out <- ev:
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

// shutdown tears the session down exactly once.
func (c *client) shutdown() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.conn.Close()
	c.hub.svc.Disconnect(c.username)
	metrics.OpenConnections.Dec()
	c.hub.logger.Debug("session closed", "username", c.username)
}

func (c *client) recvLoop() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("read failed", "username", c.username, "error", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			c.hub.logger.Warn("bad frame", "username", c.username, "error", err)
			continue
		}
		c.dispatch(f)
	}
}

// dispatch routes one inbound frame. Malformed or failing commands are
// reported back on the socket; they never terminate the session.
func (c *client) dispatch(f frame) {
	switch f.Event {
	case "join":
		var d joinData
		if err := json.Unmarshal(f.Data, &d); err != nil || d.Room == "" {
			return
		}
		// Rooms carry full message payloads, so a session may only occupy
		// its own identity's room. The frame stays for clients that re-join
		// after a reconnect.
		if d.Room != c.username {
			c.hub.logger.Warn("join denied", "username", c.username, "room", d.Room)
			c.reportError("cannot join another user's room")
			return
		}
		c.join(d.Room)

	case "send_message":
		var d sendMessageData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			c.reportError("invalid send_message payload")
			return
		}
		if _, err := c.hub.svc.SendText(c.ctx, c.username, d.Receiver, d.Text, d.ID); err != nil {
			c.hub.logger.Warn("send_message failed", "username", c.username, "error", err)
			c.reportError(err.Error())
		}

	case "mark_read":
		var d markReadData
		if err := json.Unmarshal(f.Data, &d); err != nil {
			c.reportError("invalid mark_read payload")
			return
		}
		if err := c.hub.svc.MarkRead(c.ctx, c.username, d.Sender); err != nil {
			c.hub.logger.Warn("mark_read failed", "username", c.username, "error", err)
			c.reportError(err.Error())
		}

	case "typing":
		var d typingData
		if err := json.Unmarshal(f.Data, &d); err == nil {
			c.hub.svc.Typing(c.username, d.Receiver)
		}

	case "stop_typing":
		var d typingData
		if err := json.Unmarshal(f.Data, &d); err == nil {
			c.hub.svc.StopTyping(c.username, d.Receiver)
		}

	default:
		c.hub.logger.Debug("unknown event", "username", c.username, "event", f.Event)
	}
}

func (c *client) reportError(msg string) {
	select {
	case c.out <- chat.Event{Name: "error", Payload: errorData{Error: msg}}:
	default:
	}
}

func (c *client) sendLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case ev := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				c.hub.logger.Warn("write failed", "username", c.username, "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
