package socket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/signaling"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // signaling offers carry full SDP blobs
)

// conn is the small slice of *websocket.Conn the client uses; tests
// substitute an in-memory implementation.
type conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(string) error)
	Close() error
}

// Client is one authenticated realtime connection. Its id is the presence
// handle: a user with three tabs open has three clients.
type Client struct {
	id   string
	user directory.User
	hub  *Hub
	conn conn
	log  *slog.Logger

	sendMu     sync.Mutex
	send       chan []byte
	sendClosed bool
}

func newClient(id string, user directory.User, hub *Hub, c conn, log *slog.Logger) *Client {
	return &Client{
		id:   id,
		user: user,
		hub:  hub,
		conn: c,
		log:  log.With("handle_id", id, "user_id", user.ID),
		send: make(chan []byte, 64),
	}
}

// enqueue hands an already-encoded frame to the write pump. A client that
// cannot keep up is dropped rather than allowed to stall the sender.
// The mutex keeps a racing disconnect from closing the channel mid-send.
func (c *Client) enqueue(frame []byte) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	select {
	case c.send <- frame:
	default:
		c.log.Warn("send buffer full, dropping connection")
		c.sendClosed = true
		close(c.send)
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// DeliverSignal implements signaling.Member.
func (c *Client) DeliverSignal(sig signaling.Signal) {
	var event string
	switch sig.Kind {
	case signaling.KindOffer:
		event = EventSignalOffer
	case signaling.KindAnswer:
		event = EventSignalAnswer
	case signaling.KindCandidate:
		event = EventSignalCandidate
	default:
		return
	}
	c.enqueue(mustEnvelope(event, SignalEvent{
		SessionID: sig.SessionID,
		Payload:   sig.Payload,
		From:      sig.From,
	}))
}

// DeliverToggle implements signaling.Member.
func (c *Client) DeliverToggle(tog signaling.Toggle) {
	event := EventPeerToggleAudio
	if tog.Kind == signaling.ToggleVideo {
		event = EventPeerToggleVideo
	}
	c.enqueue(mustEnvelope(event, PeerToggleEvent{UserID: tog.From, Enabled: tog.Enabled}))
}

// readPump consumes inbound frames until the connection drops, handling
// each message to completion before reading the next. That serialization
// is what keeps lifecycle handling race-free per connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("read failed", "err", err)
			}
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.Debug("dropping malformed frame", "err", err)
			continue
		}
		c.hub.dispatch(c, env)
	}
}

// writePump flushes outbound frames and keeps the connection alive with
// periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
