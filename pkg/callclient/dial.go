package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"marketplace-rtc/internal/socket"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout    = 10 * time.Second
	writeDeadline  = 10 * time.Second
	keepAliveEvery = 30 * time.Second
)

// Socket is a connected realtime client. It implements Signaler and
// feeds inbound envelopes to a handler from a single read loop.
type Socket struct {
	conn *websocket.Conn

	writeMu sync.Mutex
}

// Dial connects to the realtime endpoint with a bearer access token.
// wsURL uses the ws or wss scheme, e.g. wss://host/ws.
func Dial(ctx context.Context, wsURL, accessToken string) (*Socket, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+accessToken)

	conn, resp, err := dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("callclient: dial %s: %w (status %d)", wsURL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("callclient: dial %s: %w", wsURL, err)
	}
	return &Socket{conn: conn}, nil
}

// Send marshals one event frame and writes it.
func (s *Socket) Send(event string, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(socket.Envelope{Event: event, Data: raw})
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

// Listen reads envelopes and hands them to handler until the connection
// drops or ctx is cancelled. It runs the handler inline so events are
// processed in arrival order.
func (s *Socket) Listen(ctx context.Context, handler func(socket.Envelope)) error {
	go s.keepAlive(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		var env socket.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		handler(env)
	}
}

func (s *Socket) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			err := s.conn.WriteMessage(websocket.PingMessage, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (s *Socket) Close() error {
	s.writeMu.Lock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	s.writeMu.Unlock()
	return s.conn.Close()
}
