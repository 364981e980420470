package socket

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"marketplace-rtc/internal/call"
	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/presence"
	"marketplace-rtc/internal/session"
	"marketplace-rtc/internal/signaling"
)

const dispatchTimeout = 15 * time.Second

// CallService is the lifecycle surface the hub drives. Satisfied by
// *call.Coordinator; tests use a fake.
type CallService interface {
	Initiate(ctx context.Context, caller directory.User, calleeID, contextRef string) (session.Session, error)
	Accept(ctx context.Context, userID, sessionID string) error
	Reject(ctx context.Context, userID, sessionID string) error
	End(ctx context.Context, userID, sessionID string) error
}

// Hub owns all live connections. It registers handles with the presence
// registry, routes inbound envelopes to the coordinator and the relay,
// and implements call.Notifier for the outbound direction.
//
// The hub and the coordinator reference each other (the hub dispatches
// into the coordinator; the coordinator notifies through the hub), so the
// call service is attached after construction.
type Hub struct {
	registry *presence.Registry
	relay    *signaling.Relay
	calls    CallService
	log      *slog.Logger

	mu      sync.RWMutex
	clients map[string]*Client // handleID -> client
}

func NewHub(registry *presence.Registry, relay *signaling.Relay, log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		registry: registry,
		relay:    relay,
		log:      log,
		clients:  make(map[string]*Client),
	}
}

// SetCalls attaches the lifecycle coordinator. Must be called before the
// hub accepts connections.
func (h *Hub) SetCalls(calls CallService) {
	h.calls = calls
}

func (h *Hub) register(c *Client) {
	h.mu.Lock()
	h.clients[c.id] = c
	h.mu.Unlock()
	h.registry.Register(c.user.ID, c.id)
	h.log.Info("client connected", "user_id", c.user.ID, "handle_id", c.id)
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	_, known := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	if !known {
		return
	}
	h.registry.Unregister(c.user.ID, c.id)
	h.relay.LeaveAll(c.id)
	c.closeSend()
	h.log.Info("client disconnected", "user_id", c.user.ID, "handle_id", c.id)
}

// sendToUser delivers a frame to every active handle of a user. Delivery
// to an offline user is a no-op.
func (h *Hub) sendToUser(userID string, frame []byte) {
	for _, handleID := range h.registry.HandlesFor(userID) {
		h.mu.RLock()
		c := h.clients[handleID]
		h.mu.RUnlock()
		if c != nil {
			c.enqueue(frame)
		}
	}
}

/* ===================== call.Notifier ===================== */

func (h *Hub) IncomingCall(calleeID string, inc call.Incoming) {
	h.sendToUser(calleeID, mustEnvelope(EventCallIncoming, inc))
}

func (h *Hub) CallInitiated(callerID, sessionID string) {
	h.sendToUser(callerID, mustEnvelope(EventCallInitiated, SessionEvent{SessionID: sessionID}))
}

func (h *Hub) CallAccepted(userID, sessionID string) {
	h.sendToUser(userID, mustEnvelope(EventCallAccepted, SessionEvent{SessionID: sessionID}))
}

func (h *Hub) CallRejected(userID, sessionID string) {
	h.sendToUser(userID, mustEnvelope(EventCallRejected, SessionEvent{SessionID: sessionID}))
}

func (h *Hub) CallMissed(userID, sessionID string) {
	h.sendToUser(userID, mustEnvelope(EventCallMissed, SessionEvent{SessionID: sessionID}))
}

func (h *Hub) CallEnded(userID, sessionID string, durationSeconds int) {
	h.sendToUser(userID, mustEnvelope(EventCallEnded, EndedEvent{SessionID: sessionID, DurationSeconds: durationSeconds}))
}

/* ===================== inbound dispatch ===================== */

// dispatch routes one inbound envelope. Failures surface to the sender as
// call:error; they never tear down the connection or touch other sessions.
func (h *Hub) dispatch(c *Client, env Envelope) {
	ctx, cancel := context.WithTimeout(context.Background(), dispatchTimeout)
	defer cancel()

	switch env.Event {
	case EventCallInitiate:
		h.handleInitiate(ctx, c, env.Data)
	case EventCallAccept:
		h.handleAccept(ctx, c, env.Data)
	case EventCallReject:
		h.handleLifecycle(ctx, c, env.Data, h.calls.Reject, "failed to reject call")
	case EventCallEnd:
		h.handleLifecycle(ctx, c, env.Data, h.calls.End, "failed to end call")
	case EventSignalOffer:
		h.handleSignal(c, env.Data, signaling.KindOffer)
	case EventSignalAnswer:
		h.handleSignal(c, env.Data, signaling.KindAnswer)
	case EventSignalCandidate:
		h.handleSignal(c, env.Data, signaling.KindCandidate)
	case EventToggleAudio:
		h.handleToggle(c, env.Data, signaling.ToggleAudio)
	case EventToggleVideo:
		h.handleToggle(c, env.Data, signaling.ToggleVideo)
	case EventCheckOnline:
		h.handleCheckOnline(c, env.Data)
	default:
		c.log.Debug("unknown event", "event", env.Event)
	}
}

func (h *Hub) handleInitiate(ctx context.Context, c *Client, data json.RawMessage) {
	var p InitiatePayload
	if err := json.Unmarshal(data, &p); err != nil || p.CalleeID == "" {
		h.sendError(c, "failed to initiate call")
		return
	}

	sess, err := h.calls.Initiate(ctx, c.user, p.CalleeID, p.ContextRef)
	if err != nil {
		if errors.Is(err, call.ErrCallerBusy) {
			h.sendError(c, "you already have a call in progress")
			return
		}
		c.log.Error("initiate failed", "err", err)
		h.sendError(c, "failed to initiate call")
		return
	}

	// The caller joins the signaling room up front; the callee joins on
	// accept. Only room members receive relayed payloads.
	h.relay.Join(sess.ID, c.id, c.user.ID, c)
}

func (h *Hub) handleAccept(ctx context.Context, c *Client, data json.RawMessage) {
	var p SessionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		h.sendError(c, "failed to accept call")
		return
	}

	h.relay.Join(p.SessionID, c.id, c.user.ID, c)
	if err := h.calls.Accept(ctx, c.user.ID, p.SessionID); err != nil {
		h.relay.Leave(p.SessionID, c.id)
		if errors.Is(err, call.ErrSessionNotFound) {
			h.sendError(c, "call not found")
			return
		}
		c.log.Error("accept failed", "session_id", p.SessionID, "err", err)
		h.sendError(c, "failed to accept call")
	}
}

func (h *Hub) handleLifecycle(ctx context.Context, c *Client, data json.RawMessage, op func(context.Context, string, string) error, failMsg string) {
	var p SessionPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		h.sendError(c, failMsg)
		return
	}
	if err := op(ctx, c.user.ID, p.SessionID); err != nil {
		if errors.Is(err, call.ErrSessionNotFound) {
			h.sendError(c, "call not found")
			return
		}
		c.log.Error("lifecycle op failed", "session_id", p.SessionID, "err", err)
		h.sendError(c, failMsg)
	}
}

func (h *Hub) handleSignal(c *Client, data json.RawMessage, kind signaling.Kind) {
	var p SignalPayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return
	}
	h.relay.Relay(c.id, signaling.Signal{
		SessionID: p.SessionID,
		Kind:      kind,
		Payload:   p.Payload,
		From:      c.user.ID,
	})
}

func (h *Hub) handleToggle(c *Client, data json.RawMessage, kind signaling.ToggleKind) {
	var p TogglePayload
	if err := json.Unmarshal(data, &p); err != nil || p.SessionID == "" {
		return
	}
	h.relay.BroadcastToggle(c.id, signaling.Toggle{
		SessionID: p.SessionID,
		Kind:      kind,
		From:      c.user.ID,
		Enabled:   p.Enabled,
	})
}

func (h *Hub) handleCheckOnline(c *Client, data json.RawMessage) {
	var p CheckOnlinePayload
	if err := json.Unmarshal(data, &p); err != nil || p.UserID == "" {
		return
	}
	c.enqueue(mustEnvelope(EventOnlineStatus, OnlineStatusEvent{
		UserID:   p.UserID,
		IsOnline: h.registry.IsOnline(p.UserID),
	}))
}

func (h *Hub) sendError(c *Client, message string) {
	c.enqueue(mustEnvelope(EventCallError, ErrorEvent{Message: message}))
}
