package socket

import "encoding/json"

// Envelope is the wire frame for every realtime message, inbound and
// outbound: an event name plus an event-specific data object.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names (client -> server).
const (
	EventCallInitiate    = "call:initiate"
	EventCallAccept      = "call:accept"
	EventCallReject      = "call:reject"
	EventCallEnd         = "call:end"
	EventSignalOffer     = "webrtc:offer"
	EventSignalAnswer    = "webrtc:answer"
	EventSignalCandidate = "webrtc:ice-candidate"
	EventToggleAudio     = "call:toggle-audio"
	EventToggleVideo     = "call:toggle-video"
	EventCheckOnline     = "user:check-online"
)

// Outbound event names (server -> client).
const (
	EventCallIncoming    = "call:incoming"
	EventCallInitiated   = "call:initiated"
	EventCallAccepted    = "call:accepted"
	EventCallRejected    = "call:rejected"
	EventCallMissed      = "call:missed"
	EventCallEnded       = "call:ended"
	EventCallError       = "call:error"
	EventOnlineStatus    = "user:online-status"
	EventPeerToggleAudio = "call:peer-toggle-audio"
	EventPeerToggleVideo = "call:peer-toggle-video"
)

// Inbound payloads. One struct per event kind; unknown fields are ignored.

type InitiatePayload struct {
	CalleeID   string `json:"callee_id"`
	ContextRef string `json:"context_ref,omitempty"`
}

type SessionPayload struct {
	SessionID string `json:"session_id"`
}

type SignalPayload struct {
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
}

type TogglePayload struct {
	SessionID string `json:"session_id"`
	Enabled   bool   `json:"enabled"`
}

type CheckOnlinePayload struct {
	UserID string `json:"user_id"`
}

// Outbound payloads.

type SessionEvent struct {
	SessionID string `json:"session_id"`
}

type EndedEvent struct {
	SessionID       string `json:"session_id"`
	DurationSeconds int    `json:"duration_seconds"`
}

type ErrorEvent struct {
	Message string `json:"message"`
}

type SignalEvent struct {
	SessionID string          `json:"session_id"`
	Payload   json.RawMessage `json:"payload"`
	From      string          `json:"from"`
}

type OnlineStatusEvent struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

type PeerToggleEvent struct {
	UserID  string `json:"user_id"`
	Enabled bool   `json:"enabled"`
}

func mustEnvelope(event string, data any) []byte {
	raw, err := json.Marshal(data)
	if err != nil {
		// Payload types are our own structs; marshal cannot fail at runtime.
		panic(err)
	}
	b, err := json.Marshal(Envelope{Event: event, Data: raw})
	if err != nil {
		panic(err)
	}
	return b
}
