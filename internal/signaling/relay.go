package signaling

import (
	"encoding/json"
	"sync"
)

// Kind tags a negotiation message. The relay never inspects payloads;
// kinds exist only so receivers can route them to their peer connection.
type Kind string

const (
	KindOffer     Kind = "offer"
	KindAnswer    Kind = "answer"
	KindCandidate Kind = "candidate"
)

// Signal is one opaque negotiation message scoped to a session room.
type Signal struct {
	SessionID string          `json:"session_id"`
	Kind      Kind            `json:"kind"`
	Payload   json.RawMessage `json:"payload"`
	From      string          `json:"from"`
}

// ToggleKind distinguishes the lightweight peer-state broadcasts.
type ToggleKind string

const (
	ToggleAudio ToggleKind = "audio"
	ToggleVideo ToggleKind = "video"
)

// Toggle tells the remote UI that the peer muted or disabled a track.
// It is not a session-state transition.
type Toggle struct {
	SessionID string     `json:"session_id"`
	Kind      ToggleKind `json:"kind"`
	From      string     `json:"from"`
	Enabled   bool       `json:"enabled"`
}

// Member receives relayed traffic for rooms it has joined.
type Member interface {
	DeliverSignal(sig Signal)
	DeliverToggle(tog Toggle)
}

type roomMember struct {
	identity string
	member   Member
}

// Relay forwards signaling between the participants of a session room.
// It is deliberately independent of the lifecycle coordinator: it checks
// no session state and validates no payloads. Membership is explicit —
// caller and callee each join the room before traffic flows.
type Relay struct {
	mu    sync.RWMutex
	rooms map[string]map[string]roomMember // sessionID -> handleID -> member
	index map[string]map[string]struct{}   // handleID -> joined sessionIDs
}

func NewRelay() *Relay {
	return &Relay{
		rooms: make(map[string]map[string]roomMember),
		index: make(map[string]map[string]struct{}),
	}
}

// Join adds a connection handle to a session room. Idempotent.
func (r *Relay) Join(sessionID, handleID, identity string, m Member) {
	if sessionID == "" || handleID == "" || m == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[sessionID]
	if !ok {
		room = make(map[string]roomMember)
		r.rooms[sessionID] = room
	}
	room[handleID] = roomMember{identity: identity, member: m}

	joined, ok := r.index[handleID]
	if !ok {
		joined = make(map[string]struct{})
		r.index[handleID] = joined
	}
	joined[sessionID] = struct{}{}
}

// Leave removes a handle from one room; empty rooms are dropped.
func (r *Relay) Leave(sessionID, handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.leaveLocked(sessionID, handleID)
}

// LeaveAll removes a handle from every room it joined. Called on disconnect.
func (r *Relay) LeaveAll(handleID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for sessionID := range r.index[handleID] {
		r.leaveLocked(sessionID, handleID)
	}
}

func (r *Relay) leaveLocked(sessionID, handleID string) {
	room, ok := r.rooms[sessionID]
	if ok {
		delete(room, handleID)
		if len(room) == 0 {
			delete(r.rooms, sessionID)
		}
	}
	if joined, ok := r.index[handleID]; ok {
		delete(joined, sessionID)
		if len(joined) == 0 {
			delete(r.index, handleID)
		}
	}
}

// Relay forwards a signal to every room member except the sending handle.
// A sender's other devices do receive it; only the exact originating
// connection is excluded, mirroring room semantics on the wire.
func (r *Relay) Relay(fromHandleID string, sig Signal) {
	for _, rm := range r.others(sig.SessionID, fromHandleID) {
		rm.member.DeliverSignal(sig)
	}
}

// BroadcastToggle forwards a mute/camera notification the same way.
func (r *Relay) BroadcastToggle(fromHandleID string, tog Toggle) {
	for _, rm := range r.others(tog.SessionID, fromHandleID) {
		rm.member.DeliverToggle(tog)
	}
}

func (r *Relay) others(sessionID, fromHandleID string) []roomMember {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.rooms[sessionID]
	if len(room) == 0 {
		return nil
	}
	out := make([]roomMember, 0, len(room))
	for handleID, rm := range room {
		if handleID == fromHandleID {
			continue
		}
		out = append(out, rm)
	}
	return out
}
