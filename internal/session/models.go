package session

import "time"

// Session is one call attempt, from initiation to a terminal outcome.
//
// Invariants:
// - CallerID and CalleeID are immutable after creation.
// - Rows are never deleted; the table is the call history.
// - Once Status is terminal (ended, missed, rejected) no further
//   transition is applied. The coordinator enforces legality; this
//   package only persists.
type Session struct {
	ID       string `json:"session_id" db:"id"`
	CallerID string `json:"caller_id" db:"caller_id"`
	CalleeID string `json:"callee_id" db:"callee_id"`

	// ContextRef optionally links the call to the business entity it is
	// about (e.g., a technician listing id). Opaque to the coordinator.
	ContextRef string `json:"context_ref,omitempty" db:"context_ref"`

	Status Status `json:"status" db:"status"`

	// DurationSeconds is derived from EndedAt - StartedAt; 0 when the
	// call never became active.
	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	StartedAt *time.Time `json:"started_at,omitempty" db:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusRinging  Status = "ringing"
	StatusActive   Status = "active"
	StatusEnded    Status = "ended"
	StatusMissed   Status = "missed"
	StatusRejected Status = "rejected"
)

// Terminal reports whether no further transitions are permitted.
func (s Status) Terminal() bool {
	switch s {
	case StatusEnded, StatusMissed, StatusRejected:
		return true
	default:
		return false
	}
}

// Participant reports whether userID is on either side of the call.
func (s Session) Participant(userID string) bool {
	return userID != "" && (s.CallerID == userID || s.CalleeID == userID)
}
