package callclient

import "sync"

// Phase is the five-phase call state a UI renders.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseRinging    Phase = "ringing"
	PhaseConnecting Phase = "connecting"
	PhaseActive     Phase = "active"
	PhaseEnded      Phase = "ended"
)

// Projector folds server lifecycle notifications and local negotiation
// progress into a single call phase. It enforces two rules the server
// cannot enforce for the client: at most one non-idle call at a time, and
// no negotiation before the accepted notification has been applied.
type Projector struct {
	mu        sync.Mutex
	phase     Phase
	sessionID string
	onChange  func(Phase, string)
}

func NewProjector() *Projector {
	return &Projector{phase: PhaseIdle}
}

// OnChange registers a callback fired on every phase transition, outside
// the projector lock.
func (p *Projector) OnChange(fn func(phase Phase, sessionID string)) {
	p.mu.Lock()
	p.onChange = fn
	p.mu.Unlock()
}

func (p *Projector) Phase() Phase {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.phase
}

func (p *Projector) SessionID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.sessionID
}

// Begin claims the projector for a new call and moves to ringing.
// sessionID may be empty for an outbound call whose id is not yet known.
// Returns false if another call is already underway.
func (p *Projector) Begin(sessionID string) bool {
	return p.transition(func() (Phase, bool) {
		if p.phase != PhaseIdle && p.phase != PhaseEnded {
			return "", false
		}
		p.sessionID = sessionID
		return PhaseRinging, true
	})
}

// Bind attaches the server-assigned session id to an outbound call that
// began before the id was known.
func (p *Projector) Bind(sessionID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.phase != PhaseRinging || p.sessionID != "" {
		return false
	}
	p.sessionID = sessionID
	return true
}

// Accepted moves a ringing call to connecting. Notifications for any
// other session are ignored.
func (p *Projector) Accepted(sessionID string) bool {
	return p.transition(func() (Phase, bool) {
		if p.phase != PhaseRinging || p.sessionID != sessionID {
			return "", false
		}
		return PhaseConnecting, true
	})
}

// Connected records that media is actually flowing. This is the
// transport-level event, distinct from the server's accepted notification.
func (p *Projector) Connected() bool {
	return p.transition(func() (Phase, bool) {
		if p.phase != PhaseConnecting {
			return "", false
		}
		return PhaseActive, true
	})
}

// Terminate ends the current call. An empty sessionID matches whatever
// call is underway; a mismatched one is some other session's stale event
// and is ignored.
func (p *Projector) Terminate(sessionID string) bool {
	return p.transition(func() (Phase, bool) {
		if p.phase == PhaseIdle || p.phase == PhaseEnded {
			return "", false
		}
		if sessionID != "" && p.sessionID != "" && p.sessionID != sessionID {
			return "", false
		}
		return PhaseEnded, true
	})
}

// Reset returns an ended projector to idle so the next call can begin.
func (p *Projector) Reset() {
	p.transition(func() (Phase, bool) {
		if p.phase != PhaseEnded {
			return "", false
		}
		p.sessionID = ""
		return PhaseIdle, true
	})
}

func (p *Projector) transition(fn func() (Phase, bool)) bool {
	p.mu.Lock()
	next, ok := fn()
	if !ok {
		p.mu.Unlock()
		return false
	}
	p.phase = next
	sessionID := p.sessionID
	onChange := p.onChange
	p.mu.Unlock()

	if onChange != nil {
		onChange(next, sessionID)
	}
	return true
}
