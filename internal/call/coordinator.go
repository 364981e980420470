package call

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"marketplace-rtc/internal/directory"
	"marketplace-rtc/internal/presence"
	"marketplace-rtc/internal/session"
)

// ErrSessionNotFound is reported back to the requester as a call error,
// unlike wrong-state actions which are silently ignored.
var ErrSessionNotFound = errors.New("call: session not found")

// ErrCallerBusy means the caller already has a call in flight.
var ErrCallerBusy = errors.New("call: caller already has a call in flight")

// Incoming is the payload pushed to every callee handle when a call rings.
type Incoming struct {
	SessionID    string `json:"session_id"`
	CallerID     string `json:"caller_id"`
	CallerName   string `json:"caller_name,omitempty"`
	CallerAvatar string `json:"caller_avatar,omitempty"`
	ContextRef   string `json:"context_ref,omitempty"`
}

// Notifier delivers lifecycle notifications to a user's active connections.
// Delivery to an offline user is a no-op; ringing calls to offline callees
// are resolved by the ring timeout.
type Notifier interface {
	IncomingCall(calleeID string, inc Incoming)
	CallInitiated(callerID, sessionID string)
	CallAccepted(userID, sessionID string)
	CallRejected(userID, sessionID string)
	CallMissed(userID, sessionID string)
	CallEnded(userID, sessionID string, durationSeconds int)
}

// Gate caps concurrent call attempts per caller. A nil gate admits everything.
type Gate interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

const lockStripes = 64

// Coordinator owns the call lifecycle state machine:
//
//	initiate -> ringing -> accept  -> active -> end -> ended
//	                    -> reject  -> rejected
//	                    -> timeout -> missed
//
// All mutations for one session are serialized through a striped mutex so
// racing messages (double accepts, accept vs. timeout) resolve to exactly
// one transition. Wrong-state actions are deliberate no-ops: duplicate or
// stale client messages must never corrupt a session.
type Coordinator struct {
	store    *session.Store
	registry *presence.Registry
	notifier Notifier
	gate     Gate
	log      *slog.Logger

	clock       func() time.Time
	afterFunc   func(d time.Duration, f func()) *time.Timer
	ringTimeout time.Duration

	locks [lockStripes]sync.Mutex
}

type Options struct {
	// RingTimeout resolves unanswered calls to missed. Defaults to 60s.
	RingTimeout time.Duration

	// Gate optionally enforces one in-flight call per caller.
	Gate Gate
}

func NewCoordinator(store *session.Store, registry *presence.Registry, notifier Notifier, log *slog.Logger, opts Options) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	rt := opts.RingTimeout
	if rt <= 0 {
		rt = 60 * time.Second
	}
	return &Coordinator{
		store:       store,
		registry:    registry,
		notifier:    notifier,
		gate:        opts.Gate,
		log:         log,
		clock:       time.Now,
		afterFunc:   time.AfterFunc,
		ringTimeout: rt,
	}
}

// Initiate creates a ringing session, notifies the callee's handles and
// arms the ring timer. The session is returned to the caller so it can
// join the signaling room.
//
// An offline callee still produces a ringing session: the timer resolves
// it to missed. Failing fast here was considered and rejected to keep
// parity with the production behavior users already see.
func (c *Coordinator) Initiate(ctx context.Context, caller directory.User, calleeID, contextRef string) (session.Session, error) {
	if calleeID == "" {
		return session.Session{}, fmt.Errorf("call: callee id is required")
	}

	if c.gate != nil {
		ok, err := c.gate.Acquire(ctx, caller.ID)
		if err != nil {
			// Gate is best-effort: degraded redis must not block calls.
			c.log.Warn("call gate acquire failed", "caller_id", caller.ID, "err", err)
		} else if !ok {
			return session.Session{}, ErrCallerBusy
		}
	}

	sess, err := c.store.Create(ctx, caller.ID, calleeID, contextRef)
	if err != nil {
		c.releaseGate(ctx, caller.ID)
		return session.Session{}, fmt.Errorf("call: create session: %w", err)
	}

	c.notifier.CallInitiated(caller.ID, sess.ID)
	c.notifier.IncomingCall(calleeID, Incoming{
		SessionID:    sess.ID,
		CallerID:     caller.ID,
		CallerName:   caller.Name,
		CallerAvatar: caller.Avatar,
		ContextRef:   contextRef,
	})

	c.log.Info("call initiated",
		"session_id", sess.ID,
		"caller_id", caller.ID,
		"callee_id", calleeID,
		"callee_online", c.registry.IsOnline(calleeID),
	)

	// The timer always fires; expireRinging re-reads the status and
	// no-ops unless the session is still ringing. That re-check is the
	// guard against the accept/reject race, not timer cancellation.
	c.afterFunc(c.ringTimeout, func() {
		c.expireRinging(sess.ID)
	})

	return sess, nil
}

// Accept transitions ringing -> active and tells both parties to start
// negotiating. Only the callee may accept. Wrong-state accepts are no-ops.
func (c *Coordinator) Accept(ctx context.Context, userID, sessionID string) error {
	unlock := c.lock(sessionID)
	defer unlock()

	sess, err := c.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.CalleeID != userID {
		c.log.Debug("accept from non-callee ignored", "session_id", sessionID, "user_id", userID)
		return nil
	}
	if sess.Status != session.StatusRinging {
		return nil
	}

	started := c.clock().UTC()
	if _, err := c.store.Transition(ctx, sessionID, session.StatusActive, session.TransitionFields{StartedAt: &started}); err != nil {
		return fmt.Errorf("call: activate session: %w", err)
	}

	c.notifier.CallAccepted(sess.CallerID, sessionID)
	c.notifier.CallAccepted(sess.CalleeID, sessionID)
	c.log.Info("call accepted", "session_id", sessionID)
	return nil
}

// Reject transitions ringing -> rejected. Only the callee may reject.
func (c *Coordinator) Reject(ctx context.Context, userID, sessionID string) error {
	unlock := c.lock(sessionID)
	defer unlock()

	sess, err := c.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if sess.CalleeID != userID {
		c.log.Debug("reject from non-callee ignored", "session_id", sessionID, "user_id", userID)
		return nil
	}
	if sess.Status != session.StatusRinging {
		return nil
	}

	if _, err := c.store.Transition(ctx, sessionID, session.StatusRejected, session.TransitionFields{}); err != nil {
		return fmt.Errorf("call: reject session: %w", err)
	}
	c.releaseGate(ctx, sess.CallerID)

	c.notifier.CallRejected(sess.CallerID, sessionID)
	c.notifier.CallRejected(sess.CalleeID, sessionID)
	c.log.Info("call rejected", "session_id", sessionID)
	return nil
}

// End transitions active -> ended and stamps the final duration. Either
// participant may end. A session that never became active cannot be ended
// here; the ring timer resolves it instead.
func (c *Coordinator) End(ctx context.Context, userID, sessionID string) error {
	unlock := c.lock(sessionID)
	defer unlock()

	sess, err := c.getSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !sess.Participant(userID) {
		c.log.Debug("end from non-participant ignored", "session_id", sessionID, "user_id", userID)
		return nil
	}
	if sess.Status != session.StatusActive {
		return nil
	}

	ended := c.clock().UTC()
	duration := 0
	if sess.StartedAt != nil {
		duration = int(ended.Sub(*sess.StartedAt) / time.Second)
	}
	fields := session.TransitionFields{EndedAt: &ended, DurationSeconds: &duration}
	if _, err := c.store.Transition(ctx, sessionID, session.StatusEnded, fields); err != nil {
		return fmt.Errorf("call: end session: %w", err)
	}
	c.releaseGate(ctx, sess.CallerID)

	c.notifier.CallEnded(sess.CallerID, sessionID, duration)
	c.notifier.CallEnded(sess.CalleeID, sessionID, duration)
	c.log.Info("call ended", "session_id", sessionID, "duration_seconds", duration)
	return nil
}

// expireRinging is the ring-timer callback. It re-reads the session and
// only transitions if the call is still ringing; any accept or reject
// that won the race turns the firing into a no-op.
func (c *Coordinator) expireRinging(sessionID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	unlock := c.lock(sessionID)
	defer unlock()

	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		c.log.Warn("ring timer could not load session", "session_id", sessionID, "err", err)
		return
	}
	if sess.Status != session.StatusRinging {
		return
	}

	if _, err := c.store.Transition(ctx, sessionID, session.StatusMissed, session.TransitionFields{}); err != nil {
		c.log.Error("ring timer transition failed", "session_id", sessionID, "err", err)
		return
	}
	c.releaseGate(ctx, sess.CallerID)

	c.notifier.CallMissed(sess.CallerID, sessionID)
	c.notifier.CallMissed(sess.CalleeID, sessionID)
	c.log.Info("call missed", "session_id", sessionID)
}

func (c *Coordinator) getSession(ctx context.Context, sessionID string) (session.Session, error) {
	sess, err := c.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return session.Session{}, ErrSessionNotFound
		}
		return session.Session{}, fmt.Errorf("call: load session: %w", err)
	}
	return sess, nil
}

func (c *Coordinator) releaseGate(ctx context.Context, callerID string) {
	if c.gate == nil {
		return
	}
	if err := c.gate.Release(ctx, callerID); err != nil {
		c.log.Warn("call gate release failed", "caller_id", callerID, "err", err)
	}
}

// lock serializes all mutations for one session. Stripes keep the lock
// table bounded; unrelated sessions sharing a stripe only contend briefly.
func (c *Coordinator) lock(sessionID string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	m := &c.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// WithClock overrides the coordinator clock. Intended for tests.
func (c *Coordinator) WithClock(clock func() time.Time) *Coordinator {
	c.clock = clock
	return c
}
