package callclient

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"marketplace-rtc/internal/socket"
)

var (
	ErrBusy    = errors.New("callclient: another call is underway")
	ErrNoCall  = errors.New("callclient: no call underway")
	ErrNoMedia = errors.New("callclient: media source unavailable")
)

// Signaler sends one event frame to the server. *Socket implements it.
type Signaler interface {
	Send(event string, payload any) error
}

type pendingSignal struct {
	event string
	sig   socket.SignalEvent
}

// IncomingCall is handed to the OnIncoming callback so the application
// can render a ring screen and decide.
type IncomingCall struct {
	SessionID  string
	CallerID   string
	CallerName string
	ContextRef string
}

// Options tunes a Controller. Zero value is usable.
type Options struct {
	ICEServers []string
	Logger     *slog.Logger
}

// Controller is the client-side call driver: it owns the local media
// handle and the peer negotiation object for the one call underway, and
// turns server notifications into negotiation steps.
//
// The server tells both sides a call was accepted before either side
// negotiates. If a signaling payload nevertheless arrives first, it is
// buffered and replayed once the accepted notification lands.
type Controller struct {
	sig       Signaler
	openMedia OpenMedia
	newNeg    newNegotiatorFunc
	projector *Projector
	log       *slog.Logger

	mu       sync.Mutex
	isCaller bool
	media    MediaSource
	neg      negotiator
	pending  []pendingSignal

	onIncoming   func(IncomingCall)
	onError      func(message string)
	onPeerToggle func(kind string, enabled bool)
}

func NewController(sig Signaler, openMedia OpenMedia, opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		sig:       sig,
		openMedia: openMedia,
		newNeg:    newPionNegotiator(opts.ICEServers),
		projector: NewProjector(),
		log:       log,
	}
}

// Projector exposes the phase state for UI subscription.
func (c *Controller) Projector() *Projector { return c.projector }

// OnIncoming registers the ring-screen callback.
func (c *Controller) OnIncoming(fn func(IncomingCall)) {
	c.mu.Lock()
	c.onIncoming = fn
	c.mu.Unlock()
}

// OnError registers the transient-failure callback ("failed to initiate
// call" style messages).
func (c *Controller) OnError(fn func(message string)) {
	c.mu.Lock()
	c.onError = fn
	c.mu.Unlock()
}

// OnPeerToggle registers the peer mute/camera indicator callback.
func (c *Controller) OnPeerToggle(fn func(kind string, enabled bool)) {
	c.mu.Lock()
	c.onPeerToggle = fn
	c.mu.Unlock()
}

// Call starts an outbound call. Media is acquired before anything is
// signaled; a denied permission aborts the attempt cleanly.
func (c *Controller) Call(calleeID, contextRef string) error {
	if !c.projector.Begin("") {
		return ErrBusy
	}

	media, err := c.acquireMedia()
	if err != nil {
		c.projector.Terminate("")
		c.projector.Reset()
		return err
	}

	c.mu.Lock()
	c.isCaller = true
	c.media = media
	c.mu.Unlock()

	if err := c.sig.Send(socket.EventCallInitiate, socket.InitiatePayload{CalleeID: calleeID, ContextRef: contextRef}); err != nil {
		c.teardown("")
		return err
	}
	return nil
}

// Accept answers the ringing incoming call.
func (c *Controller) Accept() error {
	sessionID := c.projector.SessionID()
	if sessionID == "" || c.projector.Phase() != PhaseRinging {
		return ErrNoCall
	}

	media, err := c.acquireMedia()
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.isCaller = false
	c.media = media
	c.mu.Unlock()

	return c.sig.Send(socket.EventCallAccept, socket.SessionPayload{SessionID: sessionID})
}

// Reject declines the ringing incoming call.
func (c *Controller) Reject() error {
	sessionID := c.projector.SessionID()
	if sessionID == "" {
		return ErrNoCall
	}
	err := c.sig.Send(socket.EventCallReject, socket.SessionPayload{SessionID: sessionID})
	c.teardown(sessionID)
	return err
}

// HangUp ends the current call locally and tells the server.
func (c *Controller) HangUp() error {
	sessionID := c.projector.SessionID()
	if sessionID == "" {
		return ErrNoCall
	}
	err := c.sig.Send(socket.EventCallEnd, socket.SessionPayload{SessionID: sessionID})
	c.teardown(sessionID)
	return err
}

// ToggleAudio flips the local microphone and tells the peer's UI.
func (c *Controller) ToggleAudio(enabled bool) error {
	return c.toggle(socket.EventToggleAudio, enabled, func(m MediaSource) { m.SetAudioEnabled(enabled) })
}

// ToggleVideo flips the local camera and tells the peer's UI.
func (c *Controller) ToggleVideo(enabled bool) error {
	return c.toggle(socket.EventToggleVideo, enabled, func(m MediaSource) { m.SetVideoEnabled(enabled) })
}

func (c *Controller) toggle(event string, enabled bool, apply func(MediaSource)) error {
	sessionID := c.projector.SessionID()
	c.mu.Lock()
	media := c.media
	c.mu.Unlock()
	if sessionID == "" || media == nil {
		return ErrNoCall
	}
	apply(media)
	return c.sig.Send(event, socket.TogglePayload{SessionID: sessionID, Enabled: enabled})
}

// Close releases whatever call is underway. Call it on navigation away
// or application shutdown.
func (c *Controller) Close() {
	c.teardown("")
}

/* ===================== inbound events ===================== */

// HandleEvent consumes one server frame. The socket read loop calls it
// for every envelope, in arrival order.
func (c *Controller) HandleEvent(env socket.Envelope) {
	switch env.Event {
	case socket.EventCallIncoming:
		c.handleIncoming(env.Data)
	case socket.EventCallInitiated:
		var p socket.SessionEvent
		if json.Unmarshal(env.Data, &p) == nil {
			c.projector.Bind(p.SessionID)
		}
	case socket.EventCallAccepted:
		c.handleAccepted(env.Data)
	case socket.EventCallRejected, socket.EventCallMissed:
		var p socket.SessionEvent
		if json.Unmarshal(env.Data, &p) == nil {
			c.teardown(p.SessionID)
		}
	case socket.EventCallEnded:
		var p socket.EndedEvent
		if json.Unmarshal(env.Data, &p) == nil {
			c.teardown(p.SessionID)
		}
	case socket.EventCallError:
		c.handleError(env.Data)
	case socket.EventSignalOffer, socket.EventSignalAnswer, socket.EventSignalCandidate:
		c.handleSignal(env.Event, env.Data)
	case socket.EventPeerToggleAudio:
		c.handlePeerToggle("audio", env.Data)
	case socket.EventPeerToggleVideo:
		c.handlePeerToggle("video", env.Data)
	}
}

func (c *Controller) handleIncoming(data json.RawMessage) {
	var inc struct {
		SessionID  string `json:"session_id"`
		CallerID   string `json:"caller_id"`
		CallerName string `json:"caller_name"`
		ContextRef string `json:"context_ref"`
	}
	if err := json.Unmarshal(data, &inc); err != nil || inc.SessionID == "" {
		return
	}
	if !c.projector.Begin(inc.SessionID) {
		// Already on a call; let the ring timeout resolve it server-side.
		c.log.Debug("ignoring incoming call while busy", "session_id", inc.SessionID)
		return
	}
	c.mu.Lock()
	fn := c.onIncoming
	c.mu.Unlock()
	if fn != nil {
		fn(IncomingCall{SessionID: inc.SessionID, CallerID: inc.CallerID, CallerName: inc.CallerName, ContextRef: inc.ContextRef})
	}
}

func (c *Controller) handleAccepted(data json.RawMessage) {
	var p socket.SessionEvent
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	if !c.projector.Accepted(p.SessionID) {
		return
	}

	c.mu.Lock()
	isCaller := c.isCaller
	c.mu.Unlock()

	if isCaller {
		if err := c.startNegotiation(p.SessionID, nil); err != nil {
			c.log.Error("negotiation failed", "session_id", p.SessionID, "err", err)
			c.reportError("call setup failed")
		}
	}
	c.drainPending(p.SessionID)
}

// handleSignal routes a relayed negotiation payload. Anything arriving
// before the accepted notification is buffered, preserving the
// accept-before-negotiate ordering even when delivery reorders frames.
func (c *Controller) handleSignal(event string, data json.RawMessage) {
	var sig socket.SignalEvent
	if err := json.Unmarshal(data, &sig); err != nil || sig.SessionID == "" {
		return
	}
	if sig.SessionID != c.projector.SessionID() {
		return
	}

	if c.projector.Phase() == PhaseRinging {
		c.mu.Lock()
		c.pending = append(c.pending, pendingSignal{event: event, sig: sig})
		c.mu.Unlock()
		return
	}
	c.applySignal(event, sig)
}

func (c *Controller) applySignal(event string, sig socket.SignalEvent) {
	var err error
	switch event {
	case socket.EventSignalOffer:
		err = c.startNegotiation(sig.SessionID, sig.Payload)
	case socket.EventSignalAnswer:
		c.mu.Lock()
		neg := c.neg
		c.mu.Unlock()
		if neg == nil {
			return
		}
		err = neg.AcceptAnswer(sig.Payload)
	case socket.EventSignalCandidate:
		c.mu.Lock()
		neg := c.neg
		c.mu.Unlock()
		if neg == nil {
			return
		}
		err = neg.AddCandidate(sig.Payload)
	}
	if err != nil {
		c.log.Error("signal handling failed", "event", event, "session_id", sig.SessionID, "err", err)
		c.reportError("call setup failed")
	}
}

// startNegotiation builds the peer connection. A nil offer means we are
// the caller and produce one; otherwise we answer the relayed offer.
func (c *Controller) startNegotiation(sessionID string, offer json.RawMessage) error {
	c.mu.Lock()
	if c.neg != nil {
		c.mu.Unlock()
		return nil
	}
	media := c.media
	c.mu.Unlock()
	if media == nil {
		return ErrNoMedia
	}

	neg, err := c.newNeg(media)
	if err != nil {
		return err
	}
	neg.OnCandidate(func(cand json.RawMessage) {
		_ = c.sig.Send(socket.EventSignalCandidate, socket.SignalPayload{SessionID: sessionID, Payload: cand})
	})
	neg.OnConnected(func() {
		c.projector.Connected()
	})

	c.mu.Lock()
	c.neg = neg
	c.mu.Unlock()

	if offer == nil {
		sdp, err := neg.CreateOffer()
		if err != nil {
			return err
		}
		return c.sig.Send(socket.EventSignalOffer, socket.SignalPayload{SessionID: sessionID, Payload: sdp})
	}

	answer, err := neg.AcceptOffer(offer)
	if err != nil {
		return err
	}
	return c.sig.Send(socket.EventSignalAnswer, socket.SignalPayload{SessionID: sessionID, Payload: answer})
}

func (c *Controller) drainPending(sessionID string) {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, p := range pending {
		if p.sig.SessionID == sessionID {
			c.applySignal(p.event, p.sig)
		}
	}
}

func (c *Controller) handleError(data json.RawMessage) {
	var e socket.ErrorEvent
	msg := "call failed"
	if json.Unmarshal(data, &e) == nil && e.Message != "" {
		msg = e.Message
	}
	c.reportError(msg)
	if c.projector.Phase() == PhaseRinging {
		c.teardown("")
	}
}

func (c *Controller) handlePeerToggle(kind string, data json.RawMessage) {
	var p socket.PeerToggleEvent
	if err := json.Unmarshal(data, &p); err != nil {
		return
	}
	c.mu.Lock()
	fn := c.onPeerToggle
	c.mu.Unlock()
	if fn != nil {
		fn(kind, p.Enabled)
	}
}

func (c *Controller) reportError(message string) {
	c.mu.Lock()
	fn := c.onError
	c.mu.Unlock()
	if fn != nil {
		fn(message)
	}
}

// teardown releases the media handle and negotiation object. It runs on
// every exit path and is safe to call when nothing is underway.
func (c *Controller) teardown(sessionID string) {
	if !c.projector.Terminate(sessionID) {
		return
	}

	c.mu.Lock()
	media, neg := c.media, c.neg
	c.media, c.neg = nil, nil
	c.pending = nil
	c.isCaller = false
	c.mu.Unlock()

	if neg != nil {
		_ = neg.Close()
	}
	if media != nil {
		_ = media.Close()
	}
	c.projector.Reset()
}

func (c *Controller) acquireMedia() (MediaSource, error) {
	if c.openMedia == nil {
		return nil, ErrNoMedia
	}
	media, err := c.openMedia()
	if err != nil {
		return nil, err
	}
	if media == nil {
		return nil, ErrNoMedia
	}
	return media, nil
}
