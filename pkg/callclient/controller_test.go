package callclient

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"marketplace-rtc/internal/socket"

	"github.com/pion/webrtc/v4"
)

type sentFrame struct {
	event   string
	payload any
}

type fakeSignaler struct {
	sent []sentFrame
}

func (f *fakeSignaler) Send(event string, payload any) error {
	f.sent = append(f.sent, sentFrame{event: event, payload: payload})
	return nil
}

func (f *fakeSignaler) events() []string {
	out := make([]string, len(f.sent))
	for i, s := range f.sent {
		out[i] = s.event
	}
	return out
}

type fakeMedia struct {
	closed  bool
	audioOn *bool
	videoOn *bool
}

func (m *fakeMedia) Tracks() []webrtc.TrackLocal  { return nil }
func (m *fakeMedia) SetAudioEnabled(enabled bool) { m.audioOn = &enabled }
func (m *fakeMedia) SetVideoEnabled(enabled bool) { m.videoOn = &enabled }
func (m *fakeMedia) Close() error                 { m.closed = true; return nil }

type fakeNegotiator struct {
	offered   bool
	answered  bool
	answers   []json.RawMessage
	cands     []json.RawMessage
	closed    bool
	connected func()
}

func (n *fakeNegotiator) CreateOffer() (json.RawMessage, error) {
	n.offered = true
	return json.RawMessage(`{"type":"offer","sdp":"v=0"}`), nil
}

func (n *fakeNegotiator) AcceptOffer(json.RawMessage) (json.RawMessage, error) {
	n.answered = true
	return json.RawMessage(`{"type":"answer","sdp":"v=0"}`), nil
}

func (n *fakeNegotiator) AcceptAnswer(raw json.RawMessage) error {
	n.answers = append(n.answers, raw)
	return nil
}

func (n *fakeNegotiator) AddCandidate(raw json.RawMessage) error {
	n.cands = append(n.cands, raw)
	return nil
}

func (n *fakeNegotiator) OnCandidate(func(json.RawMessage)) {}
func (n *fakeNegotiator) OnConnected(fn func())             { n.connected = fn }
func (n *fakeNegotiator) Close() error                      { n.closed = true; return nil }

type ctrlFixture struct {
	ctrl  *Controller
	sig   *fakeSignaler
	media *fakeMedia
	neg   *fakeNegotiator
}

func newCtrlFixture(t *testing.T) *ctrlFixture {
	t.Helper()
	f := &ctrlFixture{sig: &fakeSignaler{}, media: &fakeMedia{}, neg: &fakeNegotiator{}}
	open := func() (MediaSource, error) { return f.media, nil }
	f.ctrl = NewController(f.sig, open, Options{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))})
	f.ctrl.newNeg = func(MediaSource) (negotiator, error) { return f.neg, nil }
	return f
}

func (f *ctrlFixture) deliver(t *testing.T, event string, payload any) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	f.ctrl.HandleEvent(socket.Envelope{Event: event, Data: raw})
}

func TestController_CallerFlow(t *testing.T) {
	f := newCtrlFixture(t)

	if err := f.ctrl.Call("u-tech", "tech-42"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if got := f.ctrl.Projector().Phase(); got != PhaseRinging {
		t.Fatalf("expected ringing, got %s", got)
	}
	if f.sig.sent[0].event != socket.EventCallInitiate {
		t.Fatalf("expected initiate frame, got %v", f.sig.events())
	}

	f.deliver(t, socket.EventCallInitiated, socket.SessionEvent{SessionID: "s1"})
	if f.ctrl.Projector().SessionID() != "s1" {
		t.Fatalf("session id not bound")
	}

	f.deliver(t, socket.EventCallAccepted, socket.SessionEvent{SessionID: "s1"})
	if got := f.ctrl.Projector().Phase(); got != PhaseConnecting {
		t.Fatalf("expected connecting, got %s", got)
	}
	if !f.neg.offered {
		t.Fatalf("caller must produce an offer on accept")
	}
	if last := f.sig.sent[len(f.sig.sent)-1]; last.event != socket.EventSignalOffer {
		t.Fatalf("offer not signaled, got %v", f.sig.events())
	}

	f.deliver(t, socket.EventSignalAnswer, socket.SignalEvent{SessionID: "s1", Payload: json.RawMessage(`{"type":"answer"}`), From: "u-tech"})
	if len(f.neg.answers) != 1 {
		t.Fatalf("answer not applied")
	}

	f.neg.connected()
	if got := f.ctrl.Projector().Phase(); got != PhaseActive {
		t.Fatalf("expected active after transport connect, got %s", got)
	}
}

func TestController_CalleeFlow(t *testing.T) {
	f := newCtrlFixture(t)
	var rang IncomingCall
	f.ctrl.OnIncoming(func(inc IncomingCall) { rang = inc })

	f.deliver(t, socket.EventCallIncoming, map[string]any{
		"session_id": "s1", "caller_id": "u-client", "caller_name": "Ana", "context_ref": "tech-42",
	})
	if rang.SessionID != "s1" || rang.ContextRef != "tech-42" {
		t.Fatalf("incoming callback not fired: %+v", rang)
	}
	if got := f.ctrl.Projector().Phase(); got != PhaseRinging {
		t.Fatalf("expected ringing, got %s", got)
	}

	if err := f.ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}
	if f.sig.sent[0].event != socket.EventCallAccept {
		t.Fatalf("accept frame not sent, got %v", f.sig.events())
	}

	f.deliver(t, socket.EventCallAccepted, socket.SessionEvent{SessionID: "s1"})
	f.deliver(t, socket.EventSignalOffer, socket.SignalEvent{SessionID: "s1", Payload: json.RawMessage(`{"type":"offer"}`), From: "u-client"})
	if !f.neg.answered {
		t.Fatalf("callee must answer the relayed offer")
	}
	if last := f.sig.sent[len(f.sig.sent)-1]; last.event != socket.EventSignalAnswer {
		t.Fatalf("answer not signaled, got %v", f.sig.events())
	}
}

func TestController_BuffersSignalsUntilAccepted(t *testing.T) {
	f := newCtrlFixture(t)
	f.deliver(t, socket.EventCallIncoming, map[string]any{"session_id": "s1", "caller_id": "u-client"})
	if err := f.ctrl.Accept(); err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Offer races ahead of the accepted notification.
	f.deliver(t, socket.EventSignalOffer, socket.SignalEvent{SessionID: "s1", Payload: json.RawMessage(`{"type":"offer"}`), From: "u-client"})
	if f.neg.answered {
		t.Fatalf("negotiation must not start before accepted is applied")
	}

	f.deliver(t, socket.EventCallAccepted, socket.SessionEvent{SessionID: "s1"})
	if !f.neg.answered {
		t.Fatalf("buffered offer must replay after accepted")
	}
}

func TestController_SecondCallRefused(t *testing.T) {
	f := newCtrlFixture(t)
	if err := f.ctrl.Call("u-tech", ""); err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := f.ctrl.Call("u-other", ""); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
}

func TestController_MediaReleasedOnRemoteEnd(t *testing.T) {
	f := newCtrlFixture(t)
	f.ctrl.Call("u-tech", "")
	f.deliver(t, socket.EventCallInitiated, socket.SessionEvent{SessionID: "s1"})
	f.deliver(t, socket.EventCallAccepted, socket.SessionEvent{SessionID: "s1"})

	f.deliver(t, socket.EventCallEnded, socket.EndedEvent{SessionID: "s1", DurationSeconds: 30})

	if !f.media.closed {
		t.Fatalf("media must be released when the peer ends the call")
	}
	if !f.neg.closed {
		t.Fatalf("negotiation object must be destroyed")
	}
	if got := f.ctrl.Projector().Phase(); got != PhaseIdle {
		t.Fatalf("expected idle after teardown, got %s", got)
	}
}

func TestController_MediaReleasedOnReject(t *testing.T) {
	f := newCtrlFixture(t)
	f.ctrl.Call("u-tech", "")
	f.deliver(t, socket.EventCallInitiated, socket.SessionEvent{SessionID: "s1"})

	f.deliver(t, socket.EventCallRejected, socket.SessionEvent{SessionID: "s1"})
	if !f.media.closed {
		t.Fatalf("media must be released when the callee rejects")
	}
}

func TestController_MediaReleasedOnHangup(t *testing.T) {
	f := newCtrlFixture(t)
	f.ctrl.Call("u-tech", "")
	f.deliver(t, socket.EventCallInitiated, socket.SessionEvent{SessionID: "s1"})
	f.deliver(t, socket.EventCallAccepted, socket.SessionEvent{SessionID: "s1"})

	if err := f.ctrl.HangUp(); err != nil {
		t.Fatalf("hangup: %v", err)
	}
	if last := f.sig.sent[len(f.sig.sent)-1]; last.event != socket.EventCallEnd {
		t.Fatalf("end frame not sent, got %v", f.sig.events())
	}
	if !f.media.closed || !f.neg.closed {
		t.Fatalf("local hangup must release media and negotiation")
	}
}

func TestController_MediaDeniedAbortsBeforeSignaling(t *testing.T) {
	f := newCtrlFixture(t)
	denied := errors.New("permission denied")
	f.ctrl.openMedia = func() (MediaSource, error) { return nil, denied }

	if err := f.ctrl.Call("u-tech", ""); !errors.Is(err, denied) {
		t.Fatalf("expected permission error, got %v", err)
	}
	if len(f.sig.sent) != 0 {
		t.Fatalf("no frame may be sent without a media source")
	}
	if got := f.ctrl.Projector().Phase(); got != PhaseIdle {
		t.Fatalf("expected idle after denied media, got %s", got)
	}
}

func TestController_IncomingWhileBusyIgnored(t *testing.T) {
	f := newCtrlFixture(t)
	calls := 0
	f.ctrl.OnIncoming(func(IncomingCall) { calls++ })

	f.deliver(t, socket.EventCallIncoming, map[string]any{"session_id": "s1", "caller_id": "u-a"})
	f.deliver(t, socket.EventCallIncoming, map[string]any{"session_id": "s2", "caller_id": "u-b"})

	if calls != 1 {
		t.Fatalf("expected 1 ring callback, got %d", calls)
	}
	if f.ctrl.Projector().SessionID() != "s1" {
		t.Fatalf("first call displaced by second")
	}
}

func TestController_ToggleBroadcasts(t *testing.T) {
	f := newCtrlFixture(t)
	f.ctrl.Call("u-tech", "")
	f.deliver(t, socket.EventCallInitiated, socket.SessionEvent{SessionID: "s1"})

	if err := f.ctrl.ToggleAudio(false); err != nil {
		t.Fatalf("toggle audio: %v", err)
	}
	if f.media.audioOn == nil || *f.media.audioOn {
		t.Fatalf("local track not muted")
	}
	last := f.sig.sent[len(f.sig.sent)-1]
	if last.event != socket.EventToggleAudio {
		t.Fatalf("toggle not broadcast, got %v", f.sig.events())
	}
	if p, ok := last.payload.(socket.TogglePayload); !ok || p.SessionID != "s1" || p.Enabled {
		t.Fatalf("unexpected toggle payload %+v", last.payload)
	}
}

func TestController_ForeignSessionSignalsDropped(t *testing.T) {
	f := newCtrlFixture(t)
	f.ctrl.Call("u-tech", "")
	f.deliver(t, socket.EventCallInitiated, socket.SessionEvent{SessionID: "s1"})
	f.deliver(t, socket.EventCallAccepted, socket.SessionEvent{SessionID: "s1"})

	f.deliver(t, socket.EventSignalAnswer, socket.SignalEvent{SessionID: "s-other", Payload: json.RawMessage(`{}`), From: "u-x"})
	if len(f.neg.answers) != 0 {
		t.Fatalf("signal for another session must not reach the negotiator")
	}
}
