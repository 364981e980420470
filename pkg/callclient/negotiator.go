package callclient

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
)

// negotiator abstracts the peer connection so controller tests do not
// need real ICE machinery. The payloads are the JSON forms of the
// underlying descriptions and candidates, opaque to everything above.
type negotiator interface {
	CreateOffer() (json.RawMessage, error)
	AcceptOffer(offer json.RawMessage) (json.RawMessage, error)
	AcceptAnswer(answer json.RawMessage) error
	AddCandidate(candidate json.RawMessage) error
	OnCandidate(fn func(json.RawMessage))
	OnConnected(fn func())
	Close() error
}

type newNegotiatorFunc func(media MediaSource) (negotiator, error)

// pionNegotiator drives a single webrtc.PeerConnection through
// offer/answer and trickled candidates.
type pionNegotiator struct {
	pc *webrtc.PeerConnection

	mu        sync.Mutex
	remoteSet bool
	queued    []webrtc.ICECandidateInit
}

func newPionNegotiator(iceServers []string) newNegotiatorFunc {
	return func(media MediaSource) (negotiator, error) {
		cfg := webrtc.Configuration{}
		if len(iceServers) > 0 {
			cfg.ICEServers = []webrtc.ICEServer{{URLs: iceServers}}
		}
		pc, err := webrtc.NewPeerConnection(cfg)
		if err != nil {
			return nil, fmt.Errorf("callclient: create peer connection: %w", err)
		}
		for _, track := range media.Tracks() {
			if _, err := pc.AddTrack(track); err != nil {
				_ = pc.Close()
				return nil, fmt.Errorf("callclient: add track: %w", err)
			}
		}
		return &pionNegotiator{pc: pc}, nil
	}
}

func (n *pionNegotiator) CreateOffer() (json.RawMessage, error) {
	offer, err := n.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	if err := n.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	return json.Marshal(offer)
}

func (n *pionNegotiator) AcceptOffer(raw json.RawMessage) (json.RawMessage, error) {
	var offer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &offer); err != nil {
		return nil, err
	}
	if err := n.setRemote(offer); err != nil {
		return nil, err
	}
	answer, err := n.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	if err := n.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	return json.Marshal(answer)
}

func (n *pionNegotiator) AcceptAnswer(raw json.RawMessage) error {
	var answer webrtc.SessionDescription
	if err := json.Unmarshal(raw, &answer); err != nil {
		return err
	}
	return n.setRemote(answer)
}

// setRemote applies the remote description and flushes candidates that
// trickled in before it arrived.
func (n *pionNegotiator) setRemote(desc webrtc.SessionDescription) error {
	if err := n.pc.SetRemoteDescription(desc); err != nil {
		return err
	}
	n.mu.Lock()
	queued := n.queued
	n.queued = nil
	n.remoteSet = true
	n.mu.Unlock()

	for _, cand := range queued {
		if err := n.pc.AddICECandidate(cand); err != nil {
			return err
		}
	}
	return nil
}

func (n *pionNegotiator) AddCandidate(raw json.RawMessage) error {
	var cand webrtc.ICECandidateInit
	if err := json.Unmarshal(raw, &cand); err != nil {
		return err
	}
	n.mu.Lock()
	if !n.remoteSet {
		n.queued = append(n.queued, cand)
		n.mu.Unlock()
		return nil
	}
	n.mu.Unlock()
	return n.pc.AddICECandidate(cand)
}

func (n *pionNegotiator) OnCandidate(fn func(json.RawMessage)) {
	n.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		raw, err := json.Marshal(c.ToJSON())
		if err != nil {
			return
		}
		fn(raw)
	})
}

func (n *pionNegotiator) OnConnected(fn func()) {
	n.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateConnected {
			fn()
		}
	})
}

func (n *pionNegotiator) Close() error {
	return n.pc.Close()
}
