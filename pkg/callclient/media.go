package callclient

import "github.com/pion/webrtc/v4"

// MediaSource is the local capture handle. Implementations wrap whatever
// produces the outbound tracks (a capture device, a file, a test tone).
// The controller releases it on every exit path, local hangup, remote
// hangup, negotiation failure or rejection alike.
type MediaSource interface {
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// OpenMedia acquires the local capture handle. Acquisition is permission
// gated on real devices and may block until the user consents or fail
// outright; a call never proceeds to signaling without a source.
type OpenMedia func() (MediaSource, error)

// StaticMedia is a MediaSource over pre-built tracks. Useful for tests
// and for callers that manage capture themselves.
type StaticMedia struct {
	tracks []webrtc.TrackLocal
}

func NewStaticMedia(tracks ...webrtc.TrackLocal) *StaticMedia {
	return &StaticMedia{tracks: tracks}
}

func (m *StaticMedia) Tracks() []webrtc.TrackLocal { return m.tracks }
func (m *StaticMedia) SetAudioEnabled(bool)        {}
func (m *StaticMedia) SetVideoEnabled(bool)        {}
func (m *StaticMedia) Close() error                { return nil }
