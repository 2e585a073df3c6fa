// Package media provides local media sources for a participant client.
//
// Actual device capture (microphones, cameras, permission prompts) is an
// external concern; the sources here stand in for it behind the Source
// interface, which is also the boundary the negotiation layer attaches
// tracks through.
package media

import (
	"github.com/pion/webrtc/v4"
)

const (
	// G.711 audio: 8kHz mono, 20ms frames of 160 one-byte samples.
	sampleRate      = 8000
	samplesPerFrame = 160
)

// Source is a local media source: a fixed set of outbound tracks plus
// enable/disable control. Disabling a source mutes it (silence keeps
// flowing so packet timing holds); it does not remove tracks, since tracks
// attach to transports at session creation only.
type Source interface {
	// Tracks returns the local tracks to attach to new transports.
	Tracks() []webrtc.TrackLocal

	// SetEnabled mutes or unmutes the source.
	SetEnabled(enabled bool)

	// Enabled reports whether the source is currently unmuted.
	Enabled() bool

	// Close stops the source. Idempotent.
	Close()
}

func newPCMUTrack(trackID string, streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
		trackID,
		streamID,
	)
}

// silenceFrame is one frame of muted audio: mu-law encoded zero samples.
var silenceFrame = func() []byte {
	frame := make([]byte, samplesPerFrame)
	for i := range frame {
		frame[i] = LinearToMulaw(0)
	}
	return frame
}()
