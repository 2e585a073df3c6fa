package negotiation

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/hearthside-software/hearth/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// TrackProvider supplies the local media tracks to attach to a new
// transport. Tracks are captured once, at transport creation; later changes
// to local media never reach already-negotiated peers.
type TrackProvider interface {
	Tracks() []webrtc.TrackLocal
}

// RemoteTrackHandler receives every media track a peer delivers once its
// transport is established. The rendering surface behind it is not this
// package's concern.
type RemoteTrackHandler func(peerID string, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)

// PionFactory builds pion-backed session transports sharing one
// webrtc.Configuration and one local media source.
type PionFactory struct {
	logger *slog.Logger

	config        webrtc.Configuration
	tracks        TrackProvider
	onRemoteTrack RemoteTrackHandler
}

// NewPionFactory creates a transport factory.
//
// config defines the configuration for all peer connections made by this
// factory; see https://github.com/pion/webrtc for details. tracks may be nil
// for a receive-only participant, and onRemoteTrack may be nil to discard
// incoming media. If logger is nil, slog.Default() is used.
func NewPionFactory(
	config webrtc.Configuration,
	tracks TrackProvider,
	onRemoteTrack RemoteTrackHandler,
	logger *slog.Logger,
) *PionFactory {
	if logger == nil {
		logger = slog.Default()
	}
	return &PionFactory{
		logger:        logger,
		config:        config,
		tracks:        tracks,
		onRemoteTrack: onRemoteTrack,
	}
}

// NewTransport implements TransportFactory.
func (f *PionFactory) NewTransport(peerID string, hooks TransportHooks) (SessionTransport, error) {
	pc, err := webrtc.NewPeerConnection(f.config)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	t := &PionTransport{
		logger: f.logger.With("peer", peerID),
		pc:     pc,
	}

	if f.tracks != nil {
		for _, track := range f.tracks.Tracks() {
			sender, err := pc.AddTrack(track)
			if err != nil {
				pc.Close()
				return nil, fmt.Errorf("add local track: %w", err)
			}
			// Drain RTCP so interceptors keep functioning.
			go func() {
				rtcpBuf := make([]byte, 1500)
				for {
					if _, _, err := sender.Read(rtcpBuf); err != nil {
						return
					}
				}
			}()
		}
	}

	pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		t.logger.Debug(
			"received track",
			"track ID", track.ID(),
			"track kind", track.Kind().String(),
		)
		if f.onRemoteTrack != nil {
			f.onRemoteTrack(peerID, track, receiver)
		}
	})

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// Gathering finished.
			return
		}
		init := c.ToJSON()
		hooks.OnLocalCandidate(protocol.Candidate{
			Candidate:        init.Candidate,
			SDPMid:           init.SDPMid,
			SDPMLineIndex:    init.SDPMLineIndex,
			UsernameFragment: init.UsernameFragment,
		})
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		t.logger.Debug("peer connection state change", "new state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			t.failureOnce.Do(hooks.OnFailure)
		}
	})

	return t, nil
}

// PionTransport implements SessionTransport over a webrtc.PeerConnection.
type PionTransport struct {
	logger *slog.Logger

	pc          *webrtc.PeerConnection
	failureOnce sync.Once
	closeOnce   sync.Once
}

// CreateOffer implements SessionTransport. Candidates trickle through the
// OnLocalCandidate hook, so the offer is sent without waiting for gathering
// to complete.
func (t *PionTransport) CreateOffer() (protocol.Description, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return protocol.Description{}, fmt.Errorf("create offer: %w", err)
	}
	if err := t.pc.SetLocalDescription(offer); err != nil {
		return protocol.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.Description{Type: protocol.DescriptionOffer, SDP: offer.SDP}, nil
}

// CreateAnswer implements SessionTransport.
func (t *PionTransport) CreateAnswer() (protocol.Description, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return protocol.Description{}, fmt.Errorf("create answer: %w", err)
	}
	if err := t.pc.SetLocalDescription(answer); err != nil {
		return protocol.Description{}, fmt.Errorf("set local description: %w", err)
	}
	return protocol.Description{Type: protocol.DescriptionAnswer, SDP: answer.SDP}, nil
}

// SetRemoteDescription implements SessionTransport.
func (t *PionTransport) SetRemoteDescription(desc protocol.Description) error {
	var sdpType webrtc.SDPType
	switch desc.Type {
	case protocol.DescriptionOffer:
		sdpType = webrtc.SDPTypeOffer
	case protocol.DescriptionAnswer:
		sdpType = webrtc.SDPTypeAnswer
	default:
		return fmt.Errorf("unexpected description type %q", desc.Type)
	}

	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: sdpType,
		SDP:  desc.SDP,
	})
}

// AddCandidate implements SessionTransport.
func (t *PionTransport) AddCandidate(cand protocol.Candidate) error {
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:        cand.Candidate,
		SDPMid:           cand.SDPMid,
		SDPMLineIndex:    cand.SDPMLineIndex,
		UsernameFragment: cand.UsernameFragment,
	})
}

// Close implements SessionTransport.
func (t *PionTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		err = t.pc.Close()
	})
	return err
}
