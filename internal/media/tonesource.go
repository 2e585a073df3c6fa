package media

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// ToneSource generates a continuous sine test tone as a PCMU audio track.
// Useful for running a participant with no media file at hand, and for
// soak-testing a room with distinguishable per-participant audio.
type ToneSource struct {
	logger *slog.Logger

	track     *webrtc.TrackLocalStaticSample
	frequency float64

	enabled atomic.Bool

	done         chan struct{}
	shutdownOnce sync.Once
}

// NewToneSource creates a tone source at the given frequency in Hz.
// Frequencies at or above the Nyquist limit for 8kHz audio are rejected.
func NewToneSource(frequency float64, logger *slog.Logger) (*ToneSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if frequency <= 0 || frequency >= sampleRate/2 {
		return nil, fmt.Errorf("tone frequency %vHz outside (0, %v)", frequency, sampleRate/2)
	}

	sourceUUID := uuid.New()
	track, err := newPCMUTrack(
		fmt.Sprintf("%s audio", sourceUUID),
		fmt.Sprintf("%s audio stream", sourceUUID),
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	s := &ToneSource{
		logger:    logger.With("tone source uuid", sourceUUID),
		track:     track,
		frequency: frequency,
		done:      make(chan struct{}),
	}
	s.enabled.Store(true)

	go s.play()

	return s, nil
}

// Tracks implements Source.
func (s *ToneSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// SetEnabled implements Source.
func (s *ToneSource) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled implements Source.
func (s *ToneSource) Enabled() bool {
	return s.enabled.Load()
}

// Close implements Source.
func (s *ToneSource) Close() {
	s.shutdownOnce.Do(func() {
		close(s.done)
	})
}

func (s *ToneSource) play() {
	frameDuration := time.Duration(samplesPerFrame) * time.Second / sampleRate

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	var phase float64
	phaseStep := 2 * math.Pi * s.frequency / sampleRate

	frame := make([]byte, samplesPerFrame)
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		if !s.enabled.Load() {
			if err := s.track.WriteSample(media.Sample{
				Data:     silenceFrame,
				Duration: frameDuration,
			}); err != nil {
				s.logger.Error("error while writing audio sample", "err", err)
			}
			continue
		}

		for i := range frame {
			// Half amplitude leaves headroom.
			sample := 0.5 * math.Sin(phase)
			frame[i] = LinearToMulaw(int16(sample * math.MaxInt16))

			phase += phaseStep
			if phase >= 2*math.Pi {
				phase -= 2 * math.Pi
			}
		}

		if err := s.track.WriteSample(media.Sample{
			Data:     frame,
			Duration: frameDuration,
		}); err != nil {
			s.logger.Error("error while writing audio sample", "err", err)
		}
	}
}
