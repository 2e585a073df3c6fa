package media

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/wav"
	"github.com/google/uuid"
	"github.com/oov/audio/resampler"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

const resampleQuality = 10

// FileSource loops a WAV file as a single PCMU audio track. The file is
// decoded, downmixed to mono, and resampled to 8kHz up front; playback then
// streams mu-law frames at the wire rate until the source is closed.
type FileSource struct {
	logger *slog.Logger

	track *webrtc.TrackLocalStaticSample

	// Whole file, mu-law encoded at 8kHz mono.
	encoded []byte

	enabled atomic.Bool

	done         chan struct{}
	shutdownOnce sync.Once
}

// NewFileSource loads a .WAV file into a looping audio source. Files of any
// sample rate and channel count are accepted; they are converted on load.
func NewFileSource(audioFilePath string, logger *slog.Logger) (*FileSource, error) {
	if logger == nil {
		logger = slog.Default()
	}
	sourceUUID := uuid.New()
	logger = logger.With("file source uuid", sourceUUID)

	f, err := os.Open(audioFilePath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		return nil, errors.New("not a valid WAV file")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode audio file: %w", err)
	}
	if len(buf.Data) == 0 {
		return nil, errors.New("audio file contains no samples")
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"samples", len(buf.Data),
	)

	pcm := normalize(buf.Data, int(decoder.BitDepth))
	if decoder.NumChans == 2 {
		pcm = stereoToMono(pcm)
	}
	if int(decoder.SampleRate) != sampleRate {
		pcm = resample(pcm, int(decoder.SampleRate), sampleRate)
	}

	encoded := make([]byte, len(pcm))
	for i, sample := range pcm {
		// Clamp before converting; resampling can overshoot slightly.
		scaled := float64(sample) * math.MaxInt16
		if scaled > math.MaxInt16 {
			scaled = math.MaxInt16
		} else if scaled < math.MinInt16 {
			scaled = math.MinInt16
		}
		encoded[i] = LinearToMulaw(int16(scaled))
	}

	track, err := newPCMUTrack(
		fmt.Sprintf("%s audio", sourceUUID),
		fmt.Sprintf("%s audio stream", sourceUUID),
	)
	if err != nil {
		return nil, fmt.Errorf("create audio track: %w", err)
	}

	s := &FileSource{
		logger:  logger,
		track:   track,
		encoded: encoded,
		done:    make(chan struct{}),
	}
	s.enabled.Store(true)

	go s.play()

	return s, nil
}

// Tracks implements Source.
func (s *FileSource) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

// SetEnabled implements Source.
func (s *FileSource) SetEnabled(enabled bool) {
	s.enabled.Store(enabled)
}

// Enabled implements Source.
func (s *FileSource) Enabled() bool {
	return s.enabled.Load()
}

// Close implements Source.
func (s *FileSource) Close() {
	s.shutdownOnce.Do(func() {
		close(s.done)
	})
}

func (s *FileSource) play() {
	frameDuration := time.Duration(samplesPerFrame) * time.Second / sampleRate

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	offset := 0
	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
		}

		frame := silenceFrame
		if s.enabled.Load() {
			end := offset + samplesPerFrame
			if end > len(s.encoded) {
				end = len(s.encoded)
			}
			frame = s.encoded[offset:end]
		}

		offset += samplesPerFrame
		if offset >= len(s.encoded) {
			offset = 0
		}

		if err := s.track.WriteSample(media.Sample{
			Data:     frame,
			Duration: frameDuration,
		}); err != nil {
			s.logger.Error("error while writing audio sample", "err", err)
		}
	}
}

// normalize converts decoded integer samples to float32 in [-1, 1].
func normalize(data []int, bitDepth int) []float32 {
	if bitDepth == 0 {
		bitDepth = 16
	}
	max := float32(int64(1) << (bitDepth - 1))

	out := make([]float32, len(data))
	for i, v := range data {
		out[i] = float32(v) / max
	}
	return out
}

func stereoToMono(interleaved []float32) []float32 {
	if len(interleaved)%2 == 1 {
		interleaved = interleaved[:len(interleaved)-1]
	}
	out := make([]float32, len(interleaved)/2)
	for i := range out {
		out[i] = (interleaved[2*i] + interleaved[2*i+1]) / 2
	}
	return out
}

func resample(pcm []float32, fromRate int, toRate int) []float32 {
	r := resampler.New(1, fromRate, toRate, resampleQuality)

	// Output sizing is approximate; the resampler reports what it wrote.
	out := make([]float32, len(pcm)*toRate/fromRate+sampleRate)
	_, written := r.ProcessFloat32(0, pcm, out)
	return out[:written]
}
