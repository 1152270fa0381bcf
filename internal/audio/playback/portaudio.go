//go:build portaudio

package playback

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/resample"
)

// PortAudioPlayback writes frames with PortAudio's blocking stream API.
// Write returns once the frame has been queued in the host buffer.
type PortAudioPlayback struct {
	stream    *portaudio.Stream
	out       []int16
	pending   []int16
	resampler *resample.Resampler

	frameSamples int
	underruns    atomic.Uint64
	log          zerolog.Logger

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewPortAudioPlayback(audio config.AudioConfig, dev config.DeviceConfig) (Sink, error) {
	logger := log.With().Str("component", "playback").Str("backend", config.BackendPortAudio).Logger()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to init portaudio: %w", err)
	}

	pp := &PortAudioPlayback{
		frameSamples: audio.FrameSamples(),
		log:          logger,
	}
	rate := audio.SampleRate
	frames := audio.FramesPerBuffer
	if dev.SampleRate != 0 && dev.SampleRate != audio.SampleRate {
		rate = dev.SampleRate
		frames = int(uint64(audio.FramesPerBuffer) * uint64(dev.SampleRate) / uint64(audio.SampleRate))
		r, err := resample.New(audio.SampleRate, dev.SampleRate, int(audio.Channels), audio.FramesPerBuffer)
		if err != nil {
			portaudio.Terminate()
			return nil, err
		}
		pp.resampler = r
	}
	pp.out = make([]int16, frames*int(audio.Channels))

	stream, err := portaudio.OpenDefaultStream(0, int(audio.Channels), float64(rate), frames, pp.out)
	if err != nil {
		pp.release()
		return nil, fmt.Errorf("failed to open playback stream: %w", err)
	}
	pp.stream = stream
	if err := stream.Start(); err != nil {
		pp.release()
		return nil, fmt.Errorf("failed to start playback stream: %w", err)
	}

	logger.Info().Str("format", audio.Fingerprint()).Msg("Playback stream started")
	return pp, nil
}

func (pp *PortAudioPlayback) Write(pcm []int16) (int, error) {
	if len(pcm) != pp.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), pp.frameSamples)
	}
	pp.writeMu.Lock()
	defer pp.writeMu.Unlock()
	if pp.closed.Load() {
		return 0, ErrClosed
	}

	samples := pcm
	if pp.resampler != nil {
		out, err := pp.resampler.Process(pcm)
		if err != nil {
			return 0, err
		}
		samples = out
	}
	pp.pending = append(pp.pending, samples...)

	for len(pp.pending) >= len(pp.out) {
		copy(pp.out, pp.pending)
		pp.pending = append(pp.pending[:0], pp.pending[len(pp.out):]...)
		if err := pp.stream.Write(); err != nil {
			if pp.closed.Load() {
				return 0, ErrClosed
			}
			// an underflow means the device already played silence; keep going
			if errors.Is(err, portaudio.OutputUnderflowed) {
				pp.underruns.Add(1)
				continue
			}
			return 0, fmt.Errorf("playback write: %w", err)
		}
	}
	return len(pcm), nil
}

func (pp *PortAudioPlayback) Close() error {
	pp.closeOnce.Do(func() {
		pp.closed.Store(true)
		if pp.stream != nil {
			_ = pp.stream.Abort()
		}
		pp.writeMu.Lock()
		defer pp.writeMu.Unlock()
		pp.closeErr = pp.release()
		pp.log.Info().Uint64("underruns", pp.underruns.Load()).Msg("Playback stream closed")
	})
	return pp.closeErr
}

func (pp *PortAudioPlayback) release() error {
	var errs []error
	if pp.stream != nil {
		errs = append(errs, pp.stream.Close())
		pp.stream = nil
	}
	if pp.resampler != nil {
		errs = append(errs, pp.resampler.Close())
	}
	errs = append(errs, portaudio.Terminate())
	return errors.Join(errs...)
}
