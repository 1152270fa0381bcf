//go:build portaudio

package capture

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

// PortAudioCapture reads frames with PortAudio's blocking stream API.
type PortAudioCapture struct {
	stream    *portaudio.Stream
	in        []int16
	pending   []int16
	resampler *resample.Resampler

	frameSamples int
	log          zerolog.Logger

	readMu    sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func NewPortAudioCapture(audio config.AudioConfig, dev config.DeviceConfig) (Source, error) {
	logger := log.With().Str("component", "capture").Str("backend", config.BackendPortAudio).Logger()

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to init portaudio: %w", err)
	}

	pc := &PortAudioCapture{
		frameSamples: audio.FrameSamples(),
		log:          logger,
	}
	rate := audio.SampleRate
	frames := audio.FramesPerBuffer
	if dev.SampleRate != 0 && dev.SampleRate != audio.SampleRate {
		rate = dev.SampleRate
		frames = int(uint64(audio.FramesPerBuffer) * uint64(dev.SampleRate) / uint64(audio.SampleRate))
		r, err := resample.New(dev.SampleRate, audio.SampleRate, int(audio.Channels), frames)
		if err != nil {
			portaudio.Terminate()
			return nil, err
		}
		pc.resampler = r
	}
	pc.in = make([]int16, frames*int(audio.Channels))

	stream, err := portaudio.OpenDefaultStream(int(audio.Channels), 0, float64(rate), frames, pc.in)
	if err != nil {
		pc.release()
		return nil, fmt.Errorf("failed to open capture stream: %w", err)
	}
	pc.stream = stream
	if err := stream.Start(); err != nil {
		pc.release()
		return nil, fmt.Errorf("failed to start capture stream: %w", err)
	}

	logger.Info().Str("format", audio.Fingerprint()).Msg("Capture stream started")
	return pc, nil
}

func (pc *PortAudioCapture) Read(pcm []int16) (int, error) {
	if len(pcm) != pc.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), pc.frameSamples)
	}
	pc.readMu.Lock()
	defer pc.readMu.Unlock()

	for len(pc.pending) < pc.frameSamples {
		if pc.closed.Load() {
			return 0, ErrClosed
		}
		if err := pc.stream.Read(); err != nil {
			if pc.closed.Load() {
				return 0, ErrClosed
			}
			if errors.Is(err, portaudio.InputOverflowed) {
				return 0, fmt.Errorf("%w: %v", ErrOverrun, err)
			}
			return 0, fmt.Errorf("capture read: %w", err)
		}
		samples := pc.in
		if pc.resampler != nil {
			out, err := pc.resampler.Process(samples)
			if err != nil {
				return 0, err
			}
			samples = out
		}
		pc.pending = append(pc.pending, samples...)
	}
	n := copy(pcm, pc.pending)
	pc.pending = append(pc.pending[:0], pc.pending[n:]...)
	return n, nil
}

// Close aborts the stream so a blocked Read returns, then tears it down.
func (pc *PortAudioCapture) Close() error {
	pc.closeOnce.Do(func() {
		pc.closed.Store(true)
		if pc.stream != nil {
			_ = pc.stream.Abort()
		}
		pc.readMu.Lock()
		defer pc.readMu.Unlock()
		pc.closeErr = pc.release()
		pc.log.Info().Msg("Capture stream closed")
	})
	return pc.closeErr
}

func (pc *PortAudioCapture) release() error {
	var errs []error
	if pc.stream != nil {
		errs = append(errs, pc.stream.Close())
		pc.stream = nil
	}
	if pc.resampler != nil {
		errs = append(errs, pc.resampler.Close())
	}
	errs = append(errs, portaudio.Terminate())
	return errors.Join(errs...)
}
