// Package playback provides PCM sinks for the receiver: sound card output
// through malgo or PortAudio, and a sink that discards audio.
package playback

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sarowar6362/streamer56/internal/audio/buffer"
	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/convert"
	"github.com/Sarowar6362/streamer56/internal/audio/resample"
)

var (
	ErrBackendUnavailable = errors.New("audio backend not available in this build")
	ErrDeviceStopped      = errors.New("playback device stopped")
	ErrClosed             = errors.New("playback closed")
	ErrFrameSize          = errors.New("write buffer does not match frame size")
)

// Sink accepts one frame of interleaved S16 PCM per Write.
type Sink interface {
	Write(pcm []int16) (int, error)
	Close() error
}

// Open starts the playback device selected by dev.Backend.
func Open(audio config.AudioConfig, dev config.DeviceConfig) (Sink, error) {
	switch dev.Backend {
	case config.BackendMalgo, "":
		return NewMalgoPlayback(audio, dev)
	case config.BackendPortAudio:
		return NewPortAudioPlayback(audio, dev)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", dev.Backend)
	}
}

// MalgoPlayback adapts malgo's pull callbacks to a blocking Write. Write
// blocks while the FIFO is full; the callback plays silence when it runs dry.
type MalgoPlayback struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	fifo      *buffer.PCM
	resampler *resample.Resampler

	frameSamples int
	channels     int
	scratch      []int16
	started      atomic.Bool
	underruns    atomic.Uint64
	log          zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewMalgoPlayback(audio config.AudioConfig, dev config.DeviceConfig) (*MalgoPlayback, error) {
	logger := log.With().Str("component", "playback").Str("backend", config.BackendMalgo).Logger()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug().Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	mp := &MalgoPlayback{
		ctx:          ctx,
		frameSamples: audio.FrameSamples(),
		channels:     int(audio.Channels),
		log:          logger,
	}

	rate := audio.SampleRate
	periodFrames := audio.FramesPerBuffer
	if dev.SampleRate != 0 && dev.SampleRate != audio.SampleRate {
		rate = dev.SampleRate
		periodFrames = int(uint64(audio.FramesPerBuffer) * uint64(dev.SampleRate) / uint64(audio.SampleRate))
		mp.resampler, err = resample.New(audio.SampleRate, dev.SampleRate, mp.channels, audio.FramesPerBuffer)
		if err != nil {
			mp.releaseContext()
			return nil, err
		}
		logger.Info().Uint32("device_rate", rate).Uint32("stream_rate", audio.SampleRate).Msg("Resampling playback")
	}
	// FIFO sized in device-rate samples, plus slack for resampler jitter
	mp.fifo = buffer.NewPCM((periodFrames + 16) * mp.channels * dev.BufferFrames)

	playCfg := malgo.DefaultDeviceConfig(malgo.Playback)
	playCfg.Playback.Format = malgo.FormatS16
	playCfg.Playback.Channels = uint32(audio.Channels)
	playCfg.SampleRate = rate
	playCfg.PeriodSizeInFrames = uint32(periodFrames)

	if runtime.GOOS == "linux" {
		playCfg.Alsa.NoMMap = 1
	}

	device, err := malgo.InitDevice(ctx.Context, playCfg, malgo.DeviceCallbacks{
		Data: mp.onPlay,
		Stop: func() { mp.fifo.CloseWithError(ErrDeviceStopped) },
	})
	if err != nil {
		mp.releaseContext()
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}
	mp.device = device

	if err := mp.device.Start(); err != nil {
		mp.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	logger.Info().Str("format", audio.Fingerprint()).Int("buffer_samples", mp.fifo.Cap()).Msg("Playback device started")
	return mp, nil
}

func (mp *MalgoPlayback) onPlay(output, _ []byte, frameCount uint32) {
	n := int(frameCount) * mp.channels
	if cap(mp.scratch) < n {
		mp.scratch = make([]int16, n)
	}
	samples := mp.scratch[:n]
	got := mp.fifo.Drain(samples)
	if got < n {
		clear(samples[got:])
		if mp.started.Load() {
			mp.underruns.Add(1)
		}
	}
	convert.Int16ToBytesInto(output, samples)
}

// Write queues one frame for playback, blocking while the device is behind.
func (mp *MalgoPlayback) Write(pcm []int16) (int, error) {
	if len(pcm) != mp.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), mp.frameSamples)
	}
	samples := pcm
	if mp.resampler != nil {
		out, err := mp.resampler.Process(pcm)
		if err != nil {
			return 0, err
		}
		samples = out
	}
	if _, err := mp.fifo.WriteFull(samples); err != nil {
		return 0, err
	}
	mp.started.Store(true)
	return len(pcm), nil
}

// Underruns counts device periods that had to be padded with silence after
// playback started.
func (mp *MalgoPlayback) Underruns() uint64 {
	return mp.underruns.Load()
}

func (mp *MalgoPlayback) Close() error {
	mp.closeOnce.Do(func() {
		mp.fifo.CloseWithError(ErrClosed)
		if mp.device != nil {
			mp.device.Uninit()
		}
		if mp.resampler != nil {
			mp.closeErr = mp.resampler.Close()
		}
		mp.releaseContext()
		mp.log.Info().Uint64("underruns", mp.underruns.Load()).Msg("Playback device closed")
	})
	return mp.closeErr
}

func (mp *MalgoPlayback) releaseContext() {
	if mp.ctx != nil {
		_ = mp.ctx.Uninit()
		mp.ctx.Free()
		mp.ctx = nil
	}
}
