// Package capture provides PCM sources for the sender: sound card capture
// through malgo or PortAudio, and a synthetic tone.
package capture

import (
	"errors"
	"fmt"
	"runtime"
	"sync"

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
	ErrOverrun            = errors.New("capture overrun: frames not consumed in time")
	ErrDeviceStopped      = errors.New("capture device stopped")
	ErrClosed             = errors.New("capture closed")
	ErrFrameSize          = errors.New("read buffer does not match frame size")
)

// Source yields one frame of interleaved S16 PCM per Read.
type Source interface {
	Read(pcm []int16) (int, error)
	Close() error
}

// Open starts the capture device selected by dev.Backend.
func Open(audio config.AudioConfig, dev config.DeviceConfig) (Source, error) {
	switch dev.Backend {
	case config.BackendMalgo, "":
		return NewMalgoCapture(audio, dev)
	case config.BackendPortAudio:
		return NewPortAudioCapture(audio, dev)
	default:
		return nil, fmt.Errorf("unknown audio backend %q", dev.Backend)
	}
}

// MalgoCapture adapts malgo's push callbacks to a blocking Read. The
// callback fills a bounded FIFO; Read takes whole frames out of it.
type MalgoCapture struct {
	ctx       *malgo.AllocatedContext
	device    *malgo.Device
	fifo      *buffer.PCM
	resampler *resample.Resampler

	frameSamples int
	channels     int
	scratch      []int16
	log          zerolog.Logger

	closeOnce sync.Once
	closeErr  error
}

func NewMalgoCapture(audio config.AudioConfig, dev config.DeviceConfig) (*MalgoCapture, error) {
	logger := log.With().Str("component", "capture").Str("backend", config.BackendMalgo).Logger()

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logger.Debug().Msg(msg)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init malgo context: %w", err)
	}

	mc := &MalgoCapture{
		ctx:          ctx,
		fifo:         buffer.NewPCM(audio.FrameSamples() * dev.BufferFrames),
		frameSamples: audio.FrameSamples(),
		channels:     int(audio.Channels),
		log:          logger,
	}

	rate := audio.SampleRate
	periodFrames := audio.FramesPerBuffer
	if dev.SampleRate != 0 && dev.SampleRate != audio.SampleRate {
		rate = dev.SampleRate
		periodFrames = int(uint64(audio.FramesPerBuffer) * uint64(dev.SampleRate) / uint64(audio.SampleRate))
		mc.resampler, err = resample.New(dev.SampleRate, audio.SampleRate, mc.channels, periodFrames)
		if err != nil {
			mc.releaseContext()
			return nil, err
		}
		logger.Info().Uint32("device_rate", rate).Uint32("stream_rate", audio.SampleRate).Msg("Resampling capture")
	}

	capCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	capCfg.Capture.Format = malgo.FormatS16
	capCfg.Capture.Channels = uint32(audio.Channels)
	capCfg.SampleRate = rate
	capCfg.PeriodSizeInFrames = uint32(periodFrames)

	// alsa specific settings for linux
	if runtime.GOOS == "linux" {
		capCfg.Alsa.NoMMap = 1
	}

	device, err := malgo.InitDevice(ctx.Context, capCfg, malgo.DeviceCallbacks{
		Data: mc.onCapture,
		Stop: func() { mc.fifo.CloseWithError(ErrDeviceStopped) },
	})
	if err != nil {
		mc.releaseContext()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}
	mc.device = device

	if err := mc.device.Start(); err != nil {
		mc.Close()
		return nil, fmt.Errorf("failed to start capture device: %w", err)
	}

	logger.Info().Str("format", audio.Fingerprint()).Int("buffer_samples", mc.fifo.Cap()).Msg("Capture device started")
	return mc, nil
}

func (mc *MalgoCapture) onCapture(_, input []byte, frameCount uint32) {
	if mc.fifo.Err() != nil {
		return
	}
	n := int(frameCount) * mc.channels
	if cap(mc.scratch) < n {
		mc.scratch = make([]int16, n)
	}
	samples := mc.scratch[:convert.BytesToInt16Into(mc.scratch[:n], input)]

	if mc.resampler != nil {
		out, err := mc.resampler.Process(samples)
		if err != nil {
			mc.fifo.CloseWithError(err)
			return
		}
		samples = out
	}

	if dropped := mc.fifo.Offer(samples); dropped > 0 {
		mc.fifo.CloseWithError(fmt.Errorf("%w: %d samples dropped", ErrOverrun, dropped))
	}
}

// Read blocks until one full frame has been captured.
func (mc *MalgoCapture) Read(pcm []int16) (int, error) {
	if len(pcm) != mc.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), mc.frameSamples)
	}
	return mc.fifo.ReadFull(pcm)
}

// Close stops the device and wakes a blocked Read. Safe to call more than
// once and from another goroutine.
func (mc *MalgoCapture) Close() error {
	mc.closeOnce.Do(func() {
		mc.fifo.CloseWithError(ErrClosed)
		if mc.device != nil {
			mc.device.Uninit()
		}
		if mc.resampler != nil {
			mc.closeErr = mc.resampler.Close()
		}
		mc.releaseContext()
		mc.log.Info().Msg("Capture device closed")
	})
	return mc.closeErr
}

func (mc *MalgoCapture) releaseContext() {
	if mc.ctx != nil {
		_ = mc.ctx.Uninit()
		mc.ctx.Free()
		mc.ctx = nil
	}
}
