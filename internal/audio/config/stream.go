package config

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sethvargo/go-envconfig"
)

const (
	BackendMalgo     = "malgo"
	BackendPortAudio = "portaudio"

	SourceDevice = "device"
	SourceTone   = "tone"

	SinkDevice = "device"
	SinkNull   = "null"

	DefaultDestination = "127.0.0.1:8888"
	DefaultListen      = ":8888"
)

// DeviceConfig is host local and never has to match the peer.
type DeviceConfig struct {
	Backend string `env:"AUDIO_BACKEND, default=malgo"`
	// SampleRate is the native device rate; 0 means the contract rate.
	SampleRate   uint32 `env:"AUDIO_DEVICE_SAMPLE_RATE"`
	BufferFrames int    `env:"AUDIO_DEVICE_BUFFER_FRAMES, default=8"`
}

func (dc DeviceConfig) Validate() error {
	var errs []error
	switch dc.Backend {
	case BackendMalgo, BackendPortAudio:
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", dc.Backend))
	}
	if dc.BufferFrames < 2 {
		errs = append(errs, fmt.Errorf("device buffer must hold at least 2 frames, got %d", dc.BufferFrames))
	}
	if dc.SampleRate != 0 && (dc.SampleRate < 8000 || dc.SampleRate > 192000) {
		errs = append(errs, fmt.Errorf("device sample rate %d outside 8000..192000", dc.SampleRate))
	}
	return errors.Join(errs...)
}

type SenderConfig struct {
	Audio  AudioConfig
	Device DeviceConfig

	Destination   string        `env:"STREAM_DEST, default=127.0.0.1:8888"`
	Source        string        `env:"STREAM_SOURCE, default=device"`
	ToneFrequency float64       `env:"TONE_FREQUENCY, default=440"`
	ToneDuration  time.Duration `env:"TONE_DURATION"`
	Pipelined     bool          `env:"STREAM_PIPELINED"`
	MetricsAddr   string        `env:"METRICS_ADDR"`
}

func (sc SenderConfig) Validate() error {
	errs := []error{sc.Audio.Validate(), sc.Device.Validate()}
	if _, err := net.ResolveUDPAddr("udp", sc.Destination); err != nil {
		errs = append(errs, fmt.Errorf("invalid destination %q: %w", sc.Destination, err))
	}
	switch sc.Source {
	case SourceDevice:
	case SourceTone:
		if sc.ToneFrequency <= 0 || sc.ToneFrequency >= float64(sc.Audio.SampleRate)/2 {
			errs = append(errs, fmt.Errorf("tone frequency %.1f outside (0, nyquist)", sc.ToneFrequency))
		}
		if sc.ToneDuration < 0 {
			errs = append(errs, fmt.Errorf("negative tone duration %s", sc.ToneDuration))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q", sc.Source))
	}
	return errors.Join(errs...)
}

type ReceiverConfig struct {
	Audio  AudioConfig
	Device DeviceConfig

	Listen string `env:"STREAM_LISTEN, default=:8888"`
	// Peer restricts accepted datagrams to one source address when set.
	Peer        string `env:"STREAM_PEER"`
	Sink        string `env:"STREAM_SINK, default=device"`
	MetricsAddr string `env:"METRICS_ADDR"`
}

func (rc ReceiverConfig) Validate() error {
	errs := []error{rc.Audio.Validate(), rc.Device.Validate()}
	if _, err := net.ResolveUDPAddr("udp", rc.Listen); err != nil {
		errs = append(errs, fmt.Errorf("invalid listen address %q: %w", rc.Listen, err))
	}
	if rc.Peer != "" {
		if _, err := net.ResolveUDPAddr("udp", rc.Peer); err != nil {
			errs = append(errs, fmt.Errorf("invalid peer address %q: %w", rc.Peer, err))
		}
	}
	switch rc.Sink {
	case SinkDevice, SinkNull:
	default:
		errs = append(errs, fmt.Errorf("unknown sink %q", rc.Sink))
	}
	return errors.Join(errs...)
}

// LoadSenderConfig reads the sender configuration from the environment.
// Validation is left to the caller so flags can be applied first.
func LoadSenderConfig(ctx context.Context) (*SenderConfig, error) {
	return loadSenderConfig(ctx, envconfig.OsLookuper())
}

func LoadReceiverConfig(ctx context.Context) (*ReceiverConfig, error) {
	return loadReceiverConfig(ctx, envconfig.OsLookuper())
}

func loadSenderConfig(ctx context.Context, l envconfig.Lookuper) (*SenderConfig, error) {
	var cfg SenderConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("failed to load sender config: %w", err)
	}
	return &cfg, nil
}

func loadReceiverConfig(ctx context.Context, l envconfig.Lookuper) (*ReceiverConfig, error) {
	var cfg ReceiverConfig
	if err := envconfig.ProcessWith(ctx, &envconfig.Config{Target: &cfg, Lookuper: l}); err != nil {
		return nil, fmt.Errorf("failed to load receiver config: %w", err)
	}
	return &cfg, nil
}
