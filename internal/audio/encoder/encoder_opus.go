package encoder

import (
	"errors"
	"fmt"

	"github.com/Sarowar6362/streamer56/internal/audio/config"

	"gopkg.in/hraban/opus.v2"
)

var (
	ErrFrameSize = errors.New("pcm frame does not match configured frame size")
	ErrClosed    = errors.New("encoder closed")
)

// OpusEncoder compresses fixed-size PCM frames. It carries prediction state
// between calls, so frames must be fed in capture order and the encoder must
// not be shared between streams.
type OpusEncoder struct {
	enc          *opus.Encoder
	frameSamples int
	channels     int
}

// New creates an opus encoder for the given contract.
func New(cfg config.AudioConfig) (*OpusEncoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	app, err := application(cfg.Application)
	if err != nil {
		return nil, err
	}
	enc, err := opus.NewEncoder(int(cfg.SampleRate), int(cfg.Channels), app)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus encoder: %w", err)
	}
	if err := enc.SetBitrate(cfg.Bitrate); err != nil {
		return nil, fmt.Errorf("failed to set opus bitrate %d: %w", cfg.Bitrate, err)
	}
	return &OpusEncoder{
		enc:          enc,
		frameSamples: cfg.FrameSamples(),
		channels:     int(cfg.Channels),
	}, nil
}

func application(a config.Application) (opus.Application, error) {
	switch a {
	case config.AppAudio:
		return opus.AppAudio, nil
	case config.AppVoIP:
		return opus.AppVoIP, nil
	case config.AppLowDelay:
		return opus.AppRestrictedLowdelay, nil
	}
	return 0, fmt.Errorf("unknown opus application %q", a)
}

// Encode compresses exactly one frame into out and returns the packet length.
// An out buffer too small for the packet is an error, never a truncation.
func (e *OpusEncoder) Encode(pcm []int16, out []byte) (int, error) {
	if e.enc == nil {
		return 0, ErrClosed
	}
	if len(pcm) != e.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), e.frameSamples)
	}
	n, err := e.enc.Encode(pcm, out)
	if err != nil {
		return 0, fmt.Errorf("opus encode: %w", err)
	}
	return n, nil
}

// Bitrate reports the bitrate libopus is actually using.
func (e *OpusEncoder) Bitrate() (int, error) {
	if e.enc == nil {
		return 0, ErrClosed
	}
	return e.enc.Bitrate()
}

// Close drops the codec state. Further calls to Encode fail.
func (e *OpusEncoder) Close() error {
	e.enc = nil
	return nil
}
