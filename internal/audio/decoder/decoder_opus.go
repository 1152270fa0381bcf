package decoder

import (
	"errors"
	"fmt"

	"github.com/Sarowar6362/streamer56/internal/audio/config"

	"gopkg.in/hraban/opus.v2"
)

var (
	ErrEmptyPacket       = errors.New("empty opus packet")
	ErrPacketTooLarge    = errors.New("opus packet exceeds maximum size")
	ErrFrameSizeMismatch = errors.New("opus packet frame size does not match configured frame size")
	ErrClosed            = errors.New("decoder closed")
)

// OpusDecoder expands packets produced by a peer encoder with the same
// contract. Like the encoder it is stateful and order sensitive.
type OpusDecoder struct {
	dec             *opus.Decoder
	sampleRate      int
	channels        int
	framesPerBuffer int
	maxPacketSize   int
}

func New(cfg config.AudioConfig) (*OpusDecoder, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	dec, err := opus.NewDecoder(int(cfg.SampleRate), int(cfg.Channels))
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}
	return &OpusDecoder{
		dec:             dec,
		sampleRate:      int(cfg.SampleRate),
		channels:        int(cfg.Channels),
		framesPerBuffer: cfg.FramesPerBuffer,
		maxPacketSize:   cfg.MaxPacketSize,
	}, nil
}

// Decode expands one packet into pcm and returns the number of interleaved
// samples written, which is always one full frame on success. Packets are
// checked against the contract before libopus sees them.
func (d *OpusDecoder) Decode(packet []byte, pcm []int16) (int, error) {
	if d.dec == nil {
		return 0, ErrClosed
	}
	if len(packet) == 0 {
		return 0, ErrEmptyPacket
	}
	if len(packet) > d.maxPacketSize {
		return 0, fmt.Errorf("%w: %d > %d bytes", ErrPacketTooLarge, len(packet), d.maxPacketSize)
	}
	frameSamples := d.framesPerBuffer * d.channels
	if len(pcm) < frameSamples {
		return 0, fmt.Errorf("pcm buffer holds %d samples, frame needs %d", len(pcm), frameSamples)
	}

	samples, err := PacketSamples(packet, d.sampleRate)
	if err != nil {
		return 0, err
	}
	if samples != d.framesPerBuffer {
		return 0, fmt.Errorf("%w: packet carries %d samples per channel, want %d (%s)",
			ErrFrameSizeMismatch, samples, d.framesPerBuffer, TOC(packet[0]))
	}

	n, err := d.dec.Decode(packet, pcm[:frameSamples])
	if err != nil {
		return 0, fmt.Errorf("opus decode: %w", err)
	}
	if n != d.framesPerBuffer {
		return 0, fmt.Errorf("%w: decoded %d samples per channel, want %d", ErrFrameSizeMismatch, n, d.framesPerBuffer)
	}
	return n * d.channels, nil
}

func (d *OpusDecoder) Close() error {
	d.dec = nil
	return nil
}
