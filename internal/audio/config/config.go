package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Application selects the Opus encoder profile.
type Application string

func (a Application) String() string {
	return string(a)
}

const (
	SampleRateOpus      = 48000 // for opus better to use 48000
	FramesPerBufferOpus = 960   // samples per channel, 20 ms at 48kHz
	ChannelsOpus        = 2
	BitrateOpus         = 64000
	MaxPacketSize       = 4096 // encoder output buffer and receive buffer capacity

	// largest payload a single UDP datagram can carry over IPv4
	MaxDatagramSize = 65507

	AppAudio    Application = "audio"
	AppVoIP     Application = "voip"
	AppLowDelay Application = "lowdelay"
)

var ErrContractMismatch = errors.New("audio contract mismatch")

// AudioConfig is the contract shared by sender and receiver. Both ends must
// be started with identical values; nothing on the wire negotiates them.
type AudioConfig struct {
	SampleRate      uint32      `env:"AUDIO_SAMPLE_RATE, default=48000"`
	Channels        uint16      `env:"AUDIO_CHANNELS, default=2"`
	FramesPerBuffer int         `env:"AUDIO_FRAMES_PER_BUFFER, default=960"`
	Bitrate         int         `env:"OPUS_BITRATE, default=64000"`
	Application     Application `env:"OPUS_APPLICATION, default=audio"`
	MaxPacketSize   int         `env:"OPUS_MAX_PACKET_SIZE, default=4096"`
}

// NewOpusConfig returns the default 48kHz stereo 20ms contract.
func NewOpusConfig() AudioConfig {
	return AudioConfig{
		SampleRate:      SampleRateOpus,
		Channels:        ChannelsOpus,
		FramesPerBuffer: FramesPerBufferOpus,
		Bitrate:         BitrateOpus,
		Application:     AppAudio,
		MaxPacketSize:   MaxPacketSize,
	}
}

// FrameSamples is the number of interleaved samples in one PCM frame.
func (ac AudioConfig) FrameSamples() int {
	return ac.FramesPerBuffer * int(ac.Channels)
}

// FrameBytes is the size of one PCM frame as 16-bit little-endian samples.
func (ac AudioConfig) FrameBytes() int {
	return ac.FrameSamples() * 2
}

func (ac AudioConfig) FrameDuration() time.Duration {
	if ac.SampleRate == 0 {
		return 0
	}
	return time.Duration(ac.FramesPerBuffer) * time.Second / time.Duration(ac.SampleRate)
}

// Fingerprint summarises the contract in a form both sides log at startup.
func (ac AudioConfig) Fingerprint() string {
	return fmt.Sprintf("opus/%dHz/%dch/%d", ac.SampleRate, ac.Channels, ac.FramesPerBuffer)
}

// Validate reports every contract violation at once.
func (ac AudioConfig) Validate() error {
	var errs []error
	switch ac.SampleRate {
	case 8000, 12000, 16000, 24000, 48000:
	default:
		errs = append(errs, fmt.Errorf("unsupported sample rate %d", ac.SampleRate))
	}
	if ac.Channels != 1 && ac.Channels != 2 {
		errs = append(errs, fmt.Errorf("unsupported channel count %d", ac.Channels))
	}
	if !isOpusFrameSize(ac.SampleRate, ac.FramesPerBuffer) {
		errs = append(errs, fmt.Errorf("frame size %d is not a valid opus frame at %dHz", ac.FramesPerBuffer, ac.SampleRate))
	}
	if ac.Bitrate < 6000 || ac.Bitrate > 510000 {
		errs = append(errs, fmt.Errorf("bitrate %d outside 6000..510000", ac.Bitrate))
	}
	switch ac.Application {
	case AppAudio, AppVoIP, AppLowDelay:
	default:
		errs = append(errs, fmt.Errorf("unknown opus application %q", ac.Application))
	}
	if ac.MaxPacketSize < 1 || ac.MaxPacketSize > MaxDatagramSize {
		errs = append(errs, fmt.Errorf("max packet size %d outside 1..%d", ac.MaxPacketSize, MaxDatagramSize))
	}
	return errors.Join(errs...)
}

// CheckCompatible reports whether a peer started with other can exchange
// frames with ac. Bitrate and application only affect the encoder and may
// differ.
func (ac AudioConfig) CheckCompatible(other AudioConfig) error {
	if ac.SampleRate != other.SampleRate || ac.Channels != other.Channels || ac.FramesPerBuffer != other.FramesPerBuffer {
		return fmt.Errorf("%w: local %s, peer %s", ErrContractMismatch, ac.Fingerprint(), other.Fingerprint())
	}
	if other.MaxPacketSize > ac.MaxPacketSize {
		return fmt.Errorf("%w: peer may send packets up to %d bytes, local limit is %d",
			ErrContractMismatch, other.MaxPacketSize, ac.MaxPacketSize)
	}
	return nil
}

// CheckFingerprint compares ac with a peer known only by its Fingerprint.
// The peer is assumed to share ac's encoder settings and packet limit.
func (ac AudioConfig) CheckFingerprint(fp string) error {
	peer, err := parseFingerprint(fp, ac)
	if err != nil {
		return err
	}
	return ac.CheckCompatible(peer)
}

func parseFingerprint(fp string, base AudioConfig) (AudioConfig, error) {
	parts := strings.Split(fp, "/")
	if len(parts) != 4 || parts[0] != "opus" ||
		!strings.HasSuffix(parts[1], "Hz") || !strings.HasSuffix(parts[2], "ch") {
		return AudioConfig{}, fmt.Errorf("malformed fingerprint %q, want opus/<rate>Hz/<channels>ch/<frames>", fp)
	}
	rate, err := strconv.ParseUint(strings.TrimSuffix(parts[1], "Hz"), 10, 32)
	if err != nil {
		return AudioConfig{}, fmt.Errorf("fingerprint %q: sample rate: %w", fp, err)
	}
	channels, err := strconv.ParseUint(strings.TrimSuffix(parts[2], "ch"), 10, 16)
	if err != nil {
		return AudioConfig{}, fmt.Errorf("fingerprint %q: channels: %w", fp, err)
	}
	frames, err := strconv.Atoi(parts[3])
	if err != nil {
		return AudioConfig{}, fmt.Errorf("fingerprint %q: frames: %w", fp, err)
	}
	base.SampleRate = uint32(rate)
	base.Channels = uint16(channels)
	base.FramesPerBuffer = frames
	return base, nil
}

// isOpusFrameSize reports whether frames per channel lasts 2.5, 5, 10, 20,
// 40 or 60 ms at sampleRate.
func isOpusFrameSize(sampleRate uint32, frames int) bool {
	if sampleRate == 0 || sampleRate%400 != 0 {
		return false
	}
	unit := int(sampleRate / 400)
	for _, m := range []int{1, 2, 4, 8, 16, 24} {
		if frames == unit*m {
			return true
		}
	}
	return false
}
