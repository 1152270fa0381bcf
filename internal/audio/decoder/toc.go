package decoder

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidPacket = errors.New("invalid opus packet")

// TOC is the first byte of every opus packet (RFC 6716 section 3.1):
//
//	 0 1 2 3 4 5 6 7
//	+-+-+-+-+-+-+-+-+
//	| config  |s| c |
//	+-+-+-+-+-+-+-+-+
type TOC byte

func (t TOC) Config() int {
	return int(t >> 3)
}

func (t TOC) IsStereo() bool {
	return t&0b100 != 0
}

func (t TOC) FrameCode() int {
	return int(t & 0b11)
}

// FrameDuration is the duration of each frame signalled by the config number.
func (t TOC) FrameDuration() time.Duration {
	c := t.Config()
	switch {
	case c < 12: // SILK-only
		return [...]time.Duration{10, 20, 40, 60}[c%4] * time.Millisecond
	case c < 16: // Hybrid
		return [...]time.Duration{10, 20}[c%2] * time.Millisecond
	default: // CELT-only
		return [...]time.Duration{2500, 5000, 10000, 20000}[c%4] * time.Microsecond
	}
}

func (t TOC) String() string {
	return fmt.Sprintf("opus_toc: config=%d stereo=%v code=%d frame=%s", t.Config(), t.IsStereo(), t.FrameCode(), t.FrameDuration())
}

// FrameCount returns how many opus frames the packet carries.
func FrameCount(packet []byte) (int, error) {
	if len(packet) == 0 {
		return 0, fmt.Errorf("%w: empty", ErrInvalidPacket)
	}
	switch TOC(packet[0]).FrameCode() {
	case 0:
		return 1, nil
	case 1, 2:
		return 2, nil
	}
	if len(packet) < 2 {
		return 0, fmt.Errorf("%w: code 3 packet without frame count byte", ErrInvalidPacket)
	}
	n := int(packet[1] & 0x3f)
	if n == 0 {
		return 0, fmt.Errorf("%w: zero frames", ErrInvalidPacket)
	}
	return n, nil
}

// PacketSamples returns the number of samples per channel the packet decodes
// to at sampleRate, without decoding it.
func PacketSamples(packet []byte, sampleRate int) (int, error) {
	frames, err := FrameCount(packet)
	if err != nil {
		return 0, err
	}
	per := int(TOC(packet[0]).FrameDuration() * time.Duration(sampleRate) / time.Second)
	total := frames * per
	// RFC 6716: a packet never exceeds 120 ms of audio
	if total*1000 > sampleRate*120 {
		return 0, fmt.Errorf("%w: %d samples exceed 120ms", ErrInvalidPacket, total)
	}
	return total, nil
}
