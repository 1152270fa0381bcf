package capture

import (
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
)

const toneAmplitude = 0.3 * math.MaxInt16

// Tone is a synthetic source producing a sine on every channel. With
// realtime pacing each Read waits for the next frame period, so a tone
// stream leaves the sender at the same rate a sound card would.
type Tone struct {
	freq         float64
	sampleRate   float64
	channels     int
	frameSamples int
	maxFrames    int64

	mu     sync.Mutex
	pos    int64
	frames int64
	ticker *time.Ticker
	done   chan struct{}
	closed bool
}

// NewTone builds a tone source. A zero duration never ends; otherwise Read
// returns io.EOF once duration worth of frames has been produced.
func NewTone(audio config.AudioConfig, freq float64, duration time.Duration, realtime bool) *Tone {
	t := &Tone{
		freq:         freq,
		sampleRate:   float64(audio.SampleRate),
		channels:     int(audio.Channels),
		frameSamples: audio.FrameSamples(),
		done:         make(chan struct{}),
	}
	if duration > 0 {
		// a partial trailing frame still counts as a frame
		frame := audio.FrameDuration()
		t.maxFrames = int64((duration + frame - 1) / frame)
	}
	if realtime {
		t.ticker = time.NewTicker(audio.FrameDuration())
	}
	return t
}

func (t *Tone) Read(pcm []int16) (int, error) {
	if len(pcm) != t.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), t.frameSamples)
	}
	if t.ticker != nil {
		select {
		case <-t.ticker.C:
		case <-t.done:
			return 0, ErrClosed
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return 0, ErrClosed
	}
	if t.maxFrames > 0 && t.frames >= t.maxFrames {
		return 0, io.EOF
	}
	for i := 0; i < len(pcm)/t.channels; i++ {
		v := int16(toneAmplitude * math.Sin(2*math.Pi*t.freq*float64(t.pos)/t.sampleRate))
		for c := 0; c < t.channels; c++ {
			pcm[i*t.channels+c] = v
		}
		t.pos++
	}
	t.frames++
	return len(pcm), nil
}

// Frames reports how many frames have been produced.
func (t *Tone) Frames() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frames
}

func (t *Tone) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	close(t.done)
	if t.ticker != nil {
		t.ticker.Stop()
	}
	return nil
}
