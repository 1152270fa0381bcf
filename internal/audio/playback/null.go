package playback

import (
	"fmt"
	"sync"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/convert"
)

// NullSink discards audio. It keeps counters and the level of the last
// frame so a headless receiver can still be observed.
type NullSink struct {
	frameSamples int

	mu        sync.Mutex
	frames    int64
	lastLevel float64
	closed    bool
}

func NewNullSink(audio config.AudioConfig) *NullSink {
	return &NullSink{frameSamples: audio.FrameSamples()}
}

func (s *NullSink) Write(pcm []int16) (int, error) {
	if len(pcm) != s.frameSamples {
		return 0, fmt.Errorf("%w: got %d samples, want %d", ErrFrameSize, len(pcm), s.frameSamples)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	s.frames++
	s.lastLevel = convert.DBFS(convert.RMS(pcm))
	return len(pcm), nil
}

func (s *NullSink) Frames() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frames
}

// LastLevel is the dBFS level of the most recent frame.
func (s *NullSink) LastLevel() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastLevel
}

func (s *NullSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
