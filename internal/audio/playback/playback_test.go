package playback

import (
	"errors"
	"math"
	"testing"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
)

func TestNullSinkCountsFrames(t *testing.T) {
	cfg := config.NewOpusConfig()
	sink := NewNullSink(cfg)

	frame := make([]int16, cfg.FrameSamples())
	for i := 0; i < 3; i++ {
		if _, err := sink.Write(frame); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if got := sink.Frames(); got != 3 {
		t.Errorf("Frames() = %d, want 3", got)
	}
	if !math.IsInf(sink.LastLevel(), -1) {
		t.Errorf("silent frame level = %.1f, want -Inf", sink.LastLevel())
	}

	for i := range frame {
		frame[i] = 16384
	}
	sink.Write(frame)
	if lvl := sink.LastLevel(); math.Abs(lvl-(-6.02)) > 0.1 {
		t.Errorf("half scale level = %.2f dBFS, want -6.02", lvl)
	}
}

func TestNullSinkRejectsWrongSizeAndClosed(t *testing.T) {
	cfg := config.NewOpusConfig()
	sink := NewNullSink(cfg)
	if _, err := sink.Write(make([]int16, 10)); !errors.Is(err, ErrFrameSize) {
		t.Errorf("short frame error = %v, want ErrFrameSize", err)
	}
	sink.Close()
	sink.Close()
	if _, err := sink.Write(make([]int16, cfg.FrameSamples())); !errors.Is(err, ErrClosed) {
		t.Errorf("Write after Close = %v, want ErrClosed", err)
	}
}

func TestOpenUnknownBackend(t *testing.T) {
	if _, err := Open(config.NewOpusConfig(), config.DeviceConfig{Backend: "oss", BufferFrames: 8}); err == nil {
		t.Error("Open accepted an unknown backend")
	}
}
