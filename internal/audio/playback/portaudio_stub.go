//go:build !portaudio

package playback

import (
	"fmt"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
)

// NewPortAudioPlayback is unavailable unless built with -tags portaudio.
func NewPortAudioPlayback(config.AudioConfig, config.DeviceConfig) (Sink, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrBackendUnavailable)
}
