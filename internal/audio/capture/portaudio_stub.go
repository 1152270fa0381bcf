//go:build !portaudio

package capture

import (
	"fmt"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
)

// NewPortAudioCapture is unavailable unless built with -tags portaudio.
func NewPortAudioCapture(config.AudioConfig, config.DeviceConfig) (Source, error) {
	return nil, fmt.Errorf("%w: rebuild with -tags portaudio", ErrBackendUnavailable)
}
