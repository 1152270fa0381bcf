package commands

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
)

// streamFlags are shared by send and receive. A flag only overrides the
// environment when it was set on the command line.
type streamFlags struct {
	sampleRate    uint32
	channels      uint16
	frames        int
	bitrate       int
	application   string
	maxPacketSize int

	backend      string
	deviceRate   uint32
	bufferFrames int

	metricsAddr string
}

func (f *streamFlags) register(fs *pflag.FlagSet) {
	fs.Uint32Var(&f.sampleRate, "sample-rate", config.SampleRateOpus, "stream sample rate in Hz (must match the peer)")
	fs.Uint16Var(&f.channels, "channels", config.ChannelsOpus, "channel count (must match the peer)")
	fs.IntVar(&f.frames, "frames", config.FramesPerBufferOpus, "samples per channel per frame (must match the peer)")
	fs.IntVar(&f.bitrate, "bitrate", config.BitrateOpus, "Opus target bitrate in bit/s")
	fs.StringVar(&f.application, "application", string(config.AppAudio), "Opus application: audio|voip|lowdelay")
	fs.IntVar(&f.maxPacketSize, "max-packet", config.MaxPacketSize, "largest compressed frame in bytes")
	fs.StringVar(&f.backend, "backend", config.BackendMalgo, "audio backend: malgo|portaudio")
	fs.Uint32Var(&f.deviceRate, "device-rate", 0, "native device rate when it differs from the stream rate")
	fs.IntVar(&f.bufferFrames, "device-buffer", 8, "device FIFO depth in frames")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

func (f *streamFlags) apply(cmd *cobra.Command, audio *config.AudioConfig, dev *config.DeviceConfig, metricsAddr *string) {
	fs := cmd.Flags()
	if fs.Changed("sample-rate") {
		audio.SampleRate = f.sampleRate
	}
	if fs.Changed("channels") {
		audio.Channels = f.channels
	}
	if fs.Changed("frames") {
		audio.FramesPerBuffer = f.frames
	}
	if fs.Changed("bitrate") {
		audio.Bitrate = f.bitrate
	}
	if fs.Changed("application") {
		audio.Application = config.Application(f.application)
	}
	if fs.Changed("max-packet") {
		audio.MaxPacketSize = f.maxPacketSize
	}
	if fs.Changed("backend") {
		dev.Backend = f.backend
	}
	if fs.Changed("device-rate") {
		dev.SampleRate = f.deviceRate
	}
	if fs.Changed("device-buffer") {
		dev.BufferFrames = f.bufferFrames
	}
	if fs.Changed("metrics-addr") {
		*metricsAddr = f.metricsAddr
	}
}
