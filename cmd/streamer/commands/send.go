package commands

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sarowar6362/streamer56/internal/audio/capture"
	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/encoder"
	"github.com/Sarowar6362/streamer56/internal/audio/pipeline"
	"github.com/Sarowar6362/streamer56/internal/transport/udp"
)

var (
	sendFlags    streamFlags
	sendDest     string
	sendSource   string
	toneFreq     float64
	toneDuration time.Duration
	pipelined    bool
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Capture, encode and send audio",
	Long: `Capture audio from the default input device (or a synthetic tone), encode each
20 ms frame with Opus and send it as one UDP datagram. Runs until interrupted,
the tone ends, or any stage fails.`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	fs := sendCmd.Flags()
	sendFlags.register(fs)
	fs.StringVarP(&sendDest, "dest", "d", config.DefaultDestination, "destination host:port")
	fs.StringVar(&sendSource, "source", config.SourceDevice, "audio source: device|tone")
	fs.Float64Var(&toneFreq, "tone-freq", 440, "tone frequency in Hz")
	fs.DurationVar(&toneDuration, "tone-duration", 0, "stop the tone after this long (0 runs forever)")
	fs.BoolVar(&pipelined, "pipelined", false, "capture the next frame while sending the current one")
}

func runSend(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadSenderConfig(ctx)
	if err != nil {
		return err
	}
	sendFlags.apply(cmd, &cfg.Audio, &cfg.Device, &cfg.MetricsAddr)
	fs := cmd.Flags()
	if fs.Changed("dest") {
		cfg.Destination = sendDest
	}
	if fs.Changed("source") {
		cfg.Source = sendSource
	}
	if fs.Changed("tone-freq") {
		cfg.ToneFrequency = toneFreq
	}
	if fs.Changed("tone-duration") {
		cfg.ToneDuration = toneDuration
	}
	if fs.Changed("pipelined") {
		cfg.Pipelined = pipelined
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	sess := newSession("sender")
	sess.log.Info().
		Str("dest", cfg.Destination).
		Str("source", cfg.Source).
		Str("backend", cfg.Device.Backend).
		Str("format", cfg.Audio.Fingerprint()).
		Msg("Starting sender")

	return sess.run(ctx, cfg.MetricsAddr, func(ctx context.Context) error {
		sender, err := openSender(*cfg, sess)
		if err != nil {
			return err
		}
		return sender.Run(ctx)
	})
}

// openSender acquires capture, encoder and socket in that order, releasing
// whatever was already acquired if a later step fails.
func openSender(cfg config.SenderConfig, sess session) (*pipeline.Sender, error) {
	src, err := openSource(cfg)
	if err != nil {
		return nil, pipeline.NewError(pipeline.StageCapture, err)
	}
	enc, err := encoder.New(cfg.Audio)
	if err != nil {
		src.Close()
		return nil, pipeline.NewError(pipeline.StageEncode, err)
	}
	out, err := udp.Dial(cfg.Destination)
	if err != nil {
		enc.Close()
		src.Close()
		return nil, pipeline.NewError(pipeline.StageSend, err)
	}
	sess.log.Info().
		Stringer("destination", out.Destination()).
		Stringer("local", out.LocalAddr()).
		Msg("Socket ready")

	sender, err := pipeline.NewSender(cfg.Audio, src, enc, out,
		pipeline.WithLogger(sess.log),
		pipeline.WithMetrics(sess.metrics),
		pipeline.WithPipelined(cfg.Pipelined),
	)
	if err != nil {
		enc.Close()
		out.Close()
		src.Close()
		return nil, err
	}
	return sender, nil
}

func openSource(cfg config.SenderConfig) (pipeline.Source, error) {
	if cfg.Source == config.SourceTone {
		return capture.NewTone(cfg.Audio, cfg.ToneFrequency, cfg.ToneDuration, true), nil
	}
	return capture.Open(cfg.Audio, cfg.Device)
}
