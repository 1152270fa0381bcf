package commands

import (
	"context"
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/decoder"
	"github.com/Sarowar6362/streamer56/internal/audio/pipeline"
	"github.com/Sarowar6362/streamer56/internal/audio/playback"
	"github.com/Sarowar6362/streamer56/internal/transport/udp"
)

var (
	receiveFlags      streamFlags
	receiveListen     string
	receivePeer       string
	receiveSink       string
	expectFingerprint string
)

var receiveCmd = &cobra.Command{
	Use:   "receive",
	Short: "Receive, decode and play audio",
	Long: `Bind a UDP port, decode every datagram as one Opus frame and play it on the
default output device. Runs until interrupted or any stage fails.`,
	Args: cobra.NoArgs,
	RunE: runReceive,
}

func init() {
	fs := receiveCmd.Flags()
	receiveFlags.register(fs)
	fs.StringVarP(&receiveListen, "listen", "l", config.DefaultListen, "local address to bind")
	fs.StringVar(&receivePeer, "peer", "", "only accept datagrams from this host:port")
	fs.StringVar(&receiveSink, "sink", config.SinkDevice, "audio sink: device|null")
	fs.StringVar(&expectFingerprint, "expect", "", "refuse to start unless the local format equals this fingerprint, e.g. opus/48000Hz/2ch/960")
}

func runReceive(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	cfg, err := config.LoadReceiverConfig(ctx)
	if err != nil {
		return err
	}
	receiveFlags.apply(cmd, &cfg.Audio, &cfg.Device, &cfg.MetricsAddr)
	fs := cmd.Flags()
	if fs.Changed("listen") {
		cfg.Listen = receiveListen
	}
	if fs.Changed("peer") {
		cfg.Peer = receivePeer
	}
	if fs.Changed("sink") {
		cfg.Sink = receiveSink
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if expectFingerprint != "" {
		if err := cfg.Audio.CheckFingerprint(expectFingerprint); err != nil {
			return fmt.Errorf("--expect: %w", err)
		}
	}

	opts := []pipeline.Option{}
	if cfg.Peer != "" {
		peer, err := net.ResolveUDPAddr("udp", cfg.Peer)
		if err != nil {
			return fmt.Errorf("failed to resolve peer %q: %w", cfg.Peer, err)
		}
		opts = append(opts, pipeline.WithPeer(peer.AddrPort()))
	}

	sess := newSession("receiver")
	sess.log.Info().
		Str("listen", cfg.Listen).
		Str("sink", cfg.Sink).
		Str("backend", cfg.Device.Backend).
		Str("format", cfg.Audio.Fingerprint()).
		Msg("Starting receiver")

	return sess.run(ctx, cfg.MetricsAddr, func(ctx context.Context) error {
		opts = append(opts, pipeline.WithLogger(sess.log), pipeline.WithMetrics(sess.metrics))
		receiver, err := openReceiver(*cfg, opts)
		if err != nil {
			return err
		}
		return receiver.Run(ctx)
	})
}

// openReceiver acquires playback, decoder and socket in that order.
func openReceiver(cfg config.ReceiverConfig, opts []pipeline.Option) (*pipeline.Receiver, error) {
	sink, err := openSink(cfg)
	if err != nil {
		return nil, pipeline.NewError(pipeline.StagePlay, err)
	}
	dec, err := decoder.New(cfg.Audio)
	if err != nil {
		sink.Close()
		return nil, pipeline.NewError(pipeline.StageDecode, err)
	}
	in, err := udp.Listen(cfg.Listen)
	if err != nil {
		dec.Close()
		sink.Close()
		return nil, pipeline.NewError(pipeline.StageReceive, err)
	}

	receiver, err := pipeline.NewReceiver(cfg.Audio, in, dec, sink, opts...)
	if err != nil {
		dec.Close()
		sink.Close()
		in.Close()
		return nil, err
	}
	return receiver, nil
}

func openSink(cfg config.ReceiverConfig) (pipeline.Sink, error) {
	if cfg.Sink == config.SinkNull {
		return playback.NewNullSink(cfg.Audio), nil
	}
	return playback.Open(cfg.Audio, cfg.Device)
}
