package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/convert"
	"github.com/Sarowar6362/streamer56/internal/audio/decoder"
)

// Receiver runs receive -> decode -> play. Releases decoder, playback, then
// socket when Run returns.
type Receiver struct {
	cfg  config.AudioConfig
	in   PacketSource
	dec  Decoder
	sink Sink
	opts options

	decRes  *resource
	sinkRes *resource
	inRes   *resource

	ran      atomic.Bool
	frames   atomic.Int64
	rejected atomic.Int64
}

func NewReceiver(cfg config.AudioConfig, in PacketSource, dec Decoder, sink Sink, opts ...Option) (*Receiver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid receiver audio config: %w", err)
	}
	if in == nil || dec == nil || sink == nil {
		return nil, errors.New("receiver: nil collaborator")
	}
	return &Receiver{
		cfg:     cfg,
		in:      in,
		dec:     dec,
		sink:    sink,
		opts:    newOptions("receiver", opts),
		decRes:  newResource("decoder", dec),
		sinkRes: newResource("playback", sink),
		inRes:   newResource("socket", in),
	}, nil
}

// Run plays frames until a stage fails or ctx is cancelled. There is no
// receive timeout: a silent peer parks Run in the receive call.
func (r *Receiver) Run(ctx context.Context) error {
	if !r.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	ev := r.opts.log.Info().Str("format", r.cfg.Fingerprint())
	if r.opts.peer.IsValid() {
		ev = ev.Str("peer", r.opts.peer.String())
	}
	ev.Msg("Receiver started")

	err := r.run(ctx)
	if err != nil && ctx.Err() != nil {
		r.opts.log.Debug().Err(err).Msg("Receiver interrupted")
		err = nil
	}
	var stageErr *Error
	if errors.As(err, &stageErr) {
		r.opts.metrics.RecordError(ctx, string(stageErr.Stage), string(stageErr.Kind))
	}

	relErr := releaseAll(r.decRes, r.sinkRes, r.inRes)
	r.opts.log.Info().
		Int64("frames", r.frames.Load()).
		Int64("rejected", r.rejected.Load()).
		Msg("Receiver stopped")
	return finish(err, relErr)
}

func (r *Receiver) Frames() int64 {
	return r.frames.Load()
}

// Rejected counts datagrams dropped by the peer filter.
func (r *Receiver) Rejected() int64 {
	return r.rejected.Load()
}

func (r *Receiver) run(ctx context.Context) error {
	// The loop parks in ReceivePacket or in a blocking Write, and only
	// closing the socket or the sink wakes it. Run then releases the
	// decoder; the other two are already closed and their once-guards hold.
	stop := context.AfterFunc(ctx, func() {
		_ = r.inRes.release()
		_ = r.sinkRes.release()
	})
	defer stop()

	// one spare byte so an oversized datagram is seen as oversized, not truncated
	buf := make([]byte, r.cfg.MaxPacketSize+1)
	pcm := make([]int16, r.cfg.FrameSamples())
	for ctx.Err() == nil {
		start := time.Now()
		n, from, err := r.in.ReceivePacket(buf)
		if err != nil {
			return NewError(StageReceive, err)
		}
		if r.opts.peer.IsValid() && !samePeer(r.opts.peer, from) {
			r.rejected.Add(1)
			r.opts.metrics.RecordRejected(ctx, "peer")
			r.opts.log.Debug().Stringer("from", from).Int("bytes", n).Msg("Dropped datagram from unexpected peer")
			continue
		}
		r.opts.metrics.RecordFrame(ctx, string(StageReceive), time.Since(start).Seconds())
		r.opts.metrics.RecordPacket(ctx, "rx", n)

		if err := r.decode(ctx, buf[:n], pcm); err != nil {
			return err
		}
		if err := r.play(ctx, pcm); err != nil {
			return err
		}

		frames := r.frames.Add(1)
		if frames%int64(r.opts.statsEvery) == 0 {
			level := convert.DBFS(convert.RMS(pcm))
			r.opts.metrics.RecordLevel(ctx, string(StagePlay), level)
			ev := r.opts.log.Debug().
				Int64("frames", frames).
				Int("packet_bytes", n).
				Float64("level_dbfs", level)
			if uc, ok := r.sink.(underrunCounter); ok {
				ev = ev.Uint64("underruns", uc.Underruns())
			}
			ev.Msg("Receiver stats")
		}
	}
	return nil
}

func (r *Receiver) decode(ctx context.Context, packet []byte, pcm []int16) error {
	if len(packet) > r.cfg.MaxPacketSize {
		return NewError(StageDecode, fmt.Errorf("%w: %d bytes, limit %d",
			decoder.ErrPacketTooLarge, len(packet), r.cfg.MaxPacketSize))
	}
	start := time.Now()
	n, err := r.dec.Decode(packet, pcm)
	if err != nil {
		return NewError(StageDecode, err)
	}
	if n != len(pcm) {
		return NewError(StageDecode, fmt.Errorf("%w: decoded %d samples, want %d",
			decoder.ErrFrameSizeMismatch, n, len(pcm)))
	}
	r.opts.metrics.RecordFrame(ctx, string(StageDecode), time.Since(start).Seconds())
	return nil
}

func (r *Receiver) play(ctx context.Context, pcm []int16) error {
	start := time.Now()
	n, err := r.sink.Write(pcm)
	if err != nil {
		return NewError(StagePlay, err)
	}
	if n != len(pcm) {
		return NewError(StagePlay, fmt.Errorf("%w: %d of %d samples", ErrShortWrite, n, len(pcm)))
	}
	r.opts.metrics.RecordFrame(ctx, string(StagePlay), time.Since(start).Seconds())
	return nil
}
