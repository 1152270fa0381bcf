package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Sarowar6362/streamer56/internal/audio/config"
	"github.com/Sarowar6362/streamer56/internal/audio/convert"
)

// Sender runs capture -> encode -> send. It owns its source, encoder and
// packet sink from construction on and releases them when Run returns, in
// the order encoder, socket, capture.
type Sender struct {
	cfg  config.AudioConfig
	src  Source
	enc  Encoder
	out  PacketSink
	opts options

	encRes *resource
	outRes *resource
	srcRes *resource

	ran    atomic.Bool
	frames atomic.Int64
	bytes  atomic.Int64
}

func NewSender(cfg config.AudioConfig, src Source, enc Encoder, out PacketSink, opts ...Option) (*Sender, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sender audio config: %w", err)
	}
	if src == nil || enc == nil || out == nil {
		return nil, errors.New("sender: nil collaborator")
	}
	return &Sender{
		cfg:    cfg,
		src:    src,
		enc:    enc,
		out:    out,
		opts:   newOptions("sender", opts),
		encRes: newResource("encoder", enc),
		outRes: newResource("socket", out),
		srcRes: newResource("capture", src),
	}, nil
}

// Run streams until the source ends, a stage fails, or ctx is cancelled.
// Cancellation and end of input return nil; a stage failure returns an
// *Error, joined with any release errors.
func (s *Sender) Run(ctx context.Context) error {
	if !s.ran.CompareAndSwap(false, true) {
		return ErrAlreadyRun
	}
	s.opts.log.Info().
		Str("format", s.cfg.Fingerprint()).
		Int("bitrate", s.cfg.Bitrate).
		Bool("pipelined", s.opts.pipelined).
		Msg("Sender started")

	var err error
	if s.opts.pipelined {
		err = s.runPipelined(ctx)
	} else {
		err = s.runSequential(ctx)
	}
	if err != nil && ctx.Err() != nil {
		// interrupted by closing the blocked collaborator
		s.opts.log.Debug().Err(err).Msg("Sender interrupted")
		err = nil
	}
	var stageErr *Error
	if errors.As(err, &stageErr) {
		s.opts.metrics.RecordError(ctx, string(stageErr.Stage), string(stageErr.Kind))
	}

	relErr := releaseAll(s.encRes, s.outRes, s.srcRes)
	s.opts.log.Info().
		Int64("frames", s.frames.Load()).
		Int64("bytes", s.bytes.Load()).
		Msg("Sender stopped")
	return finish(err, relErr)
}

// Frames is the number of packets sent so far.
func (s *Sender) Frames() int64 {
	return s.frames.Load()
}

// interrupt unblocks the collaborators a loop can be parked on.
func (s *Sender) interrupt() {
	_ = s.srcRes.release()
	_ = s.outRes.release()
}

func (s *Sender) runSequential(ctx context.Context) error {
	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()

	pcm := make([]int16, s.cfg.FrameSamples())
	packet := make([]byte, s.cfg.MaxPacketSize)
	for ctx.Err() == nil {
		if err := s.capture(ctx, pcm); err != nil {
			if errors.Is(err, io.EOF) {
				s.opts.log.Info().Msg("Source exhausted")
				return nil
			}
			return err
		}
		if err := s.encodeAndSend(ctx, pcm, packet); err != nil {
			return err
		}
	}
	return nil
}

// runPipelined double-buffers capture against encode+send. Buffers travel
// through a single-slot channel, so frames are encoded in capture order.
func (s *Sender) runPipelined(ctx context.Context) error {
	// Only the caller's cancellation interrupts. A stage failure cancels
	// runCtx and the capture goroutine leaves at its next select, so Run
	// still releases in encoder, socket, capture order.
	stop := context.AfterFunc(ctx, s.interrupt)
	defer stop()
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var bufs [2][]int16
	free := make(chan int, len(bufs))
	for i := range bufs {
		bufs[i] = make([]int16, s.cfg.FrameSamples())
		free <- i
	}
	ready := make(chan int, 1)

	var g errgroup.Group
	g.Go(func() error {
		defer close(ready)
		for {
			var i int
			select {
			case <-runCtx.Done():
				return nil
			case i = <-free:
			}
			if err := s.capture(runCtx, bufs[i]); err != nil {
				if errors.Is(err, io.EOF) {
					s.opts.log.Info().Msg("Source exhausted")
					return nil
				}
				cancel()
				return err
			}
			select {
			case <-runCtx.Done():
				return nil
			case ready <- i:
			}
		}
	})
	g.Go(func() error {
		packet := make([]byte, s.cfg.MaxPacketSize)
		for i := range ready {
			if err := s.encodeAndSend(runCtx, bufs[i], packet); err != nil {
				cancel()
				return err
			}
			free <- i
		}
		return nil
	})
	return g.Wait()
}

func (s *Sender) capture(ctx context.Context, pcm []int16) error {
	start := time.Now()
	n, err := s.src.Read(pcm)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return io.EOF
		}
		return NewError(StageCapture, err)
	}
	if n != len(pcm) {
		return NewError(StageCapture, fmt.Errorf("%w: %d of %d samples", ErrShortRead, n, len(pcm)))
	}
	s.opts.metrics.RecordFrame(ctx, string(StageCapture), time.Since(start).Seconds())
	return nil
}

func (s *Sender) encodeAndSend(ctx context.Context, pcm []int16, packet []byte) error {
	start := time.Now()
	n, err := s.enc.Encode(pcm, packet)
	if err != nil {
		return NewError(StageEncode, err)
	}
	if n <= 0 {
		return NewError(StageEncode, ErrEmptyPayload)
	}
	s.opts.metrics.RecordFrame(ctx, string(StageEncode), time.Since(start).Seconds())

	start = time.Now()
	if err := s.out.SendPacket(packet[:n]); err != nil {
		return NewError(StageSend, err)
	}
	s.opts.metrics.RecordFrame(ctx, string(StageSend), time.Since(start).Seconds())
	s.opts.metrics.RecordPacket(ctx, "tx", n)

	frames := s.frames.Add(1)
	total := s.bytes.Add(int64(n))
	if frames%int64(s.opts.statsEvery) == 0 {
		level := convert.DBFS(convert.RMS(pcm))
		s.opts.metrics.RecordLevel(ctx, string(StageCapture), level)
		s.opts.log.Debug().
			Int64("frames", frames).
			Int64("bytes", total).
			Int("packet_bytes", n).
			Float64("level_dbfs", level).
			Msg("Sender stats")
	}
	return nil
}
