// Package pipeline runs the two stream loops: capture, encode, send on one
// side and receive, decode, play on the other. Each loop owns its
// collaborators, stops on the first error, and releases everything it owns
// on every exit path.
package pipeline

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sarowar6362/streamer56/internal/observe"
)

// Source yields exactly one frame of interleaved PCM per Read.
type Source interface {
	Read(pcm []int16) (int, error)
	Close() error
}

type Encoder interface {
	Encode(pcm []int16, out []byte) (int, error)
	Close() error
}

type PacketSink interface {
	SendPacket(p []byte) error
	Close() error
}

type PacketSource interface {
	ReceivePacket(buf []byte) (int, net.Addr, error)
	Close() error
}

type Decoder interface {
	Decode(packet []byte, pcm []int16) (int, error)
	Close() error
}

// Sink blocks in Write until the frame has been accepted by the device.
type Sink interface {
	Write(pcm []int16) (int, error)
	Close() error
}

// underrunCounter is implemented by sinks that pad a dry device with silence.
type underrunCounter interface {
	Underruns() uint64
}

const defaultStatsEvery = 50

type options struct {
	log        zerolog.Logger
	metrics    *observe.Metrics
	pipelined  bool
	peer       netip.AddrPort
	statsEvery int
}

type Option func(*options)

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.log = l }
}

func WithMetrics(m *observe.Metrics) Option {
	return func(o *options) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithPipelined lets the sender capture the next frame while the previous
// one is encoded and sent. Frames still leave in capture order.
func WithPipelined(enabled bool) Option {
	return func(o *options) { o.pipelined = enabled }
}

// WithPeer makes the receiver drop datagrams from any other source address.
func WithPeer(peer netip.AddrPort) Option {
	return func(o *options) { o.peer = peer }
}

// WithStatsEvery sets how many frames pass between debug stat lines.
func WithStatsEvery(frames int) Option {
	return func(o *options) {
		if frames > 0 {
			o.statsEvery = frames
		}
	}
}

func newOptions(component string, opts []Option) options {
	o := options{
		log:        log.Logger,
		metrics:    observe.Discard(),
		statsEvery: defaultStatsEvery,
	}
	for _, opt := range opts {
		opt(&o)
	}
	o.log = o.log.With().Str("component", component).Logger()
	return o
}

// resource is an owned collaborator closed at most once.
type resource struct {
	name  string
	close func() error
	once  sync.Once
	err   error
}

func newResource(name string, c interface{ Close() error }) *resource {
	return &resource{name: name, close: c.Close}
}

func (r *resource) release() error {
	r.once.Do(func() {
		if err := r.close(); err != nil {
			r.err = fmt.Errorf("release %s: %w", r.name, err)
		}
	})
	return r.err
}

// releaseAll closes resources in order and joins their errors.
func releaseAll(resources ...*resource) error {
	var errs []error
	for _, r := range resources {
		errs = append(errs, r.release())
	}
	return errors.Join(errs...)
}

// finish combines the loop outcome with release errors, keeping a lone
// stage error unwrapped so callers can errors.As it directly.
func finish(stageErr, releaseErr error) error {
	if releaseErr == nil {
		return stageErr
	}
	if stageErr == nil {
		return releaseErr
	}
	return errors.Join(stageErr, releaseErr)
}

func samePeer(want netip.AddrPort, from net.Addr) bool {
	ua, ok := from.(*net.UDPAddr)
	if !ok {
		return false
	}
	got := ua.AddrPort()
	return got.Addr().Unmap() == want.Addr().Unmap() && got.Port() == want.Port()
}
