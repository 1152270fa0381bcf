package pipeline

import (
	"errors"
	"io"
	"net"
	"sync"
)

var errClosedFake = errors.New("fake: closed")

// closeLog records the order in which collaborators are released.
type closeLog struct {
	mu    sync.Mutex
	order []string
}

func (l *closeLog) add(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *closeLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type closer struct {
	name     string
	log      *closeLog
	closeErr error
	done     chan struct{}
}

func newCloser(name string, log *closeLog) closer {
	return closer{name: name, log: log, done: make(chan struct{})}
}

func (c *closer) Close() error {
	c.log.add(c.name)
	// the pipeline closes each collaborator once; a second close shows up in the log
	select {
	case <-c.done:
	default:
		close(c.done)
	}
	return c.closeErr
}

func (c *closer) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// frameSource yields frames tagged with their index in pcm[0]. With block
// set it parks after the last frame until closed instead of returning EOF.
type frameSource struct {
	closer
	frames int
	failAt int
	err    error
	block  bool
	next   int
}

func (s *frameSource) Read(pcm []int16) (int, error) {
	if s.closed() {
		return 0, errClosedFake
	}
	if s.err != nil && s.next == s.failAt {
		return 0, s.err
	}
	if s.next >= s.frames {
		if s.block {
			<-s.done
			return 0, errClosedFake
		}
		return 0, io.EOF
	}
	pcm[0] = int16(s.next)
	s.next++
	return len(pcm), nil
}

type tagEncoder struct {
	closer
	failAt int
	err    error
	calls  int
}

func (e *tagEncoder) Encode(pcm []int16, out []byte) (int, error) {
	defer func() { e.calls++ }()
	if e.err != nil && e.calls == e.failAt {
		return 0, e.err
	}
	out[0] = byte(pcm[0])
	out[1] = 0xfc
	return 2, nil
}

type packetRecorder struct {
	closer
	mu      sync.Mutex
	packets [][]byte
	failAt  int
	err     error
}

func (p *packetRecorder) SendPacket(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed() {
		return errClosedFake
	}
	if p.err != nil && len(p.packets) == p.failAt {
		return p.err
	}
	p.packets = append(p.packets, append([]byte(nil), b...))
	return nil
}

func (p *packetRecorder) tags() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]int, len(p.packets))
	for i, b := range p.packets {
		out[i] = int(b[0])
	}
	return out
}

type datagram struct {
	payload []byte
	from    net.Addr
	err     error
}

// packetQueue hands out queued datagrams and blocks when empty.
type packetQueue struct {
	closer
	ch chan datagram
}

func newPacketQueue(log *closeLog) *packetQueue {
	return &packetQueue{closer: newCloser("socket", log), ch: make(chan datagram, 64)}
}

func (q *packetQueue) push(payload []byte, from net.Addr) {
	q.ch <- datagram{payload: payload, from: from}
}

func (q *packetQueue) ReceivePacket(buf []byte) (int, net.Addr, error) {
	select {
	case <-q.done:
		return 0, nil, net.ErrClosed
	case d := <-q.ch:
		if d.err != nil {
			return 0, nil, d.err
		}
		return copy(buf, d.payload), d.from, nil
	}
}

type tagDecoder struct {
	closer
	failAt int
	err    error
	calls  int
}

func (d *tagDecoder) Decode(packet []byte, pcm []int16) (int, error) {
	defer func() { d.calls++ }()
	if d.err != nil && d.calls == d.failAt {
		return 0, d.err
	}
	clear(pcm)
	pcm[0] = int16(packet[0])
	return len(pcm), nil
}

type frameRecorder struct {
	closer
	mu     sync.Mutex
	frames [][]int16
	failAt int
	err    error
	wrote  chan struct{}
}

func newFrameRecorder(log *closeLog) *frameRecorder {
	return &frameRecorder{closer: newCloser("playback", log), wrote: make(chan struct{}, 256)}
}

func (r *frameRecorder) Write(pcm []int16) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed() {
		return 0, errClosedFake
	}
	if r.err != nil && len(r.frames) == r.failAt {
		return 0, r.err
	}
	r.frames = append(r.frames, append([]int16(nil), pcm...))
	select {
	case r.wrote <- struct{}{}:
	default:
	}
	return len(pcm), nil
}

func (r *frameRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *frameRecorder) tags() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.frames))
	for i, f := range r.frames {
		out[i] = int(f[0])
	}
	return out
}

func (r *frameRecorder) all() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int16
	for _, f := range r.frames {
		out = append(out, f...)
	}
	return out
}
