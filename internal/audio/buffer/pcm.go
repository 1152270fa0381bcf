// Package buffer bridges callback driven audio devices and the blocking,
// frame-at-a-time pipeline. A PCM buffer is a bounded FIFO of interleaved
// int16 samples: the pipeline side blocks, the device callback side never does.
package buffer

import (
	"errors"
	"fmt"
	"sync"
)

var ErrClosed = errors.New("buffer: closed")

// PCM is a fixed-capacity circular FIFO of samples. It is safe for one
// producer and one consumer running on different goroutines.
type PCM struct {
	cond *sync.Cond

	mu         sync.Mutex
	buf        []int16
	head, tail int64
	closeErr   error
}

// NewPCM allocates a buffer holding up to capacity samples.
func NewPCM(capacity int) *PCM {
	if capacity <= 0 {
		panic(fmt.Sprintf("buffer: invalid capacity %d", capacity))
	}
	b := &PCM{buf: make([]int16, capacity)}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Cap returns the capacity in samples.
func (b *PCM) Cap() int {
	return len(b.buf)
}

// Len returns the number of buffered samples.
func (b *PCM) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int(b.tail - b.head)
}

// ReadFull blocks until len(p) samples are buffered and copies them out.
// A pending failure is returned immediately, discarding buffered samples.
func (b *PCM) ReadFull(p []int16) (int, error) {
	if len(p) > len(b.buf) {
		return 0, fmt.Errorf("buffer: read of %d samples exceeds capacity %d", len(p), len(b.buf))
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for int(b.tail-b.head) < len(p) {
		if b.closeErr != nil {
			return 0, b.closeErr
		}
		b.cond.Wait()
	}
	if b.closeErr != nil {
		return 0, b.closeErr
	}
	n := b.copyOut(p)
	b.cond.Broadcast()
	return n, nil
}

// WriteFull blocks while the buffer is full and returns once every sample of
// p has been queued.
func (b *PCM) WriteFull(p []int16) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	written := 0
	for len(p) > 0 {
		for int(b.tail-b.head) == len(b.buf) {
			if b.closeErr != nil {
				return written, b.closeErr
			}
			b.cond.Wait()
		}
		if b.closeErr != nil {
			return written, b.closeErr
		}
		n := b.copyIn(p)
		written += n
		p = p[n:]
		b.cond.Broadcast()
	}
	return written, nil
}

// Offer queues as much of p as fits without blocking and reports how many
// samples did not fit. Used from device callbacks.
func (b *PCM) Offer(p []int16) (dropped int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return len(p)
	}
	n := b.copyIn(p)
	if n > 0 {
		b.cond.Broadcast()
	}
	return len(p) - n
}

// Drain copies up to len(p) buffered samples without blocking.
func (b *PCM) Drain(p []int16) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr != nil {
		return 0
	}
	n := b.copyOut(p)
	if n > 0 {
		b.cond.Broadcast()
	}
	return n
}

// CloseWithError fails every pending and future blocking call with err.
// The first error wins.
func (b *PCM) CloseWithError(err error) {
	if err == nil {
		err = ErrClosed
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeErr == nil {
		b.closeErr = err
	}
	b.cond.Broadcast()
}

func (b *PCM) Close() error {
	b.CloseWithError(ErrClosed)
	return nil
}

// Err returns the error the buffer was closed with, if any.
func (b *PCM) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeErr
}

// copyOut must be called with mu held.
func (b *PCM) copyOut(p []int16) int {
	avail := int(b.tail - b.head)
	want := min(avail, len(p))
	head := int(b.head % int64(len(b.buf)))

	var n int
	if head+want <= len(b.buf) {
		n = copy(p[:want], b.buf[head:head+want])
	} else {
		n = copy(p, b.buf[head:])
		n += copy(p[n:want], b.buf[:want-n])
	}
	b.head += int64(n)
	return n
}

// copyIn must be called with mu held.
func (b *PCM) copyIn(p []int16) int {
	free := len(b.buf) - int(b.tail-b.head)
	want := min(free, len(p))
	tail := int(b.tail % int64(len(b.buf)))

	var n int
	if tail+want <= len(b.buf) {
		n = copy(b.buf[tail:tail+want], p[:want])
	} else {
		n = copy(b.buf[tail:], p[:want])
		n += copy(b.buf[:want-n], p[n:want])
	}
	b.tail += int64(n)
	return n
}
