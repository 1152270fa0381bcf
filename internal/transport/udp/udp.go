// Package udp carries compressed frames as bare datagrams: one datagram per
// frame, no header, no sequence number. Datagram boundaries are frame
// boundaries.
package udp

import (
	"errors"
	"fmt"
	"net"
	"sync"
)

// Sender writes datagrams to a destination resolved once at construction.
// The socket is left unconnected so ICMP errors from a missing receiver do
// not fail later sends.
type Sender struct {
	conn      *net.UDPConn
	dest      *net.UDPAddr
	closeOnce sync.Once
	closeErr  error
}

// Dial resolves dest and opens an unbound socket for sending to it.
func Dial(dest string) (*Sender, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve destination %q: %w", dest, err)
	}
	network := "udp4"
	if addr.IP != nil && addr.IP.To4() == nil {
		network = "udp6"
	}
	conn, err := net.ListenUDP(network, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open udp socket: %w", err)
	}
	return &Sender{conn: conn, dest: addr}, nil
}

// SendPacket transmits p as exactly one datagram.
func (s *Sender) SendPacket(p []byte) error {
	n, err := s.conn.WriteToUDP(p, s.dest)
	if err != nil {
		return fmt.Errorf("send to %s: %w", s.dest, err)
	}
	if n != len(p) {
		return fmt.Errorf("send to %s: short write %d of %d bytes", s.dest, n, len(p))
	}
	return nil
}

func (s *Sender) Destination() *net.UDPAddr {
	return s.dest
}

func (s *Sender) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

func (s *Sender) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close()
	})
	return s.closeErr
}

// Receiver reads datagrams from a bound local port, from any source.
type Receiver struct {
	conn      *net.UDPConn
	closeOnce sync.Once
	closeErr  error
}

// Listen binds addr, e.g. ":8888".
func Listen(addr string) (*Receiver, error) {
	laddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve listen address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	return &Receiver{conn: conn}, nil
}

// ReceivePacket blocks for the next datagram. A datagram longer than buf is
// truncated by the kernel; callers detect that by passing a buffer one byte
// larger than the biggest payload they accept.
func (r *Receiver) ReceivePacket(buf []byte) (int, net.Addr, error) {
	n, from, err := r.conn.ReadFromUDP(buf)
	if err != nil {
		return 0, nil, fmt.Errorf("receive: %w", err)
	}
	return n, from, nil
}

func (r *Receiver) LocalAddr() *net.UDPAddr {
	return r.conn.LocalAddr().(*net.UDPAddr)
}

func (r *Receiver) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.conn.Close()
	})
	return r.closeErr
}

// IsClosed reports whether err came from using a closed socket.
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
