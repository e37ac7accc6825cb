// SPDX-License-Identifier: GPL-3.0-or-later

package direct

import (
	"net"
	"net/netip"

	"github.com/bassosimone/raphnet"
)

// tcpConn adapts a [net.Conn] dialed over "tcp" to [raphnet.TCPStream],
// implementing half-close via the optional CloseRead/CloseWrite methods that
// [*net.TCPConn] exposes (spec §9c: a real per-direction shutdown, unlike a
// provider that can only ever Close both halves at once).
type tcpConn struct {
	net.Conn
}

func wrapTCPConn(conn net.Conn) *tcpConn {
	return &tcpConn{Conn: conn}
}

var _ raphnet.TCPStream = (*tcpConn)(nil)

// Shutdown implements [raphnet.TCPStream].
func (c *tcpConn) Shutdown(dir raphnet.ShutdownDirection) error {
	type halfCloser interface {
		CloseRead() error
		CloseWrite() error
	}
	hc, ok := c.Conn.(halfCloser)
	if !ok {
		if dir == raphnet.ShutdownBoth {
			return c.Conn.Close()
		}
		return nil
	}
	switch dir {
	case raphnet.ShutdownRead:
		return hc.CloseRead()
	case raphnet.ShutdownWrite:
		return hc.CloseWrite()
	default:
		if err := hc.CloseRead(); err != nil {
			return err
		}
		return hc.CloseWrite()
	}
}

// LocalAddr implements [raphnet.TCPStream].
func (c *tcpConn) LocalAddr() (ap netip.AddrPort) {
	return addrPortOf(c.Conn.LocalAddr())
}

// PeerAddr implements [raphnet.TCPStream].
func (c *tcpConn) PeerAddr() (ap netip.AddrPort) {
	return addrPortOf(c.Conn.RemoteAddr())
}

// tcpListener adapts a [net.Listener] to [raphnet.TCPListener].
type tcpListener struct {
	ln net.Listener
}

var _ raphnet.TCPListener = (*tcpListener)(nil)

// Accept implements [raphnet.TCPListener]. The accept itself is not
// context-aware at the stdlib layer; Close unblocks a pending Accept, which
// is the same suspension-breaking mechanism the accept loop relies on.
func (l *tcpListener) Accept(ctx *raphnet.Context) (raphnet.TCPStream, netip.AddrPort, error) {
	type acceptResult struct {
		conn net.Conn
		err  error
	}
	ch := make(chan acceptResult, 1)
	go func() {
		conn, err := l.ln.Accept()
		ch <- acceptResult{conn, err}
	}()
	select {
	case <-ctx.Done():
		l.ln.Close()
		return nil, netip.AddrPort{}, raphnet.NewNetError(raphnet.KindAbortedByUser, "accept canceled")
	case r := <-ch:
		if r.err != nil {
			return nil, netip.AddrPort{}, raphnet.ClassifyError(r.err)
		}
		return wrapTCPConn(r.conn), addrPortOf(r.conn.RemoteAddr()), nil
	}
}

// LocalAddr implements [raphnet.TCPListener].
func (l *tcpListener) LocalAddr() netip.AddrPort {
	return addrPortOf(l.ln.Addr())
}

// Close implements [raphnet.TCPListener].
func (l *tcpListener) Close() error {
	return l.ln.Close()
}

// udpSocket adapts a [*net.UDPConn] to [raphnet.UDPSocket].
type udpSocket struct {
	pc *net.UDPConn
}

var _ raphnet.UDPSocket = (*udpSocket)(nil)

// RecvFrom implements [raphnet.UDPSocket].
func (s *udpSocket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	n, addr, err := s.pc.ReadFromUDPAddrPort(buf)
	if err != nil {
		return 0, netip.AddrPort{}, raphnet.ClassifyError(err)
	}
	return n, addr, nil
}

// SendTo implements [raphnet.UDPSocket].
func (s *udpSocket) SendTo(buf []byte, addr netip.AddrPort) (int, error) {
	n, err := s.pc.WriteToUDPAddrPort(buf, addr)
	if err != nil {
		return n, raphnet.ClassifyError(err)
	}
	return n, nil
}

// LocalAddr implements [raphnet.UDPSocket].
func (s *udpSocket) LocalAddr() netip.AddrPort {
	return addrPortOf(s.pc.LocalAddr())
}

// Close implements [raphnet.UDPSocket].
func (s *udpSocket) Close() error {
	return s.pc.Close()
}
