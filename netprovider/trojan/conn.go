// SPDX-License-Identifier: GPL-3.0-or-later

package trojan

import (
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/raphnet"
)

// streamConn adapts a [raphnet.TCPStream] to [net.Conn] so it can be handed
// to [crypto/tls]. Deadlines are accepted but not enforced: [raphnet.TCPStream]
// carries no deadline primitive of its own (cancellation flows through the
// call's [*raphnet.Context] instead), so these are no-ops rather than an
// error, matching how the teacher's own stubs treat unsupported operations.
type streamConn struct {
	raphnet.TCPStream
}

var _ net.Conn = streamConn{}

func (c streamConn) LocalAddr() net.Addr {
	return net.TCPAddrFromAddrPort(c.TCPStream.LocalAddr())
}

func (c streamConn) RemoteAddr() net.Addr {
	return net.TCPAddrFromAddrPort(c.TCPStream.PeerAddr())
}

func (streamConn) SetDeadline(t time.Time) error      { return nil }
func (streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (streamConn) SetWriteDeadline(t time.Time) error { return nil }

// tlsStream adapts a [TLSConn] back to [raphnet.TCPStream] once the
// handshake is done, so the rest of the pipeline sees the same contract
// every other net provider returns.
type tlsStream struct {
	TLSConn
}

var _ raphnet.TCPStream = tlsStream{}

// Shutdown implements [raphnet.TCPStream]. TLS has no half-close of its own;
// shutting down either direction closes the whole secured channel.
func (c tlsStream) Shutdown(raphnet.ShutdownDirection) error {
	return c.TLSConn.Close()
}

func (c tlsStream) LocalAddr() netip.AddrPort {
	return addrPortOf(c.TLSConn.LocalAddr())
}

func (c tlsStream) PeerAddr() netip.AddrPort {
	return addrPortOf(c.TLSConn.RemoteAddr())
}

func addrPortOf(a net.Addr) netip.AddrPort {
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
