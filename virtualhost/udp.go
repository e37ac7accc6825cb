// SPDX-License-Identifier: GPL-3.0-or-later

package virtualhost

import (
	"net/netip"
	"sync"

	"github.com/bassosimone/raphnet"
)

// datagram is one in-flight UDP message plus its apparent source, matching
// the original's (Vec<u8>, SocketAddr) pipe item.
type datagram struct {
	data []byte
	from netip.AddrPort
}

// udpSocket is a bound UDP port: an inbound queue peers deliver into via
// [*Host.deliverUDP], addressed directly by port (no connection state, no
// ordering guarantee, matching spec §3).
type udpSocket struct {
	host      *Host
	port      uint16
	localAddr netip.AddrPort
	in        chan datagram

	closeOnce sync.Once
	closed    chan struct{}
}

var _ raphnet.UDPSocket = (*udpSocket)(nil)

func newUDPSocket(host *Host, port uint16, local netip.AddrPort) *udpSocket {
	return &udpSocket{
		host:      host,
		port:      port,
		localAddr: local,
		in:        make(chan datagram, pipeDepth),
		closed:    make(chan struct{}),
	}
}

// RecvFrom implements [raphnet.UDPSocket]. If buf is smaller than the
// datagram, the excess is silently truncated, matching the original's
// buf.len().min(dat.len()) copy (a bug there copies only min(buf, data) but
// via clone_from_slice on a full-sized buf, which panics when buf is
// larger; this version copies exactly min(len(buf), len(data)) bytes).
func (s *udpSocket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	select {
	case d, ok := <-s.in:
		if !ok {
			return 0, netip.AddrPort{}, raphnet.NewNetError(raphnet.KindBrokenPipe, "virtualhost: socket closed")
		}
		n := copy(buf, d.data)
		return n, d.from, nil
	case <-s.closed:
		return 0, netip.AddrPort{}, raphnet.NewNetError(raphnet.KindBrokenPipe, "virtualhost: socket closed")
	}
}

// SendTo implements [raphnet.UDPSocket]: delivers buf to whichever socket
// is bound at addr, if any.
func (s *udpSocket) SendTo(buf []byte, addr netip.AddrPort) (int, error) {
	cp := append([]byte(nil), buf...)
	if !s.host.deliverUDP(addr.Port(), datagram{data: cp, from: s.localAddr}) {
		return 0, raphnet.NewNetError(raphnet.KindBrokenPipe, "virtualhost: no socket bound on target port")
	}
	return len(buf), nil
}

// LocalAddr implements [raphnet.UDPSocket].
func (s *udpSocket) LocalAddr() netip.AddrPort { return s.localAddr }

// Close implements [raphnet.UDPSocket].
func (s *udpSocket) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.host.mu.Lock()
		delete(s.host.udp, portKey{protoUDP, s.port})
		s.host.mu.Unlock()
	})
	return nil
}

// deliverUDP hands a datagram to the socket bound at port, if one exists.
// Delivery is best-effort and non-blocking: a saturated inbound queue drops
// the datagram rather than stalling the sender, consistent with UDP's no
// delivery guarantee.
func (h *Host) deliverUDP(port uint16, d datagram) bool {
	h.mu.Lock()
	sock, ok := h.udp[portKey{protoUDP, port}]
	h.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case sock.in <- d:
		return true
	default:
		return false
	}
}

// UDPBind implements [raphnet.INet].
func (h *Host) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	port, err := h.allocPort(protoUDP, addr.Port())
	if err != nil {
		return nil, err
	}

	s := newUDPSocket(h, port, loopbackAddr(port))
	h.udp[portKey{protoUDP, port}] = s
	return s, nil
}
