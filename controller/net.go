// SPDX-License-Identifier: GPL-3.0-or-later

package controller

import (
	"sync"

	"github.com/bassosimone/raphnet"
)

// instrumentedNet wraps a [raphnet.Net] so every dialed stream publishes
// events onto the controller's broadcaster, the Go shape of the original's
// ControllerNet. TCPBind/UDPBind are passed through unwrapped, same as the
// original's TODO-marked tcp_bind/udp_bind.
type instrumentedNet struct {
	inner raphnet.Net
	b     *broadcaster
}

var _ raphnet.INet = (*instrumentedNet)(nil)

// TCPConnect implements [raphnet.INet].
func (n *instrumentedNet) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	stream, err := n.inner.TCPConnect(ctx, addr)
	if err != nil {
		return nil, err
	}
	n.b.publish(Event{Type: EventNewTCP, Addr: addr.String()})
	return &observedStream{TCPStream: stream, addr: addr.String(), b: n.b}, nil
}

// TCPBind implements [raphnet.INet].
func (n *instrumentedNet) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	return n.inner.TCPBind(ctx, addr)
}

// UDPBind implements [raphnet.INet].
func (n *instrumentedNet) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	return n.inner.UDPBind(ctx, addr)
}

// observedStream wraps a [raphnet.TCPStream], publishing a bytes-rx/bytes-tx
// event per I/O call and a closed event once, on first Close. Adapted from
// the teacher's observedConn (observeconn.go): same close-once guard and
// start/done pairing, generalized from log records to published [Event]s.
type observedStream struct {
	raphnet.TCPStream
	addr      string
	b         *broadcaster
	closeOnce sync.Once
}

// Read implements [raphnet.TCPStream].
func (s *observedStream) Read(p []byte) (int, error) {
	n, err := s.TCPStream.Read(p)
	if n > 0 {
		s.b.publish(Event{Type: EventBytesRx, Addr: s.addr, Bytes: n})
	}
	return n, err
}

// Write implements [raphnet.TCPStream].
func (s *observedStream) Write(p []byte) (int, error) {
	n, err := s.TCPStream.Write(p)
	if n > 0 {
		s.b.publish(Event{Type: EventBytesTx, Addr: s.addr, Bytes: n})
	}
	return n, err
}

// Close implements [raphnet.TCPStream].
func (s *observedStream) Close() error {
	err := s.TCPStream.Close()
	s.closeOnce.Do(func() {
		evt := Event{Type: EventClosed, Addr: s.addr}
		if err != nil {
			evt.Err = err.Error()
		}
		s.b.publish(evt)
	})
	return err
}
