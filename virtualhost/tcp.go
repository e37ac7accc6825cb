// SPDX-License-Identifier: GPL-3.0-or-later

package virtualhost

import (
	"io"
	"net/netip"
	"sync"

	"github.com/bassosimone/raphnet"
)

// pipeDepth bounds each direction's in-flight chunk count before a writer
// suspends, the Go analogue of the original's unbounded futures channel
// made finite (an in-process fabric has no reason to grow without limit).
const pipeDepth = 64

// tcpStream is one end of an in-process TCP pipe. Reads pull whole chunks
// off in, slicing off the residual when the caller's buffer is smaller than
// the chunk (matching the original's VecDeque-backed partial-read buffer).
type tcpStream struct {
	in        chan []byte
	out       chan []byte
	localAddr netip.AddrPort
	peerAddr  netip.AddrPort

	mu        sync.Mutex
	residual  []byte
	readEOF   bool
	closeOnce sync.Once
	closeOut  sync.Once
}

var _ raphnet.TCPStream = (*tcpStream)(nil)

func newTCPPipe(local, peer netip.AddrPort) (a, b *tcpStream) {
	ab := make(chan []byte, pipeDepth)
	ba := make(chan []byte, pipeDepth)
	a = &tcpStream{in: ba, out: ab, localAddr: local, peerAddr: peer}
	b = &tcpStream{in: ab, out: ba, localAddr: peer, peerAddr: local}
	return a, b
}

// Read implements [raphnet.TCPStream].
func (s *tcpStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	if s.readEOF && len(s.residual) == 0 {
		s.mu.Unlock()
		return 0, io.EOF
	}
	if len(s.residual) > 0 {
		n := copy(p, s.residual)
		s.residual = s.residual[n:]
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	chunk, ok := <-s.in
	if !ok {
		s.mu.Lock()
		s.readEOF = true
		s.mu.Unlock()
		return 0, io.EOF
	}
	n := copy(p, chunk)
	if n < len(chunk) {
		s.mu.Lock()
		s.residual = chunk[n:]
		s.mu.Unlock()
	}
	return n, nil
}

// Write implements [raphnet.TCPStream]. Writing after a local ShutdownWrite
// or Close fails with [raphnet.KindBrokenPipe], recovering the panic Go
// raises on a closed channel send.
func (s *tcpStream) Write(p []byte) (n int, err error) {
	defer func() {
		if r := recover(); r != nil {
			n, err = 0, raphnet.NewNetError(raphnet.KindBrokenPipe, "virtualhost: write on shut down stream")
		}
	}()
	buf := append([]byte(nil), p...)
	s.out <- buf
	return len(p), nil
}

// Shutdown implements [raphnet.TCPStream]. The original leaves this
// unimplemented (todo!()); here ShutdownWrite closes the outbound channel
// (signaling EOF to the peer exactly once), ShutdownRead marks subsequent
// local reads as EOF without touching the peer.
func (s *tcpStream) Shutdown(dir raphnet.ShutdownDirection) error {
	if dir == raphnet.ShutdownRead || dir == raphnet.ShutdownBoth {
		s.mu.Lock()
		s.readEOF = true
		s.mu.Unlock()
	}
	if dir == raphnet.ShutdownWrite || dir == raphnet.ShutdownBoth {
		s.closeOut.Do(func() { close(s.out) })
	}
	return nil
}

// Close implements [raphnet.TCPStream]: shuts down both directions.
func (s *tcpStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeOut.Do(func() { close(s.out) })
		s.mu.Lock()
		s.readEOF = true
		s.mu.Unlock()
	})
	return nil
}

// LocalAddr implements [raphnet.TCPStream].
func (s *tcpStream) LocalAddr() netip.AddrPort { return s.localAddr }

// PeerAddr implements [raphnet.TCPStream].
func (s *tcpStream) PeerAddr() netip.AddrPort { return s.peerAddr }

// tcpListener is a bound TCP port's accept queue.
type tcpListener struct {
	host      *Host
	port      uint16
	localAddr netip.AddrPort
	accept    chan *tcpStream
	closeOnce sync.Once
	closed    chan struct{}
}

var _ raphnet.TCPListener = (*tcpListener)(nil)

func newTCPListener(host *Host, port uint16, local netip.AddrPort) *tcpListener {
	return &tcpListener{
		host:      host,
		port:      port,
		localAddr: local,
		accept:    make(chan *tcpStream, pipeDepth),
		closed:    make(chan struct{}),
	}
}

// Accept implements [raphnet.TCPListener].
func (l *tcpListener) Accept(ctx *raphnet.Context) (raphnet.TCPStream, netip.AddrPort, error) {
	select {
	case s, ok := <-l.accept:
		if !ok {
			return nil, netip.AddrPort{}, raphnet.NewNetError(raphnet.KindConnectionAborted, "virtualhost: listener closed")
		}
		return s, s.peerAddr, nil
	case <-l.closed:
		return nil, netip.AddrPort{}, raphnet.NewNetError(raphnet.KindConnectionAborted, "virtualhost: listener closed")
	case <-ctx.Done():
		return nil, netip.AddrPort{}, raphnet.NewNetError(raphnet.KindAbortedByUser, "virtualhost: accept canceled")
	}
}

// LocalAddr implements [raphnet.TCPListener].
func (l *tcpListener) LocalAddr() netip.AddrPort { return l.localAddr }

// Close implements [raphnet.TCPListener].
func (l *tcpListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
		l.host.mu.Lock()
		delete(l.host.bind, portKey{protoTCP, l.port})
		l.host.mu.Unlock()
	})
	return nil
}

// TCPConnect implements [raphnet.INet].
func (h *Host) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}

	h.mu.Lock()
	listener, ok := h.bind[portKey{protoTCP, addr.Port()}]
	if !ok {
		h.mu.Unlock()
		return nil, raphnet.NewNetError(raphnet.KindConnectionRefused, "virtualhost: no listener on this port")
	}
	localPort, err := h.allocPort(protoTCP, 0)
	if err != nil {
		h.mu.Unlock()
		return nil, err
	}
	h.mu.Unlock()

	local := loopbackAddr(localPort)
	peer := loopbackAddr(addr.Port())
	ours, theirs := newTCPPipe(local, peer)

	select {
	case listener.accept <- theirs:
		return ours, nil
	case <-listener.closed:
		return nil, raphnet.NewNetError(raphnet.KindConnectionRefused, "virtualhost: listener closed")
	case <-ctx.Done():
		return nil, raphnet.NewNetError(raphnet.KindAbortedByUser, "virtualhost: connect canceled")
	}
}

// TCPBind implements [raphnet.INet].
func (h *Host) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	if err := checkAddress(addr); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	port, err := h.allocPort(protoTCP, addr.Port())
	if err != nil {
		return nil, err
	}

	l := newTCPListener(h, port, loopbackAddr(port))
	h.bind[portKey{protoTCP, port}] = l
	return l, nil
}
