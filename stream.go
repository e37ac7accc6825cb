// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import (
	"net/netip"
)

// ShutdownDirection selects which half of a [TCPStream] to shut down.
type ShutdownDirection int

const (
	ShutdownRead ShutdownDirection = iota
	ShutdownWrite
	ShutdownBoth
)

// TCPStream is a full-duplex ordered byte channel with half-close.
//
// Read returns 0 bytes and io.EOF on clean peer write-close, never a bare
// (0, nil). Partial reads and partial writes are legal; callers retry.
type TCPStream interface {
	// Read reads into p, returning the number of bytes read.
	Read(p []byte) (n int, err error)

	// Write writes p, returning the number of bytes written. May be less
	// than len(p); the caller is responsible for retrying the remainder.
	Write(p []byte) (n int, err error)

	// Shutdown half-closes the stream in the given direction. After a write
	// shutdown, further writes fail; reads may continue until the peer
	// shuts its own write half.
	Shutdown(dir ShutdownDirection) error

	// Close closes both halves of the stream immediately.
	Close() error

	// LocalAddr returns the local endpoint address.
	LocalAddr() netip.AddrPort

	// PeerAddr returns the peer endpoint address.
	PeerAddr() netip.AddrPort
}

// TCPListener is a bounded or unbounded accept queue of (stream,
// peer-address) pairs (spec §3 TCP listener, §4.C Listener contract).
//
// Dropping (Closing) the listener stops accepting; queued but un-accepted
// streams are aborted with [KindConnectionAborted].
type TCPListener interface {
	// Accept suspends until a stream arrives or the listener is closed.
	Accept(ctx *Context) (TCPStream, netip.AddrPort, error)

	// LocalAddr returns the address the listener is bound to.
	LocalAddr() netip.AddrPort

	// Close stops accepting new connections.
	Close() error
}

// UDPSocket is a datagram endpoint with no reliability and no ordering
// guarantee (spec §3 UDP socket, §4.C Socket contract).
type UDPSocket interface {
	// RecvFrom reads exactly one datagram. If buf is smaller than the
	// datagram, the excess is silently truncated (never overread).
	RecvFrom(buf []byte) (n int, from netip.AddrPort, err error)

	// SendTo sends buf as a single datagram addressed to addr, returning
	// the number of bytes sent (equal to len(buf) or an error).
	SendTo(buf []byte, addr netip.AddrPort) (n int, err error)

	// LocalAddr returns the address the socket is bound to.
	LocalAddr() netip.AddrPort

	// Close releases the socket.
	Close() error
}
