// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

// INet is the polymorphic capability every net provider implements: TCP
// connect, TCP bind, and UDP bind, all suspension-capable (spec §4.B).
//
// Implementations are responsible only for their own layer; composition
// happens by holding a reference to an inner [Net] and delegating, the same
// decorator shape the teacher uses for [ObserveConnFunc]/[CancelWatchFunc]
// around a [net.Conn], generalized here to a whole net instead of one
// connection.
type INet interface {
	// TCPConnect dials addr and returns a full-duplex byte stream.
	TCPConnect(ctx *Context, addr Address) (TCPStream, error)

	// TCPBind starts listening on addr and returns an accept queue.
	TCPBind(ctx *Context, addr Address) (TCPListener, error)

	// UDPBind opens a datagram endpoint bound to addr.
	UDPBind(ctx *Context, addr Address) (UDPSocket, error)
}

// Net is a shared, cheaply clonable handle around an [INet]. Multiple owners
// may hold the same Net; there is no destructor ordering requirement beyond
// "last owner closes" (spec §3 Net handle).
type Net struct {
	inet INet
}

// WrapNet returns a [Net] handle around inet.
func WrapNet(inet INet) Net {
	return Net{inet: inet}
}

// Valid reports whether the handle wraps a concrete implementation.
func (n Net) Valid() bool {
	return n.inet != nil
}

// TCPConnect implements [INet] by delegating to the wrapped implementation.
func (n Net) TCPConnect(ctx *Context, addr Address) (TCPStream, error) {
	if !n.Valid() {
		return nil, NewNetError(KindOther, "net: nil net handle")
	}
	return n.inet.TCPConnect(ctx, addr)
}

// TCPBind implements [INet] by delegating to the wrapped implementation.
func (n Net) TCPBind(ctx *Context, addr Address) (TCPListener, error) {
	if !n.Valid() {
		return nil, NewNetError(KindOther, "net: nil net handle")
	}
	return n.inet.TCPBind(ctx, addr)
}

// UDPBind implements [INet] by delegating to the wrapped implementation.
func (n Net) UDPBind(ctx *Context, addr Address) (UDPSocket, error) {
	if !n.Valid() {
		return nil, NewNetError(KindOther, "net: nil net handle")
	}
	return n.inet.UDPBind(ctx, addr)
}

// Unwrap returns the wrapped [INet], e.g. for type-asserting onto a concrete
// provider type in tests.
func (n Net) Unwrap() INet {
	return n.inet
}
