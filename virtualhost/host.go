// SPDX-License-Identifier: GPL-3.0-or-later

// Package virtualhost implements an in-process TCP/UDP fabric: a
// [raphnet.INet] whose binds and connects never touch the kernel, used to
// compose test topologies and loopback-only net chains entirely in memory.
//
// Grounded on original_source/apir/src/virtual_host.rs (the Pipe/Port/
// registry design) and cross-checked against
// other_examples/1ce76eef_navytux-go123__xnet-lonet-lonet.go.go for the
// registry-by-port idiom in Go. The original's futures::channel::mpsc pipe
// pair becomes a pair of buffered Go channels; its BTreeMap<Port, Value>
// registry becomes a plain map guarded by a mutex (no ordering requirement
// survives translation since nothing iterates the map in port order).
package virtualhost

import (
	"net/netip"
	"sync"

	"github.com/bassosimone/raphnet"
)

// protocol distinguishes TCP and UDP port spaces, which do not share a
// namespace (binding TCP 53 does not block UDP 53).
type protocol int

const (
	protoTCP protocol = iota
	protoUDP
)

// portKey identifies one entry in the host's port registry.
type portKey struct {
	proto protocol
	port  uint16
}

// Host is an in-process [raphnet.INet]. The zero value is not usable; use
// [New].
type Host struct {
	mu   sync.Mutex
	bind map[portKey]*tcpListener
	udp  map[portKey]*udpSocket

	// nextTCP/nextUDP are separate per-protocol ephemeral-port cursors.
	//
	// The original's Inner::next_port(&mut self, protocol) takes a protocol
	// argument but Inner::get_port always calls it with Protocol::Udp
	// regardless of which protocol is actually being allocated, so TCP
	// ephemeral allocation silently consumes and advances the UDP cursor.
	// That cross-contaminates the two port spaces for no reason the rest of
	// the code relies on; this implementation gives each protocol its own
	// cursor instead.
	nextTCP uint16
	nextUDP uint16
}

// New returns an empty [*Host] with no bound ports.
func New() *Host {
	return &Host{
		bind:    make(map[portKey]*tcpListener),
		udp:     make(map[portKey]*udpSocket),
		nextTCP: 1,
		nextUDP: 1,
	}
}

var _ raphnet.INet = (*Host)(nil)

// PortInfo describes one allocated port for diagnostics.
type PortInfo struct {
	Protocol string
	Port     uint16
}

// Snapshot returns a copy of the currently allocated ports, taken while
// holding the host's lock, safe to call concurrently with binds/connects.
func (h *Host) Snapshot() []PortInfo {
	h.mu.Lock()
	out := make([]PortInfo, 0, len(h.bind)+len(h.udp))
	for k := range h.bind {
		out = append(out, PortInfo{Protocol: "tcp", Port: k.port})
	}
	for k := range h.udp {
		out = append(out, PortInfo{Protocol: "udp", Port: k.port})
	}
	h.mu.Unlock()
	return out
}

// checkAddress rejects any bind/connect target that is neither loopback nor
// unspecified, matching the original's check_address.
func checkAddress(addr raphnet.Address) error {
	if addr.IsDomain() {
		return raphnet.NewNetError(raphnet.KindAddrNotAvailable, "virtualhost: domain addresses are not routable")
	}
	ip := addr.AddrPort().Addr()
	if ip.IsLoopback() || ip.IsUnspecified() {
		return nil
	}
	return raphnet.NewNetError(raphnet.KindAddrNotAvailable, "virtualhost: address is neither loopback nor unspecified")
}

// allocPort returns the requested port if free, or the next free ephemeral
// port if port is zero, matching Inner::get_port.
func (h *Host) allocPort(proto protocol, port uint16) (uint16, error) {
	if port == 0 {
		port = h.nextFreePort(proto)
	}
	if h.portTaken(proto, port) {
		return 0, raphnet.NewNetError(raphnet.KindAddrInUse, "virtualhost: port already bound")
	}
	return port, nil
}

func (h *Host) portTaken(proto protocol, port uint16) bool {
	key := portKey{proto, port}
	switch proto {
	case protoTCP:
		_, ok := h.bind[key]
		return ok
	default:
		_, ok := h.udp[key]
		return ok
	}
}

func (h *Host) nextFreePort(proto protocol) uint16 {
	cursor := &h.nextTCP
	if proto == protoUDP {
		cursor = &h.nextUDP
	}
	for h.portTaken(proto, *cursor) {
		*cursor++
	}
	return *cursor
}

// loopbackAddr builds a 127.0.0.1:port address, matching Port::into<SocketAddr>.
func loopbackAddr(port uint16) netip.AddrPort {
	return netip.AddrPortFrom(netip.AddrFrom4([4]byte{127, 0, 0, 1}), port)
}
