// SPDX-License-Identifier: GPL-3.0-or-later

package relay

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/bassosimone/raphnet"
)

// udpBufSize bounds a single datagram read from an outbound socket.
const udpBufSize = 64 * 1024

// udpIdleTimeout is how long a client mapping survives without activity
// before it is pruned (spec §4.E policy: 60s of inactivity).
const udpIdleTimeout = 60 * time.Second

// Datagram is one inbound message read from a [Channel]: the payload plus
// the client endpoint it came from and the upstream target it should be
// relayed to.
type Datagram struct {
	Data   []byte
	Client netip.AddrPort
	Target netip.AddrPort
}

// Channel is the server-facing side of a UDP bridge: a bidirectional entity
// that yields inbound datagrams tagged with a target address and consumes
// outbound datagrams tagged with a client address (spec §4.E connect_udp).
type Channel interface {
	// RecvFrom suspends until the next inbound datagram arrives.
	RecvFrom(ctx context.Context) (Datagram, error)

	// SendTo delivers data back to client.
	SendTo(ctx context.Context, client netip.AddrPort, data []byte) error
}

// OutboundFactory binds a fresh outbound [raphnet.UDPSocket] for one newly
// seen client. ConnectUDP calls it once per distinct client endpoint rather
// than sharing a single outbound socket across every client: a shared
// socket cannot tell which in-flight client a reply belongs to once two
// clients relay to the same target, since the reply's only identifying
// information at that point is its source address, which collides. Giving
// each client its own outbound socket demultiplexes replies by which socket
// they arrived on instead.
type OutboundFactory func() (raphnet.UDPSocket, error)

// mapping tracks one client's dedicated outbound socket, reset on every
// inbound or outbound datagram touching it and pruned after
// [udpIdleTimeout] of inactivity.
type mapping struct {
	client   netip.AddrPort
	outbound raphnet.UDPSocket
	timer    *time.Timer
}

// ConnectUDP bridges channel (the listening side) to a per-client outbound
// socket obtained from newOutbound on first sight of each client endpoint;
// idle mappings (and their outbound sockets) are pruned after
// [udpIdleTimeout]. ConnectUDP suspends the inbound reader rather than drop
// a datagram when a client's outbound sink is not ready (spec §4.E
// backpressure), and returns when ctx is canceled, or when the inbound side,
// newOutbound, or a send on an outbound socket reports an error (io.EOF
// included).
func ConnectUDP(ctx context.Context, channel Channel, newOutbound OutboundFactory) error {
	b := &udpBridge{channel: channel, newOutbound: newOutbound, byClient: make(map[netip.AddrPort]*mapping)}
	return b.run(ctx)
}

type udpBridge struct {
	channel     Channel
	newOutbound OutboundFactory

	mu       sync.Mutex
	byClient map[netip.AddrPort]*mapping
}

func (b *udpBridge) run(ctx context.Context) error {
	result := make(chan error, 1)
	go func() { result <- b.pumpInbound(ctx) }()

	var err error
	select {
	case err = <-result:
	case <-ctx.Done():
		err = ctx.Err()
	}

	b.closeAll()
	return err
}

// pumpInbound reads client datagrams from channel and forwards each to the
// target over that client's dedicated outbound socket, suspending (not
// dropping) when the outbound socket applies backpressure.
func (b *udpBridge) pumpInbound(ctx context.Context) error {
	for {
		dg, err := b.channel.RecvFrom(ctx)
		if err != nil {
			return err
		}
		m, err := b.touch(ctx, dg.Client)
		if err != nil {
			return err
		}
		if _, err := m.outbound.SendTo(dg.Data, dg.Target); err != nil {
			b.expire(m)
			return err
		}
	}
}

// touch returns the mapping for client, creating one (and dialing a fresh
// outbound socket for it via newOutbound) on first sight.
func (b *udpBridge) touch(ctx context.Context, client netip.AddrPort) (*mapping, error) {
	b.mu.Lock()
	if m, ok := b.byClient[client]; ok {
		m.timer.Reset(udpIdleTimeout)
		b.mu.Unlock()
		return m, nil
	}
	b.mu.Unlock()

	outbound, err := b.newOutbound()
	if err != nil {
		return nil, err
	}
	m := &mapping{client: client, outbound: outbound}
	m.timer = time.AfterFunc(udpIdleTimeout, func() { b.expire(m) })

	b.mu.Lock()
	b.byClient[client] = m
	b.mu.Unlock()

	go b.pumpOutboundFor(ctx, m)
	return m, nil
}

// pumpOutboundFor relays replies arriving on m's dedicated outbound socket
// back to m's client, until the socket errors (idle expiry closes it) or
// the channel rejects the reply.
func (b *udpBridge) pumpOutboundFor(ctx context.Context, m *mapping) {
	buf := make([]byte, udpBufSize)
	for {
		n, _, err := m.outbound.RecvFrom(buf)
		if err != nil {
			return
		}
		m.timer.Reset(udpIdleTimeout)
		data := append([]byte(nil), buf[:n]...)
		if err := b.channel.SendTo(ctx, m.client, data); err != nil {
			b.expire(m)
			return
		}
	}
}

func (b *udpBridge) expire(m *mapping) {
	b.mu.Lock()
	if cur, ok := b.byClient[m.client]; ok && cur == m {
		delete(b.byClient, m.client)
	}
	b.mu.Unlock()
	m.timer.Stop()
	m.outbound.Close()
}

func (b *udpBridge) closeAll() {
	b.mu.Lock()
	mappings := make([]*mapping, 0, len(b.byClient))
	for _, m := range b.byClient {
		mappings = append(mappings, m)
	}
	b.byClient = make(map[netip.AddrPort]*mapping)
	b.mu.Unlock()

	for _, m := range mappings {
		m.timer.Stop()
		m.outbound.Close()
	}
}
