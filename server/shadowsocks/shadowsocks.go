// SPDX-License-Identifier: GPL-3.0-or-later

// Package shadowsocks implements the Shadowsocks inbound server harness:
// accept, decrypt, read the target address, connect out, splice. The AEAD
// framing itself (the actual Shadowsocks wire cipher) is out of scope; a
// [Cipher] collaborator is injected to perform it, so this package owns only
// the accept/serve wiring.
//
// Grounded on original_source/protocol/ss/src/server.rs (SSServer):
// serve_tcp/serve_connection wrap each accepted stream in a CryptoStream,
// read a socks5_protocol::Address-shaped target, then tcp_connect + splice.
package shadowsocks

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/registry"
	"github.com/bassosimone/raphnet/relay"
	"github.com/bassosimone/raphnet/server"
)

// Cipher performs the Shadowsocks AEAD framing. WrapStream returns a
// [raphnet.TCPStream] that transparently decrypts reads and encrypts writes
// against the underlying raw connection; WrapPacket does the same for one
// UDP socket's datagrams. Neither method's concrete implementation lives in
// this module (the cipher suite is a collaborator, not reimplemented here).
type Cipher interface {
	WrapStream(raw raphnet.TCPStream) (raphnet.TCPStream, error)
	WrapPacket(raw raphnet.UDPSocket) (raphnet.UDPSocket, error)
}

// Config is the Shadowsocks server's configuration (mirrors SSServerConfig's
// bind/password/udp/cipher fields; password and cipher selection are
// forwarded to whatever [Cipher] the caller constructs from them — this
// package only carries the bind address and the udp toggle).
type Config struct {
	Bind     string `json:"bind" yaml:"bind"`
	Password string `json:"password" yaml:"password"`
	UDP      bool   `json:"udp" yaml:"udp"`
}

// Server runs the Shadowsocks accept loop.
type Server struct {
	ListenNet raphnet.Net
	Net       raphnet.Net
	Bind      raphnet.Address
	UDP       bool
	Cipher    Cipher
	Logger    raphnet.SLogger
}

// New parses cfg and returns a [*Server] using cipher for AEAD framing.
func New(listenNet, net raphnet.Net, cfg Config, cipher Cipher) (*Server, error) {
	bind, err := raphnet.ParseAddress(cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("shadowsocks: invalid bind address: %w", err)
	}
	return &Server{
		ListenNet: listenNet,
		Net:       net,
		Bind:      bind,
		UDP:       cfg.UDP,
		Cipher:    cipher,
		Logger:    raphnet.DefaultSLogger(),
	}, nil
}

// NewFactory binds cipher into a [registry.ServerFactory], since the
// registry's factory signature carries no room for an injected collaborator
// beyond the raw config blob.
func NewFactory(cipher Cipher) registry.ServerFactory {
	return func(listenNet, net raphnet.Net, raw json.RawMessage) (registry.Server, error) {
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("shadowsocks: parsing config: %w", err)
		}
		return New(listenNet, net, cfg, cipher)
	}
}

// Run starts both the TCP and (if enabled) UDP sides, mirroring
// SSServer::start's tokio::select! over serve_tcp/serve_udp.
func (s *Server) Run(ctx context.Context) error {
	result := make(chan error, 2)
	go func() { result <- s.serveTCP(ctx) }()
	go func() { result <- s.serveUDP(ctx) }()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) serveTCP(ctx context.Context) error {
	rctx := raphnet.NewContextFrom(ctx)
	listener, err := s.ListenNet.TCPBind(rctx, s.Bind)
	if err != nil {
		return err
	}
	defer listener.Close()

	return server.ServeTCP(rctx, listener, s.Logger, func(connCtx *raphnet.Context, raw raphnet.TCPStream) error {
		defer raw.Close()

		stream, err := s.Cipher.WrapStream(raw)
		if err != nil {
			return err
		}

		target, err := readTargetAddr(stream)
		if err != nil {
			return err
		}

		out, err := s.Net.TCPConnect(connCtx, target)
		if err != nil {
			return err
		}
		defer out.Close()

		return relay.ConnectTCP(ctx, stream, out)
	})
}

func (s *Server) serveUDP(ctx context.Context) error {
	if !s.UDP {
		<-ctx.Done()
		return ctx.Err()
	}

	rctx := raphnet.NewContextFrom(ctx)
	rawListen, err := s.ListenNet.UDPBind(rctx, s.Bind)
	if err != nil {
		return err
	}
	defer rawListen.Close()

	listen, err := s.Cipher.WrapPacket(rawListen)
	if err != nil {
		return err
	}

	newOutbound := func() (raphnet.UDPSocket, error) {
		return s.Net.UDPBind(rctx, s.Bind.ToAnyAddrPort())
	}

	return relay.ConnectUDP(ctx, &packetChannel{sock: listen}, newOutbound)
}

// packetChannel adapts a decrypted [raphnet.UDPSocket] into a [relay.Channel]
// by reading/writing the same ADDR+PORT+payload framing Shadowsocks UDP
// packets use on the wire (a prefix-free subset of the SOCKS5 UDP relay
// header, with no RSV/FRAG bytes), grounded on UdpSource's per-datagram
// target-address decode in source.rs (not included in the retrieved sources,
// inferred from socks5_protocol::Address's read/write shape referenced by
// server.rs).
type packetChannel struct {
	sock raphnet.UDPSocket

	mu         sync.Mutex
	lastTarget map[netip.AddrPort]netip.AddrPort
}

func (c *packetChannel) RecvFrom(ctx context.Context) (relay.Datagram, error) {
	buf := make([]byte, 64*1024)
	n, from, err := c.sock.RecvFrom(buf)
	if err != nil {
		return relay.Datagram{}, err
	}
	addr, payload, err := readTargetAddrBytes(buf[:n])
	if err != nil {
		return relay.Datagram{}, err
	}
	resolved, err := addr.Resolve(ctx)
	if err != nil || len(resolved) == 0 {
		return relay.Datagram{}, fmt.Errorf("shadowsocks: udp target %q did not resolve", addr.String())
	}
	data := make([]byte, len(payload))
	copy(data, payload)

	c.mu.Lock()
	if c.lastTarget == nil {
		c.lastTarget = make(map[netip.AddrPort]netip.AddrPort)
	}
	c.lastTarget[from] = resolved[0]
	c.mu.Unlock()

	return relay.Datagram{Data: data, Client: from, Target: resolved[0]}, nil
}

// SendTo prefixes data with the target the client most recently sent to,
// the same "last known address" fallback used by server/socks5's udpChannel
// since a reply's true source address has nowhere to live in the relay
// bridge's SendTo signature.
func (c *packetChannel) SendTo(ctx context.Context, client netip.AddrPort, data []byte) error {
	c.mu.Lock()
	source := c.lastTarget[client]
	c.mu.Unlock()

	_, err := c.sock.SendTo(writeTargetAddrBytes(raphnet.NewIPAddress(source), data), client)
	return err
}
