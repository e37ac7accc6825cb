// SPDX-License-Identifier: GPL-3.0-or-later

// Package forward implements the forward server: every accepted connection
// (TCP or UDP) is relayed to one fixed target address.
//
// Grounded on original_source/rd-std/src/builtin/forward.rs (ForwardServer).
package forward

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/registry"
	"github.com/bassosimone/raphnet/relay"
	"github.com/bassosimone/raphnet/server"
)

// Config is the forward server's configuration, round-tripped via YAML/JSON
// (mirrors ForwardServerConfig's bind/target/udp fields).
type Config struct {
	Bind   string `json:"bind" yaml:"bind"`
	Target string `json:"target" yaml:"target"`
	UDP    bool   `json:"udp" yaml:"udp"`
}

// Server forwards every inbound connection on Bind to Target.
type Server struct {
	ListenNet raphnet.Net
	Net       raphnet.Net
	Bind      raphnet.Address
	Target    raphnet.Address
	UDP       bool
	Logger    raphnet.SLogger
}

// New parses cfg and returns a [*Server] bound to listenNet and dialing out
// through net.
func New(listenNet, net raphnet.Net, cfg Config) (*Server, error) {
	bind, err := raphnet.ParseAddress(cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("forward: invalid bind address: %w", err)
	}
	target, err := raphnet.ParseAddress(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("forward: invalid target address: %w", err)
	}
	return &Server{
		ListenNet: listenNet,
		Net:       net,
		Bind:      bind,
		Target:    target,
		UDP:       cfg.UDP,
		Logger:    raphnet.DefaultSLogger(),
	}, nil
}

// Factory adapts [New] to [registry.ServerFactory]'s signature.
func Factory(listenNet, net raphnet.Net, raw json.RawMessage) (registry.Server, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("forward: parsing config: %w", err)
	}
	return New(listenNet, net, cfg)
}

// Run starts both the TCP and UDP sides (UDP only if cfg.UDP) and returns
// when either fails or ctx is canceled, mirroring ForwardServer::start's
// tokio::select! over tcp_task/udp_task.
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

	return server.ServeTCP(rctx, listener, s.Logger, func(connCtx *raphnet.Context, stream raphnet.TCPStream) error {
		defer stream.Close()
		target, err := s.Net.TCPConnect(connCtx, s.Target)
		if err != nil {
			return err
		}
		target = raphnet.WatchCancel(connCtx, target)
		defer target.Close()
		return relay.ConnectTCP(ctx, stream, target)
	})
}

func (s *Server) serveUDP(ctx context.Context) error {
	if !s.UDP {
		<-ctx.Done()
		return ctx.Err()
	}

	rctx := raphnet.NewContextFrom(ctx)
	listenSock, err := s.ListenNet.UDPBind(rctx, s.Bind)
	if err != nil {
		return err
	}
	defer listenSock.Close()

	newOutbound := func() (raphnet.UDPSocket, error) {
		return s.Net.UDPBind(rctx, s.Target.ToAnyAddrPort())
	}

	channel := &fixedTargetChannel{sock: listenSock, target: s.Target.AddrPort()}
	return relay.ConnectUDP(ctx, channel, newOutbound)
}

// fixedTargetChannel adapts a single [raphnet.UDPSocket] bound on the
// listening side into a [relay.Channel] that always tags inbound datagrams
// with the same configured target, the Go shape of ListenUdpChannel. Every
// client shares this one fixed target, so [relay.ConnectUDP] dials a
// distinct outbound socket per client (see its own doc comment) rather than
// keying replies off the target address, which would collide across
// clients here by construction.
type fixedTargetChannel struct {
	sock   raphnet.UDPSocket
	target netip.AddrPort
}

func (c *fixedTargetChannel) RecvFrom(ctx context.Context) (relay.Datagram, error) {
	buf := make([]byte, 64*1024)
	n, from, err := c.sock.RecvFrom(buf)
	if err != nil {
		return relay.Datagram{}, err
	}
	return relay.Datagram{Data: buf[:n], Client: from, Target: c.target}, nil
}

func (c *fixedTargetChannel) SendTo(ctx context.Context, client netip.AddrPort, data []byte) error {
	_, err := c.sock.SendTo(data, client)
	return err
}
