// SPDX-License-Identifier: GPL-3.0-or-later

// Package socks5 implements a SOCKS5 inbound server: CONNECT and UDP
// ASSOCIATE, following RFC 1928 with no authentication (method 0x00 only).
//
// Grounded on original_source/rd-std/src/socks5.rs for the
// NetFactory/ServerFactory config shape and on
// other_examples/7fb2ecfa_osf4-socks5__server.go.go for the accept/handshake/
// splice control flow. The wire codec lives in protocol.go, reimplemented
// directly rather than imported: the spec keeps the SOCKS5 byte format in
// scope.
package socks5

import (
	"context"
	"encoding/json"
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/registry"
	"github.com/bassosimone/raphnet/relay"
	"github.com/bassosimone/raphnet/server"
)

// Config is the SOCKS5 server's configuration (mirrors socks5.rs's
// ServerConfig: just a bind address, no auth or UDP toggle in the original).
type Config struct {
	Bind string `json:"bind" yaml:"bind"`
}

// Server accepts SOCKS5 clients on Bind and relays their requests through
// Net. BIND requests are not supported (spec keeps only CONNECT and UDP
// ASSOCIATE in scope, matching the original's own limited command set).
type Server struct {
	ListenNet raphnet.Net
	Net       raphnet.Net
	Bind      raphnet.Address
	Logger    raphnet.SLogger
}

// New parses cfg and returns a [*Server] bound to listenNet and dialing out
// through net.
func New(listenNet, net raphnet.Net, cfg Config) (*Server, error) {
	bind, err := raphnet.ParseAddress(cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("socks5: invalid bind address: %w", err)
	}
	return &Server{
		ListenNet: listenNet,
		Net:       net,
		Bind:      bind,
		Logger:    raphnet.DefaultSLogger(),
	}, nil
}

// Factory adapts [New] to [registry.ServerFactory]'s signature.
func Factory(listenNet, net raphnet.Net, raw json.RawMessage) (registry.Server, error) {
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("socks5: parsing config: %w", err)
	}
	return New(listenNet, net, cfg)
}

// Run accepts SOCKS5 clients until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	rctx := raphnet.NewContextFrom(ctx)
	listener, err := s.ListenNet.TCPBind(rctx, s.Bind)
	if err != nil {
		return err
	}
	defer listener.Close()

	return server.ServeTCP(rctx, listener, s.Logger, s.handle)
}

// handle authenticates the client and dispatches its single request.
func (s *Server) handle(ctx *raphnet.Context, client raphnet.TCPStream) error {
	defer client.Close()

	if err := s.negotiateAuth(client); err != nil {
		return err
	}

	req, err := readRequest(client)
	if err != nil {
		return err
	}

	switch req.Cmd {
	case cmdConnect:
		return s.handleConnect(ctx, client, req)
	case cmdUDPAssociate:
		return s.handleUDPAssociate(ctx, client, req)
	default:
		writeReply(client, repCommandNotSupported, netip.AddrPort{})
		return fmt.Errorf("socks5: unsupported command %d", req.Cmd)
	}
}

func (s *Server) negotiateAuth(client raphnet.TCPStream) error {
	methods, err := readGreeting(client)
	if err != nil {
		return err
	}
	for _, m := range methods {
		if m == methodNoAuth {
			return writeMethodSelection(client, methodNoAuth)
		}
	}
	writeMethodSelection(client, methodNoAcceptable)
	return errUnsupportedMethod
}

func (s *Server) handleConnect(ctx *raphnet.Context, client raphnet.TCPStream, req *request) error {
	target, err := s.Net.TCPConnect(ctx, req.Addr)
	if err != nil {
		writeReply(client, replyCodeForError(err), netip.AddrPort{})
		return err
	}
	defer target.Close()

	if err := writeReply(client, repSucceeded, target.LocalAddr()); err != nil {
		return err
	}

	return relay.ConnectTCP(ctx, client, target)
}

func (s *Server) handleUDPAssociate(ctx *raphnet.Context, client raphnet.TCPStream, req *request) error {
	listenAddr := raphnet.NewIPAddress(netip.AddrPortFrom(netip.IPv4Unspecified(), 0))
	udpListen, err := s.ListenNet.UDPBind(ctx, listenAddr)
	if err != nil {
		writeReply(client, repGeneralFailure, netip.AddrPort{})
		return err
	}
	defer udpListen.Close()

	// Bind one outbound socket eagerly so a failure here can still be
	// reported to the client as repGeneralFailure; it becomes this
	// association's first client's dedicated outbound socket (see
	// newOutbound below), since in practice one ASSOCIATE session serves
	// the one client that requested it.
	firstOutbound, err := s.Net.UDPBind(ctx, listenAddr)
	if err != nil {
		writeReply(client, repGeneralFailure, netip.AddrPort{})
		return err
	}
	var claimedFirst atomic.Bool
	newOutbound := func() (raphnet.UDPSocket, error) {
		if claimedFirst.CompareAndSwap(false, true) {
			return firstOutbound, nil
		}
		return s.Net.UDPBind(ctx, listenAddr)
	}

	if err := writeReply(client, repSucceeded, udpListen.LocalAddr()); err != nil {
		firstOutbound.Close()
		return err
	}

	channel := &udpChannel{sock: udpListen}

	bridgeCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := make(chan error, 1)
	go func() { result <- relay.ConnectUDP(bridgeCtx, channel, newOutbound) }()

	// The SOCKS5 UDP ASSOCIATE session lasts as long as the TCP control
	// connection stays open (RFC 1928 section 7); a read on it that
	// returns an error means the client went away.
	buf := make([]byte, 1)
	_, readErr := client.Read(buf)

	cancel()
	<-result
	if !claimedFirst.Load() {
		firstOutbound.Close()
	}
	return readErr
}

// udpChannel adapts a single bound [raphnet.UDPSocket] (the one the client
// sends its ASSOCIATE-session datagrams to and receives replies from) into a
// [relay.Channel], unwrapping/rewrapping the SOCKS5 UDP header on each leg.
// Every reply's BND.ADDR is the target the client most recently sent to,
// since the SOCKS5 UDP relay header carries no room for the actual source
// address of a given reply and RFC 1928 leaves this to the implementation.
type udpChannel struct {
	sock raphnet.UDPSocket

	mu         sync.Mutex
	lastTarget map[netip.AddrPort]netip.AddrPort
}

func (c *udpChannel) RecvFrom(ctx context.Context) (relay.Datagram, error) {
	buf := make([]byte, 64*1024)
	n, from, err := c.sock.RecvFrom(buf)
	if err != nil {
		return relay.Datagram{}, err
	}
	hdr, payload, err := readUDPHeader(buf[:n])
	if err != nil {
		return relay.Datagram{}, err
	}
	target, err := hdr.Addr.Resolve(ctx)
	if err != nil {
		return relay.Datagram{}, err
	}
	if len(target) == 0 {
		return relay.Datagram{}, fmt.Errorf("socks5: udp target %q did not resolve", hdr.Addr.String())
	}
	data := make([]byte, len(payload))
	copy(data, payload)

	c.mu.Lock()
	if c.lastTarget == nil {
		c.lastTarget = make(map[netip.AddrPort]netip.AddrPort)
	}
	c.lastTarget[from] = target[0]
	c.mu.Unlock()

	return relay.Datagram{Data: data, Client: from, Target: target[0]}, nil
}

func (c *udpChannel) SendTo(ctx context.Context, client netip.AddrPort, data []byte) error {
	c.mu.Lock()
	source := c.lastTarget[client]
	c.mu.Unlock()

	_, err := c.sock.SendTo(writeUDPHeader(source, data), client)
	return err
}
