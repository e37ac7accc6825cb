// SPDX-License-Identifier: GPL-3.0-or-later

// Package trojan implements a Trojan-like inbound server harness: accept, a
// TLS handshake, hand the plaintext connection to an injected
// [HeaderReader] to recover the header and target address, then connect out
// and splice. The TLS termination and the header codec itself are both
// collaborators: a real Trojan deployment's TLS certificate and the
// password/digest header format are out of this harness's scope.
//
// Grounded on netprovider/trojan's client-side tls.go/conn.go (same
// TLSEngine abstraction, mirrored server-side) and on
// other_examples/7fb2ecfa_osf4-socks5__server.go.go for the accept-loop
// shape shared with every other concrete server in this module.
package trojan

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/registry"
	"github.com/bassosimone/raphnet/relay"
	"github.com/bassosimone/raphnet/server"
)

// ServerTLSEngine performs the server side of a TLS handshake, mirroring
// netprovider/trojan.TLSEngine's client side so server and client share the
// same substitutable-engine idiom for tests.
type ServerTLSEngine interface {
	Server(conn net.Conn, config *tls.Config) TLSConn
}

// TLSConn is netprovider/trojan.TLSConn's shape, repeated here rather than
// imported: the client package is a leaf net provider and importing it back
// into a server harness would invert the module's dependency direction.
type TLSConn interface {
	ConnectionState() tls.ConnectionState
	HandshakeContext(ctx context.Context) error
	net.Conn
}

// ServerTLSEngineStdlib implements [ServerTLSEngine] using [crypto/tls].
type ServerTLSEngineStdlib struct{}

var _ ServerTLSEngine = ServerTLSEngineStdlib{}

func (ServerTLSEngineStdlib) Server(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Server(conn, config)
}

// HeaderReader recovers the protocol-specific preamble a concrete
// Trojan-like protocol expects right after the TLS handshake (e.g. verify
// hex(SHA224(password)), consume the CRLF-delimited target address) and
// returns the target to dial. It is injected: this harness owns only the
// accept/handshake/splice wiring.
type HeaderReader func(conn TLSConn) (target raphnet.Address, err error)

// Config is the Trojan server's configuration.
type Config struct {
	Bind string `json:"bind" yaml:"bind"`
}

// Server accepts TLS connections on Bind, reads the Trojan header via
// ReadHeader, and splices the rest to the target that ReadHeader returned,
// dialed over Net.
type Server struct {
	ListenNet  raphnet.Net
	Net        raphnet.Net
	Bind       raphnet.Address
	TLSConfig  *tls.Config
	ReadHeader HeaderReader
	Engine     ServerTLSEngine
	Logger     raphnet.SLogger
}

// New parses cfg and returns a [*Server] terminating TLS with tlsConfig and
// recovering targets via readHeader.
func New(listenNet, net raphnet.Net, cfg Config, tlsConfig *tls.Config, readHeader HeaderReader) (*Server, error) {
	bind, err := raphnet.ParseAddress(cfg.Bind)
	if err != nil {
		return nil, fmt.Errorf("trojan: invalid bind address: %w", err)
	}
	return &Server{
		ListenNet:  listenNet,
		Net:        net,
		Bind:       bind,
		TLSConfig:  tlsConfig,
		ReadHeader: readHeader,
		Engine:     ServerTLSEngineStdlib{},
		Logger:     raphnet.DefaultSLogger(),
	}, nil
}

// NewFactory binds tlsConfig/readHeader into a [registry.ServerFactory].
func NewFactory(tlsConfig *tls.Config, readHeader HeaderReader) registry.ServerFactory {
	return func(listenNet, net raphnet.Net, raw json.RawMessage) (registry.Server, error) {
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("trojan: parsing config: %w", err)
		}
		return New(listenNet, net, cfg, tlsConfig, readHeader)
	}
}

// Run accepts clients until ctx is canceled or the listener fails.
func (s *Server) Run(ctx context.Context) error {
	rctx := raphnet.NewContextFrom(ctx)
	listener, err := s.ListenNet.TCPBind(rctx, s.Bind)
	if err != nil {
		return err
	}
	defer listener.Close()

	return server.ServeTCP(rctx, listener, s.Logger, func(connCtx *raphnet.Context, raw raphnet.TCPStream) error {
		return s.handle(ctx, connCtx, raw)
	})
}

func (s *Server) handle(ctx context.Context, connCtx *raphnet.Context, raw raphnet.TCPStream) error {
	defer raw.Close()

	tconn := s.Engine.Server(streamConn{raw}, s.TLSConfig)
	if err := tconn.HandshakeContext(connCtx); err != nil {
		return err
	}
	defer tconn.Close()

	target, err := s.ReadHeader(tconn)
	if err != nil {
		return err
	}

	out, err := s.Net.TCPConnect(connCtx, target)
	if err != nil {
		return err
	}
	defer out.Close()

	return relay.ConnectTCP(ctx, tlsStream{tconn}, out)
}

// streamConn adapts a [raphnet.TCPStream] to [net.Conn], the server-side
// counterpart of netprovider/trojan's streamConn.
type streamConn struct {
	raphnet.TCPStream
}

var _ net.Conn = streamConn{}

func (c streamConn) LocalAddr() net.Addr  { return net.TCPAddrFromAddrPort(c.TCPStream.LocalAddr()) }
func (c streamConn) RemoteAddr() net.Addr { return net.TCPAddrFromAddrPort(c.TCPStream.PeerAddr()) }

func (streamConn) SetDeadline(t time.Time) error      { return nil }
func (streamConn) SetReadDeadline(t time.Time) error  { return nil }
func (streamConn) SetWriteDeadline(t time.Time) error { return nil }

// tlsStream adapts a [TLSConn] back to [raphnet.TCPStream] once the
// handshake is done, the server-side counterpart of netprovider/trojan's
// tlsStream.
type tlsStream struct {
	TLSConn
}

var _ raphnet.TCPStream = tlsStream{}

func (c tlsStream) Shutdown(raphnet.ShutdownDirection) error {
	return c.TLSConn.Close()
}

func (c tlsStream) LocalAddr() netip.AddrPort {
	return addrPortOf(c.TLSConn.LocalAddr())
}

func (c tlsStream) PeerAddr() netip.AddrPort {
	return addrPortOf(c.TLSConn.RemoteAddr())
}

func addrPortOf(a net.Addr) netip.AddrPort {
	ap, err := netip.ParseAddrPort(a.String())
	if err != nil {
		return netip.AddrPort{}
	}
	return ap
}
