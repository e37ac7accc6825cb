// SPDX-License-Identifier: GPL-3.0-or-later

package trojan

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net"

	"github.com/bassosimone/raphnet"
)

// Config is the Trojan client's configuration.
type Config struct {
	Address string `json:"address" yaml:"address"`
	Port    uint16 `json:"port" yaml:"port"`
}

// HeaderWriter writes the protocol-specific preamble a concrete Trojan-like
// protocol sends right after the TLS handshake (e.g. hex(SHA224(password))
// + CRLF + target address + CRLF). It is injected rather than hardcoded:
// per SPEC_FULL.md this package is a harness, the exact header/codec is a
// collaborator out of core scope.
type HeaderWriter func(conn TLSConn, target raphnet.Address) error

// Provider implements [raphnet.INet] for a Trojan-like client: dial the
// upstream over the inner net, perform a TLS handshake, then hand off to
// WriteHeader before exposing a plain [raphnet.TCPStream] to callers.
type Provider struct {
	Inner       raphnet.Net
	Upstream    raphnet.Address
	TLSConfig   *tls.Config
	WriteHeader HeaderWriter
	Defaults    *raphnet.Defaults
	Logger      raphnet.SLogger

	// Engine overrides the [TLSEngine] used for the handshake; nil selects
	// [TLSEngineStdlib]. Exposed for tests that substitute a fake handshake.
	Engine TLSEngine
}

var _ raphnet.INet = (*Provider)(nil)

// New returns a Trojan client [*Provider] dialing upstream through inner,
// securing the connection with tlsConfig, and delegating the protocol
// header to writeHeader.
func New(inner raphnet.Net, upstream raphnet.Address, tlsConfig *tls.Config,
	writeHeader HeaderWriter, defaults *raphnet.Defaults, logger raphnet.SLogger) *Provider {
	return &Provider{
		Inner:       inner,
		Upstream:    upstream,
		TLSConfig:   tlsConfig,
		WriteHeader: writeHeader,
		Defaults:    defaults,
		Logger:      logger,
	}
}

// NewFactory binds tlsConfig/writeHeader into a closure matching
// [registry.NetFactory]'s signature, the same pattern
// netprovider/shadowsocks.NewFactory uses for its injected Cipher: the
// registry's factory signature has no room for a per-install collaborator
// beyond the config blob.
func NewFactory(tlsConfig *tls.Config, writeHeader HeaderWriter) func(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
	return func(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
		if len(inner) != 1 {
			return nil, fmt.Errorf("trojan: expected exactly one inner net, got %d", len(inner))
		}
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("trojan: parsing config: %w", err)
		}
		upstream := raphnet.NewDomainAddress(cfg.Address, cfg.Port)
		return raphnet.WrapNet(New(inner[0], upstream, tlsConfig, writeHeader, raphnet.NewDefaults(), raphnet.DefaultSLogger())), nil
	}
}

// TCPConnect implements [raphnet.INet]. The addr argument is the final
// destination the Trojan header will carry; the TLS connection itself
// always goes to p.Upstream.
func (p *Provider) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	raw, err := p.Inner.TCPConnect(ctx, p.Upstream)
	if err != nil {
		return nil, err
	}

	handshake := NewHandshakeFunc(p.Defaults, p.TLSConfig, p.Logger)
	if p.Engine != nil {
		handshake.Engine = p.Engine
	}
	pipeline := raphnet.Compose2[net.Conn, TLSConn, TLSConn](handshake, headerWriteFunc{addr: addr, writeHeader: p.WriteHeader})

	tconn, err := pipeline.Call(ctx, streamConn{raw})
	if err != nil {
		raw.Close()
		return nil, raphnet.ClassifyError(err)
	}

	return tlsStream{tconn}, nil
}

// headerWriteFunc is the second stage of TCPConnect's handshake-then-header
// pipeline: a [raphnet.Func] that writes the Trojan preamble over an
// already-established [TLSConn] and returns it unchanged, honoring the
// same close-on-error contract [HandshakeFunc] does.
type headerWriteFunc struct {
	addr        raphnet.Address
	writeHeader HeaderWriter
}

var _ raphnet.Func[TLSConn, TLSConn] = headerWriteFunc{}

func (f headerWriteFunc) Call(ctx context.Context, tconn TLSConn) (TLSConn, error) {
	if f.writeHeader == nil {
		return tconn, nil
	}
	if err := f.writeHeader(tconn, f.addr); err != nil {
		tconn.Close()
		return nil, err
	}
	return tconn, nil
}

// TCPBind implements [raphnet.INet]. A Trojan client has no inbound side.
func (p *Provider) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	return nil, raphnet.NewNetError(raphnet.KindOther, "trojan: client net does not support TCPBind")
}

// UDPBind implements [raphnet.INet]. UDP-over-Trojan (the UDP ASSOCIATE
// analogue) is part of the injected codec, not this harness.
func (p *Provider) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	return nil, raphnet.NewNetError(raphnet.KindOther, "trojan: UDP association not implemented by this harness")
}
