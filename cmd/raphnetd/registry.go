// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"crypto/tls"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/netprovider/direct"
	"github.com/bassosimone/raphnet/netprovider/shadowsocks"
	"github.com/bassosimone/raphnet/netprovider/socks5client"
	"github.com/bassosimone/raphnet/netprovider/trojan"
	"github.com/bassosimone/raphnet/netprovider/virtualnet"
	"github.com/bassosimone/raphnet/registry"
	serversocks5 "github.com/bassosimone/raphnet/server/socks5"
	servertrojan "github.com/bassosimone/raphnet/server/trojan"
	"github.com/bassosimone/raphnet/server/forward"
	serverss "github.com/bassosimone/raphnet/server/shadowsocks"
)

// newRegistry builds the [*registry.Registry] every raphnetd process
// starts with: every net/server provider this module implements, under the
// type name a configuration document names it by. Shadowsocks and Trojan
// need a cipher/TLS collaborator the config blob alone cannot carry (see
// their packages' doc comments), so both sides are registered with a
// passthrough placeholder here and left as a documented extension point
// for a real deployment to replace with an actual AEAD cipher and
// certificate (DESIGN.md: neither the AEAD codec nor the TLS material
// ships as part of this core, per SPEC_FULL.md's Non-goals).
func newRegistry(logger raphnet.SLogger, tlsConfig *tls.Config) *registry.Registry {
	reg := registry.New()

	reg.RegisterNet("direct", direct.Factory(logger))
	reg.RegisterNet("virtualnet", virtualnet.Factory)
	reg.RegisterNet("socks5client", socks5client.Factory)
	reg.RegisterNet("shadowsocks-client", shadowsocks.NewFactory(noopCipher{}))
	reg.RegisterNet("trojan-client", trojan.NewFactory(tlsConfig, passthroughHeaderWriter))

	reg.RegisterServer("forward", forward.Factory)
	reg.RegisterServer("socks5", serversocks5.Factory)
	reg.RegisterServer("shadowsocks", serverss.NewFactory(noopCipher{}))
	reg.RegisterServer("trojan", servertrojan.NewFactory(tlsConfig, passthroughHeaderReader))

	return reg
}

// noopCipher satisfies both the server-side and client-side Shadowsocks
// Cipher interfaces without performing any cryptography, a placeholder
// until a real AEAD cipher is wired in by whoever deploys this core (the
// cipher is an injected collaborator by design, not reimplemented here).
type noopCipher struct{}

func (noopCipher) WrapStream(raw raphnet.TCPStream) (raphnet.TCPStream, error) { return raw, nil }
func (noopCipher) WrapPacket(raw raphnet.UDPSocket) (raphnet.UDPSocket, error) { return raw, nil }

// passthroughHeaderReader is a placeholder [servertrojan.HeaderReader]: it
// fails clearly rather than silently accepting connections, since the
// actual password-digest/address header codec is a collaborator this core
// never reimplements (see server/trojan's doc comment).
func passthroughHeaderReader(conn servertrojan.TLSConn) (raphnet.Address, error) {
	return raphnet.Address{}, raphnet.NewNetError(raphnet.KindOther, "trojan: no header codec configured")
}

// passthroughHeaderWriter mirrors passthroughHeaderReader on the client
// side: it fails clearly until a real header codec is injected.
func passthroughHeaderWriter(conn trojan.TLSConn, target raphnet.Address) error {
	return raphnet.NewNetError(raphnet.KindOther, "trojan: no header codec configured")
}
