// SPDX-License-Identifier: GPL-3.0-or-later

// Package shadowsocks implements a Shadowsocks client net provider: every
// TCPConnect dials the configured Shadowsocks server, wraps the raw stream
// in AEAD framing via an injected [Cipher], writes the ATYP+ADDR+PORT
// target header, and hands back the stream. UDP works the same way, one
// datagram at a time, through an injected packet wrapper.
//
// No Shadowsocks client source file was retrieved in the example pack
// (only original_source/protocol/ss/src/server.rs, the inbound side); this
// package is the dial-side mirror image of server/shadowsocks, inferred
// from server.rs's serve_connection (which expects exactly this framing
// from a client) rather than translated from a client source file
// directly.
package shadowsocks

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net/netip"

	"github.com/bassosimone/raphnet"
)

// Cipher wraps a raw stream or packet socket with Shadowsocks AEAD framing.
// Mirrors server/shadowsocks.Cipher: the actual cryptography is a
// collaborator injected at construction, out of this harness's scope.
type Cipher interface {
	WrapStream(raw raphnet.TCPStream) (raphnet.TCPStream, error)
	WrapPacket(raw raphnet.UDPSocket) (raphnet.UDPSocket, error)
}

// Config is the Shadowsocks client's configuration.
type Config struct {
	Address  string `json:"address" yaml:"address"`
	Port     uint16 `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
}

// Provider implements [raphnet.INet] for a Shadowsocks client. It has no
// inbound side: TCPBind/UDPBind are unsupported, matching
// netprovider/socks5client's client-only shape.
type Provider struct {
	Inner  raphnet.Net
	Server raphnet.Address
	Cipher Cipher
}

var _ raphnet.INet = (*Provider)(nil)

// New returns a Shadowsocks client [*Provider] dialing cfg.Address:cfg.Port
// through inner, framing traffic with cipher.
func New(inner raphnet.Net, cfg Config, cipher Cipher) *Provider {
	return &Provider{
		Inner:  inner,
		Server: raphnet.NewDomainAddress(cfg.Address, cfg.Port),
		Cipher: cipher,
	}
}

// NewFactory binds cipher into a [registry.NetFactory]-shaped closure,
// since the registry's factory signature has no room for a per-install
// collaborator beyond the config blob (same pattern as
// server/shadowsocks.NewFactory).
func NewFactory(cipher Cipher) func(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
	return func(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
		if len(inner) != 1 {
			return nil, fmt.Errorf("shadowsocks: expected exactly one inner net, got %d", len(inner))
		}
		var cfg Config
		if err := json.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("shadowsocks: parsing config: %w", err)
		}
		return raphnet.WrapNet(New(inner[0], cfg, cipher)), nil
	}
}

// TCPConnect implements [raphnet.INet]: dial the server, wrap the stream in
// AEAD framing, write the target header, return the stream.
func (p *Provider) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	raw, err := p.Inner.TCPConnect(ctx, p.Server)
	if err != nil {
		return nil, err
	}

	stream, err := p.Cipher.WrapStream(raw)
	if err != nil {
		raw.Close()
		return nil, raphnet.ClassifyError(err)
	}

	if _, err := stream.Write(encodeTargetAddr(addr)); err != nil {
		stream.Close()
		return nil, raphnet.ClassifyError(err)
	}

	return stream, nil
}

// TCPBind implements [raphnet.INet]. A Shadowsocks client has no listening
// side in this harness.
func (p *Provider) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	return nil, raphnet.NewNetError(raphnet.KindOther, "shadowsocks: client net does not support TCPBind")
}

// UDPBind implements [raphnet.INet] by opening a client-side UDP socket
// wrapped in the same AEAD framing as the TCP path. Every SendTo/RecvFrom
// through the returned socket carries its own ATYP+ADDR+PORT target
// header, matching server/shadowsocks's per-datagram framing.
func (p *Provider) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	raw, err := p.Inner.UDPBind(ctx, addr)
	if err != nil {
		return nil, err
	}
	wrapped, err := p.Cipher.WrapPacket(raw)
	if err != nil {
		raw.Close()
		return nil, raphnet.ClassifyError(err)
	}
	return &packetSocket{sock: wrapped, server: p.Server}, nil
}

// packetSocket addresses every outbound datagram at the Shadowsocks server
// and prefixes it with the real target's ATYP+ADDR+PORT header; inbound
// datagrams are parsed the same way in reverse.
type packetSocket struct {
	sock   raphnet.UDPSocket
	server raphnet.Address
}

var _ raphnet.UDPSocket = (*packetSocket)(nil)

func (s *packetSocket) RecvFrom(buf []byte) (int, netip.AddrPort, error) {
	tmp := make([]byte, len(buf)+256)
	n, from, err := s.sock.RecvFrom(tmp)
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	_, payload, err := decodeTargetAddrBytes(tmp[:n])
	if err != nil {
		return 0, netip.AddrPort{}, err
	}
	copied := copy(buf, payload)
	return copied, from, nil
}

func (s *packetSocket) SendTo(buf []byte, target netip.AddrPort) (int, error) {
	framed := encodeTargetAddrBytes(raphnet.NewIPAddress(target), buf)
	targets, err := s.server.Resolve(context.Background())
	if err != nil {
		return 0, raphnet.ClassifyError(err)
	}
	if len(targets) == 0 {
		return 0, raphnet.NewNetError(raphnet.KindOther, "shadowsocks: server address did not resolve")
	}
	n, err := s.sock.SendTo(framed, targets[0])
	if err != nil {
		return 0, err
	}
	if n < len(framed) {
		return 0, nil
	}
	return len(buf), nil
}

func (s *packetSocket) LocalAddr() netip.AddrPort { return s.sock.LocalAddr() }
func (s *packetSocket) Close() error               { return s.sock.Close() }

func encodeTargetAddr(addr raphnet.Address) []byte {
	return encodeTargetAddrBytes(addr, nil)
}

func encodeTargetAddrBytes(addr raphnet.Address, data []byte) []byte {
	if addr.IsDomain() {
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], addr.Port())
		out := []byte{atypDomain, byte(len(addr.Domain()))}
		out = append(out, []byte(addr.Domain())...)
		out = append(out, portBuf[:]...)
		return append(out, data...)
	}
	ip := addr.AddrPort().Addr()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], addr.AddrPort().Port())
	if ip.Is4() || ip.Is4In6() {
		out := []byte{atypIPv4}
		ip4 := ip.As4()
		out = append(out, ip4[:]...)
		out = append(out, portBuf[:]...)
		return append(out, data...)
	}
	out := []byte{atypIPv6}
	ip16 := ip.As16()
	out = append(out, ip16[:]...)
	out = append(out, portBuf[:]...)
	return append(out, data...)
}

func decodeTargetAddrBytes(buf []byte) (raphnet.Address, []byte, error) {
	if len(buf) < 1 {
		return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: udp datagram too short")
	}
	atyp := buf[0]
	rest := buf[1:]
	switch atyp {
	case atypIPv4:
		if len(rest) < 4+2 {
			return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: udp datagram truncated")
		}
		ip := netip.AddrFrom4([4]byte(rest[:4]))
		port := binary.BigEndian.Uint16(rest[4:6])
		return raphnet.NewIPAddress(netip.AddrPortFrom(ip, port)), rest[6:], nil
	case atypIPv6:
		if len(rest) < 16+2 {
			return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: udp datagram truncated")
		}
		ip := netip.AddrFrom16([16]byte(rest[:16]))
		port := binary.BigEndian.Uint16(rest[16:18])
		return raphnet.NewIPAddress(netip.AddrPortFrom(ip, port)), rest[18:], nil
	case atypDomain:
		if len(rest) < 1 {
			return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: udp datagram truncated")
		}
		l := int(rest[0])
		if len(rest) < 1+l+2 {
			return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: udp datagram truncated")
		}
		name := string(rest[1 : 1+l])
		port := binary.BigEndian.Uint16(rest[1+l : 1+l+2])
		return raphnet.NewDomainAddress(name, port), rest[1+l+2:], nil
	default:
		return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: unsupported udp address type %d", atyp)
	}
}

const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)
