// SPDX-License-Identifier: GPL-3.0-or-later

// Package socks5client implements a SOCKS5 client net provider: every
// TCPConnect dials an upstream SOCKS5 proxy, performs the no-auth handshake,
// sends a CONNECT request for the real target, and hands back the spliced
// stream once the proxy replies success.
//
// Grounded on original_source/rd-std/src/socks5.rs's Socks5Client (a
// NetFactory wrapping one inner net plus an address/port config pair) and
// on server/socks5's wire codec, reimplemented client-side here rather than
// imported (the two packages encode/decode mirror-image halves of the same
// RFC 1928 messages, small enough that sharing code would cost more in
// cross-package coupling than it saves).
package socks5client

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net/netip"

	"github.com/bassosimone/raphnet"
)

const (
	version5 = 0x05

	methodNoAuth = 0x00

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded = 0x00
)

// Config is the SOCKS5 client's configuration (mirrors socks5.rs's
// Config{address, port}: the upstream proxy's own address).
type Config struct {
	Address string `json:"address" yaml:"address"`
	Port    uint16 `json:"port" yaml:"port"`
}

// Provider implements [raphnet.INet] for a SOCKS5 client: it has no inbound
// side (TCPBind/UDPBind are unsupported), matching Socks5Client's Net
// shape.
type Provider struct {
	Inner    raphnet.Net
	Upstream raphnet.Address
}

var _ raphnet.INet = (*Provider)(nil)

// New returns a SOCKS5 client [*Provider] dialing the proxy at
// cfg.Address:cfg.Port through inner.
func New(inner raphnet.Net, cfg Config) *Provider {
	return &Provider{
		Inner:    inner,
		Upstream: raphnet.NewDomainAddress(cfg.Address, cfg.Port),
	}
}

// Factory adapts [New] to [registry.NetFactory]'s signature.
func Factory(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
	if len(inner) != 1 {
		return nil, fmt.Errorf("socks5client: expected exactly one inner net, got %d", len(inner))
	}
	var cfg Config
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("socks5client: parsing config: %w", err)
	}
	return raphnet.WrapNet(New(inner[0], cfg)), nil
}

// TCPConnect implements [raphnet.INet]: dial the proxy, negotiate no-auth,
// request CONNECT to addr, and return the stream once the proxy replies
// success.
func (p *Provider) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	conn, err := p.Inner.TCPConnect(ctx, p.Upstream)
	if err != nil {
		return nil, err
	}

	if err := negotiate(conn); err != nil {
		conn.Close()
		return nil, raphnet.ClassifyError(err)
	}

	if err := writeConnectRequest(conn, addr); err != nil {
		conn.Close()
		return nil, raphnet.ClassifyError(err)
	}

	if err := readReply(conn); err != nil {
		conn.Close()
		return nil, raphnet.ClassifyError(err)
	}

	return conn, nil
}

// TCPBind implements [raphnet.INet]. A SOCKS5 client has no listening side
// in this harness (the protocol's BIND command is not wired through here,
// matching server/socks5's own choice not to implement BIND).
func (p *Provider) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	return nil, raphnet.NewNetError(raphnet.KindOther, "socks5client: client net does not support TCPBind")
}

// UDPBind implements [raphnet.INet]. UDP ASSOCIATE is not wired through
// this client harness.
func (p *Provider) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	return nil, raphnet.NewNetError(raphnet.KindOther, "socks5client: UDP association not implemented by this harness")
}

func negotiate(conn raphnet.TCPStream) error {
	if _, err := conn.Write([]byte{version5, 0x01, methodNoAuth}); err != nil {
		return err
	}
	var sel [2]byte
	if _, err := io.ReadFull(conn, sel[:]); err != nil {
		return err
	}
	if sel[0] != version5 || sel[1] != methodNoAuth {
		return fmt.Errorf("socks5client: proxy rejected no-auth (method %d)", sel[1])
	}
	return nil
}

func writeConnectRequest(conn raphnet.TCPStream, addr raphnet.Address) error {
	buf := []byte{version5, cmdConnect, 0x00}
	buf = append(buf, encodeAddr(addr)...)
	_, err := conn.Write(buf)
	return err
}

func encodeAddr(addr raphnet.Address) []byte {
	var portBuf [2]byte
	if addr.IsDomain() {
		binary.BigEndian.PutUint16(portBuf[:], addr.Port())
		out := []byte{atypDomain, byte(len(addr.Domain()))}
		out = append(out, []byte(addr.Domain())...)
		return append(out, portBuf[:]...)
	}
	ap := addr.AddrPort()
	binary.BigEndian.PutUint16(portBuf[:], ap.Port())
	if ap.Addr().Is4() || ap.Addr().Is4In6() {
		out := []byte{atypIPv4}
		ip4 := ap.Addr().As4()
		out = append(out, ip4[:]...)
		return append(out, portBuf[:]...)
	}
	out := []byte{atypIPv6}
	ip16 := ap.Addr().As16()
	out = append(out, ip16[:]...)
	return append(out, portBuf[:]...)
}

func readReply(conn raphnet.TCPStream) error {
	var hdr [4]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil {
		return err
	}
	if hdr[0] != version5 {
		return fmt.Errorf("socks5client: unsupported reply version %d", hdr[0])
	}
	if hdr[1] != repSucceeded {
		return fmt.Errorf("socks5client: proxy refused connect (reply code %d)", hdr[1])
	}
	if _, err := readAddr(conn, hdr[3]); err != nil {
		return err
	}
	return nil
}

// readAddr discards the BND.ADDR/BND.PORT fields of a reply (the client has
// no use for the proxy-local bound address once CONNECT succeeds), but must
// still consume them to leave the stream correctly positioned.
func readAddr(r io.Reader, atyp byte) (netip.AddrPort, error) {
	switch atyp {
	case atypIPv4:
		var raw [4 + 2]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return netip.AddrPort{}, err
		}
		return netip.AddrPortFrom(netip.AddrFrom4([4]byte(raw[:4])), binary.BigEndian.Uint16(raw[4:])), nil
	case atypIPv6:
		var raw [16 + 2]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return netip.AddrPort{}, err
		}
		return netip.AddrPortFrom(netip.AddrFrom16([16]byte(raw[:16])), binary.BigEndian.Uint16(raw[16:])), nil
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return netip.AddrPort{}, err
		}
		rest := make([]byte, int(l[0])+2)
		if _, err := io.ReadFull(r, rest); err != nil {
			return netip.AddrPort{}, err
		}
		return netip.AddrPort{}, nil
	default:
		return netip.AddrPort{}, fmt.Errorf("socks5client: unsupported reply address type %d", atyp)
	}
}
