// SPDX-License-Identifier: GPL-3.0-or-later

package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/bassosimone/raphnet"
)

// Protocol constants from RFC 1928/1929. The wire codec stays in this
// package rather than an imported library since the spec keeps the SOCKS5
// byte format in scope, unlike the Shadowsocks/Trojan payload codecs.
const (
	version5 = 0x05

	methodNoAuth       = 0x00
	methodNoAcceptable = 0xff

	cmdConnect      = 0x01
	cmdBind         = 0x02
	cmdUDPAssociate = 0x03

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04

	repSucceeded           = 0x00
	repGeneralFailure      = 0x01
	repNotAllowed          = 0x02
	repNetworkUnreachable  = 0x03
	repHostUnreachable     = 0x04
	repConnectionRefused   = 0x05
	repCommandNotSupported = 0x07
	repAddrNotSupported    = 0x08
)

var errUnsupportedMethod = errors.New("socks5: client offers no acceptable auth method")

// replyCodeForError maps a net-level failure onto the closest SOCKS5 reply
// code, following [raphnet.NetError]'s Kind classification the same way the
// forward/registry packages key behavior off it.
func replyCodeForError(err error) byte {
	var netErr *raphnet.NetError
	if !errors.As(err, &netErr) {
		return repGeneralFailure
	}
	switch netErr.Kind {
	case raphnet.KindConnectionRefused:
		return repConnectionRefused
	case raphnet.KindAddrNotAvailable:
		return repHostUnreachable
	default:
		return repGeneralFailure
	}
}

// readGreeting reads the client's version/method-list greeting.
func readGreeting(r io.Reader) ([]byte, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != version5 {
		return nil, fmt.Errorf("socks5: unsupported version %d", hdr[0])
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(r, methods); err != nil {
		return nil, err
	}
	return methods, nil
}

// writeMethodSelection writes the server's chosen auth method (the caller
// passes methodNoAcceptable when none of the offered methods is supported).
func writeMethodSelection(w io.Writer, method byte) error {
	_, err := w.Write([]byte{version5, method})
	return err
}

// request is a parsed SOCKS5 request (CONNECT/BIND/UDP ASSOCIATE).
type request struct {
	Cmd  byte
	Addr raphnet.Address
}

func readRequest(r io.Reader) (*request, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	if hdr[0] != version5 {
		return nil, fmt.Errorf("socks5: unsupported version %d in request", hdr[0])
	}
	addr, err := readAddr(r, hdr[3])
	if err != nil {
		return nil, err
	}
	return &request{Cmd: hdr[1], Addr: addr}, nil
}

func readAddr(r io.Reader, atyp byte) (raphnet.Address, error) {
	switch atyp {
	case atypIPv4:
		var raw [4]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return raphnet.Address{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return raphnet.Address{}, err
		}
		return raphnet.NewIPAddress(netip.AddrPortFrom(netip.AddrFrom4(raw), port)), nil
	case atypIPv6:
		var raw [16]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return raphnet.Address{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return raphnet.Address{}, err
		}
		return raphnet.NewIPAddress(netip.AddrPortFrom(netip.AddrFrom16(raw), port)), nil
	case atypDomain:
		var l [1]byte
		if _, err := io.ReadFull(r, l[:]); err != nil {
			return raphnet.Address{}, err
		}
		name := make([]byte, l[0])
		if _, err := io.ReadFull(r, name); err != nil {
			return raphnet.Address{}, err
		}
		port, err := readPort(r)
		if err != nil {
			return raphnet.Address{}, err
		}
		return raphnet.NewDomainAddress(string(name), port), nil
	default:
		return raphnet.Address{}, fmt.Errorf("socks5: unsupported address type %d", atyp)
	}
}

func readPort(r io.Reader) (uint16, error) {
	var raw [2]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(raw[:]), nil
}

// writeReply writes a SOCKS5 reply carrying rep and the bound address bnd
// (the "BND.ADDR"/"BND.PORT" fields; an unset bnd is encoded as 0.0.0.0:0,
// matching other_examples/7fb2ecfa_osf4-socks5__server.go.go's NilAddr).
func writeReply(w io.Writer, rep byte, bnd netip.AddrPort) error {
	buf := []byte{version5, rep, 0x00, atypIPv4}
	ip := bnd.Addr()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}
	ip4 := ip.As4()
	buf = append(buf, ip4[:]...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], bnd.Port())
	buf = append(buf, portBuf[:]...)
	_, err := w.Write(buf)
	return err
}

// udpHeader is the per-datagram header SOCKS5 UDP ASSOCIATE prepends to
// every relayed packet (RFC 1928 section 7).
type udpHeader struct {
	Addr raphnet.Address
}

func readUDPHeader(buf []byte) (udpHeader, []byte, error) {
	if len(buf) < 4 {
		return udpHeader{}, nil, errors.New("socks5: udp datagram too short")
	}
	if buf[2] != 0 {
		return udpHeader{}, nil, errors.New("socks5: fragmented udp datagrams are not supported")
	}
	atyp := buf[3]
	rest := buf[4:]
	switch atyp {
	case atypIPv4:
		if len(rest) < 4+2 {
			return udpHeader{}, nil, errors.New("socks5: udp datagram truncated")
		}
		ip := netip.AddrFrom4([4]byte(rest[:4]))
		port := binary.BigEndian.Uint16(rest[4:6])
		return udpHeader{Addr: raphnet.NewIPAddress(netip.AddrPortFrom(ip, port))}, rest[6:], nil
	case atypIPv6:
		if len(rest) < 16+2 {
			return udpHeader{}, nil, errors.New("socks5: udp datagram truncated")
		}
		ip := netip.AddrFrom16([16]byte(rest[:16]))
		port := binary.BigEndian.Uint16(rest[16:18])
		return udpHeader{Addr: raphnet.NewIPAddress(netip.AddrPortFrom(ip, port))}, rest[18:], nil
	case atypDomain:
		if len(rest) < 1 {
			return udpHeader{}, nil, errors.New("socks5: udp datagram truncated")
		}
		l := int(rest[0])
		if len(rest) < 1+l+2 {
			return udpHeader{}, nil, errors.New("socks5: udp datagram truncated")
		}
		name := string(rest[1 : 1+l])
		port := binary.BigEndian.Uint16(rest[1+l : 1+l+2])
		return udpHeader{Addr: raphnet.NewDomainAddress(name, port)}, rest[1+l+2:], nil
	default:
		return udpHeader{}, nil, fmt.Errorf("socks5: unsupported udp address type %d", atyp)
	}
}

// writeUDPHeader prepends a SOCKS5 UDP header for addr to data, returning
// the full datagram payload ready to send to the client.
func writeUDPHeader(addr netip.AddrPort, data []byte) []byte {
	out := []byte{0x00, 0x00, 0x00, atypIPv4}
	ip := addr.Addr()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}
	ip4 := ip.As4()
	out = append(out, ip4[:]...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], addr.Port())
	out = append(out, portBuf[:]...)
	return append(out, data...)
}
