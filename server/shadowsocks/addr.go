// SPDX-License-Identifier: GPL-3.0-or-later

package shadowsocks

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/netip"

	"github.com/bassosimone/raphnet"
)

// Target address type tags, matching socks5_protocol::Address's wire
// encoding (the same ATYP values as RFC 1928, minus the surrounding
// VER/CMD/RSV/reply framing SOCKS5 adds).
const (
	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// readTargetAddr reads one ATYP+ADDR+PORT target address from a decrypted
// TCP stream, the first thing a Shadowsocks client sends after the AEAD
// handshake (server.rs: `S5Addr::read(&mut socket)`).
func readTargetAddr(r io.Reader) (raphnet.Address, error) {
	var atyp [1]byte
	if _, err := io.ReadFull(r, atyp[:]); err != nil {
		return raphnet.Address{}, err
	}
	return readAddrBody(r, atyp[0])
}

func readAddrBody(r io.Reader, atyp byte) (raphnet.Address, error) {
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
		return raphnet.Address{}, fmt.Errorf("shadowsocks: unsupported address type %d", atyp)
	}
}

func readPort(r io.Reader) (uint16, error) {
	var raw [2]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(raw[:]), nil
}

// readTargetAddrBytes parses one ATYP+ADDR+PORT target address from the
// front of a decrypted UDP datagram, returning the remaining payload.
func readTargetAddrBytes(buf []byte) (raphnet.Address, []byte, error) {
	if len(buf) < 1 {
		return raphnet.Address{}, nil, errors.New("shadowsocks: udp datagram too short")
	}
	atyp := buf[0]
	rest := buf[1:]
	switch atyp {
	case atypIPv4:
		if len(rest) < 4+2 {
			return raphnet.Address{}, nil, errors.New("shadowsocks: udp datagram truncated")
		}
		ip := netip.AddrFrom4([4]byte(rest[:4]))
		port := binary.BigEndian.Uint16(rest[4:6])
		return raphnet.NewIPAddress(netip.AddrPortFrom(ip, port)), rest[6:], nil
	case atypIPv6:
		if len(rest) < 16+2 {
			return raphnet.Address{}, nil, errors.New("shadowsocks: udp datagram truncated")
		}
		ip := netip.AddrFrom16([16]byte(rest[:16]))
		port := binary.BigEndian.Uint16(rest[16:18])
		return raphnet.NewIPAddress(netip.AddrPortFrom(ip, port)), rest[18:], nil
	case atypDomain:
		if len(rest) < 1 {
			return raphnet.Address{}, nil, errors.New("shadowsocks: udp datagram truncated")
		}
		l := int(rest[0])
		if len(rest) < 1+l+2 {
			return raphnet.Address{}, nil, errors.New("shadowsocks: udp datagram truncated")
		}
		name := string(rest[1 : 1+l])
		port := binary.BigEndian.Uint16(rest[1+l : 1+l+2])
		return raphnet.NewDomainAddress(name, port), rest[1+l+2:], nil
	default:
		return raphnet.Address{}, nil, fmt.Errorf("shadowsocks: unsupported udp address type %d", atyp)
	}
}

// writeTargetAddrBytes prepends addr's ATYP+ADDR+PORT encoding to data.
func writeTargetAddrBytes(addr raphnet.Address, data []byte) []byte {
	ip := addr.AddrPort().Addr()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}
	if ip.Is4() || ip.Is4In6() {
		out := []byte{atypIPv4}
		ip4 := ip.As4()
		out = append(out, ip4[:]...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], addr.AddrPort().Port())
		out = append(out, portBuf[:]...)
		return append(out, data...)
	}
	out := []byte{atypIPv6}
	ip16 := ip.As16()
	out = append(out, ip16[:]...)
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], addr.AddrPort().Port())
	out = append(out, portBuf[:]...)
	return append(out, data...)
}
