// SPDX-License-Identifier: GPL-3.0-or-later

package shadowsocks

import (
	"io"
	"net/netip"
	"testing"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/virtualhost"
	"github.com/stretchr/testify/require"
)

// passthroughCipher performs no cryptography, standing in for a real AEAD
// cipher in tests: both sides agree on plaintext framing over the virtual
// fabric.
type passthroughCipher struct{}

func (passthroughCipher) WrapStream(raw raphnet.TCPStream) (raphnet.TCPStream, error) {
	return raw, nil
}

func (passthroughCipher) WrapPacket(raw raphnet.UDPSocket) (raphnet.UDPSocket, error) {
	return raw, nil
}

func spawnTargetEcho(t *testing.T, host *virtualhost.Host, addr string) {
	t.Helper()
	bindAddr, err := raphnet.ParseAddress(addr)
	require.NoError(t, err)
	listener, err := host.TCPBind(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		stream, _, err := listener.Accept(raphnet.NewContext())
		if err != nil {
			return
		}
		defer stream.Close()

		buf := make([]byte, 512)
		n, err := stream.Read(buf)
		if err != nil && n == 0 {
			return
		}
		if _, _, err := decodeTargetAddrBytes(buf[:n]); err != nil {
			return
		}
		n, err = stream.Read(buf)
		if err != nil && n == 0 {
			return
		}
		stream.Write(buf[:n])
	}()
}

func TestProviderTCPConnectWritesTargetHeaderThenSplices(t *testing.T) {
	host := virtualhost.New()
	net := raphnet.WrapNet(host)
	spawnTargetEcho(t, host, "127.0.0.1:6001")

	p := New(net, Config{Address: "127.0.0.1", Port: 6001, Password: "unused"}, passthroughCipher{})

	target, err := raphnet.ParseAddress("198.51.100.7:443")
	require.NoError(t, err)

	stream, err := p.TCPConnect(raphnet.NewContext(), target)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte("hi"))
	require.NoError(t, err)

	buf := make([]byte, 2)
	_, err = io.ReadFull(stream, buf)
	require.NoError(t, err)
	require.Equal(t, "hi", string(buf))
}

func TestEncodeDecodeTargetAddrBytesRoundTrip(t *testing.T) {
	addr := raphnet.NewDomainAddress("example.com", 8080)
	framed := encodeTargetAddrBytes(addr, []byte("payload"))

	decoded, rest, err := decodeTargetAddrBytes(framed)
	require.NoError(t, err)
	require.True(t, decoded.IsDomain())
	require.Equal(t, "example.com", decoded.Domain())
	require.Equal(t, uint16(8080), decoded.Port())
	require.Equal(t, "payload", string(rest))
}

func TestEncodeDecodeTargetAddrBytesIPv4(t *testing.T) {
	addr := raphnet.NewIPAddress(netip.MustParseAddrPort("10.0.0.5:53"))
	framed := encodeTargetAddrBytes(addr, []byte("x"))

	decoded, rest, err := decodeTargetAddrBytes(framed)
	require.NoError(t, err)
	require.False(t, decoded.IsDomain())
	require.Equal(t, "10.0.0.5:53", decoded.AddrPort().String())
	require.Equal(t, "x", string(rest))
}
