// SPDX-License-Identifier: GPL-3.0-or-later

package shadowsocks

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/virtualhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughCipher performs no framing at all, standing in for a real AEAD
// cipher so the harness's accept/address/splice wiring can be exercised
// without depending on a concrete Shadowsocks crypto suite.
type passthroughCipher struct{}

func (passthroughCipher) WrapStream(raw raphnet.TCPStream) (raphnet.TCPStream, error) {
	return raw, nil
}

func (passthroughCipher) WrapPacket(raw raphnet.UDPSocket) (raphnet.UDPSocket, error) {
	return raw, nil
}

func spawnEcho(t *testing.T, host *virtualhost.Host, addr string) {
	t.Helper()
	bindAddr, err := raphnet.ParseAddress(addr)
	require.NoError(t, err)
	listener, err := host.TCPBind(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			stream, _, err := listener.Accept(raphnet.NewContext())
			if err != nil {
				return
			}
			go func() {
				defer stream.Close()
				io.Copy(stream, stream)
			}()
		}
	}()
}

func TestServerTCPConnectsAndSplicesAfterAddrHeader(t *testing.T) {
	host := virtualhost.New()
	net := raphnet.WrapNet(host)
	spawnEcho(t, host, "127.0.0.1:4321")

	srv, err := New(net, net, Config{Bind: "127.0.0.1:1234"}, passthroughCipher{})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	time.Sleep(10 * time.Millisecond)

	client, err := host.TCPConnect(raphnet.NewContext(), srv.Bind)
	require.NoError(t, err)
	defer client.Close()

	hdr := []byte{atypIPv4, 127, 0, 0, 1}
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], 4321)
	hdr = append(hdr, portBuf[:]...)
	_, err = client.Write(hdr)
	require.NoError(t, err)

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestReadTargetAddrDomainRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{atypDomain, 7})
	buf.WriteString("example")
	var portBuf [2]byte
	binary.BigEndian.PutUint16(portBuf[:], 443)
	buf.Write(portBuf[:])

	addr, err := readTargetAddr(&buf)
	require.NoError(t, err)
	assert.True(t, addr.IsDomain())
	assert.Equal(t, "example", addr.Domain())
	assert.Equal(t, uint16(443), addr.Port())
}

func TestTargetAddrBytesRoundTrip(t *testing.T) {
	target := netip.MustParseAddrPort("93.184.216.34:53")
	wire := writeTargetAddrBytes(raphnet.NewIPAddress(target), []byte("payload"))

	addr, payload, err := readTargetAddrBytes(wire)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(payload))
	assert.Equal(t, target, addr.AddrPort())
}
