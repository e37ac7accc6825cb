// SPDX-License-Identifier: GPL-3.0-or-later

package remote

import (
	"context"
	"io"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/virtualhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pipeStream adapts a [net.Conn] (as returned by net.Pipe) to
// [raphnet.TCPStream], standing in for a real tunnel transport in tests.
type pipeStream struct {
	net.Conn
}

func (pipeStream) Shutdown(raphnet.ShutdownDirection) error { return nil }
func (pipeStream) LocalAddr() netip.AddrPort                { return netip.AddrPort{} }
func (pipeStream) PeerAddr() netip.AddrPort                  { return netip.AddrPort{} }

var _ raphnet.TCPStream = pipeStream{}

// memTransport connects a [*Client] to a [*Server] entirely in memory: each
// OpenChannel call creates a fresh net.Pipe, handing one end to the caller
// and delivering the other end to whoever is waiting on NextChannel.
type memTransport struct {
	incoming chan *Channel
}

func newMemTransport() *memTransport {
	return &memTransport{incoming: make(chan *Channel, 16)}
}

func (m *memTransport) OpenChannel(ctx context.Context) (*Channel, error) {
	client, server := net.Pipe()
	m.incoming <- NewChannel(pipeStream{server})
	return NewChannel(pipeStream{client}), nil
}

func (m *memTransport) NextChannel(ctx context.Context) (*Channel, error) {
	select {
	case ch := <-m.incoming:
		return ch, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newServerAndClient(t *testing.T) (*Server, *Client, *virtualhost.Host) {
	t.Helper()
	transport := newMemTransport()
	host := virtualhost.New()
	srv := NewServer(transport, raphnet.WrapNet(host))
	go srv.Run(context.Background())
	return srv, NewClient(transport), host
}

func TestClientTCPConnectSplicesIntoRemoteNet(t *testing.T) {
	_, client, host := newServerAndClient(t)

	bindAddr, err := raphnet.ParseAddress("127.0.0.1:4001")
	require.NoError(t, err)
	listener, err := host.TCPBind(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		stream, _, err := listener.Accept(raphnet.NewContext())
		if err != nil {
			return
		}
		defer stream.Close()
		buf := make([]byte, 5)
		n, err := io.ReadFull(stream, buf)
		if err != nil {
			return
		}
		stream.Write(buf[:n])
	}()

	stream, err := client.TCPConnect(context.Background(), bindAddr)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte("hello"))
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := io.ReadFull(stream, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestClientTCPBindAcceptRoundTrip(t *testing.T) {
	_, client, host := newServerAndClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := raphnet.ParseAddress("0.0.0.0:0")
	require.NoError(t, err)
	boundAddr, notices, err := client.TCPBind(ctx, addr)
	require.NoError(t, err)
	assert.NotEmpty(t, boundAddr)

	// An external peer connects to the bound address, producing the accept.
	peerAddr, err := raphnet.ParseAddress(boundAddr)
	require.NoError(t, err)
	peer, err := host.TCPConnect(raphnet.NewContext(), peerAddr)
	require.NoError(t, err)
	defer peer.Close()

	var notice AcceptNotice
	select {
	case notice = <-notices:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept notice")
	}

	stream, err := client.TCPAccept(ctx, notice.ID)
	require.NoError(t, err)
	defer stream.Close()

	_, err = stream.Write([]byte("world"))
	require.NoError(t, err)
}

func TestClientTCPAcceptTwiceFailsSecondTime(t *testing.T) {
	_, client, host := newServerAndClient(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	addr, err := raphnet.ParseAddress("0.0.0.0:0")
	require.NoError(t, err)
	boundAddr, notices, err := client.TCPBind(ctx, addr)
	require.NoError(t, err)

	// An external peer connects to the bound address, producing the accept.
	peerAddr, err := raphnet.ParseAddress(boundAddr)
	require.NoError(t, err)
	peer, err := host.TCPConnect(raphnet.NewContext(), peerAddr)
	require.NoError(t, err)
	defer peer.Close()

	var notice AcceptNotice
	select {
	case notice = <-notices:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for accept notice")
	}

	first, err := client.TCPAccept(ctx, notice.ID)
	require.NoError(t, err)
	defer first.Close()

	second, err := client.TCPAccept(ctx, notice.ID)
	require.NoError(t, err)
	defer second.Close()

	buf := make([]byte, 1)
	_, err = second.Read(buf)
	assert.Error(t, err)
}
