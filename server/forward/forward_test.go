// SPDX-License-Identifier: GPL-3.0-or-later

package forward

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/raphnet/virtualhost"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func spawnTCPEcho(t *testing.T, host *virtualhost.Host, addr string) {
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

func spawnUDPEcho(t *testing.T, host *virtualhost.Host, addr string) {
	t.Helper()
	bindAddr, err := raphnet.ParseAddress(addr)
	require.NoError(t, err)
	sock, err := host.UDPBind(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	t.Cleanup(func() { sock.Close() })

	go func() {
		buf := make([]byte, 64*1024)
		for {
			n, from, err := sock.RecvFrom(buf)
			if err != nil {
				return
			}
			sock.SendTo(buf[:n], from)
		}
	}()
}

func TestForwardServerTCPEcho(t *testing.T) {
	host := virtualhost.New()
	net := raphnet.WrapNet(host)

	spawnTCPEcho(t, host, "127.0.0.1:4321")

	srv, err := New(net, net, Config{Bind: "127.0.0.1:1234", Target: "127.0.0.1:4321"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	time.Sleep(10 * time.Millisecond)

	client, err := host.TCPConnect(raphnet.NewContext(), srv.Bind)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("hello"))
	require.NoError(t, err)
	client.Shutdown(raphnet.ShutdownWrite)

	buf := make([]byte, 5)
	n, err := io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))
}

func TestForwardServerUDPEcho(t *testing.T) {
	host := virtualhost.New()
	net := raphnet.WrapNet(host)

	spawnUDPEcho(t, host, "127.0.0.1:4322")

	srv, err := New(net, net, Config{Bind: "127.0.0.1:1235", Target: "127.0.0.1:4322", UDP: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	time.Sleep(10 * time.Millisecond)

	clientAddr, err := raphnet.ParseAddress("0.0.0.0:0")
	require.NoError(t, err)
	client, err := host.UDPBind(raphnet.NewContext(), clientAddr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.SendTo([]byte("ping"), srv.Bind.AddrPort())
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, _, err := client.RecvFrom(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

// TestForwardServerUDPTwoClientsSameTargetDoNotCrossRoute drives two
// distinct UDP clients through one forward server sharing the same fixed
// target, asserting each gets back only its own echoed reply.
func TestForwardServerUDPTwoClientsSameTargetDoNotCrossRoute(t *testing.T) {
	host := virtualhost.New()
	net := raphnet.WrapNet(host)

	spawnUDPEcho(t, host, "127.0.0.1:4323")

	srv, err := New(net, net, Config{Bind: "127.0.0.1:1236", Target: "127.0.0.1:4323", UDP: true})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.Run(ctx)

	time.Sleep(10 * time.Millisecond)

	clientAddr, err := raphnet.ParseAddress("0.0.0.0:0")
	require.NoError(t, err)

	clientA, err := host.UDPBind(raphnet.NewContext(), clientAddr)
	require.NoError(t, err)
	defer clientA.Close()

	clientB, err := host.UDPBind(raphnet.NewContext(), clientAddr)
	require.NoError(t, err)
	defer clientB.Close()

	_, err = clientA.SendTo([]byte("from-a"), srv.Bind.AddrPort())
	require.NoError(t, err)
	_, err = clientB.SendTo([]byte("from-b"), srv.Bind.AddrPort())
	require.NoError(t, err)

	bufA := make([]byte, 64)
	nA, _, err := clientA.RecvFrom(bufA)
	require.NoError(t, err)
	assert.Equal(t, "from-a", string(bufA[:nA]))

	bufB := make([]byte, 64)
	nB, _, err := clientB.RecvFrom(bufB)
	require.NoError(t, err)
	assert.Equal(t, "from-b", string(bufB[:nB]))
}
