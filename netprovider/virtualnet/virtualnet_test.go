// SPDX-License-Identifier: GPL-3.0-or-later

package virtualnet

import (
	"io"
	"testing"

	"github.com/bassosimone/raphnet"
	"github.com/stretchr/testify/require"
)

func TestNewReturnsIndependentHosts(t *testing.T) {
	a := New(Config{})
	b := New(Config{})

	bindAddr, err := raphnet.ParseAddress("127.0.0.1:9001")
	require.NoError(t, err)

	listener, err := a.TCPBind(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	defer listener.Close()

	_, err = b.TCPConnect(raphnet.NewContext(), bindAddr)
	require.Error(t, err)
}

func TestFactoryEchoRoundTrip(t *testing.T) {
	n, err := Factory(nil, nil)
	require.NoError(t, err)

	bindAddr, err := raphnet.ParseAddress("127.0.0.1:9002")
	require.NoError(t, err)

	listener, err := n.TCPBind(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	defer listener.Close()

	go func() {
		stream, _, err := listener.Accept(raphnet.NewContext())
		if err != nil {
			return
		}
		defer stream.Close()
		io.Copy(stream, stream)
	}()

	client, err := n.TCPConnect(raphnet.NewContext(), bindAddr)
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)

	buf := make([]byte, 4)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}
