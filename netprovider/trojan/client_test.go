// SPDX-License-Identifier: GPL-3.0-or-later

package trojan

import (
	"context"
	"crypto/tls"
	"net"
	"net/netip"
	"testing"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/tlsstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

func TestTLSEngineStdlib(t *testing.T) {
	engine := TLSEngineStdlib{}
	assert.Equal(t, "stdlib", engine.Name())
	assert.Equal(t, "", engine.Parrot())

	tlsConn := engine.Client(&netstub.FuncConn{}, &tls.Config{})
	require.NotNil(t, tlsConn)
	_, ok := tlsConn.(*tls.Conn)
	assert.True(t, ok)
}

func TestHandshakeFuncSuccess(t *testing.T) {
	defaults := raphnet.NewDefaults()
	tlsConfig := &tls.Config{ServerName: "example.com"}

	mockTLSConn := &tlsstub.FuncTLSConn{
		FuncConn: newMinimalConn(),
		ConnectionStateFunc: func() tls.ConnectionState {
			return tls.ConnectionState{Version: tls.VersionTLS13}
		},
		HandshakeContextFunc: func(ctx context.Context) error {
			return nil
		},
	}

	fn := NewHandshakeFunc(defaults, tlsConfig, raphnet.DefaultSLogger())
	fn.Engine = &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn { return mockTLSConn },
		NameFunc:   func() string { return "mock" },
		ParrotFunc: func() string { return "" },
	}

	tconn, err := fn.Call(context.Background(), newMinimalConn())
	require.NoError(t, err)
	assert.Same(t, mockTLSConn, tconn)
}

func TestHandshakeFuncError(t *testing.T) {
	defaults := raphnet.NewDefaults()

	closed := false
	mockTLSConn := &tlsstub.FuncTLSConn{
		FuncConn: &netstub.FuncConn{
			CloseFunc:      func() error { closed = true; return nil },
			LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
			RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
		},
		HandshakeContextFunc: func(ctx context.Context) error {
			return net.ErrClosed
		},
	}

	fn := NewHandshakeFunc(defaults, &tls.Config{}, raphnet.DefaultSLogger())
	fn.Engine = &tlsstub.FuncTLSEngine[TLSConn]{
		ClientFunc: func(c net.Conn, config *tls.Config) TLSConn { return mockTLSConn },
		NameFunc:   func() string { return "mock" },
		ParrotFunc: func() string { return "" },
	}

	_, err := fn.Call(context.Background(), newMinimalConn())
	require.Error(t, err)
	assert.True(t, closed)
}

// rawStream is a minimal [raphnet.TCPStream] double wrapping a [net.Conn],
// standing in for what netprovider/direct would normally hand back.
type rawStream struct {
	net.Conn
}

func (rawStream) Shutdown(raphnet.ShutdownDirection) error { return nil }
func (rawStream) LocalAddr() netip.AddrPort                { return netip.AddrPort{} }
func (rawStream) PeerAddr() netip.AddrPort                 { return netip.AddrPort{} }

var _ raphnet.TCPStream = rawStream{}

type stubInnerNet struct {
	conn net.Conn
}

func (n *stubInnerNet) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	return rawStream{n.conn}, nil
}
func (n *stubInnerNet) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	return nil, nil
}
func (n *stubInnerNet) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	return nil, nil
}

func TestProviderTCPConnectWritesHeader(t *testing.T) {
	upstream, err := raphnet.ParseAddress("203.0.113.1:443")
	require.NoError(t, err)
	target, err := raphnet.ParseAddress("example.com:80")
	require.NoError(t, err)

	mockTLSConn := &tlsstub.FuncTLSConn{
		FuncConn: newMinimalConn(),
		ConnectionStateFunc: func() tls.ConnectionState {
			return tls.ConnectionState{}
		},
		HandshakeContextFunc: func(ctx context.Context) error { return nil },
	}

	var wroteTo raphnet.Address
	provider := &Provider{
		Inner:     raphnet.WrapNet(&stubInnerNet{conn: newMinimalConn()}),
		Upstream:  upstream,
		TLSConfig: &tls.Config{},
		WriteHeader: func(conn TLSConn, dst raphnet.Address) error {
			wroteTo = dst
			return nil
		},
		Defaults: raphnet.NewDefaults(),
		Logger:   raphnet.DefaultSLogger(),
		Engine: &tlsstub.FuncTLSEngine[TLSConn]{
			ClientFunc: func(c net.Conn, config *tls.Config) TLSConn { return mockTLSConn },
			NameFunc:   func() string { return "mock" },
			ParrotFunc: func() string { return "" },
		},
	}

	stream, err := provider.TCPConnect(raphnet.NewContext(), target)
	require.NoError(t, err)
	require.NotNil(t, stream)
	assert.Equal(t, "example.com:80", wroteTo.String())
}

func TestProviderTCPBindUnsupported(t *testing.T) {
	provider := &Provider{}
	_, err := provider.TCPBind(raphnet.NewContext(), raphnet.Address{})
	require.Error(t, err)
}
