// SPDX-License-Identifier: GPL-3.0-or-later

package direct

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/slogstub"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCapturingLogger returns a logger that records every emitted record,
// letting a test assert on which lifecycle events fired.
func newCapturingLogger() (*slog.Logger, *[]slog.Record) {
	var records []slog.Record
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool { return true },
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			records = append(records, record)
			return nil
		},
	}
	return slog.New(handler), &records
}

func newProvider(dialer raphnet.Dialer) *Provider {
	return &Provider{
		Dialer:        dialer,
		ErrClassifier: raphnet.DefaultErrClassifier,
		Logger:        raphnet.DefaultSLogger(),
		TimeNow:       time.Now,
	}
}

func TestProviderTCPConnect(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		dialer := &netstub.FuncDialer{
			DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
				conn := &netstub.FuncConn{
					CloseFunc:      func() error { return nil },
					LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} },
					RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 443} },
				}
				return conn, nil
			},
		}
		p := newProvider(dialer)
		addr, err := raphnet.ParseAddress("93.184.216.34:443")
		require.NoError(t, err)

		stream, err := p.TCPConnect(raphnet.NewContext(), addr)
		require.NoError(t, err)
		require.NotNil(t, stream)
		defer stream.Close()

		assert.Equal(t, uint16(443), stream.PeerAddr().Port())
	})

	t.Run("dial error classified", func(t *testing.T) {
		dialer := &netstub.FuncDialer{
			DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
				return nil, errors.New("connection refused")
			},
		}
		p := newProvider(dialer)
		addr, err := raphnet.ParseAddress("93.184.216.34:443")
		require.NoError(t, err)

		_, err = p.TCPConnect(raphnet.NewContext(), addr)
		require.Error(t, err)
		var ne *raphnet.NetError
		require.ErrorAs(t, err, &ne)
	})
}

func TestProviderTCPConnectLogsLifecycleEvents(t *testing.T) {
	logger, records := newCapturingLogger()
	dialer := &netstub.FuncDialer{
		DialContextFunc: func(ctx context.Context, network, address string) (net.Conn, error) {
			return &netstub.FuncConn{
				CloseFunc:      func() error { return nil },
				LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 1} },
				RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{IP: net.IPv4(93, 184, 216, 34), Port: 443} },
			}, nil
		},
	}
	p := &Provider{
		Dialer:        dialer,
		ErrClassifier: raphnet.DefaultErrClassifier,
		Logger:        logger,
		TimeNow:       time.Now,
	}
	addr, err := raphnet.ParseAddress("93.184.216.34:443")
	require.NoError(t, err)

	stream, err := p.TCPConnect(raphnet.NewContext(), addr)
	require.NoError(t, err)
	defer stream.Close()

	require.GreaterOrEqual(t, len(*records), 2)
	assert.Equal(t, "connectStart", (*records)[0].Message)
	assert.Equal(t, "connectDone", (*records)[1].Message)
}

func TestAddrPortOf(t *testing.T) {
	ap := addrPortOf(&net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 9000})
	assert.Equal(t, uint16(9000), ap.Port())
	assert.True(t, ap.Addr().Is4())
}
