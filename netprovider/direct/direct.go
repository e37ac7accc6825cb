// SPDX-License-Identifier: GPL-3.0-or-later

// Package direct implements [raphnet.INet] by reaching the kernel network
// stack directly, the "egress to the real Internet" leaf of a net DAG.
//
// Adapted from the teacher's connect.go (ConnectFunc), generalized from
// "dial a netip.AddrPort over one fixed network" to the full [raphnet.INet]
// surface: TCP connect, TCP bind (accept loop), and UDP bind (datagram
// socket), each carrying the same connectStart/connectDone style structured
// logging the teacher uses around dials.
package direct

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/safeconn"
)

// Provider implements [raphnet.INet] by dialing, listening, and binding on
// the real network via a [raphnet.Dialer].
type Provider struct {
	// Dialer is the [raphnet.Dialer] used by TCPConnect.
	Dialer raphnet.Dialer

	// ErrClassifier classifies errors for structured logging.
	ErrClassifier raphnet.ErrClassifier

	// Logger is the [raphnet.SLogger] used for structured logging.
	Logger raphnet.SLogger

	// TimeNow returns the current time (overridable for tests).
	TimeNow func() time.Time
}

var _ raphnet.INet = (*Provider)(nil)

// New returns a [*Provider] built from shared defaults and a logger.
func New(defaults *raphnet.Defaults, logger raphnet.SLogger) *Provider {
	return &Provider{
		Dialer:        defaults.Dialer,
		ErrClassifier: defaults.ErrClassifier,
		Logger:        logger,
		TimeNow:       defaults.TimeNow,
	}
}

// Factory adapts [New] to [registry.NetFactory]'s signature, ignoring inner
// (direct is a leaf net, the same "no inner nets" position
// netprovider/virtualnet occupies) and any config blob (there is nothing to
// configure beyond the process-wide defaults New already takes).
func Factory(logger raphnet.SLogger) func(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
	return func(inner []raphnet.Net, raw json.RawMessage) (raphnet.Net, error) {
		if len(inner) != 0 {
			return nil, fmt.Errorf("direct: expected no inner nets, got %d", len(inner))
		}
		return raphnet.WrapNet(New(raphnet.NewDefaults(), logger)), nil
	}
}

// TCPConnect implements [raphnet.INet].
func (p *Provider) TCPConnect(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPStream, error) {
	t0 := p.TimeNow()
	deadline, _ := ctx.Deadline()
	target := addr.String()
	p.logStart("connectStart", "tcp", target, t0, deadline)
	conn, err := p.Dialer.DialContext(ctx, "tcp", target)
	p.logDone("connectDone", "tcp", target, t0, deadline, conn, err)
	if err != nil {
		return nil, raphnet.ClassifyError(err)
	}
	return wrapTCPConn(conn), nil
}

// TCPBind implements [raphnet.INet].
func (p *Provider) TCPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.TCPListener, error) {
	lc := &net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr.String())
	if err != nil {
		return nil, raphnet.ClassifyError(err)
	}
	return &tcpListener{ln: ln}, nil
}

// UDPBind implements [raphnet.INet].
func (p *Provider) UDPBind(ctx *raphnet.Context, addr raphnet.Address) (raphnet.UDPSocket, error) {
	lc := &net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, "udp", addr.String())
	if err != nil {
		return nil, raphnet.ClassifyError(err)
	}
	return &udpSocket{pc: pc.(*net.UDPConn)}, nil
}

func (p *Provider) logStart(event, network, address string, t0, deadline time.Time) {
	p.Logger.Info(
		event,
		slog.Time("deadline", deadline),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t", t0),
	)
}

func (p *Provider) logDone(event, network, address string, t0, deadline time.Time, conn net.Conn, err error) {
	p.Logger.Info(
		event,
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", p.ErrClassifier.Classify(err)),
		slog.String("localAddr", safeconn.LocalAddr(conn)),
		slog.String("protocol", network),
		slog.String("remoteAddr", address),
		slog.Time("t0", t0),
		slog.Time("t", p.TimeNow()),
	)
}

// addrPortOf converts a [net.Addr] to a [netip.AddrPort], returning the zero
// value for any address shape netip cannot represent.
func addrPortOf(a net.Addr) netip.AddrPort {
	switch v := a.(type) {
	case *net.TCPAddr:
		ip, ok := netip.AddrFromSlice(v.IP)
		if !ok {
			return netip.AddrPort{}
		}
		return netip.AddrPortFrom(ip.Unmap(), uint16(v.Port))
	case *net.UDPAddr:
		ip, ok := netip.AddrFromSlice(v.IP)
		if !ok {
			return netip.AddrPort{}
		}
		return netip.AddrPortFrom(ip.Unmap(), uint16(v.Port))
	default:
		ap, err := netip.ParseAddrPort(a.String())
		if err != nil {
			return netip.AddrPort{}
		}
		return ap
	}
}
