// SPDX-License-Identifier: GPL-3.0-or-later

// Package trojan implements a Trojan client [raphnet.INet]: a TLS handshake
// followed by a protocol header written over the TLS connection by an
// injected [HeaderWriter], then a plain byte stream.
//
// Adapted from the teacher's tls.go (TLSHandshakeFunc/TLSEngine/TLSConn),
// generalized from "wrap a net.Conn in TLS" to "wrap a [raphnet.TCPStream]
// in TLS then speak the Trojan header over it". This package does not
// encode the header itself and computes no password digest; the
// [HeaderWriter] collaborator does.
package trojan

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"log/slog"
	"net"
	"time"

	"github.com/bassosimone/raphnet"
	"github.com/bassosimone/runtimex"
)

// TLSEngine is the engine used to create a new [TLSConn].
type TLSEngine interface {
	Client(conn net.Conn, config *tls.Config) TLSConn
	Name() string
	Parrot() string
}

// TLSEngineStdlib implements [TLSEngine] using [crypto/tls].
type TLSEngineStdlib struct{}

var _ TLSEngine = TLSEngineStdlib{}

func (TLSEngineStdlib) Client(conn net.Conn, config *tls.Config) TLSConn {
	return tls.Client(conn, config)
}
func (TLSEngineStdlib) Name() string   { return "stdlib" }
func (TLSEngineStdlib) Parrot() string { return "" }

// TLSConn abstracts over [*tls.Conn] so alternative TLS stacks can be
// substituted (e.g. a fingerprint-parroting engine), unchanged from the
// teacher's abstraction.
type TLSConn interface {
	ConnectionState() tls.ConnectionState
	HandshakeContext(ctx context.Context) error
	net.Conn
}

// HandshakeFunc performs a TLS handshake over a [net.Conn]-adapted
// [raphnet.TCPStream], logging start/done events exactly as the teacher's
// TLSHandshakeFunc does. Its Call signature already satisfies
// [raphnet.Func], so it composes with the rest of this module's Func-based
// pipelines without an adapter.
type HandshakeFunc struct {
	Config        *tls.Config
	Engine        TLSEngine
	ErrClassifier raphnet.ErrClassifier
	Logger        raphnet.SLogger
	TimeNow       func() time.Time
}

var _ raphnet.Func[net.Conn, TLSConn] = (*HandshakeFunc)(nil)

// NewHandshakeFunc returns a [*HandshakeFunc] configured from shared
// defaults plus the caller's TLS config.
func NewHandshakeFunc(defaults *raphnet.Defaults, tlsConfig *tls.Config, logger raphnet.SLogger) *HandshakeFunc {
	runtimex.Assert(tlsConfig != nil)
	return &HandshakeFunc{
		Config:        tlsConfig,
		Engine:        TLSEngineStdlib{},
		ErrClassifier: defaults.ErrClassifier,
		Logger:        logger,
		TimeNow:       defaults.TimeNow,
	}
}

// Call performs the handshake, returning a [TLSConn] or an error, never both.
func (op *HandshakeFunc) Call(ctx context.Context, conn net.Conn) (TLSConn, error) {
	config := op.tlsConfig()
	tconn := op.Engine.Client(conn, config)
	t0 := op.TimeNow()
	deadline, _ := ctx.Deadline()
	op.logHandshakeStart(conn, t0, deadline, config)
	err := tconn.HandshakeContext(ctx)
	state := tconn.ConnectionState()
	op.logHandshakeDone(conn, t0, deadline, config, err, state)
	if err != nil {
		tconn.Close()
		return nil, err
	}
	return tconn, nil
}

func (op *HandshakeFunc) tlsConfig() *tls.Config {
	runtimex.Assert(op.Config != nil)
	config := op.Config.Clone()
	config.Time = op.TimeNow
	return config
}

func (op *HandshakeFunc) logHandshakeStart(conn net.Conn, t0, deadline time.Time, config *tls.Config) {
	op.Logger.Info(
		"tlsHandshakeStart",
		slog.Time("deadline", deadline),
		slog.String("remoteAddr", conn.RemoteAddr().String()),
		slog.Time("t", t0),
		slog.String("tlsEngineName", op.Engine.Name()),
		slog.String("tlsServerName", config.ServerName),
	)
}

func (op *HandshakeFunc) logHandshakeDone(
	conn net.Conn, t0, deadline time.Time, config *tls.Config, err error, state tls.ConnectionState) {
	op.Logger.Info(
		"tlsHandshakeDone",
		slog.Time("deadline", deadline),
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("remoteAddr", conn.RemoteAddr().String()),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
		slog.String("tlsCipherSuite", tls.CipherSuiteName(state.CipherSuite)),
		slog.String("tlsNegotiatedProtocol", state.NegotiatedProtocol),
		slog.Any("tlsPeerCerts", op.peerCerts(state, err)),
		slog.String("tlsServerName", config.ServerName),
		slog.String("tlsVersion", tls.VersionName(state.Version)),
	)
}

func (op *HandshakeFunc) peerCerts(state tls.ConnectionState, err error) (out [][]byte) {
	out = [][]byte{}

	var hostnameErr x509.HostnameError
	if errors.As(err, &hostnameErr) {
		out = append(out, hostnameErr.Certificate.Raw)
		return
	}
	var authorityErr x509.UnknownAuthorityError
	if errors.As(err, &authorityErr) {
		out = append(out, authorityErr.Cert.Raw)
		return
	}
	var invalidErr x509.CertificateInvalidError
	if errors.As(err, &invalidErr) {
		out = append(out, invalidErr.Cert.Raw)
		return
	}

	for _, cert := range state.PeerCertificates {
		out = append(out, cert.Raw)
	}
	return
}
