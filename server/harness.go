// SPDX-License-Identifier: GPL-3.0-or-later

// Package server provides the accept-loop harness shared by every concrete
// inbound provider (forward, SOCKS5, Shadowsocks, Trojan): accept, spawn a
// per-connection goroutine, log and discard per-connection errors.
//
// Grounded on other_examples/7fb2ecfa_osf4-socks5__server.go.go's
// Server.Serve/Server.serve accept-loop shape.
package server

import (
	"github.com/bassosimone/raphnet"
)

// ServeTCP runs listener's accept loop until it returns an error (typically
// because the listener was closed during teardown), spawning handle in its
// own goroutine for every accepted stream. Per-connection errors are logged
// via logger and otherwise ignored.
func ServeTCP(ctx *raphnet.Context, listener raphnet.TCPListener, logger raphnet.SLogger, handle func(ctx *raphnet.Context, stream raphnet.TCPStream) error) error {
	for {
		stream, peer, err := listener.Accept(ctx)
		if err != nil {
			return err
		}
		go func() {
			span := raphnet.NewSpanID()
			connCtx := raphnet.FromSourceAddr(peer)
			connCtx.SetAttr("span_id", span)
			if err := handle(connCtx, stream); err != nil {
				logger.Info("server: connection error", "span_id", span, "peer", peer.String(), "error", err.Error())
			}
		}()
	}
}
