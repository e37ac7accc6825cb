// SPDX-License-Identifier: GPL-3.0-or-later

// Package raphnet provides the engineering substrate of a pluggable userspace
// network proxy runtime: a polymorphic net abstraction, the per-call context
// that carries routing metadata, and the composition rules that let nets and
// servers be stacked and driven from configuration.
//
// # Core Abstraction
//
// Everything in this package and its subpackages is built around one small
// interface:
//
//	type INet interface {
//		TCPConnect(ctx *Context, addr Address) (TCPStream, error)
//		TCPBind(ctx *Context, addr Address) (TCPListener, error)
//		UDPBind(ctx *Context, addr Address) (UDPSocket, error)
//	}
//
// A [Net] is a cheaply clonable handle around an INet. Nets compose by
// delegation: a net that wants to add behavior (encryption, instrumentation,
// routing) holds a reference to an inner Net and forwards to it, optionally
// wrapping the returned stream/listener/socket.
//
// # Subpackages
//
//   - [github.com/bassosimone/raphnet/virtualhost]: an in-process net with no
//     kernel sockets, used for testing and as a reference implementation of
//     the INet contract.
//   - [github.com/bassosimone/raphnet/relay]: the TCP splice and UDP bridge
//     that couple two connections together.
//   - [github.com/bassosimone/raphnet/registry]: name -> factory tables and
//     the topological build pass that turns a config document into a graph
//     of live nets and servers.
//   - [github.com/bassosimone/raphnet/controller]: the supervised lifetime of
//     a running topology, the event fan-out plane, and the hot-reload loop.
//   - [github.com/bassosimone/raphnet/remote]: the tunnel protocol that lets
//     one process expose its local net to another process over a stream.
//   - [github.com/bassosimone/raphnet/server]: the accept-loop harness shared
//     by every inbound provider, plus the concrete providers (forward,
//     socks5, shadowsocks, trojan).
//   - [github.com/bassosimone/raphnet/netprovider]: the concrete outbound
//     providers (direct, socks5 client, shadowsocks, trojan, virtual host).
//   - [github.com/bassosimone/raphnet/config]: the configuration document,
//     its import sources, and JSON Schema generation.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible with
// [log/slog]) and error classification via [ErrClassifier]. By default,
// logging is disabled and errors are classified by the errclass package's
// Classify; set a custom logger or classifier to change either.
//
// # Error handling
//
// Net operations fail with a [*NetError] carrying one of the [Kind] values
// from the spec's error taxonomy (addr-in-use, connection-refused, ...). Use
// [ClassifyKind] to map an arbitrary error (including platform syscall
// errors) onto a [Kind].
package raphnet
