// SPDX-License-Identifier: GPL-3.0-or-later

// Package relay implements the bidirectional TCP splice and the UDP bridge
// that couple a server's inbound side to its outbound net (spec §4.E).
//
// Grounded on other_examples/7fb2ecfa_osf4-socks5__server.go.go's
// Transfer/transferTo goroutine-pair-plus-rendezvous-channel shape, and
// other_examples/e61fd846_canonical-lxd__lxd-main_forkproxy.go.go for
// half-close propagation ordering.
package relay

import (
	"context"
	"io"

	"github.com/bassosimone/raphnet"
)

// tcpBufSize is the fixed per-direction copy buffer size (spec §4.E backpressure).
const tcpBufSize = 8 * 1024

// ConnectTCP couples a and b: two concurrent copies run, a->b and b->a. When
// one direction reads EOF, the write half of the other stream is shut down
// so the surviving direction can keep draining until it too reads EOF.
// ConnectTCP returns once both directions have completed, or immediately
// with the first non-EOF error either direction encountered. On that error,
// or when ctx is canceled, it closes both streams and returns without
// waiting for the other direction.
func ConnectTCP(ctx context.Context, a, b raphnet.TCPStream) error {
	result := make(chan error, 2)

	go func() { result <- pump(a, b) }()
	go func() { result <- pump(b, a) }()

	for i := 0; i < 2; i++ {
		select {
		case err := <-result:
			if err != nil {
				a.Close()
				b.Close()
				return err
			}
		case <-ctx.Done():
			a.Close()
			b.Close()
			return ctx.Err()
		}
	}
	return nil
}

// pump copies from src to dst until src reads EOF, then shuts down dst's
// write half so dst's peer observes EOF in turn.
func pump(dst, src raphnet.TCPStream) error {
	buf := make([]byte, tcpBufSize)
	_, err := io.CopyBuffer(writerFunc(func(p []byte) (int, error) {
		return dst.Write(p)
	}), src, buf)
	dst.Shutdown(raphnet.ShutdownWrite)
	if err != nil && err != io.EOF {
		return err
	}
	return nil
}

// writerFunc adapts a plain func(p []byte) (int, error) to io.Writer.
type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
