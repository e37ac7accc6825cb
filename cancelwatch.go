// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import "context"

// WatchCancel arranges for stream to be closed when ctx is done (canceled
// or deadline exceeded), giving responsive cleanup on external cancellation
// rather than waiting for per-operation timeouts. The returned [TCPStream]
// wraps stream: closing it unregisters the watcher before closing the
// underlying stream, so no goroutine leaks even if ctx is never canceled.
//
// Server harnesses use this to tie a per-connection [*Context]'s
// cancellation (e.g. from a listener shutdown) directly to the stream's
// lifetime, the same role the teacher's CancelWatchFunc plays around a
// net.Conn (cancelwatch.go), generalized here from net.Conn to [TCPStream].
func WatchCancel(ctx context.Context, stream TCPStream) TCPStream {
	stop := context.AfterFunc(ctx, func() {
		stream.Close()
	})
	return &cancelWatchedStream{TCPStream: stream, stop: stop}
}

// cancelWatchedStream wraps a [TCPStream] with a context cancellation watcher.
type cancelWatchedStream struct {
	TCPStream
	stop func() bool
}

// Close unregisters the context watcher and closes the underlying stream.
func (s *cancelWatchedStream) Close() error {
	s.stop()
	return s.TCPStream.Close()
}
