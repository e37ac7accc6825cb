// SPDX-License-Identifier: GPL-3.0-or-later

package raphnet

import (
	"context"
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStream is a minimal [TCPStream] double for exercising WatchCancel.
type stubStream struct {
	closeFunc func() error
}

func (s *stubStream) Read(p []byte) (int, error)  { return 0, nil }
func (s *stubStream) Write(p []byte) (int, error) { return len(p), nil }
func (s *stubStream) Shutdown(ShutdownDirection) error { return nil }
func (s *stubStream) Close() error {
	if s.closeFunc != nil {
		return s.closeFunc()
	}
	return nil
}
func (s *stubStream) LocalAddr() netip.AddrPort { return netip.AddrPort{} }
func (s *stubStream) PeerAddr() netip.AddrPort  { return netip.AddrPort{} }

var _ TCPStream = (*stubStream)(nil)

// WatchCancel returns a wrapped stream that delegates Close to the underlying stream.
func TestWatchCancelCall(t *testing.T) {
	closeCalled := false
	mock := &stubStream{closeFunc: func() error {
		closeCalled = true
		return nil
	}}

	result := WatchCancel(context.Background(), mock)
	require.NotNil(t, result)

	err := result.Close()
	require.NoError(t, err)
	assert.True(t, closeCalled)
}

// Cancelling the context triggers Close on the underlying stream.
func TestWatchCancelClosesOnCancel(t *testing.T) {
	done := make(chan bool, 1)
	mock := &stubStream{closeFunc: func() error {
		done <- true
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())

	WatchCancel(ctx, mock)

	select {
	case <-done:
		t.Fatal("stream should not be closed yet")
	default:
	}

	cancel()

	waitClose := func() bool {
		return <-done
	}
	assert.Eventually(t, waitClose, time.Second, 10*time.Millisecond)
}

// If the context is already cancelled, the stream is closed immediately.
func TestWatchCancelAlreadyCancelled(t *testing.T) {
	done := make(chan bool, 1)
	mock := &stubStream{closeFunc: func() error {
		done <- true
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	WatchCancel(ctx, mock)

	waitClose := func() bool {
		return <-done
	}
	assert.Eventually(t, waitClose, time.Second, 10*time.Millisecond)
}

// Closing the wrapper unregisters the watcher so that subsequent context
// cancellation does not call Close on the underlying stream a second time.
func TestWatchCancelCloseUnregistersWatcher(t *testing.T) {
	closeCount := 0
	mock := &stubStream{closeFunc: func() error {
		closeCount++
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	result := WatchCancel(ctx, mock)

	err := result.Close()
	require.NoError(t, err)
	assert.Equal(t, 1, closeCount)

	cancel()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, closeCount)
}
