// SPDX-License-Identifier: GPL-3.0-or-later

package controller

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRunSet struct {
	run func(ctx context.Context) error
}

func (s *stubRunSet) Run(ctx context.Context) error { return s.run(ctx) }

type stubBuilder struct {
	build func(ctrl *Controller, cfg any) (RunSet, error)
}

func (b *stubBuilder) Build(ctrl *Controller, cfg any) (RunSet, error) {
	return b.build(ctrl, cfg)
}

func TestControllerRunUntilCanceled(t *testing.T) {
	builder := &stubBuilder{
		build: func(ctrl *Controller, cfg any) (RunSet, error) {
			return &stubRunSet{run: func(ctx context.Context) error {
				<-ctx.Done()
				return ctx.Err()
			}}, nil
		},
	}
	ctrl := New(builder)
	defer ctrl.Close()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- ctrl.Run(ctx, "config-v1") }()

	require.Eventually(t, func() bool { return ctrl.State() == StateRunning }, time.Second, time.Millisecond)
	assert.Equal(t, "config-v1", ctrl.Config())

	cancel()
	err := <-errCh
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, ctrl.State())
}

func TestControllerRunStreamReload(t *testing.T) {
	builds := make(chan any, 4)
	builder := &stubBuilder{
		build: func(ctrl *Controller, cfg any) (RunSet, error) {
			builds <- cfg
			return &stubRunSet{run: func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			}}, nil
		},
	}
	ctrl := New(builder)
	defer ctrl.Close()

	configStream := make(chan any, 2)
	configStream <- "v1"

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- ctrl.RunStream(ctx, configStream) }()

	assert.Equal(t, "v1", <-builds)
	configStream <- "v2"
	assert.Equal(t, "v2", <-builds)

	close(configStream)
	require.Eventually(t, func() bool {
		select {
		case err := <-done:
			assert.NoError(t, err)
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
}

func TestBroadcasterFanOut(t *testing.T) {
	b := newBroadcaster()
	defer b.close()

	sub, unsub := b.subscribe()
	defer unsub()

	b.publish(Event{Type: EventNewTCP, Addr: "1.2.3.4:80"})

	select {
	case batch := <-sub:
		require.Len(t, batch, 1)
		assert.Equal(t, EventNewTCP, batch[0].Type)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for batch")
	}
}

func TestBroadcasterSlowSubscriberDropsIndependently(t *testing.T) {
	b := newBroadcaster()
	defer b.close()

	slow, unsubSlow := b.subscribe()
	defer unsubSlow()
	fast, unsubFast := b.subscribe()
	defer unsubFast()

	// Saturate the slow subscriber's buffer without draining it.
	for i := 0; i < subscriberCap+2; i++ {
		b.publish(Event{Type: EventBytesRx, Bytes: i})
		time.Sleep(time.Millisecond)
	}

	// The fast subscriber, drained continuously, should still see batches.
	select {
	case <-fast:
	case <-time.After(time.Second):
		t.Fatal("fast subscriber starved by slow one")
	}
	_ = slow
}
