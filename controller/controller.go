// SPDX-License-Identifier: GPL-3.0-or-later

package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bassosimone/raphnet"
)

// State is the controller's lifecycle state, mirroring the original's
// State::Idle | State::Running(Running).
type State int

const (
	StateIdle State = iota
	StateRunning
)

// firstConfigTimeout bounds RunStream's wait for the first config, matching
// the original's timeout(Duration::from_secs(1), config_stream.try_next()).
const firstConfigTimeout = time.Second

// String implements [fmt.Stringer].
func (s State) String() string {
	if s == StateRunning {
		return "Running"
	}
	return "Idle"
}

// RunSet is what a [Builder] produces from one configuration generation: a
// net DAG (already wrapped so the controller can instrument it) plus the set
// of servers to run against it. Run blocks until every server stops or ctx
// is canceled.
type RunSet interface {
	Run(ctx context.Context) error
}

// Builder constructs a [RunSet] from an opaque configuration value, the Go
// analogue of RabbitDiggerBuilder::build. Config is typed as `any` here
// because the controller package does not depend on config/registry,
// matching the original's layering (controller depends on config, not the
// other way around) while letting config.Document be the concrete type a
// caller actually passes.
type Builder interface {
	Build(ctrl *Controller, cfg any) (RunSet, error)
}

// Controller owns one runtime generation at a time: building, running, and
// tearing down a net/server topology in response to a stream of
// configurations, while publishing instrumentation events.
type Controller struct {
	mu      sync.RWMutex
	state   State
	cfg     any
	builder Builder
	b       *broadcaster
}

// New returns an idle [*Controller] using builder to construct runtimes.
func New(builder Builder) *Controller {
	return &Controller{builder: builder, b: newBroadcaster()}
}

// State returns the controller's current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Config returns the currently active configuration, or nil if idle.
func (c *Controller) Config() any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// GetNet wraps net in the controller's instrumentation layer, the Go
// equivalent of Controller::get_net.
func (c *Controller) GetNet(net raphnet.Net) raphnet.Net {
	return raphnet.WrapNet(&instrumentedNet{inner: net, b: c.b})
}

// Subscribe registers for the controller's event stream. The returned
// cancel function must be called once the subscriber is done to release its
// channel.
func (c *Controller) Subscribe() (<-chan Batch, func()) {
	return c.b.subscribe()
}

// Close releases the controller's event-plane resources.
func (c *Controller) Close() {
	c.b.close()
}

// Run builds and runs a single configuration to completion (no reload).
func (c *Controller) Run(ctx context.Context, cfg any) error {
	return c.RunStream(ctx, singleConfig(cfg))
}

// singleConfig returns a config stream yielding cfg once, then blocking
// until ctx is canceled, matching stream::once(...).chain(stream::pending())
// in the original.
func singleConfig(cfg any) <-chan any {
	ch := make(chan any, 1)
	ch <- cfg
	return ch
}

// RunStream runs the controller against a stream of configurations,
// rebuilding and restarting the runtime on every value received, until the
// stream closes (the Go analogue of run_stream's try_select reload race).
func (c *Controller) RunStream(ctx context.Context, configStream <-chan any) error {
	var cfg any
	select {
	case v, ok := <-configStream:
		if !ok {
			return fmt.Errorf("controller: config stream is empty, cannot start")
		}
		cfg = v
	case <-time.After(firstConfigTimeout):
		return fmt.Errorf("controller: timed out waiting for the first config")
	}

	for {
		runSet, err := c.builder.Build(c, cfg)
		if err != nil {
			return fmt.Errorf("controller: build failed: %w", err)
		}

		c.mu.Lock()
		c.state = StateRunning
		c.cfg = cfg
		c.mu.Unlock()

		runDone := make(chan error, 1)
		runCtx, cancelRun := context.WithCancel(ctx)
		go func() { runDone <- runSet.Run(runCtx) }()

		var nextCfg any
		var nextOK bool
		select {
		case err := <-runDone:
			cancelRun()
			if err != nil {
				// Original logs and waits for the next config rather than
				// propagating; a dead runtime is not a controller failure.
				_ = err
			}
			nextCfg, nextOK = <-configStream
		case nextCfg, nextOK = <-configStream:
			cancelRun()
			<-runDone
		case <-ctx.Done():
			cancelRun()
			<-runDone
			c.mu.Lock()
			c.state = StateIdle
			c.mu.Unlock()
			return ctx.Err()
		}

		c.mu.Lock()
		c.state = StateIdle
		c.mu.Unlock()

		if !nextOK {
			return nil
		}
		cfg = nextCfg
	}
}
