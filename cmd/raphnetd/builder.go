// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/bassosimone/raphnet/config"
	"github.com/bassosimone/raphnet/controller"
	"github.com/bassosimone/raphnet/registry"
)

// topologyBuilder adapts a [*registry.Registry] to [controller.Builder],
// the composition root's one dependency controller.go names as the
// "config.Document is the concrete type a caller actually passes" case its
// own doc comment anticipates.
type topologyBuilder struct {
	reg *registry.Registry
}

var _ controller.Builder = topologyBuilder{}

// Build implements [controller.Builder].
func (b topologyBuilder) Build(ctrl *controller.Controller, cfg any) (controller.RunSet, error) {
	doc, ok := cfg.(config.Document)
	if !ok {
		return nil, fmt.Errorf("raphnetd: expected a config.Document, got %T", cfg)
	}

	topology, err := b.reg.Build(doc.ToRegistryDocument())
	if err != nil {
		return nil, err
	}

	return &serverRunSet{servers: topology.Servers}, nil
}

// serverRunSet runs every server in a built [*registry.Topology]
// concurrently until all return or ctx is canceled, mirroring the
// accept-loop-plus-goroutine-per-connection fan-out every concrete server
// in this module already uses at the connection level, one level up at
// the server level.
type serverRunSet struct {
	servers map[string]registry.Server
}

var _ controller.RunSet = (*serverRunSet)(nil)

func (s *serverRunSet) Run(ctx context.Context) error {
	if len(s.servers) == 0 {
		<-ctx.Done()
		return ctx.Err()
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(s.servers))
	for name, srv := range s.servers {
		wg.Add(1)
		go func(name string, srv registry.Server) {
			defer wg.Done()
			if err := srv.Run(ctx); err != nil {
				errs <- fmt.Errorf("raphnetd: server %q exited: %w", name, err)
			}
		}(name, srv)
	}

	wg.Wait()
	close(errs)

	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
	}
	return first
}
